// Package blake generates the Equihash leaf hashes: personalized BLAKE2b
// over the block header and a little-endian group counter.
package blake

import (
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/dchest/blake2b"

	"equihasher/pkg/hashing/bits"
	"equihasher/pkg/hashing/core"
)

// IndexedHasher maps leaf indices to N-bit hash outputs for one input.
// It is immutable; every goroutine hashes through its own Stream.
type IndexedHasher struct {
	params core.Params
	input  []byte
	config *blake2b.Config
}

// NewIndexedHasher binds params to input (the 140-byte header in production,
// any byte string for test vectors). The input is copied.
func NewIndexedHasher(p core.Params, input []byte) (*IndexedHasher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &IndexedHasher{
		params: p,
		input:  append([]byte(nil), input...),
		config: &blake2b.Config{
			Size:   uint8(p.HashOutputLength()),
			Person: p.Personalization(),
		},
	}, nil
}

// Params returns the parameters the hasher was built for.
func (h *IndexedHasher) Params() core.Params {
	return h.params
}

// Groups is the number of BLAKE2b invocations covering every leaf.
func (h *IndexedHasher) Groups() int {
	per := h.params.IndicesPerHashOutput()
	return (h.params.LeafCount() + per - 1) / per
}

// NewStream allocates per-worker hashing state.
func (h *IndexedHasher) NewStream() (*Stream, error) {
	d, err := blake2b.New(h.config)
	if err != nil {
		return nil, fmt.Errorf("blake2b init: %w", err)
	}

	return &Stream{
		parent: h,
		digest: d,
		sum:    make([]byte, 0, h.params.HashOutputLength()),
	}, nil
}

// Stream is a reusable BLAKE2b state; not safe for concurrent use.
type Stream struct {
	parent  *IndexedHasher
	digest  hash.Hash
	counter [4]byte
	sum     []byte
}

// Group returns the full digest for group g, covering leaves
// [g*IndicesPerHashOutput, (g+1)*IndicesPerHashOutput). The slice is reused
// by the next call.
func (s *Stream) Group(g uint32) []byte {
	binary.LittleEndian.PutUint32(s.counter[:], g)

	s.digest.Reset()
	s.digest.Write(s.parent.input)
	s.digest.Write(s.counter[:])
	s.sum = s.digest.Sum(s.sum[:0])
	return s.sum
}

// Leaf writes the N-bit hash of leaf i into out.
func (s *Stream) Leaf(i uint32, out []byte) {
	p := s.parent.params
	per := uint32(p.IndicesPerHashOutput())
	size := p.LeafHashLength()

	sum := s.Group(i / per)
	offset := int(i%per) * size
	copy(out[:size], sum[offset:offset+size])
}

// ExpandedLeaf writes the hash of leaf i split into K+1 collision segments.
func (s *Stream) ExpandedLeaf(i uint32, out []byte) {
	p := s.parent.params
	per := uint32(p.IndicesPerHashOutput())
	size := p.LeafHashLength()

	sum := s.Group(i / per)
	offset := int(i%per) * size
	bits.ExpandHash(p, sum[offset:offset+size], out)
}

// ExpandGroup expands every leaf of group g into out, HashLength bytes per
// leaf starting at the group's first leaf, and returns how many leaves were
// written. The last group may be partial.
func (s *Stream) ExpandGroup(g uint32, out []byte) int {
	p := s.parent.params
	per := p.IndicesPerHashOutput()
	size := p.LeafHashLength()
	stride := p.HashLength()

	first := int(g) * per
	n := min(per, p.LeafCount()-first)
	if n <= 0 {
		return 0
	}

	sum := s.Group(g)
	for j := 0; j < n; j++ {
		bits.ExpandHash(p, sum[j*size:(j+1)*size], out[j*stride:(j+1)*stride])
	}
	return n
}
