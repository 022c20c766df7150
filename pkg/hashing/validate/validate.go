// Package validate checks Equihash solutions from scratch. It shares no
// state with the collision search; every leaf hash is recomputed.
package validate

import (
	"bytes"
	"slices"

	"equihasher/pkg/hashing/bits"
	"equihasher/pkg/hashing/blake"
	"equihasher/pkg/hashing/core"
)

// Validator checks candidate index sets for one parameter set.
type Validator struct {
	params core.Params
}

// New returns a validator for params.
func New(p core.Params) (*Validator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Validator{params: p}, nil
}

// Params returns the parameters the validator checks against.
func (v *Validator) Params() core.Params {
	return v.params
}

// node is a subtree: its remaining hash bits and the position of its first
// leaf in the solution.
type node struct {
	hash  []byte
	start int
}

// Validate reports whether indices is a valid solution for input. It
// checks the width, the index range and that every index is distinct, then
// rebuilds the tree bottom-up: at each level the two halves must collide on
// the next segment and the left half must start with the smaller index.
// The final remainder must be zero.
func (v *Validator) Validate(input []byte, indices []uint32) bool {
	p := v.params
	if len(indices) != p.SolutionWidth() {
		return false
	}

	limit := uint32(p.LeafCount())
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	if sorted[len(sorted)-1] >= limit {
		return false
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return false
		}
	}

	h, err := blake.NewIndexedHasher(p, input)
	if err != nil {
		return false
	}
	s, err := h.NewStream()
	if err != nil {
		return false
	}

	cb := p.CollisionByteLength()
	level := make([]node, len(indices))
	for i, idx := range indices {
		hash := make([]byte, p.HashLength())
		s.ExpandedLeaf(idx, hash)
		level[i] = node{hash: hash, start: i}
	}

	for len(level) > 1 {
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			a, b := level[i], level[i+1]
			if !bytes.Equal(a.hash[:cb], b.hash[:cb]) {
				return false
			}
			if indices[a.start] >= indices[b.start] {
				return false
			}

			xor := a.hash[cb:]
			for j := range xor {
				xor[j] ^= b.hash[cb+j]
			}
			next = append(next, node{hash: xor, start: a.start})
		}
		level = next
	}

	for _, c := range level[0].hash {
		if c != 0 {
			return false
		}
	}
	return true
}

// ValidateEncoded decodes a minimally encoded solution and validates it.
// A solution of the wrong length is an error; any other failure is a
// rejection.
func (v *Validator) ValidateEncoded(input, solution []byte) (bool, error) {
	indices, err := bits.DecodeSolution(v.params, solution)
	if err != nil {
		return false, err
	}
	return v.Validate(input, indices), nil
}

// Verify is a one-shot check of an encoded solution against input.
func Verify(p core.Params, input, solution []byte) (bool, error) {
	v, err := New(p)
	if err != nil {
		return false, err
	}
	return v.ValidateEncoded(input, solution)
}
