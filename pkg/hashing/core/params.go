package core

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the size of a block header accepted by the solver,
	// nonce included.
	HeaderLength = 140

	// MaxSolutions bounds the number of encoded solutions one search returns.
	MaxSolutions = 16

	// MaxK bounds the solution width at 2^20 indices.
	MaxK = 20

	// blake2bBits is the widest digest a single BLAKE2b call produces.
	blake2bBits = 512

	personalPrefix = "ZcashPoW"
)

// Params holds the Equihash (N, K) pair and everything derived from it.
type Params struct {
	N uint32 `json:"n"`
	K uint32 `json:"k"`
}

// Reference is the parameter set the 1344-byte solution format belongs to.
var Reference = Params{N: 200, K: 9}

// Validate reports whether the pair can be solved and encoded.
func (p Params) Validate() error {
	switch {
	case p.N == 0 || p.K == 0:
		return invalidParams(p, "N and K must be positive")
	case p.K >= p.N:
		return invalidParams(p, "K must be less than N")
	case p.K > MaxK:
		return invalidParams(p, fmt.Sprintf("K must not exceed %d", MaxK))
	case p.N%8 != 0:
		return invalidParams(p, "N must be a multiple of 8")
	case p.N > blake2bBits:
		return invalidParams(p, "N must not exceed 512")
	case p.N%(p.K+1) != 0:
		return invalidParams(p, "N must be divisible by K+1")
	}

	// the bit-array codec works on 32-bit accumulators with 7 bits of headroom
	if c := p.CollisionBitLength(); c < 8 || c+1 > 25 {
		return invalidParams(p, "N/(K+1) must be between 8 and 24 bits")
	}
	if p.SolutionWidth()*p.IndexBitLength()%8 != 0 {
		return invalidParams(p, "encoded solution is not a whole number of bytes")
	}
	return nil
}

func invalidParams(p Params, reason string) error {
	return &SolverError{
		Type:    ErrorInvalidParams,
		Message: fmt.Sprintf("invalid parameters %s: %s", p, reason),
		Context: map[string]interface{}{
			"n": p.N,
			"k": p.K,
		},
	}
}

func (p Params) String() string {
	return fmt.Sprintf("Equihash(%d,%d)", p.N, p.K)
}

// CollisionBitLength is the number of hash bits each round collides on.
func (p Params) CollisionBitLength() int {
	return int(p.N / (p.K + 1))
}

// CollisionByteLength is the width of one expanded collision segment.
func (p Params) CollisionByteLength() int {
	return (p.CollisionBitLength() + 7) / 8
}

// HashLength is the size of a leaf hash once expanded into K+1 segments.
func (p Params) HashLength() int {
	return int(p.K+1) * p.CollisionByteLength()
}

// IndicesPerHashOutput is how many leaves share one BLAKE2b invocation.
func (p Params) IndicesPerHashOutput() int {
	return blake2bBits / int(p.N)
}

// HashOutputLength is the BLAKE2b digest size.
func (p Params) HashOutputLength() int {
	return p.IndicesPerHashOutput() * int(p.N) / 8
}

// LeafHashLength is the size of the unexpanded N-bit hash of one leaf.
func (p Params) LeafHashLength() int {
	return int(p.N) / 8
}

// SolutionWidth is the number of indices in a solution, 2^K.
func (p Params) SolutionWidth() int {
	return 1 << p.K
}

// LeafCount is the size of the leaf index space, 2^(N/(K+1)+1).
func (p Params) LeafCount() int {
	return 1 << (p.CollisionBitLength() + 1)
}

// IndexBitLength is the width of one index in the encoded solution.
func (p Params) IndexBitLength() int {
	return p.CollisionBitLength() + 1
}

// SolutionByteLength is the size of an encoded solution; 1344 for Reference.
func (p Params) SolutionByteLength() int {
	return p.SolutionWidth() * p.IndexBitLength() / 8
}

// Personalization returns the 16-byte BLAKE2b personalization string.
func (p Params) Personalization() []byte {
	person := make([]byte, 16)
	copy(person, personalPrefix)
	binary.LittleEndian.PutUint32(person[8:], p.N)
	binary.LittleEndian.PutUint32(person[12:], p.K)
	return person
}
