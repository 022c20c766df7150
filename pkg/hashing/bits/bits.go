// Package bits packs and unpacks the fixed-width bit strings Equihash uses,
// both for expanding hash outputs into collision segments and for the
// minimal solution encoding.
package bits

import (
	"encoding/binary"
	"fmt"

	"equihasher/pkg/hashing/core"
)

// indexBytes is the size of one index in the unpacked big-endian form.
const indexBytes = 4

// ExpandArray splits in into consecutive bitLen-bit values and writes each,
// right-aligned and big-endian, into outWidth = ceil(bitLen/8)+bytePad bytes
// of out. len(out) must be exactly 8*outWidth*len(in)/bitLen.
func ExpandArray(in, out []byte, bitLen, bytePad int) error {
	if bitLen < 8 || bitLen+7 > 32 {
		return fmt.Errorf("bit length %d out of range [8, 25]", bitLen)
	}
	outWidth := (bitLen+7)/8 + bytePad
	if want := 8 * outWidth * len(in) / bitLen; len(out) != want {
		return fmt.Errorf("output length %d, want %d", len(out), want)
	}
	expandArray(in, out, bitLen, bytePad)
	return nil
}

func expandArray(in, out []byte, bitLen, bytePad int) {
	outWidth := (bitLen+7)/8 + bytePad
	mask := uint32(1)<<bitLen - 1

	var acc uint32
	accBits := 0
	j := 0
	for _, b := range in {
		acc = acc<<8 | uint32(b)
		accBits += 8

		if accBits >= bitLen {
			accBits -= bitLen
			for x := 0; x < bytePad; x++ {
				out[j+x] = 0
			}
			for x := bytePad; x < outWidth; x++ {
				shift := 8 * (outWidth - x - 1)
				out[j+x] = byte(acc>>(accBits+shift)) & byte(mask>>shift)
			}
			j += outWidth
		}
	}
}

// CompressArray is the inverse of ExpandArray: it reads values of
// inWidth = ceil(bitLen/8)+bytePad bytes from in and packs their low bitLen
// bits contiguously, most significant bit first, into out.
func CompressArray(in, out []byte, bitLen, bytePad int) error {
	if bitLen < 8 || bitLen+7 > 32 {
		return fmt.Errorf("bit length %d out of range [8, 25]", bitLen)
	}
	inWidth := (bitLen+7)/8 + bytePad
	if want := bitLen * len(in) / (8 * inWidth); len(out) != want {
		return fmt.Errorf("output length %d, want %d", len(out), want)
	}
	compressArray(in, out, bitLen, bytePad)
	return nil
}

func compressArray(in, out []byte, bitLen, bytePad int) {
	inWidth := (bitLen+7)/8 + bytePad
	mask := uint32(1)<<bitLen - 1

	var acc uint32
	accBits := 0
	j := 0
	for i := range out {
		if accBits < 8 {
			acc <<= bitLen
			for x := bytePad; x < inWidth; x++ {
				shift := 8 * (inWidth - x - 1)
				acc |= uint32(in[j+x]&byte(mask>>shift)) << shift
			}
			j += inWidth
			accBits += bitLen
		}

		accBits -= 8
		out[i] = byte(acc >> accBits)
	}
}

// ExpandHash expands an N-bit leaf hash into K+1 collision segments of
// p.CollisionByteLength() bytes each.
func ExpandHash(p core.Params, hash, out []byte) {
	expandArray(hash[:p.LeafHashLength()], out[:p.HashLength()], p.CollisionBitLength(), 0)
}

// EncodeSolution packs indices into the minimal solution encoding:
// (N/(K+1)+1) bits per index, most significant bit first.
func EncodeSolution(p core.Params, indices []uint32) ([]byte, error) {
	out := make([]byte, p.SolutionByteLength())
	if err := EncodeSolutionTo(p, indices, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeSolutionTo is EncodeSolution writing into a caller-owned buffer.
func EncodeSolutionTo(p core.Params, indices []uint32, out []byte) error {
	if len(indices) != p.SolutionWidth() {
		return core.NewError(core.ErrorInvalidSolution, nil,
			"solution has %d indices, want %d", len(indices), p.SolutionWidth())
	}
	if len(out) != p.SolutionByteLength() {
		return core.NewError(core.ErrorInvalidSolution, nil,
			"output buffer is %d bytes, want %d", len(out), p.SolutionByteLength())
	}

	limit := uint32(p.LeafCount())
	raw := make([]byte, len(indices)*indexBytes)
	for i, idx := range indices {
		if idx >= limit {
			return core.NewError(core.ErrorInvalidSolution, nil,
				"index %d at position %d exceeds %d", idx, i, limit-1)
		}
		binary.BigEndian.PutUint32(raw[i*indexBytes:], idx)
	}

	compressArray(raw, out, p.IndexBitLength(), indexPad(p))
	return nil
}

// DecodeSolution recovers the index sequence from an encoded solution.
func DecodeSolution(p core.Params, solution []byte) ([]uint32, error) {
	if len(solution) != p.SolutionByteLength() {
		return nil, core.NewError(core.ErrorInvalidSolution, nil,
			"solution is %d bytes, want %d", len(solution), p.SolutionByteLength()).
			WithContext("solution_length", len(solution))
	}

	raw := make([]byte, p.SolutionWidth()*indexBytes)
	expandArray(solution, raw, p.IndexBitLength(), indexPad(p))

	indices := make([]uint32, p.SolutionWidth())
	for i := range indices {
		indices[i] = binary.BigEndian.Uint32(raw[i*indexBytes:])
	}
	return indices, nil
}

func indexPad(p core.Params) int {
	return indexBytes - (p.IndexBitLength()+7)/8
}
