package core

import (
	"encoding/binary"
	"fmt"
)

// BlockHeader represents the 140-byte header an Equihash search runs over
type BlockHeader struct {
	Version    uint32   // 4 bytes: Block version
	PrevHash   [32]byte // 32 bytes: Previous block hash
	MerkleRoot [32]byte // 32 bytes: Merkle root
	Reserved   [32]byte // 32 bytes: Commitment field, zero if unused
	Timestamp  uint32   // 4 bytes: Block timestamp
	Bits       uint32   // 4 bytes: Difficulty target
	Nonce      [32]byte // 32 bytes: The nonce, varied by the caller
}

// NonceOffset is where the 32-byte nonce starts in the serialized header.
const NonceOffset = HeaderLength - 32

// MarshalBinary serializes the header (integers little-endian).
func (h *BlockHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderLength)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	copy(buf[68:100], h.Reserved[:])
	binary.LittleEndian.PutUint32(buf[100:104], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[104:108], h.Bits)
	copy(buf[NonceOffset:], h.Nonce[:])
	return buf, nil
}

// UnmarshalBinary parses a serialized header.
func (h *BlockHeader) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderLength {
		return NewError(ErrorInvalidHeaderLength, nil,
			"header must be exactly %d bytes", HeaderLength).
			WithContext("header_length", len(data))
	}

	h.Version = binary.LittleEndian.Uint32(data[0:4])
	copy(h.PrevHash[:], data[4:36])
	copy(h.MerkleRoot[:], data[36:68])
	copy(h.Reserved[:], data[68:100])
	h.Timestamp = binary.LittleEndian.Uint32(data[100:104])
	h.Bits = binary.LittleEndian.Uint32(data[104:108])
	copy(h.Nonce[:], data[NonceOffset:])
	return nil
}

// SetNonce stores n little-endian in the low bytes of the nonce field and
// zeroes the rest.
func (h *BlockHeader) SetNonce(n uint64) {
	h.Nonce = [32]byte{}
	binary.LittleEndian.PutUint64(h.Nonce[:8], n)
}

// CheckHeaderLength returns ErrInvalidHeaderLength unless header is exactly
// HeaderLength bytes.
func CheckHeaderLength(header []byte) error {
	if len(header) != HeaderLength {
		return &SolverError{
			Type:    ErrorInvalidHeaderLength,
			Message: fmt.Sprintf("header must be exactly %d bytes, got %d", HeaderLength, len(header)),
			Context: map[string]interface{}{
				"header_length": len(header),
			},
		}
	}
	return nil
}
