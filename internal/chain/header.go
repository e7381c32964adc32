package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

const (
	// HeaderSize is the serialized block header length in bytes:
	// version(4) | prev(32) | merkle(32) | time(4) | bits(4) | nonce(4).
	HeaderSize = 80

	// NonceOffset is the fixed byte offset of the nonce within a header.
	// Miners rewrite only these four bytes between attempts.
	NonceOffset = 76

	// HashSize is the proof-of-work digest length.
	HashSize = 32
)

// CheckHeaderLen validates a raw header buffer.
func CheckHeaderLen(header []byte) error {
	if len(header) != HeaderSize {
		return fmt.Errorf("bad header length: got %d, want %d", len(header), HeaderSize)
	}
	return nil
}

// HeaderNonce reads the nonce at its fixed offset.
func HeaderNonce(header []byte) uint32 {
	return binary.LittleEndian.Uint32(header[NonceOffset:])
}

// PutHeaderNonce writes the nonce at its fixed offset.
func PutHeaderNonce(header []byte, nonce uint32) {
	binary.LittleEndian.PutUint32(header[NonceOffset:], nonce)
}

// PowHash computes the proof-of-work digest of a serialized header.
func PowHash(header []byte) []byte {
	sum := blake3.Sum256(header)
	return sum[:]
}

// CheckProof reports whether the header's proof-of-work digest meets the
// 32-byte target (digest <= target, byte-lexicographic).
func CheckProof(header, target []byte) bool {
	return bytes.Compare(PowHash(header), target) <= 0
}
