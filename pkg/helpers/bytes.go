// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ReverseBytes returns a copy of b with its byte order flipped. Hashes on
// the wire are little-endian while the display convention is big-endian.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// ReverseHex decodes a hex string, flips its byte order, and re-encodes.
func ReverseHex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return hex.EncodeToString(ReverseBytes(raw)), nil
}

// IsZeroBytes checks if all bytes in the slice are zero.
func IsZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// GenerateSecureRandom generates n cryptographically secure random bytes.
func GenerateSecureRandom(n int) ([]byte, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return nil, err
	}
	return bytes, nil
}
