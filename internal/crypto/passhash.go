// Package crypto implements account password hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltLen is the per-user salt length in bytes.
const SaltLen = 16

// Hasher holds Argon2id cost parameters.
type Hasher struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultHasher is tuned for server-side login hashing.
var DefaultHasher = Hasher{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// NewSalt returns a fresh per-user salt.
func NewSalt() ([]byte, error) { return RandBytes(SaltLen) }

// Hash returns the Argon2id hash of password using salt.
func (h Hasher) Hash(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, h.Time, h.Memory, h.Threads, h.KeyLen)
}

// Verify reports in constant time whether password hashes to expected.
func (h Hasher) Verify(password, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(h.Hash(password, salt), expected) == 1
}
