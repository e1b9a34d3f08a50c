package encryption

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the length of a credential digest in bytes.
const DigestSize = blake2b.Size256

// Digester derives keyed BLAKE2b digests of secrets. The key is random per
// process so digests are only comparable within one process lifetime.
type Digester struct {
	key []byte
}

// NewDigester creates a digester with a fresh random key.
func NewDigester() (*Digester, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating digest key: %w", err)
	}
	return &Digester{key: key}, nil
}

// Sum returns the keyed digest of secret.
func (d *Digester) Sum(secret string) [DigestSize]byte {
	var out [DigestSize]byte
	h, err := blake2b.New256(d.key)
	if err != nil {
		// Only reachable with a key longer than 64 bytes.
		panic(err)
	}
	h.Write([]byte(secret))
	copy(out[:], h.Sum(nil))
	return out
}
