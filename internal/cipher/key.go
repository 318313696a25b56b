// Package cipher protects individual files and whole trees with the course
// passphrase.
//
// The on-disk format is fixed and shared with existing submissions, so none of
// the parameters below are tunable: AES-128 in ECB mode with PKCS#7 padding, no
// header and no IV, keyed with PBKDF2-HMAC-SHA256 over a constant salt.
package cipher

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/Ning0612/submitguard/internal/domain"
)

// Format v1 protocol constants.
const (
	Salt       = "s0m3s@l7"
	Iterations = 500
	KeyLength  = 16

	// ChunkSize is the streaming read size
	ChunkSize = 64
)

// Key is a derived AES-128 key
type Key struct {
	raw []byte
}

// DeriveKey turns the shared passphrase into the tree key.
// The same passphrase always yields the same key.
func DeriveKey(passphrase string) (Key, error) {
	if passphrase == "" {
		return Key{}, fmt.Errorf("%w: empty passphrase", domain.ErrKeyDerivation)
	}
	raw := pbkdf2.Key([]byte(passphrase), []byte(Salt), Iterations, KeyLength, sha256.New)
	return Key{raw: raw}, nil
}

// Bytes returns a copy of the raw key
func (k Key) Bytes() []byte {
	return append([]byte(nil), k.raw...)
}

// Valid reports whether the key was produced by DeriveKey
func (k Key) Valid() bool {
	return len(k.raw) == KeyLength
}
