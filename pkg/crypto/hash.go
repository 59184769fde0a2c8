// Package crypto provides the hashing and at-rest cipher primitives for the
// SeChat server: one-way hashing for passwords and group PINs, and the
// reversible seal/open transform used before anything touches the database.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// StoreKeySize is the derived cipher key length in bytes.
	StoreKeySize = 32

	// PBKDF2 iterations for store key derivation
	keyIterations = 100000

	// Salt for key derivation, constant per application
	derivationSalt = "SeChat-Store-v1"
)

// HashSecret computes the one-way BLAKE2b-256 hash of a password or group
// PIN and returns it hex-encoded. Only this hash is ever persisted.
func HashSecret(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares a candidate secret against a stored hash in
// constant time.
func VerifySecret(secret, storedHash string) bool {
	candidate := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

// DeriveStoreKey derives the at-rest cipher key from the configured
// passphrase using PBKDF2-SHA256.
func DeriveStoreKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(derivationSalt), keyIterations, StoreKeySize, sha256.New)
}
