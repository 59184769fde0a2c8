package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrKeyEmpty is returned when sealing or opening with a zero-length key.
var ErrKeyEmpty = errors.New("cipher key is empty")

// Seal applies the repeating-key XOR transform to plaintext and encodes the
// result with standard base64, yielding text safe for a TEXT column.
func Seal(plaintext, key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrKeyEmpty
	}

	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ key[i%len(key)]
	}

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open is the exact inverse of Seal. A record whose text-safe encoding does
// not decode is surfaced as an error so callers can skip the record.
func Open(sealed string, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed text: %w", err)
	}

	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ key[i%len(key)]
	}

	return out, nil
}
