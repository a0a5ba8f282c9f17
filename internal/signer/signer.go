// Package signer produces and verifies tamper-evident tags over opaque
// payloads using a server-held secret key.
//
// The tag is the hexadecimal SHA-512 digest of payload ‖ key, prepended
// to the payload. This provides integrity and authenticity under the
// secret, not confidentiality: payload bytes are readable by anyone
// holding the token. Losing the key file invalidates every previously
// issued token, which is the intended trust boundary.
package signer

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// TagLength is the length of the hex-encoded digest prefix.
const TagLength = sha512.Size * 2 // 128

// KeyLength is the size of a generated signing key in bytes.
const KeyLength = 256

// ErrIntegrity is returned by Verify when the tag does not match the
// payload. Callers must reject the payload outright.
var ErrIntegrity = errors.New("signature verification failed")

// Signer signs and verifies payloads with a fixed key.
type Signer struct {
	key []byte
}

// New creates a Signer with the given key. The key must be non-empty.
func New(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key is empty")
	}
	return &Signer{key: key}, nil
}

// LoadOrCreateKey reads the signing key from path, generating a fresh
// random key on first startup. The file is created with mode 0600.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) == 0 {
			return nil, fmt.Errorf("key file %s is empty", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key = make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// tag computes the hex digest over payload ‖ key.
func (s *Signer) tag(payload []byte) []byte {
	h := sha512.New()
	h.Write(payload)
	h.Write(s.key)
	sum := h.Sum(nil)

	out := make([]byte, TagLength)
	hex.Encode(out, sum)
	return out
}

// Sign returns tag ‖ payload.
func (s *Signer) Sign(payload []byte) []byte {
	tag := s.tag(payload)
	return append(tag, payload...)
}

// Verify checks that tagged begins with a valid tag for the remainder
// and returns the payload. Returns ErrIntegrity on mismatch.
func (s *Signer) Verify(tagged []byte) ([]byte, error) {
	if len(tagged) < TagLength {
		return nil, fmt.Errorf("%w: input shorter than tag", ErrIntegrity)
	}
	got := tagged[:TagLength]
	payload := tagged[TagLength:]

	want := s.tag(payload)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, ErrIntegrity
	}
	return payload, nil
}
