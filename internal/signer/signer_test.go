package signer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := New([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{"messages":[{"role":"user","content":"hello"}]}`)
	tagged := s.Sign(payload)

	if len(tagged) != TagLength+len(payload) {
		t.Fatalf("tagged length = %d, want %d", len(tagged), TagLength+len(payload))
	}

	got, err := s.Verify(tagged)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: %q", got)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	s, _ := New([]byte("test-key"))
	tagged := s.Sign([]byte("original payload"))

	// Flip one bit in the payload portion.
	tampered := append([]byte(nil), tagged...)
	tampered[TagLength] ^= 0x01

	if _, err := s.Verify(tampered); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Verify(tampered) = %v, want ErrIntegrity", err)
	}
}

func TestVerifyRejectsTamperedTag(t *testing.T) {
	s, _ := New([]byte("test-key"))
	tagged := s.Sign([]byte("original payload"))

	tampered := append([]byte(nil), tagged...)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}

	if _, err := s.Verify(tampered); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Verify(tampered tag) = %v, want ErrIntegrity", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, _ := New([]byte("key-a"))
	b, _ := New([]byte("key-b"))

	tagged := a.Sign([]byte("payload"))
	if _, err := b.Verify(tagged); !errors.Is(err, ErrIntegrity) {
		t.Errorf("cross-key Verify = %v, want ErrIntegrity", err)
	}
}

func TestVerifyRejectsShortInput(t *testing.T) {
	s, _ := New([]byte("test-key"))
	if _, err := s.Verify([]byte("too short")); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Verify(short) = %v, want ErrIntegrity", err)
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret_key.bin")

	key1, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("first LoadOrCreateKey: %v", err)
	}
	if len(key1) != KeyLength {
		t.Errorf("key length = %d, want %d", len(key1), KeyLength)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file mode = %o, want 600", perm)
	}

	// Second load must return the identical key.
	key2, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateKey: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("reloaded key differs from generated key")
	}
}
