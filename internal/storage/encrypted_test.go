package storage

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncrypted_RoundTrip(t *testing.T) {
	inner := NewMemory()
	enc, err := NewEncrypted(inner, testKey)
	if err != nil {
		t.Fatalf("NewEncrypted failed: %v", err)
	}

	plain := `[{"id":"op-1","data":{"content":"hello"}}]`
	if err := enc.Set("queue", plain); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := enc.Get("queue")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != plain {
		t.Errorf("got %q, want %q", got, plain)
	}
}

func TestEncrypted_CiphertextOnInner(t *testing.T) {
	inner := NewMemory()
	enc, err := NewEncrypted(inner, testKey)
	if err != nil {
		t.Fatalf("NewEncrypted failed: %v", err)
	}

	if err := enc.Set("queue", "secret message content"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, err := inner.Get("queue")
	if err != nil {
		t.Fatalf("inner Get failed: %v", err)
	}
	if strings.Contains(raw, "secret") {
		t.Error("plaintext leaked into inner store")
	}
}

func TestEncrypted_BadKey(t *testing.T) {
	if _, err := NewEncrypted(NewMemory(), "not-hex"); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := NewEncrypted(NewMemory(), hex.EncodeToString([]byte("short"))); err == nil {
		t.Error("expected error for wrong-length key")
	}
}

func TestEncrypted_WrongKeyFailsOpen(t *testing.T) {
	inner := NewMemory()
	enc1, err := NewEncrypted(inner, testKey)
	if err != nil {
		t.Fatalf("NewEncrypted failed: %v", err)
	}
	if err := enc1.Set("queue", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	otherKey := strings.Repeat("ff", 32)
	enc2, err := NewEncrypted(inner, otherKey)
	if err != nil {
		t.Fatalf("NewEncrypted failed: %v", err)
	}
	if _, err := enc2.Get("queue"); err == nil {
		t.Error("expected decryption failure with wrong key")
	}
}

func TestEncrypted_MissingKeyPassesThrough(t *testing.T) {
	enc, err := NewEncrypted(NewMemory(), testKey)
	if err != nil {
		t.Fatalf("NewEncrypted failed: %v", err)
	}
	if _, err := enc.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
