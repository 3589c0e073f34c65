package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encrypted wraps another Store and encrypts values at rest with
// ChaCha20-Poly1305. Keys are stored in the clear; only values are sealed.
// Queued chat messages can sit on disk for a long time while offline, so
// the snapshot gets the same at-rest protection the desktop keyring gives
// credentials.
type Encrypted struct {
	inner Store
	aead  cipher.AEAD
}

// NewEncrypted wraps inner with a 32-byte key given as hex.
func NewEncrypted(inner Store, hexKey string) (*Encrypted, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Encrypted{inner: inner, aead: aead}, nil
}

func (e *Encrypted) Get(key string) (string, error) {
	sealed, err := e.inner.Get(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", key, err)
	}
	if len(raw) < chacha20poly1305.NonceSize {
		return "", fmt.Errorf("decode %s: sealed value too short", key)
	}

	nonce, ciphertext := raw[:chacha20poly1305.NonceSize], raw[chacha20poly1305.NonceSize:]
	plain, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return string(plain), nil
}

func (e *Encrypted) Set(key, value string) error {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(value), nil)
	return e.inner.Set(key, base64.StdEncoding.EncodeToString(sealed))
}

func (e *Encrypted) Delete(key string) error {
	return e.inner.Delete(key)
}

func (e *Encrypted) Close() error {
	return e.inner.Close()
}
