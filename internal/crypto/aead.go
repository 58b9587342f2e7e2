// Package crypto protects record payloads: authenticated encryption,
// content fingerprinting, chunked streaming for large payloads, and wrapping
// of per-record keys under the process master key.
//
// The package is stateless and safe for concurrent use. It never persists or
// logs key material; key custody belongs to the record store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM nonce length.
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// ErrAuthentication is returned when ciphertext or tag fail verification.
// Callers must treat the payload as unreadable; no partial plaintext is ever
// produced.
var ErrAuthentication = errors.New("payload authentication failed")

// KeyMaterial is the per-record secret: the data-encryption key and the base
// nonce used at upload time. It exists in clear only inside encrypt and
// decrypt paths and is persisted exclusively in wrapped form.
type KeyMaterial struct {
	Key   []byte
	Nonce []byte
}

// NewKeyMaterial generates a fresh key and nonce. Fails only when the entropy
// source does.
func NewKeyMaterial() (KeyMaterial, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return KeyMaterial{}, fmt.Errorf("generate key: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return KeyMaterial{}, fmt.Errorf("generate nonce: %w", err)
	}
	return KeyMaterial{Key: key, Nonce: nonce}, nil
}

// Encrypt seals plaintext with a fresh key and nonce and returns the
// ciphertext, the 128-bit tag, and the key material. The tag is kept separate
// so stores cannot accidentally persist ciphertext without it.
func Encrypt(plaintext []byte) (ciphertext, tag []byte, km KeyMaterial, err error) {
	km, err = NewKeyMaterial()
	if err != nil {
		return nil, nil, KeyMaterial{}, err
	}
	sealed, err := seal(km.Key, km.Nonce, plaintext)
	if err != nil {
		return nil, nil, KeyMaterial{}, err
	}
	split := len(sealed) - TagSize
	return sealed[:split], sealed[split:], km, nil
}

// Decrypt verifies and opens ciphertext. Any single-bit corruption of
// ciphertext, tag, or nonce yields ErrAuthentication.
func Decrypt(ciphertext, tag []byte, km KeyMaterial) ([]byte, error) {
	aead, err := newAEAD(km.Key)
	if err != nil {
		return nil, err
	}
	if len(km.Nonce) != NonceSize {
		return nil, ErrAuthentication
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, km.Nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Fingerprint returns the SHA-256 hex digest of the given bytes. It is used
// for integrity display and audit, never for access decisions.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}
