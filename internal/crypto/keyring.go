package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// wrapInfo binds the derived wrapping key to its purpose; changing it
// invalidates every stored wrapped key.
const wrapInfo = "ehr-payload-key-wrap-v1"

// Keyring wraps and unwraps per-record key material under a process master
// key. The wrapping key is derived with HKDF-SHA256 so the raw master secret
// is never used as a cipher key directly.
type Keyring struct {
	wrappingKey []byte
}

// WrappedKeyMaterial is the only form in which per-record keys are persisted.
type WrappedKeyMaterial struct {
	WrapNonce []byte
	Sealed    []byte
}

// NewKeyring derives the wrapping key from a 32-byte master key.
func NewKeyring(masterKey []byte) (*Keyring, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	wrappingKey := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(wrapInfo))
	if _, err := io.ReadFull(kdf, wrappingKey); err != nil {
		return nil, fmt.Errorf("derive wrapping key: %w", err)
	}
	return &Keyring{wrappingKey: wrappingKey}, nil
}

// Wrap seals key material for persistence. Each call uses a fresh wrap nonce.
func (k *Keyring) Wrap(km KeyMaterial) (WrappedKeyMaterial, error) {
	if len(km.Key) != KeySize || len(km.Nonce) != NonceSize {
		return WrappedKeyMaterial{}, fmt.Errorf("malformed key material")
	}
	wrapNonce := make([]byte, NonceSize)
	if _, err := rand.Read(wrapNonce); err != nil {
		return WrappedKeyMaterial{}, fmt.Errorf("generate wrap nonce: %w", err)
	}
	plaintext := make([]byte, 0, KeySize+NonceSize)
	plaintext = append(plaintext, km.Key...)
	plaintext = append(plaintext, km.Nonce...)
	sealed, err := seal(k.wrappingKey, wrapNonce, plaintext)
	if err != nil {
		return WrappedKeyMaterial{}, err
	}
	return WrappedKeyMaterial{WrapNonce: wrapNonce, Sealed: sealed}, nil
}

// Unwrap opens wrapped key material. A wrong master key or any corruption of
// the stored bytes yields ErrAuthentication.
func (k *Keyring) Unwrap(w WrappedKeyMaterial) (KeyMaterial, error) {
	aead, err := newAEAD(k.wrappingKey)
	if err != nil {
		return KeyMaterial{}, err
	}
	if len(w.WrapNonce) != NonceSize {
		return KeyMaterial{}, ErrAuthentication
	}
	plaintext, err := aead.Open(nil, w.WrapNonce, w.Sealed, nil)
	if err != nil {
		return KeyMaterial{}, ErrAuthentication
	}
	if len(plaintext) != KeySize+NonceSize {
		return KeyMaterial{}, ErrAuthentication
	}
	return KeyMaterial{Key: plaintext[:KeySize], Nonce: plaintext[KeySize:]}, nil
}
