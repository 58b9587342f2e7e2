package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":     {},
		"single":    {0x42},
		"small":     []byte("patient report 2024-05-11"),
		"binary":    {0x00, 0xff, 0x00, 0xff, 0x10},
		"large-64k": bytes.Repeat([]byte("a"), 64*1024),
		"large-odd": bytes.Repeat([]byte("b"), 64*1024+17),
	}

	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			ciphertext, tag, km, err := Encrypt(plaintext)
			require.NoError(t, err)
			require.Len(t, tag, TagSize)
			require.Len(t, km.Key, KeySize)
			require.Len(t, km.Nonce, NonceSize)

			got, err := Decrypt(ciphertext, tag, km)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestEncrypt_UniqueKeyAndNoncePerCall(t *testing.T) {
	plaintext := []byte("same input")
	_, _, km1, err := Encrypt(plaintext)
	require.NoError(t, err)
	_, _, km2, err := Encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, km1.Key, km2.Key)
	assert.NotEqual(t, km1.Nonce, km2.Nonce)
}

func TestDecrypt_RejectsAnySingleBitFlip(t *testing.T) {
	plaintext := []byte("sensitive payload")
	ciphertext, tag, km, err := Encrypt(plaintext)
	require.NoError(t, err)

	for i := range ciphertext {
		for bit := 0; bit < 8; bit++ {
			corrupted := bytes.Clone(ciphertext)
			corrupted[i] ^= 1 << bit
			_, err := Decrypt(corrupted, tag, km)
			assert.ErrorIs(t, err, ErrAuthentication)
		}
	}

	for i := range tag {
		for bit := 0; bit < 8; bit++ {
			corrupted := bytes.Clone(tag)
			corrupted[i] ^= 1 << bit
			_, err := Decrypt(ciphertext, corrupted, km)
			assert.ErrorIs(t, err, ErrAuthentication)
		}
	}
}

func TestDecrypt_RejectsWrongKey(t *testing.T) {
	ciphertext, tag, km, err := Encrypt([]byte("payload"))
	require.NoError(t, err)

	other, err := NewKeyMaterial()
	require.NoError(t, err)
	other.Nonce = km.Nonce

	_, err = Decrypt(ciphertext, tag, other)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestFingerprint_DeterministicAndContentBound(t *testing.T) {
	a := Fingerprint([]byte("hello"))
	b := Fingerprint([]byte("hello"))
	c := Fingerprint([]byte("hello!"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
