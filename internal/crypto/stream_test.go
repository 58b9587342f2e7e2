package crypto

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealToBuffer(t *testing.T, plaintext []byte) ([]byte, KeyMaterial) {
	t.Helper()
	km, err := NewKeyMaterial()
	require.NoError(t, err)

	var sealed bytes.Buffer
	n, err := SealStream(&sealed, bytes.NewReader(plaintext), km)
	require.NoError(t, err)
	require.Equal(t, int64(sealed.Len()), n)
	return sealed.Bytes(), km
}

func TestSealOpenStream_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 511}

	for _, size := range sizes {
		plaintext := make([]byte, size)
		_, err := rng.Read(plaintext)
		require.NoError(t, err)

		sealed, km := sealToBuffer(t, plaintext)

		var opened bytes.Buffer
		require.NoError(t, OpenStream(&opened, bytes.NewReader(sealed), km))
		assert.Equal(t, plaintext, opened.Bytes(), "size %d", size)
	}
}

func TestSealStream_EmptyPayloadIsAuthenticated(t *testing.T) {
	sealed, km := sealToBuffer(t, nil)

	// Even an empty payload produces a sealed final frame.
	require.NotEmpty(t, sealed)

	var opened bytes.Buffer
	require.NoError(t, OpenStream(&opened, bytes.NewReader(sealed), km))
	assert.Empty(t, opened.Bytes())

	// An empty ciphertext stream is a truncation, not an empty payload.
	assert.ErrorIs(t, OpenStream(&opened, bytes.NewReader(nil), km), ErrAuthentication)
}

func TestOpenStream_RejectsBitFlips(t *testing.T) {
	plaintext := bytes.Repeat([]byte("x"), 2*ChunkSize+100)
	sealed, km := sealToBuffer(t, plaintext)

	// Sample offsets across frames rather than every bit; each flip must fail.
	for _, offset := range []int{4, 100, ChunkSize / 2, len(sealed) - 1} {
		corrupted := bytes.Clone(sealed)
		corrupted[offset] ^= 0x40

		var opened bytes.Buffer
		err := OpenStream(&opened, bytes.NewReader(corrupted), km)
		assert.ErrorIs(t, err, ErrAuthentication, "offset %d", offset)
	}
}

func TestOpenStream_RejectsTruncation(t *testing.T) {
	plaintext := bytes.Repeat([]byte("y"), 2*ChunkSize)
	sealed, km := sealToBuffer(t, plaintext)

	// Drop the final frame entirely: remaining frames verify individually but
	// the stream never terminates with a final marker.
	firstFrame := 4 + ChunkSize + TagSize
	var opened bytes.Buffer
	err := OpenStream(&opened, bytes.NewReader(sealed[:firstFrame]), km)
	assert.ErrorIs(t, err, ErrAuthentication)

	// Cut mid-frame.
	opened.Reset()
	err = OpenStream(&opened, bytes.NewReader(sealed[:len(sealed)-7]), km)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestOpenStream_RejectsTrailingGarbage(t *testing.T) {
	sealed, km := sealToBuffer(t, []byte("short payload"))
	sealed = append(sealed, 0xde, 0xad)

	var opened bytes.Buffer
	err := OpenStream(&opened, bytes.NewReader(sealed), km)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestOpenStream_RejectsReorderedChunks(t *testing.T) {
	plaintext := bytes.Repeat([]byte("z"), 2*ChunkSize)
	sealed, km := sealToBuffer(t, plaintext)

	frame := 4 + ChunkSize + TagSize
	swapped := make([]byte, 0, len(sealed))
	swapped = append(swapped, sealed[frame:2*frame]...)
	swapped = append(swapped, sealed[:frame]...)
	swapped = append(swapped, sealed[2*frame:]...)

	var opened bytes.Buffer
	err := OpenStream(&opened, bytes.NewReader(swapped), km)
	assert.ErrorIs(t, err, ErrAuthentication)
}
