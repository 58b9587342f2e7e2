package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ChunkSize is the plaintext bytes sealed per frame. Memory use of a payload
// stream is bounded by a handful of chunks regardless of payload size.
const ChunkSize = 64 * 1024

// maxFrameSize bounds a sealed frame on the wire.
const maxFrameSize = ChunkSize + TagSize

// SealStream encrypts src chunk by chunk and writes length-prefixed sealed
// frames to dst. Each chunk is sealed under a nonce derived from the base
// nonce and a chunk counter; the last chunk carries a final marker so
// truncation of the ciphertext is detected on open. Empty input produces a
// single final empty chunk, so even an empty payload is authenticated.
//
// Returns the number of ciphertext bytes written.
func SealStream(dst io.Writer, src io.Reader, km KeyMaterial) (int64, error) {
	aead, err := newAEAD(km.Key)
	if err != nil {
		return 0, err
	}
	if len(km.Nonce) != NonceSize {
		return 0, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(km.Nonce))
	}

	var written int64
	var counter uint64
	buf := make([]byte, ChunkSize)
	next := make([]byte, ChunkSize)

	n, err := readChunk(src, buf)
	if err != nil {
		return 0, err
	}
	for {
		// Look ahead one chunk to know whether the current one is final.
		m, err := readChunk(src, next)
		if err != nil {
			return written, err
		}
		final := m == 0

		nonce := chunkNonce(km.Nonce, counter, final)
		sealed := aead.Seal(nil, nonce, buf[:n], nil)
		w, err := writeFrame(dst, sealed)
		written += w
		if err != nil {
			return written, err
		}
		counter++

		if final {
			return written, nil
		}
		buf, next = next, buf
		n = m
	}
}

// OpenStream verifies and decrypts frames from src, writing plaintext to dst.
// Any corruption, reordering, truncation, or trailing garbage yields
// ErrAuthentication; plaintext written before the failing frame must be
// discarded by the caller.
func OpenStream(dst io.Writer, src io.Reader, km KeyMaterial) error {
	aead, err := newAEAD(km.Key)
	if err != nil {
		return err
	}
	if len(km.Nonce) != NonceSize {
		return ErrAuthentication
	}

	var counter uint64
	frame := make([]byte, maxFrameSize)
	for {
		sealed, err := readFrame(src, frame)
		if err != nil {
			// A well-formed stream ends with a final-marked chunk, never at a
			// frame boundary.
			return ErrAuthentication
		}

		plaintext, openErr := aead.Open(nil, chunkNonce(km.Nonce, counter, false), sealed, nil)
		if openErr != nil {
			// Not a middle chunk; it must verify as the final one.
			plaintext, openErr = aead.Open(nil, chunkNonce(km.Nonce, counter, true), sealed, nil)
			if openErr != nil {
				return ErrAuthentication
			}
			if _, err := dst.Write(plaintext); err != nil {
				return err
			}
			// Nothing may follow the final chunk.
			var one [1]byte
			if _, err := io.ReadFull(src, one[:]); err != io.EOF {
				return ErrAuthentication
			}
			return nil
		}

		if _, err := dst.Write(plaintext); err != nil {
			return err
		}
		counter++
	}
}

// chunkNonce derives the per-chunk nonce: bytes 3..10 carry the XORed chunk
// counter, byte 11 the final-chunk marker.
func chunkNonce(base []byte, counter uint64, final bool) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, base)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := range ctr {
		nonce[3+i] ^= ctr[i]
	}
	if final {
		nonce[11] ^= 0x01
	}
	return nonce
}

// readChunk fills buf as far as the reader allows, returning 0 at EOF.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}

func writeFrame(w io.Writer, sealed []byte) (int64, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(sealed)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	n, err := w.Write(sealed)
	return int64(4 + n), err
}

func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size < TagSize || size > maxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", size)
	}
	if _, err := io.ReadFull(r, buf[:size]); err != nil {
		return nil, err
	}
	return buf[:size], nil
}
