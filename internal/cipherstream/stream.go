// Package cipherstream provides incremental AES-256-GCM over byte streams.
// Artifacts are encrypted and verified without ever holding the whole payload
// in memory; the IV and auth tag travel out of band in the sidecar file.
package cipherstream

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

var (
	// ErrAuthentication means the stream's auth tag did not verify. Any
	// plaintext already produced must be discarded by the caller.
	ErrAuthentication = errors.New("cipherstream: message authentication failed")
	// ErrNotFinalized means AuthTag was read before Close.
	ErrNotFinalized = errors.New("cipherstream: auth tag requested before stream finalized")
)

// gcmSetup derives the pieces shared by both directions: the GHASH subkey,
// the tag mask E(K, J0), and a CTR stream positioned at the first data
// counter (J0 incremented).
func gcmSetup(key, iv []byte) (cipher.Stream, *ghash, *[16]byte, error) {
	if len(key) != KeySize {
		return nil, nil, nil, fmt.Errorf("cipherstream: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, nil, nil, fmt.Errorf("cipherstream: iv must be %d bytes, got %d", IVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cipherstream: create cipher: %w", err)
	}

	var h [16]byte
	block.Encrypt(h[:], h[:])

	var j0 [16]byte
	copy(j0[:], iv)
	j0[15] = 1

	var tagMask [16]byte
	block.Encrypt(tagMask[:], j0[:])

	var ctr [16]byte
	copy(ctr[:], j0[:])
	ctr[15] = 2

	return cipher.NewCTR(block, ctr[:]), newGHASH(&h), &tagMask, nil
}

// EncryptWriter encrypts everything written to it into dst. The auth tag
// becomes available only after Close has consumed and finalized the input.
type EncryptWriter struct {
	dst     io.Writer
	ctr     cipher.Stream
	gh      *ghash
	tagMask [16]byte
	iv      [IVSize]byte
	tag     [TagSize]byte
	closed  bool
	scratch []byte
}

// NewEncryptWriter wraps dst with an encrypting stream under a fresh random IV.
func NewEncryptWriter(dst io.Writer, key []byte) (*EncryptWriter, error) {
	var iv [IVSize]byte
	if _, err := io.ReadFull(rand.Reader, iv[:]); err != nil {
		return nil, fmt.Errorf("cipherstream: generate iv: %w", err)
	}

	ctr, gh, tagMask, err := gcmSetup(key, iv[:])
	if err != nil {
		return nil, err
	}

	return &EncryptWriter{dst: dst, ctr: ctr, gh: gh, tagMask: *tagMask, iv: iv}, nil
}

func (w *EncryptWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("cipherstream: write after close")
	}

	if cap(w.scratch) < len(p) {
		w.scratch = make([]byte, len(p))
	}
	ct := w.scratch[:len(p)]
	w.ctr.XORKeyStream(ct, p)
	w.gh.update(ct)

	if _, err := w.dst.Write(ct); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close finalizes the stream and fixes the auth tag. It does not close dst.
func (w *EncryptWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	s := w.gh.finish()
	for i := range w.tag {
		w.tag[i] = s[i] ^ w.tagMask[i]
	}
	return nil
}

// IV returns the per-stream initialization vector.
func (w *EncryptWriter) IV() []byte {
	iv := make([]byte, IVSize)
	copy(iv, w.iv[:])
	return iv
}

// AuthTag returns the authentication tag. Reading it before Close is a usage
// error: the tag only exists once the input is fully consumed.
func (w *EncryptWriter) AuthTag() ([]byte, error) {
	if !w.closed {
		return nil, ErrNotFinalized
	}
	tag := make([]byte, TagSize)
	copy(tag, w.tag[:])
	return tag, nil
}

// DecryptReader decrypts src incrementally. The expected tag must be known up
// front; it is verified when the source reaches EOF. On mismatch Read returns
// ErrAuthentication instead of io.EOF and the stream is dead. Plaintext has
// already been emitted by then, so the caller must discard its output.
type DecryptReader struct {
	src     io.Reader
	ctr     cipher.Stream
	gh      *ghash
	tagMask [16]byte
	want    [TagSize]byte
	err     error
}

func NewDecryptReader(src io.Reader, key, iv, tag []byte) (*DecryptReader, error) {
	if len(tag) != TagSize {
		return nil, fmt.Errorf("cipherstream: tag must be %d bytes, got %d", TagSize, len(tag))
	}

	ctr, gh, tagMask, err := gcmSetup(key, iv)
	if err != nil {
		return nil, err
	}

	r := &DecryptReader{src: src, ctr: ctr, gh: gh, tagMask: *tagMask}
	copy(r.want[:], tag)
	return r, nil
}

func (r *DecryptReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	n, err := r.src.Read(p)
	if n > 0 {
		// Authenticate the ciphertext before turning it into plaintext.
		r.gh.update(p[:n])
		r.ctr.XORKeyStream(p[:n], p[:n])
	}

	switch {
	case err == io.EOF:
		s := r.gh.finish()
		var got [TagSize]byte
		for i := range got {
			got[i] = s[i] ^ r.tagMask[i]
		}
		if subtle.ConstantTimeCompare(got[:], r.want[:]) != 1 {
			r.err = ErrAuthentication
			return 0, r.err
		}
		r.err = io.EOF
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	case err != nil:
		r.err = err
		return n, err
	}

	return n, nil
}
