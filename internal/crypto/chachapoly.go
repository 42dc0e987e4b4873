package crypto

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20-Poly1305 canonical parameter sizes in bytes.
const (
	ChaChaPolyKeySize   = chacha20poly1305.KeySize
	ChaChaPolyNonceSize = chacha20poly1305.NonceSize
	ChaChaPolyTagSize   = chacha20poly1305.Overhead
)

// ChaChaPolyEncryptInPlaceDetached encrypts buffer in place with
// ChaCha20-Poly1305 and writes the authentication tag into the caller's
// detached tag buffer.
func ChaChaPolyEncryptInPlaceDetached(key, nonce, aad, buffer, tag []byte) error {
	aead, err := newChaChaPoly(key, nonce, tag)
	if err != nil {
		return err
	}

	scratch := getScratch(len(buffer) + ChaChaPolyTagSize)
	defer putScratch(scratch)

	out := aead.Seal((*scratch)[:0], nonce, buffer, aad)
	copy(buffer, out[:len(buffer)])
	copy(tag, out[len(buffer):])
	*scratch = out
	return nil
}

// ChaChaPolyDecryptInPlaceDetached verifies the detached tag over buffer and
// aad and decrypts buffer in place with ChaCha20-Poly1305. Verification uses
// the primitive's own constant-time check; on failure the buffer contents are
// undefined.
func ChaChaPolyDecryptInPlaceDetached(key, nonce, aad, buffer, tag []byte) error {
	aead, err := newChaChaPoly(key, nonce, tag)
	if err != nil {
		return err
	}

	scratch := getScratch(len(buffer) + ChaChaPolyTagSize)
	defer putScratch(scratch)

	combined := append((*scratch)[:0], buffer...)
	combined = append(combined, tag...)
	*scratch = combined

	if _, err := aead.Open(buffer[:0], nonce, combined, aad); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}

func newChaChaPoly(key, nonce, tag []byte) (cipher.AEAD, error) {
	if len(key) != ChaChaPolyKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, ChaCha20-Poly1305 requires %d", ErrInvalidSymmetricKeySize, len(key), ChaChaPolyKeySize)
	}
	if len(nonce) != ChaChaPolyNonceSize {
		return nil, fmt.Errorf("%w: got %d bytes, ChaCha20-Poly1305 requires %d", ErrInvalidNonceSize, len(nonce), ChaChaPolyNonceSize)
	}
	if len(tag) != ChaChaPolyTagSize {
		return nil, fmt.Errorf("%w: got %d bytes, ChaCha20-Poly1305 requires %d", ErrInvalidTagSize, len(tag), ChaChaPolyTagSize)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, nil
}
