// Package crypto holds the per-algorithm primitive adapters consumed by the
// HSM workers. Each adapter takes resolved key bytes of a known length, an
// IV/nonce, optional associated data and an in-place payload buffer, and
// either completes the transform or returns a crypto-kind error. The workers
// treat every adapter as a black box; no adapter call is ever retried.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
)

// Supported AES key sizes in bytes.
const (
	KeySize128 = 16
	KeySize192 = 24
	KeySize256 = 32
)

// AES-GCM canonical parameter sizes in bytes. Not renegotiable per request.
const (
	GCMIVSize  = 12
	GCMTagSize = 16
)

// AESGCMEncryptInPlaceDetached encrypts buffer in place with AES-GCM and
// writes the authentication tag into the caller's detached tag buffer.
// GCM is offered for 16- and 32-byte keys only.
func AESGCMEncryptInPlaceDetached(key, iv, aad, buffer, tag []byte) error {
	aead, err := newGCM(key, iv, tag)
	if err != nil {
		return err
	}

	scratch := getScratch(len(buffer) + GCMTagSize)
	defer putScratch(scratch)

	out := aead.Seal((*scratch)[:0], iv, buffer, aad)
	copy(buffer, out[:len(buffer)])
	copy(tag, out[len(buffer):])
	*scratch = out
	return nil
}

// AESGCMDecryptInPlaceDetached verifies the detached tag over buffer and aad
// and decrypts buffer in place with AES-GCM. On verification failure the
// buffer contents are undefined.
func AESGCMDecryptInPlaceDetached(key, iv, aad, buffer, tag []byte) error {
	aead, err := newGCM(key, iv, tag)
	if err != nil {
		return err
	}

	scratch := getScratch(len(buffer) + GCMTagSize)
	defer putScratch(scratch)

	combined := append((*scratch)[:0], buffer...)
	combined = append(combined, tag...)
	*scratch = combined

	if _, err := aead.Open(buffer[:0], iv, combined, aad); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}

func newGCM(key, iv, tag []byte) (cipher.AEAD, error) {
	switch len(key) {
	case KeySize128, KeySize256:
	default:
		return nil, fmt.Errorf("%w: got %d bytes, GCM supports 16 or 32", ErrInvalidSymmetricKeySize, len(key))
	}
	if len(iv) != GCMIVSize {
		return nil, fmt.Errorf("%w: got %d bytes, GCM requires %d", ErrInvalidIVSize, len(iv), GCMIVSize)
	}
	if len(tag) != GCMTagSize {
		return nil, fmt.Errorf("%w: got %d bytes, GCM requires %d", ErrInvalidTagSize, len(tag), GCMTagSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSymmetricKeySize, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// AESCBCEncrypt pads buffer[:plaintextSize] with PKCS#7 and encrypts in place
// with AES-CBC. The buffer must leave room for at least one byte of padding.
// It returns the ciphertext as a length-truncated view of buffer.
// CBC is offered for all three AES key sizes.
func AESCBCEncrypt(key, iv, buffer []byte, plaintextSize int) ([]byte, error) {
	block, err := newCBCBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if plaintextSize < 0 || plaintextSize > len(buffer) {
		return nil, fmt.Errorf("%w: plaintext size %d exceeds buffer of %d", ErrInvalidBufferSize, plaintextSize, len(buffer))
	}

	padLen := aes.BlockSize - plaintextSize%aes.BlockSize
	paddedSize := plaintextSize + padLen
	if paddedSize > len(buffer) {
		return nil, fmt.Errorf("%w: %d-byte buffer cannot hold %d bytes of padded plaintext", ErrInvalidBufferSize, len(buffer), paddedSize)
	}
	for i := plaintextSize; i < paddedSize; i++ {
		buffer[i] = byte(padLen)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buffer[:paddedSize], buffer[:paddedSize])
	return buffer[:paddedSize], nil
}

// AESCBCDecrypt decrypts buffer in place with AES-CBC and strips the PKCS#7
// padding. It returns the plaintext as a length-truncated view of buffer.
func AESCBCDecrypt(key, iv, buffer []byte) ([]byte, error) {
	block, err := newCBCBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(buffer) == 0 || len(buffer)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes is not a positive multiple of %d", ErrInvalidBufferSize, len(buffer), aes.BlockSize)
	}

	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buffer, buffer)

	n, err := pkcs7Strip(buffer)
	if err != nil {
		return nil, err
	}
	return buffer[:n], nil
}

func newCBCBlock(key, iv []byte) (cipher.Block, error) {
	switch len(key) {
	case KeySize128, KeySize192, KeySize256:
	default:
		return nil, fmt.Errorf("%w: got %d bytes, CBC supports 16, 24 or 32", ErrInvalidSymmetricKeySize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: got %d bytes, CBC requires %d", ErrInvalidIVSize, len(iv), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSymmetricKeySize, err)
	}
	return block, nil
}

// pkcs7Strip validates the padding of a decrypted block sequence and returns
// the plaintext length. The padding bytes are compared without data-dependent
// branching so a padding oracle cannot time individual byte checks.
func pkcs7Strip(buf []byte) (int, error) {
	padLen := int(buf[len(buf)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(buf) {
		return 0, ErrInvalidPadding
	}

	valid := 1
	for _, b := range buf[len(buf)-padLen:] {
		valid &= subtle.ConstantTimeByteEq(b, byte(padLen))
	}
	if valid != 1 {
		return 0, ErrInvalidPadding
	}
	return len(buf) - padLen, nil
}
