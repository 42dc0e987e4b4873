package crypto

import "errors"

// Crypto-kind errors. The workers wrap these into per-request error
// responses; they never abort a worker's step loop.
var (
	// ErrInvalidSymmetricKeySize is returned when a key's length is outside
	// the algorithm's supported set.
	ErrInvalidSymmetricKeySize = errors.New("crypto: invalid symmetric key size")

	// ErrInvalidIVSize is returned when an IV does not have the algorithm's
	// canonical size.
	ErrInvalidIVSize = errors.New("crypto: invalid IV size")

	// ErrInvalidNonceSize is returned when a nonce does not have the
	// algorithm's canonical size.
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")

	// ErrInvalidTagSize is returned when a detached tag buffer does not have
	// the algorithm's canonical size.
	ErrInvalidTagSize = errors.New("crypto: invalid tag size")

	// ErrVerificationFailed is returned when AEAD authentication fails. The
	// payload buffer contents are undefined afterwards.
	ErrVerificationFailed = errors.New("crypto: authentication verification failed")

	// ErrInvalidPadding is returned when block-cipher padding does not
	// validate on decryption.
	ErrInvalidPadding = errors.New("crypto: invalid padding")

	// ErrInvalidBufferSize is returned when a payload buffer cannot satisfy
	// the transform (not block-aligned, or no room for padding).
	ErrInvalidBufferSize = errors.New("crypto: invalid buffer size")
)
