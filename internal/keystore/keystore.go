package keystore

import (
	"errors"
	"fmt"
)

// MaxSymmetricKeySize is the size in bytes of the largest symmetric key the
// core supports (AES-256 / ChaCha20). Worker-local key buffers are sized to it.
const MaxSymmetricKeySize = 32

// KeyID names a key inside the key store. It is opaque to the workers and is
// resolved to raw key material only at the moment of use, never cached.
type KeyID uint32

// KeyType classifies the material held behind a KeyID.
type KeyType int

const (
	// Symmetric128Bits is a 16-byte symmetric key (AES-128).
	Symmetric128Bits KeyType = iota
	// Symmetric192Bits is a 24-byte symmetric key (AES-192, CBC only).
	Symmetric192Bits
	// Symmetric256Bits is a 32-byte symmetric key (AES-256, ChaCha20).
	Symmetric256Bits
	// Asymmetric256Bits is an asymmetric key pair; symmetric workers reject it.
	Asymmetric256Bits
)

// String returns the configuration spelling of the key type.
func (t KeyType) String() string {
	switch t {
	case Symmetric128Bits:
		return "symmetric-128"
	case Symmetric192Bits:
		return "symmetric-192"
	case Symmetric256Bits:
		return "symmetric-256"
	case Asymmetric256Bits:
		return "asymmetric-256"
	default:
		return fmt.Sprintf("keytype(%d)", int(t))
	}
}

// SymmetricKeySize returns the raw key size in bytes for symmetric key types.
// The second return is false for non-symmetric types.
func (t KeyType) SymmetricKeySize() (int, bool) {
	switch t {
	case Symmetric128Bits:
		return 16, true
	case Symmetric192Bits:
		return 24, true
	case Symmetric256Bits:
		return 32, true
	default:
		return 0, false
	}
}

// ParseKeyType parses the configuration spelling of a key type.
func ParseKeyType(s string) (KeyType, error) {
	switch s {
	case "symmetric-128":
		return Symmetric128Bits, nil
	case "symmetric-192":
		return Symmetric192Bits, nil
	case "symmetric-256":
		return Symmetric256Bits, nil
	case "asymmetric-256":
		return Asymmetric256Bits, nil
	default:
		return 0, fmt.Errorf("%w: unknown key type %q", ErrInvalidKeyType, s)
	}
}

// KeyInfo describes a stored key without exposing its material.
type KeyInfo struct {
	ID         KeyID
	Type       KeyType
	Exportable bool
}

// Key store errors. Workers surface these verbatim in error responses so a
// caller can tell a missing key from a policy refusal.
var (
	// ErrKeyNotFound is returned when no key exists under the requested identifier.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrBufferTooSmall is returned when the caller-provided export buffer
	// cannot hold the key material.
	ErrBufferTooSmall = errors.New("keystore: export buffer too small")

	// ErrKeyNotExportable is returned when the key exists but its policy
	// forbids exporting the raw material.
	ErrKeyNotExportable = errors.New("keystore: key not exportable")

	// ErrInvalidKeyType is returned when a key's type cannot serve the
	// requested operation (e.g. a 192-bit key on a GCM request).
	ErrInvalidKeyType = errors.New("keystore: invalid key type for operation")
)

// KeyStore is the capability consumed by the workers: export raw symmetric key
// bytes into a caller-provided buffer and fetch key metadata. Implementations
// are not required to be safe for concurrent use; share them through Shared.
type KeyStore interface {
	// Export writes the raw key bytes for id into out and returns the
	// written prefix of out. It fails with ErrKeyNotFound, ErrBufferTooSmall
	// or ErrKeyNotExportable.
	Export(id KeyID, out []byte) ([]byte, error)

	// GetKeyInfo returns type and policy metadata for id without exposing
	// key material. It fails with ErrKeyNotFound.
	GetKeyInfo(id KeyID) (KeyInfo, error)
}
