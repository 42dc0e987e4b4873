// Package jobs defines the in-process job protocol shared by all HSM workers:
// the closed set of request and response variants, their correlation
// identifiers, and the protocol-level errors.
//
// Request and Response values are transient. A request is constructed by the
// caller, consumed by exactly one worker step, and answered by exactly one
// response carrying the caller's identifiers. Response buffers are always
// views of the buffers the caller supplied in the request; the workers never
// allocate new storage for payload data.
package jobs

import (
	"errors"
	"fmt"

	"github.com/kenneth/hsm-core/internal/keystore"
)

// ClientID identifies the client a job originates from. It is carried
// unchanged from request to response and never interpreted by the core.
type ClientID uint32

// RequestID correlates a response to its request within one client. It is
// carried unchanged and never interpreted by the core.
type RequestID uint32

// Op tags a request or response variant. The set is closed; each worker
// declares the subset it implements and answers anything else with
// ErrUnexpectedRequestType.
type Op int

const (
	// OpEncryptAESGCM encrypts in place with AES-GCM using a stored key.
	OpEncryptAESGCM Op = iota
	// OpDecryptAESGCM decrypts in place with AES-GCM using a stored key.
	OpDecryptAESGCM
	// OpEncryptAESGCMExternalKey encrypts with AES-GCM using an inline key.
	OpEncryptAESGCMExternalKey
	// OpDecryptAESGCMExternalKey decrypts with AES-GCM using an inline key.
	OpDecryptAESGCMExternalKey
	// OpEncryptAESCBC encrypts in place with AES-CBC using a stored key.
	OpEncryptAESCBC
	// OpDecryptAESCBC decrypts in place with AES-CBC using a stored key.
	OpDecryptAESCBC
	// OpEncryptAESCBCExternalKey encrypts with AES-CBC using an inline key.
	OpEncryptAESCBCExternalKey
	// OpDecryptAESCBCExternalKey decrypts with AES-CBC using an inline key.
	OpDecryptAESCBCExternalKey
	// OpEncryptChaChaPoly encrypts with ChaCha20-Poly1305 using a stored key.
	OpEncryptChaChaPoly
	// OpDecryptChaChaPoly decrypts with ChaCha20-Poly1305 using a stored key.
	OpDecryptChaChaPoly
	// OpEncryptChaChaPolyExternalKey encrypts with ChaCha20-Poly1305 using an inline key.
	OpEncryptChaChaPolyExternalKey
	// OpDecryptChaChaPolyExternalKey decrypts with ChaCha20-Poly1305 using an inline key.
	OpDecryptChaChaPolyExternalKey
	// OpGenerateRandom belongs to the RNG worker family. The symmetric
	// workers share its protocol but do not implement it; it exists here so
	// misrouted jobs are observable rather than dropped.
	OpGenerateRandom
)

// String returns a stable lowercase name used in logs, metrics and spans.
func (op Op) String() string {
	switch op {
	case OpEncryptAESGCM:
		return "encrypt_aes_gcm"
	case OpDecryptAESGCM:
		return "decrypt_aes_gcm"
	case OpEncryptAESGCMExternalKey:
		return "encrypt_aes_gcm_external_key"
	case OpDecryptAESGCMExternalKey:
		return "decrypt_aes_gcm_external_key"
	case OpEncryptAESCBC:
		return "encrypt_aes_cbc"
	case OpDecryptAESCBC:
		return "decrypt_aes_cbc"
	case OpEncryptAESCBCExternalKey:
		return "encrypt_aes_cbc_external_key"
	case OpDecryptAESCBCExternalKey:
		return "decrypt_aes_cbc_external_key"
	case OpEncryptChaChaPoly:
		return "encrypt_chachapoly"
	case OpDecryptChaChaPoly:
		return "decrypt_chachapoly"
	case OpEncryptChaChaPolyExternalKey:
		return "encrypt_chachapoly_external_key"
	case OpDecryptChaChaPolyExternalKey:
		return "decrypt_chachapoly_external_key"
	case OpGenerateRandom:
		return "generate_random"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Request is one job. Which fields are meaningful depends on Op:
//
//   - KeyID selects a stored key; Key carries inline material on the
//     *ExternalKey variants (exactly one of the two is used per variant).
//   - IV is the initialization vector (AES) or nonce (ChaCha20-Poly1305).
//   - Buffer is the in-place payload: plaintext on encrypt requests,
//     ciphertext on decrypt requests. The worker overwrites it.
//   - AAD and Tag apply to the AEAD variants only. Tag is a detached,
//     separately sized buffer: written on encrypt, verified on decrypt.
//   - PlaintextSize applies to CBC encryption only and gives the logical
//     plaintext length inside Buffer, which must leave room for padding.
type Request struct {
	Op        Op
	ClientID  ClientID
	RequestID RequestID

	KeyID keystore.KeyID
	Key   []byte

	IV            []byte
	Buffer        []byte
	AAD           []byte
	Tag           []byte
	PlaintextSize int
}

// Response answers exactly one Request. On success Err is nil and Buffer
// (and Tag for AEAD encryption) are views of the request's buffers, possibly
// truncated for CBC. On failure Err carries the structured error and the
// payload fields are unset; the request buffer contents are then undefined.
type Response struct {
	Op        Op
	ClientID  ClientID
	RequestID RequestID

	Buffer []byte
	Tag    []byte
	Err    error
}

// ErrorResponse builds the failure response for req, preserving its
// correlation identifiers.
func ErrorResponse(req Request, err error) Response {
	return Response{
		Op:        req.Op,
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Err:       err,
	}
}

// Protocol-level errors. ErrStreamTerminated and ErrSend indicate the
// communication channel itself is unusable and terminate a worker's step;
// the others are delivered inside a per-request error response.
var (
	// ErrStreamTerminated is returned by a worker step when its request
	// source is exhausted. The host decides whether to restart or tear down.
	ErrStreamTerminated = errors.New("jobs: request stream terminated")

	// ErrSend is returned by a worker step when the response sink did not
	// accept a completed response.
	ErrSend = errors.New("jobs: failed to deliver response")

	// ErrUnexpectedRequestType signals a request variant outside the
	// worker's declared set, i.e. a misrouted job.
	ErrUnexpectedRequestType = errors.New("jobs: request type not handled by this worker")

	// ErrNoKeyStore signals an internal-key request sent to a worker that
	// was configured without a key store.
	ErrNoKeyStore = errors.New("jobs: no key store configured")
)
