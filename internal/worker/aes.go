package worker

import (
	"context"
	"fmt"

	"github.com/kenneth/hsm-core/internal/crypto"
	"github.com/kenneth/hsm-core/internal/jobs"
	"github.com/kenneth/hsm-core/internal/keystore"
)

// AES processes the AES-GCM and AES-CBC request variants. It always holds a
// reference to the shared key store; inline-key variants bypass it.
type AES struct {
	base
	store     *keystore.Shared
	requests  <-chan jobs.Request
	responses chan<- jobs.Response

	// keyBuf receives exported key material. It is owned by the worker,
	// reused across jobs and zeroized on every exit path so stored key bytes
	// never outlive the job that resolved them.
	keyBuf [keystore.MaxSymmetricKeySize]byte
}

// NewAES creates an AES worker bound to its request source and response sink.
// The store must not be nil.
func NewAES(store *keystore.Shared, requests <-chan jobs.Request, responses chan<- jobs.Response, opts Options) *AES {
	return &AES{
		base:      newBase("aes", opts),
		store:     store,
		requests:  requests,
		responses: responses,
	}
}

// Execute runs one worker step: receive one request, process it, send one
// response. It returns nil after a delivered response (even an error
// response), jobs.ErrStreamTerminated when the request source is exhausted,
// a jobs.ErrSend wrap when the response could not be delivered, and the
// context error when cancelled while waiting for work.
func (w *AES) Execute(ctx context.Context) error {
	return w.step(ctx, w.requests, w.responses, w.process)
}

// Run drives Execute until a step reports a terminal condition.
func (w *AES) Run(ctx context.Context) error {
	for {
		if err := w.Execute(ctx); err != nil {
			return err
		}
	}
}

func (w *AES) process(_ context.Context, req jobs.Request) jobs.Response {
	switch req.Op {
	case jobs.OpEncryptAESGCM:
		return w.withStoredKey(req, gcmKeyUsable, w.encryptGCM)
	case jobs.OpDecryptAESGCM:
		return w.withStoredKey(req, gcmKeyUsable, w.decryptGCM)
	case jobs.OpEncryptAESGCMExternalKey:
		return w.encryptGCM(req, req.Key)
	case jobs.OpDecryptAESGCMExternalKey:
		return w.decryptGCM(req, req.Key)
	case jobs.OpEncryptAESCBC:
		return w.withStoredKey(req, cbcKeyUsable, w.encryptCBC)
	case jobs.OpDecryptAESCBC:
		return w.withStoredKey(req, cbcKeyUsable, w.decryptCBC)
	case jobs.OpEncryptAESCBCExternalKey:
		return w.encryptCBC(req, req.Key)
	case jobs.OpDecryptAESCBCExternalKey:
		return w.decryptCBC(req, req.Key)
	default:
		return jobs.ErrorResponse(req, jobs.ErrUnexpectedRequestType)
	}
}

// withStoredKey resolves req.KeyID from the shared store, checks the key type
// against the requested mode and hands the material to transform. The export
// buffer is zeroized before the response leaves the worker.
func (w *AES) withStoredKey(req jobs.Request, usable func(keystore.KeyType) bool, transform func(jobs.Request, []byte) jobs.Response) jobs.Response {
	defer crypto.Zeroize(w.keyBuf[:])

	key, info, err := w.store.ExportWithInfo(req.KeyID, w.keyBuf[:])
	w.recordKeyExport(err == nil)
	if err != nil {
		return jobs.ErrorResponse(req, err)
	}
	if !usable(info.Type) {
		return jobs.ErrorResponse(req, fmt.Errorf("%w: %s cannot serve %s", keystore.ErrInvalidKeyType, info.Type, req.Op))
	}
	return transform(req, key)
}

// gcmKeyUsable reports whether a stored key type maps onto an AES-GCM key.
// 192-bit keys are excluded: GCM is offered for 128- and 256-bit keys only.
func gcmKeyUsable(t keystore.KeyType) bool {
	return t == keystore.Symmetric128Bits || t == keystore.Symmetric256Bits
}

// cbcKeyUsable reports whether a stored key type maps onto an AES-CBC key.
func cbcKeyUsable(t keystore.KeyType) bool {
	switch t {
	case keystore.Symmetric128Bits, keystore.Symmetric192Bits, keystore.Symmetric256Bits:
		return true
	default:
		return false
	}
}

func (w *AES) encryptGCM(req jobs.Request, key []byte) jobs.Response {
	if err := crypto.AESGCMEncryptInPlaceDetached(key, req.IV, req.AAD, req.Buffer, req.Tag); err != nil {
		return jobs.ErrorResponse(req, err)
	}
	return jobs.Response{
		Op:        req.Op,
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Buffer:    req.Buffer,
		Tag:       req.Tag,
	}
}

func (w *AES) decryptGCM(req jobs.Request, key []byte) jobs.Response {
	if err := crypto.AESGCMDecryptInPlaceDetached(key, req.IV, req.AAD, req.Buffer, req.Tag); err != nil {
		return jobs.ErrorResponse(req, err)
	}
	return jobs.Response{
		Op:        req.Op,
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Buffer:    req.Buffer,
	}
}

func (w *AES) encryptCBC(req jobs.Request, key []byte) jobs.Response {
	ciphertext, err := crypto.AESCBCEncrypt(key, req.IV, req.Buffer, req.PlaintextSize)
	if err != nil {
		return jobs.ErrorResponse(req, err)
	}
	return jobs.Response{
		Op:        req.Op,
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Buffer:    ciphertext,
	}
}

func (w *AES) decryptCBC(req jobs.Request, key []byte) jobs.Response {
	plaintext, err := crypto.AESCBCDecrypt(key, req.IV, req.Buffer)
	if err != nil {
		return jobs.ErrorResponse(req, err)
	}
	return jobs.Response{
		Op:        req.Op,
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Buffer:    plaintext,
	}
}
