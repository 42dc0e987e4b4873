package worker

import (
	"context"

	"github.com/kenneth/hsm-core/internal/crypto"
	"github.com/kenneth/hsm-core/internal/jobs"
	"github.com/kenneth/hsm-core/internal/keystore"
)

// ChaChaPoly processes the ChaCha20-Poly1305 request variants. The key store
// reference is optional: a worker built without one serves only the inline-key
// variants and answers stored-key requests with jobs.ErrNoKeyStore.
type ChaChaPoly struct {
	base
	store     *keystore.Shared
	requests  <-chan jobs.Request
	responses chan<- jobs.Response

	keyBuf [keystore.MaxSymmetricKeySize]byte
}

// NewChaChaPoly creates a ChaCha20-Poly1305 worker. store may be nil.
func NewChaChaPoly(store *keystore.Shared, requests <-chan jobs.Request, responses chan<- jobs.Response, opts Options) *ChaChaPoly {
	return &ChaChaPoly{
		base:      newBase("chachapoly", opts),
		store:     store,
		requests:  requests,
		responses: responses,
	}
}

// Execute runs one worker step. The contract matches (*AES).Execute.
func (w *ChaChaPoly) Execute(ctx context.Context) error {
	return w.step(ctx, w.requests, w.responses, w.process)
}

// Run drives Execute until a step reports a terminal condition.
func (w *ChaChaPoly) Run(ctx context.Context) error {
	for {
		if err := w.Execute(ctx); err != nil {
			return err
		}
	}
}

func (w *ChaChaPoly) process(_ context.Context, req jobs.Request) jobs.Response {
	switch req.Op {
	case jobs.OpEncryptChaChaPoly:
		return w.withStoredKey(req, w.encrypt)
	case jobs.OpDecryptChaChaPoly:
		return w.withStoredKey(req, w.decrypt)
	case jobs.OpEncryptChaChaPolyExternalKey:
		return w.encrypt(req, req.Key)
	case jobs.OpDecryptChaChaPolyExternalKey:
		return w.decrypt(req, req.Key)
	default:
		return jobs.ErrorResponse(req, jobs.ErrUnexpectedRequestType)
	}
}

// withStoredKey resolves req.KeyID from the shared store. ChaCha20-Poly1305
// accepts a single key length, so the exported length is checked by the
// primitive adapter rather than against the key's declared type.
func (w *ChaChaPoly) withStoredKey(req jobs.Request, transform func(jobs.Request, []byte) jobs.Response) jobs.Response {
	if w.store == nil {
		return jobs.ErrorResponse(req, jobs.ErrNoKeyStore)
	}

	defer crypto.Zeroize(w.keyBuf[:])

	key, err := w.store.Export(req.KeyID, w.keyBuf[:])
	w.recordKeyExport(err == nil)
	if err != nil {
		return jobs.ErrorResponse(req, err)
	}
	return transform(req, key)
}

func (w *ChaChaPoly) encrypt(req jobs.Request, key []byte) jobs.Response {
	if err := crypto.ChaChaPolyEncryptInPlaceDetached(key, req.IV, req.AAD, req.Buffer, req.Tag); err != nil {
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

func (w *ChaChaPoly) decrypt(req jobs.Request, key []byte) jobs.Response {
	if err := crypto.ChaChaPolyDecryptInPlaceDetached(key, req.IV, req.AAD, req.Buffer, req.Tag); err != nil {
		return jobs.ErrorResponse(req, err)
	}
	return jobs.Response{
		Op:        req.Op,
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Buffer:    req.Buffer,
	}
}
