// Package selftest exercises every cipher path through the real workers
// before the core accepts traffic. Each check drives a full request/response
// cycle: a failed check means a primitive, a worker or the routing between
// them is broken, and the daemon must refuse to start.
package selftest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/hsm-core/internal/audit"
	"github.com/kenneth/hsm-core/internal/crypto"
	"github.com/kenneth/hsm-core/internal/host"
	"github.com/kenneth/hsm-core/internal/jobs"
)

// Timeout bounds one self-test request/response cycle.
const Timeout = 5 * time.Second

// ErrSelfTestFailed is wrapped around every failed check.
var ErrSelfTestFailed = errors.New("selftest: check failed")

// Check is the outcome of one self-test check.
type Check struct {
	Name string
	Err  error
}

// selfTestClient marks self-test traffic in logs and audit events.
const selfTestClient = jobs.ClientID(0)

type runner struct {
	core *host.Core
	log  *logrus.Entry

	nextRequest jobs.RequestID
	checks      []Check
}

// Run executes the self-test suite against an already running core and
// returns the first failure. The core must carry no other traffic while the
// suite runs; responses are matched by submission order.
func Run(ctx context.Context, core *host.Core, log *logrus.Logger, aud audit.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &runner{core: core, log: log.WithField("component", "selftest")}

	start := time.Now()
	r.check("aes_gcm_roundtrip", r.aesGCMRoundTrip(ctx))
	r.check("aes_gcm_tamper_detection", r.aesGCMTamper(ctx))
	r.check("aes_cbc_roundtrip", r.aesCBCRoundTrip(ctx))
	r.check("chachapoly_roundtrip", r.chachaPolyRoundTrip(ctx))
	r.check("chachapoly_tamper_detection", r.chachaPolyTamper(ctx))

	var firstErr error
	for _, c := range r.checks {
		if c.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %s: %v", ErrSelfTestFailed, c.Name, c.Err)
		}
	}

	if aud != nil {
		event := &audit.Event{
			Timestamp: time.Now(),
			EventType: audit.EventTypeSelfTest,
			Operation: "power_on",
			Success:   firstErr == nil,
			Duration:  time.Since(start),
		}
		if firstErr != nil {
			event.Error = firstErr.Error()
		}
		aud.Log(event)
	}
	return firstErr
}

func (r *runner) check(name string, err error) {
	r.checks = append(r.checks, Check{Name: name, Err: err})
	if err != nil {
		r.log.WithField("check", name).WithError(err).Error("self-test check failed")
	} else {
		r.log.WithField("check", name).Debug("self-test check passed")
	}
}

// exec submits one request and waits for its response.
func (r *runner) exec(ctx context.Context, req jobs.Request) (jobs.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	r.nextRequest++
	req.ClientID = selfTestClient
	req.RequestID = r.nextRequest

	if err := r.core.Submit(ctx, req); err != nil {
		return jobs.Response{}, err
	}
	select {
	case resp := <-r.core.Responses():
		if resp.RequestID != req.RequestID {
			return jobs.Response{}, fmt.Errorf("response correlation mismatch: sent %d, got %d", req.RequestID, resp.RequestID)
		}
		return resp, nil
	case <-ctx.Done():
		return jobs.Response{}, ctx.Err()
	}
}

func selfTestKey(size int) []byte {
	key := make([]byte, size)
	for i := range key {
		key[i] = byte(0xa5 ^ i)
	}
	return key
}

// aesGCMRoundTrip exercises both GCM key sizes.
func (r *runner) aesGCMRoundTrip(ctx context.Context) error {
	for _, keySize := range []int{crypto.KeySize128, crypto.KeySize256} {
		key := selfTestKey(keySize)
		iv := selfTestKey(crypto.GCMIVSize)
		aad := []byte("selftest-aad")
		plaintext := []byte("aes-gcm power-on self-test block")

		buffer := append([]byte(nil), plaintext...)
		tag := make([]byte, crypto.GCMTagSize)

		resp, err := r.exec(ctx, jobs.Request{Op: jobs.OpEncryptAESGCMExternalKey, Key: key, IV: iv, AAD: aad, Buffer: buffer, Tag: tag})
		if err != nil {
			return err
		}
		if resp.Err != nil {
			return fmt.Errorf("key size %d: %w", keySize, resp.Err)
		}
		if bytes.Equal(buffer, plaintext) {
			return fmt.Errorf("key size %d: ciphertext equals plaintext", keySize)
		}

		resp, err = r.exec(ctx, jobs.Request{Op: jobs.OpDecryptAESGCMExternalKey, Key: key, IV: iv, AAD: aad, Buffer: buffer, Tag: tag})
		if err != nil {
			return err
		}
		if resp.Err != nil {
			return fmt.Errorf("key size %d: %w", keySize, resp.Err)
		}
		if !bytes.Equal(resp.Buffer, plaintext) {
			return fmt.Errorf("key size %d: decryption did not restore plaintext", keySize)
		}
	}
	return nil
}

func (r *runner) aesGCMTamper(ctx context.Context) error {
	key := selfTestKey(crypto.KeySize128)
	iv := selfTestKey(crypto.GCMIVSize)
	buffer := []byte("tamper detection probe")
	tag := make([]byte, crypto.GCMTagSize)

	resp, err := r.exec(ctx, jobs.Request{Op: jobs.OpEncryptAESGCMExternalKey, Key: key, IV: iv, Buffer: buffer, Tag: tag})
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return resp.Err
	}

	buffer[0] ^= 0x01
	resp, err = r.exec(ctx, jobs.Request{Op: jobs.OpDecryptAESGCMExternalKey, Key: key, IV: iv, Buffer: buffer, Tag: tag})
	if err != nil {
		return err
	}
	if !errors.Is(resp.Err, crypto.ErrVerificationFailed) {
		return fmt.Errorf("tampered ciphertext was not rejected (err=%v)", resp.Err)
	}
	return nil
}

// aesCBCRoundTrip exercises all three CBC key sizes.
func (r *runner) aesCBCRoundTrip(ctx context.Context) error {
	for _, keySize := range []int{crypto.KeySize128, crypto.KeySize192, crypto.KeySize256} {
		key := selfTestKey(keySize)
		iv := selfTestKey(16)
		plaintext := []byte("aes-cbc self-test")

		buffer := make([]byte, 32)
		copy(buffer, plaintext)

		resp, err := r.exec(ctx, jobs.Request{Op: jobs.OpEncryptAESCBCExternalKey, Key: key, IV: iv, Buffer: buffer, PlaintextSize: len(plaintext)})
		if err != nil {
			return err
		}
		if resp.Err != nil {
			return fmt.Errorf("key size %d: %w", keySize, resp.Err)
		}

		resp, err = r.exec(ctx, jobs.Request{Op: jobs.OpDecryptAESCBCExternalKey, Key: key, IV: iv, Buffer: resp.Buffer})
		if err != nil {
			return err
		}
		if resp.Err != nil {
			return fmt.Errorf("key size %d: %w", keySize, resp.Err)
		}
		if !bytes.Equal(resp.Buffer, plaintext) {
			return fmt.Errorf("key size %d: decryption did not restore plaintext", keySize)
		}
	}
	return nil
}

func (r *runner) chachaPolyRoundTrip(ctx context.Context) error {
	key := selfTestKey(crypto.ChaChaPolyKeySize)
	nonce := selfTestKey(crypto.ChaChaPolyNonceSize)
	plaintext := []byte("chacha20-poly1305 self-test block")

	buffer := append([]byte(nil), plaintext...)
	tag := make([]byte, crypto.ChaChaPolyTagSize)

	resp, err := r.exec(ctx, jobs.Request{Op: jobs.OpEncryptChaChaPolyExternalKey, Key: key, IV: nonce, Buffer: buffer, Tag: tag})
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return resp.Err
	}

	resp, err = r.exec(ctx, jobs.Request{Op: jobs.OpDecryptChaChaPolyExternalKey, Key: key, IV: nonce, Buffer: buffer, Tag: tag})
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return resp.Err
	}
	if !bytes.Equal(resp.Buffer, plaintext) {
		return errors.New("decryption did not restore plaintext")
	}
	return nil
}

func (r *runner) chachaPolyTamper(ctx context.Context) error {
	key := selfTestKey(crypto.ChaChaPolyKeySize)
	nonce := selfTestKey(crypto.ChaChaPolyNonceSize)
	buffer := []byte("tamper detection probe")
	tag := make([]byte, crypto.ChaChaPolyTagSize)

	resp, err := r.exec(ctx, jobs.Request{Op: jobs.OpEncryptChaChaPolyExternalKey, Key: key, IV: nonce, Buffer: buffer, Tag: tag})
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return resp.Err
	}

	tag[0] ^= 0x01
	resp, err = r.exec(ctx, jobs.Request{Op: jobs.OpDecryptChaChaPolyExternalKey, Key: key, IV: nonce, Buffer: buffer, Tag: tag})
	if err != nil {
		return err
	}
	if !errors.Is(resp.Err, crypto.ErrVerificationFailed) {
		return fmt.Errorf("tampered tag was not rejected (err=%v)", resp.Err)
	}
	return nil
}
