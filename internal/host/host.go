// Package host assembles the symmetric workers behind a single submission
// surface. The Core routes each request to the worker that declares its
// variant, fans all worker responses into one stream, and guarantees the
// one-response-per-request contract end to end.
package host

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/hsm-core/internal/audit"
	"github.com/kenneth/hsm-core/internal/jobs"
	"github.com/kenneth/hsm-core/internal/keystore"
	"github.com/kenneth/hsm-core/internal/metrics"
	"github.com/kenneth/hsm-core/internal/worker"
)

// DefaultQueueDepth is the per-worker request queue depth used when the
// options leave it unset.
const DefaultQueueDepth = 16

// Options configures a Core.
type Options struct {
	// QueueDepth is the per-worker request queue depth.
	QueueDepth int

	// ChaChaPolyUsesStore grants the ChaCha20-Poly1305 worker access to the
	// shared key store. When false that worker serves inline-key requests only.
	ChaChaPolyUsesStore bool

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Audit   audit.Logger
}

// Core owns the worker set and their queues.
type Core struct {
	aesRequests    chan jobs.Request
	chachaRequests chan jobs.Request
	responses      chan jobs.Response

	aes    *worker.AES
	chacha *worker.ChaChaPoly

	metrics *metrics.Metrics
	log     *logrus.Entry

	closeOnce sync.Once
}

// New builds a Core over the shared key store. The store must not be nil; it
// is withheld from the ChaCha20-Poly1305 worker unless the options grant it.
func New(store *keystore.Shared, opts Options) *Core {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Core{
		aesRequests:    make(chan jobs.Request, depth),
		chachaRequests: make(chan jobs.Request, depth),
		// Sized for both workers so a slow consumer stalls workers, not Submit.
		responses: make(chan jobs.Response, 2*depth),
		metrics:   opts.Metrics,
		log:       log.WithField("component", "host"),
	}

	workerOpts := worker.Options{Logger: opts.Logger, Metrics: opts.Metrics, Audit: opts.Audit}
	chachaStore := store
	if !opts.ChaChaPolyUsesStore {
		chachaStore = nil
	}
	c.aes = worker.NewAES(store, c.aesRequests, c.responses, workerOpts)
	c.chacha = worker.NewChaChaPoly(chachaStore, c.chachaRequests, c.responses, workerOpts)
	return c
}

// Submit routes req to the worker that handles its variant. A variant no
// worker declares is answered immediately with an error response, preserving
// the one-response-per-request contract. Submit blocks only when the target
// queue is full.
func (c *Core) Submit(ctx context.Context, req jobs.Request) error {
	var queue chan jobs.Request
	var name string

	switch req.Op {
	case jobs.OpEncryptAESGCM, jobs.OpDecryptAESGCM,
		jobs.OpEncryptAESGCMExternalKey, jobs.OpDecryptAESGCMExternalKey,
		jobs.OpEncryptAESCBC, jobs.OpDecryptAESCBC,
		jobs.OpEncryptAESCBCExternalKey, jobs.OpDecryptAESCBCExternalKey:
		queue, name = c.aesRequests, "aes"
	case jobs.OpEncryptChaChaPoly, jobs.OpDecryptChaChaPoly,
		jobs.OpEncryptChaChaPolyExternalKey, jobs.OpDecryptChaChaPolyExternalKey:
		queue, name = c.chachaRequests, "chachapoly"
	default:
		c.log.WithFields(logrus.Fields{
			"op":        req.Op.String(),
			"client_id": req.ClientID,
		}).Warn("no worker declares request variant")
		select {
		case c.responses <- jobs.ErrorResponse(req, jobs.ErrUnexpectedRequestType):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case queue <- req:
		if c.metrics != nil {
			c.metrics.SetRequestQueueDepth(name, len(queue))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses returns the merged response stream of all workers. The stream is
// closed when Run returns; buffered responses remain readable.
func (c *Core) Responses() <-chan jobs.Response {
	return c.responses
}

// Run drives both workers until the context is cancelled or Close drains the
// queues. A worker stopping on an exhausted queue after Close is a clean
// shutdown; anything else is reported.
func (c *Core) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	run := func(name string, loop func(context.Context) error) {
		defer wg.Done()
		err := loop(ctx)
		switch {
		case errors.Is(err, jobs.ErrStreamTerminated),
			errors.Is(err, jobs.ErrSend), // only reachable through cancellation
			errors.Is(err, context.Canceled):
			c.log.WithField("worker", name).Info("worker stopped")
		default:
			c.log.WithField("worker", name).WithError(err).Error("worker failed")
			errs <- err
		}
	}

	wg.Add(2)
	go run("aes", c.aes.Run)
	go run("chachapoly", c.chacha.Run)
	wg.Wait()

	// Both workers have exited; buffered responses stay readable.
	close(c.responses)

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// Close stops accepting requests and lets the workers drain their queues.
// Submit must not be called after Close.
func (c *Core) Close() {
	c.closeOnce.Do(func() {
		close(c.aesRequests)
		close(c.chachaRequests)
	})
}
