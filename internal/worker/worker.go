// Package worker implements the request-driven HSM workers. Each worker owns
// a request source, a response sink and (optionally) a handle to the shared
// key store, and drives exactly one inbound job to exactly one outbound
// response per Execute call. A failure while processing a job becomes that
// job's error response and never terminates the step loop; only an exhausted
// request source or a rejected response delivery do.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/hsm-core/internal/audit"
	"github.com/kenneth/hsm-core/internal/jobs"
	"github.com/kenneth/hsm-core/internal/keystore"
	"github.com/kenneth/hsm-core/internal/metrics"
)

// Options carries the cross-cutting collaborators shared by all workers.
// Metrics and Audit may be nil; Logger defaults to the standard logger.
type Options struct {
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Audit   audit.Logger
}

func (o Options) logger(worker string) *logrus.Entry {
	log := o.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithField("worker", worker)
}

// base holds the per-job bookkeeping common to both workers: tracing spans,
// metrics, audit events and structured logging around the dispatch itself.
type base struct {
	name    string
	log     *logrus.Entry
	metrics *metrics.Metrics
	audit   audit.Logger
	tracer  trace.Tracer
}

func newBase(name string, opts Options) base {
	return base{
		name:    name,
		log:     opts.logger(name),
		metrics: opts.Metrics,
		audit:   opts.Audit,
		tracer:  otel.Tracer("hsm-core/worker"),
	}
}

// step pulls one request, resolves it through process, and pushes the
// response. It is the single-step contract both workers share.
func (b *base) step(ctx context.Context, requests <-chan jobs.Request, responses chan<- jobs.Response, process func(context.Context, jobs.Request) jobs.Response) error {
	var req jobs.Request
	select {
	case r, ok := <-requests:
		if !ok {
			return jobs.ErrStreamTerminated
		}
		req = r
	case <-ctx.Done():
		return ctx.Err()
	}

	resp := b.observe(ctx, req, process)

	select {
	case responses <- resp:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", jobs.ErrSend, ctx.Err())
	}
}

// observe wraps one job dispatch with span, metrics, audit and logging.
func (b *base) observe(ctx context.Context, req jobs.Request, process func(context.Context, jobs.Request) jobs.Response) jobs.Response {
	start := time.Now()

	ctx, span := b.tracer.Start(ctx, "hsm."+b.name+"."+req.Op.String(),
		trace.WithAttributes(
			attribute.String("hsm.worker", b.name),
			attribute.String("hsm.op", req.Op.String()),
			attribute.Int64("hsm.client_id", int64(req.ClientID)),
			attribute.Int64("hsm.request_id", int64(req.RequestID)),
		),
	)
	defer span.End()

	resp := process(ctx, req)
	duration := time.Since(start)

	if b.metrics != nil {
		b.metrics.RecordJob(b.name, req.Op.String(), resp.Err == nil, duration, len(req.Buffer))
		if resp.Err != nil {
			b.metrics.RecordJobError(b.name, errorKind(resp.Err))
		}
	}
	if b.audit != nil {
		b.audit.LogJob(b.name, req.Op.String(), uint32(req.ClientID), uint32(req.RequestID), resp.Err == nil, resp.Err, duration)
	}

	fields := logrus.Fields{
		"op":         req.Op.String(),
		"client_id":  req.ClientID,
		"request_id": req.RequestID,
	}
	if resp.Err != nil {
		span.SetStatus(codes.Error, resp.Err.Error())
		b.log.WithFields(fields).WithError(resp.Err).Warn("job failed")
	} else {
		span.SetStatus(codes.Ok, "")
		b.log.WithFields(fields).Debug("job completed")
	}

	return resp
}

func (b *base) recordKeyExport(success bool) {
	if b.metrics != nil {
		b.metrics.RecordKeyExport(b.name, success)
	}
}

// errorKind maps an error onto the taxonomy used by metrics labels.
func errorKind(err error) string {
	switch {
	case errors.Is(err, jobs.ErrUnexpectedRequestType),
		errors.Is(err, jobs.ErrNoKeyStore),
		errors.Is(err, jobs.ErrStreamTerminated),
		errors.Is(err, jobs.ErrSend):
		return "protocol"
	case errors.Is(err, keystore.ErrKeyNotFound),
		errors.Is(err, keystore.ErrBufferTooSmall),
		errors.Is(err, keystore.ErrKeyNotExportable),
		errors.Is(err, keystore.ErrInvalidKeyType):
		return "keystore"
	default:
		return "crypto"
	}
}
