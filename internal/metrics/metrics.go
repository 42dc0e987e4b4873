package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Metrics holds all HSM core metrics.
type Metrics struct {
	jobsTotal         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobErrors         *prometheus.CounterVec
	jobPayloadBytes   *prometheus.CounterVec
	keyExportsTotal   *prometheus.CounterVec
	requestQueueDepth *prometheus.GaugeVec
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
	memorySysBytes    prometheus.Gauge
}

// SetVersion records the build version exposed by the build-info collector.
func SetVersion(v string) {
	version.Version = v
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	reg.MustRegister(version.NewCollector("hsm_core"))
	return &Metrics{
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsm_jobs_total",
				Help: "Total number of crypto jobs processed",
			},
			[]string{"worker", "op", "outcome"}, // outcome is "ok" or "error"
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hsm_job_duration_seconds",
				Help:    "Crypto job duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"worker", "op"},
		),
		jobErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsm_job_errors_total",
				Help: "Total number of crypto job errors by taxonomy kind",
			},
			[]string{"worker", "kind"}, // kind is "protocol", "keystore" or "crypto"
		),
		jobPayloadBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsm_job_payload_bytes_total",
				Help: "Total payload bytes transformed",
			},
			[]string{"worker", "op"},
		),
		keyExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsm_keystore_exports_total",
				Help: "Total number of key exports from the shared key store",
			},
			[]string{"worker", "outcome"},
		),
		requestQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hsm_request_queue_depth",
				Help: "Number of requests waiting in a worker's queue",
			},
			[]string{"worker"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// RecordJob records one completed job, successful or not.
func (m *Metrics) RecordJob(worker, op string, success bool, duration time.Duration, payloadBytes int) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.jobsTotal.WithLabelValues(worker, op, outcome).Inc()
	m.jobDuration.WithLabelValues(worker, op).Observe(duration.Seconds())
	m.jobPayloadBytes.WithLabelValues(worker, op).Add(float64(payloadBytes))
}

// RecordJobError records a job error under its taxonomy kind.
func (m *Metrics) RecordJobError(worker, kind string) {
	m.jobErrors.WithLabelValues(worker, kind).Inc()
}

// RecordKeyExport records a key-store export attempt.
func (m *Metrics) RecordKeyExport(worker string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.keyExportsTotal.WithLabelValues(worker, outcome).Inc()
}

// SetRequestQueueDepth records the current depth of a worker's request queue.
func (m *Metrics) SetRequestQueueDepth(worker string, depth int) {
	m.requestQueueDepth.WithLabelValues(worker).Set(float64(depth))
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
