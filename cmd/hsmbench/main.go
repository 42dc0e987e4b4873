// hsmbench drives an in-process core with synthetic crypto jobs and reports
// throughput and latency percentiles. It exists to size queue depths and to
// compare cipher paths on the target hardware.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/hsm-core/internal/crypto"
	"github.com/kenneth/hsm-core/internal/host"
	"github.com/kenneth/hsm-core/internal/jobs"
	"github.com/kenneth/hsm-core/internal/keystore"
	"github.com/kenneth/hsm-core/internal/metrics"
)

const benchKeyID keystore.KeyID = 1

type result struct {
	jobs      int
	errors    int
	bytes     int64
	latencies []time.Duration
}

func main() {
	var (
		duration    = flag.Duration("duration", 10*time.Second, "Benchmark duration")
		clients     = flag.Int("clients", 4, "Number of concurrent client goroutines")
		op          = flag.String("op", "aes-gcm", "Cipher path: aes-gcm, aes-cbc, or chachapoly")
		payloadSize = flag.Int("payload-size", 4096, "Payload size in bytes")
		queueDepth  = flag.Int("queue-depth", 64, "Per-worker request queue depth")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	encryptOp, decryptOp, err := resolveOps(*op)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	store := keystore.NewMemoryStore()
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		logger.WithError(err).Fatal("Failed to generate benchmark key")
	}
	if err := store.Put(keystore.KeyInfo{ID: benchKeyID, Type: keystore.Symmetric256Bits, Exportable: true}, material); err != nil {
		logger.WithError(err).Fatal("Failed to provision benchmark key")
	}

	core := host.New(keystore.NewShared(store), host.Options{
		QueueDepth:          *queueDepth,
		ChaChaPolyUsesStore: true,
		Logger:              logger,
		Metrics:             metrics.NewMetrics(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	coreDone := make(chan error, 1)
	go func() { coreDone <- core.Run(ctx) }()

	fmt.Println("=== HSM Core Benchmark ===")
	fmt.Printf("Cipher path:  %s\n", *op)
	fmt.Printf("Clients:      %d\n", *clients)
	fmt.Printf("Payload size: %d bytes\n", *payloadSize)
	fmt.Printf("Queue depth:  %d\n", *queueDepth)
	fmt.Printf("Duration:     %v\n", *duration)
	fmt.Println()

	// One collector drains the merged response stream; clients block on a
	// per-request ack channel keyed by client so latency covers the full
	// submit-to-response cycle.
	acks := make([]chan jobs.Response, *clients)
	for i := range acks {
		acks[i] = make(chan jobs.Response, 1)
	}
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for resp := range core.Responses() {
			acks[int(resp.ClientID)] <- resp
		}
	}()

	deadline := time.Now().Add(*duration)
	results := make([]result, *clients)
	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results[id] = runClient(ctx, core, jobs.ClientID(id), acks[id], encryptOp, decryptOp, *payloadSize, deadline)
		}(i)
	}
	wg.Wait()

	core.Close()
	cancel()
	<-coreDone
	<-collectorDone

	printResults(aggregate(results), *duration)
}

func resolveOps(op string) (encrypt, decrypt jobs.Op, err error) {
	switch op {
	case "aes-gcm":
		return jobs.OpEncryptAESGCM, jobs.OpDecryptAESGCM, nil
	case "aes-cbc":
		return jobs.OpEncryptAESCBC, jobs.OpDecryptAESCBC, nil
	case "chachapoly":
		return jobs.OpEncryptChaChaPoly, jobs.OpDecryptChaChaPoly, nil
	default:
		return 0, 0, fmt.Errorf("unknown op %q: must be aes-gcm, aes-cbc, or chachapoly", op)
	}
}

// runClient alternates encrypt and decrypt jobs over one payload buffer until
// the deadline passes.
func runClient(ctx context.Context, core *host.Core, id jobs.ClientID, ack <-chan jobs.Response, encryptOp, decryptOp jobs.Op, payloadSize int, deadline time.Time) result {
	res := result{}

	// CBC needs padding headroom; the AEAD paths use the payload prefix.
	buffer := make([]byte, payloadSize+16)
	rand.Read(buffer[:payloadSize])
	iv := make([]byte, 16)
	rand.Read(iv)
	tag := make([]byte, crypto.GCMTagSize)

	var requestID jobs.RequestID
	cbc := encryptOp == jobs.OpEncryptAESCBC

	submit := func(req jobs.Request) (jobs.Response, bool) {
		start := time.Now()
		if err := core.Submit(ctx, req); err != nil {
			return jobs.Response{}, false
		}
		resp := <-ack
		res.latencies = append(res.latencies, time.Since(start))
		res.jobs++
		if resp.Err != nil {
			res.errors++
		} else {
			res.bytes += int64(len(req.Buffer))
		}
		return resp, true
	}

	for time.Now().Before(deadline) {
		requestID++
		encReq := jobs.Request{
			Op: encryptOp, ClientID: id, RequestID: requestID, KeyID: benchKeyID,
		}
		if cbc {
			encReq.IV = iv
			encReq.Buffer = buffer
			encReq.PlaintextSize = payloadSize
		} else {
			encReq.IV = iv[:crypto.GCMIVSize]
			encReq.Buffer = buffer[:payloadSize]
			encReq.Tag = tag
		}
		encResp, ok := submit(encReq)
		if !ok {
			break
		}

		requestID++
		decReq := jobs.Request{
			Op: decryptOp, ClientID: id, RequestID: requestID, KeyID: benchKeyID,
		}
		if cbc {
			decReq.IV = iv
			decReq.Buffer = encResp.Buffer
		} else {
			decReq.IV = iv[:crypto.GCMIVSize]
			decReq.Buffer = buffer[:payloadSize]
			decReq.Tag = tag
		}
		if _, ok := submit(decReq); !ok {
			break
		}
	}
	return res
}

func aggregate(results []result) result {
	total := result{}
	for _, r := range results {
		total.jobs += r.jobs
		total.errors += r.errors
		total.bytes += r.bytes
		total.latencies = append(total.latencies, r.latencies...)
	}
	return total
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(total result, duration time.Duration) {
	sort.Slice(total.latencies, func(i, j int) bool { return total.latencies[i] < total.latencies[j] })

	seconds := duration.Seconds()
	fmt.Println("=== Results ===")
	fmt.Printf("Jobs:        %d (%d errors)\n", total.jobs, total.errors)
	fmt.Printf("Throughput:  %.0f jobs/s, %.2f MB/s\n",
		float64(total.jobs)/seconds, float64(total.bytes)/seconds/(1024*1024))
	fmt.Printf("Latency p50: %v\n", percentile(total.latencies, 0.50))
	fmt.Printf("Latency p95: %v\n", percentile(total.latencies, 0.95))
	fmt.Printf("Latency p99: %v\n", percentile(total.latencies, 0.99))

	if total.errors > 0 {
		os.Exit(1)
	}
}
