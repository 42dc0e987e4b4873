package host

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/hsm-core/internal/crypto"
	"github.com/kenneth/hsm-core/internal/jobs"
	"github.com/kenneth/hsm-core/internal/keystore"
)

const testKeyID keystore.KeyID = 1

func newTestCore(t *testing.T, opts Options) *Core {
	t.Helper()

	store := keystore.NewMemoryStore()
	material := make([]byte, 32)
	for i := range material {
		material[i] = byte(i + 1)
	}
	require.NoError(t, store.Put(keystore.KeyInfo{ID: testKeyID, Type: keystore.Symmetric256Bits, Exportable: true}, material))

	if opts.Logger == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		opts.Logger = log
	}
	return New(keystore.NewShared(store), opts)
}

// startCore runs the core and returns a stop function that drains it cleanly.
func startCore(t *testing.T, c *Core) (stop func()) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Run(context.Background()))
	}()
	return func() {
		c.Close()
		wg.Wait()
	}
}

func collectResponse(t *testing.T, c *Core) jobs.Response {
	t.Helper()
	select {
	case resp := <-c.Responses():
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered")
		return jobs.Response{}
	}
}

func TestCoreRoutesAcrossWorkers(t *testing.T) {
	c := newTestCore(t, Options{ChaChaPolyUsesStore: true})
	stop := startCore(t, c)
	defer stop()

	ctx := context.Background()

	t.Run("aes gcm", func(t *testing.T) {
		plaintext := []byte("routed to the aes worker")
		buffer := append([]byte(nil), plaintext...)
		iv := make([]byte, crypto.GCMIVSize)
		tag := make([]byte, crypto.GCMTagSize)

		require.NoError(t, c.Submit(ctx, jobs.Request{
			Op: jobs.OpEncryptAESGCM, RequestID: 1, KeyID: testKeyID, IV: iv, Buffer: buffer, Tag: tag,
		}))
		resp := collectResponse(t, c)
		require.NoError(t, resp.Err)
		assert.Equal(t, jobs.RequestID(1), resp.RequestID)

		require.NoError(t, c.Submit(ctx, jobs.Request{
			Op: jobs.OpDecryptAESGCM, RequestID: 2, KeyID: testKeyID, IV: iv, Buffer: buffer, Tag: tag,
		}))
		resp = collectResponse(t, c)
		require.NoError(t, resp.Err)
		assert.Equal(t, plaintext, resp.Buffer)
	})

	t.Run("chachapoly", func(t *testing.T) {
		plaintext := []byte("routed to the chachapoly worker")
		buffer := append([]byte(nil), plaintext...)
		nonce := make([]byte, crypto.ChaChaPolyNonceSize)
		tag := make([]byte, crypto.ChaChaPolyTagSize)

		require.NoError(t, c.Submit(ctx, jobs.Request{
			Op: jobs.OpEncryptChaChaPoly, RequestID: 3, KeyID: testKeyID, IV: nonce, Buffer: buffer, Tag: tag,
		}))
		resp := collectResponse(t, c)
		require.NoError(t, resp.Err)

		require.NoError(t, c.Submit(ctx, jobs.Request{
			Op: jobs.OpDecryptChaChaPoly, RequestID: 4, KeyID: testKeyID, IV: nonce, Buffer: buffer, Tag: tag,
		}))
		resp = collectResponse(t, c)
		require.NoError(t, resp.Err)
		assert.Equal(t, plaintext, resp.Buffer)
	})
}

func TestCoreWithholdsStoreFromChaChaPoly(t *testing.T) {
	c := newTestCore(t, Options{ChaChaPolyUsesStore: false})
	stop := startCore(t, c)
	defer stop()

	require.NoError(t, c.Submit(context.Background(), jobs.Request{
		Op: jobs.OpEncryptChaChaPoly, KeyID: testKeyID,
		IV:     make([]byte, crypto.ChaChaPolyNonceSize),
		Buffer: []byte("payload"),
		Tag:    make([]byte, crypto.ChaChaPolyTagSize),
	}))
	resp := collectResponse(t, c)
	require.Error(t, resp.Err)
	assert.ErrorIs(t, resp.Err, jobs.ErrNoKeyStore)
}

func TestCoreAnswersUnroutableVariant(t *testing.T) {
	c := newTestCore(t, Options{})
	stop := startCore(t, c)
	defer stop()

	require.NoError(t, c.Submit(context.Background(), jobs.Request{
		Op: jobs.OpGenerateRandom, ClientID: 5, RequestID: 6,
	}))
	resp := collectResponse(t, c)
	require.Error(t, resp.Err)
	assert.ErrorIs(t, resp.Err, jobs.ErrUnexpectedRequestType)
	assert.Equal(t, jobs.ClientID(5), resp.ClientID)
	assert.Equal(t, jobs.RequestID(6), resp.RequestID)
}

func TestCoreOneResponsePerRequest(t *testing.T) {
	c := newTestCore(t, Options{QueueDepth: 32, ChaChaPolyUsesStore: true})
	stop := startCore(t, c)
	defer stop()

	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		op := jobs.OpEncryptAESGCM
		if i%2 == 1 {
			op = jobs.OpEncryptChaChaPoly
		}
		require.NoError(t, c.Submit(ctx, jobs.Request{
			Op: op, RequestID: jobs.RequestID(i), KeyID: testKeyID,
			IV:     make([]byte, crypto.GCMIVSize),
			Buffer: make([]byte, 64),
			Tag:    make([]byte, crypto.GCMTagSize),
		}))
	}

	seen := make(map[jobs.RequestID]bool, n)
	for i := 0; i < n; i++ {
		resp := collectResponse(t, c)
		require.NoError(t, resp.Err)
		assert.False(t, seen[resp.RequestID], "request %d answered twice", resp.RequestID)
		seen[resp.RequestID] = true
	}
	assert.Len(t, seen, n)
}

func TestCoreSubmitHonoursContext(t *testing.T) {
	// Core not running: the queue fills and Submit must respect cancellation.
	c := newTestCore(t, Options{QueueDepth: 1})

	ctx := context.Background()
	require.NoError(t, c.Submit(ctx, jobs.Request{Op: jobs.OpEncryptAESGCM}))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := c.Submit(cancelled, jobs.Request{Op: jobs.OpEncryptAESGCM})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoreCloseDrainsAndStops(t *testing.T) {
	c := newTestCore(t, Options{})

	require.NoError(t, c.Submit(context.Background(), jobs.Request{
		Op: jobs.OpEncryptAESGCM, RequestID: 9, KeyID: testKeyID,
		IV:     make([]byte, crypto.GCMIVSize),
		Buffer: []byte("drained before shutdown"),
		Tag:    make([]byte, crypto.GCMTagSize),
	}))
	c.Close()

	require.NoError(t, c.Run(context.Background()))

	resp := collectResponse(t, c)
	require.NoError(t, resp.Err)
	assert.Equal(t, jobs.RequestID(9), resp.RequestID)
}
