package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	events []*Event
}

func (w *captureWriter) WriteEvent(event *Event) error {
	w.events = append(w.events, event)
	return nil
}

type failingWriter struct{}

func (failingWriter) WriteEvent(*Event) error { return errors.New("sink unavailable") }

func TestLogJob(t *testing.T) {
	writer := &captureWriter{}
	logger := NewLogger(10, writer)

	logger.LogJob("aes", "encrypt_aes_gcm", 1, 100, true, nil, 3*time.Millisecond)
	logger.LogJob("aes", "decrypt_aes_gcm", 1, 101, false, errors.New("verification failed"), time.Millisecond)

	events := logger.Events()
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeJob, events[0].EventType)
	assert.Equal(t, "aes", events[0].Worker)
	assert.Equal(t, "encrypt_aes_gcm", events[0].Operation)
	assert.Equal(t, uint32(100), events[0].RequestID)
	assert.True(t, events[0].Success)
	assert.Empty(t, events[0].Error)

	assert.False(t, events[1].Success)
	assert.Equal(t, "verification failed", events[1].Error)

	assert.Len(t, writer.events, 2)
}

func TestBoundedRetention(t *testing.T) {
	logger := NewLogger(3, &captureWriter{})

	for i := 0; i < 5; i++ {
		logger.LogJob("aes", "encrypt_aes_gcm", 1, uint32(i), true, nil, 0)
	}

	events := logger.Events()
	require.Len(t, events, 3)
	// Oldest events are evicted first.
	assert.Equal(t, uint32(2), events[0].RequestID)
	assert.Equal(t, uint32(4), events[2].RequestID)
}

func TestFailingWriterDoesNotLoseEvents(t *testing.T) {
	logger := NewLogger(10, failingWriter{})

	logger.LogJob("chachapoly", "encrypt_chachapoly", 2, 7, true, nil, 0)
	require.Len(t, logger.Events(), 1)
}

func TestEventsReturnsCopy(t *testing.T) {
	logger := NewLogger(10, &captureWriter{})
	logger.LogJob("aes", "encrypt_aes_gcm", 1, 1, true, nil, 0)

	events := logger.Events()
	events[0] = nil

	require.NotNil(t, logger.Events()[0])
}
