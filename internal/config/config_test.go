package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/hsm-core/internal/keystore"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 16, cfg.Workers.QueueDepth)
	assert.True(t, cfg.Workers.ChaChaPolyUseKeyStore)
	assert.False(t, cfg.Audit.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
log_level: debug
workers:
  queue_depth: 64
  chachapoly_use_key_store: false
key_store:
  keys:
    - id: 1
      type: symmetric-128
      material: "000102030405060708090a0b0c0d0e0f"
      exportable: true
audit:
  enabled: true
  max_events: 500
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.Workers.QueueDepth)
	assert.False(t, cfg.Workers.ChaChaPolyUseKeyStore)
	require.Len(t, cfg.KeyStore.Keys, 1)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 500, cfg.Audit.MaxEvents)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("WORKERS_QUEUE_DEPTH", "8")
	t.Setenv("AUDIT_ENABLED", "true")
	t.Setenv("SERVER_READ_TIMEOUT", "30s")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Workers.QueueDepth)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestKeyConfigDecode(t *testing.T) {
	t.Run("valid entry", func(t *testing.T) {
		material := make([]byte, 32)
		for i := range material {
			material[i] = byte(i)
		}
		kc := KeyConfig{ID: 5, Type: "symmetric-256", Material: hex.EncodeToString(material), Exportable: true}

		info, decoded, err := kc.Decode()
		require.NoError(t, err)
		assert.Equal(t, keystore.KeyID(5), info.ID)
		assert.Equal(t, keystore.Symmetric256Bits, info.Type)
		assert.True(t, info.Exportable)
		assert.Equal(t, material, decoded)
	})

	t.Run("unknown type", func(t *testing.T) {
		kc := KeyConfig{ID: 1, Type: "symmetric-512", Material: "00"}
		_, _, err := kc.Decode()
		assert.ErrorIs(t, err, keystore.ErrInvalidKeyType)
	})

	t.Run("invalid hex", func(t *testing.T) {
		kc := KeyConfig{ID: 1, Type: "symmetric-128", Material: "not-hex"}
		_, _, err := kc.Decode()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing listen addr", func(c *Config) { c.ListenAddr = "" }, "listen_addr is required"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log_level"},
		{"non-positive queue depth", func(c *Config) { c.Workers.QueueDepth = 0 }, "queue_depth must be positive"},
		{"duplicate key id", func(c *Config) {
			c.KeyStore.Keys = []KeyConfig{
				{ID: 1, Type: "symmetric-128", Material: "000102030405060708090a0b0c0d0e0f"},
				{ID: 1, Type: "symmetric-128", Material: "000102030405060708090a0b0c0d0e0f"},
			}
		}, "duplicate key id"},
		{"material size mismatch", func(c *Config) {
			c.KeyStore.Keys = []KeyConfig{{ID: 1, Type: "symmetric-256", Material: "00010203"}}
		}, "requires 32"},
		{"asymmetric material", func(c *Config) {
			c.KeyStore.Keys = []KeyConfig{{ID: 1, Type: "asymmetric-256", Material: "00"}}
		}, "cannot be provisioned"},
		{"audit without capacity", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.MaxEvents = 0
		}, "audit.max_events must be positive"},
		{"bad tracing exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, "invalid tracing.exporter"},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
			c.Tracing.OtlpEndpoint = ""
		}, "otlp_endpoint is required"},
		{"sampling ratio out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SamplingRatio = 1.5
		}, "sampling_ratio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := writeConfigFile(t, "listen_addr: [not, a, string]\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
