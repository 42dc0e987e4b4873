package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/hsm-core/internal/audit"
	"github.com/kenneth/hsm-core/internal/config"
	"github.com/kenneth/hsm-core/internal/host"
	"github.com/kenneth/hsm-core/internal/keystore"
	"github.com/kenneth/hsm-core/internal/metrics"
	"github.com/kenneth/hsm-core/internal/middleware"
	"github.com/kenneth/hsm-core/internal/selftest"
	"github.com/kenneth/hsm-core/internal/tracing"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level from config
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
	}).Info("Starting HSM core")

	// Initialize metrics
	m := metrics.NewMetrics()
	metrics.SetVersion(version)
	m.StartSystemMetricsCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up tracing")
	}

	// Initialize audit logger if enabled
	var auditLogger audit.Logger
	if cfg.Audit.Enabled {
		auditLogger = audit.NewLogger(cfg.Audit.MaxEvents, nil)
		logger.WithField("max_events", cfg.Audit.MaxEvents).Info("Audit logging enabled")
	}

	// Provision the key store from config
	store := keystore.NewMemoryStore()
	for _, keyCfg := range cfg.KeyStore.Keys {
		info, material, err := keyCfg.Decode()
		if err != nil {
			logger.WithError(err).Fatal("Failed to decode provisioned key")
		}
		if err := store.Put(info, material); err != nil {
			logger.WithError(err).Fatal("Failed to provision key")
		}
		// Drop the decoded copy as soon as the store holds its own
		for i := range material {
			material[i] = 0
		}
		logger.WithFields(logrus.Fields{
			"key_id":     info.ID,
			"key_type":   info.Type.String(),
			"exportable": info.Exportable,
		}).Info("Key provisioned")
		if auditLogger != nil {
			auditLogger.Log(&audit.Event{
				Timestamp: time.Now(),
				EventType: audit.EventTypeProvision,
				Operation: info.Type.String(),
				Success:   true,
			})
		}
	}
	logger.WithField("keys", store.Size()).Info("Key store ready")

	// Assemble the core and start the workers
	core := host.New(keystore.NewShared(store), host.Options{
		QueueDepth:          cfg.Workers.QueueDepth,
		ChaChaPolyUsesStore: cfg.Workers.ChaChaPolyUseKeyStore,
		Logger:              logger,
		Metrics:             m,
		Audit:               auditLogger,
	})

	coreDone := make(chan error, 1)
	go func() { coreDone <- core.Run(ctx) }()

	// Power-on self-test: refuse to serve if any cipher path is broken
	if err := selftest.Run(ctx, core, logger, auditLogger); err != nil {
		logger.WithError(err).Fatal("Power-on self-test failed")
	}
	logger.Info("Power-on self-test passed")

	// Config reloader: applies safe changes (log level, audit) at runtime
	reloader, err := config.NewConfigReloader(configPath, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create config reloader")
	}
	reloader.SetOnReloadCallback(func(old, new *config.Config) error {
		if old.LogLevel != new.LogLevel {
			if lvl, err := logrus.ParseLevel(new.LogLevel); err == nil {
				logger.SetLevel(lvl)
				logger.WithField("log_level", new.LogLevel).Info("Log level updated")
			}
		}
		return nil
	})
	go reloader.Start()
	defer reloader.Stop()

	// Admin surface: metrics and health endpoints
	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// Reached only after the self-test has passed
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}).Methods("GET")

	httpHandler := middleware.RecoveryMiddleware(logger)(router)
	httpHandler = middleware.LoggingMiddleware(logger)(httpHandler)
	httpHandler = middleware.SecurityHeadersMiddleware()(httpHandler)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpHandler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("Starting admin server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start admin server")
		}
	}()

	// Wait for interrupt signal or core failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("Shutting down...")
	case err := <-coreDone:
		if err != nil {
			logger.WithError(err).Error("Core stopped unexpectedly")
		}
	}

	// Graceful shutdown: stop accepting jobs, drain the workers, flush traces
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Admin server forced to shutdown")
	}

	core.Close()
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	logger.Info("Stopped")
}
