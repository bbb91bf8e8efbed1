package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"codelab-exec/internal/api"
	"codelab-exec/internal/config"
	"codelab-exec/internal/gateway"
	"codelab-exec/internal/harness"
	"codelab-exec/internal/language"
	"codelab-exec/internal/monitor"
	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/storage"
	"codelab-exec/internal/validator"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metrics := monitor.NewMetrics()

	languages := language.NewRegistry()

	// Isolation backend (auto-detects containerd vs Docker)
	runtime, err := sandbox.NewContainerRuntime(ctx, sandbox.BackendConfig{
		Backend:          cfg.Sandbox.Backend,
		ContainerdSocket: cfg.Sandbox.ContainerdSocket,
		Namespace:        cfg.Sandbox.Namespace,
		KillGrace:        cfg.Sandbox.KillGrace,
	})
	if err != nil {
		log.Warn().Err(err).Msg("no isolation backend available (execution will fail)")
		// Continue startup so health/metrics endpoints work for debugging
	}

	var orch *sandbox.Orchestrator
	if runtime != nil {
		orch = sandbox.NewOrchestrator(runtime, languages, sandbox.OrchestratorConfig{
			ProvisionRetries: cfg.Sandbox.ProvisionRetries,
			RetryBackoff:     cfg.Sandbox.RetryBackoff,
			SweepInterval:    cfg.Sandbox.SweepInterval,
			SandboxTTL:       cfg.Sandbox.SandboxTTL,
			OnProvisionRetry: func() { metrics.ProvisionRetries.Inc() },
			OnSweepReclaim:   func(n int) { metrics.SweepReclaimed.Add(float64(n)) },
		})
		orch.StartSweeper()
	}

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	// Initialize audit writer (buffered, reliable logging)
	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, 10000)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	scanner := validator.New(validator.Config{
		MaxCodeLength: cfg.Validator.MaxCodeLength,
		BlockSeverity: cfg.BlockSeverity(),
	})

	testHarness := harness.New(harness.Config{
		CaseTimeout:   cfg.Harness.CaseTimeout,
		StopOnFailure: cfg.Harness.StopOnFailure,
	})

	gw := gateway.New(scanner, orch, testHarness, metrics, gateway.Config{
		MaxConcurrent:   cfg.Sandbox.MaxConcurrent,
		AdmissionPolicy: gateway.AdmissionPolicy(cfg.Sandbox.AdmissionPolicy),
		QueueWait:       cfg.Sandbox.QueueWait,
		DefaultLimits:   cfg.Limits.Defaults,
		MaxLimits:       cfg.Limits.Maxima,
		AllowNetwork:    cfg.Sandbox.AllowNetwork,
	})

	handlers := api.NewHandlers(gw, languages, db, auditWriter, metrics, cfg.Limits.Defaults, cfg.Limits.Maxima)
	server := api.NewServer(cfg, handlers, runtime, db, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		if orch != nil {
			if err := orch.Close(); err != nil {
				log.Error().Err(err).Msg("orchestrator close error")
			}
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("runtime_available", runtime != nil).
		Strs("languages", languages.Names()).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
