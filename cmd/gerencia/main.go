package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/api"
	"github.com/brunao23/GerenciaBH-sub000/internal/config"
	"github.com/brunao23/GerenciaBH-sub000/internal/hermes"
	"github.com/brunao23/GerenciaBH-sub000/internal/ingest"
	"github.com/brunao23/GerenciaBH-sub000/internal/processor"
	"github.com/brunao23/GerenciaBH-sub000/internal/sanitize"
	"github.com/brunao23/GerenciaBH-sub000/internal/statuswriter"
	"github.com/brunao23/GerenciaBH-sub000/internal/store"
	"github.com/brunao23/GerenciaBH-sub000/internal/telemetry"
	"github.com/brunao23/GerenciaBH-sub000/internal/tenant"
)

var version = "dev"

var errNATSDisconnected = errors.New("nats disconnected")

func main() {
	cfg := config.Load()
	slog.SetDefault(telemetry.NewLogger(os.Stdout, cfg.LogLevel))

	slog.Info("gerencia starting", "port", cfg.Port, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (optional)
	tel, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName, version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = tel.Shutdown(shutdownCtx)
	}()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Sanitizer markers
	markers, err := sanitize.LoadMarkers(cfg.MarkersFile)
	if err != nil {
		slog.Error("failed to load markers", "path", cfg.MarkersFile, "error", err)
		os.Exit(1)
	}
	cleaner, err := sanitize.New(markers)
	if err != nil {
		slog.Error("invalid markers", "error", err)
		os.Exit(1)
	}

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Status writer
	writer := statuswriter.New(db, hermesClient, statuswriter.Options{
		QueueSize:       cfg.StatusQueueSize,
		WritesPerSecond: cfg.StatusWritesPerSecond,
	}, slog.Default())
	writer.Start(ctx)

	// Processor
	proc := processor.New(db, db, writer, cleaner, hermesClient, processor.Config{
		Fetch: ingest.Options{
			PageSize:     cfg.FetchPageSize,
			MaxPages:     cfg.FetchMaxPages,
			Concurrency:  cfg.FetchConcurrency,
			PreferRecent: cfg.FetchPreferRecent,
		},
		ManualWindow:       cfg.ManualOverrideWindow,
		DuplicateThreshold: cfg.DuplicateThreshold,
		RunTimeout:         cfg.RequestTimeout,
		Tables: tenant.Tables{
			ChatSuffix:     cfg.ChatTableSuffix,
			StatusSuffix:   cfg.StatusTableSuffix,
			FollowUpSuffix: cfg.FollowUpTableSuffix,
		},
	}, slog.Default())

	// Reclassify a tenant whenever new chat rows land.
	if err := hermesClient.Subscribe(hermes.SubjectRowsIngested, proc.HandleRowsIngested); err != nil {
		slog.Error("failed to subscribe to ingest events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	checks := map[string]api.HealthCheck{
		"postgres": db.Ping,
		"nats": func(context.Context) error {
			if !hermesClient.Connected() {
				return errNATSDisconnected
			}
			return nil
		},
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, cfg.RequestTimeout, proc, checks, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("gerencia ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down", "pending_writes", writer.Pending())
	writer.Close()
	cancel()
	slog.Info("gerencia stopped", "writes", writer.Stats())
}
