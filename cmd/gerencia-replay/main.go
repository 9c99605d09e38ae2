package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/config"
	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
	"github.com/brunao23/GerenciaBH-sub000/internal/ingest"
	"github.com/brunao23/GerenciaBH-sub000/internal/processor"
	"github.com/brunao23/GerenciaBH-sub000/internal/replay"
	"github.com/brunao23/GerenciaBH-sub000/internal/sanitize"
	"github.com/brunao23/GerenciaBH-sub000/internal/statuswriter"
	"github.com/brunao23/GerenciaBH-sub000/internal/store"
	"github.com/brunao23/GerenciaBH-sub000/internal/telemetry"
	"github.com/brunao23/GerenciaBH-sub000/internal/tenant"
)

func main() {
	var (
		tenantID  = flag.String("tenant", "replay", "tenant id used for table names and status writes")
		table     = flag.String("table", "", "SQLite table to read (default: <tenant>_<chat suffix>)")
		statePath = flag.String("state", replay.DefaultStatePath, "resumable state file")
		since     = flag.String("since", "", "only replay exports with rows at or after this date (YYYY-MM-DD)")
		until     = flag.String("until", "", "only replay exports with rows at or before this date (YYYY-MM-DD)")
		write     = flag.Bool("write", false, "write changed statuses to DATABASE_URL (default is a dry run)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: gerencia-replay [flags] <export file or dir>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := telemetry.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := replay.Config{
		Inputs:    flag.Args(),
		Tenant:    *tenantID,
		Table:     *table,
		StatePath: *statePath,
		DryRun:    !*write,
		Processor: processor.Config{
			Fetch: ingest.Options{
				PageSize:    cfg.FetchPageSize,
				Concurrency: cfg.FetchConcurrency,
			},
			ManualWindow:       cfg.ManualOverrideWindow,
			DuplicateThreshold: cfg.DuplicateThreshold,
			RunTimeout:         cfg.RequestTimeout,
			Tables: tenant.Tables{
				ChatSuffix:     cfg.ChatTableSuffix,
				StatusSuffix:   cfg.StatusTableSuffix,
				FollowUpSuffix: cfg.FollowUpTableSuffix,
			},
		},
		Out: os.Stdout,
	}
	var err error
	if rc.Since, err = parseDate(*since, false); err != nil {
		slog.Error("invalid -since", "error", err)
		os.Exit(2)
	}
	if rc.Until, err = parseDate(*until, true); err != nil {
		slog.Error("invalid -until", "error", err)
		os.Exit(2)
	}

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

	var writers processor.WriterFactory
	var writer *statuswriter.Writer
	if *write {
		if cfg.DatabaseURL == "" {
			slog.Error("DATABASE_URL is required with -write")
			os.Exit(1)
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		writer = statuswriter.New(db, nil, statuswriter.Options{
			QueueSize:       cfg.StatusQueueSize,
			WritesPerSecond: cfg.StatusWritesPerSecond,
		}, logger)
		writer.Start(ctx)
		writers = writer
	}

	_, runErr := replay.NewRunner(rc, cleaner, writers, logger).Run(ctx)
	if writer != nil {
		writer.Close()
		slog.Info("status writes", "stats", writer.Stats())
	}
	if runErr != nil {
		slog.Error("replay failed", "error", runErr)
		os.Exit(1)
	}
}

// parseDate reads a YYYY-MM-DD date in BRT. endOfDay moves it to the last
// instant of that day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, conversation.BRT)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
