package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/classifier"
	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
	"github.com/brunao23/GerenciaBH-sub000/internal/ingest"
	"github.com/brunao23/GerenciaBH-sub000/internal/processor"
	"github.com/brunao23/GerenciaBH-sub000/internal/tenant"
)

// Config holds the replay command configuration.
type Config struct {
	Inputs    []string // export files or directories holding them
	Tenant    string
	Table     string // SQLite table override; defaults to the tenant chat table
	StatePath string
	Since     time.Time
	Until     time.Time
	DryRun    bool
	Processor processor.Config
	Out       io.Writer
}

// FileSummary is the outcome of replaying one export.
type FileSummary struct {
	Path     string
	Source   string
	Date     string
	Rows     int
	Skipped  int
	Sessions int
	Leads    int
	Changed  int
	ByStatus map[classifier.Status]int
	Errors   int
}

// Runner replays exported chat histories through the pipeline.
type Runner struct {
	cfg     Config
	cleaner conversation.Cleaner
	writers processor.WriterFactory
	logger  *slog.Logger
}

// NewRunner creates a replay runner. writers is only used when DryRun is
// false and may be nil.
func NewRunner(cfg Config, cleaner conversation.Cleaner, writers processor.WriterFactory, logger *slog.Logger) *Runner {
	if cfg.Tenant == "" {
		cfg.Tenant = "replay"
	}
	if cfg.Processor.Tables == (tenant.Tables{}) {
		cfg.Processor.Tables = tenant.DefaultTables()
	}
	if cfg.Processor.Phones.MaxDigits == 0 {
		cfg.Processor.Phones = conversation.DefaultPhoneRules()
	}
	if cfg.Processor.Fetch == (ingest.Options{}) {
		cfg.Processor.Fetch = ingest.DefaultOptions()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, cleaner: cleaner, writers: writers, logger: logger}
}

type loadedFile struct {
	path    string
	source  FileSource
	rows    []conversation.RawMessageRow
	skipped int
	fp      fingerprint
}

// Run executes the replay and prints a summary to the configured writer.
func (r *Runner) Run(ctx context.Context) ([]FileSummary, error) {
	tc, err := tenant.Resolve(r.cfg.Tenant, r.cfg.Processor.Tables, r.cfg.Processor.Phones)
	if err != nil {
		return nil, err
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	paths, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "files", len(paths))

	var preferred, secondary []loadedFile
	for _, path := range paths {
		if state.IsProcessed(tc.ID, path) {
			continue
		}
		source, _ := sourceFor(path)
		rows, skipped, err := r.load(ctx, path, source, tc)
		if err != nil {
			r.logger.Warn("failed to load export", "path", path, "error", err)
			state.AddError(fmt.Sprintf("load %s: %v", path, err))
			continue
		}
		if len(rows) == 0 || !r.inDateRange(rows) {
			continue
		}
		lf := loadedFile{path: path, source: source, rows: rows, skipped: skipped, fp: buildFingerprint(path, source, rows)}
		if source == SourceSQLite {
			preferred = append(preferred, lf)
		} else {
			secondary = append(secondary, lf)
		}
	}

	// SQLite exports win over JSONL dumps of the same history.
	var preferredFPs, secondaryFPs []fingerprint
	for _, f := range preferred {
		preferredFPs = append(preferredFPs, f.fp)
	}
	for _, f := range secondary {
		secondaryFPs = append(secondaryFPs, f.fp)
	}
	duplicates := findDuplicates(preferredFPs, secondaryFPs)

	files := append([]loadedFile{}, preferred...)
	for _, f := range secondary {
		if duplicates[f.path] {
			r.logger.Info("skipping duplicate export", "path", f.path)
			state.MarkProcessed(tc.ID, f.path, len(f.rows))
			continue
		}
		files = append(files, f)
	}

	state.FilesRemaining = len(files)
	r.logger.Info("files to replay",
		"total", len(files),
		"sqlite", len(preferred),
		"jsonl_skipped", len(duplicates),
	)

	var writers processor.WriterFactory
	if !r.cfg.DryRun {
		writers = r.writers
	}

	var summaries []FileSummary
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			r.logger.Info("replay interrupted, saving state")
			_ = state.Save()
			return summaries, err
		}

		fs := FileSummary{
			Path:     f.path,
			Source:   f.source.String(),
			Rows:     len(f.rows),
			Skipped:  f.skipped,
			ByStatus: make(map[classifier.Status]int),
		}
		if ts := f.rows[0].StoredTimestamp; ts != nil {
			fs.Date = ts.In(conversation.BRT).Format("2006-01-02")
		}

		proc := processor.New(ingest.NewMemorySource(f.rows), nil, writers, r.cleaner, nil, r.cfg.Processor, r.logger)
		res, err := proc.Run(ctx, tc)
		if err != nil {
			r.logger.Error("replay failed", "path", f.path, "error", err)
			state.AddError(fmt.Sprintf("replay %s: %v", f.path, err))
			fs.Errors++
			summaries = append(summaries, fs)
			continue
		}

		fs.Sessions = len(res.Sessions)
		fs.Leads = len(res.Leads)
		fs.Changed = res.Changed
		for _, l := range res.Leads {
			fs.ByStatus[l.Decision.Status]++
		}
		if res.Degraded {
			fs.Errors++
		}
		summaries = append(summaries, fs)

		r.logger.Info("file replayed",
			"path", f.path,
			"rows", fs.Rows,
			"leads", fs.Leads,
			"changed", fs.Changed,
			"dry_run", r.cfg.DryRun,
		)

		state.RowsReplayed += fs.Rows
		state.LeadsClassified += fs.Leads
		state.StatusChanges += fs.Changed
		state.MarkProcessed(tc.ID, f.path, fs.Rows)
		state.FilesRemaining--
		_ = state.Save()
	}

	if err := state.Save(); err != nil {
		return summaries, fmt.Errorf("save state: %w", err)
	}

	fmt.Fprint(r.cfg.Out, FormatSummary(summaries))
	fmt.Fprintf(r.cfg.Out, "\nErrors: %d\n", len(state.Errors))
	if r.cfg.DryRun {
		fmt.Fprintf(r.cfg.Out, "Mode: DRY RUN (no status writes)\n")
	}
	fmt.Fprintf(r.cfg.Out, "State file: %s\n", state.Path())

	return summaries, nil
}

func (r *Runner) load(ctx context.Context, path string, source FileSource, tc tenant.Context) ([]conversation.RawMessageRow, int, error) {
	if source == SourceJSONL {
		return ParseJSONLFile(path)
	}
	src, err := OpenSQLite(path, r.cfg.Table)
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()

	// Replays read the whole export.
	opts := r.cfg.Processor.Fetch
	opts.MaxPages = math.MaxInt32
	rows, rep, err := ingest.NewFetcher(src, opts, r.logger).Fetch(ctx, tc.ChatTable)
	if err != nil {
		return nil, 0, err
	}
	if rep.Partial {
		return rows, 0, fmt.Errorf("partial read: %s", rep.Error)
	}
	return rows, 0, nil
}

// FormatSummary formats file summaries grouped by BRT date.
func FormatSummary(summaries []FileSummary) string {
	byDate := make(map[string][]FileSummary)
	for _, s := range summaries {
		date := s.Date
		if date == "" {
			date = "unknown"
		}
		byDate[date] = append(byDate[date], s)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	totals := make(map[classifier.Status]int)
	var sb strings.Builder
	sb.WriteString("=== Replay Summary ===\n")

	for _, date := range dates {
		files := byDate[date]
		leads, changed := 0, 0
		for _, f := range files {
			leads += f.Leads
			changed += f.Changed
		}
		fmt.Fprintf(&sb, "\n%s (%d files, %d leads, %d changed)\n", date, len(files), leads, changed)
		for _, f := range files {
			fmt.Fprintf(&sb, "  - %s [%s]: %d rows, %d leads", filepath.Base(f.Path), f.Source, f.Rows, f.Leads)
			if f.Skipped > 0 {
				fmt.Fprintf(&sb, " (%d bad lines)", f.Skipped)
			}
			if f.Errors > 0 {
				fmt.Fprintf(&sb, " (%d errors)", f.Errors)
			}
			sb.WriteString("\n")
			for st, n := range f.ByStatus {
				totals[st] += n
			}
		}
	}

	sb.WriteString("\nBy status:\n")
	for _, st := range classifier.All {
		if n := totals[st]; n > 0 {
			fmt.Fprintf(&sb, "  %-14s %d\n", st, n)
		}
	}
	return sb.String()
}

func (r *Runner) discoverFiles() ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if _, ok := sourceFor(path); ok && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, in := range r.cfg.Inputs {
		path := expandHome(in)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("input not found: %s", path)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if !info.IsDir() {
				add(p)
			}
			return nil
		})
		if err != nil {
			r.logger.Warn("error walking input dir", "dir", path, "error", err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// inDateRange checks if any row falls within the configured since/until range.
func (r *Runner) inDateRange(rows []conversation.RawMessageRow) bool {
	if r.cfg.Since.IsZero() && r.cfg.Until.IsZero() {
		return true
	}

	for _, row := range rows {
		ts := row.StoredTimestamp
		if ts == nil || ts.IsZero() {
			continue
		}
		if !r.cfg.Since.IsZero() && ts.Before(r.cfg.Since) {
			continue
		}
		if !r.cfg.Until.IsZero() && ts.After(r.cfg.Until) {
			continue
		}
		return true
	}
	return false
}
