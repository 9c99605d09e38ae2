// Package ingest fetches a tenant's chat rows page by page.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
)

var (
	// ErrNoRows is returned by RowSource.Bounds for an empty table.
	ErrNoRows = errors.New("no rows")
	// ErrMissingColumn marks a page error caused by an optional column that
	// does not exist in the tenant's table.
	ErrMissingColumn = errors.New("optional column missing")
)

// IDRange is an inclusive range of row ids.
type IDRange struct {
	Min int64
	Max int64
}

// PageQuery selects rows with FromID <= id <= ToID.
type PageQuery struct {
	Table         string
	FromID        int64
	ToID          int64
	WithCreatedAt bool
}

// RowSource is a paginated, read-only chat row store.
type RowSource interface {
	Bounds(ctx context.Context, table string) (IDRange, error)
	Page(ctx context.Context, q PageQuery) ([]conversation.RawMessageRow, error)
}

// Options bound the fetch.
type Options struct {
	PageSize     int
	MaxPages     int
	Concurrency  int
	PreferRecent bool
}

// DefaultOptions returns the stock fetch limits.
func DefaultOptions() Options {
	return Options{PageSize: 1000, MaxPages: 50, Concurrency: 4, PreferRecent: true}
}

// Report describes how complete a fetch was.
type Report struct {
	Bounds       IDRange `json:"bounds"`
	Pages        int     `json:"pages"`
	PagesFetched int     `json:"pages_fetched"`
	Rows         int     `json:"rows"`
	Truncated    bool    `json:"truncated"`
	Partial      bool    `json:"partial"`
	ColumnRetry  bool    `json:"column_retry"`
	Error        string  `json:"error,omitempty"`
}

// Fetcher reads every page of a table with bounded parallelism.
type Fetcher struct {
	src    RowSource
	opts   Options
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. Zero option fields take their defaults.
func NewFetcher(src RowSource, opts Options, logger *slog.Logger) *Fetcher {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{src: src, opts: opts, logger: logger}
}

// Fetch returns the table's rows in ascending id order. Only a failure to
// read the id bounds is returned as an error; page failures stop paging and
// yield the rows collected so far with Report.Partial set.
func (f *Fetcher) Fetch(ctx context.Context, table string) ([]conversation.RawMessageRow, Report, error) {
	var rep Report

	bounds, err := f.src.Bounds(ctx, table)
	if errors.Is(err, ErrNoRows) {
		return nil, rep, nil
	}
	if err != nil {
		return nil, rep, fmt.Errorf("read bounds of %s: %w", table, err)
	}
	rep.Bounds = bounds

	ranges := f.plan(bounds)
	rep.Pages = len(ranges)
	if total := pageCount(bounds, f.opts.PageSize); total > len(ranges) {
		rep.Truncated = true
		f.logger.Warn("page ceiling reached", "table", table, "pages", total, "fetching", len(ranges), "prefer_recent", f.opts.PreferRecent)
	}

	var noCreatedAt atomic.Bool
	var retried atomic.Bool
	results := make([][]conversation.RawMessageRow, len(ranges))
	done := make([]bool, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, r := range ranges {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			q := PageQuery{Table: table, FromID: r.Min, ToID: r.Max, WithCreatedAt: !noCreatedAt.Load()}
			rows, err := f.src.Page(gctx, q)
			if err != nil && q.WithCreatedAt && errors.Is(err, ErrMissingColumn) {
				noCreatedAt.Store(true)
				retried.Store(true)
				q.WithCreatedAt = false
				rows, err = f.src.Page(gctx, q)
			}
			if err != nil {
				return fmt.Errorf("page %d-%d: %w", r.Min, r.Max, err)
			}
			results[i] = rows
			done[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rep.Partial = true
		rep.Error = err.Error()
		f.logger.Warn("fetch incomplete, continuing with partial rows", "table", table, "error", err)
	}
	rep.ColumnRetry = retried.Load()

	var rows []conversation.RawMessageRow
	for i := range results {
		if done[i] {
			rep.PagesFetched++
			rows = append(rows, results[i]...)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SequenceID < rows[j].SequenceID
	})
	rep.Rows = len(rows)

	f.logger.Debug("fetch complete", "table", table, "rows", rep.Rows, "pages", rep.PagesFetched, "partial", rep.Partial)
	return rows, rep, nil
}

// plan splits bounds into page ranges, keeping at most MaxPages of them.
func (f *Fetcher) plan(b IDRange) []IDRange {
	size := int64(f.opts.PageSize)
	n := pageCount(b, f.opts.PageSize)
	start := 0
	if n > f.opts.MaxPages {
		if f.opts.PreferRecent {
			start = n - f.opts.MaxPages
		}
		n = f.opts.MaxPages
	}
	ranges := make([]IDRange, 0, n)
	for i := start; i < start+n; i++ {
		lo := b.Min + int64(i)*size
		hi := lo + size - 1
		if hi > b.Max {
			hi = b.Max
		}
		ranges = append(ranges, IDRange{Min: lo, Max: hi})
	}
	return ranges
}

func pageCount(b IDRange, pageSize int) int {
	if b.Max < b.Min {
		return 0
	}
	span := b.Max - b.Min + 1
	size := int64(pageSize)
	return int((span + size - 1) / size)
}
