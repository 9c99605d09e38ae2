package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brunao23/GerenciaBH-sub000/internal/analytics"
	"github.com/brunao23/GerenciaBH-sub000/internal/classifier"
	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
	"github.com/brunao23/GerenciaBH-sub000/internal/hermes"
	"github.com/brunao23/GerenciaBH-sub000/internal/ingest"
	"github.com/brunao23/GerenciaBH-sub000/internal/leads"
	"github.com/brunao23/GerenciaBH-sub000/internal/telemetry"
	"github.com/brunao23/GerenciaBH-sub000/internal/tenant"
)

// StatusSource reads stored statuses and follow-up campaigns.
type StatusSource interface {
	LoadStatuses(ctx context.Context, table string) (map[string]classifier.StoredStatus, error)
	LoadActiveFollowUps(ctx context.Context, table string) ([]classifier.FollowUpRecord, error)
}

// WriterFactory hands out a status writer bound to a tenant.
type WriterFactory interface {
	For(tc tenant.Context) classifier.StatusWriter
}

// Config tunes a Processor.
type Config struct {
	Fetch              ingest.Options
	ManualWindow       time.Duration
	DuplicateThreshold float64
	RunTimeout         time.Duration
	Tables             tenant.Tables
	Phones             conversation.PhoneRules
	Now                func() time.Time
}

// Processor runs the conversation pipeline for one tenant at a time.
type Processor struct {
	rows     ingest.RowSource
	statuses StatusSource
	writers  WriterFactory
	cleaner  conversation.Cleaner
	hermes   hermes.Publisher
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Result is everything one run produced.
type Result struct {
	RunID       string                 `json:"run_id"`
	Tenant      string                 `json:"tenant"`
	GeneratedAt time.Time              `json:"generated_at"`
	Fetch       ingest.Report          `json:"fetch"`
	Stats       conversation.Stats     `json:"stats"`
	Sessions    []conversation.Session `json:"sessions"`
	Leads       []leads.Classified     `json:"-"`
	Merge       leads.MergeResult      `json:"merge"`
	Board       leads.Board            `json:"board"`
	Analytics   analytics.Summary      `json:"analytics"`
	Changed     int                    `json:"changed"`
	Degraded    bool                   `json:"degraded"`
}

// Session returns the aggregated session with the given id.
func (r *Result) Session(id string) (conversation.Session, bool) {
	for _, s := range r.Sessions {
		if s.SessionID == id {
			return s, true
		}
	}
	return conversation.Session{}, false
}

// New creates a Processor. statuses, writers and pub may be nil: without a
// status source every lead is classified from its conversation alone, and
// without writers status changes are discarded.
func New(rows ingest.RowSource, statuses StatusSource, writers WriterFactory, cleaner conversation.Cleaner, pub hermes.Publisher, cfg Config, logger *slog.Logger) *Processor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tables == (tenant.Tables{}) {
		cfg.Tables = tenant.DefaultTables()
	}
	if cfg.Phones.MaxDigits == 0 {
		cfg.Phones = conversation.DefaultPhoneRules()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		rows:     rows,
		statuses: statuses,
		writers:  writers,
		cleaner:  cleaner,
		hermes:   pub,
		cfg:      cfg,
		logger:   logger,
		tracer:   telemetry.Tracer(),
	}
}

// Resolve turns a tenant id into a tenant.Context using the processor's
// table suffixes and phone rules.
func (p *Processor) Resolve(id string) (tenant.Context, error) {
	return tenant.Resolve(id, p.cfg.Tables, p.cfg.Phones)
}

// Run fetches, aggregates, merges and classifies one tenant's conversations.
// Only a failure to reach the chat table is returned as an error; every
// other anomaly degrades the result.
func (p *Processor) Run(ctx context.Context, tc tenant.Context) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.New().String(), Tenant: tc.ID, GeneratedAt: p.cfg.Now()}

	ctx = telemetry.WithFields(ctx, telemetry.Fields{Tenant: tc.ID, RunID: res.RunID})
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("tenant", tc.ID),
		attribute.String("run_id", res.RunID),
	))
	defer span.End()

	// 1. Fetch
	rows, err := p.fetch(ctx, tc, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	// 2. Aggregate
	_, aggSpan := p.tracer.Start(ctx, "pipeline.aggregate")
	agg := conversation.NewAggregator(p.cleaner, conversation.Options{
		DuplicateThreshold: p.cfg.DuplicateThreshold,
		Phones:             tc.Phones,
		Now:                p.cfg.Now,
	}, p.logger)
	res.Sessions, res.Stats = agg.AggregateAll(rows)
	aggSpan.SetAttributes(
		attribute.Int("sessions", len(res.Sessions)),
		attribute.Int("malformed", res.Stats.Malformed),
		attribute.Int("dropped", res.Stats.Dropped),
	)
	aggSpan.End()

	// 3. Merge by phone
	identities, merge := leads.Merge(res.Sessions)
	res.Merge = merge

	// 4. Classify
	res.Leads, res.Changed = p.classify(ctx, tc, identities, res)

	// 5. Board and analytics
	res.Board = leads.BuildBoard(res.Leads)
	res.Analytics = analytics.Rollup(res.Leads, res.GeneratedAt)

	span.SetAttributes(
		attribute.Int("rows", res.Fetch.Rows),
		attribute.Int("leads", len(res.Leads)),
		attribute.Int("changed", res.Changed),
		attribute.Bool("degraded", res.Degraded),
	)
	p.logger.InfoContext(ctx, "pipeline complete",
		"rows", res.Fetch.Rows,
		"sessions", len(res.Sessions),
		"leads", len(res.Leads),
		"merged", res.Merge.Merged,
		"changed", res.Changed,
		"partial", res.Fetch.Partial,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	p.publishCompleted(ctx, res, time.Since(start))
	return res, nil
}

func (p *Processor) fetch(ctx context.Context, tc tenant.Context, res *Result) ([]conversation.RawMessageRow, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	rows, rep, err := ingest.NewFetcher(p.rows, p.cfg.Fetch, p.logger).Fetch(ctx, tc.ChatTable)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetch %s: %w", tc.ID, err)
	}
	res.Fetch = rep
	res.Degraded = rep.Partial || rep.Truncated
	span.SetAttributes(
		attribute.Int("rows", rep.Rows),
		attribute.Int("pages", rep.PagesFetched),
		attribute.Bool("partial", rep.Partial),
	)
	return rows, nil
}

func (p *Processor) classify(ctx context.Context, tc tenant.Context, ids []leads.Identity, res *Result) ([]leads.Classified, int) {
	ctx, span := p.tracer.Start(ctx, "pipeline.classify")
	defer span.End()

	stored, followUps := p.loadStatuses(ctx, tc, res)

	var writer classifier.StatusWriter = classifier.NopWriter{}
	if p.writers != nil {
		writer = p.writers.For(tc)
	}
	cl := classifier.New(classifier.Config{ManualWindow: p.cfg.ManualWindow, Now: p.cfg.Now}, writer, p.logger)

	items := make([]leads.Classified, 0, len(ids))
	changed := 0
	for _, id := range ids {
		in := classifier.Input{Session: id.Session}
		if st, ok := stored[id.Session.LeadID()]; ok {
			in.Stored = &st
		}
		if id.NormalizedPhone != "" {
			if fu, ok := followUps[id.NormalizedPhone]; ok {
				in.FollowUp = &fu
			}
		}
		d := cl.Classify(ctx, in)
		if d.Changed {
			changed++
		}
		items = append(items, leads.Classified{Identity: id, Decision: d})
	}
	span.SetAttributes(attribute.Int("leads", len(items)), attribute.Int("changed", changed))
	return items, changed
}

// loadStatuses reads stored statuses and follow-ups keyed the way sessions
// are keyed. Failures leave the maps empty.
func (p *Processor) loadStatuses(ctx context.Context, tc tenant.Context, res *Result) (map[string]classifier.StoredStatus, map[string]classifier.FollowUpRecord) {
	stored := make(map[string]classifier.StoredStatus)
	followUps := make(map[string]classifier.FollowUpRecord)
	if p.statuses == nil {
		return stored, followUps
	}

	raw, err := p.statuses.LoadStatuses(ctx, tc.StatusTable)
	if err != nil {
		res.Degraded = true
		p.logger.WarnContext(ctx, "failed to load stored statuses", "error", err)
	}
	for id, st := range raw {
		key := id
		if !strings.HasPrefix(id, "session:") {
			if phone := tc.Phones.Normalize(id); phone != "" {
				key = phone
			}
		}
		st.LeadID = key
		stored[key] = st
	}

	active, err := p.statuses.LoadActiveFollowUps(ctx, tc.FollowUpTable)
	if err != nil {
		res.Degraded = true
		p.logger.WarnContext(ctx, "failed to load follow-ups", "error", err)
	}
	for _, f := range active {
		if phone := tc.Phones.Normalize(f.PhoneNumber); phone != "" {
			followUps[phone] = f
		}
	}
	return stored, followUps
}

func (p *Processor) publishCompleted(ctx context.Context, res *Result, elapsed time.Duration) {
	if p.hermes == nil {
		return
	}
	ev := hermes.PipelineCompletedEvent{
		RunID:      res.RunID,
		Tenant:     res.Tenant,
		Rows:       res.Fetch.Rows,
		Sessions:   len(res.Sessions),
		Leads:      len(res.Leads),
		Changed:    res.Changed,
		Partial:    res.Degraded,
		DurationMS: elapsed.Milliseconds(),
		At:         res.GeneratedAt,
	}
	if err := p.hermes.Publish(hermes.SubjectPipelineCompleted, ev); err != nil {
		p.logger.WarnContext(ctx, "failed to publish pipeline completion", "error", err)
	}
}

// HandleRowsIngested is the NATS handler for gerencia.chat.rows.ingested.
// It refreshes the tenant so auto-classified statuses follow new messages.
func (p *Processor) HandleRowsIngested(subject string, data []byte) {
	ev, err := hermes.ParseRowsIngested(data)
	if err != nil {
		p.logger.Error("failed to parse rows ingested event", "subject", subject, "error", err)
		return
	}
	tc, err := p.Resolve(ev.Tenant)
	if err != nil {
		p.logger.Error("invalid tenant in rows ingested event", "tenant", ev.Tenant, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RunTimeout)
	defer cancel()

	if _, err := p.Run(ctx, tc); err != nil {
		p.logger.Error("pipeline run failed", "tenant", tc.ID, "error", err)
	}
}
