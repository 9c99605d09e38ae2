package conversation

import (
	"log/slog"
	"sort"
	"time"
)

// Cleaner strips prompt and tool-call residue from message text.
type Cleaner interface {
	PayloadDetector
	CleanLead(text string) string
	CleanAgent(text string) string
	HasToolTrace(text string) bool
}

// Options configures an Aggregator.
type Options struct {
	DuplicateThreshold float64
	Phones             PhoneRules
	Now                func() time.Time
}

// Stats counts what happened to rows during aggregation.
type Stats struct {
	Rows          int `json:"rows"`
	Malformed     int `json:"malformed"`
	Dropped       int `json:"dropped"`
	Duplicates    int `json:"duplicates"`
	Sessions      int `json:"sessions"`
	EmptySessions int `json:"empty_sessions"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Rows += o.Rows
	s.Malformed += o.Malformed
	s.Dropped += o.Dropped
	s.Duplicates += o.Duplicates
	s.Sessions += o.Sessions
	s.EmptySessions += o.EmptySessions
}

// Aggregator turns the rows of one session into a Session.
type Aggregator struct {
	cleaner    Cleaner
	timestamps *TimestampResolver
	dedup      Deduplicator
	phones     PhoneRules
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(cleaner Cleaner, opts Options, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	phones := opts.Phones
	if phones.MaxDigits == 0 {
		phones = DefaultPhoneRules()
	}
	return &Aggregator{
		cleaner:    cleaner,
		timestamps: NewTimestampResolver(cleaner, opts.Now),
		dedup:      NewDeduplicator(opts.DuplicateThreshold),
		phones:     phones,
		logger:     logger,
	}
}

// GroupBySession buckets rows by session id.
func GroupBySession(rows []RawMessageRow) map[string][]RawMessageRow {
	groups := make(map[string][]RawMessageRow)
	for _, r := range rows {
		groups[r.SessionID] = append(groups[r.SessionID], r)
	}
	return groups
}

// AggregateAll groups rows by session and aggregates each group. Sessions
// with no displayable message are omitted. The result is ordered by most
// recent activity first.
func (a *Aggregator) AggregateAll(rows []RawMessageRow) ([]Session, Stats) {
	groups := GroupBySession(rows)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var total Stats
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, st, ok := a.Aggregate(id, groups[id])
		total.Add(st)
		if ok {
			sessions = append(sessions, s)
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
	})
	return sessions, total
}

// Aggregate builds one Session from rows sharing sessionID. ok is false when
// no message survives sanitization.
func (a *Aggregator) Aggregate(sessionID string, rows []RawMessageRow) (Session, Stats, bool) {
	stats := Stats{Rows: len(rows)}

	sorted := make([]RawMessageRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SequenceID < sorted[j].SequenceID
	})

	var (
		prev *time.Time
		form *FormData
		msgs = make([]NormalizedMessage, 0, len(sorted))
	)
	for _, row := range sorted {
		content, err := ParseRawContent(row.RawContent)
		if err != nil {
			stats.Malformed++
			a.logger.Debug("skipping malformed row", "session", sessionID, "id", row.SequenceID, "error", err)
			continue
		}

		body := content.Body()
		marker := row.OriginMarker
		var createdAt *string
		if env, ok := content.(Envelope); ok {
			if marker == "" && env.Type != nil {
				marker = *env.Type
			}
			createdAt = env.CreatedAt
		}

		if form == nil {
			if fd, ok := ExtractFormData(body); ok {
				form = fd
			}
		}

		ts, src := a.timestamps.Resolve(row.StoredTimestamp, createdAt, body, prev)
		resolved := ts
		prev = &resolved

		role := NormalizeRole(marker)
		clean := a.clean(role, body)
		if clean == "" {
			stats.Dropped++
			continue
		}

		msgs = append(msgs, NormalizedMessage{
			Role:             role,
			Content:          clean,
			Timestamp:        ts,
			TimestampSource:  src,
			IsErrorSignal:    IsErrorSignal(marker, clean),
			IsSuccessSignal:  IsSuccessSignal(clean),
			SourceSequenceID: row.SequenceID,
		})
	}

	deduped := a.dedup.Filter(msgs)
	stats.Duplicates = len(msgs) - len(deduped)

	if len(deduped) == 0 {
		stats.EmptySessions = 1
		a.logger.Debug("session has no displayable messages", "session", sessionID, "rows", len(rows))
		return Session{}, stats, false
	}
	SortChronological(deduped)
	stats.Sessions = 1

	phone := a.phones.PhoneFromSessionID(sessionID)
	var leadTexts []string
	s := Session{
		SessionID:       sessionID,
		NormalizedPhone: phone,
		Messages:        deduped,
		FirstMessage:    deduped[0].Content,
		LastMessage:     deduped[len(deduped)-1].Content,
		FormData:        form,
		LastActivityAt:  deduped[len(deduped)-1].Timestamp,
	}
	for _, m := range deduped {
		s.HasError = s.HasError || m.IsErrorSignal
		s.HasSuccess = s.HasSuccess || m.IsSuccessSignal
		if m.Role == RoleLead {
			leadTexts = append(leadTexts, m.Content)
		}
	}
	s.DisplayName = DisplayName(form, leadTexts, phone, sessionID)
	return s, stats, true
}

// clean runs the role's cleaner and re-checks the result against the gate.
func (a *Aggregator) clean(role Role, body string) string {
	if role == RoleLead {
		out := a.cleaner.CleanLead(body)
		if out == "" || a.cleaner.IsInstructionPayload(out) {
			return ""
		}
		return out
	}
	out := a.cleaner.CleanAgent(body)
	if out == "" || a.cleaner.HasToolTrace(out) {
		return ""
	}
	return out
}

// SortChronological orders messages by timestamp, then by sequence id.
func SortChronological(msgs []NormalizedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].SourceSequenceID < msgs[j].SourceSequenceID
	})
}
