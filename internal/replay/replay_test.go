package replay

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/classifier"
	"github.com/brunao23/GerenciaBH-sub000/internal/ingest"
	"github.com/brunao23/GerenciaBH-sub000/internal/processor"
	"github.com/brunao23/GerenciaBH-sub000/internal/sanitize"
	"github.com/brunao23/GerenciaBH-sub000/internal/tenant"
)

var now = time.Date(2025, 8, 7, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type exportRow struct {
	id      int64
	session string
	role    string
	text    string
	at      time.Time
}

func conversationRows(start time.Time) []exportRow {
	const s = "5511987654321@s.whatsapp.net"
	return []exportRow{
		{1, s, "human", "Oi, boa tarde", start},
		{2, s, "ai", "Olá! Como posso ajudar?", start.Add(time.Minute)},
		{3, s, "human", "Quero marcar uma visita", start.Add(2 * time.Minute)},
		{4, s, "ai", "Sua visita está agendada para amanhã às 10h.", start.Add(3 * time.Minute)},
	}
}

func envelope(role, text string) string {
	b, _ := json.Marshal(map[string]string{"type": role, "content": text})
	return string(b)
}

func writeSQLite(t *testing.T, path, table string, rows []exportRow) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE %q (id INTEGER PRIMARY KEY, session_id TEXT, message TEXT, created_at TEXT)`, table)); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, r := range rows {
		_, err := db.Exec(fmt.Sprintf(`INSERT INTO %q (id, session_id, message, created_at) VALUES (?, ?, ?, ?)`, table),
			r.id, r.session, envelope(r.role, r.text), r.at.Format("2006-01-02 15:04:05"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func writeJSONL(t *testing.T, path string, rows []exportRow, extra ...string) {
	t.Helper()
	var buf bytes.Buffer
	for _, r := range rows {
		line, _ := json.Marshal(map[string]any{
			"id":         r.id,
			"session_id": r.session,
			"message":    json.RawMessage(envelope(r.role, r.text)),
			"created_at": r.at.Format(time.RFC3339),
		})
		buf.Write(line)
		buf.WriteByte('\n')
	}
	for _, e := range extra {
		buf.WriteString(e + "\n")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestParseJSONLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.jsonl")
	content := strings.Join([]string{
		`{"id": 7, "session_id": "a", "message": {"type": "ai", "content": "Olá"}, "created_at": "2025-08-05T12:00:00Z"}`,
		`not json`,
		`{"session_id": "a", "message": "{\"type\":\"human\",\"content\":\"Oi\"}"}`,
		``,
		`{"id": "2", "session_id": "b", "message": {"type": "human", "content": "Bom dia"}, "created_at": 1754395200}`,
		`{"id": 9, "message": {"type": "human", "content": "sem sessão"}}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, skipped, err := ParseJSONLFile(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	// Sorted by id: "2", then line 3, then 7.
	if rows[0].SequenceID != 2 || rows[0].SessionID != "b" || rows[0].StoredTimestamp == nil {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[1].SequenceID != 3 || rows[1].RawContent != `{"type":"human","content":"Oi"}` || rows[1].StoredTimestamp != nil {
		t.Errorf("string message should be kept verbatim, got %+v", rows[1])
	}
	last := rows[2]
	if last.SequenceID != 7 || last.OriginMarker != "ai" || last.StoredTimestamp == nil {
		t.Errorf("last row = %+v", last)
	}
	if last.RawContent != `{"type": "ai", "content": "Olá"}` {
		t.Errorf("raw content = %s", last.RawContent)
	}
}

func TestParseJSONLFileMissing(t *testing.T) {
	if _, _, err := ParseJSONLFile(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.db")
	writeSQLite(t, path, "acme_n8n_chat_histories", conversationRows(now))

	src, err := OpenSQLite(path, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	b, err := src.Bounds(ctx, "acme_n8n_chat_histories")
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if b.Min != 1 || b.Max != 4 {
		t.Errorf("bounds = %+v", b)
	}

	rows, err := src.Page(ctx, ingest.PageQuery{Table: "acme_n8n_chat_histories", FromID: 2, ToID: 3, WithCreatedAt: true})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(rows) != 2 || rows[0].SequenceID != 2 || rows[1].SequenceID != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].StoredTimestamp == nil || !rows[0].StoredTimestamp.Equal(now.Add(time.Minute)) {
		t.Errorf("created_at = %v", rows[0].StoredTimestamp)
	}

	if _, err := src.Bounds(ctx, "missing_table"); err == nil {
		t.Error("expected error for missing table")
	}
}

func TestSQLiteSourceMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE chats (id INTEGER PRIMARY KEY, session_id TEXT, message TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO chats VALUES (1, 'a', ?)`, envelope("human", "Oi")); err != nil {
		t.Fatal(err)
	}
	db.Close()

	src, err := OpenSQLite(path, "chats")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	_, err = src.Page(context.Background(), ingest.PageQuery{Table: "ignored", FromID: 1, ToID: 1, WithCreatedAt: true})
	if !errors.Is(err, ingest.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}

	rows, rep, err := ingest.NewFetcher(src, ingest.DefaultOptions(), discard()).Fetch(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 || !rep.ColumnRetry || rows[0].StoredTimestamp != nil {
		t.Errorf("rows = %+v report = %+v", rows, rep)
	}
}

func TestSQLiteSourceEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	writeSQLite(t, path, "t", nil)

	src, err := OpenSQLite(path, "t")
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if _, err := src.Bounds(context.Background(), "t"); !errors.Is(err, ingest.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestIsOverlapping(t *testing.T) {
	ts := func(secs ...int) []time.Time {
		var out []time.Time
		for _, s := range secs {
			out = append(out, now.Add(time.Duration(s)*time.Second))
		}
		return out
	}

	tests := []struct {
		name string
		a, b []time.Time
		want bool
	}{
		{"identical", ts(0, 60, 120), ts(0, 60, 120), true},
		{"within window", ts(0, 60, 120, 180, 240), ts(1, 60, 121, 180, 240), true},
		{"below threshold", ts(0, 60, 120), ts(0, 300, 600), false},
		{"empty secondary", ts(0), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isOverlapping(fingerprint{Timestamps: tt.a}, fingerprint{Timestamps: tt.b})
			if got != tt.want {
				t.Errorf("isOverlapping = %v, want %v", got, tt.want)
			}
		})
	}
}

func writeExport(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "a.jsonl")
	writeExport(t, export, "{}\n")
	path := filepath.Join(dir, "nested", "state.json")

	s, err := LoadState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.IsProcessed("acme", export) {
		t.Error("fresh state should have nothing processed")
	}
	s.MarkProcessed("acme", export, 3)
	s.RowsReplayed = 42
	s.AddError("boom")
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := LoadState(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !again.IsProcessed("acme", export) || again.RowsReplayed != 42 || len(again.Errors) != 1 {
		t.Errorf("reloaded state = %+v", again)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "nested", ".replay-state-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestStateReplaysChangedExport(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "a.jsonl")
	writeExport(t, export, "{}\n")

	s, err := LoadState(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s.MarkProcessed("acme", export, 1)
	if !s.IsProcessed("acme", export) {
		t.Fatal("export should be processed")
	}

	writeExport(t, export, "{}\n{}\n")
	if s.IsProcessed("acme", export) {
		t.Error("grown export should be replayed again")
	}
}

func TestStateIsPerTenant(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "a.db")
	writeExport(t, export, "x")

	s, err := LoadState(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s.MarkProcessed("acme", export, 1)
	if s.IsProcessed("vox_bh", export) {
		t.Error("export replayed for acme should still be pending for vox_bh")
	}

	s.MarkProcessed("acme", filepath.Join(dir, "missing.db"), 1)
	if len(s.Errors) != 1 {
		t.Errorf("expected a stat error for the missing export, got %v", s.Errors)
	}
}

func TestStateErrorLogIsBounded(t *testing.T) {
	s, err := LoadState(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < maxStateErrors+10; i++ {
		s.AddError(fmt.Sprintf("err %d", i))
	}
	if len(s.Errors) != maxStateErrors {
		t.Fatalf("kept %d errors, want %d", len(s.Errors), maxStateErrors)
	}
	if s.Errors[0] != "err 10" {
		t.Errorf("oldest kept error = %q, want err 10", s.Errors[0])
	}
}

type countingWriters struct {
	updates int
}

func (c *countingWriters) For(tenant.Context) classifier.StatusWriter { return c }

func (c *countingWriters) WriteStatus(context.Context, classifier.StatusUpdate) error {
	c.updates++
	return nil
}

func newRunner(dir string, inputs []string, dryRun bool, out io.Writer, w processor.WriterFactory) *Runner {
	return NewRunner(Config{
		Inputs:    inputs,
		Tenant:    "acme",
		StatePath: filepath.Join(dir, "state.json"),
		DryRun:    dryRun,
		Processor: processor.Config{Now: func() time.Time { return now }},
		Out:       out,
	}, sanitize.Default(), w, discard())
}

func TestRunnerReplaysAndSkipsDuplicates(t *testing.T) {
	dir := t.TempDir()
	exports := filepath.Join(dir, "exports")
	if err := os.MkdirAll(exports, 0o755); err != nil {
		t.Fatal(err)
	}

	start := now.Add(-2 * time.Hour)
	writeSQLite(t, filepath.Join(exports, "main.db"), "acme_n8n_chat_histories", conversationRows(start))
	// Same history dumped as JSONL, plus one bad line.
	writeJSONL(t, filepath.Join(exports, "dump.jsonl"), conversationRows(start), "garbage")

	other := []exportRow{
		{1, "5521912345678@s.whatsapp.net", "human", "Oi, tudo bem?", start.Add(-48 * time.Hour)},
		{2, "5521912345678@s.whatsapp.net", "ai", "Tudo ótimo! Em que posso ajudar?", start.Add(-48*time.Hour + time.Minute)},
	}
	writeJSONL(t, filepath.Join(exports, "other.jsonl"), other)
	if err := os.WriteFile(filepath.Join(exports, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	writers := &countingWriters{}
	summaries, err := newRunner(dir, []string{exports}, false, &out, writers).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2: %+v", len(summaries), summaries)
	}
	if summaries[0].Source != "sqlite" || filepath.Base(summaries[0].Path) != "main.db" {
		t.Errorf("sqlite export should replay first, got %+v", summaries[0])
	}
	if filepath.Base(summaries[1].Path) != "other.jsonl" {
		t.Errorf("duplicate jsonl should be skipped, got %+v", summaries[1])
	}
	if summaries[0].Rows != 4 || summaries[0].Leads != 1 || summaries[0].ByStatus[classifier.Agendado] != 1 {
		t.Errorf("main.db summary = %+v", summaries[0])
	}
	if writers.updates == 0 {
		t.Error("expected status writes outside dry run")
	}

	text := out.String()
	for _, want := range []string{"=== Replay Summary ===", "main.db [sqlite]", "other.jsonl [jsonl]", "agendado", "State file:"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}

	// A second run finds everything already processed.
	again, err := newRunner(dir, []string{exports}, false, io.Discard, writers).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second run replayed %+v", again)
	}
}

func TestRunnerDryRunSkipsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.db")
	writeSQLite(t, path, "acme_n8n_chat_histories", conversationRows(now.Add(-time.Hour)))

	writers := &countingWriters{}
	var out bytes.Buffer
	summaries, err := newRunner(dir, []string{path}, true, &out, writers).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Leads != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}
	if writers.updates != 0 {
		t.Errorf("dry run wrote %d statuses", writers.updates)
	}
	if !strings.Contains(out.String(), "DRY RUN") {
		t.Errorf("summary should mention dry run:\n%s", out.String())
	}
}

func TestRunnerDateRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.jsonl")
	writeJSONL(t, path, conversationRows(now.Add(-30*24*time.Hour)))

	r := NewRunner(Config{
		Inputs:    []string{path},
		Tenant:    "acme",
		StatePath: filepath.Join(dir, "state.json"),
		Since:     now.Add(-7 * 24 * time.Hour),
		DryRun:    true,
		Out:       io.Discard,
	}, sanitize.Default(), nil, discard())
	summaries, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("export outside range was replayed: %+v", summaries)
	}
}

func TestRunnerRejectsBadTenant(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(Config{Tenant: "Bad-Tenant", StatePath: filepath.Join(dir, "s.json"), Out: io.Discard}, sanitize.Default(), nil, discard())
	if _, err := r.Run(context.Background()); !errors.Is(err, tenant.ErrInvalidTenant) {
		t.Errorf("expected ErrInvalidTenant, got %v", err)
	}
}

func TestRunnerMissingInput(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(dir, []string{filepath.Join(dir, "missing")}, true, io.Discard, nil)
	if _, err := r.Run(context.Background()); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestFormatSummary(t *testing.T) {
	text := FormatSummary([]FileSummary{
		{Path: "/x/b.db", Source: "sqlite", Date: "2025-08-06", Rows: 10, Leads: 2, Changed: 1, ByStatus: map[classifier.Status]int{classifier.Ganho: 2}},
		{Path: "/x/a.jsonl", Source: "jsonl", Rows: 3, Leads: 1, Skipped: 2, Errors: 1, ByStatus: map[classifier.Status]int{classifier.Entrada: 1}},
	})

	if !strings.Contains(text, "2025-08-06 (1 files, 2 leads, 1 changed)") {
		t.Errorf("missing dated group:\n%s", text)
	}
	if !strings.Contains(text, "unknown (1 files") || !strings.Contains(text, "(2 bad lines) (1 errors)") {
		t.Errorf("missing undated group:\n%s", text)
	}
	if strings.Index(text, "entrada") > strings.Index(text, "ganho") {
		t.Errorf("statuses should follow board order:\n%s", text)
	}
}
