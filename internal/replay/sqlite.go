package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
	"github.com/brunao23/GerenciaBH-sub000/internal/ingest"
)

// SQLiteSource serves chat rows from an exported SQLite database.
type SQLiteSource struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens the export at path. A non-empty table overrides the table
// name the pipeline asks for.
func OpenSQLite(path, table string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteSource{db: db, table: table}, nil
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteSource) name(table string) string {
	if s.table != "" {
		table = s.table
	}
	return `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
}

func (s *SQLiteSource) Bounds(ctx context.Context, table string) (ingest.IDRange, error) {
	var lo, hi sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT min(id), max(id) FROM `+s.name(table)).Scan(&lo, &hi)
	if err != nil {
		return ingest.IDRange{}, fmt.Errorf("query bounds: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return ingest.IDRange{}, ingest.ErrNoRows
	}
	return ingest.IDRange{Min: lo.Int64, Max: hi.Int64}, nil
}

func (s *SQLiteSource) Page(ctx context.Context, q ingest.PageQuery) ([]conversation.RawMessageRow, error) {
	cols := `id, session_id, message`
	if q.WithCreatedAt {
		cols += `, created_at`
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cols+` FROM `+s.name(q.Table)+` WHERE id BETWEEN ? AND ? ORDER BY id`,
		q.FromID, q.ToID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []conversation.RawMessageRow
	for rows.Next() {
		var r conversation.RawMessageRow
		var created sql.NullString
		dest := []any{&r.SequenceID, &r.SessionID, &r.RawContent}
		if q.WithCreatedAt {
			dest = append(dest, &created)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		if created.Valid {
			if ts, ok := parseSQLiteTime(created.String); ok {
				r.StoredTimestamp = &ts
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// parseSQLiteTime accepts SQLite's "YYYY-MM-DD HH:MM:SS" plus the formats
// conversation.ParseTimestamp understands. Zone-less values are UTC.
func parseSQLiteTime(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return conversation.ParseTimestamp(s)
}

func classify(err error) error {
	if err != nil && strings.Contains(err.Error(), "no such column") {
		return fmt.Errorf("%v: %w", err, ingest.ErrMissingColumn)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.ErrNoRows
	}
	return err
}
