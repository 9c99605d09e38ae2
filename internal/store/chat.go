package store

import (
	"context"
	"fmt"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
	"github.com/brunao23/GerenciaBH-sub000/internal/ingest"
)

// Bounds returns the smallest and largest row id of a chat table.
func (s *Store) Bounds(ctx context.Context, table string) (ingest.IDRange, error) {
	var lo, hi *int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT min(id), max(id) FROM %s`, quote(table))).Scan(&lo, &hi)
	if err != nil {
		return ingest.IDRange{}, fmt.Errorf("query bounds: %w", err)
	}
	if lo == nil || hi == nil {
		return ingest.IDRange{}, ingest.ErrNoRows
	}
	return ingest.IDRange{Min: *lo, Max: *hi}, nil
}

// Page reads the chat rows with ids in [q.FromID, q.ToID]. The message
// column holds the JSON envelope written by the orchestrator; its type field
// is the origin marker.
func (s *Store) Page(ctx context.Context, q ingest.PageQuery) ([]conversation.RawMessageRow, error) {
	cols := `id, session_id, COALESCE(message->>'type', ''), message::text`
	if q.WithCreatedAt {
		cols += `, created_at`
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id BETWEEN $1 AND $2 ORDER BY id`, cols, quote(q.Table))

	rows, err := s.pool.Query(ctx, sql, q.FromID, q.ToID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []conversation.RawMessageRow
	for rows.Next() {
		var r conversation.RawMessageRow
		dest := []any{&r.SequenceID, &r.SessionID, &r.OriginMarker, &r.RawContent}
		var created *time.Time
		if q.WithCreatedAt {
			dest = append(dest, &created)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		r.StoredTimestamp = created
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
