package ingest

import (
	"context"
	"sort"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
)

// MemorySource serves rows held in memory. Rows keep their SequenceID as the
// page key; the table name is ignored.
type MemorySource struct {
	rows []conversation.RawMessageRow
}

// NewMemorySource copies rows into a MemorySource sorted by SequenceID.
func NewMemorySource(rows []conversation.RawMessageRow) *MemorySource {
	cp := make([]conversation.RawMessageRow, len(rows))
	copy(cp, rows)
	sort.SliceStable(cp, func(i, j int) bool {
		return cp[i].SequenceID < cp[j].SequenceID
	})
	return &MemorySource{rows: cp}
}

func (m *MemorySource) Bounds(_ context.Context, _ string) (IDRange, error) {
	if len(m.rows) == 0 {
		return IDRange{}, ErrNoRows
	}
	return IDRange{Min: m.rows[0].SequenceID, Max: m.rows[len(m.rows)-1].SequenceID}, nil
}

func (m *MemorySource) Page(ctx context.Context, q PageQuery) ([]conversation.RawMessageRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lo := sort.Search(len(m.rows), func(i int) bool { return m.rows[i].SequenceID >= q.FromID })
	var out []conversation.RawMessageRow
	for i := lo; i < len(m.rows) && m.rows[i].SequenceID <= q.ToID; i++ {
		r := m.rows[i]
		if !q.WithCreatedAt {
			r.StoredTimestamp = nil
		}
		out = append(out, r)
	}
	return out, nil
}
