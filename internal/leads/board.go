package leads

import (
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/classifier"
)

// Card is one lead on the board.
type Card struct {
	Key             string            `json:"key"`
	SessionID       string            `json:"session_id"`
	NormalizedPhone string            `json:"normalized_phone,omitempty"`
	DisplayName     string            `json:"display_name"`
	LastMessage     string            `json:"last_message"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	MessageCount    int               `json:"message_count"`
	HasError        bool              `json:"has_error"`
	Rule            classifier.Rule   `json:"rule"`
	Status          classifier.Status `json:"status"`
}

// Column is one status column of the board.
type Column struct {
	Status classifier.Status `json:"status"`
	Cards  []Card            `json:"cards"`
}

// Board partitions classified leads by status, in classifier.All order.
type Board struct {
	Columns []Column `json:"columns"`
	Total   int      `json:"total"`
}

// Classified pairs an identity with its classification.
type Classified struct {
	Identity Identity
	Decision classifier.Decision
}

// BuildBoard places each lead in its status column, keeping input order
// within a column. Every status has a column, possibly empty.
func BuildBoard(items []Classified) Board {
	byStatus := make(map[classifier.Status][]Card)
	for _, it := range items {
		s := it.Identity.Session
		byStatus[it.Decision.Status] = append(byStatus[it.Decision.Status], Card{
			Key:             it.Identity.Key,
			SessionID:       s.SessionID,
			NormalizedPhone: s.NormalizedPhone,
			DisplayName:     s.DisplayName,
			LastMessage:     s.LastMessage,
			LastActivityAt:  s.LastActivityAt,
			MessageCount:    len(s.Messages),
			HasError:        s.HasError,
			Rule:            it.Decision.Rule,
			Status:          it.Decision.Status,
		})
	}

	b := Board{Total: len(items)}
	for _, st := range classifier.All {
		cards := byStatus[st]
		if cards == nil {
			cards = []Card{}
		}
		b.Columns = append(b.Columns, Column{Status: st, Cards: cards})
	}
	return b
}

// Column returns the column for status, or nil.
func (b Board) Column(status classifier.Status) *Column {
	for i := range b.Columns {
		if b.Columns[i].Status == status {
			return &b.Columns[i]
		}
	}
	return nil
}
