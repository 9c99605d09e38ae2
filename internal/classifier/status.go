// Package classifier infers a lead's lifecycle status from its conversation.
package classifier

import (
	"context"
	"strings"
	"time"
)

// Status is a lead lifecycle stage.
type Status string

const (
	Entrada      Status = "entrada"
	Atendimento  Status = "atendimento"
	Qualificacao Status = "qualificacao"
	SemResposta  Status = "sem_resposta"
	Agendado     Status = "agendado"
	FollowUp     Status = "follow_up"
	EmFollowUp   Status = "em_follow_up"
	EmNegociacao Status = "em_negociacao"
	Ganho        Status = "ganho"
	Perdido      Status = "perdido"
)

// All lists every status in board order.
var All = []Status{
	Entrada, Atendimento, Qualificacao, SemResposta, FollowUp,
	EmFollowUp, EmNegociacao, Agendado, Ganho, Perdido,
}

// ParseStatus accepts the canonical value plus the spellings the dashboard
// has written over time ("sem-resposta", "SemResposta", "em follow up").
func ParseStatus(s string) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for _, st := range All {
		if key == string(st) || key == strings.ReplaceAll(string(st), "_", "") {
			return st, true
		}
	}
	return "", false
}

// StoredStatus is the status currently persisted for a lead.
type StoredStatus struct {
	LeadID           string     `json:"lead_id"`
	Status           Status     `json:"status"`
	IsManualOverride bool       `json:"is_manual_override"`
	ManualOverrideAt *time.Time `json:"manual_override_at,omitempty"`
}

// FollowUpRecord is an automated follow-up campaign record for a phone number.
type FollowUpRecord struct {
	PhoneNumber       string     `json:"phone_number"`
	IsActive          bool       `json:"is_active"`
	AttemptCount      int        `json:"attempt_count"`
	NextFollowUpAt    *time.Time `json:"next_follow_up_at,omitempty"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
}

// StatusUpdate is written back when auto-classification changes a status.
type StatusUpdate struct {
	LeadID                   string    `json:"lead_id"`
	Status                   Status    `json:"status"`
	AutoClassified           bool      `json:"auto_classified"`
	LastAutoClassificationAt time.Time `json:"last_auto_classification_at"`
}

// StatusWriter persists auto-classified statuses. Implementations may be
// asynchronous; errors never fail a classification.
type StatusWriter interface {
	WriteStatus(ctx context.Context, u StatusUpdate) error
}

// NopWriter discards updates.
type NopWriter struct{}

func (NopWriter) WriteStatus(context.Context, StatusUpdate) error { return nil }
