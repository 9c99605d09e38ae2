package hermes

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// SubjectStatusChanged carries StatusChangedEvent.
	SubjectStatusChanged = "gerencia.lead.status.changed"
	// SubjectPipelineCompleted carries PipelineCompletedEvent.
	SubjectPipelineCompleted = "gerencia.pipeline.completed"
	// SubjectRowsIngested carries RowsIngestedEvent from the chat orchestrator.
	SubjectRowsIngested = "gerencia.chat.rows.ingested"
)

// StatusChangedEvent is emitted after an auto-classified status is persisted.
type StatusChangedEvent struct {
	EventID  string    `json:"event_id"`
	Tenant   string    `json:"tenant"`
	LeadID   string    `json:"lead_id"`
	Status   string    `json:"status"`
	Previous string    `json:"previous,omitempty"`
	At       time.Time `json:"at"`
}

// PipelineCompletedEvent summarises one pipeline run for a tenant.
type PipelineCompletedEvent struct {
	RunID      string    `json:"run_id"`
	Tenant     string    `json:"tenant"`
	Rows       int       `json:"rows"`
	Sessions   int       `json:"sessions"`
	Leads      int       `json:"leads"`
	Changed    int       `json:"changed"`
	Partial    bool      `json:"partial"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// MessageID implements Identified.
func (e StatusChangedEvent) MessageID() string { return e.EventID }

// MessageID implements Identified.
func (e PipelineCompletedEvent) MessageID() string { return e.RunID }

// RowsIngestedEvent tells gerencia that new chat rows landed for a tenant.
type RowsIngestedEvent struct {
	Tenant string `json:"tenant"`
	Rows   int    `json:"rows,omitempty"`
}

// ParseRowsIngested decodes a RowsIngestedEvent payload.
func ParseRowsIngested(data []byte) (RowsIngestedEvent, error) {
	var ev RowsIngestedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode rows ingested: %w", err)
	}
	if ev.Tenant == "" {
		return ev, fmt.Errorf("decode rows ingested: missing tenant")
	}
	return ev, nil
}
