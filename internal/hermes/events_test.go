package hermes

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseRowsIngested(t *testing.T) {
	ev, err := ParseRowsIngested([]byte(`{"tenant": "vox_bh", "rows": 12}`))
	if err != nil {
		t.Fatalf("ParseRowsIngested: %v", err)
	}
	if ev.Tenant != "vox_bh" || ev.Rows != 12 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseRowsIngestedInvalid(t *testing.T) {
	tests := []string{`not json`, `{}`, `{"rows": 3}`}
	for _, raw := range tests {
		if _, err := ParseRowsIngested([]byte(raw)); err == nil {
			t.Errorf("ParseRowsIngested(%q) expected error", raw)
		}
	}
}

func TestStatusChangedEventJSON(t *testing.T) {
	ev := StatusChangedEvent{
		EventID: "e1",
		Tenant:  "vox_bh",
		LeadID:  "11987654321",
		Status:  "sem_resposta",
		At:      time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"lead_id":"11987654321"`) || !strings.Contains(s, `"status":"sem_resposta"`) {
		t.Errorf("unexpected json: %s", s)
	}
	if strings.Contains(s, "previous") {
		t.Errorf("empty previous should be omitted: %s", s)
	}
}

func TestSubjects(t *testing.T) {
	for _, s := range []string{SubjectStatusChanged, SubjectPipelineCompleted, SubjectRowsIngested} {
		if !strings.HasPrefix(s, "gerencia.") {
			t.Errorf("subject %q outside gerencia namespace", s)
		}
	}
}

func TestMessageIDs(t *testing.T) {
	tests := []struct {
		name string
		ev   any
		want string
		ok   bool
	}{
		{"status changed", StatusChangedEvent{EventID: "e1"}, "e1", true},
		{"pipeline completed", PipelineCompletedEvent{RunID: "r1"}, "r1", true},
		{"rows ingested", RowsIngestedEvent{Tenant: "vox_bh"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := tt.ev.(Identified)
			if ok != tt.ok {
				t.Fatalf("Identified = %v, want %v", ok, tt.ok)
			}
			if ok && id.MessageID() != tt.want {
				t.Errorf("MessageID() = %q, want %q", id.MessageID(), tt.want)
			}
		})
	}
}
