// Package conversation rebuilds clean, ordered, deduplicated chat sessions
// from raw upstream chat-log rows.
package conversation

import (
	"strings"
	"time"
)

// Role is the side of the conversation a message came from.
type Role int

const (
	// RoleAgent is the zero value so unclassifiable rows never count as lead replies.
	RoleAgent Role = iota
	RoleLead
)

func (r Role) String() string {
	if r == RoleLead {
		return "lead"
	}
	return "agent"
}

// MarshalText renders the role as "lead" or "agent".
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText reads "lead" or "agent", and otherwise any origin marker
// NormalizeRole accepts.
func (r *Role) UnmarshalText(text []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(text)), "lead") {
		*r = RoleLead
		return nil
	}
	*r = NormalizeRole(string(text))
	return nil
}

// NormalizeRole maps a free-form origin marker to a Role. It never fails:
// anything that is not recognisably the lead is treated as the agent.
func NormalizeRole(marker string) Role {
	switch strings.ToLower(strings.TrimSpace(marker)) {
	case "human", "user":
		return RoleLead
	case "ai", "bot", "assistant", "system":
		return RoleAgent
	default:
		return RoleAgent
	}
}

// RawMessageRow is one stored chat-log row as read from the upstream table.
type RawMessageRow struct {
	SessionID       string     `json:"session_id"`
	SequenceID      int64      `json:"id"`
	OriginMarker    string     `json:"origin_marker"`
	RawContent      string     `json:"message"`
	StoredTimestamp *time.Time `json:"created_at,omitempty"`
}

// TimestampSource records which source produced a message's timestamp.
type TimestampSource string

const (
	SourceStored           TimestampSource = "stored"
	SourceEnvelope         TimestampSource = "envelope"
	SourceText             TimestampSource = "text"
	SourceFallbackPrevious TimestampSource = "fallback_previous"
	SourceFallbackNow      TimestampSource = "fallback_now"
)

// NormalizedMessage is a cleaned message. Values are never mutated once built.
type NormalizedMessage struct {
	Role             Role            `json:"role"`
	Content          string          `json:"content"`
	Timestamp        time.Time       `json:"timestamp"`
	TimestampSource  TimestampSource `json:"timestamp_source"`
	IsErrorSignal    bool            `json:"is_error_signal"`
	IsSuccessSignal  bool            `json:"is_success_signal"`
	SourceSequenceID int64           `json:"source_sequence_id"`
}

// Session is one rebuilt conversation.
type Session struct {
	SessionID       string              `json:"session_id"`
	NormalizedPhone string              `json:"normalized_phone,omitempty"`
	DisplayName     string              `json:"display_name"`
	Messages        []NormalizedMessage `json:"messages"`
	FirstMessage    string              `json:"first_message"`
	LastMessage     string              `json:"last_message"`
	FormData        *FormData           `json:"form_data,omitempty"`
	HasError        bool                `json:"has_error"`
	HasSuccess      bool                `json:"has_success"`
	LastActivityAt  time.Time           `json:"last_activity_at"`
}

// LeadID is the key statuses are stored under: the normalized phone, or the
// session id when the phone is unusable.
func (s Session) LeadID() string {
	if s.NormalizedPhone != "" {
		return s.NormalizedPhone
	}
	return "session:" + s.SessionID
}

// LastRole returns the role of the most recent message.
func (s Session) LastRole() (Role, bool) {
	if len(s.Messages) == 0 {
		return RoleAgent, false
	}
	return s.Messages[len(s.Messages)-1].Role, true
}

// CountByRole returns the number of lead and agent messages.
func (s Session) CountByRole() (lead, agent int) {
	for _, m := range s.Messages {
		if m.Role == RoleLead {
			lead++
		} else {
			agent++
		}
	}
	return lead, agent
}
