package conversation

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		marker string
		want   Role
	}{
		{"human", RoleLead},
		{"HUMAN", RoleLead},
		{" user ", RoleLead},
		{"ai", RoleAgent},
		{"Bot", RoleAgent},
		{"assistant", RoleAgent},
		{"system", RoleAgent},
		{"", RoleAgent},
		{"humano?", RoleAgent},
		{"\xff\xfe", RoleAgent},
		{"🤖", RoleAgent},
	}

	for _, tt := range tests {
		if got := NormalizeRole(tt.marker); got != tt.want {
			t.Errorf("NormalizeRole(%q) = %v, want %v", tt.marker, got, tt.want)
		}
	}
}

func TestMessageRoleFromJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
	}{
		{`{"role": "lead"}`, RoleLead},
		{`{"role": "agent"}`, RoleAgent},
		{`{"role": "LEAD"}`, RoleLead},
		{`{"role": "human"}`, RoleLead},
		{`{"role": "assistant"}`, RoleAgent},
	}
	for _, tt := range tests {
		var m NormalizedMessage
		if err := json.Unmarshal([]byte(tt.raw), &m); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.raw, err)
		}
		if m.Role != tt.want {
			t.Errorf("Unmarshal(%s) role = %v, want %v", tt.raw, m.Role, tt.want)
		}
	}

	out, err := json.Marshal(NormalizedMessage{Role: RoleLead, Content: "oi"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back NormalizedMessage
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal own output: %v", err)
	}
	if back.Role != RoleLead {
		t.Errorf("role after round trip = %v, want lead", back.Role)
	}
}

func TestRoleString(t *testing.T) {
	if RoleLead.String() != "lead" || RoleAgent.String() != "agent" {
		t.Errorf("unexpected role strings %q %q", RoleLead, RoleAgent)
	}
	b, _ := RoleLead.MarshalText()
	if string(b) != "lead" {
		t.Errorf("MarshalText = %q", b)
	}
}

func TestParseRawContentPlain(t *testing.T) {
	c, err := ParseRawContent("oi, tudo bem?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(PlainText); !ok {
		t.Fatalf("expected PlainText, got %T", c)
	}
	if c.Body() != "oi, tudo bem?" {
		t.Errorf("Body = %q", c.Body())
	}
}

func TestParseRawContentEnvelope(t *testing.T) {
	raw := `{"type":"human","content":"quero agendar","additional_kwargs":{},"createdAt":"2025-08-05T08:30:39-03:00"}`
	c, err := ParseRawContent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, ok := c.(Envelope)
	if !ok {
		t.Fatalf("expected Envelope, got %T", c)
	}
	if env.Body() != "quero agendar" {
		t.Errorf("Body = %q", env.Body())
	}
	if env.Type == nil || *env.Type != "human" {
		t.Errorf("Type = %v", env.Type)
	}
	if env.CreatedAt == nil || *env.CreatedAt != "2025-08-05T08:30:39-03:00" {
		t.Errorf("CreatedAt = %v", env.CreatedAt)
	}
}

func TestParseRawContentBlocks(t *testing.T) {
	raw := `{"role":"assistant","content":[{"type":"text","text":"Olá!"},{"type":"tool_use","id":"x"},{"type":"text","text":"Como posso ajudar?"}]}`
	c, err := ParseRawContent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Body() != "Olá!\nComo posso ajudar?" {
		t.Errorf("Body = %q", c.Body())
	}
	env := c.(Envelope)
	if env.Type == nil || *env.Type != "assistant" {
		t.Errorf("Type should fall back to role, got %v", env.Type)
	}
}

func TestParseRawContentTextField(t *testing.T) {
	c, err := ParseRawContent(`{"text":"mensagem","timestamp":1754393439}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := c.(Envelope)
	if env.Body() != "mensagem" {
		t.Errorf("Body = %q", env.Body())
	}
	if env.CreatedAt == nil || *env.CreatedAt != "1754393439" {
		t.Errorf("numeric timestamp not kept: %v", env.CreatedAt)
	}
}

func TestParseRawContentMalformed(t *testing.T) {
	_, err := ParseRawContent(`{"type":"human","content":"quebrado}`)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestParseRawContentObjectWithoutBody(t *testing.T) {
	raw := `{"regras": ["Nunca diga o preço"]}`
	c, err := ParseRawContent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Body() != raw {
		t.Errorf("object without body should pass through as text, got %q", c.Body())
	}
}
