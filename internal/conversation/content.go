package conversation

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedEnvelope is returned when content looks like a JSON envelope but
// does not parse.
var ErrMalformedEnvelope = errors.New("malformed message envelope")

// RawContent is either PlainText or an Envelope.
type RawContent interface {
	// Body is the message text carried by the content.
	Body() string
	isRawContent()
}

// PlainText is content stored as bare text.
type PlainText string

func (p PlainText) Body() string { return string(p) }
func (PlainText) isRawContent()  {}

// Envelope is content stored as a JSON object wrapping the text.
type Envelope struct {
	Content   *string
	Text      *string
	Type      *string
	CreatedAt *string
}

// Body prefers content over text.
func (e Envelope) Body() string {
	if e.Content != nil && *e.Content != "" {
		return *e.Content
	}
	if e.Text != nil {
		return *e.Text
	}
	return ""
}

func (Envelope) isRawContent() {}

type envelopeWire struct {
	Content        json.RawMessage `json:"content"`
	Text           *string         `json:"text"`
	Type           *string         `json:"type"`
	Role           *string         `json:"role"`
	CreatedAtCamel json.RawMessage `json:"createdAt"`
	CreatedAtSnake json.RawMessage `json:"created_at"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

// ParseRawContent turns stored content into a RawContent. Objects without a
// content or text field are returned as PlainText so the sanitizer sees them.
func ParseRawContent(raw string) (RawContent, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return PlainText(raw), nil
	}

	var w envelopeWire
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return nil, ErrMalformedEnvelope
	}

	content, hasContent := decodeContent(w.Content)
	if !hasContent && w.Text == nil {
		return PlainText(raw), nil
	}

	env := Envelope{Text: w.Text, Type: firstSet(w.Type, w.Role), CreatedAt: firstSet(rawString(w.CreatedAtCamel), rawString(w.CreatedAtSnake), rawString(w.Timestamp))}
	if hasContent {
		env.Content = &content
	}
	return env, nil
}

// decodeContent accepts a JSON string or an array of {type, text} blocks.
func decodeContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, true
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}

	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), true
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func firstSet(vals ...*string) *string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}

// rawString decodes a JSON string or number into text; anything else is unset.
func rawString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		v := n.String()
		return &v
	}
	return nil
}
