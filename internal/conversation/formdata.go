package conversation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FormData is the structured lead-form block the upstream system embeds in
// its prompt under a "variaveis" key.
type FormData struct {
	Name                   string `json:"name,omitempty"`
	FirstName              string `json:"first_name,omitempty"`
	Difficulty             string `json:"difficulty,omitempty"`
	Reason                 string `json:"reason,omitempty"`
	Profession             string `json:"profession,omitempty"`
	DecisionTime           string `json:"decision_time,omitempty"`
	AttendanceConfirmation string `json:"attendance_confirmation,omitempty"`
}

// Fields returns the non-empty fields keyed by their JSON names.
func (f FormData) Fields() map[string]string {
	out := make(map[string]string)
	for _, fd := range f.fields() {
		if *fd.dst != "" {
			out[fd.key] = *fd.dst
		}
	}
	return out
}

// IsEmpty reports whether no field is set.
func (f FormData) IsEmpty() bool {
	return len(f.Fields()) == 0
}

type formField struct {
	key     string
	aliases []string
	dst     *string
}

func (f *FormData) fields() []formField {
	return []formField{
		{"name", []string{"nome", "name", "nome_completo", "full_name"}, &f.Name},
		{"first_name", []string{"primeiro_nome", "first_name", "firstname", "primeironome"}, &f.FirstName},
		{"difficulty", []string{"dificuldade", "difficulty"}, &f.Difficulty},
		{"reason", []string{"motivo", "reason"}, &f.Reason},
		{"profession", []string{"profissao", "profissão", "profession"}, &f.Profession},
		{"decision_time", []string{"tempo_decisao", "tempo_de_decisao", "decision_time"}, &f.DecisionTime},
		{"attendance_confirmation", []string{"confirmacao_comparecimento", "confirmacao_presenca", "attendance_confirmation"}, &f.AttendanceConfirmation},
	}
}

var (
	variablesBlockRe = regexp.MustCompile(`(?i)["']?\b(?:variaveis|variáveis|variables)\b["']?\s*[:=]\s*\{`)
	fieldRes         = buildFieldRes()
)

func buildFieldRes() map[string]*regexp.Regexp {
	var f FormData
	out := make(map[string]*regexp.Regexp)
	for _, fd := range f.fields() {
		quoted := make([]string, len(fd.aliases))
		for i, a := range fd.aliases {
			quoted[i] = regexp.QuoteMeta(a)
		}
		out[fd.key] = regexp.MustCompile(fmt.Sprintf(`(?i)["']?\b(?:%s)["']?\s*[:=]\s*["']?([^"'\n,}]*)`, strings.Join(quoted, "|")))
	}
	return out
}

// ExtractFormData finds the first variables block in text. The block is read
// as JSON when it parses, otherwise field by field. Template placeholders
// such as "{{nome}}" are ignored.
func ExtractFormData(text string) (*FormData, bool) {
	for _, loc := range variablesBlockRe.FindAllStringIndex(text, -1) {
		open := loc[1] - 1
		block := text[open:closingBrace(text, open)]

		var fd FormData
		if !fd.fromJSON(block) {
			fd.fromPatterns(block)
		}
		if !fd.IsEmpty() {
			return &fd, true
		}
	}
	return nil, false
}

func (f *FormData) fromJSON(block string) bool {
	var m map[string]any
	if err := json.Unmarshal([]byte(block), &m); err != nil {
		return false
	}
	lower := make(map[string]any, len(m))
	for k, v := range m {
		lower[strings.ToLower(k)] = v
	}
	for _, fd := range f.fields() {
		for _, alias := range fd.aliases {
			v, ok := lower[alias]
			if !ok {
				continue
			}
			if s := formValue(v); s != "" {
				*fd.dst = s
				break
			}
		}
	}
	return true
}

func (f *FormData) fromPatterns(block string) {
	for _, fd := range f.fields() {
		for _, m := range fieldRes[fd.key].FindAllStringSubmatch(block, -1) {
			if s := cleanFormValue(m[1]); s != "" {
				*fd.dst = s
				break
			}
		}
	}
}

func formValue(v any) string {
	switch t := v.(type) {
	case string:
		return cleanFormValue(t)
	case float64, bool:
		return cleanFormValue(fmt.Sprint(t))
	default:
		return ""
	}
}

func cleanFormValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "{{") || strings.Contains(s, "}}") {
		return ""
	}
	switch strings.ToLower(s) {
	case "null", "undefined", "n/a", "-":
		return ""
	}
	return s
}

// closingBrace returns the index just past the brace closing the one at
// open, or len(text) if it never closes.
func closingBrace(text string, open int) int {
	depth := 0
	inString := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(text)
}
