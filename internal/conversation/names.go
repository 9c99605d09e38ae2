package conversation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Each pattern captures one candidate word from lowercased text.
var selfIntroRes = []*regexp.Regexp{
	regexp.MustCompile(`\bmeu\s+nome\s+(?:é|e)\s+(\p{L}+)`),
	regexp.MustCompile(`\bme\s+chamo\s+(\p{L}+)`),
	regexp.MustCompile(`\baqui\s+(?:é|e)\s+(?:o|a)\s+(\p{L}+)`),
	regexp.MustCompile(`\bsou\s+(?:o|a)\s+(\p{L}+)`),
	regexp.MustCompile(`\bmy\s+name\s+is\s+(\p{L}+)`),
	regexp.MustCompile(`\bi\s+am\s+(\p{L}+)`),
}

// signOffRe matches "Carla aqui" against the original text. The word must be
// capitalised there, so openers like "estou aqui" are not names.
var signOffRe = regexp.MustCompile(`(?i)^\s*(\p{L}+)\s+(?:aqui|here)\b`)

var nameStopwords = map[string]struct{}{
	"a": {}, "o": {}, "e": {}, "de": {}, "da": {}, "do": {}, "um": {}, "uma": {},
	"oi": {}, "ola": {}, "bom": {}, "boa": {}, "dia": {}, "tarde": {}, "noite": {},
	"eu": {}, "voce": {}, "ele": {}, "ela": {}, "quem": {}, "sim": {}, "nao": {},
	"ok": {}, "obrigado": {}, "obrigada": {}, "cliente": {}, "lead": {},
	"aluno": {}, "aluna": {}, "interessado": {}, "interessada": {}, "novo": {}, "nova": {},
	"mae": {}, "pai": {}, "responsavel": {}, "dono": {}, "dona": {}, "estudante": {},
	"the": {}, "an": {}, "not": {}, "just": {}, "so": {}, "also": {}, "here": {},
	"interested": {}, "looking": {}, "trying": {}, "going": {}, "sorry": {}, "fine": {},
	"good": {}, "ready": {}, "available": {}, "busy": {}, "hi": {}, "hello": {},
	"tudo": {}, "bem": {}, "aqui": {},
	"estou": {}, "to": {}, "ta": {}, "esta": {}, "estamos": {}, "vamos": {},
	"fico": {}, "ja": {}, "agora": {}, "cheguei": {}, "chegando": {}, "isso": {},
	"we": {}, "im": {}, "were": {}, "right": {},
}

// ExtractSelfIntroducedName finds a name the writer gave for themselves
// ("meu nome é Ana", "me chamo João", "Carla aqui").
func ExtractSelfIntroducedName(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, re := range selfIntroRes {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if name, ok := validName(m[1]); ok {
			return name, true
		}
	}
	if m := signOffRe.FindStringSubmatch(text); m != nil {
		if first, _ := utf8.DecodeRuneInString(m[1]); unicode.IsUpper(first) {
			return validName(m[1])
		}
	}
	return "", false
}

func validName(w string) (string, bool) {
	n := utf8.RuneCountInString(w)
	if n < 2 || n > 30 {
		return "", false
	}
	if _, stop := nameStopwords[Fold(w)]; stop {
		return "", false
	}
	return titleCase(w), true
}

// DisplayName picks the best name for a session: form first name, first
// token of the form name, a self-introduction in a lead message, then a
// placeholder built from the phone or session id.
func DisplayName(form *FormData, leadTexts []string, phone, sessionID string) string {
	if form != nil {
		if form.FirstName != "" {
			return strings.TrimSpace(form.FirstName)
		}
		if fields := strings.Fields(form.Name); len(fields) > 0 {
			return fields[0]
		}
	}
	for _, text := range leadTexts {
		if name, ok := ExtractSelfIntroducedName(text); ok {
			return name
		}
	}
	return PlaceholderName(phone, sessionID)
}

// PlaceholderName is "Lead <last 4 of phone>", falling back to the session id.
func PlaceholderName(phone, sessionID string) string {
	src := phone
	if src == "" {
		src = sessionID
	}
	r := []rune(src)
	if len(r) > 4 {
		r = r[len(r)-4:]
	}
	return "Lead " + string(r)
}

func titleCase(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
