// Package sanitize strips upstream prompt and tool-call residue from stored
// chat message text, leaving only what a human actually typed or read.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxPasses bounds the fixed-point loops. Each pass either shrinks the text or
// ends the loop, so real inputs settle in two or three passes.
const maxPasses = 16

// minLength is the smallest cleaned message, in runes, worth keeping.
const minLength = 3

// Sanitizer cleans lead and agent message text. It is safe for concurrent use.
type Sanitizer struct {
	keyPos      *regexp.Regexp
	phrases     []*regexp.Regexp
	leadLabel   *regexp.Regexp
	extract     *regexp.Regexp
	metaLine    *regexp.Regexp
	metaInline  *regexp.Regexp
	announce    *regexp.Regexp
	toolOpener  *regexp.Regexp
	toolLabel   *regexp.Regexp
	toolResult  *regexp.Regexp
	sentinels   map[string]struct{}
	placeholder *regexp.Regexp
}

var (
	wsRun         = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)
	quotedArray   = regexp.MustCompile(`\[\s*"[^"\]\n]*"(?:\s*,\s*"[^"\]\n]*")*\s*\]`)
	jsonLine      = regexp.MustCompile(`^\s*"[^"]+"\s*:`)
	structureOnly = regexp.MustCompile(`^[\s\[\]{}",:0-9.\-]+$`)
	symbolsOnly   = regexp.MustCompile(`^[\p{N}\p{P}\p{S}\s]+$`)
)

// New compiles a Sanitizer from marker lists.
func New(m Markers) (*Sanitizer, error) {
	if len(m.InstructionKeys) == 0 {
		return nil, fmt.Errorf("markers: instruction_keys is empty")
	}

	s := &Sanitizer{sentinels: make(map[string]struct{}, len(m.Sentinels))}

	keys := make([]string, 0, len(m.InstructionKeys))
	for _, k := range m.InstructionKeys {
		keys = append(keys, regexp.QuoteMeta(k))
	}

	var err error
	if s.keyPos, err = regexp.Compile(`(?i)["']?\b(?:` + strings.Join(keys, "|") + `)\b["']?\s*[:=]`); err != nil {
		return nil, fmt.Errorf("markers: instruction keys: %w", err)
	}

	for _, p := range m.InstructionPhrases {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("markers: instruction phrase %q: %w", p, err)
		}
		s.phrases = append(s.phrases, re)
	}
	s.placeholder = regexp.MustCompile(`\{\{[^{}\n]*\}\}`)

	leadAlt := strings.Join(m.LeadLabels, "|")
	metaAlt := strings.Join(m.MetadataLabels, "|")
	if leadAlt != "" {
		if s.leadLabel, err = regexp.Compile(`(?i)(?:` + leadAlt + `)\s*:`); err != nil {
			return nil, fmt.Errorf("markers: lead labels: %w", err)
		}
		terminator := `$`
		if metaAlt != "" {
			terminator = `(?:(?:` + metaAlt + `)\s*:|$)`
		}
		if s.extract, err = regexp.Compile(`(?is)(?:` + leadAlt + `)\s*:\s*(.*?)\s*` + terminator); err != nil {
			return nil, fmt.Errorf("markers: extraction: %w", err)
		}
	}

	lineAlt := leadAlt
	if metaAlt != "" {
		if lineAlt != "" {
			lineAlt += "|"
		}
		lineAlt += metaAlt
	}
	if lineAlt != "" {
		if s.metaLine, err = regexp.Compile(`(?im)^[ \t]*(?:` + lineAlt + `)\s*:[^\n]*$`); err != nil {
			return nil, fmt.Errorf("markers: metadata lines: %w", err)
		}
	}
	if metaAlt != "" {
		if s.metaInline, err = regexp.Compile(`(?i)(?:` + metaAlt + `)\s*:\s*\S*`); err != nil {
			return nil, fmt.Errorf("markers: metadata labels: %w", err)
		}
	}
	if len(m.AnnouncementPatterns) > 0 {
		if s.announce, err = regexp.Compile(`(?im)^[ \t]*(?:` + strings.Join(m.AnnouncementPatterns, "|") + `)[^\n]*$`); err != nil {
			return nil, fmt.Errorf("markers: announcements: %w", err)
		}
	}

	if len(m.ToolTraceOpeners) > 0 {
		if s.toolOpener, err = regexp.Compile(`(?i)\[\s*(?:` + strings.Join(m.ToolTraceOpeners, "|") + `)`); err != nil {
			return nil, fmt.Errorf("markers: tool trace openers: %w", err)
		}
	}
	if len(m.ToolTraceLabels) > 0 {
		labels := make([]string, 0, len(m.ToolTraceLabels))
		for _, l := range m.ToolTraceLabels {
			labels = append(labels, regexp.QuoteMeta(l))
		}
		if s.toolLabel, err = regexp.Compile(`\b(?:` + strings.Join(labels, "|") + `)\s*:`); err != nil {
			return nil, fmt.Errorf("markers: tool trace labels: %w", err)
		}
	}
	if len(m.ToolResultKeys) > 0 {
		rk := make([]string, 0, len(m.ToolResultKeys))
		for _, k := range m.ToolResultKeys {
			rk = append(rk, regexp.QuoteMeta(k))
		}
		if s.toolResult, err = regexp.Compile(`(?i)["']?\b(?:` + strings.Join(rk, "|") + `)\b["']?\s*:`); err != nil {
			return nil, fmt.Errorf("markers: tool result keys: %w", err)
		}
	}

	for _, v := range m.Sentinels {
		s.sentinels[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return s, nil
}

// Default returns a Sanitizer built from DefaultMarkers.
func Default() *Sanitizer {
	s, err := New(DefaultMarkers())
	if err != nil {
		panic(err)
	}
	return s
}

// IsInstructionPayload reports whether text still carries prompt markers.
func (s *Sanitizer) IsInstructionPayload(text string) bool {
	if s.keyPos.MatchString(text) || s.placeholder.MatchString(text) {
		return true
	}
	for _, re := range s.phrases {
		for _, m := range re.FindAllString(text, -1) {
			if !leadVoiceRe.MatchString(m) {
				return true
			}
		}
	}
	return false
}

// StripInstructionFragments removes brace-delimited fragments that carry an
// instruction key, including unbalanced ones that run to the end of the text.
func (s *Sanitizer) StripInstructionFragments(text string) string {
	for i := 0; i < maxPasses; i++ {
		next := removeSpans(text, '{', func(body string) bool {
			return s.keyPos.MatchString(body)
		})
		if next == text {
			break
		}
		text = next
	}
	return text
}

// CleanLead returns the text the lead typed, or "" when none survives.
// CleanLead(CleanLead(x)) == CleanLead(x).
func (s *Sanitizer) CleanLead(raw string) string {
	return fixedPoint(raw, s.cleanLeadOnce)
}

// CleanAgent returns the conversational part of an agent message, or "" when
// none survives. CleanAgent(CleanAgent(x)) == CleanAgent(x).
func (s *Sanitizer) CleanAgent(raw string) string {
	return fixedPoint(raw, s.cleanAgentOnce)
}

func fixedPoint(text string, once func(string) string) string {
	out := once(text)
	for i := 0; i < maxPasses && out != ""; i++ {
		next := once(out)
		if next == out {
			return out
		}
		out = next
	}
	return out
}

func (s *Sanitizer) cleanLeadOnce(raw string) string {
	text := normalizeNewlines(raw)
	if strings.TrimSpace(text) == "" {
		return ""
	}

	text = s.StripInstructionFragments(text)
	text = s.StripInstructionSentences(text)

	if s.leadLabel != nil && s.leadLabel.MatchString(text) {
		extracted, ok := s.extractLead(text)
		if !ok {
			return ""
		}
		text = extracted
	} else {
		text = s.stripMetadata(text)
	}

	text = finalize(text)
	if !s.leadAcceptable(text) {
		return ""
	}
	return text
}

// extractLead takes the text after the lead label, up to the next metadata
// label. Repeated while the label is still present, so nested quoting of
// earlier turns collapses to the innermost message.
func (s *Sanitizer) extractLead(text string) (string, bool) {
	for i := 0; i < maxPasses && s.leadLabel.MatchString(text); i++ {
		m := s.extract.FindStringSubmatch(text)
		if m == nil {
			break
		}
		text = strings.TrimSpace(m[1])
		if text == "" {
			return "", false
		}
	}
	return text, true
}

// leadVoiceRe marks a phrase match written in the first person, such as
// "nunca fale comigo". Prompt rules address the assistant about the lead and
// never use these pronouns.
var leadVoiceRe = regexp.MustCompile(`(?i)\b(?:comigo|mim|me|eu|meu|minha|meus|minhas|my)\b`)

// StripInstructionSentences removes the known instruction phrases, except
// those in the lead's own voice, and template placeholders.
func (s *Sanitizer) StripInstructionSentences(text string) string {
	for _, re := range s.phrases {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			if leadVoiceRe.MatchString(m) {
				return m
			}
			return " "
		})
	}
	return s.placeholder.ReplaceAllString(text, " ")
}

func (s *Sanitizer) stripMetadata(text string) string {
	if s.metaLine != nil {
		text = s.metaLine.ReplaceAllString(text, "")
	}
	if s.metaInline != nil {
		text = s.metaInline.ReplaceAllString(text, " ")
	}
	return text
}

func (s *Sanitizer) leadAcceptable(text string) bool {
	if utf8.RuneCountInString(text) < minLength {
		return false
	}
	if s.IsInstructionPayload(text) {
		return false
	}
	if s.leadLabel != nil && s.leadLabel.MatchString(text) {
		return false
	}
	return true
}

func (s *Sanitizer) cleanAgentOnce(raw string) string {
	text := normalizeNewlines(raw)
	if strings.TrimSpace(text) == "" {
		return ""
	}

	text = s.removeToolTraces(text)
	if s.toolResult != nil {
		text = removeSpans(text, '{', func(body string) bool {
			return s.toolResult.MatchString(body)
		})
	}
	text = quotedArray.ReplaceAllString(text, " ")

	if s.announce != nil {
		text = s.announce.ReplaceAllString(text, "")
	}
	if s.metaLine != nil {
		text = s.metaLine.ReplaceAllString(text, "")
	}

	if s.HasToolTrace(text) {
		text = filterTraceLines(text, s.toolLabel)
	}

	text = s.removeSentinels(text)
	text = finalize(text)

	if utf8.RuneCountInString(text) < minLength || symbolsOnly.MatchString(text) {
		return ""
	}
	if s.HasToolTrace(text) {
		return ""
	}
	return text
}

func (s *Sanitizer) removeToolTraces(text string) string {
	if s.toolOpener == nil {
		return text
	}
	for i := 0; i < maxPasses; i++ {
		loc := s.toolOpener.FindStringIndex(text)
		if loc == nil {
			break
		}
		end := matchClose(text, loc[0])
		text = text[:loc[0]] + " " + text[end:]
	}
	return text
}

// HasToolTrace reports whether text still carries tool-call trace markers.
func (s *Sanitizer) HasToolTrace(text string) bool {
	if s.toolOpener != nil && s.toolOpener.MatchString(text) {
		return true
	}
	return s.toolLabel != nil && s.toolLabel.MatchString(text)
}

func (s *Sanitizer) removeSentinels(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		key := strings.ToUpper(strings.Trim(strings.TrimSpace(line), ".!:;"))
		if _, ok := s.sentinels[key]; ok {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// filterTraceLines keeps only lines that read like prose and joins them.
func filterTraceLines(text string, label *regexp.Regexp) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= 10 {
			continue
		}
		if strings.HasPrefix(line, "[") || strings.HasPrefix(line, "{") ||
			strings.HasSuffix(line, "]") || strings.HasSuffix(line, "}") {
			continue
		}
		if jsonLine.MatchString(line) || structureOnly.MatchString(line) {
			continue
		}
		if label != nil && label.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

// removeSpans deletes every top-level span opened by open whose body satisfies
// match. An unclosed span runs to the end of the text.
func removeSpans(text string, open byte, match func(body string) bool) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(text); i++ {
		if text[i] != open {
			continue
		}
		end := matchClose(text, i)
		if match(text[i:end]) {
			b.WriteString(text[last:i])
			b.WriteByte(' ')
			last = end
		}
		i = end - 1
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// matchClose returns the index just past the bracket that closes the one at
// start, counting both [] and {} and skipping double-quoted strings. Returns
// len(text) when the bracket is never closed.
func matchClose(text string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			case '\n':
				// Strings never span lines in the payloads we see; treat a
				// newline as the end of a stray quote.
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(text)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, `\n`, "\n")
}

const edgeJunk = " \t\n{}[]\"'`|,;:-–—"

// finalize collapses whitespace per line, drops empty lines and trims
// dangling structural characters from both ends.
func finalize(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(wsRun.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Trim(strings.Join(kept, "\n"), edgeJunk)
}
