package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BRT is the fixed UTC-3 zone the upstream system writes local times in.
var BRT = time.FixedZone("BRT", -3*60*60)

const (
	minYear = 2020
	maxYear = 2100
)

// PayloadDetector recognises embedded prompt payloads.
type PayloadDetector interface {
	StripInstructionFragments(text string) string
	StripInstructionSentences(text string) string
	IsInstructionPayload(text string) bool
}

// TimestampResolver picks one authoritative time for a row.
type TimestampResolver struct {
	detector PayloadDetector
	now      func() time.Time
}

// NewTimestampResolver returns a resolver. A nil now uses time.Now.
func NewTimestampResolver(detector PayloadDetector, now func() time.Time) *TimestampResolver {
	if now == nil {
		now = time.Now
	}
	return &TimestampResolver{detector: detector, now: now}
}

// Resolve applies the sources in priority order: stored column, envelope
// createdAt, free text, then previous+1s or now. It never fails.
func (r *TimestampResolver) Resolve(stored *time.Time, envelopeCreatedAt *string, text string, previous *time.Time) (time.Time, TimestampSource) {
	if stored != nil && saneYear(*stored) {
		return *stored, SourceStored
	}
	if envelopeCreatedAt != nil {
		if t, ok := ParseTimestamp(*envelopeCreatedAt); ok {
			return t, SourceEnvelope
		}
	}
	if t, ok := r.fromText(text); ok {
		return t, SourceText
	}
	if previous != nil {
		return previous.Add(time.Second), SourceFallbackPrevious
	}
	return r.now(), SourceFallbackNow
}

// fromText ignores candidates inside instruction fragments and sentences, and
// skips the text entirely when what remains is still an instruction payload.
func (r *TimestampResolver) fromText(text string) (time.Time, bool) {
	if strings.TrimSpace(text) == "" {
		return time.Time{}, false
	}
	if r.detector != nil {
		text = r.detector.StripInstructionSentences(r.detector.StripInstructionFragments(text))
		if r.detector.IsInstructionPayload(text) {
			return time.Time{}, false
		}
	}
	return ExtractTimestamp(text)
}

var textExtractors = []func(string) (time.Time, bool){
	FromLabeledISO,
	FromTodayIsISO,
	FromBrazilianDateTime,
	FromBareISO,
	FromBrazilianDate,
}

// ExtractTimestamp tries each free-text format in order.
func ExtractTimestamp(text string) (time.Time, bool) {
	for _, extract := range textExtractors {
		if t, ok := extract(text); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

const isoPattern = `\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d{1,9})?)?(?:Z|[+-]\d{2}:?\d{2})?`

var (
	labeledISORe = regexp.MustCompile(`(?i)hor[áa]rio\s+(?:da\s+)?mensagem\s*:\s*(` + isoPattern + `)`)
	todayISORe   = regexp.MustCompile(`(?i)(?:hoje\s+[ée]|today\s+is)\s*:?\s*(` + isoPattern + `)`)
	bareISORe    = regexp.MustCompile(isoPattern)
	brDateTimeRe = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4}),?\s+(\d{2}):(\d{2})(?::(\d{2}))?`)
	brDateRe     = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
	epochRe      = regexp.MustCompile(`^\d{10}(?:\d{3})?$`)
)

// FromLabeledISO reads "Horário mensagem: <ISO>".
func FromLabeledISO(text string) (time.Time, bool) {
	return firstISO(labeledISORe, text)
}

// FromTodayIsISO reads "Hoje é: <ISO>" or "today is <ISO>".
func FromTodayIsISO(text string) (time.Time, bool) {
	return firstISO(todayISORe, text)
}

// FromBareISO reads the first ISO-8601 value anywhere in the text.
func FromBareISO(text string) (time.Time, bool) {
	for _, m := range bareISORe.FindAllString(text, -1) {
		if t, ok := parseISO(m); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromBrazilianDateTime reads "DD/MM/YYYY, HH:MM(:SS)" in BRT.
func FromBrazilianDateTime(text string) (time.Time, bool) {
	for _, m := range brDateTimeRe.FindAllStringSubmatch(text, -1) {
		sec := 0
		if m[6] != "" {
			sec = atoi(m[6])
		}
		if t, ok := civil(atoi(m[3]), atoi(m[2]), atoi(m[1]), atoi(m[4]), atoi(m[5]), sec); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromBrazilianDate reads "DD/MM/YYYY" as noon BRT.
func FromBrazilianDate(text string) (time.Time, bool) {
	for _, m := range brDateRe.FindAllStringSubmatch(text, -1) {
		if t, ok := civil(atoi(m[3]), atoi(m[2]), atoi(m[1]), 12, 0, 0); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimestamp reads a structured timestamp value: ISO-8601 or unix
// seconds/milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if epochRe.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		var t time.Time
		if len(s) == 13 {
			t = time.UnixMilli(n)
		} else {
			t = time.Unix(n, 0)
		}
		return t, saneYear(t)
	}
	return parseISO(s)
}

func firstISO(re *regexp.Regexp, text string) (time.Time, bool) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if t, ok := parseISO(m[1]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var (
	zonedLayouts = []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02T15:04:05.999999999Z07",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04Z0700",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
	}
)

// parseISO parses an ISO-8601 value. Values without a zone are read as BRT.
func parseISO(s string) (time.Time, bool) {
	s = strings.Replace(strings.TrimSpace(s), " ", "T", 1)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, saneYear(t)
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, BRT); err == nil {
			return t, saneYear(t)
		}
	}
	return time.Time{}, false
}

// civil builds a BRT time and rejects dates that do not exist.
func civil(year, month, day, hour, minute, sec int) (time.Time, bool) {
	if month < 1 || month > 12 || hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, BRT)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, saneYear(t)
}

func saneYear(t time.Time) bool {
	y := t.Year()
	return y >= minYear && y <= maxYear
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
