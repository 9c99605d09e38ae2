package conversation

import "strings"

// PhoneRules describes how session identifiers map to phone numbers.
type PhoneRules struct {
	Suffixes    []string `yaml:"suffixes"`
	CountryCode string   `yaml:"country_code"`
	MinDigits   int      `yaml:"min_digits"`
	MaxDigits   int      `yaml:"max_digits"`
}

// DefaultPhoneRules are the Brazilian WhatsApp rules.
func DefaultPhoneRules() PhoneRules {
	return PhoneRules{
		Suffixes:    []string{"@s.whatsapp.net", "@c.us", "@g.us", "@lid"},
		CountryCode: "55",
		MinDigits:   10,
		MaxDigits:   11,
	}
}

// PhoneFromSessionID strips a known suffix, or takes the longest digit run,
// and normalizes the result. Returns "" when no usable phone is found.
func (r PhoneRules) PhoneFromSessionID(sessionID string) string {
	id := strings.TrimSpace(sessionID)
	lower := strings.ToLower(id)
	for _, suffix := range r.Suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return r.Normalize(id[:len(id)-len(suffix)])
		}
	}
	return r.Normalize(longestDigitRun(id))
}

// Normalize strips non-digits, a leading country code and trunk zero, then
// keeps the last MaxDigits. Returns "" when fewer than MinDigits remain.
func (r PhoneRules) Normalize(raw string) string {
	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()

	maxDigits := r.MaxDigits
	if maxDigits <= 0 {
		maxDigits = 11
	}
	if r.CountryCode != "" && len(digits) > maxDigits && strings.HasPrefix(digits, r.CountryCode) {
		digits = digits[len(r.CountryCode):]
	}
	digits = strings.TrimLeft(digits, "0")
	if len(digits) > maxDigits {
		digits = digits[len(digits)-maxDigits:]
	}
	if len(digits) < r.MinDigits {
		return ""
	}
	return digits
}

func longestDigitRun(s string) string {
	best, cur := "", strings.Builder{}
	flush := func() {
		if cur.Len() > len(best) {
			best = cur.String()
		}
		cur.Reset()
	}
	for _, c := range s {
		if c >= '0' && c <= '9' {
			cur.WriteRune(c)
			continue
		}
		flush()
	}
	flush()
	return best
}
