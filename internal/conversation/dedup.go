package conversation

import (
	"strings"
	"unicode/utf8"
)

// DefaultDuplicateThreshold is the similarity at or above which two agent
// messages are considered the same message re-emitted.
const DefaultDuplicateThreshold = 0.60

const (
	leadingWords       = 10
	leadingLengthSlack = 50
	minJaccardWordLen  = 3
)

// Deduplicator removes exact and near-duplicate messages within a session.
type Deduplicator struct {
	Threshold float64
}

// NewDeduplicator returns a Deduplicator. A non-positive threshold uses the default.
func NewDeduplicator(threshold float64) Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDuplicateThreshold
	}
	return Deduplicator{Threshold: threshold}
}

// Filter returns msgs without duplicates, keeping the first occurrence and
// preserving order. Each message is compared against every kept message.
func (d Deduplicator) Filter(msgs []NormalizedMessage) []NormalizedMessage {
	kept := make([]NormalizedMessage, 0, len(msgs))
	for _, m := range msgs {
		dup := false
		for _, k := range kept {
			if d.IsDuplicate(k, m) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, m)
		}
	}
	return kept
}

// IsDuplicate reports whether b repeats a. Exact matches count for any role;
// fuzzy matches only for the agent, since short lead replies ("sim", "ok")
// legitimately repeat.
func (d Deduplicator) IsDuplicate(a, b NormalizedMessage) bool {
	if a.Role != b.Role {
		return false
	}
	na, nb := normalizeContent(a.Content), normalizeContent(b.Content)
	if na == nb {
		return true
	}
	if a.Role != RoleAgent {
		return false
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	return Similarity(a.Content, b.Content) >= threshold || SharesLeadingWords(a.Content, b.Content)
}

// Similarity scores two texts in [0,1]: 1 when equal after normalization,
// length ratio when one contains the other, otherwise Jaccard over words of
// three or more characters.
func Similarity(a, b string) float64 {
	na, nb := normalizeContent(a), normalizeContent(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}

	shorter, longer := na, nb
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		return float64(utf8.RuneCountInString(shorter)) / float64(utf8.RuneCountInString(longer))
	}

	sa, sb := wordSet(na), wordSet(nb)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// SharesLeadingWords reports whether the first ten words match and the texts
// differ in length by fewer than fifty characters. Catches template messages
// with a small substituted variable or an appended emoji.
func SharesLeadingWords(a, b string) bool {
	wa, wb := words(normalizeContent(a)), words(normalizeContent(b))
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}
	if len(wa) > leadingWords {
		wa = wa[:leadingWords]
	}
	if len(wb) > leadingWords {
		wb = wb[:leadingWords]
	}
	if len(wa) != len(wb) {
		return false
	}
	for i := range wa {
		if wa[i] != wb[i] {
			return false
		}
	}
	diff := utf8.RuneCountInString(strings.TrimSpace(a)) - utf8.RuneCountInString(strings.TrimSpace(b))
	if diff < 0 {
		diff = -diff
	}
	return diff < leadingLengthSlack
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(s) {
		if utf8.RuneCountInString(w) >= minJaccardWordLen {
			set[w] = struct{}{}
		}
	}
	return set
}
