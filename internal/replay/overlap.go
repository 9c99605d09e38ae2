package replay

import (
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
)

// overlapWindow is the tolerance for matching row timestamps across exports.
const overlapWindow = 1 * time.Second

// overlapThreshold is the fraction of timestamps that must match for two
// exports to count as the same history.
const overlapThreshold = 0.8

type fingerprint struct {
	Path       string
	Source     FileSource
	Timestamps []time.Time
}

func buildFingerprint(path string, source FileSource, rows []conversation.RawMessageRow) fingerprint {
	fp := fingerprint{Path: path, Source: source}
	for _, r := range rows {
		if r.StoredTimestamp != nil && !r.StoredTimestamp.IsZero() {
			fp.Timestamps = append(fp.Timestamps, *r.StoredTimestamp)
		}
	}
	return fp
}

// findDuplicates returns the paths of secondary exports whose rows are
// already covered by a preferred export.
func findDuplicates(preferred, secondary []fingerprint) map[string]bool {
	duplicates := make(map[string]bool)

	for _, s := range secondary {
		if len(s.Timestamps) == 0 {
			continue
		}
		for _, p := range preferred {
			if isOverlapping(p, s) {
				duplicates[s.Path] = true
				break
			}
		}
	}

	return duplicates
}

// isOverlapping checks whether at least overlapThreshold of b's timestamps
// appear in a within overlapWindow.
func isOverlapping(a, b fingerprint) bool {
	if len(b.Timestamps) == 0 {
		return false
	}

	matches := 0
	for _, bt := range b.Timestamps {
		for _, at := range a.Timestamps {
			diff := bt.Sub(at)
			if diff < 0 {
				diff = -diff
			}
			if diff <= overlapWindow {
				matches++
				break
			}
		}
	}

	return float64(matches)/float64(len(b.Timestamps)) >= overlapThreshold
}
