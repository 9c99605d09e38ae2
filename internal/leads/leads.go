// Package leads resolves sessions into one identity per real-world contact.
package leads

import (
	"sort"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
)

// Identity is one contact with the session that represents it.
type Identity struct {
	Key             string               `json:"key"`
	NormalizedPhone string               `json:"normalized_phone,omitempty"`
	Session         conversation.Session `json:"session"`
	Merged          []string             `json:"merged,omitempty"`
}

// MergeResult summarizes a merge pass.
type MergeResult struct {
	TotalSessions int           `json:"total_sessions"`
	Groups        int           `json:"groups"`
	Merged        int           `json:"merged"`
	Details       []GroupDetail `json:"details,omitempty"`
}

// GroupDetail describes one phone group that had more than one session.
type GroupDetail struct {
	Key        string   `json:"key"`
	SurvivorID string   `json:"survivor_id"`
	MergedIDs  []string `json:"merged_ids"`
	Size       int      `json:"size"`
}

// Key is the grouping key: the normalized phone, or the session id when the
// phone is unusable so such sessions are never merged.
func Key(s conversation.Session) string {
	return s.LeadID()
}

// Merge groups sessions by phone and keeps the most recent session of each
// group. Identities are returned most recent first.
func Merge(sessions []conversation.Session) ([]Identity, MergeResult) {
	groups := make(map[string][]conversation.Session)
	var order []string
	for _, s := range sessions {
		k := Key(s)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}

	result := MergeResult{TotalSessions: len(sessions), Groups: len(groups)}
	identities := make([]Identity, 0, len(groups))
	for _, k := range order {
		members := groups[k]
		best := members[0]
		for _, s := range members[1:] {
			if isBetter(s, best) {
				best = s
			}
		}

		id := Identity{Key: k, NormalizedPhone: best.NormalizedPhone, Session: best}
		for _, s := range members {
			if s.SessionID != best.SessionID {
				id.Merged = append(id.Merged, s.SessionID)
			}
		}
		if len(id.Merged) > 0 {
			sort.Strings(id.Merged)
			result.Merged += len(id.Merged)
			result.Details = append(result.Details, GroupDetail{
				Key:        k,
				SurvivorID: best.SessionID,
				MergedIDs:  id.Merged,
				Size:       len(members),
			})
		}
		identities = append(identities, id)
	}

	sort.SliceStable(identities, func(i, j int) bool {
		return isBetter(identities[i].Session, identities[j].Session)
	})
	return identities, result
}

// isBetter determines if session a should survive over session b.
func isBetter(a, b conversation.Session) bool {
	// 1. Latest activity wins
	if !a.LastActivityAt.Equal(b.LastActivityAt) {
		return a.LastActivityAt.After(b.LastActivityAt)
	}

	// 2. More messages break ties
	if len(a.Messages) != len(b.Messages) {
		return len(a.Messages) > len(b.Messages)
	}

	// 3. Greater session id keeps the choice deterministic
	return a.SessionID > b.SessionID
}
