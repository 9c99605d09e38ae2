package store

import (
	"context"
	"fmt"

	"github.com/brunao23/GerenciaBH-sub000/internal/classifier"
)

// LoadStatuses returns the stored status of every lead, keyed by lead id.
// Rows with an unrecognised status are skipped.
func (s *Store) LoadStatuses(ctx context.Context, table string) (map[string]classifier.StoredStatus, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT lead_id, status, COALESCE(is_manual_override, false), manual_override_at
		FROM %s`, quote(table)))
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]classifier.StoredStatus)
	for rows.Next() {
		var st classifier.StoredStatus
		var raw string
		if err := rows.Scan(&st.LeadID, &raw, &st.IsManualOverride, &st.ManualOverrideAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		status, ok := classifier.ParseStatus(raw)
		if !ok {
			continue
		}
		st.Status = status
		out[st.LeadID] = st
	}
	return out, rows.Err()
}

// LoadActiveFollowUps returns the active follow-up records of a tenant.
func (s *Store) LoadActiveFollowUps(ctx context.Context, table string) ([]classifier.FollowUpRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT phone_number, is_active, COALESCE(attempt_count, 0), next_followup_at, last_interaction_at
		FROM %s
		WHERE is_active`, quote(table)))
	if err != nil {
		return nil, fmt.Errorf("query follow-ups: %w", err)
	}
	defer rows.Close()

	var out []classifier.FollowUpRecord
	for rows.Next() {
		var f classifier.FollowUpRecord
		if err := rows.Scan(&f.PhoneNumber, &f.IsActive, &f.AttemptCount, &f.NextFollowUpAt, &f.LastInteractionAt); err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertAutoStatus records an auto-classified status for a lead.
func (s *Store) UpsertAutoStatus(ctx context.Context, table string, u classifier.StatusUpdate) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (lead_id, status, auto_classified, last_auto_classification_at, is_manual_override, updated_at)
		VALUES ($1, $2, $3, $4, false, now())
		ON CONFLICT (lead_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			auto_classified = EXCLUDED.auto_classified,
			last_auto_classification_at = EXCLUDED.last_auto_classification_at,
			is_manual_override = false,
			updated_at = now()`, quote(table)),
		u.LeadID, string(u.Status), u.AutoClassified, u.LastAutoClassificationAt,
	)
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}
