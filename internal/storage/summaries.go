package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertSummary writes one summary per (period, date_key); regeneration
// replaces the content rather than adding a row.
func (s *Store) UpsertSummary(sum Summary) error {
	_, err := s.db.Exec(`
		INSERT INTO summaries (id, period, date_key, content, source_activity_ids, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(period, date_key) DO UPDATE SET
			content = excluded.content,
			source_activity_ids = excluded.source_activity_ids,
			generated_at = excluded.generated_at`,
		sum.ID, sum.Period, sum.DateKey, sum.Content, sum.SourceActivityIDs,
		sum.GeneratedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSummary(period, dateKey string) (Summary, error) {
	var sum Summary
	var generatedAt string
	err := s.db.QueryRow(`
		SELECT id, period, date_key, content, source_activity_ids, generated_at
		FROM summaries WHERE period = ? AND date_key = ?`, period, dateKey,
	).Scan(&sum.ID, &sum.Period, &sum.DateKey, &sum.Content, &sum.SourceActivityIDs, &generatedAt)
	if err == sql.ErrNoRows {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, err
	}
	if sum.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return Summary{}, fmt.Errorf("parsing generated_at: %w", err)
	}
	return sum, nil
}

// LastSummaryDate returns the most recent date_key generated for a
// period, or "" when none exists. Guards against duplicate daily runs
// after a restart.
func (s *Store) LastSummaryDate(period string) (string, error) {
	var dateKey string
	err := s.db.QueryRow(`
		SELECT date_key FROM summaries WHERE period = ? ORDER BY date_key DESC LIMIT 1`, period,
	).Scan(&dateKey)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return dateKey, err
}
