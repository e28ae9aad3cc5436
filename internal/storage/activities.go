package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveActivity inserts the activity and back-fills activity_id on its
// segments in one transaction, keeping the linkage invariant atomic.
func (s *Store) SaveActivity(a Activity, segmentIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning activity transaction: %w", err)
	}
	defer tx.Rollback()

	var projectID any
	if a.ProjectID != "" {
		projectID = a.ProjectID
	}
	if _, err := tx.Exec(`
		INSERT INTO activities (id, started_at, ended_at, app, category, title, tags, project_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StartedAt.UTC().Format(time.RFC3339), a.EndedAt.UTC().Format(time.RFC3339),
		a.App, a.Category, a.Title, a.Tags, projectID, a.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}

	for _, segID := range segmentIDs {
		res, err := tx.Exec(`UPDATE segments SET activity_id = ? WHERE id = ? AND activity_id IS NULL`, a.ID, segID)
		if err != nil {
			return fmt.Errorf("linking segment %s: %w", segID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("segment %s already linked to another activity", segID)
		}
	}

	return tx.Commit()
}

// ActivitiesByRange returns activities overlapping [from, to), oldest first.
func (s *Store) ActivitiesByRange(from, to time.Time) ([]Activity, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, ended_at, app, category, title, tags, project_id, created_at
		FROM activities
		WHERE ended_at > ? AND started_at < ?
		ORDER BY started_at ASC`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ActivitiesWithoutProject returns activities lacking a project, oldest first.
func (s *Store) ActivitiesWithoutProject() ([]Activity, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, ended_at, app, category, title, tags, project_id, created_at
		FROM activities
		WHERE project_id IS NULL
		ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// SetActivityProject back-fills the project link. The only mutation an
// activity receives after creation.
func (s *Store) SetActivityProject(activityID, projectID string) error {
	res, err := s.db.Exec(`UPDATE activities SET project_id = ? WHERE id = ?`, projectID, activityID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SegmentIDsForActivity returns the ids of the segments linked to an
// activity, ordered by start time.
func (s *Store) SegmentIDsForActivity(activityID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM segments WHERE activity_id = ? ORDER BY started_at ASC`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AnalysesForActivities returns the analyses behind a set of activities,
// keyed by activity id. Used by project hint voting and summaries.
func (s *Store) AnalysesForActivities(activityIDs []string) (map[string][]Analysis, error) {
	if len(activityIDs) == 0 {
		return map[string][]Analysis{}, nil
	}

	args := make([]any, len(activityIDs))
	for i, id := range activityIDs {
		args[i] = id
	}
	query := `
		SELECT s.activity_id, a.id, a.segment_id, a.app, a.category, a.description, a.tags,
		       a.productivity, a.focus, a.summary, a.project_hint, a.accomplishments,
		       a.continuation, a.created_at
		FROM analyses a
		JOIN segments s ON s.id = a.segment_id
		WHERE s.activity_id IN (?` + strings.Repeat(",?", len(activityIDs)-1) + `)
		ORDER BY s.started_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]Analysis)
	for rows.Next() {
		var activityID, createdAt string
		var a Analysis
		var continuation int
		if err := rows.Scan(&activityID, &a.ID, &a.SegmentID, &a.App, &a.Category,
			&a.Description, &a.Tags, &a.Productivity, &a.Focus, &a.Summary,
			&a.ProjectHint, &a.Accomplishments, &continuation, &createdAt); err != nil {
			return nil, err
		}
		a.Continuation = continuation != 0
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for analysis %s: %w", a.ID, err)
		}
		result[activityID] = append(result[activityID], a)
	}
	return result, rows.Err()
}

func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var activities []Activity
	for rows.Next() {
		var a Activity
		var started, ended, createdAt string
		var projectID sql.NullString
		if err := rows.Scan(&a.ID, &started, &ended, &a.App, &a.Category, &a.Title, &a.Tags, &projectID, &createdAt); err != nil {
			return nil, err
		}
		a.ProjectID = projectID.String
		var err error
		if a.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parsing started_at for activity %s: %w", a.ID, err)
		}
		if a.EndedAt, err = parseTime(ended); err != nil {
			return nil, fmt.Errorf("parsing ended_at for activity %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for activity %s: %w", a.ID, err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
