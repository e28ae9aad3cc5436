package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) SaveSegment(seg Segment) error {
	var endedAt any
	if !seg.EndedAt.IsZero() {
		endedAt = seg.EndedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO segments (id, path, started_at, ended_at, analyzed, analysis_failures, activity_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		seg.ID, seg.Path, seg.StartedAt.UTC().Format(time.RFC3339), endedAt,
		boolToInt(seg.Analyzed), seg.AnalysisFailures, nullableString(seg.ActivityID),
	)
	return err
}

func (s *Store) GetSegment(id string) (Segment, error) {
	row := s.db.QueryRow(`
		SELECT id, path, started_at, ended_at, analyzed, analysis_failures, activity_id
		FROM segments WHERE id = ?`, id)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return Segment{}, ErrNotFound
	}
	return seg, err
}

// PendingSegments returns up to limit finished, unanalyzed segments that
// have not exhausted their analysis attempts, oldest first.
func (s *Store) PendingSegments(limit, maxFailures int) ([]Segment, error) {
	rows, err := s.db.Query(`
		SELECT id, path, started_at, ended_at, analyzed, analysis_failures, activity_id
		FROM segments
		WHERE analyzed = 0 AND ended_at IS NOT NULL AND analysis_failures < ?
		ORDER BY started_at ASC
		LIMIT ?`, maxFailures, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSegments(rows)
}

// MarkAnalyzed flips the analyzed flag after a successful analysis.
func (s *Store) MarkAnalyzed(id string) error {
	res, err := s.db.Exec(`UPDATE segments SET analyzed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordAnalysisFailure increments the failure counter. Segments at or
// above the caller's cap are excluded from future PendingSegments batches.
func (s *Store) RecordAnalysisFailure(id string) error {
	res, err := s.db.Exec(`UPDATE segments SET analysis_failures = analysis_failures + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UngroupedAnalyses returns analyses whose segments are analyzed but not
// yet linked to an activity, ordered by segment start time. The segment's
// timing travels with each analysis.
func (s *Store) UngroupedAnalyses() ([]Analysis, map[string]Segment, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.segment_id, a.app, a.category, a.description, a.tags,
		       a.productivity, a.focus, a.summary, a.project_hint, a.accomplishments,
		       a.continuation, a.created_at,
		       s.id, s.path, s.started_at, s.ended_at, s.analyzed, s.analysis_failures, s.activity_id
		FROM analyses a
		JOIN segments s ON s.id = a.segment_id
		WHERE s.analyzed = 1 AND s.activity_id IS NULL
		ORDER BY s.started_at ASC`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var analyses []Analysis
	segments := make(map[string]Segment)
	for rows.Next() {
		var a Analysis
		var createdAt string
		var seg Segment
		var segStarted string
		var segEnded, segActivity sql.NullString
		var analyzed int
		if err := rows.Scan(
			&a.ID, &a.SegmentID, &a.App, &a.Category, &a.Description, &a.Tags,
			&a.Productivity, &a.Focus, &a.Summary, &a.ProjectHint, &a.Accomplishments,
			&a.Continuation, &createdAt,
			&seg.ID, &seg.Path, &segStarted, &segEnded, &analyzed, &seg.AnalysisFailures, &segActivity,
		); err != nil {
			return nil, nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, nil, fmt.Errorf("parsing created_at for analysis %s: %w", a.ID, err)
		}
		seg.Analyzed = analyzed != 0
		seg.ActivityID = segActivity.String
		if seg.StartedAt, err = parseTime(segStarted); err != nil {
			return nil, nil, fmt.Errorf("parsing started_at for segment %s: %w", seg.ID, err)
		}
		if segEnded.Valid {
			if seg.EndedAt, err = parseTime(segEnded.String); err != nil {
				return nil, nil, fmt.Errorf("parsing ended_at for segment %s: %w", seg.ID, err)
			}
		}
		analyses = append(analyses, a)
		segments[seg.ID] = seg
	}
	return analyses, segments, rows.Err()
}

func (s *Store) SaveAnalysis(a Analysis) error {
	_, err := s.db.Exec(`
		INSERT INTO analyses (id, segment_id, app, category, description, tags,
			productivity, focus, summary, project_hint, accomplishments, continuation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SegmentID, a.App, a.Category, a.Description, a.Tags,
		a.Productivity, a.Focus, a.Summary, a.ProjectHint, a.Accomplishments,
		boolToInt(a.Continuation), a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetAnalysisBySegment(segmentID string) (Analysis, error) {
	var a Analysis
	var createdAt string
	var continuation int
	err := s.db.QueryRow(`
		SELECT id, segment_id, app, category, description, tags, productivity,
		       focus, summary, project_hint, accomplishments, continuation, created_at
		FROM analyses WHERE segment_id = ?`, segmentID,
	).Scan(&a.ID, &a.SegmentID, &a.App, &a.Category, &a.Description, &a.Tags,
		&a.Productivity, &a.Focus, &a.Summary, &a.ProjectHint, &a.Accomplishments,
		&continuation, &createdAt)
	if err == sql.ErrNoRows {
		return Analysis{}, ErrNotFound
	}
	if err != nil {
		return Analysis{}, err
	}
	a.Continuation = continuation != 0
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Analysis{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return a, nil
}

// CompleteAnalysis persists the analysis and marks its segment analyzed
// in one transaction so a crash cannot leave the two out of step.
func (s *Store) CompleteAnalysis(a Analysis) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning analysis transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO analyses (id, segment_id, app, category, description, tags,
			productivity, focus, summary, project_hint, accomplishments, continuation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SegmentID, a.App, a.Category, a.Description, a.Tags,
		a.Productivity, a.Focus, a.Summary, a.ProjectHint, a.Accomplishments,
		boolToInt(a.Continuation), a.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting analysis for segment %s: %w", a.SegmentID, err)
	}

	if _, err := tx.Exec(`UPDATE segments SET analyzed = 1 WHERE id = ?`, a.SegmentID); err != nil {
		return fmt.Errorf("marking segment %s analyzed: %w", a.SegmentID, err)
	}

	return tx.Commit()
}

type segScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row segScanner) (Segment, error) {
	var seg Segment
	var started string
	var ended, activity sql.NullString
	var analyzed int
	err := row.Scan(&seg.ID, &seg.Path, &started, &ended, &analyzed, &seg.AnalysisFailures, &activity)
	if err != nil {
		return Segment{}, err
	}
	seg.Analyzed = analyzed != 0
	seg.ActivityID = activity.String
	if seg.StartedAt, err = parseTime(started); err != nil {
		return Segment{}, fmt.Errorf("parsing started_at for segment %s: %w", seg.ID, err)
	}
	if ended.Valid {
		if seg.EndedAt, err = parseTime(ended.String); err != nil {
			return Segment{}, fmt.Errorf("parsing ended_at for segment %s: %w", seg.ID, err)
		}
	}
	return seg, nil
}

func scanSegments(rows *sql.Rows) ([]Segment, error) {
	var segments []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
