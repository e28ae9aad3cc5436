package storage

import (
	"fmt"
	"time"
)

// UpsertHabit inserts a habit or, when (kind, signature) already exists,
// refreshes its payload, confidence, and last_seen.
func (s *Store) UpsertHabit(h Habit) error {
	_, err := s.db.Exec(`
		INSERT INTO habits (id, kind, signature, payload, confidence, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, signature) DO UPDATE SET
			payload = excluded.payload,
			confidence = excluded.confidence,
			last_seen = excluded.last_seen`,
		h.ID, h.Kind, h.Signature, h.Payload, h.Confidence,
		h.FirstSeen.UTC().Format(time.RFC3339), h.LastSeen.UTC().Format(time.RFC3339),
	)
	return err
}

// ListHabits returns all habits, highest confidence first.
func (s *Store) ListHabits() ([]Habit, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, signature, payload, confidence, first_seen, last_seen
		FROM habits ORDER BY confidence DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var habits []Habit
	for rows.Next() {
		var h Habit
		var firstSeen, lastSeen string
		if err := rows.Scan(&h.ID, &h.Kind, &h.Signature, &h.Payload, &h.Confidence, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		if h.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, fmt.Errorf("parsing first_seen for habit %s: %w", h.ID, err)
		}
		if h.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("parsing last_seen for habit %s: %w", h.ID, err)
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// SetHabitConfidence overwrites a habit's confidence (decay pass).
func (s *Store) SetHabitConfidence(id string, confidence float64) error {
	res, err := s.db.Exec(`UPDATE habits SET confidence = ? WHERE id = ?`, confidence, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteHabit(id string) error {
	res, err := s.db.Exec(`DELETE FROM habits WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}
