package habit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/storage"
)

// HabitStore abstracts the storage operations the detector needs.
// Implemented by storage.Store.
type HabitStore interface {
	ActivitiesByRange(from, to time.Time) ([]storage.Activity, error)
	ListHabits() ([]storage.Habit, error)
	UpsertHabit(h storage.Habit) error
	SetHabitConfidence(id string, confidence float64) error
	DeleteHabit(id string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Detector mines habits from the rolling session window and ages out
// patterns that stop recurring.
type Detector struct {
	store  HabitStore
	th     Thresholds
	clock  Clock
	logger *slog.Logger
}

func NewDetector(store HabitStore, th Thresholds) *Detector {
	if th.MinOccurrences == 0 {
		th = DefaultThresholds()
	}
	return &Detector{store: store, th: th, clock: realClock{}, logger: slog.Default()}
}

// NewDetectorWithClock creates a Detector with a custom clock (for testing).
func NewDetectorWithClock(store HabitStore, th Thresholds, clock Clock) *Detector {
	d := NewDetector(store, th)
	d.clock = clock
	return d
}

// expectedPeriod is how often a habit of the given kind is expected to
// recur; decay starts once a habit misses twice this period.
func expectedPeriod(kind string) time.Duration {
	if kind == storage.HabitSequence {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// RunOnce mines the rolling window and reconciles the habit table:
// freshly detected patterns are upserted with recomputed confidence,
// stale ones are decayed by the configured fraction, and anything below
// the confidence floor is deleted.
func (d *Detector) RunOnce(ctx context.Context) error {
	now := d.clock.Now().UTC()
	sessions, err := d.store.ActivitiesByRange(now.Add(-d.th.Window), now)
	if err != nil {
		return fmt.Errorf("loading session window: %w", err)
	}

	detected := make(map[string]bool)
	for _, p := range MinePatterns(sessions, d.th) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detected[p.Kind+"|"+p.Signature] = true
		h := storage.Habit{
			ID:         uuid.New().String(),
			Kind:       p.Kind,
			Signature:  p.Signature,
			Payload:    p.Payload,
			Confidence: p.Confidence,
			FirstSeen:  now,
			LastSeen:   now,
		}
		if err := d.store.UpsertHabit(h); err != nil {
			d.logger.Warn("upserting habit failed", "kind", p.Kind, "signature", p.Signature, "error", err)
		}
	}

	return d.decayStale(ctx, now, detected)
}

// decayStale reduces confidence on habits that were not re-detected
// within twice their expected recurrence period. LastSeen is left
// untouched so repeated non-detection keeps decaying the habit until it
// falls through the floor and is deleted.
func (d *Detector) decayStale(ctx context.Context, now time.Time, detected map[string]bool) error {
	habits, err := d.store.ListHabits()
	if err != nil {
		return fmt.Errorf("listing habits: %w", err)
	}

	for _, h := range habits {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if detected[h.Kind+"|"+h.Signature] {
			continue
		}
		if now.Sub(h.LastSeen) <= 2*expectedPeriod(h.Kind) {
			continue
		}
		decayed := h.Confidence * (1 - d.th.DecayFactor)
		if decayed < d.th.MinConfidence {
			if err := d.store.DeleteHabit(h.ID); err != nil {
				d.logger.Warn("deleting stale habit failed", "habit_id", h.ID, "error", err)
			}
			continue
		}
		if err := d.store.SetHabitConfidence(h.ID, decayed); err != nil {
			d.logger.Warn("decaying habit failed", "habit_id", h.ID, "error", err)
		}
	}
	return nil
}
