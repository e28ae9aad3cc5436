// Package summary rolls activity sessions up into narrative summaries,
// one per period, persisted in the store and rendered to the notes tree
// the search index treats as its source of truth.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/storage"
)

// SummaryStore abstracts the storage operations the generator needs.
// Implemented by storage.Store.
type SummaryStore interface {
	ActivitiesByRange(from, to time.Time) ([]storage.Activity, error)
	AnalysesForActivities(activityIDs []string) (map[string][]storage.Analysis, error)
	UpsertSummary(sum storage.Summary) error
	LastSummaryDate(period string) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options control the off-by-default longer periods. Weekly summaries
// cover the previous ISO week and run on Mondays; monthly summaries
// cover the previous month and run on the 1st. Both reuse the daily
// trigger and rely on the (period, date_key) upsert for idempotency.
type Options struct {
	Weekly  bool
	Monthly bool
}

// Generator produces daily (and optionally weekly/monthly) summaries.
type Generator struct {
	store       SummaryStore
	slot        *ai.Slot
	notesDir    string
	opts        Options
	callTimeout time.Duration
	clock       Clock
	logger      *slog.Logger
}

func NewGenerator(store SummaryStore, slot *ai.Slot, notesDir string, opts Options) *Generator {
	return &Generator{
		store:       store,
		slot:        slot,
		notesDir:    notesDir,
		opts:        opts,
		callTimeout: 120 * time.Second,
		clock:       realClock{},
		logger:      slog.Default(),
	}
}

// NewGeneratorWithClock creates a Generator with a custom clock (for testing).
func NewGeneratorWithClock(store SummaryStore, slot *ai.Slot, notesDir string, opts Options, clock Clock) *Generator {
	g := NewGenerator(store, slot, notesDir, opts)
	g.clock = clock
	return g
}

// RunOnce is the daily trigger. It summarizes the current date unless
// the store shows that date already summarized, which makes restarts
// within the same day safe. Enabled weekly/monthly periods piggyback on
// the same trigger at their own boundaries.
func (g *Generator) RunOnce(ctx context.Context) error {
	now := g.clock.Now()
	dateKey := now.Format("2006-01-02")

	last, err := g.store.LastSummaryDate(storage.PeriodDay)
	if err != nil {
		return fmt.Errorf("checking last summary date: %w", err)
	}
	if last != dateKey {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if err := g.Generate(ctx, storage.PeriodDay, dateKey, dayStart, dayStart.Add(24*time.Hour)); err != nil {
			return err
		}
	}

	if g.opts.Weekly && now.Weekday() == time.Monday {
		weekStart := truncateToDay(now).AddDate(0, 0, -7)
		year, week := weekStart.ISOWeek()
		key := fmt.Sprintf("%d-W%02d", year, week)
		if err := g.Generate(ctx, storage.PeriodWeek, key, weekStart, weekStart.AddDate(0, 0, 7)); err != nil {
			g.logger.Warn("weekly summary failed", "date_key", key, "error", err)
		}
	}

	if g.opts.Monthly && now.Day() == 1 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		key := monthStart.Format("2006-01")
		if err := g.Generate(ctx, storage.PeriodMonth, key, monthStart, monthStart.AddDate(0, 1, 0)); err != nil {
			g.logger.Warn("monthly summary failed", "date_key", key, "error", err)
		}
	}

	return nil
}

// Generate builds and persists one summary covering [from, to), then
// renders it into the notes tree. Regeneration for an existing
// (period, date_key) replaces the prior row and file.
func (g *Generator) Generate(ctx context.Context, period, dateKey string, from, to time.Time) error {
	sessions, err := g.store.ActivitiesByRange(from, to)
	if err != nil {
		return fmt.Errorf("loading sessions for %s %s: %w", period, dateKey, err)
	}
	if len(sessions) == 0 {
		return nil
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	analyses, err := g.store.AnalysesForActivities(ids)
	if err != nil {
		return fmt.Errorf("loading analyses for %s %s: %w", period, dateKey, err)
	}

	content := g.narrate(ctx, sessions, analyses)

	sum := storage.Summary{
		ID:                uuid.New().String(),
		Period:            period,
		DateKey:           dateKey,
		Content:           content,
		SourceActivityIDs: marshalList(ids),
		GeneratedAt:       g.clock.Now().UTC(),
	}
	if err := g.store.UpsertSummary(sum); err != nil {
		return fmt.Errorf("persisting %s summary %s: %w", period, dateKey, err)
	}

	if err := g.render(period, dateKey, content); err != nil {
		return fmt.Errorf("rendering %s summary %s: %w", period, dateKey, err)
	}
	return nil
}

// narrate asks the attached text model for a narrative; with no client
// attached, or on model error, it falls back to the deterministic
// template so a summary is always produced.
func (g *Generator) narrate(ctx context.Context, sessions []storage.Activity, analyses map[string][]storage.Analysis) string {
	client, ok := g.slot.Get()
	if !ok {
		return renderTemplate(sessions)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	narrative, err := client.Summarize(callCtx, buildCorpus(sessions, analyses), summarizePrompt)
	if err != nil || narrative == "" {
		g.logger.Warn("model summary failed, using template", "error", err)
		return renderTemplate(sessions)
	}
	return narrative
}

// render writes the summary markdown under notesDir, one subdirectory
// per period. These files are what the search indexer crawls.
func (g *Generator) render(period, dateKey, content string) error {
	dir := filepath.Join(g.notesDir, periodDir(period))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	doc := fmt.Sprintf("# %s summary %s\n\n%s\n", periodTitle(period), dateKey, content)
	return os.WriteFile(filepath.Join(dir, dateKey+".md"), []byte(doc), 0o644)
}

func periodDir(period string) string {
	switch period {
	case storage.PeriodWeek:
		return "weekly"
	case storage.PeriodMonth:
		return "monthly"
	default:
		return "daily"
	}
}

func periodTitle(period string) string {
	switch period {
	case storage.PeriodWeek:
		return "Weekly"
	case storage.PeriodMonth:
		return "Monthly"
	default:
		return "Daily"
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
