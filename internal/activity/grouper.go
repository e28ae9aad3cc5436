// Package activity clusters analyzed segments into activity sessions.
// The merge rules are pure functions over explicit thresholds so the
// boundary behavior stays unit-testable.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/storage"
)

// Thresholds are the tunable clustering rules.
type Thresholds struct {
	MaxGap      time.Duration     // split when the gap to the previous record's end reaches this
	MaxDuration time.Duration     // hard cap on a single session
	MinRecords  int               // sessions with fewer records are discarded
	MinDuration time.Duration     // sessions shorter than this are discarded
	AppAliases  map[string]string // alias -> canonical application name
}

// DefaultThresholds returns the documented defaults: 5 minute gap,
// 2 hour cap, at least 2 records and 1 minute of duration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxGap:      5 * time.Minute,
		MaxDuration: 2 * time.Hour,
		MinRecords:  2,
		MinDuration: time.Minute,
	}
}

// Record is one analyzed segment as seen by the clustering scan.
type Record struct {
	SegmentID    string
	App          string
	Category     string
	Start        time.Time
	End          time.Time
	Description  string
	Tags         []string
	Continuation bool
}

// Draft is a built session before persistence.
type Draft struct {
	Start      time.Time
	End        time.Time
	App        string
	Category   string
	Title      string
	Tags       []string
	SegmentIDs []string
}

// BuildSessions runs a greedy forward scan over records (assumed ordered
// by start time) and returns the session drafts that survive the minimum
// size filters. Discarded records stay unlinked and are reconsidered on
// the next run.
func BuildSessions(records []Record, th Thresholds) []Draft {
	var drafts []Draft
	var current []Record

	flush := func() {
		if d, ok := finishDraft(current, th); ok {
			drafts = append(drafts, d)
		}
		current = nil
	}

	for _, r := range records {
		if len(current) == 0 {
			current = append(current, r)
			continue
		}
		if canMerge(current, r, th) {
			current = append(current, r)
			continue
		}
		flush()
		current = append(current, r)
	}
	flush()

	return drafts
}

// canMerge applies the merge rule: same (alias-canonical) application,
// compatible category, gap below threshold, duration under the cap, and
// no explicit non-continuation signal.
func canMerge(current []Record, next Record, th Thresholds) bool {
	last := current[len(current)-1]

	if canonicalApp(last.App, th) != canonicalApp(next.App, th) {
		return false
	}
	if !compatibleCategory(last.Category, next.Category) {
		return false
	}
	if next.Start.Sub(last.End) >= th.MaxGap {
		return false
	}
	if next.End.Sub(current[0].Start) > th.MaxDuration {
		return false
	}
	if !next.Continuation {
		return false
	}
	return true
}

func canonicalApp(app string, th Thresholds) string {
	if canonical, ok := th.AppAliases[app]; ok {
		return canonical
	}
	return app
}

// compatibleCategory treats "other" as a wildcard: a record the model
// could not classify should not break an otherwise coherent session.
func compatibleCategory(a, b string) bool {
	return a == b || a == "other" || b == "other"
}

func finishDraft(records []Record, th Thresholds) (Draft, bool) {
	if len(records) < th.MinRecords {
		return Draft{}, false
	}
	start := records[0].Start
	end := records[len(records)-1].End
	if end.Sub(start) < th.MinDuration {
		return Draft{}, false
	}

	d := Draft{
		Start:    start,
		End:      end,
		App:      canonicalApp(records[0].App, th),
		Category: dominantCategory(records),
		Title:    bestTitle(records),
	}
	seen := make(map[string]bool)
	for _, r := range records {
		d.SegmentIDs = append(d.SegmentIDs, r.SegmentID)
		for _, t := range r.Tags {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			d.Tags = append(d.Tags, t)
		}
	}
	sort.Strings(d.Tags)
	return d, true
}

// bestTitle picks the most detailed single-record description.
func bestTitle(records []Record) string {
	title := ""
	for _, r := range records {
		if len(r.Description) > len(title) {
			title = r.Description
		}
	}
	return title
}

// dominantCategory picks the most frequent concrete category, preferring
// anything over "other".
func dominantCategory(records []Record) string {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Category]++
	}
	best, bestCount := "other", 0
	for cat, n := range counts {
		if cat == "other" {
			continue
		}
		if n > bestCount {
			best, bestCount = cat, n
		}
	}
	return best
}

// GroupStore abstracts the storage operations the grouper needs.
type GroupStore interface {
	UngroupedAnalyses() ([]storage.Analysis, map[string]storage.Segment, error)
	SaveActivity(a storage.Activity, segmentIDs []string) error
}

// Grouper persists sessions built from ungrouped analyses.
type Grouper struct {
	store  GroupStore
	th     Thresholds
	logger *slog.Logger
}

func NewGrouper(store GroupStore, th Thresholds) *Grouper {
	if th.MinRecords == 0 {
		th = DefaultThresholds()
	}
	return &Grouper{store: store, th: th, logger: slog.Default()}
}

// RunOnce builds and persists activity sessions from every analyzed,
// unlinked segment. Returns the number of sessions created.
func (g *Grouper) RunOnce(ctx context.Context) (int, error) {
	analyses, segments, err := g.store.UngroupedAnalyses()
	if err != nil {
		return 0, fmt.Errorf("loading ungrouped analyses: %w", err)
	}
	if len(analyses) == 0 {
		return 0, nil
	}

	records := make([]Record, 0, len(analyses))
	for _, a := range analyses {
		seg, ok := segments[a.SegmentID]
		if !ok || seg.EndedAt.IsZero() {
			continue
		}
		records = append(records, Record{
			SegmentID:    seg.ID,
			App:          a.App,
			Category:     a.Category,
			Start:        seg.StartedAt,
			End:          seg.EndedAt,
			Description:  a.Description,
			Tags:         unmarshalTags(a.Tags),
			Continuation: a.Continuation,
		})
	}

	created := 0
	for _, d := range BuildSessions(records, g.th) {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		act := storage.Activity{
			ID:        uuid.New().String(),
			StartedAt: d.Start,
			EndedAt:   d.End,
			App:       d.App,
			Category:  d.Category,
			Title:     d.Title,
			Tags:      marshalTags(d.Tags),
			CreatedAt: time.Now().UTC(),
		}
		if err := g.store.SaveActivity(act, d.SegmentIDs); err != nil {
			g.logger.Warn("persisting activity session failed", "error", err)
			continue
		}
		created++
	}
	return created, nil
}

func unmarshalTags(tags string) []string {
	var out []string
	if err := json.Unmarshal([]byte(tags), &out); err != nil {
		return nil
	}
	return out
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}
