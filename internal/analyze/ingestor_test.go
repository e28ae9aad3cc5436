package analyze

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/storage"
)

type mockClient struct {
	analyzeFn func(ctx context.Context, frames [][]byte, prompt string, schema *ai.Schema) (string, error)
}

func (m *mockClient) AnalyzeFrames(ctx context.Context, frames [][]byte, prompt string, schema *ai.Schema) (string, error) {
	return m.analyzeFn(ctx, frames, prompt, schema)
}

func (m *mockClient) Summarize(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockClient) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestSegment(t *testing.T, store *storage.Store, id string, start time.Time) {
	t.Helper()
	seg := storage.Segment{
		ID: id, Path: "/rec/" + id + ".mp4",
		StartedAt: start, EndedAt: start.Add(5 * time.Minute),
	}
	if err := store.SaveSegment(seg); err != nil {
		t.Fatalf("SaveSegment failed: %v", err)
	}
}

func newTestIngestor(store *storage.Store, slot *ai.Slot) *Ingestor {
	i := NewIngestor(store, slot, 10, time.Second)
	i.readFile = func(string) ([]byte, error) { return []byte("video"), nil }
	return i
}

func TestRunOnceWithoutClientIsNoOp(t *testing.T) {
	store := openTestStore(t)
	saveTestSegment(t, store, "s1", time.Now().UTC())

	i := newTestIngestor(store, ai.NewSlot())
	n, err := i.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("absent client must be a no-op, analyzed %d", n)
	}

	seg, _ := store.GetSegment("s1")
	if seg.Analyzed || seg.AnalysisFailures != 0 {
		t.Errorf("no-op tick must not touch the segment: %+v", seg)
	}
}

func TestRunOnceAnalyzesOldestFirstAndIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	saveTestSegment(t, store, "late", base.Add(time.Hour))
	saveTestSegment(t, store, "early", base)

	var order []string
	slot := ai.NewSlot()
	slot.Set(&mockClient{analyzeFn: func(_ context.Context, _ [][]byte, _ string, _ *ai.Schema) (string, error) {
		order = append(order, fmt.Sprintf("call%d", len(order)))
		return `{"application": "editor", "category": "coding", "description": "writing tests"}`, nil
	}})

	i := newTestIngestor(store, slot)
	n, err := i.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 segments analyzed, got %d", n)
	}

	a, err := store.GetAnalysisBySegment("early")
	if err != nil {
		t.Fatalf("analysis for early segment missing: %v", err)
	}
	if a.App != "editor" || a.Category != "coding" {
		t.Errorf("unexpected analysis: %+v", a)
	}

	// Re-running must not create a second analysis for analyzed segments.
	n, err = i.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("already-analyzed segments must not be reprocessed, got %d", n)
	}
}

func TestRunOnceCountsFailuresTowardCap(t *testing.T) {
	store := openTestStore(t)
	saveTestSegment(t, store, "bad", time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))

	slot := ai.NewSlot()
	calls := 0
	slot.Set(&mockClient{analyzeFn: func(context.Context, [][]byte, string, *ai.Schema) (string, error) {
		calls++
		return "", errors.New("model unavailable")
	}})

	i := newTestIngestor(store, slot)
	for run := 0; run < 5; run++ {
		if _, err := i.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce %d failed: %v", run, err)
		}
	}

	// One initial attempt plus two retries, then permanently skipped.
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts before the cap, got %d", calls)
	}
	seg, _ := store.GetSegment("bad")
	if seg.Analyzed {
		t.Error("failed segment must stay unanalyzed")
	}
	if seg.AnalysisFailures != 3 {
		t.Errorf("expected failure counter 3, got %d", seg.AnalysisFailures)
	}
}

func TestRunOnceContinuesPastSingleFailure(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	saveTestSegment(t, store, "fails", base)
	saveTestSegment(t, store, "works", base.Add(time.Minute))

	slot := ai.NewSlot()
	slot.Set(&mockClient{analyzeFn: func(_ context.Context, frames [][]byte, _ string, _ *ai.Schema) (string, error) {
		return `{"application": "editor", "category": "coding"}`, nil
	}})

	i := newTestIngestor(store, slot)
	i.readFile = func(path string) ([]byte, error) {
		if path == "/rec/fails.mp4" {
			return nil, errors.New("file vanished")
		}
		return []byte("video"), nil
	}

	n, err := i.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 {
		t.Errorf("batch must continue past a failed segment, analyzed %d", n)
	}
	seg, _ := store.GetSegment("fails")
	if seg.AnalysisFailures != 1 {
		t.Errorf("failure must be recorded, got %d", seg.AnalysisFailures)
	}
}
