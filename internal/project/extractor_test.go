package project

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/recall/internal/storage"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSimilarityJaccardBoundary(t *testing.T) {
	// 3 shared tokens, 5 in the union: exactly 0.6.
	cand := []string{"apple", "banana", "cherry", "dragon"}
	proj := []string{"apple", "banana", "cherry", "elder"}
	if got := Similarity(cand, "cand name", proj, "proj name"); got != 0.6 {
		t.Errorf("expected jaccard 0.6, got %v", got)
	}

	// 2 shared tokens, 6 in the union: below the threshold.
	proj = []string{"apple", "banana", "fig", "elder"}
	if got := Similarity(cand, "cand name", proj, "proj name"); got >= MatchThreshold {
		t.Errorf("expected sub-threshold score, got %v", got)
	}
}

func TestSimilarityContainmentBoost(t *testing.T) {
	// Disjoint token sets but one name contains the other.
	got := Similarity([]string{"api"}, "Recall Pipeline", []string{"nothing"}, "recall")
	if got != containmentScore {
		t.Errorf("containment must lift the score to %v, got %v", containmentScore, got)
	}
}

func TestMajorityHintVoting(t *testing.T) {
	analyses := []storage.Analysis{
		{ProjectHint: "Recall"},
		{ProjectHint: "billing"},
		{ProjectHint: "recall "},
		{ProjectHint: ""},
	}
	if hint := majorityHint(analyses); hint != "recall" {
		t.Errorf("expected majority hint 'recall', got %q", hint)
	}
	if hint := majorityHint(nil); hint != "" {
		t.Errorf("expected empty hint for no analyses, got %q", hint)
	}
}

func TestDeriveCandidatePriorities(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	// Hint wins over everything.
	act := storage.Activity{Category: "coding", Title: "fixing parser bug", StartedAt: base, EndedAt: base.Add(time.Hour)}
	cand, ok := deriveCandidate(act, []storage.Analysis{{ProjectHint: "recall"}})
	if !ok || cand.Name != "recall" {
		t.Errorf("hint must take priority, got %+v ok=%v", cand, ok)
	}

	// Tool categories fall back to title and tag keywords.
	act = storage.Activity{Category: "coding", Title: "fixing parser bug", Tags: `["compiler"]`, StartedAt: base, EndedAt: base.Add(10 * time.Minute)}
	cand, ok = deriveCandidate(act, nil)
	if !ok || len(cand.Tokens) == 0 {
		t.Fatalf("tool category must derive from title/tags, got %+v ok=%v", cand, ok)
	}

	// Short non-tool sessions derive nothing.
	act = storage.Activity{Category: "browsing", Title: "reading news", StartedAt: base, EndedAt: base.Add(10 * time.Minute)}
	if _, ok = deriveCandidate(act, nil); ok {
		t.Error("short non-tool session must not derive a signature")
	}

	// Long sessions get title keywords even outside tool categories.
	act = storage.Activity{Category: "browsing", Title: "researching kubernetes operators", StartedAt: base, EndedAt: base.Add(time.Hour)}
	cand, ok = deriveCandidate(act, nil)
	if !ok || len(cand.Tokens) == 0 {
		t.Errorf("long session must derive from title, got %+v ok=%v", cand, ok)
	}
}

func saveSessionWithHint(t *testing.T, store *storage.Store, segID, actID, hint string, start time.Time) {
	t.Helper()
	seg := storage.Segment{ID: segID, Path: "/rec/" + segID + ".mp4", StartedAt: start, EndedAt: start.Add(5 * time.Minute)}
	if err := store.SaveSegment(seg); err != nil {
		t.Fatalf("SaveSegment failed: %v", err)
	}
	a := storage.Analysis{
		ID: "a-" + segID, SegmentID: segID, App: "editor", Category: "coding",
		Description: "d", Tags: "[]", Accomplishments: "[]", ProjectHint: hint,
		Continuation: true, CreatedAt: start,
	}
	if err := store.CompleteAnalysis(a); err != nil {
		t.Fatalf("CompleteAnalysis failed: %v", err)
	}
	act := storage.Activity{
		ID: actID, StartedAt: start, EndedAt: start.Add(5 * time.Minute),
		App: "editor", Category: "coding", Title: "d", Tags: "[]", CreatedAt: start,
	}
	if err := store.SaveActivity(act, []string{segID}); err != nil {
		t.Fatalf("SaveActivity failed: %v", err)
	}
}

func TestExtractorAttachesAtThreshold(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	existing := storage.Project{
		ID: "p1", Name: "apple banana cherry elder",
		Signature: `["apple","banana","cherry","elder"]`,
		CreatedAt: now.Add(-24 * time.Hour), UpdatedAt: now.Add(-24 * time.Hour),
	}
	if err := store.SaveProject(existing); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	// Hint tokens share 3 of 5 union tokens with the project: 0.6 attaches.
	saveSessionWithHint(t, store, "s1", "act1", "apple banana cherry dragon", now)

	e := NewExtractorWithClock(store, fixedClock{now})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	acts, _ := store.ActivitiesByRange(now.Add(-time.Hour), now.Add(time.Hour))
	if len(acts) != 1 || acts[0].ProjectID != "p1" {
		t.Fatalf("session at threshold must attach to existing project, got %+v", acts)
	}

	// The project signature folds in the new token and recency updates.
	p, err := store.GetProject("p1")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p.Signature != `["apple","banana","cherry","dragon","elder"]` {
		t.Errorf("signature must fold in new tokens sorted, got %s", p.Signature)
	}
	if !p.UpdatedAt.Equal(now) {
		t.Errorf("updated_at must refresh on attach, got %v", p.UpdatedAt)
	}
}

func TestExtractorCreatesBelowThreshold(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	existing := storage.Project{
		ID: "p1", Name: "apple banana fig elder",
		Signature: `["apple","banana","fig","elder"]`,
		CreatedAt: now.Add(-24 * time.Hour), UpdatedAt: now.Add(-24 * time.Hour),
	}
	if err := store.SaveProject(existing); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	// Only 2 of 6 union tokens shared: a new project is created.
	saveSessionWithHint(t, store, "s1", "act1", "apple banana cherry dragon", now)

	e := NewExtractorWithClock(store, fixedClock{now})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	projects, _ := store.ListProjects()
	if len(projects) != 2 {
		t.Fatalf("sub-threshold match must create a new project, got %d", len(projects))
	}
	acts, _ := store.ActivitiesByRange(now.Add(-time.Hour), now.Add(time.Hour))
	if acts[0].ProjectID == "" || acts[0].ProjectID == "p1" {
		t.Errorf("session must attach to the new project, got %q", acts[0].ProjectID)
	}
}

func TestExtractorEqualScoresFavorRecency(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	sig := `["apple","banana","cherry","dragon"]`
	stale := storage.Project{ID: "stale", Name: "zeta one", Signature: sig, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour)}
	fresh := storage.Project{ID: "fresh", Name: "zeta two", Signature: sig, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)}
	if err := store.SaveProject(stale); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	if err := store.SaveProject(fresh); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	saveSessionWithHint(t, store, "s1", "act1", "apple banana cherry dragon", now)

	e := NewExtractorWithClock(store, fixedClock{now})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	acts, _ := store.ActivitiesByRange(now.Add(-time.Hour), now.Add(time.Hour))
	if acts[0].ProjectID != "fresh" {
		t.Errorf("equal scores must favor the most recently updated project, got %q", acts[0].ProjectID)
	}
}

func TestExtractorSkipsUnderivableSessions(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	// Short browsing session with no hint: left alone.
	seg := storage.Segment{ID: "s1", Path: "/rec/s1.mp4", StartedAt: now, EndedAt: now.Add(5 * time.Minute)}
	if err := store.SaveSegment(seg); err != nil {
		t.Fatalf("SaveSegment failed: %v", err)
	}
	a := storage.Analysis{ID: "a1", SegmentID: "s1", App: "browser", Category: "browsing",
		Description: "d", Tags: "[]", Accomplishments: "[]", Continuation: true, CreatedAt: now}
	if err := store.CompleteAnalysis(a); err != nil {
		t.Fatalf("CompleteAnalysis failed: %v", err)
	}
	act := storage.Activity{ID: "act1", StartedAt: now, EndedAt: now.Add(5 * time.Minute),
		App: "browser", Category: "browsing", Title: "reading news", Tags: "[]", CreatedAt: now}
	if err := store.SaveActivity(act, []string{"s1"}); err != nil {
		t.Fatalf("SaveActivity failed: %v", err)
	}

	e := NewExtractorWithClock(store, fixedClock{now})
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	projects, _ := store.ListProjects()
	if len(projects) != 0 {
		t.Errorf("underivable session must not create a project, got %+v", projects)
	}
	acts, _ := store.ActivitiesByRange(now.Add(-time.Hour), now.Add(time.Hour))
	if acts[0].ProjectID != "" {
		t.Errorf("underivable session must stay unattached, got %q", acts[0].ProjectID)
	}
}
