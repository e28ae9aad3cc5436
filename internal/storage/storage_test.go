package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSaveSegment(t *testing.T, s *Store, id string, start, end time.Time) {
	t.Helper()
	seg := Segment{ID: id, Path: "/rec/" + id + ".mp4", StartedAt: start, EndedAt: end}
	if err := s.SaveSegment(seg); err != nil {
		t.Fatalf("SaveSegment(%s) failed: %v", id, err)
	}
}

func TestPendingSegmentsExcludesOpenAndAnalyzed(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	mustSaveSegment(t, s, "done", base, base.Add(5*time.Minute))
	mustSaveSegment(t, s, "open", base.Add(10*time.Minute), time.Time{})
	mustSaveSegment(t, s, "ready", base.Add(20*time.Minute), base.Add(25*time.Minute))

	if err := s.CompleteAnalysis(Analysis{
		ID: "a1", SegmentID: "done", App: "editor", Category: "coding",
		Description: "d", Tags: "[]", Accomplishments: "[]", CreatedAt: base,
	}); err != nil {
		t.Fatalf("CompleteAnalysis failed: %v", err)
	}

	pending, err := s.PendingSegments(10, 3)
	if err != nil {
		t.Fatalf("PendingSegments failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "ready" {
		t.Fatalf("expected only segment 'ready' pending, got %+v", pending)
	}
}

func TestPendingSegmentsRespectsFailureCap(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	mustSaveSegment(t, s, "flaky", base, base.Add(time.Minute))

	for i := 0; i < 3; i++ {
		if err := s.RecordAnalysisFailure("flaky"); err != nil {
			t.Fatalf("RecordAnalysisFailure failed: %v", err)
		}
	}

	pending, err := s.PendingSegments(10, 3)
	if err != nil {
		t.Fatalf("PendingSegments failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("segment at the failure cap must be excluded, got %+v", pending)
	}

	seg, err := s.GetSegment("flaky")
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if seg.Analyzed {
		t.Error("permanently skipped segment must stay unanalyzed")
	}
	if seg.AnalysisFailures != 3 {
		t.Errorf("expected 3 recorded failures, got %d", seg.AnalysisFailures)
	}
}

func TestCompleteAnalysisFlipsAnalyzedAtomically(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	mustSaveSegment(t, s, "s1", base, base.Add(time.Minute))

	a := Analysis{
		ID: "a1", SegmentID: "s1", App: "browser", Category: "browsing",
		Description: "reading docs", Tags: `["docs"]`, Accomplishments: "[]",
		Continuation: true, CreatedAt: base,
	}
	if err := s.CompleteAnalysis(a); err != nil {
		t.Fatalf("CompleteAnalysis failed: %v", err)
	}

	seg, err := s.GetSegment("s1")
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if !seg.Analyzed {
		t.Error("segment must be marked analyzed")
	}

	got, err := s.GetAnalysisBySegment("s1")
	if err != nil {
		t.Fatalf("GetAnalysisBySegment failed: %v", err)
	}
	if got.App != "browser" || !got.Continuation {
		t.Errorf("unexpected analysis round-trip: %+v", got)
	}
}

func TestSaveActivityLinksSegmentsOnce(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	mustSaveSegment(t, s, "s1", base, base.Add(time.Minute))
	mustSaveSegment(t, s, "s2", base.Add(time.Minute), base.Add(2*time.Minute))

	act := Activity{
		ID: "act1", StartedAt: base, EndedAt: base.Add(2 * time.Minute),
		App: "editor", Category: "coding", Title: "t", Tags: "[]", CreatedAt: base,
	}
	if err := s.SaveActivity(act, []string{"s1", "s2"}); err != nil {
		t.Fatalf("SaveActivity failed: %v", err)
	}

	ids, err := s.SegmentIDsForActivity("act1")
	if err != nil {
		t.Fatalf("SegmentIDsForActivity failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 linked segments, got %v", ids)
	}

	// A second activity claiming an already-linked segment must fail and
	// leave nothing behind.
	act2 := Activity{
		ID: "act2", StartedAt: base, EndedAt: base.Add(time.Minute),
		App: "editor", Category: "coding", Title: "t2", Tags: "[]", CreatedAt: base,
	}
	if err := s.SaveActivity(act2, []string{"s2"}); err == nil {
		t.Fatal("claiming an already-linked segment must fail")
	}
	if _, err := s.ActivitiesByRange(base.Add(-time.Hour), base.Add(time.Hour)); err != nil {
		t.Fatalf("ActivitiesByRange failed: %v", err)
	}
	acts, _ := s.ActivitiesByRange(base.Add(-time.Hour), base.Add(time.Hour))
	if len(acts) != 1 {
		t.Fatalf("failed activity insert must roll back, got %d activities", len(acts))
	}
	if acts[0].App != "editor" {
		t.Errorf("app column round-trip failed: %+v", acts[0])
	}
}

func TestUpsertSummaryReplacesByPeriodAndDate(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)

	first := Summary{ID: "sum1", Period: PeriodDay, DateKey: "2026-08-31", Content: "v1", SourceActivityIDs: "[]", GeneratedAt: now}
	second := Summary{ID: "sum2", Period: PeriodDay, DateKey: "2026-08-31", Content: "v2", SourceActivityIDs: "[]", GeneratedAt: now.Add(time.Minute)}
	if err := s.UpsertSummary(first); err != nil {
		t.Fatalf("first UpsertSummary failed: %v", err)
	}
	if err := s.UpsertSummary(second); err != nil {
		t.Fatalf("second UpsertSummary failed: %v", err)
	}

	got, err := s.GetSummary(PeriodDay, "2026-08-31")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if got.Content != "v2" {
		t.Errorf("regeneration must replace content, got %q", got.Content)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM summaries`).Scan(&count); err != nil {
		t.Fatalf("counting summaries: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one summary row, got %d", count)
	}
}

func TestGetSummaryNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSummary(PeriodDay, "1999-01-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertHabitMatchesByKindAndSignature(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	h := Habit{ID: "h1", Kind: HabitTime, Signature: "editor@09", Payload: "{}", Confidence: 0.5, FirstSeen: now, LastSeen: now}
	if err := s.UpsertHabit(h); err != nil {
		t.Fatalf("UpsertHabit failed: %v", err)
	}
	h2 := h
	h2.ID = "h2"
	h2.Confidence = 0.8
	h2.LastSeen = now.Add(24 * time.Hour)
	if err := s.UpsertHabit(h2); err != nil {
		t.Fatalf("second UpsertHabit failed: %v", err)
	}

	habits, err := s.ListHabits()
	if err != nil {
		t.Fatalf("ListHabits failed: %v", err)
	}
	if len(habits) != 1 {
		t.Fatalf("re-detection must not duplicate, got %d habits", len(habits))
	}
	if habits[0].ID != "h1" {
		t.Errorf("upsert must keep the original row id, got %s", habits[0].ID)
	}
	if habits[0].Confidence != 0.8 {
		t.Errorf("confidence not refreshed: %v", habits[0].Confidence)
	}
	if !habits[0].LastSeen.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("last_seen not refreshed: %v", habits[0].LastSeen)
	}
}

func TestProjectRecencyOrdering(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	old := Project{ID: "p1", Name: "old", Signature: "[]", CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour)}
	fresh := Project{ID: "p2", Name: "fresh", Signature: "[]", CreatedAt: now, UpdatedAt: now}
	if err := s.SaveProject(old); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	if err := s.SaveProject(fresh); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	projects, err := s.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 2 || projects[0].ID != "p2" {
		t.Fatalf("expected most recently updated project first, got %+v", projects)
	}

	if err := s.UpdateProjectSignature("p1", `["a"]`, now.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateProjectSignature failed: %v", err)
	}
	projects, _ = s.ListProjects()
	if projects[0].ID != "p1" {
		t.Errorf("signature update must refresh recency order, got %+v", projects)
	}
}
