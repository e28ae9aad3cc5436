// Package project matches activity sessions to a growing catalog of
// recognized projects with approximate signature matching.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/storage"
)

// MatchThreshold is the minimum hybrid similarity for attaching a
// session to an existing project; anything below creates a new one.
const MatchThreshold = 0.6

// containmentScore is the similarity assigned when one project name
// fully contains the other. Above the threshold so renames like
// "recall" vs "recall pipeline" still match.
const containmentScore = 0.75

// ProjectStore abstracts the storage operations the extractor needs.
type ProjectStore interface {
	ActivitiesWithoutProject() ([]storage.Activity, error)
	AnalysesForActivities(activityIDs []string) (map[string][]storage.Analysis, error)
	ListProjects() ([]storage.Project, error)
	SaveProject(p storage.Project) error
	UpdateProjectSignature(id, signature string, updatedAt time.Time) error
	SetActivityProject(activityID, projectID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Extractor attaches freshly created activity sessions to projects.
type Extractor struct {
	store  ProjectStore
	clock  Clock
	logger *slog.Logger
}

func NewExtractor(store ProjectStore) *Extractor {
	return &Extractor{store: store, clock: realClock{}, logger: slog.Default()}
}

// NewExtractorWithClock creates an Extractor with a custom clock (for testing).
func NewExtractorWithClock(store ProjectStore, clock Clock) *Extractor {
	return &Extractor{store: store, clock: clock, logger: slog.Default()}
}

// RunOnce processes every project-less activity session: derive a
// candidate signature, attach to the best-scoring existing project at or
// above the threshold, otherwise create a new project. A session with no
// derivable signature is left alone for a future run with more context.
func (e *Extractor) RunOnce(ctx context.Context) error {
	activities, err := e.store.ActivitiesWithoutProject()
	if err != nil {
		return fmt.Errorf("loading unmatched activities: %w", err)
	}
	if len(activities) == 0 {
		return nil
	}

	ids := make([]string, len(activities))
	for i, a := range activities {
		ids[i] = a.ID
	}
	analyses, err := e.store.AnalysesForActivities(ids)
	if err != nil {
		return fmt.Errorf("loading session analyses: %w", err)
	}

	for _, act := range activities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cand, ok := deriveCandidate(act, analyses[act.ID])
		if !ok {
			continue
		}
		if err := e.matchOrCreate(act, cand); err != nil {
			e.logger.Warn("project matching failed", "activity_id", act.ID, "error", err)
		}
	}
	return nil
}

func (e *Extractor) matchOrCreate(act storage.Activity, cand candidate) error {
	// Projects arrive most recently updated first, so on equal scores the
	// earlier entry wins: the recency bias that limits fragmentation.
	projects, err := e.store.ListProjects()
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	var best storage.Project
	bestScore := -1.0
	for _, p := range projects {
		score := Similarity(cand.Tokens, cand.Name, unmarshalTokens(p.Signature), p.Name)
		if score > bestScore {
			best, bestScore = p, score
		}
	}

	now := e.clock.Now().UTC()
	if bestScore >= MatchThreshold {
		merged := dedupe(append(unmarshalTokens(best.Signature), cand.Tokens...))
		if err := e.store.UpdateProjectSignature(best.ID, marshalTokens(merged), now); err != nil {
			return fmt.Errorf("updating project %s: %w", best.ID, err)
		}
		if err := e.store.SetActivityProject(act.ID, best.ID); err != nil {
			return fmt.Errorf("attaching activity to project %s: %w", best.ID, err)
		}
		return nil
	}

	p := storage.Project{
		ID:        uuid.New().String(),
		Name:      cand.Name,
		Signature: marshalTokens(cand.Tokens),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveProject(p); err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	if err := e.store.SetActivityProject(act.ID, p.ID); err != nil {
		return fmt.Errorf("attaching activity to new project: %w", err)
	}
	return nil
}

// Similarity is the hybrid score between a candidate signature and an
// existing project's signature: token-set Jaccard, boosted by substring
// containment of the normalized names.
func Similarity(candTokens []string, candName string, projTokens []string, projName string) float64 {
	score := jaccard(candTokens, projTokens)

	a := normalizeName(candName)
	b := normalizeName(projName)
	if a != "" && b != "" && (strings.Contains(a, b) || strings.Contains(b, a)) {
		if containmentScore > score {
			score = containmentScore
		}
	}
	return score
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		}
	}
	union := len(set) + len(seen) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func normalizeName(s string) string {
	return strings.Join(tokenize(s), " ")
}
