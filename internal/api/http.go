// Package api exposes the pipeline's read surface over HTTP and MCP,
// plus the administrative operations: segment registration from the
// capture subsystem and AI client attach/replace/detach.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/ai"
	"github.com/kalambet/recall/internal/search"
	"github.com/kalambet/recall/internal/storage"
)

const maxSegmentBodySize = 1 << 20 // 1MB

// Searcher abstracts hybrid queries for the API layer.
type Searcher interface {
	Query(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// Deps holds the handler dependencies.
type Deps struct {
	Store    *storage.Store
	Slot     *ai.Slot
	Searcher Searcher
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/segments", handleAddSegment(deps))
	r.Get("/activities", handleActivities(deps))
	r.Get("/projects", handleProjects(deps))
	r.Get("/habits", handleHabits(deps))
	r.Get("/summaries/{period}/{date}", handleSummary(deps))
	r.Get("/search", handleSearch(deps))
	r.Get("/ai/client", handleGetAIClient(deps))
	r.Put("/ai/client", handleSetAIClient(deps))
	r.Delete("/ai/client", handleClearAIClient(deps))

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SegmentRequest registers one finished recording segment.
type SegmentRequest struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func handleAddSegment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSegmentBodySize)
		defer r.Body.Close()

		var req SegmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}
		if req.StartedAt.IsZero() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "started_at is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		seg := storage.Segment{
			ID:        req.ID,
			Path:      req.Path,
			StartedAt: req.StartedAt,
			EndedAt:   req.EndedAt,
		}
		if err := deps.Store.SaveSegment(seg); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save segment: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": seg.ID})
	}
}

// ActivityResponse is the wire form of one activity session.
type ActivityResponse struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	App       string    `json:"app"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	ProjectID string    `json:"project_id,omitempty"`
}

func handleActivities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := parseTimeParam(r, "from", time.Now().AddDate(0, 0, -1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid from: %v", err)
			return
		}
		to, err := parseTimeParam(r, "to", time.Now())
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid to: %v", err)
			return
		}

		activities, err := deps.Store.ActivitiesByRange(from, to)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list activities: %v", err)
			return
		}

		out := make([]ActivityResponse, len(activities))
		for i, a := range activities {
			out[i] = ActivityResponse{
				ID:        a.ID,
				StartedAt: a.StartedAt,
				EndedAt:   a.EndedAt,
				App:       a.App,
				Category:  a.Category,
				Title:     a.Title,
				Tags:      unmarshalStrings(a.Tags),
				ProjectID: a.ProjectID,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ProjectResponse is the wire form of one project.
type ProjectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Signature []string  `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func handleProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		out := make([]ProjectResponse, len(projects))
		for i, p := range projects {
			out[i] = ProjectResponse{
				ID:        p.ID,
				Name:      p.Name,
				Signature: unmarshalStrings(p.Signature),
				CreatedAt: p.CreatedAt,
				UpdatedAt: p.UpdatedAt,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// HabitResponse is the wire form of one habit.
type HabitResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Signature  string          `json:"signature"`
	Payload    json.RawMessage `json:"payload"`
	Confidence float64         `json:"confidence"`
	FirstSeen  time.Time       `json:"first_seen"`
	LastSeen   time.Time       `json:"last_seen"`
}

func handleHabits(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		habits, err := deps.Store.ListHabits()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list habits: %v", err)
			return
		}
		out := make([]HabitResponse, len(habits))
		for i, h := range habits {
			out[i] = HabitResponse{
				ID:         h.ID,
				Kind:       h.Kind,
				Signature:  h.Signature,
				Payload:    json.RawMessage(h.Payload),
				Confidence: h.Confidence,
				FirstSeen:  h.FirstSeen,
				LastSeen:   h.LastSeen,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// SummaryResponse is the wire form of one summary.
type SummaryResponse struct {
	Period      string    `json:"period"`
	DateKey     string    `json:"date_key"`
	Content     string    `json:"content"`
	SourceIDs   []string  `json:"source_activity_ids"`
	GeneratedAt time.Time `json:"generated_at"`
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		period := chi.URLParam(r, "period")
		dateKey := chi.URLParam(r, "date")

		sum, err := deps.Store.GetSummary(period, dateKey)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no %s summary for %s", period, dateKey)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load summary: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, SummaryResponse{
			Period:      sum.Period,
			DateKey:     sum.DateKey,
			Content:     sum.Content,
			SourceIDs:   unmarshalStrings(sum.SourceActivityIDs),
			GeneratedAt: sum.GeneratedAt,
		})
	}
}

// SearchResult is the wire form of one ranked chunk.
type SearchResult struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit")
				return
			}
			if n > 50 {
				n = 50
			}
			limit = n
		}

		results, err := deps.Searcher.Query(r.Context(), query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		out := make([]SearchResult, len(results))
		for i, res := range results {
			out[i] = SearchResult{
				Path:      res.Chunk.Path,
				StartLine: res.Chunk.StartLine,
				EndLine:   res.Chunk.EndLine,
				Content:   res.Chunk.Content,
				Score:     res.Score,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// AIClientRequest configures the attached model backend.
type AIClientRequest struct {
	BaseURL     string `json:"base_url"`
	VisionModel string `json:"vision_model"`
	TextModel   string `json:"text_model"`
	EmbedModel  string `json:"embed_model"`
}

func handleGetAIClient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, attached := deps.Slot.Get()
		writeJSON(w, http.StatusOK, map[string]bool{"attached": attached})
	}
}

// handleSetAIClient attaches or replaces the shared AI client. Every
// pipeline stage picks the new client up on its next tick.
func handleSetAIClient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSegmentBodySize)
		defer r.Body.Close()

		var req AIClientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.BaseURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "base_url is required")
			return
		}

		deps.Slot.Set(ai.NewOllamaClient(req.BaseURL, req.VisionModel, req.TextModel, req.EmbedModel))
		writeJSON(w, http.StatusOK, map[string]bool{"attached": true})
	}
}

func handleClearAIClient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		deps.Slot.Clear()
		writeJSON(w, http.StatusOK, map[string]bool{"attached": false})
	}
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

func unmarshalStrings(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
