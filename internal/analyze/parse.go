package analyze

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Documented defaults for malformed or missing analysis fields. A bad
// field degrades to its default; it never aborts the batch.
const (
	defaultApp      = "unknown"
	defaultCategory = "other"
	defaultFocus    = "moderate"
)

// knownCategories is the canonical classification set. Anything else the
// model invents is folded into "other".
var knownCategories = map[string]bool{
	"work":          true,
	"coding":        true,
	"learning":      true,
	"meeting":       true,
	"browsing":      true,
	"entertainment": true,
	"communication": true,
	"other":         true,
}

var knownFocusLevels = map[string]bool{
	"deep":     true,
	"moderate": true,
	"shallow":  true,
}

// rawAnalysis mirrors the prompt contract loosely: every field is
// optional here and validated by parseAnalysis.
type rawAnalysis struct {
	Application         string   `json:"application"`
	WindowTitle         string   `json:"window_title"`
	Category            string   `json:"category"`
	FocusLevel          string   `json:"focus_level"`
	Description         string   `json:"description"`
	Summary             string   `json:"summary"`
	Tags                []string `json:"tags"`
	KeyTopics           []string `json:"key_topics"`
	ProductivityScore   float64  `json:"productivity_score"`
	ProjectHint         string   `json:"project_hint"`
	Accomplishments     []string `json:"accomplishments"`
	IsContinuation      *bool    `json:"is_continuation"`
	Distractions        []string `json:"distractions"`
	Language            string   `json:"language"`
	MeetingParticipants []string `json:"meeting_participants"`
	Confidence          float64  `json:"confidence"`
}

// parsedAnalysis is the validated result handed to storage.
type parsedAnalysis struct {
	App             string
	Category        string
	Focus           string
	Description     string
	Summary         string
	Tags            string // JSON array
	Productivity    float64
	ProjectHint     string
	Accomplishments string // JSON array
	Continuation    bool
}

// parseAnalysis extracts the JSON object from a model response and
// applies per-field defaults. It fails only when no JSON object can be
// found at all; individual bad fields degrade silently.
func parseAnalysis(resp string) (parsedAnalysis, error) {
	s := extractJSONObject(resp)
	if s == "" {
		return parsedAnalysis{}, fmt.Errorf("no JSON object in response")
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return parsedAnalysis{}, fmt.Errorf("unmarshalling analysis: %w", err)
	}

	p := parsedAnalysis{
		App:         strings.ToLower(strings.TrimSpace(raw.Application)),
		Category:    strings.ToLower(strings.TrimSpace(raw.Category)),
		Focus:       strings.ToLower(strings.TrimSpace(raw.FocusLevel)),
		Description: strings.TrimSpace(raw.Description),
		Summary:     strings.TrimSpace(raw.Summary),
		ProjectHint: strings.TrimSpace(raw.ProjectHint),
	}
	if p.App == "" {
		p.App = defaultApp
	}
	if !knownCategories[p.Category] {
		p.Category = defaultCategory
	}
	if !knownFocusLevels[p.Focus] {
		p.Focus = defaultFocus
	}
	if p.Description == "" {
		p.Description = p.App + " activity"
	}

	p.Productivity = clamp01(raw.ProductivityScore)

	// Topics enrich the tag set; both feed the same union on the session.
	tags := normalizeTokens(append(raw.Tags, raw.KeyTopics...))
	p.Tags = marshalList(tags)
	p.Accomplishments = marshalList(raw.Accomplishments)

	// Absent continuation signal means "may continue"; only an explicit
	// false forces a session split.
	p.Continuation = raw.IsContinuation == nil || *raw.IsContinuation

	return p, nil
}

// extractJSONObject strips markdown code fences and conversational
// filler, returning the substring between the first { and last }.
// Small local models frequently wrap JSON output this way.
func extractJSONObject(resp string) string {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func normalizeTokens(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func marshalList(in []string) string {
	if len(in) == 0 {
		return "[]"
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
