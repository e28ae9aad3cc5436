package project

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/kalambet/recall/internal/storage"
)

// Categories whose sessions carry tool-derived project structure; for
// these, titles and tags are trusted as signature material even without
// an explicit hint.
var toolCategories = map[string]bool{
	"coding":   true,
	"work":     true,
	"learning": true,
}

// minDurationForTitleKeywords gates the weakest derivation rule:
// only long sessions get a signature from title keywords alone.
const minDurationForTitleKeywords = 30 // minutes

// stopwords excluded from signature tokens.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true,
	"of": true, "on": true, "or": true, "the": true, "to": true,
	"with": true, "is": true, "at": true, "by": true, "from": true,
}

// candidate is a derived project signature for one session.
type candidate struct {
	Name   string
	Tokens []string
}

// deriveCandidate builds a candidate signature for an activity, in
// priority order: majority project hint from the session's analyses,
// rule-based extraction for tool categories, then title keywords for
// long sessions. Returns false when no signature can be derived.
func deriveCandidate(act storage.Activity, analyses []storage.Analysis) (candidate, bool) {
	if hint := majorityHint(analyses); hint != "" {
		return candidate{Name: hint, Tokens: tokenize(hint)}, true
	}

	if toolCategories[act.Category] {
		tokens := tokenize(act.Title)
		tokens = append(tokens, unmarshalTokens(act.Tags)...)
		tokens = dedupe(tokens)
		if len(tokens) > 0 {
			return candidate{Name: nameFromTokens(tokens), Tokens: tokens}, true
		}
	}

	if act.EndedAt.Sub(act.StartedAt).Minutes() >= minDurationForTitleKeywords {
		tokens := tokenize(act.Title)
		if len(tokens) > 0 {
			return candidate{Name: nameFromTokens(tokens), Tokens: tokens}, true
		}
	}

	return candidate{}, false
}

// majorityHint returns the most common non-empty project hint across the
// session's analyses, or "" when none exists. Ties break on first seen.
func majorityHint(analyses []storage.Analysis) string {
	counts := make(map[string]int)
	order := []string{}
	for _, a := range analyses {
		hint := strings.ToLower(strings.TrimSpace(a.ProjectHint))
		if hint == "" {
			continue
		}
		if counts[hint] == 0 {
			order = append(order, hint)
		}
		counts[hint]++
	}
	best, bestCount := "", 0
	for _, hint := range order {
		if counts[hint] > bestCount {
			best, bestCount = hint, counts[hint]
		}
	}
	return best
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// stopwords and single characters.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	var out []string
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, t := range in {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// nameFromTokens builds a readable project name from the first few tokens.
func nameFromTokens(tokens []string) string {
	n := len(tokens)
	if n > 3 {
		n = 3
	}
	return strings.Join(tokens[:n], " ")
}

func unmarshalTokens(signature string) []string {
	var out []string
	if err := json.Unmarshal([]byte(signature), &out); err != nil {
		return nil
	}
	return out
}

func marshalTokens(tokens []string) string {
	if len(tokens) == 0 {
		return "[]"
	}
	sorted := make([]string, len(tokens))
	copy(sorted, tokens)
	sort.Strings(sorted)
	b, err := json.Marshal(sorted)
	if err != nil {
		return "[]"
	}
	return string(b)
}
