// Package habit mines recurring behavioral patterns from historical
// activity sessions. The three miners are pure functions over explicit
// thresholds so significance boundaries stay unit-testable.
package habit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/recall/internal/storage"
)

// Thresholds are the tunable mining and decay rules.
type Thresholds struct {
	Window            time.Duration // rolling history window fed to the miners
	MinOccurrences    int           // time pattern: minimum sessions in an (app, hour) bucket
	MinStability      float64       // time pattern: minimum share of the app's sessions in that hour
	TriggerWindow     time.Duration // trigger pattern: max gap between session end and next start
	TriggerMinProb    float64       // trigger pattern: minimum P(next app | current app)
	TriggerMinSamples int           // trigger pattern: minimum observed transitions
	SequenceWindow    time.Duration // sequence pattern: max span of a length-3 run
	SequenceMinCount  int           // sequence pattern: minimum repetitions
	DecayFactor       float64       // confidence fraction removed per missed recurrence
	MinConfidence     float64       // habits below this are deleted
}

// DefaultThresholds returns the documented defaults: a 30 day window,
// 3-occurrence significance floors, 5 minute trigger lookahead, 30 minute
// sequence window, 30% decay, and a 0.2 confidence floor.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:            30 * 24 * time.Hour,
		MinOccurrences:    3,
		MinStability:      0.5,
		TriggerWindow:     5 * time.Minute,
		TriggerMinProb:    0.6,
		TriggerMinSamples: 3,
		SequenceWindow:    30 * time.Minute,
		SequenceMinCount:  3,
		DecayFactor:       0.3,
		MinConfidence:     0.2,
	}
}

// Pattern is one mined habit before persistence. Signature identifies
// the pattern across detector runs; Payload is the kind-specific JSON.
type Pattern struct {
	Kind       string
	Signature  string
	Payload    string
	Confidence float64
}

// MinePatterns runs all three miners over a window of activity sessions
// (assumed ordered by start time) and returns the significant patterns.
func MinePatterns(sessions []storage.Activity, th Thresholds) []Pattern {
	var out []Pattern
	out = append(out, mineTimePatterns(sessions, th)...)
	out = append(out, mineTriggerPatterns(sessions, th)...)
	out = append(out, mineSequencePatterns(sessions, th)...)
	return out
}

// mineTimePatterns groups sessions by (application, hour-of-day). A
// bucket is significant when it holds enough sessions and a large enough
// share of the application's total, so the hour is genuinely habitual
// rather than uniform use.
func mineTimePatterns(sessions []storage.Activity, th Thresholds) []Pattern {
	type bucket struct {
		app  string
		hour int
	}
	counts := make(map[bucket]int)
	totals := make(map[string]int)
	for _, s := range sessions {
		if s.App == "" {
			continue
		}
		counts[bucket{s.App, s.StartedAt.UTC().Hour()}]++
		totals[s.App]++
	}

	var patterns []Pattern
	for b, n := range counts {
		if n < th.MinOccurrences {
			continue
		}
		stability := float64(n) / float64(totals[b.app])
		if stability < th.MinStability {
			continue
		}
		payload, _ := json.Marshal(map[string]any{
			"app":         b.app,
			"hour":        b.hour,
			"occurrences": n,
			"stability":   stability,
		})
		patterns = append(patterns, Pattern{
			Kind:       storage.HabitTime,
			Signature:  fmt.Sprintf("%s@%02d", b.app, b.hour),
			Payload:    string(payload),
			Confidence: stability,
		})
	}
	sortPatterns(patterns)
	return patterns
}

// mineTriggerPatterns builds an application transition matrix over
// consecutive sessions whose gap fits the lookahead window, and emits
// transitions whose conditional probability clears the threshold with
// sufficient samples.
func mineTriggerPatterns(sessions []storage.Activity, th Thresholds) []Pattern {
	type edge struct {
		from string
		to   string
	}
	counts := make(map[edge]int)
	outgoing := make(map[string]int)
	for i := 1; i < len(sessions); i++ {
		prev, cur := sessions[i-1], sessions[i]
		if prev.App == "" || cur.App == "" || prev.App == cur.App {
			continue
		}
		gap := cur.StartedAt.Sub(prev.EndedAt)
		if gap < 0 || gap > th.TriggerWindow {
			continue
		}
		counts[edge{prev.App, cur.App}]++
		outgoing[prev.App]++
	}

	var patterns []Pattern
	for e, n := range counts {
		if n < th.TriggerMinSamples {
			continue
		}
		prob := float64(n) / float64(outgoing[e.from])
		if prob < th.TriggerMinProb {
			continue
		}
		payload, _ := json.Marshal(map[string]any{
			"from":        e.from,
			"to":          e.to,
			"probability": prob,
			"samples":     n,
		})
		patterns = append(patterns, Pattern{
			Kind:       storage.HabitTrigger,
			Signature:  e.from + "->" + e.to,
			Payload:    string(payload),
			Confidence: prob,
		})
	}
	sortPatterns(patterns)
	return patterns
}

// mineSequencePatterns detects recurring length-3 application runs whose
// total span fits the sequence window. Runs of a single application are
// ignored; those are the grouper's job, not a habit.
func mineSequencePatterns(sessions []storage.Activity, th Thresholds) []Pattern {
	counts := make(map[string]int)
	for i := 2; i < len(sessions); i++ {
		a, b, c := sessions[i-2], sessions[i-1], sessions[i]
		if a.App == "" || b.App == "" || c.App == "" {
			continue
		}
		if a.App == b.App && b.App == c.App {
			continue
		}
		if c.EndedAt.Sub(a.StartedAt) > th.SequenceWindow {
			continue
		}
		counts[strings.Join([]string{a.App, b.App, c.App}, ">")]++
	}

	var patterns []Pattern
	for sig, n := range counts {
		if n < th.SequenceMinCount {
			continue
		}
		apps := strings.Split(sig, ">")
		payload, _ := json.Marshal(map[string]any{
			"apps":  apps,
			"count": n,
		})
		patterns = append(patterns, Pattern{
			Kind:       storage.HabitSequence,
			Signature:  sig,
			Payload:    string(payload),
			Confidence: sequenceConfidence(n),
		})
	}
	sortPatterns(patterns)
	return patterns
}

// sequenceConfidence saturates toward 1 as repetitions accumulate:
// 3 repetitions score 0.6, 8 score 0.8, 18 score 0.9.
func sequenceConfidence(count int) float64 {
	return float64(count) / float64(count+2)
}

func sortPatterns(patterns []Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Signature < patterns[j].Signature
	})
}
