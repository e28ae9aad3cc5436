package summary

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/recall/internal/storage"
)

// summarizePrompt frames the narrative request sent to the text model.
const summarizePrompt = `You are a personal productivity assistant reviewing a log of the user's
activity sessions. Write a concise narrative summary covering: how time
was allocated across applications and projects, the key achievements,
and a short read on overall focus and efficiency. Use plain prose,
no headings, at most three paragraphs.`

// buildCorpus renders sessions and their accomplishments into the plain
// text corpus handed to the model.
func buildCorpus(sessions []storage.Activity, analyses map[string][]storage.Analysis) string {
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "%s-%s [%s] %s: %s\n",
			s.StartedAt.Local().Format("15:04"),
			s.EndedAt.Local().Format("15:04"),
			s.App, s.Category, s.Title)
		for _, a := range analyses[s.ID] {
			for _, acc := range unmarshalList(a.Accomplishments) {
				fmt.Fprintf(&b, "  - %s\n", acc)
			}
		}
	}
	return b.String()
}

// renderTemplate is the deterministic fallback when no AI client is
// attached: per-application time totals followed by the chronological
// session list.
func renderTemplate(sessions []storage.Activity) string {
	totals := make(map[string]time.Duration)
	for _, s := range sessions {
		totals[s.App] += s.EndedAt.Sub(s.StartedAt)
	}
	apps := make([]string, 0, len(totals))
	for app := range totals {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool {
		if totals[apps[i]] != totals[apps[j]] {
			return totals[apps[i]] > totals[apps[j]]
		}
		return apps[i] < apps[j]
	})

	var b strings.Builder
	b.WriteString("## Time allocation\n\n")
	for _, app := range apps {
		fmt.Fprintf(&b, "- %s: %s\n", app, formatDuration(totals[app]))
	}
	b.WriteString("\n## Sessions\n\n")
	for _, s := range sessions {
		fmt.Fprintf(&b, "- %s-%s [%s] %s\n",
			s.StartedAt.Local().Format("15:04"),
			s.EndedAt.Local().Format("15:04"),
			s.App, s.Title)
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}

func unmarshalList(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
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
