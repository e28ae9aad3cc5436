package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/recall/internal/config"
)

// --- segments ---

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Manage recording segments",
}

var segmentsAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a finished recording segment with the pipeline",
	Long: `Register a finished recording segment with the pipeline.

Examples:
  recall segments add /recordings/seg-001.mp4 --start 2026-08-31T10:00:00Z --end 2026-08-31T10:05:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")

		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		var end time.Time
		if endStr != "" {
			if end, err = time.Parse(time.RFC3339, endStr); err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post("/segments", map[string]any{
			"path":       args[0],
			"started_at": start,
			"ended_at":   end,
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Registered segment %s", result["id"])
		return nil
	},
}

func init() {
	segmentsAddCmd.Flags().String("start", "", "segment start time (RFC3339)")
	segmentsAddCmd.Flags().String("end", "", "segment end time (RFC3339); omit while still recording")
	segmentsAddCmd.MarkFlagRequired("start")
	segmentsCmd.AddCommand(segmentsAddCmd)
}

// --- activities ---

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "List activity sessions in a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		if from != "" {
			q.Set("from", from)
		}
		if to != "" {
			q.Set("to", to)
		}
		path := "/activities"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		resp, err := client.get(path)
		if err != nil {
			return err
		}
		var activities []struct {
			StartedAt time.Time `json:"started_at"`
			EndedAt   time.Time `json:"ended_at"`
			App       string    `json:"app"`
			Category  string    `json:"category"`
			Title     string    `json:"title"`
			ProjectID string    `json:"project_id"`
		}
		if err := decodeJSON(resp, &activities); err != nil {
			return err
		}

		if len(activities) == 0 {
			fmt.Println("no activities")
			return nil
		}
		for _, a := range activities {
			line := fmt.Sprintf("%s-%s  %-12s %-10s %s",
				a.StartedAt.Local().Format("15:04"),
				a.EndedAt.Local().Format("15:04"),
				a.App, a.Category, a.Title)
			if a.ProjectID != "" {
				line += colorize(colorBold, "  [project]")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	activitiesCmd.Flags().String("from", "", "range start (RFC3339 or YYYY-MM-DD, default: yesterday)")
	activitiesCmd.Flags().String("to", "", "range end (RFC3339 or YYYY-MM-DD, default: now)")
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List recognized projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get("/projects")
		if err != nil {
			return err
		}
		var projects []struct {
			Name      string    `json:"name"`
			Signature []string  `json:"signature"`
			UpdatedAt time.Time `json:"updated_at"`
		}
		if err := decodeJSON(resp, &projects); err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("no projects")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s  %s  (%s)\n",
				colorize(colorBold, p.Name),
				strings.Join(p.Signature, ","),
				p.UpdatedAt.Local().Format("2006-01-02"))
		}
		return nil
	},
}

// --- habits ---

var habitsCmd = &cobra.Command{
	Use:   "habits",
	Short: "List detected habits",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get("/habits")
		if err != nil {
			return err
		}
		var habits []struct {
			Kind       string  `json:"kind"`
			Signature  string  `json:"signature"`
			Confidence float64 `json:"confidence"`
		}
		if err := decodeJSON(resp, &habits); err != nil {
			return err
		}

		if len(habits) == 0 {
			fmt.Println("no habits detected yet")
			return nil
		}
		for _, h := range habits {
			fmt.Printf("%-10s %-40s %.2f\n", h.Kind, h.Signature, h.Confidence)
		}
		return nil
	},
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary <date>",
	Short: "Show the generated summary for a date key",
	Long: `Show the generated summary for a date key.

Examples:
  recall summary 2026-08-31
  recall summary 2026-W35 --period week
  recall summary 2026-08 --period month`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, _ := cmd.Flags().GetString("period")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(fmt.Sprintf("/summaries/%s/%s", url.PathEscape(period), url.PathEscape(args[0])))
		if err != nil {
			return err
		}
		var sum struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}
		fmt.Println(sum.Content)
		return nil
	},
}

func init() {
	summaryCmd.Flags().String("period", "day", "summary period: day, week, or month")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the activity memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("q", strings.Join(args, " "))
		q.Set("limit", fmt.Sprintf("%d", limit))

		resp, err := client.get("/search?" + q.Encode())
		if err != nil {
			return err
		}
		var results []struct {
			Path    string  `json:"path"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("[%.2f]", r.Score)), r.Path)
			fmt.Println(truncate(r.Content, 200))
			fmt.Println()
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
