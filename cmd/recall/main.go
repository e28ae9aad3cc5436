package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "recall: personal activity memory built from screen recordings",
	Long: `recall runs the background pipeline that turns finished screen
recording segments into a queryable activity memory: analyzed segments,
activity sessions, projects, habits, and narrative summaries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(segmentsCmd)
	rootCmd.AddCommand(activitiesCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(habitsCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
