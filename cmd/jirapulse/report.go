package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/report"
)

// queryFlags are the selection and filter flags shared by report commands.
type queryFlags struct {
	report.Query
	input  string
	format string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.JQL, "jql", "", "Custom JQL, combined with the configured filters")
	flags.StringVar(&f.Assignee, "assignee", "", "Only cards assigned to this person")
	flags.StringVar(&f.Priority, "priority", "", "Only cards with this priority")
	flags.StringVarP(&f.Keyword, "keyword", "q", "", "Only cards whose key or summary contains this text")
	flags.StringVar(&f.Window, "window", "weekly", "Period window: weekly, rolling_7d, sprint or custom")
	flags.StringVar(&f.Start, "start", "", "Period start date (YYYY-MM-DD), implies custom window")
	flags.StringVar(&f.End, "end", "", "Period end date (YYYY-MM-DD), exclusive")
	flags.StringVar(&f.Source, "source", report.SourceLive, "Issue source: live, or a cached result by auto, latest, requested or cache_id")
	flags.StringVar(&f.CacheID, "cache-id", "", "Cached result to read with --source cache_id")
	flags.StringVar(&f.input, "input", "", "Read issues from a JSON file instead of Jira")
	flags.StringVarP(&f.format, "format", "f", formatJSON, "Output format: json or yaml")
}

func newReportCmd(root *rootOptions) *cobra.Command {
	f := &queryFlags{}
	var board bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the period summary and member metrics",
		Long: `Fetch issues, replay their changelogs and print the manager summary for the
selected period. With --board the full kanban payload (columns, cards and
filters) is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, f.input)
			if err != nil {
				return err
			}
			defer a.Close()

			if board {
				out, err := a.service.Kanban(cmd.Context(), f.Query)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), f.format, out)
			}
			out, err := a.service.Summary(cmd.Context(), f.Query)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), f.format, out)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&board, "board", false, "Print the full kanban payload")
	cmd.Flags().BoolVar(&f.DebugAssignment, "debug-assignment", false, "Include per-card assignment diagnostics (with --board)")
	return cmd
}

func newGanttCmd(root *rootOptions) *cobra.Command {
	f := &queryFlags{}
	var mode string
	cmd := &cobra.Command{
		Use:   "gantt",
		Short: "Print gantt timeline rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, f.input)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.service.Gantt(cmd.Context(), f.Query, mode)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), f.format, out)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "member", "Timeline mode: member or sprint")
	return cmd
}

func newExportCmd(root *rootOptions) *cobra.Command {
	f := &queryFlags{}
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the filtered cards as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, f.input)
			if err != nil {
				return err
			}
			defer a.Close()

			cards, _, err := a.service.Cards(cmd.Context(), f.Query)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return report.WriteCardsCSV(cmd.OutOrStdout(), cards)
			}
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := report.WriteCardsCSV(file, cards); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("close %s: %w", out, err)
			}
			logging.Infof("Wrote %d cards to %s", len(cards), out)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	return cmd
}
