// Command jirapulse builds period reports over Jira issues and serves them
// over HTTP and A2A.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuannvm/jira-pulse/internal/logging"
)

// Version is the current version of jirapulse
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "jirapulse",
		Short: "Team delivery reports from Jira changelogs",
		Long: `jirapulse turns Jira issues and their changelogs into lifecycle timelines and
period reports: assignment and resolution counts, reopen and new-issue focus,
team transfer-out tracking, member metrics and gantt rows.

Examples:
  jirapulse report --jql "project = ABC" --window rolling_7d
  jirapulse report --input issues.json --start 2026-03-02 --end 2026-03-09 --format yaml
  jirapulse gantt --jql "project = ABC" --mode sprint
  jirapulse export --source latest --out kanban_export.csv
  jirapulse serve
  jirapulse ask --kind summary --jql "project = ABC"`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				logging.SetLevel("debug")
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: config/jira_pulse.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newReportCmd(opts),
		newGanttCmd(opts),
		newExportCmd(opts),
		newSyncCmd(opts),
		newServeCmd(opts),
		newAskCmd(opts),
	)
	return root
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the command tree and flushes the logger before the exit code
// is returned, since os.Exit skips deferred calls.
func run(args []string, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
