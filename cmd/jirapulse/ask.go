package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/tuannvm/jira-pulse/internal/common"
	"github.com/tuannvm/jira-pulse/internal/config"
)

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		req     common.ReportRequest
		target  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Send a report request to a running agent over A2A",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			if target == "" {
				target = cfg.Agent.URL
			}

			a2aClient, err := common.SetupA2AClient(cfg.Auth, target)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			reply, err := common.SendReportRequest(ctx, a2aClient, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "task %s: %s\n", reply.TaskID, reply.State)
			if reply.Text != "" {
				fmt.Fprintln(out, reply.Text)
			}
			for _, artifact := range reply.Artifacts {
				if artifact.Name != nil {
					fmt.Fprintf(out, "\n[%s]\n", *artifact.Name)
				}
				for _, part := range artifact.Parts {
					if tp, ok := part.(*protocol.TextPart); ok {
						fmt.Fprintln(out, tp.Text)
					}
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&target, "url", "", "Agent URL (default: agent.url from config)")
	flags.DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	flags.StringVar(&req.Kind, "kind", common.KindSummary, "Report kind: summary, kanban or gantt")
	flags.StringVar(&req.JQL, "jql", "", "Custom JQL")
	flags.StringVar(&req.Assignee, "assignee", "", "Only cards assigned to this person")
	flags.StringVar(&req.Priority, "priority", "", "Only cards with this priority")
	flags.StringVarP(&req.Keyword, "keyword", "q", "", "Keyword filter")
	flags.StringVar(&req.Window, "window", "", "Period window: weekly, rolling_7d or custom")
	flags.StringVar(&req.Start, "start", "", "Period start date (YYYY-MM-DD)")
	flags.StringVar(&req.End, "end", "", "Period end date (YYYY-MM-DD)")
	flags.StringVar(&req.Mode, "mode", "", "Gantt mode: member or sprint")
	return cmd
}
