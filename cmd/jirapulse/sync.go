package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	var jql string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch issues once and record them in the history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, "")
			if err != nil {
				return err
			}
			defer a.Close()

			if jql == "" {
				jql = a.cfg.Sync.JQL
			}
			n, err := a.service.Sync(cmd.Context(), jql)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d issues in %s\n", n, a.store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&jql, "jql", "", "Custom JQL (default: sync.jql from config)")
	return cmd
}
