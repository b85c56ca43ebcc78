package main

import (
	"fmt"

	"github.com/tuannvm/jira-pulse/internal/config"
	"github.com/tuannvm/jira-pulse/internal/history"
	"github.com/tuannvm/jira-pulse/internal/jira"
	"github.com/tuannvm/jira-pulse/internal/llm"
	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/report"
)

// app is the wired report service for one command run.
type app struct {
	cfg     *config.Config
	service *report.Service
	store   *history.Store
}

// newApp loads the config and wires the service. With input set, issues are
// read from that file and the history store and query cache are left
// untouched.
func newApp(opts *rootOptions, input string) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if !opts.verbose {
		logging.SetLevel(cfg.Log.Level)
	}

	var source jira.IssueSource
	if input != "" {
		issues, err := report.LoadIssues(input)
		if err != nil {
			return nil, err
		}
		logging.Infof("Loaded %d issues from %s", len(issues), input)
		source = &report.StaticSource{Issues: issues}
	} else {
		if err := cfg.ValidateJira(); err != nil {
			return nil, err
		}
		source = jira.NewClient(cfg.Jira)
	}

	a := &app{cfg: cfg}
	opt := report.Options{
		Source:   source,
		Settings: cfg.CoreSettings(),
		BaseURL:  cfg.Jira.BaseURL,
	}

	if cfg.History.Enabled && input == "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.store = store
		opt.History = store
		opt.Cache = store
	}

	if cfg.LLM.Enabled {
		client, err := llm.NewClient(cfg.LLM)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to set up narrative rewrite: %w", err)
		}
		opt.Narrator = llm.NewRewriter(client)
	}

	a.service = report.NewService(opt)
	return a, nil
}

// Close releases the history store.
func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logging.Warnf("Failed to close history store: %v", err)
	}
}
