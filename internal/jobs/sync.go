// Package jobs schedules recurring history syncs.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tuannvm/jira-pulse/internal/config"
	"github.com/tuannvm/jira-pulse/internal/logging"
)

const syncTimeout = 5 * time.Minute

// Syncer records the result of a JQL query into the team issue history.
type Syncer interface {
	Sync(ctx context.Context, jql string) (int, error)
}

// Scheduler runs Syncer on a cron schedule. Runs never overlap; a tick that
// fires while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	syncer  Syncer
	jql     string
	running sync.Mutex
}

// NewScheduler parses cfg.Cron in cfg.Timezone (local time when empty).
// It returns nil when no schedule is configured.
func NewScheduler(cfg config.SyncConfig, syncer Syncer) (*Scheduler, error) {
	if cfg.Cron == "" {
		return nil, nil
	}
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid sync timezone %q: %w", cfg.Timezone, err)
		}
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor))),
		syncer: syncer,
		jql:    cfg.JQL,
	}
	if _, err := s.cron.AddFunc(cfg.Cron, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid sync cron %q: %w", cfg.Cron, err)
	}
	return s, nil
}

// RunOnce performs one sync unless another is in progress.
func (s *Scheduler) RunOnce() {
	if !s.running.TryLock() {
		logging.Infof("cron: history sync already running, skipping")
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	logging.Infof("cron: history sync")
	n, err := s.syncer.Sync(ctx, s.jql)
	if err != nil {
		logging.Errorf("cron: history sync failed: %v", err)
		return
	}
	logging.Infof("cron: recorded %d issues", n)
}

// Start begins the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
