package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	liblog "trpc.group/trpc-go/trpc-a2a-go/log"

	"github.com/tuannvm/jira-pulse/internal/agents"
	"github.com/tuannvm/jira-pulse/internal/common"
	"github.com/tuannvm/jira-pulse/internal/httpapi"
	"github.com/tuannvm/jira-pulse/internal/jobs"
	"github.com/tuannvm/jira-pulse/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the A2A report agent and the sync schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			liblog.Default = logging.UseConsole()

			a, err := newApp(root, "")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg

	provider, err := common.NewAuthProvider(cfg.Auth)
	if err != nil {
		return err
	}

	a2aServer, err := common.SetupServer(common.SetupServerOptions{
		Agent:       cfg.Agent,
		Auth:        cfg.Auth,
		Description: "Builds Jira period summaries, kanban boards and gantt timelines",
		Processor:   agents.NewReportAgent(a.service),
	})
	if err != nil {
		return err
	}

	scheduler, err := jobs.NewScheduler(cfg.Sync, a.service)
	if err != nil {
		return err
	}
	if scheduler != nil {
		if a.store == nil {
			logging.Warnf("sync.cron is set but history is disabled, scheduled syncs will fail")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr(cfg.Server.HTTPPort),
		Handler:           httpapi.NewRouter(a.service, provider),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	a2aDone := make(chan struct{})
	go func() {
		logging.Infof("HTTP API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		defer close(a2aDone)
		if err := common.StartServer(ctx, a2aServer, cfg.ServerAddr(cfg.Server.A2APort)); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logging.Infof("Shutting down")
	case runErr = <-errCh:
		logging.Errorf("Server failed: %v", runErr)
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warnf("HTTP shutdown: %v", err)
	}
	<-a2aDone
	return runErr
}
