package common

import (
	"context"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-a2a-go/auth"
	"trpc.group/trpc-go/trpc-a2a-go/server"
	"trpc.group/trpc-go/trpc-a2a-go/taskmanager"

	"github.com/tuannvm/jira-pulse/internal/config"
	"github.com/tuannvm/jira-pulse/internal/logging"
)

// SetupServerOptions contains options for setting up an A2A server
type SetupServerOptions struct {
	Agent       config.AgentConfig
	Auth        config.AuthConfig
	Description string
	Processor   taskmanager.TaskProcessor
}

// NewAuthProvider builds the provider for cfg, or nil when auth is off.
func NewAuthProvider(cfg config.AuthConfig) (auth.Provider, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("jwt auth requires auth.jwt_secret")
		}
		return auth.NewJWTAuthProvider(
			[]byte(cfg.JWTSecret),
			"", // audience (empty for any)
			"", // issuer (empty for any)
			24*time.Hour,
		), nil
	case "apikey":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("apikey auth requires auth.api_key")
		}
		return auth.NewAPIKeyAuthProvider(map[string]string{cfg.APIKey: "user"}, "X-API-Key"), nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", cfg.Type)
	}
}

// SetupServer creates and configures an A2A server with common settings
func SetupServer(opts SetupServerOptions) (*server.A2AServer, error) {
	description := opts.Description
	if description == "" {
		description = fmt.Sprintf("%s agent", opts.Agent.Name)
	}
	agentCard := server.AgentCard{
		Name:        opts.Agent.Name,
		Description: StringPtr(description),
		URL:         opts.Agent.URL,
		Version:     opts.Agent.Version,
		Provider: &server.AgentProvider{
			Organization: "jira-pulse",
		},
		DefaultInputModes:  []string{"text", "data"},
		DefaultOutputModes: []string{"text", "data"},
	}

	taskManager, err := taskmanager.NewMemoryTaskManager(opts.Processor)
	if err != nil {
		return nil, fmt.Errorf("failed to create task manager: %w", err)
	}

	// JSON-RPC at root so A2AClient.SendTasks posts to "/"; report tasks
	// may page through many issues, hence the long timeouts.
	serverOpts := []server.Option{
		server.WithJSONRPCEndpoint("/"),
		server.WithReadTimeout(2 * time.Minute),
		server.WithWriteTimeout(2 * time.Minute),
	}

	provider, err := NewAuthProvider(opts.Auth)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		logging.Infof("Configuring %s authentication for %s", opts.Auth.Type, opts.Agent.Name)
		serverOpts = append(serverOpts, server.WithAuthProvider(provider))
	} else {
		logging.Warnf("No authentication configured for %s, running unauthenticated", opts.Agent.Name)
	}

	srv, err := server.NewA2AServer(agentCard, taskManager, serverOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return srv, nil
}

// StartServer runs the A2A server until ctx is cancelled, then shuts it down.
func StartServer(ctx context.Context, srv *server.A2AServer, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting A2A server on %s", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("a2a server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logging.Infof("Shutting down A2A server...")
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
