package common

import (
	"context"
	"encoding/json"
	"fmt"

	"trpc.group/trpc-go/trpc-a2a-go/client"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/tuannvm/jira-pulse/internal/config"
	"github.com/tuannvm/jira-pulse/internal/logging"
)

// SetupA2AClient creates and configures an A2A client with appropriate authentication
func SetupA2AClient(cfg config.AuthConfig, targetURL string) (*client.A2AClient, error) {
	var a2aClient *client.A2AClient
	var err error

	switch cfg.Type {
	case "apikey":
		logging.Debugf("Using API key authentication for A2A client (API key length: %d)", len(cfg.APIKey))
		a2aClient, err = client.NewA2AClient(targetURL, client.WithAPIKeyAuth(cfg.APIKey, "X-API-Key"))
	case "jwt":
		logging.Warnf("JWT tokens are not issued by this client, sending unauthenticated request")
		a2aClient, err = client.NewA2AClient(targetURL)
	default:
		a2aClient, err = client.NewA2AClient(targetURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create A2A client: %w", err)
	}
	return a2aClient, nil
}

// ReportReply is the agent's answer to a report request.
type ReportReply struct {
	TaskID    string
	State     string
	Text      string
	Artifacts []protocol.Artifact
}

// SendReportRequest sends req as a JSON text part and collects the reply
// text and artifacts of the finished task.
func SendReportRequest(ctx context.Context, a2aClient *client.A2AClient, req ReportRequest) (*ReportReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report request: %w", err)
	}
	params := protocol.SendTaskParams{
		Message: protocol.Message{
			Parts: []protocol.Part{protocol.NewTextPart(string(payload))},
		},
	}
	task, err := a2aClient.SendTasks(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("SendTasks RPC failed: %w", err)
	}

	reply := &ReportReply{
		TaskID:    task.ID,
		State:     string(task.Status.State),
		Artifacts: task.Artifacts,
	}
	if task.Status.Message != nil {
		for _, part := range task.Status.Message.Parts {
			if tp, ok := part.(*protocol.TextPart); ok {
				reply.Text += tp.Text
			}
		}
	}
	return reply, nil
}
