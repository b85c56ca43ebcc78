package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"trpc.group/trpc-go/trpc-a2a-go/protocol"
	"trpc.group/trpc-go/trpc-a2a-go/taskmanager"

	"github.com/tuannvm/jira-pulse/internal/common"
	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/report"
)

// Task states reported while a request is processed.
const (
	StateFetchingIssues = "fetching_issues"
	StateAggregating    = "aggregating"
	StateCompleted      = "completed"
	StateFailed         = "failed"
)

// Reporter builds the reports the agent serves.
type Reporter interface {
	Summary(ctx context.Context, q report.Query) (*report.Summary, error)
	Kanban(ctx context.Context, q report.Query) (*report.Kanban, error)
	Gantt(ctx context.Context, q report.Query, mode string) (*report.Gantt, error)
}

// ReportAgent answers report requests over A2A
type ReportAgent struct {
	reporter Reporter
}

var _ taskmanager.TaskProcessor = (*ReportAgent)(nil)

// NewReportAgent creates a new ReportAgent
func NewReportAgent(reporter Reporter) *ReportAgent {
	return &ReportAgent{reporter: reporter}
}

// Process implements the TaskProcessor interface
func (a *ReportAgent) Process(ctx context.Context, taskID string, message protocol.Message, handle taskmanager.TaskHandle) error {
	logging.Infof("Received task with ID: %s", taskID)

	var req common.ReportRequest
	if err := common.ExtractReportRequest(message, &req); err != nil {
		return a.fail(handle, fmt.Errorf("failed to extract report request: %w", err))
	}
	if err := req.Validate(); err != nil {
		return a.fail(handle, err)
	}

	if err := handle.UpdateStatus(protocol.TaskState(StateFetchingIssues), nil); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	logging.Infof("Building %s report for task %s", req.Kind, taskID)
	result, narrative, preview, err := a.build(ctx, req)
	if err != nil {
		return a.fail(handle, fmt.Errorf("failed to build %s report: %w", req.Kind, err))
	}

	if err := handle.UpdateStatus(protocol.TaskState(StateAggregating), nil); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return a.fail(handle, fmt.Errorf("failed to marshal %s report: %w", req.Kind, err))
	}
	artifact := protocol.Artifact{
		Name:        common.StringPtr(req.Kind),
		Description: common.StringPtr(fmt.Sprintf("Jira %s report", req.Kind)),
		Parts:       []protocol.Part{protocol.NewTextPart(string(resultJSON))},
		Metadata: map[string]interface{}{
			"kind":        req.Kind,
			"jql_preview": preview,
		},
	}
	if err := handle.AddArtifact(artifact); err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}

	responseMsg := &protocol.Message{
		Parts: []protocol.Part{protocol.NewTextPart(narrative)},
	}
	if err := handle.UpdateStatus(protocol.TaskState(StateCompleted), responseMsg); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	logging.Infof("Task %s completed successfully", taskID)
	return nil
}

// build runs the request and returns the payload, the reply text and the
// effective JQL.
func (a *ReportAgent) build(ctx context.Context, req common.ReportRequest) (interface{}, string, string, error) {
	q := report.Query{
		JQL:             req.JQL,
		Assignee:        req.Assignee,
		Priority:        req.Priority,
		Keyword:         req.Keyword,
		Window:          req.Window,
		Start:           req.Start,
		End:             req.End,
		DebugAssignment: req.DebugAssignment,
	}

	switch req.Kind {
	case common.KindKanban:
		board, err := a.reporter.Kanban(ctx, q)
		if err != nil {
			return nil, "", "", err
		}
		return board, board.Text, board.JQLPreview, nil
	case common.KindGantt:
		gantt, err := a.reporter.Gantt(ctx, q, req.Mode)
		if err != nil {
			return nil, "", "", err
		}
		text := fmt.Sprintf("%d gantt rows in %s mode", len(gantt.Rows), gantt.Mode)
		return gantt, text, gantt.JQLPreview, nil
	default:
		summary, err := a.reporter.Summary(ctx, q)
		if err != nil {
			return nil, "", "", err
		}
		return summary, summary.Text, summary.JQLPreview, nil
	}
}

// fail marks the task failed with err as its message and returns err.
func (a *ReportAgent) fail(handle taskmanager.TaskHandle, err error) error {
	logging.Warnf("Report task failed: %v", err)
	msg := &protocol.Message{Parts: []protocol.Part{protocol.NewTextPart(err.Error())}}
	if uerr := handle.UpdateStatus(protocol.TaskState(StateFailed), msg); uerr != nil {
		logging.Warnf("Failed to update task status: %v", uerr)
	}
	return err
}
