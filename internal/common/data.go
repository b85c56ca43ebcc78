package common

import (
	"encoding/json"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/tuannvm/jira-pulse/internal/logging"
)

// Report kinds accepted by the report agent.
const (
	KindSummary = "summary"
	KindKanban  = "kanban"
	KindGantt   = "gantt"
)

// ReportRequest is the task payload sent to the report agent.
type ReportRequest struct {
	Kind            string `json:"kind"`
	JQL             string `json:"jql,omitempty"`
	Assignee        string `json:"assignee,omitempty"`
	Priority        string `json:"priority,omitempty"`
	Keyword         string `json:"q,omitempty"`
	Window          string `json:"window,omitempty"`
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
	Mode            string `json:"mode,omitempty"`
	DebugAssignment bool   `json:"debug_assignment,omitempty"`
}

// Validate defaults an empty kind to summary and rejects unknown kinds.
func (r *ReportRequest) Validate() error {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	switch r.Kind {
	case "":
		r.Kind = KindSummary
	case KindSummary, KindKanban, KindGantt:
	default:
		return fmt.Errorf("unknown report kind %q", r.Kind)
	}
	return nil
}

// ExtractReportRequest reads a ReportRequest from the first usable part of
// message. DataParts and JSON TextParts are decoded field by field; a plain
// TextPart is taken as the JQL of a summary request.
func ExtractReportRequest(message protocol.Message, req *ReportRequest) error {
	if len(message.Parts) == 0 {
		return fmt.Errorf("message has no parts")
	}

	for _, part := range message.Parts {
		var dp *protocol.DataPart
		switch v := part.(type) {
		case protocol.DataPart:
			dp = &v
		case *protocol.DataPart:
			dp = v
		}
		if dp != nil {
			raw, err := json.Marshal(dp.Data)
			if err != nil {
				logging.Warnf("Failed to marshal DataPart.Data: %v", err)
				continue
			}
			var dataMap map[string]interface{}
			if err := json.Unmarshal(raw, &dataMap); err == nil {
				ExtractFromMap(dataMap, req)
				return nil
			}
		}

		if textPart, ok := part.(*protocol.TextPart); ok && textPart != nil {
			text := strings.TrimSpace(textPart.Text)
			if text == "" {
				continue
			}
			var dataMap map[string]interface{}
			if err := json.Unmarshal([]byte(text), &dataMap); err == nil {
				ExtractFromMap(dataMap, req)
				return nil
			}
			logging.Debugf("TextPart is not JSON, using it as JQL")
			*req = ReportRequest{Kind: KindSummary, JQL: text}
			return nil
		}
	}

	return fmt.Errorf("could not extract report request from message")
}

// ExtractFromMap fills req from a loosely keyed map, accepting a few
// aliases per field.
func ExtractFromMap(data map[string]interface{}, req *ReportRequest) {
	req.Kind, _ = GetStringValue(data, "kind", "type", "report")
	req.JQL, _ = GetStringValue(data, "jql", "query")
	req.Assignee, _ = GetStringValue(data, "assignee")
	req.Priority, _ = GetStringValue(data, "priority")
	req.Keyword, _ = GetStringValue(data, "q", "keyword")
	req.Window, _ = GetStringValue(data, "window", "period")
	req.Start, _ = GetStringValue(data, "start")
	req.End, _ = GetStringValue(data, "end")
	req.Mode, _ = GetStringValue(data, "mode")
	switch v := data["debug_assignment"].(type) {
	case bool:
		req.DebugAssignment = v
	case string:
		req.DebugAssignment = strings.EqualFold(strings.TrimSpace(v), "true")
	}
}
