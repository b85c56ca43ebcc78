package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tuannvm/jira-pulse/internal/jira"
	"github.com/tuannvm/jira-pulse/internal/models"
)

// StaticSource serves a fixed issue list regardless of the query. It backs
// offline reports built from exported search results.
type StaticSource struct {
	Issues []models.Issue
}

var _ jira.IssueSource = (*StaticSource)(nil)

// SearchIssues returns a copy of the fixed issues.
func (s *StaticSource) SearchIssues(_ context.Context, _ string) ([]models.Issue, error) {
	out := make([]models.Issue, len(s.Issues))
	copy(out, s.Issues)
	return out, nil
}

// BuildSearchJQL parenthesizes jql, or returns "" when empty.
func (s *StaticSource) BuildSearchJQL(jql string) (string, error) {
	jql = strings.TrimSpace(jql)
	if jql == "" {
		return "", nil
	}
	return "(" + jql + ")", nil
}

// LoadIssues reads raw issues from a JSON file holding either an array of
// issues or a search response object with an "issues" field.
func LoadIssues(path string) ([]models.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read issues file: %w", err)
	}
	return DecodeIssues(data)
}

// DecodeIssues parses the formats accepted by LoadIssues.
func DecodeIssues(data []byte) ([]models.Issue, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var issues []models.Issue
		if err := json.Unmarshal(data, &issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues: %w", err)
		}
		return issues, nil
	}

	var payload struct {
		Issues []models.Issue `json:"issues"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode issues: %w", err)
	}
	if payload.Issues == nil {
		return []models.Issue{}, nil
	}
	return payload.Issues, nil
}
