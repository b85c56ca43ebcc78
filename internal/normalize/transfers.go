package normalize

import (
	"strings"

	"github.com/tuannvm/jira-pulse/internal/models"
)

// ExtractAssigneeTransferEvents lists every assignee change of the issue in
// chronological order.
func ExtractAssigneeTransferEvents(issue models.Issue) []models.AssigneeTransferEvent {
	events := []models.AssigneeTransferEvent{}
	for _, history := range sortedHistories(issue, false) {
		for _, item := range history.Items {
			if !isField(item, fieldAssignee) {
				continue
			}
			events = append(events, models.AssigneeTransferEvent{
				At:          history.Created,
				FromLogin:   strings.TrimSpace(item.From),
				FromDisplay: strings.TrimSpace(item.FromString),
				ToLogin:     strings.TrimSpace(item.To),
				ToDisplay:   strings.TrimSpace(item.ToString),
			})
		}
	}
	return events
}
