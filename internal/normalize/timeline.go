package normalize

import (
	"sort"
	"strings"

	"github.com/tuannvm/jira-pulse/internal/models"
)

const (
	fieldAssignee = "assignee"
	fieldStatus   = "status"
)

// sortedHistories returns a copy of the issue's histories ordered by their
// raw created timestamp. The sort is stable, so histories sharing a
// timestamp keep source order in both directions.
func sortedHistories(issue models.Issue, descending bool) []models.History {
	histories := make([]models.History, len(issue.Changelog.Histories))
	copy(histories, issue.Changelog.Histories)
	sort.SliceStable(histories, func(i, j int) bool {
		if descending {
			return histories[i].Created > histories[j].Created
		}
		return histories[i].Created < histories[j].Created
	})
	return histories
}

func isField(item models.ChangelogItem, field string) bool {
	return strings.ToLower(item.Field) == field
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// toDisplay is the destination display name, falling back to the login.
func toDisplay(item models.ChangelogItem) string {
	return strings.TrimSpace(firstNonEmpty(item.ToString, item.To))
}

// fromDisplay is the source display name, falling back to the login.
func fromDisplay(item models.ChangelogItem) string {
	return strings.TrimSpace(firstNonEmpty(item.FromString, item.From))
}

// timelineExtractor derives lifecycle timestamps for one issue.
type timelineExtractor struct {
	statuses    StatusGroups
	roles       RoleGroups
	teamMembers IdentitySet
}

// ExtractTimeline walks the issue's changelog chronologically and derives
// its lifecycle timestamps. Each milestone keeps its first occurrence, except
// the dev-manager assignment which keeps the most recent qualifying event.
func ExtractTimeline(issue models.Issue, statuses StatusGroups, roles RoleGroups, teamMembers IdentitySet) models.Timeline {
	x := timelineExtractor{statuses: statuses, roles: roles, teamMembers: teamMembers}
	return x.extract(issue)
}

func (x timelineExtractor) extract(issue models.Issue) models.Timeline {
	tl := models.Timeline{
		CreatedAt:      issue.Fields.Created,
		ReopenedEvents: []string{},
	}

	histories := sortedHistories(issue, false)
	assignCount := 0
	for _, history := range histories {
		changedAt := history.Created
		for _, item := range history.Items {
			switch {
			case isField(item, fieldAssignee):
				assignCount++
				x.applyAssignee(&tl, item, changedAt, assignCount)
			case isField(item, fieldStatus):
				x.applyStatus(&tl, item, changedAt)
			}
		}
	}

	if tl.ResolvedAt == "" {
		tl.ResolvedAt = x.fallbackResolvedAt(issue, histories)
	}
	return tl
}

func (x timelineExtractor) applyAssignee(tl *models.Timeline, item models.ChangelogItem, changedAt string, assignCount int) {
	display := toDisplay(item)

	if len(x.roles.Developer) > 0 && tl.DeveloperStartedAt == "" && x.roles.Developer.Any(item.ToString, item.To) {
		tl.DeveloperStartedAt = changedAt
	}

	if len(x.roles.ProductManager) > 0 {
		if tl.ProductAssignedAt == "" && x.roles.ProductManager.Any(item.ToString, item.To) {
			tl.ProductAssignedAt = changedAt
			tl.ProductAssignedTo = display
		}
	} else if assignCount == 1 && tl.ProductAssignedAt == "" {
		tl.ProductAssignedAt = changedAt
		tl.ProductAssignedTo = display
	}

	if len(x.roles.DevManager) > 0 && len(x.teamMembers) > 0 {
		if x.roles.DevManager.Any(fromDisplay(item), item.From) && x.teamMembers.Any(item.ToString, item.To) {
			tl.DevManagerAssignedAt = changedAt
			tl.DevManagerAssignedFrom = fromDisplay(item)
			tl.DevManagerAssignedTo = display
		}
	}
}

func (x timelineExtractor) applyStatus(tl *models.Timeline, item models.ChangelogItem, changedAt string) {
	to := NormalizeIdentity(item.ToString)
	from := NormalizeIdentity(item.FromString)

	if tl.InProgressAt == "" && solvingStatuses.Has(to) {
		tl.InProgressAt = changedAt
		if tl.DeveloperStartedAt == "" {
			tl.DeveloperStartedAt = changedAt
		}
	}
	if tl.ReviewAt == "" && x.statuses.Review.Has(to) {
		tl.ReviewAt = changedAt
	}
	if tl.ResolvedAt == "" && x.statuses.Review.Has(from) && mainlineResolvedStatuses.Has(to) {
		tl.ResolvedAt = changedAt
	}
	if tl.ClosedAt == "" && to == closedStatus {
		tl.ClosedAt = changedAt
	}
	if x.statuses.Done.Has(from) && to != "" && !x.statuses.Done.Has(to) && changedAt != "" {
		tl.ReopenedEvents = append(tl.ReopenedEvents, changedAt)
	}
}

// fallbackResolvedAt recovers a resolution time for issues currently in the
// mainline-resolved status whose changelog lacks a clean review → resolved
// transition. It tries the resolution date, then a review → current status
// transition, then the latest history holding any status change.
func (x timelineExtractor) fallbackResolvedAt(issue models.Issue, histories []models.History) string {
	current := NormalizeIdentity(issue.Fields.StatusName())
	if !mainlineResolvedStatuses.Has(current) {
		return ""
	}
	if issue.Fields.ResolutionDate != "" {
		return issue.Fields.ResolutionDate
	}

	for _, history := range histories {
		if history.Created == "" {
			continue
		}
		for _, item := range history.Items {
			if !isField(item, fieldStatus) {
				continue
			}
			if x.statuses.Review.Has(item.FromString) && NormalizeIdentity(item.ToString) == current {
				return history.Created
			}
		}
	}

	for i := len(histories) - 1; i >= 0; i-- {
		history := histories[i]
		if history.Created == "" {
			continue
		}
		for _, item := range history.Items {
			if isField(item, fieldStatus) {
				return history.Created
			}
		}
	}
	return ""
}
