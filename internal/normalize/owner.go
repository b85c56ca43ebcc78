package normalize

import (
	"strings"

	"github.com/tuannvm/jira-pulse/internal/models"
)

// ownerResolver decides who receives metric credit for an issue. Product
// managers and quality owners hold issues between hand-offs, so credit goes
// back to the developer who did the work.
type ownerResolver struct {
	roles     RoleGroups
	histories []models.History // most recent first
}

// ResolveMetricOwner returns the identity credited for the issue's metrics.
// assigneeName is the current display name and assigneeLogin its login.
func ResolveMetricOwner(issue models.Issue, assigneeName, assigneeLogin string, roles RoleGroups) string {
	r := ownerResolver{roles: roles, histories: sortedHistories(issue, true)}
	return r.resolve(assigneeName, assigneeLogin)
}

func (r ownerResolver) resolve(assigneeName, assigneeLogin string) string {
	current := []string{assigneeName, assigneeLogin}

	if len(r.roles.Quality) > 0 && r.roles.Quality.Any(current...) {
		if len(r.roles.Developer) > 0 {
			if owner := r.lastAssignedTo(r.roles.Developer, true); owner != "" {
				return owner
			}
		}
		if owner := r.lastNonQualitySource(); owner != "" {
			return owner
		}
		return assigneeName
	}

	if len(r.roles.ProductManager) == 0 || !r.roles.ProductManager.Any(current...) {
		return assigneeName
	}

	if len(r.roles.Developer) > 0 {
		if owner := r.lastAssignedTo(r.roles.Developer, true); owner != "" {
			return owner
		}
	}
	if owner := r.lastAssignedTo(r.roles.ProductManager, false); owner != "" {
		return owner
	}
	return assigneeName
}

// lastAssignedTo scans assignee changes most-recent-first and returns the
// destination display name of the first one whose destination matches roles
// (match=true) or does not match them (match=false).
func (r ownerResolver) lastAssignedTo(roles IdentitySet, match bool) string {
	for _, history := range r.histories {
		for _, item := range history.Items {
			if !isField(item, fieldAssignee) {
				continue
			}
			display := toDisplay(item)
			if display == "" {
				continue
			}
			if roles.Any(display, strings.TrimSpace(item.To)) == match {
				return display
			}
		}
	}
	return ""
}

// lastNonQualitySource returns the source display name of the most recent
// assignee change whose source is not a quality owner.
func (r ownerResolver) lastNonQualitySource() string {
	for _, history := range r.histories {
		for _, item := range history.Items {
			if !isField(item, fieldAssignee) {
				continue
			}
			display := fromDisplay(item)
			if display == "" {
				continue
			}
			if len(r.roles.Quality) > 0 && r.roles.Quality.Any(display, strings.TrimSpace(item.From)) {
				continue
			}
			return display
		}
	}
	return ""
}
