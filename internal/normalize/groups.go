package normalize

import (
	"strings"

	"github.com/tuannvm/jira-pulse/internal/models"
)

// Kanban columns.
const (
	ColumnTodo       = "To Do"
	ColumnInProgress = "In Progress"
	ColumnReview     = "审核中"
	ColumnDone       = "Done"
)

// Columns lists the kanban columns in board order.
var Columns = []string{ColumnTodo, ColumnInProgress, ColumnReview, ColumnDone}

var (
	defaultTodo       = []string{"to do", "open", "backlog", "selected for development"}
	defaultInProgress = []string{"in progress", "development", "testing"}
	defaultReview     = []string{"in review", "code review", "reviewing", "审核中"}
	defaultDone       = []string{"done", "resolved", "closed"}

	// solvingStatuses mark the start of development work. Not configurable.
	solvingStatuses = NewIdentitySet("solving", "解决中")
	// mainlineResolvedStatuses mark a fix landing on mainline. Not configurable.
	mainlineResolvedStatuses = NewIdentitySet("主干已解决")
)

const closedStatus = "closed"

// IdentitySet is a set of normalized identities or status names.
type IdentitySet map[string]struct{}

// NewIdentitySet normalizes values and drops empty ones.
func NewIdentitySet(values ...string) IdentitySet {
	set := make(IdentitySet, len(values))
	for _, v := range values {
		if n := NormalizeIdentity(v); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Has reports whether the normalized value is in the set. The empty
// identity never matches.
func (s IdentitySet) Has(value string) bool {
	n := NormalizeIdentity(value)
	if n == "" {
		return false
	}
	_, ok := s[n]
	return ok
}

// Any reports whether any candidate is in the set.
func (s IdentitySet) Any(candidates ...string) bool {
	for _, c := range candidates {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// NormalizeIdentity lowercases and trims an identity.
func NormalizeIdentity(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// StatusGroups maps canonical lifecycle buckets to raw status names.
type StatusGroups struct {
	Todo       IdentitySet
	InProgress IdentitySet
	Review     IdentitySet
	Done       IdentitySet
}

// BuildStatusGroups applies the mapping over the defaults. A bucket is only
// replaced when its configured list normalizes to a non-empty set.
func BuildStatusGroups(mapping *models.StatusMapping) StatusGroups {
	groups := StatusGroups{
		Todo:       NewIdentitySet(defaultTodo...),
		InProgress: NewIdentitySet(defaultInProgress...),
		Review:     NewIdentitySet(defaultReview...),
		Done:       NewIdentitySet(defaultDone...),
	}
	if mapping == nil {
		return groups
	}
	override := func(target *IdentitySet, values []string) {
		if set := NewIdentitySet(values...); len(set) > 0 {
			*target = set
		}
	}
	override(&groups.Todo, mapping.Todo)
	override(&groups.InProgress, mapping.InProgress)
	override(&groups.Review, mapping.Review)
	override(&groups.Done, mapping.Done)
	return groups
}

// Column derives the kanban column for a raw status name. Unknown statuses
// land in To Do.
func (g StatusGroups) Column(status string) string {
	switch {
	case g.Done.Has(status):
		return ColumnDone
	case g.Review.Has(status):
		return ColumnReview
	case g.InProgress.Has(status):
		return ColumnInProgress
	default:
		return ColumnTodo
	}
}

// RoleGroups maps role buckets to normalized identities.
type RoleGroups struct {
	ProductManager IdentitySet
	DevManager     IdentitySet
	Developer      IdentitySet
	Quality        IdentitySet
}

// BuildRoleGroups normalizes role settings. Missing settings yield empty
// groups.
func BuildRoleGroups(settings *models.RoleSettings) RoleGroups {
	if settings == nil {
		return RoleGroups{
			ProductManager: IdentitySet{},
			DevManager:     IdentitySet{},
			Developer:      IdentitySet{},
			Quality:        IdentitySet{},
		}
	}
	return RoleGroups{
		ProductManager: NewIdentitySet(settings.ProductManagerRoles...),
		DevManager:     NewIdentitySet(settings.DevManagerRoles...),
		Developer:      NewIdentitySet(settings.DeveloperRoles...),
		Quality:        NewIdentitySet(settings.QualityRoles...),
	}
}

// TeamMembership is one team with its normalized member set.
type TeamMembership struct {
	ID      string
	Name    string
	Owner   string
	Members IdentitySet
}

// Contains reports whether identity belongs to the team.
func (m TeamMembership) Contains(identity string) bool {
	return m.Members.Has(identity)
}

// BuildMembership projects teams into membership sets, in configured order.
// Teams without an id are skipped; a missing name falls back to the id.
func BuildMembership(teams []models.Team) []TeamMembership {
	out := make([]TeamMembership, 0, len(teams))
	for _, team := range teams {
		id := strings.TrimSpace(team.ID)
		if id == "" {
			continue
		}
		name := strings.TrimSpace(team.Name)
		if name == "" {
			name = id
		}
		out = append(out, TeamMembership{
			ID:      id,
			Name:    name,
			Owner:   team.Owner,
			Members: NewIdentitySet(team.Members...),
		})
	}
	return out
}

// AllMembers flattens every team's members into one set.
func AllMembers(teams []models.Team) IdentitySet {
	set := IdentitySet{}
	for _, team := range teams {
		for _, member := range team.Members {
			if n := NormalizeIdentity(member); n != "" {
				set[n] = struct{}{}
			}
		}
	}
	return set
}
