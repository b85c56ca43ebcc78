package normalize

import (
	"fmt"
	"strings"

	"github.com/tuannvm/jira-pulse/internal/models"
)

const (
	unassigned     = "Unassigned"
	unknownField   = "Unknown"
	defaultBaseURL = "https://jira.local"
)

// Settings is the configuration snapshot one normalization pass runs with.
// Every field is optional; absent values fall back to the defaults.
type Settings struct {
	StatusMapping *models.StatusMapping
	RoleSettings  *models.RoleSettings
	Teams         []models.Team
}

// Normalizer turns raw issues into cards. It precomputes the status, role
// and team lookups once and is safe for concurrent use.
type Normalizer struct {
	baseURL     string
	statuses    StatusGroups
	roles       RoleGroups
	teamMembers IdentitySet
}

// New builds a Normalizer for issues linked under baseURL.
func New(baseURL string, settings Settings) *Normalizer {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Normalizer{
		baseURL:     baseURL,
		statuses:    BuildStatusGroups(settings.StatusMapping),
		roles:       BuildRoleGroups(settings.RoleSettings),
		teamMembers: AllMembers(settings.Teams),
	}
}

// NormalizeIssue is a one-shot helper around New(...).Normalize.
func NormalizeIssue(issue models.Issue, baseURL string, settings Settings) models.Card {
	return New(baseURL, settings).Normalize(issue)
}

// Normalize builds the card for one issue. The issue is not modified.
func (n *Normalizer) Normalize(issue models.Issue) models.Card {
	fields := issue.Fields
	status := fields.StatusName()

	assigneeName, assigneeLogin := unassigned, ""
	if a := fields.Assignee; a != nil {
		if a.DisplayName != "" {
			assigneeName = a.DisplayName
		}
		assigneeLogin = firstNonEmpty(a.Name, a.Key)
	}

	priority := unknownField
	if fields.Priority != nil && fields.Priority.Name != "" {
		priority = fields.Priority.Name
	}
	issueType := unknownField
	if fields.IssueType != nil && fields.IssueType.Name != "" {
		issueType = fields.IssueType.Name
	}

	return models.Card{
		Key:                    issue.Key,
		Summary:                fields.Summary,
		Status:                 status,
		Column:                 n.statuses.Column(status),
		Assignee:               assigneeName,
		AssigneeLogin:          assigneeLogin,
		MetricOwner:            ResolveMetricOwner(issue, assigneeName, assigneeLogin, n.roles),
		Priority:               priority,
		IssueType:              issueType,
		Description:            fields.Description,
		URL:                    fmt.Sprintf("%s/browse/%s", n.baseURL, issue.Key),
		Timeline:               ExtractTimeline(issue, n.statuses, n.roles, n.teamMembers),
		AssigneeTransferEvents: ExtractAssigneeTransferEvents(issue),
		Sprint:                 fields.SprintName(),
	}
}

// NormalizeAll normalizes issues in order.
func (n *Normalizer) NormalizeAll(issues []models.Issue) []models.Card {
	cards := make([]models.Card, 0, len(issues))
	for _, issue := range issues {
		cards = append(cards, n.Normalize(issue))
	}
	return cards
}

// Filter narrows a card list. Empty criteria are ignored.
type Filter struct {
	Assignee string
	Priority string
	Keyword  string
}

// FilterCards keeps cards whose assignee and priority match exactly and
// whose summary or key contains the keyword, case-insensitively.
func FilterCards(cards []models.Card, f Filter) []models.Card {
	keyword := strings.ToLower(f.Keyword)
	out := make([]models.Card, 0, len(cards))
	for _, card := range cards {
		if f.Assignee != "" && card.Assignee != f.Assignee {
			continue
		}
		if f.Priority != "" && card.Priority != f.Priority {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(card.Summary), keyword) &&
			!strings.Contains(strings.ToLower(card.Key), keyword) {
			continue
		}
		out = append(out, card)
	}
	return out
}

// ColumnGroup is one kanban column and its cards.
type ColumnGroup struct {
	Name  string        `json:"name" yaml:"name"`
	Cards []models.Card `json:"cards" yaml:"cards"`
}

// SplitColumns buckets cards into the board columns. Columns outside the
// standard four are appended in first-seen order.
func SplitColumns(cards []models.Card) []ColumnGroup {
	groups := make([]ColumnGroup, 0, len(Columns))
	index := make(map[string]int, len(Columns))
	for _, name := range Columns {
		index[name] = len(groups)
		groups = append(groups, ColumnGroup{Name: name, Cards: []models.Card{}})
	}
	for _, card := range cards {
		i, ok := index[card.Column]
		if !ok {
			i = len(groups)
			index[card.Column] = i
			groups = append(groups, ColumnGroup{Name: card.Column, Cards: []models.Card{}})
		}
		groups[i].Cards = append(groups[i].Cards, card)
	}
	return groups
}
