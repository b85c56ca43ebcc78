package models

import (
	"encoding/json"
	"strconv"
)

// Issue is one raw issue as returned by the tracker search API with the
// changelog expanded. It is read-only input for the normalizer.
type Issue struct {
	ID        string      `json:"id,omitempty"`
	Key       string      `json:"key"`
	Fields    IssueFields `json:"fields"`
	Changelog Changelog   `json:"changelog"`
}

// IssueFields holds the subset of issue fields the reports consume.
type IssueFields struct {
	Summary        string          `json:"summary"`
	Status         *NamedField     `json:"status,omitempty"`
	Priority       *NamedField     `json:"priority,omitempty"`
	Assignee       *User           `json:"assignee,omitempty"`
	Created        string          `json:"created"`
	Updated        string          `json:"updated,omitempty"`
	ResolutionDate string          `json:"resolutiondate,omitempty"`
	IssueType      *NamedField     `json:"issuetype,omitempty"`
	Description    string          `json:"description,omitempty"`
	Sprint         json.RawMessage `json:"sprint,omitempty"`
}

// NamedField is any field rendered as an object with a name (status,
// priority, issue type, sprint).
type NamedField struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// User is an issue assignee.
type User struct {
	Name        string `json:"name,omitempty"`
	Key         string `json:"key,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Changelog is the expanded change history of an issue.
type Changelog struct {
	Histories []History `json:"histories"`
}

// History is one group of field changes made at the same moment.
type History struct {
	Created string          `json:"created"`
	Items   []ChangelogItem `json:"items"`
}

// ChangelogItem represents a single change in a changelog history.
type ChangelogItem struct {
	Field      string `json:"field"`
	Fieldtype  string `json:"fieldtype,omitempty"`
	From       string `json:"from"`
	FromString string `json:"fromString"`
	To         string `json:"to"`
	ToString   string `json:"toString"`
}

// UnmarshalJSON tolerates null and non-string from/to values, which some
// tracker versions emit for numeric ids.
func (c *ChangelogItem) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Field = rawString(raw["field"])
	c.Fieldtype = rawString(raw["fieldtype"])
	c.From = rawString(raw["from"])
	c.FromString = rawString(raw["fromString"])
	c.To = rawString(raw["to"])
	c.ToString = rawString(raw["toString"])
	return nil
}

// StatusName returns the current status name, or "" when absent.
func (f IssueFields) StatusName() string {
	if f.Status == nil {
		return ""
	}
	return f.Status.Name
}

// SprintName returns the sprint name when the sprint field is an object.
func (f IssueFields) SprintName() string {
	if len(f.Sprint) == 0 {
		return ""
	}
	var sprint NamedField
	if err := json.Unmarshal(f.Sprint, &sprint); err != nil {
		return ""
	}
	return sprint.Name
}

// Timeline is the set of lifecycle timestamps derived from one issue's
// changelog. Every value is the raw timestamp string copied from the source;
// an empty string means the milestone was never reached.
type Timeline struct {
	CreatedAt              string   `json:"created_at" yaml:"created_at"`
	ProductAssignedAt      string   `json:"product_assigned_at,omitempty" yaml:"product_assigned_at,omitempty"`
	ProductAssignedTo      string   `json:"product_assigned_to,omitempty" yaml:"product_assigned_to,omitempty"`
	DevManagerAssignedAt   string   `json:"dev_manager_assigned_at,omitempty" yaml:"dev_manager_assigned_at,omitempty"`
	DevManagerAssignedFrom string   `json:"dev_manager_assigned_from,omitempty" yaml:"dev_manager_assigned_from,omitempty"`
	DevManagerAssignedTo   string   `json:"dev_manager_assigned_to,omitempty" yaml:"dev_manager_assigned_to,omitempty"`
	DeveloperStartedAt     string   `json:"developer_started_at,omitempty" yaml:"developer_started_at,omitempty"`
	InProgressAt           string   `json:"in_progress_at,omitempty" yaml:"in_progress_at,omitempty"`
	ReviewAt               string   `json:"review_at,omitempty" yaml:"review_at,omitempty"`
	ResolvedAt             string   `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
	ClosedAt               string   `json:"closed_at,omitempty" yaml:"closed_at,omitempty"`
	ReopenedEvents         []string `json:"reopened_events" yaml:"reopened_events"`
}

// AssigneeTransferEvent is one assignee change. Login and display name are
// independently optional.
type AssigneeTransferEvent struct {
	At          string `json:"at" yaml:"at"`
	FromLogin   string `json:"from_login,omitempty" yaml:"from_login,omitempty"`
	FromDisplay string `json:"from_display,omitempty" yaml:"from_display,omitempty"`
	ToLogin     string `json:"to_login,omitempty" yaml:"to_login,omitempty"`
	ToDisplay   string `json:"to_display,omitempty" yaml:"to_display,omitempty"`
}

// Card is the normalized, analysis-ready view of one issue.
type Card struct {
	Key                    string                  `json:"key" yaml:"key"`
	Summary                string                  `json:"summary" yaml:"summary"`
	Status                 string                  `json:"status" yaml:"status"`
	Column                 string                  `json:"column" yaml:"column"`
	Assignee               string                  `json:"assignee" yaml:"assignee"`
	AssigneeLogin          string                  `json:"assignee_login" yaml:"assignee_login"`
	MetricOwner            string                  `json:"metric_owner" yaml:"metric_owner"`
	Priority               string                  `json:"priority" yaml:"priority"`
	IssueType              string                  `json:"issue_type" yaml:"issue_type"`
	Description            string                  `json:"description" yaml:"description"`
	URL                    string                  `json:"url" yaml:"url"`
	Timeline               Timeline                `json:"timeline" yaml:"timeline"`
	AssigneeTransferEvents []AssigneeTransferEvent `json:"assignee_transfer_events" yaml:"assignee_transfer_events"`
	Sprint                 string                  `json:"sprint,omitempty" yaml:"sprint,omitempty"`
}

// Team is a configured team. Members are raw identities (login or display
// name); matching normalizes them.
type Team struct {
	ID      string   `json:"id" mapstructure:"id"`
	Name    string   `json:"name" mapstructure:"name"`
	Owner   string   `json:"owner" mapstructure:"owner"`
	Members []string `json:"members" mapstructure:"members"`
}

// StatusMapping overrides the default status buckets.
type StatusMapping struct {
	Todo       []string `json:"todo" mapstructure:"todo"`
	InProgress []string `json:"in_progress" mapstructure:"in_progress"`
	Review     []string `json:"review" mapstructure:"review"`
	Done       []string `json:"done" mapstructure:"done"`
}

// RoleSettings lists the identities that belong to each role.
type RoleSettings struct {
	ProductManagerRoles []string `json:"product_manager_roles" mapstructure:"product_manager_roles"`
	DevManagerRoles     []string `json:"dev_manager_roles" mapstructure:"dev_manager_roles"`
	DeveloperRoles      []string `json:"developer_roles" mapstructure:"developer_roles"`
	QualityRoles        []string `json:"quality_roles" mapstructure:"quality_roles"`
}

// rawString safely converts an interface{} to a string
func rawString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
