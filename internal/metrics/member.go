// Package metrics computes per-member progress rows and gantt rows from
// normalized cards.
package metrics

import (
	"sort"
	"strings"

	"github.com/tuannvm/jira-pulse/internal/analytics"
	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/normalize"
	"github.com/tuannvm/jira-pulse/internal/period"
)

const unassigned = "Unassigned"

var priorityWeight = map[string]int{
	"highest": 5,
	"high":    4,
	"medium":  3,
	"low":     2,
	"lowest":  1,
}

// PriorityWeight returns the weight for a priority name. Unknown priorities
// weigh 1.
func PriorityWeight(priority string) int {
	if w, ok := priorityWeight[strings.ToLower(priority)]; ok {
		return w
	}
	return 1
}

// MemberMetricRow is one metric owner's progress.
type MemberMetricRow struct {
	TeamID            string   `json:"team_id" yaml:"team_id"`
	TeamName          string   `json:"team_name" yaml:"team_name"`
	Assignee          string   `json:"assignee" yaml:"assignee"`
	Total             int      `json:"total" yaml:"total"`
	Resolved          int      `json:"resolved" yaml:"resolved"`
	ResolvedIssueKeys []string `json:"resolved_issue_keys" yaml:"resolved_issue_keys"`
	ResolutionRate    float64  `json:"resolution_rate" yaml:"resolution_rate"`
	WIP               int      `json:"wip" yaml:"wip"`
	AvgLeadTimeHours  *float64 `json:"avg_lead_time_hours" yaml:"avg_lead_time_hours"`
	WeightedProgress  float64  `json:"weighted_progress" yaml:"weighted_progress"`
}

func ownerOf(card models.Card) string {
	if card.MetricOwner != "" {
		return card.MetricOwner
	}
	if card.Assignee != "" {
		return card.Assignee
	}
	return unassigned
}

// teamFor matches every identity seen across the owner's cards against the
// teams, in configured order.
func teamFor(items []models.Card, teams []normalize.TeamMembership) (string, string) {
	var identities []string
	for _, item := range items {
		identities = append(identities, item.MetricOwner, item.Assignee, item.AssigneeLogin)
	}
	for _, team := range teams {
		if team.Members.Any(identities...) {
			return team.ID, team.Name
		}
	}
	return analytics.OtherTeamID, analytics.OtherTeamName
}

// ComputeMemberMetrics groups cards by metric owner and computes one row per
// owner. Rows sort by team (other last), weighted progress descending, then
// owner name.
func ComputeMemberMetrics(cards []models.Card, teams []models.Team) []MemberMetricRow {
	membership := normalize.BuildMembership(teams)
	grouped := map[string][]models.Card{}
	order := []string{}
	for _, card := range cards {
		owner := ownerOf(card)
		if _, ok := grouped[owner]; !ok {
			order = append(order, owner)
		}
		grouped[owner] = append(grouped[owner], card)
	}

	rows := make([]MemberMetricRow, 0, len(order))
	for _, owner := range order {
		rows = append(rows, memberRow(owner, grouped[owner], membership))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		aOther, bOther := a.TeamName == analytics.OtherTeamName, b.TeamName == analytics.OtherTeamName
		if aOther != bOther {
			return bOther
		}
		if a.TeamName != b.TeamName {
			return a.TeamName < b.TeamName
		}
		if a.WeightedProgress != b.WeightedProgress {
			return a.WeightedProgress > b.WeightedProgress
		}
		return a.Assignee < b.Assignee
	})
	return rows
}

func memberRow(owner string, items []models.Card, teams []normalize.TeamMembership) MemberMetricRow {
	teamID, teamName := teamFor(items, teams)
	row := MemberMetricRow{TeamID: teamID, TeamName: teamName, Assignee: owner, Total: len(items)}

	keys := map[string]struct{}{}
	var leadTimes []float64
	totalWeight, resolvedWeight := 0, 0
	for _, item := range items {
		weight := PriorityWeight(item.Priority)
		totalWeight += weight
		switch item.Column {
		case normalize.ColumnDone:
			row.Resolved++
			resolvedWeight += weight
			if key := strings.TrimSpace(item.Key); key != "" {
				keys[key] = struct{}{}
			}
		case normalize.ColumnInProgress, normalize.ColumnReview:
			row.WIP++
		}
		if hours, ok := period.HoursBetween(item.Timeline.CreatedAt, item.Timeline.ResolvedAt); ok {
			leadTimes = append(leadTimes, hours)
		}
	}

	row.ResolvedIssueKeys = make([]string, 0, len(keys))
	for k := range keys {
		row.ResolvedIssueKeys = append(row.ResolvedIssueKeys, k)
	}
	sort.Strings(row.ResolvedIssueKeys)

	if row.Total > 0 {
		row.ResolutionRate = analytics.Round2(float64(row.Resolved) / float64(row.Total) * 100)
	}
	if len(leadTimes) > 0 {
		sum := 0.0
		for _, h := range leadTimes {
			sum += h
		}
		avg := analytics.Round2(sum / float64(len(leadTimes)))
		row.AvgLeadTimeHours = &avg
	}
	if totalWeight == 0 {
		totalWeight = 1
	}
	row.WeightedProgress = analytics.Round2(float64(resolvedWeight) / float64(totalWeight) * 100)
	return row
}
