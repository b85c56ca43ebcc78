package analytics

import (
	"sort"
	"strings"

	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/normalize"
	"github.com/tuannvm/jira-pulse/internal/period"
)

// Synthetic bucket for cards no configured team claims.
const (
	OtherTeamID   = "other"
	OtherTeamName = "其他团队"
)

// TeamPeriodRow is one team's share of the period's cards.
type TeamPeriodRow struct {
	TeamID          string   `json:"team_id" yaml:"team_id"`
	TeamName        string   `json:"team_name" yaml:"team_name"`
	Total           int      `json:"total" yaml:"total"`
	AssignedTotal   int      `json:"assigned_total" yaml:"assigned_total"`
	ResolvedTotal   int      `json:"resolved_total" yaml:"resolved_total"`
	UnresolvedTotal int      `json:"unresolved_total" yaml:"unresolved_total"`
	IssueKeys       []string `json:"issue_keys" yaml:"issue_keys"`
}

// TransferOutItem is one card that left a team during the window and had not
// come back by its end.
type TransferOutItem struct {
	Key                 string `json:"key" yaml:"key"`
	Summary             string `json:"summary" yaml:"summary"`
	Status              string `json:"status" yaml:"status"`
	Assignee            string `json:"assignee" yaml:"assignee"`
	MetricOwner         string `json:"metric_owner" yaml:"metric_owner"`
	LatestTransferOutAt string `json:"latest_transfer_out_at" yaml:"latest_transfer_out_at"`
	From                string `json:"from" yaml:"from"`
	To                  string `json:"to" yaml:"to"`
	EventCount          int    `json:"event_count" yaml:"event_count"`
	URL                 string `json:"url" yaml:"url"`
}

// TeamTransferRow is one team's transfer-out tally.
type TeamTransferRow struct {
	TeamID                string            `json:"team_id" yaml:"team_id"`
	TeamName              string            `json:"team_name" yaml:"team_name"`
	Owner                 string            `json:"owner" yaml:"owner"`
	MemberCount           int               `json:"member_count" yaml:"member_count"`
	TransferOutIssueCount int               `json:"transfer_out_issue_count" yaml:"transfer_out_issue_count"`
	TransferOutEventCount int               `json:"transfer_out_event_count" yaml:"transfer_out_event_count"`
	Items                 []TransferOutItem `json:"items" yaml:"items"`
}

// ClassifyCardTeam returns the first team, in configured order, that has the
// card's metric owner, login or assignee as a member.
func ClassifyCardTeam(card models.Card, teams []normalize.TeamMembership) (string, string) {
	for _, team := range teams {
		if team.Members.Any(card.MetricOwner, card.AssigneeLogin, card.Assignee) {
			return team.ID, team.Name
		}
	}
	return OtherTeamID, OtherTeamName
}

// BuildTeamPeriodSummary groups cards by team and counts them against the
// window. The other bucket sorts last.
func BuildTeamPeriodSummary(cards []models.Card, window period.Window, teams []models.Team) []TeamPeriodRow {
	if len(cards) == 0 {
		return []TeamPeriodRow{}
	}

	membership := normalize.BuildMembership(teams)
	grouped := map[string]*TeamPeriodRow{}
	keys := map[string]map[string]struct{}{}
	order := []string{}

	for _, card := range cards {
		teamID, teamName := ClassifyCardTeam(card, membership)
		row, ok := grouped[teamID]
		if !ok {
			row = &TeamPeriodRow{TeamID: teamID, TeamName: teamName}
			grouped[teamID] = row
			keys[teamID] = map[string]struct{}{}
			order = append(order, teamID)
		}
		row.Total++
		if key := strings.TrimSpace(card.Key); key != "" {
			keys[teamID][key] = struct{}{}
		}
		if window.InWindow(assignedAt(card)) {
			row.AssignedTotal++
		}
		if window.InWindow(card.Timeline.ResolvedAt) {
			row.ResolvedTotal++
		}
		if card.Timeline.ResolvedAt == "" {
			row.UnresolvedTotal++
		}
	}

	rows := make([]TeamPeriodRow, 0, len(order))
	for _, id := range order {
		row := grouped[id]
		row.IssueKeys = sortedKeys(keys[id])
		rows = append(rows, *row)
	}
	sortTeamPeriodRows(rows)
	return rows
}

func sortTeamPeriodRows(rows []TeamPeriodRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		iOther := rows[i].TeamName == OtherTeamName
		jOther := rows[j].TeamName == OtherTeamName
		if iOther != jOther {
			return jOther
		}
		return rows[i].TeamName < rows[j].TeamName
	})
}

// eventIdentity prefers the login over the display name.
func eventIdentity(login, display string) string {
	if id := normalize.NormalizeIdentity(login); id != "" {
		return id
	}
	return normalize.NormalizeIdentity(display)
}

func currentIdentity(card models.Card) string {
	return eventIdentity(card.AssigneeLogin, card.Assignee)
}

// BuildTeamTransferOutSummary finds, per team, cards moved from a member to a
// non-member inside the window. A card whose last transfer before the window
// end lands back in the team, or whose current assignee is a member when no
// such transfer exists, is left out of the issue count; its out events still
// count.
func BuildTeamTransferOutSummary(cards []models.Card, teams []models.Team, window period.Window) []TeamTransferRow {
	if len(teams) == 0 {
		return []TeamTransferRow{}
	}

	membership := normalize.BuildMembership(teams)
	summaries := make([]TeamTransferRow, 0, len(membership))

	for _, team := range membership {
		eventCount := 0
		issueKeys := map[string]struct{}{}
		items := []TransferOutItem{}

		for _, card := range cards {
			if len(card.AssigneeTransferEvents) == 0 {
				continue
			}
			events := make([]models.AssigneeTransferEvent, len(card.AssigneeTransferEvents))
			copy(events, card.AssigneeTransferEvents)
			sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })

			var outs []models.AssigneeTransferEvent
			var lastBeforeEnd *models.AssigneeTransferEvent
			for i := range events {
				event := events[i]
				if event.At == "" {
					continue
				}
				at, ok := period.ParseTimestamp(event.At)
				if !ok {
					continue
				}
				if at.Before(window.End) {
					lastBeforeEnd = &events[i]
				}
				fromIn := team.Contains(eventIdentity(event.FromLogin, event.FromDisplay))
				toIn := team.Contains(eventIdentity(event.ToLogin, event.ToDisplay))
				if window.Contains(at) && fromIn && !toIn {
					outs = append(outs, event)
				}
			}
			if len(outs) == 0 {
				continue
			}

			var endInTeam bool
			if lastBeforeEnd != nil {
				endInTeam = team.Contains(eventIdentity(lastBeforeEnd.ToLogin, lastBeforeEnd.ToDisplay))
			} else {
				endInTeam = team.Contains(currentIdentity(card))
			}

			eventCount += len(outs)
			if endInTeam {
				continue
			}

			if card.Key != "" {
				issueKeys[card.Key] = struct{}{}
			}
			latest := outs[len(outs)-1]
			items = append(items, TransferOutItem{
				Key:                 card.Key,
				Summary:             card.Summary,
				Status:              card.Status,
				Assignee:            card.Assignee,
				MetricOwner:         card.MetricOwner,
				LatestTransferOutAt: latest.At,
				From:                displayOrDash(latest.FromDisplay, latest.FromLogin),
				To:                  displayOrDash(latest.ToDisplay, latest.ToLogin),
				EventCount:          len(outs),
				URL:                 card.URL,
			})
		}

		sortTransferItems(items)
		summaries = append(summaries, TeamTransferRow{
			TeamID:                team.ID,
			TeamName:              team.Name,
			Owner:                 team.Owner,
			MemberCount:           len(team.Members),
			TransferOutIssueCount: len(issueKeys),
			TransferOutEventCount: eventCount,
			Items:                 items,
		})
	}
	return summaries
}

func sortTransferItems(items []TransferOutItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LatestTransferOutAt > items[j].LatestTransferOutAt
	})
}

func displayOrDash(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "-"
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
