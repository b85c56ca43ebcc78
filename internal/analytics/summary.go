// Package analytics aggregates normalized cards into period-bounded manager
// reports: assignment and resolution counts, team attribution, transfer-out
// tracking and reopen/new-issue focus lists.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/period"
)

const (
	newIssueNote    = "当前按创建时间口径统计；后续可切换为自定义字段口径"
	transferOutNote = "统计周期内团队内->团队外流转；若周期结束前回转到团队内则不计入问题数"
)

// SummaryCards are the scalar counters of a manager summary.
type SummaryCards struct {
	AssignedTotal         int     `json:"assigned_total" yaml:"assigned_total"`
	ResolvedTotal         int     `json:"resolved_total" yaml:"resolved_total"`
	UnresolvedTotal       int     `json:"unresolved_total" yaml:"unresolved_total"`
	ReopenedEventTotal    int     `json:"reopened_event_total" yaml:"reopened_event_total"`
	NewIssueTotal         int     `json:"new_issue_total" yaml:"new_issue_total"`
	TransferOutIssueTotal int     `json:"transfer_out_issue_total" yaml:"transfer_out_issue_total"`
	TransferOutEventTotal int     `json:"transfer_out_event_total" yaml:"transfer_out_event_total"`
	ResolutionRate        float64 `json:"resolution_rate" yaml:"resolution_rate"`
	NetChange             int     `json:"net_change" yaml:"net_change"`
}

// SummaryIssueKeys lists the sorted issue keys behind each counter.
type SummaryIssueKeys struct {
	Assigned    []string `json:"assigned" yaml:"assigned"`
	Resolved    []string `json:"resolved" yaml:"resolved"`
	Unresolved  []string `json:"unresolved" yaml:"unresolved"`
	Reopened    []string `json:"reopened" yaml:"reopened"`
	NewIssue    []string `json:"new_issue" yaml:"new_issue"`
	TransferOut []string `json:"transfer_out" yaml:"transfer_out"`
}

// ReopenedItem is a card reopened at least once in the window.
type ReopenedItem struct {
	Key            string `json:"key" yaml:"key"`
	Summary        string `json:"summary" yaml:"summary"`
	Status         string `json:"status" yaml:"status"`
	Assignee       string `json:"assignee" yaml:"assignee"`
	MetricOwner    string `json:"metric_owner" yaml:"metric_owner"`
	ReopenCount    int    `json:"reopen_count" yaml:"reopen_count"`
	LastReopenedAt string `json:"last_reopened_at" yaml:"last_reopened_at"`
	URL            string `json:"url" yaml:"url"`
}

// NewIssueItem is a card created in the window.
type NewIssueItem struct {
	Key         string `json:"key" yaml:"key"`
	Summary     string `json:"summary" yaml:"summary"`
	Status      string `json:"status" yaml:"status"`
	Assignee    string `json:"assignee" yaml:"assignee"`
	MetricOwner string `json:"metric_owner" yaml:"metric_owner"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
	URL         string `json:"url" yaml:"url"`
}

// ReopenedFocus groups the window's reopened cards.
type ReopenedFocus struct {
	EventCount int            `json:"event_count" yaml:"event_count"`
	IssueCount int            `json:"issue_count" yaml:"issue_count"`
	Items      []ReopenedItem `json:"items" yaml:"items"`
}

// NewIssueFocus groups the window's new cards.
type NewIssueFocus struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Count   int            `json:"count" yaml:"count"`
	Items   []NewIssueItem `json:"items" yaml:"items"`
	Note    string         `json:"note" yaml:"note"`
}

// TransferOutFocus repeats the team transfer-out tally.
type TransferOutFocus struct {
	IssueCount int               `json:"issue_count" yaml:"issue_count"`
	EventCount int               `json:"event_count" yaml:"event_count"`
	Teams      []TeamTransferRow `json:"teams" yaml:"teams"`
	Note       string            `json:"note" yaml:"note"`
}

// PeriodFocus holds the detail lists shown under the summary.
type PeriodFocus struct {
	Reopened    ReopenedFocus    `json:"reopened" yaml:"reopened"`
	NewIssue    NewIssueFocus    `json:"new_issue" yaml:"new_issue"`
	TransferOut TransferOutFocus `json:"transfer_out" yaml:"transfer_out"`
}

// ManagerSummary is the full period report.
type ManagerSummary struct {
	Window            period.Info       `json:"summary_window" yaml:"summary_window"`
	Cards             SummaryCards      `json:"manager_summary_cards" yaml:"manager_summary_cards"`
	IssueKeys         SummaryIssueKeys  `json:"manager_summary_issue_keys" yaml:"manager_summary_issue_keys"`
	Text              string            `json:"manager_summary_text" yaml:"manager_summary_text"`
	TeamPeriodSummary []TeamPeriodRow   `json:"team_period_summary" yaml:"team_period_summary"`
	TeamSummary       []TeamTransferRow `json:"team_summary" yaml:"team_summary"`
	PeriodFocus       PeriodFocus       `json:"period_focus" yaml:"period_focus"`
}

// keySet collects trimmed, non-empty keys.
type keySet map[string]struct{}

func (s keySet) add(key string) {
	if key = strings.TrimSpace(key); key != "" {
		s[key] = struct{}{}
	}
}

func (s keySet) sorted() []string {
	return sortedKeys(s)
}

func windowedReopens(card models.Card, window period.Window) []string {
	var out []string
	for _, at := range card.Timeline.ReopenedEvents {
		if window.InWindow(at) {
			out = append(out, at)
		}
	}
	return out
}

// BuildManagerSummary aggregates cards against window. teams may be empty.
func BuildManagerSummary(cards []models.Card, window period.Window, teams []models.Team) ManagerSummary {
	var counters SummaryCards
	assigned, resolved, unresolved := keySet{}, keySet{}, keySet{}
	reopened, created, transferred := keySet{}, keySet{}, keySet{}
	reopenedItems := []ReopenedItem{}
	newIssueItems := []NewIssueItem{}

	for _, card := range cards {
		tl := card.Timeline
		if window.InWindow(assignedAt(card)) {
			counters.AssignedTotal++
			assigned.add(card.Key)
		}
		if window.InWindow(tl.ResolvedAt) {
			counters.ResolvedTotal++
			resolved.add(card.Key)
		}
		if tl.ResolvedAt == "" {
			counters.UnresolvedTotal++
			unresolved.add(card.Key)
		}
		if reopens := windowedReopens(card, window); len(reopens) > 0 {
			counters.ReopenedEventTotal += len(reopens)
			reopened.add(card.Key)
			reopenedItems = append(reopenedItems, ReopenedItem{
				Key:            card.Key,
				Summary:        card.Summary,
				Status:         card.Status,
				Assignee:       card.Assignee,
				MetricOwner:    card.MetricOwner,
				ReopenCount:    len(reopens),
				LastReopenedAt: reopens[len(reopens)-1],
				URL:            card.URL,
			})
		}
		if window.InWindow(tl.CreatedAt) {
			counters.NewIssueTotal++
			created.add(card.Key)
			newIssueItems = append(newIssueItems, NewIssueItem{
				Key:         card.Key,
				Summary:     card.Summary,
				Status:      card.Status,
				Assignee:    card.Assignee,
				MetricOwner: card.MetricOwner,
				CreatedAt:   tl.CreatedAt,
				URL:         card.URL,
			})
		}
	}

	teamSummary := BuildTeamTransferOutSummary(cards, teams, window)
	teamPeriod := BuildTeamPeriodSummary(cards, window, teams)
	for _, row := range teamSummary {
		counters.TransferOutIssueTotal += row.TransferOutIssueCount
		counters.TransferOutEventTotal += row.TransferOutEventCount
		for _, item := range row.Items {
			transferred.add(item.Key)
		}
	}

	counters.ResolutionRate = ResolutionRate(counters.ResolvedTotal, counters.AssignedTotal)
	counters.NetChange = counters.AssignedTotal - counters.ResolvedTotal

	sort.SliceStable(reopenedItems, func(i, j int) bool {
		return reopenedItems[i].LastReopenedAt > reopenedItems[j].LastReopenedAt
	})
	sort.SliceStable(newIssueItems, func(i, j int) bool {
		return newIssueItems[i].CreatedAt > newIssueItems[j].CreatedAt
	})

	return ManagerSummary{
		Window: window.Info(),
		Cards:  counters,
		IssueKeys: SummaryIssueKeys{
			Assigned:    assigned.sorted(),
			Resolved:    resolved.sorted(),
			Unresolved:  unresolved.sorted(),
			Reopened:    reopened.sorted(),
			NewIssue:    created.sorted(),
			TransferOut: transferred.sorted(),
		},
		Text:              SummaryText(window.Label, counters, teamPeriod),
		TeamPeriodSummary: teamPeriod,
		TeamSummary:       teamSummary,
		PeriodFocus: PeriodFocus{
			Reopened: ReopenedFocus{
				EventCount: counters.ReopenedEventTotal,
				IssueCount: len(reopenedItems),
				Items:      reopenedItems,
			},
			NewIssue: NewIssueFocus{
				Enabled: true,
				Count:   counters.NewIssueTotal,
				Items:   newIssueItems,
				Note:    newIssueNote,
			},
			TransferOut: TransferOutFocus{
				IssueCount: counters.TransferOutIssueTotal,
				EventCount: counters.TransferOutEventTotal,
				Teams:      teamSummary,
				Note:       transferOutNote,
			},
		},
	}
}

// ResolutionRate is resolved/assigned as a percentage rounded to two
// decimals, or 0 when nothing was assigned.
func ResolutionRate(resolved, assigned int) float64 {
	if assigned == 0 {
		return 0
	}
	return Round2(float64(resolved) / float64(assigned) * 100)
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SummaryText renders the one-line narrative, with a team overview clause
// when team rows exist.
func SummaryText(label string, c SummaryCards, teams []TeamPeriodRow) string {
	text := fmt.Sprintf(
		"%s：分配到开发 %d 个，已解决 %d 个，未解决 %d 个，重开事件 %d 次，新引入问题 %d 个，评估后转出 %d 个问题/%d 次流转，净变化 %d 个。",
		label, c.AssignedTotal, c.ResolvedTotal, c.UnresolvedTotal, c.ReopenedEventTotal,
		c.NewIssueTotal, c.TransferOutIssueTotal, c.TransferOutEventTotal, c.NetChange,
	)
	if len(teams) == 0 {
		return text
	}
	segments := make([]string, 0, len(teams))
	for _, row := range teams {
		keys := strings.Join(row.IssueKeys, ",")
		if keys == "" {
			keys = "-"
		}
		segments = append(segments, fmt.Sprintf("%s 已解决 %d/%d（%s）", row.TeamName, row.ResolvedTotal, row.Total, keys))
	}
	return text + " 团队概览：" + strings.Join(segments, "；") + "。"
}
