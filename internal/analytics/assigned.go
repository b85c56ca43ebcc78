package analytics

import (
	"sort"

	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/normalize"
	"github.com/tuannvm/jira-pulse/internal/period"
)

// Assignment sources.
const (
	SourceDevManager       = "dev_manager_assigned_at"
	SourceAssigneeTransfer = "assignee_transfer"
)

// AssignedMarker is the moment a card was handed to its current owner.
type AssignedMarker struct {
	At     string `json:"at,omitempty"`
	Source string `json:"source,omitempty"`
}

// ResolveAssignedMarker prefers the dev manager hand-off. Without one, it
// takes the most recent transfer whose destination is the card's current
// owner. An empty marker means the card was never assigned.
func ResolveAssignedMarker(card models.Card) AssignedMarker {
	if card.Timeline.DevManagerAssignedAt != "" {
		return AssignedMarker{At: card.Timeline.DevManagerAssignedAt, Source: SourceDevManager}
	}

	owners := ownerIdentities(card)
	events := make([]models.AssigneeTransferEvent, len(card.AssigneeTransferEvents))
	copy(events, card.AssigneeTransferEvents)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At > events[j].At })

	for _, event := range events {
		if owners.Any(event.ToLogin, event.ToDisplay) && event.At != "" {
			return AssignedMarker{At: event.At, Source: SourceAssigneeTransfer}
		}
	}
	return AssignedMarker{}
}

func assignedAt(card models.Card) string {
	return ResolveAssignedMarker(card).At
}

func ownerIdentities(card models.Card) normalize.IdentitySet {
	return normalize.NewIdentitySet(card.MetricOwner, card.AssigneeLogin, card.Assignee)
}

// AssignmentDebugRow explains how one card's assignment time was derived.
type AssignmentDebugRow struct {
	Key            string `json:"key" yaml:"key"`
	Assignee       string `json:"assignee" yaml:"assignee"`
	MetricOwner    string `json:"metric_owner" yaml:"metric_owner"`
	AssignedAt     string `json:"assigned_at,omitempty" yaml:"assigned_at,omitempty"`
	AssignedSource string `json:"assigned_source,omitempty" yaml:"assigned_source,omitempty"`
	InWindow       bool   `json:"in_window" yaml:"in_window"`
}

// AssignmentDebug is the per-card assignment trace for a window.
type AssignmentDebug struct {
	Window period.Info          `json:"window" yaml:"window"`
	Rows   []AssignmentDebugRow `json:"rows" yaml:"rows"`
}

// BuildAssignmentDebug lists every card's assignment marker, latest first.
func BuildAssignmentDebug(cards []models.Card, window period.Window) AssignmentDebug {
	rows := make([]AssignmentDebugRow, 0, len(cards))
	for _, card := range cards {
		marker := ResolveAssignedMarker(card)
		rows = append(rows, AssignmentDebugRow{
			Key:            card.Key,
			Assignee:       card.Assignee,
			MetricOwner:    card.MetricOwner,
			AssignedAt:     marker.At,
			AssignedSource: marker.Source,
			InWindow:       window.InWindow(marker.At),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].AssignedAt > rows[j].AssignedAt })
	return AssignmentDebug{Window: window.Info(), Rows: rows}
}
