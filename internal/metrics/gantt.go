package metrics

import (
	"errors"
	"sort"

	"github.com/tuannvm/jira-pulse/internal/models"
)

// Gantt modes.
const (
	GanttMember = "member"
	GanttSprint = "sprint"
)

const unknownSprint = "Unknown Sprint"

// ErrInvalidGanttMode is returned for modes other than member and sprint.
var ErrInvalidGanttMode = errors.New("mode must be member or sprint")

// GanttRow is one bar on the gantt chart.
type GanttRow struct {
	Lane     string `json:"lane" yaml:"lane"`
	Key      string `json:"key" yaml:"key"`
	Summary  string `json:"summary" yaml:"summary"`
	Priority string `json:"priority" yaml:"priority"`
	Status   string `json:"status" yaml:"status"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	URL      string `json:"url" yaml:"url"`
}

// ValidGanttMode reports whether mode is supported.
func ValidGanttMode(mode string) bool {
	return mode == GanttMember || mode == GanttSprint
}

// BuildGanttRows lays cards out by lane. Member mode spans developer start to
// resolution on the metric owner's lane; sprint mode spans creation to
// resolution on the sprint's lane. Cards missing either end are skipped.
func BuildGanttRows(cards []models.Card, mode string) []GanttRow {
	rows := []GanttRow{}
	for _, card := range cards {
		var start, lane string
		if mode == GanttMember {
			start = card.Timeline.DeveloperStartedAt
			lane = ownerOf(card)
		} else {
			start = card.Timeline.CreatedAt
			lane = card.Sprint
			if lane == "" {
				lane = unknownSprint
			}
		}
		end := card.Timeline.ResolvedAt
		if start == "" || end == "" {
			continue
		}
		rows = append(rows, GanttRow{
			Lane:     lane,
			Key:      card.Key,
			Summary:  card.Summary,
			Priority: card.Priority,
			Status:   card.Status,
			Start:    start,
			End:      end,
			URL:      card.URL,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Lane != rows[j].Lane {
			return rows[i].Lane < rows[j].Lane
		}
		return rows[i].Start < rows[j].Start
	})
	return rows
}
