package period

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tuannvm/jira-pulse/internal/models"
)

// Window modes.
const (
	ModeCustom    = "custom"
	ModeRolling7d = "rolling_7d"
	ModeSprint    = "sprint"
	ModeWeekly    = "weekly"
)

const isoLayout = "2006-01-02T15:04:05.999999-07:00"

// Window is the half-open interval [Start, End) every in-window count is
// evaluated against.
type Window struct {
	Mode     string
	Label    string
	Start    time.Time
	End      time.Time
	Timezone string
}

// Info is the serialized form of a Window.
type Info struct {
	Mode     string `json:"mode" yaml:"mode"`
	Label    string `json:"label" yaml:"label"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// Info describes the window with ISO-8601 bounds.
func (w Window) Info() Info {
	return Info{
		Mode:     w.Mode,
		Label:    w.Label,
		Start:    w.Start.Format(isoLayout),
		End:      w.End.Format(isoLayout),
		Timezone: w.Timezone,
	}
}

// MarshalJSON encodes the window as its Info.
func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Info())
}

// Resolver computes period windows relative to a clock.
type Resolver struct {
	Now func() time.Time
}

// Resolve computes the window with the wall clock.
func Resolve(mode, start, end string, cards []models.Card) Window {
	return Resolver{}.Resolve(mode, start, end, cards)
}

// Resolve computes the window for mode. A valid explicit start < end always
// yields a custom window, whatever the mode. cards are only consulted for
// sprint mode.
func (r Resolver) Resolve(mode, start, end string, cards []models.Card) Window {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	now = now.Local()
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeWeekly
	}

	parsedStart, okStart := ParseTimestamp(start)
	parsedEnd, okEnd := ParseTimestamp(end)
	if okStart && okEnd && parsedStart.Before(parsedEnd) {
		return Window{
			Mode:     ModeCustom,
			Label:    "自定义区间",
			Start:    parsedStart,
			End:      parsedEnd,
			Timezone: timezoneLabel(parsedStart),
		}
	}

	switch mode {
	case ModeRolling7d:
		return Window{
			Mode:     ModeRolling7d,
			Label:    "最近7天",
			Start:    now.AddDate(0, 0, -7),
			End:      now,
			Timezone: timezoneLabel(now),
		}
	case ModeSprint:
		if first, last, ok := sprintBounds(cards); ok {
			return Window{
				Mode:     ModeSprint,
				Label:    "当前Sprint",
				Start:    first,
				End:      last,
				Timezone: timezoneLabel(first),
			}
		}
		return Window{
			Mode:     ModeSprint,
			Label:    "当前Sprint",
			Start:    now.AddDate(0, 0, -14),
			End:      now,
			Timezone: timezoneLabel(now),
		}
	default:
		weekStart := startOfWeek(now)
		return Window{
			Mode:     ModeWeekly,
			Label:    "本周",
			Start:    weekStart,
			End:      weekStart.AddDate(0, 0, 7),
			Timezone: timezoneLabel(now),
		}
	}
}

// sprintBounds scans created, developer-started and resolved timestamps of
// every card and returns the earliest and latest that parse.
func sprintBounds(cards []models.Card) (time.Time, time.Time, bool) {
	var first, last time.Time
	found := false
	for _, card := range cards {
		for _, value := range []string{card.Timeline.CreatedAt, card.Timeline.DeveloperStartedAt, card.Timeline.ResolvedAt} {
			point, ok := ParseTimestamp(value)
			if !ok {
				continue
			}
			if !found || point.Before(first) {
				first = point
			}
			if !found || point.After(last) {
				last = point
			}
			found = true
		}
	}
	return first, last, found
}

// startOfWeek truncates now to midnight of the Monday of its week.
func startOfWeek(now time.Time) time.Time {
	offset := (int(now.Weekday()) + 6) % 7
	day := now.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())
}

func timezoneLabel(t time.Time) string {
	name, offset := t.Zone()
	if name != "" {
		return name
	}
	if offset == 0 {
		return "UTC"
	}
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offset/3600, (offset%3600)/60)
}
