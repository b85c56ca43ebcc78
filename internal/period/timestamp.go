package period

import (
	"regexp"
	"strings"
	"time"
)

var compactOffset = regexp.MustCompile(`[+-]\d{4}$`)

// Layouts accepted after offset normalization. Fractional seconds are
// optional in every layout.
var (
	zonedLayouts = []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02T15:04Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// ParseTimestamp parses a tracker timestamp. A trailing Z is read as +00:00
// and a compact ±HHMM offset as ±HH:MM. Values without an offset are read in
// local time. ok is false for anything unparseable, including "".
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	normalized := strings.ReplaceAll(value, "Z", "+00:00")
	if compactOffset.MatchString(normalized) {
		n := len(normalized)
		normalized = normalized[:n-5] + normalized[n-5:n-2] + ":" + normalized[n-2:]
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, normalized, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// InWindow reports whether value parses and falls inside [w.Start, w.End).
func (w Window) InWindow(value string) bool {
	t, ok := ParseTimestamp(value)
	if !ok {
		return false
	}
	return w.Contains(t)
}

// Contains reports whether t falls inside [w.Start, w.End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// HoursBetween returns end-start in hours when both parse.
func HoursBetween(start, end string) (float64, bool) {
	s, ok := ParseTimestamp(start)
	if !ok {
		return 0, false
	}
	e, ok := ParseTimestamp(end)
	if !ok {
		return 0, false
	}
	return e.Sub(s).Hours(), true
}
