package period

import (
	"testing"
	"time"

	"github.com/tuannvm/jira-pulse/internal/models"
)

func TestParseTimestampCompactOffset(t *testing.T) {
	got, ok := ParseTimestamp("2026-02-24T13:38:14.000+0800")
	if !ok {
		t.Fatalf("expected compact offset timestamp to parse")
	}
	want, ok := ParseTimestamp("2026-02-24T13:38:14+08:00")
	if !ok {
		t.Fatalf("expected colon offset timestamp to parse")
	}
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
	if _, offset := got.Zone(); offset != 8*3600 {
		t.Errorf("expected +08:00 offset, got %d seconds", offset)
	}
}

func TestParseTimestampVariants(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"zulu", "2026-02-24T00:00:00Z", true},
		{"zulu with fraction", "2026-02-24T00:00:00.123Z", true},
		{"colon offset", "2026-02-24T00:00:00+00:00", true},
		{"negative compact offset", "2026-02-24T00:00:00.000-0500", true},
		{"space separator", "2026-02-24 08:00:00+08:00", true},
		{"naive", "2026-02-24T08:00:00", true},
		{"date only", "2026-02-24", true},
		{"empty", "", false},
		{"garbage", "yesterday", false},
		{"bad month", "2026-13-01T00:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseTimestamp(tt.value); ok != tt.ok {
				t.Errorf("ParseTimestamp(%q) ok = %v, want %v", tt.value, ok, tt.ok)
			}
		})
	}
}

func TestWindowExcludesEndBoundary(t *testing.T) {
	w := Resolve("custom", "2026-02-24T00:00:00Z", "2026-02-26T00:00:00Z", nil)
	if w.Mode != ModeCustom {
		t.Fatalf("expected custom mode, got %s", w.Mode)
	}
	if !w.InWindow("2026-02-24T00:00:00+00:00") {
		t.Errorf("start boundary must be included")
	}
	if w.InWindow("2026-02-26T00:00:00+00:00") {
		t.Errorf("end boundary must be excluded")
	}
	if !w.InWindow("2026-02-26T07:59:59+08:00") {
		t.Errorf("instant before end in another offset must be included")
	}
	if w.InWindow("not a time") {
		t.Errorf("unparseable timestamp must be outside every window")
	}
	if localName, localOffset := w.Start.In(time.Local).Zone(); w.Timezone != "UTC" && !(localOffset == 0 && w.Timezone == localName) {
		t.Errorf("expected UTC timezone label, got %q", w.Timezone)
	}
}

func TestResolveCustomOverridesMode(t *testing.T) {
	w := Resolve("rolling_7d", "2026-02-24T00:00:00+0800", "2026-02-25T00:00:00+0800", nil)
	if w.Mode != ModeCustom || w.Label != "自定义区间" {
		t.Errorf("expected custom window, got %s/%s", w.Mode, w.Label)
	}
	if _, localOffset := w.Start.In(time.Local).Zone(); localOffset != 8*3600 && w.Timezone != "UTC+08:00" {
		t.Errorf("expected UTC+08:00 label, got %q", w.Timezone)
	}
}

func TestResolveInvertedRangeFallsBackToMode(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)
	r := Resolver{Now: func() time.Time { return now }}
	w := r.Resolve("rolling_7d", "2026-02-26T00:00:00Z", "2026-02-24T00:00:00Z", nil)
	if w.Mode != ModeRolling7d {
		t.Fatalf("expected rolling_7d, got %s", w.Mode)
	}
	if !w.End.Equal(now) || !w.Start.Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("unexpected rolling window [%s, %s)", w.Start, w.End)
	}
}

func TestResolveWeekly(t *testing.T) {
	// Wednesday
	now := time.Date(2026, 3, 4, 15, 30, 12, 500, time.Local)
	r := Resolver{Now: func() time.Time { return now }}
	w := r.Resolve("", "", "", nil)
	if w.Mode != ModeWeekly || w.Label != "本周" {
		t.Fatalf("expected weekly window, got %s/%s", w.Mode, w.Label)
	}
	wantStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	if !w.Start.Equal(wantStart) {
		t.Errorf("expected week start %s, got %s", wantStart, w.Start)
	}
	if !w.End.Equal(wantStart.AddDate(0, 0, 7)) {
		t.Errorf("expected week end %s, got %s", wantStart.AddDate(0, 0, 7), w.End)
	}

	sunday := time.Date(2026, 3, 8, 23, 0, 0, 0, time.Local)
	w = Resolver{Now: func() time.Time { return sunday }}.Resolve("weekly", "", "", nil)
	if !w.Start.Equal(wantStart) {
		t.Errorf("sunday belongs to the week starting %s, got %s", wantStart, w.Start)
	}
}

func TestResolveSprintUsesCardBounds(t *testing.T) {
	cards := []models.Card{
		{Timeline: models.Timeline{CreatedAt: "2026-02-03T08:00:00+00:00", ResolvedAt: "2026-02-10T08:00:00+00:00"}},
		{Timeline: models.Timeline{CreatedAt: "bogus", DeveloperStartedAt: "2026-02-01T08:00:00+00:00"}},
	}
	w := Resolve("sprint", "", "", cards)
	if w.Mode != ModeSprint {
		t.Fatalf("expected sprint mode, got %s", w.Mode)
	}
	start, _ := ParseTimestamp("2026-02-01T08:00:00+00:00")
	end, _ := ParseTimestamp("2026-02-10T08:00:00+00:00")
	if !w.Start.Equal(start) || !w.End.Equal(end) {
		t.Errorf("unexpected sprint bounds [%s, %s)", w.Start, w.End)
	}
}

func TestResolveSprintWithoutCards(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)
	w := Resolver{Now: func() time.Time { return now }}.Resolve("sprint", "", "", nil)
	if !w.Start.Equal(now.AddDate(0, 0, -14)) || !w.End.Equal(now) {
		t.Errorf("unexpected fallback sprint window [%s, %s)", w.Start, w.End)
	}
}

func TestHoursBetween(t *testing.T) {
	hours, ok := HoursBetween("2026-02-01T00:00:00+0000", "2026-02-02T12:00:00+00:00")
	if !ok || hours != 36 {
		t.Errorf("expected 36 hours, got %v (ok=%v)", hours, ok)
	}
	if _, ok := HoursBetween("", "2026-02-02T12:00:00+00:00"); ok {
		t.Errorf("expected missing start to be rejected")
	}
}
