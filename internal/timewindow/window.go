// Package timewindow provides timezone-aware window and quiet-hour arithmetic.
package timewindow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DisplayLayout is the layout used when showing window bounds to users.
const DisplayLayout = "2006-01-02 15:04"

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// layouts accepted by Parse, tried in order.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Contains reports whether now falls in [start, end], or [start, +inf) when
// end is nil.
func Contains(now, start time.Time, end *time.Time) bool {
	if now.Before(start) {
		return false
	}
	if end == nil {
		return true
	}
	return !now.After(*end)
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// ParseClock parses "HH:MM" (24h). Surrounding whitespace is ignored.
func ParseClock(s string) (Clock, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Clock{}, fmt.Errorf("timewindow: invalid clock %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return Clock{Hour: h, Minute: mm}, nil
}

// InQuietHours reports whether now, seen in loc, falls in the daily window
// [start, end). A window whose end is before its start wraps past midnight.
// Equal or unparseable bounds never suppress.
func InQuietHours(now time.Time, loc *time.Location, start, end string) bool {
	s, err := ParseClock(start)
	if err != nil {
		return false
	}
	e, err := ParseClock(end)
	if err != nil {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	sm, em := s.Minutes(), e.Minutes()

	switch {
	case sm == em:
		return false
	case sm < em:
		return cur >= sm && cur < em
	default:
		return cur >= sm || cur < em
	}
}

// Shift moves a window so it begins at newStart. A finite window keeps its
// length; an open-ended or zero-length window stays open-ended.
func Shift(start time.Time, end *time.Time, newStart time.Time) (time.Time, *time.Time) {
	if end == nil {
		return newStart, nil
	}
	d := end.Sub(start)
	if d <= 0 {
		return newStart, nil
	}
	newEnd := newStart.Add(d)
	return newStart, &newEnd
}

// Parse reads an ISO-8601 timestamp and returns it in UTC. Values without an
// offset are interpreted in UTC.
func Parse(s string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timewindow: invalid timestamp %q", s)
}

// Format renders t in loc for display, or "open" when t is nil.
func Format(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "open"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}
