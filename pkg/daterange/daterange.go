// Package daterange parses the loosely formatted dates found on listing pages
// and tests them against an inclusive day range.
package daterange

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layout is the canonical day format.
const Layout = "2006-01-02"

var (
	ymdPattern   = regexp.MustCompile(`^(\d{4})[-./]?(\d{2})[-./]?(\d{2})$`)
	loosePattern = regexp.MustCompile(`(\d{4})[-./](\d{1,2})[-./](\d{1,2})|(\d{4})(\d{2})(\d{2})`)

	// relativeMarkers identify "x minutes ago" style dates, which always
	// mean today.
	relativeMarkers = []string{"분 전", "시간 전", "방금", "오늘", "ago", "today", "just now"}
)

// Range is an inclusive range of days. A zero bound is open.
type Range struct {
	Start time.Time
	End   time.Time
}

// New returns a range over [start, end], truncated to days. Swapped bounds
// are reordered.
func New(start, end time.Time) Range {
	start, end = day(start), day(end)
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		start, end = end, start
	}
	return Range{Start: start, End: end}
}

// ParseRange parses user supplied bounds. Empty strings leave a bound open.
func ParseRange(from, to string) (Range, error) {
	var start, end time.Time
	var err error
	if strings.TrimSpace(from) != "" {
		if start, err = Parse(from); err != nil {
			return Range{}, fmt.Errorf("parse start date: %w", err)
		}
	}
	if strings.TrimSpace(to) != "" {
		if end, err = Parse(to); err != nil {
			return Range{}, fmt.Errorf("parse end date: %w", err)
		}
	}
	return New(start, end), nil
}

// Parse accepts YYYY-MM-DD, YYYY.MM.DD, YYYY/MM/DD and YYYYMMDD.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	m := ymdPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or YYYYMMDD", s)
	}
	t, err := time.Parse(Layout, m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ParseLoose extracts a day from free text: RFC 3339 timestamps, dates
// embedded in text, and relative dates ("3시간 전", "2 hours ago") which
// resolve to now's day.
func ParseLoose(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return day(t), true
	}
	if m := loosePattern.FindStringSubmatch(s); m != nil {
		y, mo, d := m[1], m[2], m[3]
		if y == "" {
			y, mo, d = m[4], m[5], m[6]
		}
		if t, err := time.Parse("2006-1-2", y+"-"+mo+"-"+d); err == nil {
			return t, true
		}
	}
	lower := strings.ToLower(s)
	for _, marker := range relativeMarkers {
		if strings.Contains(lower, marker) {
			return day(now), true
		}
	}
	return time.Time{}, false
}

// Contains reports whether t's day lies within the range.
func (r Range) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	d := day(t)
	if !r.Start.IsZero() && d.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && d.After(r.End) {
		return false
	}
	return true
}

// ContainsString parses s loosely and reports whether it lies within the
// range. Unparseable dates are outside every range.
func (r Range) ContainsString(s string, now time.Time) bool {
	t, ok := ParseLoose(s, now)
	return ok && r.Contains(t)
}

// String formats the range as "start..end".
func (r Range) String() string {
	f := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(Layout)
	}
	return f(r.Start) + ".." + f(r.End)
}

// day returns the calendar day of t as midnight UTC.
func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
