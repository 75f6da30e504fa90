package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Range is a concrete instant range. Both ends are inclusive.
type Range struct {
	Start time.Time
	End   time.Time
	// Label is the phrase that produced the range, e.g. "오늘" or "3일 전".
	Label string
}

// Contains reports whether t falls within the range, inclusive on both ends.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// rule recognizes one kind of date expression. Exactly one of phrases or
// pattern is set. For patterns, the first capture group is parsed as n.
type rule struct {
	phrases []string
	pattern *regexp.Regexp
	span    func(now time.Time, n int) (time.Time, time.Time)
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		phrases: []string{"오늘", "today"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			return startOfDay(now), endOfDay(now)
		},
	},
	{
		phrases: []string{"어제", "yesterday"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			d := now.AddDate(0, 0, -1)
			return startOfDay(d), endOfDay(d)
		},
	},
	{
		phrases: []string{"그저께", "엊그제", "그제", "day before yesterday"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			d := now.AddDate(0, 0, -2)
			return startOfDay(d), endOfDay(d)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)(\d+)\s*(?:일\s*전|days?\s+ago)`),
		span: func(now time.Time, n int) (time.Time, time.Time) {
			d := now.AddDate(0, 0, -n)
			return startOfDay(d), endOfDay(d)
		},
	},
	{
		phrases: []string{"이번 주", "이번주", "금주", "this week"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			return mondayOf(now), now
		},
	},
	{
		phrases: []string{"지난 주", "지난주", "저번 주", "저번주", "last week"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			return weekSpan(now, 1)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)(\d+)\s*(?:주\s*전|weeks?\s+ago)`),
		span:    weekSpan,
	},
	{
		phrases: []string{"이번 달", "이번달", "이달", "this month"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			return monthStart(now), now
		},
	},
	{
		phrases: []string{"지난 달", "지난달", "저번 달", "저번달", "last month"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			return monthSpan(now, 1)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)(\d+)\s*(?:개월\s*전|달\s*전|months?\s+ago)`),
		span:    monthSpan,
	},
	{
		phrases: []string{"올해", "금년", "this year"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), now
		},
	},
	{
		phrases: []string{"작년", "지난해", "last year"},
		span: func(now time.Time, _ int) (time.Time, time.Time) {
			return yearSpan(now, 1)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)(\d+)\s*(?:년\s*전|years?\s+ago)`),
		span:    yearSpan,
	},
}

var monthDayPattern = regexp.MustCompile(`(\d{1,2})\s*월\s*(\d{1,2})\s*일`)

// Resolver turns Korean (and a few English) date phrases embedded in free
// text into concrete ranges relative to its clock.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver using now as its clock. A nil clock means
// time.Now. Ranges are computed in the clock's location.
func NewResolver(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Resolve finds the first recognized date expression in text and returns
// its range. It returns false when nothing matches.
func (r *Resolver) Resolve(text string) (Range, bool) {
	return resolveAt(text, r.now())
}

// HasExpression reports whether text contains a date expression that
// resolves against r's clock.
func (r *Resolver) HasExpression(text string) bool {
	_, ok := r.Resolve(text)
	return ok
}

// HasExpression reports whether text contains any recognized date
// expression, resolved against the current time.
func HasExpression(text string) bool {
	_, ok := resolveAt(text, time.Now())
	return ok
}

func resolveAt(text string, now time.Time) (Range, bool) {
	lower := strings.ToLower(text)
	for _, ru := range rules {
		if ru.pattern != nil {
			m := ru.pattern.FindStringSubmatch(lower)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			start, end := ru.span(now, n)
			return Range{Start: start, End: end, Label: m[0]}, true
		}
		for _, p := range ru.phrases {
			if strings.Contains(lower, p) {
				start, end := ru.span(now, 0)
				return Range{Start: start, End: end, Label: p}, true
			}
		}
	}
	return resolveMonthDay(lower, now)
}

// resolveMonthDay handles "M월 D일". A bare month/day has no year, so a date
// later than now is taken to mean last year.
func resolveMonthDay(text string, now time.Time) (Range, bool) {
	m := monthDayPattern.FindStringSubmatch(text)
	if m == nil {
		return Range{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])

	d, ok := validDate(now.Year(), month, day, now.Location())
	if !ok {
		return Range{}, false
	}
	if d.After(now) {
		if d, ok = validDate(now.Year()-1, month, day, now.Location()); !ok {
			return Range{}, false
		}
	}
	return Range{Start: d, End: endOfDay(d), Label: m[0]}, true
}

func validDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// mondayOf returns 00:00 on the Monday of t's week. Weeks start on Monday
// regardless of locale.
func mondayOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

// weekSpan returns Monday 00:00 through Sunday end of the week n weeks before now.
func weekSpan(now time.Time, n int) (time.Time, time.Time) {
	start := mondayOf(now).AddDate(0, 0, -7*n)
	return start, start.AddDate(0, 0, 7).Add(-time.Nanosecond)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// monthSpan returns the full calendar month n months before now.
func monthSpan(now time.Time, n int) (time.Time, time.Time) {
	start := monthStart(now).AddDate(0, -n, 0)
	return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// yearSpan returns the full calendar year n years before now.
func yearSpan(now time.Time, n int) (time.Time, time.Time) {
	start := time.Date(now.Year()-n, time.January, 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond)
}
