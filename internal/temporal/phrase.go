package temporal

import (
	"strings"
	"time"
)

// Range is a resolved [From, To) time range plus the parser's confidence
// and a short explanation trail, per spec.md §4.4.
type Range struct {
	From       time.Time
	To         time.Time
	Confidence float64
	Reasons    []string
}

// weekdayNames maps a closed set of weekday tokens to time.Weekday.
var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ParsePhrase resolves a closed set of natural-language time phrases into
// a concrete range, relative to now in loc. Unrecognized phrases return a
// zero Range with Confidence 0 — callers must treat that as "no temporal
// constraint," not an error.
func ParsePhrase(phrase string, now time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	p := strings.ToLower(strings.TrimSpace(phrase))
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch p {
	case "today":
		return Range{From: dayStart, To: dayStart.AddDate(0, 0, 1), Confidence: 1.0, Reasons: []string{"exact match: today"}}
	case "yesterday":
		from := dayStart.AddDate(0, 0, -1)
		return Range{From: from, To: dayStart, Confidence: 1.0, Reasons: []string{"exact match: yesterday"}}
	case "tomorrow":
		from := dayStart.AddDate(0, 0, 1)
		return Range{From: from, To: from.AddDate(0, 0, 1), Confidence: 1.0, Reasons: []string{"exact match: tomorrow"}}
	case "this weekend", "weekend":
		from, to := weekendRange(dayStart, 0)
		return Range{From: from, To: to, Confidence: 0.9, Reasons: []string{"closed-set match: weekend"}}
	case "morning":
		return dayPartRange(dayStart, 6, 12, "morning")
	case "afternoon":
		return dayPartRange(dayStart, 12, 18, "afternoon")
	case "evening":
		return dayPartRange(dayStart, 18, 22, "evening")
	case "night":
		return dayPartRange(dayStart, 22, 30, "night") // wraps past midnight
	}

	if wd, ok := weekdayNames[p]; ok {
		from := lastOrNextWeekday(dayStart, wd)
		return Range{From: from, To: from.AddDate(0, 0, 1), Confidence: 0.85, Reasons: []string{"closed-set match: weekday name"}}
	}

	if r, ok := relativeUnitRange(p, dayStart); ok {
		return r
	}

	return Range{Confidence: 0, Reasons: nil}
}

func dayPartRange(dayStart time.Time, fromH, toH int, label string) Range {
	from := dayStart.Add(time.Duration(fromH) * time.Hour)
	to := dayStart.Add(time.Duration(toH) * time.Hour)
	return Range{From: from, To: to, Confidence: 0.7, Reasons: []string{"closed-set match: " + label}}
}

func weekendRange(dayStart time.Time, weekOffset int) (time.Time, time.Time) {
	// Saturday 00:00 through Monday 00:00 of the current (or offset) week.
	daysSinceSat := (int(dayStart.Weekday()) - int(time.Saturday) + 7) % 7
	sat := dayStart.AddDate(0, 0, -daysSinceSat+7*weekOffset)
	return sat, sat.AddDate(0, 0, 2)
}

func lastOrNextWeekday(dayStart time.Time, wd time.Weekday) time.Time {
	diff := (int(dayStart.Weekday()) - int(wd) + 7) % 7
	if diff == 0 {
		return dayStart // today matches
	}
	return dayStart.AddDate(0, 0, -diff)
}

// relativeUnitRange handles "last N days", "this week", "next month", etc.
// over a small closed grammar: [last|this|next] N? (day|days|week|weeks|month|months).
func relativeUnitRange(p string, dayStart time.Time) (Range, bool) {
	fields := strings.Fields(p)
	if len(fields) < 2 || len(fields) > 3 {
		return Range{}, false
	}
	dir := fields[0]
	if dir != "last" && dir != "this" && dir != "next" {
		return Range{}, false
	}

	n := 1
	unitIdx := 1
	if len(fields) == 3 {
		parsed, ok := parseSmallInt(fields[1])
		if !ok {
			return Range{}, false
		}
		n = parsed
		unitIdx = 2
	}
	unit := strings.TrimSuffix(fields[unitIdx], "s")

	switch unit {
	case "day":
		switch dir {
		case "last":
			return Range{From: dayStart.AddDate(0, 0, -n), To: dayStart, Confidence: 0.9, Reasons: []string{"relative range: last N days"}}, true
		case "next":
			return Range{From: dayStart.AddDate(0, 0, 1), To: dayStart.AddDate(0, 0, 1+n), Confidence: 0.9, Reasons: []string{"relative range: next N days"}}, true
		case "this":
			return Range{From: dayStart, To: dayStart.AddDate(0, 0, 1), Confidence: 0.6, Reasons: []string{"relative range: this day ambiguous, treated as today"}}, true
		}
	case "week":
		weekStart := dayStart.AddDate(0, 0, -int(dayStart.Weekday()))
		switch dir {
		case "last":
			return Range{From: weekStart.AddDate(0, 0, -7*n), To: weekStart, Confidence: 0.85, Reasons: []string{"relative range: last N weeks"}}, true
		case "next":
			return Range{From: weekStart.AddDate(0, 0, 7), To: weekStart.AddDate(0, 0, 7+7*n), Confidence: 0.85, Reasons: []string{"relative range: next N weeks"}}, true
		case "this":
			return Range{From: weekStart, To: weekStart.AddDate(0, 0, 7), Confidence: 0.85, Reasons: []string{"relative range: this week"}}, true
		}
	case "month":
		monthStart := time.Date(dayStart.Year(), dayStart.Month(), 1, 0, 0, 0, 0, dayStart.Location())
		switch dir {
		case "last":
			return Range{From: monthStart.AddDate(0, -n, 0), To: monthStart, Confidence: 0.85, Reasons: []string{"relative range: last N months"}}, true
		case "next":
			return Range{From: monthStart.AddDate(0, 1, 0), To: monthStart.AddDate(0, 1+n, 0), Confidence: 0.85, Reasons: []string{"relative range: next N months"}}, true
		case "this":
			return Range{From: monthStart, To: monthStart.AddDate(0, 1, 0), Confidence: 0.85, Reasons: []string{"relative range: this month"}}, true
		}
	}
	return Range{}, false
}

func parseSmallInt(s string) (int, bool) {
	if s == "" || len(s) > 3 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
