package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	clockRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?$`)

	// Matched text that carries its own time of day or offset from now.
	timedRe = regexp.MustCompile(`\d:\d|\d\s*[ap]\.?m\b|\b(noon|midnight|morning|afternoon|evening|night|in|within|ago|hours?|minutes?|mins?)\b`)

	absoluteLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}

	namedClocks = map[string][2]int{
		"morning":   {10, 0},
		"noon":      {12, 0},
		"afternoon": {14, 0},
		"evening":   {17, 0},
	}

	weekdays = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
		"saturday": time.Saturday,
	}
)

// Default hour for expressions that name a day but no time.
const defaultHour = 10

var naturalParser = sync.OnceValue(func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
})

// Resolve turns a natural-language or ISO time expression into an absolute
// time relative to now. Wall-clock results use now's location.
//
// RFC 3339 and "2006-01-02[ 15:04]" are parsed directly. "today", "tomorrow",
// "[next|this] <weekday>", "next week" and "next business day", optionally
// followed by a clock, follow the sales calendar: a bare day means 10:00 and
// morning, noon, afternoon and evening map to 10, 12, 14 and 17. Anything
// else, including relative offsets ("in 2 hours") and dates inside a
// sentence, goes to the natural-language parser; a match that names no time
// of day also lands on 10:00.
func Resolve(expr string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	loc := now.Location()
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t.Add(defaultHour * time.Hour), nil
	}

	s := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	if day, rest, ok := resolveDay(s, now); ok {
		hour, minute, err := parseClock(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("time expression %q: %w", expr, err)
		}
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
	}

	r, err := naturalParser().Parse(raw, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("time expression %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression %q", expr)
	}
	t := r.Time.In(loc)
	if !timedRe.MatchString(strings.ToLower(r.Text)) {
		t = time.Date(t.Year(), t.Month(), t.Day(), defaultHour, 0, 0, 0, loc)
	}
	return t, nil
}

// resolveDay consumes the day part of s and returns the remaining clock text.
func resolveDay(s string, now time.Time) (time.Time, string, bool) {
	switch {
	case strings.HasPrefix(s, "today"):
		return now, strings.TrimPrefix(s, "today"), true
	case strings.HasPrefix(s, "tomorrow"):
		return now.AddDate(0, 0, 1), strings.TrimPrefix(s, "tomorrow"), true
	case strings.HasPrefix(s, "next business day"):
		return nextBusinessDay(now), strings.TrimPrefix(s, "next business day"), true
	case strings.HasPrefix(s, "next week"):
		return nextWeekday(now, time.Monday), strings.TrimPrefix(s, "next week"), true
	}

	body := strings.TrimPrefix(strings.TrimPrefix(s, "next "), "this ")
	for name, wd := range weekdays {
		if body == name || strings.HasPrefix(body, name+" ") {
			return nextWeekday(now, wd), strings.TrimPrefix(body, name), true
		}
	}
	return time.Time{}, "", false
}

// parseClock parses "[at] 10am", "10:30 pm", "14:00" or a named part of day.
// Empty input yields the default hour.
func parseClock(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "at "))
	if s == "" || s == "at" {
		return defaultHour, 0, nil
	}
	if hm, ok := namedClocks[s]; ok {
		return hm[0], hm[1], nil
	}
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("unrecognized clock %q", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	switch strings.ReplaceAll(m[3], ".", "") {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("invalid hour in %q", s)
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("invalid hour in %q", s)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, fmt.Errorf("invalid hour in %q", s)
		}
	}
	return hour, minute, nil
}

// nextWeekday returns the next day strictly after now that falls on wd.
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return now.AddDate(0, 0, days)
}

func nextBusinessDay(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
