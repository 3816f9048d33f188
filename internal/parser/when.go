package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Relative date and time phrases are always resolved against the instant the
// message is parsed, in the service's fixed operating timezone.

var (
	relDurRe  = regexp.MustCompile(`(?i)^in\s+(\d+)\s*(minutes?|mins?|m|hours?|hrs?|h|days?|d)$`)
	clockRe   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	isoDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dmyDateRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{4}))?\b`)

	timeLikeRe = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|next\s+(?:week|month)|monday|tuesday|wednesday|thursday|friday|saturday|sunday|\d{1,2}(?::\d{2})?\s*(?:am|pm)|\d{1,2}:\d{2}|\d{4}-\d{2}-\d{2}|in\s+\d+\s*(?:minutes?|mins?|hours?|hrs?|days?))\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// TimeLike reports whether the text contains a token that reads as a date or
// time expression. Used for slot inference on follow-up replies.
func TimeLike(text string) bool {
	return timeLikeRe.MatchString(text)
}

// ResolveWhen resolves a free-form date or time reply ("tomorrow 9am",
// "in 20 minutes") to an absolute instant, or nil when unrecognized.
func ResolveWhen(clause string, now time.Time) *time.Time {
	if t := parseWhen(clause, now); t != nil {
		return t
	}
	return parseDeadline(clause, now)
}

// parseDeadline resolves a deadline clause ("tomorrow", "friday",
// "2026-03-01", "next week") to an absolute instant. Returns nil when the
// clause is not recognized.
func parseDeadline(clause string, now time.Time) *time.Time {
	c := strings.ToLower(strings.TrimSpace(clause))
	c = strings.Trim(c, ".,!")
	if c == "" {
		return nil
	}

	switch c {
	case "today", "tonight", "eod", "end of day":
		t := endOfBusiness(now)
		return &t
	case "tomorrow":
		t := now.AddDate(0, 0, 1)
		return &t
	case "next week":
		t := now.AddDate(0, 0, 7)
		return &t
	case "next month":
		t := now.AddDate(0, 1, 0)
		return &t
	}

	if wd, ok := weekdays[strings.TrimPrefix(c, "next ")]; ok {
		days := int(wd-now.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		t := endOfBusiness(now.AddDate(0, 0, days))
		return &t
	}

	if m := isoDateRe.FindStringSubmatch(c); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		t := time.Date(y, time.Month(mo), d, 18, 0, 0, 0, now.Location())
		return &t
	}

	if m := dmyDateRe.FindStringSubmatch(c); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y := now.Year()
		if m[3] != "" {
			y, _ = strconv.Atoi(m[3])
		}
		if mo < 1 || mo > 12 || d < 1 || d > 31 {
			return nil
		}
		t := time.Date(y, time.Month(mo), d, 18, 0, 0, 0, now.Location())
		if m[3] == "" && t.Before(now) {
			t = t.AddDate(1, 0, 0)
		}
		return &t
	}

	for _, layout := range []string{"Jan 2 2006", "2 Jan 2006", "Jan 2", "2 Jan", "January 2", "2 January"} {
		if t, err := time.ParseInLocation(layout, titleCaseMonth(c), now.Location()); err == nil {
			if t.Year() == 0 {
				t = time.Date(now.Year(), t.Month(), t.Day(), 18, 0, 0, 0, now.Location())
				if t.Before(now) {
					t = t.AddDate(1, 0, 0)
				}
			} else {
				t = time.Date(t.Year(), t.Month(), t.Day(), 18, 0, 0, 0, now.Location())
			}
			return &t
		}
	}

	return nil
}

// parseWhen resolves a reminder time clause to an absolute instant. Accepts
// relative durations ("in 20 minutes"), clock times ("5pm", "17:30") with an
// optional day part ("tomorrow 9am", "friday 14:00"), and plain date words.
func parseWhen(clause string, now time.Time) *time.Time {
	c := strings.ToLower(strings.TrimSpace(clause))
	c = strings.Trim(c, ".,!")
	if c == "" {
		return nil
	}

	if m := relDurRe.FindStringSubmatch(c); m != nil {
		n, _ := strconv.Atoi(m[1])
		var unit time.Duration
		switch m[2][0] {
		case 'm':
			unit = time.Minute
		case 'h':
			unit = time.Hour
		case 'd':
			unit = 24 * time.Hour
		}
		t := now.Add(time.Duration(n) * unit)
		return &t
	}

	// Split an optional day part from an optional clock part.
	day := now
	haveDay := false
	rest := c
	for word, delta := range map[string]int{"today": 0, "tonight": 0, "tomorrow": 1} {
		if strings.Contains(rest, word) {
			day = now.AddDate(0, 0, delta)
			haveDay = true
			rest = strings.TrimSpace(strings.Replace(rest, word, "", 1))
			break
		}
	}
	if !haveDay {
		for name, wd := range weekdays {
			if strings.Contains(rest, name) {
				days := int(wd-now.Weekday()+7) % 7
				if days == 0 {
					days = 7
				}
				day = now.AddDate(0, 0, days)
				haveDay = true
				rest = strings.TrimSpace(strings.Replace(rest, name, "", 1))
				rest = strings.TrimPrefix(rest, "next ")
				break
			}
		}
	}
	if !haveDay {
		if d := parseDeadline(rest, now); d != nil && !clockRe.MatchString(rest) && !clock24Re.MatchString(rest) {
			return d
		}
		if m := isoDateRe.FindStringSubmatch(rest); m != nil {
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			dd, _ := strconv.Atoi(m[3])
			day = time.Date(y, time.Month(mo), dd, now.Hour(), now.Minute(), 0, 0, now.Location())
			haveDay = true
			rest = strings.TrimSpace(strings.Replace(rest, m[0], "", 1))
		}
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "at "))
	rest = strings.TrimSpace(rest)

	hour, min, haveClock := parseClock(rest)
	if !haveClock && !haveDay {
		return nil
	}
	if !haveClock {
		// Day word alone: default to a morning reminder.
		t := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return &t
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, now.Location())
	if !haveDay && !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return &t
}

func parseClock(s string) (hour, min int, ok bool) {
	if m := clockRe.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			min, _ = strconv.Atoi(m[2])
		}
		if hour > 12 || min > 59 {
			return 0, 0, false
		}
		if strings.EqualFold(m[3], "pm") && hour != 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		return hour, min, true
	}
	if m := clock24Re.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		min, _ = strconv.Atoi(m[2])
		if hour > 23 || min > 59 {
			return 0, 0, false
		}
		return hour, min, true
	}
	return 0, 0, false
}

func endOfBusiness(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 18, 0, 0, 0, t.Location())
}

func titleCaseMonth(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if len(f) > 1 && f[0] >= 'a' && f[0] <= 'z' {
			fields[i] = strings.ToUpper(f[:1]) + f[1:]
		}
	}
	return strings.Join(fields, " ")
}
