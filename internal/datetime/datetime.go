// Package datetime turns the free-form date and time strings found in
// listing records into concrete instants in the display timezone.
package datetime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"

	appLog "khojum/internal/log"
)

// DateLayout is the calendar key format used across the site.
const DateLayout = "2006-01-02"

var errMissingYear = errors.New("date has no year")

// Instant is a parsed point in time. Valid is false when the input could
// not be understood; such instants are "unknown", never "now".
type Instant struct {
	Time  time.Time
	Valid bool
}

// Known wraps t as a valid Instant.
func Known(t time.Time) Instant { return Instant{Time: t, Valid: true} }

// Key returns the YYYY-MM-DD date of a valid instant, or "".
func (i Instant) Key() string {
	if !i.Valid {
		return ""
	}
	return i.Time.Format(DateLayout)
}

// ParseError describes input that yields an unknown instant. It is only
// ever reported to a diagnostic sink; Parse itself never fails.
type ParseError struct {
	DateText string
	TimeText string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("datetime: cannot parse date %q time %q: %s", e.DateText, e.TimeText, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser parses (dateText, timeText) pairs in a fixed location.
type Parser struct {
	Location *time.Location
	// OnError receives every input that produced an unknown instant.
	OnError func(*ParseError)
}

// NewParser returns a Parser for loc (time.Local when nil) that logs
// failures at debug level.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{
		Location: loc,
		OnError: func(e *ParseError) {
			appLog.Debug("unparsable listing date", "date", e.DateText, "time", e.TimeText, "reason", e.Reason)
		},
	}
}

// Parse is a convenience wrapper around NewParser(loc).Parse.
func Parse(dateText, timeText string, loc *time.Location) Instant {
	return NewParser(loc).Parse(dateText, timeText)
}

// Parse returns the start instant described by dateText and timeText.
//
//   - Date ranges ("March 29, 2025 - April 25, 2025") resolve to their start.
//   - Time text may carry "Onwards" and an AM/PM marker; "HH:MM" or a bare
//     hour is accepted, anything else means midnight.
//   - Empty or unreadable dates, and out-of-range clock values, give an
//     unknown instant.
func (p *Parser) Parse(dateText, timeText string) Instant {
	datePart := strings.TrimSpace(rangeStart(dateText))
	if datePart == "" {
		p.fail(dateText, timeText, "empty date", nil)
		return Instant{}
	}

	hour, minute, err := parseClock(timeText)
	if err != nil {
		p.fail(dateText, timeText, "bad time", err)
		return Instant{}
	}

	day, err := p.parseDay(datePart)
	if err != nil {
		p.fail(dateText, timeText, "bad date", err)
		return Instant{}
	}

	return Known(time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, p.location()))
}

// ParseDate parses a date without a time of day; the result is local
// midnight.
func (p *Parser) ParseDate(dateText string) Instant {
	return p.Parse(dateText, "")
}

func (p *Parser) parseDay(s string) (time.Time, error) {
	// ISO dates are by far the most common input; skip the heuristics.
	if t, err := time.ParseInLocation(DateLayout, s, p.location()); err == nil {
		return t, nil
	}
	t, err := dateparse.ParseIn(s, p.location())
	if err != nil {
		return time.Time{}, err
	}
	// dateparse leaves the year at 0 for "April 15".
	if t.Year() < 1 {
		return time.Time{}, errMissingYear
	}
	return t.In(p.location()), nil
}

func (p *Parser) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p *Parser) fail(dateText, timeText, reason string, err error) {
	if p.OnError == nil {
		return
	}
	p.OnError(&ParseError{DateText: dateText, TimeText: timeText, Reason: reason, Err: err})
}

// rangeStart returns the text before the first range delimiter. A hyphen
// between two digits belongs to a numeric date ("2025-03-01") and is not a
// delimiter; en and em dashes always are.
func rangeStart(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		switch r {
		case '–', '—':
			return string(runes[:i])
		case '-':
			if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				continue
			}
			return string(runes[:i])
		}
	}
	return s
}

var (
	clockPattern    = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	bareHourPattern = regexp.MustCompile(`^(\d+)`)
	// A meridiem directly after the first clock token: "10 AM - 5 PM".
	leadingMeridiem = regexp.MustCompile(`^\s*([AP])\.?\s?M\b\.?`)
	// A meridiem closing the whole text: "7 - 10 PM".
	trailingMeridiem = regexp.MustCompile(`(?:^|[^A-Z])([AP])\.?\s?M\.?$`)
)

// parseClock extracts hour and minute from free-form time text.
func parseClock(timeText string) (hour, minute int, err error) {
	t := strings.ToUpper(strings.TrimSpace(timeText))
	t = strings.TrimSpace(strings.ReplaceAll(t, "ONWARDS", ""))
	if t == "" {
		return 0, 0, nil
	}

	var rest string
	if m := clockPattern.FindStringSubmatchIndex(t); m != nil {
		hour, _ = strconv.Atoi(t[m[2]:m[3]])
		minute, _ = strconv.Atoi(t[m[4]:m[5]])
		rest = t[m[1]:]
	} else if m := bareHourPattern.FindStringSubmatchIndex(t); m != nil {
		digits := t[m[2]:m[3]]
		if len(digits) > 2 {
			return 0, 0, fmt.Errorf("hour %q out of range", digits)
		}
		hour, _ = strconv.Atoi(digits)
		rest = t[m[1]:]
	} else {
		// "All Day", "TBA" and friends.
		return 0, 0, nil
	}

	meridiem := ""
	if m := leadingMeridiem.FindStringSubmatch(rest); m != nil {
		meridiem = m[1]
	} else if m := trailingMeridiem.FindStringSubmatch(t); m != nil {
		meridiem = m[1]
	}

	switch {
	case meridiem == "P" && hour < 12:
		hour += 12
	case meridiem == "A" && hour == 12:
		hour = 0
	}

	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %02d:%02d out of range", hour, minute)
	}
	return hour, minute, nil
}

// ClockMinutes returns minutes since midnight for time text, and false for
// text with no clock component (such as "All Day").
func ClockMinutes(timeText string) (int, bool) {
	t := strings.ToUpper(strings.TrimSpace(timeText))
	if !clockPattern.MatchString(t) && !bareHourPattern.MatchString(t) {
		return 0, false
	}
	h, m, err := parseClock(timeText)
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
