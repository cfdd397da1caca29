// Package lifecycle derives the display state of a listing relative to now.
package lifecycle

import (
	"strconv"
	"strings"
	"time"

	"khojum/internal/datetime"
)

// State is the lifecycle of an item relative to now.
type State int

const (
	Unknown State = iota
	Upcoming
	Happening
	Expired
)

func (s State) String() string {
	switch s {
	case Upcoming:
		return "upcoming"
	case Happening:
		return "happening"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether the state can no longer change as time passes.
func (s State) Terminal() bool { return s == Expired || s == Unknown }

// DefaultDuration is how long an event without an explicit end runs.
const DefaultDuration = 3 * time.Hour

const (
	TextUnknown   = "Status N/A"
	TextHappening = "Happening Now!"
	TextExpired   = "Expired"
	TextEnded     = "Event has ended"
)

// Status is a classification result.
type Status struct {
	State State  `json:"state"`
	Text  string `json:"text"`
}

// Options tune a classification.
type Options struct {
	// Duration is the estimated run time; zero means DefaultDuration.
	Duration time.Duration
	// End, when valid and after the start, replaces Duration.
	End datetime.Instant
	// Seconds adds a seconds unit to countdowns.
	Seconds bool
	// ExpiredText replaces TextExpired.
	ExpiredText string
}

// EndOf returns when an item starting at start stops happening.
func (o Options) EndOf(start time.Time) time.Time {
	if o.End.Valid && o.End.Time.After(start) {
		return o.End.Time
	}
	d := o.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	return start.Add(d)
}

// Classify is a pure function of its inputs; for a fixed start it is
// monotonic in now.
func Classify(start datetime.Instant, now time.Time, opts Options) Status {
	if !start.Valid {
		return Status{State: Unknown, Text: TextUnknown}
	}
	if now.Before(start.Time) {
		return Status{State: Upcoming, Text: "Starts in " + Countdown(start.Time.Sub(now), opts.Seconds)}
	}
	if now.Before(opts.EndOf(start.Time)) {
		return Status{State: Happening, Text: TextHappening}
	}
	text := opts.ExpiredText
	if text == "" {
		text = TextExpired
	}
	return Status{State: Expired, Text: text}
}

// Countdown formats a positive duration as "2d 3h 4m" (or "2d 3h 4m 5s").
// Days appear only when non-zero, hours when days or hours are non-zero,
// and the smallest unit is always present.
func Countdown(d time.Duration, seconds bool) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, strconv.FormatInt(days, 10)+"d")
	}
	if days > 0 || hours > 0 {
		parts = append(parts, strconv.FormatInt(hours, 10)+"h")
	}
	if !seconds || days > 0 || hours > 0 || minutes > 0 {
		parts = append(parts, strconv.FormatInt(minutes, 10)+"m")
	}
	if seconds {
		parts = append(parts, strconv.FormatInt(secs, 10)+"s")
	}
	return strings.Join(parts, " ")
}
