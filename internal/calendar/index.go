// Package calendar buckets items by calendar day for the month view.
package calendar

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"khojum/internal/datetime"
	"khojum/internal/filter"
	"khojum/internal/model"
)

// DefaultMaxDots is how many category dots a day cell shows.
const DefaultMaxDots = 3

// KeyFunc returns the YYYY-MM-DD bucket of an item, or false to leave it out.
type KeyFunc func(model.Item) (string, bool)

// DefaultKey buckets deals by expiry date and everything else by start
// date, both in the engine's display location.
func DefaultKey(e *filter.Engine) KeyFunc {
	return func(it model.Item) (string, bool) {
		if it.Kind == model.KindDeal && it.ExpiryDate != "" {
			if at := e.Parser.ParseDate(it.ExpiryDate); at.Valid {
				return at.Key(), true
			}
		}
		at := e.Instant(it)
		return at.Key(), at.Valid
	}
}

// Index maps date keys to items. It is built once per batch and is
// read-only afterwards.
type Index struct {
	buckets map[string][]model.Item
	// MaxDots caps category dots per day cell.
	MaxDots int
}

func Build(items []model.Item, key KeyFunc) *Index {
	ix := &Index{buckets: make(map[string][]model.Item), MaxDots: DefaultMaxDots}
	for _, it := range items {
		k, ok := key(it)
		if !ok || k == "" {
			continue
		}
		ix.buckets[k] = append(ix.buckets[k], it)
	}
	return ix
}

// Lookup returns the items of a day; never nil.
func (ix *Index) Lookup(key string) []model.Item {
	items := ix.buckets[key]
	if len(items) == 0 {
		return []model.Item{}
	}
	return slices.Clone(items)
}

// Keys returns all populated days in ascending order.
func (ix *Index) Keys() []string {
	keys := make([]string, 0, len(ix.buckets))
	for k := range ix.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of populated days.
func (ix *Index) Len() int { return len(ix.buckets) }

// DayCell is the display summary of one calendar day.
type DayCell struct {
	Date     string   `json:"date"`
	Day      int      `json:"day"`
	Count    int      `json:"count"`
	Dots     []string `json:"dots"`
	Overflow int      `json:"overflow"`
	Today    bool     `json:"today"`
}

// OverflowLabel renders the "+N" marker, or "" when nothing overflows.
func (c DayCell) OverflowLabel() string {
	if c.Overflow <= 0 {
		return ""
	}
	return "+" + strconv.Itoa(c.Overflow)
}

// Day summarizes a day: item count, the first distinct categories in
// first-seen order, and how many more categories did not fit.
func (ix *Index) Day(key string) DayCell {
	items := ix.buckets[key]
	cell := DayCell{Date: key, Count: len(items), Dots: []string{}}
	if t, err := time.Parse(datetime.DateLayout, key); err == nil {
		cell.Day = t.Day()
	}

	limit := ix.MaxDots
	if limit <= 0 {
		limit = DefaultMaxDots
	}
	seen := make(map[string]bool)
	for _, it := range items {
		for _, tag := range it.Category {
			norm := strings.ToLower(strings.TrimSpace(tag))
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			if len(cell.Dots) < limit {
				cell.Dots = append(cell.Dots, tag)
			} else {
				cell.Overflow++
			}
		}
	}
	return cell
}

// Panel returns a day's items ordered by time of day, with entries that
// have no clock time ("All Day") first.
func (ix *Index) Panel(key string) []model.Item {
	items := ix.Lookup(key)
	slices.SortStableFunc(items, func(a, b model.Item) int {
		am, aok := datetime.ClockMinutes(a.TimeText)
		bm, bok := datetime.ClockMinutes(b.TimeText)
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return -1
		case !bok:
			return 1
		}
		return am - bm
	})
	return items
}

// Month is a renderable month grid.
type Month struct {
	Year     int        `json:"year"`
	Month    time.Month `json:"month"`
	Title    string     `json:"title"`
	Weekdays []string   `json:"weekdays"`
	// Leading is the number of blank cells before day 1.
	Leading int       `json:"leading"`
	Days    []DayCell `json:"days"`
}

// Month lays out year/month with weeks starting on weekStart. today marks
// the matching cell.
func (ix *Index) Month(year int, month time.Month, weekStart time.Weekday, today time.Time) Month {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()
	todayKey := today.Format(datetime.DateLayout)

	m := Month{
		Year:     first.Year(),
		Month:    first.Month(),
		Title:    first.Format("January 2006"),
		Weekdays: make([]string, 7),
		Leading:  (int(first.Weekday()) - int(weekStart) + 7) % 7,
		Days:     make([]DayCell, 0, days),
	}
	for i := range 7 {
		m.Weekdays[i] = time.Weekday((int(weekStart) + i) % 7).String()[:3]
	}
	for d := 1; d <= days; d++ {
		key := first.AddDate(0, 0, d-1).Format(datetime.DateLayout)
		cell := ix.Day(key)
		cell.Today = key == todayKey
		m.Days = append(m.Days, cell)
	}
	return m
}

// ParseMonth reads "YYYY-MM", falling back to the month of now.
func ParseMonth(s string, now time.Time) (int, time.Month) {
	if t, err := time.Parse("2006-01", strings.TrimSpace(s)); err == nil {
		return t.Year(), t.Month()
	}
	return now.Year(), now.Month()
}
