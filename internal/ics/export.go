package ics

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"khojum/internal/filter"
	"khojum/internal/lifecycle"
	"khojum/internal/model"
)

const productID = "-//khojum//listings//EN"

// ExportOptions control calendar export.
type ExportOptions struct {
	Name     string
	Duration time.Duration
	Now      time.Time
}

// ExportICS writes items with a known start as a PUBLISH calendar. Items
// without a clock time, and dateless deals, become all-day entries.
// It returns the number of exported events.
func ExportICS(w io.Writer, items []model.Item, engine *filter.Engine, opts ExportOptions) (int, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	now := opts.Now
	if now.IsZero() {
		now = engine.Now()
	}

	n := 0
	for _, it := range items {
		start := engine.Instant(it)
		if !start.Valid {
			continue
		}
		ev := cal.AddEvent(it.ID + "@khojum")
		ev.SetDtStampTime(now)
		ev.SetSummary(it.Title)
		if it.Description != "" {
			ev.SetDescription(it.Description)
		}
		if it.Location != "" {
			ev.SetLocation(it.Location)
		}
		if it.URL != "" {
			ev.SetURL(it.URL)
		}
		for _, c := range it.Category {
			ev.AddCategory(c)
		}

		if allDay(it) {
			day := start.Time
			ev.SetAllDayStartAt(day)
			ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
		} else {
			end := lifecycle.Options{Duration: opts.Duration, End: engine.End(it)}.EndOf(start.Time)
			ev.SetStartAt(start.Time)
			ev.SetEndAt(end)
		}
		n++
	}
	return n, cal.SerializeTo(w)
}

func allDay(it model.Item) bool {
	if strings.TrimSpace(it.DateText) == "" {
		return true
	}
	t := strings.TrimSpace(it.TimeText)
	return t == "" || strings.EqualFold(t, "All Day")
}
