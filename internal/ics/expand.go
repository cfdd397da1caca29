package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "khojum/internal/log"
	"khojum/internal/model"
)

const defaultMaxOccurrences = 500

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// Location is the display timezone of the resulting occurrences.
	Location *time.Location

	// RangeStart and RangeEnd are inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxPerEvent caps occurrences of a single series.
	MaxPerEvent int
}

// ExpandResult holds occurrences sorted by start and the UIDs of series
// that hit the cap.
type ExpandResult struct {
	Occurrences []model.Occurrence
	Truncated   []string
}

// ExpandOccurrences turns parsed events into concrete occurrences inside
// the configured range, honoring RRULE, EXDATE and RECURRENCE-ID
// overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: range end is before range start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxPerEvent <= 0 {
		cfg.MaxPerEvent = defaultMaxOccurrences
	}

	series := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := series[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		series[ev.UID] = append(series[ev.UID], ev)
	}

	for _, uid := range uids {
		capped := false
		for _, ev := range series[uid] {
			occ, hit := expandEvent(ev, overrides[uid], cfg)
			capped = capped || hit
			result.Occurrences = append(result.Occurrences, occ...)
		}
		if capped {
			result.Truncated = append(result.Truncated, uid)
			appLog.Info("recurring event truncated", "uid", uid, "cap", cfg.MaxPerEvent)
		}
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		return result.Occurrences[i].Start.Before(result.Occurrences[j].Start)
	})
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []model.Occurrence{occurrenceOf(ev, ev.Start, ev.End, overrides, cfg.Location)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("invalid RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)
	capped := false
	if len(starts) > cfg.MaxPerEvent {
		starts = starts[:cfg.MaxPerEvent]
		capped = true
	}

	length := ev.End.Sub(ev.Start)
	out := make([]model.Occurrence, 0, len(starts))
	for _, start := range starts {
		end := start.Add(length)
		if ev.AllDay {
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			end = start.AddDate(0, 0, 1)
		}
		out = append(out, occurrenceOf(ev, start, end, overrides, cfg.Location))
	}
	return out, capped
}

// occurrenceOf builds one occurrence, substituting the override whose
// RECURRENCE-ID matches start.
func occurrenceOf(ev ParsedEvent, start, end time.Time, overrides []ParsedEvent, loc *time.Location) model.Occurrence {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			ev, start, end = ov, ov.Start, ov.End
			break
		}
	}
	local := start.In(loc)
	if ev.AllDay {
		// All-day dates are floating; keep the calendar date.
		local = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = local.Add(end.Sub(start))
	}
	categories := ev.Categories
	if len(categories) == 0 && ev.Source.Category != "" {
		categories = []string{ev.Source.Category}
	}
	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: local.Format(time.RFC3339),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		URL:         ev.URL,
		Categories:  categories,
		AllDay:      ev.AllDay,
		Start:       local,
		End:         end.In(loc),
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
