package ics

import (
	"context"
	"time"

	"khojum/internal/datetime"
	"khojum/internal/model"
)

const clockLayout = "15:04"

// ToItems converts occurrences into listing items. Timed occurrences carry
// an explicit end; all-day ones use "All Day" as their time text.
func ToItems(occs []model.Occurrence) []model.Item {
	items := make([]model.Item, 0, len(occs))
	for _, occ := range occs {
		it := model.Item{
			ID:          occ.SourceID + ":" + occ.UID + "@" + occ.InstanceKey,
			Kind:        model.KindEvent,
			Title:       occ.Summary,
			Category:    model.Tags(occ.Categories),
			DateText:    occ.Start.Format(datetime.DateLayout),
			Location:    occ.Location,
			Description: occ.Description,
			URL:         occ.URL,
		}
		if occ.AllDay {
			it.TimeText = "All Day"
		} else {
			it.TimeText = occ.Start.Format(clockLayout)
			if occ.End.After(occ.Start) {
				it.EndDate = occ.End.Format(datetime.DateLayout)
				it.EndTime = occ.End.Format(clockLayout)
			}
		}
		items = append(items, it)
	}
	return items
}

// Importer pulls external feeds into listing items.
type Importer struct {
	Fetcher  *Fetcher
	Location *time.Location
	// Horizon is how far ahead recurring series are expanded.
	Horizon time.Duration
	// Backfill keeps recently finished occurrences.
	Backfill time.Duration
}

// Import fetches, parses and expands every source relative to now. Failed
// sources are reported in errs and do not abort the others.
func (im *Importer) Import(ctx context.Context, sources []Source, now time.Time) (items []model.Item, errs []error) {
	if len(sources) == 0 {
		return nil, nil
	}
	results, errs := im.Fetcher.FetchAll(ctx, sources)

	var parsed []ParsedEvent
	for _, res := range results {
		events, err := ParseICS(res.Source, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, events...)
	}

	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		Location:   im.Location,
		RangeStart: now.Add(-im.Backfill),
		RangeEnd:   now.Add(im.Horizon),
	})
	if err != nil {
		return nil, append(errs, err)
	}
	return ToItems(expanded.Occurrences), errs
}
