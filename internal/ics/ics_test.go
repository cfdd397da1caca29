package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khojum/internal/datetime"
	"khojum/internal/filter"
	"khojum/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@test\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART:20250407T100000Z\r\n" +
	"DTEND:20250407T110000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20250414T100000Z\r\n" +
	"SUMMARY:Weekly Jam\r\n" +
	"CATEGORIES:Music,Live\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@test\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"RECURRENCE-ID:20250421T100000Z\r\n" +
	"DTSTART:20250421T120000Z\r\n" +
	"DTEND:20250421T130000Z\r\n" +
	"SUMMARY:Weekly Jam (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:fair@test\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250410\r\n" +
	"SUMMARY:Book Fair\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No UID\r\n" +
	"DTSTART:20250410T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

var city = Source{ID: "city", URL: "https://example.com/city.ics", Category: "Community"}

func expandFeed(t *testing.T) ExpandResult {
	t.Helper()
	events, err := ParseICS(city, []byte(feed))
	require.NoError(t, err)
	res, err := ExpandOccurrences(events, ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return res
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS(city, []byte(feed))
	require.NoError(t, err)
	require.Len(t, events, 3, "the event without a UID is skipped")

	weekly := events[0]
	assert.Equal(t, "weekly@test", weekly.UID)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", weekly.RawRRule)
	assert.Equal(t, []string{"Music", "Live"}, weekly.Categories)
	require.Len(t, weekly.ExDates, 1)
	assert.False(t, weekly.IsOverride())

	assert.True(t, events[1].IsOverride())

	fair := events[2]
	assert.True(t, fair.AllDay)
	assert.Equal(t, 24*time.Hour, fair.End.Sub(fair.Start))
}

func TestParseICSRejectsEmptyBody(t *testing.T) {
	_, err := ParseICS(city, nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	res := expandFeed(t)
	require.Len(t, res.Occurrences, 4)
	assert.Empty(t, res.Truncated)

	var got []string
	for _, o := range res.Occurrences {
		got = append(got, o.Start.Format(time.RFC3339)+" "+o.Summary)
	}
	assert.Equal(t, []string{
		"2025-04-07T10:00:00Z Weekly Jam",
		"2025-04-10T00:00:00Z Book Fair",
		"2025-04-21T12:00:00Z Weekly Jam (moved)",
		"2025-04-28T10:00:00Z Weekly Jam",
	}, got)

	moved := res.Occurrences[2]
	assert.Equal(t, []string{"Community"}, moved.Categories, "source category fills in")
	assert.True(t, res.Occurrences[1].AllDay)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	now := time.Now()
	_, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)})
	assert.Error(t, err)
}

func TestExpandCapsLongSeries(t *testing.T) {
	ev := ParsedEvent{
		Source:   city,
		UID:      "daily@test",
		Start:    time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		Location:    time.UTC,
		RangeStart:  ev.Start,
		RangeEnd:    ev.Start.AddDate(1, 0, 0),
		MaxPerEvent: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 10)
	assert.Equal(t, []string{"daily@test"}, res.Truncated)
}

func TestToItems(t *testing.T) {
	items := ToItems(expandFeed(t).Occurrences)
	require.Len(t, items, 4)

	first := items[0]
	assert.Equal(t, "city:weekly@test@2025-04-07T10:00:00Z", first.ID)
	assert.Equal(t, model.KindEvent, first.Kind)
	assert.Equal(t, "2025-04-07", first.DateText)
	assert.Equal(t, "10:00", first.TimeText)
	assert.Equal(t, "2025-04-07", first.EndDate)
	assert.Equal(t, "11:00", first.EndTime)
	assert.True(t, first.Category.Has("music"))

	fair := items[1]
	assert.Equal(t, "All Day", fair.TimeText)
	assert.Empty(t, fair.EndTime)

	p := datetime.NewParser(time.UTC)
	assert.Equal(t, time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC), p.Parse(first.DateText, first.TimeText).Time)
}

func TestExportRoundTrip(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	engine := filter.NewEngine(datetime.NewParser(time.UTC), func() time.Time { return now })
	items := []model.Item{
		{ID: "a", Title: "Jazz Night", DateText: "2025-04-10", TimeText: "7 PM", Category: model.Tags{"Music"}, Location: "Thamel"},
		{ID: "b", Title: "Street Food Fair", DateText: "2025-04-11", TimeText: "All Day"},
		{ID: "c", Title: "Someday", DateText: "TBA"},
	}

	var buf bytes.Buffer
	n, err := ExportICS(&buf, items, engine, ExportOptions{Name: "Khojum", Duration: 3 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, buf.String(), "METHOD:PUBLISH")

	events, err := ParseICS(Source{ID: "self"}, buf.Bytes())
	require.NoError(t, err)
	require.Len(t, events, 2)

	jazz := events[0]
	assert.Equal(t, "a@khojum", jazz.UID)
	assert.Equal(t, "Jazz Night", jazz.Summary)
	assert.Equal(t, "Thamel", jazz.Location)
	assert.Equal(t, []string{"Music"}, jazz.Categories)
	assert.True(t, jazz.Start.Equal(time.Date(2025, 4, 10, 19, 0, 0, 0, time.UTC)))
	assert.True(t, jazz.End.Equal(time.Date(2025, 4, 10, 22, 0, 0, 0, time.UTC)))
	assert.False(t, jazz.AllDay)

	fair := events[1]
	assert.True(t, fair.AllDay)
	assert.Equal(t, "2025-04-11", fair.Start.Format(datetime.DateLayout))
}

func TestFetcherRevalidatesAndFallsBack(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))

	f := NewFetcher(t.TempDir(), 5*time.Second)
	src := Source{ID: "city", URL: srv.URL + "/city.ics?token=secret"}
	ctx := context.Background()

	first, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, feed, string(first.Body))

	second, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), notModified.Load())

	srv.Close()
	third, err := f.FetchOne(ctx, src)
	require.NoError(t, err, "cached body survives an unreachable origin")
	assert.True(t, third.FromCache)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchAllReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second)
	results, errs := f.FetchAll(context.Background(), []Source{{ID: "bad", URL: srv.URL}, {ID: "empty"}})
	assert.Empty(t, results)
	require.Len(t, errs, 2)
	assert.True(t, strings.HasPrefix(errs[0].Error(), "feed bad:"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/(redacted)", redactURL("https://example.com/private/abc.ics?key=1"))
	assert.Equal(t, "ics://(redacted)", redactURL("::"))
}
