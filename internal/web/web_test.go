package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khojum/internal/catalog"
	"khojum/internal/config"
	"khojum/internal/datetime"
	"khojum/internal/filter"
	"khojum/internal/model"
	"khojum/internal/store"
)

var now = time.Date(2025, 4, 15, 8, 0, 0, 0, time.UTC)

const eventsJSON = `[
  {"id": 1, "title": "Jazz Night", "date": "2025-04-15", "time": "7 PM", "category": "Music", "price": 500},
  {"id": 2, "title": "Morning Yoga", "date": "2025-04-15", "time": "7:00 AM", "category": ["Health"], "price": "Free"},
  {"id": 3, "title": "Book Fair", "date": "April 16, 2025", "time": "10 AM", "category": "Books", "isFeatured": true},
  {"id": 4, "title": "Momo Deal", "expiryDate": "2025-04-17", "discountPercentage": 20, "store": "Momo House"},
  {"id": 5, "title": "Old Gig", "date": "2025-04-01", "time": "6 PM", "category": "Music"}
]`

type fixture struct {
	now      time.Time
	srv      *Server
	handler  http.Handler
	catalog  *catalog.Catalog
	listings string
	events   string
}

func newFixture(t *testing.T, tweak func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.EventsFile = filepath.Join(dir, "events.json")
	cfg.ListingsFile = filepath.Join(dir, "listings.json")
	cfg.SubmitRatePerSec = 1000
	cfg.SubmitBurst = 1000
	require.NoError(t, os.WriteFile(cfg.EventsFile, []byte(eventsJSON), 0o644))
	if tweak != nil {
		tweak(cfg)
	}

	f := &fixture{now: now}
	engine := filter.NewEngine(datetime.NewParser(time.UTC), func() time.Time { return f.now })
	cat := catalog.New(catalog.Options{
		Events:   store.EventsFile{Path: cfg.EventsFile},
		Engine:   engine,
		Location: time.UTC,
	})
	_ = cat.Load(context.Background())

	srv := NewServer(cfg, cat, store.NewListings(cfg.ListingsFile), engine)
	srv.newID = func() string { return "listing-1" }
	f.srv = srv
	f.handler = srv.Handler()
	f.catalog = cat
	f.listings = cfg.ListingsFile
	f.events = cfg.EventsFile
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	rr := newFixture(t, nil).get("/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestEventsReturnsArray(t *testing.T) {
	rr := newFixture(t, nil).get("/api/events")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	items := decode[[]model.Item](t, rr)
	require.Len(t, items, 5)
	assert.Equal(t, "1", items[0].ID)
}

func TestEventsLoadFailures(t *testing.T) {
	for name, tc := range map[string]struct {
		body    string
		create  bool
		message string
	}{
		"missing file":   {message: msgLoadFailed},
		"malformed file": {body: `[{"id":`, create: true, message: msgParseFailed},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) {
				c.EventsFile = filepath.Join(t.TempDir(), "events.json")
				if tc.create {
					require.NoError(t, os.WriteFile(c.EventsFile, []byte(tc.body), 0o644))
				} else {
					c.EventsFile = filepath.Join(t.TempDir(), "absent", "events.json")
				}
			})
			rr := f.get("/api/events")
			require.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, tc.message, decode[map[string]string](t, rr)["error"])
		})
	}
}

type viewBody struct {
	Variant string `json:"variant"`
	Filter  string `json:"filter"`
	Sort    string `json:"sort"`
	Count   int    `json:"count"`
	Items   []struct {
		Item   model.Item `json:"item"`
		Status struct {
			State string `json:"state"`
			Text  string `json:"text"`
		} `json:"status"`
		Expiry *struct {
			Text string `json:"text"`
			Soon bool   `json:"soon"`
		} `json:"expiry"`
	} `json:"items"`
}

func viewIDs(v viewBody) []string {
	out := make([]string, 0, len(v.Items))
	for _, e := range v.Items {
		out = append(out, e.Item.ID)
	}
	return out
}

func TestViewSortsAndClassifies(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.get("/api/events/view?variant=events")
	require.Equal(t, http.StatusOK, rr.Code)

	v := decode[viewBody](t, rr)
	assert.Equal(t, "events", v.Variant)
	assert.Equal(t, "date-asc", v.Sort)
	assert.Equal(t, []string{"5", "2", "1", "3"}, viewIDs(v))

	assert.Equal(t, "Event has ended", v.Items[0].Status.Text)
	assert.Equal(t, "happening", v.Items[1].Status.State)
	assert.Equal(t, "Happening Now!", v.Items[1].Status.Text)
	assert.Equal(t, "Starts in 11h 0m", v.Items[2].Status.Text)
}

func TestViewFilters(t *testing.T) {
	f := newFixture(t, nil)

	v := decode[viewBody](t, f.get("/api/events/view?filter=today"))
	assert.Equal(t, []string{"2", "1"}, viewIDs(v))
	assert.Equal(t, "today", v.Filter)

	v = decode[viewBody](t, f.get("/api/events/view?filter=Free"))
	assert.Equal(t, []string{"2"}, viewIDs(v))

	v = decode[viewBody](t, f.get("/api/events/view?q=jazz"))
	assert.Equal(t, []string{"1"}, viewIDs(v))

	v = decode[viewBody](t, f.get("/api/events/view?category=music&sort=date-desc&limit=1"))
	assert.Equal(t, []string{"1"}, viewIDs(v))

	v = decode[viewBody](t, f.get("/api/events/view?sort=bogus"))
	assert.Equal(t, "date-asc", v.Sort)
}

func TestViewRejectsBadParameters(t *testing.T) {
	f := newFixture(t, nil)
	for _, q := range []string{"variant=concerts", "window=yesterday", "price=cheap"} {
		rr := f.get("/api/events/view?" + q)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestViewDealsCarryExpiry(t *testing.T) {
	v := decode[viewBody](t, newFixture(t, nil).get("/api/events/view?variant=deals"))
	require.Len(t, v.Items, 1)
	assert.Equal(t, "expiry-asc", v.Sort)
	require.NotNil(t, v.Items[0].Expiry)
	assert.Equal(t, "Expires in 2 days", v.Items[0].Expiry.Text)
	assert.True(t, v.Items[0].Expiry.Soon)
}

func TestViewCacheFlushedOnReload(t *testing.T) {
	f := newFixture(t, nil)
	assert.Empty(t, f.get("/api/events/view").Header().Get("X-Cache"))
	assert.Equal(t, "HIT", f.get("/api/events/view").Header().Get("X-Cache"))

	require.NoError(t, os.WriteFile(f.events, []byte(`[{"id":9,"title":"Fresh","date":"2025-04-20"}]`), 0o644))
	require.NoError(t, f.catalog.Load(context.Background()))

	rr := f.get("/api/events/view")
	assert.Empty(t, rr.Header().Get("X-Cache"))
	assert.Equal(t, []string{"9"}, viewIDs(decode[viewBody](t, rr)))
}

func TestViewCacheKeepsStatusesCurrent(t *testing.T) {
	f := newFixture(t, nil)
	v := decode[viewBody](t, f.get("/api/events/view"))
	require.Equal(t, []string{"5", "2", "1", "3"}, viewIDs(v))
	assert.Equal(t, "Starts in 11h 0m", v.Items[2].Status.Text)

	f.now = now.Add(time.Minute)
	rr := f.get("/api/events/view")
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
	v = decode[viewBody](t, rr)
	assert.Equal(t, "Starts in 10h 59m", v.Items[2].Status.Text)
}

func TestViewCacheRollsOverAtMidnight(t *testing.T) {
	f := newFixture(t, nil)
	v := decode[viewBody](t, f.get("/api/events/view?filter=today"))
	require.Equal(t, []string{"2", "1"}, viewIDs(v))

	f.now = time.Date(2025, 4, 16, 0, 30, 0, 0, time.UTC)
	rr := f.get("/api/events/view?filter=today")
	assert.Empty(t, rr.Header().Get("X-Cache"))
	assert.Equal(t, []string{"3"}, viewIDs(decode[viewBody](t, rr)))
}

func TestFeatured(t *testing.T) {
	items := decode[[]model.Item](t, newFixture(t, nil).get("/api/events/featured"))
	require.Len(t, items, 1)
	assert.Equal(t, "3", items[0].ID)
}

func TestICSExport(t *testing.T) {
	rr := newFixture(t, nil).get("/api/events.ics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/calendar")
	body := rr.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Equal(t, 5, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "SUMMARY:Jazz Night")
}

func TestCalendarMonthAndDay(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.get("/api/calendar?month=2025-04")
	require.Equal(t, http.StatusOK, rr.Code)
	month := decode[struct {
		Title   string `json:"title"`
		Leading int    `json:"leading"`
		Days    []struct {
			Date  string   `json:"date"`
			Count int      `json:"count"`
			Dots  []string `json:"dots"`
			Today bool     `json:"today"`
		} `json:"days"`
	}](t, rr)
	assert.Equal(t, "April 2025", month.Title)
	assert.Equal(t, 2, month.Leading)
	require.Len(t, month.Days, 30)
	assert.Equal(t, 2, month.Days[14].Count)
	assert.Equal(t, []string{"Music", "Health"}, month.Days[14].Dots)
	assert.True(t, month.Days[14].Today)
	assert.Equal(t, 1, month.Days[16].Count, "deal bucketed on its expiry day")

	day := decode[dayResponse](t, f.get("/api/calendar/2025-04-15"))
	assert.Equal(t, 2, day.Count)
	assert.Equal(t, "2", day.Items[0].ID, "morning entry first")

	assert.Equal(t, http.StatusBadRequest, f.get("/api/calendar/2025-13-45").Code)
}

func postForm(values url.Values, accept string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/quick-submit", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

func validForm() url.Values {
	return url.Values{
		"businessName":     {"Himalayan Java"},
		"businessCategory": {"Food"},
		"dealTitle":        {"2 for 1 coffee"},
		"dealDescription":  {"Weekdays only"},
		"dealExpiryDate":   {"2025-05-01"},
		"contactEmail":     {"owner@example.com"},
		"termsAgree":       {"on"},
	}
}

func TestQuickSubmitRedirectsAndStores(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(postForm(validForm(), ""))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, successPage, rr.Header().Get("Location"))

	all, err := store.NewListings(f.listings).All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	li := all[0]
	assert.Equal(t, "listing-1", li.ID)
	assert.Equal(t, model.StatusPendingSimple, li.Status)
	assert.Equal(t, model.SubmissionQuick, li.SubmissionType)
	assert.Equal(t, "Himalayan Java", li.Business.Name)
	assert.Equal(t, "2025-05-01", li.Deal.ExpiryDate)
	assert.Equal(t, "owner@example.com", li.Contact.Email)
	assert.True(t, li.CreatedAt.Equal(now))
}

func TestQuickSubmitJSON(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(postForm(validForm(), "application/json"))
	require.Equal(t, http.StatusCreated, rr.Code)
	body := decode[submitResponse](t, rr)
	assert.True(t, body.Success)
	assert.Equal(t, "listing-1", body.ListingID)

	payload, err := json.Marshal(map[string]string{
		"businessName": "Cafe", "businessCategory": "Food", "dealTitle": "Free cookie",
		"dealExpiryDate": "2025-06-01", "contactEmail": "cafe@example.com", "termsAgree": "on",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/quick-submit", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	assert.Equal(t, http.StatusCreated, f.do(req).Code)
}

func TestQuickSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)

	missing := validForm()
	missing.Del("dealTitle")
	missing.Set("businessName", "   ")
	rr := f.do(postForm(missing, ""))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[submitResponse](t, rr)
	assert.False(t, body.Success)
	assert.Equal(t, msgMissingFields, body.Message)
	assert.Equal(t, []string{"businessName", "dealTitle"}, body.Fields)

	terms := validForm()
	terms.Set("termsAgree", "yes")
	body = decode[submitResponse](t, f.do(postForm(terms, "")))
	assert.Equal(t, msgTerms, body.Message)

	bad := validForm()
	bad.Set("contactEmail", "not-an-email")
	bad.Set("dealExpiryDate", "01/05/2025")
	body = decode[submitResponse](t, f.do(postForm(bad, "")))
	assert.Equal(t, msgInvalidFields, body.Message)
	assert.ElementsMatch(t, []string{"dealExpiryDate", "contactEmail"}, body.Fields)

	all, err := store.NewListings(f.listings).All()
	require.NoError(t, err)
	assert.Empty(t, all, "rejected submissions are not stored")
}

func TestQuickSubmitStorageFailure(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
		c.ListingsFile = filepath.Join(blocker, "listings.json")
	})
	rr := f.do(postForm(validForm(), ""))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode[submitResponse](t, rr)
	assert.False(t, body.Success)
	assert.Equal(t, msgSaveFailed, body.Message)
}

func TestQuickSubmitRateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.SubmitRatePerSec = 0.001
		c.SubmitBurst = 1
	})
	assert.Equal(t, http.StatusSeeOther, f.do(postForm(validForm(), "")).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(postForm(validForm(), "")).Code)
}

func TestListingsApprovedOnly(t *testing.T) {
	f := newFixture(t, nil)
	l := store.NewListings(f.listings)
	require.NoError(t, l.Append(model.Listing{ID: "p", Status: model.StatusPendingSimple}))
	require.NoError(t, l.Append(model.Listing{ID: "a", Status: model.StatusApproved}))

	rr := f.get("/api/listings")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[listingsResponse](t, rr)
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Listings, 1)
	assert.Equal(t, "a", body.Listings[0].ID)
}

func TestStaticRouting(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name     string
		path     string
		status   int
		contains string
	}{
		{"root", "/", http.StatusOK, "<title>Khojum"},
		{"asset", "/style.css", http.StatusOK, ".card"},
		{"page without extension", "/promote", http.StatusOK, "List a deal"},
		{"client route", "/deals/today", http.StatusOK, "<title>Khojum"},
		{"missing file", "/missing.png", http.StatusNotFound, "Page not found"},
		{"unknown api", "/api/nope", http.StatusNotFound, `"error"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.get(tc.path)
			assert.Equal(t, tc.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.contains)
		})
	}
}

func TestStaticDirOnDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>disk index</p>"), 0o644))
	f := newFixture(t, func(c *config.Config) { c.StaticDir = dir })

	assert.Contains(t, f.get("/anything").Body.String(), "disk index")
	rr := f.get("/gone.js")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	rr := newFixture(t, nil).do(httptest.NewRequest(http.MethodPost, "/api/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := newFixture(t, nil).do(req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
