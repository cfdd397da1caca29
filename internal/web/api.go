package web

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"khojum/internal/calendar"
	"khojum/internal/catalog"
	"khojum/internal/datetime"
	"khojum/internal/filter"
	"khojum/internal/ics"
	"khojum/internal/lifecycle"
	appLog "khojum/internal/log"
	"khojum/internal/model"
	"khojum/internal/store"
)

const (
	msgLoadFailed  = "Failed to load event data from server."
	msgParseFailed = "Failed to parse event data on server."
)

// snapshot returns the catalog batch, or writes a 500 when no batch has
// ever loaded.
func (s *Server) snapshot(w http.ResponseWriter) (catalog.Snapshot, bool) {
	snap := s.catalog.Snapshot()
	if !snap.LoadedAt.IsZero() {
		return snap, true
	}
	msg := msgLoadFailed
	var se *store.StorageError
	if errors.As(snap.Err, &se) && se.Op == "decode" {
		msg = msgParseFailed
	}
	writeError(w, http.StatusInternalServerError, msg)
	return snap, false
}

// handleEvents returns the whole item batch as a JSON array.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	items := snap.Items
	if items == nil {
		items = []model.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// viewItem pairs an item with its lifecycle status at request time.
type viewItem struct {
	Item   model.Item        `json:"item"`
	Status lifecycle.Status  `json:"status"`
	Expiry *lifecycle.Expiry `json:"expiry,omitempty"`
}

type viewResponse struct {
	Variant string     `json:"variant"`
	Filter  string     `json:"filter"`
	Sort    string     `json:"sort"`
	Count   int        `json:"count"`
	Items   []viewItem `json:"items"`
}

// handleView runs the filter/sort pipeline server-side.
//
// GET /api/events/view?variant=deals&filter=today&q=jazz&sort=price-asc
//   - variant:  events (default), deals, experiences
//   - filter:   a filter button value (all, today, tomorrow, Free, or a category)
//   - category, window, price, q: refine the filter
//   - sort:     a sort key or legacy alias; unknown keys use the variant default
//   - limit:    cap the number of items
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v, ok := filter.VariantByName(q.Get("variant"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown variant")
		return
	}

	spec := filter.ParseFilterKey(q.Get("filter"))
	if c := q.Get("category"); c != "" {
		spec = spec.WithCategory(c)
	}
	switch win := filter.Window(q.Get("window")); win {
	case "":
	case filter.WindowAll, filter.WindowToday, filter.WindowTomorrow:
		spec = spec.WithWindow(win)
	default:
		writeError(w, http.StatusBadRequest, "window must be all, today or tomorrow")
		return
	}
	switch p := filter.PriceFilter(q.Get("price")); p {
	case filter.PriceAny, filter.PriceFree:
		spec = spec.WithPrice(p)
	default:
		writeError(w, http.StatusBadRequest, "price must be empty or free")
		return
	}
	spec = spec.WithSearch(q.Get("q"))
	key := v.ParseSort(q.Get("sort"))
	limit := parseIntDefault(q.Get("limit"), 0)

	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	// Only the filtered list is cached; statuses are computed per request.
	// The date is part of the key so today/tomorrow windows roll over at
	// midnight.
	now := s.engine.Now()
	cacheKey := "view?" + q.Encode() + "&today=" + now.In(s.loc).Format(datetime.DateLayout)
	var items []model.Item
	if cached, ok := s.cache.Get(cacheKey); ok {
		items = cached.([]model.Item)
		w.Header().Set("X-Cache", "HIT")
	} else {
		items = s.engine.Apply(filter.ByVariant(snap.Items, v), spec, key)
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		s.cache.Set(cacheKey, items, cache.DefaultExpiration)
	}

	out := make([]viewItem, 0, len(items))
	for _, it := range items {
		out = append(out, s.describe(it, v, now))
	}
	writeJSON(w, http.StatusOK, viewResponse{
		Variant: v.Name,
		Filter:  spec.Key(),
		Sort:    string(key),
		Count:   len(out),
		Items:   out,
	})
}

func (s *Server) describe(it model.Item, v filter.Variant, now time.Time) viewItem {
	status := lifecycle.Classify(s.engine.Instant(it), now, lifecycle.Options{
		Duration:    s.cfg.EstimatedDuration,
		End:         s.engine.End(it),
		ExpiredText: v.ExpiredText,
	})
	out := viewItem{Item: it, Status: status}
	if it.Kind == model.KindDeal {
		exp := lifecycle.ClassifyExpiry(s.engine.Parser.ParseDate(it.ExpiryDate), now, s.loc, s.cfg.ExpiringSoonDays)
		out.Expiry = &exp
	}
	return out
}

// handleFeatured returns up to n featured items (default 3).
func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	n := parseIntDefault(r.URL.Query().Get("n"), 3)
	items := filter.Featured(snap.Items, n)
	if items == nil {
		items = []model.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleICS exports dated items as an iCalendar feed.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	var buf bytes.Buffer
	n, err := ics.ExportICS(&buf, snap.Items, s.engine, ics.ExportOptions{
		Name:     "Khojum",
		Duration: s.cfg.EstimatedDuration,
	})
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to export calendar.")
		return
	}
	appLog.Debug("ics export", "events", n)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="khojum.ics"`)
	_, _ = w.Write(buf.Bytes())
}

// handleMonth returns a month grid.
//
// GET /api/calendar?month=2025-04 (defaults to the current month)
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	now := s.engine.Now().In(s.loc)
	year, month := calendar.ParseMonth(r.URL.Query().Get("month"), now)
	key := "month?" + time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01") + "&today=" + now.Format(datetime.DateLayout)

	s.writeCachedJSON(w, key, func() (int, any) {
		return http.StatusOK, indexOf(snap).Month(year, month, s.cfg.FirstWeekday(), now)
	})
}

type dayResponse struct {
	Date  string       `json:"date"`
	Count int          `json:"count"`
	Items []model.Item `json:"items"`
}

// handleDay returns the items of one day, "All Day" entries first.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := time.Parse(datetime.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	items := indexOf(snap).Panel(date)
	writeJSON(w, http.StatusOK, dayResponse{Date: date, Count: len(items), Items: items})
}

func indexOf(snap catalog.Snapshot) *calendar.Index {
	if snap.Index == nil {
		return calendar.Build(nil, func(model.Item) (string, bool) { return "", false })
	}
	return snap.Index
}
