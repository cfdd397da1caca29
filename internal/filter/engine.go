// Package filter narrows and orders item lists for display. One Engine
// serves every page variant; variants only differ in the sort keys they
// offer.
package filter

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"khojum/internal/datetime"
	"khojum/internal/model"
)

var (
	epoch     = time.Unix(0, 0)
	farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Engine applies Specs and SortKeys. It never mutates its input and never
// panics on malformed items.
type Engine struct {
	Parser *datetime.Parser
	Now    func() time.Time
}

func NewEngine(parser *datetime.Parser, now func() time.Time) *Engine {
	if parser == nil {
		parser = datetime.NewParser(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{Parser: parser, Now: now}
}

// Instant is the item's start, or its expiry day for dateless deals.
func (e *Engine) Instant(it model.Item) datetime.Instant {
	if strings.TrimSpace(it.DateText) != "" {
		return e.Parser.Parse(it.DateText, it.TimeText)
	}
	if it.ExpiryDate != "" {
		return e.Parser.ParseDate(it.ExpiryDate)
	}
	return datetime.Instant{}
}

// End is the explicit end instant, when the item has one.
func (e *Engine) End(it model.Item) datetime.Instant {
	if it.EndDate == "" && it.EndTime == "" {
		return datetime.Instant{}
	}
	date := it.EndDate
	if date == "" {
		date = it.DateText
	}
	return e.Parser.Parse(date, it.EndTime)
}

// Apply filters items by spec and orders them by key. The result is a new
// slice; equal keys keep their input order.
func (e *Engine) Apply(items []model.Item, spec Spec, key SortKey) []model.Item {
	m := e.matcher(spec)
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if m.match(it) {
			out = append(out, it)
		}
	}
	e.Sort(out, key)
	return out
}

// Count returns how many items spec matches.
func (e *Engine) Count(items []model.Item, spec Spec) int {
	m := e.matcher(spec)
	n := 0
	for _, it := range items {
		if m.match(it) {
			n++
		}
	}
	return n
}

type matcher struct {
	e      *Engine
	spec   Spec
	term   string
	lo, hi time.Time
	window bool
}

func (e *Engine) matcher(spec Spec) matcher {
	m := matcher{e: e, spec: spec, term: strings.ToLower(strings.TrimSpace(spec.Search))}
	loc := e.Parser.Location
	if loc == nil {
		loc = time.Local
	}
	today := datetime.StartOfDay(e.Now(), loc)
	switch spec.Window {
	case WindowToday:
		m.lo, m.hi, m.window = today, today.AddDate(0, 0, 1), true
	case WindowTomorrow:
		m.lo, m.hi, m.window = today.AddDate(0, 0, 1), today.AddDate(0, 0, 2), true
	}
	return m
}

func (m matcher) match(it model.Item) bool {
	if m.window {
		// An active day window replaces the category and price filters.
		at := m.e.Instant(it)
		if !at.Valid || at.Time.Before(m.lo) || !at.Time.Before(m.hi) {
			return false
		}
	} else {
		if !matchCategory(it, m.spec.Category) {
			return false
		}
		if m.spec.Price == PriceFree && !it.DisplayPrice().IsFree() {
			return false
		}
	}
	return m.term == "" || matchSearch(it, m.term)
}

func matchCategory(it model.Item, category string) bool {
	category = strings.TrimSpace(category)
	switch {
	case category == "" || strings.EqualFold(category, CategoryAll):
		return true
	case strings.EqualFold(category, CategoryFree):
		return it.DisplayPrice().IsFree()
	default:
		return it.Category.Has(category)
	}
}

func matchSearch(it model.Item, term string) bool {
	for _, field := range []string{it.Title, it.Description, it.Location} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	for _, tag := range it.Category {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// row caches the sort value of one item.
type row struct {
	item  model.Item
	t     time.Time
	n     float64
	known bool
}

// Sort orders items in place by key. Unknown keys leave the order as is.
func (e *Engine) Sort(items []model.Item, key SortKey) {
	if len(items) < 2 {
		return
	}
	rows := make([]row, len(items))
	for i, it := range items {
		rows[i] = e.row(it, key)
	}

	var compare func(a, b row) int
	switch key {
	case SortDateAsc, SortExpiryAsc:
		compare = func(a, b row) int { return a.t.Compare(b.t) }
	case SortDateDesc, SortNewest:
		compare = func(a, b row) int { return b.t.Compare(a.t) }
	case SortPriceAsc, SortDistanceAsc:
		compare = unknownLast(func(a, b float64) int { return cmp.Compare(a, b) })
	case SortPriceDesc:
		compare = unknownLast(func(a, b float64) int { return cmp.Compare(b, a) })
	case SortDiscountDesc, SortRatingDesc, SortPopularityDesc:
		compare = func(a, b row) int { return cmp.Compare(b.n, a.n) }
	case SortNameAsc:
		// Collators keep internal buffers; one per call.
		col := collate.New(language.English)
		compare = func(a, b row) int { return col.CompareString(a.item.Title, b.item.Title) }
	default:
		return
	}

	slices.SortStableFunc(rows, compare)
	for i := range rows {
		items[i] = rows[i].item
	}
}

func unknownLast(c func(a, b float64) int) func(a, b row) int {
	return func(a, b row) int {
		switch {
		case a.known && b.known:
			return c(a.n, b.n)
		case a.known:
			return -1
		case b.known:
			return 1
		}
		return 0
	}
}

func (e *Engine) row(it model.Item, key SortKey) row {
	r := row{item: it}
	switch key {
	case SortDateAsc, SortDateDesc:
		r.t = epoch
		if at := e.Instant(it); at.Valid {
			r.t = at.Time
		}
	case SortExpiryAsc:
		r.t = farFuture
		if it.ExpiryDate != "" {
			if at := e.Parser.ParseDate(it.ExpiryDate); at.Valid {
				r.t = at.Time
			}
		}
	case SortNewest:
		r.t = epoch
		if it.DateAdded != "" {
			if at := e.Parser.ParseDate(it.DateAdded); at.Valid {
				r.t = at.Time
			}
		}
	case SortPriceAsc, SortPriceDesc:
		r.n, r.known = it.DisplayPrice().Value()
	case SortDistanceAsc:
		r.n, r.known = optional(it.DistanceKm)
	case SortDiscountDesc:
		r.n, _ = optional(it.DiscountPercentage)
	case SortRatingDesc:
		r.n, _ = optional(it.Rating)
	case SortPopularityDesc:
		r.n, _ = optional(it.Popularity)
	}
	return r
}

func optional(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) {
		return 0, false
	}
	return *v, true
}

// Featured returns up to n featured items in input order.
func Featured(items []model.Item, n int) []model.Item {
	if n <= 0 {
		return nil
	}
	out := make([]model.Item, 0, n)
	for _, it := range items {
		if len(out) >= n {
			break
		}
		if it.IsFeatured {
			out = append(out, it)
		}
	}
	return out
}

// ByVariant keeps the items a variant lists.
func ByVariant(items []model.Item, v Variant) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if v.Includes(it) {
			out = append(out, it)
		}
	}
	return out
}
