package filter

import (
	"strings"

	"khojum/internal/lifecycle"
	"khojum/internal/model"
)

// Window restricts items to a single calendar day.
type Window string

const (
	WindowAll      Window = "all"
	WindowToday    Window = "today"
	WindowTomorrow Window = "tomorrow"
)

// PriceFilter restricts items by price.
type PriceFilter string

const (
	PriceAny  PriceFilter = ""
	PriceFree PriceFilter = "free"
)

const (
	CategoryAll  = "all"
	CategoryFree = "Free"
)

// Spec is an immutable view filter. Callers derive new specs with the
// With* methods instead of mutating one in place.
type Spec struct {
	Category string      `json:"category" yaml:"category"`
	Window   Window      `json:"window" yaml:"window"`
	Search   string      `json:"search" yaml:"search"`
	Price    PriceFilter `json:"price,omitempty" yaml:"price,omitempty"`
}

// DefaultSpec matches everything.
func DefaultSpec() Spec {
	return Spec{Category: CategoryAll, Window: WindowAll}
}

// ParseFilterKey maps a single filter button value ("all", "today",
// "tomorrow", "Free" or a category name) to a Spec.
func ParseFilterKey(key string) Spec {
	s := DefaultSpec()
	key = strings.TrimSpace(key)
	switch strings.ToLower(key) {
	case "", CategoryAll:
	case string(WindowToday):
		s.Window = WindowToday
	case string(WindowTomorrow):
		s.Window = WindowTomorrow
	case strings.ToLower(CategoryFree):
		s.Category = CategoryFree
	default:
		s.Category = key
	}
	return s
}

// Key is the inverse of ParseFilterKey, used to persist the choice.
func (s Spec) Key() string {
	switch {
	case s.Window == WindowToday || s.Window == WindowTomorrow:
		return string(s.Window)
	case s.Price == PriceFree:
		return CategoryFree
	case s.Category == "":
		return CategoryAll
	default:
		return s.Category
	}
}

func (s Spec) WithSearch(term string) Spec {
	s.Search = term
	return s
}

func (s Spec) WithWindow(w Window) Spec {
	s.Window = w
	return s
}

func (s Spec) WithCategory(c string) Spec {
	s.Category = c
	return s
}

func (s Spec) WithPrice(p PriceFilter) Spec {
	s.Price = p
	return s
}

// SortKey names a comparator.
type SortKey string

const (
	SortDateAsc        SortKey = "date-asc"
	SortDateDesc       SortKey = "date-desc"
	SortPriceAsc       SortKey = "price-asc"
	SortPriceDesc      SortKey = "price-desc"
	SortNameAsc        SortKey = "name-asc"
	SortExpiryAsc      SortKey = "expiry-asc"
	SortDiscountDesc   SortKey = "discount-desc"
	SortRatingDesc     SortKey = "rating-desc"
	SortPopularityDesc SortKey = "popularity-desc"
	SortDistanceAsc    SortKey = "distance-asc"
	SortNewest         SortKey = "newest"
)

// AllSortKeys lists every comparator the engine knows.
var AllSortKeys = []SortKey{
	SortDateAsc, SortDateDesc, SortPriceAsc, SortPriceDesc, SortNameAsc, SortExpiryAsc,
	SortDiscountDesc, SortRatingDesc, SortPopularityDesc, SortDistanceAsc, SortNewest,
}

// sortAliases maps the values older pages stored in preferences.
var sortAliases = map[string]SortKey{
	"date":       SortDateAsc,
	"price_asc":  SortPriceAsc,
	"price_desc": SortPriceDesc,
	"popularity": SortPopularityDesc,
	"discount":   SortDiscountDesc,
	"expiry":     SortExpiryAsc,
	"rating":     SortRatingDesc,
	"distance":   SortDistanceAsc,
	"name":       SortNameAsc,
}

// Variant describes one page flavour: which items it lists, which sorts it
// offers and how it words expiry.
type Variant struct {
	Name        string
	Kind        model.Kind
	DefaultSort SortKey
	Sorts       []SortKey
	ExpiredText string
}

var (
	Events = Variant{
		Name:        "events",
		Kind:        model.KindEvent,
		DefaultSort: SortDateAsc,
		Sorts:       []SortKey{SortDateAsc, SortDateDesc, SortPopularityDesc, SortPriceAsc, SortPriceDesc, SortNameAsc},
		ExpiredText: lifecycle.TextEnded,
	}
	Deals = Variant{
		Name:        "deals",
		Kind:        model.KindDeal,
		DefaultSort: SortExpiryAsc,
		Sorts:       []SortKey{SortExpiryAsc, SortDiscountDesc, SortPriceAsc, SortPriceDesc, SortNewest, SortNameAsc},
		ExpiredText: lifecycle.TextExpired,
	}
	Experiences = Variant{
		Name:        "experiences",
		Kind:        model.KindExperience,
		DefaultSort: SortRatingDesc,
		Sorts:       []SortKey{SortRatingDesc, SortPriceAsc, SortPriceDesc, SortDistanceAsc, SortNameAsc, SortPopularityDesc},
		ExpiredText: lifecycle.TextExpired,
	}
)

// VariantByName looks up a variant, defaulting to Events.
func VariantByName(name string) (Variant, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Events.Name, string(model.KindEvent):
		return Events, true
	case Deals.Name, string(model.KindDeal):
		return Deals, true
	case Experiences.Name, string(model.KindExperience):
		return Experiences, true
	}
	return Events, false
}

// Allows reports whether the variant offers k.
func (v Variant) Allows(k SortKey) bool {
	for _, s := range v.Sorts {
		if s == k {
			return true
		}
	}
	return false
}

// ParseSort resolves a stored or requested sort name. Unknown names and
// sorts the variant does not offer fall back to DefaultSort.
func (v Variant) ParseSort(name string) SortKey {
	name = strings.ToLower(strings.TrimSpace(name))
	k := SortKey(name)
	if alias, ok := sortAliases[name]; ok {
		k = alias
	}
	if v.Allows(k) {
		return k
	}
	return v.DefaultSort
}

// Includes reports whether the variant lists it.
func (v Variant) Includes(it model.Item) bool {
	return v.Kind == "" || it.Kind == v.Kind
}
