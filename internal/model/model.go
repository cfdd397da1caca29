package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tells which page variant an item belongs to.
type Kind string

const (
	KindEvent      Kind = "event"
	KindDeal       Kind = "deal"
	KindExperience Kind = "experience"
)

// Item is a single listing record: an event, a deal or an experience.
// Optional fields are pointers or tagged values; readers pick the fallback.
type Item struct {
	ID    string
	Kind  Kind
	Title string

	Category Tags

	// DateText and TimeText are free-form strings such as
	// "March 29, 2025 - April 25, 2025" and "2:00 PM Onwards".
	DateText string
	TimeText string
	// EndDate/EndTime, when present, override the estimated duration.
	EndDate string
	EndTime string

	Price         Price
	OriginalPrice Price

	// ExpiryDate is an ISO YYYY-MM-DD date (deals).
	ExpiryDate string

	Location    string
	Description string
	Image       string
	URL         string
	Store       string

	Rating             *float64
	DiscountPercentage *float64
	Popularity         *float64
	DistanceKm         *float64
	DateAdded          string
	IsFeatured         bool
}

// DisplayPrice returns the price to show and sort on: Price, else OriginalPrice.
func (it Item) DisplayPrice() Price {
	if !it.Price.IsZero() {
		return it.Price
	}
	return it.OriginalPrice
}

// itemJSON is the wire shape. Several keys have legacy aliases.
type itemJSON struct {
	ID                 json.RawMessage `json:"id"`
	Kind               Kind            `json:"kind,omitempty"`
	Title              string          `json:"title,omitempty"`
	Name               string          `json:"name,omitempty"`
	Category           Tags            `json:"category,omitempty"`
	Date               string          `json:"date,omitempty"`
	Time               string          `json:"time,omitempty"`
	EndDate            string          `json:"endDate,omitempty"`
	EndTime            string          `json:"endTime,omitempty"`
	Price              Price           `json:"price"`
	OriginalPrice      Price           `json:"originalPrice"`
	ExpiryDate         string          `json:"expiryDate,omitempty"`
	Location           string          `json:"location,omitempty"`
	Description        string          `json:"description,omitempty"`
	Image              string          `json:"image,omitempty"`
	ImageURL           string          `json:"imageUrl,omitempty"`
	URL                string          `json:"url,omitempty"`
	Store              string          `json:"store,omitempty"`
	Rating             *float64        `json:"rating,omitempty"`
	DiscountPercentage *float64        `json:"discountPercentage,omitempty"`
	Popularity         *float64        `json:"popularity,omitempty"`
	DistanceKm         *float64        `json:"distanceKm,omitempty"`
	DateAdded          string          `json:"dateAdded,omitempty"`
	IsFeatured         bool            `json:"isFeatured,omitempty"`
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := decodeID(raw.ID)
	if err != nil {
		return err
	}

	*it = Item{
		ID:                 id,
		Kind:               raw.Kind,
		Title:              raw.Title,
		Category:           raw.Category,
		DateText:           raw.Date,
		TimeText:           raw.Time,
		EndDate:            raw.EndDate,
		EndTime:            raw.EndTime,
		Price:              raw.Price,
		OriginalPrice:      raw.OriginalPrice,
		ExpiryDate:         raw.ExpiryDate,
		Location:           raw.Location,
		Description:        raw.Description,
		Image:              raw.Image,
		URL:                raw.URL,
		Store:              raw.Store,
		Rating:             raw.Rating,
		DiscountPercentage: raw.DiscountPercentage,
		Popularity:         raw.Popularity,
		DistanceKm:         raw.DistanceKm,
		DateAdded:          raw.DateAdded,
		IsFeatured:         raw.IsFeatured,
	}
	if it.Title == "" {
		it.Title = raw.Name
	}
	if it.Image == "" {
		it.Image = raw.ImageURL
	}
	if it.Kind == "" {
		it.Kind = inferKind(raw)
	}
	return nil
}

func (it Item) MarshalJSON() ([]byte, error) {
	idJSON, err := json.Marshal(it.ID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(itemJSON{
		ID:                 idJSON,
		Kind:               it.Kind,
		Title:              it.Title,
		Category:           it.Category,
		Date:               it.DateText,
		Time:               it.TimeText,
		EndDate:            it.EndDate,
		EndTime:            it.EndTime,
		Price:              it.Price,
		OriginalPrice:      it.OriginalPrice,
		ExpiryDate:         it.ExpiryDate,
		Location:           it.Location,
		Description:        it.Description,
		Image:              it.Image,
		URL:                it.URL,
		Store:              it.Store,
		Rating:             it.Rating,
		DiscountPercentage: it.DiscountPercentage,
		Popularity:         it.Popularity,
		DistanceKm:         it.DistanceKm,
		DateAdded:          it.DateAdded,
		IsFeatured:         it.IsFeatured,
	})
}

// inferKind guesses the variant of records that predate the "kind" key:
// deals carry an expiry or a discount, everything else is an event.
func inferKind(raw itemJSON) Kind {
	if raw.ExpiryDate != "" || raw.DiscountPercentage != nil || raw.Store != "" {
		return KindDeal
	}
	return KindEvent
}

// decodeID accepts a JSON string or number.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("item: missing id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if s == "" {
			return "", fmt.Errorf("item: empty id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("item: id must be a string or number: %w", err)
	}
	return n.String(), nil
}

// Tags is a category set. On the wire it is a single string or a list.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = nil
			return nil
		}
		*t = Tags{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("category must be a string or list of strings: %w", err)
	}
	*t = list
	return nil
}

// Has reports whether any tag equals name, ignoring case.
func (t Tags) Has(name string) bool {
	for _, tag := range t {
		if strings.EqualFold(strings.TrimSpace(tag), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// First returns the first tag or "".
func (t Tags) First() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// PriceKind tags the Price union.
type PriceKind int

const (
	PriceAbsent PriceKind = iota
	PriceNumber
	PriceText
)

// Price is a number (0 means free), free text ("Free", "NPR 500",
// "Check Store") or absent.
type Price struct {
	Kind   PriceKind
	Number float64
	Text   string
}

func NumberPrice(n float64) Price { return Price{Kind: PriceNumber, Number: n} }
func TextPrice(s string) Price    { return Price{Kind: PriceText, Text: s} }

func (p Price) IsZero() bool { return p.Kind == PriceAbsent }

// IsFree reports a numeric 0 or the literal text "free" (any case).
func (p Price) IsFree() bool {
	switch p.Kind {
	case PriceNumber:
		return p.Number == 0
	case PriceText:
		return strings.EqualFold(strings.TrimSpace(p.Text), "free")
	}
	return false
}

// Value is the numeric sort value: numbers as-is, "free" text as 0, the
// first integer found in other text. ok is false when none applies.
func (p Price) Value() (float64, bool) {
	switch p.Kind {
	case PriceNumber:
		return p.Number, true
	case PriceText:
		if p.IsFree() {
			return 0, true
		}
		return firstNumber(p.Text)
	}
	return 0, false
}

func firstNumber(s string) (float64, bool) {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if r == ',' {
				continue
			}
			return parseDigits(s[start:i])
		}
	}
	if start < 0 {
		return 0, false
	}
	return parseDigits(s[start:])
}

func parseDigits(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (p Price) String() string {
	switch p.Kind {
	case PriceNumber:
		if p.Number == 0 {
			return "Free"
		}
		return strconv.FormatFloat(p.Number, 'f', -1, 64)
	case PriceText:
		return p.Text
	}
	return ""
}

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*p = Price{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*p = Price{}
			return nil
		}
		*p = TextPrice(s)
		return nil
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("price must be a number or string: %w", err)
		}
		*p = NumberPrice(n)
		return nil
	}
}

func (p Price) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PriceNumber:
		return json.Marshal(p.Number)
	case PriceText:
		return json.Marshal(p.Text)
	}
	return []byte("null"), nil
}
