package lifecycle

import (
	"strconv"
	"time"

	"khojum/internal/datetime"
)

// DefaultSoonDays marks a deal as expiring soon.
const DefaultSoonDays = 3

// Expiry describes how close a deal is to its expiry date.
type Expiry struct {
	Text    string `json:"text"`
	Days    int    `json:"days"`
	Known   bool   `json:"known"`
	Expired bool   `json:"expired"`
	Soon    bool   `json:"soon"`
}

// ClassifyExpiry compares the calendar day of expiry with today in loc.
// A deal expiring today is still live.
func ClassifyExpiry(expiry datetime.Instant, now time.Time, loc *time.Location, soonDays int) Expiry {
	if !expiry.Valid {
		return Expiry{Text: "No Expiry Date"}
	}
	if loc == nil {
		loc = time.Local
	}
	if soonDays <= 0 {
		soonDays = DefaultSoonDays
	}

	days := daysBetween(now.In(loc), expiry.Time.In(loc))
	out := Expiry{Known: true, Days: days}
	switch {
	case days < 0:
		out.Text = "Expired"
		out.Expired = true
	case days == 0:
		out.Text = "Expires Today"
		out.Soon = true
	case days == 1:
		out.Text = "Expires in 1 day"
		out.Soon = days <= soonDays
	default:
		out.Text = "Expires in " + strconv.Itoa(days) + " days"
		out.Soon = days <= soonDays
	}
	return out
}

// daysBetween counts calendar days from a to b, ignoring clock time and
// DST shifts.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad) / (24 * time.Hour))
}
