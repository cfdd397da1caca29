package model

import "time"

// Listing statuses. Only approved listings are published.
const (
	StatusPendingSimple = "pending_simple"
	StatusApproved      = "approved"
)

const SubmissionQuick = "quick"

// Listing is a business deal submitted through the site and waiting for
// (or past) moderation.
type Listing struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"createdAt"`
	Status         string          `json:"status"`
	Business       ListingBusiness `json:"business"`
	Deal           ListingDeal     `json:"deal"`
	Contact        ListingContact  `json:"contact"`
	SubmissionType string          `json:"submissionType"`
}

type ListingBusiness struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Address  *string `json:"address"`
	Phone    *string `json:"phone"`
	Email    *string `json:"email"`
	Website  *string `json:"website"`
	LogoPath *string `json:"logoPath"`
}

type ListingDeal struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	DiscountPercentage *float64 `json:"discountPercentage"`
	ExpiryDate         string   `json:"expiryDate"`
	ImagePath          *string  `json:"imagePath"`
}

type ListingContact struct {
	Email string `json:"email"`
}

// Occurrence is a single concrete instance of an external calendar event
// after recurrence expansion and timezone normalization.
type Occurrence struct {
	SourceID string
	UID      string

	// InstanceKey identifies one occurrence of a recurring event; it is the
	// local start time in RFC 3339.
	InstanceKey string

	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string

	AllDay bool

	// Start / End are in the display timezone.
	Start time.Time
	End   time.Time
}
