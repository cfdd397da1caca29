package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appLog "khojum/internal/log"
	"khojum/internal/model"
)

const (
	msgMissingFields = "Please fill in all required fields."
	msgTerms         = "You must agree to the terms."
	msgInvalidFields = "Please check the highlighted fields."
	msgSaveFailed    = "Error saving your deal. Please try again later."
	msgRateLimited   = "Too many submissions. Please try again shortly."
	msgSubmitted     = "Deal submitted successfully! We will review it shortly."

	successPage  = "/submission-success.html"
	maxFormBytes = 1 << 20
)

// quickSubmission is the simplified promote form.
type quickSubmission struct {
	BusinessName     string `form:"businessName" json:"businessName" validate:"required"`
	BusinessCategory string `form:"businessCategory" json:"businessCategory" validate:"required"`
	DealTitle        string `form:"dealTitle" json:"dealTitle" validate:"required"`
	DealDescription  string `form:"dealDescription" json:"dealDescription"`
	DealExpiryDate   string `form:"dealExpiryDate" json:"dealExpiryDate" validate:"required,datetime=2006-01-02"`
	ContactEmail     string `form:"contactEmail" json:"contactEmail" validate:"required,email"`
	TermsAgree       string `form:"termsAgree" json:"termsAgree" validate:"required,eq=on"`
}

// ValidationError lists the submitted fields that were rejected.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s (%s)", e.Message, strings.Join(e.Fields, ", "))
}

type submissionValidator struct {
	v *validator.Validate
}

func newSubmissionValidator() *submissionValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("form")
	})
	return &submissionValidator{v: v}
}

// Check returns a *ValidationError naming every rejected field. A missing
// field wins over a malformed one, and a malformed one over the terms box.
func (sv *submissionValidator) Check(sub quickSubmission) error {
	err := sv.v.Struct(sub)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{}
	var missing, terms bool
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fe.Field())
		switch {
		case fe.Tag() == "required":
			missing = true
		case fe.Field() == "termsAgree":
			terms = true
		}
	}
	switch {
	case missing:
		out.Message = msgMissingFields
	case terms && len(out.Fields) == 1:
		out.Message = msgTerms
	default:
		out.Message = msgInvalidFields
	}
	return out
}

func newListingID() string { return uuid.NewString() }

// decodeSubmission reads a urlencoded, multipart or JSON body.
func decodeSubmission(w http.ResponseWriter, r *http.Request) (quickSubmission, error) {
	var sub quickSubmission
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes))
		if err := dec.Decode(&sub); err != nil {
			return sub, err
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if mt == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxFormBytes); err != nil {
				return sub, err
			}
		} else if err := r.ParseForm(); err != nil {
			return sub, err
		}
		sub = quickSubmission{
			BusinessName:     r.PostForm.Get("businessName"),
			BusinessCategory: r.PostForm.Get("businessCategory"),
			DealTitle:        r.PostForm.Get("dealTitle"),
			DealDescription:  r.PostForm.Get("dealDescription"),
			DealExpiryDate:   r.PostForm.Get("dealExpiryDate"),
			ContactEmail:     r.PostForm.Get("contactEmail"),
			TermsAgree:       r.PostForm.Get("termsAgree"),
		}
	}

	trim := func(s *string) { *s = strings.TrimSpace(*s) }
	trim(&sub.BusinessName)
	trim(&sub.BusinessCategory)
	trim(&sub.DealTitle)
	trim(&sub.DealDescription)
	trim(&sub.DealExpiryDate)
	trim(&sub.ContactEmail)
	trim(&sub.TermsAgree)
	return sub, nil
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

type submitResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	ListingID string   `json:"listingId,omitempty"`
	Fields    []string `json:"fields,omitempty"`
}

// handleQuickSubmit stores a simplified deal submission for moderation.
func (s *Server) handleQuickSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, submitResponse{Message: msgRateLimited})
		return
	}

	sub, err := decodeSubmission(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Message: "Could not read the submitted form."})
		return
	}

	if err := s.validate.Check(sub); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			appLog.Info("submission rejected", "fields", strings.Join(ve.Fields, ","))
			writeJSON(w, http.StatusBadRequest, submitResponse{Message: ve.Message, Fields: ve.Fields})
			return
		}
		appLog.Error("submission validation failed", err)
		writeJSON(w, http.StatusInternalServerError, submitResponse{Message: msgSaveFailed})
		return
	}

	listing := model.Listing{
		ID:        s.newID(),
		CreatedAt: s.engine.Now().UTC().Truncate(time.Millisecond),
		Status:    model.StatusPendingSimple,
		Business: model.ListingBusiness{
			Name:     sub.BusinessName,
			Category: sub.BusinessCategory,
		},
		Deal: model.ListingDeal{
			Title:       sub.DealTitle,
			Description: sub.DealDescription,
			ExpiryDate:  sub.DealExpiryDate,
		},
		Contact:        model.ListingContact{Email: sub.ContactEmail},
		SubmissionType: model.SubmissionQuick,
	}

	if err := s.listings.Append(listing); err != nil {
		appLog.Error("failed to store listing", err, "path", s.listings.Path())
		writeJSON(w, http.StatusInternalServerError, submitResponse{Message: msgSaveFailed})
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, submitResponse{Success: true, Message: msgSubmitted, ListingID: listing.ID})
		return
	}
	http.Redirect(w, r, successPage, http.StatusSeeOther)
}

type listingsResponse struct {
	Success  bool            `json:"success"`
	Count    int             `json:"count"`
	Listings []model.Listing `json:"listings"`
}

// handleListings publishes approved listings only.
func (s *Server) handleListings(w http.ResponseWriter, _ *http.Request) {
	approved, err := s.listings.Approved()
	if err != nil {
		appLog.Error("failed to read listings", err, "path", s.listings.Path())
		writeJSON(w, http.StatusInternalServerError, submitResponse{Message: "Failed to load listings."})
		return
	}
	writeJSON(w, http.StatusOK, listingsResponse{Success: true, Count: len(approved), Listings: approved})
}
