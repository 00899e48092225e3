package visits

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrVisitNotFound     = errors.New("visits: not found")
	ErrPaymentNotFound   = errors.New("visits: payment not found")
	ErrDuplicateVisit    = errors.New("visits: duplicate active visit")
	ErrCapacityExceeded  = errors.New("visits: daily capacity exceeded")
	ErrIllegalTransition = errors.New("visits: illegal status transition")
)

// Status is the lifecycle state of a visit. PENDING is reserved for
// portal-imported reservations awaiting front-desk approval.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusScheduled  Status = "SCHEDULED"
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusMissed     Status = "MISSED"
)

// ActiveStatuses are the states that count toward the one-visit-per-patient-
// per-day rule. CANCELLED and MISSED visits do not block a new booking.
var ActiveStatuses = []Status{StatusScheduled, StatusWaiting, StatusInProgress, StatusCompleted}

func (s Status) Active() bool {
	switch s {
	case StatusScheduled, StatusWaiting, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusWaiting, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// Visit is the queue's core unit: one patient, one day, one chair slot.
// Paid is derived from the payment rows and recomputed on every payment
// mutation; it is never edited directly.
type Visit struct {
	ID                uuid.UUID `json:"id"`
	PatientID         uuid.UUID `json:"patientId"`
	Date              time.Time `json:"date"`
	Status            Status    `json:"status"`
	Order             int       `json:"order"`
	Specialty         string    `json:"specialty"`
	Treatment         string    `json:"treatment"`
	Cost              float64   `json:"cost"`
	Paid              float64   `json:"paid"`
	Description       string    `json:"description"`
	ExternalBookingID *string   `json:"externalBookingId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Payment is an append/delete-only ledger entry against a visit.
type Payment struct {
	ID        uuid.UUID `json:"id"`
	VisitID   uuid.UUID `json:"visitId"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"createdAt"`
}

// Specialties recognized by the clinic. Anything else maps to Soin.
const (
	SpecialtySoin      = "Soin"
	SpecialtyODF       = "ODF"
	SpecialtyChirurgie = "Chirurgie"
	SpecialtyProteges  = "Proteges"
)

var canonicalSpecialties = []string{SpecialtySoin, SpecialtyODF, SpecialtyChirurgie, SpecialtyProteges}

// NormalizeSpecialty maps free-form specialty text onto the canonical set by
// case-insensitive substring match, defaulting to Soin.
func NormalizeSpecialty(raw string) string {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return SpecialtySoin
	}
	for _, s := range canonicalSpecialties {
		if strings.Contains(needle, strings.ToLower(s)) || strings.Contains(strings.ToLower(s), needle) {
			return s
		}
	}
	return SpecialtySoin
}

// Day truncates a timestamp to its calendar day in local time. All per-day
// grouping (queue, capacity, duplicates) keys on this.
func Day(t time.Time) time.Time {
	y, m, d := t.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
