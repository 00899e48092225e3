package patients

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound    = errors.New("patients: not found")
	ErrOutstandingBalance = errors.New("patients: outstanding balance")
	ErrDuplicatePhone     = errors.New("patients: phone already in use")
)

// Contact is a secondary contact entry for a patient (parent, spouse, ...).
type Contact struct {
	Label string `json:"label"`
	Phone string `json:"phone"`
}

// Patient is the clinic's record of a person. Phone is stored normalized to
// the 10-digit local format; it is the main lookup key during intake and sync.
type Patient struct {
	ID                uuid.UUID `json:"id"`
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName"`
	Phone             string    `json:"phone"`
	Email             string    `json:"email"`
	Contacts          []Contact `json:"contacts"`
	Allergies         string    `json:"allergies"`
	ChronicConditions string    `json:"chronicConditions"`
	Notes             string    `json:"notes"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Intake carries the identifying fields supplied when a visit is created or
// a portal booking is imported. Resolution order: explicit id, then phone,
// then exact first+last name, then create.
type Intake struct {
	PatientID *uuid.UUID `json:"patientId,omitempty"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Phone     string     `json:"phone"`
	Email     string     `json:"email"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Validate checks intake fields before any write.
func (in Intake) Validate() error {
	if in.PatientID == nil && strings.TrimSpace(in.FirstName) == "" && strings.TrimSpace(in.LastName) == "" && strings.TrimSpace(in.Phone) == "" {
		return errors.New("patients: intake requires a patient id, a name or a phone")
	}
	if e := strings.TrimSpace(in.Email); e != "" && !emailPattern.MatchString(e) {
		return errors.New("patients: invalid email format")
	}
	return nil
}
