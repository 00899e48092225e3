package visits

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultDailyCap bounds how many active visits a single day can hold.
const DefaultDailyCap = 60

// Guard enforces the per-day capacity limit and the one-active-visit-per-
// patient-per-day rule at creation and reactivation time.
//
// The capacity/duplicate check and the subsequent insert are two separate
// store round-trips. Two concurrent creations can both pass the check before
// either inserts; see DESIGN.md for why this race is tolerated rather than
// closed with a serializable transaction.
type Guard struct {
	store *Store
	cap   int
}

func NewGuard(store *Store, dailyCap int) *Guard {
	if dailyCap <= 0 {
		dailyCap = DefaultDailyCap
	}
	return &Guard{store: store, cap: dailyCap}
}

// CheckCapacity rejects the creation when the day is already full.
func (g *Guard) CheckCapacity(ctx context.Context, q Querier, day time.Time) error {
	n, err := g.store.CountActiveOn(ctx, q, day)
	if err != nil {
		return err
	}
	if n >= g.cap {
		return ErrCapacityExceeded
	}
	return nil
}

// CheckDuplicate rejects the creation when the patient already holds an
// active visit that day. excludeID skips the visit being reactivated.
func (g *Guard) CheckDuplicate(ctx context.Context, q Querier, day time.Time, patientID, excludeID uuid.UUID) error {
	existing, err := g.store.FindActiveForPatient(ctx, q, day, patientID, excludeID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateVisit
	}
	return nil
}

// CheckCreate runs both guards in creation order: capacity first, then the
// duplicate rule (after patient resolution, before the insert).
func (g *Guard) CheckCreate(ctx context.Context, q Querier, day time.Time, patientID uuid.UUID) error {
	if err := g.CheckCapacity(ctx, q, day); err != nil {
		return err
	}
	return g.CheckDuplicate(ctx, q, day, patientID, uuid.Nil)
}
