// Package portal is the HTTP client for the hosted online-booking portal.
package portal

// Booking is a remote reservation as the portal reports it.
type Booking struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Specialty string `json:"specialty"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM, optional
	Status    string `json:"status"`
	Source    string `json:"source"`
}

// Remote booking statuses the pull phase accepts.
const (
	BookingStatusPending   = "PENDING"
	BookingStatusConfirmed = "CONFIRMED"
	BookingStatusApproved  = "APPROVED"
	BookingStatusRejected  = "REJECTED"
)

// SourceLocalSync tags bookings the portal mirrored back from this system.
// They are skipped on pull to avoid reflection loops.
const SourceLocalSync = "LOCAL_SYNC"

// BookingUpdate mutates a remote booking (approve/edit/reject propagation).
type BookingUpdate struct {
	Status    string `json:"status,omitempty"`
	Date      string `json:"date,omitempty"`
	Time      string `json:"time,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// ChargeBucket aggregates one day's activity for one specialty.
type ChargeBucket struct {
	Count     int     `json:"count"`
	TotalCost float64 `json:"totalCost"`
}

// ChargesSnapshot is the full charges push payload.
type ChargesSnapshot struct {
	ByDate map[string]map[string]ChargeBucket `json:"byDate"`
}

// ChargesResult is the portal's acknowledgment of a charges push.
type ChargesResult struct {
	DatesSynced int `json:"datesSynced"`
}

// UpcomingBooking is one row of the upcoming-appointments push. Only visits
// with complete contact info are included.
type UpcomingBooking struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Specialty string `json:"specialty"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

// BookingsSnapshot is the upcoming-appointments push payload.
type BookingsSnapshot struct {
	Bookings []UpcomingBooking `json:"bookings"`
}

// BookingsResult is the portal's acknowledgment of a bookings push.
type BookingsResult struct {
	Synced int `json:"synced"`
}
