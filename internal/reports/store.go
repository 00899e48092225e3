// Package reports builds the aggregate snapshots pushed to the booking
// portal and serves the charges dashboard.
package reports

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cabinetdz/cabinet-platform/internal/portal"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// Store runs read-only aggregate queries. It sits on database/sql rather
// than the pgx pool because nothing here needs transactions or pgx types.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewStore(db *sql.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger.Named("reports")}
}

// ChargesSnapshot aggregates visit activity per day and specialty.
// Cancelled and missed visits carry no charge.
func (s *Store) ChargesSnapshot(ctx context.Context) (portal.ChargesSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(date::date, 'YYYY-MM-DD'), specialty, COUNT(*), COALESCE(SUM(cost), 0)
		FROM visits
		WHERE status NOT IN ('CANCELLED', 'MISSED')
		GROUP BY 1, 2
		ORDER BY 1, 2`)
	if err != nil {
		return portal.ChargesSnapshot{}, fmt.Errorf("reports: charges query: %w", err)
	}
	defer rows.Close()

	snap := portal.ChargesSnapshot{ByDate: map[string]map[string]portal.ChargeBucket{}}
	for rows.Next() {
		var date, specialty string
		var bucket portal.ChargeBucket
		if err := rows.Scan(&date, &specialty, &bucket.Count, &bucket.TotalCost); err != nil {
			return portal.ChargesSnapshot{}, fmt.Errorf("reports: scan charges: %w", err)
		}
		if snap.ByDate[date] == nil {
			snap.ByDate[date] = map[string]portal.ChargeBucket{}
		}
		snap.ByDate[date][specialty] = bucket
	}
	if err := rows.Err(); err != nil {
		return portal.ChargesSnapshot{}, fmt.Errorf("reports: charges rows: %w", err)
	}
	return snap, nil
}

// UpcomingBookings lists scheduled future visits whose patient has complete
// contact info. Rows missing a name or phone cannot be matched on the
// portal side and are left out.
func (s *Store) UpcomingBookings(ctx context.Context) (portal.BookingsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.first_name, p.last_name, p.phone, v.specialty,
		       to_char(v.date::date, 'YYYY-MM-DD'), to_char(v.date, 'HH24:MI')
		FROM visits v
		JOIN patients p ON p.id = v.patient_id
		WHERE v.date::date >= current_date
		  AND v.status = 'SCHEDULED'
		  AND p.first_name <> '' AND p.last_name <> '' AND p.phone <> ''
		ORDER BY v.date`)
	if err != nil {
		return portal.BookingsSnapshot{}, fmt.Errorf("reports: upcoming query: %w", err)
	}
	defer rows.Close()

	snap := portal.BookingsSnapshot{Bookings: []portal.UpcomingBooking{}}
	for rows.Next() {
		var b portal.UpcomingBooking
		if err := rows.Scan(&b.FirstName, &b.LastName, &b.Phone, &b.Specialty, &b.Date, &b.Time); err != nil {
			return portal.BookingsSnapshot{}, fmt.Errorf("reports: scan upcoming: %w", err)
		}
		snap.Bookings = append(snap.Bookings, b)
	}
	if err := rows.Err(); err != nil {
		return portal.BookingsSnapshot{}, fmt.Errorf("reports: upcoming rows: %w", err)
	}
	return snap, nil
}
