package visits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool adds transaction support on top of Querier.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists visits and payments in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("visits: pgx pool required")
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

func (s *Store) q(q Querier) Querier {
	if q != nil {
		return q
	}
	return s.pool
}

const visitColumns = `id, patient_id, date, status, queue_order, specialty, treatment, cost, paid, description, external_booking_id, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	if err := row.Scan(&v.ID, &v.PatientID, &v.Date, &v.Status, &v.Order, &v.Specialty,
		&v.Treatment, &v.Cost, &v.Paid, &v.Description, &v.ExternalBookingID,
		&v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows) ([]*Visit, error) {
	defer rows.Close()
	out := []*Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("visits: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, q Querier, v *Visit) (*Visit, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = StatusScheduled
	}
	v.Specialty = NormalizeSpecialty(v.Specialty)
	var createdAt, updatedAt time.Time
	err := s.q(q).QueryRow(ctx, `
		INSERT INTO visits (id, patient_id, date, status, queue_order, specialty, treatment, cost, description, external_booking_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		v.ID, v.PatientID, v.Date, v.Status, v.Order, v.Specialty,
		v.Treatment, v.Cost, v.Description, v.ExternalBookingID).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("visits: insert: %w", err)
	}
	v.CreatedAt, v.UpdatedAt = createdAt, updatedAt
	return v, nil
}

func (s *Store) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*Visit, error) {
	row := s.q(q).QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id)
	v, err := scanVisit(row)
	if err == pgx.ErrNoRows {
		return nil, ErrVisitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("visits: select by id: %w", err)
	}
	return v, nil
}

// UpdateDetails rewrites the editable fields of a visit.
func (s *Store) UpdateDetails(ctx context.Context, q Querier, v *Visit) error {
	tag, err := s.q(q).Exec(ctx, `
		UPDATE visits
		SET date = $2, specialty = $3, treatment = $4, cost = $5, description = $6, updated_at = now()
		WHERE id = $1`,
		v.ID, v.Date, NormalizeSpecialty(v.Specialty), v.Treatment, v.Cost, v.Description)
	if err != nil {
		return fmt.Errorf("visits: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVisitNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, q Querier, id uuid.UUID) error {
	if _, err := s.q(q).Exec(ctx, `DELETE FROM payments WHERE visit_id = $1`, id); err != nil {
		return fmt.Errorf("visits: delete payments: %w", err)
	}
	tag, err := s.q(q).Exec(ctx, `DELETE FROM visits WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("visits: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVisitNotFound
	}
	return nil
}

// SetStatusAndOrder is the single authoritative write behind every
// transition.
func (s *Store) SetStatusAndOrder(ctx context.Context, q Querier, id uuid.UUID, status Status, order int) error {
	tag, err := s.q(q).Exec(ctx, `
		UPDATE visits SET status = $2, queue_order = $3, updated_at = now() WHERE id = $1`,
		id, status, order)
	if err != nil {
		return fmt.Errorf("visits: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVisitNotFound
	}
	return nil
}

// ListWaiting returns the day's waiting queue in queue order.
func (s *Store) ListWaiting(ctx context.Context, q Querier, day time.Time) ([]*Visit, error) {
	rows, err := s.q(q).Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE date::date = $1::date AND status = $2
		ORDER BY queue_order ASC, created_at ASC`,
		Day(day), StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("visits: list waiting: %w", err)
	}
	return collectVisits(rows)
}

// ListByDay returns all of a day's visits, optionally filtered by status.
func (s *Store) ListByDay(ctx context.Context, q Querier, day time.Time, statuses ...Status) ([]*Visit, error) {
	if len(statuses) == 0 {
		rows, err := s.q(q).Query(ctx, `
			SELECT `+visitColumns+`
			FROM visits
			WHERE date::date = $1::date
			ORDER BY queue_order ASC, date ASC`, Day(day))
		if err != nil {
			return nil, fmt.Errorf("visits: list by day: %w", err)
		}
		return collectVisits(rows)
	}
	rows, err := s.q(q).Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE date::date = $1::date AND status = ANY($2)
		ORDER BY queue_order ASC, date ASC`, Day(day), statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("visits: list by day: %w", err)
	}
	return collectVisits(rows)
}

// ListUpcoming returns visits dated today or later with the given statuses.
func (s *Store) ListUpcoming(ctx context.Context, q Querier, from time.Time, statuses ...Status) ([]*Visit, error) {
	rows, err := s.q(q).Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE date::date >= $1::date AND status = ANY($2)
		ORDER BY date ASC`, Day(from), statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("visits: list upcoming: %w", err)
	}
	return collectVisits(rows)
}

// MaxWaitingOrder returns the highest queue order among the day's waiting
// visits, 0 when the queue is empty.
func (s *Store) MaxWaitingOrder(ctx context.Context, q Querier, day time.Time) (int, error) {
	var max int
	err := s.q(q).QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_order), 0)
		FROM visits
		WHERE date::date = $1::date AND status = $2`,
		Day(day), StatusWaiting).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("visits: max order: %w", err)
	}
	return max, nil
}

// CountActiveOn counts the day's visits that occupy capacity. Cancelled and
// missed visits free their slot.
func (s *Store) CountActiveOn(ctx context.Context, q Querier, day time.Time) (int, error) {
	var n int
	err := s.q(q).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM visits
		WHERE date::date = $1::date AND status NOT IN ($2, $3)`,
		Day(day), StatusCancelled, StatusMissed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("visits: count active: %w", err)
	}
	return n, nil
}

// FindActiveForPatient returns the patient's active visit on the given day,
// ignoring excludeID (used at reactivation so a visit doesn't collide with
// itself). Returns nil, nil when no active visit exists.
func (s *Store) FindActiveForPatient(ctx context.Context, q Querier, day time.Time, patientID, excludeID uuid.UUID) (*Visit, error) {
	row := s.q(q).QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE date::date = $1::date AND patient_id = $2 AND id <> $3 AND status = ANY($4)
		LIMIT 1`,
		Day(day), patientID, excludeID, statusStrings(ActiveStatuses))
	v, err := scanVisit(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("visits: find active: %w", err)
	}
	return v, nil
}

// FindByExternalBookingID resolves the local copy of a portal booking.
// Falls back to a description-substring match for rows imported before the
// external_booking_id column existed. Returns nil, nil when absent.
func (s *Store) FindByExternalBookingID(ctx context.Context, q Querier, marker string) (*Visit, error) {
	row := s.q(q).QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE external_booking_id = $1 OR description LIKE $2
		LIMIT 1`,
		marker, "%HostedBooking:"+marker+"%")
	v, err := scanVisit(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("visits: find by booking id: %w", err)
	}
	return v, nil
}

// UpdateImport rewrites the portal-controlled fields of an imported visit
// and backfills external_booking_id on rows that predate the column.
func (s *Store) UpdateImport(ctx context.Context, q Querier, id uuid.UUID, date time.Time, specialty string, status Status, marker string) error {
	tag, err := s.q(q).Exec(ctx, `
		UPDATE visits
		SET date = $2, specialty = $3, status = $4, external_booking_id = $5, updated_at = now()
		WHERE id = $1`,
		id, date, NormalizeSpecialty(specialty), status, marker)
	if err != nil {
		return fmt.Errorf("visits: update import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVisitNotFound
	}
	return nil
}

// FindSoftDuplicate catches marker drift: a same-day, same-specialty visit
// for the patient already sitting in PENDING or SCHEDULED.
func (s *Store) FindSoftDuplicate(ctx context.Context, q Querier, day time.Time, specialty string, patientID uuid.UUID) (*Visit, error) {
	row := s.q(q).QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE date::date = $1::date AND patient_id = $2 AND specialty = $3 AND status IN ($4, $5)
		LIMIT 1`,
		Day(day), patientID, NormalizeSpecialty(specialty), StatusPending, StatusScheduled)
	v, err := scanVisit(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("visits: find soft duplicate: %w", err)
	}
	return v, nil
}

// DeleteStaleImportsBefore removes past-dated imports still sitting in
// PENDING: nobody approved them and their date has passed, so they are
// noise. Approved or treated imports stay untouched; they carry the
// clinic's financial history. Dependent payment rows go in the same
// statement so the cleanup can never trip the payments foreign key.
func (s *Store) DeleteStaleImportsBefore(ctx context.Context, q Querier, day time.Time) (int64, error) {
	tag, err := s.q(q).Exec(ctx, `
		WITH doomed AS (
			SELECT id FROM visits
			WHERE date::date < $1::date
			  AND status = $2
			  AND (external_booking_id IS NOT NULL OR description LIKE '%HostedBooking:%')
		), doomed_payments AS (
			DELETE FROM payments WHERE visit_id IN (SELECT id FROM doomed)
		)
		DELETE FROM visits WHERE id IN (SELECT id FROM doomed)`,
		Day(day), StatusPending)
	if err != nil {
		return 0, fmt.Errorf("visits: delete stale imports: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOrphanedImports removes upcoming PENDING imports whose marker was not
// part of the latest remote snapshot: those bookings were cancelled on the
// portal side. Callers must skip this entirely when the seen set is empty.
func (s *Store) DeleteOrphanedImports(ctx context.Context, q Querier, from time.Time, seenMarkers []string) (int64, error) {
	tag, err := s.q(q).Exec(ctx, `
		WITH doomed AS (
			SELECT id FROM visits
			WHERE date::date >= $1::date
			  AND status = $2
			  AND (external_booking_id IS NOT NULL OR description LIKE '%HostedBooking:%')
			  AND COALESCE(external_booking_id, substring(description from 'HostedBooking:([^):\s]+)'), '') <> ALL($3)
		), doomed_payments AS (
			DELETE FROM payments WHERE visit_id IN (SELECT id FROM doomed)
		)
		DELETE FROM visits WHERE id IN (SELECT id FROM doomed)`,
		Day(from), StatusPending, seenMarkers)
	if err != nil {
		return 0, fmt.Errorf("visits: delete orphaned imports: %w", err)
	}
	return tag.RowsAffected(), nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
