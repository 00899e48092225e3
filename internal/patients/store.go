package patients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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

// Store persists patients in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const patientColumns = `id, first_name, last_name, phone, email, contacts, allergies, chronic_conditions, notes, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var contacts []byte
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Phone, &p.Email, &contacts,
		&p.Allergies, &p.ChronicConditions, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &p.Contacts); err != nil {
			return nil, fmt.Errorf("patients: decode contacts: %w", err)
		}
	}
	if p.Contacts == nil {
		p.Contacts = []Contact{}
	}
	return &p, nil
}

func (s *Store) q(q Querier) Querier {
	if q != nil {
		return q
	}
	return s.pool
}

func (s *Store) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*Patient, error) {
	row := s.q(q).QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err == pgx.ErrNoRows {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patients: select by id: %w", err)
	}
	return p, nil
}

// FindByPhone looks a patient up by normalized phone. Returns nil, nil when
// no patient matches.
func (s *Store) FindByPhone(ctx context.Context, q Querier, phone string) (*Patient, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	row := s.q(q).QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = $1`, phone)
	p, err := scanPatient(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patients: select by phone: %w", err)
	}
	return p, nil
}

// FindByName matches on exact first+last name, case-insensitively.
// Returns nil, nil when no patient matches.
func (s *Store) FindByName(ctx context.Context, q Querier, firstName, lastName string) (*Patient, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" && lastName == "" {
		return nil, nil
	}
	row := s.q(q).QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)`,
		firstName, lastName)
	p, err := scanPatient(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patients: select by name: %w", err)
	}
	return p, nil
}

func (s *Store) List(ctx context.Context, q Querier, search string, limit int) ([]*Patient, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pattern := "%" + strings.TrimSpace(search) + "%"
	rows, err := s.q(q).Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE $1 = '%%' OR first_name ILIKE $1 OR last_name ILIKE $1 OR phone LIKE $1
		ORDER BY last_name, first_name
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("patients: list: %w", err)
	}
	defer rows.Close()

	out := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patients: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, q Querier, p *Patient) (*Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Phone = NormalizePhone(p.Phone)
	p.Email = NormalizeEmail(p.Email)
	if p.Contacts == nil {
		p.Contacts = []Contact{}
	}
	contacts, err := json.Marshal(p.Contacts)
	if err != nil {
		return nil, fmt.Errorf("patients: encode contacts: %w", err)
	}
	var createdAt, updatedAt time.Time
	err = s.q(q).QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, phone, email, contacts, allergies, chronic_conditions, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.Phone, p.Email, contacts,
		p.Allergies, p.ChronicConditions, p.Notes).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("patients: insert: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = createdAt, updatedAt
	return p, nil
}

func (s *Store) Update(ctx context.Context, q Querier, p *Patient) error {
	p.Phone = NormalizePhone(p.Phone)
	p.Email = NormalizeEmail(p.Email)
	contacts, err := json.Marshal(p.Contacts)
	if err != nil {
		return fmt.Errorf("patients: encode contacts: %w", err)
	}
	tag, err := s.q(q).Exec(ctx, `
		UPDATE patients
		SET first_name = $2, last_name = $3, phone = $4, email = $5, contacts = $6,
		    allergies = $7, chronic_conditions = $8, notes = $9, updated_at = now()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.Phone, p.Email, contacts,
		p.Allergies, p.ChronicConditions, p.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePhone
		}
		return fmt.Errorf("patients: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// Resolve finds or creates the patient an intake refers to. Lookup order is
// explicit id, then normalized phone, then exact name. A match with a newly
// supplied phone or email gets those fields refreshed in place.
func (s *Store) Resolve(ctx context.Context, q Querier, in Intake) (*Patient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	qq := s.q(q)

	if in.PatientID != nil {
		return s.GetByID(ctx, qq, *in.PatientID)
	}

	phone := NormalizePhone(in.Phone)
	if p, err := s.FindByPhone(ctx, qq, phone); err != nil {
		return nil, err
	} else if p != nil {
		return s.refresh(ctx, qq, p, in)
	}

	if p, err := s.FindByName(ctx, qq, in.FirstName, in.LastName); err != nil {
		return nil, err
	} else if p != nil {
		return s.refresh(ctx, qq, p, in)
	}

	return s.Create(ctx, qq, &Patient{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Phone:     phone,
		Email:     NormalizeEmail(in.Email),
	})
}

// refresh updates contact fields on an existing patient when the intake
// carries fresher values.
func (s *Store) refresh(ctx context.Context, q Querier, p *Patient, in Intake) (*Patient, error) {
	changed := false
	if phone := NormalizePhone(in.Phone); phone != "" && phone != p.Phone {
		p.Phone = phone
		changed = true
	}
	if email := NormalizeEmail(in.Email); email != "" && email != p.Email {
		p.Email = email
		changed = true
	}
	if first := strings.TrimSpace(in.FirstName); first != "" && first != p.FirstName {
		p.FirstName = first
		changed = true
	}
	if last := strings.TrimSpace(in.LastName); last != "" && last != p.LastName {
		p.LastName = last
		changed = true
	}
	if !changed {
		return p, nil
	}
	if err := s.Update(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

// OutstandingBalance sums cost minus paid over all of a patient's visits.
func (s *Store) OutstandingBalance(ctx context.Context, q Querier, id uuid.UUID) (float64, error) {
	var balance float64
	err := s.q(q).QueryRow(ctx, `
		SELECT COALESCE(SUM(cost - paid), 0)
		FROM visits
		WHERE patient_id = $1`, id).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("patients: balance: %w", err)
	}
	return balance, nil
}

// DeleteIfSettled removes the patient and cascades to visits and payments,
// but only when the outstanding balance is zero.
func (s *Store) DeleteIfSettled(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("patients: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := s.OutstandingBalance(ctx, tx, id)
	if err != nil {
		return err
	}
	if balance != 0 {
		return ErrOutstandingBalance
	}

	if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE visit_id IN (SELECT id FROM visits WHERE patient_id = $1)`, id); err != nil {
		return fmt.Errorf("patients: delete payments: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM visits WHERE patient_id = $1`, id); err != nil {
		return fmt.Errorf("patients: delete visits: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patients: delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
