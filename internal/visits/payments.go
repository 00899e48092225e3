package visits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AddPayment appends a ledger entry and recomputes the visit's derived paid
// aggregate in the same transaction.
func (s *Store) AddPayment(ctx context.Context, visitID uuid.UUID, amount float64, method string) (*Payment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("visits: payment amount must be positive")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("visits: begin payment: %w", err)
	}
	defer tx.Rollback(ctx)

	p := &Payment{ID: uuid.New(), VisitID: visitID, Amount: amount, Method: method}
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (id, visit_id, amount, method)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		p.ID, p.VisitID, p.Amount, p.Method).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("visits: insert payment: %w", err)
	}

	if err := s.recomputePaid(ctx, tx, visitID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("visits: commit payment: %w", err)
	}
	return p, nil
}

// DeletePayment removes a ledger entry and recomputes paid. Deleting an
// already-deleted payment is a no-op.
func (s *Store) DeletePayment(ctx context.Context, paymentID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("visits: begin payment delete: %w", err)
	}
	defer tx.Rollback(ctx)

	var visitID uuid.UUID
	err = tx.QueryRow(ctx, `DELETE FROM payments WHERE id = $1 RETURNING visit_id`, paymentID).Scan(&visitID)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("visits: delete payment: %w", err)
	}

	if err := s.recomputePaid(ctx, tx, visitID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("visits: commit payment delete: %w", err)
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, q Querier, visitID uuid.UUID) ([]*Payment, error) {
	rows, err := s.q(q).Query(ctx, `
		SELECT id, visit_id, amount, method, created_at
		FROM payments WHERE visit_id = $1
		ORDER BY created_at ASC`, visitID)
	if err != nil {
		return nil, fmt.Errorf("visits: list payments: %w", err)
	}
	defer rows.Close()
	out := []*Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.VisitID, &p.Amount, &p.Method, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("visits: scan payment: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// recomputePaid keeps visits.paid equal to the sum of its payment rows.
func (s *Store) recomputePaid(ctx context.Context, q Querier, visitID uuid.UUID) error {
	tag, err := s.q(q).Exec(ctx, `
		UPDATE visits
		SET paid = (SELECT COALESCE(SUM(amount), 0) FROM payments WHERE visit_id = $1),
		    updated_at = now()
		WHERE id = $1`, visitID)
	if err != nil {
		return fmt.Errorf("visits: recompute paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVisitNotFound
	}
	return nil
}
