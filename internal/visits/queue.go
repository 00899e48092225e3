package visits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cabinetdz/cabinet-platform/internal/observability/metrics"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// SwapDirection selects the neighbor for an adjacent queue swap.
type SwapDirection string

const (
	SwapUp   SwapDirection = "up"
	SwapDown SwapDirection = "down"
)

// Queue maintains the visible order of the day's WAITING visits. Every
// multi-row order update runs in a single transaction so a reader never sees
// duplicate or missing order values.
type Queue struct {
	store   *Store
	logger  *logging.Logger
	metrics *metrics.QueueMetrics
}

func NewQueue(store *Store, logger *logging.Logger, m *metrics.QueueMetrics) *Queue {
	if logger == nil {
		logger = logging.Default()
	}
	return &Queue{store: store, logger: logger, metrics: m}
}

// AppendOnArrival assigns the next order at the tail of the visit's day
// queue: max+1, or 1 for an empty queue. Runs inside the caller's
// transaction alongside the status write.
func (e *Queue) AppendOnArrival(ctx context.Context, q Querier, v *Visit) (int, error) {
	max, err := e.store.MaxWaitingOrder(ctx, q, v.Date)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// SwapAdjacent exchanges a waiting visit's order with its neighbor in the
// requested direction. Missing visit or missing neighbor is a no-op, not an
// error.
func (e *Queue) SwapAdjacent(ctx context.Context, id uuid.UUID, dir SwapDirection) error {
	visit, err := e.store.GetByID(ctx, nil, id)
	if err == ErrVisitNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if visit.Status != StatusWaiting {
		return nil
	}

	waiting, err := e.store.ListWaiting(ctx, nil, visit.Date)
	if err != nil {
		return err
	}
	idx := -1
	for i, w := range waiting {
		if w.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	var neighbor *Visit
	switch dir {
	case SwapUp:
		if idx > 0 {
			neighbor = waiting[idx-1]
		}
	case SwapDown:
		if idx < len(waiting)-1 {
			neighbor = waiting[idx+1]
		}
	default:
		return fmt.Errorf("visits: unknown swap direction %q", dir)
	}
	if neighbor == nil {
		return nil
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("visits: begin swap: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE visits SET queue_order = $2, updated_at = now() WHERE id = $1`, visit.ID, neighbor.Order); err != nil {
		return fmt.Errorf("visits: swap: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE visits SET queue_order = $2, updated_at = now() WHERE id = $1`, neighbor.ID, visit.Order); err != nil {
		return fmt.Errorf("visits: swap: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("visits: commit swap: %w", err)
	}

	e.logger.Info("queue swap", "visit", visit.ID, "with", neighbor.ID, "direction", dir)
	return nil
}

// Reorder applies a full drag-and-drop permutation: order = index+1 for every
// id, as one atomic multi-row update. Ids outside the current waiting set are
// skipped by the status filter.
func (e *Queue) Reorder(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("visits: begin reorder: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, id := range ids {
		if _, err := tx.Exec(ctx, `
			UPDATE visits SET queue_order = $2, updated_at = now()
			WHERE id = $1 AND status = $3`,
			id, i+1, StatusWaiting); err != nil {
			return fmt.Errorf("visits: reorder: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("visits: commit reorder: %w", err)
	}

	e.metrics.ObserveReorder()
	e.logger.Info("queue reordered", "count", len(ids))
	return nil
}

// Waiting returns the day's queue, sweeping missed visits first so stale
// rows never surface as waiting.
func (e *Queue) Waiting(ctx context.Context, day time.Time) ([]*Visit, error) {
	if _, err := e.store.MarkMissedBefore(ctx, nil, time.Now()); err != nil {
		return nil, err
	}
	return e.store.ListWaiting(ctx, nil, day)
}
