package visits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cabinetdz/cabinet-platform/internal/observability/metrics"
)

func visitRow(v *Visit) *pgxmock.Rows {
	return visitRowsFor(v)
}

func visitRowsFor(vs ...*Visit) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "patient_id", "date", "status", "queue_order", "specialty", "treatment",
		"cost", "paid", "description", "external_booking_id", "created_at", "updated_at",
	})
	for _, v := range vs {
		rows.AddRow(v.ID, v.PatientID, v.Date, v.Status, v.Order, v.Specialty, v.Treatment,
			v.Cost, v.Paid, v.Description, v.ExternalBookingID, time.Now(), time.Now())
	}
	return rows
}

func newMockQueue(t *testing.T) (pgxmock.PgxPoolIface, *Queue, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	store := &Store{pool: mock}
	return mock, NewQueue(store, nil, nil), store
}

func waitingVisit(day time.Time, order int) *Visit {
	return &Visit{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		Date:      day,
		Status:    StatusWaiting,
		Order:     order,
		Specialty: SpecialtySoin,
	}
}

func TestSwapAdjacentUp(t *testing.T) {
	mock, queue, _ := newMockQueue(t)
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	first := waitingVisit(day, 1)
	second := waitingVisit(day, 2)

	mock.ExpectQuery(`SELECT .+ FROM visits WHERE id`).
		WithArgs(second.ID).
		WillReturnRows(visitRow(second))
	mock.ExpectQuery(`SELECT .+ FROM visits WHERE date::date = .+ AND status =`).
		WithArgs(Day(day), StatusWaiting).
		WillReturnRows(visitRowsFor(first, second))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE visits SET queue_order`).
		WithArgs(second.ID, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE visits SET queue_order`).
		WithArgs(first.ID, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if err := queue.SwapAdjacent(context.Background(), second.ID, SwapUp); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSwapAdjacentNoNeighborIsNoop(t *testing.T) {
	mock, queue, _ := newMockQueue(t)
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	first := waitingVisit(day, 1)

	mock.ExpectQuery(`SELECT .+ FROM visits WHERE id`).
		WithArgs(first.ID).
		WillReturnRows(visitRow(first))
	mock.ExpectQuery(`SELECT .+ FROM visits WHERE date::date = .+ AND status =`).
		WithArgs(Day(day), StatusWaiting).
		WillReturnRows(visitRowsFor(first))

	// Already first; moving up has no neighbor and must not write anything.
	if err := queue.SwapAdjacent(context.Background(), first.ID, SwapUp); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSwapAdjacentMissingVisitIsNoop(t *testing.T) {
	mock, queue, _ := newMockQueue(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM visits WHERE id`).
		WithArgs(id).
		WillReturnRows(visitRowsFor())

	if err := queue.SwapAdjacent(context.Background(), id, SwapDown); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReorderAssignsSequentialOrders(t *testing.T) {
	mock, queue, _ := newMockQueue(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	mock.ExpectBegin()
	for i, id := range ids {
		mock.ExpectExec(`UPDATE visits SET queue_order`).
			WithArgs(id, i+1, StatusWaiting).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}
	mock.ExpectCommit()

	if err := queue.Reorder(context.Background(), ids); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReorderCountsTowardMetrics(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	reg := prometheus.NewRegistry()
	m := metrics.NewQueueMetrics(reg)
	queue := NewQueue(&Store{pool: mock}, nil, m)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE visits SET queue_order`).
		WithArgs(id, 1, StatusWaiting).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if err := queue.Reorder(context.Background(), []uuid.UUID{id}); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "cabinet_queue_reorders_total" {
			if got := f.GetMetric()[0].GetCounter().GetValue(); got != 1 {
				t.Fatalf("expected 1 reorder observed, got %v", got)
			}
			return
		}
	}
	t.Fatal("reorder counter was never registered")
}

func TestReorderEmptyIsNoop(t *testing.T) {
	mock, queue, _ := newMockQueue(t)
	if err := queue.Reorder(context.Background(), nil); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWaitingSweepsBeforeRead(t *testing.T) {
	mock, queue, _ := newMockQueue(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)

	mock.ExpectExec(`UPDATE visits`).
		WithArgs(pgxmock.AnyArg(), StatusMissed, StatusScheduled, StatusWaiting).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectQuery(`SELECT .+ FROM visits WHERE date::date = .+ AND status =`).
		WithArgs(Day(day), StatusWaiting).
		WillReturnRows(visitRowsFor(waitingVisit(day, 1)))

	visits, err := queue.Waiting(context.Background(), day)
	if err != nil {
		t.Fatalf("waiting: %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("expected 1 waiting visit, got %d", len(visits))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
