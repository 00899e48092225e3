package visits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cabinetdz/cabinet-platform/internal/observability/metrics"
	"github.com/cabinetdz/cabinet-platform/internal/patients"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// Service orchestrates visit intake and lifecycle transitions over the
// store, the guard and the queue.
type Service struct {
	store    *Store
	patients *patients.Store
	guard    *Guard
	queue    *Queue
	logger   *logging.Logger
	metrics  *metrics.QueueMetrics
}

func NewService(store *Store, patientStore *patients.Store, guard *Guard, queue *Queue, logger *logging.Logger, m *metrics.QueueMetrics) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		patients: patientStore,
		guard:    guard,
		queue:    queue,
		logger:   logger,
		metrics:  m,
	}
}

func (s *Service) Store() *Store { return s.store }
func (s *Service) Queue() *Queue { return s.queue }
func (s *Service) Guard() *Guard { return s.guard }

// CreateVisitRequest is the intake payload for a locally created visit.
type CreateVisitRequest struct {
	Patient     patients.Intake `json:"patient"`
	Date        time.Time       `json:"date"`
	Specialty   string          `json:"specialty"`
	Treatment   string          `json:"treatment"`
	Cost        float64         `json:"cost"`
	Description string          `json:"description"`
}

// Create resolves the patient, runs the guards and inserts the visit as
// SCHEDULED. Guard rejections surface as ErrCapacityExceeded or
// ErrDuplicateVisit with no write performed.
func (s *Service) Create(ctx context.Context, req CreateVisitRequest) (*Visit, error) {
	if err := req.Patient.Validate(); err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("visits: date is required")
	}

	if err := s.guard.CheckCapacity(ctx, nil, req.Date); err != nil {
		s.metrics.ObserveRejection("capacity-exceeded")
		return nil, err
	}

	patient, err := s.patients.Resolve(ctx, nil, req.Patient)
	if err != nil {
		return nil, err
	}

	// Duplicate check runs after patient resolution, before the insert.
	if err := s.guard.CheckDuplicate(ctx, nil, req.Date, patient.ID, uuid.Nil); err != nil {
		s.metrics.ObserveRejection("duplicate-visit")
		return nil, err
	}

	visit, err := s.store.Insert(ctx, nil, &Visit{
		PatientID:   patient.ID,
		Date:        req.Date,
		Status:      StatusScheduled,
		Specialty:   req.Specialty,
		Treatment:   req.Treatment,
		Cost:        req.Cost,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("visit created", "id", visit.ID, "patient", patient.ID, "date", visit.Date)
	return visit, nil
}

// ChangeStatus applies one lifecycle transition with its ordering effect as
// a single authoritative write.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, target Status) (*Visit, error) {
	visit, err := s.store.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	effect, err := Transition(visit.Status, target)
	if err != nil {
		return nil, err
	}

	order := visit.Order
	switch effect {
	case EffectAppendQueue:
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("visits: begin transition: %w", err)
		}
		defer tx.Rollback(ctx)
		order, err = s.queue.AppendOnArrival(ctx, tx, visit)
		if err != nil {
			return nil, err
		}
		if err := s.store.SetStatusAndOrder(ctx, tx, id, target, order); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("visits: commit transition: %w", err)
		}
	case EffectResetOrder:
		// Reactivation re-runs the duplicate rule, excluding the visit itself.
		if err := s.guard.CheckDuplicate(ctx, nil, visit.Date, visit.PatientID, visit.ID); err != nil {
			s.metrics.ObserveRejection("duplicate-visit")
			return nil, err
		}
		order = 0
		if err := s.store.SetStatusAndOrder(ctx, nil, id, target, order); err != nil {
			return nil, err
		}
	default:
		// EffectNone and EffectKeepOrder both leave the order untouched.
		if err := s.store.SetStatusAndOrder(ctx, nil, id, target, order); err != nil {
			return nil, err
		}
	}

	s.metrics.ObserveTransition(string(visit.Status), string(target))
	s.logger.Info("visit transitioned", "id", id, "from", visit.Status, "to", target, "effect", effect.String())

	visit.Status = target
	visit.Order = order
	return visit, nil
}
