package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cabinetdz/cabinet-platform/internal/observability/metrics"
	"github.com/cabinetdz/cabinet-platform/internal/patients"
	"github.com/cabinetdz/cabinet-platform/internal/portal"
	"github.com/cabinetdz/cabinet-platform/internal/visits"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// SnapshotSource builds the payloads the push phase uploads to the portal.
type SnapshotSource interface {
	ChargesSnapshot(ctx context.Context) (portal.ChargesSnapshot, error)
	UpcomingBookings(ctx context.Context) (portal.BookingsSnapshot, error)
}

// PullResult reports the merge phase of a cycle.
type PullResult struct {
	OK             bool     `json:"ok"`
	Error          string   `json:"error,omitempty"`
	Timeout        bool     `json:"timeout,omitempty"`
	Imported       int      `json:"imported"`
	Updated        int      `json:"updated"`
	Skipped        int      `json:"skipped"`
	DeletedStale   int64    `json:"deletedStale"`
	DeletedOrphans int64    `json:"deletedOrphans"`
	Errors         []string `json:"errors,omitempty"`
}

// PhaseResult reports one best-effort push phase.
type PhaseResult struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Timeout bool   `json:"timeout,omitempty"`
	Count   int    `json:"count"`
}

// Result is the outcome of one full pull-merge-push cycle. A failed pull
// aborts the cycle before the pushes run; push failures never roll back the
// pull.
type Result struct {
	StartedAt    time.Time   `json:"startedAt"`
	DurationMS   int64       `json:"durationMs"`
	Pull         PullResult  `json:"pull"`
	PushCharges  PhaseResult `json:"pushCharges"`
	PushBookings PhaseResult `json:"pushBookings"`
}

// Engine runs the reconciliation cycle against the booking portal. There is
// no shared transaction with the remote side, so the merge is keyed on the
// booking marker and written to be idempotent: re-running against an
// unchanged snapshot produces no new writes.
type Engine struct {
	visits   *visits.Store
	patients *patients.Store
	guard    *visits.Guard
	portal   *portal.Client
	source   SnapshotSource
	logger   *logging.Logger
	metrics  *metrics.SyncMetrics
	tracer   trace.Tracer

	mu   sync.Mutex
	last *Result
}

func NewEngine(vs *visits.Store, ps *patients.Store, guard *visits.Guard, client *portal.Client, source SnapshotSource, logger *logging.Logger, m *metrics.SyncMetrics) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		visits:   vs,
		patients: ps,
		guard:    guard,
		portal:   client,
		source:   source,
		logger:   logger.Named("sync"),
		metrics:  m,
		tracer:   otel.Tracer("cabinet-platform/sync"),
	}
}

// Portal exposes the engine's portal client for the handler layer.
func (e *Engine) Portal() *portal.Client { return e.portal }

// Last returns the most recent cycle result, nil before the first run.
func (e *Engine) Last() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Run executes one full cycle against the portal at portalURL (empty means
// the configured default).
func (e *Engine) Run(ctx context.Context, portalURL string) *Result {
	ctx, span := e.tracer.Start(ctx, "sync.cycle")
	defer span.End()

	start := time.Now()
	res := &Result{StartedAt: start}

	res.Pull = e.pull(ctx, portalURL)
	if res.Pull.OK {
		res.PushCharges = e.pushCharges(ctx, portalURL)
		res.PushBookings = e.pushBookings(ctx, portalURL)
	}

	res.DurationMS = time.Since(start).Milliseconds()
	e.metrics.ObserveCycleDuration(time.Since(start).Seconds())
	e.logger.Info("sync cycle finished",
		"pull_ok", res.Pull.OK,
		"imported", res.Pull.Imported,
		"updated", res.Pull.Updated,
		"duration_ms", res.DurationMS)

	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
	return res
}

func (e *Engine) pull(ctx context.Context, portalURL string) PullResult {
	ctx, span := e.tracer.Start(ctx, "sync.pull")
	defer span.End()

	bookings, err := e.portal.ListBookings(ctx, portalURL)
	if err != nil {
		e.metrics.ObservePhase("pull", "error")
		return PullResult{Error: err.Error(), Timeout: isTimeout(err)}
	}
	res := e.Merge(ctx, bookings)
	if res.OK {
		e.metrics.ObservePhase("pull", "ok")
	} else {
		e.metrics.ObservePhase("pull", "error")
	}
	return res
}

// Merge reconciles a full remote snapshot into the local store. It is the
// shared path behind the pull phase and the portal's inbound snapshot push.
func (e *Engine) Merge(ctx context.Context, bookings []portal.Booking) PullResult {
	today := visits.Day(time.Now())
	res := PullResult{}

	stale, err := e.visits.DeleteStaleImportsBefore(ctx, nil, today)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.DeletedStale = stale

	seen := make([]string, 0, len(bookings))
	for _, b := range bookings {
		if b.Source == portal.SourceLocalSync {
			res.Skipped++
			continue
		}
		switch b.Status {
		case portal.BookingStatusPending, portal.BookingStatusConfirmed, portal.BookingStatusApproved:
		default:
			res.Skipped++
			continue
		}
		when, err := parseBookingDate(b.Date, b.Time)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("booking %s: %v", b.ID, err))
			continue
		}
		if visits.Day(when).Before(today) {
			res.Skipped++
			continue
		}

		marker := Marker(b)
		// The booking still exists remotely even if its merge fails, so it
		// must never be treated as an orphan.
		seen = append(seen, marker)

		if err := e.mergeOne(ctx, b, marker, when, &res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("booking %s: %v", b.ID, err))
			e.metrics.ObserveBooking("error")
			e.logger.Warn("booking merge failed", "booking_id", b.ID, "error", err)
		}
	}

	// An empty snapshot is indistinguishable from a broken fetch; skipping
	// the orphan pass keeps it from wiping every pending import.
	if len(seen) > 0 {
		orphans, err := e.visits.DeleteOrphanedImports(ctx, nil, today, seen)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.DeletedOrphans = orphans
		if orphans > 0 {
			e.metrics.ObserveBooking("deleted")
		}
	}

	res.OK = true
	return res
}

func (e *Engine) mergeOne(ctx context.Context, b portal.Booking, marker string, when time.Time, res *PullResult) error {
	p, err := e.patients.Resolve(ctx, nil, patients.Intake{
		FirstName: b.FirstName,
		LastName:  b.LastName,
		Phone:     b.Phone,
		Email:     b.Email,
	})
	if err != nil {
		return fmt.Errorf("resolve patient: %w", err)
	}

	status := visits.StatusScheduled
	if b.Status == portal.BookingStatusPending {
		status = visits.StatusPending
	}
	specialty := visits.NormalizeSpecialty(b.Specialty)

	v, err := e.visits.FindByExternalBookingID(ctx, nil, marker)
	if err != nil {
		return err
	}
	if v == nil {
		// Marker drift guard: the same patient, day and specialty already
		// pending or scheduled locally is the same booking.
		v, err = e.visits.FindSoftDuplicate(ctx, nil, when, specialty, p.ID)
		if err != nil {
			return err
		}
	}

	if v != nil {
		unchanged := v.Date.Equal(when) &&
			v.Specialty == specialty &&
			v.Status == status &&
			v.ExternalBookingID != nil && *v.ExternalBookingID == marker
		if unchanged {
			return nil
		}
		if err := e.visits.UpdateImport(ctx, nil, v.ID, when, specialty, status, marker); err != nil {
			return err
		}
		res.Updated++
		e.metrics.ObserveBooking("updated")
		return nil
	}

	if err := e.guard.CheckCreate(ctx, nil, when, p.ID); err != nil {
		return err
	}
	_, err = e.visits.Insert(ctx, nil, &visits.Visit{
		PatientID:         p.ID,
		Date:              when,
		Status:            status,
		Specialty:         specialty,
		ExternalBookingID: &marker,
	})
	if err != nil {
		return err
	}
	res.Imported++
	e.metrics.ObserveBooking("imported")
	return nil
}

func (e *Engine) pushCharges(ctx context.Context, portalURL string) PhaseResult {
	ctx, span := e.tracer.Start(ctx, "sync.push_charges")
	defer span.End()

	snap, err := e.source.ChargesSnapshot(ctx)
	if err != nil {
		e.metrics.ObservePhase("push_charges", "error")
		return PhaseResult{Error: err.Error()}
	}
	ack, err := e.portal.PushCharges(ctx, portalURL, snap)
	if err != nil {
		e.metrics.ObservePhase("push_charges", "error")
		return PhaseResult{Error: err.Error(), Timeout: isTimeout(err)}
	}
	e.metrics.ObservePhase("push_charges", "ok")
	return PhaseResult{OK: true, Count: ack.DatesSynced}
}

func (e *Engine) pushBookings(ctx context.Context, portalURL string) PhaseResult {
	ctx, span := e.tracer.Start(ctx, "sync.push_bookings")
	defer span.End()

	snap, err := e.source.UpcomingBookings(ctx)
	if err != nil {
		e.metrics.ObservePhase("push_bookings", "error")
		return PhaseResult{Error: err.Error()}
	}
	ack, err := e.portal.PushBookings(ctx, portalURL, snap)
	if err != nil {
		e.metrics.ObservePhase("push_bookings", "error")
		return PhaseResult{Error: err.Error(), Timeout: isTimeout(err)}
	}
	e.metrics.ObservePhase("push_bookings", "ok")
	return PhaseResult{OK: true, Count: ack.Synced}
}

// parseBookingDate combines the portal's YYYY-MM-DD date and optional HH:MM
// time-of-day into a local timestamp.
func parseBookingDate(date, timeOfDay string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", date)
	}
	if timeOfDay == "" {
		return day, nil
	}
	tod, err := time.ParseInLocation("15:04", timeOfDay, time.Local)
	if err != nil {
		return day, nil
	}
	return day.Add(time.Duration(tod.Hour())*time.Hour + time.Duration(tod.Minute())*time.Minute), nil
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err)
}
