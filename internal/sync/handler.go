package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cabinetdz/cabinet-platform/internal/patients"
	"github.com/cabinetdz/cabinet-platform/internal/portal"
	"github.com/cabinetdz/cabinet-platform/internal/visits"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// portalURLHeader lets the front desk point a single request at a different
// portal instance.
const portalURLHeader = "x-booking-portal-url"

// Handler serves the sync cycle and the portal-facing reservation endpoints.
type Handler struct {
	engine   *Engine
	lock     *Lock
	service  *visits.Service
	patients *patients.Store
	logger   *logging.Logger
}

func NewHandler(engine *Engine, lock *Lock, service *visits.Service, ps *patients.Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:   engine,
		lock:     lock,
		service:  service,
		patients: ps,
		logger:   logger.Named("sync_handler"),
	}
}

type errorResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Reason: reason, Error: msg})
}

// portalURL validates and returns the per-request portal override.
func portalURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.Header.Get(portalURLHeader)
	if err := portal.ValidateURL(raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-portal-url", "invalid portal url override")
		return "", false
	}
	return raw, true
}

// Status handles GET /api/sync: a connectivity probe plus the last cycle
// outcome.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	base, ok := portalURL(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	connected := h.engine.Portal().Ping(ctx, base) == nil
	effective := base
	if effective == "" {
		effective = h.engine.Portal().BaseURL()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"connected": connected,
		"portalUrl": effective,
		"lastRun":   h.engine.Last(),
	})
}

// Trigger handles POST /api/sync: one full pull-merge-push cycle.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	base, ok := portalURL(w, r)
	if !ok {
		return
	}
	token, acquired, err := h.lock.Acquire(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to acquire sync lease")
		return
	}
	if !acquired {
		writeError(w, http.StatusConflict, "sync-in-progress", "another sync cycle is already running")
		return
	}
	defer func() {
		if err := h.lock.Release(r.Context(), token); err != nil {
			h.logger.Warn("failed to release sync lease", "error", err)
		}
	}()

	res := h.engine.Run(r.Context(), base)
	switch {
	case res.Pull.OK:
		writeJSON(w, http.StatusOK, res)
	case res.Pull.Timeout:
		writeJSON(w, http.StatusGatewayTimeout, res)
	default:
		writeJSON(w, http.StatusInternalServerError, res)
	}
}

type inboundSnapshot struct {
	Bookings []portal.Booking `json:"bookings"`
}

// InboundBookings handles POST /api/sync/bookings: the portal pushing its
// full snapshot to us. Same merge path as the pull phase.
func (h *Handler) InboundBookings(w http.ResponseWriter, r *http.Request) {
	var req inboundSnapshot
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	res := h.engine.Merge(r.Context(), req.Bookings)
	if !res.OK {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reservationView struct {
	Visit   *visits.Visit     `json:"visit"`
	Patient *patients.Patient `json:"patient,omitempty"`
}

// ListReservations handles GET /api/reservations: upcoming portal imports
// awaiting front-desk approval.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := h.service.Store().ListUpcoming(ctx, nil, time.Now(), visits.StatusPending)
	if err != nil {
		h.logger.Error("failed to list reservations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list reservations")
		return
	}
	out := make([]reservationView, 0, len(pending))
	for _, v := range pending {
		view := reservationView{Visit: v}
		if p, err := h.patients.GetByID(ctx, nil, v.PatientID); err == nil {
			view.Patient = p
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReservation handles GET /api/reservations/{id}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	v, ok := h.loadReservation(w, r)
	if !ok {
		return
	}
	view := reservationView{Visit: v}
	if p, err := h.patients.GetByID(r.Context(), nil, v.PatientID); err == nil {
		view.Patient = p
	}
	writeJSON(w, http.StatusOK, view)
}

type updateReservationRequest struct {
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Specialty   string  `json:"specialty"`
	Treatment   string  `json:"treatment"`
	Cost        float64 `json:"cost"`
	Description string  `json:"description"`
}

// UpdateReservation handles PUT /api/reservations/{id} and propagates the
// edit to the portal best-effort.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	v, ok := h.loadReservation(w, r)
	if !ok {
		return
	}
	base, ok := portalURL(w, r)
	if !ok {
		return
	}
	var req updateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	if req.Date != "" {
		when, err := parseBookingDate(req.Date, req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid-date", "date must be YYYY-MM-DD")
			return
		}
		v.Date = when
	}
	if req.Specialty != "" {
		v.Specialty = req.Specialty
	}
	if req.Treatment != "" {
		v.Treatment = req.Treatment
	}
	if req.Cost > 0 {
		v.Cost = req.Cost
	}
	if req.Description != "" {
		v.Description = req.Description
	}

	if err := h.service.Store().UpdateDetails(r.Context(), nil, v); err != nil {
		if errors.Is(err, visits.ErrVisitNotFound) {
			writeError(w, http.StatusNotFound, "not-found", "reservation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to update reservation")
		return
	}

	if v.ExternalBookingID != nil {
		update := portal.BookingUpdate{
			Date:      req.Date,
			Time:      req.Time,
			Specialty: req.Specialty,
		}
		if err := h.engine.Portal().UpdateBooking(r.Context(), base, *v.ExternalBookingID, update); err != nil {
			h.logger.Warn("portal edit propagation failed", "booking_id", *v.ExternalBookingID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, v)
}

// DeleteReservation handles DELETE /api/reservations/{id}: the front desk
// rejecting a portal booking.
func (h *Handler) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	v, ok := h.loadReservation(w, r)
	if !ok {
		return
	}
	base, ok := portalURL(w, r)
	if !ok {
		return
	}
	if err := h.service.Store().Delete(r.Context(), nil, v.ID); err != nil && !errors.Is(err, visits.ErrVisitNotFound) {
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete reservation")
		return
	}
	if v.ExternalBookingID != nil {
		update := portal.BookingUpdate{Status: portal.BookingStatusRejected}
		if err := h.engine.Portal().UpdateBooking(r.Context(), base, *v.ExternalBookingID, update); err != nil {
			h.logger.Warn("portal reject propagation failed", "booking_id", *v.ExternalBookingID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ApproveReservation handles POST /api/reservations/{id}/approve: the
// explicit PENDING to SCHEDULED step. Capacity and duplicate rules are
// re-checked because the day may have filled up since the import.
func (h *Handler) ApproveReservation(w http.ResponseWriter, r *http.Request) {
	v, ok := h.loadReservation(w, r)
	if !ok {
		return
	}
	base, ok := portalURL(w, r)
	if !ok {
		return
	}
	if _, err := visits.Transition(v.Status, visits.StatusScheduled); err != nil {
		writeError(w, http.StatusBadRequest, "illegal-transition", "only pending reservations can be approved")
		return
	}

	ctx := r.Context()
	guard := h.service.Guard()
	if err := guard.CheckCapacity(ctx, nil, v.Date); err != nil {
		writeError(w, http.StatusConflict, "capacity-exceeded", "the day has reached its visit capacity")
		return
	}
	if err := guard.CheckDuplicate(ctx, nil, v.Date, v.PatientID, v.ID); err != nil {
		writeError(w, http.StatusConflict, "duplicate-visit", "patient already has an active visit that day")
		return
	}
	if err := h.service.Store().SetStatusAndOrder(ctx, nil, v.ID, visits.StatusScheduled, v.Order); err != nil {
		if errors.Is(err, visits.ErrVisitNotFound) {
			writeError(w, http.StatusNotFound, "not-found", "reservation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to approve reservation")
		return
	}
	v.Status = visits.StatusScheduled

	if v.ExternalBookingID != nil {
		update := portal.BookingUpdate{Status: portal.BookingStatusApproved}
		if err := h.engine.Portal().UpdateBooking(ctx, base, *v.ExternalBookingID, update); err != nil {
			h.logger.Warn("portal approve propagation failed", "booking_id", *v.ExternalBookingID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, v)
}

type createBookingRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Specialty string `json:"specialty"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Notes     string `json:"notes"`
}

// CreateBooking handles POST /api/bookings/create: the portal-facing booking
// form. The visit lands as PENDING and waits for front-desk approval.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	intake := patients.Intake{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
	}
	if err := intake.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	when, err := parseBookingDate(req.Date, req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-date", "date must be YYYY-MM-DD")
		return
	}

	ctx := r.Context()
	p, err := h.patients.Resolve(ctx, nil, intake)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to resolve patient")
		return
	}
	if err := h.service.Guard().CheckCreate(ctx, nil, when, p.ID); err != nil {
		switch {
		case errors.Is(err, visits.ErrCapacityExceeded):
			writeError(w, http.StatusConflict, "capacity-exceeded", "the day has reached its visit capacity")
		case errors.Is(err, visits.ErrDuplicateVisit):
			writeError(w, http.StatusConflict, "duplicate-visit", "patient already has an active visit that day")
		default:
			writeError(w, http.StatusInternalServerError, "internal", "failed to check availability")
		}
		return
	}

	v, err := h.service.Store().Insert(ctx, nil, &visits.Visit{
		PatientID:   p.ID,
		Date:        when,
		Status:      visits.StatusPending,
		Specialty:   req.Specialty,
		Description: req.Notes,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to create booking")
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) loadReservation(w http.ResponseWriter, r *http.Request) (*visits.Visit, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid reservation id")
		return nil, false
	}
	v, err := h.service.Store().GetByID(r.Context(), nil, id)
	if errors.Is(err, visits.ErrVisitNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "reservation not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load reservation")
		return nil, false
	}
	return v, true
}
