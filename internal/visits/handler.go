package visits

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// Handler handles HTTP requests for visits, the waiting queue and payments.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
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

// writeGuardError maps business-rule violations onto their reason codes.
func writeGuardError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "capacity-exceeded", "the day has reached its visit capacity")
	case errors.Is(err, ErrDuplicateVisit):
		writeError(w, http.StatusConflict, "duplicate-visit", "patient already has an active visit that day")
	default:
		return false
	}
	return true
}

// CreateVisit handles POST /api/visits.
func (h *Handler) CreateVisit(w http.ResponseWriter, r *http.Request) {
	var req CreateVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	visit, err := h.service.Create(r.Context(), req)
	if err != nil {
		if writeGuardError(w, err) {
			return
		}
		h.logger.Error("create visit failed", "error", err)
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

// GetVisit handles GET /api/visits/{id}.
func (h *Handler) GetVisit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid visit id")
		return
	}
	visit, err := h.service.Store().GetByID(r.Context(), nil, id)
	if errors.Is(err, ErrVisitNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "visit not found")
		return
	}
	if err != nil {
		h.logger.Error("get visit failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load visit")
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

// UpdateVisit handles PUT /api/visits/{id} (editable detail fields only;
// status and order go through their dedicated endpoints).
func (h *Handler) UpdateVisit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid visit id")
		return
	}
	var v Visit
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	v.ID = id
	err = h.service.Store().UpdateDetails(r.Context(), nil, &v)
	if errors.Is(err, ErrVisitNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "visit not found")
		return
	}
	if err != nil {
		h.logger.Error("update visit failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to update visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// DeleteVisit handles DELETE /api/visits/{id}.
func (h *Handler) DeleteVisit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid visit id")
		return
	}
	err = h.service.Store().Delete(r.Context(), nil, id)
	if errors.Is(err, ErrVisitNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "visit not found")
		return
	}
	if err != nil {
		h.logger.Error("delete visit failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type changeStatusRequest struct {
	Status Status `json:"status"`
}

// ChangeStatus handles PATCH /api/visits/{id}/status.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid visit id")
		return
	}
	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}

	visit, err := h.service.ChangeStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, ErrVisitNotFound):
		writeError(w, http.StatusNotFound, "not-found", "visit not found")
	case errors.Is(err, ErrIllegalTransition):
		writeError(w, http.StatusBadRequest, "illegal-transition", err.Error())
	case err != nil:
		if writeGuardError(w, err) {
			return
		}
		h.logger.Error("status change failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to change status")
	default:
		writeJSON(w, http.StatusOK, visit)
	}
}

// GetQueue handles GET /api/queue?date=YYYY-MM-DD (defaults to today).
// The missed-visit sweep runs before every read.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid-date", "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	waiting, err := h.service.Queue().Waiting(r.Context(), day)
	if err != nil {
		h.logger.Error("queue read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visits": waiting, "count": len(waiting)})
}

type swapRequest struct {
	VisitID   uuid.UUID     `json:"visitId"`
	Direction SwapDirection `json:"direction"`
}

// SwapQueue handles POST /api/queue/swap.
func (h *Handler) SwapQueue(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	if req.Direction != SwapUp && req.Direction != SwapDown {
		writeError(w, http.StatusBadRequest, "invalid-direction", "direction must be up or down")
		return
	}
	if err := h.service.Queue().SwapAdjacent(r.Context(), req.VisitID, req.Direction); err != nil {
		h.logger.Error("queue swap failed", "error", err, "visit", req.VisitID)
		writeError(w, http.StatusInternalServerError, "internal", "failed to swap")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type reorderRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// ReorderQueue handles POST /api/queue/reorder.
func (h *Handler) ReorderQueue(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	if err := h.service.Queue().Reorder(r.Context(), req.IDs); err != nil {
		h.logger.Error("queue reorder failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to reorder")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type addPaymentRequest struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

// AddPayment handles POST /api/visits/{id}/payments.
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid visit id")
		return
	}
	var req addPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid-amount", "amount must be positive")
		return
	}
	payment, err := h.service.Store().AddPayment(r.Context(), id, req.Amount, req.Method)
	if errors.Is(err, ErrVisitNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "visit not found")
		return
	}
	if err != nil {
		h.logger.Error("add payment failed", "error", err, "visit", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to record payment")
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// ListPayments handles GET /api/visits/{id}/payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid visit id")
		return
	}
	list, err := h.service.Store().ListPayments(r.Context(), nil, id)
	if err != nil {
		h.logger.Error("list payments failed", "error", err, "visit", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list payments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": list, "count": len(list)})
}

// DeletePayment handles DELETE /api/payments/{id}. Deleting a payment that
// is already gone succeeds: the operation is idempotent.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid payment id")
		return
	}
	if err := h.service.Store().DeletePayment(r.Context(), id); err != nil {
		h.logger.Error("delete payment failed", "error", err, "payment", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete payment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
