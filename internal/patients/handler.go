package patients

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// Handler handles HTTP requests for patients
type Handler struct {
	store  *Store
	logger *logging.Logger
}

func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
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

// CreatePatient handles POST /api/patients.
func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var p Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	in := Intake{FirstName: p.FirstName, LastName: p.LastName, Phone: p.Phone, Email: p.Email}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	created, err := h.store.Create(r.Context(), nil, &p)
	if err != nil {
		h.logger.Error("create patient failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to create patient")
		return
	}
	h.logger.Info("patient created", "id", created.ID, "phone", created.Phone)
	writeJSON(w, http.StatusCreated, created)
}

// GetPatient handles GET /api/patients/{id}.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid patient id")
		return
	}
	p, err := h.store.GetByID(r.Context(), nil, id)
	if errors.Is(err, ErrPatientNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "patient not found")
		return
	}
	if err != nil {
		h.logger.Error("get patient failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load patient")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPatients handles GET /api/patients?q=&limit=.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	list, err := h.store.List(r.Context(), nil, r.URL.Query().Get("q"), limit)
	if err != nil {
		h.logger.Error("list patients failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list patients")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": list, "count": len(list)})
}

// UpdatePatient handles PUT /api/patients/{id}.
func (h *Handler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid patient id")
		return
	}
	var p Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body", "invalid request body")
		return
	}
	p.ID = id

	err = h.store.Update(r.Context(), nil, &p)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "not-found", "patient not found")
	case errors.Is(err, ErrDuplicatePhone):
		writeError(w, http.StatusConflict, "duplicate-phone", "another patient already uses this phone")
	case err != nil:
		h.logger.Error("update patient failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to update patient")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// DeletePatient handles DELETE /api/patients/{id}. Deletion cascades to
// visits and payments and is refused while a balance is outstanding.
func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-id", "invalid patient id")
		return
	}
	err = h.store.DeleteIfSettled(r.Context(), id)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "not-found", "patient not found")
	case errors.Is(err, ErrOutstandingBalance):
		writeError(w, http.StatusConflict, "outstanding-balance", "patient still owes a balance")
	case err != nil:
		h.logger.Error("delete patient failed", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete patient")
	default:
		h.logger.Info("patient deleted", "id", id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
