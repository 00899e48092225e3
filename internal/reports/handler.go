package reports

import (
	"encoding/json"
	"net/http"

	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// Handler serves the charges dashboard endpoint.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger.Named("reports_handler")}
}

// Charges handles GET /api/reports/charges.
func (h *Handler) Charges(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.ChargesSnapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to build charges snapshot", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "failed to build charges report"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(snap)
}
