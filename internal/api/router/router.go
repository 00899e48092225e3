package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/cabinetdz/cabinet-platform/internal/http/middleware"
	"github.com/cabinetdz/cabinet-platform/internal/patients"
	"github.com/cabinetdz/cabinet-platform/internal/reports"
	"github.com/cabinetdz/cabinet-platform/internal/sync"
	"github.com/cabinetdz/cabinet-platform/internal/visits"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	PatientsHandler    *patients.Handler
	VisitsHandler      *visits.Handler
	SyncHandler        *sync.Handler
	ReportsHandler     *reports.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.PatientsHandler != nil {
			api.Route("/patients", func(r chi.Router) {
				r.Get("/", cfg.PatientsHandler.ListPatients)
				r.Post("/", cfg.PatientsHandler.CreatePatient)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.PatientsHandler.GetPatient)
					r.Put("/", cfg.PatientsHandler.UpdatePatient)
					r.Delete("/", cfg.PatientsHandler.DeletePatient)
				})
			})
		}

		if cfg.VisitsHandler != nil {
			api.Route("/visits", func(r chi.Router) {
				r.Post("/", cfg.VisitsHandler.CreateVisit)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.VisitsHandler.GetVisit)
					r.Put("/", cfg.VisitsHandler.UpdateVisit)
					r.Delete("/", cfg.VisitsHandler.DeleteVisit)
					r.Patch("/status", cfg.VisitsHandler.ChangeStatus)
					r.Post("/payments", cfg.VisitsHandler.AddPayment)
					r.Get("/payments", cfg.VisitsHandler.ListPayments)
				})
			})
			api.Route("/queue", func(r chi.Router) {
				r.Get("/", cfg.VisitsHandler.GetQueue)
				r.Post("/swap", cfg.VisitsHandler.SwapQueue)
				r.Post("/reorder", cfg.VisitsHandler.ReorderQueue)
			})
			api.Delete("/payments/{id}", cfg.VisitsHandler.DeletePayment)
		}

		if cfg.SyncHandler != nil {
			api.Get("/sync", cfg.SyncHandler.Status)
			api.Post("/sync", cfg.SyncHandler.Trigger)
			api.Post("/sync/bookings", cfg.SyncHandler.InboundBookings)
			api.Post("/bookings/create", cfg.SyncHandler.CreateBooking)
			api.Route("/reservations", func(r chi.Router) {
				r.Get("/", cfg.SyncHandler.ListReservations)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.SyncHandler.GetReservation)
					r.Put("/", cfg.SyncHandler.UpdateReservation)
					r.Delete("/", cfg.SyncHandler.DeleteReservation)
					r.Post("/approve", cfg.SyncHandler.ApproveReservation)
				})
			})
		}

		if cfg.ReportsHandler != nil {
			api.Get("/reports/charges", cfg.ReportsHandler.Charges)
		}
	})

	return r
}
