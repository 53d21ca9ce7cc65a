package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/clinic"
	"github.com/hackgods/clinic-opd/internal/metrics"
	"github.com/hackgods/clinic-opd/internal/session"
)

type RouterConfig struct {
	Service *clinic.Service
	Issuer  *session.Issuer
	Logger  zerolog.Logger
	Metrics *metrics.HTTPMetrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Feed serves the authenticated /ws endpoint when set.
	Feed         http.Handler
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	h := &handlers{svc: cfg.Service, issuer: cfg.Issuer, logger: cfg.Logger}

	r.Post("/auth/login", h.login)
	r.Post("/signup", h.signup)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Issuer, cfg.Service.CheckTenantActive))

		r.Get("/snapshot", h.snapshot)
		if cfg.Feed != nil {
			r.Method(http.MethodGet, "/ws", cfg.Feed)
		}

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.listPatients)
			r.Post("/", h.addPatient)
			r.Get("/{id}", h.getPatient)
			r.Patch("/{id}", h.updatePatient)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", h.listAppointments)
			r.Post("/", h.bookAppointment)
			r.Get("/{id}", h.getAppointment)
			r.Post("/{id}/check-in", h.checkIn)
			r.Post("/{id}/start", h.startConsultation)
			r.Post("/{id}/status", h.updateStatus)
			r.Post("/{id}/cancel", h.cancelAppointment)
			r.Post("/{id}/finalize", h.finalize)
		})

		r.Get("/records", h.listRecords)

		r.Get("/billing/pending", h.pendingInvoices)
		r.Get("/billing/draft/{appointmentId}", h.draftInvoice)
		r.Route("/bills", func(r chi.Router) {
			r.Get("/", h.listBills)
			r.Post("/", h.settle)
			r.Get("/export.xlsx", h.exportBills)
			r.Get("/{id}/invoice", h.invoiceHTML)
		})

		r.Get("/pharmacy/queue", h.pharmacyQueue)
		r.Post("/prescriptions/{id}/dispense", h.dispense)
		r.Post("/prescriptions/{id}/cancel", h.cancelPrescription)

		r.Get("/staff", h.listStaff)
		r.Post("/staff", h.addStaff)

		r.Get("/settings", h.settings)
		r.Patch("/settings", h.updateSettings)

		r.Get("/tenants", h.listTenants)
		r.Patch("/tenants/{id}/status", h.setTenantStatus)
	})

	return r
}
