package routes

import (
	"net/http"

	"github.com/zatekoja/scribesync/internal/api/handlers"
	"github.com/zatekoja/scribesync/internal/api/middleware"
	"github.com/zatekoja/scribesync/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	syncHandler         *handlers.SyncHandler
	patientHandler      *handlers.PatientHandler
	consultationHandler *handlers.ConsultationHandler
	templateHandler     *handlers.TemplateHandler

	metrics        *observability.Metrics
	allowedOrigins []string
}

// NewRouter creates a new router
func NewRouter(
	syncHandler *handlers.SyncHandler,
	patientHandler *handlers.PatientHandler,
	consultationHandler *handlers.ConsultationHandler,
	templateHandler *handlers.TemplateHandler,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                 http.NewServeMux(),
		syncHandler:         syncHandler,
		patientHandler:      patientHandler,
		consultationHandler: consultationHandler,
		templateHandler:     templateHandler,
		metrics:             metrics,
	}
}

// WithAllowedOrigins restricts CORS to the given origins
func (r *Router) WithAllowedOrigins(origins []string) *Router {
	r.allowedOrigins = origins
	return r
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Sync endpoints
	r.mux.HandleFunc("GET /api/sync/status", r.syncHandler.GetStatus)
	r.mux.HandleFunc("POST /api/sync/flush", r.syncHandler.Flush)
	r.mux.HandleFunc("POST /api/sync/hydrate", r.syncHandler.Hydrate)
	r.mux.HandleFunc("POST /api/sync/hydrate/retry", r.syncHandler.RetryHydrate)
	r.mux.HandleFunc("POST /api/lifecycle/{event}", r.syncHandler.TriggerLifecycleEvent)

	// Patient endpoints
	r.mux.HandleFunc("GET /api/patients", r.patientHandler.ListPatients)
	r.mux.HandleFunc("POST /api/patients", r.patientHandler.AddPatient)
	r.mux.HandleFunc("DELETE /api/patients/{id}", r.patientHandler.DeletePatient)
	r.mux.HandleFunc("POST /api/patients/{id}/consultations", r.patientHandler.AddConsultation)

	// Consultation endpoints
	r.mux.HandleFunc("GET /api/consultations", r.consultationHandler.ListConsultations)
	r.mux.HandleFunc("GET /api/consultations/{id}", r.consultationHandler.GetConsultation)
	r.mux.HandleFunc("PATCH /api/consultations/{id}", r.consultationHandler.UpdateConsultation)
	r.mux.HandleFunc("DELETE /api/consultations/{id}", r.consultationHandler.DeleteConsultation)
	r.mux.HandleFunc("POST /api/consultations/{id}/reset", r.consultationHandler.ResetConsultation)
	r.mux.HandleFunc("POST /api/consultations/{id}/finalize", r.consultationHandler.FinalizeConsultation)
	r.mux.HandleFunc("POST /api/consultations/{id}/activate", r.consultationHandler.ActivateConsultation)
	r.mux.HandleFunc("POST /api/consultations/{id}/segments", r.consultationHandler.AppendSegments)

	// Template and clinical note endpoints
	r.mux.HandleFunc("GET /api/templates", r.templateHandler.ListTemplates)
	r.mux.HandleFunc("PUT /api/templates/{id}", r.templateHandler.PutTemplate)
	r.mux.HandleFunc("DELETE /api/templates/{id}", r.templateHandler.DeleteTemplate)
	r.mux.HandleFunc("GET /api/clinical-notes", r.templateHandler.ListClinicalNotes)
	r.mux.HandleFunc("PUT /api/clinical-notes/{id}", r.templateHandler.PutClinicalNote)
	r.mux.HandleFunc("DELETE /api/clinical-notes/{id}", r.templateHandler.DeleteClinicalNote)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORS(r.allowedOrigins)(handler)

	return handler
}
