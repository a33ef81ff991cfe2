package api

import (
	"net/http"

	mw "github.com/c00lpeace/project-template-final/internal/api/middleware"
	"github.com/c00lpeace/project-template-final/internal/api/response"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
// A nil Auth serves every route without authentication.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	// Metrics instruments every request when set.
	Metrics func(http.Handler) http.Handler

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	RegisterHandler      http.HandlerFunc
	ListProgramsHandler  http.HandlerFunc
	GetProgramHandler    http.HandlerFunc
	ProgramStatusHandler http.HandlerFunc
	RetryHandler         http.HandlerFunc
	ListFailuresHandler  http.HandlerFunc
	PLCTreeHandler       http.HandlerFunc
	GetPLCHandler        http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(deps.Metrics)
	}

	// Public endpoints
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	} else {
		r.Get("/metrics", orNotImplemented(nil))
	}

	r.Group(func(r chi.Router) {
		requireWrite := func(next http.Handler) http.Handler { return next }
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
			requireWrite = deps.Auth.RequireScope(mw.ScopeWrite)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Route("/programs", func(r chi.Router) {
			r.With(requireWrite).Post("/register", orNotImplemented(deps.RegisterHandler))
			r.Get("/programs", orNotImplemented(deps.ListProgramsHandler))
			r.Get("/programs/{programID}", orNotImplemented(deps.GetProgramHandler))
			r.Get("/programs/{programID}/status", orNotImplemented(deps.ProgramStatusHandler))
			r.With(requireWrite).Post("/programs/{programID}/retry", orNotImplemented(deps.RetryHandler))
			r.Get("/programs/{programID}/failures", orNotImplemented(deps.ListFailuresHandler))
		})

		r.Route("/plc", func(r chi.Router) {
			r.Get("/tree", orNotImplemented(deps.PLCTreeHandler))
			r.Get("/{plcID}", orNotImplemented(deps.GetPLCHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
