// Package api exposes the investigator registry, orchestrator and auditor
// over HTTP/JSON, plus the live event stream.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/audit"
	"github.com/sells-group/investigator/internal/auth"
	"github.com/sells-group/investigator/internal/config"
	"github.com/sells-group/investigator/internal/investigate"
	"github.com/sells-group/investigator/internal/notify"
	"github.com/sells-group/investigator/internal/registry"
)

// Deps bundles the collaborators the HTTP surface is built on.
type Deps struct {
	Registry     *registry.Registry
	Orchestrator *investigate.Orchestrator
	Auditor      *audit.Auditor
	Hub          *notify.Hub
	Gate         *auth.Gate
	Server       config.ServerConfig
	Throttle     config.ThrottleConfig
}

// Server routes HTTP requests to the core services.
type Server struct {
	reg      *registry.Registry
	orch     *investigate.Orchestrator
	auditor  *audit.Auditor
	hub      *notify.Hub
	gate     *auth.Gate
	origins  []string
	throttle *clientThrottle
	log      *zap.Logger
}

// New creates a Server. A nil gate allows every caller; a non-positive
// request rate disables throttling.
func New(d Deps) *Server {
	gate := d.Gate
	if gate == nil {
		gate = auth.NewGate("", "")
	}
	s := &Server{
		reg:     d.Registry,
		orch:    d.Orchestrator,
		auditor: d.Auditor,
		hub:     d.Hub,
		gate:    gate,
		origins: d.Server.AllowedOrigins,
		log:     zap.L().With(zap.String("component", "api")),
	}
	if d.Throttle.RequestsPerSec > 0 {
		s.throttle = newClientThrottle(d.Throttle.RequestsPerSec, d.Throttle.Burst)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.throttle != nil {
			r.Use(s.throttle.middleware)
		}
		r.Use(s.gate.Middleware)

		r.Get("/types", s.guard(auth.ActionRead, s.handleListTypes))
		r.Get("/summary", s.guard(auth.ActionRead, s.handleSummary))

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.guard(auth.ActionRead, s.handleListInstances))
			r.Post("/", s.guard(auth.ActionCreate, s.handleCreateInstance))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.guard(auth.ActionRead, s.handleGetInstance))
				r.Delete("/", s.guard(auth.ActionDelete, s.handleDeleteInstance))
				r.Post("/start", s.guard(auth.ActionStart, s.handleStart))
				r.Put("/active", s.guard(auth.ActionToggle, s.handleSetActive))
				r.Get("/results", s.guard(auth.ActionRead, s.handleListResults))
				r.Get("/executions", s.guard(auth.ActionRead, s.handleListExecutions))
			})
		})

		r.Route("/executions", func(r chi.Router) {
			r.Post("/correct-all", s.guard(auth.ActionAudit, s.handleCorrectAll))
			r.Get("/{id}/verify", s.guard(auth.ActionRead, s.handleVerify))
			r.Post("/{id}/correct", s.guard(auth.ActionAudit, s.handleCorrect))
		})

		if s.hub != nil {
			r.Get("/events", s.guard(auth.ActionRead, notify.StreamHandler(s.hub, s.origins)))
		}
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	return s.origins
}

// guard rejects callers the gate does not allow to perform action.
func (s *Server) guard(action auth.Action, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.CallerFromContext(r.Context())
		if !s.gate.IsAllowed(caller, action) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: string(action)})
			return
		}
		h(w, r)
	}
}
