// Package httpapi is the thin HTTP adapter of spec §6: a chi router mapping
// the inbound control surface onto REST endpoints, plus an SSE stream
// fanning out the in-process bus. The core never imports this package —
// it exists to demonstrate transport pluggability and wires the HTTP-stack
// dependencies (chi, cors, validator).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opsdeck/foreman/internal/brief"
	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/metrics"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/orchestrator"
)

// Server hosts the REST + SSE surface over an Orchestrator, Brief Manager,
// and Lineage Service.
type Server struct {
	router        chi.Router
	log           *zap.SugaredLogger
	orch          *orchestrator.Orchestrator
	briefs        *brief.Manager
	lineage       *lineage.Service
	bus           *bus.Bus
	metrics       *metrics.Registry
	validate      *validator.Validate
	workspaceRoot string
}

// New builds a Server and its router. workspaceRoot is the same root the
// Scheduler's Agent Executor writes into — artifact streaming resolves
// through it so containment is enforced identically on read and write.
func New(log *zap.SugaredLogger, orch *orchestrator.Orchestrator, briefs *brief.Manager, lin *lineage.Service, b *bus.Bus, m *metrics.Registry, workspaceRoot string) *Server {
	s := &Server{
		log:           log,
		orch:          orch,
		briefs:        briefs,
		lineage:       lin,
		bus:           b,
		metrics:       m,
		validate:      validator.New(),
		workspaceRoot: workspaceRoot,
	}
	s.router = s.routes()
	return s
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.logRequest)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/directives", func(r chi.Router) {
		r.Post("/", s.handleAnalyzeDirective)
	})

	r.Route("/briefs", func(r chi.Router) {
		r.Route("/{briefID}", func(r chi.Router) {
			r.Get("/", s.handleGetBrief)
			r.Post("/respond", s.handleRespondBrief)
			r.Post("/finalize", s.handleFinalizeBrief)
		})
	})

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkflow)
		r.Get("/", s.handleListWorkflows)
		r.Route("/{workflowID}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkflow)
			r.Post("/cancel", s.handleCancelWorkflow)
			r.Post("/approval", s.handleRecordApprovalDecision)
			r.Post("/emergency-unblock", s.handleEmergencyUnblock)
		})
	})

	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/", s.handleSearchArtifacts)
		r.Route("/{artifactID}", func(r chi.Router) {
			r.Get("/", s.handleGetArtifact)
			r.Get("/content", s.handleStreamArtifact)
		})
	})

	r.Get("/events", s.handleSSE)

	return r
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.log.Infow("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "time": time.Now().UTC().Format(time.RFC3339)})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Infow("starting HTTP API", "addr", addr)
	return srv.ListenAndServe()
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func httpStatusFor(err error) int {
	me, ok := err.(*model.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch me.Kind {
	case model.InvalidInput, model.InvalidPlan, model.WorkspaceViolation:
		return http.StatusBadRequest
	case model.Unresolved, model.ApprovalBlocked:
		return http.StatusConflict
	case model.DependencyCycle:
		return http.StatusUnprocessableEntity
	case model.Timeout:
		return http.StatusGatewayTimeout
	case model.PersistenceTransient, model.PersistenceTerminal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
