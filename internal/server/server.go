// Package server exposes the orchestration service over HTTP: JSON for
// batch runs and server-sent events for streams.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-orchestrator/internal/policy"
	"github.com/tjfontaine/polyglot-orchestrator/internal/service"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 4 << 20

// Lister returns sorted names, such as model prefixes or pipeline ids.
type Lister func() []string

// Options wires the server to the orchestration components.
type Options struct {
	Service *service.Service
	Policy  *policy.Resolver

	// ModelPrefixes and Pipelines feed the discovery endpoints. Both are
	// optional.
	ModelPrefixes Lister
	Pipelines     Lister

	Logger *slog.Logger
}

type Server struct {
	Router *chi.Mux

	svc       *service.Service
	policy    *policy.Resolver
	prefixes  Lister
	pipelines Lister
	logger    *slog.Logger
}

// New builds the router:
//
//	POST /v1/pipelines/{id}/run     JSON request, JSON response
//	POST /v1/pipelines/{id}/stream  JSON request, text/event-stream response
//	GET  /v1/pipelines
//	GET  /v1/models
//	GET  /health
func New(opts Options) *Server {
	s := &Server{
		svc:       opts.Service,
		policy:    opts.Policy,
		prefixes:  opts.ModelPrefixes,
		pipelines: opts.Pipelines,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.policy == nil {
		s.policy = policy.NewResolver(nil, "")
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "orchestrator")
	})

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Get("/pipelines", s.handlePipelines)
		r.Post("/pipelines/{id}/run", s.handleRun)
		r.Post("/pipelines/{id}/stream", s.handleStream)
	})

	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
