// Package api wires the Control-Plane Contract onto the HTTP routes fixed
// by spec §6. Grounded on the teacher's internal/api/routes.go: the same
// chi.Mux + middleware stack + route-group shape, re-targeted from the
// task-queue's /api/v1/tasks and /admin surface onto the orchestration
// engine's /api/tasks, /api/task-groups, /api/namespaces, /api/runners and
// /api/health routes, plus a /ws trace-tail stream in place of the
// teacher's generic event hub.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskorch/engine/internal/api/handlers"
	apimw "github.com/taskorch/engine/internal/api/middleware"
	"github.com/taskorch/engine/internal/api/websocket"
	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/controlplane"
)

// Server is the control-plane HTTP server.
type Server struct {
	router        *chi.Mux
	cfg           *config.Config
	taskHandler   *handlers.TaskHandler
	systemHandler *handlers.SystemHandler
	wsHub         *websocket.Hub
	wsHandler     *websocket.Handler
}

// NewServer builds a Server wired to cp. The returned Server's wsHub is
// also the scheduler.TracePublisher a caller should pass to
// Scheduler.SetTracePublisher, so live trace events reach the /ws stream.
func NewServer(cfg *config.Config, cp *controlplane.ControlPlane) *Server {
	wsHub := websocket.NewHub()

	s := &Server{
		router:        chi.NewRouter(),
		cfg:           cfg,
		taskHandler:   handlers.NewTaskHandler(cp, cfg.Namespace.Default),
		systemHandler: handlers.NewSystemHandler(cp, cfg.Namespace.Default),
		wsHub:         wsHub,
		wsHandler:     websocket.NewHandler(wsHub),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(apimw.RequestLogger())
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Heartbeat("/ping"))
}

func (s *Server) setupRoutes() {
	authCfg := &apimw.AuthConfig{
		Enabled:   s.cfg.Auth.Enabled,
		JWTSecret: s.cfg.Auth.JWTSecret,
		APIKeys:   apiKeySet(s.cfg.Auth.APIKeys),
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))
		r.Use(apimw.Auth(authCfg))
		r.Use(apimw.ClientRateLimit(100))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Patch("/{taskID}/status", s.taskHandler.UpdateStatus)
			r.Post("/{taskID}/reply", s.taskHandler.Reply)
			r.Get("/{taskID}/trace", s.taskHandler.Trace)
		})

		r.Route("/task-groups", func(r chi.Router) {
			r.Post("/", s.taskHandler.CreateGroup)
			r.Get("/", s.taskHandler.ListGroups)
			r.Get("/{groupID}/tasks", s.taskHandler.ListGroupTasks)
		})

		r.Get("/namespaces", s.systemHandler.ListNamespaces)
		r.Get("/runners", s.systemHandler.ListRunners)
		r.Get("/health", s.systemHandler.Health)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}
}

func apiKeySet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// Hub returns the WebSocket hub, for wiring into Scheduler.SetTracePublisher.
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

// Start begins the WebSocket hub's broadcast loop.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop halts the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router, e.g. for http.ListenAndServe.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
