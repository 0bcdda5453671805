// Package api serves the Heron HTTP API.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/heron/internal/domain"
)

// Server owns the router and the http.Server listening on Host:Port.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
}

// NewServer creates a new API server. metricsPath is where the Prometheus
// registry is served when Deps.Metrics is set.
func NewServer(cfg domain.ServerConfig, deps Deps, metricsPath string) *Server {
	handler := NewHandler(deps)
	logger := handler.logger
	router := chi.NewRouter()

	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware(logger))
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware)
	}
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Method(http.MethodGet, metricsPath, deps.Metrics.Handler())
	}

	router.Route("/customers", func(r chi.Router) {
		r.Post("/", handler.CreateCustomer)
		r.Get("/{id}", handler.GetCustomer)
		r.Get("/{id}/risk", handler.CustomerRisk)
		r.Get("/{id}/transactions", handler.CustomerTransactions)
		r.Get("/{id}/alerts", handler.CustomerAlerts)
	})

	router.Route("/transactions", func(r chi.Router) {
		r.Post("/", handler.CreateTransaction)
		r.Post("/batch", handler.MonitorBatch)
		r.Get("/{id}", handler.GetTransaction)
		r.Post("/{id}/monitor", handler.MonitorTransaction)
		r.Get("/{id}/result", handler.GetResult)
	})

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", handler.ListAlerts)
		r.Get("/open", handler.OpenAlerts)
		r.Get("/statistics", handler.AlertStatistics)
		r.Get("/{id}", handler.GetAlert)
		r.Post("/{id}/review", handler.ReviewAlert)
	})

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/reload", handler.ReloadRules)
		r.Get("/{id}", handler.GetRule)
	})

	return &Server{
		router:  router,
		handler: handler,
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Start blocks serving requests. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Router exposes the routes to httptest.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the request handlers behind the router, so callers can
// adjust them (for example with SetClock) after construction.
func (s *Server) Handler() *Handler {
	return s.handler
}
