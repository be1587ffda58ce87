// Package api is the HTTP surface of a kubeminder process: health and
// metrics for operators and orchestrators, plus the approval command API
// when the collaborator runs in this process. The pipeline itself never
// depends on HTTP; everything here is read-and-command on top of it.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/planner"
	"github.com/kubeminder/kubeminder/pkg/store"
)

// Approvals is the collaborator surface the command API drives.
type Approvals interface {
	Approve(ctx context.Context, planID, approvedBy string) (*models.Plan, error)
	Reject(ctx context.Context, planID, reason string) error
	Pending() []*models.Plan
}

// PlanReader serves plan lookups from the record store.
type PlanReader interface {
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)
	ListByIncident(ctx context.Context, incidentID string, status models.PlanStatus) ([]*models.Plan, error)
}

// BusHealth reports broker connectivity.
type BusHealth interface {
	Healthy() bool
}

// StoreHealth pings the record store.
type StoreHealth interface {
	Health(ctx context.Context) store.HealthStatus
}

// QuotaReporter snapshots planner LLM quota usage.
type QuotaReporter interface {
	Quota() planner.QuotaStatus
}

// Server hosts the HTTP endpoints. Any dependency may be nil: a process
// running only the actor still serves /health and /metrics, and the
// approval routes answer 503 until a collaborator is wired in.
type Server struct {
	cfg     *config.ServerConfig
	engine  *gin.Engine
	srv     *http.Server
	metrics *metrics.Metrics

	approvals Approvals
	plans     PlanReader
	bus       BusHealth
	store     StoreHealth
	quota     QuotaReporter
}

// NewServer builds the router and the underlying HTTP server.
func NewServer(cfg *config.ServerConfig, approvals Approvals, plans PlanReader, busHealth BusHealth, storeHealth StoreHealth, quota QuotaReporter, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		engine:    engine,
		metrics:   m,
		approvals: approvals,
		plans:     plans,
		bus:       busHealth,
		store:     storeHealth,
		quota:     quota,
	}
	s.routes()

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.healthHandler)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.engine.Group("/api")
	api.GET("/plans/pending", s.pendingPlansHandler)
	api.GET("/plans/:id", s.getPlanHandler)
	api.POST("/plans/:id/approve", s.approvePlanHandler)
	api.POST("/plans/:id/reject", s.rejectPlanHandler)
	api.GET("/incidents/:id/plans", s.incidentPlansHandler)
}

// Start serves until the listener closes. Callers run this in a goroutine
// and treat http.ErrServerClosed as a clean exit.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
