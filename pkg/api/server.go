// Package api is the HTTP gateway: task intake, SSE streaming, health and
// model management endpoints.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/events"
	"github.com/forgeline/forgeline/pkg/lifecycle"
	"github.com/forgeline/forgeline/pkg/llm"
	"github.com/forgeline/forgeline/pkg/metrics"
	"github.com/forgeline/forgeline/pkg/orchestrator"
	"github.com/forgeline/forgeline/pkg/registry"
)

// taskRunner is the orchestrator surface the gateway drives.
type taskRunner interface {
	Execute(ctx context.Context, t orchestrator.Task)
	CancelSession(sessionID string) bool
	Running() int
}

// Server wires the HTTP routes to the core services.
type Server struct {
	cfg       *config.Config
	pool      *llm.Pool
	client    *llm.Client
	reg       *registry.Registry
	orch      taskRunner
	store     *events.Store
	collector *metrics.Collector
	tracker   *lifecycle.Tracker
}

func NewServer(
	cfg *config.Config,
	pool *llm.Pool,
	client *llm.Client,
	reg *registry.Registry,
	orch taskRunner,
	store *events.Store,
	collector *metrics.Collector,
	tracker *lifecycle.Tracker,
) *Server {
	return &Server{
		cfg:       cfg,
		pool:      pool,
		client:    client,
		reg:       reg,
		orch:      orch,
		store:     store,
		collector: collector,
		tracker:   tracker,
	}
}

// Handler builds the gin engine with all routes mounted.
func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestTracker(s.tracker))

	r.GET("/health", s.healthHandler)
	r.POST("/tasks", s.createTaskHandler)
	r.GET("/stream", s.streamHandler)
	r.GET("/models", s.listModelsHandler)
	r.POST("/models/refresh", s.refreshModelsHandler)
	r.POST("/metrics/benchmark", s.benchmarkHandler)
	r.GET("/sessions", s.listSessionsHandler)
	r.GET("/sessions/:id/events", s.sessionEventsHandler)
	r.GET("/sessions/:id/events/:eventID", s.sessionEventHandler)
	r.POST("/sessions/:id/cancel", s.cancelSessionHandler)

	return r
}
