// Package server exposes the analytics pipeline over HTTP: a query
// endpoint with optional SSE progress streaming, conversation CRUD,
// health, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insightgrid/insightgrid/ai"
	"github.com/insightgrid/insightgrid/ai/analytics"
	"github.com/insightgrid/insightgrid/ai/queryengine"
	"github.com/insightgrid/insightgrid/internal/profile"
	"github.com/insightgrid/insightgrid/store"
)

// Server is the HTTP front of the analytics service.
type Server struct {
	e        *echo.Echo
	profile  *profile.Profile
	store    *store.Store
	pipeline *analytics.Pipeline
	registry *prometheus.Registry
}

// NewServer wires the pipeline and routes.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store, engine queryengine.Engine) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipeline, err := ai.BuildPipeline(ai.NewConfigFromProfile(p), engine, nil, registry)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	s := &Server{
		e:        e,
		profile:  p,
		store:    st,
		pipeline: pipeline,
		registry: registry,
	}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := e.Group("/api/v1")
	api.POST("/query", s.handleQuery)
	api.POST("/conversations", s.handleCreateConversation)
	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:uid/messages", s.handleListMessages)
	api.GET("/profiles/:user_id", s.handleGetProfile)
	api.PUT("/profiles/:user_id/fields", s.handleSetProfileField)

	return s, nil
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("server: listening", "addr", addr, "mode", s.profile.Mode, "version", s.profile.Version)
	return s.e.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(ctx); err != nil {
		slog.Error("server: shutdown failed", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("server: store close failed", "error", err)
	}
	slog.Info("server: stopped")
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.profile.Version,
	})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http: request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds())
			return nil
		},
	})
}
