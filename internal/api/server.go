// Package api implements the API Gateway (§4.9): an echo-based REST and
// WebSocket surface over the Monitor Service and AI Service, grounded on
// the teacher's echo-based router package (server/router/api/v1) but
// rebuilt as plain REST+JSON/WS instead of the teacher's gRPC-gateway
// stack, which has no equivalent in this spec's external contract (§6).
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/relaywatch/internal/aiservice"
	"github.com/hrygo/relaywatch/internal/config"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/metrics"
	"github.com/hrygo/relaywatch/internal/monitor"
	"github.com/hrygo/relaywatch/internal/provider"
	"github.com/hrygo/relaywatch/internal/rss"
	"github.com/hrygo/relaywatch/internal/store"
)

// Server wires the Monitor Service and AI Service behind echo's router.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config
	log  *logging.Logger

	monitorSvc *monitor.Service
	aiSvc      *aiservice.Service
	rssSvc     rss.Service
	store      *store.Store
	registry   *provider.Registry
	metrics    *metrics.Exporter

	hub *wsHub
}

// New builds the Server and registers every route in §6. rssSvc may be
// nil, in which case rss.Stub is used and the RSS routes report the
// collaborator as not configured (contracts-only collaborator, §1).
// metricsExporter may be nil when §4.1's
// MetricsEnabled is false, in which case /metrics is not mounted.
func New(cfg *config.Config, log *logging.Logger, monitorSvc *monitor.Service, aiSvc *aiservice.Service, rssSvc rss.Service, st *store.Store, registry *provider.Registry, metricsExporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if rssSvc == nil {
		rssSvc = rss.Stub{}
	}
	s := &Server{echo: e, cfg: cfg, log: log.With("component", "api"), monitorSvc: monitorSvc, aiSvc: aiSvc, rssSvc: rssSvc, store: st, registry: registry, metrics: metricsExporter, hub: newWSHub()}

	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(s.requestLogger)
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/health", s.handleHealth)
	if metricsExporter != nil {
		e.GET("/metrics", echo.WrapHandler(metricsExporter.Handler()))
	}

	authed := e.Group("/api", s.authenticate)
	registerAIRoutes(authed, s)
	registerMonitorRoutes(authed, s)
	registerRSSRoutes(authed, s)
	authed.GET("/status", s.handleStatus)

	e.GET("/ws/monitor", s.handleWSMonitor)

	return s
}

// Start runs the HTTP server in the foreground; callers typically
// invoke it in a goroutine and select on ctx.Done() to stop.
func (s *Server) Start() error {
	addr := ":" + strconv.Itoa(s.cfg.Port)
	return s.echo.Start(addr)
}

// Shutdown closes every open WS connection with close code 1001, then
// drains in-flight requests and stops the echo server within a 10s
// timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
