// Package server is the ops HTTP server: health probes and Prometheus metrics
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/sprout/pkg/health"
)

// Server wraps the echo instance
type Server struct {
	echo    *echo.Echo
	port    int
	logger  ectologger.Logger
	checker *health.Checker
}

// New creates the ops server. Requests are traced under serviceName.
func New(serviceName string, port int, checker *health.Checker, logger ectologger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(otelecho.Middleware(serviceName))
	e.Use(RequestContext())
	e.Use(RequestLogger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{
		echo:    e,
		port:    port,
		logger:  logger,
		checker: checker,
	}
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.echo
}

// GetName implements startup.Dependency
func (s *Server) GetName() string { return "ops-server" }

// DependsOn implements startup.Dependency
func (s *Server) DependsOn() []string { return nil }

// Start listens in the background
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithContext(ctx).WithError(err).Error("Ops server stopped")
		}
	}()
	s.logger.WithContext(ctx).Infof("Ops server listening on %s", addr)
	return nil
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.checker.SetReady(false)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
