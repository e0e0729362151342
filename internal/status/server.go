// Package status serves the engine's health and last-pass state over HTTP.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-alerts/internal/engine"
	"market-alerts/internal/resilience"
)

// Source exposes the scheduler state shown on /status.
type Source interface {
	LastReport() (engine.PassReport, bool)
	LinkStatus() engine.LinkStatus
}

// Server is the status HTTP server.
type Server struct {
	router   *gin.Engine
	listen   string
	health   *resilience.HealthMonitor
	source   Source
	breakers func() []resilience.CircuitBreakerStats
	logger   zerolog.Logger
}

// NewServer creates a Server. breakers may be nil.
func NewServer(listen string, health *resilience.HealthMonitor, source Source, breakers func() []resilience.CircuitBreakerStats, logger zerolog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	s := &Server{
		router:   router,
		listen:   listen,
		health:   health,
		source:   source,
		breakers: breakers,
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.HEAD("/healthz", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", ln.Addr().String()).Msg("Status server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	report := s.health.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == resilience.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	if c.Request.Method == http.MethodHead {
		c.Status(code)
		return
	}
	c.JSON(code, report)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	body := gin.H{
		"linking": s.source.LinkStatus(),
	}
	if report, ok := s.source.LastReport(); ok {
		body["alert_pass"] = report
	} else {
		body["alert_pass"] = nil
	}
	if s.breakers != nil {
		body["breakers"] = s.breakers()
	}
	c.JSON(http.StatusOK, body)
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Status request")
	}
}
