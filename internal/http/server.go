// Package http provides the HTTP API for coachd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/chat"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/monitor"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/workflows"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Services are the components the API exposes. Monitor is optional.
type Services struct {
	Onboarding   *workflows.Onboarding
	DailyCheck   *workflows.DailyCheck
	Intervention *workflows.Intervention
	Resolution   *workflows.Resolution
	Chat         *chat.Service
	Monitor      *monitor.Monitor
	Profiles     profile.Store
}

func (s Services) validate() error {
	switch {
	case s.Onboarding == nil, s.DailyCheck == nil, s.Intervention == nil, s.Resolution == nil:
		return errors.New("all workflows are required")
	case s.Chat == nil:
		return errors.New("chat service is required")
	case s.Profiles == nil:
		return errors.New("profile store is required")
	}
	return nil
}

// Server provides HTTP endpoints for coachd.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *logging.Logger
	config   *Config
	gatherer prometheus.Gatherer
	meter    metric.MeterProvider
	metrics  *httpMetrics
	now      func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// Backends names the configured backends for the status endpoint, such
	// as {"llm": "groq", "retrieval": "chromem"}.
	Backends map[string]string
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves /metrics from g instead of the default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMeterProvider records HTTP metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Server) { s.meter = mp }
}

// WithClock overrides time.Now for request defaults such as the check-in day.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new HTTP server.
func NewServer(services Services, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if err := services.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		services: services,
		logger:   logger,
		config:   cfg,
		gatherer: prometheus.DefaultGatherer,
		meter:    otel.GetMeterProvider(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newHTTPMetrics(s.meter.Meter(httpInstrumentationName), logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.middleware)
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger carries the logger and request ID on the request context
// and logs every request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(logging.WithLogger(req.Context(), s.logger), requestID)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.POST("/onboarding", s.handleOnboarding)
	v1.POST("/daily-check", s.handleDailyCheck)
	v1.POST("/intervention", s.handleIntervention)
	v1.POST("/resolution/review", s.handleResolutionReview)

	v1.GET("/users/:user_id/profile", s.handleGetProfile)
	v1.PUT("/users/:user_id/profile", s.handlePutProfile)
	v1.GET("/users/:user_id/plans", s.handlePlans)

	v1.POST("/chat/send", s.handleChatSend)
	v1.GET("/chat/history", s.handleChatHistory)
	v1.DELETE("/chat/history", s.handleChatClear)

	if s.services.Monitor != nil {
		v1.POST("/monitor/sweep", s.handleSweep)
	}
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
