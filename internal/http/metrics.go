package http

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/coachd/internal/http"

// httpMetrics records request and workflow-run metrics. An instrument that
// failed to register stays nil and is skipped.
type httpMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	active   metric.Int64UpDownCounter
	runs     metric.Int64Counter
}

func newHTTPMetrics(meter metric.Meter, logger *logging.Logger) *httpMetrics {
	ctx := context.Background()
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(ctx, "failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &httpMetrics{}
	var err error

	m.requests, err = meter.Int64Counter("coachd.http.requests_total",
		metric.WithDescription("HTTP requests by method, route template and status code."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	// Workflow requests wait on several model calls, hence the long tail.
	m.duration, err = meter.Float64Histogram("coachd.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route template and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	warn("request_duration_seconds", err)

	m.size, err = meter.Int64Histogram("coachd.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route template and status code."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 20000, 100000))
	warn("response_size_bytes", err)

	m.active, err = meter.Int64UpDownCounter("coachd.http.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.runs, err = meter.Int64Counter("coachd.http.workflow_runs_total",
		metric.WithDescription("Workflow runs started over HTTP by pipeline and outcome (completed, degraded, rejected)."),
		metric.WithUnit("{run}"))
	warn("workflow_runs_total", err)

	return m
}

// middleware records one data point per request. The endpoint label is the
// route template, so /api/v1/users/u1/plans counts as
// /api/v1/users/:user_id/plans.
func (m *httpMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		if m.active != nil {
			m.active.Add(ctx, 1)
		}

		err := next(c)

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("endpoint", routeLabel(c.Path())),
			attribute.Int("status", c.Response().Status),
		)
		if m.requests != nil {
			m.requests.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if m.size != nil {
			m.size.Record(ctx, c.Response().Size, attrs)
		}
		if m.active != nil {
			m.active.Add(ctx, -1)
		}
		return err
	}
}

func (m *httpMetrics) recordRun(ctx context.Context, pipeline, status string) {
	if m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("status", status),
	))
}

// routeLabel names requests that matched no route.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
