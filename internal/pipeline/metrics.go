package pipeline

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/fyrsmithlabs/coachd/internal/pipeline"

type instruments struct {
	runs         metric.Int64Counter
	stepFailures metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// newInstruments builds the pipeline instruments. An instrument that cannot
// be created is replaced by a no-op so metrics never block a run.
func newInstruments(meter metric.Meter) instruments {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	runs, err := meter.Int64Counter("coachd.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		runs, _ = fallback.Int64Counter("coachd.pipeline.runs")
	}

	failures, err := meter.Int64Counter("coachd.pipeline.step.failures",
		metric.WithDescription("Failed pipeline steps"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		failures, _ = fallback.Int64Counter("coachd.pipeline.step.failures")
	}

	duration, err := meter.Float64Histogram("coachd.pipeline.step.duration",
		metric.WithDescription("Duration of pipeline steps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		duration, _ = fallback.Float64Histogram("coachd.pipeline.step.duration")
	}

	return instruments{runs: runs, stepFailures: failures, stepDuration: duration}
}
