package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultStepTimeout bounds a step that sets no Timeout of its own.
const DefaultStepTimeout = 30 * time.Second

// Step is one named transformation of S.
type Step[S any] struct {
	Name string
	// Timeout overrides the pipeline's step timeout when positive.
	Timeout time.Duration
	Run     func(ctx context.Context, s S) (S, error)
}

// Requirement names a seed field the initial state must carry.
type Requirement[S any] struct {
	Field   string
	Present func(S) bool
}

type settings struct {
	tracer   trace.Tracer
	meter    metric.Meter
	logger   *logging.Logger
	timeout  time.Duration
	progress ProgressFunc
}

// Option configures a Pipeline.
type Option func(*settings)

// WithTelemetry takes the tracer and meter from t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *settings) {
		s.tracer = t.Tracer(instrumentationName)
		s.meter = t.Meter(instrumentationName)
	}
}

// WithLogger sets the logger. Without it the logger in the run's context is used.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithStepTimeout sets the default step timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *settings) { s.progress = fn }
}

// Pipeline runs its steps strictly in declaration order.
type Pipeline[S State[S]] struct {
	name         string
	steps        []Step[S]
	requirements []Requirement[S]
	cfg          settings
	inst         instruments
}

// New builds a pipeline.
func New[S State[S]](name string, steps []Step[S], opts ...Option) *Pipeline[S] {
	cfg := settings{
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
		timeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline[S]{
		name:  name,
		steps: steps,
		cfg:   cfg,
		inst:  newInstruments(cfg.meter),
	}
}

// Require adds a seed field check run before the first step.
func (p *Pipeline[S]) Require(field string, present func(S) bool) *Pipeline[S] {
	p.requirements = append(p.requirements, Requirement[S]{Field: field, Present: present})
	return p
}

// Name returns the pipeline name.
func (p *Pipeline[S]) Name() string { return p.name }

// Steps returns the step names in order.
func (p *Pipeline[S]) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

func (p *Pipeline[S]) logger(ctx context.Context) *logging.Logger {
	if p.cfg.logger != nil {
		return p.cfg.logger
	}
	return logging.FromContext(ctx)
}

// Run executes every step and returns the final state with a report. It
// never returns an error: failures are appended to the state's error list.
func (p *Pipeline[S]) Run(ctx context.Context, initial S) (S, *Report) {
	runID := uuid.NewString()
	ctx = logging.WithRun(ctx, p.name, runID)
	if uid := initial.User(); uid != "" {
		ctx = logging.WithUserID(ctx, uid)
	}

	ctx, span := p.cfg.tracer.Start(ctx, "pipeline."+p.name, trace.WithAttributes(
		attribute.String("pipeline", p.name),
		attribute.String("run.id", runID),
		attribute.String("user.id", initial.User()),
	))
	defer span.End()

	log := p.logger(ctx)
	report := newReport(p.name, runID, p.steps)
	defer func() { report.CompletedAt = time.Now().UTC() }()

	state := initial
	for _, req := range p.requirements {
		if req.Present(state) {
			continue
		}
		err := &MissingFieldError{Pipeline: p.name, Field: req.Field}
		report.Rejected = err
		for i := range report.Steps {
			report.Steps[i].Status = StatusSkipped
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn(ctx, "pipeline rejected", zap.String("field", req.Field))
		p.inst.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pipeline", p.name), attribute.String("outcome", "rejected")))
		return state.AppendError(err.Error()), report
	}

	log.Debug(ctx, "pipeline started", zap.Int("steps", len(p.steps)))

	halted := false
	for i, step := range p.steps {
		switch {
		case halted:
			report.Steps[i].Status = StatusSkipped
			p.notify(runID, i, step.Name, StatusSkipped, "")
			continue
		case ctx.Err() != nil:
			cause := context.Cause(ctx)
			state = state.AppendError(Diagnostic(step.Name, cause))
			report.Steps[i].Status = StatusFailed
			report.Steps[i].Error = cause.Error()
			p.notify(runID, i, step.Name, StatusFailed, cause.Error())
			continue
		}

		var err error
		state, err = p.runStep(ctx, i, step, state, report)
		if err != nil && isCritical(err) {
			halted = true
		}
	}

	outcome := "completed"
	if len(report.Failed()) > 0 {
		outcome = "degraded"
		span.SetStatus(codes.Error, fmt.Sprintf("%d step(s) failed", len(report.Failed())))
	}
	p.inst.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", p.name), attribute.String("outcome", outcome)))
	log.Debug(ctx, "pipeline finished",
		zap.String("outcome", outcome),
		zap.Int("errors", len(state.ErrorList())))
	return state, report
}

type stepOutcome[S any] struct {
	state S
	err   error
}

// runStep executes one step under its timeout. On failure it returns the
// pre-step state with the diagnostic appended, plus the error.
func (p *Pipeline[S]) runStep(ctx context.Context, i int, step Step[S], state S, report *Report) (S, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = p.cfg.timeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepCtx, span := p.cfg.tracer.Start(stepCtx, "step."+step.Name, trace.WithAttributes(
		attribute.String("pipeline", p.name),
		attribute.String("step", step.Name),
		attribute.String("user.id", state.User()),
	))
	defer span.End()

	log := p.logger(ctx)
	result := &report.Steps[i]
	result.StartedAt = time.Now().UTC()
	result.Status = StatusInProgress
	p.notify(report.RunID, i, step.Name, StatusInProgress, "")
	log.Debug(stepCtx, "step started", zap.String("step", step.Name))

	next, err := execute(stepCtx, step, state)
	result.Duration = time.Since(result.StartedAt)

	status := StatusCompleted
	switch {
	case err == nil:
		state = next
	case errors.Is(err, ErrSkip):
		status = StatusSkipped
		err = nil
	default:
		status = StatusFailed
		result.Error = err.Error()
		state = state.AppendError(Diagnostic(step.Name, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.inst.stepFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pipeline", p.name), attribute.String("step", step.Name)))
		log.Warn(stepCtx, "step failed",
			zap.String("step", step.Name),
			zap.Duration("duration", result.Duration),
			zap.Error(err))
	}

	result.Status = status
	p.inst.stepDuration.Record(ctx, result.Duration.Seconds(), metric.WithAttributes(
		attribute.String("pipeline", p.name),
		attribute.String("step", step.Name),
		attribute.String("status", string(status)),
	))
	span.SetAttributes(attribute.String("status", string(status)))
	p.notify(report.RunID, i, step.Name, status, result.Error)
	if status != StatusFailed {
		log.Debug(stepCtx, "step finished", zap.String("step", step.Name), zap.String("status", string(status)))
	}
	return state, err
}

// execute runs the step on its own goroutine so a step that ignores its
// context still yields at the deadline. A panic becomes an error.
func execute[S any](ctx context.Context, step Step[S], state S) (S, error) {
	done := make(chan stepOutcome[S], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero S
				done <- stepOutcome[S]{state: zero, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		next, err := step.Run(ctx, state)
		done <- stepOutcome[S]{state: next, err: err}
	}()

	select {
	case out := <-done:
		return out.state, out.err
	case <-ctx.Done():
		var zero S
		return zero, context.Cause(ctx)
	}
}

func (p *Pipeline[S]) notify(runID string, i int, step string, status StepStatus, errText string) {
	if p.cfg.progress == nil {
		return
	}
	p.cfg.progress(Progress{
		Pipeline: p.name,
		RunID:    runID,
		Step:     step,
		Index:    i,
		Total:    len(p.steps),
		Status:   status,
		Error:    errText,
	})
}
