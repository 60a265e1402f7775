// Package monitor finds resolutions at risk of abandonment and runs the
// intervention workflow for each of them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/events"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/workflows"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults match the monitor section of the default config.
const (
	DefaultAdherenceThreshold   = 0.6
	DefaultAbandonmentThreshold = 0.7
	DefaultConcurrency          = 4
	DefaultCooldown             = 24 * time.Hour
)

// ErrNoPlan is recorded when an intervention run finished without a plan.
var ErrNoPlan = errors.New("intervention produced no plan")

// Runner runs the intervention workflow.
type Runner interface {
	Run(ctx context.Context, initial workflows.InterventionState) (workflows.InterventionState, *pipeline.Report)
}

// Outcome is what happened for one at-risk resolution.
type Outcome struct {
	UserID       string  `json:"user_id"`
	ResolutionID string  `json:"resolution_id"`
	Result       string  `json:"result"`
	Before       float64 `json:"abandonment_before"`
	After        float64 `json:"abandonment_after"`
	Actions      int     `json:"autonomous_actions"`
	Err          error   `json:"-"`
}

// Summary describes one sweep.
type Summary struct {
	AtRisk   int           `json:"at_risk"`
	Applied  int           `json:"applied"`
	Degraded int           `json:"degraded"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Outcomes []Outcome     `json:"outcomes"`
}

// Monitor sweeps for at-risk resolutions.
type Monitor struct {
	runner      Runner
	profiles    profile.Store
	events      events.Publisher
	adherence   float64
	abandonment float64
	concurrency int
	cooldown    time.Duration
	now         func() time.Time
	reg         prometheus.Registerer
	metrics     *metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithConfig applies the thresholds and concurrency from cfg.
func WithConfig(cfg config.MonitorConfig) Option {
	return func(m *Monitor) {
		if cfg.AdherenceThreshold > 0 {
			m.adherence = cfg.AdherenceThreshold
		}
		if cfg.AbandonmentThreshold > 0 {
			m.abandonment = cfg.AbandonmentThreshold
		}
		if cfg.Concurrency > 0 {
			m.concurrency = cfg.Concurrency
		}
	}
}

// WithConcurrency caps the interventions running at once.
func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithCooldown sets how long after an intervention a resolution is left
// alone. Zero disables the cooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Monitor) { m.cooldown = d }
}

// WithEvents sets the publisher for intervention events.
func WithEvents(p events.Publisher) Option {
	return func(m *Monitor) { m.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRegisterer registers the monitor's metrics on reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) { m.reg = reg }
}

// New returns a Monitor. Monitors on the default registerer share one set of
// collectors.
func New(runner Runner, profiles profile.Store, opts ...Option) *Monitor {
	m := &Monitor{
		runner:      runner,
		profiles:    profiles,
		events:      events.Nop{},
		adherence:   DefaultAdherenceThreshold,
		abandonment: DefaultAbandonmentThreshold,
		concurrency: DefaultConcurrency,
		cooldown:    DefaultCooldown,
		now:         time.Now,
		reg:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = metricsFor(m.reg)
	return m
}

// Thresholds returns the adherence and abandonment limits used to pick
// at-risk resolutions.
func (m *Monitor) Thresholds() (adherence, abandonment float64) {
	return m.adherence, m.abandonment
}

// Sweep runs one intervention per at-risk resolution. Only a failure to
// list resolutions is returned; per-user failures are reported in the
// summary.
func (m *Monitor) Sweep(ctx context.Context) (Summary, error) {
	start := m.now()
	log := logging.FromContext(ctx)

	atRisk, err := m.profiles.AtRiskResolutions(ctx, m.adherence, m.abandonment)
	if err != nil {
		return Summary{}, fmt.Errorf("list at-risk resolutions: %w", err)
	}
	m.metrics.atRisk.Set(float64(len(atRisk)))

	outcomes := make([]Outcome, len(atRisk))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i := range atRisk {
		r := atRisk[i]
		g.Go(func() error {
			outcomes[i] = m.intervene(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{AtRisk: len(atRisk), Outcomes: outcomes}
	for _, o := range outcomes {
		m.metrics.interventions.WithLabelValues(o.Result).Inc()
		switch o.Result {
		case ResultApplied:
			sum.Applied++
		case ResultDegraded:
			sum.Degraded++
		case ResultSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	sum.Duration = m.now().Sub(start)
	m.metrics.sweeps.Inc()

	log.Info(ctx, "monitor sweep finished",
		zap.Int("at_risk", sum.AtRisk),
		zap.Int("applied", sum.Applied),
		zap.Int("degraded", sum.Degraded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

func (m *Monitor) intervene(ctx context.Context, r profile.Resolution) Outcome {
	ctx = logging.WithUserID(ctx, r.UserID)
	log := logging.FromContext(ctx)
	out := Outcome{UserID: r.UserID, ResolutionID: r.ID, Before: r.AbandonmentProbability}

	now := m.now()
	if m.cooldown > 0 && r.LastInterventionAt != nil && now.Sub(*r.LastInterventionAt) < m.cooldown {
		out.Result = ResultSkipped
		return out
	}

	state := workflows.NewInterventionState(r.UserID, r.Missed(), 0)
	state.CurrentWeek = r.CurrentWeek
	state.AbandonmentProbability = r.AbandonmentProbability
	p, err := m.profiles.Profile(ctx, r.UserID)
	switch {
	case err == nil:
		state.UserProfile = p
		state.DaysInactive = p.DaysInactive
	case !errors.Is(err, profile.ErrNotFound):
		log.Warn(ctx, "profile unavailable for intervention", zap.Error(err))
	}

	final, report := m.runner.Run(ctx, state)
	if report.Rejected != nil || final.Plan == nil {
		out.Result = ResultFailed
		out.Err = errors.Join(ErrNoPlan, pipeline.Err(final))
		log.Warn(ctx, "intervention failed", zap.String("resolution_id", r.ID), zap.Error(out.Err))
		return out
	}

	plan := final.Plan
	out.Before = plan.AbandonmentProbability
	out.After = plan.ExpectedImpact.After
	out.Actions = len(plan.AutonomousActions)
	out.Result = ResultApplied
	if !report.OK() {
		out.Result = ResultDegraded
	}

	r.AbandonmentProbability = out.After
	r.LastInterventionAt = &now
	if err := m.profiles.SaveResolution(ctx, &r); err != nil {
		out.Result = ResultFailed
		out.Err = fmt.Errorf("save resolution: %w", err)
		log.Warn(ctx, "intervention not recorded", zap.String("resolution_id", r.ID), zap.Error(err))
		return out
	}

	if err := m.events.Publish(ctx, events.Event{
		Kind:      events.KindInterventionTriggered,
		Pipeline:  workflows.NameIntervention,
		RunID:     report.RunID,
		UserID:    r.UserID,
		Timestamp: now.UTC(),
		Data: map[string]any{
			"resolution_id":           r.ID,
			"detected_barriers":       plan.DetectedBarriers,
			"autonomous_actions":      plan.AutonomousActions,
			"user_suggestions":        plan.UserSuggestions,
			"abandonment_probability": out.Before,
			"expected_abandonment":    out.After,
		},
	}); err != nil {
		log.Warn(ctx, "event publish failed", zap.String("kind", events.KindInterventionTriggered), zap.Error(err))
	}
	return out
}

// Start sweeps immediately and then every interval until ctx is done.
// Sweep errors are logged.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	log := logging.FromContext(ctx)
	sweep := func() {
		if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error(ctx, "monitor sweep failed", zap.Error(err))
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Running wraps Start for callers that need to wait for it to stop.
type Running struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Go runs Start on its own goroutine.
func (m *Monitor) Go(ctx context.Context, interval time.Duration) *Running {
	ctx, cancel := context.WithCancel(ctx)
	r := &Running{cancel: cancel}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		m.Start(ctx, interval)
	}()
	return r
}

// Stop cancels the sweeps and waits for the current one to return.
func (r *Running) Stop() {
	r.cancel()
	r.wg.Wait()
}
