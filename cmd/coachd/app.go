package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/chat"
	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/events"
	"github.com/fyrsmithlabs/coachd/internal/llm"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/monitor"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/retrieval"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"github.com/fyrsmithlabs/coachd/internal/synthesis"
	"github.com/fyrsmithlabs/coachd/internal/telemetry"
	"github.com/fyrsmithlabs/coachd/internal/workflows"
	"go.uber.org/zap"
)

// app holds every initialized dependency. Close releases them in reverse
// order of creation.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	generator agent.Generator
	knowledge retrieval.Retriever
	profiles  profile.Store
	sessions  session.Store
	events    events.Publisher

	onboarding   *workflows.Onboarding
	dailyCheck   *workflows.DailyCheck
	intervention *workflows.Intervention
	resolution   *workflows.Resolution
	chat         *chat.Service

	closers []func() error
}

// newLogger maps the config file's logging section onto logging.Config.
func newLogger(cfg config.LoggingConfig, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	if cfg.Level != "" {
		level, err := logging.LevelFromString(cfg.Level)
		if err != nil {
			return nil, err
		}
		lc.Level = level
	}
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	lc.OTEL = cfg.OTEL && tel.Enabled()
	if lc.OTEL {
		return logging.NewLogger(lc, tel.LoggerProvider())
	}
	return logging.NewLogger(lc, nil)
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp initializes dependencies in order: telemetry and logging, then the
// generator, stores, retrieval and events, then the workflows.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = tel
	a.closers = append(a.closers, func() error { return tel.Shutdown(context.Background()) })

	a.logger, err = newLogger(cfg.Logging, tel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync()
		return nil
	})
	if degraded, derr := tel.Degraded(); degraded && tel.Enabled() {
		a.logger.Warn(ctx, "telemetry degraded", zap.Error(derr))
	}
	ctx = logging.WithLogger(ctx, a.logger)

	a.generator, err = llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	memStore, recorder, closeMemory, err := openMemoryStore(ctx, cfg.Memory)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeMemory)

	profiles, closeProfiles, err := openProfileStore(ctx, cfg.Profile)
	if err != nil {
		return nil, err
	}
	a.profiles = profiles
	a.closers = append(a.closers, closeProfiles)

	sessions, closeSessions, err := session.New(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("init sessions: %w", err)
	}
	a.sessions = sessions
	a.closers = append(a.closers, closeSessions)

	kb, closeKB, err := retrieval.New(ctx, cfg.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("init retrieval: %w", err)
	}
	a.knowledge = kb
	a.closers = append(a.closers, closeKB)

	pub, closeEvents, err := events.Connect(ctx, cfg.Events.NATSURL)
	if err != nil {
		return nil, err
	}
	a.events = pub
	a.closers = append(a.closers, func() error { closeEvents(); return nil })

	deps := workflows.Deps{
		Agents:    agents.NewRoster(a.generator, kb),
		Synthesis: synthesis.New(a.generator, synthesis.WithRecorder(recorder)),
		Memory:    memory.NewService(memStore),
		Profiles:  profiles,
		Events:    pub,
		Pipeline: []pipeline.Option{
			pipeline.WithTelemetry(tel),
			pipeline.WithLogger(a.logger),
			pipeline.WithStepTimeout(cfg.Pipeline.StepTimeout.Duration()),
		},
	}
	a.onboarding = workflows.NewOnboarding(deps)
	a.dailyCheck = workflows.NewDailyCheck(deps)
	a.intervention = workflows.NewIntervention(deps)
	a.resolution = workflows.NewResolutionReview(deps)
	a.chat = chat.New(a.generator, sessions, chat.WithRetriever(kb), chat.WithProfiles(profiles))

	a.logger.Info(ctx, "coachd initialized",
		zap.String("llm", cfg.LLM.Provider),
		zap.String("memory", cfg.Memory.Driver),
		zap.String("profile", cfg.Profile.Driver),
		zap.String("session", cfg.Session.Backend),
		zap.String("retrieval", cfg.Retrieval.Backend),
		zap.Bool("events", cfg.Events.NATSURL != ""))
	return a, nil
}

// newMonitor builds the intervention monitor from the monitor config. It
// registers metrics, so call it once per process.
func (a *app) newMonitor(opts ...monitor.Option) *monitor.Monitor {
	opts = append([]monitor.Option{
		monitor.WithConfig(a.cfg.Monitor),
		monitor.WithEvents(a.events),
	}, opts...)
	return monitor.New(a.intervention, a.profiles, opts...)
}

// backends names the configured backends for the status endpoint.
func (a *app) backends() map[string]string {
	return map[string]string{
		"llm":       a.cfg.LLM.Provider,
		"memory":    a.cfg.Memory.Driver,
		"profile":   a.cfg.Profile.Driver,
		"session":   a.cfg.Session.Backend,
		"retrieval": a.cfg.Retrieval.Backend,
	}
}

// Close releases every dependency and joins the errors.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
