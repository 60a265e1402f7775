// Package workflows defines the coaching pipelines: onboarding, daily check,
// intervention and resolution review.
//
// Each workflow owns a state type embedding pipeline.Base and exposes
// Run(ctx, initial) (State, *pipeline.Report). Steps follow the pipeline
// contract: a failed step leaves the state as it was and appends one
// diagnostic. Memory is loaded once near the start and staged learnings are
// flushed once by the last step.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/events"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/synthesis"
	"go.uber.org/zap"
)

// Pipeline names. They appear in reports, events and run logs.
const (
	NameOnboarding   = "onboarding"
	NameDailyCheck   = "daily_check"
	NameIntervention = "intervention"
	NameResolution   = "resolution"
)

// ErrUnparsed is returned by steps whose agent reply could not be read and
// that have no safe default.
var ErrUnparsed = errors.New("agent response could not be parsed")

// Deps are the collaborators shared by every workflow. Agents and Synthesis
// are required; the rest default to in-memory implementations.
type Deps struct {
	Agents    *agents.Roster
	Synthesis *synthesis.Engine
	Memory    *memory.Service
	Profiles  profile.Store
	Events    events.Publisher
	// Pipeline options applied to every workflow, such as telemetry and the
	// default step timeout.
	Pipeline []pipeline.Option
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Memory == nil {
		d.Memory = memory.NewService(memory.NewMemStore())
	}
	if d.Profiles == nil {
		d.Profiles = profile.NewMemStore()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// state is what the shared steps need from a workflow state.
type state[S any] interface {
	pipeline.State[S]
	base() pipeline.Base
	withBase(pipeline.Base) S
}

func hasUser[S state[S]](s S) bool { return s.User() != "" }

// fetchProfile loads the user's profile unless the caller seeded one. A
// missing profile is fatal when required; otherwise the run continues with
// an empty profile for the user.
func fetchProfile[S state[S]](profiles profile.Store, required bool) pipeline.Step[S] {
	return pipeline.Step[S]{Name: "fetch_profile", Run: func(ctx context.Context, s S) (S, error) {
		b := s.base()
		if b.UserProfile != nil {
			return s, pipeline.ErrSkip
		}
		p, err := profiles.Profile(ctx, b.UserID)
		switch {
		case errors.Is(err, profile.ErrNotFound) && !required:
			p = &profile.Profile{UserID: b.UserID}
		case err != nil:
			return s, pipeline.Fatal(fmt.Errorf("fetch profile: %w", err))
		}
		b.UserProfile = p
		return s.withBase(b), nil
	}}
}

func loadMemory[S state[S]](svc *memory.Service) pipeline.Step[S] {
	return pipeline.Step[S]{Name: "load_memory", Run: func(ctx context.Context, s S) (S, error) {
		b := s.base()
		snap, err := svc.LoadToState(ctx, b.UserID, memory.Filter{})
		if err != nil {
			return s, err
		}
		b.UserMemory = snap
		return s.withBase(b), nil
	}}
}

// persistMemory flushes the staged learnings. The staged list stays on the
// state so callers can see what was written.
func persistMemory[S state[S]](svc *memory.Service) pipeline.Step[S] {
	return pipeline.Step[S]{Name: "persist_memory", Run: func(ctx context.Context, s S) (S, error) {
		b := s.base()
		if len(b.MemoryUpdates) == 0 {
			return s, pipeline.ErrSkip
		}
		return s, svc.PersistFromState(ctx, b.UserID, b.MemoryUpdates)
	}}
}

// publish delivers e and logs instead of failing; events are best effort.
func publish(ctx context.Context, pub events.Publisher, e events.Event) {
	if err := pub.Publish(ctx, e); err != nil {
		logging.FromContext(ctx).Warn(ctx, "event publish failed",
			zap.String("kind", e.Kind), zap.Error(err))
	}
}

// Run statuses reported on completion.
const (
	RunCompleted = "completed"
	RunDegraded  = "degraded"
	RunRejected  = "rejected"
)

// RunStatus summarizes a finished run from its report and final errors.
func RunStatus(report *pipeline.Report, errs []string) string {
	switch {
	case report.Rejected != nil:
		return RunRejected
	case len(errs) > 0:
		return RunDegraded
	default:
		return RunCompleted
	}
}

// completed publishes the pipeline completion event for a finished run.
func completed(ctx context.Context, d Deps, report *pipeline.Report, userID string, errs []string) {
	status := RunStatus(report, errs)
	publish(ctx, d.Events, events.Event{
		Kind:      events.KindPipelineCompleted,
		Pipeline:  report.Pipeline,
		RunID:     report.RunID,
		UserID:    userID,
		Timestamp: d.Now().UTC(),
		Data: map[string]any{
			"status": status,
			"errors": len(errs),
			"failed": report.Failed(),
		},
	})
}

// warn records a soft failure on the state without failing the step.
func warn[S state[S]](ctx context.Context, s S, op string, err error) S {
	logging.FromContext(ctx).Warn(ctx, "falling back after agent failure",
		zap.String("op", op), zap.Error(err))
	return s.AppendError(pipeline.Diagnostic(op, err))
}
