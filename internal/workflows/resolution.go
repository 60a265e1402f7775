package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/synthesis"
)

// InterventionThreshold is the quit probability above which a resolution
// review asks for an intervention.
const InterventionThreshold = 0.6

// ResolutionState is threaded through the resolution review pipeline.
//
//	fetch_data       writes UserProfile, UserMemory, Resolution, Target, Adherence
//	analyze_progress writes Progress
//	detect_risks     writes ConsecutiveSkips, FailureRisk, NeedsIntervention, MemoryUpdates
//	decide_action    writes Decision, AdjustmentRecommendations
//	persist_memory   flushes MemoryUpdates
type ResolutionState struct {
	pipeline.Base
	// Resolution may be seeded; otherwise the active one is loaded.
	Resolution *profile.Resolution `json:"resolution,omitempty"`
	// SkipPattern lists recent days oldest first, true meaning done.
	SkipPattern []bool `json:"skip_pattern,omitempty"`

	Target                    int                 `json:"workouts_target"`
	Adherence                 float64             `json:"adherence_rate"`
	Progress                  *agents.Progress    `json:"progress_analysis,omitempty"`
	ConsecutiveSkips          int                 `json:"consecutive_skips"`
	FailureRisk               *agents.FailureRisk `json:"failure_risk,omitempty"`
	NeedsIntervention         bool                `json:"needs_intervention"`
	Decision                  *synthesis.Result   `json:"decision,omitempty"`
	AdjustmentRecommendations map[string]any      `json:"adjustment_recommendations,omitempty"`
}

// NewResolutionState seeds a resolution review.
func NewResolutionState(userID string, skipPattern []bool) ResolutionState {
	return ResolutionState{Base: pipeline.NewBase(userID), SkipPattern: skipPattern}
}

func (s ResolutionState) AppendError(msg string) ResolutionState {
	s.Base = s.Base.WithError(msg)
	return s
}

func (s ResolutionState) base() pipeline.Base { return s.Base }

func (s ResolutionState) withBase(b pipeline.Base) ResolutionState {
	s.Base = b
	return s
}

// Resolution reviews progress on an active resolution.
type Resolution struct {
	deps Deps
	p    *pipeline.Pipeline[ResolutionState]
}

func NewResolutionReview(d Deps) *Resolution {
	d = d.withDefaults()
	r := &Resolution{deps: d}
	r.p = pipeline.New(NameResolution, []pipeline.Step[ResolutionState]{
		{Name: "fetch_data", Run: r.fetchData},
		{Name: "analyze_progress", Run: r.analyzeProgress},
		{Name: "detect_risks", Run: r.detectRisks},
		{Name: "decide_action", Run: r.decideAction},
		persistMemory[ResolutionState](d.Memory),
	}, d.Pipeline...).
		Require("user_id", hasUser[ResolutionState])
	return r
}

// Steps lists the step names in order.
func (r *Resolution) Steps() []string { return r.p.Steps() }

// Run executes the pipeline.
func (r *Resolution) Run(ctx context.Context, initial ResolutionState) (ResolutionState, *pipeline.Report) {
	out, report := r.p.Run(ctx, initial)
	completed(ctx, r.deps, report, out.UserID, out.Errors)
	return out, report
}

func (r *Resolution) fetchData(ctx context.Context, s ResolutionState) (ResolutionState, error) {
	res := s.Resolution
	if res == nil {
		var err error
		res, err = r.deps.Profiles.ActiveResolution(ctx, s.UserID)
		if err != nil {
			return s, pipeline.Fatal(fmt.Errorf("fetch resolution: %w", err))
		}
	}

	b := s.Base
	if b.UserProfile == nil {
		p, err := r.deps.Profiles.Profile(ctx, s.UserID)
		switch {
		case errors.Is(err, profile.ErrNotFound):
			p = &profile.Profile{UserID: s.UserID}
		case err != nil:
			return s, pipeline.Fatal(fmt.Errorf("fetch profile: %w", err))
		}
		b.UserProfile = p
	}
	snap, err := r.deps.Memory.LoadToState(ctx, s.UserID, memory.Filter{})
	if err != nil {
		return s, err
	}
	b.UserMemory = snap

	s.Base = b
	s.Resolution = res
	s.Target = res.Target()
	s.Adherence = float64(res.WorkoutsCompleted) / float64(s.Target)
	return s, nil
}

func (r *Resolution) analyzeProgress(ctx context.Context, s ResolutionState) (ResolutionState, error) {
	if s.Resolution == nil {
		return s, pipeline.ErrSkip
	}
	p, err := r.deps.Agents.Progress.Analyze(ctx, agents.ProgressInput{
		CurrentWeek: s.Resolution.CurrentWeek,
		Completed:   s.Resolution.WorkoutsCompleted,
		Target:      s.Target,
		Adherence:   s.Adherence,
		SkipPattern: s.SkipPattern,
		Profile:     s.Profile(),
		Memory:      s.UserMemory,
	})
	if err != nil {
		return s, err
	}
	s.Progress = &p
	return s, nil
}

func (r *Resolution) detectRisks(ctx context.Context, s ResolutionState) (ResolutionState, error) {
	if s.Resolution == nil {
		return s, pipeline.ErrSkip
	}
	skips := agents.ConsecutiveSkips(s.SkipPattern)
	trend := "stable"
	if s.Progress != nil {
		trend = s.Progress.Trend
	}

	risk, err := r.deps.Agents.Failure.Analyze(ctx, agents.FailureInput{
		PastAttempts: s.Profile().PastAttempts,
		Proposal: map[string]any{
			"resolution":    s.Resolution.Text,
			"weekly_target": s.Resolution.WeeklyTarget,
		},
		Progress: map[string]any{
			"current_week":      s.Resolution.CurrentWeek,
			"adherence":         s.Adherence,
			"consecutive_skips": skips,
			"trend":             trend,
		},
		Profile: s.Profile(),
		Memory:  s.UserMemory,
	})
	if err != nil {
		return s, err
	}
	s.ConsecutiveSkips = skips
	s.FailureRisk = &risk
	s.NeedsIntervention = risk.QuitProbability > InterventionThreshold
	if content, conf, ok := risk.Learning(); ok {
		s.Base = s.Learn(agents.FailurePatternName, agents.LearningFailurePattern, content, conf, agents.FailureLearningDays)
	}
	return s, nil
}

func (r *Resolution) decideAction(ctx context.Context, s ResolutionState) (ResolutionState, error) {
	if s.Progress == nil && s.FailureRisk == nil {
		return s, pipeline.ErrSkip
	}
	var entries []synthesis.Entry
	if s.Progress != nil {
		entries = append(entries, synthesis.Entry{
			Agent:   agents.ProgressTrackingName,
			Role:    synthesis.RoleProposer,
			Focus:   agent.FocusAmbition,
			Payload: s.Progress.Payload(),
		})
	}
	if s.FailureRisk != nil {
		entries = append(entries, synthesis.Entry{
			Agent:   agents.FailurePatternName,
			Role:    synthesis.RoleChallenger,
			Focus:   agent.FocusRisk,
			Payload: s.FailureRisk.Payload(),
		})
	}

	result := r.deps.Synthesis.Synthesize(ctx, synthesis.Request{
		UserID:      s.UserID,
		DebateType:  NameResolution,
		PrimaryGoal: s.Profile().Goal(),
		Entries:     entries,
	})
	s.Decision = &result
	s.AdjustmentRecommendations = result.FinalDecision.Map()
	return s, nil
}
