package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/synthesis"
	"github.com/google/uuid"
)

// OnboardingState is threaded through the onboarding pipeline.
//
//	fetch_profile    writes UserProfile
//	load_memory      writes UserMemory
//	goal_setting     writes GoalAnalysis
//	failure_analysis writes FailureRisk, Challenges, MemoryUpdates
//	coordinate       writes FinalPlan, DebateSummary, SafetyAdjustments, ConfidenceScore
//	persist_memory   flushes MemoryUpdates
type OnboardingState struct {
	pipeline.Base
	ResolutionText string   `json:"resolution_text"`
	PastAttempts   string   `json:"past_attempts,omitempty"`
	Constraints    []string `json:"constraints,omitempty"`

	GoalAnalysis      *agents.GoalPlan    `json:"goal_analysis,omitempty"`
	FailureRisk       *agents.FailureRisk `json:"failure_risk,omitempty"`
	Challenges        []agent.Challenge   `json:"challenges,omitempty"`
	FinalPlan         map[string]any      `json:"final_plan,omitempty"`
	DebateSummary     map[string]any      `json:"debate_summary,omitempty"`
	SafetyAdjustments []string            `json:"safety_adjustments,omitempty"`
	ConfidenceScore   float64             `json:"confidence_score"`
}

// NewOnboardingState seeds an onboarding run.
func NewOnboardingState(userID, resolution, pastAttempts string) OnboardingState {
	return OnboardingState{Base: pipeline.NewBase(userID), ResolutionText: resolution, PastAttempts: pastAttempts}
}

func (s OnboardingState) AppendError(msg string) OnboardingState {
	s.Base = s.Base.WithError(msg)
	return s
}

func (s OnboardingState) base() pipeline.Base { return s.Base }

func (s OnboardingState) withBase(b pipeline.Base) OnboardingState {
	s.Base = b
	return s
}

// Onboarding turns a new resolution into a debated, safety-checked plan.
type Onboarding struct {
	deps Deps
	p    *pipeline.Pipeline[OnboardingState]
}

func NewOnboarding(d Deps) *Onboarding {
	d = d.withDefaults()
	o := &Onboarding{deps: d}
	o.p = pipeline.New(NameOnboarding, []pipeline.Step[OnboardingState]{
		fetchProfile[OnboardingState](d.Profiles, false),
		loadMemory[OnboardingState](d.Memory),
		{Name: "goal_setting", Run: o.goalSetting},
		{Name: "failure_analysis", Run: o.failureAnalysis},
		{Name: "coordinate", Run: o.coordinate},
		persistMemory[OnboardingState](d.Memory),
	}, d.Pipeline...).
		Require("user_id", hasUser[OnboardingState]).
		Require("resolution_text", func(s OnboardingState) bool { return strings.TrimSpace(s.ResolutionText) != "" })
	return o
}

// Steps lists the step names in order.
func (o *Onboarding) Steps() []string { return o.p.Steps() }

// Run executes the pipeline.
func (o *Onboarding) Run(ctx context.Context, initial OnboardingState) (OnboardingState, *pipeline.Report) {
	out, report := o.p.Run(ctx, initial)
	completed(ctx, o.deps, report, out.UserID, out.Errors)
	return out, report
}

func (o *Onboarding) goalSetting(ctx context.Context, s OnboardingState) (OnboardingState, error) {
	plan, err := o.deps.Agents.Goal.Analyze(ctx, agents.GoalInput{
		Resolution:  s.ResolutionText,
		Constraints: s.Constraints,
		Profile:     s.Profile(),
	})
	if err != nil {
		return s, err
	}
	if !plan.Parsed {
		return s, ErrUnparsed
	}
	s.GoalAnalysis = &plan
	return s, nil
}

func (o *Onboarding) failureAnalysis(ctx context.Context, s OnboardingState) (OnboardingState, error) {
	past := s.PastAttempts
	if past == "" {
		past = s.Profile().PastAttempts
	}
	var proposal map[string]any
	if s.GoalAnalysis != nil {
		proposal = s.GoalAnalysis.Proposal()
	}

	failure := o.deps.Agents.Failure
	risk, err := failure.Analyze(ctx, agents.FailureInput{
		PastAttempts: past,
		Proposal:     proposal,
		Profile:      s.Profile(),
		Memory:       s.UserMemory,
	})
	if err != nil {
		return s, err
	}
	if !risk.Parsed {
		return s, ErrUnparsed
	}

	if proposal != nil {
		challenge, err := failure.Challenge(ctx, proposal, past)
		if err != nil {
			return s, fmt.Errorf("challenge: %w", err)
		}
		s.Challenges = append(append([]agent.Challenge{}, s.Challenges...), challenge)
	}

	s.FailureRisk = &risk
	if content, conf, ok := risk.Learning(); ok {
		s.Base = s.Learn(agents.FailurePatternName, agents.LearningFailurePattern, content, conf, agents.FailureLearningDays)
	}
	return s, nil
}

func (o *Onboarding) coordinate(ctx context.Context, s OnboardingState) (OnboardingState, error) {
	var proposal map[string]any
	if s.GoalAnalysis != nil {
		proposal = s.GoalAnalysis.Proposal()
	}
	analyses := map[string]map[string]any{}
	if s.FailureRisk != nil {
		analyses[agents.FailurePatternName] = s.FailureRisk.Payload()
	}

	entries := synthesis.Collect(agents.GoalSettingName, proposal, s.Challenges, analyses)
	if len(s.Challenges) == 0 && s.FailureRisk != nil {
		entries = append(entries, synthesis.Entry{
			Agent:   agents.FailurePatternName,
			Role:    synthesis.RoleChallenger,
			Focus:   agent.FocusRisk,
			Payload: s.FailureRisk.Payload(),
		})
	}

	result := o.deps.Synthesis.Synthesize(ctx, synthesis.Request{
		UserID:      s.UserID,
		DebateType:  NameOnboarding,
		PrimaryGoal: s.Profile().Goal(),
		Entries:     entries,
	})

	s.FinalPlan = result.FinalDecision.Map()
	summary := result.DebateSummary.Map()
	summary["agents"] = entries
	summary["synthesis"] = result.Map()
	s.DebateSummary = summary
	s.SafetyAdjustments = result.SafetyAdjustments
	s.ConfidenceScore = result.Confidence
	return s, nil
}

// NewResolution builds the resolution to track from a finished onboarding.
// ok is false unless the run completed cleanly: a degraded run may still carry
// a placeholder plan, and that is not worth tracking.
func NewResolution(s OnboardingState) (r *profile.Resolution, ok bool) {
	if s.FinalPlan == nil || len(s.Errors) > 0 {
		return nil, false
	}
	weekly := agent.Str(s.FinalPlan, "weekly_target")
	now := s.Timestamp
	return &profile.Resolution{
		ID:             uuid.NewString(),
		UserID:         s.UserID,
		Text:           s.ResolutionText,
		Status:         profile.StatusActive,
		WeeklyTarget:   weekly,
		WorkoutsTarget: profile.ParseWeeklyTarget(weekly),
		CurrentWeek:    1,
		AdherenceRate:  1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, true
}
