package workflows

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
)

// Intervention option types.
const (
	OptionReduceDifficulty = "reduce_difficulty"
	OptionVarietyInjection = "variety_injection"
	OptionMandatoryRest    = "mandatory_rest"
	OptionStressManagement = "stress_management"
)

// Autonomous action types.
const (
	ActionProtectiveModification = "protective_modification"
	ActionProtectiveBlock        = "protective_block"
)

const (
	// DefaultAbandonment is assumed when the caller has no estimate.
	DefaultAbandonment = 0.7
	// ReductionPerAction is the expected drop in abandonment probability per
	// autonomous action.
	ReductionPerAction = 0.15
	impactFloor        = 0.1
	impactConfidence   = 0.7
)

// InterventionOption is one way to respond to the detected barriers.
type InterventionOption struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	Rationale  string `json:"rationale"`
	Autonomous bool   `json:"autonomous"`
}

// AutonomousAction is an option applied without asking the user.
type AutonomousAction struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
	Kind      string `json:"kind"`
}

// Impact is the expected effect of the autonomous actions.
type Impact struct {
	Before            float64 `json:"abandonment_probability_before"`
	After             float64 `json:"abandonment_probability_after"`
	ExpectedReduction float64 `json:"expected_reduction"`
	Confidence        float64 `json:"confidence"`
}

// InterventionPlan is the finalized intervention.
type InterventionPlan struct {
	TriggeredAt            time.Time            `json:"triggered_at"`
	DetectedBarriers       []string             `json:"detected_barriers"`
	AbandonmentProbability float64              `json:"abandonment_probability"`
	AutonomousActions      []AutonomousAction   `json:"autonomous_actions"`
	UserSuggestions        []InterventionOption `json:"user_suggestions"`
	ExpectedImpact         Impact               `json:"expected_impact"`
}

// InterventionState is threaded through the intervention pipeline.
//
//	load_memory       writes UserMemory
//	detect_barriers   writes Barriers, MemoryUpdates
//	assess_motivation writes Motivation
//	generate_options  writes Options
//	autonomous_action writes AutonomousActions, AlternativePlans
//	finalize          writes Plan
//	persist_memory    flushes MemoryUpdates
type InterventionState struct {
	pipeline.Base
	MissedWorkouts         int     `json:"missed_workouts"`
	DaysInactive           int     `json:"days_inactive"`
	CurrentWeek            int     `json:"current_week,omitempty"`
	AbandonmentProbability float64 `json:"abandonment_probability,omitempty"`

	Barriers          *agents.Barriers        `json:"barriers,omitempty"`
	Motivation        *agents.MotivationState `json:"motivation,omitempty"`
	Options           []InterventionOption    `json:"intervention_options,omitempty"`
	AutonomousActions []AutonomousAction      `json:"autonomous_actions,omitempty"`
	AlternativePlans  []InterventionOption    `json:"alternative_plans,omitempty"`
	Plan              *InterventionPlan       `json:"intervention_plan,omitempty"`
}

// NewInterventionState seeds an intervention run.
func NewInterventionState(userID string, missed, daysInactive int) InterventionState {
	return InterventionState{Base: pipeline.NewBase(userID), MissedWorkouts: missed, DaysInactive: daysInactive}
}

func (s InterventionState) AppendError(msg string) InterventionState {
	s.Base = s.Base.WithError(msg)
	return s
}

func (s InterventionState) base() pipeline.Base { return s.Base }

func (s InterventionState) withBase(b pipeline.Base) InterventionState {
	s.Base = b
	return s
}

func (s InterventionState) abandonment() float64 {
	if s.AbandonmentProbability <= 0 {
		return DefaultAbandonment
	}
	return s.AbandonmentProbability
}

// Intervention responds to a user drifting away from their resolution.
type Intervention struct {
	deps Deps
	p    *pipeline.Pipeline[InterventionState]
}

func NewIntervention(d Deps) *Intervention {
	d = d.withDefaults()
	iv := &Intervention{deps: d}
	iv.p = pipeline.New(NameIntervention, []pipeline.Step[InterventionState]{
		loadMemory[InterventionState](d.Memory),
		{Name: "detect_barriers", Run: iv.detectBarriers},
		{Name: "assess_motivation", Run: iv.assessMotivation},
		{Name: "generate_options", Run: iv.generateOptions},
		{Name: "autonomous_action", Run: iv.autonomousAction},
		{Name: "finalize", Run: iv.finalize},
		persistMemory[InterventionState](d.Memory),
	}, d.Pipeline...).
		Require("user_id", hasUser[InterventionState])
	return iv
}

// Steps lists the step names in order.
func (iv *Intervention) Steps() []string { return iv.p.Steps() }

// Run executes the pipeline.
func (iv *Intervention) Run(ctx context.Context, initial InterventionState) (InterventionState, *pipeline.Report) {
	out, report := iv.p.Run(ctx, initial)
	completed(ctx, iv.deps, report, out.UserID, out.Errors)
	return out, report
}

func (iv *Intervention) detectBarriers(ctx context.Context, s InterventionState) (InterventionState, error) {
	b, err := iv.deps.Agents.Barrier.Analyze(ctx, agents.BarrierInput{
		MissedWorkouts: s.MissedWorkouts,
		DaysInactive:   s.DaysInactive,
		CurrentWeek:    s.CurrentWeek,
	})
	if err != nil {
		return s, err
	}
	s.Barriers = &b
	if b.Detected {
		s.Base = s.Learn(agents.BarrierDetectionName, agents.LearningBarrier, map[string]any{
			"barrier":    orFirst(b.PrimaryBarrier, b.Barriers),
			"categories": b.Categories,
		}, barrierConfidence, barrierDays)
	}
	return s, nil
}

func (iv *Intervention) assessMotivation(ctx context.Context, s InterventionState) (InterventionState, error) {
	var detected []string
	if s.Barriers != nil {
		detected = s.Barriers.Barriers
	}
	m, err := iv.deps.Agents.Motivation.Analyze(ctx, agents.MotivationInput{
		DaysInactive:           s.DaysInactive,
		DetectedBarriers:       detected,
		AbandonmentProbability: s.abandonment(),
	})
	if err != nil {
		return s, err
	}
	s.Motivation = &m
	return s, nil
}

func (iv *Intervention) generateOptions(ctx context.Context, s InterventionState) (InterventionState, error) {
	b := agents.Barriers{}
	if s.Barriers != nil {
		b = *s.Barriers
	}
	options := []InterventionOption{}

	if b.Has(agents.BarrierTime) {
		options = append(options, InterventionOption{
			Type:       OptionReduceDifficulty,
			Action:     "Reduce workout duration by 40%",
			Rationale:  "Time constraints detected",
			Autonomous: true,
		})
	}
	if b.Has(agents.BarrierMonotony) {
		options = append(options, InterventionOption{
			Type:      OptionVarietyInjection,
			Action:    "Switch to different exercise modality",
			Rationale: "Motivation drop likely due to boredom",
		})
	}
	if s.DaysInactive == 0 && s.MissedWorkouts > 2 {
		options = append(options, InterventionOption{
			Type:       OptionMandatoryRest,
			Action:     "Force 2-day rest period",
			Rationale:  "User may be burned out - prevent injury",
			Autonomous: true,
		})
	}
	if b.MentionsStress() {
		action := defaultStressRecommendation
		motivation := ""
		if s.Motivation != nil {
			motivation = s.Motivation.State
		}
		plan, err := iv.deps.Agents.Stress.Analyze(ctx, agents.StressInput{
			Level:        "high",
			Barriers:     b.Barriers,
			Motivation:   motivation,
			DaysInactive: s.DaysInactive,
		})
		if err != nil {
			s = warn(ctx, s, "generate_options: stress", err)
		} else if plan.Recommendation != "" {
			action = plan.Recommendation
		}
		options = append(options, InterventionOption{
			Type:      OptionStressManagement,
			Action:    action,
			Rationale: "High stress detected",
		})
	}

	s.Options = options
	return s, nil
}

func (iv *Intervention) autonomousAction(_ context.Context, s InterventionState) (InterventionState, error) {
	actions := []AutonomousAction{}
	alternatives := []InterventionOption{}
	for _, o := range s.Options {
		switch {
		case o.Type == OptionReduceDifficulty && o.Autonomous:
			actions = append(actions, AutonomousAction{
				Type:      o.Type,
				Action:    o.Action,
				Rationale: o.Rationale,
				Kind:      ActionProtectiveModification,
			})
		case o.Type == OptionMandatoryRest && o.Autonomous:
			actions = append(actions, AutonomousAction{
				Type:      o.Type,
				Action:    "Blocked workouts for 48 hours",
				Rationale: "Preventing burnout and injury",
				Kind:      ActionProtectiveBlock,
			})
		default:
			alternatives = append(alternatives, o)
		}
	}
	s.AutonomousActions = actions
	s.AlternativePlans = alternatives
	return s, nil
}

// EstimateImpact is the expected abandonment probability after n
// autonomous actions, starting from p.
func EstimateImpact(p float64, n int) Impact {
	reduction := ReductionPerAction * float64(n)
	return Impact{
		Before:            p,
		After:             max(impactFloor, p-reduction),
		ExpectedReduction: reduction,
		Confidence:        impactConfidence,
	}
}

func (iv *Intervention) finalize(_ context.Context, s InterventionState) (InterventionState, error) {
	detected := []string{}
	if s.Barriers != nil {
		detected = s.Barriers.Barriers
	}
	p := s.abandonment()
	s.Plan = &InterventionPlan{
		TriggeredAt:            iv.deps.Now().UTC(),
		DetectedBarriers:       detected,
		AbandonmentProbability: p,
		AutonomousActions:      s.AutonomousActions,
		UserSuggestions:        s.AlternativePlans,
		ExpectedImpact:         EstimateImpact(p, len(s.AutonomousActions)),
	}
	return s, nil
}
