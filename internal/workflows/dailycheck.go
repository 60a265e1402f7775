package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/events"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
)

// Learning defaults for daily check observations.
const (
	baselineConfidence = 0.6
	baselineDays       = 30
	barrierConfidence  = 0.6
	barrierDays        = 30
)

// Fallback intervention texts used when the specialist gives none.
const (
	defaultSleepRecommendation  = "Focus on sleep quality tonight"
	defaultStressRecommendation = "Consider stress management techniques"
)

// DailyCheckState is threaded through the daily check pipeline.
//
//	fetch_profile        writes UserProfile
//	load_memory          writes UserMemory
//	analyze_biometrics   writes Readiness, MemoryUpdates
//	analyze_occupation   writes Occupation
//	analyze_emotions     writes Emotional
//	analyze_holistic     writes Balance, EffectiveGoal
//	detect_interventions writes Interventions
//	detect_barriers      writes Barriers, Interventions, MemoryUpdates
//	check_schedule       writes Schedule
//	generate_workout     writes Plan, Briefing
//	modify_workout       writes Modification, Plan
//	generate_tasks       writes Tasks
//	save_results         writes Saved
//	persist_memory       flushes MemoryUpdates
type DailyCheckState struct {
	pipeline.Base
	CheckIn profile.CheckIn `json:"check_in"`
	Events  []agents.Event  `json:"calendar_events,omitempty"`
	Day     time.Time       `json:"day"`
	// Name is used to greet the user in the briefing.
	Name string `json:"name,omitempty"`

	Readiness     *agents.Readiness        `json:"biometric_analysis,omitempty"`
	Occupation    *agents.OccupationImpact `json:"occupation_analysis,omitempty"`
	Emotional     *agents.Support          `json:"emotional_support,omitempty"`
	Balance       *agents.Balance          `json:"holistic_analysis,omitempty"`
	EffectiveGoal string                   `json:"effective_goal,omitempty"`
	Interventions []agents.Intervention    `json:"interventions,omitempty"`
	Barriers      *agents.Barriers         `json:"barriers,omitempty"`
	Schedule      *agents.Schedule         `json:"schedule,omitempty"`
	Plan          *agents.DailyPlan        `json:"daily_plan,omitempty"`
	Modification  *agents.Modification     `json:"workout_modification,omitempty"`
	Tasks         []agents.Task            `json:"tasks,omitempty"`
	Briefing      string                   `json:"morning_briefing,omitempty"`
	Saved         bool                     `json:"saved"`
}

// NewDailyCheckState seeds a daily check for day.
func NewDailyCheckState(userID string, checkIn profile.CheckIn, day time.Time) DailyCheckState {
	return DailyCheckState{Base: pipeline.NewBase(userID), CheckIn: checkIn, Day: day}
}

func (s DailyCheckState) AppendError(msg string) DailyCheckState {
	s.Base = s.Base.WithError(msg)
	return s
}

func (s DailyCheckState) base() pipeline.Base { return s.Base }

func (s DailyCheckState) withBase(b pipeline.Base) DailyCheckState {
	s.Base = b
	return s
}

// Goal is the goal today's plan is built for.
func (s DailyCheckState) Goal() string {
	if s.EffectiveGoal != "" {
		return s.EffectiveGoal
	}
	return s.Profile().Goal()
}

// ReadinessScore is the biometric readiness, or the default when the
// biometric step did not run.
func (s DailyCheckState) ReadinessScore() float64 {
	if s.Readiness == nil {
		return agents.DefaultReadiness
	}
	return s.Readiness.Score
}

// DailyCheck builds the morning plan from a check-in.
type DailyCheck struct {
	deps Deps
	p    *pipeline.Pipeline[DailyCheckState]
}

func NewDailyCheck(d Deps) *DailyCheck {
	d = d.withDefaults()
	c := &DailyCheck{deps: d}
	c.p = pipeline.New(NameDailyCheck, []pipeline.Step[DailyCheckState]{
		fetchProfile[DailyCheckState](d.Profiles, true),
		loadMemory[DailyCheckState](d.Memory),
		{Name: "analyze_biometrics", Run: c.analyzeBiometrics},
		{Name: "analyze_occupation", Run: c.analyzeOccupation},
		{Name: "analyze_emotions", Run: c.analyzeEmotions},
		{Name: "analyze_holistic", Run: c.analyzeHolistic},
		{Name: "detect_interventions", Run: c.detectInterventions},
		{Name: "detect_barriers", Run: c.detectBarriers},
		{Name: "check_schedule", Run: c.checkSchedule},
		{Name: "generate_workout", Run: c.generateWorkout},
		{Name: "modify_workout", Run: c.modifyWorkout},
		{Name: "generate_tasks", Run: c.generateTasks},
		{Name: "save_results", Run: c.saveResults},
		persistMemory[DailyCheckState](d.Memory),
	}, d.Pipeline...).
		Require("user_id", hasUser[DailyCheckState])
	return c
}

// Steps lists the step names in order.
func (c *DailyCheck) Steps() []string { return c.p.Steps() }

// Run executes the pipeline. A zero Day means today.
func (c *DailyCheck) Run(ctx context.Context, initial DailyCheckState) (DailyCheckState, *pipeline.Report) {
	if initial.Day.IsZero() {
		initial.Day = c.deps.Now()
	}
	out, report := c.p.Run(ctx, initial)
	completed(ctx, c.deps, report, out.UserID, out.Errors)
	return out, report
}

func (c *DailyCheck) analyzeBiometrics(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	r, err := c.deps.Agents.Biometric.Analyze(ctx, agents.BiometricInput{
		CheckIn: s.CheckIn,
		Profile: s.Profile(),
		Memory:  s.UserMemory,
	})
	if err != nil {
		return s, err
	}
	s.Readiness = &r
	if content, ok := r.Learning(); ok {
		s.Base = s.Learn(agents.BiometricName, agents.LearningBiometricBaseline, content, baselineConfidence, baselineDays)
	}
	return s, nil
}

func (c *DailyCheck) analyzeOccupation(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	if s.Profile().Occupation == "" {
		return s, pipeline.ErrSkip
	}
	impact, err := c.deps.Agents.Occupation.Analyze(ctx, s.Profile(), s.CheckIn.StressLevel)
	if err != nil {
		return s, err
	}
	s.Occupation = &impact
	return s, nil
}

func (c *DailyCheck) analyzeEmotions(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	if strings.TrimSpace(s.CheckIn.Mood) == "" {
		return s, pipeline.ErrSkip
	}
	support, err := c.deps.Agents.Emotional.Analyze(ctx, agents.EmotionalInput{
		Mood:        s.CheckIn.Mood,
		StressLevel: s.CheckIn.StressLevel,
		EnergyLevel: s.CheckIn.EnergyLevel,
		Notes:       s.CheckIn.Notes,
		Goal:        s.Profile().Goal(),
		Memory:      s.UserMemory,
	})
	if err != nil {
		return s, err
	}
	s.Emotional = &support
	return s, nil
}

func (c *DailyCheck) analyzeHolistic(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	goal := s.Profile().Goal()
	b, err := c.deps.Agents.Holistic.Analyze(ctx, goal, s.CheckIn, s.ReadinessScore())
	if err != nil {
		return s, err
	}
	s.Balance = &b
	if b.Shift.ShouldShift && b.Shift.TargetFocus != "" && b.Shift.TargetFocus != goal {
		s.EffectiveGoal = b.Shift.TargetFocus
	}
	return s, nil
}

func highStress(level string) bool { return level == "high" || level == "very_high" }

func (c *DailyCheck) detectInterventions(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	ci := s.CheckIn
	found := []agents.Intervention{}

	if ci.SleepQuality > 0 && ci.SleepQuality < 3 {
		severity := "medium"
		if ci.SleepQuality < 2 {
			severity = "high"
		}
		in := agents.Intervention{Type: "sleep", Severity: severity, Recommendation: defaultSleepRecommendation, Actions: []string{}}
		analysis, err := c.deps.Agents.Sleep.Analyze(ctx, agents.SleepInput{
			Hours:       ci.SleepHours,
			Quality:     ci.SleepQuality,
			EnergyLevel: ci.EnergyLevel,
		})
		if err != nil {
			s = warn(ctx, s, "detect_interventions: sleep", err)
		} else {
			if analysis.Recommendation != "" {
				in.Recommendation = analysis.Recommendation
			}
			in.Actions = analysis.Actions
		}
		found = append(found, in)
	}

	if highStress(ci.StressLevel) {
		severity := "medium"
		if ci.StressLevel == "very_high" {
			severity = "high"
		}
		in := agents.Intervention{Type: "stress", Severity: severity, Recommendation: defaultStressRecommendation, Actions: []string{}}
		plan, err := c.deps.Agents.Stress.Analyze(ctx, agents.StressInput{
			Level:        ci.StressLevel,
			Source:       s.Profile().Occupation,
			Goal:         s.Goal(),
			CheckIn:      ci,
			DaysInactive: s.Profile().DaysInactive,
		})
		if err != nil {
			s = warn(ctx, s, "detect_interventions: stress", err)
		} else {
			if plan.Recommendation != "" {
				in.Recommendation = plan.Recommendation
			}
			in.Actions = plan.Actions()
		}
		found = append(found, in)
	}

	if ci.SorenessLevel == "high" || ci.SorenessLevel == "severe" {
		found = append(found, agents.Intervention{
			Type:           "recovery",
			Severity:       "medium",
			Recommendation: "Reduce workout intensity today",
			Actions:        []string{"Active recovery", "Stretching", "Light cardio only"},
		})
	}

	s.Interventions = append(append([]agents.Intervention{}, s.Interventions...), found...)
	return s, nil
}

func (c *DailyCheck) detectBarriers(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	schedule := make([]string, len(s.Events))
	for i, e := range s.Events {
		schedule[i] = fmt.Sprintf("%s %s-%s", e.Title, e.Start.Format("15:04"), e.End.Format("15:04"))
	}
	b, err := c.deps.Agents.Barrier.Analyze(ctx, agents.BarrierInput{
		DaysInactive: s.Profile().DaysInactive,
		EnergyLevel:  s.CheckIn.EnergyLevel,
		StressLevel:  s.CheckIn.StressLevel,
		Schedule:     schedule,
		Notes:        s.CheckIn.Notes,
	})
	if err != nil {
		return s, err
	}
	s.Barriers = &b
	if !b.Detected {
		return s, nil
	}

	primary := orFirst(b.PrimaryBarrier, b.Barriers)
	s.Interventions = append(append([]agents.Intervention{}, s.Interventions...), agents.Intervention{
		Type:           "barrier",
		Severity:       "medium",
		Recommendation: "Potential barrier detected: " + primary,
		Actions:        b.MitigationStrategies,
	})
	s.Base = s.Learn(agents.BarrierDetectionName, agents.LearningBarrier, map[string]any{
		"barrier":    primary,
		"categories": b.Categories,
	}, barrierConfidence, barrierDays)
	return s, nil
}

func (c *DailyCheck) checkSchedule(_ context.Context, s DailyCheckState) (DailyCheckState, error) {
	sched := c.deps.Agents.Calendar.Check(s.Events, s.Day)
	s.Schedule = &sched
	return s, nil
}

func (c *DailyCheck) generateWorkout(_ context.Context, s DailyCheckState) (DailyCheckState, error) {
	in := agents.PlanInput{
		Name:          s.Name,
		Profile:       s.Profile(),
		Readiness:     s.ReadinessScore(),
		CheckIn:       s.CheckIn,
		Interventions: s.Interventions,
		Day:           s.Day,
	}
	if s.Schedule != nil {
		in.Schedule = *s.Schedule
	}
	plan := c.deps.Agents.Plans.Generate(s.Goal(), in)
	s.Plan = &plan
	s.Briefing = plan.Briefing
	if s.EffectiveGoal != "" {
		reason := "health balance"
		if s.Balance != nil && s.Balance.Shift.Reason != "" {
			reason = s.Balance.Shift.Reason
		}
		s.Briefing += fmt.Sprintf("\n\nFOCUS SHIFT: Today's plan is shifted to %s focus due to %s. Your primary goal will resume once you recover.",
			strings.ToUpper(s.EffectiveGoal), reason)
	}
	return s, nil
}

func (c *DailyCheck) modifyWorkout(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	if s.Plan == nil || s.Plan.Workout == nil || len(s.Interventions) == 0 {
		return s, pipeline.ErrSkip
	}
	mod, err := c.deps.Agents.Workout.Modify(ctx, agents.WorkoutInput{
		Workout:      s.Plan.Workout,
		Profile:      s.Profile(),
		CheckIn:      s.CheckIn,
		DaysInactive: s.Profile().DaysInactive,
		Memory:       s.UserMemory,
	})
	if err != nil {
		return s, err
	}
	plan := *s.Plan
	plan.Workout = mod.Workout
	s.Plan = &plan
	s.Modification = &mod
	return s, nil
}

func (c *DailyCheck) generateTasks(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	if s.Plan == nil {
		return s, pipeline.ErrSkip
	}
	list, err := c.deps.Agents.Tasks.Generate(ctx, agents.TaskInput{Goal: s.Goal(), Plan: *s.Plan, Profile: s.Profile()})
	if err != nil {
		return s, err
	}
	s.Tasks = list.Tasks
	return s, nil
}

func (c *DailyCheck) saveResults(ctx context.Context, s DailyCheckState) (DailyCheckState, error) {
	if s.Plan == nil {
		return s, errors.New("no plan to save")
	}
	tasks := s.Tasks
	if tasks == nil {
		tasks = s.Plan.Tasks
	}
	data := map[string]any{
		"goal_type":     s.Plan.GoalType,
		"plan":          s.Plan,
		"tasks":         tasks,
		"interventions": s.Interventions,
		"readiness":     s.ReadinessScore(),
	}
	if s.EffectiveGoal != "" {
		data["focus_shift"] = s.EffectiveGoal
	}
	if s.Emotional != nil {
		data["emotional_support"] = s.Emotional.Message
	}

	now := c.deps.Now().UTC()
	if err := c.deps.Profiles.SaveDailyPlan(ctx, profile.DailyPlan{
		UserID:    s.UserID,
		Day:       s.Day.Format("2006-01-02"),
		Briefing:  s.Briefing,
		Data:      data,
		CreatedAt: now,
	}); err != nil {
		return s, fmt.Errorf("save daily plan: %w", err)
	}

	publish(ctx, c.deps.Events, events.Event{
		Kind:      events.KindMorningBriefing,
		UserID:    s.UserID,
		Timestamp: now,
		Data: map[string]any{
			"day":      s.Day.Format("2006-01-02"),
			"goal":     s.Plan.GoalType,
			"briefing": s.Briefing,
			"tasks":    len(tasks),
		},
	})
	s.Saved = true
	return s, nil
}

func orFirst(s string, items []string) string {
	if s != "" {
		return s
	}
	if len(items) > 0 {
		return items[0]
	}
	return "unspecified"
}
