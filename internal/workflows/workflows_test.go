package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/agents"
	"github.com/fyrsmithlabs/coachd/internal/events"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/pipeline"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/synthesis"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// The opencensus view worker is started by an init in a transitive
// dependency and never exits.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	coordinator = "Meta-Coordinator"
	challenger  = "challenge"
)

var errGenerate = errors.New("generation unavailable")

// script routes generation calls by the agent named in the system prompt.
// Unscripted agents answer "{}".
type script struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]error
	block   map[string]bool
	calls   []string
}

func newScript() *script {
	return &script{replies: map[string]string{}, fail: map[string]error{}, block: map[string]bool{}}
}

func (s *script) reply(who, text string) *script { s.replies[who] = text; return s }
func (s *script) failing(who string) *script     { s.fail[who] = errGenerate; return s }
func (s *script) hang(who string) *script        { s.block[who] = true; return s }

var roster = []string{
	agents.GoalSettingName, agents.FailurePatternName, agents.ProgressTrackingName,
	agents.BiometricName, agents.OccupationName, agents.EmotionalSupportName,
	agents.HolisticHealthName, agents.SleepName, agents.StressManagementName,
	agents.BarrierDetectionName, agents.MotivationName, agents.WorkoutModificationName,
	agents.TaskGenerationName,
}

func route(system string) string {
	switch {
	case strings.Contains(system, coordinator):
		return coordinator
	case strings.Contains(system, "Another agent proposed a plan"):
		return challenger
	}
	for _, name := range roster {
		if strings.Contains(system, "You are the "+name+" specializing") {
			return name
		}
	}
	return "unknown"
}

func (s *script) Generate(ctx context.Context, system, _ string, _ agent.Options) (string, error) {
	who := route(system)
	s.mu.Lock()
	s.calls = append(s.calls, who)
	reply, ok := s.replies[who]
	err := s.fail[who]
	block := s.block[who]
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", context.Cause(ctx)
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "{}", nil
	}
	return reply, nil
}

func (s *script) called(who string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == who {
			n++
		}
	}
	return n
}

type fixture struct {
	gen      *script
	memory   *memory.Service
	profiles *profile.MemStore
	events   *events.Recorder
	deps     Deps
}

var fixed = time.Date(2026, 1, 12, 7, 0, 0, 0, time.UTC)

func newFixture(gen *script, opts ...pipeline.Option) *fixture {
	now := func() time.Time { return fixed }
	store := memory.NewMemStore()
	f := &fixture{
		gen:      gen,
		memory:   memory.NewService(store, memory.WithClock(now)),
		profiles: profile.NewMemStore(),
		events:   &events.Recorder{},
	}
	f.deps = Deps{
		Agents:    agents.NewRoster(gen, nil),
		Synthesis: synthesis.New(gen, synthesis.WithRecorder(store), synthesis.WithClock(now)),
		Memory:    f.memory,
		Profiles:  f.profiles,
		Events:    f.events,
		Pipeline:  opts,
		Now:       now,
	}
	return f
}

func (f *fixture) completion(t *testing.T) events.Event {
	t.Helper()
	done := f.events.OfKind(events.KindPipelineCompleted)
	require.Len(t, done, 1)
	return done[0]
}

const coordinatorReply = `{
  "final_decision": {
    "interpreted_goal": "Lose 20 lbs over 5 months",
    "weekly_target": "3 workouts per week",
    "first_milestone": "Complete 12 workouts in 4 weeks",
    "reasoning": "Start smaller given past quitting"
  },
  "debate_summary": {
    "goal_agent_position": "5x/week",
    "failure_agent_position": "Quit risk at week 4",
    "synthesis_rationale": "Start at 3x/week"
  },
  "safety_adjustments": [],
  "growth_path": "Add one session per month",
  "confidence": 0.8
}`

func onboardingScript() *script {
	return newScript().
		reply(agents.GoalSettingName, `{"interpreted_goal":"Lose 20 lbs through 5 workouts a week","weekly_target":"5x/week","first_milestone":"Lose 4 lbs","reasoning":"ambitious","confidence":0.8}`).
		reply(agents.FailurePatternName, "```json\n"+`{"identified_patterns":["week 4 drop-off","overcommitment"],"quit_probability":0.72,"highest_risk_period":"Week 3-4","protective_strategies":["buffer days"],"recommended_adjustments":["Start at 3x/week"],"confidence":0.8}`+"\n```").
		reply(challenger, `{"stance":"challenge","reasoning":"quit three times at week 4","concerns":["5x/week is too much"],"counter_proposal":"Start with 3x/week","confidence":0.8}`).
		reply(coordinator, coordinatorReply)
}

func TestOnboarding_LoseWeight(t *testing.T) {
	f := newFixture(onboardingScript())
	o := NewOnboarding(f.deps)
	ctx := context.Background()

	out, report := o.Run(ctx, NewOnboardingState("u1", "lose 20 lbs", "quit after 4 weeks three times"))
	require.True(t, report.OK(), "errors: %v", out.Errors)
	assert.Empty(t, out.Errors)

	require.NotNil(t, out.GoalAnalysis)
	assert.NotEmpty(t, out.GoalAnalysis.InterpretedGoal)
	require.NotNil(t, out.FailureRisk)
	assert.Greater(t, out.FailureRisk.QuitProbability, 0.0)
	require.Len(t, out.Challenges, 1)
	assert.Equal(t, agent.StanceChallenge, out.Challenges[0].Stance)

	// The coordinator returned no adjustments, so they come from the challenger.
	require.NotEmpty(t, out.SafetyAdjustments)
	assert.Equal(t, "Start with 3x/week", out.SafetyAdjustments[0])
	assert.Equal(t, "3 workouts per week", out.FinalPlan["weekly_target"])
	assert.InDelta(t, 0.8, out.ConfidenceScore, 1e-9)
	assert.Contains(t, out.DebateSummary, "agents")
	assert.Contains(t, out.DebateSummary, "synthesis")
	assert.Equal(t, "Start at 3x/week", out.DebateSummary["synthesis_rationale"])

	snap, err := f.memory.LoadToState(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	require.Len(t, snap.ByType[agents.LearningFailurePattern], 1)
	assert.Equal(t, agents.FailurePatternName, snap.ByType[agents.LearningFailurePattern][0].AgentName)

	done := f.completion(t)
	assert.Equal(t, NameOnboarding, done.Pipeline)
	assert.Equal(t, report.RunID, done.RunID)
	assert.Equal(t, "completed", done.Data["status"])

	r, ok := NewResolution(out)
	require.True(t, ok)
	assert.Equal(t, 3, r.WorkoutsTarget)
	assert.Equal(t, profile.StatusActive, r.Status)
}

func TestOnboarding_Steps(t *testing.T) {
	o := NewOnboarding(newFixture(newScript()).deps)
	assert.Equal(t, []string{
		"fetch_profile", "load_memory", "goal_setting", "failure_analysis", "coordinate", "persist_memory",
	}, o.Steps())
}

func TestOnboarding_RequiresResolution(t *testing.T) {
	f := newFixture(onboardingScript())
	out, report := NewOnboarding(f.deps).Run(context.Background(), NewOnboardingState("u1", "  ", ""))

	var missing *pipeline.MissingFieldError
	require.ErrorAs(t, report.Rejected, &missing)
	assert.Equal(t, "resolution_text", missing.Field)
	require.Len(t, out.Errors, 1)
	assert.Nil(t, out.GoalAnalysis)
	assert.Empty(t, f.gen.calls)
	assert.Equal(t, "rejected", f.completion(t).Data["status"])
}

func TestOnboarding_UnparsedGoalIsRecorded(t *testing.T) {
	gen := onboardingScript().reply(agents.GoalSettingName, "I think you should walk more")
	f := newFixture(gen)
	out, report := NewOnboarding(f.deps).Run(context.Background(), NewOnboardingState("u1", "walk more", ""))

	assert.Equal(t, pipeline.StatusFailed, report.Status("goal_setting"))
	assert.Nil(t, out.GoalAnalysis)
	require.NotEmpty(t, out.Errors)
	assert.True(t, strings.HasPrefix(out.Errors[0], "goal_setting: "))
	// Without a proposal there is nothing to challenge.
	assert.Zero(t, gen.called(challenger))
	assert.Equal(t, "degraded", f.completion(t).Data["status"])
}

func TestOnboarding_AllAgentsFailIsNotTracked(t *testing.T) {
	gen := newScript()
	for _, name := range roster {
		gen.failing(name)
	}
	gen.failing(challenger).failing(coordinator)
	f := newFixture(gen)

	out, report := NewOnboarding(f.deps).Run(context.Background(), NewOnboardingState("u1", "run a 10k", ""))
	require.Nil(t, report.Rejected)
	assert.Subset(t, report.Failed(), []string{"goal_setting", "failure_analysis"})
	assert.Equal(t, RunDegraded, RunStatus(report, out.Errors))

	err := pipeline.Err(out)
	require.Error(t, err)
	assert.ErrorContains(t, err, "goal_setting: ")
	assert.ErrorContains(t, err, "failure_analysis: ")

	r, ok := NewResolution(out)
	assert.False(t, ok)
	assert.Nil(t, r)
}

func TestRun_ErrorsAreAppendOnly(t *testing.T) {
	gen := newScript()
	for _, name := range roster {
		gen.failing(name)
	}
	gen.failing(coordinator)
	f := newFixture(gen)

	initial := NewInterventionState("u1", 3, 2)
	initial.Errors = []string{"earlier: kept"}
	out, report := NewIntervention(f.deps).Run(context.Background(), initial)

	require.GreaterOrEqual(t, len(out.Errors), len(initial.Errors))
	assert.Equal(t, "earlier: kept", out.Errors[0])
	assert.ElementsMatch(t, []string{"detect_barriers", "assess_motivation"}, report.Failed())
	require.NotNil(t, out.Plan)
	assert.InDelta(t, DefaultAbandonment, out.Plan.ExpectedImpact.After, 1e-9)
	assert.Empty(t, out.Plan.AutonomousActions)
}

func TestDailyCheck_StepTimeout(t *testing.T) {
	gen := newScript().hang(agents.BiometricName)
	f := newFixture(gen, pipeline.WithStepTimeout(50*time.Millisecond))
	require.NoError(t, f.profiles.SaveProfile(context.Background(), &profile.Profile{UserID: "u1", PrimaryGoal: "fitness"}))

	out, report := NewDailyCheck(f.deps).Run(context.Background(), NewDailyCheckState("u1", profile.CheckIn{SleepQuality: 4}, fixed))

	require.Len(t, out.Errors, 1)
	assert.True(t, strings.HasPrefix(out.Errors[0], "analyze_biometrics: "), out.Errors[0])
	assert.Equal(t, pipeline.StatusFailed, report.Status("analyze_biometrics"))
	assert.Nil(t, out.Readiness)
	assert.Empty(t, out.MemoryUpdates)

	// Later steps carry on with the default readiness.
	require.NotNil(t, out.Plan)
	require.NotNil(t, out.Plan.Workout)
	assert.Equal(t, "moderate", out.Plan.Workout.Intensity)
	assert.True(t, out.Saved)
}

func TestResolution_FailedStepsLeaveStateUntouched(t *testing.T) {
	gen := newScript().failing(agents.ProgressTrackingName).failing(agents.FailurePatternName)
	f := newFixture(gen)
	res := &profile.Resolution{ID: "r1", UserID: "u1", Text: "run", Status: profile.StatusActive, WeeklyTarget: "3x/week", WorkoutsCompleted: 1, CurrentWeek: 2}

	initial := NewResolutionState("u1", []bool{true, false})
	initial.Resolution = res
	initial.Timestamp = fixed
	out, report := NewResolutionReview(f.deps).Run(context.Background(), initial)

	// Only fetch_data contributed; the two failed steps each left one line.
	want := initial
	want.UserProfile = &profile.Profile{UserID: "u1"}
	want.Target = 3
	want.Adherence = 1.0 / 3
	diff := cmp.Diff(want, out,
		cmpopts.IgnoreFields(pipeline.Base{}, "Errors", "UserMemory"),
		cmpopts.EquateApprox(0, 1e-9))
	assert.Empty(t, diff)

	assert.Equal(t, []string{
		"analyze_progress: " + errGenerate.Error(),
		"detect_risks: " + errGenerate.Error(),
	}, out.Errors)
	assert.Equal(t, pipeline.StatusSkipped, report.Status("decide_action"))
	assert.Zero(t, gen.called(coordinator))
}

func TestResolution_Review(t *testing.T) {
	gen := newScript().
		reply(agents.ProgressTrackingName, `{"overall_assessment":"slipping","trend":"declining","concerns":["two skips"],"confidence":0.7}`).
		reply(agents.FailurePatternName, `{"identified_patterns":["week 3 cliff"],"quit_probability":0.75,"confidence":0.7}`).
		reply(coordinator, coordinatorReply)
	f := newFixture(gen)
	ctx := context.Background()
	require.NoError(t, f.profiles.SaveResolution(ctx, &profile.Resolution{
		ID: "r1", UserID: "u1", Text: "get fit", Status: profile.StatusActive,
		WeeklyTarget: "4x/week", WorkoutsCompleted: 1, CurrentWeek: 3, CreatedAt: fixed,
	}))

	out, report := NewResolutionReview(f.deps).Run(ctx, NewResolutionState("u1", []bool{true, true, false, false}))
	require.True(t, report.OK(), "errors: %v", out.Errors)

	assert.Equal(t, 4, out.Target)
	assert.InDelta(t, 0.25, out.Adherence, 1e-9)
	assert.Equal(t, 2, out.ConsecutiveSkips)
	assert.True(t, out.NeedsIntervention)
	require.NotNil(t, out.Progress)
	assert.Equal(t, "declining", out.Progress.Trend)
	require.NotNil(t, out.Decision)
	assert.True(t, out.Decision.RiskEvidenced)
	assert.Equal(t, "3 workouts per week", out.AdjustmentRecommendations["weekly_target"])

	debates, err := f.memory.Store().(memory.DebateRecorder).Debates(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, debates, 1)
	assert.Equal(t, NameResolution, debates[0].DebateType)
}

func TestResolution_NoActiveResolution(t *testing.T) {
	f := newFixture(newScript())
	out, report := NewResolutionReview(f.deps).Run(context.Background(), NewResolutionState("u1", nil))

	assert.Equal(t, pipeline.StatusFailed, report.Status("fetch_data"))
	assert.Equal(t, pipeline.StatusSkipped, report.Status("analyze_progress"))
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], profile.ErrNotFound.Error())
	assert.Nil(t, out.Resolution)
}

func TestIntervention_Options(t *testing.T) {
	gen := newScript().
		reply(agents.BarrierDetectionName, `{"barriers":["No time after late shifts","work stress"],"categories":["TIME","stress"],"primary_barrier":"No time after late shifts","detected":true,"confidence":0.8}`).
		reply(agents.MotivationName, `{"state":"low","motivation_drop":true,"intervention_urgency":"high"}`).
		reply(agents.StressManagementName, `{"recommendation":"Swap one workout for a 10 minute walk","rationale":"cortisol"}`)
	f := newFixture(gen)
	ctx := context.Background()

	out, report := NewIntervention(f.deps).Run(ctx, NewInterventionState("u1", 3, 0))
	require.True(t, report.OK(), "errors: %v", out.Errors)

	require.NotNil(t, out.Motivation)
	assert.Equal(t, agents.MotivationLow, out.Motivation.State)

	types := make([]string, len(out.Options))
	for i, o := range out.Options {
		types[i] = o.Type
	}
	assert.Equal(t, []string{OptionReduceDifficulty, OptionMandatoryRest, OptionStressManagement}, types)
	assert.Equal(t, "Swap one workout for a 10 minute walk", out.Options[2].Action)

	require.Len(t, out.AutonomousActions, 2)
	assert.Equal(t, ActionProtectiveModification, out.AutonomousActions[0].Kind)
	assert.Equal(t, AutonomousAction{
		Type:      OptionMandatoryRest,
		Action:    "Blocked workouts for 48 hours",
		Rationale: "Preventing burnout and injury",
		Kind:      ActionProtectiveBlock,
	}, out.AutonomousActions[1])
	require.Len(t, out.AlternativePlans, 1)
	assert.Equal(t, OptionStressManagement, out.AlternativePlans[0].Type)

	require.NotNil(t, out.Plan)
	assert.Equal(t, fixed, out.Plan.TriggeredAt)
	assert.InDelta(t, 0.7, out.Plan.ExpectedImpact.Before, 1e-9)
	assert.InDelta(t, 0.4, out.Plan.ExpectedImpact.After, 1e-9)
	assert.InDelta(t, 0.3, out.Plan.ExpectedImpact.ExpectedReduction, 1e-9)

	snap, err := f.memory.LoadToState(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	require.Len(t, snap.ByType[agents.LearningBarrier], 1)
	assert.Equal(t, "No time after late shifts", snap.ByType[agents.LearningBarrier][0].Content["barrier"])
}

func TestIntervention_StressFallback(t *testing.T) {
	gen := newScript().
		reply(agents.BarrierDetectionName, `{"barriers":["stress at home"],"detected":true}`).
		failing(agents.StressManagementName)
	f := newFixture(gen)

	out, report := NewIntervention(f.deps).Run(context.Background(), NewInterventionState("u1", 1, 4))

	assert.Empty(t, report.Failed())
	require.Len(t, out.Options, 1)
	assert.Equal(t, defaultStressRecommendation, out.Options[0].Action)
	require.Len(t, out.Errors, 1)
	assert.True(t, strings.HasPrefix(out.Errors[0], "generate_options: stress: "))
	assert.Equal(t, "degraded", f.completion(t).Data["status"])
}

func TestEstimateImpact(t *testing.T) {
	tests := []struct {
		name    string
		p       float64
		actions int
		after   float64
	}{
		{"no actions", 0.7, 0, 0.7},
		{"one action", 0.8, 1, 0.65},
		{"floor", 0.3, 2, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateImpact(tt.p, tt.actions)
			assert.InDelta(t, tt.after, got.After, 1e-9)
			assert.InDelta(t, 0.7, got.Confidence, 1e-9)
		})
	}
}

func TestDailyCheck_FocusShift(t *testing.T) {
	gen := newScript().
		reply(agents.BiometricName, `{"analysis":{"readiness":0.45,"recovery_status":"poor"},"insights":["Sleeps badly after night shifts"],"confidence":0.7}`).
		reply(agents.HolisticHealthName, `{"health_balance_score":40,"focus_shift_recommendation":{"should_shift":true,"target_focus":"SLEEP","duration_days":1,"reason":"three nights of poor sleep"}}`).
		reply(agents.SleepName, `{"recommendation":"Lights out by 10:30 PM"}`).
		reply(agents.StressManagementName, `{"recommendation":"Ten minutes of box breathing","breathing_exercises":["box breathing"]}`).
		reply(agents.EmotionalSupportName, `{"support_message":"Rough week. Be kind to yourself."}`).
		reply(agents.TaskGenerationName, `{"tasks":[{"time":"9:30 PM","category":"sleep","task":"Start wind-down routine","priority":"high"},{"time":"8:00 AM","category":"other","task":"Review financial portfolio"}]}`)
	f := newFixture(gen)
	ctx := context.Background()
	require.NoError(t, f.profiles.SaveProfile(ctx, &profile.Profile{UserID: "u1", PrimaryGoal: "fitness"}))

	checkIn := profile.CheckIn{SleepQuality: 2, SleepHours: 5, StressLevel: "very_high", SorenessLevel: "high", Mood: "tired"}
	initial := NewDailyCheckState("u1", checkIn, fixed)
	initial.Name = "Sam"
	out, report := NewDailyCheck(f.deps).Run(ctx, initial)
	require.True(t, report.OK(), "errors: %v", out.Errors)

	assert.Equal(t, pipeline.StatusSkipped, report.Status("analyze_occupation"))
	assert.Equal(t, agents.GoalSleep, out.EffectiveGoal)
	require.NotNil(t, out.Plan)
	assert.Equal(t, agents.GoalSleep, out.Plan.GoalType)
	assert.Contains(t, out.Briefing, "FOCUS SHIFT: Today's plan is shifted to SLEEP focus due to three nights of poor sleep.")

	byType := map[string]agents.Intervention{}
	for _, in := range out.Interventions {
		byType[in.Type] = in
	}
	require.Contains(t, byType, "sleep")
	assert.Equal(t, "medium", byType["sleep"].Severity)
	assert.Equal(t, "Lights out by 10:30 PM", byType["sleep"].Recommendation)
	require.Contains(t, byType, "stress")
	assert.Equal(t, "high", byType["stress"].Severity)
	require.Contains(t, byType, "recovery")
	assert.Equal(t, []string{"Active recovery", "Stretching", "Light cardio only"}, byType["recovery"].Actions)
	assert.NotContains(t, byType, "barrier")

	// The out-of-scope task is dropped.
	require.Len(t, out.Tasks, 1)
	assert.Equal(t, "Start wind-down routine", out.Tasks[0].Task)

	assert.True(t, out.Saved)
	plans, err := f.profiles.DailyPlans(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "2026-01-12", plans[0].Day)
	assert.Equal(t, agents.GoalSleep, plans[0].Data["focus_shift"])

	briefings := f.events.OfKind(events.KindMorningBriefing)
	require.Len(t, briefings, 1)
	assert.Equal(t, out.Briefing, briefings[0].Data["briefing"])

	snap, err := f.memory.LoadToState(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	assert.Len(t, snap.ByType[agents.LearningBiometricBaseline], 1)
}

func TestDailyCheck_RequiresProfile(t *testing.T) {
	f := newFixture(newScript())
	out, report := NewDailyCheck(f.deps).Run(context.Background(), NewDailyCheckState("u1", profile.CheckIn{}, fixed))

	assert.Equal(t, pipeline.StatusFailed, report.Status("fetch_profile"))
	assert.Equal(t, pipeline.StatusSkipped, report.Status("save_results"))
	require.Len(t, out.Errors, 1)
	assert.False(t, out.Saved)
	assert.Zero(t, f.gen.called(agents.BiometricName))
}
