package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/llm"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/retrieval"
	"github.com/fyrsmithlabs/coachd/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKB struct {
	mu      sync.Mutex
	queries []string
	chunks  []retrieval.Chunk
}

func (f *fakeKB) Retrieve(_ context.Context, query, category string, _ int) ([]retrieval.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, category+":"+query)
	return f.chunks, nil
}

func TestGoalSetting_Analyze(t *testing.T) {
	gen := llm.NewStatic(`{"interpreted_goal":"Walk 20 minutes","weekly_target":"3x/week","first_milestone":"12 walks","reasoning":"busy","confidence":0.8}`)
	g := NewGoalSetting(gen)

	plan, err := g.Analyze(context.Background(), GoalInput{
		Resolution: "get fit",
		Profile:    &profile.Profile{UserID: "u1", Occupation: "nurse"},
	})
	require.NoError(t, err)
	assert.True(t, plan.Parsed)
	assert.Equal(t, "get fit", plan.OriginalResolution)
	assert.Equal(t, "3x/week", plan.WeeklyTarget)
	assert.Equal(t, "3x/week", plan.Proposal()["weekly_target"])

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, GoalSettingName)
	assert.Contains(t, calls[0].User, "nurse")
}

func TestGoalSetting_GenerationFailure(t *testing.T) {
	boom := errors.New("boom")
	plan, err := NewGoalSetting(llm.NewFailing(boom)).Analyze(context.Background(), GoalInput{Resolution: "x"})
	require.ErrorIs(t, err, boom)
	assert.False(t, plan.Parsed)
}

func TestFailurePattern_Learning(t *testing.T) {
	gen := llm.NewStatic(`{"identified_patterns":["week 3 cliff"],"quit_probability":0.7,"confidence":0.6}`)
	r, err := NewFailurePattern(gen).Analyze(context.Background(), FailureInput{PastAttempts: "quit twice"})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, r.QuitProbability, 1e-9)

	content, conf, ok := r.Learning()
	require.True(t, ok)
	assert.Equal(t, []string{"week 3 cliff"}, content["patterns"])
	assert.InDelta(t, 0.6, conf, 1e-9)

	_, _, ok = FailureRisk{}.Learning()
	assert.False(t, ok)
}

func TestFailurePattern_MemoryInPrompt(t *testing.T) {
	gen := llm.NewStatic(`{}`)
	snap := memory.NewSnapshot([]memory.Fact{{
		AgentName:    FailurePatternName,
		LearningType: LearningFailurePattern,
		Content:      map[string]any{"patterns": []any{"all-or-nothing"}},
		Confidence:   0.9,
	}})
	_, err := NewFailurePattern(gen).Analyze(context.Background(), FailureInput{Memory: snap})
	require.NoError(t, err)
	assert.Contains(t, gen.Calls()[0].User, "- all-or-nothing")
}

func TestProgressMetrics(t *testing.T) {
	m := Metrics(ProgressInput{
		Completed:   1,
		Target:      3,
		Adherence:   1.0 / 3,
		SkipPattern: []bool{true, false, false, true, false, false, false},
	})
	assert.Equal(t, 2, m.Deficit)
	assert.Equal(t, 3, m.ConsecutiveSkips)
	assert.Equal(t, 3, m.MaxSkipStreak)
	assert.Equal(t, 7, m.TotalDaysTracked)
	assert.InDelta(t, 2.0/7, m.ConsistencyScore, 1e-9)

	assert.Equal(t, 0, ConsecutiveSkips(nil))
}

func TestProgressTracking_UsesKnowledge(t *testing.T) {
	kb := &fakeKB{chunks: []retrieval.Chunk{{Text: "habits take 66 days", Category: retrieval.CategoryPsychology, Relevance: 0.9}}}
	gen := llm.NewStatic(`{"overall_assessment":"concerning","concerns":["skips"]}`)

	p, err := NewProgressTracking(gen, kb).Analyze(context.Background(), ProgressInput{CurrentWeek: 2, Target: 3})
	require.NoError(t, err)
	assert.Equal(t, "stable", p.Trend)
	assert.Equal(t, []string{"skips"}, p.Concerns)
	assert.Equal(t, []string{retrieval.CategoryPsychology + ":" + HabitQuery(2, 0)}, kb.queries)
	assert.Contains(t, gen.Calls()[0].System, "habits take 66 days")
}

func TestBiometric_Readiness(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  float64
	}{
		{"nested readiness", `{"analysis":{"readiness":0.42,"recovery_status":"strained"},"insights":["short sleep"]}`, 0.42},
		{"missing readiness", `{"insights":[]}`, DefaultReadiness},
		{"clamped", `{"analysis":{"readiness":1.7}}`, 1},
		{"unparseable", `not json`, DefaultReadiness},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewBiometric(llm.NewStatic(tt.reply)).Analyze(context.Background(), BiometricInput{})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, r.Score, 1e-9)
		})
	}
}

func TestReadiness_Learning(t *testing.T) {
	content, ok := Readiness{Score: 0.5, Insights: []string{"sleeps late on Sundays"}}.Learning()
	require.True(t, ok)
	assert.Equal(t, "sleeps late on Sundays", content["insight"])

	_, ok = Readiness{}.Learning()
	assert.False(t, ok)
}

func TestHolisticHealth_FocusShift(t *testing.T) {
	gen := llm.NewStatic(`{"health_balance_score":40,"dimension_status":{"sleep":"critical"},"focus_shift_recommendation":{"should_shift":true,"target_focus":"SLEEP","duration_days":2,"reason":"three short nights"}}`)
	b, err := NewHolisticHealth(gen).Analyze(context.Background(), "fitness", profile.CheckIn{SleepQuality: 1}, 0.3)
	require.NoError(t, err)
	assert.True(t, b.Shift.ShouldShift)
	assert.Equal(t, "sleep", b.Shift.TargetFocus)
	assert.Equal(t, 2, b.Shift.DurationDays)
	assert.Equal(t, "critical", b.Dimensions["sleep"])
	assert.Contains(t, gen.Calls()[0].System, "PRIMARY GOAL: FITNESS")
}

func TestBarrierDetection(t *testing.T) {
	t.Run("legacy categories", func(t *testing.T) {
		gen := llm.NewStatic(`{"barriers":["long shifts","work stress"],"categories":["TIME","Boredom"],"primary_barrier":"long shifts"}`)
		b, err := NewBarrierDetection(gen).Analyze(context.Background(), BarrierInput{MissedWorkouts: 3})
		require.NoError(t, err)
		assert.True(t, b.Detected)
		assert.True(t, b.Has(BarrierTime))
		assert.True(t, b.Has(BarrierMonotony))
		assert.True(t, b.MentionsStress())
		assert.Contains(t, gen.Calls()[0].User, `"missed_workouts": 3`)
	})

	t.Run("explicit detected flag wins", func(t *testing.T) {
		gen := llm.NewStatic(`{"detected":false,"barriers":["none really"]}`)
		b, err := NewBarrierDetection(gen).Analyze(context.Background(), BarrierInput{})
		require.NoError(t, err)
		assert.False(t, b.Detected)
	})

	t.Run("no barriers", func(t *testing.T) {
		b, err := NewBarrierDetection(llm.NewStatic(`{}`)).Analyze(context.Background(), BarrierInput{})
		require.NoError(t, err)
		assert.False(t, b.Detected)
		assert.Empty(t, b.Barriers)
		assert.False(t, b.MentionsStress())
	})
}

func TestMotivation_State(t *testing.T) {
	m, err := NewMotivation(llm.NewStatic(`{"state":"low","motivation_drop":true}`)).Analyze(context.Background(), MotivationInput{DaysInactive: 4})
	require.NoError(t, err)
	assert.Equal(t, MotivationLow, m.State)
	assert.True(t, m.Drop)

	m, err = NewMotivation(llm.NewStatic(`???`)).Analyze(context.Background(), MotivationInput{})
	require.NoError(t, err)
	assert.Equal(t, MotivationUnknown, m.State)
	assert.False(t, m.Parsed)
}

func TestWorkoutModification_NoRisk(t *testing.T) {
	gen := llm.NewStatic(`{}`)
	w := NewWorkoutModification(gen, nil)
	workout := &Workout{Intensity: "moderate", Exercises: []Exercise{{Name: "Goblet squat"}, {Name: "Push-ups"}}}

	mod, err := w.Modify(context.Background(), WorkoutInput{
		Workout: workout,
		Profile: &profile.Profile{Age: 30, FitnessLevel: "intermediate"},
		CheckIn: profile.CheckIn{SleepQuality: 4, StressLevel: "low"},
	})
	require.NoError(t, err)
	assert.False(t, mod.Modified)
	assert.Same(t, workout, mod.Workout)
	assert.InDelta(t, 1-risk.FloorScore*0.3, mod.SafetyScore, 1e-9)
	assert.Empty(t, gen.Calls())
}

func TestWorkoutModification_ModelReply(t *testing.T) {
	kb := &fakeKB{chunks: []retrieval.Chunk{{Text: "keep knees tracking toes", Relevance: 0.8}}}
	gen := llm.NewStatic(`{"modified":true,"modified_workout":[{"name":"Box squat","sets":3,"reps":8,"form_cues":["sit back"]}],"modifications":["Swapped barbell squat"],"reasoning":"knee","confidence":0.9}`)
	w := NewWorkoutModification(gen, kb)
	workout := &Workout{Intensity: "high", Exercises: []Exercise{{Name: "Barbell back squat", Sets: 4, Reps: 6}}}

	mod, err := w.Modify(context.Background(), WorkoutInput{
		Workout: workout,
		Profile: &profile.Profile{Injuries: []string{"left knee"}},
	})
	require.NoError(t, err)
	assert.True(t, mod.Modified)
	assert.Equal(t, []string{"Box squat"}, mod.Workout.Names())
	assert.Equal(t, "Barbell back squat", workout.Exercises[0].Name, "input workout untouched")
	assert.Equal(t, risk.SafetyScore(mod.Assessment, []string{"Box squat"}), mod.SafetyScore)

	// injury_history, fitness_level and sleep are the first three risk
	// types, so the high-risk movement lookup is skipped.
	assert.Equal(t, []string{
		retrieval.CategoryFitness + ":left knee injury prevention exercise modification",
		retrieval.CategoryRecovery + ":exercise modification poor sleep recovery",
	}, kb.queries)
	assert.Contains(t, gen.Calls()[0].System, "keep knees tracking toes")
	assert.InDelta(t, 0.1, gen.Calls()[0].Opts.Temperature, 1e-9)
	assert.Equal(t, 2000, gen.Calls()[0].Opts.MaxTokens)
}

func TestWorkoutModification_Fallback(t *testing.T) {
	workout := &Workout{Exercises: []Exercise{{Name: "Barbell back squat"}, {Name: "Plank"}}}
	in := WorkoutInput{Workout: workout, CheckIn: profile.CheckIn{SleepQuality: 1}}

	t.Run("unparseable reply", func(t *testing.T) {
		mod, err := NewWorkoutModification(llm.NewStatic("sorry"), nil).Modify(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, mod.Modified)
		assert.Equal(t, []string{"goblet squat", "Plank"}, mod.Workout.Names())
		assert.Equal(t, NoGuidelines, mod.Guidelines)
	})

	t.Run("generation failure", func(t *testing.T) {
		boom := errors.New("boom")
		mod, err := NewWorkoutModification(llm.NewFailing(boom), nil).Modify(context.Background(), in)
		require.ErrorIs(t, err, boom)
		for _, name := range mod.Workout.Names() {
			assert.False(t, risk.IsHighRisk(name), name)
		}
	})
}

func TestTaskGeneration(t *testing.T) {
	plan := NewPlanner().Generate(GoalFitness, PlanInput{Readiness: 0.7})

	t.Run("drops out of scope tasks", func(t *testing.T) {
		gen := llm.NewStatic(`{"tasks":[{"time":"morning","category":"workout","task":"30 min fitness walk"},{"time":"noon","category":"other","task":"Review your financial plan"}]}`)
		list, err := NewTaskGeneration(gen).Generate(context.Background(), TaskInput{Goal: "fitness", Plan: plan})
		require.NoError(t, err)
		require.Len(t, list.Tasks, 1)
		assert.Equal(t, "30 min fitness walk", list.Tasks[0].Task)
		assert.Equal(t, "medium", list.Tasks[0].Priority)
		assert.Equal(t, []string{"Review your financial plan"}, list.Rejected)
		assert.False(t, list.Fallback)
	})

	t.Run("falls back to plan tasks", func(t *testing.T) {
		list, err := NewTaskGeneration(llm.NewStatic("nope")).Generate(context.Background(), TaskInput{Plan: plan})
		require.NoError(t, err)
		assert.True(t, list.Fallback)
		assert.Equal(t, plan.Tasks, list.Tasks)
	})
}

func TestCalendar_Check(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	s := NewCalendar().Check([]Event{
		{Title: "standup", Start: at(9, 0), End: at(9, 30)},
		{Title: "review", Start: at(9, 15), End: at(10, 0)},
		{Title: "dinner", Start: at(18, 0), End: at(19, 0)},
		{Title: "yesterday", Start: at(-10, 0), End: at(-9, 0)},
	}, day)

	require.Len(t, s.Conflicts, 1)
	assert.Equal(t, "standup", s.Conflicts[0].First)
	assert.Equal(t, "review", s.Conflicts[0].Second)
	assert.Equal(t, 15*time.Minute, s.Conflicts[0].Overlap)
	assert.Equal(t, 120, s.BusyMinutes)
	assert.Equal(t, []Window{
		{Start: at(6, 0), End: at(9, 0)},
		{Start: at(10, 0), End: at(18, 0)},
		{Start: at(19, 0), End: at(21, 0)},
	}, s.FreeWindows)

	slot, ok := s.Slot(45, at(18, 0))
	require.True(t, ok)
	assert.Equal(t, at(6, 0), slot, "preferred time is busy, first fitting window wins")

	slot, ok = s.Slot(60, at(12, 0))
	require.True(t, ok)
	assert.Equal(t, at(12, 0), slot)

	_, ok = s.Slot(600, at(12, 0))
	assert.False(t, ok)
}

func TestRoster_NilRetriever(t *testing.T) {
	r := NewRoster(agent.GeneratorFunc(func(context.Context, string, string, agent.Options) (string, error) {
		return "{}", nil
	}), nil)
	require.NotNil(t, r.Workout)
	_, err := r.Progress.Analyze(context.Background(), ProgressInput{})
	require.NoError(t, err)
}

func TestWorkoutMemory(t *testing.T) {
	assert.Equal(t, "No relevant memory found.", workoutMemory(memory.Snapshot{}))

	snap := memory.NewSnapshot([]memory.Fact{
		{AgentName: WorkoutModificationName, LearningType: LearningFeedback, Content: map[string]any{"feedback": "lunges hurt"}, Confidence: 1},
	})
	got := workoutMemory(snap)
	assert.True(t, strings.HasPrefix(got, "PAST FEEDBACK:"))
	assert.Contains(t, got, "- lunges hurt")
}
