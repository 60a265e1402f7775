package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticGen(out string, err error) GeneratorFunc {
	return func(context.Context, string, string, Options) (string, error) {
		return out, err
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "plain object",
			raw:  `{"a":1}`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "fenced block",
			raw:  "```json\n{\"a\":1}\n```",
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "prose around object",
			raw:  "Here is the plan:\n{\"goal\": \"run\", \"nested\": {\"x\": true}}\nGood luck!",
			want: map[string]any{"goal": "run", "nested": map[string]any{"x": true}},
		},
		{
			name: "garbage",
			raw:  "I cannot answer that.",
			want: map[string]any{"error": ParseFailure, "raw_response": "I cannot answer that."},
		},
		{
			name: "broken object",
			raw:  "{\"a\": ",
			want: map[string]any{"error": ParseFailure, "raw_response": "{\"a\": "},
		},
		{
			name: "json null",
			raw:  "null",
			want: map[string]any{"error": ParseFailure, "raw_response": "null"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseJSON(tt.raw))
		})
	}
}

func TestDecode(t *testing.T) {
	type goal struct {
		InterpretedGoal string `json:"interpreted_goal"`
		WeeklyTarget    string `json:"weekly_target"`
	}

	got, unparsed := Decode[goal]("```json\n{\"interpreted_goal\":\"lose 20 lbs\",\"weekly_target\":\"3x/week\"}\n```")
	require.Nil(t, unparsed)
	assert.Equal(t, goal{InterpretedGoal: "lose 20 lbs", WeeklyTarget: "3x/week"}, got)

	got, unparsed = Decode[goal]("not json at all")
	require.NotNil(t, unparsed)
	assert.Equal(t, goal{}, got)
	assert.Equal(t, "not json at all", unparsed.Raw)
	assert.Equal(t, map[string]any{"error": ParseFailure, "raw_response": "not json at all"}, unparsed.Sentinel())
	assert.ErrorIs(t, unparsed, errNoJSON)

	for _, raw := range []string{"null", "  null\n", "```json\nnull\n```"} {
		got, unparsed = Decode[goal](raw)
		require.NotNil(t, unparsed, "raw %q", raw)
		assert.Equal(t, goal{}, got)
		assert.Equal(t, raw, unparsed.Raw)

		m, failed := Decode[map[string]any](raw)
		require.NotNil(t, failed, "raw %q", raw)
		assert.Nil(t, m)
	}
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel(ParseJSON("nope")))
	assert.Equal(t, ParseFailure, SentinelError(ParseJSON("nope")))
	assert.False(t, IsSentinel(map[string]any{"error": "x"}))
	assert.False(t, IsSentinel(nil))
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	a := New("Goal Setting Agent", "sets goals", "goal setting", staticGen(`{"goal_analysis":{"interpreted_goal":"lose 20 lbs"}}`, nil))
	out, err := a.Analyze(ctx, "sys", "user", Options{})
	require.NoError(t, err)
	assert.Equal(t, "lose 20 lbs", Str(Map(out, "goal_analysis"), "interpreted_goal"))

	failing := New("Goal Setting Agent", "sets goals", "goal setting", staticGen("", errors.New("rate limited")))
	out, err = failing.Analyze(ctx, "sys", "user", Options{})
	require.Error(t, err)
	assert.Equal(t, map[string]any{"error": "rate limited", "raw_response": nil}, out)
	assert.True(t, IsSentinel(out))

	garbled := New("Goal Setting Agent", "sets goals", "goal setting", staticGen("sorry", nil))
	out, err = garbled.Analyze(ctx, "sys", "user", Options{})
	require.NoError(t, err)
	assert.Equal(t, ParseFailure, SentinelError(out))
}

func TestAnalyze_AppliesDefaultOptions(t *testing.T) {
	var seen Options
	gen := GeneratorFunc(func(_ context.Context, _, _ string, opts Options) (string, error) {
		seen = opts
		return "{}", nil
	})

	_, err := New("a", "b", "c", gen).Analyze(context.Background(), "s", "u", Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), seen)

	_, err = New("a", "b", "c", gen).Analyze(context.Background(), "s", "u", Options{Temperature: 0.4})
	require.NoError(t, err)
	assert.Equal(t, Options{Temperature: 0.4, MaxTokens: 1000}, seen)
}

func TestChallenge(t *testing.T) {
	ctx := context.Background()
	a := New("Failure Pattern Agent", "spots quitting patterns", "failure patterns",
		staticGen("```json\n{\"stance\":\"Challenge\",\"reasoning\":\"too aggressive\",\"concerns\":[\"burnout\",\"week 4 drop\"],\"counter_proposal\":\"start with 2x/week\",\"confidence\":0.85}\n```", nil))
	a.Focus = FocusRisk

	c, err := a.Challenge(ctx, map[string]any{"weekly_target": "5x/week"}, map[string]any{"past_attempts": "quit"})
	require.NoError(t, err)
	assert.Equal(t, StanceChallenge, c.Stance)
	assert.Equal(t, "Failure Pattern Agent", c.Agent)
	assert.Equal(t, FocusRisk, c.Focus)
	assert.Equal(t, []string{"burnout", "week 4 drop"}, c.Concerns)
	assert.Equal(t, "start with 2x/week", c.CounterProposal)
	assert.InDelta(t, 0.85, c.Confidence, 1e-9)
	assert.True(t, c.Opposes())
}

func TestChallenge_UnparseableDefaults(t *testing.T) {
	a := New("Sleep Agent", "sleep", "sleep", staticGen("no idea", nil))

	c, err := a.Challenge(context.Background(), map[string]any{}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, StanceUnknown, c.Stance)
	assert.Equal(t, 0.5, c.Confidence)
	assert.Empty(t, c.Concerns)
	assert.NotNil(t, c.Concerns)
	assert.True(t, IsSentinel(c.Raw))
	assert.False(t, c.Opposes())
}

func TestChallenge_GenerationError(t *testing.T) {
	a := New("Sleep Agent", "sleep", "sleep", staticGen("", context.DeadlineExceeded))

	c, err := a.Challenge(context.Background(), nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StanceUnknown, c.Stance)
}

func TestUserContext(t *testing.T) {
	assert.Equal(t, NoUserContext, UserContext(nil))
	assert.Equal(t, NoUserContext, UserContext(&profile.Profile{UserID: "1"}))

	got := UserContext(&profile.Profile{Age: 30, Gender: "female", CycleDay: 10})
	assert.Equal(t, "Age: 30\nGender: female\nMenstrual cycle: Day 10 (Follicular - High Energy Phase)\n"+
		"Peak performance window. Push intensity, try PRs.", got)

	assert.Equal(t, "Age: 55\nGender: male\nConsider: Recovery takes longer, joint health",
		UserContext(&profile.Profile{Age: 55, Gender: "male", CycleDay: 3}))
	assert.Equal(t, "Age: 22\nConsider: Hormonal changes, growth spurt",
		UserContext(&profile.Profile{Age: 22}))
}

func TestCyclePhase(t *testing.T) {
	cases := map[int]string{
		0:  PhaseUnknown,
		1:  PhaseMenstruation,
		5:  PhaseMenstruation,
		6:  PhaseFollicular,
		14: PhaseFollicular,
		15: PhaseOvulation,
		17: PhaseOvulation,
		18: PhaseLuteal,
		28: PhaseLuteal,
		29: PhaseUnknown,
	}
	for day, want := range cases {
		assert.Equal(t, want, CyclePhase(day), "day %d", day)
	}
	assert.Empty(t, PhaseConsiderations(PhaseUnknown))
	assert.NotEmpty(t, PhaseConsiderations(PhaseLuteal))
}

func TestValidateTask(t *testing.T) {
	v := ValidateTask("Review your financial plan for the gym", "fitness")
	assert.False(t, v.Approved)
	assert.Equal(t, []string{"Contains out-of-scope topic: financial"}, v.Reasons)

	v = ValidateTask("Walk 20 minutes after lunch", "fitness")
	assert.True(t, v.Approved)
	assert.Equal(t, []string{"Task doesn't explicitly reference the user's primary health goal"}, v.Reasons)

	v = ValidateTask("Fitness: 3 sets of squats", "fitness")
	assert.True(t, v.Approved)
	assert.Empty(t, v.Reasons)
}

func TestIsOutOfScope(t *testing.T) {
	topic, ok := IsOutOfScope("Can you help with my career change?")
	assert.True(t, ok)
	assert.Equal(t, "career", topic)

	topic, ok = IsOutOfScope("I need academic tutoring for calculus")
	assert.True(t, ok)
	assert.Equal(t, "academic_tutoring", topic)

	_, ok = IsOutOfScope("How do I sleep better?")
	assert.False(t, ok)
}

func TestAgentPrompt(t *testing.T) {
	a := New("Sleep Agent", "sleep", "sleep optimization", nil)
	assert.Contains(t, a.SystemPrompt("Return JSON."), "You are the Sleep Agent specializing in sleep optimization.")
	assert.Contains(t, CoordinatorSystemPrompt, GoldenRule)

	_, err := a.Generate(context.Background(), "s", "u", Options{})
	assert.Error(t, err)
}
