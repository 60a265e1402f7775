package agents

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_For(t *testing.T) {
	p := NewPlanner()
	for _, goal := range []string{GoalFitness, GoalSleep, GoalStress, GoalWellness} {
		assert.Equal(t, goal, p.For(goal).Goal())
	}
	assert.Equal(t, GoalSleep, p.For(" Sleep ").Goal())
	assert.Equal(t, GoalWellness, p.For("weight_loss").Goal())
	assert.Equal(t, GoalWellness, p.For("").Goal())
}

func TestFitnessPlan_Intensity(t *testing.T) {
	tests := []struct {
		readiness float64
		intensity string
		minutes   int
	}{
		{0.9, "high", 60},
		{0.8, "high", 60},
		{0.65, "moderate", 45},
		{0.3, "light", 30},
	}
	for _, tt := range tests {
		plan := NewPlanner().Generate(GoalFitness, PlanInput{Readiness: tt.readiness, CheckIn: profile.CheckIn{SleepQuality: 4}})
		require.NotNil(t, plan.Workout)
		assert.Equal(t, tt.intensity, plan.Workout.Intensity)
		assert.Equal(t, tt.minutes, plan.Workout.DurationMinutes)
		assert.Equal(t, "6:00 PM", plan.Workout.ScheduledTime)
		assert.NotEmpty(t, plan.Workout.Exercises)
	}
}

func TestFitnessPlan_LowSleep(t *testing.T) {
	plan := NewPlanner().Generate(GoalFitness, PlanInput{Name: "Sam", Readiness: 0.4, CheckIn: profile.CheckIn{SleepQuality: 2}})

	assert.Contains(t, plan.Briefing, "Good morning, Sam!")
	assert.Contains(t, plan.Briefing, "Sleep was low (2/5) - workout adjusted to light intensity")
	assert.Contains(t, plan.Briefing, "Sleep target tonight: 10:30 PM for optimal recovery")

	last := plan.Tasks[len(plan.Tasks)-1]
	assert.Equal(t, "9:30 PM", last.Time)
	assert.Equal(t, "sleep", last.Category)
	assert.Equal(t, map[string]float64{"primary": 0.7, "supporting": 0.3}, plan.FocusSplit)
}

func TestFitnessPlan_UsesFreeWindow(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	sched := NewCalendar().Check([]Event{
		{Title: "shift", Start: day.Add(6 * time.Hour), End: day.Add(19 * time.Hour)},
	}, day)

	plan := NewPlanner().Generate(GoalFitness, PlanInput{Readiness: 0.7, Schedule: sched, Day: day})
	assert.Equal(t, "7:00 PM", plan.Workout.ScheduledTime)
}

func TestPlans_PrioritizeInterventions(t *testing.T) {
	in := PlanInput{Interventions: []Intervention{
		{Type: "stress", Severity: "medium"},
		{Type: "sleep", Severity: "high"},
		{Type: "recovery", Severity: "medium"},
		{Type: "barrier", Severity: "medium"},
	}}
	types := func(is []Intervention) []string {
		out := make([]string, len(is))
		for i, v := range is {
			out[i] = v.Type
		}
		return out
	}

	p := NewPlanner()
	assert.Equal(t, []string{"recovery", "barrier", "sleep", "stress"}, types(p.Generate(GoalFitness, in).Interventions))
	assert.Equal(t, []string{"sleep", "stress", "recovery", "barrier"}, types(p.Generate(GoalSleep, in).Interventions))
	assert.Equal(t, []string{"stress", "sleep", "barrier", "recovery"}, types(p.Generate(GoalStress, in).Interventions))
	// Wellness ranks barriers first, then breaks ties on severity.
	assert.Equal(t, []string{"barrier", "sleep", "stress", "recovery"}, types(p.Generate(GoalWellness, in).Interventions))

	assert.Equal(t, "stress", in.Interventions[0].Type, "input order untouched")
}

func TestSleepPlan(t *testing.T) {
	plan := NewPlanner().Generate(GoalSleep, PlanInput{Name: "Ana", CheckIn: profile.CheckIn{SleepHours: 6, SleepQuality: 2}})

	assert.Nil(t, plan.Workout)
	assert.Contains(t, plan.Briefing, "Morning, Ana!")
	assert.Contains(t, plan.Briefing, "You slept 6.0h last night (target: 7.5h)")
	assert.Contains(t, plan.Briefing, "Sleep quality was low (2/5)")
	assert.InDelta(t, 1.5, plan.PrimaryFocus["sleep_debt"], 1e-9)
	schedule := plan.PrimaryFocus["sleep_schedule"].(map[string]any)
	assert.Equal(t, "11:30 PM", schedule["target_bedtime"])
}

func TestStressPlan(t *testing.T) {
	high := NewPlanner().Generate(GoalStress, PlanInput{CheckIn: profile.CheckIn{StressLevel: "high", SleepQuality: 2}})
	assert.Contains(t, high.Briefing, "Stress level is high")
	assert.Contains(t, high.Briefing, "Morning meditation: 15 min")
	assert.Contains(t, high.Briefing, "stress sensitivity")
	breathing := 0
	for _, task := range high.Tasks {
		if task.Category == "breathing" {
			breathing++
		}
	}
	assert.Equal(t, 4, breathing)

	low := NewPlanner().Generate(GoalStress, PlanInput{CheckIn: profile.CheckIn{SleepQuality: 4}})
	assert.Contains(t, low.Briefing, "Stress level: low")
	assert.Contains(t, low.Briefing, "2 breathing exercise breaks (11:00 AM, 3:00 PM)")
}

func TestWellnessPlan(t *testing.T) {
	plan := NewPlanner().Generate("unknown_goal", PlanInput{})
	assert.Equal(t, GoalWellness, plan.GoalType)
	assert.Contains(t, plan.Briefing, "Good morning, there!")
	assert.Contains(t, plan.Briefing, "Focus: Sustainable health across all dimensions")
	assert.Len(t, plan.Tasks, 7)
	assert.Equal(t, map[string]float64{"balanced": 1.0}, plan.FocusSplit)
}
