package agents

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/profile"
)

// Goal types with a dedicated plan generator.
const (
	GoalFitness  = "fitness"
	GoalSleep    = "sleep"
	GoalStress   = "stress"
	GoalWellness = "wellness"
)

// Intervention is one adjustment raised during a daily check.
type Intervention struct {
	Type           string   `json:"type"`
	Severity       string   `json:"severity"`
	Recommendation string   `json:"recommendation"`
	Actions        []string `json:"actions"`
}

// Exercise is one movement of a workout.
type Exercise struct {
	Name         string   `json:"name"`
	Sets         int      `json:"sets"`
	Reps         int      `json:"reps"`
	Intensity    string   `json:"intensity,omitempty"`
	FormCues     []string `json:"form_cues,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Workout is the day's training session.
type Workout struct {
	Type            string     `json:"type"`
	Intensity       string     `json:"intensity"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledTime   string     `json:"scheduled_time"`
	Exercises       []Exercise `json:"exercises"`
}

// Names lists the exercise names.
func (w *Workout) Names() []string {
	if w == nil {
		return nil
	}
	out := make([]string, len(w.Exercises))
	for i, e := range w.Exercises {
		out[i] = e.Name
	}
	return out
}

// Task is one actionable item of the day.
type Task struct {
	Time     string `json:"time"`
	Category string `json:"category"`
	Task     string `json:"task"`
	Priority string `json:"priority"`
}

// DailyPlan is a generated plan for one day.
type DailyPlan struct {
	GoalType      string             `json:"goal_type"`
	Workout       *Workout           `json:"workout,omitempty"`
	PrimaryFocus  map[string]any     `json:"primary_focus"`
	Supporting    map[string]any     `json:"supporting_activities"`
	Briefing      string             `json:"morning_briefing"`
	Tasks         []Task             `json:"tasks"`
	Interventions []Intervention     `json:"interventions"`
	FocusSplit    map[string]float64 `json:"focus_split"`
}

// PlanInput is what a plan generator needs.
type PlanInput struct {
	Name          string
	Profile       *profile.Profile
	Readiness     float64
	CheckIn       profile.CheckIn
	Interventions []Intervention
	Schedule      Schedule
	Day           time.Time
}

// PlanGenerator builds a plan for one goal type.
type PlanGenerator interface {
	Goal() string
	Generate(in PlanInput) DailyPlan
}

// Planner routes to the generator for a goal, falling back to wellness.
type Planner struct {
	generators map[string]PlanGenerator
}

func NewPlanner() *Planner {
	p := &Planner{generators: map[string]PlanGenerator{}}
	for _, g := range []PlanGenerator{fitnessPlan{}, sleepPlan{}, stressPlan{}, wellnessPlan{}} {
		p.generators[g.Goal()] = g
	}
	return p
}

// For returns the generator for goal.
func (p *Planner) For(goal string) PlanGenerator {
	if g, ok := p.generators[strings.ToLower(strings.TrimSpace(goal))]; ok {
		return g
	}
	return p.generators[GoalWellness]
}

// Generate builds goal's plan.
func (p *Planner) Generate(goal string, in PlanInput) DailyPlan {
	if in.Name == "" {
		in.Name = "there"
	}
	if in.Day.IsZero() {
		in.Day = time.Now()
	}
	return p.For(goal).Generate(in)
}

var severityRank = map[string]int{"high": 3, "medium": 2, "low": 1}

// prioritize orders interventions by the goal's priority table, then by
// severity. The input is not modified.
func prioritize(in []Intervention, priorities map[string]int, fallback int) []Intervention {
	out := append([]Intervention{}, in...)
	rank := func(i Intervention) int {
		if p, ok := priorities[i.Type]; ok {
			return p
		}
		return fallback
	}
	sort.SliceStable(out, func(i, j int) bool {
		if rank(out[i]) != rank(out[j]) {
			return rank(out[i]) > rank(out[j])
		}
		return severityRank[out[i].Severity] > severityRank[out[j].Severity]
	})
	return out
}

func clock(t time.Time) string { return t.Format("3:04 PM") }

func sleepQuality(c profile.CheckIn) int {
	if c.SleepQuality <= 0 {
		return 3
	}
	return c.SleepQuality
}

func title(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type fitnessPlan struct{}

func (fitnessPlan) Goal() string { return GoalFitness }

var fitnessPriorities = map[string]int{"recovery": 10, "nutrition": 9, "barrier": 8, "sleep": 7, "stress": 6}

var sessions = map[string][]Exercise{
	"high": {
		{Name: "Barbell back squat", Sets: 4, Reps: 6},
		{Name: "Dumbbell bench press", Sets: 3, Reps: 10},
		{Name: "Bent-over row", Sets: 3, Reps: 10},
		{Name: "Plank", Sets: 3, Reps: 1},
	},
	"moderate": {
		{Name: "Goblet squat", Sets: 3, Reps: 10},
		{Name: "Push-ups", Sets: 3, Reps: 10},
		{Name: "Dumbbell row", Sets: 3, Reps: 12},
		{Name: "Plank", Sets: 3, Reps: 1},
	},
	"light": {
		{Name: "Brisk walk", Sets: 1, Reps: 1},
		{Name: "Bodyweight squat", Sets: 2, Reps: 12},
		{Name: "Stretching", Sets: 1, Reps: 1},
	},
}

func (fitnessPlan) Generate(in PlanInput) DailyPlan {
	intensity, minutes := "light", 30
	switch {
	case in.Readiness >= 0.8:
		intensity, minutes = "high", 60
	case in.Readiness >= 0.6:
		intensity, minutes = "moderate", 45
	}

	preferred := time.Date(in.Day.Year(), in.Day.Month(), in.Day.Day(), 18, 0, 0, 0, in.Day.Location())
	scheduled := "6:00 PM"
	if len(in.Schedule.FreeWindows) > 0 {
		if slot, ok := in.Schedule.Slot(minutes, preferred); ok {
			scheduled = clock(slot)
		}
	}

	workout := &Workout{
		Type:            "general",
		Intensity:       intensity,
		DurationMinutes: minutes,
		ScheduledTime:   scheduled,
		Exercises:       append([]Exercise{}, sessions[intensity]...),
	}
	nutrition := map[string]any{
		"calories":      2000,
		"protein_grams": 150,
		"carbs_grams":   200,
		"fat_grams":     70,
		"meal_timing":   "3 balanced meals",
	}

	quality := sleepQuality(in.CheckIn)
	sleepPriority := "low"
	if quality < 3 {
		sleepPriority = "high"
	}
	supporting := map[string]any{
		"sleep_optimization": map[string]any{"priority": sleepPriority},
		"recovery": map[string]any{
			"stretching":      "10 minutes post-workout",
			"hydration":       "3L water target",
			"active_recovery": "20-minute walk if feeling good",
		},
	}
	if in.CheckIn.StressLevel == "high" || in.CheckIn.StressLevel == "very_high" {
		supporting["stress_management"] = map[string]any{
			"priority":       "medium",
			"recommendation": "High stress can impair workout performance. Consider lighter session.",
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Good morning, %s!\n\n", in.Name)
	fmt.Fprintf(&b, "Today's focus: %s (%s intensity)\n", title(workout.Type), intensity)
	fmt.Fprintf(&b, "Workout: %d min at %s\n", minutes, scheduled)
	fmt.Fprintf(&b, "Nutrition: %d cal target, %dg protein\n\n", 2000, 150)
	if quality < 3 {
		fmt.Fprintf(&b, "Sleep was low (%d/5) - workout adjusted to %s intensity\n", quality, intensity)
	}
	b.WriteString("\nSleep target tonight: 10:30 PM for optimal recovery")

	tasks := []Task{
		{Time: "morning", Category: "nutrition", Task: "Breakfast: Protein-rich meal (50g protein target)", Priority: "high"},
		{Time: scheduled, Category: "workout", Task: fmt.Sprintf("%s workout - %d min", title(workout.Type), minutes), Priority: "critical"},
		{Time: "throughout_day", Category: "nutrition", Task: "Track meals - 2000 cal budget remaining", Priority: "high"},
		{Time: "evening", Category: "recovery", Task: "Post-workout: Stretching + protein shake", Priority: "medium"},
	}
	if sleepPriority == "high" {
		tasks = append(tasks, Task{Time: "9:30 PM", Category: "sleep", Task: "Wind-down routine (affects tomorrow's recovery)", Priority: "high"})
	}

	return DailyPlan{
		GoalType:      GoalFitness,
		Workout:       workout,
		PrimaryFocus:  map[string]any{"workout": workout, "nutrition": nutrition},
		Supporting:    supporting,
		Briefing:      b.String(),
		Tasks:         tasks,
		Interventions: prioritize(in.Interventions, fitnessPriorities, 5),
		FocusSplit:    map[string]float64{"primary": 0.7, "supporting": 0.3},
	}
}

type sleepPlan struct{}

func (sleepPlan) Goal() string { return GoalSleep }

var sleepPriorities = map[string]int{"sleep": 10, "stress": 8, "recovery": 6, "nutrition": 5}

const (
	sleepTargetHours = 7.5
	sleepBedtime     = "11:30 PM"
	sleepWindDown    = "10:30 PM"
	caffeineCutoff   = "2:00 PM"
)

func (sleepPlan) Generate(in PlanInput) DailyPlan {
	quality := sleepQuality(in.CheckIn)
	debt := max(0, sleepTargetHours-in.CheckIn.SleepHours)
	if in.CheckIn.SleepHours <= 0 {
		debt = 0
	}

	trend := "needs_attention"
	if quality >= 3 {
		trend = "improving"
	}
	primary := map[string]any{
		"tonight_protocol": map[string]any{
			"type": "quality_improvement",
			"steps": []string{
				"Morning: 15 min sunlight exposure",
				"Throughout day: No naps after 3 PM",
				"Evening: Consistent wind-down routine",
				"Bedtime: Same time every night (+/- 30 min)",
			},
		},
		"sleep_schedule": map[string]any{
			"target_bedtime":   sleepBedtime,
			"target_wake_time": "7:00 AM",
			"target_hours":     sleepTargetHours,
			"wind_down_start":  sleepWindDown,
		},
		"sleep_debt":         debt,
		"quality_assessment": map[string]any{"last_night": quality, "trend": trend},
	}

	movement := "20-minute morning walk (sunlight + movement improves sleep)"
	stressPriority := "medium"
	if in.CheckIn.StressLevel == "high" || in.CheckIn.StressLevel == "very_high" {
		stressPriority = "high"
	}
	supporting := map[string]any{
		"movement":  map[string]any{"recommendation": movement},
		"nutrition": map[string]any{"caffeine_cutoff": caffeineCutoff, "last_meal": "3 hours before bed"},
		"stress":    map[string]any{"priority": stressPriority, "recommendation": "Stress disrupts sleep - manage throughout day"},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Morning, %s!\n\n", in.Name)
	fmt.Fprintf(&b, "You slept %sh last night (target: %.1fh)\n", hours(in.CheckIn.SleepHours), sleepTargetHours)
	switch {
	case quality >= 4:
		fmt.Fprintf(&b, "Sleep quality was excellent (%d/5)! Keep it up.\n\n", quality)
	case quality >= 3:
		fmt.Fprintf(&b, "Sleep quality was decent (%d/5). Let's improve tonight.\n\n", quality)
	default:
		fmt.Fprintf(&b, "Sleep quality was low (%d/5). Today's plan optimizes tonight.\n\n", quality)
	}
	b.WriteString("Today's sleep-supporting activities:\n")
	fmt.Fprintf(&b, "- %s\n- Caffeine cutoff: %s\n- Wind-down starts: %s\n- Bedtime target: %s\n",
		movement, caffeineCutoff, sleepWindDown, sleepBedtime)

	tasks := []Task{
		{Time: "morning", Category: "circadian", Task: "15 min morning sunlight walk", Priority: "critical"},
		{Time: "midday", Category: "movement", Task: movement, Priority: "high"},
		{Time: caffeineCutoff, Category: "nutrition", Task: "Last call for caffeine (affects tonight's sleep)", Priority: "high"},
		{Time: "evening", Category: "nutrition", Task: "Dinner by 8:30 PM", Priority: "medium"},
		{Time: sleepWindDown, Category: "sleep", Task: "Start wind-down routine (dim lights, no screens)", Priority: "critical"},
		{Time: sleepBedtime, Category: "sleep", Task: "Bedtime - quality_improvement protocol", Priority: "critical"},
	}

	return DailyPlan{
		GoalType:      GoalSleep,
		PrimaryFocus:  primary,
		Supporting:    supporting,
		Briefing:      b.String(),
		Tasks:         tasks,
		Interventions: prioritize(in.Interventions, sleepPriorities, 4),
		FocusSplit:    map[string]float64{"primary": 0.7, "supporting": 0.3},
	}
}

type stressPlan struct{}

func (stressPlan) Goal() string { return GoalStress }

var stressPriorities = map[string]int{"stress": 10, "emotional": 9, "sleep": 8, "barrier": 7, "recovery": 5}

var breathingBreaks = map[int][]string{
	4: {"10:00 AM", "12:00 PM", "3:00 PM", "5:00 PM"},
	3: {"10:00 AM", "1:00 PM", "4:00 PM"},
	2: {"11:00 AM", "3:00 PM"},
}

func (stressPlan) Generate(in PlanInput) DailyPlan {
	level := orDefault(in.CheckIn.StressLevel, "low")
	meditation, breaks := 10, 2
	movement := "30-minute moderate exercise (stress relief without cortisol spike)"
	switch level {
	case "high", "very_high":
		meditation, breaks = 15, 4
		movement = "20-minute gentle walk or restorative yoga"
	case "medium", "moderate":
		breaks = 3
	}
	source := "general"
	if in.Profile != nil && in.Profile.Occupation != "" {
		source = "work"
	}
	times := breathingBreaks[breaks]

	primary := map[string]any{
		"assessment": map[string]any{"level": level, "primary_source": source},
		"meditation": map[string]any{"morning_minutes": meditation, "evening_minutes": meditation},
		"breathing":  map[string]any{"frequency": breaks, "scheduled_times": times},
	}
	supporting := map[string]any{
		"movement": map[string]any{
			"recommendation": movement,
			"avoid":          "HIIT or max intensity (elevates cortisol when already stressed)",
		},
	}

	quality := sleepQuality(in.CheckIn)
	var b strings.Builder
	fmt.Fprintf(&b, "Good morning, %s.\n\n", in.Name)
	if level == "high" || level == "very_high" {
		fmt.Fprintf(&b, "Stress level is %s. Today's plan focuses on managing this.\n\n", level)
	} else {
		fmt.Fprintf(&b, "Stress level: %s. Let's maintain balance today.\n\n", level)
	}
	fmt.Fprintf(&b, "Today's focus: %s stress management\n\n", source)
	b.WriteString("Scheduled support:\n")
	fmt.Fprintf(&b, "- Morning meditation: %d min (before checking phone)\n", meditation)
	fmt.Fprintf(&b, "- %d breathing exercise breaks (%s)\n", breaks, strings.Join(times, ", "))
	fmt.Fprintf(&b, "- %s\n\n", movement)
	if quality < 3 {
		fmt.Fprintf(&b, "Note: Sleep was low (%d/5) - this can increase stress sensitivity. Prioritize rest tonight.\n", quality)
	}

	tasks := []Task{
		{Time: "morning", Category: "meditation", Task: fmt.Sprintf("%d min mindfulness meditation", meditation), Priority: "critical"},
		{Time: "morning", Category: "emotional", Task: "Name one thing that is weighing on you and one thing you can control", Priority: "high"},
	}
	for _, t := range times {
		tasks = append(tasks, Task{Time: t, Category: "breathing", Task: "3-minute breathing exercise (Box Breathing or Physiological Sigh)", Priority: "high"})
	}
	tasks = append(tasks,
		Task{Time: "afternoon", Category: "movement", Task: movement, Priority: "medium"},
		Task{Time: "evening", Category: "meditation", Task: fmt.Sprintf("%d min relaxation meditation", meditation), Priority: "high"},
		Task{Time: "evening", Category: "reflection", Task: "5-minute reflection journal", Priority: "medium"},
	)

	return DailyPlan{
		GoalType:      GoalStress,
		PrimaryFocus:  primary,
		Supporting:    supporting,
		Briefing:      b.String(),
		Tasks:         tasks,
		Interventions: prioritize(in.Interventions, stressPriorities, 4),
		FocusSplit:    map[string]float64{"primary": 0.7, "supporting": 0.3},
	}
}

type wellnessPlan struct{}

func (wellnessPlan) Goal() string { return GoalWellness }

var wellnessPriorities = map[string]int{"barrier": 8, "sleep": 7, "stress": 7, "recovery": 7, "nutrition": 7}

const wellnessMovement = "30-45 min moderate exercise (builds energy without depletion)"

func (wellnessPlan) Generate(in PlanInput) DailyPlan {
	primary := map[string]any{
		"movement": map[string]any{
			"recommendation": wellnessMovement,
			"options":        []string{"Brisk walk", "Light jog", "Yoga flow", "Swimming", "Cycling"},
			"intensity":      "60-70% max heart rate",
		},
		"nutrition": map[string]any{
			"focus":       "Sustained energy and overall health",
			"meal_timing": "Regular meals every 3-4 hours",
		},
		"sleep": map[string]any{"target_hours": sleepTargetHours},
		"stress_management": map[string]any{
			"daily_practices": []string{"10-minute morning meditation", "Breathing breaks when needed", "Evening reflection/gratitude"},
		},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Good morning, %s!\n\n", in.Name)
	fmt.Fprintf(&b, "Energy level: %s | Sleep quality: %d/5\n\n", orDefault(in.CheckIn.EnergyLevel, "medium"), sleepQuality(in.CheckIn))
	b.WriteString("Today's balanced wellness plan:\n")
	fmt.Fprintf(&b, "- %s\n", wellnessMovement)
	b.WriteString("- Sustained energy and overall health\n")
	b.WriteString("- 10-minute morning meditation\n")
	fmt.Fprintf(&b, "- Sleep target: %.1f hours\n\n", sleepTargetHours)
	b.WriteString("Focus: Sustainable health across all dimensions")

	tasks := []Task{
		{Time: "morning", Category: "routine", Task: "Morning routine: Sunlight + movement + hydration", Priority: "high"},
		{Time: "morning", Category: "meditation", Task: "10-minute meditation", Priority: "medium"},
		{Time: "afternoon", Category: "movement", Task: wellnessMovement, Priority: "high"},
		{Time: "throughout_day", Category: "nutrition", Task: "Balanced meals every 3-4 hours", Priority: "medium"},
		{Time: "throughout_day", Category: "hydration", Task: "Water intake: 2-3L target", Priority: "medium"},
		{Time: "evening", Category: "reflection", Task: "5-minute gratitude/reflection", Priority: "low"},
		{Time: "evening", Category: "sleep", Task: fmt.Sprintf("Bedtime routine for %.1fh sleep", sleepTargetHours), Priority: "medium"},
	}

	return DailyPlan{
		GoalType:      GoalWellness,
		PrimaryFocus:  primary,
		Supporting:    map[string]any{},
		Briefing:      b.String(),
		Tasks:         tasks,
		Interventions: prioritize(in.Interventions, wellnessPriorities, 6),
		FocusSplit:    map[string]float64{"balanced": 1.0},
	}
}
