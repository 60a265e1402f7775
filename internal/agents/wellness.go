package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/profile"
)

// DefaultReadiness is assumed when the biometric reply carries no score.
const DefaultReadiness = 0.7

// Biometric rates training readiness from a self-reported check-in.
type Biometric struct {
	agent *agent.Agent
}

func NewBiometric(gen agent.Generator) *Biometric {
	a := agent.New(BiometricName,
		"Analyzes self-reported check-in data to determine training readiness",
		"assessing recovery and training readiness", gen)
	a.Focus = agent.FocusSafety
	return &Biometric{agent: a}
}

// BiometricInput is one morning's data.
type BiometricInput struct {
	CheckIn        profile.CheckIn
	RecentWorkouts int
	Profile        *profile.Profile
	Memory         memory.Snapshot
}

// Readiness is the biometric analysis.
type Readiness struct {
	Score           float64        `json:"readiness_score"`
	RecoveryStatus  string         `json:"recovery_status"`
	StressScore     float64        `json:"stress_score"`
	Insights        []string       `json:"insights"`
	Recommendations []string       `json:"recommendations"`
	Confidence      float64        `json:"confidence"`
	Parsed          bool           `json:"-"`
	Raw             map[string]any `json:"-"`
}

// Learning returns a biometric_baseline fact for the first insight.
func (r Readiness) Learning() (map[string]any, bool) {
	if len(r.Insights) == 0 {
		return nil, false
	}
	return map[string]any{"insight": r.Insights[0], "readiness": r.Score}, true
}

const biometricSystem = `
You are an expert physiologist analyzing user self-reported check-in data.

Your goal:
- Determine "Readiness Score" (0.0 - 1.0) based on subjective feedback
- Identify recovery deficits
- Suggest immediate adjustments

Input Mappings:
- Sleep Quality (1-5): 1=Terrible, 5=Amazing
- Energy (energized/normal/tired/exhausted)
- Soreness (none/mild/moderate/significant)
- Stress (low/moderate/high/overwhelming)

Scoring Logic:
- Sleep 1-2 OR Exhausted OR Significant Soreness = Low Readiness (<0.5)
- Sleep 3 + Normal Energy = Moderate Readiness (0.5-0.7)
- Sleep 4-5 + Energized = High Readiness (>0.8)
- High Stress = Reduce intensity regardless of physical state

Respond with JSON:
{
  "analysis": {
    "sleep_quality_rating": 4,
    "energy_status": "normal",
    "readiness": 0.75,
    "recovery_status": "recovered|strained|under_recovered"
  },
  "stress_score": 0.3,
  "insights": ["Sleep was good but stress is moderate"],
  "recommendations": ["Maintain volume, monitor stress"],
  "confidence": 0.9
}`

// Analyze scores readiness.
func (b *Biometric) Analyze(ctx context.Context, in BiometricInput) (Readiness, error) {
	c := in.CheckIn
	user := fmt.Sprintf(`Daily Check-In Data:
- Sleep Quality: %s/5
- Energy Level: %s
- Soreness: %s
- Stress Level: %s
- Notes: %s

Recent Workouts: %d in last 7 days
Fitness Level: %s`,
		quality(c.SleepQuality), orDefault(c.EnergyLevel, "unknown"), orDefault(c.SorenessLevel, "unknown"),
		orDefault(c.StressLevel, "unknown"), orDefault(c.Notes, "none"),
		in.RecentWorkouts, orDefault(fitnessLevel(in.Profile), "unknown"))
	if baseline := memoryLines(in.Memory, LearningBiometricBaseline, "insight", "USER BASELINE (from memory):", 3); baseline != "" {
		user += "\n\n" + baseline
	}
	user += "\n\nAnalyze readiness and recovery status."

	raw, err := b.agent.Analyze(ctx, b.agent.SystemPrompt(biometricSystem), withContext(user, b.agent.Context(in.Profile)), agent.DefaultOptions())
	if err != nil {
		return Readiness{Score: DefaultReadiness, Raw: raw}, err
	}

	nested := agent.Map(raw, "analysis")
	score := agent.Float(nested, "readiness", agent.Float(raw, "score", DefaultReadiness))
	return Readiness{
		Score:           max(0, min(1, score)),
		RecoveryStatus:  agent.Str(nested, "recovery_status"),
		StressScore:     agent.Float(raw, "stress_score", 0),
		Insights:        nonNil(agent.Strings(raw, "insights")),
		Recommendations: nonNil(agent.Strings(raw, "recommendations")),
		Confidence:      agent.Float(raw, "confidence", 0),
		Parsed:          !agent.IsSentinel(raw),
		Raw:             raw,
	}, nil
}

// Occupation estimates how the user's job shapes today's training.
type Occupation struct {
	agent *agent.Agent
}

func NewOccupation(gen agent.Generator) *Occupation {
	a := agent.New(OccupationName,
		"Analyzes how work demands affect energy, schedule and training",
		"adapting health plans to occupational demands", gen)
	return &Occupation{agent: a}
}

// OccupationImpact is the occupation analysis.
type OccupationImpact struct {
	ImpactLevel       string         `json:"impact_level"`
	EnergyDrain       string         `json:"energy_drain"`
	BestWorkoutWindow string         `json:"best_workout_window"`
	Constraints       []string       `json:"constraints"`
	Recommendations   []string       `json:"recommendations"`
	Confidence        float64        `json:"confidence"`
	Parsed            bool           `json:"-"`
	Raw               map[string]any `json:"-"`
}

const occupationSystem = `
You are an occupational health specialist.

Your role:
- Estimate how today's work demands drain physical and mental energy
- Find the most realistic window for exercise around work hours
- Flag constraints the plan must respect (shift work, long sitting, travel)

Respond with JSON:
{
  "impact_level": "low|medium|high",
  "energy_drain": "physical|mental|both|minimal",
  "best_workout_window": "e.g. before work, lunch, evening",
  "constraints": ["constraint 1"],
  "recommendations": ["recommendation 1"],
  "confidence": 0.8
}`

// Analyze rates the occupation's impact for one day.
func (o *Occupation) Analyze(ctx context.Context, p *profile.Profile, stressLevel string) (OccupationImpact, error) {
	details := []string{}
	if p != nil {
		for k, v := range p.OccupationDetails {
			details = append(details, k+": "+v)
		}
	}
	user := fmt.Sprintf(`Occupation: %s
Job Details: %s
Work Hours: %.1f
Stress Level Today: %s

Estimate today's work impact on training.`,
		orDefault(occupationOf(p), "Not specified"), joinOr(details, "None"), p.Hours(), orDefault(stressLevel, "medium"))

	raw, err := o.agent.Analyze(ctx, o.agent.SystemPrompt(occupationSystem), user, agent.DefaultOptions())
	if err != nil {
		return OccupationImpact{Raw: raw}, err
	}
	return OccupationImpact{
		ImpactLevel:       orDefault(agent.Str(raw, "impact_level"), "medium"),
		EnergyDrain:       agent.Str(raw, "energy_drain"),
		BestWorkoutWindow: agent.Str(raw, "best_workout_window"),
		Constraints:       nonNil(agent.Strings(raw, "constraints")),
		Recommendations:   nonNil(agent.Strings(raw, "recommendations")),
		Confidence:        agent.Float(raw, "confidence", 0),
		Parsed:            !agent.IsSentinel(raw),
		Raw:               raw,
	}, nil
}

// EmotionalSupport offers encouragement and reframing.
type EmotionalSupport struct {
	agent *agent.Agent
}

func NewEmotionalSupport(gen agent.Generator) *EmotionalSupport {
	a := agent.New(EmotionalSupportName,
		"Provides encouragement, celebrates wins, and reframes negative thinking",
		"providing empathetic encouragement and cognitive reframing for health goals", gen)
	return &EmotionalSupport{agent: a}
}

// EmotionalInput is the user's reported mood.
type EmotionalInput struct {
	Mood        string
	StressLevel string
	EnergyLevel string
	Notes       string
	Goal        string
	Memory      memory.Snapshot
}

// Support is the emotional support reply.
type Support struct {
	Message           string         `json:"support_message"`
	Reframing         string         `json:"reframing"`
	Celebration       string         `json:"celebration"`
	EncouragementType string         `json:"encouragement_type"`
	Confidence        float64        `json:"confidence"`
	Parsed            bool           `json:"-"`
	Raw               map[string]any `json:"-"`
}

const emotionalSystem = `
You are a compassionate wellness coach specializing in emotional support and motivation.

Your role:
- Celebrate ALL wins (scale and non-scale victories)
- Reframe negative self-talk with compassion
- Provide empathy during setbacks
- Recognize effort and process, not just outcomes

Key principles:
- NEVER toxic positivity ("just be positive!")
- Acknowledge struggle while highlighting resilience
- Reframe "failure" as "data" or "learning"

Respond with JSON:
{
  "support_message": "Main encouraging message tailored to their state",
  "reframing": "If negative self-talk detected, reframe it compassionately",
  "celebration": "If wins detected, celebrate them specifically",
  "encouragement_type": "empathy|celebration|reframing|motivation",
  "confidence": 0.85
}`

// Analyze responds to in.Mood.
func (e *EmotionalSupport) Analyze(ctx context.Context, in EmotionalInput) (Support, error) {
	user := fmt.Sprintf(`Provide emotional support for this user:

MOOD: %s
STRESS: %s
ENERGY: %s
PRIMARY GOAL: %s
USER'S WORDS: %q`,
		in.Mood, orDefault(in.StressLevel, "unknown"), orDefault(in.EnergyLevel, "unknown"),
		orDefault(in.Goal, profile.DefaultGoal), in.Notes)
	if past := memoryLines(in.Memory, LearningFailurePattern, "pattern", "PAST STRUGGLES (be sensitive):", 2); past != "" {
		user += "\n\n" + past
	}

	raw, err := e.agent.Analyze(ctx, e.agent.SystemPrompt(emotionalSystem), user,
		agent.Options{Temperature: 0.7, MaxTokens: 800})
	if err != nil {
		return Support{Raw: raw}, err
	}
	return Support{
		Message:           agent.Str(raw, "support_message"),
		Reframing:         agent.Str(raw, "reframing"),
		Celebration:       agent.Str(raw, "celebration"),
		EncouragementType: orDefault(agent.Str(raw, "encouragement_type"), "general"),
		Confidence:        agent.Float(raw, "confidence", 0),
		Parsed:            !agent.IsSentinel(raw),
		Raw:               raw,
	}, nil
}

// HolisticHealth watches the supporting dimensions of the primary goal and
// recommends temporary focus shifts.
type HolisticHealth struct {
	agent *agent.Agent
}

func NewHolisticHealth(gen agent.Generator) *HolisticHealth {
	a := agent.New(HolisticHealthName,
		"Analyzes cross-dimension impacts and ensures holistic balance",
		"balancing sleep, stress, activity and nutrition around a primary goal", gen)
	a.Focus = agent.FocusSafety
	a.RequiresUserContext = false
	return &HolisticHealth{agent: a}
}

// FocusShift is a temporary change of the day's goal.
type FocusShift struct {
	ShouldShift  bool   `json:"should_shift"`
	TargetFocus  string `json:"target_focus"`
	DurationDays int    `json:"duration_days"`
	Reason       string `json:"reason"`
}

// Balance is the holistic analysis.
type Balance struct {
	Score          float64           `json:"health_balance_score"`
	Dimensions     map[string]string `json:"dimension_status"`
	CrossImpact    string            `json:"cross_impact_analysis"`
	CriticalAlerts []string          `json:"critical_alerts"`
	Shift          FocusShift        `json:"focus_shift_recommendation"`
	Parsed         bool              `json:"-"`
	Raw            map[string]any    `json:"-"`
}

const holisticSystem = `
Your role is to ensure the user doesn't sacrifice overall health while pursuing their PRIMARY GOAL: %[1]s.

You analyze 4 dimensions:
1. Sleep (Quantity & Quality)
2. Stress (Mental & Physical)
3. Activity (Movement & Recovery)
4. Nutrition (Fuel & Hydration)

Logic for %[1]s users:
- If a supporting dimension drops below critical threshold, you MUST trigger a "Focus Shift".
- Example: If a Fitness user has 3 nights of poor sleep, recommend shifting to Sleep Focus.
- Example: If a Stress user has high physical exhaustion, recommend shifting to Recovery Focus.

Respond with JSON:
{
  "health_balance_score": 85,
  "dimension_status": {
    "sleep": "optimal|good|fair|poor|critical",
    "stress": "low|moderate|high|critical",
    "activity": "optimal|good|fair|poor|critical",
    "nutrition": "optimal|good|fair|poor|critical"
  },
  "cross_impact_analysis": "How dimensions are affecting each other",
  "critical_alerts": ["List of urgent issues"],
  "focus_shift_recommendation": {
    "should_shift": false,
    "target_focus": "fitness|sleep|stress|wellness|recovery",
    "duration_days": 1,
    "reason": "Why the shift is needed"
  }
}`

// Analyze checks today's balance for goal.
func (h *HolisticHealth) Analyze(ctx context.Context, goal string, c profile.CheckIn, readiness float64) (Balance, error) {
	goal = orDefault(goal, profile.DefaultGoal)
	user := fmt.Sprintf(`Analyze this user's state:

Primary Goal: %s
Biometrics:
- Sleep Quality: %s/5
- Sleep Hours: %s
- Stress Level: %s
- Energy Level: %s
- Soreness: %s
- Readiness: %.2f

Determine if a focus shift is needed to protect long-term progress.`,
		goal, quality(c.SleepQuality), hours(c.SleepHours), orDefault(c.StressLevel, "unknown"),
		orDefault(c.EnergyLevel, "unknown"), orDefault(c.SorenessLevel, "unknown"), readiness)

	system := h.agent.SystemPrompt(fmt.Sprintf(holisticSystem, strings.ToUpper(goal)))
	raw, err := h.agent.Analyze(ctx, system, user, agent.DefaultOptions())
	if err != nil {
		return Balance{Raw: raw}, err
	}

	dims := map[string]string{}
	for k := range agent.Map(raw, "dimension_status") {
		dims[k] = agent.Str(agent.Map(raw, "dimension_status"), k)
	}
	shift := agent.Map(raw, "focus_shift_recommendation")
	return Balance{
		Score:          agent.Float(raw, "health_balance_score", 0),
		Dimensions:     dims,
		CrossImpact:    agent.Str(raw, "cross_impact_analysis"),
		CriticalAlerts: nonNil(agent.Strings(raw, "critical_alerts")),
		Shift: FocusShift{
			ShouldShift:  agent.Bool(shift, "should_shift"),
			TargetFocus:  strings.ToLower(agent.Str(shift, "target_focus")),
			DurationDays: int(agent.Float(shift, "duration_days", 1)),
			Reason:       agent.Str(shift, "reason"),
		},
		Parsed: !agent.IsSentinel(raw),
		Raw:    raw,
	}, nil
}

// Sleep analyzes a night's sleep and its effect on training.
type Sleep struct {
	agent *agent.Agent
}

func NewSleep(gen agent.Generator) *Sleep {
	a := agent.New(SleepName,
		"Analyzes sleep quality and impact on training capacity",
		"sleep science and recovery", gen)
	a.Focus = agent.FocusSafety
	return &Sleep{agent: a}
}

// SleepInput is last night's sleep. A zero Baseline means 7.5 hours.
type SleepInput struct {
	Hours       float64
	Quality     int
	EnergyLevel string
	Baseline    float64
	Debt        float64
}

// SleepAnalysis is the sleep agent's reply.
type SleepAnalysis struct {
	RecoveryScore      float64        `json:"recovery_score"`
	State              string         `json:"state"`
	Impact             string         `json:"impact"`
	Recommendation     string         `json:"recommendation"`
	Actions            []string       `json:"actions"`
	InterventionNeeded bool           `json:"intervention_needed"`
	Parsed             bool           `json:"-"`
	Raw                map[string]any `json:"-"`
}

const sleepSystem = `
You are an expert Sleep Scientist and Recovery Specialist.

Analyze the user's sleep data and determine:
1. Their current recovery state (0-100)
2. Impact on cognitive and physical performance
3. Specific actionable recommendations to improve sleep tonight
4. Whether they need a "Sleep Intervention" (drastic change to schedule)

Respond with JSON:
{
  "recovery_score": 85,
  "state": "Well Rested",
  "impact": "High readiness for physical training",
  "recommendation": "Maintain current routine",
  "actions": ["specific action"],
  "intervention_needed": false
}`

// Analyze assesses in.
func (s *Sleep) Analyze(ctx context.Context, in SleepInput) (SleepAnalysis, error) {
	baseline := in.Baseline
	if baseline <= 0 {
		baseline = 7.5
	}
	user := fmt.Sprintf(`Analyze this sleep data:
- Hours Slept: %s (Baseline: %.1f)
- Quality: %s/5
- Energy: %s
- Accumulated Debt: %.1f hours

Provide recovery analysis.`, hours(in.Hours), baseline, quality(in.Quality), orDefault(in.EnergyLevel, "unknown"), in.Debt)

	raw, err := s.agent.Analyze(ctx, s.agent.SystemPrompt(sleepSystem), user, agent.Options{Temperature: 0.2, MaxTokens: 800})
	if err != nil {
		return SleepAnalysis{Raw: raw}, err
	}
	return SleepAnalysis{
		RecoveryScore:      agent.Float(raw, "recovery_score", 0),
		State:              agent.Str(raw, "state"),
		Impact:             agent.Str(raw, "impact"),
		Recommendation:     agent.Str(raw, "recommendation"),
		Actions:            nonNil(agent.Strings(raw, "actions")),
		InterventionNeeded: agent.Bool(raw, "intervention_needed"),
		Parsed:             !agent.IsSentinel(raw),
		Raw:                raw,
	}, nil
}

// StressManagement recommends stress interventions.
type StressManagement struct {
	agent *agent.Agent
}

func NewStressManagement(gen agent.Generator) *StressManagement {
	a := agent.New(StressManagementName,
		"Recommends interventions for high-stress periods",
		"recommending evidence-based stress interventions and cortisol management", gen)
	a.Focus = agent.FocusSafety
	return &StressManagement{agent: a}
}

// StressInput describes the stress situation. Barriers is set when the
// stress was inferred from barrier detection rather than reported.
type StressInput struct {
	Level        string
	Source       string
	Activities   []string
	Goal         string
	CheckIn      profile.CheckIn
	Barriers     []string
	Motivation   string
	DaysInactive int
}

// StressPlan is the stress agent's reply.
type StressPlan struct {
	Recommendation     string         `json:"recommendation"`
	Rationale          string         `json:"rationale"`
	Avoid              []string       `json:"avoid"`
	Alternatives       []string       `json:"alternatives"`
	BreathingExercises []string       `json:"breathing_exercises"`
	Confidence         float64        `json:"confidence"`
	Parsed             bool           `json:"-"`
	Raw                map[string]any `json:"-"`
}

// Actions are the concrete steps to offer alongside the recommendation.
func (p StressPlan) Actions() []string {
	if actions := agent.Strings(p.Raw, "actions"); len(actions) > 0 {
		return actions
	}
	return append(append([]string{}, p.BreathingExercises...), p.Alternatives...)
}

const stressSystem = `
You are a stress management expert specializing in the mind-body connection.

Key principles:
- High stress + high intensity workouts = cortisol overload (bad)
- Moderate stress + moderate exercise = stress relief (good)
- Chronic stress = prioritize recovery and restoration
- Breathing exercises are powerful for acute stress

Stress-Exercise Guidelines:
- LOW stress: Normal workout intensity fine
- MODERATE stress: Moderate exercise helps (avoid max intensity)
- HIGH stress: Light movement only (walks, gentle yoga, stretching)
- CHRONIC stress: Focus on restorative practices, reduce workout volume

Respond with JSON:
{
  "recommendation": "Specific action to take (be concrete)",
  "rationale": "Why this helps based on stress physiology",
  "avoid": ["What NOT to do given stress level"],
  "alternatives": ["Other options if recommendation doesn't work"],
  "breathing_exercises": ["Specific techniques for acute stress"],
  "confidence": 0.85
}`

// Analyze recommends a stress intervention.
func (s *StressManagement) Analyze(ctx context.Context, in StressInput) (StressPlan, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Recommend stress management intervention:

STRESS LEVEL: %s
STRESS SOURCE: %s
PRIMARY GOAL: %s
CURRENT ACTIVITIES PLANNED: %s

CONTEXT:
- Sleep: %sh last night
- Energy: %s
- Days since last workout: %d
`, orDefault(in.Level, "moderate"), orDefault(in.Source, "unknown"), orDefault(in.Goal, profile.DefaultGoal),
		joinOr(in.Activities, "None planned"), hours(in.CheckIn.SleepHours),
		orDefault(in.CheckIn.EnergyLevel, "unknown"), in.DaysInactive)
	if len(in.Barriers) > 0 {
		fmt.Fprintf(&sb, "- Detected barriers: %s\n", strings.Join(in.Barriers, "; "))
	}
	if in.Motivation != "" {
		fmt.Fprintf(&sb, "- Motivational state: %s\n", in.Motivation)
	}
	sb.WriteString(`
Your task:
1. Assess if current activities are appropriate given stress level
2. Recommend specific intervention (modify, replace, or add activities)
3. Provide rationale based on stress physiology
4. Suggest breathing exercises for acute stress moments`)

	raw, err := s.agent.Analyze(ctx, s.agent.SystemPrompt(stressSystem), sb.String(), agent.DefaultOptions())
	if err != nil {
		return StressPlan{Raw: raw}, err
	}
	return StressPlan{
		Recommendation:     agent.Str(raw, "recommendation"),
		Rationale:          agent.Str(raw, "rationale"),
		Avoid:              nonNil(agent.Strings(raw, "avoid")),
		Alternatives:       nonNil(agent.Strings(raw, "alternatives")),
		BreathingExercises: nonNil(agent.Strings(raw, "breathing_exercises")),
		Confidence:         agent.Float(raw, "confidence", 0),
		Parsed:             !agent.IsSentinel(raw),
		Raw:                raw,
	}, nil
}

func quality(q int) string {
	if q <= 0 {
		return "unknown"
	}
	return fmt.Sprint(q)
}

func hours(h float64) string {
	if h <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%.1f", h)
}

func fitnessLevel(p *profile.Profile) string {
	if p == nil {
		return ""
	}
	return p.FitnessLevel
}

func occupationOf(p *profile.Profile) string {
	if p == nil {
		return ""
	}
	return p.Occupation
}
