package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/retrieval"
)

// GoalSetting turns a vague resolution into a measurable plan.
type GoalSetting struct {
	agent *agent.Agent
}

func NewGoalSetting(gen agent.Generator) *GoalSetting {
	a := agent.New(GoalSettingName,
		"Converts vague resolutions into structured, actionable plans",
		"converting vague health resolutions into measurable, achievable goals", gen)
	a.Focus = agent.FocusAmbition
	return &GoalSetting{agent: a}
}

// Agent exposes the underlying agent.
func (g *GoalSetting) Agent() *agent.Agent { return g.agent }

// GoalInput is what the goal setter works from.
type GoalInput struct {
	Resolution  string
	Constraints []string
	Profile     *profile.Profile
}

// GoalPlan is the structured interpretation of a resolution.
type GoalPlan struct {
	OriginalResolution string         `json:"original_resolution"`
	InterpretedGoal    string         `json:"interpreted_goal"`
	WeeklyTarget       string         `json:"weekly_target"`
	FirstMilestone     string         `json:"first_milestone"`
	Reasoning          string         `json:"reasoning"`
	Adaptations        []string       `json:"adaptations"`
	Confidence         float64        `json:"confidence"`
	Parsed             bool           `json:"-"`
	Raw                map[string]any `json:"-"`
}

// Proposal is the plan in the shape debated during onboarding.
func (p GoalPlan) Proposal() map[string]any {
	return map[string]any{
		"interpreted_goal": p.InterpretedGoal,
		"weekly_target":    p.WeeklyTarget,
		"first_milestone":  p.FirstMilestone,
		"reasoning":        p.Reasoning,
	}
}

const goalSystem = `
You are an expert goal-setting coach specializing in New Year's resolutions.

Your role:
- Convert vague resolutions into specific, measurable goals
- Set realistic timelines based on user constraints
- Create achievable milestones
- Adapt plans to real-life limitations

Key principles:
- Start small and build up (better to succeed at small goal than fail at big one)
- Make it specific (not "get fit", but "exercise 3x/week for 20 minutes")
- Account for life constraints (busy schedule = shorter workouts)
- Focus on sustainability over perfection

You MUST respond with valid JSON in this exact format:
{
  "original_resolution": "user's exact words",
  "interpreted_goal": "specific, measurable goal",
  "weekly_target": "concrete weekly action",
  "first_milestone": "achievable goal for first 4 weeks",
  "reasoning": "why this plan fits the user",
  "adaptations": ["how plan accounts for constraints"],
  "confidence": 0.85
}`

// Analyze interprets in.Resolution.
func (g *GoalSetting) Analyze(ctx context.Context, in GoalInput) (GoalPlan, error) {
	p := in.Profile
	if p == nil {
		p = &profile.Profile{}
	}
	details := make([]string, 0, len(p.OccupationDetails))
	for k, v := range p.OccupationDetails {
		details = append(details, k+": "+v)
	}

	user := fmt.Sprintf(`Analyze this resolution and create a structured plan:

Resolution: %q
Occupation: %s
Job Details: %s
Life Constraints: %s

Create a plan that:
1. Makes the goal specific and measurable
2. Accounts for their constraints
3. Starts achievable (they can always increase later)
4. Sets a clear first milestone (4 weeks)

Respond ONLY with valid JSON matching the required format.`,
		in.Resolution,
		orDefault(p.Occupation, "Not specified"),
		joinOr(details, "None"),
		joinOr(in.Constraints, "None specified"))
	user = withContext(user, g.agent.Context(in.Profile))

	raw, err := g.agent.Analyze(ctx, g.agent.SystemPrompt(goalSystem), user, agent.DefaultOptions())
	if err != nil {
		return GoalPlan{Raw: raw}, err
	}
	return GoalPlan{
		OriginalResolution: orDefault(agent.Str(raw, "original_resolution"), in.Resolution),
		InterpretedGoal:    agent.Str(raw, "interpreted_goal"),
		WeeklyTarget:       agent.Str(raw, "weekly_target"),
		FirstMilestone:     agent.Str(raw, "first_milestone"),
		Reasoning:          agent.Str(raw, "reasoning"),
		Adaptations:        agent.Strings(raw, "adaptations"),
		Confidence:         agent.Float(raw, "confidence", 0),
		Parsed:             !agent.IsSentinel(raw),
		Raw:                raw,
	}, nil
}

// FailurePattern predicts how a plan is likely to fail and reviews
// proposals from that angle.
type FailurePattern struct {
	agent *agent.Agent
}

// Failure pattern learning defaults.
const (
	FailureLearningConfidence = 0.8
	FailureLearningDays       = 90
)

func NewFailurePattern(gen agent.Generator) *FailurePattern {
	a := agent.New(FailurePatternName,
		"Identifies failure patterns from past attempts and predicts quit risk",
		"identifying risk factors and failure patterns in health goal attempts", gen)
	a.Focus = agent.FocusRisk
	return &FailurePattern{agent: a}
}

// Agent exposes the underlying agent.
func (f *FailurePattern) Agent() *agent.Agent { return f.agent }

// FailureInput is what the failure analyst works from.
type FailureInput struct {
	PastAttempts string
	Proposal     map[string]any
	// Progress carries extra context during resolution reviews.
	Progress map[string]any
	Profile  *profile.Profile
	Memory   memory.Snapshot
}

// FailureRisk is the failure analysis.
type FailureRisk struct {
	IdentifiedPatterns     []string       `json:"identified_patterns"`
	QuitProbability        float64        `json:"quit_probability"`
	HighestRiskPeriod      string         `json:"highest_risk_period"`
	ProtectiveStrategies   []string       `json:"protective_strategies"`
	PlanConcerns           []string       `json:"plan_concerns"`
	RecommendedAdjustments []string       `json:"recommended_adjustments"`
	Confidence             float64        `json:"confidence"`
	Parsed                 bool           `json:"-"`
	Raw                    map[string]any `json:"-"`
}

// Payload is the analysis as a debate payload.
func (r FailureRisk) Payload() map[string]any {
	return map[string]any{
		"identified_patterns":     r.IdentifiedPatterns,
		"quit_probability":        r.QuitProbability,
		"highest_risk_period":     r.HighestRiskPeriod,
		"protective_strategies":   r.ProtectiveStrategies,
		"plan_concerns":           r.PlanConcerns,
		"recommended_adjustments": r.RecommendedAdjustments,
		"confidence":              r.Confidence,
	}
}

// Learning returns the failure_pattern fact content worth remembering. ok
// is false when no pattern was identified.
func (r FailureRisk) Learning() (content map[string]any, confidence float64, ok bool) {
	if len(r.IdentifiedPatterns) == 0 {
		return nil, 0, false
	}
	content = map[string]any{
		"patterns":              r.IdentifiedPatterns,
		"quit_probability":      r.QuitProbability,
		"highest_risk_period":   r.HighestRiskPeriod,
		"protective_strategies": r.ProtectiveStrategies,
	}
	return content, agent.Float(r.Raw, "confidence", FailureLearningConfidence), true
}

const failureSystem = `
You are a failure pattern expert who has studied thousands of abandoned resolutions.

Your role:
- Identify why past attempts failed
- Spot red flags in new plans
- Predict quit probability
- Suggest protective guardrails

Common failure patterns:
- Week 3 cliff (most people quit week 3-4)
- Overcommitment (starting too ambitious)
- Life event collision (didn't plan for disruptions)
- Motivation depletion (relied on willpower alone)
- All-or-nothing thinking (missed one day, quit entirely)

Respond with JSON:
{
  "identified_patterns": ["pattern 1", "pattern 2"],
  "quit_probability": 0.65,
  "highest_risk_period": "Week 3-4",
  "protective_strategies": ["strategy 1", "strategy 2"],
  "plan_concerns": ["concern about proposed plan"],
  "recommended_adjustments": ["make it easier", "add buffer"],
  "confidence": 0.80
}`

// Analyze assesses the failure risk of in.Proposal.
func (f *FailurePattern) Analyze(ctx context.Context, in FailureInput) (FailureRisk, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Past Attempts: %s\n\nProposed Plan: %s\n", orDefault(in.PastAttempts, "None shared"), agent.Indent(in.Proposal))
	if len(in.Progress) > 0 {
		fmt.Fprintf(&sb, "\nCurrent Progress: %s\n", agent.Indent(in.Progress))
	}
	if known := memoryLines(in.Memory, LearningFailurePattern, "pattern", "KNOWN FAILURE PATTERNS (from memory):", 5); known != "" {
		sb.WriteString("\n" + known + "\n")
	}
	sb.WriteString("\nAnalyze failure risk and suggest protective adjustments.")
	user := withContext(sb.String(), f.agent.Context(in.Profile))

	raw, err := f.agent.Analyze(ctx, f.agent.SystemPrompt(failureSystem), user, agent.DefaultOptions())
	if err != nil {
		return FailureRisk{Raw: raw}, err
	}
	return FailureRisk{
		IdentifiedPatterns:     nonNil(agent.Strings(raw, "identified_patterns")),
		QuitProbability:        agent.Float(raw, "quit_probability", 0),
		HighestRiskPeriod:      agent.Str(raw, "highest_risk_period"),
		ProtectiveStrategies:   nonNil(agent.Strings(raw, "protective_strategies")),
		PlanConcerns:           nonNil(agent.Strings(raw, "plan_concerns")),
		RecommendedAdjustments: nonNil(agent.Strings(raw, "recommended_adjustments")),
		Confidence:             agent.Float(raw, "confidence", 0),
		Parsed:                 !agent.IsSentinel(raw),
		Raw:                    raw,
	}, nil
}

// Challenge reviews a proposal in light of the user's past attempts.
func (f *FailurePattern) Challenge(ctx context.Context, proposal map[string]any, pastAttempts string) (agent.Challenge, error) {
	return f.agent.Challenge(ctx, proposal, map[string]any{"past_attempts": pastAttempts})
}

// ProgressTracking evaluates adherence against habit formation research.
type ProgressTracking struct {
	agent *agent.Agent
	kb    retrieval.Retriever
}

func NewProgressTracking(gen agent.Generator, kb retrieval.Retriever) *ProgressTracking {
	a := agent.New(ProgressTrackingName,
		"Analyzes workout adherence and detects patterns that predict success or failure",
		"tracking fitness adherence and identifying success patterns", gen)
	return &ProgressTracking{agent: a, kb: kb}
}

// Agent exposes the underlying agent.
func (p *ProgressTracking) Agent() *agent.Agent { return p.agent }

// ProgressInput is one week of tracking data. SkipPattern lists recent days
// oldest first, true meaning the workout was done.
type ProgressInput struct {
	CurrentWeek int
	Completed   int
	Target      int
	Adherence   float64
	SkipPattern []bool
	Profile     *profile.Profile
	Memory      memory.Snapshot
}

// ProgressMetrics are computed without the model.
type ProgressMetrics struct {
	AdherenceRate     float64 `json:"adherence_rate"`
	WorkoutsCompleted int     `json:"workouts_completed"`
	WorkoutsTarget    int     `json:"workouts_target"`
	Deficit           int     `json:"deficit"`
	ConsecutiveSkips  int     `json:"consecutive_skips"`
	MaxSkipStreak     int     `json:"max_skip_streak"`
	ConsistencyScore  float64 `json:"consistency_score"`
	TotalDaysTracked  int     `json:"total_days_tracked"`
}

// Progress is the progress analysis.
type Progress struct {
	OverallAssessment  string          `json:"overall_assessment"`
	Trend              string          `json:"trend"`
	Concerns           []string        `json:"concerns"`
	PositiveIndicators []string        `json:"positive_indicators"`
	Recommendations    []string        `json:"recommendations"`
	Confidence         float64         `json:"confidence"`
	Metrics            ProgressMetrics `json:"metrics"`
	Parsed             bool            `json:"-"`
	Raw                map[string]any  `json:"-"`
}

// Payload is the analysis as a debate payload.
func (p Progress) Payload() map[string]any {
	return map[string]any{
		"overall_assessment":  p.OverallAssessment,
		"trend":               p.Trend,
		"concerns":            p.Concerns,
		"positive_indicators": p.PositiveIndicators,
		"recommendations":     p.Recommendations,
		"metrics":             p.Metrics,
		"confidence":          p.Confidence,
	}
}

// ConsecutiveSkips counts the skipped days at the end of pattern.
func ConsecutiveSkips(pattern []bool) int {
	n := 0
	for i := len(pattern) - 1; i >= 0 && !pattern[i]; i-- {
		n++
	}
	return n
}

// Metrics computes adherence metrics from in.
func Metrics(in ProgressInput) ProgressMetrics {
	m := ProgressMetrics{
		AdherenceRate:     in.Adherence,
		WorkoutsCompleted: in.Completed,
		WorkoutsTarget:    in.Target,
		Deficit:           in.Target - in.Completed,
	}
	if len(in.SkipPattern) == 0 {
		return m
	}

	m.ConsecutiveSkips = ConsecutiveSkips(in.SkipPattern)
	streak, done := 0, 0
	for _, did := range in.SkipPattern {
		if did {
			done++
			streak = 0
			continue
		}
		streak++
		m.MaxSkipStreak = max(m.MaxSkipStreak, streak)
	}
	m.TotalDaysTracked = len(in.SkipPattern)
	m.ConsistencyScore = float64(done) / float64(m.TotalDaysTracked)
	return m
}

// HabitQuery picks the research question most relevant to where the user is.
func HabitQuery(week int, adherence float64) string {
	switch {
	case week <= 4:
		return "habit formation first month critical period"
	case adherence < 0.5:
		return "recovering from missed workouts adherence"
	default:
		return "maintaining workout habits long term"
	}
}

const progressSystem = `
You are a progress tracking expert who analyzes workout adherence patterns.

Your role:
- Evaluate adherence metrics objectively
- Identify concerning patterns early
- Provide actionable insights
- Reference habit formation research

Relevant research:
%s

Key patterns to watch for:
- Week 3-4 cliff (most common quit period)
- Consecutive skips (3+ is concerning)
- Weekend vs weekday patterns
- Declining trend over time
- All-or-nothing behavior

Respond with JSON:
{
  "overall_assessment": "on_track|concerning|high_risk",
  "trend": "improving|stable|declining",
  "concerns": ["specific concern 1", "concern 2"],
  "positive_indicators": ["what's going well"],
  "recommendations": ["actionable suggestion 1", "suggestion 2"],
  "confidence": 0.85
}`

// Analyze evaluates one week of progress.
func (p *ProgressTracking) Analyze(ctx context.Context, in ProgressInput) (Progress, error) {
	metrics := Metrics(in)

	research := "No specific research found."
	if chunks, err := p.kb.Retrieve(ctx, HabitQuery(in.CurrentWeek, in.Adherence), retrieval.CategoryPsychology, 2); err == nil && len(chunks) > 0 {
		research = retrieval.FormatContext(chunks)
	}

	recent := in.SkipPattern
	if len(recent) > 14 {
		recent = recent[len(recent)-14:]
	}
	var pattern strings.Builder
	for _, did := range recent {
		if did {
			pattern.WriteByte('Y')
		} else {
			pattern.WriteByte('N')
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Analyze this user's progress:

CURRENT STATUS:
- Week: %d
- This Week: %d/%d workouts completed
- Adherence Rate: %.1f%%

RECENT PATTERN (last 14 days, Y = completed, N = skipped):
%s

CALCULATED METRICS:
%s
`, in.CurrentWeek, in.Completed, in.Target, in.Adherence*100, orDefault(pattern.String(), "no data"), agent.Indent(metrics))
	if past := memoryLines(in.Memory, LearningFailurePattern, "pattern", "PAST FAILURE PATTERNS:", 3); past != "" {
		sb.WriteString("\n" + past + "\n")
	}
	sb.WriteString(`
Your task:
1. Assess overall progress trajectory
2. Identify any concerning patterns (especially if matching past failures)
3. Provide specific, actionable recommendations
4. Note what's going well (positive reinforcement)`)

	system := p.agent.SystemPrompt(fmt.Sprintf(progressSystem, research))
	raw, err := p.agent.Analyze(ctx, system, withContext(sb.String(), p.agent.Context(in.Profile)),
		agent.Options{Temperature: 0.3, MaxTokens: 1200})
	if err != nil {
		return Progress{Metrics: metrics, Raw: raw}, err
	}
	return Progress{
		OverallAssessment:  agent.Str(raw, "overall_assessment"),
		Trend:              orDefault(agent.Str(raw, "trend"), "stable"),
		Concerns:           nonNil(agent.Strings(raw, "concerns")),
		PositiveIndicators: nonNil(agent.Strings(raw, "positive_indicators")),
		Recommendations:    nonNil(agent.Strings(raw, "recommendations")),
		Confidence:         agent.Float(raw, "confidence", 0),
		Metrics:            metrics,
		Parsed:             !agent.IsSentinel(raw),
		Raw:                raw,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
