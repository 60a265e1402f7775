package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agent"
)

// Barrier categories recognised by the intervention rules.
const (
	BarrierTime       = "time_constraint"
	BarrierFatigue    = "fatigue"
	BarrierMotivation = "motivation"
	BarrierMonotony   = "monotony"
	BarrierStress     = "stress"
)

// Older prompts answered with upper-case category names.
var legacyCategories = map[string]string{
	"time":       BarrierTime,
	"energy":     BarrierFatigue,
	"boredom":    BarrierMonotony,
	"monotony":   BarrierMonotony,
	"motivation": BarrierMotivation,
}

// BarrierDetection names what keeps the user from working out.
type BarrierDetection struct {
	agent *agent.Agent
}

func NewBarrierDetection(gen agent.Generator) *BarrierDetection {
	a := agent.New(BarrierDetectionName,
		"Identifies specific obstacles preventing workout completion",
		"identifying barriers to behavior change", gen)
	a.RequiresUserContext = false
	return &BarrierDetection{agent: a}
}

// BarrierInput is the situation to examine. Zero fields are omitted from
// the prompt.
type BarrierInput struct {
	MissedWorkouts     int      `json:"missed_workouts,omitempty"`
	DaysInactive       int      `json:"days_inactive,omitempty"`
	CurrentWeek        int      `json:"current_week,omitempty"`
	HistoricalQuitWeek int      `json:"historical_quit_week,omitempty"`
	EnergyLevel        string   `json:"energy,omitempty"`
	StressLevel        string   `json:"stress,omitempty"`
	Schedule           []string `json:"schedule,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

// Barriers is the barrier analysis.
type Barriers struct {
	Barriers             []string       `json:"barriers"`
	Categories           []string       `json:"categories"`
	PrimaryBarrier       string         `json:"primary_barrier"`
	Severity             float64        `json:"severity"`
	Detected             bool           `json:"detected"`
	MitigationStrategies []string       `json:"mitigation_strategies"`
	Confidence           float64        `json:"confidence"`
	Parsed               bool           `json:"-"`
	Raw                  map[string]any `json:"-"`
}

// Has reports whether category was detected.
func (b Barriers) Has(category string) bool {
	for _, c := range b.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// MentionsStress reports whether any barrier or category mentions stress.
func (b Barriers) MentionsStress() bool {
	if b.Has(BarrierStress) {
		return true
	}
	for _, s := range b.Barriers {
		if strings.Contains(strings.ToLower(s), "stress") {
			return true
		}
	}
	return false
}

const barrierSystem = `
You are an expert at identifying barriers to behavior change.
Analyze the user's situation and identify specific barriers preventing workouts.

Barrier categories:
- time_constraint: schedule conflicts, time pressure
- fatigue: poor sleep, burnout, low energy
- motivation: loss of interest, lack of purpose
- monotony: boredom with the same routine
- stress: work or life stress crowding out exercise
- environment: gym access, weather, space
- social: family obligations, peer pressure
- psychological: perfectionism, fear of failure

Respond with JSON:
{
  "detected": true,
  "barriers": ["specific barrier 1", "barrier 2"],
  "categories": ["time_constraint", "monotony"],
  "primary_barrier": "most likely culprit",
  "severity": 0.75,
  "mitigation_strategies": ["strategy 1"],
  "confidence": 0.80
}`

// Analyze detects barriers in the situation.
func (b *BarrierDetection) Analyze(ctx context.Context, in BarrierInput) (Barriers, error) {
	user := fmt.Sprintf("User Context:\n%s\n\nWhat barriers are preventing this user from working out?", agent.Indent(in))
	raw, err := b.agent.Analyze(ctx, b.agent.SystemPrompt(barrierSystem), user, agent.DefaultOptions())
	if err != nil {
		return Barriers{Raw: raw}, err
	}

	barriers := nonNil(agent.Strings(raw, "barriers"))
	detected := len(barriers) > 0
	if _, ok := raw["detected"]; ok {
		detected = agent.Bool(raw, "detected")
	}
	return Barriers{
		Barriers:             barriers,
		Categories:           NormalizeCategories(agent.Strings(raw, "categories")),
		PrimaryBarrier:       agent.Str(raw, "primary_barrier"),
		Severity:             agent.Float(raw, "severity", 0),
		Detected:             detected,
		MitigationStrategies: nonNil(agent.Strings(raw, "mitigation_strategies")),
		Confidence:           agent.Float(raw, "confidence", 0),
		Parsed:               !agent.IsSentinel(raw),
		Raw:                  raw,
	}, nil
}

// NormalizeCategories lower-cases categories and maps legacy names.
func NormalizeCategories(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if mapped, ok := legacyCategories[c]; ok {
			c = mapped
		}
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Motivation states.
const (
	MotivationHigh     = "HIGH"
	MotivationModerate = "MODERATE"
	MotivationLow      = "LOW"
	MotivationDepleted = "DEPLETED"
	MotivationUnknown  = "unknown"
)

// Motivation assesses the user's motivational state.
type Motivation struct {
	agent *agent.Agent
}

func NewMotivation(gen agent.Generator) *Motivation {
	a := agent.New(MotivationName,
		"Assesses psychological and motivational state",
		"behavioral psychology and motivation", gen)
	a.RequiresUserContext = false
	return &Motivation{agent: a}
}

// MotivationInput is the behavior to assess.
type MotivationInput struct {
	DaysInactive           int      `json:"days_inactive"`
	DetectedBarriers       []string `json:"detected_barriers"`
	AbandonmentProbability float64  `json:"abandonment_probability"`
}

// MotivationState is the motivation assessment.
type MotivationState struct {
	State               string         `json:"state"`
	Drop                bool           `json:"motivation_drop"`
	Indicators          []string       `json:"indicators"`
	InterventionUrgency string         `json:"intervention_urgency"`
	RecommendedApproach string         `json:"recommended_approach"`
	Confidence          float64        `json:"confidence"`
	Parsed              bool           `json:"-"`
	Raw                 map[string]any `json:"-"`
}

const motivationSystem = `
You are a behavioral psychologist specializing in motivation.
Assess the user's motivational state based on their behavior patterns.

Motivational states:
- HIGH: Enthusiastic, self-motivated, consistent
- MODERATE: Still going but requires effort
- LOW: Struggling, needs external motivation
- DEPLETED: Burnout, considering quitting

Respond with JSON:
{
  "state": "HIGH|MODERATE|LOW|DEPLETED",
  "motivation_drop": true,
  "indicators": ["what suggests this state"],
  "intervention_urgency": "low|medium|high",
  "recommended_approach": "encouragement|reduction|pause",
  "confidence": 0.75
}`

// Analyze assesses motivation.
func (m *Motivation) Analyze(ctx context.Context, in MotivationInput) (MotivationState, error) {
	user := fmt.Sprintf("User Context:\n%s\n\nWhat is this user's motivational state?", agent.Indent(in))
	raw, err := m.agent.Analyze(ctx, m.agent.SystemPrompt(motivationSystem), user, agent.DefaultOptions())
	if err != nil {
		return MotivationState{State: MotivationUnknown, Raw: raw}, err
	}
	state := strings.ToUpper(agent.Str(raw, "state"))
	if state == "" {
		state = MotivationUnknown
	}
	return MotivationState{
		State:               state,
		Drop:                agent.Bool(raw, "motivation_drop"),
		Indicators:          nonNil(agent.Strings(raw, "indicators")),
		InterventionUrgency: agent.Str(raw, "intervention_urgency"),
		RecommendedApproach: agent.Str(raw, "recommended_approach"),
		Confidence:          agent.Float(raw, "confidence", 0),
		Parsed:              !agent.IsSentinel(raw),
		Raw:                 raw,
	}, nil
}

// Calendar day bounds for workout windows.
const (
	dayStartHour = 6
	dayEndHour   = 21
)

// Event is one calendar entry.
type Event struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window is a free span of the day.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Minutes is the window length.
func (w Window) Minutes() int { return int(w.End.Sub(w.Start).Minutes()) }

// Conflict is a pair of overlapping events.
type Conflict struct {
	First   string        `json:"first"`
	Second  string        `json:"second"`
	Overlap time.Duration `json:"overlap"`
}

// Schedule is the calendar check for one day.
type Schedule struct {
	Conflicts   []Conflict `json:"conflicts"`
	FreeWindows []Window   `json:"free_windows"`
	BusyMinutes int        `json:"busy_minutes"`
}

// Calendar checks a day's events for overlaps and free time. It works
// without the model.
type Calendar struct{}

func NewCalendar() *Calendar { return &Calendar{} }

// Check examines the events that fall on day.
func (*Calendar) Check(events []Event, day time.Time) Schedule {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), dayStartHour, 0, 0, 0, day.Location())
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), dayEndHour, 0, 0, 0, day.Location())

	today := make([]Event, 0, len(events))
	for _, e := range events {
		if e.End.After(dayStart) && e.Start.Before(dayEnd) && e.End.After(e.Start) {
			today = append(today, e)
		}
	}
	sort.Slice(today, func(i, j int) bool { return today[i].Start.Before(today[j].Start) })

	s := Schedule{Conflicts: []Conflict{}, FreeWindows: []Window{}}
	for i := range today {
		for j := i + 1; j < len(today) && today[j].Start.Before(today[i].End); j++ {
			end := today[i].End
			if today[j].End.Before(end) {
				end = today[j].End
			}
			s.Conflicts = append(s.Conflicts, Conflict{
				First:   today[i].Title,
				Second:  today[j].Title,
				Overlap: end.Sub(today[j].Start),
			})
		}
	}

	cursor := dayStart
	for _, e := range today {
		start, end := e.Start, e.End
		if start.Before(dayStart) {
			start = dayStart
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		if start.After(cursor) {
			s.FreeWindows = append(s.FreeWindows, Window{Start: cursor, End: start})
		}
		if end.After(cursor) {
			s.BusyMinutes += int(end.Sub(maxTime(start, cursor)).Minutes())
			cursor = end
		}
	}
	if cursor.Before(dayEnd) {
		s.FreeWindows = append(s.FreeWindows, Window{Start: cursor, End: dayEnd})
	}
	return s
}

// Slot returns the start of the free window that fits minutes, preferring
// one that contains preferred. ok is false when nothing fits.
func (s Schedule) Slot(minutes int, preferred time.Time) (time.Time, bool) {
	var first *Window
	for i, w := range s.FreeWindows {
		if w.Minutes() < minutes {
			continue
		}
		if !preferred.Before(w.Start) && !preferred.Add(time.Duration(minutes)*time.Minute).After(w.End) {
			return preferred, true
		}
		if first == nil {
			first = &s.FreeWindows[i]
		}
	}
	if first == nil {
		return time.Time{}, false
	}
	return first.Start, true
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
