// Package profile holds user profiles, resolutions and daily plans, and the
// stores that persist them.
package profile

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a profile or resolution does not exist.
var ErrNotFound = errors.New("not found")

// DefaultGoal is the primary goal assumed when a profile names none.
const DefaultGoal = "wellness"

// DefaultWeeklyTarget is the workout count used when a target cannot be parsed.
const DefaultWeeklyTarget = 3

// Profile is the user context every workflow starts from.
type Profile struct {
	UserID            string            `json:"user_id"`
	Age               int               `json:"age,omitempty"`
	Gender            string            `json:"gender,omitempty"`
	CycleDay          int               `json:"cycle_day,omitempty"`
	Occupation        string            `json:"occupation,omitempty"`
	OccupationDetails map[string]string `json:"occupation_details,omitempty"`
	WorkHours         float64           `json:"work_hours,omitempty"`
	PrimaryGoal       string            `json:"primary_goal,omitempty"`
	PastAttempts      string            `json:"past_attempts,omitempty"`
	Injuries          []string          `json:"injuries,omitempty"`
	FitnessLevel      string            `json:"fitness_level,omitempty"`
	DaysInactive      int               `json:"days_inactive,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Goal returns the primary goal, or DefaultGoal.
func (p *Profile) Goal() string {
	if p == nil || strings.TrimSpace(p.PrimaryGoal) == "" {
		return DefaultGoal
	}
	return p.PrimaryGoal
}

// Hours returns the configured work hours, defaulting to 8.
func (p *Profile) Hours() float64 {
	if p == nil || p.WorkHours <= 0 {
		return 8
	}
	return p.WorkHours
}

// Resolution status values.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Resolution is a user's tracked commitment, such as "lose 20 lbs".
type Resolution struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	Text                   string     `json:"resolution_text"`
	Status                 string     `json:"status"`
	WeeklyTarget           string     `json:"weekly_target"`
	WorkoutsTarget         int        `json:"workouts_target"`
	WorkoutsCompleted      int        `json:"workouts_completed"`
	CurrentWeek            int        `json:"current_week"`
	AdherenceRate          float64    `json:"adherence_rate"`
	AbandonmentProbability float64    `json:"abandonment_probability"`
	LastInterventionAt     *time.Time `json:"last_intervention_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Target returns the weekly workout target, preferring the explicit count
// over the parsed WeeklyTarget string.
func (r *Resolution) Target() int {
	if r.WorkoutsTarget > 0 {
		return r.WorkoutsTarget
	}
	return ParseWeeklyTarget(r.WeeklyTarget)
}

// Missed is the number of workouts still short of this week's target.
func (r *Resolution) Missed() int {
	return max(0, r.Target()-r.WorkoutsCompleted)
}

// ParseWeeklyTarget reads the leading count from strings like "3x/week".
func ParseWeeklyTarget(s string) int {
	head, _, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return DefaultWeeklyTarget
	}
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || n <= 0 {
		return DefaultWeeklyTarget
	}
	return n
}

// CheckIn is a user's self-reported morning state.
type CheckIn struct {
	SleepQuality  int     `json:"sleep_quality"` // 1-5
	SleepHours    float64 `json:"sleep_hours,omitempty"`
	EnergyLevel   string  `json:"energy_level,omitempty"`
	StressLevel   string  `json:"stress_level,omitempty"`
	SorenessLevel string  `json:"soreness_level,omitempty"`
	Mood          string  `json:"mood,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// DailyPlan is the saved outcome of a daily check.
type DailyPlan struct {
	UserID    string         `json:"user_id"`
	Day       string         `json:"day"` // YYYY-MM-DD
	Briefing  string         `json:"morning_briefing"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
