// Package risk scores workout risk from user history, today's context and
// the exercises being proposed. Assess is pure and deterministic.
package risk

import (
	"fmt"
	"strings"
)

// FloorScore is the score reported when no factor fires, so that missing
// data never reads as zero risk.
const FloorScore = 0.1

// SafetyScoreMin is the safety score below which a workout must be modified.
const SafetyScoreMin = 0.7

// Factor types.
const (
	TypeInjuryHistory  = "injury_history"
	TypeAge            = "age"
	TypeFitnessLevel   = "fitness_level"
	TypeSleep          = "sleep"
	TypeStress         = "stress"
	TypeDetraining     = "detraining"
	TypeHighRiskMove   = "high_risk_movement"
	TypeInjuryConflict = "injury_conflict"
)

// HighRiskExercises require technical proficiency. Matching is a
// case-insensitive substring test.
var HighRiskExercises = []string{
	"barbell back squat",
	"deadlift",
	"overhead press",
	"clean and jerk",
	"snatch",
	"box jumps",
}

// injuryConflicts maps a body part to the movements that load it. Only the
// first body part named in an injury is checked.
var injuryConflicts = []struct {
	part      string
	movements []string
}{
	{"knee", []string{"squat", "lunge", "leg press", "jump"}},
	{"shoulder", []string{"overhead press", "bench press", "pull-up", "row"}},
	{"back", []string{"deadlift", "squat", "row", "hyperextension"}},
	{"ankle", []string{"jump", "run", "calf raise"}},
	{"wrist", []string{"push-up", "plank", "overhead press"}},
}

var alternatives = map[string]string{
	"barbell back squat": "goblet squat",
	"deadlift":           "dumbbell hip hinge",
	"overhead press":     "landmine press",
	"clean and jerk":     "kettlebell swing",
	"snatch":             "dumbbell high pull",
	"box jumps":          "step-ups",
}

// Factor is one contributor to the overall score.
type Factor struct {
	Type     string  `json:"type"`
	Detail   string  `json:"detail"`
	Severity float64 `json:"severity"`
	Exercise string  `json:"exercise,omitempty"`
	Injury   string  `json:"injury,omitempty"`
}

// User carries history signals. Age 0 means unknown; an empty fitness level
// is treated as beginner.
type User struct {
	Age          int
	Injuries     []string
	FitnessLevel string
}

// Context carries today's signals. SleepQuality 0 means unknown and is
// treated as 3 of 5.
type Context struct {
	SleepQuality int
	StressLevel  string
	DaysInactive int
}

// Input to Assess. Extra holds factors computed elsewhere that should be
// folded into the score.
type Input struct {
	User      User
	Context   Context
	Exercises []string
	Extra     []Factor
}

// Assessment is the categorized result.
type Assessment struct {
	UserRisks        []Factor `json:"user_risks"`
	ContextRisks     []Factor `json:"context_risks"`
	ExerciseRisks    []Factor `json:"exercise_risks"`
	InteractionRisks []Factor `json:"interaction_risks"`
	OtherRisks       []Factor `json:"other_risks,omitempty"`
	Score            float64  `json:"overall_risk_score"`
	TotalRiskFactors int      `json:"total_risk_factors"`
}

// All returns every factor in category order.
func (a Assessment) All() []Factor {
	out := make([]Factor, 0, a.TotalRiskFactors)
	out = append(out, a.UserRisks...)
	out = append(out, a.ContextRisks...)
	out = append(out, a.ExerciseRisks...)
	out = append(out, a.InteractionRisks...)
	out = append(out, a.OtherRisks...)
	return out
}

// Types returns the distinct factor types in first-seen order.
func (a Assessment) Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range a.All() {
		if !seen[f.Type] {
			seen[f.Type] = true
			out = append(out, f.Type)
		}
	}
	return out
}

// Assess applies the threshold rules to in.
func Assess(in Input) Assessment {
	a := Assessment{
		UserRisks:        userRisks(in.User),
		ContextRisks:     contextRisks(in.Context),
		ExerciseRisks:    []Factor{},
		InteractionRisks: []Factor{},
		OtherRisks:       append([]Factor(nil), in.Extra...),
	}

	for _, exercise := range in.Exercises {
		name := strings.ToLower(exercise)
		if IsHighRisk(name) {
			a.ExerciseRisks = append(a.ExerciseRisks, Factor{
				Type:     TypeHighRiskMove,
				Detail:   "Complex compound requiring technical proficiency",
				Severity: 0.8,
				Exercise: exercise,
			})
		}
		for _, injury := range in.User.Injuries {
			if ConflictsWithInjury(name, injury) {
				a.InteractionRisks = append(a.InteractionRisks, Factor{
					Type:     TypeInjuryConflict,
					Detail:   fmt.Sprintf("%s loads injured %s", exercise, injury),
					Severity: 0.9,
					Exercise: exercise,
					Injury:   injury,
				})
			}
		}
	}

	all := a.All()
	a.TotalRiskFactors = len(all)
	a.Score = Score(all)
	return a
}

// Score is the mean severity, or FloorScore for no factors.
func Score(factors []Factor) float64 {
	if len(factors) == 0 {
		return FloorScore
	}
	var sum float64
	for _, f := range factors {
		sum += f.Severity
	}
	return sum / float64(len(factors))
}

func userRisks(u User) []Factor {
	out := []Factor{}
	for _, injury := range u.Injuries {
		out = append(out, Factor{Type: TypeInjuryHistory, Detail: injury, Severity: 0.7})
	}
	switch {
	case u.Age > 50:
		out = append(out, Factor{Type: TypeAge, Detail: fmt.Sprintf("Age %d - slower recovery", u.Age), Severity: 0.5})
	case u.Age > 0 && u.Age < 20:
		out = append(out, Factor{Type: TypeAge, Detail: "Growth plate considerations", Severity: 0.3})
	}
	if level := strings.ToLower(u.FitnessLevel); level == "" || level == "beginner" {
		out = append(out, Factor{Type: TypeFitnessLevel, Detail: "Beginner - form risk", Severity: 0.6})
	}
	return out
}

func contextRisks(c Context) []Factor {
	out := []Factor{}
	sleep := c.SleepQuality
	if sleep == 0 {
		sleep = 3
	}
	switch {
	case sleep <= 2:
		out = append(out, Factor{Type: TypeSleep, Detail: fmt.Sprintf("Poor sleep quality (%d/5)", sleep), Severity: 0.8})
	case sleep == 3:
		out = append(out, Factor{Type: TypeSleep, Detail: fmt.Sprintf("Average sleep quality (%d/5)", sleep), Severity: 0.4})
	}
	if strings.EqualFold(c.StressLevel, "high") {
		out = append(out, Factor{Type: TypeStress, Detail: "High stress - cortisol elevated", Severity: 0.7})
	}
	if c.DaysInactive > 7 {
		out = append(out, Factor{Type: TypeDetraining, Detail: fmt.Sprintf("%d days inactive", c.DaysInactive), Severity: 0.6})
	}
	return out
}

// IsHighRisk reports whether exercise names a high-risk movement.
func IsHighRisk(exercise string) bool {
	name := strings.ToLower(exercise)
	for _, risky := range HighRiskExercises {
		if strings.Contains(name, risky) {
			return true
		}
	}
	return false
}

// ConflictsWithInjury reports whether exercise loads the body part named in injury.
func ConflictsWithInjury(exercise, injury string) bool {
	name := strings.ToLower(exercise)
	injury = strings.ToLower(injury)
	for _, c := range injuryConflicts {
		if !strings.Contains(injury, c.part) {
			continue
		}
		for _, m := range c.movements {
			if strings.Contains(name, m) {
				return true
			}
		}
		return false
	}
	return false
}

// AlternativeFor suggests a simpler substitute for a high-risk exercise.
func AlternativeFor(exercise string) (string, bool) {
	name := strings.ToLower(exercise)
	for _, risky := range HighRiskExercises {
		if strings.Contains(name, risky) {
			return alternatives[risky], true
		}
	}
	return "", false
}

// SafetyScore rates a final workout: 1 minus 0.3 of the assessed risk,
// minus 0.1 per high-risk exercise still present, clamped to [0.1, 1].
func SafetyScore(a Assessment, exercises []string) float64 {
	score := 1.0 - a.Score*0.3
	for _, e := range exercises {
		if IsHighRisk(e) {
			score -= 0.1
		}
	}
	return max(0.1, min(1.0, score))
}
