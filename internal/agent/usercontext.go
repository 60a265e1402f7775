package agent

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/profile"
)

// NoUserContext is returned when a profile contributes nothing.
const NoUserContext = "No specific user context."

// Cycle phases.
const (
	PhaseMenstruation = "Menstruation"
	PhaseFollicular   = "Follicular - High Energy Phase"
	PhaseOvulation    = "Ovulation"
	PhaseLuteal       = "Luteal - Energy Declining"
	PhaseUnknown      = "Unknown"
)

var phaseConsiderations = map[string]string{
	PhaseMenstruation: "Lower energy, cramping possible. Lighter workouts, more rest.",
	PhaseFollicular:   "Peak performance window. Push intensity, try PRs.",
	PhaseOvulation:    "High energy continues. Great time for challenging workouts.",
	PhaseLuteal:       "Progesterone rising, energy drops. Focus on maintenance, expect less.",
}

// CyclePhase maps a menstrual cycle day to its phase.
func CyclePhase(day int) string {
	switch {
	case day >= 1 && day <= 5:
		return PhaseMenstruation
	case day >= 6 && day <= 14:
		return PhaseFollicular
	case day >= 15 && day <= 17:
		return PhaseOvulation
	case day >= 18 && day <= 28:
		return PhaseLuteal
	default:
		return PhaseUnknown
	}
}

// PhaseConsiderations returns training guidance for a phase, or "".
func PhaseConsiderations(phase string) string {
	return phaseConsiderations[phase]
}

// UserContext renders the profile facts an agent should take into account.
func UserContext(p *profile.Profile) string {
	if p == nil {
		return NoUserContext
	}

	var parts []string
	if p.Age > 0 {
		parts = append(parts, fmt.Sprintf("Age: %d", p.Age))
	}
	if p.Gender != "" {
		parts = append(parts, "Gender: "+p.Gender)
	}
	if strings.EqualFold(p.Gender, "female") && p.CycleDay > 0 {
		phase := CyclePhase(p.CycleDay)
		parts = append(parts, fmt.Sprintf("Menstrual cycle: Day %d (%s)", p.CycleDay, phase))
		if c := PhaseConsiderations(phase); c != "" {
			parts = append(parts, c)
		}
	}
	switch {
	case p.Age > 50:
		parts = append(parts, "Consider: Recovery takes longer, joint health")
	case p.Age > 0 && p.Age < 25:
		parts = append(parts, "Consider: Hormonal changes, growth spurt")
	}

	if len(parts) == 0 {
		return NoUserContext
	}
	return strings.Join(parts, "\n")
}
