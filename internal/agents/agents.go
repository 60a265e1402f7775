// Package agents holds the coaching specialists used by the workflows.
//
// Each specialist wraps an agent.Agent with its own prompts and decodes the
// reply into a typed result. A generation failure is returned as an error so
// the calling pipeline step can record it; an unparseable reply is not an
// error and yields the documented defaults with Parsed set to false.
package agents

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/retrieval"
)

// Agent names. They double as memory AgentName values.
const (
	GoalSettingName         = "Goal Setting Agent"
	FailurePatternName      = "Failure Pattern Agent"
	ProgressTrackingName    = "Progress Tracking Agent"
	BiometricName           = "Biometric Agent"
	OccupationName          = "Occupation Agent"
	EmotionalSupportName    = "Emotional Support Agent"
	HolisticHealthName      = "Holistic Health Agent"
	SleepName               = "Sleep Agent"
	StressManagementName    = "Stress Management Agent"
	BarrierDetectionName    = "Barrier Detection Agent"
	CalendarName            = "Calendar Agent"
	MotivationName          = "Motivation Agent"
	WorkoutModificationName = "Workout Modification Agent"
	TaskGenerationName      = "Task Generation Agent"
)

// Memory learning types.
const (
	LearningFailurePattern    = "failure_pattern"
	LearningBiometricBaseline = "biometric_baseline"
	LearningFeedback          = "feedback"
	LearningBarrier           = "barrier_pattern"
)

// Roster is the full set of specialists sharing one generator.
type Roster struct {
	Goal       *GoalSetting
	Failure    *FailurePattern
	Progress   *ProgressTracking
	Biometric  *Biometric
	Occupation *Occupation
	Emotional  *EmotionalSupport
	Holistic   *HolisticHealth
	Sleep      *Sleep
	Stress     *StressManagement
	Barrier    *BarrierDetection
	Calendar   *Calendar
	Motivation *Motivation
	Workout    *WorkoutModification
	Tasks      *TaskGeneration
	Plans      *Planner
}

// NewRoster builds every specialist. A nil retriever disables knowledge
// lookups.
func NewRoster(gen agent.Generator, kb retrieval.Retriever) *Roster {
	if kb == nil {
		kb = retrieval.Nop{}
	}
	return &Roster{
		Goal:       NewGoalSetting(gen),
		Failure:    NewFailurePattern(gen),
		Progress:   NewProgressTracking(gen, kb),
		Biometric:  NewBiometric(gen),
		Occupation: NewOccupation(gen),
		Emotional:  NewEmotionalSupport(gen),
		Holistic:   NewHolisticHealth(gen),
		Sleep:      NewSleep(gen),
		Stress:     NewStressManagement(gen),
		Barrier:    NewBarrierDetection(gen),
		Calendar:   NewCalendar(),
		Motivation: NewMotivation(gen),
		Workout:    NewWorkoutModification(gen, kb),
		Tasks:      NewTaskGeneration(gen),
		Plans:      NewPlanner(),
	}
}

// memoryLines renders up to limit facts of one learning type as "- <field>"
// lines under header. It returns "" when nothing matches.
func memoryLines(snap memory.Snapshot, learningType, field, header string, limit int) string {
	facts := memory.FromSnapshot(snap, memory.Query{LearningType: learningType})
	if len(facts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(header)
	for i, f := range facts {
		if i == limit {
			break
		}
		line := agent.Str(f.Content, field)
		if line == "" {
			// failure_pattern facts written by this package store a list.
			line = strings.Join(agent.Strings(f.Content, "patterns"), "; ")
		}
		fmt.Fprintf(&sb, "\n- %s", line)
	}
	return sb.String()
}

// withContext appends the user context block when there is one.
func withContext(prompt, userContext string) string {
	if userContext == "" {
		return prompt
	}
	return prompt + "\n\nUser Context:\n" + userContext
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}
