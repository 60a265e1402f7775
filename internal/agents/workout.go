package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/retrieval"
	"github.com/fyrsmithlabs/coachd/internal/risk"
)

// NoGuidelines is the prompt text used when the knowledge base has nothing.
const NoGuidelines = "No specific guidelines found."

// WorkoutModification adapts a workout to the user's risk factors.
type WorkoutModification struct {
	agent *agent.Agent
	kb    retrieval.Retriever
}

func NewWorkoutModification(gen agent.Generator, kb retrieval.Retriever) *WorkoutModification {
	a := agent.New(WorkoutModificationName,
		"Modifies workouts for safety based on user risk factors",
		"exercise safety and injury prevention", gen)
	a.Focus = agent.FocusSafety
	if kb == nil {
		kb = retrieval.Nop{}
	}
	return &WorkoutModification{agent: a, kb: kb}
}

// WorkoutInput is the workout and the signals that shape it.
type WorkoutInput struct {
	Workout      *Workout
	Profile      *profile.Profile
	CheckIn      profile.CheckIn
	DaysInactive int
	Memory       memory.Snapshot
}

// Modification is the outcome of a safety review.
type Modification struct {
	Modified      bool            `json:"modified"`
	Workout       *Workout        `json:"modified_workout"`
	Modifications []string        `json:"modifications"`
	Reasoning     string          `json:"reasoning"`
	SafetyScore   float64         `json:"safety_score"`
	Confidence    float64         `json:"confidence"`
	Assessment    risk.Assessment `json:"risk_assessment"`
	Guidelines    string          `json:"-"`
	Parsed        bool            `json:"-"`
}

type modificationReply struct {
	Modified        bool       `json:"modified"`
	ModifiedWorkout []Exercise `json:"modified_workout"`
	Modifications   []string   `json:"modifications"`
	Reasoning       string     `json:"reasoning"`
	Confidence      float64    `json:"confidence"`
}

const workoutSystem = `
You are an expert exercise physiologist specializing in injury prevention.
Modify the workout so it is safe for this user today.

Rules:
- Replace movements that load an injured body part
- Reduce intensity after poor sleep or high stress
- Ease back in after long inactivity
- Keep the session's purpose when possible

SAFETY GUIDELINES:
%s

Respond with JSON:
{
  "modified": true,
  "modified_workout": [
    {"name": "exercise", "sets": 3, "reps": 10, "intensity": "moderate", "form_cues": ["cue"], "alternatives": ["option"]}
  ],
  "modifications": ["what changed and why"],
  "reasoning": "overall rationale",
  "safety_score": 0.85,
  "confidence": 0.8
}`

// Assess scores the workout's risk for this user.
func (w *WorkoutModification) Assess(in WorkoutInput) risk.Assessment {
	var u risk.User
	if in.Profile != nil {
		u = risk.User{Age: in.Profile.Age, Injuries: in.Profile.Injuries, FitnessLevel: in.Profile.FitnessLevel}
	}
	return risk.Assess(risk.Input{
		User: u,
		Context: risk.Context{
			SleepQuality: in.CheckIn.SleepQuality,
			StressLevel:  in.CheckIn.StressLevel,
			DaysInactive: in.DaysInactive,
		},
		Exercises: in.Workout.Names(),
	})
}

// Modify reviews in.Workout. A workout with no risk factors is returned
// unchanged without consulting the model. When generation fails or the reply
// cannot be read, high-risk movements are swapped for their simpler
// alternatives instead; the generation error is still returned.
func (w *WorkoutModification) Modify(ctx context.Context, in WorkoutInput) (Modification, error) {
	assessment := w.Assess(in)
	mod := Modification{Workout: in.Workout, Modifications: []string{}, Assessment: assessment}
	if in.Workout == nil {
		mod.SafetyScore = 1
		return mod, nil
	}
	if assessment.TotalRiskFactors == 0 {
		mod.SafetyScore = risk.SafetyScore(assessment, in.Workout.Names())
		mod.Parsed = true
		return mod, nil
	}

	mod.Guidelines = w.guidelines(ctx, in, assessment)
	user := fmt.Sprintf(`Review this workout:

WORKOUT:
%s

RISK ASSESSMENT:
%s

MEMORY:
%s

Modify the workout to address every risk factor.`,
		agent.Indent(in.Workout), agent.Indent(assessment), workoutMemory(in.Memory))
	user = withContext(user, w.agent.Context(in.Profile))

	raw, err := w.agent.Generate(ctx, w.agent.SystemPrompt(fmt.Sprintf(workoutSystem, mod.Guidelines)), user,
		agent.Options{Temperature: 0.1, MaxTokens: 2000})
	if err != nil {
		return w.fallback(mod), err
	}
	reply, unparsed := agent.Decode[modificationReply](raw)
	if unparsed != nil || len(reply.ModifiedWorkout) == 0 {
		return w.fallback(mod), nil
	}

	modified := *in.Workout
	modified.Exercises = reply.ModifiedWorkout
	mod.Workout = &modified
	mod.Modified = reply.Modified
	mod.Modifications = nonNil(reply.Modifications)
	mod.Reasoning = reply.Reasoning
	mod.Confidence = reply.Confidence
	mod.Parsed = true
	mod.SafetyScore = risk.SafetyScore(assessment, modified.Names())
	return mod, nil
}

func (w *WorkoutModification) fallback(mod Modification) Modification {
	modified := *mod.Workout
	modified.Exercises = make([]Exercise, len(mod.Workout.Exercises))
	for i, e := range mod.Workout.Exercises {
		if alt, ok := risk.AlternativeFor(e.Name); ok {
			mod.Modifications = append(mod.Modifications, fmt.Sprintf("Replaced %s with %s", e.Name, alt))
			e.Alternatives = append(e.Alternatives, e.Name)
			e.Name = alt
		}
		modified.Exercises[i] = e
	}
	mod.Workout = &modified
	mod.Modified = len(mod.Modifications) > 0
	mod.Reasoning = "Rule-based substitution of high-risk movements"
	mod.SafetyScore = risk.SafetyScore(mod.Assessment, modified.Names())
	return mod
}

// guidelines looks up safety knowledge for the first three risk types.
func (w *WorkoutModification) guidelines(ctx context.Context, in WorkoutInput, a risk.Assessment) string {
	type lookup struct{ query, category string }
	var lookups []lookup

	types := a.Types()
	if len(types) > 3 {
		types = types[:3]
	}
	for _, t := range types {
		switch t {
		case risk.TypeInjuryHistory:
			if in.Profile == nil {
				continue
			}
			for i, injury := range in.Profile.Injuries {
				if i == 2 {
					break
				}
				lookups = append(lookups, lookup{injury + " injury prevention exercise modification", retrieval.CategoryFitness})
			}
		case risk.TypeSleep:
			lookups = append(lookups, lookup{"exercise modification poor sleep recovery", retrieval.CategoryRecovery})
		case risk.TypeHighRiskMove:
			n := 0
			for _, e := range in.Workout.Names() {
				if n == 2 {
					break
				}
				if risk.IsHighRisk(e) {
					lookups = append(lookups, lookup{e + " safety form cues injury prevention", retrieval.CategoryFitness})
					n++
				}
			}
		}
	}

	var parts []string
	for _, l := range lookups {
		chunks, err := w.kb.Retrieve(ctx, l.query, l.category, 2)
		if err != nil || len(chunks) == 0 {
			continue
		}
		parts = append(parts, retrieval.FormatContext(chunks))
	}
	if len(parts) == 0 {
		return NoGuidelines
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func workoutMemory(snap memory.Snapshot) string {
	var parts []string
	if s := memoryLines(snap, LearningFeedback, "feedback", "PAST FEEDBACK:", 3); s != "" {
		parts = append(parts, s)
	}
	if s := memoryLines(snap, LearningFailurePattern, "pattern", "FAILURE PATTERNS:", 2); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "No relevant memory found."
	}
	return strings.Join(parts, "\n\n")
}
