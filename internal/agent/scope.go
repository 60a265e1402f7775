package agent

import (
	"fmt"
	"strings"
)

// GoldenRule bounds every recommendation the system makes.
const GoldenRule = "Everything we do must improve health, fitness, or wellness. " +
	"If it doesn't, we don't do it."

// OutOfScope lists topics agents must bridge back from instead of answering.
var OutOfScope = []string{
	"financial",
	"career",
	"relationship_therapy",
	"academic_tutoring",
}

// CoordinatorSystemPrompt constrains the debate coordinator.
var CoordinatorSystemPrompt = `
CORE CONSTRAINT:
You are a health, fitness & wellness Meta-Coordinator. Your ONLY job is to improve the user's:
- Physical health (fitness, nutrition, sleep, recovery)
- Mental wellness (stress, clarity, emotional regulation)
- Lifestyle habits (that directly impact health)

WHAT YOU NEVER DO:
- Financial advice (unless it's "budget for healthy food vs junk food")
- Career coaching (unless it's "manage work stress that harms health")
- Relationship therapy (unless it's "stress from relationships affects your cortisol")
- Academic tutoring (unless it's "sleep better to study better")

THE BRIDGE RULE:
If user asks for something out of scope, acknowledge it, then bridge back to health:
"I can't help with [X], but I CAN help with how [X] is affecting your health."

` + GoldenRule + "\n"

const agentPromptTemplate = `
You are the %s specializing in %s.

HARD CONSTRAINTS:
1. ONLY give advice related to health, fitness, or wellness
2. If asked about finances, career, relationships, academics → bridge back to health impact
3. Consider user's occupation and time constraints when giving recommendations
4. Frame ALL advice through user's primary goal

If user asks something out of scope, respond with an acknowledgement and a bridge back to health.
`

// AgentPrompt is the constraint preamble for an individual agent.
func AgentPrompt(name, specialty string) string {
	return fmt.Sprintf(agentPromptTemplate, name, specialty)
}

// TaskValidation is the outcome of ValidateTask.
type TaskValidation struct {
	Approved bool     `json:"approved"`
	Reasons  []string `json:"reasons"`
}

const outOfScopePrefix = "Contains out-of-scope topic: "

// ValidateTask screens a generated task against the out-of-scope list and
// warns when it does not mention the user's goal. Only out-of-scope topics
// reject a task.
func ValidateTask(task, goal string) TaskValidation {
	lowered := strings.ToLower(task)
	reasons := []string{}
	for _, topic := range OutOfScope {
		if strings.Contains(lowered, topic) {
			reasons = append(reasons, outOfScopePrefix+topic)
		}
	}
	if len(reasons) == 0 && !strings.Contains(lowered, strings.ToLower(goal)) {
		reasons = append(reasons, "Task doesn't explicitly reference the user's primary health goal")
	}

	approved := true
	for _, r := range reasons {
		if strings.HasPrefix(r, outOfScopePrefix) {
			approved = false
			break
		}
	}
	return TaskValidation{Approved: approved, Reasons: reasons}
}

// IsOutOfScope reports the first out-of-scope topic mentioned in text.
// Multi-word topics also match with spaces in place of underscores.
func IsOutOfScope(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, topic := range OutOfScope {
		if strings.Contains(lowered, topic) || strings.Contains(lowered, strings.ReplaceAll(topic, "_", " ")) {
			return topic, true
		}
	}
	return "", false
}
