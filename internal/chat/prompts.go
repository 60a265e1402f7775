package chat

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

const onboardingSystem = `
You are the onboarding guide for a holistic health coaching app.

Have a short, natural conversation to learn the user's PRIMARY HEALTH GOAL.
The four primary goals are:
1. FITNESS (weight loss, muscle gain, strength, running)
2. SLEEP (sleep quality, insomnia, better rest)
3. STRESS (anxiety, work stress, emotional wellness)
4. WELLNESS (more energy, overall health, balance)

Ask ONE question at a time. Don't assume fitness is everyone's goal, and be
kind about past attempts that didn't work out.

Respond with JSON:
{
    "agent_response": "what you say to the user",
    "extracted_info": {
        "primary_goal": "fitness|sleep|stress|wellness|unknown",
        "specific_goal": "e.g. lose 20 lbs, sleep 7+ hours",
        "occupation": "if mentioned",
        "constraints": ["time", "gym access"],
        "past_attempts": "if mentioned"
    },
    "next_question": "what to ask next",
    "conversation_complete": false,
    "confidence": 0.85
}

Set conversation_complete to true only once the primary goal, the specific
goal and the key constraints are known.`

const generalSystem = `
You are a friendly health and wellness coach. Answer naturally and stay
focused on health, fitness and wellness.

Respond with JSON:
{
    "agent_response": "your reply",
    "extracted_info": {},
    "conversation_complete": false,
    "confidence": 0.80
}`

var morningFocus = map[string]string{
	"fitness": "- Readiness for today's workout\n- Muscle soreness and recovery\n- Nutrition",
	"sleep":   "- Sleep duration and quality\n- Energy on waking\n- Caffeine and screen time yesterday",
	"stress":  "- Current stress level (1-10)\n- Triggers expected today\n- Mood",
}

var eveningFocus = map[string]string{
	"fitness": "- Workout completion\n- Nutrition adherence\n- Recovery prep",
	"sleep":   "- Wind-down routine\n- Screen time\n- Bedroom prep",
	"stress":  "- Today's stressors\n- Gratitude\n- How relaxed they feel now",
}

const (
	defaultMorningFocus = "- Overall energy\n- Balance across health areas\n- General well-being"
	defaultEveningFocus = "- Daily wins\n- Overall balance\n- Prep for tomorrow"
)

// prompt collects everything one reply is generated from.
type prompt struct {
	stage      string
	goal       string
	history    []session.Message
	message    string
	extracted  map[string]any
	user       string
	knowledge  string
	outOfScope string
}

func (p prompt) system() string {
	switch p.stage {
	case StageOnboarding:
		return onboardingSystem
	case StageDailyCheckIn:
		return checkInSystem("a quick morning check-in", p.goal, focusFor(morningFocus, p.goal, defaultMorningFocus),
			"- Any barriers or challenges\n\nKeep it brief (2-3 questions max). Be supportive but focused.",
			`{
    "agent_response": "your check-in message",
    "extracted_info": {
        "energy_level": "low|moderate|high",
        "sleep_quality": "poor|average|good",
        "stress_level": "low|moderate|high",
        "barriers": [],
        "wins": []
    },
    "conversation_complete": true,
    "confidence": 0.80
}`)
	case StageEveningCheckIn:
		return checkInSystem("an evening check-in", p.goal, focusFor(eveningFocus, p.goal, defaultEveningFocus),
			"- One win from today\n\nKeep it brief and calming.",
			`{
    "agent_response": "your evening message",
    "extracted_info": {
        "day_rating": "1-10",
        "completed_tasks": [],
        "mood": "current mood"
    },
    "conversation_complete": true,
    "confidence": 0.80
}`)
	default:
		return generalSystem
	}
}

func checkInSystem(kind, goal, focus, tail, schema string) string {
	return fmt.Sprintf(`
You are conducting %s for a user with PRIMARY GOAL: %s.

Ask about:
%s
%s

Respond with JSON:
%s`, kind, strings.ToUpper(goal), focus, tail, schema)
}

func focusFor(focus map[string]string, goal, def string) string {
	if f, ok := focus[strings.ToLower(goal)]; ok {
		return f
	}
	return def
}

func (p prompt) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "USER CONTEXT:\n%s\n\n", p.user)
	fmt.Fprintf(&b, "RELEVANT KNOWLEDGE:\n%s\n\n", p.knowledge)

	if window := lastN(p.history, historyWindow); len(window) > 0 {
		b.WriteString("CONVERSATION SO FAR:\n")
		for _, m := range window {
			speaker := "You"
			if m.Role == session.RoleUser {
				speaker = "User"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "USER'S LATEST MESSAGE: %q\n", p.message)
	if len(p.extracted) > 0 {
		fmt.Fprintf(&b, "\nDATA EXTRACTED SO FAR:\n%s\n", agent.Indent(p.extracted))
	}

	if p.outOfScope != "" {
		fmt.Fprintf(&b, "\nThe user raised %q, which is outside health coaching. "+
			"Acknowledge it briefly without giving advice on it, then bridge back to how it "+
			"affects their health, energy or stress. %s\n", strings.ReplaceAll(p.outOfScope, "_", " "), agent.GoldenRule)
	}

	b.WriteString("\nRespond naturally, extract any new information and generate the JSON response.")
	return b.String()
}

func lastN(msgs []session.Message, n int) []session.Message {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
