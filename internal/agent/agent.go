package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"go.uber.org/zap"
)

// Challenge stances.
const (
	StanceSupport     = "support"
	StanceChallenge   = "challenge"
	StanceConditional = "conditional"
	StanceUnknown     = "unknown"
)

// Focus values used by synthesis to rank challengers.
const (
	FocusRisk     = "risk"
	FocusSafety   = "safety"
	FocusAmbition = "ambition"
)

// Agent is a named specialist backed by a Generator.
type Agent struct {
	Name        string
	Description string
	Specialty   string
	// Focus tags the agent's outlook for debate weighting.
	Focus               string
	RequiresUserContext bool
	Generator           Generator
}

// New returns an agent that includes user context in its prompts.
func New(name, description, specialty string, gen Generator) *Agent {
	return &Agent{
		Name:                name,
		Description:         description,
		Specialty:           specialty,
		RequiresUserContext: true,
		Generator:           gen,
	}
}

// SystemPrompt prefixes body with the agent's constraint preamble.
func (a *Agent) SystemPrompt(body string) string {
	return AgentPrompt(a.Name, a.Specialty) + "\n" + strings.TrimSpace(body)
}

// Context renders user context when the agent wants it.
func (a *Agent) Context(p *profile.Profile) string {
	if !a.RequiresUserContext {
		return ""
	}
	return UserContext(p)
}

// Generate calls the generator with defaults applied.
func (a *Agent) Generate(ctx context.Context, system, user string, opts Options) (string, error) {
	if a.Generator == nil {
		return "", fmt.Errorf("%s: no generator configured", a.Name)
	}
	return a.Generator.Generate(ctx, system, user, opts.WithDefaults())
}

// Analyze generates and parses a JSON object. A generation failure returns
// {"error": <text>, "raw_response": nil} together with the error; a parse
// failure returns the parse sentinel and no error.
func (a *Agent) Analyze(ctx context.Context, system, user string, opts Options) (map[string]any, error) {
	raw, err := a.Generate(ctx, system, user, opts)
	if err != nil {
		logging.FromContext(ctx).Warn(ctx, "agent generation failed",
			zap.String("agent", a.Name), zap.Error(err))
		return map[string]any{"error": err.Error(), "raw_response": nil}, err
	}
	parsed := ParseJSON(raw)
	if IsSentinel(parsed) {
		logging.FromContext(ctx).Warn(ctx, "agent response not parseable",
			zap.String("agent", a.Name), zap.Int("raw_len", len(raw)))
	}
	return parsed, nil
}

// Challenge is one agent's review of another agent's proposal.
type Challenge struct {
	Agent           string         `json:"agent"`
	Focus           string         `json:"focus,omitempty"`
	Stance          string         `json:"stance"`
	Reasoning       string         `json:"reasoning"`
	Concerns        []string       `json:"concerns"`
	CounterProposal string         `json:"counter_proposal,omitempty"`
	Confidence      float64        `json:"confidence"`
	Raw             map[string]any `json:"raw,omitempty"`
}

// Opposes reports whether the stance is challenge or conditional.
func (c Challenge) Opposes() bool {
	return c.Stance == StanceChallenge || c.Stance == StanceConditional
}

// Map returns the challenge as a generic payload.
func (c Challenge) Map() map[string]any {
	m := map[string]any{
		"agent":      c.Agent,
		"stance":     c.Stance,
		"reasoning":  c.Reasoning,
		"concerns":   c.Concerns,
		"confidence": c.Confidence,
	}
	if c.CounterProposal != "" {
		m["counter_proposal"] = c.CounterProposal
	}
	return m
}

const challengeSystem = `
You are %s.
Another agent proposed a plan. Review it through YOUR domain expertise.
Your role: %s

Respond with JSON:
{
  "stance": "support|challenge|conditional",
  "reasoning": "why you agree/disagree",
  "concerns": ["specific issues from your domain"],
  "counter_proposal": "if challenging, what would you suggest instead",
  "confidence": 0.8
}
`

const challengeUser = `
Proposed Plan: %s
Context: %s
Evaluate this plan from your domain expertise.
`

// Challenge asks the agent to review a proposal. Unparseable output yields
// an "unknown" stance with confidence 0.5.
func (a *Agent) Challenge(ctx context.Context, proposal, situation map[string]any) (Challenge, error) {
	system := fmt.Sprintf(challengeSystem, a.Name, a.Description)
	user := fmt.Sprintf(challengeUser, Indent(proposal), Indent(situation))

	out := Challenge{Agent: a.Name, Focus: a.Focus, Stance: StanceUnknown, Confidence: 0.5}
	raw, err := a.Generate(ctx, system, user, DefaultOptions())
	if err != nil {
		return out, fmt.Errorf("%s challenge: %w", a.Name, err)
	}

	parsed := ParseJSON(raw)
	if s := strings.ToLower(strings.TrimSpace(Str(parsed, "stance"))); s != "" {
		out.Stance = s
	}
	out.Reasoning = Str(parsed, "reasoning")
	out.Concerns = Strings(parsed, "concerns")
	if out.Concerns == nil {
		out.Concerns = []string{}
	}
	out.CounterProposal = Str(parsed, "counter_proposal")
	out.Confidence = Float(parsed, "confidence", 0.5)
	out.Raw = parsed
	return out, nil
}
