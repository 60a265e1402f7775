// Package synthesis reconciles a proposal and its challenges into one decision.
//
// A synthesis is a single pass: Collect builds the debate entries, Weigh puts
// risk-focused challengers first and flags evidenced risk, Reconcile asks the
// coordinator for a decision, and Default-fill guarantees every field the
// caller reads is present. Synthesize never fails; a generation or parse
// failure produces a filled result with zero confidence and Degraded set.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Placeholder fills any decision or summary field the coordinator left empty.
	Placeholder = "Summary unavailable"

	// GenericAdjustment is used when risk was evidenced but no challenger
	// offered anything more specific.
	GenericAdjustment = "Reduce initial commitment to protect against identified failure risk"

	// QuitThreshold is the quit probability at which a challenger's analysis
	// counts as evidenced risk.
	QuitThreshold = 0.5

	reconcileTemperature = 0.4
	reconcileMaxTokens   = 1500
)

// Role is an entry's part in the debate.
type Role string

const (
	RoleProposer   Role = "proposer"
	RoleChallenger Role = "challenger"
)

// Entry is one agent's contribution.
type Entry struct {
	Agent   string         `json:"agent"`
	Role    Role           `json:"role"`
	Focus   string         `json:"focus,omitempty"`
	Payload map[string]any `json:"output"`
	// Challenge is set for challengers that reviewed the proposal.
	Challenge *agent.Challenge `json:"challenge,omitempty"`
}

// Decision is the reconciled plan.
type Decision struct {
	InterpretedGoal string `json:"interpreted_goal"`
	WeeklyTarget    string `json:"weekly_target"`
	FirstMilestone  string `json:"first_milestone"`
	Reasoning       string `json:"reasoning"`
}

// Summary explains how the positions were balanced.
type Summary struct {
	GoalAgentPosition    string `json:"goal_agent_position"`
	FailureAgentPosition string `json:"failure_agent_position"`
	SynthesisRationale   string `json:"synthesis_rationale"`
}

// Result is the outcome of one synthesis.
type Result struct {
	FinalDecision     Decision `json:"final_decision"`
	DebateSummary     Summary  `json:"debate_summary"`
	SafetyAdjustments []string `json:"safety_adjustments"`
	GrowthPath        string   `json:"growth_path,omitempty"`
	Confidence        float64  `json:"confidence"`
	// Degraded is set when the coordinator could not be reached or its
	// response could not be parsed.
	Degraded bool `json:"degraded"`
	// RiskEvidenced is set when at least one challenger showed evidenced risk.
	RiskEvidenced bool `json:"risk_evidenced"`
}

// Map renders the final decision as a generic payload.
func (d Decision) Map() map[string]any {
	return map[string]any{
		"interpreted_goal": d.InterpretedGoal,
		"weekly_target":    d.WeeklyTarget,
		"first_milestone":  d.FirstMilestone,
		"reasoning":        d.Reasoning,
	}
}

// Map renders the summary as a generic payload.
func (s Summary) Map() map[string]any {
	return map[string]any{
		"goal_agent_position":    s.GoalAgentPosition,
		"failure_agent_position": s.FailureAgentPosition,
		"synthesis_rationale":    s.SynthesisRationale,
	}
}

// Request describes one debate to reconcile.
type Request struct {
	UserID string
	// DebateType tags the audit record, e.g. "onboarding" or "resolution".
	DebateType  string
	PrimaryGoal string
	Entries     []Entry
}

// Engine runs syntheses.
type Engine struct {
	coordinator *agent.Agent
	recorder    memory.DebateRecorder
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder records every synthesis as a debate log.
func WithRecorder(r memory.DebateRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock overrides the clock used for debate log timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine whose coordinator uses gen.
func New(gen agent.Generator, opts ...Option) *Engine {
	coordinator := &agent.Agent{
		Name:        "Meta-Coordinator",
		Description: "Synthesizes multi-agent debates and makes final coordinated decisions",
		Specialty:   "debate synthesis",
		Generator:   gen,
	}
	e := &Engine{coordinator: coordinator, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Collect builds the entries for a proposal and its challenges. Extra
// challenger payloads, such as a failure analysis, are attached to the
// challenge from the same agent.
func Collect(proposer string, proposal map[string]any, challenges []agent.Challenge, analyses map[string]map[string]any) []Entry {
	entries := make([]Entry, 0, len(challenges)+1)
	entries = append(entries, Entry{
		Agent:   proposer,
		Role:    RoleProposer,
		Focus:   agent.FocusAmbition,
		Payload: proposal,
	})
	for i := range challenges {
		c := challenges[i]
		payload := analyses[c.Agent]
		if payload == nil {
			payload = c.Map()
		}
		entries = append(entries, Entry{
			Agent:     c.Agent,
			Role:      RoleChallenger,
			Focus:     c.Focus,
			Payload:   payload,
			Challenge: &c,
		})
	}
	return entries
}

// Weigh orders risk and safety focused challengers ahead of the rest,
// keeping relative order otherwise. The input is not modified.
func Weigh(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return out
}

func rank(e Entry) int {
	if e.Role == RoleChallenger && (e.Focus == agent.FocusRisk || e.Focus == agent.FocusSafety) {
		return 0
	}
	return 1
}

// EvidencedRisk reports whether a challenger entry shows concrete risk: an
// opposing stance with concerns, a quit probability of at least 0.5, or
// identified failure patterns.
func EvidencedRisk(e Entry) bool {
	if e.Role != RoleChallenger {
		return false
	}
	if c := e.Challenge; c != nil && c.Opposes() && len(c.Concerns) > 0 {
		return true
	}
	if agent.Float(e.Payload, "quit_probability", 0) >= QuitThreshold {
		return true
	}
	return len(patterns(e.Payload)) > 0
}

func patterns(m map[string]any) []any {
	v, _ := m["identified_patterns"].([]any)
	if v != nil {
		return v
	}
	if s := agent.Strings(m, "identified_patterns"); len(s) > 0 {
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	return nil
}

// Synthesize reconciles req into a Result. It never returns an error.
func (e *Engine) Synthesize(ctx context.Context, req Request) Result {
	log := logging.FromContext(ctx)
	weighed := Weigh(req.Entries)

	var risky []Entry
	for _, entry := range weighed {
		if EvidencedRisk(entry) {
			risky = append(risky, entry)
		}
	}

	goal := req.PrimaryGoal
	if goal == "" {
		goal = "wellness"
	}

	parsed, degraded := e.reconcile(ctx, goal, weighed)
	result := fill(parsed)
	result.Degraded = degraded
	result.RiskEvidenced = len(risky) > 0
	if degraded {
		result.Confidence = 0
	}
	if len(risky) > 0 && len(result.SafetyAdjustments) == 0 {
		result.SafetyAdjustments = deriveAdjustments(risky)
	}

	log.Debug(ctx, "synthesis complete",
		zap.String("debate_type", req.DebateType),
		zap.Int("entries", len(weighed)),
		zap.Bool("degraded", degraded),
		zap.Bool("risk_evidenced", result.RiskEvidenced),
		zap.Float64("confidence", result.Confidence))

	e.record(ctx, req, weighed, result)
	return result
}

func (e *Engine) reconcile(ctx context.Context, goal string, entries []Entry) (map[string]any, bool) {
	opts := agent.Options{Temperature: reconcileTemperature, MaxTokens: reconcileMaxTokens}
	raw, err := e.coordinator.Generate(ctx, systemPrompt(), userPrompt(goal, entries), opts)
	if err != nil {
		logging.FromContext(ctx).Warn(ctx, "synthesis generation failed", zap.Error(err))
		return nil, true
	}
	parsed := agent.ParseJSON(raw)
	if agent.IsSentinel(parsed) {
		logging.FromContext(ctx).Warn(ctx, "synthesis response not parseable", zap.Int("raw_len", len(raw)))
		return nil, true
	}
	return parsed, false
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString(agent.CoordinatorSystemPrompt)
	b.WriteString("\nYou are the Meta-Coordinator - the final decision maker who synthesizes debates between specialized AI agents.\n\n")
	b.WriteString("Your role:\n")
	b.WriteString("- Weigh each agent's domain expertise\n")
	b.WriteString("- Balance competing priorities (ambition vs. safety, short-term vs. long-term)\n")
	b.WriteString("- Create hybrid solutions that satisfy multiple concerns\n")
	b.WriteString("- ALWAYS explain your reasoning transparently\n")
	b.WriteString("- Favor safety over ambition when past failures indicate risk\n\n")
	b.WriteString("Challenges that identify past failure patterns must be taken very seriously.\n")
	b.WriteString("When agents disagree, don't just pick one - create a synthesis.\n\n")
	b.WriteString("You MUST respond with EXACTLY this JSON format (no extra text):\n")
	b.WriteString(`{
  "final_decision": {
    "interpreted_goal": "specific goal statement",
    "weekly_target": "concrete weekly action",
    "first_milestone": "achievable 4-week goal",
    "reasoning": "detailed explanation of your synthesis"
  },
  "debate_summary": {
    "goal_agent_position": "summary of what the proposing agent proposed",
    "failure_agent_position": "summary of what the challenging agents raised",
    "synthesis_rationale": "explanation of how you balanced the positions"
  },
  "safety_adjustments": ["list of changes made to protect user from past failures"],
  "growth_path": "how user can increase difficulty over time",
  "confidence": 0.9
}
`)
	b.WriteString("\nCRITICAL: All three keys in debate_summary MUST be present with actual content, not null!\n")
	return b.String()
}

func userPrompt(goal string, entries []Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is the agent debate for a user with PRIMARY GOAL: %s\n\n", strings.ToUpper(goal))
	for _, entry := range entries {
		fmt.Fprintf(&b, "%s (%s):\n", strings.ToUpper(entry.Agent), entry.Role)
		b.WriteString(agent.Indent(entry.Payload))
		b.WriteString("\n")
		if entry.Challenge != nil {
			b.WriteString("Challenge:\n")
			b.WriteString(agent.Indent(entry.Challenge.Map()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Your task:\n")
	b.WriteString("1. Summarize what each agent proposed\n")
	b.WriteString("2. Identify the key conflict between their positions\n")
	fmt.Fprintf(&b, "3. Create a synthesis that honors every perspective but weights them according to the %s goal\n", goal)
	b.WriteString("4. Explain your reasoning clearly\n\n")
	b.WriteString("Generate the JSON response now.")
	return b.String()
}

// fill builds a Result from a parsed coordinator response, which may be nil.
func fill(parsed map[string]any) Result {
	decision := agent.Map(parsed, "final_decision")
	summary := agent.Map(parsed, "debate_summary")

	adjustments := agent.Strings(parsed, "safety_adjustments")
	if adjustments == nil {
		adjustments = []string{}
	}

	return Result{
		FinalDecision: Decision{
			InterpretedGoal: orPlaceholder(decision, "interpreted_goal"),
			WeeklyTarget:    orPlaceholder(decision, "weekly_target"),
			FirstMilestone:  orPlaceholder(decision, "first_milestone"),
			Reasoning:       orPlaceholder(decision, "reasoning"),
		},
		DebateSummary: Summary{
			GoalAgentPosition:    orPlaceholder(summary, "goal_agent_position"),
			FailureAgentPosition: orPlaceholder(summary, "failure_agent_position"),
			SynthesisRationale:   orPlaceholder(summary, "synthesis_rationale"),
		},
		SafetyAdjustments: adjustments,
		GrowthPath:        agent.Str(parsed, "growth_path"),
		Confidence:        clamp(agent.Float(parsed, "confidence", 0)),
	}
}

func orPlaceholder(m map[string]any, key string) string {
	if v := strings.TrimSpace(agent.Str(m, key)); v != "" {
		return v
	}
	return Placeholder
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// deriveAdjustments takes, per risky challenger, the first available of its
// counter proposal, recommended adjustments and concerns.
func deriveAdjustments(risky []Entry) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(items ...string) {
		for _, s := range items {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}

	for _, entry := range risky {
		var counter string
		var concerns []string
		if c := entry.Challenge; c != nil {
			counter = c.CounterProposal
			concerns = c.Concerns
		}
		if counter == "" {
			counter = agent.Str(entry.Payload, "counter_proposal")
		}
		if len(concerns) == 0 {
			concerns = agent.Strings(entry.Payload, "concerns")
		}

		switch recommended := agent.Strings(entry.Payload, "recommended_adjustments"); {
		case counter != "":
			add(counter)
		case len(recommended) > 0:
			add(recommended...)
		default:
			add(concerns...)
		}
	}

	if len(out) == 0 {
		return []string{GenericAdjustment}
	}
	return out
}

func (e *Engine) record(ctx context.Context, req Request, entries []Entry, result Result) {
	if e.recorder == nil || req.UserID == "" {
		return
	}
	debateType := req.DebateType
	if debateType == "" {
		debateType = "synthesis"
	}
	log := memory.DebateLog{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		DebateType: debateType,
		Timestamp:  e.now().UTC(),
		DebateData: map[string]any{
			"primary_goal": req.PrimaryGoal,
			"entries":      entryMaps(entries),
			"result":       result.Map(),
		},
	}
	if err := e.recorder.RecordDebate(ctx, log); err != nil {
		logging.FromContext(ctx).Warn(ctx, "record debate failed",
			zap.String("debate_type", debateType), zap.Error(err))
	}
}

func entryMaps(entries []Entry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		m := map[string]any{
			"agent":  e.Agent,
			"role":   string(e.Role),
			"output": e.Payload,
		}
		if e.Challenge != nil {
			m["challenge"] = e.Challenge.Map()
		}
		out[i] = m
	}
	return out
}

// Map renders the result as a generic payload.
func (r Result) Map() map[string]any {
	adjustments := make([]any, len(r.SafetyAdjustments))
	for i, s := range r.SafetyAdjustments {
		adjustments[i] = s
	}
	return map[string]any{
		"final_decision":     r.FinalDecision.Map(),
		"debate_summary":     r.DebateSummary.Map(),
		"safety_adjustments": adjustments,
		"growth_path":        r.GrowthPath,
		"confidence":         r.Confidence,
		"degraded":           r.Degraded,
	}
}
