// Package memory stores what agents learn about a user across runs.
//
// A run loads a Snapshot once before its first agent step, stages new
// learnings as Updates in its state, and flushes them once at the end via
// Service.PersistFromState.
package memory

import (
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when no fact matches a lookup.
var ErrNotFound = errors.New("memory fact not found")

// MinConfidence is the lowest confidence LoadToState returns.
const MinConfidence = 0.5

// ConfidenceStep is added to an existing fact's confidence on each repeat.
const ConfidenceStep = 0.1

// Fact is a persisted learning. There is at most one per
// (UserID, AgentName, LearningType).
type Fact struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	AgentName    string         `json:"agent_name"`
	LearningType string         `json:"learning_type"`
	Content      map[string]any `json:"content"`
	Confidence   float64        `json:"confidence"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Expired reports whether the fact has an expiry at or before now.
func (f Fact) Expired(now time.Time) bool {
	return f.ExpiresAt != nil && !f.ExpiresAt.After(now)
}

// Update is a learning staged during a run.
type Update struct {
	AgentName    string         `json:"agent_name"`
	LearningType string         `json:"learning_type"`
	Content      map[string]any `json:"content"`
	// Confidence of a first observation. Nil means 1.0; an explicit 0 is kept.
	Confidence *float64 `json:"confidence,omitempty"`
	// ExpiresAfterDays sets an expiry on insert. Zero never expires.
	ExpiresAfterDays int       `json:"expires_after_days,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Confidence returns a pointer for Update.Confidence.
func Confidence(v float64) *float64 { return &v }

func (u Update) complete() bool {
	return u.AgentName != "" && u.LearningType != "" && len(u.Content) > 0
}

// Filter narrows a load. Empty fields match everything.
type Filter struct {
	LearningType  string
	AgentName     string
	MinConfidence float64
}

func (f Filter) match(fact Fact, now time.Time) bool {
	if f.LearningType != "" && fact.LearningType != f.LearningType {
		return false
	}
	if f.AgentName != "" && fact.AgentName != f.AgentName {
		return false
	}
	return fact.Confidence >= f.MinConfidence && !fact.Expired(now)
}

// Snapshot is the loaded view of a user's memory. Every bucket is ordered
// by confidence then recency, both descending.
type Snapshot struct {
	ByType  map[string][]Fact `json:"by_type"`
	ByAgent map[string][]Fact `json:"by_agent"`
	All     []Fact            `json:"all"`
}

// NewSnapshot buckets facts, sorting them first.
func NewSnapshot(facts []Fact) Snapshot {
	sorted := append([]Fact(nil), facts...)
	sortFacts(sorted)

	s := Snapshot{
		ByType:  make(map[string][]Fact),
		ByAgent: make(map[string][]Fact),
		All:     sorted,
	}
	if s.All == nil {
		s.All = []Fact{}
	}
	for _, f := range sorted {
		s.ByType[f.LearningType] = append(s.ByType[f.LearningType], f)
		s.ByAgent[f.AgentName] = append(s.ByAgent[f.AgentName], f)
	}
	return s
}

// Empty reports whether the snapshot holds no facts.
func (s Snapshot) Empty() bool { return len(s.All) == 0 }

func sortFacts(facts []Fact) {
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Confidence != facts[j].Confidence {
			return facts[i].Confidence > facts[j].Confidence
		}
		return facts[i].UpdatedAt.After(facts[j].UpdatedAt)
	})
}

// Query selects facts from a snapshot.
type Query struct {
	LearningType string
	AgentName    string
}

// FromSnapshot returns the facts matching q. A learning type takes
// precedence over an agent name; with neither, everything is returned.
func FromSnapshot(s Snapshot, q Query) []Fact {
	switch {
	case q.LearningType != "":
		return s.ByType[q.LearningType]
	case q.AgentName != "":
		return s.ByAgent[q.AgentName]
	default:
		return s.All
	}
}

// AddLearning returns updates with one more staged learning. It never
// touches storage and never modifies the input slice.
func AddLearning(updates []Update, agentName, learningType string, content map[string]any, confidence float64, expiresAfterDays int) []Update {
	out := make([]Update, len(updates), len(updates)+1)
	copy(out, updates)
	return append(out, Update{
		AgentName:        agentName,
		LearningType:     learningType,
		Content:          content,
		Confidence:       Confidence(confidence),
		ExpiresAfterDays: expiresAfterDays,
		Timestamp:        time.Now().UTC(),
	})
}
