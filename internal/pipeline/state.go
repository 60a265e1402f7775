// Package pipeline runs ordered steps over a typed state value.
//
// Every step is a function from state to state. A failed step's output is
// discarded and the pipeline continues from the state the step received,
// with one "<step>: <err>" entry appended to its error list. Errors are data:
// Run never returns an error, and callers decide at the boundary whether a
// non-empty list means the operation failed (see Err).
package pipeline

import (
	"slices"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/profile"
)

// State is implemented by every pipeline state type. AppendError must return
// a copy whose error list is the receiver's plus msg.
type State[S any] interface {
	AppendError(msg string) S
	ErrorList() []string
	User() string
}

// Base carries the fields shared by every pipeline state.
type Base struct {
	UserID string   `json:"user_id"`
	Errors []string `json:"errors"`
	// MemoryUpdates are staged learnings, flushed once at the end of a run.
	MemoryUpdates []memory.Update `json:"memory_updates"`
	// UserProfile is written by the first step and read-only afterward.
	UserProfile *profile.Profile `json:"user_profile,omitempty"`
	UserMemory  memory.Snapshot  `json:"user_memory"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NewBase seeds a Base for userID.
func NewBase(userID string) Base {
	return Base{
		UserID:        userID,
		Errors:        []string{},
		MemoryUpdates: []memory.Update{},
		UserMemory:    memory.NewSnapshot(nil),
		Timestamp:     time.Now().UTC(),
	}
}

func (b Base) ErrorList() []string { return b.Errors }

func (b Base) User() string { return b.UserID }

// WithError returns b with msg appended. The receiver's backing array is
// never written to.
func (b Base) WithError(msg string) Base {
	b.Errors = append(slices.Clip(b.Errors), msg)
	return b
}

// Learn returns b with one more staged memory update.
func (b Base) Learn(agentName, learningType string, content map[string]any, confidence float64, expiresAfterDays int) Base {
	b.MemoryUpdates = memory.AddLearning(b.MemoryUpdates, agentName, learningType, content, confidence, expiresAfterDays)
	return b
}

// Profile returns the cached profile, or an empty one for b's user.
func (b Base) Profile() *profile.Profile {
	if b.UserProfile != nil {
		return b.UserProfile
	}
	return &profile.Profile{UserID: b.UserID}
}
