package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists facts.
type Store interface {
	Find(ctx context.Context, userID, agentName, learningType string) (*Fact, error)
	Insert(ctx context.Context, f Fact) error
	Update(ctx context.Context, f Fact) error
	List(ctx context.Context, userID string, filter Filter, now time.Time) ([]Fact, error)
}

// DebateLog is an audit record of one synthesis.
type DebateLog struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	DebateType string         `json:"debate_type"`
	Timestamp  time.Time      `json:"timestamp"`
	DebateData map[string]any `json:"debate_data"`
}

// DebateRecorder keeps debate logs.
type DebateRecorder interface {
	RecordDebate(ctx context.Context, log DebateLog) error
	Debates(ctx context.Context, userID string, limit int) ([]DebateLog, error)
}

type factKey struct {
	user, agent, learningType string
}

// MemStore is an in-memory Store and DebateRecorder.
type MemStore struct {
	mu      sync.RWMutex
	facts   map[factKey]Fact
	debates map[string][]DebateLog
}

var (
	_ Store          = (*MemStore)(nil)
	_ DebateRecorder = (*MemStore)(nil)
)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		facts:   make(map[factKey]Fact),
		debates: make(map[string][]DebateLog),
	}
}

func (s *MemStore) Find(_ context.Context, userID, agentName, learningType string) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[factKey{userID, agentName, learningType}]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

// Insert writes f, replacing any fact with the same key.
func (s *MemStore) Insert(_ context.Context, f Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[factKey{f.UserID, f.AgentName, f.LearningType}] = f
	return nil
}

func (s *MemStore) Update(_ context.Context, f Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := factKey{f.UserID, f.AgentName, f.LearningType}
	if _, ok := s.facts[k]; !ok {
		return ErrNotFound
	}
	s.facts[k] = f
	return nil
}

func (s *MemStore) List(_ context.Context, userID string, filter Filter, now time.Time) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fact
	for k, f := range s.facts {
		if k.user == userID && filter.match(f, now) {
			out = append(out, f)
		}
	}
	sortFacts(out)
	return out, nil
}

func (s *MemStore) RecordDebate(_ context.Context, log DebateLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debates[log.UserID] = append(s.debates[log.UserID], log)
	return nil
}

// Debates returns the newest logs first.
func (s *MemStore) Debates(_ context.Context, userID string, limit int) ([]DebateLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]DebateLog(nil), s.debates[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
