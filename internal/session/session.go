// Package session keeps short per-user chat histories.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/config"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Defaults.
const (
	DefaultMaxMessages = 20
	DefaultMaxUsers    = 10000
	DefaultPrefix      = "coachd:session:"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUserRequired is returned for an empty user ID.
var ErrUserRequired = errors.New("session: user id is required")

// Message is one chat turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store keeps the most recent messages of each user's conversation.
type Store interface {
	// Append adds messages in order and trims the history to its cap.
	Append(ctx context.Context, userID string, msgs ...Message) error
	// History returns the retained messages, oldest first.
	History(ctx context.Context, userID string) ([]Message, error)
	Clear(ctx context.Context, userID string) error
}

// LRUStore holds histories in memory. The least recently used
// conversation is evicted once maxUsers is reached.
type LRUStore struct {
	mu          sync.Mutex
	cache       *lru.Cache[string, []Message]
	maxMessages int
}

// NewLRUStore creates an in-memory store.
func NewLRUStore(maxUsers, maxMessages int) (*LRUStore, error) {
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	cache, err := lru.New[string, []Message](maxUsers)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	return &LRUStore{cache: cache, maxMessages: maxMessages}, nil
}

// Append implements Store.
func (s *LRUStore) Append(_ context.Context, userID string, msgs ...Message) error {
	if userID == "" {
		return ErrUserRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history, _ := s.cache.Get(userID)
	next := make([]Message, 0, len(history)+len(msgs))
	next = append(next, history...)
	next = append(next, msgs...)
	if len(next) > s.maxMessages {
		next = next[len(next)-s.maxMessages:]
	}
	s.cache.Add(userID, next)
	return nil
}

// History implements Store.
func (s *LRUStore) History(_ context.Context, userID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.cache.Get(userID)
	if !ok {
		return nil, nil
	}
	return append([]Message(nil), history...), nil
}

// Clear implements Store.
func (s *LRUStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(userID)
	return nil
}

// Len returns the number of retained conversations.
func (s *LRUStore) Len() int {
	return s.cache.Len()
}

// New builds the store selected by cfg.Backend. The close function is never nil.
func New(cfg config.SessionConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "lru", "memory", "":
		s, err := NewLRUStore(cfg.MaxUsers, cfg.MaxMessages)
		return s, func() error { return nil }, err
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
		})
		return NewRedisStore(client, DefaultPrefix, cfg.MaxMessages, cfg.TTL.Duration()), client.Close, nil
	default:
		return nil, func() error { return nil }, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
}

var _ Store = (*LRUStore)(nil)
