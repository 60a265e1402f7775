package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service loads memory into runs and persists what runs learn.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wraps a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// LoadToState returns the user's unexpired facts with confidence of at
// least MinConfidence, narrowed by filter.
func (s *Service) LoadToState(ctx context.Context, userID string, filter Filter) (Snapshot, error) {
	if filter.MinConfidence < MinConfidence {
		filter.MinConfidence = MinConfidence
	}
	facts, err := s.store.List(ctx, userID, filter, s.now().UTC())
	if err != nil {
		return NewSnapshot(nil), fmt.Errorf("load memory: %w", err)
	}
	snap := NewSnapshot(facts)
	logging.FromContext(ctx).Debug(ctx, "memory loaded",
		zap.Int("facts", len(snap.All)),
		zap.String("learning_type", filter.LearningType),
		zap.String("agent_name", filter.AgentName))
	return snap, nil
}

// PersistFromState flushes staged updates. Incomplete updates are skipped.
// A repeat of an existing (agent, type) replaces its content and raises its
// confidence by ConfidenceStep, capped at 1. Failures for individual updates
// are collected and returned together after every update was attempted.
func (s *Service) PersistFromState(ctx context.Context, userID string, updates []Update) error {
	var errs []error
	written := 0
	for _, u := range updates {
		if !u.complete() {
			logging.FromContext(ctx).Debug(ctx, "skipping incomplete memory update",
				zap.String("agent_name", u.AgentName), zap.String("learning_type", u.LearningType))
			continue
		}
		if err := s.persistOne(ctx, userID, u); err != nil {
			errs = append(errs, fmt.Errorf("persist %s/%s: %w", u.AgentName, u.LearningType, err))
			continue
		}
		written++
	}
	if written > 0 {
		logging.FromContext(ctx).Debug(ctx, "memory persisted", zap.Int("facts", written))
	}
	return errors.Join(errs...)
}

func (s *Service) persistOne(ctx context.Context, userID string, u Update) error {
	now := s.now().UTC()

	existing, err := s.store.Find(ctx, userID, u.AgentName, u.LearningType)
	switch {
	case err == nil:
		existing.Content = u.Content
		existing.Confidence = min(1.0, existing.Confidence+ConfidenceStep)
		existing.UpdatedAt = now
		return s.store.Update(ctx, *existing)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	confidence := 1.0
	if u.Confidence != nil {
		confidence = *u.Confidence
	}
	f := Fact{
		ID:           uuid.NewString(),
		UserID:       userID,
		AgentName:    u.AgentName,
		LearningType: u.LearningType,
		Content:      u.Content,
		Confidence:   max(0, min(1.0, confidence)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.ExpiresAfterDays > 0 {
		exp := now.Add(time.Duration(u.ExpiresAfterDays) * 24 * time.Hour)
		f.ExpiresAt = &exp
	}
	return s.store.Insert(ctx, f)
}
