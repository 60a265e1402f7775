package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists profiles, resolutions and daily plans.
type Store interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
	// SaveProfile upserts p. A zero UpdatedAt is stamped with the store clock.
	SaveProfile(ctx context.Context, p *Profile) error

	ActiveResolution(ctx context.Context, userID string) (*Resolution, error)
	SaveResolution(ctx context.Context, r *Resolution) error
	// AtRiskResolutions lists active resolutions whose adherence is below
	// adherenceBelow or whose abandonment probability is above abandonmentAbove.
	AtRiskResolutions(ctx context.Context, adherenceBelow, abandonmentAbove float64) ([]Resolution, error)

	SaveDailyPlan(ctx context.Context, plan DailyPlan) error
	DailyPlans(ctx context.Context, userID string, limit int) ([]DailyPlan, error)
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu          sync.RWMutex
	profiles    map[string]Profile
	resolutions map[string]Resolution
	plans       map[string][]DailyPlan
	now         func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		profiles:    make(map[string]Profile),
		resolutions: make(map[string]Resolution),
		plans:       make(map[string][]DailyPlan),
		now:         time.Now,
	}
}

func (s *MemStore) Profile(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p.Injuries = append([]string(nil), p.Injuries...)
	return &p, nil
}

func (s *MemStore) SaveProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.Injuries = append([]string(nil), p.Injuries...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	s.profiles[p.UserID] = cp
	return nil
}

func (s *MemStore) ActiveResolution(_ context.Context, userID string) (*Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Resolution
	for _, r := range s.resolutions {
		if r.UserID != userID || r.Status != StatusActive {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			cp := r
			found = &cp
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemStore) SaveResolution(_ context.Context, r *Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.resolutions[r.ID] = *r
	return nil
}

func (s *MemStore) AtRiskResolutions(_ context.Context, adherenceBelow, abandonmentAbove float64) ([]Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Resolution
	for _, r := range s.resolutions {
		if r.Status != StatusActive {
			continue
		}
		if r.AdherenceRate < adherenceBelow || r.AbandonmentProbability > abandonmentAbove {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemStore) SaveDailyPlan(_ context.Context, plan DailyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = s.now()
	}
	s.plans[plan.UserID] = append(s.plans[plan.UserID], plan)
	return nil
}

// DailyPlans returns the newest plans first.
func (s *MemStore) DailyPlans(_ context.Context, userID string, limit int) ([]DailyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.plans[userID]
	out := make([]DailyPlan, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
