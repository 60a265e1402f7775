//go:build integration

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/storage"
	"github.com/fyrsmithlabs/coachd/internal/testutil"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StoreSuite runs the same behavior checks against a networked backend.
type StoreSuite struct {
	suite.Suite
	newStore func() Store
	clk      *clock
	svc      *Service
	user     string
}

func (s *StoreSuite) SetupTest() {
	s.clk = newClock()
	s.svc = NewService(s.newStore(), WithClock(s.clk.now))
	s.user = "user-" + time.Now().Format("150405.000000000")
}

func (s *StoreSuite) TestRoundTripAndBump() {
	ctx := context.Background()
	first := map[string]any{"pattern": "quits_week_4", "quit_probability": 0.7}
	s.Require().NoError(s.svc.PersistFromState(ctx, s.user, []Update{
		{AgentName: "Failure Pattern Agent", LearningType: "failure_pattern", Content: first, Confidence: Confidence(0.8), ExpiresAfterDays: 90},
	}))

	snap, err := s.svc.LoadToState(ctx, s.user, Filter{})
	s.Require().NoError(err)
	s.Require().Len(snap.ByType["failure_pattern"], 1)
	s.Equal(first, snap.All[0].Content)
	s.InDelta(0.8, snap.All[0].Confidence, 1e-9)

	s.clk.advance(time.Hour)
	second := map[string]any{"pattern": "quits_week_3"}
	s.Require().NoError(s.svc.PersistFromState(ctx, s.user, []Update{
		{AgentName: "Failure Pattern Agent", LearningType: "failure_pattern", Content: second},
	}))

	snap, err = s.svc.LoadToState(ctx, s.user, Filter{})
	s.Require().NoError(err)
	s.Require().Len(snap.All, 1)
	s.Equal(second, snap.All[0].Content)
	s.InDelta(0.9, snap.All[0].Confidence, 1e-9)
}

func (s *StoreSuite) TestExpiredAndWeakFactsExcluded() {
	ctx := context.Background()
	s.Require().NoError(s.svc.PersistFromState(ctx, s.user, []Update{
		{AgentName: "a", LearningType: "short", Content: map[string]any{"k": "v"}, Confidence: Confidence(0.9), ExpiresAfterDays: 1},
		{AgentName: "a", LearningType: "weak", Content: map[string]any{"k": "v"}, Confidence: Confidence(0.3)},
		{AgentName: "a", LearningType: "keep", Content: map[string]any{"k": "v"}, Confidence: Confidence(0.6)},
	}))

	s.clk.advance(48 * time.Hour)
	snap, err := s.svc.LoadToState(ctx, s.user, Filter{})
	s.Require().NoError(err)
	s.Require().Len(snap.All, 1)
	s.Equal("keep", snap.All[0].LearningType)
}

func (s *StoreSuite) TestDebates() {
	rec, ok := s.svc.Store().(DebateRecorder)
	s.Require().True(ok)
	ctx := context.Background()

	s.Require().NoError(rec.RecordDebate(ctx, DebateLog{
		UserID:     s.user,
		DebateType: "onboarding",
		Timestamp:  s.clk.now(),
		DebateData: map[string]any{"confidence": 0.8},
	}))
	logs, err := rec.Debates(ctx, s.user, 10)
	s.Require().NoError(err)
	s.Require().Len(logs, 1)
	s.Equal("onboarding", logs[0].DebateType)
	s.Equal(0.8, logs[0].DebateData["confidence"])
}

func TestPostgresStoreSuite(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, "postgres", testutil.PostgresDSN(t))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		t.Fatalf("new sql store: %v", err)
	}
	suite.Run(t, &StoreSuite{newStore: func() Store { return store }})
}

func TestMongoStoreSuite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(testutil.MongoURI(t)))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	store, err := NewMongoStore(ctx, client, "coachd_test")
	if err != nil {
		t.Fatalf("new mongo store: %v", err)
	}
	suite.Run(t, &StoreSuite{newStore: func() Store { return store }})
}
