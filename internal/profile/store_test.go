package profile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "profile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLStore(ctx, db, dialect)
	require.NoError(t, err)
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"mem":    NewMemStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_Profile(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Profile(ctx, "42")
			require.ErrorIs(t, err, ErrNotFound)

			p := &Profile{
				UserID:       "42",
				Age:          34,
				Gender:       "female",
				CycleDay:     9,
				PrimaryGoal:  "fitness",
				PastAttempts: "quit after 4 weeks three times",
				Injuries:     []string{"knee"},
			}
			require.NoError(t, s.SaveProfile(ctx, p))

			got, err := s.Profile(ctx, "42")
			require.NoError(t, err)
			assert.Equal(t, 34, got.Age)
			assert.Equal(t, []string{"knee"}, got.Injuries)
			assert.Equal(t, "fitness", got.Goal())
			assert.False(t, got.UpdatedAt.IsZero())

			p.Age = 35
			require.NoError(t, s.SaveProfile(ctx, p))
			got, err = s.Profile(ctx, "42")
			require.NoError(t, err)
			assert.Equal(t, 35, got.Age)
		})
	}
}

func TestStore_SaveProfileKeepsUpdatedAt(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stamp := time.Date(2026, 1, 12, 7, 0, 0, 0, time.UTC)

			require.NoError(t, s.SaveProfile(ctx, &Profile{UserID: "7", Age: 40, UpdatedAt: stamp}))
			got, err := s.Profile(ctx, "7")
			require.NoError(t, err)
			assert.True(t, got.UpdatedAt.Equal(stamp), "got %v", got.UpdatedAt)

			require.NoError(t, s.SaveProfile(ctx, &Profile{UserID: "8", Age: 41}))
			got, err = s.Profile(ctx, "8")
			require.NoError(t, err)
			assert.False(t, got.UpdatedAt.IsZero())
			assert.False(t, got.UpdatedAt.Equal(stamp))
		})
	}
}

func TestStore_Resolutions(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

			_, err := s.ActiveResolution(ctx, "1")
			require.ErrorIs(t, err, ErrNotFound)

			old := &Resolution{UserID: "1", Text: "run a 5k", WeeklyTarget: "3x/week", AdherenceRate: 0.9, CreatedAt: base}
			newer := &Resolution{UserID: "1", Text: "lose 20 lbs", WeeklyTarget: "4x/week", AdherenceRate: 0.4, CreatedAt: base.Add(time.Hour)}
			risky := &Resolution{UserID: "2", Text: "sleep 8h", AdherenceRate: 0.8, AbandonmentProbability: 0.75, CreatedAt: base}
			done := &Resolution{UserID: "3", Status: StatusCompleted, AdherenceRate: 0.1, CreatedAt: base}
			for _, r := range []*Resolution{old, newer, risky, done} {
				require.NoError(t, s.SaveResolution(ctx, r))
				assert.NotEmpty(t, r.ID)
			}

			active, err := s.ActiveResolution(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, "lose 20 lbs", active.Text)
			assert.Equal(t, 4, active.Target())

			atRisk, err := s.AtRiskResolutions(ctx, 0.6, 0.7)
			require.NoError(t, err)
			var users []string
			for _, r := range atRisk {
				users = append(users, r.UserID)
			}
			assert.Equal(t, []string{"1", "2"}, users)

			now := base.Add(24 * time.Hour)
			newer.AbandonmentProbability = 0.55
			newer.AdherenceRate = 0.7
			newer.LastInterventionAt = &now
			require.NoError(t, s.SaveResolution(ctx, newer))

			active, err = s.ActiveResolution(ctx, "1")
			require.NoError(t, err)
			require.NotNil(t, active.LastInterventionAt)
			assert.True(t, now.Equal(*active.LastInterventionAt))
			assert.InDelta(t, 0.55, active.AbandonmentProbability, 1e-9)

			atRisk, err = s.AtRiskResolutions(ctx, 0.6, 0.7)
			require.NoError(t, err)
			require.Len(t, atRisk, 1)
			assert.Equal(t, "2", atRisk[0].UserID)
		})
	}
}

func TestStore_DailyPlans(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)

			for i, day := range []string{"2026-01-05", "2026-01-06", "2026-01-07"} {
				require.NoError(t, s.SaveDailyPlan(ctx, DailyPlan{
					UserID:    "7",
					Day:       day,
					Briefing:  "Good morning",
					Data:      map[string]any{"readiness": 0.7},
					CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour),
				}))
			}

			plans, err := s.DailyPlans(ctx, "7", 2)
			require.NoError(t, err)
			require.Len(t, plans, 2)
			assert.Equal(t, "2026-01-07", plans[0].Day)
			assert.Equal(t, "2026-01-06", plans[1].Day)
			assert.Equal(t, 0.7, plans[0].Data["readiness"])

			plans, err = s.DailyPlans(ctx, "nobody", 5)
			require.NoError(t, err)
			assert.Empty(t, plans)
		})
	}
}

func TestParseWeeklyTarget(t *testing.T) {
	cases := map[string]int{
		"3x/week":  3,
		"5X/week":  5,
		" 4 x/wk":  4,
		"daily":    DefaultWeeklyTarget,
		"x/week":   DefaultWeeklyTarget,
		"0x/week":  DefaultWeeklyTarget,
		"":         DefaultWeeklyTarget,
		"twox/wk":  DefaultWeeklyTarget,
		"10x/week": 10,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseWeeklyTarget(in), in)
	}
}

func TestResolution_Missed(t *testing.T) {
	r := Resolution{WeeklyTarget: "4x/week", WorkoutsCompleted: 1}
	assert.Equal(t, 3, r.Missed())

	r.WorkoutsCompleted = 6
	assert.Equal(t, 0, r.Missed())
}

func TestProfile_Defaults(t *testing.T) {
	var nilProfile *Profile
	assert.Equal(t, DefaultGoal, nilProfile.Goal())
	assert.Equal(t, 8.0, nilProfile.Hours())

	p := &Profile{PrimaryGoal: "  ", WorkHours: 10}
	assert.Equal(t, DefaultGoal, p.Goal())
	assert.Equal(t, 10.0, p.Hours())
}
