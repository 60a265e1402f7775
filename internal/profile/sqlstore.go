package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/storage"
	"github.com/google/uuid"
)

// SQLStore is a Store backed by SQLite or Postgres. Records are kept as JSON
// documents; the columns used for lookups are duplicated alongside.
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates the schema if needed and returns a store.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect storage.Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("init profile schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	jsonType := s.dialect.JSONType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			data ` + jsonType + ` NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resolutions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			adherence_rate DOUBLE PRECISION NOT NULL,
			abandonment_probability DOUBLE PRECISION NOT NULL,
			created_at BIGINT NOT NULL,
			data ` + jsonType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_user ON resolutions (user_id, status)`,
		`CREATE TABLE IF NOT EXISTS daily_plans (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			day TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			data ` + jsonType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_plans_user ON daily_plans (user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Profile(ctx context.Context, userID string) (*Profile, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT data FROM profiles WHERE user_id = ?`), userID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) SaveProfile(ctx context.Context, p *Profile) error {
	cp := *p
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
		cp.UserID, string(data), cp.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *SQLStore) ActiveResolution(ctx context.Context, userID string) (*Resolution, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT data FROM resolutions
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`),
		userID, StatusActive,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query resolution: %w", err)
	}
	var r Resolution
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode resolution: %w", err)
	}
	return &r, nil
}

func (s *SQLStore) SaveResolution(ctx context.Context, r *Resolution) error {
	now := s.now().UTC()
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

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO resolutions (id, user_id, status, adherence_rate, abandonment_probability, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			adherence_rate = excluded.adherence_rate,
			abandonment_probability = excluded.abandonment_probability,
			data = excluded.data`),
		r.ID, r.UserID, r.Status, r.AdherenceRate, r.AbandonmentProbability, r.CreatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("save resolution: %w", err)
	}
	return nil
}

func (s *SQLStore) AtRiskResolutions(ctx context.Context, adherenceBelow, abandonmentAbove float64) ([]Resolution, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT data FROM resolutions
		WHERE status = ? AND (adherence_rate < ? OR abandonment_probability > ?)
		ORDER BY user_id`),
		StatusActive, adherenceBelow, abandonmentAbove,
	)
	if err != nil {
		return nil, fmt.Errorf("query at-risk resolutions: %w", err)
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		var r Resolution
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode resolution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveDailyPlan(ctx context.Context, plan DailyPlan) error {
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode daily plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO daily_plans (id, user_id, day, created_at, data) VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(), plan.UserID, plan.Day, plan.CreatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("save daily plan: %w", err)
	}
	return nil
}

func (s *SQLStore) DailyPlans(ctx context.Context, userID string, limit int) ([]DailyPlan, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT data FROM daily_plans WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily plans: %w", err)
	}
	defer rows.Close()

	var out []DailyPlan
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan daily plan: %w", err)
		}
		var p DailyPlan
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode daily plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
