package memory

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

// SQLStore keeps facts and debate logs in SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

var (
	_ Store          = (*SQLStore)(nil)
	_ DebateRecorder = (*SQLStore)(nil)
)

// NewSQLStore creates the schema if needed and returns a store.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect storage.Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	jsonType := s.dialect.JSONType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			learning_type TEXT NOT NULL,
			content ` + jsonType + ` NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			expires_at BIGINT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE (user_id, agent_name, learning_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_facts_user ON memory_facts (user_id, confidence)`,
		`CREATE TABLE IF NOT EXISTS debate_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			debate_type TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			data ` + jsonType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_debate_logs_user ON debate_logs (user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const factColumns = `id, user_id, agent_name, learning_type, content, confidence, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (Fact, error) {
	var (
		f                    Fact
		content              []byte
		expires              sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&f.ID, &f.UserID, &f.AgentName, &f.LearningType, &content, &f.Confidence, &expires, &createdAt, &updatedAt); err != nil {
		return Fact{}, err
	}
	if err := json.Unmarshal(content, &f.Content); err != nil {
		return Fact{}, fmt.Errorf("decode content: %w", err)
	}
	if expires.Valid {
		t := time.Unix(0, expires.Int64).UTC()
		f.ExpiresAt = &t
	}
	f.CreatedAt = time.Unix(0, createdAt).UTC()
	f.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return f, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func (s *SQLStore) Find(ctx context.Context, userID, agentName, learningType string) (*Fact, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT `+factColumns+` FROM memory_facts
		WHERE user_id = ? AND agent_name = ? AND learning_type = ?`),
		userID, agentName, learningType,
	)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find fact: %w", err)
	}
	return &f, nil
}

// Insert writes f. A concurrent insert of the same key is resolved as last
// write wins.
func (s *SQLStore) Insert(ctx context.Context, f Fact) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	content, err := json.Marshal(f.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO memory_facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, agent_name, learning_type) DO UPDATE SET
			content = excluded.content,
			confidence = excluded.confidence,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`),
		f.ID, f.UserID, f.AgentName, f.LearningType, string(content), f.Confidence,
		nullTime(f.ExpiresAt), f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, f Fact) error {
	content, err := json.Marshal(f.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE memory_facts SET content = ?, confidence = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ? AND agent_name = ? AND learning_type = ?`),
		string(content), f.Confidence, nullTime(f.ExpiresAt), f.UpdatedAt.UnixNano(),
		f.UserID, f.AgentName, f.LearningType,
	)
	if err != nil {
		return fmt.Errorf("update fact: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, userID string, filter Filter, now time.Time) ([]Fact, error) {
	query := `SELECT ` + factColumns + ` FROM memory_facts
		WHERE user_id = ? AND confidence >= ? AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{userID, filter.MinConfidence, now.UnixNano()}
	if filter.LearningType != "" {
		query += ` AND learning_type = ?`
		args = append(args, filter.LearningType)
	}
	if filter.AgentName != "" {
		query += ` AND agent_name = ?`
		args = append(args, filter.AgentName)
	}
	query += ` ORDER BY confidence DESC, updated_at DESC`

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordDebate(ctx context.Context, log DebateLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode debate: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO debate_logs (id, user_id, debate_type, created_at, data) VALUES (?, ?, ?, ?, ?)`),
		log.ID, log.UserID, log.DebateType, log.Timestamp.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("record debate: %w", err)
	}
	return nil
}

func (s *SQLStore) Debates(ctx context.Context, userID string, limit int) ([]DebateLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT data FROM debate_logs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list debates: %w", err)
	}
	defer rows.Close()

	var out []DebateLog
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan debate: %w", err)
		}
		var log DebateLog
		if err := json.Unmarshal(data, &log); err != nil {
			return nil, fmt.Errorf("decode debate: %w", err)
		}
		out = append(out, log)
	}
	return out, rows.Err()
}
