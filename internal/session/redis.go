package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each history in a redis list capped with LTRIM. Every
// append refreshes the key's TTL.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	maxMessages int
	ttl         time.Duration
}

// NewRedisStore wraps client. A zero ttl keeps histories forever.
func NewRedisStore(client redis.UniversalClient, prefix string, maxMessages int, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &RedisStore{client: client, prefix: prefix, maxMessages: maxMessages, ttl: ttl}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, userID string, msgs ...Message) error {
	if userID == "" {
		return ErrUserRequired
	}
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, len(msgs))
	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("session: marshal message: %w", err)
		}
		values[i] = b
	}

	key := s.key(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-s.maxMessages), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: append: %w", err)
	}
	return nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, userID string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("session: decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
