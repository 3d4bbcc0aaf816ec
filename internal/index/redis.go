package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "gateway:sessions"

// RedisStore keeps the index as one JSON value under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and verifies the server is reachable.
func NewRedisStore(ctx context.Context, addr, key string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) ([]domain.SessionSummary, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}

	var entries []domain.SessionSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return entries, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, entries []domain.SessionSummary) error {
	if entries == nil {
		entries = []domain.SessionSummary{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set index: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
