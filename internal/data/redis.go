package data

import (
	"context"
	"fmt"
	"time"

	"webauth-backend/internal/auth"

	"github.com/redis/go-redis/v9"
)

// redisStateStore records consumed state ids in Redis, shared by every
// instance of the server.
type redisStateStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStateStore wraps an existing client.
func NewRedisStateStore(client *redis.Client, prefix string) StateStore {
	return &redisStateStore{client: client, prefix: prefix, now: time.Now}
}

// DialRedisStateStore connects to addr and checks the connection.
func DialRedisStateStore(ctx context.Context, addr, password string, db int, prefix string) (StateStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStateStore(rdb, prefix), nil
}

var _ auth.StateStore = (*redisStateStore)(nil)

func (s *redisStateStore) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return s.prefix + ":" + id
}

// Consume sets the id key only if absent.
func (s *redisStateStore) Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.key(id), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record state: %w", err)
	}
	return ok, nil
}

func (s *redisStateStore) Close() error {
	return s.client.Close()
}
