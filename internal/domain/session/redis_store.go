package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rizo-card-bot/internal/platform/errors"
)

const defaultRedisPrefix = "rizo:session:"

// RedisStore persists sessions in redis with a per-key TTL, so eviction is
// handled by the server and survives process restarts.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a redis-backed store from connection config.
func NewRedisStore(cfg RedisConfig, ttl time.Duration) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(userID int64) string {
	return fmt.Sprintf("%s%d", s.prefix, userID)
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "session.redis", "get session", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "session.redis", "decode session", err)
	}
	return &snap, nil
}

func (s *RedisStore) Put(ctx context.Context, userID int64, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "session.redis", "encode session", err)
	}
	if err := s.client.Set(ctx, s.key(userID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(errors.KindStorage, "session.redis", "put session", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return errors.Wrap(errors.KindStorage, "session.redis", "delete session", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
