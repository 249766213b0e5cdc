package session

import (
	"context"
	"fmt"
	"time"

	"rizo-card-bot/internal/platform/errors"
)

// Store persists per-user session snapshots. Entries carry a TTL so that
// stale sessions are evicted instead of accumulating for the process
// lifetime.
type Store interface {
	// Get returns the snapshot for a user, or nil when none is stored.
	Get(ctx context.Context, userID int64) (*Snapshot, error)
	Put(ctx context.Context, userID int64, snap *Snapshot) error
	Delete(ctx context.Context, userID int64) error
	Close() error
}

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// StoreConfig selects and configures a store driver.
type StoreConfig struct {
	Driver  string
	TTL     time.Duration
	Cleanup time.Duration
	Redis   *RedisConfig
}

// RedisConfig carries the redis driver connection settings.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// NewStore builds a store from config, defaulting to the in-memory driver.
func NewStore(cfg StoreConfig) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	switch cfg.Driver {
	case DriverMemory, "":
		cleanup := cfg.Cleanup
		if cleanup <= 0 {
			cleanup = 10 * time.Minute
		}
		return NewMemoryStore(ttl, cleanup), nil
	case DriverRedis:
		if cfg.Redis == nil || cfg.Redis.Addr == "" {
			return nil, errors.New(errors.KindBootstrap, "session.store",
				"redis session store requires an addr")
		}
		return NewRedisStore(*cfg.Redis, ttl), nil
	default:
		return nil, errors.New(errors.KindBootstrap, "session.store",
			fmt.Sprintf("unsupported session store driver %q", cfg.Driver))
	}
}
