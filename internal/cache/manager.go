// Package cache is an optional Redis-backed JSON cache. The broker runs
// fine without it; every operation on an unconfigured manager is a no-op
// miss and callers fall through to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Manager wraps the Redis client.
type Manager struct {
	rdb *redis.Client
	ctx context.Context
}

// Global cache manager
var mgr *Manager

// noop is used when Redis is unavailable; its methods check for a nil
// client and miss safely.
var noop = Manager{ctx: context.Background()}

// Init connects to Redis. The connection string is either a redis:// URL
// or a bare host:port.
func Init(connString string) (*Manager, error) {
	opt, err := redis.ParseURL(connString)
	if err != nil {
		opt = &redis.Options{Addr: connString}
	}
	opt.PoolSize = 10

	rdb := redis.NewClient(opt)
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	mgr = &Manager{rdb: rdb, ctx: ctx}
	log.Info().Msg("redis connected")
	return mgr, nil
}

// Available returns true if the cache manager has been initialized.
func Available() bool {
	return mgr != nil
}

// Get returns the global cache manager, or a no-op manager.
func Get() *Manager {
	if mgr == nil {
		return &noop
	}
	return mgr
}

// Close shuts the Redis connection down.
func Close() error {
	if mgr != nil && mgr.rdb != nil {
		return mgr.rdb.Close()
	}
	return nil
}

// GetJSON loads a cached value into dest, reporting whether it was a hit.
func (m *Manager) GetJSON(key string, dest interface{}) (bool, error) {
	if m.rdb == nil {
		return false, nil
	}
	raw, err := m.rdb.Get(m.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores a value with a TTL.
func (m *Manager) SetJSON(key string, value interface{}, ttl time.Duration) error {
	if m.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.rdb.Set(m.ctx, key, raw, ttl).Err()
}
