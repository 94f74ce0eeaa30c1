package service

import (
	"time"

	"github.com/pogo-tools/account-broker/internal/cache"
	"github.com/pogo-tools/account-broker/internal/store"
)

const statsCacheKey = "broker:stats"
const statsCacheTTL = 30 * time.Second

// Stats aggregates the pool per region, going through the Redis cache
// when one is configured. The database stays the source of truth.
func (b *Broker) Stats() (map[string]store.RegionStats, error) {
	if cache.Available() {
		var cached map[string]store.RegionStats
		if ok, _ := cache.Get().GetJSON(statsCacheKey, &cached); ok {
			return cached, nil
		}
	}

	stats, err := b.store.Stats()
	if err != nil {
		return nil, err
	}
	if cache.Available() {
		_ = cache.Get().SetJSON(statsCacheKey, stats, statsCacheTTL)
	}
	return stats, nil
}
