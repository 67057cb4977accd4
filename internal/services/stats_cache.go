package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// memSweepEvery is how many Set calls pass between sweeps of expired entries.
const memSweepEvery = 256

// MemoryStatsCache is an in-process StatsCache. Entries are compared against
// their insertion time on read, and Set sweeps expired ones every
// memSweepEvery calls, so sellers that are never read again do not pile up.
// Callers get their own copy of a cached summary.
type MemoryStatsCache struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
	sets    int
}

type memEntry struct {
	stats *DashboardStats
	at    time.Time
}

// NewMemoryStatsCache returns a cache whose entries live for ttl.
func NewMemoryStatsCache(ttl time.Duration) *MemoryStatsCache {
	return &MemoryStatsCache{TTL: ttl, entries: map[string]memEntry{}}
}

func (c *MemoryStatsCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Get implements StatsCache.
func (c *MemoryStatsCache) Get(_ context.Context, sellerID string) (*DashboardStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sellerID]
	if !ok {
		return nil, false, nil
	}
	if c.now().Sub(e.at) >= c.TTL {
		delete(c.entries, sellerID)
		return nil, false, nil
	}
	return e.stats.clone(), true, nil
}

// Set implements StatsCache.
func (c *MemoryStatsCache) Set(_ context.Context, sellerID string, st *DashboardStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]memEntry{}
	}
	now := c.now()
	c.sets++
	if c.sets >= memSweepEvery {
		for k, e := range c.entries {
			if now.Sub(e.at) >= c.TTL {
				delete(c.entries, k)
			}
		}
		c.sets = 0
	}
	c.entries[sellerID] = memEntry{stats: st.clone(), at: now}
	return nil
}

// RedisStatsCache shares summaries between instances through Redis. Values
// are JSON documents stored with the cache TTL as expiry.
type RedisStatsCache struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatsCache connects to addr and verifies the connection with PING.
func NewRedisStatsCache(ctx context.Context, addr, prefix string, ttl time.Duration) (*RedisStatsCache, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if prefix == "" {
		prefix = "dashboard"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStatsCache{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

func (c *RedisStatsCache) key(sellerID string) string {
	return c.prefix + ":stats:" + sellerID
}

// Get implements StatsCache.
func (c *RedisStatsCache) Get(ctx context.Context, sellerID string) (*DashboardStats, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(sellerID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st DashboardStats
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

// Set implements StatsCache.
func (c *RedisStatsCache) Set(ctx context.Context, sellerID string, st *DashboardStats) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(sellerID), raw, c.ttl).Err()
}

// Close releases the Redis connection pool.
func (c *RedisStatsCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
