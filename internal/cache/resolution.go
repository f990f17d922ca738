package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"PortfolioLens/internal/model"
)

// ResolutionStore memoizes which provider last resolved a symbol.
type ResolutionStore interface {
	Load(ctx context.Context, symbol string) (model.ResolutionRecord, bool)
	Save(ctx context.Context, symbol string, rec model.ResolutionRecord)
	Clear(ctx context.Context)
}

// MemoryResolutions keeps resolution records in process memory.
type MemoryResolutions struct {
	cache *TTL[model.ResolutionRecord]
	ttl   time.Duration
}

// NewMemoryResolutions creates an in-memory store whose records expire after ttl.
func NewMemoryResolutions(ttl time.Duration, now func() time.Time) *MemoryResolutions {
	if now == nil {
		now = time.Now
	}
	return &MemoryResolutions{cache: NewWithClock[model.ResolutionRecord](now), ttl: ttl}
}

func (m *MemoryResolutions) Load(_ context.Context, symbol string) (model.ResolutionRecord, bool) {
	return m.cache.Get(strings.ToUpper(symbol), m.ttl)
}

func (m *MemoryResolutions) Save(_ context.Context, symbol string, rec model.ResolutionRecord) {
	m.cache.Set(strings.ToUpper(symbol), rec)
}

func (m *MemoryResolutions) Clear(_ context.Context) { m.cache.Clear() }

// Len returns the number of stored records.
func (m *MemoryResolutions) Len() int { return m.cache.Len() }

// RedisResolutions shares resolution records through Redis so they survive
// restarts. Errors degrade to cache misses.
type RedisResolutions struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisResolutions creates a Redis-backed store. Keys are namespaced by prefix.
func NewRedisResolutions(client *redis.Client, prefix string, ttl time.Duration) *RedisResolutions {
	return &RedisResolutions{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisResolutions) key(symbol string) string {
	return r.prefix + "resolution:" + strings.ToUpper(symbol)
}

func (r *RedisResolutions) Load(ctx context.Context, symbol string) (model.ResolutionRecord, bool) {
	var rec model.ResolutionRecord
	data, err := r.client.Get(ctx, r.key(symbol)).Bytes()
	if err != nil {
		return rec, false
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false
	}
	return rec, true
}

func (r *RedisResolutions) Save(ctx context.Context, symbol string, rec model.ResolutionRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	r.client.Set(ctx, r.key(symbol), data, r.ttl)
}

func (r *RedisResolutions) Clear(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, r.prefix+"resolution:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		r.client.Del(ctx, keys...)
	}
}

// Ping checks connectivity so callers can fall back to memory.
func (r *RedisResolutions) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("redis ping timed out: %w", err)
		}
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
