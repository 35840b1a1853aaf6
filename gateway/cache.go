package gateway

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"clashkit/utils"
)

// Cache keeps upstream answers for a limited time. A failing cache is treated as a miss by the
// gateway, so implementations report errors instead of hiding them.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NewCache builds the backend named in the config.
func NewCache(conf *utils.CacheConfig, clock clockwork.Clock) (Cache, error) {
	switch conf.Backend {
	case utils.CacheBackendMemory, "":
		return NewMemoryCache(clock), nil
	case utils.CacheBackendRedis:
		if conf.RedisAddr == "" {
			return nil, errors.New("redis cache backend requires redis-addr")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		return NewRedisCache(rdb, conf.KeyPrefix), nil
	default:
		return nil, errors.Errorf("unknown cache backend %q", conf.Backend)
	}
}

// sweepInterval is how often Set drops expired entries of a MemoryCache.
const sweepInterval = time.Minute

// MemoryCache is a process local cache. Every entry is stored behind an 8 byte expiry stamp, and
// an index of expiries lets Set sweep entries nobody reads again, so an entry outlives its ttl by
// at most sweepInterval.
type MemoryCache struct {
	store *httpcache.MemoryCache
	clock clockwork.Clock

	mu        sync.Mutex
	expires   map[string]time.Time
	nextSweep time.Time
}

func NewMemoryCache(clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		store:     httpcache.NewMemoryCache(),
		clock:     clock,
		expires:   make(map[string]time.Time),
		nextSweep: clock.Now().Add(sweepInterval),
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.store.Get(key)
	if !ok || len(entry) < 8 {
		return nil, false, nil
	}

	expires := time.Unix(0, int64(binary.BigEndian.Uint64(entry[:8])))
	if !m.clock.Now().Before(expires) {
		m.mu.Lock()
		m.evict(key, m.clock.Now())
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry[8:], true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := m.clock.Now()
	expires := now.Add(ttl)

	entry := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(entry[:8], uint64(expires.UnixNano()))
	copy(entry[8:], value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Set(key, entry)
	m.expires[key] = expires

	if !now.Before(m.nextSweep) {
		for k := range m.expires {
			m.evict(k, now)
		}
		m.nextSweep = now.Add(sweepInterval)
	}
	return nil
}

// Len is the number of entries held, expired ones not yet swept included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}

// evict drops key when it has expired at now. m.mu must be held.
func (m *MemoryCache) evict(key string, now time.Time) {
	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return
	}
	m.store.Delete(key)
	delete(m.expires, key)
}

// redisCmds is the subset of the go-redis client used by RedisCache.
type redisCmds interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares cached answers between gateway replicas. Expiry is left to redis.
type RedisCache struct {
	rdb    redisCmds
	prefix string
}

func NewRedisCache(rdb redisCmds, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	switch {
	case err == nil:
		return data, true, nil
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	default:
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

// Close releases the redis connection pool when the client owns one.
func (c *RedisCache) Close() error {
	if closer, ok := c.rdb.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
