package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashkit/utils"
)

func TestMemoryCache_Expiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := NewMemoryCache(clock)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "player:%23P1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "player:%23P1", []byte(`{"tag":"#P1"}`), time.Minute))

	data, ok, err := cache.Get(ctx, "player:%23P1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"tag":"#P1"}`, string(data))

	clock.Advance(time.Minute)
	_, ok, err = cache.Get(ctx, "player:%23P1")
	require.NoError(t, err)
	assert.False(t, ok, "an entry is gone once its ttl elapsed")
}

func TestMemoryCache_Overwrite(t *testing.T) {
	cache := NewMemoryCache(clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("one"), time.Minute))
	require.NoError(t, cache.Set(ctx, "k", []byte("two"), time.Minute))

	data, ok, _ := cache.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "two", string(data))
}

func TestMemoryCache_SweepsUnreadEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := NewMemoryCache(clock)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "war:%23C1", []byte(`{}`), time.Second))
	require.NoError(t, cache.Set(ctx, "clan:%23C1", []byte(`{}`), time.Hour))
	assert.Equal(t, 2, cache.Len())

	clock.Advance(sweepInterval)
	require.NoError(t, cache.Set(ctx, "player:%23P1", []byte(`{}`), time.Minute))

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.store.Get("war:%23C1")
	assert.False(t, ok, "the expired entry was never read but is gone")

	data, ok, err := cache.Get(ctx, "clan:%23C1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{}`, string(data))
}

// fakeRedis records SET calls and answers GET from memory.
type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisCache(t *testing.T) {
	rdb := &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
	cache := NewRedisCache(rdb, "clashkit:")
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "clan:%23C")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "clan:%23C", []byte(`{}`), clanTTL))
	assert.Equal(t, clanTTL, rdb.ttls["clashkit:clan:%23C"])

	data, ok, err := cache.Get(ctx, "clan:%23C")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{}`, string(data))
	assert.NoError(t, cache.Close())
}

func TestRedisCache_Errors(t *testing.T) {
	down := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	cache := NewRedisCache(&fakeRedis{err: down}, "")

	_, ok, err := cache.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, cache.Set(context.Background(), "k", []byte("v"), time.Second))
}

func TestNewCache(t *testing.T) {
	c, err := NewCache(&utils.CacheConfig{Backend: utils.CacheBackendMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = NewCache(&utils.CacheConfig{Backend: utils.CacheBackendRedis, RedisAddr: "127.0.0.1:6379"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, c)
	assert.NoError(t, c.(*RedisCache).Close())

	_, err = NewCache(&utils.CacheConfig{Backend: utils.CacheBackendRedis}, nil)
	assert.Error(t, err)

	_, err = NewCache(&utils.CacheConfig{Backend: "memcached"}, nil)
	assert.Error(t, err)
}
