package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 RedisStore 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)

	config := Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "aegis",
		DefaultTTL: 1 * time.Minute,
	}

	client, err := NewRedisClient(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, config, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient(context.Background(), Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisStore_SetAndGet(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NamespaceConversation, "s1", "hello", time.Minute))

	value, err := store.Get(ctx, NamespaceConversation, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	assert.True(t, mr.Exists("aegis:conversation:s1"))
	assert.Equal(t, time.Minute, mr.TTL("aegis:conversation:s1"))
}

func TestRedisStore_NamespacesAreIsolated(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NamespaceCache, "k", "cached", 0))

	_, err := store.Get(ctx, NamespaceConversation, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisStore_DefaultTTL(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NamespaceCache, "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("aegis:cache:k"))
}

func TestRedisStore_Expiry(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NamespaceCache, "followups", "[]", 5*time.Minute))
	mr.FastForward(6 * time.Minute)

	_, err := store.Get(ctx, NamespaceCache, "followups")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_Delete(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NamespaceShare, "x", "y", time.Minute))
	require.NoError(t, store.Delete(ctx, NamespaceShare, "x"))

	_, err := store.Get(ctx, NamespaceShare, "x")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisStore_Closed(t *testing.T) {
	_, store := setupTestRedis(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err := store.Get(ctx, NamespaceCache, "k")
	assert.Error(t, err)
	assert.Error(t, store.Set(ctx, NamespaceCache, "k", "v", 0))
	assert.Error(t, store.Ping(ctx))
}

func TestJSONHelpers(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Questions []string `json:"questions"`
	}

	require.NoError(t, SetJSON(ctx, store, NamespaceCache, "followups:s1", payload{Questions: []string{"a", "b"}}, time.Minute))

	got, err := GetJSON[payload](ctx, store, NamespaceCache, "followups:s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Questions)

	_, err = GetJSON[payload](ctx, store, NamespaceCache, "missing")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, store.Set(ctx, NamespaceCache, "bad", "{", time.Minute))
	_, err = GetJSON[payload](ctx, store, NamespaceCache, "bad")
	assert.Error(t, err)
	assert.False(t, IsCacheMiss(err))
}

// =============================================================================
// 🧪 MemoryStore 测试
// =============================================================================

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore("aegis", time.Minute, time.Minute)
	ctx := context.Background()

	_, err := store.Get(ctx, NamespaceCache, "k")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, store.Set(ctx, NamespaceCache, "k", "v", 0))
	v, err := store.Get(ctx, NamespaceCache, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, store.ItemCount())

	require.NoError(t, store.Delete(ctx, NamespaceCache, "k"))
	_, err = store.Get(ctx, NamespaceCache, "k")
	assert.True(t, IsCacheMiss(err))
	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore("", time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NamespaceConversation, "k", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := store.Get(ctx, NamespaceConversation, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "aegis:cache:k", Key("aegis", NamespaceCache, "k"))
	assert.Equal(t, "cache:k", Key("", NamespaceCache, "k"))
}

type hitCounter struct{ hits, misses int }

func (h *hitCounter) RecordCacheHit(string)  { h.hits++ }
func (h *hitCounter) RecordCacheMiss(string) { h.misses++ }

func TestWithMetrics(t *testing.T) {
	ctx := context.Background()
	counter := &hitCounter{}
	store := WithMetrics(NewMemoryStore("aegis", time.Minute, time.Minute), "followups", counter)

	_, err := store.Get(ctx, NamespaceCache, "missing")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, store.Set(ctx, NamespaceCache, "k", "v", 0))
	val, err := store.Get(ctx, NamespaceCache, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	assert.Equal(t, 1, counter.hits)
	assert.Equal(t, 1, counter.misses)

	// recorder 为空时原样返回
	plain := NewMemoryStore("aegis", time.Minute, time.Minute)
	assert.Same(t, plain, WithMetrics(plain, "x", nil))
}
