package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore 进程内 Store 实现，Redis 未启用时使用
type MemoryStore struct {
	prefix string
	c      *gocache.Cache
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore(prefix string, defaultTTL, cleanupInterval time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &MemoryStore{
		prefix: prefix,
		c:      gocache.New(defaultTTL, cleanupInterval),
	}
}

func (m *MemoryStore) Get(_ context.Context, ns Namespace, key string) (string, error) {
	v, ok := m.c.Get(Key(m.prefix, ns, key))
	if !ok {
		return "", ErrCacheMiss
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrCacheMiss
	}
	return s, nil
}

func (m *MemoryStore) Set(_ context.Context, ns Namespace, key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(Key(m.prefix, ns, key), value, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	m.c.Delete(Key(m.prefix, ns, key))
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// ItemCount 返回当前条目数（含未清理的过期条目）
func (m *MemoryStore) ItemCount() int {
	return m.c.ItemCount()
}
