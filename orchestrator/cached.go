package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedValue 带过期时间的单值缓存。并发的刷新请求经 singleflight 合并为一次加载。
type CachedValue[T any] struct {
	mu        sync.Mutex
	value     T
	expiresAt time.Time
	valid     bool
	gen       uint64

	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time
}

// NewCachedValue 创建缓存，ttl <= 0 表示永不过期（直到 Invalidate）
func NewCachedValue[T any](ttl time.Duration) *CachedValue[T] {
	return &CachedValue[T]{ttl: ttl, now: time.Now}
}

const refreshKey = "refresh"

// Get 返回未过期的缓存值
func (c *CachedValue[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && (c.ttl <= 0 || c.now().Before(c.expiresAt)) {
		return c.value, true
	}
	var zero T
	return zero, false
}

// GetOrRefresh 缓存有效时直接返回，否则调用 loader 加载。
// loader 不受单个调用方取消的影响；调用方取消时立即返回 ctx.Err()。
func (c *CachedValue[T]) GetOrRefresh(ctx context.Context, loader func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(); ok {
		return v, nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		v, err := loader(loadCtx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		// 加载期间被 Invalidate 的结果不写回
		if c.gen == gen {
			c.value = v
			c.valid = true
			c.expiresAt = c.now().Add(c.ttl)
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Invalidate 丢弃缓存值，下次 GetOrRefresh 重新加载
func (c *CachedValue[T]) Invalidate() {
	c.mu.Lock()
	var zero T
	c.value = zero
	c.valid = false
	c.expiresAt = time.Time{}
	c.gen++
	c.mu.Unlock()
	c.group.Forget(refreshKey)
}

// ExpiresAt 返回当前缓存值的过期时间，无缓存时为零值
func (c *CachedValue[T]) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return time.Time{}
	}
	return c.expiresAt
}
