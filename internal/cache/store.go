package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Namespace 缓存键的逻辑用途前缀
type Namespace string

const (
	NamespaceConversation Namespace = "conversation"
	NamespaceCache        Namespace = "cache"
	NamespaceShare        Namespace = "share"
	NamespaceSession      Namespace = "session"
)

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Store 带命名空间与 TTL 的键值存储
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) (string, error)
	Set(ctx context.Context, ns Namespace, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, ns Namespace, key string) error
	Ping(ctx context.Context) error
}

// Key 拼接完整的缓存键：<prefix>:<namespace>:<key>
func Key(prefix string, ns Namespace, key string) string {
	if prefix == "" {
		return fmt.Sprintf("%s:%s", ns, key)
	}
	return fmt.Sprintf("%s:%s:%s", prefix, ns, key)
}

// GetJSON 读取并反序列化 JSON 缓存值
func GetJSON[T any](ctx context.Context, s Store, ns Namespace, key string) (T, error) {
	var out T
	val, err := s.Get(ctx, ns, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return out, nil
}

// SetJSON 序列化并写入 JSON 缓存值
func SetJSON(ctx context.Context, s Store, ns Namespace, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.Set(ctx, ns, key, string(data), ttl)
}

// HitRecorder 命中率指标，*metrics.Collector 实现该接口
type HitRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type meteredStore struct {
	Store
	name     string
	recorder HitRecorder
}

// WithMetrics 为 Get 记录命中与未命中，其余操作透传
func WithMetrics(s Store, name string, recorder HitRecorder) Store {
	if recorder == nil {
		return s
	}
	return &meteredStore{Store: s, name: name, recorder: recorder}
}

func (m *meteredStore) Get(ctx context.Context, ns Namespace, key string) (string, error) {
	val, err := m.Store.Get(ctx, ns, key)
	switch {
	case err == nil:
		m.recorder.RecordCacheHit(m.name)
	case IsCacheMiss(err):
		m.recorder.RecordCacheMiss(m.name)
	}
	return val, err
}
