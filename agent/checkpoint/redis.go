package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore Redis 检查点存储。
// 检查点数据存于 <prefix>:checkpoint:<id>，会话索引为有序集合 <prefix>:thread:<session>。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	max    int
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 检查点存储，ttl 为 0 表示不过期
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "aegis"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		max:    DefaultMaxPerSession,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

func (s *RedisStore) checkpointKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.prefix, id)
}

func (s *RedisStore) threadKey(sessionID string) string {
	return fmt.Sprintf("%s:thread:%s", s.prefix, sessionID)
}

// Save 保存检查点并更新会话索引
func (s *RedisStore) Save(ctx context.Context, sessionID string, st *state.QueryState) error {
	cp, err := newCheckpoint(sessionID, st)
	if err != nil {
		return err
	}
	data, err := encode(cp)
	if err != nil {
		return err
	}

	thread := s.threadKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.ID), data, s.ttl)
	pipe.ZAdd(ctx, thread, redis.Z{Score: float64(cp.CreatedAt.UnixNano()), Member: cp.ID})
	pipe.ZRemRangeByRank(ctx, thread, 0, int64(-s.max-1))
	if s.ttl > 0 {
		pipe.Expire(ctx, thread, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved to redis",
		zap.String("checkpoint_id", cp.ID),
		zap.String("session_id", sessionID),
		zap.Bool("partial", cp.Partial),
	)
	return nil
}

func (s *RedisStore) load(ctx context.Context, id string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Load 加载最新检查点；索引中已过期的条目被跳过
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*state.QueryState, error) {
	list, err := s.List(ctx, sessionID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0].State, nil
}

// List 列出检查点（新的在前）
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.load(ctx, id)
		if err != nil {
			s.logger.Warn("failed to load checkpoint", zap.String("id", id), zap.Error(err))
			continue
		}
		if cp != nil {
			out = append(out, *cp)
		}
	}
	return out, nil
}

// Clear 删除会话的全部检查点和索引
func (s *RedisStore) Clear(ctx context.Context, sessionID string) (bool, error) {
	thread := s.threadKey(sessionID)
	ids, err := s.client.ZRange(ctx, thread, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.checkpointKey(id))
	}
	keys = append(keys, thread)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return false, fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return true, nil
}
