package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/klapom/aegisrag/agent/checkpoint"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/rag/memorystore"
)

// =============================================================================
// 🧠 检查点装饰器
// =============================================================================

// memoryWriter 时间记忆写入，*memorystore.Store 实现该接口
type memoryWriter interface {
	Remember(ctx context.Context, e memorystore.Entry) (memorystore.Entry, error)
	Forget(ctx context.Context, sessionID string) error
}

// rememberingStore 完成的对话轮次在写检查点后同步写入时间记忆，
// 供 memory 通道检索
type rememberingStore struct {
	checkpoint.Store
	memory memoryWriter
	logger *zap.Logger
}

func newRememberingStore(inner checkpoint.Store, memory memoryWriter, logger *zap.Logger) *rememberingStore {
	return &rememberingStore{
		Store:  inner,
		memory: memory,
		logger: logger.With(zap.String("component", "remembering_checkpoints")),
	}
}

// Save 只有完整且带答案的状态才写入记忆
func (s *rememberingStore) Save(ctx context.Context, sessionID string, st *state.QueryState) error {
	if err := s.Store.Save(ctx, sessionID, st); err != nil {
		return err
	}
	if st == nil || sessionID == "" || st.Answer == "" {
		return nil
	}
	if partial, _ := st.Metadata["partial"].(bool); partial {
		return nil
	}

	now := time.Now()
	turns := []memorystore.Entry{
		{SessionID: sessionID, Role: "user", Text: st.Query, CreatedAt: now},
		{SessionID: sessionID, Role: "assistant", Text: st.Answer, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, e := range turns {
		if _, err := s.memory.Remember(ctx, e); err != nil {
			// 记忆写入失败不影响检查点
			s.logger.Warn("failed to remember turn", zap.String("session_id", sessionID), zap.Error(err))
			return nil
		}
	}
	return nil
}

// Clear 同时清除会话记忆
func (s *rememberingStore) Clear(ctx context.Context, sessionID string) (bool, error) {
	existed, err := s.Store.Clear(ctx, sessionID)
	if err != nil {
		return existed, err
	}
	if err := s.memory.Forget(ctx, sessionID); err != nil {
		s.logger.Warn("failed to forget session memory", zap.String("session_id", sessionID), zap.Error(err))
	}
	return existed, nil
}

// DBQueryRecorder 数据库操作耗时，*metrics.Collector 实现该接口
type DBQueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// meteredStore 记录每个检查点操作的耗时
type meteredStore struct {
	inner    checkpoint.Store
	database string
	recorder DBQueryRecorder
}

func withDBMetrics(inner checkpoint.Store, database string, recorder DBQueryRecorder) checkpoint.Store {
	return &meteredStore{inner: inner, database: database, recorder: recorder}
}

func (m *meteredStore) observe(op string, start time.Time) {
	m.recorder.RecordDBQuery(m.database, "checkpoint_"+op, time.Since(start))
}

func (m *meteredStore) Save(ctx context.Context, sessionID string, st *state.QueryState) error {
	defer m.observe("save", time.Now())
	return m.inner.Save(ctx, sessionID, st)
}

func (m *meteredStore) Load(ctx context.Context, sessionID string) (*state.QueryState, error) {
	defer m.observe("load", time.Now())
	return m.inner.Load(ctx, sessionID)
}

func (m *meteredStore) List(ctx context.Context, sessionID string) ([]checkpoint.Checkpoint, error) {
	defer m.observe("list", time.Now())
	return m.inner.List(ctx, sessionID)
}

func (m *meteredStore) Clear(ctx context.Context, sessionID string) (bool, error) {
	defer m.observe("clear", time.Now())
	return m.inner.Clear(ctx, sessionID)
}
