package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klapom/aegisrag/agent/state"
)

// DefaultMaxPerSession 每个会话保留的检查点上限
const DefaultMaxPerSession = 20

// Checkpoint 会话状态快照
type Checkpoint struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Partial   bool              `json:"partial"`
	State     *state.QueryState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store 按会话 ID 保存/加载查询状态
type Store interface {
	// Save 保存一个新的检查点
	Save(ctx context.Context, sessionID string, st *state.QueryState) error

	// Load 返回最新检查点的状态，没有时返回 nil, nil
	Load(ctx context.Context, sessionID string) (*state.QueryState, error)

	// List 按时间倒序列出检查点
	List(ctx context.Context, sessionID string) ([]Checkpoint, error)

	// Clear 删除会话的全部检查点，返回是否存在过
	Clear(ctx context.Context, sessionID string) (bool, error)
}

// newCheckpoint 拷贝状态，之后对原状态的修改不影响已保存的快照
func newCheckpoint(sessionID string, st *state.QueryState) (Checkpoint, error) {
	if sessionID == "" {
		return Checkpoint{}, fmt.Errorf("checkpoint: empty session id")
	}
	if st == nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: nil state")
	}
	partial, _ := st.Metadata["partial"].(bool)
	return Checkpoint{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Partial:   partial,
		State:     st.Clone(),
		CreatedAt: time.Now(),
	}, nil
}

func encode(cp Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// MemoryStore 进程内实现，开发和测试使用
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Checkpoint
	max      int
}

// NewMemoryStore 创建内存检查点存储，maxPerSession <= 0 时使用默认值
func NewMemoryStore(maxPerSession int) *MemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = DefaultMaxPerSession
	}
	return &MemoryStore{sessions: make(map[string][]Checkpoint), max: maxPerSession}
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, st *state.QueryState) error {
	cp, err := newCheckpoint(sessionID, st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.sessions[sessionID], cp)
	if len(list) > m.max {
		list = list[len(list)-m.max:]
	}
	m.sessions[sessionID] = list
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*state.QueryState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.sessions[sessionID]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1].State.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, sessionID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.sessions[sessionID]
	out := make([]Checkpoint, len(list))
	copy(out, list)
	slices.Reverse(out)
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return ok, nil
}
