package retrieval

import (
	"context"
	"strings"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/rag"
	"go.uber.org/zap"
)

// MemoryAgent 时序记忆检索阶段。会话 ID 存在时只检索该会话，否则检索 st.Namespaces。
type MemoryAgent struct {
	channelAgent
}

// NewMemoryAgent 创建记忆检索阶段
func NewMemoryAgent(searcher rag.Searcher, opts Options, logger *zap.Logger) *MemoryAgent {
	return &MemoryAgent{
		channelAgent: newChannelAgent("memory_agent", rag.ChannelMemory, state.PhaseMemoryRetrieval, searcher, opts, logger),
	}
}

// Process 执行记忆检索并写入状态，通道错误不会返回
func (a *MemoryAgent) Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
	return a.process(ctx, st, a.Retrieve)
}

// Retrieve 执行记忆检索但不修改 st
func (a *MemoryAgent) Retrieve(ctx context.Context, st *state.QueryState) (Outcome, error) {
	if strings.TrimSpace(st.Query) == "" {
		return Outcome{Metadata: map[string]any{"skipped": true}}, nil
	}

	sessions := st.Namespaces
	if st.SessionID != "" {
		sessions = []string{st.SessionID}
	}

	out, _, err := a.search(ctx, rag.SearchRequest{
		Query:      st.Query,
		TopK:       a.topK,
		Namespaces: sessions,
	})
	if err != nil {
		return out, err
	}
	out.Metadata["sessions"] = sessions
	return out, nil
}
