package retrieval

import (
	"context"
	"strings"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/rag"
	"go.uber.org/zap"
)

// VectorAgent 向量检索阶段。底层检索器通常是 rag.FourWaySearcher，
// 此时结果保留各自的通道标记（vector/bm25/graph_local/graph_global）。
type VectorAgent struct {
	channelAgent
	intentWeights map[state.Intent]rag.Weights
}

// NewVectorAgent 创建向量检索阶段。intentWeights 为各意图的四路名义权重，可为 nil。
func NewVectorAgent(searcher rag.Searcher, intentWeights map[state.Intent]rag.Weights, opts Options, logger *zap.Logger) *VectorAgent {
	return &VectorAgent{
		channelAgent:  newChannelAgent("vector_agent", rag.ChannelVector, state.PhaseVectorSearch, searcher, opts, logger),
		intentWeights: intentWeights,
	}
}

// Process 执行检索并写入状态，通道错误不会返回
func (a *VectorAgent) Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
	return a.process(ctx, st, a.Retrieve)
}

// Retrieve 执行检索但不修改 st
func (a *VectorAgent) Retrieve(ctx context.Context, st *state.QueryState) (Outcome, error) {
	if strings.TrimSpace(st.Query) == "" {
		return Outcome{Metadata: map[string]any{"skipped": true}}, nil
	}

	req := rag.SearchRequest{
		Query:      st.Query,
		TopK:       a.topK,
		Namespaces: st.Namespaces,
	}
	if w, ok := a.intentWeights[st.Intent]; ok {
		req.Weights = &w
	}

	out, resp, err := a.search(ctx, req)
	if err != nil {
		return out, err
	}

	out.Metadata["search_mode"] = "vector"
	if resp.Counts != nil {
		out.Metadata["search_mode"] = "four_way"
		out.Metadata["four_way_results"] = *resp.Counts
	}
	if resp.Weights != nil {
		out.Metadata["intent_weights"] = *resp.Weights
	}
	for k, v := range resp.Metadata {
		if _, exists := out.Metadata[k]; !exists {
			out.Metadata[k] = v
		}
	}
	return out, nil
}
