package retrieval

import (
	"context"
	"strings"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/rag/graphstore"
	"go.uber.org/zap"
)

var (
	globalKeywords = []string{
		"summarize", "summary", "overview", "main themes", "main topics",
		"overall", "in general", "broadly", "high-level", "trends", "across all",
	}
	localKeywords = []string{
		"who is", "what is", "where is", "when did", "which", "tell me about",
		"how is", "related to", "connected to", "relationship between",
	}
)

// GraphMode 按关键词选择图检索模式：先匹配全局关键词，再匹配局部关键词，否则 hybrid
func GraphMode(query string) string {
	q := strings.ToLower(query)
	for _, kw := range globalKeywords {
		if strings.Contains(q, kw) {
			return graphstore.ModeGlobal
		}
	}
	for _, kw := range localKeywords {
		if strings.Contains(q, kw) {
			return graphstore.ModeLocal
		}
	}
	return graphstore.ModeHybrid
}

// GraphAgent 知识图检索阶段
type GraphAgent struct {
	channelAgent
}

// NewGraphAgent 创建图检索阶段
func NewGraphAgent(searcher rag.Searcher, opts Options, logger *zap.Logger) *GraphAgent {
	return &GraphAgent{
		channelAgent: newChannelAgent("graph_agent", rag.ChannelGraph, state.PhaseGraphQuery, searcher, opts, logger),
	}
}

// Process 执行图检索并写入状态，通道错误不会返回
func (a *GraphAgent) Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
	return a.process(ctx, st, a.Retrieve)
}

// Retrieve 执行图检索但不修改 st
func (a *GraphAgent) Retrieve(ctx context.Context, st *state.QueryState) (Outcome, error) {
	if strings.TrimSpace(st.Query) == "" {
		return Outcome{Metadata: map[string]any{"skipped": true}}, nil
	}

	mode := GraphMode(st.Query)
	out, resp, err := a.search(ctx, rag.SearchRequest{
		Query:      st.Query,
		TopK:       a.topK,
		Namespaces: st.Namespaces,
		Mode:       mode,
	})
	if err != nil {
		out.Metadata = map[string]any{"mode": mode}
		return out, err
	}

	out.Metadata["mode"] = mode
	if ents, ok := resp.Metadata["matched_entities"]; ok {
		out.Metadata["matched_entities"] = ents
	}
	a.logger.Debug("graph retrieval finished", zap.String("mode", mode), zap.Int("results", len(out.Contexts)))
	return out, nil
}
