package retrieval

import (
	"context"
	"fmt"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/rag"
	"go.uber.org/zap"
)

// HybridStage 并发执行向量检索和图检索，按完成顺序处理结果后合并去重
type HybridStage struct {
	vector Retriever
	graph  Retriever
	logger *zap.Logger
}

// NewHybridStage 创建混合检索阶段
func NewHybridStage(vector, graph Retriever, logger *zap.Logger) *HybridStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStage{
		vector: vector,
		graph:  graph,
		logger: logger.With(zap.String("component", "hybrid_search")),
	}
}

type branch struct {
	key       string
	channel   rag.Channel
	retriever Retriever
	started   state.PhaseEvent
}

type completion struct {
	idx int
	out Outcome
	err error
}

// Process 执行混合检索。单个通道失败只贡献空结果，不会取消另一通道，也不会返回错误。
func (h *HybridStage) Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
	branches := []*branch{
		{key: "vector", channel: rag.ChannelVector, retriever: h.vector},
		{key: "graph", channel: rag.ChannelGraph, retriever: h.graph},
	}

	// 两个通道的 in_progress 事件在启动任何任务之前发出
	for _, b := range branches {
		b.started = state.StartPhase(b.retriever.Phase())
		events.EmitPhase(ctx, b.started)
	}

	done := make(chan completion, len(branches))
	for i, b := range branches {
		view := st.Clone()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- completion{idx: i, err: fmt.Errorf("%s panicked: %v", b.retriever.Name(), r)}
				}
			}()
			out, err := b.retriever.Retrieve(ctx, view)
			done <- completion{idx: i, out: out, err: err}
		}()
	}

	results := make([][]rag.RetrievedContext, len(branches))
	block := map[string]any{}
	for range branches {
		c := <-done
		b := branches[c.idx]
		if c.err != nil {
			h.logger.Warn("channel failed, continuing without it",
				zap.String("channel", b.key),
				zap.Error(c.err),
			)
			failed := b.started.Fail(c.err, map[string]any{"result_count": 0})
			events.EmitPhase(ctx, failed)
			st.RecordPhase(failed)
			st.RecordError(errorRecord(b.retriever.Name(), st, c.err))
			block[b.key] = map[string]any{
				"failed":       true,
				"error":        c.err.Error(),
				"result_count": 0,
				"latency_ms":   millis(c.out.Latency),
			}
			st.Trace(fmt.Sprintf("%s: failed (%s)", b.retriever.Name(), c.err.Error()))
			continue
		}

		results[c.idx] = rag.TagChannel(c.out.Contexts, b.channel)
		completed := b.started.Complete(map[string]any{"result_count": len(c.out.Contexts)})
		events.EmitPhase(ctx, completed)
		st.RecordPhase(completed)
		meta := map[string]any{
			"result_count": len(c.out.Contexts),
			"latency_ms":   millis(c.out.Latency),
		}
		for k, v := range c.out.Metadata {
			if _, exists := meta[k]; !exists {
				meta[k] = v
			}
		}
		block[b.key] = meta
		recordFusion(st, c.out)
		st.Trace(fmt.Sprintf("%s: completed (%d results)", b.retriever.Name(), len(c.out.Contexts)))
	}

	fusion := state.StartPhase(state.PhaseFusion)
	events.EmitPhase(ctx, fusion)

	merged := make([]rag.RetrievedContext, 0, len(results[0])+len(results[1]))
	merged = append(merged, results[0]...)
	merged = append(merged, results[1]...)
	deduped := rag.Dedup(merged)

	block["merged_count"] = len(deduped)
	block["duplicates_removed"] = len(merged) - len(deduped)
	st.SetMeta("hybrid_search", block)
	st.AddContexts(deduped...)

	fused := fusion.Complete(map[string]any{
		"vector_count": len(results[0]),
		"graph_count":  len(results[1]),
		"merged_count": len(deduped),
	})
	events.EmitPhase(ctx, fused)
	st.RecordPhase(fused)
	st.Trace(fmt.Sprintf("hybrid_search: merged %d results (vector=%d, graph=%d)", len(deduped), len(results[0]), len(results[1])))

	h.logger.Debug("hybrid search finished",
		zap.Int("vector", len(results[0])),
		zap.Int("graph", len(results[1])),
		zap.Int("merged", len(deduped)),
	)
	return st, nil
}
