package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/klapom/aegisrag/llm"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// Searcher 将 Store + Embedder 适配为向量通道的 rag.Searcher
type Searcher struct {
	store    Store
	embedder llm.Embedder
	minScore float64
	logger   *zap.Logger
}

// NewSearcher 创建向量检索器，minScore 以下的命中被丢弃
func NewSearcher(store Store, embedder llm.Embedder, minScore float64, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		store:    store,
		embedder: embedder,
		minScore: minScore,
		logger:   logger.With(zap.String("component", "vector_searcher")),
	}
}

// Search 实现 rag.Searcher
func (s *Searcher) Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error) {
	vectors, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, classify(fmt.Errorf("embed query: %w", err))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding response")
	}

	hits, err := s.store.Query(ctx, vectors[0], req.TopK, req.Namespaces)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]rag.RetrievedContext, 0, len(hits))
	for _, h := range hits {
		score := rag.NormalizeScore(h.Similarity)
		if score < s.minScore {
			continue
		}
		out = append(out, rag.RetrievedContext{
			ID:         h.Chunk.ID,
			Text:       h.Chunk.Text,
			Score:      score,
			Source:     h.Chunk.Source,
			DocumentID: h.Chunk.DocumentID,
			Metadata:   h.Chunk.Metadata,
		})
	}

	s.logger.Debug("vector search finished", zap.Int("hits", len(hits)), zap.Int("kept", len(out)))
	return &rag.SearchResponse{Contexts: rag.TagChannel(out, rag.ChannelVector)}, nil
}

// 超时与可重试的上游错误标记为向量通道瞬时错误
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if types.IsTimeout(err) || types.IsRetryable(err) {
		return rag.Transient(rag.ChannelVector, err)
	}
	return err
}
