package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrNoEmbedding 片段缺少向量
var ErrNoEmbedding = errors.New("chunk has no embedding")

// Chunk 已嵌入的文档片段
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Namespace  string         `json:"namespace"`
	Source     string         `json:"source"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Hit 相似度检索命中
type Hit struct {
	Chunk      Chunk
	Similarity float64
}

// Store 向量存储接口
type Store interface {
	// Upsert 写入或覆盖片段
	Upsert(ctx context.Context, chunks []Chunk) error

	// Query 按余弦相似度返回前 topK 个片段，namespaces 为空时不过滤
	Query(ctx context.Context, embedding []float32, topK int, namespaces []string) ([]Hit, error)

	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int64, error)
}

// ====== 内存向量存储（用于测试和小规模部署）======

// MemoryStore 内存向量存储
type MemoryStore struct {
	chunks map[string]Chunk
	order  []string
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewMemoryStore 创建内存向量存储
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		chunks: make(map[string]Chunk),
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

// Upsert 实现 Store
func (s *MemoryStore) Upsert(ctx context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrNoEmbedding, c.ID)
		}
		if _, exists := s.chunks[c.ID]; !exists {
			s.order = append(s.order, c.ID)
		}
		s.chunks[c.ID] = c
	}

	s.logger.Debug("chunks upserted", zap.Int("count", len(chunks)), zap.Int("total", len(s.chunks)))
	return nil
}

// Query 实现 Store
func (s *MemoryStore) Query(ctx context.Context, embedding []float32, topK int, namespaces []string) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]bool, len(namespaces))
	for _, ns := range namespaces {
		allowed[ns] = true
	}

	hits := make([]Hit, 0, len(s.chunks))
	for _, id := range s.order {
		c, ok := s.chunks[id]
		if !ok {
			continue
		}
		if len(allowed) > 0 && !allowed[c.Namespace] {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Similarity: CosineSimilarity(embedding, c.Embedding)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete 实现 Store
func (s *MemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
		delete(s.chunks, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if !remove[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

// Count 实现 Store
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.chunks)), nil
}

// CosineSimilarity 余弦相似度，维度不一致或零向量时返回 0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
