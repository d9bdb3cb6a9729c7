package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkModel rag_chunks 表
type ChunkModel struct {
	ID         string          `gorm:"primaryKey;type:varchar(128)"`
	DocumentID string          `gorm:"type:varchar(128);index"`
	Namespace  string          `gorm:"type:varchar(128);index"`
	Source     string          `gorm:"type:text"`
	Text       string          `gorm:"type:text"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	Metadata   string          `gorm:"type:jsonb"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime"`
}

// TableName 表名
func (ChunkModel) TableName() string {
	return "rag_chunks"
}

// PgVectorStore 基于 PostgreSQL + pgvector 的向量存储
type PgVectorStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPgVectorStore 创建 pgvector 存储，表结构由 migration 管理
func NewPgVectorStore(db *gorm.DB, logger *zap.Logger) *PgVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgVectorStore{
		db:     db,
		logger: logger.With(zap.String("component", "pgvector_store")),
	}
}

// Upsert 实现 Store
func (s *PgVectorStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := make([]ChunkModel, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrNoEmbedding, c.ID)
		}
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", c.ID, err)
		}
		models[i] = ChunkModel{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Namespace:  c.Namespace,
			Source:     c.Source,
			Text:       c.Text,
			Embedding:  pgvector.NewVector(c.Embedding),
			Metadata:   meta,
		}
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document_id", "namespace", "source", "text", "embedding", "metadata", "updated_at"}),
		}).
		Create(&models).Error
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	s.logger.Debug("chunks upserted", zap.Int("count", len(models)))
	return nil
}

type scoredRow struct {
	ID         string
	DocumentID string
	Namespace  string
	Source     string
	Text       string
	Metadata   string
	Similarity float64
}

// Query 实现 Store。pgvector 的 <=> 是余弦距离，相似度 = 1 - 距离。
func (s *PgVectorStore) Query(ctx context.Context, embedding []float32, topK int, namespaces []string) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(embedding)

	q := s.db.WithContext(ctx).
		Table(ChunkModel{}.TableName()).
		Select("id, document_id, namespace, source, text, metadata, 1 - (embedding <=> ?) AS similarity", vec)
	if len(namespaces) > 0 {
		q = q.Where("namespace IN ?", namespaces)
	}

	var rows []scoredRow
	if err := q.Order("similarity DESC").Limit(topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		meta, err := decodeMetadata(r.Metadata)
		if err != nil {
			s.logger.Warn("invalid chunk metadata", zap.String("id", r.ID), zap.Error(err))
		}
		hits = append(hits, Hit{
			Chunk: Chunk{
				ID:         r.ID,
				DocumentID: r.DocumentID,
				Namespace:  r.Namespace,
				Source:     r.Source,
				Text:       r.Text,
				Metadata:   meta,
			},
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// Delete 实现 Store
func (s *PgVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&ChunkModel{}).Error
}

// Count 实现 Store
func (s *PgVectorStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ChunkModel{}).Count(&n).Error
	return n, err
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
