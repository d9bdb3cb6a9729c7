package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klapom/aegisrag/llm"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/rag/vectorstore"
	"go.uber.org/zap"
)

// DefaultNamespace 语料根目录下直接存放的文件所属命名空间
const DefaultNamespace = "default"

// defaultEmbedBatch 每次嵌入请求的文本数
const defaultEmbedBatch = 32

// chunkIDSpace 分块 ID 的 UUIDv5 命名空间，相同路径与序号得到相同 ID
var chunkIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("aegisrag/chunk"))

// IngestStats 一次导入的统计
type IngestStats struct {
	Files     int      `json:"files"`
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Ingestor 将语料目录切块后写入向量库与 BM25 索引。
// 向量库或嵌入器为 nil 时只建立 BM25 索引。
type Ingestor struct {
	registry   *LoaderRegistry
	chunker    *Chunker
	embedder   llm.Embedder
	vectors    vectorstore.Store
	keywords   *rag.BM25Index
	embedBatch int
	logger     *zap.Logger
}

// IngestorOption 导入选项
type IngestorOption func(*Ingestor)

// WithRegistry 替换加载器注册表
func WithRegistry(r *LoaderRegistry) IngestorOption {
	return func(i *Ingestor) { i.registry = r }
}

// WithVectorStore 同时写入向量库
func WithVectorStore(store vectorstore.Store, embedder llm.Embedder) IngestorOption {
	return func(i *Ingestor) {
		i.vectors = store
		i.embedder = embedder
	}
}

// WithEmbedBatch 设置嵌入批大小
func WithEmbedBatch(n int) IngestorOption {
	return func(i *Ingestor) {
		if n > 0 {
			i.embedBatch = n
		}
	}
}

// NewIngestor 创建导入器
func NewIngestor(chunker *Chunker, keywords *rag.BM25Index, logger *zap.Logger, opts ...IngestorOption) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunker == nil {
		chunker = NewChunker(DefaultChunkerConfig(), nil)
	}
	i := &Ingestor{
		registry:   NewLoaderRegistry(),
		chunker:    chunker,
		keywords:   keywords,
		embedBatch: defaultEmbedBatch,
		logger:     logger.With(zap.String("component", "ingestor")),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestDir 遍历 root，一级子目录名作为命名空间。
// 不支持的扩展名与隐藏文件跳过；单个文件加载失败记入 Skipped 后继续。
func (i *Ingestor) IngestDir(ctx context.Context, root string) (IngestStats, error) {
	var stats IngestStats
	var chunks []rag.Document

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !i.registry.Supports(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		docs, err := i.registry.Load(ctx, path)
		if err != nil {
			i.logger.Warn("failed to load corpus file", zap.String("path", rel), zap.Error(err))
			stats.Skipped = append(stats.Skipped, rel)
			return nil
		}
		stats.Files++
		stats.Documents += len(docs)
		chunks = append(chunks, i.split(rel, namespaceOf(rel), docs)...)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk corpus %s: %w", root, err)
	}

	if err := i.Index(ctx, chunks); err != nil {
		return stats, err
	}
	stats.Chunks = len(chunks)

	i.logger.Info("corpus ingested",
		zap.String("root", root),
		zap.Int("files", stats.Files),
		zap.Int("documents", stats.Documents),
		zap.Int("chunks", stats.Chunks),
		zap.Int("skipped", len(stats.Skipped)),
	)
	return stats, nil
}

// Index 写入已切块的文档
func (i *Ingestor) Index(ctx context.Context, chunks []rag.Document) error {
	if len(chunks) == 0 {
		return nil
	}
	if i.vectors != nil && i.embedder != nil {
		if err := i.upsertVectors(ctx, chunks); err != nil {
			return err
		}
	}
	if i.keywords != nil {
		i.keywords.Add(chunks...)
	}
	return nil
}

func (i *Ingestor) split(docID, namespace string, docs []rag.Document) []rag.Document {
	var out []rag.Document
	seq := 0
	for _, d := range docs {
		for _, text := range i.chunker.Split(d.Text) {
			meta := make(map[string]any, len(d.Metadata)+2)
			for k, v := range d.Metadata {
				meta[k] = v
			}
			meta["chunk_index"] = seq
			meta["origin_id"] = d.ID

			out = append(out, rag.Document{
				ID:         uuid.NewSHA1(chunkIDSpace, []byte(fmt.Sprintf("%s#%d", docID, seq))).String(),
				DocumentID: docID,
				Source:     docID,
				Namespace:  namespace,
				Text:       text,
				Metadata:   meta,
			})
			seq++
		}
	}
	return out
}

func (i *Ingestor) upsertVectors(ctx context.Context, docs []rag.Document) error {
	for start := 0; start < len(docs); start += i.embedBatch {
		end := min(start+i.embedBatch, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for j, d := range batch {
			texts[j] = d.Text
		}
		vectors, err := i.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return errors.New("embed chunks: embedding count mismatch")
		}

		chunks := make([]vectorstore.Chunk, len(batch))
		for j, d := range batch {
			chunks[j] = vectorstore.Chunk{
				ID:         d.ID,
				DocumentID: d.DocumentID,
				Namespace:  d.Namespace,
				Source:     d.Source,
				Text:       d.Text,
				Embedding:  vectors[j],
				Metadata:   d.Metadata,
			}
		}
		if err := i.vectors.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("upsert chunks: %w", err)
		}
	}
	return nil
}

// namespaceOf 取相对路径的首段目录名
func namespaceOf(rel string) string {
	if idx := strings.IndexByte(rel, '/'); idx > 0 {
		return rel[:idx]
	}
	return DefaultNamespace
}
