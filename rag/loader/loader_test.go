package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/rag/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// ============================================================
// LoaderRegistry Tests
// ============================================================

func TestNewLoaderRegistry_HasBuiltinLoaders(t *testing.T) {
	t.Parallel()

	exts := NewLoaderRegistry().SupportedTypes()
	assert.Equal(t, []string{".json", ".jsonl", ".markdown", ".md", ".txt"}, exts)
}

func TestLoaderRegistry_Load_Errors(t *testing.T) {
	t.Parallel()

	r := NewLoaderRegistry()
	_, err := r.Load(context.Background(), "noextension")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extension")

	_, err = r.Load(context.Background(), "file.xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no loader registered")
}

func TestLoaderRegistry_Load_CaseInsensitiveAndDropsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.TXT"), "hello")
	writeFile(t, filepath.Join(dir, "empty.txt"), "   \n")

	r := NewLoaderRegistry()
	docs, err := r.Load(context.Background(), filepath.Join(dir, "a.TXT"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello", docs[0].Text)

	docs, err = r.Load(context.Background(), filepath.Join(dir, "empty.txt"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoaderRegistry_RegisterCustom(t *testing.T) {
	t.Parallel()

	r := NewLoaderRegistry()
	r.Register(".rst", NewTextLoader())
	assert.True(t, r.Supports("guide.RST"))
	assert.False(t, r.Supports("guide.pdf"))
}

// ============================================================
// 各格式加载器
// ============================================================

func TestTextLoader_Load(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sample.txt")
	writeFile(t, path, "Hello, world!\nSecond line.")

	docs, err := NewTextLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Hello, world!\nSecond line.", docs[0].Text)
	assert.Equal(t, path, docs[0].Source)
	assert.Equal(t, "sample.txt", docs[0].Metadata["source_file"])
}

func TestTextLoader_Load_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTextLoader().Load(ctx, "any.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkdownLoader_Load(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.md")
	md := "Preamble.\n\n# Introduction\nSome intro text.\n\n```sh\n# not a heading\n```\n\n## Details\nDetail content here.\n\n#hashtag line"
	writeFile(t, path, md)

	docs, err := NewMarkdownLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "Preamble.", docs[0].Text)
	assert.NotContains(t, docs[0].Metadata, "heading")

	assert.Equal(t, "Introduction", docs[1].Metadata["heading"])
	assert.Equal(t, 1, docs[1].Metadata["heading_level"])
	assert.True(t, strings.HasPrefix(docs[1].Text, "Introduction\n\n"))
	assert.Contains(t, docs[1].Text, "# not a heading")

	assert.Equal(t, "Details", docs[2].Metadata["heading"])
	assert.Contains(t, docs[2].Text, "#hashtag line")
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		line      string
		wantText  string
		wantLevel int
	}{
		{"# Title", "Title", 1},
		{"###   Deep  ", "Deep", 3},
		{"#NoSpace", "", 0},
		{"####### too deep", "", 0},
		{"#", "", 0},
		{"plain", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			text, level := parseHeading(tt.line)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantLevel, level)
		})
	}
}

func TestJSONLoader_ArrayAndJSONL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	arr := filepath.Join(dir, "faq.json")
	writeFile(t, arr, `[{"id":"q1","text":"What is BM25?","lang":"en"},{"text":"Reciprocal rank fusion"}]`)
	lines := filepath.Join(dir, "notes.jsonl")
	writeFile(t, lines, "{\"id\":\"n1\",\"text\":\"first\"}\n\n{\"id\":\"n2\",\"text\":\"second\"}\n")

	l := NewJSONLoader(JSONLoaderConfig{ContentField: "text", IDField: "id"})

	docs, err := l.Load(context.Background(), arr)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "q1", docs[0].ID)
	assert.Equal(t, "What is BM25?", docs[0].Text)
	assert.Equal(t, "en", docs[0].Metadata["lang"])
	assert.Equal(t, arr+"#1", docs[1].ID)

	docs, err = l.Load(context.Background(), lines)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "second", docs[1].Text)
}

func TestJSONLoader_InvalidLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	writeFile(t, path, "{\"text\":\"ok\"}\n{broken\n")

	_, err := NewJSONLoader(JSONLoaderConfig{}).Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

// ============================================================
// Chunker Tests
// ============================================================

func TestChunker_Split(t *testing.T) {
	c := NewChunker(ChunkerConfig{MaxTokens: 12, OverlapTokens: 4}, nil)

	// 估算器下每段 5 到 7 个 token
	text := "alpha beta gamma delta epsilon\n\nzeta eta theta iota kappa\n\nlambda mu nu xi omicron"
	chunks := c.Split(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, ch := range chunks {
		assert.LessOrEqual(t, c.tok.CountTokens(ch), 12+c.tok.CountTokens("\n\n"))
	}
	assert.True(t, strings.HasPrefix(chunks[0], "alpha"))
	assert.Contains(t, chunks[len(chunks)-1], "omicron")
}

func TestChunker_LongParagraphSplitByWords(t *testing.T) {
	c := NewChunker(ChunkerConfig{MaxTokens: 10}, nil)
	words := make([]string, 200)
	for i := range words {
		words[i] = "token"
	}

	chunks := c.Split(strings.Join(words, " "))
	require.Greater(t, len(chunks), 1)

	var total int
	for _, ch := range chunks {
		total += len(strings.Fields(ch))
	}
	assert.Equal(t, 200, total)
}

func TestChunker_Empty(t *testing.T) {
	assert.Nil(t, NewChunker(DefaultChunkerConfig(), nil).Split(" \n\n "))
}

// ============================================================
// Ingestor Tests
// ============================================================

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		// 按关键词构造可区分的向量
		v := []float32{0.1, 0.1, 0.1}
		if strings.Contains(strings.ToLower(t), "graph") {
			v[0] = 1
		}
		if strings.Contains(strings.ToLower(t), "bm25") {
			v[1] = 1
		}
		out[i] = v
	}
	return out, nil
}

func seedCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "readme.txt"), "AegisRAG combines vector and BM25 retrieval.")
	writeFile(t, filepath.Join(root, "docs", "graph.md"), "# Graphs\nEntities and relations form a knowledge graph.")
	writeFile(t, filepath.Join(root, "docs", "nested", "faq.jsonl"), `{"id":"f1","text":"BM25 scores keywords."}`)
	writeFile(t, filepath.Join(root, "docs", "image.png"), "binary")
	writeFile(t, filepath.Join(root, ".hidden", "secret.txt"), "do not index")
	writeFile(t, filepath.Join(root, "broken.json"), "{not json")
	return root
}

func TestIngestor_IngestDir(t *testing.T) {
	root := seedCorpus(t)
	bm25 := rag.NewBM25Index(rag.DefaultBM25Config(), nil)
	store := vectorstore.NewMemoryStore(nil)
	emb := &fakeEmbedder{}

	ing := NewIngestor(nil, bm25, zaptest.NewLogger(t), WithVectorStore(store, emb), WithEmbedBatch(2))
	stats, err := ing.IngestDir(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, []string{"broken.json"}, stats.Skipped)
	assert.Equal(t, 2, emb.calls)

	assert.Equal(t, 3, bm25.Len())
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// 命名空间取一级目录
	resp, err := bm25.Search(context.Background(), rag.SearchRequest{Query: "bm25", TopK: 5, Namespaces: []string{"docs"}})
	require.NoError(t, err)
	require.Len(t, resp.Contexts, 1)
	assert.Equal(t, "docs/nested/faq.jsonl", resp.Contexts[0].Source)

	resp, err = bm25.Search(context.Background(), rag.SearchRequest{Query: "bm25", TopK: 5, Namespaces: []string{DefaultNamespace}})
	require.NoError(t, err)
	require.Len(t, resp.Contexts, 1)
	assert.Equal(t, "readme.txt", resp.Contexts[0].Source)
}

func TestIngestor_StableChunkIDs(t *testing.T) {
	root := seedCorpus(t)

	ids := func() []string {
		store := vectorstore.NewMemoryStore(nil)
		ing := NewIngestor(nil, nil, nil, WithVectorStore(store, &fakeEmbedder{}))
		_, err := ing.IngestDir(context.Background(), root)
		require.NoError(t, err)
		hits, err := store.Query(context.Background(), []float32{1, 1, 1}, 10, nil)
		require.NoError(t, err)
		out := make([]string, 0, len(hits))
		for _, h := range hits {
			out = append(out, h.Chunk.ID)
		}
		return out
	}

	assert.ElementsMatch(t, ids(), ids())
}

func TestIngestor_EmbedError(t *testing.T) {
	root := seedCorpus(t)
	bm25 := rag.NewBM25Index(rag.DefaultBM25Config(), nil)
	boom := errors.New("embedding backend down")

	ing := NewIngestor(nil, bm25, nil, WithVectorStore(vectorstore.NewMemoryStore(nil), &fakeEmbedder{err: boom}))
	_, err := ing.IngestDir(context.Background(), root)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, bm25.Len())
}

func TestIngestor_MissingRoot(t *testing.T) {
	ing := NewIngestor(nil, rag.NewBM25Index(rag.DefaultBM25Config(), nil), nil)
	_, err := ing.IngestDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestNamespaceOf(t *testing.T) {
	assert.Equal(t, DefaultNamespace, namespaceOf("readme.txt"))
	assert.Equal(t, "docs", namespaceOf("docs/a/b.md"))
}
