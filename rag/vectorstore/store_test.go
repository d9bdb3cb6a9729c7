package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(zap.NewNop())
	require.NoError(t, s.Upsert(context.Background(), []Chunk{
		{ID: "a", Namespace: "docs", Text: "about rag", Embedding: []float32{1, 0, 0}},
		{ID: "b", Namespace: "docs", Text: "about graphs", Embedding: []float32{0.7, 0.7, 0}},
		{ID: "c", Namespace: "notes", Text: "cooking", Embedding: []float32{0, 0, 1}},
	}))
	return s
}

func TestMemoryStore_Query(t *testing.T) {
	s := seededStore(t)

	hits, err := s.Query(context.Background(), []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "b", hits[1].Chunk.ID)

	hits, err = s.Query(context.Background(), []float32{1, 0, 0}, 10, []string{"notes"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].Chunk.ID)
}

func TestMemoryStore_UpsertDelete(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []Chunk{{ID: "a", Text: "replaced", Embedding: []float32{1, 0, 0}}}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))
	n, _ = s.Count(ctx)
	assert.Equal(t, int64(2), n)

	err = s.Upsert(ctx, []Chunk{{ID: "x"}})
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestSearcher_Search(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"what is rag": {1, 0, 0}}}
	s := NewSearcher(seededStore(t), emb, 0.1, nil)

	resp, err := s.Search(context.Background(), rag.SearchRequest{Query: "what is rag", TopK: 5})
	require.NoError(t, err)
	require.Len(t, resp.Contexts, 2, "orthogonal chunk is below min score")
	assert.Equal(t, "a", resp.Contexts[0].ID)
	assert.Equal(t, rag.ChannelVector, resp.Contexts[0].Channel)
	assert.Equal(t, 1, resp.Contexts[0].Rank)
	assert.Equal(t, 2, resp.Contexts[1].Rank)
}

func TestSearcher_TransientErrors(t *testing.T) {
	upstream := types.NewError(types.ErrUpstreamError, "503").WithRetryable(true)
	s := NewSearcher(NewMemoryStore(nil), &fakeEmbedder{err: upstream}, 0, nil)

	_, err := s.Search(context.Background(), rag.SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.True(t, rag.TransientFor(rag.ChannelVector)(err))

	s = NewSearcher(NewMemoryStore(nil), &fakeEmbedder{err: errors.New("bad request")}, 0, nil)
	_, err = s.Search(context.Background(), rag.SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.False(t, rag.IsTransient(err))
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func TestPgVectorStore_Query(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	rows := sqlmock.NewRows([]string{"id", "document_id", "namespace", "source", "text", "metadata", "similarity"}).
		AddRow("c1", "d1", "docs", "manual.pdf", "chunk one", `{"page":3}`, 0.92).
		AddRow("c2", "d1", "docs", "manual.pdf", "chunk two", "{}", 0.81)
	mock.ExpectQuery(`SELECT id, document_id, namespace, source, text, metadata, 1 - \(embedding <=> .+\) AS similarity FROM "rag_chunks" WHERE namespace IN .+ ORDER BY similarity DESC LIMIT .+`).
		WillReturnRows(rows)

	store := NewPgVectorStore(gormDB, zap.NewNop())
	hits, err := store.Query(context.Background(), []float32{0.1, 0.2}, 2, []string{"docs"})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "c1", hits[0].Chunk.ID)
	assert.InDelta(t, 0.92, hits[0].Similarity, 1e-9)
	assert.Equal(t, float64(3), hits[0].Chunk.Metadata["page"])
	assert.Nil(t, hits[1].Chunk.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgVectorStore_Count(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "rag_chunks"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := NewPgVectorStore(gormDB, nil).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgVectorStore_UpsertRejectsMissingEmbedding(t *testing.T) {
	mockDB, _, gormDB := setupMockDB(t)
	defer mockDB.Close()

	err := NewPgVectorStore(gormDB, nil).Upsert(context.Background(), []Chunk{{ID: "x"}})
	assert.ErrorIs(t, err, ErrNoEmbedding)
}
