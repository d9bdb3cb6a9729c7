package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractChannelSamples(t *testing.T) {
	long := strings.Repeat("é", 300)
	contexts := []RetrievedContext{
		{ID: "v1", Text: long, Score: 0.9, Rank: 1, Channel: ChannelVector},
		{ID: "v2", Text: "v two", Rank: 2, Channel: ChannelVector},
		{ID: "v3", Text: "v three", Rank: 3, Channel: ChannelVector},
		{ID: "v4", Text: "v four", Rank: 4, Channel: ChannelVector},
		{ID: "b1", Text: "keyword hit", Rank: 1, Channel: ChannelBM25},
		{ID: "l1", Text: "local", Rank: 1, Channel: ChannelGraphLocal,
			Metadata: map[string]any{"entities": []any{"Alice", "Bob"}}},
		{ID: "g1", Text: "global", Rank: 1, Channel: ChannelGraphGlobal,
			Metadata: map[string]any{"community_id": 7, "entities": []string{"Acme"}}},
		{ID: "h1", Text: "hybrid result", Channel: ChannelHybrid},
		{ID: "gr", Text: "graph result", Channel: ChannelGraph},
	}

	samples := ExtractChannelSamples(contexts, "What  IS Aegis", 3)

	require.Len(t, samples, 4)
	require.Len(t, samples[ChannelVector], 3)
	assert.Equal(t, 200, len([]rune(samples[ChannelVector][0].Text)))
	assert.Equal(t, "v3", samples[ChannelVector][2].ID)

	require.Len(t, samples[ChannelBM25], 1)
	assert.Equal(t, []string{"what", "is", "aegis"}, samples[ChannelBM25][0].Keywords)

	assert.Equal(t, []string{"Alice", "Bob"}, samples[ChannelGraphLocal][0].Entities)
	assert.Equal(t, "7", samples[ChannelGraphGlobal][0].CommunityID)
	assert.Equal(t, []string{"Acme"}, samples[ChannelGraphGlobal][0].Entities)

	_, hasHybrid := samples[ChannelHybrid]
	assert.False(t, hasHybrid)
	_, hasGraph := samples[ChannelGraph]
	assert.False(t, hasGraph)
}

func TestExtractChannelSamples_DefaultLimit(t *testing.T) {
	var contexts []RetrievedContext
	for i := 0; i < 10; i++ {
		contexts = append(contexts, RetrievedContext{Text: "x", Channel: ChannelBM25})
	}
	samples := ExtractChannelSamples(contexts, "", 0)
	assert.Len(t, samples[ChannelBM25], DefaultSamplesPerChannel)
}

func TestCountByChannel(t *testing.T) {
	counts := CountByChannel([]RetrievedContext{
		{Channel: ChannelVector}, {Channel: ChannelVector}, {Channel: ChannelBM25},
		{Channel: ChannelGraphGlobal}, {Channel: ChannelMemory},
	})
	assert.Equal(t, ChannelCounts{Vector: 2, BM25: 1, GraphGlobal: 1}, counts)
}
