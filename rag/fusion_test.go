package rag

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalizeScore(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{-3, 0},
		{3, math.Log10(4)},
		{9, 1},
		{1000, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeScore(tt.in), 1e-12, "input %v", tt.in)
	}
}

func TestNormalizeScore_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Float64Range(-100, 1e6).Draw(t, "a")
		b := rapid.Float64Range(-100, 1e6).Draw(t, "b")

		na, nb := NormalizeScore(a), NormalizeScore(b)
		if na < 0 || na > 1 {
			t.Fatalf("NormalizeScore(%v) = %v out of range", a, na)
		}
		if a > 1 && b > 1 && a <= b && na > nb {
			t.Fatalf("not monotone: f(%v)=%v > f(%v)=%v", a, na, b, nb)
		}
	})
}

func TestNormalizeByMax(t *testing.T) {
	assert.Equal(t, []float64{1, 0.5, 0}, NormalizeByMax([]float64{4, 2, 0}))
	assert.Equal(t, []float64{0, 0}, NormalizeByMax([]float64{0, -1}))
	assert.Empty(t, NormalizeByMax(nil))
}

func TestDedup_KeepsFirstProvenance(t *testing.T) {
	prefix := strings.Repeat("a", DedupPrefixLen)
	in := []RetrievedContext{
		{ID: "v1", Text: prefix + " tail one", Channel: ChannelVector},
		{ID: "g1", Text: prefix + " different tail", Channel: ChannelGraph},
		{ID: "g2", Text: "unrelated", Channel: ChannelGraph},
	}

	out := Dedup(in)
	require.Len(t, out, 2)
	assert.Equal(t, "v1", out[0].ID)
	assert.Equal(t, ChannelVector, out[0].Channel)
	assert.Equal(t, "g2", out[1].ID)
}

func TestDedup_CountsRunesNotBytes(t *testing.T) {
	prefix := strings.Repeat("检", DedupPrefixLen)
	in := []RetrievedContext{
		{ID: "1", Text: prefix + "甲"},
		{ID: "2", Text: prefix + "乙"},
		{ID: "3", Text: prefix[:len(prefix)-len("检")] + "乙"},
	}
	out := Dedup(in)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "3", out[1].ID)
}

func TestDedup_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		texts := rapid.SliceOfN(rapid.SampledFrom([]string{
			"alpha", "beta", strings.Repeat("x", 250) + "1", strings.Repeat("x", 250) + "2",
		}), 0, 20).Draw(t, "texts")

		in := make([]RetrievedContext, len(texts))
		for i, s := range texts {
			in[i] = RetrievedContext{Text: s, Rank: i}
		}
		out := Dedup(in)

		seen := map[string]bool{}
		lastRank := -1
		for _, c := range out {
			key := DedupKey(c.Text)
			if seen[key] {
				t.Fatalf("duplicate key survived: %q", key)
			}
			seen[key] = true
			if c.Rank <= lastRank {
				t.Fatalf("order not preserved")
			}
			lastRank = c.Rank
		}
		for _, c := range in {
			if !seen[DedupKey(c.Text)] {
				t.Fatalf("key dropped entirely: %q", c.Text)
			}
		}
	})
}

func TestFuseRRF(t *testing.T) {
	lists := []RankedList{
		{Channel: ChannelVector, Weight: 0.5, Contexts: []RetrievedContext{
			{ID: "a", Text: "doc a"}, {ID: "b", Text: "doc b"},
		}},
		{Channel: ChannelBM25, Weight: 0.5, Contexts: []RetrievedContext{
			{ID: "b", Text: "doc b"}, {ID: "c", Text: "doc c"},
		}},
		{Channel: ChannelGraphLocal, Weight: 0, Contexts: []RetrievedContext{
			{ID: "z", Text: "ignored"},
		}},
	}

	out := FuseRRF(lists, 60)
	require.Len(t, out, 3)

	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, 1.0, out[0].Score)
	assert.Equal(t, 1, out[0].Rank)
	assert.ElementsMatch(t, []string{"vector", "bm25"}, out[0].Metadata["fused_channels"])
	assert.InDelta(t, 0.5/62+0.5/61, out[0].Metadata["rrf_score"], 1e-12)
	// b 在 bm25 中排名更靠前，贡献更大
	assert.Equal(t, ChannelBM25, out[0].Channel)

	// a 仅在 vector 第一名，c 仅在 bm25 第二名
	assert.Equal(t, "a", out[1].ID)
	assert.Equal(t, ChannelVector, out[1].Channel)
	assert.Equal(t, "c", out[2].ID)
	assert.Equal(t, 3, out[2].Rank)

	for _, c := range out {
		assert.NotEqual(t, "z", c.ID)
		assert.True(t, c.Score > 0 && c.Score <= 1)
	}
}

func TestFuseRRF_EmptyIDsFallBackToText(t *testing.T) {
	lists := []RankedList{
		{Channel: ChannelVector, Weight: 1, Contexts: []RetrievedContext{{Text: "same"}}},
		{Channel: ChannelBM25, Weight: 1, Contexts: []RetrievedContext{{Text: "same"}}},
	}
	out := FuseRRF(lists, 0)
	require.Len(t, out, 1)
	assert.InDelta(t, 2.0/61, out[0].Metadata["rrf_score"], 1e-12)
}

func TestTagChannel(t *testing.T) {
	in := []RetrievedContext{{ID: "x", Rank: 9}, {ID: "y", Rank: 3}}
	out := TagChannel(in, ChannelGraphGlobal)

	assert.Equal(t, ChannelGraphGlobal, out[0].Channel)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, 2, out[1].Rank)
	// 原切片不变
	assert.Equal(t, Channel(""), in[0].Channel)
	assert.Equal(t, 9, in[0].Rank)
}
