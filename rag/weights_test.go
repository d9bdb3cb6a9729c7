package rag

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

const weightTolerance = 1e-9

func TestEffectiveWeights(t *testing.T) {
	hybrid := DefaultIntentWeights()["hybrid"]

	tests := []struct {
		name    string
		nominal *Weights
		counts  ChannelCounts
		want    Weights
	}{
		{
			name:    "only vector has results",
			nominal: &hybrid,
			counts:  ChannelCounts{Vector: 3},
			want:    Weights{Vector: 1.0},
		},
		{
			name:    "all channels have results",
			nominal: &hybrid,
			counts:  ChannelCounts{Vector: 1, BM25: 1, GraphLocal: 1, GraphGlobal: 1},
			want:    hybrid,
		},
		{
			name:    "redistribute over vector and bm25",
			nominal: &hybrid,
			counts:  ChannelCounts{Vector: 2, BM25: 5},
			want:    Weights{Vector: 0.4 / 0.7, BM25: 0.3 / 0.7},
		},
		{
			name:    "no results",
			nominal: &hybrid,
			counts:  ChannelCounts{},
			want:    Weights{},
		},
		{
			name:    "no nominal weights splits evenly over support",
			nominal: nil,
			counts:  ChannelCounts{Vector: 1, GraphGlobal: 4},
			want:    Weights{Vector: 0.5, Global: 0.5},
		},
		{
			name:    "no nominal weights and no results",
			nominal: nil,
			counts:  ChannelCounts{},
			want:    Weights{},
		},
		{
			name:    "zero nominal mass on support falls back to even split",
			nominal: &Weights{Vector: 1},
			counts:  ChannelCounts{BM25: 1, GraphLocal: 2},
			want:    Weights{BM25: 0.5, Local: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveWeights(tt.nominal, tt.counts)
			assert.InDelta(t, tt.want.Vector, got.Vector, weightTolerance)
			assert.InDelta(t, tt.want.BM25, got.BM25, weightTolerance)
			assert.InDelta(t, tt.want.Local, got.Local, weightTolerance)
			assert.InDelta(t, tt.want.Global, got.Global, weightTolerance)
		})
	}
}

func drawCounts(t *rapid.T) ChannelCounts {
	return ChannelCounts{
		Vector:      rapid.IntRange(0, 20).Draw(t, "vector"),
		BM25:        rapid.IntRange(0, 20).Draw(t, "bm25"),
		GraphLocal:  rapid.IntRange(0, 20).Draw(t, "graph_local"),
		GraphGlobal: rapid.IntRange(0, 20).Draw(t, "graph_global"),
	}
}

func drawWeights(t *rapid.T) *Weights {
	if rapid.Bool().Draw(t, "nil_weights") {
		return nil
	}
	return &Weights{
		Vector: rapid.Float64Range(0, 1).Draw(t, "w_vector"),
		BM25:   rapid.Float64Range(0, 1).Draw(t, "w_bm25"),
		Local:  rapid.Float64Range(0, 1).Draw(t, "w_local"),
		Global: rapid.Float64Range(0, 1).Draw(t, "w_global"),
	}
}

func TestEffectiveWeights_SumAndZeroProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		counts := drawCounts(t)
		got := EffectiveWeights(drawWeights(t), counts)

		ws := got.slice()
		cs := counts.slice()
		sum := 0.0
		for i := range ws {
			if cs[i] == 0 && ws[i] != 0 {
				t.Fatalf("zero-result channel %d has weight %v", i, ws[i])
			}
			if ws[i] < 0 {
				t.Fatalf("negative weight %v", ws[i])
			}
			sum += ws[i]
		}
		if counts.Total() == 0 {
			if sum != 0 {
				t.Fatalf("expected all zero weights, got %+v", got)
			}
			return
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Fatalf("weights sum to %v, want 1", sum)
		}
	})
}

func TestEffectiveWeights_SingleChannelGopter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one channel with results gets weight 1", prop.ForAll(
		func(channel int, count int, v, b, l, g float64) bool {
			var counts ChannelCounts
			switch channel {
			case 0:
				counts.Vector = count
			case 1:
				counts.BM25 = count
			case 2:
				counts.GraphLocal = count
			default:
				counts.GraphGlobal = count
			}
			got := EffectiveWeights(&Weights{Vector: v, BM25: b, Local: l, Global: g}, counts).slice()
			for i, w := range got {
				want := 0.0
				if i == channel {
					want = 1.0
				}
				if math.Abs(w-want) > weightTolerance {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 3),
		gen.IntRange(1, 50),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.Property("all-zero counts give all-zero weights", prop.ForAll(
		func(v, b, l, g float64) bool {
			got := EffectiveWeights(&Weights{Vector: v, BM25: b, Local: l, Global: g}, ChannelCounts{})
			return got == Weights{}
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestChannelCounts(t *testing.T) {
	var c ChannelCounts
	c.Add(ChannelVector, 2)
	c.Add(ChannelBM25, 1)
	c.Add(ChannelGraphLocal, 3)
	c.Add(ChannelGraphGlobal, 4)
	c.Add(ChannelMemory, 10)
	c.Add(ChannelGraph, 10)

	assert.Equal(t, ChannelCounts{Vector: 2, BM25: 1, GraphLocal: 3, GraphGlobal: 4}, c)
	assert.Equal(t, 10, c.Total())
}

func TestDefaultIntentWeights(t *testing.T) {
	for intent, w := range DefaultIntentWeights() {
		sum := w.Vector + w.BM25 + w.Local + w.Global
		assert.InDelta(t, 1.0, sum, weightTolerance, intent)
	}
}
