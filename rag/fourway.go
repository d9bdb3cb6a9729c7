package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FourWayChannels 四路检索的各通道，nil 通道视为无结果
type FourWayChannels struct {
	Vector      Searcher
	BM25        Searcher
	GraphLocal  Searcher
	GraphGlobal Searcher
}

// FourWayConfig 四路检索配置
type FourWayConfig struct {
	RRFK           int `yaml:"rrf_k" json:"rrf_k"`
	PerChannelTopK int `yaml:"per_channel_top_k" json:"per_channel_top_k"`
}

// DefaultFourWayConfig 返回默认配置
func DefaultFourWayConfig() FourWayConfig {
	return FourWayConfig{RRFK: DefaultRRFK, PerChannelTopK: 20}
}

// FourWaySearcher 并发查询四个通道并用加权 RRF 融合。
// 单个通道失败不影响其他通道；全部失败时返回错误。
type FourWaySearcher struct {
	channels FourWayChannels
	config   FourWayConfig
	logger   *zap.Logger
}

// NewFourWaySearcher 创建四路检索器
func NewFourWaySearcher(channels FourWayChannels, config FourWayConfig, logger *zap.Logger) *FourWaySearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RRFK <= 0 {
		config.RRFK = DefaultRRFK
	}
	if config.PerChannelTopK <= 0 {
		config.PerChannelTopK = 20
	}
	return &FourWaySearcher{
		channels: channels,
		config:   config,
		logger:   logger.With(zap.String("component", "four_way_search")),
	}
}

type channelOutcome struct {
	channel  Channel
	contexts []RetrievedContext
	err      error
	latency  time.Duration
	ran      bool
}

// Search 实现 Searcher
func (f *FourWaySearcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	targets := []struct {
		ch Channel
		s  Searcher
	}{
		{ChannelVector, f.channels.Vector},
		{ChannelBM25, f.channels.BM25},
		{ChannelGraphLocal, f.channels.GraphLocal},
		{ChannelGraphGlobal, f.channels.GraphGlobal},
	}

	outcomes := make([]channelOutcome, len(targets))
	var mu sync.Mutex
	// 通道失败只记录在 outcome 中，不取消其余通道
	var g errgroup.Group
	for i, t := range targets {
		outcomes[i].channel = t.ch
		if t.s == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			sub := req
			sub.TopK = f.config.PerChannelTopK
			resp, err := t.s.Search(ctx, sub)

			mu.Lock()
			defer mu.Unlock()
			outcomes[i].latency = time.Since(start)
			outcomes[i].ran = true
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			if resp != nil {
				outcomes[i].contexts = TagChannel(resp.Contexts, t.ch)
			}
			return nil
		})
	}
	_ = g.Wait()

	var counts ChannelCounts
	var errs []error
	channelErrors := map[string]string{}
	latencies := map[string]float64{}
	attempted := 0
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.channel, o.err))
			channelErrors[string(o.channel)] = o.err.Error()
			f.logger.Warn("channel search failed", zap.String("channel", string(o.channel)), zap.Error(o.err))
		}
		if o.ran {
			attempted++
			latencies[string(o.channel)] = float64(o.latency.Microseconds()) / 1000.0
		}
		counts.Add(o.channel, len(o.contexts))
	}

	if attempted > 0 && len(errs) == attempted {
		joined := errors.Join(errs...)
		for _, e := range errs {
			if IsTransient(e) {
				return nil, Transient("", joined)
			}
		}
		return nil, joined
	}

	effective := EffectiveWeights(req.Weights, counts)
	lists := make([]RankedList, 0, len(outcomes))
	for _, o := range outcomes {
		lists = append(lists, RankedList{
			Channel:  o.channel,
			Weight:   effective.For(o.channel),
			Contexts: o.contexts,
		})
	}

	fused := FuseRRF(lists, f.config.RRFK)
	if req.TopK > 0 && len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}

	f.logger.Debug("four-way search finished",
		zap.Int("vector", counts.Vector),
		zap.Int("bm25", counts.BM25),
		zap.Int("graph_local", counts.GraphLocal),
		zap.Int("graph_global", counts.GraphGlobal),
		zap.Int("fused", len(fused)),
	)

	meta := map[string]any{
		"channel_latency_ms": latencies,
		"rrf_k":              f.config.RRFK,
	}
	if len(channelErrors) > 0 {
		meta["channel_errors"] = channelErrors
	}
	return &SearchResponse{
		Contexts: fused,
		Counts:   &counts,
		Weights:  &effective,
		Metadata: meta,
	}, nil
}
