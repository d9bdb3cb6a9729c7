package rag

import (
	"context"
	"errors"
	"fmt"
)

// Channel 检索通道标识
type Channel string

const (
	ChannelVector      Channel = "vector"
	ChannelBM25        Channel = "bm25"
	ChannelGraphLocal  Channel = "graph_local"
	ChannelGraphGlobal Channel = "graph_global"
	ChannelHybrid      Channel = "hybrid"

	// ChannelGraph tags graph results merged by the hybrid stage.
	ChannelGraph Channel = "graph"
	// ChannelMemory tags temporal memory results.
	ChannelMemory Channel = "memory"
)

// RetrievedContext 单条候选文档/片段
type RetrievedContext struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Source     string         `json:"source"`
	DocumentID string         `json:"document_id"`
	Rank       int            `json:"rank"`
	Channel    Channel        `json:"channel"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TagChannel 返回带通道标记的副本，并按位置重新分配 rank（从 1 开始）
func TagChannel(in []RetrievedContext, ch Channel) []RetrievedContext {
	out := make([]RetrievedContext, len(in))
	for i, c := range in {
		c.Channel = ch
		c.Rank = i + 1
		out[i] = c
	}
	return out
}

// SearchRequest 通道检索请求
type SearchRequest struct {
	Query      string
	TopK       int
	Namespaces []string

	// Mode 图检索模式：local / global / hybrid
	Mode string

	// Weights 四路融合的名义权重，nil 时均分
	Weights *Weights
}

// SearchResponse 通道检索结果
type SearchResponse struct {
	Contexts []RetrievedContext
	Counts   *ChannelCounts
	Weights  *Weights
	Metadata map[string]any
}

// Searcher 检索通道的统一接口
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearcherFunc 函数适配器
type SearcherFunc func(ctx context.Context, req SearchRequest) (*SearchResponse, error)

func (f SearcherFunc) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	return f(ctx, req)
}

// WithMode 固定图检索模式
func WithMode(s Searcher, mode string) Searcher {
	return SearcherFunc(func(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
		req.Mode = mode
		return s.Search(ctx, req)
	})
}

// TransientError 通道的瞬时错误，只有这类错误会被重试
type TransientError struct {
	Channel Channel
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s channel transient error: %v", e.Channel, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient 将 err 标记为通道瞬时错误
func Transient(ch Channel, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Channel: ch, Err: err}
}

// IsTransient 判断是否为任意通道的瞬时错误
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TransientFor 返回只匹配指定通道瞬时错误的判定函数
func TransientFor(ch Channel) func(error) bool {
	return func(err error) bool {
		var te *TransientError
		if !errors.As(err, &te) {
			return false
		}
		return te.Channel == ch || te.Channel == ""
	}
}
