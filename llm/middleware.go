package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// Handler processes a request and returns a response.
type Handler func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// Middleware wraps a handler with additional functionality.
type Middleware func(next Handler) Handler

// Chain 按声明顺序包装，第一个中间件在最外层
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// LoggingMiddleware 记录请求耗时与 token 用量
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("llm completion failed",
					zap.String("model", req.Model),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err))
				return resp, err
			}
			logger.Debug("llm completion",
				zap.String("model", req.Model),
				zap.Int("messages", len(req.Messages)),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
				zap.Duration("duration", time.Since(start)))
			return resp, nil
		}
	}
}

// RecoveryMiddleware 把 panic 转为 INTERNAL_ERROR
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (resp *ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("llm handler panic", zap.Any("panic", r))
					err = types.NewError(types.ErrInternalError, fmt.Sprintf("llm handler panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}

// MetricsRecorder LLM 请求指标，*metrics.Collector 实现该接口
type MetricsRecorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// MetricsMiddleware 记录请求状态、耗时与 token 数
func MetricsMiddleware(recorder MetricsRecorder, provider string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			var usage ChatUsage
			if resp != nil {
				usage = resp.Usage
			}
			recorder.RecordLLMRequest(provider, req.Model, requestStatus(err), time.Since(start),
				usage.PromptTokens, usage.CompletionTokens)
			return resp, err
		}
	}
}

func requestStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// =============================================================================
// 🧩 Provider 包装
// =============================================================================

// WrappedProvider 同步请求经过中间件链；流式请求只在结束时记录指标
type WrappedProvider struct {
	inner    Provider
	handler  Handler
	recorder MetricsRecorder
}

// Wrap 用中间件包装 Provider
func Wrap(p Provider, recorder MetricsRecorder, middlewares ...Middleware) *WrappedProvider {
	if recorder != nil {
		middlewares = append(middlewares, MetricsMiddleware(recorder, p.Name()))
	}
	return &WrappedProvider{
		inner:    p,
		handler:  Chain(p.Completion, middlewares...),
		recorder: recorder,
	}
}

// Name 返回被包装 Provider 的名称
func (w *WrappedProvider) Name() string { return w.inner.Name() }

// Completion 经过中间件链
func (w *WrappedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return w.handler(ctx, req)
}

// Stream 透传增量，流结束时按最后的 usage 记录一次请求
func (w *WrappedProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	start := time.Now()
	ch, err := w.inner.Stream(ctx, req)
	if err != nil {
		if w.recorder != nil {
			w.recorder.RecordLLMRequest(w.inner.Name(), req.Model, "error", time.Since(start), 0, 0)
		}
		return nil, err
	}
	if w.recorder == nil {
		return ch, nil
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		status := "success"
		var usage ChatUsage
		defer func() {
			w.recorder.RecordLLMRequest(w.inner.Name(), req.Model, status, time.Since(start),
				usage.PromptTokens, usage.CompletionTokens)
		}()
		for chunk := range ch {
			if chunk.Err != nil {
				status = "error"
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				status = "canceled"
				// 排空上游，避免其 goroutine 阻塞
				for range ch {
				}
				return
			}
		}
	}()
	return out, nil
}

// Embed 被包装 Provider 实现 Embedder 时透传
func (w *WrappedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e, ok := w.inner.(Embedder)
	if !ok {
		return nil, types.NewError(types.ErrInternalError, "provider "+w.inner.Name()+" does not support embeddings")
	}
	return e.Embed(ctx, texts)
}
