package intent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/llm"
	"github.com/klapom/aegisrag/llm/retry"
	"github.com/klapom/aegisrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type stubProvider struct {
	reply string
	err   error
	calls atomic.Int32
	last  *llm.ChatRequest
}

func (p *stubProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.calls.Add(1)
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: p.reply}}}}, nil
}

func (p *stubProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (p *stubProvider) Name() string { return "stub" }

func fastPolicy() *retry.RetryPolicy {
	return &retry.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		reply      string
		want       state.Intent
		wantMethod string
	}{
		{"GRAPH", state.IntentGraph, MethodSubstring},
		{"intent: memory", state.IntentMemory, MethodSubstring},
		{"The best fit is vector search.", state.IntentVector, MethodSubstring},
		// 多个意图名同时出现时退回到带标签的形式
		{"Not GRAPH. Intent: HYBRID", state.IntentHybrid, MethodRegex},
		{"vector or graph? CLASSIFICATION = graph", state.IntentGraph, MethodRegex},
		{"vector or graph, hard to say", state.IntentHybrid, MethodDefault},
		{"", state.IntentHybrid, MethodDefault},
		{"I don't know", state.IntentHybrid, MethodDefault},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, method := ParseIntent(tt.reply, state.IntentHybrid)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantMethod, method)
		})
	}
}

func TestParseIntent_AlwaysKnownProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reply := rapid.String().Draw(t, "reply")
		got, _ := ParseIntent(reply, state.IntentHybrid)
		if _, ok := state.IntentFromString(string(got)); !ok || got == state.IntentUnknown {
			t.Fatalf("ParseIntent(%q) returned %q", reply, got)
		}
	})
}

func TestClassifier_Classify(t *testing.T) {
	p := &stubProvider{reply: "Intent: GRAPH"}
	c := New(p, DefaultConfig(), fastPolicy(), nil)

	res := c.ClassifyDetailed(context.Background(), "How is Alice related to Bob?")
	assert.Equal(t, state.IntentGraph, res.Intent)
	assert.Equal(t, MethodSubstring, res.Method)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, "Intent: GRAPH", res.Raw)

	require.NotNil(t, p.last)
	assert.Zero(t, p.last.Temperature)
	assert.Equal(t, 20, p.last.MaxTokens)
	assert.True(t, strings.HasSuffix(p.last.Messages[0].Content, "Query: How is Alice related to Bob?\nIntent:"))
}

func TestClassifier_BackendErrorFallsBackToDefault(t *testing.T) {
	p := &stubProvider{err: types.NewError(types.ErrUpstreamError, "503 service unavailable").WithRetryable(true)}
	cfg := DefaultConfig()
	cfg.DefaultIntent = state.IntentVector
	c := New(p, cfg, fastPolicy(), nil)

	res := c.ClassifyDetailed(context.Background(), "anything")
	assert.Equal(t, state.IntentVector, res.Intent)
	assert.Equal(t, MethodFallback, res.Method)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestClassifier_NonRetryableErrorNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", types.NewError(types.ErrUnauthorized, "401 invalid api key")},
		{"bad request", types.NewError(types.ErrUpstreamError, "400 bad request")},
		{"plain error", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{err: tt.err}
			c := New(p, DefaultConfig(), fastPolicy(), nil)

			res := c.ClassifyDetailed(context.Background(), "anything")
			assert.Equal(t, state.DefaultIntent, res.Intent)
			assert.Equal(t, MethodFallback, res.Method)
			assert.Equal(t, int32(1), p.calls.Load())
		})
	}
}

func TestClassifier_EmptyQuerySkipsBackend(t *testing.T) {
	p := &stubProvider{reply: "GRAPH"}
	c := New(p, Config{}, fastPolicy(), nil)

	assert.Equal(t, state.IntentHybrid, c.Classify(context.Background(), "   "))
	assert.Zero(t, p.calls.Load())
}
