package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/llm/retry"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// DefaultTopK 单通道默认返回条数
const DefaultTopK = 10

// Options 检索阶段的公共配置
type Options struct {
	TopK int `yaml:"top_k" json:"top_k"`

	// Policy 为 nil 时使用 retry.ChannelPolicy，只重试本通道的瞬时错误
	Policy *retry.RetryPolicy `yaml:"-" json:"-"`
}

// Outcome 一次通道检索的结果
type Outcome struct {
	Contexts []rag.RetrievedContext
	Latency  time.Duration
	Metadata map[string]any

	// Counts / Weights 仅当底层检索器做了多路融合时非空
	Counts  *rag.ChannelCounts
	Weights *rag.Weights
}

// Retriever 可被混合检索阶段并发调用的单通道检索
type Retriever interface {
	Name() string
	Phase() state.PhaseType
	Retrieve(ctx context.Context, st *state.QueryState) (Outcome, error)
}

// channelAgent 三个单通道阶段共享的检索/重试/记录逻辑
type channelAgent struct {
	name     string
	channel  rag.Channel
	phase    state.PhaseType
	metaKey  string
	searcher rag.Searcher
	retryer  retry.Retryer
	topK     int
	logger   *zap.Logger
}

func newChannelAgent(name string, ch rag.Channel, phase state.PhaseType, searcher rag.Searcher, opts Options, logger *zap.Logger) channelAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.Policy
	if policy == nil {
		policy = retry.ChannelPolicy(rag.TransientFor(ch))
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	logger = logger.With(zap.String("component", name))
	return channelAgent{
		name:     name,
		channel:  ch,
		phase:    phase,
		metaKey:  string(phase),
		searcher: searcher,
		retryer:  retry.NewBackoffRetryer(policy, logger),
		topK:     opts.TopK,
		logger:   logger,
	}
}

func (a *channelAgent) Name() string           { return a.name }
func (a *channelAgent) Phase() state.PhaseType { return a.phase }

// search 带重试地调用检索器，并把结果规范化为本通道的记录
func (a *channelAgent) search(ctx context.Context, req rag.SearchRequest) (Outcome, *rag.SearchResponse, error) {
	start := time.Now()
	resp, err := retry.DoWithResult(a.retryer, ctx, func() (*rag.SearchResponse, error) {
		return a.searcher.Search(ctx, req)
	})
	latency := time.Since(start)
	if err != nil {
		return Outcome{Latency: latency}, nil, err
	}
	if resp == nil {
		resp = &rag.SearchResponse{}
	}

	contexts := normalize(resp.Contexts, a.channel)
	return Outcome{
		Contexts: contexts,
		Latency:  latency,
		Metadata: map[string]any{
			"latency_ms":   millis(latency),
			"result_count": len(contexts),
		},
		Counts:  resp.Counts,
		Weights: resp.Weights,
	}, resp, nil
}

// process 单通道阶段的公共流程：空查询跳过，失败降级为空结果
func (a *channelAgent) process(ctx context.Context, st *state.QueryState, retrieve func(context.Context, *state.QueryState) (Outcome, error)) (*state.QueryState, error) {
	if strings.TrimSpace(st.Query) == "" {
		ev := state.StartPhase(a.phase).Skip("empty query")
		events.EmitPhase(ctx, ev)
		st.RecordPhase(ev)
		st.Trace(a.name + ": skipped (empty query)")
		return st, nil
	}

	ev := state.StartPhase(a.phase)
	events.EmitPhase(ctx, ev)

	out, err := retrieve(ctx, st)
	if err != nil {
		events.EmitPhase(ctx, a.fail(st, ev, out, err))
		return st, nil
	}

	st.AddContexts(out.Contexts...)
	st.SetMeta(a.metaKey, out.Metadata)
	recordFusion(st, out)

	done := ev.Complete(map[string]any{"result_count": len(out.Contexts)})
	st.RecordPhase(done)
	events.EmitPhase(ctx, done)
	st.Trace(fmt.Sprintf("%s: completed (%d results)", a.name, len(out.Contexts)))
	return st, nil
}

func (a *channelAgent) fail(st *state.QueryState, ev state.PhaseEvent, out Outcome, err error) state.PhaseEvent {
	a.logger.Error("retrieval failed", zap.String("query", st.Query), zap.Error(err))

	st.RecordError(errorRecord(a.name, st, err))
	st.SetMeta(a.metaKey, map[string]any{
		"failed":       true,
		"error":        err.Error(),
		"latency_ms":   millis(out.Latency),
		"result_count": 0,
	})
	failed := ev.Fail(err, map[string]any{"result_count": 0})
	st.RecordPhase(failed)
	st.Trace(fmt.Sprintf("%s: failed (%s)", a.name, err.Error()))
	return failed
}

func errorRecord(agent string, st *state.QueryState, err error) state.ErrorRecord {
	attempts := 1
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		attempts = ex.Attempts
	}
	return state.ErrorRecord{
		Agent:     agent,
		ErrorType: errorType(err),
		Message:   err.Error(),
		Context: map[string]any{
			"query":    st.Query,
			"intent":   string(st.Intent),
			"attempts": attempts,
		},
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case rag.IsTransient(err):
		return "transient"
	}
	if e, ok := types.AsError(err); ok {
		return string(e.Code)
	}
	return "error"
}

// recordFusion 多路融合的计数和有效权重提升到顶层元数据
func recordFusion(st *state.QueryState, out Outcome) {
	if out.Counts != nil {
		st.SetMeta("four_way_results", *out.Counts)
	}
	if out.Weights != nil {
		st.SetMeta("intent_weights", *out.Weights)
	}
}

// normalize 补齐通道标记，按位置分配 rank，并把分数归一化到 [0,1]
func normalize(in []rag.RetrievedContext, ch rag.Channel) []rag.RetrievedContext {
	out := make([]rag.RetrievedContext, len(in))
	for i, c := range in {
		if c.Channel == "" {
			c.Channel = ch
		}
		c.Rank = i + 1
		c.Score = rag.NormalizeScore(c.Score)
		out[i] = c
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
