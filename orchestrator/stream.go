package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/types"
	"github.com/klapom/aegisrag/workflow"
	"go.uber.org/zap"
)

// 流式输出缓冲
const streamBuffer = 64

type phaseKey struct {
	phase  state.PhaseType
	status state.PhaseStatus
}

// streamRun 一次流式执行的累积状态
type streamRun struct {
	c      *Coordinator
	out    chan Envelope
	ctx    context.Context
	caller context.Context // 调用方 context，不带请求超时
	start  time.Time

	seen     map[phaseKey]bool
	phases   []state.PhaseEvent
	last     *state.QueryState
	answered bool
}

// ProcessQueryStream 流式执行一次查询。返回的 channel 以 reasoning_complete
// 或 error 结束后关闭；ctx 取消时停止执行。请求校验失败时同步返回错误。
func (c *Coordinator) ProcessQueryStream(ctx context.Context, req Request) (<-chan Envelope, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	out := make(chan Envelope, streamBuffer)
	go c.stream(ctx, req, out)
	return out, nil
}

func (c *Coordinator) stream(ctx context.Context, req Request, out chan Envelope) {
	defer close(out)

	start := time.Now()
	base := c.baseContext(ctx, req)
	st := c.newState(base, req)
	st.Trace("coordinator: started")

	runCtx, cancel := context.WithTimeout(base, c.cfg.RequestTimeout)
	defer cancel()

	s := &streamRun{
		c:     c,
		out:   out,
		ctx:    runCtx,
		caller: ctx,
		start:  start,
		seen:   map[phaseKey]bool{},
		last:   st,
	}

	cg, err := c.compiled(runCtx)
	if err != nil {
		s.fail(err)
		return
	}

	run := cg.graph.Stream(runCtx, st.Clone())
	if err := workflow.Drain(run, s.onEvent, s.onSnapshot); err != nil {
		s.fail(err)
		return
	}

	final := s.last
	if !s.answered {
		s.sendAnswer(final)
	}
	final.SetMeta("coordinator", map[string]any{
		"total_latency_ms": millis(time.Since(start)),
		"attempts":         1,
	})
	final.Trace("coordinator: completed")

	s.send(Envelope{Type: EnvelopeReasoningComplete, Data: ReasoningComplete{
		PhaseEvents:    s.phaseList(),
		TotalLatencyMs: millis(time.Since(start)),
		SessionID:      req.SessionID,
	}})

	c.saveCheckpoint(base, final)
	c.recordQuery("stream", final, "success", time.Since(start))
	// 追问生成使用 base，不能用 runCtx：runCtx 在返回后即被取消
	c.submitFollowUps(base, final)
}

// send 投递消息；消费者离开或超时后返回 false
func (s *streamRun) send(env Envelope) bool {
	select {
	case s.out <- env:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// trySend 不阻塞地投递，用于取消之后
func (s *streamRun) trySend(env Envelope) {
	select {
	case s.out <- env:
	default:
	}
}

// sendTerminal 投递结束消息。调用方已离开时不阻塞；仅超时时等待消费者读取
func (s *streamRun) sendTerminal(env Envelope) {
	if s.caller.Err() != nil {
		s.trySend(env)
		return
	}
	select {
	case s.out <- env:
	case <-s.caller.Done():
	}
}

func (s *streamRun) onEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindPhase:
		if ev.Phase != nil {
			s.forwardPhase(*ev.Phase)
		}
	case events.KindToken:
		s.send(Envelope{Type: EnvelopeToken, Data: TokenData{Content: ev.Token}})
	case events.KindCitationMap:
		s.send(Envelope{Type: EnvelopeCitationMap, Data: CitationMapData{CitationMap: ev.Citations}})
	}
}

// onSnapshot 记录快照；补发未通过侧信道推送的终态阶段，首次出现答案时推送 answer_chunk
func (s *streamRun) onSnapshot(snap *state.QueryState) {
	s.last = snap
	for _, pe := range snap.PhaseEvents {
		s.forwardPhase(pe)
	}
	if !s.answered && snap.Answer != "" {
		s.sendAnswer(snap)
	}
}

// forwardPhase 按 (phase_type, status) 去重后转发，保留首次出现的顺序
func (s *streamRun) forwardPhase(pe state.PhaseEvent) {
	key := phaseKey{pe.PhaseType, pe.Status}
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	if pe.Status.Terminal() {
		s.phases = append(s.phases, pe)
	}
	s.send(Envelope{Type: EnvelopePhaseEvent, Data: pe})
}

func (s *streamRun) phaseList() []state.PhaseEvent {
	if s.phases == nil {
		return []state.PhaseEvent{}
	}
	return append([]state.PhaseEvent(nil), s.phases...)
}

func (s *streamRun) sendAnswer(st *state.QueryState) {
	s.answered = true
	s.send(Envelope{Type: EnvelopeAnswerChunk, Data: s.c.answerChunk(st, time.Since(s.start))})
}

// fail 结束流：超时与取消保存部分检查点，其余错误按类型映射错误码
func (s *streamRun) fail(err error) {
	c := s.c
	partial := s.last.Clone()
	for _, pe := range s.phases {
		if _, ok := partial.LatestPhase(pe.PhaseType); !ok {
			partial.RecordPhase(pe)
		}
	}

	data := streamError(s.ctx, err)
	partial.RecordError(state.ErrorRecord{
		Agent:     "coordinator",
		ErrorType: data.Code,
		Message:   err.Error(),
		Context:   map[string]any{"query": partial.Query, "stream": true},
	})
	partial.Trace("coordinator: failed")

	if s.ctx.Err() != nil {
		partial.SetMeta("partial", true)
		c.saveCheckpoint(s.ctx, partial)
		c.recordQuery("stream", partial, statusFor(s.ctx), time.Since(s.start))
		c.logger.Warn("stream interrupted",
			zap.String("session_id", partial.SessionID),
			zap.Int("phase_events", len(s.phases)),
			zap.Error(err),
		)
		s.sendTerminal(Envelope{Type: EnvelopeError, Data: data})
		return
	}

	c.recordQuery("stream", partial, "failed", time.Since(s.start))
	c.logger.Error("stream failed", zap.String("session_id", partial.SessionID), zap.Error(err))
	s.send(Envelope{Type: EnvelopeError, Data: data})
}

func statusFor(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return "canceled"
}

// streamError 错误码映射：超时可重试；领域错误按其 Retryable 标记；其余为内部错误
func streamError(ctx context.Context, err error) ErrorData {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrorData{Code: CodeTimeout, Message: "request timed out", Recoverable: true}
	}
	if e, ok := types.AsError(err); ok {
		return ErrorData{Code: CodeAegisError, Message: e.Message, Recoverable: e.Retryable}
	}
	return ErrorData{Code: CodeInternalError, Message: err.Error(), Recoverable: false}
}

// answerChunk 组装最终答案消息：有效权重、四路计数与通道样本
func (c *Coordinator) answerChunk(st *state.QueryState, elapsed time.Duration) AnswerChunk {
	counts, ok := st.Metadata["four_way_results"].(rag.ChannelCounts)
	if !ok {
		counts = rag.CountByChannel(st.RetrievedContexts)
	}
	weights, ok := st.Metadata["intent_weights"].(rag.Weights)
	if !ok {
		var nominal *rag.Weights
		if w, found := c.cfg.IntentWeights[st.Intent]; found {
			nominal = &w
		}
		weights = rag.EffectiveWeights(nominal, counts)
	}

	citations := st.CitationMap
	if citations == nil {
		citations = map[int]state.Citation{}
	}
	return AnswerChunk{
		Answer:           st.Answer,
		CitationMap:      citations,
		Intent:           string(st.Intent),
		IntentConfidence: st.IntentConfidence,
		IntentWeights:    weights,
		Metadata: AnswerMetadata{
			TotalLatencyMs: millis(elapsed),
			SearchMode:     searchMode(st),
			FourWayResults: counts,
			ChannelSamples: rag.ExtractChannelSamples(st.RetrievedContexts, st.Query, c.cfg.SamplesPerChannel),
		},
	}
}

// searchMode 优先取向量检索记录的模式，否则由路由推断
func searchMode(st *state.QueryState) string {
	if block, ok := st.Metadata["vector_search"].(map[string]any); ok {
		if mode, ok := block["search_mode"].(string); ok && mode != "" {
			return mode
		}
	}
	route, _ := st.Metadata["route"].(string)
	switch route {
	case NodeHybridSearch:
		return "hybrid"
	case NodeGraphQuery:
		return "graph"
	case NodeMemory:
		return "memory"
	default:
		return "vector"
	}
}
