package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/intent"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/llm/retry"
	"github.com/klapom/aegisrag/rag"
)

type fakeClassifier struct {
	intent state.Intent
	calls  atomic.Int32
}

func (f *fakeClassifier) ClassifyDetailed(ctx context.Context, query string) intent.Result {
	f.calls.Add(1)
	return intent.Result{Intent: f.intent, Confidence: 0.9, Method: "llm", Latency: time.Millisecond}
}

// channelStage 模拟一个检索阶段：发出开始/完成事件并写入通道标记的结果
func channelStage(phase state.PhaseType, ch rag.Channel, metaKey string, n int) Stage {
	return StageFunc(func(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
		ev := state.StartPhase(phase)
		events.EmitPhase(ctx, ev)
		for i := 0; i < n; i++ {
			st.AddContexts(rag.RetrievedContext{
				ID:         fmt.Sprintf("%s-%d", ch, i),
				Text:       fmt.Sprintf("%s result %d", ch, i),
				Score:      0.9 - float64(i)*0.1,
				Source:     "doc.md",
				DocumentID: "doc",
				Rank:       i + 1,
				Channel:    ch,
			})
		}
		block := map[string]any{"result_count": n}
		if ch == rag.ChannelVector {
			block["search_mode"] = "vector"
		}
		st.SetMeta(metaKey, block)
		done := ev.Complete(map[string]any{"result_count": n})
		st.RecordPhase(done)
		events.EmitPhase(ctx, done)
		st.Trace(metaKey + ": completed")
		return st, nil
	})
}

// answerStage 逐 token 推送答案，最后推送引用映射
type answerStage struct {
	mu    sync.Mutex
	calls int
	// 前 failFirst 次调用返回 err
	failFirst int
	err       error
	block     bool
}

func (a *answerStage) Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()

	ev := state.StartPhase(state.PhaseLLMGeneration)
	events.EmitPhase(ctx, ev)

	if a.block {
		<-ctx.Done()
		return st, ctx.Err()
	}
	if call <= a.failFirst || (a.failFirst < 0 && a.err != nil) {
		failed := ev.Fail(a.err, nil)
		st.RecordPhase(failed)
		events.EmitPhase(ctx, failed)
		return st, a.err
	}

	for _, tok := range []string{"Hello", " world", " [1]"} {
		events.Emit(ctx, events.Token(tok))
	}
	cites := map[int]state.Citation{1: {Source: "doc.md", DocumentID: "doc", Score: 0.9}}
	events.Emit(ctx, events.CitationMap(cites))

	st.Answer = "Hello world [1]"
	st.CitationMap = cites
	st.AppendMessage("assistant", st.Answer)
	done := ev.Complete(map[string]any{"tokens": 3})
	st.RecordPhase(done)
	events.EmitPhase(ctx, done)
	st.Trace("answer: completed")
	return st, nil
}

func (a *answerStage) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testStages(classifier IntentClassifier, answer Stage) Stages {
	return Stages{
		Classifier: classifier,
		Hybrid:     channelStage(state.PhaseFusion, rag.ChannelBM25, "hybrid_search", 2),
		Vector:     channelStage(state.PhaseVectorSearch, rag.ChannelVector, "vector_search", 2),
		Graph:      channelStage(state.PhaseGraphQuery, rag.ChannelGraphLocal, "graph_query", 1),
		Memory:     channelStage(state.PhaseMemoryRetrieval, rag.ChannelVector, "memory", 1),
		Answer:     answer,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	cfg.Policy = &retry.RetryPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   1.5,
		RetryIf:      retryableRunError,
	}
	return cfg
}

// fakeFollowUps 记录后台任务执行时 context 的状态
type fakeFollowUps struct {
	gate chan struct{}
	ran  chan error
	mu   sync.Mutex
	qs   map[string][]string
}

func newFakeFollowUps() *fakeFollowUps {
	return &fakeFollowUps{gate: make(chan struct{}), ran: make(chan error, 4), qs: map[string][]string{}}
}

func (f *fakeFollowUps) Run(ctx context.Context, st *state.QueryState) {
	<-f.gate
	f.mu.Lock()
	f.qs[st.SessionID] = []string{"What else about " + st.Query + "?"}
	f.mu.Unlock()
	// 工作流发射器不得出现在后台 context 中
	events.EmitPhase(ctx, state.StartPhase(state.PhaseFollowUpQuestions))
	f.ran <- ctx.Err()
}

func (f *fakeFollowUps) Questions(ctx context.Context, sessionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qs[sessionID], nil
}

type queryRecord struct {
	mode, intent, status string
}

type fakeMetrics struct {
	mu           sync.Mutex
	queries      []queryRecord
	channels     map[string]int
	compilations []string
	background   []string
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{channels: map[string]int{}}
}

func (m *fakeMetrics) RecordQuery(mode, intent, status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, queryRecord{mode, intent, status})
}

func (m *fakeMetrics) RecordChannelResults(channel string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel] += count
}

func (m *fakeMetrics) RecordGraphCompilation(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compilations = append(m.compilations, status)
}

func (m *fakeMetrics) RecordBackgroundTask(task, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.background = append(m.background, task+":"+status)
}

func (m *fakeMetrics) snapshot() ([]queryRecord, []string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queryRecord(nil), m.queries...),
		append([]string(nil), m.compilations...),
		append([]string(nil), m.background...)
}
