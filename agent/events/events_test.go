package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	defer bus.Stop()

	got := make(chan Event, 4)
	id := bus.Subscribe(KindToken, func(ev Event) { got <- ev })
	bus.Subscribe(KindToken, func(Event) { panic("bad handler") })

	bus.Publish(Token("hello"))
	bus.Publish(Phase(state.StartPhase(state.PhaseFusion)))

	select {
	case ev := <-got:
		assert.Equal(t, "hello", ev.Token)
	case <-time.After(time.Second):
		t.Fatal("token event not delivered")
	}

	bus.Unsubscribe(id)
	bus.Publish(Token("ignored"))
	select {
	case ev := <-got:
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_StopIsIdempotent(t *testing.T) {
	bus := NewBus(0, nil)
	bus.Stop()
	bus.Stop()
	bus.Publish(Token("after stop"))
	assert.Zero(t, bus.Dropped())
}

func TestEmit_StreamAndBus(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Stop()

	var mu sync.Mutex
	var onBus []Event
	delivered := make(chan struct{}, 1)
	bus.Subscribe(KindPhase, func(ev Event) {
		mu.Lock()
		onBus = append(onBus, ev)
		mu.Unlock()
		delivered <- struct{}{}
	})

	g := workflow.NewGraph[int, Event]("emit", nil)
	g.AddNode("n", func(ctx context.Context, s int) (int, error) {
		EmitPhase(ctx, state.StartPhase(state.PhaseVectorSearch))
		return s + 1, nil
	})
	g.AddEdge("n", workflow.End).SetEntry("n")
	c, err := g.Compile()
	require.NoError(t, err)

	ctx := WithSession(WithBus(context.Background(), bus), "sess-1")
	var streamed []Event
	err = workflow.Drain(c.Stream(ctx, 0), func(ev Event) { streamed = append(streamed, ev) }, nil)
	require.NoError(t, err)

	require.Len(t, streamed, 1)
	assert.Equal(t, KindPhase, streamed[0].Kind)
	assert.Equal(t, "sess-1", streamed[0].SessionID)
	assert.Equal(t, state.PhaseVectorSearch, streamed[0].Phase.PhaseType)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("bus did not receive phase event")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, onBus, 1)
	assert.Equal(t, "sess-1", onBus[0].SessionID)
}

func TestEmit_NoConsumers(t *testing.T) {
	assert.NotPanics(t, func() { Emit(context.Background(), Token("x")) })
	assert.Nil(t, BusFrom(context.Background()))
}

type phaseRecord struct {
	phase, status string
	d             time.Duration
}

type fakeRecorder struct {
	ch chan phaseRecord
}

func (f *fakeRecorder) RecordPhase(phaseType, status string, d time.Duration) {
	f.ch <- phaseRecord{phaseType, status, d}
}

func TestAttachMetrics_TerminalOnly(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Stop()
	rec := &fakeRecorder{ch: make(chan phaseRecord, 4)}
	AttachMetrics(bus, rec)

	start := state.StartPhase(state.PhaseGraphQuery)
	bus.Publish(Phase(start))
	bus.Publish(Phase(start.Complete(nil)))

	select {
	case r := <-rec.ch:
		assert.Equal(t, "graph_query", r.phase)
		assert.Equal(t, "completed", r.status)
		assert.GreaterOrEqual(t, r.d, time.Duration(0))
	case <-time.After(time.Second):
		t.Fatal("no metrics recorded")
	}
	select {
	case r := <-rec.ch:
		t.Fatalf("in-progress event recorded: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "", nil)
	assert.Equal(t, "aegis.phase.fusion", sink.Subject("fusion"))

	ev := Phase(state.StartPhase(state.PhaseLLMGeneration).Complete(map[string]any{"answer_length": 12}))
	ev.SessionID = "s9"
	sink.handle(ev)
	sink.handle(Token("not a phase"))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "aegis.phase.llm_generation", pub.subjects[0])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, "s9", decoded["session_id"])
	phase := decoded["phase"].(map[string]any)
	assert.Equal(t, "completed", phase["status"])
	assert.NotNil(t, phase["duration_ms"])

	pub.err = errors.New("nats down")
	assert.NotPanics(t, func() { sink.handle(ev) })
}
