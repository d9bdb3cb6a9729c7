package events

import (
	"context"
	"time"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/workflow"
)

// Kind 事件种类
type Kind string

const (
	KindPhase       Kind = "phase"
	KindToken       Kind = "token"
	KindCitationMap Kind = "citation_map"
)

// Event 编排过程中推送的侧信道事件，按 Kind 只填充对应字段
type Event struct {
	Kind      Kind                   `json:"kind"`
	Phase     *state.PhaseEvent      `json:"phase,omitempty"`
	Token     string                 `json:"token,omitempty"`
	Citations map[int]state.Citation `json:"citations,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Phase 构造阶段事件
func Phase(ev state.PhaseEvent) Event {
	return Event{Kind: KindPhase, Phase: &ev, Timestamp: time.Now()}
}

// Token 构造 token 事件
func Token(tok string) Event {
	return Event{Kind: KindToken, Token: tok, Timestamp: time.Now()}
}

// CitationMap 构造引用映射事件
func CitationMap(m map[int]state.Citation) Event {
	return Event{Kind: KindCitationMap, Citations: m, Timestamp: time.Now()}
}

type busKey struct{}
type sessionKey struct{}

// WithBus 将事件总线放入 context
func WithBus(ctx context.Context, bus Bus) context.Context {
	return context.WithValue(ctx, busKey{}, bus)
}

// BusFrom 取出 context 中的事件总线
func BusFrom(ctx context.Context) Bus {
	if bus, ok := ctx.Value(busKey{}).(Bus); ok {
		return bus
	}
	return nil
}

// WithSession 为之后发出的事件标记会话
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// Emit 将事件同时发往流式消费者（若在 Stream 中）与 context 中的总线（若有）
func Emit(ctx context.Context, ev Event) {
	if ev.SessionID == "" {
		if sid, ok := ctx.Value(sessionKey{}).(string); ok {
			ev.SessionID = sid
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	workflow.Emit(ctx, ev)
	if bus := BusFrom(ctx); bus != nil {
		bus.Publish(ev)
	}
}

// EmitPhase 便捷方法
func EmitPhase(ctx context.Context, ev state.PhaseEvent) {
	Emit(ctx, Phase(ev))
}
