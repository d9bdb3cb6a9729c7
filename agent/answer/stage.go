package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/llm"
	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// Stage 编排图的 answer 节点
type Stage struct {
	generator Generator
	logger    *zap.Logger
}

// NewStage 创建答案生成阶段
func NewStage(generator Generator, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		generator: generator,
		logger:    logger.With(zap.String("component", "answer_agent")),
	}
}

// Process 消费生成流：citation_map 与 token 立即转发，complete 时写入答案。
// 生成无法开始时返回错误；流中只有 error 事件时返回已累积的答案。
func (s *Stage) Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
	ev := state.StartPhase(state.PhaseLLMGeneration)
	events.EmitPhase(ctx, ev)

	stream, err := s.generator.GenerateWithCitationsStream(ctx, st.Query, st.RetrievedContexts)
	if err != nil {
		failed := ev.Fail(err, map[string]any{"contexts_available": len(st.RetrievedContexts)})
		st.RecordPhase(failed)
		events.EmitPhase(ctx, failed)
		st.RecordError(state.ErrorRecord{
			Agent:     "answer_agent",
			ErrorType: errorType(err),
			Message:   err.Error(),
			Context:   map[string]any{"query": st.Query},
		})
		st.Trace(fmt.Sprintf("answer_agent: failed (%s)", err.Error()))
		return st, types.WrapError(err, types.ErrGenerationFailed, "answer generation failed")
	}

	var (
		answer    strings.Builder
		citations map[int]state.Citation
		final     *StreamEvent
		streamErr error
	)
	for e := range stream {
		switch e.Kind {
		case EventCitationMap:
			citations = e.Citations
			events.Emit(ctx, events.CitationMap(e.Citations))
		case EventToken:
			answer.WriteString(e.Token)
			events.Emit(ctx, events.Token(e.Token))
		case EventComplete:
			final = &e
		case EventError:
			streamErr = e.Err
		}
	}

	text := answer.String()
	if final != nil {
		if final.Answer != "" {
			text = final.Answer
		}
		if final.Citations != nil {
			citations = final.Citations
		}
	}
	st.Answer = text
	st.CitationMap = citations
	if text != "" {
		st.AppendMessage(string(llm.RoleAssistant), text)
	}

	if final == nil {
		if streamErr == nil {
			streamErr = errNoComplete
		}
		s.logger.Error("generation ended without completion, returning partial answer",
			zap.Int("answer_length", len(text)),
			zap.Error(streamErr),
		)
		failed := ev.Fail(streamErr, map[string]any{"answer_length": len(text), "partial": true})
		st.RecordPhase(failed)
		events.EmitPhase(ctx, failed)
		st.Trace(fmt.Sprintf("answer_agent: partial (%d chars)", len(text)))
		if err := ctx.Err(); err != nil {
			return st, err
		}
		return st, nil
	}

	done := ev.Complete(map[string]any{
		"answer_length":  len(text),
		"contexts_used":  final.ContextsUsed,
		"citation_count": len(citations),
	})
	st.RecordPhase(done)
	events.EmitPhase(ctx, done)
	st.Trace(fmt.Sprintf("answer_agent: completed (%d chars, %d citations)", len(text), len(citations)))
	return st, nil
}

func errorType(err error) string {
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "generation_error"
}
