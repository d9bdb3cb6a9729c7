package state

import (
	"encoding/json"
	"time"
)

// PhaseType 推理阶段类型
type PhaseType string

const (
	PhaseIntentClassification PhaseType = "intent_classification"
	PhaseVectorSearch         PhaseType = "vector_search"
	PhaseBM25Search           PhaseType = "bm25_search"
	PhaseFusion               PhaseType = "fusion"
	PhaseReranking            PhaseType = "reranking"
	PhaseGraphQuery           PhaseType = "graph_query"
	PhaseMemoryRetrieval      PhaseType = "memory_retrieval"
	PhaseToolExecution        PhaseType = "tool_execution"
	PhaseLLMGeneration        PhaseType = "llm_generation"
	PhaseFollowUpQuestions    PhaseType = "follow_up_questions"
	PhasePromptConstruction   PhaseType = "llm_prompt_construction"
	PhaseContextBudgeting     PhaseType = "llm_context_budgeting"
)

// PhaseStatus 阶段状态
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
	StatusSkipped    PhaseStatus = "skipped"
)

// Terminal 是否为终态
func (s PhaseStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// PhaseEvent 一个推理阶段的生命周期记录。
// 终态事件不可变：对终态事件再次调用状态转换会原样返回。
type PhaseEvent struct {
	PhaseType PhaseType      `json:"phase_type"`
	Status    PhaseStatus    `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time"`
	Metadata  map[string]any `json:"metadata"`
	Error     *string        `json:"error"`
}

var now = time.Now

// StartPhase 创建 in_progress 状态的阶段事件
func StartPhase(t PhaseType) PhaseEvent {
	return PhaseEvent{
		PhaseType: t,
		Status:    StatusInProgress,
		StartTime: now(),
		Metadata:  map[string]any{},
	}
}

// DurationMs 由 EndTime-StartTime 推导，未结束时返回 nil
func (e PhaseEvent) DurationMs() *float64 {
	if e.EndTime == nil {
		return nil
	}
	d := float64(e.EndTime.Sub(e.StartTime).Microseconds()) / 1000.0
	return &d
}

// Complete 标记完成并合并元数据
func (e PhaseEvent) Complete(meta map[string]any) PhaseEvent {
	if e.Status.Terminal() {
		return e
	}
	return e.finish(StatusCompleted, meta, nil)
}

// Fail 标记失败
func (e PhaseEvent) Fail(err error, meta map[string]any) PhaseEvent {
	if e.Status.Terminal() {
		return e
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return e.finish(StatusFailed, meta, &msg)
}

// Skip 标记跳过，reason 写入 metadata.reason
func (e PhaseEvent) Skip(reason string) PhaseEvent {
	if e.Status.Terminal() {
		return e
	}
	return e.finish(StatusSkipped, map[string]any{"reason": reason}, nil)
}

func (e PhaseEvent) finish(status PhaseStatus, meta map[string]any, errMsg *string) PhaseEvent {
	end := now()
	if end.Before(e.StartTime) {
		end = e.StartTime
	}
	merged := make(map[string]any, len(e.Metadata)+len(meta))
	for k, v := range e.Metadata {
		merged[k] = v
	}
	for k, v := range meta {
		merged[k] = v
	}
	e.Status = status
	e.EndTime = &end
	e.Metadata = merged
	e.Error = errMsg
	return e
}

type phaseEventJSON struct {
	PhaseType  PhaseType      `json:"phase_type"`
	Status     PhaseStatus    `json:"status"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time"`
	DurationMs *float64       `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata"`
	Error      *string        `json:"error"`
}

// MarshalJSON duration_ms 只由时间戳推导
func (e PhaseEvent) MarshalJSON() ([]byte, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(phaseEventJSON{
		PhaseType:  e.PhaseType,
		Status:     e.Status,
		StartTime:  e.StartTime,
		EndTime:    e.EndTime,
		DurationMs: e.DurationMs(),
		Metadata:   meta,
		Error:      e.Error,
	})
}
