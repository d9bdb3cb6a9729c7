package orchestrator

import (
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/rag"
)

// Request 一次查询请求
type Request struct {
	Query      string   `json:"query" validate:"required,max=8000"`
	SessionID  string   `json:"session_id,omitempty" validate:"omitempty,max=255"`
	Intent     string   `json:"intent,omitempty" validate:"omitempty,oneof=vector graph hybrid memory"`
	Namespaces []string `json:"namespaces,omitempty" validate:"omitempty,dive,min=1,max=255"`
}

// Result 批量查询结果
type Result struct {
	Query             string                 `json:"query"`
	SessionID         string                 `json:"session_id,omitempty"`
	Intent            string                 `json:"intent"`
	RetrievedContexts []rag.RetrievedContext `json:"retrieved_contexts"`
	Messages          []state.Message        `json:"messages"`
	Metadata          map[string]any         `json:"metadata"`
	Answer            string                 `json:"answer"`
	CitationMap       map[int]state.Citation `json:"citation_map"`
	PhaseEvents       []state.PhaseEvent     `json:"phase_events"`
}

// NewResult 由最终状态构造结果
func NewResult(st *state.QueryState) *Result {
	r := &Result{
		Query:             st.Query,
		SessionID:         st.SessionID,
		Intent:            string(st.Intent),
		RetrievedContexts: st.RetrievedContexts,
		Messages:          st.Messages,
		Metadata:          st.MetadataView(),
		Answer:            st.Answer,
		CitationMap:       st.CitationMap,
		PhaseEvents:       st.PhaseEvents,
	}
	if r.RetrievedContexts == nil {
		r.RetrievedContexts = []rag.RetrievedContext{}
	}
	if r.Messages == nil {
		r.Messages = []state.Message{}
	}
	if r.CitationMap == nil {
		r.CitationMap = map[int]state.Citation{}
	}
	if r.PhaseEvents == nil {
		r.PhaseEvents = []state.PhaseEvent{}
	}
	return r
}

// EnvelopeType 流式消息类型
type EnvelopeType string

const (
	EnvelopePhaseEvent        EnvelopeType = "phase_event"
	EnvelopeToken             EnvelopeType = "token"
	EnvelopeCitationMap       EnvelopeType = "citation_map"
	EnvelopeAnswerChunk       EnvelopeType = "answer_chunk"
	EnvelopeReasoningComplete EnvelopeType = "reasoning_complete"
	EnvelopeError             EnvelopeType = "error"
)

// Envelope 流式输出的统一外层结构
type Envelope struct {
	Type EnvelopeType `json:"type"`
	Data any          `json:"data"`
}

// 流式错误码
const (
	CodeTimeout       = "TIMEOUT"
	CodeAegisError    = "AEGIS_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
)

// ErrorData error 消息体
type ErrorData struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// TokenData token 消息体
type TokenData struct {
	Content string `json:"content"`
}

// CitationMapData citation_map 消息体
type CitationMapData struct {
	CitationMap map[int]state.Citation `json:"citation_map"`
}

// AnswerChunk answer_chunk 消息体
type AnswerChunk struct {
	Answer           string                 `json:"answer"`
	CitationMap      map[int]state.Citation `json:"citation_map"`
	Intent           string                 `json:"intent"`
	IntentConfidence float64                `json:"intent_confidence"`
	IntentWeights    rag.Weights            `json:"intent_weights"`
	Metadata         AnswerMetadata         `json:"metadata"`
}

// AnswerMetadata answer_chunk 中的检索摘要
type AnswerMetadata struct {
	TotalLatencyMs float64                             `json:"total_latency_ms"`
	SearchMode     string                              `json:"search_mode"`
	FourWayResults rag.ChannelCounts                   `json:"four_way_results"`
	ChannelSamples map[rag.Channel][]rag.ChannelSample `json:"channel_samples"`
}

// ReasoningComplete reasoning_complete 消息体
type ReasoningComplete struct {
	PhaseEvents    []state.PhaseEvent `json:"phase_events"`
	TotalLatencyMs float64            `json:"total_latency_ms"`
	SessionID      string             `json:"session_id,omitempty"`
}
