package state

import (
	"maps"
	"time"

	"github.com/klapom/aegisrag/rag"
)

// Message 会话消息
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Citation 引用编号对应的来源
type Citation struct {
	Source     string  `json:"source"`
	DocumentID string  `json:"document_id,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	Channel    string  `json:"channel,omitempty"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet,omitempty"`
}

// ErrorRecord 阶段失败的结构化记录
type ErrorRecord struct {
	Agent     string         `json:"agent"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// QueryState 在各阶段间传递的查询状态。只增不删：阶段不会移除前序阶段写入的条目。
type QueryState struct {
	Query             string                 `json:"query"`
	Intent            Intent                 `json:"intent"`
	IntentConfidence  float64                `json:"intent_confidence"`
	IntentForced      bool                   `json:"intent_forced,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	Namespaces        []string               `json:"namespaces,omitempty"`
	RetrievedContexts []rag.RetrievedContext `json:"retrieved_contexts"`
	Messages          []Message              `json:"messages"`
	PhaseEvents       []PhaseEvent           `json:"phase_events"`
	AgentPath         []string               `json:"agent_path"`
	Errors            []ErrorRecord          `json:"errors"`
	Metadata          map[string]any         `json:"metadata"`
	Answer            string                 `json:"answer"`
	CitationMap       map[int]Citation       `json:"citation_map"`
}

// New 创建初始状态，意图默认为 hybrid
func New(query string) *QueryState {
	return &QueryState{
		Query:    query,
		Intent:   DefaultIntent,
		Metadata: map[string]any{},
	}
}

// Clone 一层浅拷贝：切片与 map 复制一份，兄弟任务互不影响
func (s *QueryState) Clone() *QueryState {
	c := *s
	c.Namespaces = append([]string(nil), s.Namespaces...)
	c.RetrievedContexts = append([]rag.RetrievedContext(nil), s.RetrievedContexts...)
	c.Messages = append([]Message(nil), s.Messages...)
	c.PhaseEvents = append([]PhaseEvent(nil), s.PhaseEvents...)
	c.AgentPath = append([]string(nil), s.AgentPath...)
	c.Errors = append([]ErrorRecord(nil), s.Errors...)
	c.Metadata = maps.Clone(s.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.CitationMap = maps.Clone(s.CitationMap)
	return &c
}

// Trace 追加 agent_path 条目
func (s *QueryState) Trace(entry string) {
	s.AgentPath = append(s.AgentPath, entry)
}

// RecordPhase 记录终态阶段事件，非终态事件只用于流式推送，不入状态
func (s *QueryState) RecordPhase(e PhaseEvent) {
	if !e.Status.Terminal() {
		return
	}
	s.PhaseEvents = append(s.PhaseEvents, e)
}

// RecordError 追加错误记录
func (s *QueryState) RecordError(r ErrorRecord) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	s.Errors = append(s.Errors, r)
}

// AddContexts 追加检索结果
func (s *QueryState) AddContexts(ctxs ...rag.RetrievedContext) {
	s.RetrievedContexts = append(s.RetrievedContexts, ctxs...)
}

// SetMeta 写入元数据
func (s *QueryState) SetMeta(key string, value any) {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata[key] = value
}

// Meta 读取元数据
func (s *QueryState) Meta(key string) (any, bool) {
	v, ok := s.Metadata[key]
	return v, ok
}

// AppendMessage 追加会话消息
func (s *QueryState) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: time.Now()})
}

// MetadataView 对外暴露的元数据：Metadata 加上 agent_path 与 errors
func (s *QueryState) MetadataView() map[string]any {
	out := make(map[string]any, len(s.Metadata)+2)
	for k, v := range s.Metadata {
		out[k] = v
	}
	out["agent_path"] = append([]string{}, s.AgentPath...)
	out["errors"] = append([]ErrorRecord{}, s.Errors...)
	return out
}

// LatestPhase 返回指定类型最近一次记录的阶段事件
func (s *QueryState) LatestPhase(t PhaseType) (PhaseEvent, bool) {
	for i := len(s.PhaseEvents) - 1; i >= 0; i-- {
		if s.PhaseEvents[i].PhaseType == t {
			return s.PhaseEvents[i], true
		}
	}
	return PhaseEvent{}, false
}
