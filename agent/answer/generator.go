package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/llm"
	"github.com/klapom/aegisrag/llm/tokenizer"
	"github.com/klapom/aegisrag/rag"
	"go.uber.org/zap"
)

// EventKind 流式生成事件类型，每次响应按 citation_map → token* → complete 的顺序发出
type EventKind string

const (
	EventCitationMap EventKind = "citation_map"
	EventToken       EventKind = "token"
	EventComplete    EventKind = "complete"
	EventError       EventKind = "error"
)

// StreamEvent 流式生成事件
type StreamEvent struct {
	Kind         EventKind
	Token        string
	Answer       string
	Citations    map[int]state.Citation
	ContextsUsed int
	Err          error
}

// Generator 带引用的答案生成
type Generator interface {
	GenerateWithCitations(ctx context.Context, query string, contexts []rag.RetrievedContext) (string, map[int]state.Citation, error)
	GenerateWithCitationsStream(ctx context.Context, query string, contexts []rag.RetrievedContext) (<-chan StreamEvent, error)
}

const systemPrompt = `You are a precise assistant. Answer the question using only the numbered sources below.
Cite every claim with the source number in square brackets, for example [1] or [2][3].
If the sources do not contain the answer, say that you could not find it in the available documents.`

const snippetLen = 200

// Config 生成配置
type Config struct {
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float32 `yaml:"temperature" json:"temperature"`

	// ContextBudget 来源片段可占用的 token 上限
	ContextBudget int `yaml:"context_budget" json:"context_budget"`
	MaxContexts   int `yaml:"max_contexts" json:"max_contexts"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxTokens:     1024,
		Temperature:   0.2,
		ContextBudget: 3000,
		MaxContexts:   10,
	}
}

// LLMGenerator 基于 llm.Provider 的 Generator 实现
type LLMGenerator struct {
	provider  llm.Provider
	config    Config
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewLLMGenerator 创建生成器，token 计数按模型选择 tiktoken 或估算器
func NewLLMGenerator(provider llm.Provider, config Config, logger *zap.Logger) *LLMGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.ContextBudget <= 0 {
		config.ContextBudget = def.ContextBudget
	}
	if config.MaxContexts <= 0 {
		config.MaxContexts = def.MaxContexts
	}
	return &LLMGenerator{
		provider:  provider,
		config:    config,
		tokenizer: tokenizer.ForModel(config.Model),
		logger:    logger.With(zap.String("component", "answer_generator")),
	}
}

type prompt struct {
	request   *llm.ChatRequest
	citations map[int]state.Citation
	used      int
}

// build 构造带编号来源的提示词，来源按顺序装入直到用完 token 预算
func (g *LLMGenerator) build(ctx context.Context, query string, contexts []rag.RetrievedContext) prompt {
	construct := state.StartPhase(state.PhasePromptConstruction)
	events.EmitPhase(ctx, construct)
	budgeting := state.StartPhase(state.PhaseContextBudgeting)
	events.EmitPhase(ctx, budgeting)

	remaining := g.config.ContextBudget
	citations := make(map[int]state.Citation)
	var sources strings.Builder
	truncated := 0
	for _, c := range contexts {
		if len(citations) >= g.config.MaxContexts || remaining <= 0 {
			break
		}
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		n := len(citations) + 1
		header := fmt.Sprintf("[%d] %s\n", n, sourceLabel(c))
		cost := g.tokenizer.CountTokens(header) + g.tokenizer.CountTokens(text)
		if cost > remaining {
			text = g.tokenizer.Truncate(text, remaining-g.tokenizer.CountTokens(header))
			if text == "" {
				break
			}
			truncated++
			cost = remaining
		}
		remaining -= cost

		sources.WriteString(header)
		sources.WriteString(text)
		sources.WriteString("\n\n")
		citations[n] = citationFor(c)
	}
	events.EmitPhase(ctx, budgeting.Complete(map[string]any{
		"budget_tokens": g.config.ContextBudget,
		"used_tokens":   g.config.ContextBudget - remaining,
		"contexts_used": len(citations),
		"truncated":     truncated,
		"tokenizer":     g.tokenizer.Name(),
	}))

	var user strings.Builder
	if sources.Len() > 0 {
		user.WriteString("Sources:\n\n")
		user.WriteString(sources.String())
	} else {
		user.WriteString("Sources: none were found.\n\n")
	}
	user.WriteString("Question: ")
	user.WriteString(query)
	user.WriteString("\nAnswer:")

	req := &llm.ChatRequest{
		Model: g.config.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: user.String()},
		},
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	}
	events.EmitPhase(ctx, construct.Complete(map[string]any{
		"prompt_tokens": g.tokenizer.CountTokens(systemPrompt) + g.tokenizer.CountTokens(user.String()),
	}))
	return prompt{request: req, citations: citations, used: len(citations)}
}

// GenerateWithCitations 非流式生成
func (g *LLMGenerator) GenerateWithCitations(ctx context.Context, query string, contexts []rag.RetrievedContext) (string, map[int]state.Citation, error) {
	p := g.build(ctx, query, contexts)
	resp, err := g.provider.Completion(ctx, p.request)
	if err != nil {
		return "", nil, err
	}
	return resp.FirstContent(), p.citations, nil
}

// GenerateWithCitationsStream 流式生成。provider 无法开始流时直接返回错误；
// 流中途的错误以 error 事件发出，之后不再发 complete。
func (g *LLMGenerator) GenerateWithCitationsStream(ctx context.Context, query string, contexts []rag.RetrievedContext) (<-chan StreamEvent, error) {
	p := g.build(ctx, query, contexts)
	chunks, err := g.provider.Stream(ctx, p.request)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(StreamEvent{Kind: EventCitationMap, Citations: p.citations}) {
			return
		}
		var answer strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				g.logger.Warn("generation stream failed", zap.Error(chunk.Err))
				send(StreamEvent{Kind: EventError, Err: chunk.Err})
				return
			}
			if chunk.Delta.Content == "" {
				continue
			}
			answer.WriteString(chunk.Delta.Content)
			if !send(StreamEvent{Kind: EventToken, Token: chunk.Delta.Content}) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			send(StreamEvent{Kind: EventError, Err: err})
			return
		}
		send(StreamEvent{
			Kind:         EventComplete,
			Answer:       answer.String(),
			Citations:    p.citations,
			ContextsUsed: p.used,
		})
	}()
	return out, nil
}

func sourceLabel(c rag.RetrievedContext) string {
	switch {
	case c.Source != "":
		return "(" + c.Source + ")"
	case c.DocumentID != "":
		return "(" + c.DocumentID + ")"
	default:
		return ""
	}
}

func citationFor(c rag.RetrievedContext) state.Citation {
	snippet := []rune(strings.TrimSpace(c.Text))
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	return state.Citation{
		Source:     c.Source,
		DocumentID: c.DocumentID,
		ChunkID:    c.ID,
		Channel:    string(c.Channel),
		Score:      c.Score,
		Snippet:    string(snippet),
	}
}

// errNoComplete 流结束但没有 complete 事件
var errNoComplete = errors.New("generation stream ended without completion")
