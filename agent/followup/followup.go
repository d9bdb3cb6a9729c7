package followup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/internal/cache"
	"github.com/klapom/aegisrag/llm"
	"go.uber.org/zap"
)

const promptTemplate = `Based on the conversation below, suggest %d short follow-up questions the user might ask next.
Each question must be answerable from the same document collection.
Return one question per line without numbering or extra text.

User question: %s

Assistant answer: %s

Sources: %s`

var listPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// Config 追问生成配置
type Config struct {
	Model        string        `yaml:"model" json:"model"`
	MaxQuestions int           `yaml:"max_questions" json:"max_questions"`
	MaxTokens    int           `yaml:"max_tokens" json:"max_tokens"`
	ContextTTL   time.Duration `yaml:"context_ttl" json:"context_ttl"`
	QuestionsTTL time.Duration `yaml:"questions_ttl" json:"questions_ttl"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig 返回默认配置：原始上下文保留 30 分钟，追问缓存 5 分钟
func DefaultConfig() Config {
	return Config{
		MaxQuestions: 3,
		MaxTokens:    256,
		ContextTTL:   30 * time.Minute,
		QuestionsTTL: 5 * time.Minute,
		Timeout:      30 * time.Second,
	}
}

// Conversation 写入 conversation 命名空间的对话上下文
type Conversation struct {
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

// Generator 在答案完成后生成追问问题，结果缓存供轮询读取
type Generator struct {
	provider llm.Provider
	store    cache.Store
	config   Config
	logger   *zap.Logger
}

// NewGenerator 创建追问生成器
func NewGenerator(provider llm.Provider, store cache.Store, config Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxQuestions <= 0 {
		config.MaxQuestions = def.MaxQuestions
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.ContextTTL <= 0 {
		config.ContextTTL = def.ContextTTL
	}
	if config.QuestionsTTL <= 0 {
		config.QuestionsTTL = def.QuestionsTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Generator{
		provider: provider,
		store:    store,
		config:   config,
		logger:   logger.With(zap.String("component", "followup_generator")),
	}
}

func questionsKey(sessionID string) string {
	return "followups:" + sessionID
}

// Run 后台任务主体：保存对话上下文、生成并缓存追问。所有错误只记录日志。
func (g *Generator) Run(ctx context.Context, st *state.QueryState) {
	if st.SessionID == "" || strings.TrimSpace(st.Answer) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	ev := state.StartPhase(state.PhaseFollowUpQuestions)
	events.EmitPhase(ctx, ev)

	conv := Conversation{
		SessionID: st.SessionID,
		Query:     st.Query,
		Answer:    st.Answer,
		Sources:   sources(st),
		CreatedAt: time.Now(),
	}
	if err := cache.SetJSON(ctx, g.store, cache.NamespaceConversation, st.SessionID, conv, g.config.ContextTTL); err != nil {
		g.logger.Warn("failed to store conversation context", zap.String("session_id", st.SessionID), zap.Error(err))
	}

	questions, err := g.Generate(ctx, conv)
	if err != nil {
		g.logger.Warn("follow-up generation failed", zap.String("session_id", st.SessionID), zap.Error(err))
		events.EmitPhase(ctx, ev.Fail(err, nil))
		return
	}
	if err := cache.SetJSON(ctx, g.store, cache.NamespaceCache, questionsKey(st.SessionID), questions, g.config.QuestionsTTL); err != nil {
		g.logger.Warn("failed to cache follow-up questions", zap.String("session_id", st.SessionID), zap.Error(err))
		events.EmitPhase(ctx, ev.Fail(err, nil))
		return
	}
	events.EmitPhase(ctx, ev.Complete(map[string]any{"question_count": len(questions)}))
	g.logger.Debug("follow-up questions cached", zap.String("session_id", st.SessionID), zap.Int("count", len(questions)))
}

// Generate 调用模型生成追问问题
func (g *Generator) Generate(ctx context.Context, conv Conversation) ([]string, error) {
	content := fmt.Sprintf(promptTemplate, g.config.MaxQuestions, conv.Query, conv.Answer, strings.Join(conv.Sources, ", "))
	resp, err := g.provider.Completion(ctx, &llm.ChatRequest{
		Model:       g.config.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: content}},
		MaxTokens:   g.config.MaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	return ParseQuestions(resp.FirstContent(), g.config.MaxQuestions), nil
}

// Questions 返回缓存的追问；尚未生成或已过期时返回 nil
func (g *Generator) Questions(ctx context.Context, sessionID string) ([]string, error) {
	qs, err := cache.GetJSON[[]string](ctx, g.store, cache.NamespaceCache, questionsKey(sessionID))
	if cache.IsCacheMiss(err) {
		return nil, nil
	}
	return qs, err
}

// Conversation 返回保存的对话上下文
func (g *Generator) Conversation(ctx context.Context, sessionID string) (*Conversation, error) {
	conv, err := cache.GetJSON[Conversation](ctx, g.store, cache.NamespaceConversation, sessionID)
	if cache.IsCacheMiss(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ParseQuestions 每行一个问题，去掉列表编号，最多返回 max 个
func ParseQuestions(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		q := strings.TrimSpace(listPrefix.ReplaceAllString(line, ""))
		q = strings.Trim(q, `"`)
		if q == "" {
			continue
		}
		out = append(out, q)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func sources(st *state.QueryState) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range st.RetrievedContexts {
		s := c.Source
		if s == "" {
			s = c.DocumentID
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
