package intent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/llm"
	"github.com/klapom/aegisrag/llm/retry"
	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// 解析方式
const (
	MethodSubstring = "substring"
	MethodRegex     = "regex"
	MethodDefault   = "default"
	MethodFallback  = "fallback"
)

const classificationPrompt = `You are a query router for a retrieval-augmented question answering system.
Classify the user query into exactly one retrieval strategy:

VECTOR - semantic similarity search. Use for factual lookups and definitions.
GRAPH  - knowledge graph traversal. Use for relationships between entities and multi-hop questions.
HYBRID - vector search and graph traversal together. Use for complex questions that need both.
MEMORY - conversation history. Use when the query refers to earlier turns or past sessions.

Examples:
Query: What is retrieval-augmented generation?
Intent: VECTOR

Query: How is Alice connected to the Acme acquisition?
Intent: GRAPH

Query: Compare the main themes across all security reports and explain how the teams relate.
Intent: HYBRID

Query: What did we discuss about pricing last week?
Intent: MEMORY

Answer with a single line in the form "Intent: <VECTOR|GRAPH|HYBRID|MEMORY>".

Query: %s
Intent:`

var labeledIntent = regexp.MustCompile(`(?i)(INTENT|CLASSIFICATION)\s*[:=]\s*(VECTOR|GRAPH|HYBRID|MEMORY)`)

// 各解析方式对应的置信度
var methodConfidence = map[string]float64{
	MethodSubstring: 0.9,
	MethodRegex:     0.8,
	MethodDefault:   0.5,
	MethodFallback:  0.0,
}

// Config 意图分类配置
type Config struct {
	Model         string        `yaml:"model" json:"model"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens"`
	DefaultIntent state.Intent  `yaml:"default_intent" json:"default_intent"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxTokens:     20,
		DefaultIntent: state.DefaultIntent,
		Timeout:       15 * time.Second,
	}
}

// Result 分类结果
type Result struct {
	Intent     state.Intent  `json:"intent"`
	Confidence float64       `json:"confidence"`
	Method     string        `json:"method"`
	Raw        string        `json:"raw,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Classifier 基于 LLM 的意图分类器，无状态，可并发使用
type Classifier struct {
	provider llm.Provider
	config   Config
	retryer  retry.Retryer
	logger   *zap.Logger
}

// New 创建分类器，policy 为 nil 时使用 retry.ClassifierPolicy；
// 未设置 RetryIf 时只重试可重试的上游错误
func New(provider llm.Provider, config Config, policy *retry.RetryPolicy, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.ClassifierPolicy()
	}
	if policy.RetryIf == nil {
		p := *policy
		p.RetryIf = types.IsRetryable
		policy = &p
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 20
	}
	if _, ok := state.IntentFromString(string(config.DefaultIntent)); !ok || config.DefaultIntent == state.IntentUnknown {
		config.DefaultIntent = state.DefaultIntent
	}
	logger = logger.With(zap.String("component", "intent_classifier"))
	return &Classifier{
		provider: provider,
		config:   config,
		retryer:  retry.NewBackoffRetryer(policy, logger),
		logger:   logger,
	}
}

// Classify 返回意图，任何错误都转换为默认意图
func (c *Classifier) Classify(ctx context.Context, query string) state.Intent {
	return c.ClassifyDetailed(ctx, query).Intent
}

// ClassifyDetailed 返回带置信度与解析方式的分类结果
func (c *Classifier) ClassifyDetailed(ctx context.Context, query string) Result {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return c.result(c.config.DefaultIntent, MethodDefault, "", start)
	}

	req := &llm.ChatRequest{
		Model:       c.config.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: strings.Replace(classificationPrompt, "%s", query, 1)}},
		MaxTokens:   c.config.MaxTokens,
		Temperature: 0,
		Timeout:     c.config.Timeout,
	}

	resp, err := retry.DoWithResult(c.retryer, ctx, func() (*llm.ChatResponse, error) {
		return c.provider.Completion(ctx, req)
	})
	if err != nil {
		c.logger.Warn("intent classification failed, using default intent",
			zap.String("default", string(c.config.DefaultIntent)),
			zap.Error(err),
		)
		return c.result(c.config.DefaultIntent, MethodFallback, "", start)
	}

	raw := resp.FirstContent()
	intent, method := ParseIntent(raw, c.config.DefaultIntent)
	res := c.result(intent, method, raw, start)

	c.logger.Debug("query classified",
		zap.String("intent", string(res.Intent)),
		zap.String("method", res.Method),
		zap.Duration("latency", res.Latency),
	)
	return res
}

func (c *Classifier) result(intent state.Intent, method, raw string, start time.Time) Result {
	return Result{
		Intent:     intent,
		Confidence: methodConfidence[method],
		Method:     method,
		Raw:        raw,
		Latency:    time.Since(start),
	}
}

// ParseIntent 解析模型回复：
// 回复中恰好出现一个意图名时直接采用；否则匹配 "Intent: X" 形式；都失败时返回 def。
func ParseIntent(reply string, def state.Intent) (state.Intent, string) {
	upper := strings.ToUpper(reply)

	var found []state.Intent
	for _, in := range state.KnownIntents {
		if strings.Contains(upper, strings.ToUpper(string(in))) {
			found = append(found, in)
		}
	}
	if len(found) == 1 {
		return found[0], MethodSubstring
	}

	if m := labeledIntent.FindStringSubmatch(reply); m != nil {
		if in, ok := state.IntentFromString(m[2]); ok {
			return in, MethodRegex
		}
	}
	return def, MethodDefault
}
