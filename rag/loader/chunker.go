package loader

import (
	"strings"

	"github.com/klapom/aegisrag/llm/tokenizer"
)

// ChunkerConfig 分块参数（token 计）
type ChunkerConfig struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultChunkerConfig 返回默认分块参数
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{MaxTokens: 400, OverlapTokens: 60}
}

// Chunker 按段落累积到 token 上限后切块；超长段落按词切分。
// 相邻块之间保留不超过 OverlapTokens 的尾部段落作为重叠。
type Chunker struct {
	config ChunkerConfig
	tok    tokenizer.Tokenizer
}

// NewChunker 创建分块器，tok 为 nil 时使用估算器
func NewChunker(config ChunkerConfig, tok tokenizer.Tokenizer) *Chunker {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultChunkerConfig().MaxTokens
	}
	if config.OverlapTokens < 0 || config.OverlapTokens >= config.MaxTokens {
		config.OverlapTokens = 0
	}
	if tok == nil {
		tok = tokenizer.NewEstimator()
	}
	return &Chunker{config: config, tok: tok}
}

// Split 切分文本，空文本返回 nil
func (c *Chunker) Split(text string) []string {
	var units []string
	for _, p := range splitParagraphs(text) {
		if c.tok.CountTokens(p) > c.config.MaxTokens {
			units = append(units, c.splitWords(p)...)
			continue
		}
		units = append(units, p)
	}

	var chunks []string
	var cur []string
	curTokens := 0
	for _, u := range units {
		n := c.tok.CountTokens(u)
		if curTokens > 0 && curTokens+n > c.config.MaxTokens {
			chunks = append(chunks, strings.Join(cur, "\n\n"))
			cur, curTokens = c.overlap(cur)
			// 重叠部分放不下时丢弃
			if curTokens+n > c.config.MaxTokens {
				cur, curTokens = nil, 0
			}
		}
		cur = append(cur, u)
		curTokens += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, "\n\n"))
	}
	return chunks
}

// overlap 从块尾取整段，总量不超过 OverlapTokens
func (c *Chunker) overlap(units []string) ([]string, int) {
	if c.config.OverlapTokens == 0 {
		return nil, 0
	}
	total := 0
	i := len(units)
	for i > 0 {
		n := c.tok.CountTokens(units[i-1])
		if total+n > c.config.OverlapTokens {
			break
		}
		total += n
		i--
	}
	return append([]string(nil), units[i:]...), total
}

func (c *Chunker) splitWords(p string) []string {
	var out []string
	var cur []string
	for _, w := range strings.Fields(p) {
		cur = append(cur, w)
		if c.tok.CountTokens(strings.Join(cur, " ")) > c.config.MaxTokens && len(cur) > 1 {
			out = append(out, strings.Join(cur[:len(cur)-1], " "))
			cur = []string{w}
		}
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
