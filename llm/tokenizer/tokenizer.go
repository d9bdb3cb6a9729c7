package tokenizer

import "strings"

// Tokenizer 统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) int

	// Truncate 截断文本，使其不超过 maxTokens 个 token.
	Truncate(text string, maxTokens int) string

	// Name 返回分词器的名称.
	Name() string
}

// ForModel 为 OpenAI 系列模型返回 tiktoken 分词器，其他模型返回估算器。
// tiktoken 初始化失败时自动回退到估算器。
func ForModel(model string) Tokenizer {
	if enc, ok := encodingFor(model); ok {
		return newTiktoken(enc, NewEstimator())
	}
	return NewEstimator()
}

// truncateByRunes 按字符比例截断，供估算器和回退路径使用.
func truncateByRunes(text string, ratio float64, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := int(float64(maxTokens) * ratio)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, " \n\t"); i > limit/2 {
		cut = cut[:i]
	}
	return cut
}
