package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// 模型前缀到 tiktoken 编码的映射.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
	{"text-embedding-3", "cl100k_base"},
}

func encodingFor(model string) (string, bool) {
	m := strings.ToLower(model)
	for _, e := range modelEncodings {
		if strings.HasPrefix(m, e.prefix) {
			return e.encoding, true
		}
	}
	return "", false
}

// tiktokenTokenizer 懒加载 tiktoken 编码（首次使用时可能下载 BPE 数据）.
type tiktokenTokenizer struct {
	encoding string
	fallback *Estimator

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func newTiktoken(encoding string, fallback *Estimator) *tiktokenTokenizer {
	return &tiktokenTokenizer{encoding: encoding, fallback: fallback}
}

func (t *tiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) Truncate(text string, maxTokens int) string {
	if err := t.init(); err != nil {
		return t.fallback.Truncate(text, maxTokens)
	}
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens])
}

func (t *tiktokenTokenizer) Name() string {
	if t.init() != nil {
		return t.fallback.Name()
	}
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
