package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klapom/aegisrag/rag"
)

// TextLoader 将纯文本文件读为单个文档
type TextLoader struct{}

// NewTextLoader 创建 TextLoader
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

func (l *TextLoader) Load(ctx context.Context, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}

	return []rag.Document{{
		ID:     source,
		Source: source,
		Text:   string(data),
		Metadata: map[string]any{
			"source_file":  filepath.Base(source),
			"content_type": "text/plain",
			"loader":       "text",
		},
	}}, nil
}

func (l *TextLoader) SupportedTypes() []string {
	return []string{".txt"}
}
