package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klapom/aegisrag/rag"
)

// JSONLoaderConfig JSON/JSONL 加载器配置
type JSONLoaderConfig struct {
	// ContentField 作为文档正文的字段，为空或缺失时序列化整个对象
	ContentField string
	// IDField 作为文档 ID 的字段，缺失时按路径与序号生成
	IDField string
}

// JSONLoader 读取 JSON（单个对象或数组）与 JSONL 文件
type JSONLoader struct {
	config JSONLoaderConfig
}

// NewJSONLoader 创建 JSONLoader
func NewJSONLoader(config JSONLoaderConfig) *JSONLoader {
	return &JSONLoader{config: config}
}

func (l *JSONLoader) Load(ctx context.Context, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ToLower(filepath.Ext(source)) == ".jsonl" {
		return l.loadJSONL(source)
	}
	return l.loadJSON(source)
}

func (l *JSONLoader) loadJSON(source string) ([]rag.Document, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}

	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return []rag.Document{}, nil
	}

	if data[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("json loader: parsing array in %s: %w", source, err)
		}
		return l.objectsToDocs(source, items), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("json loader: parsing object in %s: %w", source, err)
	}
	return l.objectsToDocs(source, []map[string]any{obj}), nil
}

func (l *JSONLoader) loadJSONL(source string) ([]rag.Document, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("jsonl loader: %w", err)
	}
	defer f.Close()

	var items []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, fmt.Errorf("jsonl loader: line %d in %s: %w", lineNum, source, err)
		}
		items = append(items, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl loader: reading %s: %w", source, err)
	}
	return l.objectsToDocs(source, items), nil
}

func (l *JSONLoader) objectsToDocs(source string, items []map[string]any) []rag.Document {
	baseName := filepath.Base(source)
	docs := make([]rag.Document, 0, len(items))
	for i, obj := range items {
		meta := map[string]any{
			"source_file":  baseName,
			"content_type": "application/json",
			"loader":       "json",
			"index":        i,
		}
		// 其余标量字段并入元数据
		for k, v := range obj {
			if k == l.config.ContentField || k == l.config.IDField {
				continue
			}
			switch v.(type) {
			case string, float64, bool:
				meta[k] = v
			}
		}
		docs = append(docs, rag.Document{
			ID:       l.extractID(obj, source, i),
			Source:   source,
			Text:     l.extractContent(obj),
			Metadata: meta,
		})
	}
	return docs
}

func (l *JSONLoader) extractContent(obj map[string]any) string {
	if l.config.ContentField != "" {
		if val, ok := obj[l.config.ContentField]; ok {
			return fmt.Sprintf("%v", val)
		}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(data)
}

func (l *JSONLoader) extractID(obj map[string]any, source string, index int) string {
	if l.config.IDField != "" {
		if val, ok := obj[l.config.IDField]; ok {
			return fmt.Sprintf("%v", val)
		}
	}
	return fmt.Sprintf("%s#%d", source, index)
}

func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
