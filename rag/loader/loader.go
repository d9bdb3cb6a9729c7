package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klapom/aegisrag/rag"
)

// DocumentLoader 按文件格式读取文档
type DocumentLoader interface {
	// Load 读取 source 并返回文档，Text 为空的文档会被丢弃
	Load(ctx context.Context, source string) ([]rag.Document, error)

	// SupportedTypes 返回支持的扩展名（含点，如 ".md"）
	SupportedTypes() []string
}

// LoaderRegistry 按扩展名路由到对应的 DocumentLoader
type LoaderRegistry struct {
	mu      sync.RWMutex
	loaders map[string]DocumentLoader
}

// NewLoaderRegistry 创建注册表，预置文本、Markdown 与 JSON 加载器
func NewLoaderRegistry() *LoaderRegistry {
	r := &LoaderRegistry{loaders: make(map[string]DocumentLoader)}
	for _, l := range []DocumentLoader{
		NewTextLoader(),
		NewMarkdownLoader(),
		NewJSONLoader(JSONLoaderConfig{ContentField: "text", IDField: "id"}),
	} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Register 添加或替换某扩展名的加载器
func (r *LoaderRegistry) Register(ext string, loader DocumentLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = loader
}

// Supports 是否存在该文件的加载器
func (r *LoaderRegistry) Supports(source string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaders[strings.ToLower(filepath.Ext(source))]
	return ok
}

// Load 按扩展名选择加载器
func (r *LoaderRegistry) Load(ctx context.Context, source string) ([]rag.Document, error) {
	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q (no extension)", source)
	}

	r.mu.RLock()
	l, ok := r.loaders[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", ext)
	}

	docs, err := l.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.Text) != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

// SupportedTypes 返回已注册的扩展名（排序）
func (r *LoaderRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
