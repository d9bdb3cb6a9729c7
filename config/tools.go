package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolsConfig 运行期可热更新的工具/特性开关。
// 编排器每次重新编译状态机时重新读取；关闭的检索路线回退到向量检索。
type ToolsConfig struct {
	HybridSearch bool `yaml:"hybrid_search"`
	GraphQuery   bool `yaml:"graph_query"`
	Memory       bool `yaml:"memory"`
	FollowUps    bool `yaml:"follow_ups"`
	// 覆盖意图分类结果，例如 {"graph": "hybrid"}
	IntentOverrides map[string]string `yaml:"intent_overrides"`
}

// DefaultToolsConfig 全部开启
func DefaultToolsConfig() *ToolsConfig {
	return &ToolsConfig{
		HybridSearch: true,
		GraphQuery:   true,
		Memory:       true,
		FollowUps:    true,
	}
}

// ToolsLoader 加载工具配置
type ToolsLoader interface {
	LoadTools(ctx context.Context) (*ToolsConfig, error)
}

// ToolsLoaderFunc 函数适配器
type ToolsLoaderFunc func(ctx context.Context) (*ToolsConfig, error)

// LoadTools 实现 ToolsLoader
func (f ToolsLoaderFunc) LoadTools(ctx context.Context) (*ToolsConfig, error) { return f(ctx) }

// StaticTools 始终返回同一份配置
func StaticTools(cfg *ToolsConfig) ToolsLoader {
	return ToolsLoaderFunc(func(context.Context) (*ToolsConfig, error) {
		c := *cfg
		return &c, nil
	})
}

// FileToolsLoader 从 YAML 文件读取工具配置，文件不存在时使用默认值
type FileToolsLoader struct {
	Path string
}

// NewFileToolsLoader 创建文件加载器
func NewFileToolsLoader(path string) *FileToolsLoader {
	return &FileToolsLoader{Path: path}
}

// LoadTools 实现 ToolsLoader
func (l *FileToolsLoader) LoadTools(ctx context.Context) (*ToolsConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := DefaultToolsConfig()
	if l.Path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tools config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tools config: %w", err)
	}
	return cfg, nil
}
