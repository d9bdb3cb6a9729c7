package loader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klapom/aegisrag/rag"
)

// MarkdownLoader 按 ATX 标题切分 Markdown，每节一个文档，标题保存在元数据中。
// 没有标题时整个文件为一个文档。
type MarkdownLoader struct{}

// NewMarkdownLoader 创建 MarkdownLoader
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

type mdSection struct {
	heading string
	level   int
	lines   []string
}

func (l *MarkdownLoader) Load(ctx context.Context, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}
	defer f.Close()

	var sections []mdSection
	inFence := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if heading, level := parseHeading(line); heading != "" {
				sections = append(sections, mdSection{heading: heading, level: level})
				continue
			}
		}
		if len(sections) == 0 {
			// 首个标题之前的内容
			sections = append(sections, mdSection{})
		}
		last := &sections[len(sections)-1]
		last.lines = append(last.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("markdown loader: reading %s: %w", source, err)
	}

	baseName := filepath.Base(source)
	docs := make([]rag.Document, 0, len(sections))
	for i, sec := range sections {
		content := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if content == "" {
			continue
		}

		meta := map[string]any{
			"source_file":  baseName,
			"content_type": "text/markdown",
			"loader":       "markdown",
			"section":      i,
		}
		if sec.heading != "" {
			meta["heading"] = sec.heading
			meta["heading_level"] = sec.level
			content = sec.heading + "\n\n" + content
		}

		docs = append(docs, rag.Document{
			ID:       fmt.Sprintf("%s#%d", source, i),
			Source:   source,
			Text:     content,
			Metadata: meta,
		})
	}
	return docs, nil
}

// parseHeading 识别 "# 标题"，返回标题文本与级别（1-6）
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0
	}
	for _, ch := range trimmed {
		if ch != '#' {
			break
		}
		level++
	}
	if level > 6 || (len(trimmed) > level && trimmed[level] != ' ' && trimmed[level] != '\t') {
		return "", 0
	}
	heading = strings.TrimSpace(trimmed[level:])
	if heading == "" {
		return "", 0
	}
	return heading, level
}

func (l *MarkdownLoader) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}
