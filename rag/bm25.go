package rag

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// BM25Config BM25 参数
type BM25Config struct {
	K1 float64 `yaml:"k1" json:"k1"` // 词频饱和参数 (1.2-2.0)
	B  float64 `yaml:"b" json:"b"`   // 文档长度归一化参数
}

// DefaultBM25Config 返回默认 BM25 参数
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

// Document 可索引的文档片段
type Document struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Source     string         `json:"source"`
	Namespace  string         `json:"namespace"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type bm25Doc struct {
	doc    Document
	length int
	tf     map[string]int
}

// BM25Index 内存关键词索引，实现 Searcher
type BM25Index struct {
	config   BM25Config
	docs     []bm25Doc
	docFreq  map[string]int
	totalLen int
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewBM25Index 创建 BM25 索引
func NewBM25Index(config BM25Config, logger *zap.Logger) *BM25Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.K1 <= 0 {
		config.K1 = 1.5
	}
	if config.B < 0 || config.B > 1 {
		config.B = 0.75
	}
	return &BM25Index{
		config:  config,
		docFreq: make(map[string]int),
		logger:  logger.With(zap.String("component", "bm25_index")),
	}
}

// Tokenize 小写化并按非字母数字字符切分
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Add 索引文档
func (x *BM25Index) Add(docs ...Document) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, d := range docs {
		terms := Tokenize(d.Text)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			if tf[term] == 0 {
				x.docFreq[term]++
			}
			tf[term]++
		}
		x.docs = append(x.docs, bm25Doc{doc: d, length: len(terms), tf: tf})
		x.totalLen += len(terms)
	}

	x.logger.Debug("documents indexed", zap.Int("added", len(docs)), zap.Int("total", len(x.docs)))
}

// Len 返回已索引文档数
func (x *BM25Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Search 实现 Searcher，结果标记为 bm25 通道
func (x *BM25Index) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	queryTerms := Tokenize(req.Query)
	if len(queryTerms) == 0 || len(x.docs) == 0 {
		return &SearchResponse{}, nil
	}

	allowed := namespaceSet(req.Namespaces)
	n := float64(len(x.docs))
	avgLen := float64(x.totalLen) / n

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, d := range x.docs {
		if allowed != nil && !allowed[d.doc.Namespace] {
			continue
		}
		score := 0.0
		for _, q := range queryTerms {
			tf, ok := d.tf[q]
			if !ok {
				continue
			}
			df := float64(x.docFreq[q])
			idf := math.Log((n-df+0.5)/(df+0.5) + 1.0)
			num := float64(tf) * (x.config.K1 + 1.0)
			den := float64(tf) + x.config.K1*(1.0-x.config.B+x.config.B*(float64(d.length)/avgLen))
			score += idf * (num / den)
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if req.TopK > 0 && len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	raw := make([]float64, len(hits))
	for i, h := range hits {
		raw[i] = h.score
	}
	norm := NormalizeByMax(raw)

	out := make([]RetrievedContext, len(hits))
	for i, h := range hits {
		d := x.docs[h.idx].doc
		meta := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["bm25_score"] = h.score
		out[i] = RetrievedContext{
			ID:         d.ID,
			Text:       d.Text,
			Score:      norm[i],
			Source:     d.Source,
			DocumentID: d.DocumentID,
			Metadata:   meta,
		}
	}
	return &SearchResponse{Contexts: TagChannel(out, ChannelBM25)}, nil
}

func namespaceSet(ns []string) map[string]bool {
	if len(ns) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ns))
	for _, n := range ns {
		set[n] = true
	}
	return set
}
