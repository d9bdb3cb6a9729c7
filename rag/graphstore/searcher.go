package graphstore

import (
	"context"
	"sort"
	"strings"

	"github.com/klapom/aegisrag/rag"
	"go.uber.org/zap"
)

// 图检索模式
const (
	ModeLocal  = "local"
	ModeGlobal = "global"
	ModeHybrid = "hybrid"
)

// relatedWeight 经 RELATED_TO 一跳扩展得到的实体贡献
const relatedWeight = 0.5

// Searcher 基于知识图的检索器。
// local 模式按查询中出现的实体找到提及它们的片段；
// global 模式按实体成员与摘要关键词匹配社区；hybrid 合并两者。
type Searcher struct {
	graph  *KnowledgeGraph
	logger *zap.Logger
}

// NewSearcher 创建图检索器
func NewSearcher(graph *KnowledgeGraph, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		graph:  graph,
		logger: logger.With(zap.String("component", "graph_searcher")),
	}
}

type candidate struct {
	ctx rag.RetrievedContext
	raw float64
}

// Search 实现 rag.Searcher。local 结果标记 graph_local，global 结果标记 graph_global。
func (s *Searcher) Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	matched := s.graph.MatchEntities(req.Query)
	allowed := map[string]bool{}
	for _, ns := range req.Namespaces {
		allowed[ns] = true
	}

	var cands []candidate
	if mode == ModeLocal || mode == ModeHybrid {
		cands = append(cands, s.local(matched, allowed)...)
	}
	if mode == ModeGlobal || mode == ModeHybrid {
		cands = append(cands, s.global(req.Query, matched, allowed)...)
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].raw > cands[j].raw })
	if req.TopK > 0 && len(cands) > req.TopK {
		cands = cands[:req.TopK]
	}

	out := make([]rag.RetrievedContext, len(cands))
	perChannel := map[rag.Channel]int{}
	for i, c := range cands {
		perChannel[c.ctx.Channel]++
		c.ctx.Rank = perChannel[c.ctx.Channel]
		out[i] = c.ctx
	}

	s.logger.Debug("graph search finished",
		zap.String("mode", mode),
		zap.Int("matched_entities", len(matched)),
		zap.Int("results", len(out)),
	)
	return &rag.SearchResponse{
		Contexts: out,
		Metadata: map[string]any{"mode": mode, "matched_entities": labels(matched)},
	}, nil
}

func (s *Searcher) local(matched []*Node, allowed map[string]bool) []candidate {
	scores := map[string]float64{}
	entities := map[string][]string{}
	chunks := map[string]*Node{}
	var order []string

	add := func(entity *Node, weight float64) {
		for _, chunk := range s.graph.linked(entity.ID, EdgeMentions, NodeChunk) {
			if len(allowed) > 0 && !allowed[chunk.Namespace] {
				continue
			}
			if _, ok := chunks[chunk.ID]; !ok {
				chunks[chunk.ID] = chunk
				order = append(order, chunk.ID)
			}
			scores[chunk.ID] += weight
			entities[chunk.ID] = appendUnique(entities[chunk.ID], entity.Label)
		}
	}

	direct := map[string]bool{}
	for _, e := range matched {
		direct[e.ID] = true
	}
	for _, e := range matched {
		add(e, 1)
		for _, rel := range s.graph.linked(e.ID, EdgeRelated, NodeEntity) {
			if !direct[rel.ID] {
				add(rel, relatedWeight)
			}
		}
	}

	out := make([]candidate, 0, len(order))
	for _, id := range order {
		chunk := chunks[id]
		out = append(out, candidate{
			raw: scores[id],
			ctx: rag.RetrievedContext{
				ID:         chunk.ID,
				Text:       chunk.Label,
				Score:      rag.NormalizeScore(scores[id]),
				Source:     stringProp(chunk, "source"),
				DocumentID: stringProp(chunk, "document_id"),
				Channel:    rag.ChannelGraphLocal,
				Metadata: map[string]any{
					"entities":    entities[id],
					"match_score": scores[id],
				},
			},
		})
	}
	return out
}

func (s *Searcher) global(query string, matched []*Node, allowed map[string]bool) []candidate {
	terms := rag.Tokenize(query)
	matchedSet := map[string]bool{}
	for _, e := range matched {
		matchedSet[e.ID] = true
	}

	var out []candidate
	for _, community := range s.graph.QueryByType(NodeCommunity) {
		if len(allowed) > 0 && community.Namespace != "" && !allowed[community.Namespace] {
			continue
		}
		members := s.graph.linked(community.ID, EdgeMemberOf, NodeEntity)

		score := 0.0
		for _, m := range members {
			if matchedSet[m.ID] {
				score++
			}
		}
		summary := strings.ToLower(community.Label)
		for _, t := range terms {
			if len(t) > 2 && strings.Contains(summary, t) {
				score += relatedWeight
			}
		}
		if score == 0 {
			continue
		}

		out = append(out, candidate{
			raw: score,
			ctx: rag.RetrievedContext{
				ID:      community.ID,
				Text:    community.Label,
				Score:   rag.NormalizeScore(score),
				Source:  "community:" + community.ID,
				Channel: rag.ChannelGraphGlobal,
				Metadata: map[string]any{
					"community_id": community.ID,
					"entities":     labels(members),
					"match_score":  score,
				},
			},
		})
	}
	return out
}

func labels(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Label)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func stringProp(n *Node, key string) string {
	if n.Properties == nil {
		return ""
	}
	if v, ok := n.Properties[key].(string); ok {
		return v
	}
	return ""
}
