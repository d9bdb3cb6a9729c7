package graphstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 节点类型
const (
	NodeEntity    = "entity"
	NodeChunk     = "chunk"
	NodeCommunity = "community"
)

// 边类型
const (
	EdgeMentions = "MENTIONS"
	EdgeMemberOf = "MEMBER_OF"
	EdgeRelated  = "RELATED_TO"
)

// Node 知识图节点。chunk 节点的 Label 为片段正文，community 节点的 Label 为社区摘要。
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Label      string         `json:"label" yaml:"label"`
	Namespace  string         `json:"namespace,omitempty" yaml:"namespace"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
}

// Edge 节点之间的有向关系
type Edge struct {
	ID     string  `json:"id" yaml:"id"`
	Source string  `json:"source" yaml:"source"`
	Target string  `json:"target" yaml:"target"`
	Type   string  `json:"type" yaml:"type"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// KnowledgeGraph 内存知识图：实体、片段、社区三类节点
type KnowledgeGraph struct {
	nodes    map[string]*Node
	edges    map[string]*Edge
	outEdges map[string][]string // nodeID -> edgeIDs
	inEdges  map[string][]string // nodeID -> edgeIDs
	seq      int
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewKnowledgeGraph 创建空知识图
func NewKnowledgeGraph(logger *zap.Logger) *KnowledgeGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeGraph{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "knowledge_graph")),
	}
}

// AddNode 添加或替换节点
func (g *KnowledgeGraph) AddNode(node *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node.ID == "" {
		g.seq++
		node.ID = fmt.Sprintf("node_%d", g.seq)
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	g.nodes[node.ID] = node
}

// AddEdge 添加边
func (g *KnowledgeGraph) AddEdge(edge *Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if edge.ID == "" {
		g.seq++
		edge.ID = fmt.Sprintf("edge_%d", g.seq)
	}
	if edge.Weight == 0 {
		edge.Weight = 1
	}
	g.edges[edge.ID] = edge
	g.outEdges[edge.Source] = append(g.outEdges[edge.Source], edge.ID)
	g.inEdges[edge.Target] = append(g.inEdges[edge.Target], edge.ID)
}

// Link 便捷方法：按类型连接两个节点
func (g *KnowledgeGraph) Link(source, target, edgeType string) {
	g.AddEdge(&Edge{Source: source, Target: target, Type: edgeType})
}

// GetNode 按 ID 获取节点
func (g *KnowledgeGraph) GetNode(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// NodeCount 返回节点数
func (g *KnowledgeGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetNeighbors 返回 depth 跳以内的邻居（双向），不含起点
func (g *KnowledgeGraph) GetNeighbors(nodeID string, depth int) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var results []*Node
	g.traverseNeighbors(nodeID, depth, visited, &results)
	return results
}

func (g *KnowledgeGraph) traverseNeighbors(nodeID string, depth int, visited map[string]bool, results *[]*Node) {
	if depth <= 0 || visited[nodeID] {
		return
	}
	visited[nodeID] = true

	for _, edgeID := range g.outEdges[nodeID] {
		edge := g.edges[edgeID]
		if node, ok := g.nodes[edge.Target]; ok && !visited[edge.Target] {
			*results = append(*results, node)
			g.traverseNeighbors(edge.Target, depth-1, visited, results)
		}
	}
	for _, edgeID := range g.inEdges[nodeID] {
		edge := g.edges[edgeID]
		if node, ok := g.nodes[edge.Source]; ok && !visited[edge.Source] {
			*results = append(*results, node)
			g.traverseNeighbors(edge.Source, depth-1, visited, results)
		}
	}
}

// QueryByType 返回指定类型的节点，按 ID 排序
func (g *KnowledgeGraph) QueryByType(nodeType string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var results []*Node
	for _, n := range g.nodes {
		if n.Type == nodeType {
			results = append(results, n)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// MatchEntities 返回标签出现在 query 中的实体（大小写不敏感）
func (g *KnowledgeGraph) MatchEntities(query string) []*Node {
	q := strings.ToLower(query)
	var out []*Node
	for _, n := range g.QueryByType(NodeEntity) {
		label := strings.ToLower(strings.TrimSpace(n.Label))
		if label != "" && strings.Contains(q, label) {
			out = append(out, n)
		}
	}
	return out
}

// linked 返回与 nodeID 通过 edgeType 相连的指定类型节点（双向）
func (g *KnowledgeGraph) linked(nodeID, edgeType, nodeType string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	seen := map[string]bool{}
	collect := func(id string) {
		if seen[id] {
			return
		}
		if n, ok := g.nodes[id]; ok && n.Type == nodeType {
			seen[id] = true
			out = append(out, n)
		}
	}
	for _, eid := range g.outEdges[nodeID] {
		if e := g.edges[eid]; e.Type == edgeType {
			collect(e.Target)
		}
	}
	for _, eid := range g.inEdges[nodeID] {
		if e := g.edges[eid]; e.Type == edgeType {
			collect(e.Source)
		}
	}
	return out
}
