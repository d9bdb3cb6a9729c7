package graphstore

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Snapshot 知识图的可序列化快照
type Snapshot struct {
	Nodes []Node `yaml:"nodes"`
	Edges []Edge `yaml:"edges"`
}

// Load 将快照载入图中，返回载入的节点与边数
func (g *KnowledgeGraph) Load(snap Snapshot) (int, int) {
	for i := range snap.Nodes {
		n := snap.Nodes[i]
		g.AddNode(&n)
	}
	for i := range snap.Edges {
		e := snap.Edges[i]
		g.AddEdge(&e)
	}
	return len(snap.Nodes), len(snap.Edges)
}

// DecodeSnapshot 从 YAML 读取快照
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil && err != io.EOF {
		return Snapshot{}, fmt.Errorf("decode graph snapshot: %w", err)
	}
	for i, e := range snap.Edges {
		if e.Source == "" || e.Target == "" {
			return Snapshot{}, fmt.Errorf("edge %d: source and target are required", i)
		}
	}
	return snap, nil
}

// LoadFile 从 YAML 文件载入知识图
func (g *KnowledgeGraph) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph snapshot: %w", err)
	}
	defer f.Close()

	snap, err := DecodeSnapshot(f)
	if err != nil {
		return err
	}
	nodes, edges := g.Load(snap)
	g.logger.Info("graph snapshot loaded",
		zap.String("path", path),
		zap.Int("nodes", nodes),
		zap.Int("edges", edges),
	)
	return nil
}
