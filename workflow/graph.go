package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// End is the terminal pseudo-node.
const End = "__end__"

// NodeFunc transforms the state. Returning an error stops the run.
type NodeFunc[S any] func(ctx context.Context, s S) (S, error)

// RouteFunc picks a route key from the state after a node ran.
type RouteFunc[S any] func(s S) string

type conditional[S any] struct {
	route   RouteFunc[S]
	targets map[string]string // route key -> node
}

// Graph is a mutable builder for a directed acyclic state machine.
// S is the state type, E the type of side-channel events nodes may Emit.
type Graph[S any, E any] struct {
	name   string
	nodes  map[string]NodeFunc[S]
	order  []string
	edges  map[string]string
	conds  map[string]conditional[S]
	entry  string
	logger *zap.Logger
}

// NewGraph creates an empty graph.
func NewGraph[S any, E any](name string, logger *zap.Logger) *Graph[S, E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph[S, E]{
		name:   name,
		nodes:  make(map[string]NodeFunc[S]),
		edges:  make(map[string]string),
		conds:  make(map[string]conditional[S]),
		logger: logger.With(zap.String("component", "workflow_graph"), zap.String("graph", name)),
	}
}

// AddNode registers a node. Re-adding a name replaces its function.
func (g *Graph[S, E]) AddNode(name string, fn NodeFunc[S]) *Graph[S, E] {
	if _, exists := g.nodes[name]; !exists {
		g.order = append(g.order, name)
	}
	g.nodes[name] = fn
	return g
}

// AddEdge adds an unconditional edge. to may be End.
func (g *Graph[S, E]) AddEdge(from, to string) *Graph[S, E] {
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from a node by the key returned from route.
// A nil targets map routes by node name, over the nodes added so far.
func (g *Graph[S, E]) AddConditionalEdges(from string, route RouteFunc[S], targets map[string]string) *Graph[S, E] {
	if targets == nil {
		targets = map[string]string{}
		for _, name := range g.order {
			targets[name] = name
		}
	}
	g.conds[from] = conditional[S]{route: route, targets: targets}
	return g
}

// SetEntry sets the first node.
func (g *Graph[S, E]) SetEntry(name string) *Graph[S, E] {
	g.entry = name
	return g
}

func graphError(format string, args ...any) error {
	return types.NewError(types.ErrGraphInvalid, fmt.Sprintf(format, args...))
}

// Compile validates the graph and freezes it.
func (g *Graph[S, E]) Compile(opts ...CompileOption[S]) (*Compiled[S, E], error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	c := &Compiled[S, E]{
		name:   g.name,
		nodes:  make(map[string]NodeFunc[S], len(g.nodes)),
		edges:  make(map[string]string, len(g.edges)),
		conds:  make(map[string]conditional[S], len(g.conds)),
		entry:  g.entry,
		logger: g.logger,
	}
	for k, v := range g.nodes {
		c.nodes[k] = v
	}
	for k, v := range g.edges {
		c.edges[k] = v
	}
	for k, v := range g.conds {
		targets := make(map[string]string, len(v.targets))
		for rk, rv := range v.targets {
			targets[rk] = rv
		}
		c.conds[k] = conditional[S]{route: v.route, targets: targets}
	}
	for _, opt := range opts {
		opt(&c.options)
	}

	g.logger.Info("graph compiled",
		zap.Int("nodes", len(c.nodes)),
		zap.String("entry", c.entry),
	)
	return c, nil
}

func (g *Graph[S, E]) successors(name string) []string {
	var out []string
	if to, ok := g.edges[name]; ok {
		out = append(out, to)
	}
	if cond, ok := g.conds[name]; ok {
		keys := make([]string, 0, len(cond.targets))
		for k := range cond.targets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, cond.targets[k])
		}
	}
	return out
}

func (g *Graph[S, E]) validate() error {
	if len(g.nodes) == 0 {
		return graphError("graph has no nodes")
	}
	if g.entry == "" {
		return graphError("entry node not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return graphError("entry node does not exist: %s", g.entry)
	}

	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return graphError("edge references non-existent source node: %s", from)
		}
		if _, ok := g.conds[from]; ok {
			return graphError("node %s has both a direct and a conditional edge", from)
		}
	}
	for from := range g.conds {
		if _, ok := g.nodes[from]; !ok {
			return graphError("conditional edge references non-existent source node: %s", from)
		}
	}
	for _, name := range g.order {
		succ := g.successors(name)
		if len(succ) == 0 {
			return graphError("node %s has no outgoing edge", name)
		}
		for _, to := range succ {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return graphError("edge references non-existent target node: %s -> %s", name, to)
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		return err
	}
	return g.detectUnreachable()
}

// detectCycles detects cycles using DFS
func (g *Graph[S, E]) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var dfs func(string) bool
	dfs = func(n string) bool {
		visited[n] = true
		onStack[n] = true
		for _, next := range g.successors(n) {
			if next == End {
				continue
			}
			if onStack[next] {
				return true
			}
			if !visited[next] && dfs(next) {
				return true
			}
		}
		onStack[n] = false
		return false
	}

	for _, name := range g.order {
		if !visited[name] && dfs(name) {
			return graphError("cycle detected in graph involving node: %s", name)
		}
	}
	return nil
}

func (g *Graph[S, E]) detectUnreachable() error {
	reached := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range g.successors(n) {
			if next == End || reached[next] {
				continue
			}
			reached[next] = true
			queue = append(queue, next)
		}
	}
	for _, name := range g.order {
		if !reached[name] {
			return graphError("node %s is not reachable from entry %s", name, g.entry)
		}
	}
	return nil
}
