package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/intent"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/config"
	"github.com/klapom/aegisrag/workflow"
	"go.uber.org/zap"
)

// 状态机节点名
const (
	NodeRouter       = "router"
	NodeHybridSearch = "hybrid_search"
	NodeVectorSearch = "vector_search"
	NodeGraphQuery   = "graph_query"
	NodeMemory       = "memory"
	NodeAnswer       = "answer"
)

// GraphName 编译后状态机的名称
const GraphName = "aegis_rag"

// RouteByIntent 意图到检索节点的纯函数映射，大小写不敏感；无法识别的意图走向量检索
func RouteByIntent(intent string) string {
	switch strings.ToLower(strings.TrimSpace(intent)) {
	case string(state.IntentHybrid):
		return NodeHybridSearch
	case string(state.IntentGraph):
		return NodeGraphQuery
	case string(state.IntentMemory):
		return NodeMemory
	default:
		return NodeVectorSearch
	}
}

// routeWithTools 在 RouteByIntent 基础上应用特性开关，关闭的路线回退到向量检索
func routeWithTools(tools *config.ToolsConfig, intent state.Intent) string {
	node := RouteByIntent(string(intent))
	if tools == nil {
		return node
	}
	switch {
	case node == NodeHybridSearch && !tools.HybridSearch,
		node == NodeGraphQuery && !tools.GraphQuery,
		node == NodeMemory && !tools.Memory:
		return NodeVectorSearch
	}
	return node
}

// Stage 状态机中的一个处理阶段
type Stage interface {
	Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error)
}

// StageFunc 函数适配器
type StageFunc func(ctx context.Context, st *state.QueryState) (*state.QueryState, error)

// Process 实现 Stage
func (f StageFunc) Process(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
	return f(ctx, st)
}

// IntentClassifier 意图分类器
type IntentClassifier interface {
	ClassifyDetailed(ctx context.Context, query string) intent.Result
}

// Stages 组成 RAG 状态机的各阶段
type Stages struct {
	Classifier IntentClassifier
	Hybrid     Stage
	Vector     Stage
	Graph      Stage
	Memory     Stage
	Answer     Stage
}

func (s Stages) validate() error {
	missing := []string{}
	if s.Classifier == nil {
		missing = append(missing, "classifier")
	}
	for name, st := range map[string]Stage{
		NodeHybridSearch: s.Hybrid,
		NodeVectorSearch: s.Vector,
		NodeGraphQuery:   s.Graph,
		NodeMemory:       s.Memory,
		NodeAnswer:       s.Answer,
	} {
		if st == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing stages: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RAGGraph 编译后的状态机
type RAGGraph = workflow.Compiled[*state.QueryState, events.Event]

// compiledGraph 状态机及编译时使用的特性开关
type compiledGraph struct {
	graph      *RAGGraph
	tools      *config.ToolsConfig
	compiledAt time.Time
}

// BuildGraph 组装并编译 RAG 状态机：
// router →(意图)→ {hybrid_search | vector_search | graph_query | memory} → answer → End
func BuildGraph(stages Stages, tools *config.ToolsConfig, logger *zap.Logger) (*RAGGraph, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if tools == nil {
		tools = config.DefaultToolsConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := workflow.NewGraph[*state.QueryState, events.Event](GraphName, logger)
	g.AddNode(NodeRouter, routerNode(stages.Classifier, tools, logger)).
		AddNode(NodeHybridSearch, stages.Hybrid.Process).
		AddNode(NodeVectorSearch, stages.Vector.Process).
		AddNode(NodeGraphQuery, stages.Graph.Process).
		AddNode(NodeMemory, stages.Memory.Process).
		AddNode(NodeAnswer, stages.Answer.Process)

	g.SetEntry(NodeRouter)
	g.AddConditionalEdges(NodeRouter, func(st *state.QueryState) string {
		return routeWithTools(tools, st.Intent)
	}, map[string]string{
		NodeHybridSearch: NodeHybridSearch,
		NodeVectorSearch: NodeVectorSearch,
		NodeGraphQuery:   NodeGraphQuery,
		NodeMemory:       NodeMemory,
	})
	for _, n := range []string{NodeHybridSearch, NodeVectorSearch, NodeGraphQuery, NodeMemory} {
		g.AddEdge(n, NodeAnswer)
	}
	g.AddEdge(NodeAnswer, workflow.End)

	return g.Compile(workflow.WithSnapshot(func(st *state.QueryState) *state.QueryState {
		return st.Clone()
	}))
}

// routerNode 意图路由：调用方指定意图时跳过分类，两种情况都记录 intent_classification 阶段
func routerNode(classifier IntentClassifier, tools *config.ToolsConfig, logger *zap.Logger) workflow.NodeFunc[*state.QueryState] {
	return func(ctx context.Context, st *state.QueryState) (*state.QueryState, error) {
		ev := state.StartPhase(state.PhaseIntentClassification)
		events.EmitPhase(ctx, ev)

		meta := map[string]any{}
		if st.IntentForced {
			if st.IntentConfidence == 0 {
				st.IntentConfidence = 1.0
			}
			meta["method"] = "forced"
		} else {
			res := classifier.ClassifyDetailed(ctx, st.Query)
			st.Intent = res.Intent
			st.IntentConfidence = res.Confidence
			meta["method"] = res.Method
			meta["classifier_latency_ms"] = float64(res.Latency.Microseconds()) / 1000.0
		}

		if override, ok := tools.IntentOverrides[string(st.Intent)]; ok {
			if to, known := state.IntentFromString(override); known {
				meta["overridden_from"] = string(st.Intent)
				st.Intent = to
			}
		}

		route := routeWithTools(tools, st.Intent)
		meta["intent"] = string(st.Intent)
		meta["confidence"] = st.IntentConfidence
		meta["route"] = route

		done := ev.Complete(meta)
		st.RecordPhase(done)
		events.EmitPhase(ctx, done)

		st.SetMeta("route", route)
		st.Trace(fmt.Sprintf("router: intent=%s route=%s (%s)", st.Intent, route, meta["method"]))

		logger.Debug("query routed",
			zap.String("intent", string(st.Intent)),
			zap.String("route", route),
			zap.Any("method", meta["method"]),
		)
		return st, nil
	}
}
