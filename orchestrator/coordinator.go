package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/klapom/aegisrag/agent/checkpoint"
	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/config"
	"github.com/klapom/aegisrag/internal/pool"
	"github.com/klapom/aegisrag/llm/retry"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/types"
	"go.uber.org/zap"
)

// 后台任务名
const taskFollowUps = "follow_up_questions"

// 检查点写入时限，与请求是否已取消无关
const checkpointSaveTimeout = 5 * time.Second

// Config 编排器配置
type Config struct {
	GraphTTL          time.Duration
	RequestTimeout    time.Duration
	MaxAttempts       int
	SamplesPerChannel int
	// 调用方未经四路检索拿到权重时，answer_chunk 使用的名义权重
	IntentWeights map[state.Intent]rag.Weights
	// nil 时使用 retry.CoordinatorPolicy
	Policy *retry.RetryPolicy
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	weights := map[state.Intent]rag.Weights{}
	for k, w := range rag.DefaultIntentWeights() {
		weights[state.Intent(k)] = w
	}
	return Config{
		GraphTTL:          60 * time.Second,
		RequestTimeout:    90 * time.Second,
		MaxAttempts:       2,
		SamplesPerChannel: rag.DefaultSamplesPerChannel,
		IntentWeights:     weights,
	}
}

// FollowUps 追问生成
type FollowUps interface {
	Run(ctx context.Context, st *state.QueryState)
	Questions(ctx context.Context, sessionID string) ([]string, error)
}

// Metrics 编排器上报的指标，*metrics.Collector 实现该接口
type Metrics interface {
	RecordQuery(mode, intent, status string, d time.Duration)
	RecordChannelResults(channel string, count int)
	RecordGraphCompilation(status string)
	RecordBackgroundTask(task, status string)
}

// Options 可选依赖，零值表示关闭对应功能
type Options struct {
	Tools       config.ToolsLoader
	Checkpoints checkpoint.Store
	FollowUps   FollowUps
	Pool        *pool.GoroutinePool
	Bus         events.Bus
	Metrics     Metrics
}

// Coordinator 多代理 RAG 编排器：缓存编译后的状态机，负责重试、检查点、
// 流式输出与后台追问生成
type Coordinator struct {
	cfg     Config
	stages  Stages
	opts    Options
	graph   *CachedValue[*compiledGraph]
	retryer retry.Retryer
	ownPool bool
	logger  *zap.Logger
}

var validate = validator.New()

// New 创建编排器
func New(stages Stages, cfg Config, opts Options, logger *zap.Logger) (*Coordinator, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "coordinator"))

	def := DefaultConfig()
	if cfg.GraphTTL <= 0 {
		cfg.GraphTTL = def.GraphTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SamplesPerChannel <= 0 {
		cfg.SamplesPerChannel = def.SamplesPerChannel
	}
	if cfg.IntentWeights == nil {
		cfg.IntentWeights = def.IntentWeights
	}
	policy := cfg.Policy
	if policy == nil {
		policy = retry.CoordinatorPolicy(retryableRunError)
	}
	p := *policy
	p.MaxRetries = cfg.MaxAttempts - 1

	if opts.Tools == nil {
		opts.Tools = config.StaticTools(config.DefaultToolsConfig())
	}
	c := &Coordinator{
		cfg:     cfg,
		stages:  stages,
		opts:    opts,
		graph:   NewCachedValue[*compiledGraph](cfg.GraphTTL),
		retryer: retry.NewBackoffRetryer(&p, logger),
		logger:  logger,
	}
	if c.opts.Pool == nil {
		c.opts.Pool = pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig(), logger)
		c.ownPool = true
	}
	return c, nil
}

// retryableRunError 请求级错误与取消不重试
func retryableRunError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if types.IsErrorCode(err, types.ErrInvalidRequest) || types.IsErrorCode(err, types.ErrGraphInvalid) {
		return false
	}
	return true
}

// InvalidateGraph 丢弃缓存的状态机，下一次请求重新加载工具配置并编译
func (c *Coordinator) InvalidateGraph() {
	c.graph.Invalidate()
	c.logger.Info("compiled graph invalidated")
}

// WatchTools 工具配置文件变化时失效状态机缓存
func (c *Coordinator) WatchTools(w *config.FileWatcher) {
	w.OnChange(func(ev config.FileEvent) {
		c.logger.Info("tools config changed", zap.String("path", ev.Path), zap.String("op", ev.Op.String()))
		c.InvalidateGraph()
	})
}

// Graph 返回（必要时重新编译的）状态机
func (c *Coordinator) Graph(ctx context.Context) (*RAGGraph, error) {
	cg, err := c.compiled(ctx)
	if err != nil {
		return nil, err
	}
	return cg.graph, nil
}

func (c *Coordinator) compiled(ctx context.Context) (*compiledGraph, error) {
	return c.graph.GetOrRefresh(ctx, c.compile)
}

func (c *Coordinator) compile(ctx context.Context) (*compiledGraph, error) {
	tools, err := c.opts.Tools.LoadTools(ctx)
	if err != nil {
		c.logger.Warn("failed to reload tools config, using defaults", zap.Error(err))
		tools = config.DefaultToolsConfig()
	}

	g, err := BuildGraph(c.stages, tools, c.logger)
	if err != nil {
		c.recordCompilation("failed")
		return nil, types.WrapError(err, types.ErrGraphInvalid, "failed to compile orchestration graph")
	}
	c.recordCompilation("success")
	return &compiledGraph{graph: g, tools: tools, compiledAt: time.Now()}, nil
}

// validateRequest 校验请求，返回 INVALID_REQUEST
func validateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return types.NewError(types.ErrInvalidRequest, "query is required").WithHTTPStatus(http.StatusBadRequest)
	}
	if err := validate.Struct(req); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error()).
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

// baseContext 附加会话与事件总线，不含任何工作流发射器
func (c *Coordinator) baseContext(ctx context.Context, req Request) context.Context {
	if req.SessionID != "" {
		ctx = events.WithSession(ctx, req.SessionID)
	}
	if c.opts.Bus != nil {
		ctx = events.WithBus(ctx, c.opts.Bus)
	}
	return ctx
}

// newState 构造初始状态；有会话时接续上一轮对话
func (c *Coordinator) newState(ctx context.Context, req Request) *state.QueryState {
	st := state.New(req.Query)
	st.SessionID = req.SessionID
	st.Namespaces = append([]string(nil), req.Namespaces...)

	if req.Intent != "" {
		if in, ok := state.IntentFromString(req.Intent); ok && in != state.IntentUnknown {
			st.Intent = in
			st.IntentForced = true
			st.IntentConfidence = 1.0
		}
	}

	if c.opts.Checkpoints != nil && req.SessionID != "" {
		prior, err := c.opts.Checkpoints.Load(ctx, req.SessionID)
		switch {
		case err != nil:
			c.logger.Warn("failed to load checkpoint", zap.String("session_id", req.SessionID), zap.Error(err))
		case prior != nil:
			st.Messages = append(st.Messages, prior.Messages...)
			st.SetMeta("resumed_messages", len(prior.Messages))
		}
	}
	st.AppendMessage(roleUser, req.Query)
	return st
}

const roleUser = "user"

// ProcessQuery 批量执行一次查询。失败时返回带错误记录的结果与 *types.Error
func (c *Coordinator) ProcessQuery(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	ctx = c.baseContext(ctx, req)

	st := c.newState(ctx, req)
	st.Trace("coordinator: started")

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	attempts := 0
	final, err := retry.DoWithResult(c.retryer, runCtx, func() (*state.QueryState, error) {
		attempts++
		cg, err := c.compiled(runCtx)
		if err != nil {
			return nil, err
		}
		return cg.graph.Invoke(runCtx, st.Clone())
	})
	if final == nil {
		final = st
	}

	coord := map[string]any{
		"total_latency_ms": millis(time.Since(start)),
		"attempts":         attempts,
	}

	if err != nil {
		coord["failed"] = true
		final.SetMeta("coordinator", coord)
		final.RecordError(state.ErrorRecord{
			Agent:     "coordinator",
			ErrorType: string(codeOf(runCtx, err)),
			Message:   err.Error(),
			Context:   map[string]any{"attempts": attempts, "query": req.Query},
		})
		final.Trace("coordinator: failed")
		c.recordQuery("batch", final, "failed", time.Since(start))
		c.logger.Error("query failed",
			zap.String("session_id", req.SessionID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return NewResult(final), toTypesError(runCtx, err)
	}

	final.SetMeta("coordinator", coord)
	final.Trace("coordinator: completed")

	c.saveCheckpoint(ctx, final)
	c.recordQuery("batch", final, "success", time.Since(start))
	c.submitFollowUps(ctx, final)

	c.logger.Info("query completed",
		zap.String("session_id", req.SessionID),
		zap.String("intent", string(final.Intent)),
		zap.Int("contexts", len(final.RetrievedContexts)),
		zap.Int("attempts", attempts),
		zap.Duration("latency", time.Since(start)),
	)
	return NewResult(final), nil
}

// codeOf 将运行错误归类为错误码
func codeOf(ctx context.Context, err error) types.ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.ErrTimeout
	}
	if code := types.GetErrorCode(err); code != "" {
		return code
	}
	return types.ErrInternalError
}

func toTypesError(ctx context.Context, err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	code := codeOf(ctx, err)
	status := http.StatusInternalServerError
	if code == types.ErrTimeout {
		status = http.StatusGatewayTimeout
	}
	return types.WrapError(err, code, "query processing failed").WithHTTPStatus(status)
}

// saveCheckpoint 保存检查点，失败只记录日志
func (c *Coordinator) saveCheckpoint(ctx context.Context, st *state.QueryState) {
	if c.opts.Checkpoints == nil || st.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointSaveTimeout)
	defer cancel()
	if err := c.opts.Checkpoints.Save(ctx, st.SessionID, st); err != nil {
		c.logger.Warn("failed to save checkpoint", zap.String("session_id", st.SessionID), zap.Error(err))
	}
}

// submitFollowUps 以脱离请求生命周期的 context 提交追问生成。
// ctx 不能是工作流节点的 context
func (c *Coordinator) submitFollowUps(ctx context.Context, st *state.QueryState) {
	if c.opts.FollowUps == nil || st.SessionID == "" || strings.TrimSpace(st.Answer) == "" {
		return
	}
	if cg, ok := c.graph.Get(); ok && !cg.tools.FollowUps {
		return
	}

	snapshot := st.Clone()
	detached := context.WithoutCancel(ctx)
	err := c.opts.Pool.Submit(detached, taskFollowUps, func(ctx context.Context) error {
		c.opts.FollowUps.Run(ctx, snapshot)
		return nil
	})
	if err != nil {
		c.recordBackground("rejected")
		c.logger.Warn("failed to submit follow-up generation", zap.String("session_id", st.SessionID), zap.Error(err))
		return
	}
	c.recordBackground("submitted")
}

// FollowUpQuestions 返回会话缓存的追问，未生成时为空
func (c *Coordinator) FollowUpQuestions(ctx context.Context, sessionID string) ([]string, error) {
	if c.opts.FollowUps == nil {
		return nil, nil
	}
	if sessionID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session_id is required").WithHTTPStatus(http.StatusBadRequest)
	}
	return c.opts.FollowUps.Questions(ctx, sessionID)
}

// Checkpoints 返回检查点存储（可能为 nil）
func (c *Coordinator) Checkpoints() checkpoint.Store {
	return c.opts.Checkpoints
}

// ClearSession 删除会话检查点
func (c *Coordinator) ClearSession(ctx context.Context, sessionID string) (bool, error) {
	if c.opts.Checkpoints == nil {
		return false, nil
	}
	return c.opts.Checkpoints.Clear(ctx, sessionID)
}

// Close 等待后台任务结束（仅关闭自建的任务池）
func (c *Coordinator) Close() {
	if c.ownPool {
		c.opts.Pool.Close()
	}
}

// =============================================================================
// 指标
// =============================================================================

func (c *Coordinator) recordQuery(mode string, st *state.QueryState, status string, d time.Duration) {
	if c.opts.Metrics == nil {
		return
	}
	c.opts.Metrics.RecordQuery(mode, string(st.Intent), status, d)
	if status != "success" {
		return
	}
	counts := rag.CountByChannel(st.RetrievedContexts)
	for _, ch := range []rag.Channel{rag.ChannelVector, rag.ChannelBM25, rag.ChannelGraphLocal, rag.ChannelGraphGlobal} {
		if n := counts.For(ch); n > 0 {
			c.opts.Metrics.RecordChannelResults(string(ch), n)
		}
	}
}

func (c *Coordinator) recordCompilation(status string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordGraphCompilation(status)
	}
}

func (c *Coordinator) recordBackground(status string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordBackgroundTask(taskFollowUps, status)
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
