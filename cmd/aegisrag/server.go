package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/klapom/aegisrag/agent/answer"
	"github.com/klapom/aegisrag/agent/checkpoint"
	"github.com/klapom/aegisrag/agent/events"
	"github.com/klapom/aegisrag/agent/followup"
	"github.com/klapom/aegisrag/agent/intent"
	"github.com/klapom/aegisrag/agent/retrieval"
	"github.com/klapom/aegisrag/agent/state"
	"github.com/klapom/aegisrag/api/handlers"
	"github.com/klapom/aegisrag/config"
	"github.com/klapom/aegisrag/internal/cache"
	"github.com/klapom/aegisrag/internal/database"
	"github.com/klapom/aegisrag/internal/metrics"
	"github.com/klapom/aegisrag/internal/pool"
	"github.com/klapom/aegisrag/internal/server"
	"github.com/klapom/aegisrag/internal/telemetry"
	"github.com/klapom/aegisrag/llm"
	"github.com/klapom/aegisrag/llm/openaicompat"
	"github.com/klapom/aegisrag/llm/tokenizer"
	"github.com/klapom/aegisrag/orchestrator"
	"github.com/klapom/aegisrag/rag"
	"github.com/klapom/aegisrag/rag/graphstore"
	"github.com/klapom/aegisrag/rag/loader"
	"github.com/klapom/aegisrag/rag/memorystore"
	"github.com/klapom/aegisrag/rag/vectorstore"
)

// metricsNamespace Prometheus 指标前缀
const metricsNamespace = "aegisrag"

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组合根：按配置装配各组件，并管理关闭顺序
type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	collector   *metrics.Collector
	coordinator *orchestrator.Coordinator
	health      *handlers.HealthHandler
	manager     *server.Manager

	// 按创建顺序登记，关闭时逆序执行
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// backends 检索后端与共享基础设施
type backends struct {
	redis    *redis.Client
	db       *database.PoolManager
	kv       cache.Store
	vectors  vectorstore.Store
	keywords *rag.BM25Index
	graph    *graphstore.KnowledgeGraph
	memory   rag.Searcher
	memStore *memorystore.Store
	nats     *nats.Conn
}

// NewServer 构建完整服务；任一必需组件失败时释放已创建的资源
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (s *Server, err error) {
	s = &Server{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector(metricsNamespace, logger),
		health:    handlers.NewHealthHandler(logger),
	}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	otel, err := telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		s.onClose("telemetry", otel.Shutdown)
	}

	b, err := s.openBackends(ctx)
	if err != nil {
		return nil, err
	}

	provider := s.buildProvider()

	if err := s.ingestCorpus(ctx, b, provider); err != nil {
		return nil, err
	}

	stages := s.buildStages(b, provider)

	cps, err := s.buildCheckpoints(b)
	if err != nil {
		return nil, err
	}

	if err := s.buildCoordinator(ctx, b, provider, stages, cps); err != nil {
		return nil, err
	}

	s.manager = server.NewManager(s.routes(ctx), server.ConfigFrom(cfg.Server), logger)
	return s, nil
}

// Run 启动 HTTP 服务直到 ctx 取消，随后逆序关闭各组件
func (s *Server) Run(ctx context.Context) error {
	// Manager 逆序执行钩子
	for _, c := range s.closers {
		s.manager.OnShutdown(c.name, c.fn)
	}
	s.logger.Info("server starting", zap.Int("port", s.cfg.Server.HTTPPort))
	return s.manager.Run(ctx)
}

func (s *Server) onClose(name string, fn func(ctx context.Context) error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// close 构建失败时使用，manager 尚未接管
func (s *Server) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(ctx); err != nil {
			s.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	s.closers = nil
}

// =============================================================================
// 🗄️ 存储与消息
// =============================================================================

func (s *Server) openBackends(ctx context.Context) (*backends, error) {
	cfg := s.cfg
	b := &backends{}

	if cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = cfg.Redis.Addr
		cacheCfg.Password = cfg.Redis.Password
		cacheCfg.DB = cfg.Redis.DB
		if cfg.Redis.KeyPrefix != "" {
			cacheCfg.KeyPrefix = cfg.Redis.KeyPrefix
		}
		if cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = cfg.Redis.MinIdleConns
		}

		client, err := cache.NewRedisClient(ctx, cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		store := cache.NewRedisStore(client, cacheCfg, s.logger)
		s.onClose("redis", func(context.Context) error { return store.Close() })
		s.health.RegisterCheck(handlers.NewPingCheck("redis", store.Ping))

		b.redis = client
		b.kv = store

		memCfg := memorystore.DefaultConfig()
		memCfg.KeyPrefix = cacheCfg.KeyPrefix
		if cfg.Coordinator.ConversationTTL > 0 {
			memCfg.TTL = cfg.Coordinator.ConversationTTL
		}
		b.memStore = memorystore.New(client, memCfg, s.logger)
		b.memory = b.memStore
	} else {
		s.logger.Info("redis disabled, using in-process cache; memory channel returns no results")
		b.kv = cache.NewMemoryStore(cfg.Redis.KeyPrefix, cfg.Coordinator.FollowUpTTL, 0)
		b.memory = rag.SearcherFunc(func(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error) {
			return &rag.SearchResponse{}, nil
		})
	}

	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database, s.collector, s.logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		s.onClose("database", func(context.Context) error { return db.Close() })
		s.health.RegisterCheck(handlers.NewPingCheck("database", db.Ping))
		b.db = db
	}

	switch cfg.Retrieval.VectorBackend {
	case "pgvector":
		if b.db == nil {
			return nil, errors.New("vector backend pgvector requires database.enabled")
		}
		b.vectors = vectorstore.NewPgVectorStore(b.db.DB(), s.logger)
	default:
		b.vectors = vectorstore.NewMemoryStore(s.logger)
	}

	b.keywords = rag.NewBM25Index(rag.DefaultBM25Config(), s.logger)

	b.graph = graphstore.NewKnowledgeGraph(s.logger)
	if cfg.Retrieval.GraphPath != "" {
		if err := b.graph.LoadFile(cfg.Retrieval.GraphPath); err != nil {
			return nil, fmt.Errorf("knowledge graph: %w", err)
		}
		s.logger.Info("knowledge graph loaded",
			zap.String("path", cfg.Retrieval.GraphPath),
			zap.Int("nodes", b.graph.NodeCount()))
	}

	if cfg.NATS.Enabled {
		nc, err := events.ConnectNATS(cfg.NATS.URL, "aegisrag")
		if err != nil {
			return nil, err
		}
		s.onClose("nats", func(context.Context) error { return nc.Drain() })
		s.health.RegisterCheck(handlers.NewPingCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		}))
		b.nats = nc
	}

	return b, nil
}

// =============================================================================
// 🤖 LLM 与检索
// =============================================================================

func (s *Server) buildProvider() *llm.WrappedProvider {
	llmCfg := s.cfg.LLM
	base := openaicompat.New(openaicompat.Config{
		ProviderName:   "openai-compatible",
		APIKey:         llmCfg.APIKey,
		BaseURL:        llmCfg.BaseURL,
		DefaultModel:   llmCfg.Model,
		EmbeddingModel: llmCfg.EmbeddingModel,
		Timeout:        llmCfg.Timeout,
	}, s.logger)
	return llm.Wrap(base, s.collector,
		llm.RecoveryMiddleware(s.logger),
		llm.LoggingMiddleware(s.logger),
	)
}

// ingestCorpus 载入语料目录到向量库与 BM25 索引
func (s *Server) ingestCorpus(ctx context.Context, b *backends, embedder llm.Embedder) error {
	root := s.cfg.Retrieval.CorpusPath
	if root == "" {
		s.logger.Warn("retrieval.corpus_path not set, keyword index is empty")
		return nil
	}
	chunker := loader.NewChunker(loader.DefaultChunkerConfig(), tokenizer.ForModel(s.cfg.LLM.Model))
	ing := loader.NewIngestor(chunker, b.keywords, s.logger, loader.WithVectorStore(b.vectors, embedder))

	stats, err := ing.IngestDir(ctx, root)
	if err != nil {
		return fmt.Errorf("ingest corpus: %w", err)
	}
	s.logger.Info("corpus ingested",
		zap.String("path", root),
		zap.Int("files", stats.Files),
		zap.Int("chunks", stats.Chunks),
		zap.Int("skipped", len(stats.Skipped)))
	return nil
}

func (s *Server) buildStages(b *backends, provider *llm.WrappedProvider) orchestrator.Stages {
	cfg := s.cfg
	weights := intentWeights(cfg.Retrieval)

	graphSearcher := graphstore.NewSearcher(b.graph, s.logger)
	fourWay := rag.NewFourWaySearcher(rag.FourWayChannels{
		Vector:      vectorstore.NewSearcher(b.vectors, provider, cfg.Retrieval.MinScore, s.logger),
		BM25:        b.keywords,
		GraphLocal:  rag.WithMode(graphSearcher, "local"),
		GraphGlobal: rag.WithMode(graphSearcher, "global"),
	}, rag.FourWayConfig{
		RRFK:           int(cfg.Retrieval.RRFK),
		PerChannelTopK: cfg.Retrieval.PerChannelTopK,
	}, s.logger)

	opts := retrieval.Options{TopK: cfg.Retrieval.TopK}
	vector := retrieval.NewVectorAgent(fourWay, weights, opts, s.logger)
	graph := retrieval.NewGraphAgent(graphSearcher, opts, s.logger)

	classifierModel := cfg.LLM.ClassifierModel
	if classifierModel == "" {
		classifierModel = cfg.LLM.Model
	}
	classifierCfg := intent.DefaultConfig()
	classifierCfg.Model = classifierModel

	answerCfg := answer.DefaultConfig()
	answerCfg.Model = cfg.LLM.Model
	answerCfg.MaxTokens = cfg.LLM.MaxTokens
	answerCfg.Temperature = float32(cfg.LLM.Temperature)
	answerCfg.ContextBudget = cfg.LLM.ContextBudget

	return orchestrator.Stages{
		Classifier: intent.New(provider, classifierCfg, nil, s.logger),
		Hybrid:     retrieval.NewHybridStage(vector, graph, s.logger),
		Vector:     vector,
		Graph:      graph,
		Memory:     retrieval.NewMemoryAgent(b.memory, opts, s.logger),
		Answer:     answer.NewStage(answer.NewLLMGenerator(provider, answerCfg, s.logger), s.logger),
	}
}

// intentWeights 配置中的权重覆盖默认值
func intentWeights(rc config.RetrievalConfig) map[state.Intent]rag.Weights {
	out := map[state.Intent]rag.Weights{}
	for k, w := range rag.DefaultIntentWeights() {
		out[state.Intent(k)] = w
	}
	for k, w := range rc.IntentWeights {
		out[state.Intent(k)] = rag.Weights{Vector: w.Vector, BM25: w.BM25, Local: w.Local, Global: w.Global}
	}
	return out
}

// =============================================================================
// 💾 检查点与编排器
// =============================================================================

func (s *Server) buildCheckpoints(b *backends) (checkpoint.Store, error) {
	cc := s.cfg.Coordinator
	var store checkpoint.Store
	switch cc.CheckpointBackend {
	case "redis":
		if b.redis == nil {
			return nil, errors.New("checkpoint backend redis requires redis.enabled")
		}
		store = checkpoint.NewRedisStore(b.redis, s.cfg.Redis.KeyPrefix, cc.CheckpointTTL, s.logger)
	case "database":
		if b.db == nil {
			return nil, errors.New("checkpoint backend database requires database.enabled")
		}
		gs, err := checkpoint.NewGormStore(b.db.DB(), s.cfg.Database.AutoMigrate, s.logger)
		if err != nil {
			return nil, err
		}
		store = withDBMetrics(gs, b.db.Name(), s.collector)
	default:
		store = checkpoint.NewMemoryStore(0)
	}

	if b.memStore != nil {
		store = newRememberingStore(store, b.memStore, s.logger)
	}
	return store, nil
}

func (s *Server) buildCoordinator(ctx context.Context, b *backends, provider llm.Provider, stages orchestrator.Stages, cps checkpoint.Store) error {
	cfg := s.cfg
	cc := cfg.Coordinator

	poolCfg := pool.DefaultGoroutinePoolConfig()
	poolCfg.MaxWorkers = cc.BackgroundWorkers
	workers := pool.NewGoroutinePool(poolCfg, s.logger)
	s.onClose("background_pool", func(context.Context) error { workers.Close(); return nil })

	bus := events.NewBus(256, s.logger)
	s.onClose("event_bus", func(context.Context) error { bus.Stop(); return nil })
	events.AttachMetrics(bus, s.collector)
	if b.nats != nil {
		events.NewNATSSink(b.nats, cfg.NATS.SubjectPrefix, s.logger).Attach(bus)
	}

	fuCfg := followup.DefaultConfig()
	fuCfg.Model = cfg.LLM.Model
	if cc.MaxFollowUps > 0 {
		fuCfg.MaxQuestions = cc.MaxFollowUps
	}
	if cc.ConversationTTL > 0 {
		fuCfg.ContextTTL = cc.ConversationTTL
	}
	if cc.FollowUpTTL > 0 {
		fuCfg.QuestionsTTL = cc.FollowUpTTL
	}
	followUps := followup.NewGenerator(provider, cache.WithMetrics(b.kv, "followups", s.collector), fuCfg, s.logger)

	var tools config.ToolsLoader = config.StaticTools(config.DefaultToolsConfig())
	if cfg.Tools.Path != "" {
		tools = config.NewFileToolsLoader(cfg.Tools.Path)
	}

	coordCfg := orchestrator.DefaultConfig()
	coordCfg.IntentWeights = intentWeights(cfg.Retrieval)
	if cc.GraphTTL > 0 {
		coordCfg.GraphTTL = cc.GraphTTL
	}
	if cc.RequestTimeout > 0 {
		coordCfg.RequestTimeout = cc.RequestTimeout
	}
	if cc.MaxAttempts > 0 {
		coordCfg.MaxAttempts = cc.MaxAttempts
	}
	coordCfg.SamplesPerChannel = cfg.Retrieval.SamplesPerChannel

	coord, err := orchestrator.New(stages, coordCfg, orchestrator.Options{
		Tools:       tools,
		Checkpoints: cps,
		FollowUps:   followUps,
		Pool:        workers,
		Bus:         bus,
		Metrics:     s.collector,
	}, s.logger)
	if err != nil {
		return err
	}
	s.coordinator = coord
	s.onClose("coordinator", func(context.Context) error { coord.Close(); return nil })

	// 启动时编译一次，配置错误尽早暴露
	if _, err := coord.Graph(ctx); err != nil {
		return fmt.Errorf("compile graph: %w", err)
	}

	if cfg.Tools.Path != "" && cfg.Tools.Watch {
		w, err := config.NewFileWatcher([]string{cfg.Tools.Path}, config.WithWatcherLogger(s.logger))
		if err != nil {
			return fmt.Errorf("tools watcher: %w", err)
		}
		coord.WatchTools(w)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("tools watcher: %w", err)
		}
		s.onClose("tools_watcher", func(context.Context) error { return w.Stop() })
	}
	return nil
}

// =============================================================================
// 🌐 路由
// =============================================================================

// publicPaths 免认证路径
var publicPaths = []string{"/health", "/ready", "/version", "/metrics"}

func (s *Server) routes(ctx context.Context) http.Handler {
	cfg := s.cfg
	query := handlers.NewQueryHandler(s.coordinator, s.logger, handlers.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	session := handlers.NewSessionHandler(s.coordinator, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/query", query.HandleQuery)
	mux.HandleFunc("POST /v1/query/stream", query.HandleStream)
	mux.HandleFunc("GET /v1/query/ws", query.HandleWebSocket)
	mux.HandleFunc("GET /v1/sessions/{id}/followups", session.HandleFollowUps)
	mux.HandleFunc("GET /v1/sessions/{id}/checkpoints", session.HandleCheckpoints)
	mux.HandleFunc("DELETE /v1/sessions/{id}", session.HandleClear)
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.Handler())

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if cfg.RateLimit.Enabled {
		chain = append(chain, RateLimiter(ctx, cfg.RateLimit.RPS, cfg.RateLimit.Burst, s.logger))
	}
	if cfg.Auth.Enabled {
		chain = append(chain, JWTAuth(cfg.Auth, publicPaths, s.logger))
	}
	return Chain(mux, chain...)
}
