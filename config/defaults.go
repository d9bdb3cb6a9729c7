// =============================================================================
// 📦 AegisRAG 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		LLM:         DefaultLLMConfig(),
		Retrieval:   DefaultRetrievalConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Auth:        AuthConfig{Issuer: "aegisrag"},
		RateLimit:   RateLimitConfig{RPS: 20, Burst: 40},
		Telemetry:   DefaultTelemetryConfig(),
		NATS:        NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "aegis.phase"},
		Tools:       ToolsFileConfig{Path: "tools.yaml", Watch: true},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
		MaxSizeMB:        100,
		MaxBackups:       5,
		MaxAgeDays:       28,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "aegis",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "aegis",
		Name:            "aegisrag",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置（本地 Ollama 的 OpenAI 兼容端点）
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:         "http://localhost:11434/v1",
		Model:           "llama3.2:8b",
		ClassifierModel: "llama3.2:3b",
		EmbeddingModel:  "bge-m3",
		Timeout:         2 * time.Minute,
		MaxTokens:       1024,
		Temperature:     0.2,
		ContextBudget:   3000,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:           10,
		PerChannelTopK: 20,
		RRFK:           60,
		MinScore:       0,
		VectorBackend:  "memory",
		IntentWeights: map[string]WeightsConfig{
			"hybrid": {Vector: 0.4, BM25: 0.3, Local: 0.2, Global: 0.1},
			"vector": {Vector: 0.6, BM25: 0.4},
			"graph":  {Vector: 0.1, BM25: 0.1, Local: 0.5, Global: 0.3},
			"memory": {Vector: 0.5, BM25: 0.5},
		},
		SamplesPerChannel: 3,
	}
}

// DefaultCoordinatorConfig 返回默认编排器配置
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		GraphTTL:          60 * time.Second,
		RequestTimeout:    90 * time.Second,
		MaxAttempts:       2,
		ConversationTTL:   30 * time.Minute,
		FollowUpTTL:       5 * time.Minute,
		MaxFollowUps:      3,
		BackgroundWorkers: 8,
		CheckpointBackend: "memory",
		CheckpointTTL:     24 * time.Hour,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "aegisrag",
		SampleRate:   0.1,
	}
}
