// =============================================================================
// 📦 AegisRAG 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + .env 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvFiles(".env").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（.env 不覆盖已存在的环境变量）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "AEGIS"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AegisRAG 的完整配置结构
type Config struct {
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Redis       RedisConfig       `yaml:"redis" env:"REDIS"`
	Database    DatabaseConfig    `yaml:"database" env:"DATABASE"`
	LLM         LLMConfig         `yaml:"llm" env:"LLM"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" env:"RETRIEVAL"`
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`
	Auth        AuthConfig        `yaml:"auth" env:"AUTH"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" env:"RATE_LIMIT"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
	NATS        NATSConfig        `yaml:"nats" env:"NATS"`
	Tools       ToolsFileConfig   `yaml:"tools" env:"TOOLS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort    int           `yaml:"http_port" env:"HTTP_PORT" validate:"min=1,max=65535"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 流式接口需要较长的写超时
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" validate:"min=0"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
	// 输出路径，stdout/stderr 以外视为文件，按大小轮转
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
	MaxSizeMB        int      `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups       int      `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays       int      `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress         bool     `yaml:"compress" env:"COMPRESS"`
}

// RedisConfig Redis 配置。关闭时缓存回退到进程内存
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR" validate:"required_if=Enabled true"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB" validate:"min=0"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER" validate:"oneof=postgres mysql sqlite"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LLMConfig OpenAI 兼容后端配置
type LLMConfig struct {
	BaseURL         string        `yaml:"base_url" env:"BASE_URL" validate:"required,url"`
	APIKey          string        `yaml:"api_key" env:"API_KEY"`
	Model           string        `yaml:"model" env:"MODEL" validate:"required"`
	ClassifierModel string        `yaml:"classifier_model" env:"CLASSIFIER_MODEL"`
	EmbeddingModel  string        `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxTokens       int           `yaml:"max_tokens" env:"MAX_TOKENS" validate:"min=1"`
	Temperature     float64       `yaml:"temperature" env:"TEMPERATURE" validate:"min=0,max=2"`
	ContextBudget   int           `yaml:"context_budget" env:"CONTEXT_BUDGET" validate:"min=1"`
}

// WeightsConfig 四路检索名义权重
type WeightsConfig struct {
	Vector float64 `yaml:"vector" validate:"min=0"`
	BM25   float64 `yaml:"bm25" validate:"min=0"`
	Local  float64 `yaml:"local" validate:"min=0"`
	Global float64 `yaml:"global" validate:"min=0"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k" env:"TOP_K" validate:"min=1"`
	PerChannelTopK int     `yaml:"per_channel_top_k" env:"PER_CHANNEL_TOP_K" validate:"min=1"`
	RRFK           float64 `yaml:"rrf_k" env:"RRF_K" validate:"gt=0"`
	MinScore       float64 `yaml:"min_score" env:"MIN_SCORE" validate:"min=0,max=1"`
	// 向量后端: memory, pgvector
	VectorBackend string `yaml:"vector_backend" env:"VECTOR_BACKEND" validate:"oneof=memory pgvector"`
	// 语料目录，启动时载入内存向量库与 BM25 索引
	CorpusPath string `yaml:"corpus_path" env:"CORPUS_PATH"`
	// 知识图谱 JSON 文件
	GraphPath         string                   `yaml:"graph_path" env:"GRAPH_PATH"`
	IntentWeights     map[string]WeightsConfig `yaml:"intent_weights" validate:"dive"`
	SamplesPerChannel int                      `yaml:"samples_per_channel" env:"SAMPLES_PER_CHANNEL" validate:"min=0"`
}

// CoordinatorConfig 编排器配置
type CoordinatorConfig struct {
	GraphTTL       time.Duration `yaml:"graph_ttl" env:"GRAPH_TTL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 批量接口的最大尝试次数
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" validate:"min=1"`
	ConversationTTL   time.Duration `yaml:"conversation_ttl" env:"CONVERSATION_TTL"`
	FollowUpTTL       time.Duration `yaml:"follow_up_ttl" env:"FOLLOW_UP_TTL"`
	MaxFollowUps      int           `yaml:"max_follow_ups" env:"MAX_FOLLOW_UPS" validate:"min=0"`
	BackgroundWorkers int           `yaml:"background_workers" env:"BACKGROUND_WORKERS" validate:"min=1"`
	// 检查点后端: memory, redis, database
	CheckpointBackend string        `yaml:"checkpoint_backend" env:"CHECKPOINT_BACKEND" validate:"oneof=memory redis database"`
	CheckpointTTL     time.Duration `yaml:"checkpoint_ttl" env:"CHECKPOINT_TTL"`
}

// AuthConfig JWT 认证
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required_if=Enabled true"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// RateLimitConfig 按 IP 限流
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	RPS     float64 `yaml:"rps" env:"RPS" validate:"min=0"`
	Burst   int     `yaml:"burst" env:"BURST" validate:"min=0"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"min=0,max=1"`
}

// NATSConfig 阶段事件转发
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL" validate:"required_if=Enabled true"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// ToolsFileConfig 工具/特性配置文件位置
type ToolsFileConfig struct {
	Path  string `yaml:"path" env:"PATH"`
	Watch bool   `yaml:"watch" env:"WATCH"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	envFiles   []string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvFiles 设置 .env 文件，不存在的文件被忽略
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = append(l.envFiles, files...)
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadEnvFiles 读取 .env 文件（godotenv.Load 不覆盖已存在的变量）
func (l *Loader) loadEnvFiles() error {
	for _, f := range l.envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 验证与辅助函数
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 按 validate 标签校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation errors: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation errors: %w", err)
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// URL 返回迁移工具使用的数据库 URL
func (d *DatabaseConfig) URL() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return "sqlite://" + d.Name
	default:
		return ""
	}
}
