package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klapom/aegisrag/rag"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 时间记忆配置
type Config struct {
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 每个会话保留的最大条目数
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// 检索时扫描的最近条目数
	ScanLimit int `yaml:"scan_limit" json:"scan_limit"`

	// 新近度半衰期
	HalfLife time.Duration `yaml:"half_life" json:"half_life"`

	// 会话记忆过期时间
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "aegis",
		MaxEntries: 500,
		ScanLimit:  200,
		HalfLife:   24 * time.Hour,
		TTL:        7 * 24 * time.Hour,
	}
}

// Entry 一条会话记忆
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 基于 Redis 有序集合的时间记忆，分数为写入时间戳
type Store struct {
	client *redis.Client
	config Config
	now    func() time.Time
	logger *zap.Logger
}

// New 创建记忆存储
func New(client *redis.Client, config Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxEntries <= 0 {
		config.MaxEntries = def.MaxEntries
	}
	if config.ScanLimit <= 0 {
		config.ScanLimit = def.ScanLimit
	}
	if config.HalfLife <= 0 {
		config.HalfLife = def.HalfLife
	}
	return &Store{
		client: client,
		config: config,
		now:    time.Now,
		logger: logger.With(zap.String("component", "memory_store")),
	}
}

func (s *Store) key(sessionID string) string {
	if s.config.KeyPrefix == "" {
		return "memory:" + sessionID
	}
	return s.config.KeyPrefix + ":memory:" + sessionID
}

// Remember 追加一条记忆，超出 MaxEntries 时淘汰最旧的条目
func (s *Store) Remember(ctx context.Context, e Entry) (Entry, error) {
	if e.SessionID == "" {
		return Entry{}, fmt.Errorf("session id is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal memory entry: %w", err)
	}

	key := s.key(e.SessionID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: data})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-s.config.MaxEntries-1))
	if s.config.TTL > 0 {
		pipe.Expire(ctx, key, s.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, fmt.Errorf("store memory entry: %w", err)
	}
	return e, nil
}

// Recent 按时间倒序返回最近 limit 条记忆
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.config.ScanLimit
	}
	raw, err := s.client.ZRevRange(ctx, s.key(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load memory entries: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			s.logger.Warn("skipping malformed memory entry", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Forget 删除会话的全部记忆
func (s *Store) Forget(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Search 实现 rag.Searcher。req.Namespaces 作为会话 ID 列表；
// 分数 = 关键词覆盖率 × 新近度衰减。
func (s *Store) Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResponse, error) {
	terms := rag.Tokenize(req.Query)
	if len(terms) == 0 || len(req.Namespaces) == 0 {
		return &rag.SearchResponse{}, nil
	}

	now := s.now()
	var out []rag.RetrievedContext
	for _, session := range req.Namespaces {
		entries, err := s.Recent(ctx, session, s.config.ScanLimit)
		if err != nil {
			return nil, rag.Transient(rag.ChannelMemory, err)
		}
		for _, e := range entries {
			overlap := coverage(terms, e.Text)
			if overlap == 0 {
				continue
			}
			score := overlap * s.decay(now.Sub(e.CreatedAt))
			out = append(out, rag.RetrievedContext{
				ID:     e.ID,
				Text:   e.Text,
				Score:  rag.NormalizeScore(score),
				Source: "memory:" + e.SessionID,
				Metadata: map[string]any{
					"role":       e.Role,
					"created_at": e.CreatedAt.Format(time.RFC3339),
					"session_id": e.SessionID,
				},
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if req.TopK > 0 && len(out) > req.TopK {
		out = out[:req.TopK]
	}
	return &rag.SearchResponse{Contexts: rag.TagChannel(out, rag.ChannelMemory)}, nil
}

func (s *Store) decay(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(s.config.HalfLife))
}

func coverage(terms []string, text string) float64 {
	words := make(map[string]bool)
	for _, w := range rag.Tokenize(text) {
		words[w] = true
	}
	hit := 0
	for _, t := range terms {
		if words[strings.ToLower(t)] {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}
