package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8000, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Coordinator.GraphTTL)
	assert.Equal(t, 90*time.Second, cfg.Coordinator.RequestTimeout)
	assert.Equal(t, 2, cfg.Coordinator.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Coordinator.ConversationTTL)
	assert.Equal(t, 5*time.Minute, cfg.Coordinator.FollowUpTTL)
	assert.Equal(t, 60.0, cfg.Retrieval.RRFK)
	assert.Contains(t, cfg.Retrieval.IntentWeights, "hybrid")
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Coordinator.CheckpointBackend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 9000
coordinator:
  request_timeout: 45s
  checkpoint_backend: redis
redis:
  enabled: true
  addr: redis:6379
retrieval:
  top_k: 5
  intent_weights:
    graph:
      vector: 0.2
      local: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.Coordinator.RequestTimeout)
	assert.Equal(t, "redis", cfg.Coordinator.CheckpointBackend)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 0.8, cfg.Retrieval.IntentWeights["graph"].Local)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 2, cfg.Coordinator.MaxAttempts)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "none.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("AEGIS_SERVER_HTTP_PORT", "9100")
	t.Setenv("AEGIS_COORDINATOR_GRAPH_TTL", "2m")
	t.Setenv("AEGIS_LOG_OUTPUT_PATHS", "stdout, /var/log/aegis.log")
	t.Setenv("AEGIS_RATE_LIMIT_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.Coordinator.GraphTTL)
	assert.Equal(t, []string{"stdout", "/var/log/aegis.log"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoader_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AEGIS_LLM_MODEL=qwen2.5:14b\n"), 0644))
	t.Setenv("AEGIS_LLM_MODEL", "")
	require.NoError(t, os.Unsetenv("AEGIS_LLM_MODEL"))

	cfg, err := NewLoader().WithEnvFiles(path, filepath.Join(t.TempDir(), "missing.env")).Load()
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:14b", cfg.LLM.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AEGIS_SERVER_HTTP_PORT", "not-a-number")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 70000 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"bad checkpoint backend", func(c *Config) { c.Coordinator.CheckpointBackend = "etcd" }},
		{"negative weight", func(c *Config) {
			c.Retrieval.IntentWeights["hybrid"] = WeightsConfig{Vector: -1}
		}},
		{"missing llm url", func(c *Config) { c.LLM.BaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoader_CustomValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return assert.AnError
	}).Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DefaultDatabaseConfig()
	assert.Contains(t, d.DSN(), "dbname=aegisrag")
	assert.Equal(t, "postgres://aegis:@localhost:5432/aegisrag?sslmode=disable", d.URL())

	d.Driver = "sqlite"
	d.Name = "aegis.db"
	assert.Equal(t, "aegis.db", d.DSN())
	assert.Equal(t, "sqlite://aegis.db", d.URL())
}
