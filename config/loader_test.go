// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证存储默认值
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "ragflow.db", cfg.Database.Name)

	// 验证摄取默认值
	assert.Equal(t, "semantic", cfg.Ingest.Strategy)
	assert.Equal(t, 512, cfg.Ingest.ChunkSize)
	assert.Equal(t, 64, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "estimator", cfg.Ingest.Tokenizer)

	// 验证 BM25 默认值
	assert.Equal(t, 1.2, cfg.Lexical.K1)
	assert.Equal(t, 0.75, cfg.Lexical.B)

	// 验证检索默认值
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, 50, cfg.Retrieval.PoolSize)
	assert.Equal(t, 0.34, cfg.Retrieval.CorrectiveThreshold)

	// 验证稠密索引默认关闭
	assert.False(t, cfg.Dense.Enabled)
	assert.Equal(t, "hashing", cfg.Dense.Provider)
	assert.Equal(t, "scan", cfg.Dense.Backend)

	// 验证组装与日志默认值
	assert.Equal(t, 4000, cfg.Assembler.MaxContextChars)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDefaultConfig_Valid(t *testing.T) {
	// 默认配置必须通过校验
	require.NoError(t, DefaultConfig().Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
store:
  backend: "database"

database:
  driver: "postgres"
  host: "db.example.com"
  port: 5433

ingest:
  strategy: "fixed"
  chunk_size: 256
  chunk_overlap: 32

lexical:
  k1: 1.5
  b: 0.6

retrieval:
  rrf_k: 30
  pool_size: 20

dense:
  enabled: true
  provider: "hashing"
  dimensions: 128
  backend: "hnsw"
  hnsw:
    m: 8
    ef_search: 50

rerank:
  provider: "http"
  base_url: "https://api.cohere.com"
  timeout: 3s

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, "database", cfg.Store.Backend)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)

	assert.Equal(t, "fixed", cfg.Ingest.Strategy)
	assert.Equal(t, 256, cfg.Ingest.ChunkSize)
	assert.Equal(t, 32, cfg.Ingest.ChunkOverlap)

	assert.Equal(t, 1.5, cfg.Lexical.K1)
	assert.Equal(t, 0.6, cfg.Lexical.B)

	assert.Equal(t, 30, cfg.Retrieval.RRFK)
	assert.Equal(t, 20, cfg.Retrieval.PoolSize)

	assert.True(t, cfg.Dense.Enabled)
	assert.Equal(t, 128, cfg.Dense.Dimensions)
	assert.Equal(t, "hnsw", cfg.Dense.Backend)
	assert.Equal(t, 8, cfg.Dense.HNSW.M)
	assert.Equal(t, 50, cfg.Dense.HNSW.EfSearch)

	assert.Equal(t, "http", cfg.Rerank.Provider)
	assert.Equal(t, 3*time.Second, cfg.Rerank.Timeout)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未覆盖的字段保持默认
	assert.Equal(t, 4000, cfg.Assembler.MaxContextChars)
	assert.Equal(t, "\n\n", cfg.Assembler.Separator)
	require.NoError(t, cfg.Validate())
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("RAGFLOW_RETRIEVAL_RRF_K", "45")
	t.Setenv("RAGFLOW_INGEST_STRATEGY", "proposition")
	t.Setenv("RAGFLOW_DENSE_ENABLED", "true")
	t.Setenv("RAGFLOW_DENSE_TIMEOUT", "2s")
	t.Setenv("RAGFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/ragflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.Retrieval.RRFK)
	assert.Equal(t, "proposition", cfg.Ingest.Strategy)
	assert.True(t, cfg.Dense.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Dense.Timeout)
	assert.Equal(t, []string{"stdout", "/tmp/ragflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvPrefixCustom(t *testing.T) {
	t.Setenv("RF_LEXICAL_K1", "2.0")

	cfg, err := NewLoader().WithEnvPrefix("RF").Load()
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Lexical.K1)
}

func TestLoader_ValidatorRejects(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return assert.AnError }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

// --- Validate 测试 ---

func TestConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{
			name:   "unknown store backend",
			mutate: func(c *Config) { c.Store.Backend = "etcd" },
			substr: "store backend",
		},
		{
			name:   "unknown strategy",
			mutate: func(c *Config) { c.Ingest.Strategy = "random" },
			substr: "chunking strategy",
		},
		{
			name:   "overlap >= chunk size",
			mutate: func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize },
			substr: "chunk_overlap",
		},
		{
			name:   "bad b",
			mutate: func(c *Config) { c.Lexical.B = 1.5 },
			substr: "lexical.b",
		},
		{
			name: "http dense without base url",
			mutate: func(c *Config) {
				c.Dense.Enabled = true
				c.Dense.Provider = "http"
			},
			substr: "dense.base_url",
		},
		{
			name:   "http rerank without base url",
			mutate: func(c *Config) { c.Rerank.Provider = "http" },
			substr: "rerank.base_url",
		},
		{
			name:   "zero budget",
			mutate: func(c *Config) { c.Assembler.MaxContextChars = 0 },
			substr: "max_context_chars",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

// --- DSN 测试 ---

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Name: "d", SSLMode: "disable"}
	assert.Contains(t, pg.DSN(), "host=h")
	assert.Contains(t, pg.DSN(), "dbname=d")

	my := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "d"}
	assert.Contains(t, my.DSN(), "@tcp(h:3306)/d")

	sq := DatabaseConfig{Driver: "sqlite", Name: "ragflow.db"}
	assert.Equal(t, "ragflow.db", sq.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Equal(t, "", unknown.DSN())
}
