// =============================================================================
// 📦 RagFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值。BM25/RRF/纠偏阈值等算法常量取文献默认值，
// 可按语料调优。
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Store:     DefaultStoreConfig(),
		Database:  DefaultDatabaseConfig(),
		Ingest:    DefaultIngestConfig(),
		Lexical:   DefaultLexicalConfig(),
		Dense:     DefaultDenseConfig(),
		Enhancer:  DefaultEnhancerConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Rerank:    DefaultRerankConfig(),
		Assembler: DefaultAssemblerConfig(),
		Eval:      DefaultEvalConfig(),
		Cache:     DefaultCacheConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultStoreConfig 返回默认存储层配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: "memory",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "ragflow",
		Password:        "",
		Name:            "ragflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultIngestConfig 返回默认摄取配置
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Strategy:         "semantic",
		ChunkSize:        512,
		ChunkOverlap:     64,
		MinChunkSize:     32,
		Tokenizer:        "estimator",
		TokenizerModel:   "gpt-4o-mini",
		SummarySentences: 3,
		Concurrency:      4,
	}
}

// DefaultLexicalConfig 返回默认 BM25 配置
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		K1: 1.2,
		B:  0.75,
	}
}

// DefaultDenseConfig 返回默认稠密索引配置
func DefaultDenseConfig() DenseConfig {
	return DenseConfig{
		Enabled:        false,
		Provider:       "hashing",
		Model:          "",
		BaseURL:        "",
		APIKey:         "",
		Dimensions:     256,
		Timeout:        10 * time.Second,
		RateLimitRPS:   0,
		RateLimitBurst: 1,
		Backend:        "scan",
		HNSW:           DefaultHNSWConfig(),
	}
}

// DefaultHNSWConfig 返回默认 HNSW 参数
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
	}
}

// DefaultEnhancerConfig 返回默认查询增强配置
func DefaultEnhancerConfig() EnhancerConfig {
	return EnhancerConfig{
		MaxExpansions:  5,
		MinEdgeWeight:  0.3,
		EnableStepBack: true,
		EnableSynonyms: true,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		RRFK:                60,
		PoolSize:            50,
		TopK:                5,
		GraphBoostFactor:    0.01,
		GraphBoostCeiling:   0.03,
		GraphMinEdgeWeight:  0.3,
		SummaryBoost:        0.01,
		SummaryThreshold:    0.5,
		CorrectiveThreshold: 0.34,
		MinScore:            0,
	}
}

// DefaultRerankConfig 返回默认重排配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Provider:       "overlap",
		BaseURL:        "",
		APIKey:         "",
		Model:          "rerank-v3.5",
		Timeout:        5 * time.Second,
		TopN:           50,
		BlendWeight:    0.5,
		RateLimitRPS:   0,
		RateLimitBurst: 1,
	}
}

// DefaultAssemblerConfig 返回默认组装配置
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MaxContextChars: 4000,
		Separator:       "\n\n",
	}
}

// DefaultEvalConfig 返回默认评估配置
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		OutputDir:   "eval_out",
		LedgerPath:  "eval_out/claims_ledger.jsonl",
		SigningKey:  "",
		CaseTimeout: 30 * time.Second,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		TTL:          5 * time.Minute,
		PoolSize:     10,
		MinIdleConns: 2,
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
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:      true,
		Namespace:    "ragflow",
		TextfilePath: "",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ragflow",
		SampleRate:   0.1,
	}
}
