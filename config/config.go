// =============================================================================
// 📦 RagFlow 配置结构
// =============================================================================
// 引擎各管线阶段的完整配置定义：存储、摄取、索引、检索、重排、上下文组装、
// 评估与治理、缓存、日志与遥测。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（RAGFLOW_ 前缀）
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 RagFlow 引擎的完整配置结构
type Config struct {
	// Store 存储层配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Database 数据库配置（store.backend=database 时生效）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Ingest 摄取/分块配置
	Ingest IngestConfig `yaml:"ingest" env:"INGEST"`

	// Lexical BM25 词法索引配置
	Lexical LexicalConfig `yaml:"lexical" env:"LEXICAL"`

	// Dense 稠密索引配置（可选）
	Dense DenseConfig `yaml:"dense" env:"DENSE"`

	// Enhancer 查询增强配置
	Enhancer EnhancerConfig `yaml:"enhancer" env:"ENHANCER"`

	// Retrieval 混合检索/融合配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Rerank 重排序配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Assembler 上下文组装配置
	Assembler AssemblerConfig `yaml:"assembler" env:"ASSEMBLER"`

	// Eval 评估与治理配置
	Eval EvalConfig `yaml:"eval" env:"EVAL"`

	// Cache 查询结果缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StoreConfig 存储层配置
type StoreConfig struct {
	// 后端类型: memory, database
	Backend string `yaml:"backend" env:"BACKEND"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite (纯 Go), sqlite3 (cgo)
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// IngestConfig 摄取/分块配置
type IngestConfig struct {
	// 分块策略: fixed, semantic, proposition
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 目标分块大小（token 数）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 分块重叠（token 数，仅 fixed 策略）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 最小分块大小（token 数），过小的尾块并入前块
	MinChunkSize int `yaml:"min_chunk_size" env:"MIN_CHUNK_SIZE"`
	// 分词器: estimator, tiktoken
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
	// tiktoken 模型名（tokenizer=tiktoken 时生效）
	TokenizerModel string `yaml:"tokenizer_model" env:"TOKENIZER_MODEL"`
	// 文档摘要句数（抽取式，供层级提升使用）
	SummarySentences int `yaml:"summary_sentences" env:"SUMMARY_SENTENCES"`
	// 并发摄取文档数上限
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// LexicalConfig BM25 词法索引配置
type LexicalConfig struct {
	// BM25 k1 参数（词频饱和）
	K1 float64 `yaml:"k1" env:"K1"`
	// BM25 b 参数（长度归一化）
	B float64 `yaml:"b" env:"B"`
}

// DenseConfig 稠密索引配置
type DenseConfig struct {
	// 是否启用稠密索引
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 嵌入提供者: hashing, http
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 嵌入模型名（http 提供者）
	Model string `yaml:"model" env:"MODEL"`
	// API 基础 URL（http 提供者）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（http 提供者）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 向量维度（hashing 提供者使用；http 提供者以返回为准）
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 客户端限速（每秒请求数，0 表示不限）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限速突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 索引后端: scan, hnsw
	Backend string `yaml:"backend" env:"BACKEND"`
	// HNSW 参数（backend=hnsw 时生效）
	HNSW HNSWConfig `yaml:"hnsw" env:"HNSW"`
}

// HNSWConfig HNSW 近似索引参数
type HNSWConfig struct {
	// 每节点最大连接数
	M int `yaml:"m" env:"M"`
	// 构建时动态候选列表大小
	EfConstruction int `yaml:"ef_construction" env:"EF_CONSTRUCTION"`
	// 搜索时动态候选列表大小
	EfSearch int `yaml:"ef_search" env:"EF_SEARCH"`
}

// EnhancerConfig 查询增强配置
type EnhancerConfig struct {
	// 扩展词数上限
	MaxExpansions int `yaml:"max_expansions" env:"MAX_EXPANSIONS"`
	// 词图邻居最小共现权重
	MinEdgeWeight float64 `yaml:"min_edge_weight" env:"MIN_EDGE_WEIGHT"`
	// 是否生成 step-back 泛化变体
	EnableStepBack bool `yaml:"enable_step_back" env:"ENABLE_STEP_BACK"`
	// 是否应用静态同义词规则
	EnableSynonyms bool `yaml:"enable_synonyms" env:"ENABLE_SYNONYMS"`
}

// RetrievalConfig 混合检索/融合配置
type RetrievalConfig struct {
	// RRF 常数 k（抑制 rank-1 支配）
	RRFK int `yaml:"rrf_k" env:"RRF_K"`
	// 融合后候选池上限（进入 rerank 前）
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 默认返回条数（请求未指定时）
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 图扩展提升系数
	GraphBoostFactor float64 `yaml:"graph_boost_factor" env:"GRAPH_BOOST_FACTOR"`
	// 图扩展提升上限（防止放大失控）
	GraphBoostCeiling float64 `yaml:"graph_boost_ceiling" env:"GRAPH_BOOST_CEILING"`
	// 图扩展最小边权重
	GraphMinEdgeWeight float64 `yaml:"graph_min_edge_weight" env:"GRAPH_MIN_EDGE_WEIGHT"`
	// 摘要命中时的统一提升量
	SummaryBoost float64 `yaml:"summary_boost" env:"SUMMARY_BOOST"`
	// 摘要命中阈值（查询词覆盖率）
	SummaryThreshold float64 `yaml:"summary_threshold" env:"SUMMARY_THRESHOLD"`
	// 纠偏重试阈值（top-3 查询词覆盖率低于该值触发一次重试）
	CorrectiveThreshold float64 `yaml:"corrective_threshold" env:"CORRECTIVE_THRESHOLD"`
	// 最低融合分过滤（0 表示不过滤；纠偏重试时自动丢弃）
	MinScore float64 `yaml:"min_score" env:"MIN_SCORE"`
}

// RerankConfig 重排序配置
type RerankConfig struct {
	// 默认提供者: overlap, http
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API 基础 URL（http 提供者）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（http 提供者）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名（http 提供者）
	Model string `yaml:"model" env:"MODEL"`
	// 单次请求超时，超时降级到 overlap
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 送入重排的候选数上限
	TopN int `yaml:"top_n" env:"TOP_N"`
	// 重排分与融合分的混合权重（重排分占比）
	BlendWeight float64 `yaml:"blend_weight" env:"BLEND_WEIGHT"`
	// 客户端限速（每秒请求数，0 表示不限）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限速突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// AssemblerConfig 上下文组装配置
type AssemblerConfig struct {
	// 默认上下文字符预算（请求未指定时）
	MaxContextChars int `yaml:"max_context_chars" env:"MAX_CONTEXT_CHARS"`
	// 块间分隔符（计入预算）
	Separator string `yaml:"separator" env:"SEPARATOR"`
}

// EvalConfig 评估与治理配置
type EvalConfig struct {
	// 产物输出目录
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// 账本文件路径（JSONL，追加写）
	LedgerPath string `yaml:"ledger_path" env:"LEDGER_PATH"`
	// 证据包签名密钥（HS256；为空则不签名）
	SigningKey string `yaml:"signing_key" env:"SIGNING_KEY"`
	// 单条查询的评估超时
	CaseTimeout time.Duration `yaml:"case_timeout" env:"CASE_TIMEOUT"`
}

// CacheConfig 查询结果缓存配置（Redis）
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 默认过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否注册 Prometheus 指标
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 运行结束时写出的 textfile 快照路径（为空则不写）
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔍 校验与辅助
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Backend {
	case "memory", "database":
	default:
		errs = append(errs, fmt.Sprintf("unknown store backend: %s", c.Store.Backend))
	}
	if c.Store.Backend == "database" {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Sprintf("unknown database driver: %s", c.Database.Driver))
		}
	}

	switch c.Ingest.Strategy {
	case "fixed", "semantic", "proposition":
	default:
		errs = append(errs, fmt.Sprintf("unknown chunking strategy: %s", c.Ingest.Strategy))
	}
	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, "ingest.chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, "ingest.chunk_overlap must be in [0, chunk_size)")
	}

	if c.Lexical.K1 <= 0 {
		errs = append(errs, "lexical.k1 must be positive")
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		errs = append(errs, "lexical.b must be between 0 and 1")
	}

	if c.Dense.Enabled {
		switch c.Dense.Provider {
		case "hashing", "http":
		default:
			errs = append(errs, fmt.Sprintf("unknown dense provider: %s", c.Dense.Provider))
		}
		switch c.Dense.Backend {
		case "scan", "hnsw":
		default:
			errs = append(errs, fmt.Sprintf("unknown dense backend: %s", c.Dense.Backend))
		}
		if c.Dense.Provider == "hashing" && c.Dense.Dimensions <= 0 {
			errs = append(errs, "dense.dimensions must be positive for the hashing provider")
		}
		if c.Dense.Provider == "http" && c.Dense.BaseURL == "" {
			errs = append(errs, "dense.base_url is required for the http provider")
		}
	}

	if c.Retrieval.RRFK <= 0 {
		errs = append(errs, "retrieval.rrf_k must be positive")
	}
	if c.Retrieval.PoolSize <= 0 {
		errs = append(errs, "retrieval.pool_size must be positive")
	}
	if c.Retrieval.CorrectiveThreshold < 0 || c.Retrieval.CorrectiveThreshold > 1 {
		errs = append(errs, "retrieval.corrective_threshold must be between 0 and 1")
	}

	switch c.Rerank.Provider {
	case "overlap", "http":
	default:
		errs = append(errs, fmt.Sprintf("unknown rerank provider: %s", c.Rerank.Provider))
	}
	if c.Rerank.Provider == "http" && c.Rerank.BaseURL == "" {
		errs = append(errs, "rerank.base_url is required for the http provider")
	}

	if c.Assembler.MaxContextChars <= 0 {
		errs = append(errs, "assembler.max_context_chars must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
