// =============================================================================
// Package ragflow — Hybrid Retrieval-Augmented Generation Engine
// =============================================================================
// Top-level entry point wiring the full pipeline together: document ingestion
// with content-hash change detection, hybrid retrieval (BM25 + optional dense
// fusion via RRF), term-graph and hierarchical boosts, corrective retry,
// reranking, budget-capped context assembly, and case evaluation backed by a
// hash-chained claims ledger.
//
// Usage:
//
//	import "github.com/BaSui01/ragflow"
//
//	eng, err := ragflow.New(ctx, config.DefaultConfig())
//	stats, err := eng.Ingest(ctx, ragflow.Spec{}, sources)
//	resp, err := eng.Query(ctx, ragflow.QueryRequest{Prompt: "redis eviction policy"})
//
// Sub-packages stay importable on their own; the aliases below exist so most
// callers only ever need this package and config.
//
// =============================================================================
package ragflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/assemble"
	"github.com/BaSui01/ragflow/eval"
	"github.com/BaSui01/ragflow/index"
	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/rerank"
	"github.com/BaSui01/ragflow/retrieve"
	"github.com/BaSui01/ragflow/store"
)

// ======
// 再导出类型
// ======

// Spec 摄取批次的分块/嵌入参数覆盖。
type Spec = ingest.Spec

// Source 单个待摄取来源。
type Source = ingest.Source

// SourceFailure 摄取中单个来源的失败记录。
type SourceFailure = ingest.SourceFailure

// IngestStats 一次摄取批次的统计结果。
type IngestStats = ingest.Stats

// Toggles 查询流水线的能力开关。
type Toggles = eval.Toggles

// ContextBlock 交给生成步骤的最终上下文契约。
type ContextBlock = assemble.ContextBlock

// Trace 检索全链路的解释性轨迹。
type Trace = retrieve.Trace

// Candidate 轨迹中的单个候选块。
type Candidate = retrieve.Candidate

// Case 单条评估用例。
type Case = eval.Case

// Report 一次评估运行的汇总报告。
type Report = eval.Report

// ======
// 查询契约
// ======

// QueryRequest 单次查询请求。
type QueryRequest struct {
	// Prompt 用户查询文本。
	Prompt string `json:"prompt"`

	// TopK 进入组装的候选上限；非正时回落到配置值。
	TopK int `json:"top_k,omitempty"`

	// MaxContextChars 上下文字符预算；非正时回落到配置值。
	MaxContextChars int `json:"max_context_chars,omitempty"`

	// Toggles 本次查询的能力开关。
	Toggles Toggles `json:"toggles,omitempty"`
}

// QueryResponse 单次查询结果：上下文块加完整轨迹。
type QueryResponse struct {
	Context ContextBlock `json:"context"`
	Trace   Trace        `json:"trace"`
}

// ======
// 引擎选项
// ======

// Option 配置 New 创建的引擎。
type Option func(*options)

type options struct {
	logger   *zap.Logger
	store    store.Store
	embedder index.Embedder
	reranker rerank.Reranker
	cache    *cache.QueryCache
	metrics  *metrics.Collector
}

// WithLogger 注入自定义 zap logger。默认 zap.NewNop()。
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore 注入预构建的存储层，覆盖 store.backend 配置。
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithEmbedder 注入预构建的嵌入器，覆盖 dense.provider 配置。
func WithEmbedder(e index.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithReranker 注入预构建的重排器并以其 Name() 注册为可选 provider。
func WithReranker(r rerank.Reranker) Option {
	return func(o *options) { o.reranker = r }
}

// WithCache 注入预构建的查询缓存，覆盖 cache.enabled 配置。
func WithCache(c *cache.QueryCache) Option {
	return func(o *options) { o.cache = c }
}

// WithMetrics 注入预构建的指标收集器，覆盖 metrics.enabled 配置。
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}
