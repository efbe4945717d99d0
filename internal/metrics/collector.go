package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 检索管线指标收集器
// =============================================================================

// Collector 指标收集器。每个实例持有独立 Registry,多引擎互不冲突。
type Collector struct {
	registry *prometheus.Registry

	// 摄取指标
	ingestDocumentsTotal *prometheus.CounterVec
	ingestChunksTotal    *prometheus.CounterVec
	ingestBatchDuration  prometheus.Histogram
	indexVersion         prometheus.Gauge

	// 查询指标
	queryRequestsTotal     *prometheus.CounterVec
	queryStageDuration     *prometheus.HistogramVec
	queryPoolSize          prometheus.Histogram
	queryLowConfidence     prometheus.Counter
	queryCorrectiveRetries prometheus.Counter

	// 重排指标
	rerankRequestsTotal   *prometheus.CounterVec
	rerankRequestDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 评估指标
	evalCasesTotal *prometheus.CounterVec
	evalComposite  prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// 摄取指标
	c.ingestDocumentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_documents_total",
			Help:      "Total number of documents processed by ingestion",
		},
		[]string{"status"}, // status: indexed, skipped, failed
	)

	c.ingestChunksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Total number of chunks produced by ingestion",
		},
		[]string{"strategy"},
	)

	c.ingestBatchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_duration_seconds",
			Help:      "Ingestion batch duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	c.indexVersion = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_version",
			Help:      "Current retrieval index version",
		},
	)

	// 查询指标
	c.queryRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_requests_total",
			Help:      "Total number of query requests",
		},
		[]string{"status", "cache"}, // status: ok, error; cache: hit, miss, bypass
	)

	c.queryStageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query pipeline duration in seconds by stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"stage"}, // stage: retrieve, rerank, assemble, total
	)

	c.queryPoolSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_pool_size",
			Help:      "Candidate pool size after fusion",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	c.queryLowConfidence = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_low_confidence_total",
			Help:      "Total number of queries finishing with a low confidence signal",
		},
	)

	c.queryCorrectiveRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_corrective_retries_total",
			Help:      "Total number of corrective retrieval retries",
		},
	)

	// 重排指标
	c.rerankRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_requests_total",
			Help:      "Total number of rerank invocations",
		},
		[]string{"provider", "status"}, // status: ok, fallback, error
	)

	c.rerankRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rerank_request_duration_seconds",
			Help:      "Rerank invocation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 评估指标
	c.evalCasesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eval_cases_total",
			Help:      "Total number of evaluation cases run",
		},
		[]string{"status"}, // status: ok, failed
	)

	c.evalComposite = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eval_composite_score",
			Help:      "Composite evaluation score distribution",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回收集器的独立 Registry,供 HTTP 暴露或自定义收集
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile 以 textfile collector 格式写出当前指标快照
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// =============================================================================
// 📥 摄取指标记录
// =============================================================================

// RecordIngestBatch 记录一个摄取批次
func (c *Collector) RecordIngestBatch(indexed, skipped, failed, chunks int, strategy string, duration time.Duration) {
	c.ingestDocumentsTotal.WithLabelValues("indexed").Add(float64(indexed))
	c.ingestDocumentsTotal.WithLabelValues("skipped").Add(float64(skipped))
	c.ingestDocumentsTotal.WithLabelValues("failed").Add(float64(failed))
	c.ingestChunksTotal.WithLabelValues(strategy).Add(float64(chunks))
	c.ingestBatchDuration.Observe(duration.Seconds())
}

// SetIndexVersion 更新当前索引版本
func (c *Collector) SetIndexVersion(version uint64) {
	c.indexVersion.Set(float64(version))
}

// =============================================================================
// 🔍 查询指标记录
// =============================================================================

// RecordQuery 记录一次查询请求的结果与总耗时
func (c *Collector) RecordQuery(status, cacheOutcome string, duration time.Duration) {
	c.queryRequestsTotal.WithLabelValues(status, cacheOutcome).Inc()
	c.queryStageDuration.WithLabelValues("total").Observe(duration.Seconds())
}

// RecordQueryStage 记录单个管线阶段耗时
func (c *Collector) RecordQueryStage(stage string, duration time.Duration) {
	c.queryStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPoolSize 记录融合后的候选池大小
func (c *Collector) RecordPoolSize(n int) {
	c.queryPoolSize.Observe(float64(n))
}

// RecordLowConfidence 记录一次低置信查询
func (c *Collector) RecordLowConfidence() {
	c.queryLowConfidence.Inc()
}

// RecordCorrectiveRetry 记录一次纠偏重试
func (c *Collector) RecordCorrectiveRetry() {
	c.queryCorrectiveRetries.Inc()
}

// =============================================================================
// 🎯 重排指标记录
// =============================================================================

// RecordRerank 记录一次重排调用
func (c *Collector) RecordRerank(provider, status string, duration time.Duration) {
	c.rerankRequestsTotal.WithLabelValues(provider, status).Inc()
	c.rerankRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 📏 评估指标记录
// =============================================================================

// RecordEvalCase 记录一个评估用例
func (c *Collector) RecordEvalCase(status string, composite float64) {
	c.evalCasesTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		c.evalComposite.Observe(composite)
	}
}
