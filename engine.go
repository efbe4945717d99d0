package ragflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/assemble"
	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/enhance"
	"github.com/BaSui01/ragflow/eval"
	"github.com/BaSui01/ragflow/graph"
	"github.com/BaSui01/ragflow/index"
	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/internal/telemetry"
	"github.com/BaSui01/ragflow/rerank"
	"github.com/BaSui01/ragflow/retrieve"
	"github.com/BaSui01/ragflow/store"
	"github.com/BaSui01/ragflow/types"
)

// =============================================================================
// 🚀 RagFlow 引擎
// =============================================================================

// Engine 把摄取、检索、重排、组装与评估装配成一个可直接使用的实例。
// 所有操作并发安全；索引在 New 时从存储一次性水化。
type Engine struct {
	cfg    config.Config
	logger *zap.Logger
	// baseLogger 不带 component 标签，供延迟构建的子组件使用
	baseLogger *zap.Logger

	store     store.Store
	ownsStore bool
	lexical   *index.Lexical
	dense     index.DenseIndex
	embedder  index.Embedder
	graph     *graph.TermGraph
	enhancer  *enhance.Enhancer
	retriever *retrieve.Retriever
	assembler *assemble.Assembler
	ingestor  *ingest.Ingestor

	// reranker 为配置选定的默认实现；rerankers 按 provider 名索引全部可用实现
	reranker  rerank.Reranker
	rerankers map[string]rerank.Reranker

	cache   *cache.QueryCache
	metrics *metrics.Collector
}

// New 按配置构建引擎并从存储水化全部索引。
// 缓存不可用时降级为无缓存继续运行；其余组件构建失败直接报错。
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidSpec, "invalid engine config").WithCause(err)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "engine")),
		baseLogger: logger,
	}

	// ====== 存储层 ======
	if o.store != nil {
		e.store = o.store
	} else {
		switch cfg.Store.Backend {
		case "", "memory":
			e.store = store.NewMemoryStore(logger)
			e.ownsStore = true
		case "database":
			st, err := store.Open(cfg.Database, logger)
			if err != nil {
				return nil, err
			}
			e.store = st
			e.ownsStore = true
		default:
			return nil, types.NewError(types.ErrInvalidSpec,
				fmt.Sprintf("unknown store backend: %s", cfg.Store.Backend))
		}
	}

	// ====== 索引层 ======
	e.lexical = index.NewLexical(e.store, cfg.Lexical, logger)
	e.graph = graph.NewTermGraph(e.store, logger)

	if cfg.Dense.Enabled {
		if o.embedder != nil {
			e.embedder = o.embedder
		} else {
			emb, err := index.NewEmbedder(cfg.Dense, logger)
			if err != nil {
				e.closePartial()
				return nil, err
			}
			e.embedder = emb
		}
		hint, err := e.store.CountChunks(ctx)
		if err != nil {
			hint = 0
		}
		e.dense = index.NewDenseIndex(cfg.Dense, hint, logger)
	}

	// ====== 检索流水线 ======
	e.enhancer = enhance.NewEnhancer(cfg.Enhancer, e.lexical, e.graph, logger)
	e.retriever = retrieve.NewRetriever(cfg.Retrieval, retrieve.Deps{
		Store:    e.store,
		Lexical:  e.lexical,
		Dense:    e.dense,
		Embedder: e.embedder,
		Graph:    e.graph,
		Enhancer: e.enhancer,
		Logger:   logger,
	})
	e.assembler = assemble.NewAssembler(cfg.Assembler, logger)
	e.ingestor = ingest.NewIngestor(cfg.Ingest, cfg.Dense, ingest.Deps{
		Store:    e.store,
		Lexical:  e.lexical,
		Dense:    e.dense,
		Embedder: e.embedder,
		Graph:    e.graph,
		Logger:   logger,
	})

	// ====== 重排器 ======
	// 两种 provider 均在此预构建，查询时按开关即取即用。
	overlap := rerank.NewOverlapReranker(cfg.Rerank, logger)
	httpRR := rerank.NewFallbackReranker(rerank.NewHTTPReranker(cfg.Rerank, logger), overlap, logger)
	e.rerankers = map[string]rerank.Reranker{
		rerank.ProviderOverlap: overlap,
		rerank.ProviderHTTP:    httpRR,
	}
	if o.reranker != nil {
		e.reranker = o.reranker
		e.rerankers[o.reranker.Name()] = o.reranker
	} else {
		rr, err := rerank.NewReranker(cfg.Rerank, logger)
		if err != nil {
			e.closePartial()
			return nil, err
		}
		e.reranker = rr
	}

	// ====== 缓存与指标 ======
	if o.cache != nil {
		e.cache = o.cache
	} else if cfg.Cache.Enabled {
		qc, err := cache.NewQueryCache(cfg.Cache, logger)
		if err != nil {
			e.logger.Warn("query cache unavailable, continuing without cache", zap.Error(err))
		} else {
			e.cache = qc
		}
	}
	if o.metrics != nil {
		e.metrics = o.metrics
	} else if cfg.Metrics.Enabled {
		e.metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	if err := e.hydrate(ctx); err != nil {
		e.Close()
		return nil, err
	}

	version, err := e.store.IndexVersion(ctx)
	if err == nil && e.metrics != nil {
		e.metrics.SetIndexVersion(version)
	}

	e.logger.Info("engine ready",
		zap.String("store", cfg.Store.Backend),
		zap.Bool("dense", cfg.Dense.Enabled),
		zap.Bool("cache", e.cache != nil),
		zap.Uint64("index_version", version),
	)
	return e, nil
}

// hydrate 从存储重建全部内存索引。
func (e *Engine) hydrate(ctx context.Context) error {
	if err := e.lexical.Load(ctx); err != nil {
		return err
	}
	if err := e.graph.Load(ctx); err != nil {
		return err
	}
	if e.dense == nil {
		return nil
	}

	chunks, err := e.store.ListAllChunks(ctx)
	if err != nil {
		return err
	}
	meta := make(map[string]store.Chunk, len(chunks))
	for _, c := range chunks {
		meta[c.ID] = c
	}

	embeddings, err := e.store.ListEmbeddings(ctx)
	if err != nil {
		return err
	}
	entries := make([]index.Entry, 0, len(embeddings))
	for _, emb := range embeddings {
		// 仅加载当前 provider 的向量；其余 provider 的残留向量跳过
		if emb.ProviderID != e.embedder.Name() {
			continue
		}
		c, ok := meta[emb.ChunkID]
		if !ok {
			continue
		}
		entries = append(entries, index.Entry{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Vector:     emb.Vector,
		})
	}
	if len(entries) > 0 {
		e.dense.Add(entries...)
	}
	e.logger.Debug("dense index hydrated", zap.Int("entries", len(entries)))
	return nil
}

// closePartial 释放构建中途已持有的资源。
func (e *Engine) closePartial() {
	if e.ownsStore && e.store != nil {
		_ = e.store.Close()
	}
}

// Close 释放缓存连接与自有存储。幂等。
func (e *Engine) Close() error {
	var firstErr error
	if e.cache != nil {
		if err := e.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.cache = nil
	}
	if e.ownsStore && e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.store = nil
	}
	return firstErr
}

// =============================================================================
// 📥 摄取
// =============================================================================

// Ingest 摄取一批来源。每来源失败被隔离进 Stats.Failures；
// 批次整体失败（如存储不可用）才返回错误。
func (e *Engine) Ingest(ctx context.Context, spec Spec, sources []Source) (IngestStats, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ragflow.ingest")
	defer span.End()
	start := time.Now()

	stats, err := e.ingestor.Ingest(ctx, spec, sources)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}

	span.SetAttributes(
		attribute.Int("ragflow.documents_added", stats.DocumentsAdded),
		attribute.Int("ragflow.chunks_written", stats.ChunksWritten),
		attribute.Int64("ragflow.index_version", int64(stats.IndexVersion)),
	)
	if e.metrics != nil {
		strategy := spec.Strategy
		if strategy == "" {
			strategy = e.cfg.Ingest.Strategy
		}
		e.metrics.RecordIngestBatch(
			stats.DocumentsAdded+stats.DocumentsChanged,
			stats.DocumentsSkipped,
			len(stats.Failures),
			stats.ChunksWritten,
			strategy,
			time.Since(start),
		)
		e.metrics.SetIndexVersion(stats.IndexVersion)
	}
	return stats, nil
}

// =============================================================================
// 🔍 查询
// =============================================================================

// Query 执行一次完整查询：缓存查找、混合检索、可选重排、上下文组装。
// 缓存故障只降级不失败；返回的轨迹覆盖全部候选及其去向。
func (e *Engine) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ragflow.query")
	defer span.End()
	start := time.Now()

	// ====== 缓存查找 ======
	cacheOutcome := "bypass"
	cacheKey := ""
	if e.cache != nil {
		if version, err := e.store.IndexVersion(ctx); err == nil {
			cacheKey = cache.Key(req.Prompt, requestFingerprint(req), version)
			var cached QueryResponse
			if err := e.cache.Get(ctx, cacheKey, &cached); err == nil {
				if e.metrics != nil {
					e.metrics.RecordCacheHit("query")
					e.metrics.RecordQuery("ok", "hit", time.Since(start))
				}
				span.SetAttributes(attribute.Bool("ragflow.cache_hit", true))
				return cached, nil
			} else if cache.IsCacheMiss(err) {
				cacheOutcome = "miss"
				if e.metrics != nil {
					e.metrics.RecordCacheMiss("query")
				}
			} else {
				// 缓存故障按 bypass 处理，流水线照常执行
				cacheKey = ""
			}
		}
	}

	// ====== 混合检索 ======
	stageStart := time.Now()
	result, err := e.retriever.Retrieve(ctx, req.Prompt, retrieve.Options{
		GraphExpand:       req.Toggles.GraphExpand,
		HierarchicalBoost: req.Toggles.HierarchicalBoost,
		CorrectiveRetry:   req.Toggles.CorrectiveRetry,
		Dense:             req.Toggles.Dense,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e.metrics != nil {
			e.metrics.RecordQuery("error", cacheOutcome, time.Since(start))
		}
		return QueryResponse{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordQueryStage("retrieve", time.Since(stageStart))
		e.metrics.RecordPoolSize(len(result.Pool))
		if result.Trace.Retried {
			e.metrics.RecordCorrectiveRetry()
		}
		if result.Trace.LowConfidence {
			e.metrics.RecordLowConfidence()
		}
	}

	pool := result.Pool
	trace := result.Trace

	// ====== 可选重排 ======
	if req.Toggles.Rerank && len(pool) > 0 {
		rr, err := e.resolveReranker(req.Toggles.RerankProvider)
		if err != nil {
			span.RecordError(err)
			if e.metrics != nil {
				e.metrics.RecordQuery("error", cacheOutcome, time.Since(start))
			}
			return QueryResponse{}, err
		}
		stageStart = time.Now()
		reranked, err := e.rerankPool(ctx, req.Prompt, rr, pool)
		if e.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			e.metrics.RecordRerank(rr.Name(), status, time.Since(stageStart))
			e.metrics.RecordQueryStage("rerank", time.Since(stageStart))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return QueryResponse{}, err
		}
		pool = reranked
		trace.Reranker = rr.Name()
	}

	// ====== 上下文组装 ======
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.Retrieval.TopK
	}
	if topK <= 0 || topK > len(pool) {
		topK = len(pool)
	}

	stageStart = time.Now()
	block, annotated := e.assembler.Assemble(pool[:topK], req.MaxContextChars)
	if e.metrics != nil {
		e.metrics.RecordQueryStage("assemble", time.Since(stageStart))
	}

	// 轨迹覆盖全量候选：入选/预算出局 + 截断出局 + 池外丢弃
	candidates := make([]retrieve.Candidate, 0, len(pool)+len(result.Dropped))
	candidates = append(candidates, annotated...)
	for _, c := range pool[topK:] {
		c.Included = false
		c.Reason = retrieve.ReasonPoolCap
		candidates = append(candidates, c)
	}
	candidates = append(candidates, result.Dropped...)
	trace.Candidates = candidates

	resp := QueryResponse{Context: block, Trace: trace}

	if e.cache != nil && cacheKey != "" {
		_ = e.cache.Set(ctx, cacheKey, resp)
	}

	span.SetAttributes(
		attribute.Int("ragflow.pool_size", len(pool)),
		attribute.Int("ragflow.included_chunks", len(block.IncludedChunkIDs)),
		attribute.Bool("ragflow.low_confidence", trace.LowConfidence),
	)
	if e.metrics != nil {
		e.metrics.RecordQuery("ok", cacheOutcome, time.Since(start))
	}
	return resp, nil
}

// resolveReranker 按 provider 名取重排器；空名使用配置默认。
func (e *Engine) resolveReranker(provider string) (rerank.Reranker, error) {
	if provider == "" {
		return e.reranker, nil
	}
	if rr, ok := e.rerankers[provider]; ok {
		return rr, nil
	}
	return nil, types.NewError(types.ErrInvalidSpec,
		fmt.Sprintf("unknown rerank provider: %s", provider))
}

// rerankPool 对池头部 TopN 重排并回写分数，池尾原样保留在其后。
func (e *Engine) rerankPool(ctx context.Context, prompt string, rr rerank.Reranker, pool []retrieve.Candidate) ([]retrieve.Candidate, error) {
	n := e.cfg.Rerank.TopN
	if n <= 0 || n > len(pool) {
		n = len(pool)
	}

	head := make([]rerank.Candidate, n)
	byID := make(map[string]retrieve.Candidate, n)
	for i, c := range pool[:n] {
		head[i] = rerank.Candidate{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Score:      c.Score,
		}
		byID[c.ChunkID] = c
	}

	ranked, err := rr.Rerank(ctx, prompt, head)
	if err != nil {
		return nil, err
	}

	out := make([]retrieve.Candidate, 0, len(pool))
	for _, rc := range ranked {
		c, ok := byID[rc.ChunkID]
		if !ok {
			continue
		}
		c.RerankScore = rc.Score
		c.Score = rc.Score
		out = append(out, c)
	}
	out = append(out, pool[n:]...)
	return out, nil
}

// requestFingerprint 归一化请求参数为缓存指纹。
// 开关、TopK 与字符预算任一不同即视为不同查询。
func requestFingerprint(req QueryRequest) string {
	raw := fmt.Sprintf("g=%t;h=%t;c=%t;d=%t;r=%t;rp=%s;k=%d;m=%d",
		req.Toggles.GraphExpand,
		req.Toggles.HierarchicalBoost,
		req.Toggles.CorrectiveRetry,
		req.Toggles.Dense,
		req.Toggles.Rerank,
		req.Toggles.RerankProvider,
		req.TopK,
		req.MaxContextChars,
	)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// =============================================================================
// 📊 评估
// =============================================================================

// Eval 运行一批评估用例并落盘报告、证据包与声明账本。
// outDir 非空时覆盖配置的输出目录与账本路径。
func (e *Engine) Eval(ctx context.Context, cases []Case, outDir string) (*Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ragflow.eval")
	defer span.End()

	evalCfg := e.cfg.Eval
	if outDir != "" {
		evalCfg.OutputDir = outDir
		evalCfg.LedgerPath = filepath.Join(outDir, "claims_ledger.jsonl")
	}

	ev := eval.NewEvaluator(evalCfg, engineRunner{e}, e.baseLogger)
	report, err := ev.Run(ctx, cases)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if _, _, err := ev.WriteArtifacts(ctx, report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if e.metrics != nil {
		for _, r := range report.Cases {
			if r.Error != "" {
				e.metrics.RecordEvalCase("failed", 0)
				continue
			}
			e.metrics.RecordEvalCase("ok", r.Composite)
		}
	}
	span.SetAttributes(
		attribute.Int("ragflow.cases", len(report.Cases)),
		attribute.Float64("ragflow.mean_composite", report.Summary.MeanComposite),
	)
	return report, nil
}

// engineRunner 将引擎适配为评估器的 Runner。
type engineRunner struct{ e *Engine }

func (r engineRunner) Query(ctx context.Context, prompt string, toggles eval.Toggles) (assemble.ContextBlock, retrieve.Trace, error) {
	resp, err := r.e.Query(ctx, QueryRequest{Prompt: prompt, Toggles: toggles})
	if err != nil {
		return assemble.ContextBlock{}, retrieve.Trace{}, err
	}
	return resp.Context, resp.Trace, nil
}

func (r engineRunner) IndexVersion(ctx context.Context) (uint64, error) {
	return r.e.store.IndexVersion(ctx)
}

// =============================================================================
// 🔧 辅助操作
// =============================================================================

// IndexVersion 返回当前索引版本。
func (e *Engine) IndexVersion(ctx context.Context) (uint64, error) {
	return e.store.IndexVersion(ctx)
}

// WriteMetricsSnapshot 将当前指标以 Prometheus 文本格式写入文件。
// 未启用指标时为空操作。
func (e *Engine) WriteMetricsSnapshot(path string) error {
	if e.metrics == nil || path == "" {
		return nil
	}
	return e.metrics.WriteTextfile(path)
}
