package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/graph"
	"github.com/BaSui01/ragflow/index"
	"github.com/BaSui01/ragflow/store"
	"github.com/BaSui01/ragflow/types"
)

// Spec 摄取规格，声明式描述分块与索引参数。零值字段回落到引擎
// 配置；嵌入提供者与稠密后端只做一致性校验，与引擎启动配置不符时
// 返回 INVALID_SPEC，不在运行期切换实现。
type Spec struct {
	Strategy          string `json:"strategy,omitempty"`
	ChunkSize         int    `json:"chunk_size,omitempty"`
	ChunkOverlap      int    `json:"chunk_overlap,omitempty"`
	MinChunkSize      int    `json:"min_chunk_size,omitempty"`
	Tokenizer         string `json:"tokenizer,omitempty"`
	TokenizerModel    string `json:"tokenizer_model,omitempty"`
	SummarySentences  int    `json:"summary_sentences,omitempty"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	DenseBackend      string `json:"dense_backend,omitempty"`
}

// Source 摄取来源。Type 为空时按 text 处理。
type Source struct {
	SourceURI string `json:"source_uri"`
	Type      string `json:"type"`
	Content   string `json:"content"`
}

// SourceFailure 被隔离的单源失败。
type SourceFailure struct {
	SourceURI string          `json:"source_uri"`
	Code      types.ErrorCode `json:"code"`
	Message   string          `json:"message"`
}

// Stats 摄取批次统计。
type Stats struct {
	DocumentsAdded    int             `json:"documents_added"`
	DocumentsSkipped  int             `json:"documents_skipped"`
	DocumentsChanged  int             `json:"documents_changed"`
	ChunksWritten     int             `json:"chunks_written"`
	EmbeddingsWritten int             `json:"embeddings_written"`
	Failures          []SourceFailure `json:"failures,omitempty"`
	IndexVersion      uint64          `json:"index_version"`
}

// Deps 摄取器依赖。Dense 与 Embedder 在稠密索引关闭时为 nil。
type Deps struct {
	Store    store.Store
	Lexical  *index.Lexical
	Dense    index.DenseIndex
	Embedder index.Embedder
	Graph    *graph.TermGraph
	Logger   *zap.Logger
}

// Ingestor 语料摄取器。每个批次：逐源归一化、判重、分块、摘要、
// 落库并写穿词法/稠密索引，批次尾重建共现图并做恰好一次的原子
// 版本递增发布。单源解析失败被隔离进 Stats.Failures，嵌入提供者
// 故障降级为仅词法，均不中断批次。
type Ingestor struct {
	cfg      config.IngestConfig
	denseCfg config.DenseConfig
	store    store.Store
	lexical  *index.Lexical
	dense    index.DenseIndex
	embedder index.Embedder
	graph    *graph.TermGraph
	logger   *zap.Logger
}

// NewIngestor 创建摄取器。
func NewIngestor(cfg config.IngestConfig, denseCfg config.DenseConfig, deps Deps) *Ingestor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		cfg:      cfg,
		denseCfg: denseCfg,
		store:    deps.Store,
		lexical:  deps.Lexical,
		dense:    deps.Dense,
		embedder: deps.Embedder,
		graph:    deps.Graph,
		logger:   logger.With(zap.String("component", "ingestor")),
	}
}

// sourceOutcome 单源摄取结果，按源序聚合进 Stats。
type sourceOutcome struct {
	added      bool
	skipped    bool
	changed    bool
	chunks     int
	embeddings int
	failure    *SourceFailure
}

// Ingest 执行一个摄取批次。
func (ing *Ingestor) Ingest(ctx context.Context, spec Spec, sources []Source) (Stats, error) {
	effective, err := ing.effectiveConfig(spec)
	if err != nil {
		return Stats{}, err
	}

	sources = dedupeSources(sources)

	// 批次开始先清理失去存活文档的孤儿块（上次批次中断的残留）
	orphans, err := ing.store.DeleteOrphanChunks(ctx)
	if err != nil {
		return Stats{}, err
	}
	if orphans > 0 {
		ing.logger.Warn("deleted orphan chunks from interrupted batch", zap.Int("count", orphans))
	}

	tokenizer := NewTokenizer(effective.Tokenizer, effective.TokenizerModel, ing.logger)
	chunker := NewChunker(effective, tokenizer, ing.logger)

	outcomes := make([]sourceOutcome, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	limit := effective.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			outcome, err := ing.ingestOne(gctx, chunker, effective, src)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{}
	for _, o := range outcomes {
		switch {
		case o.added:
			stats.DocumentsAdded++
		case o.changed:
			stats.DocumentsChanged++
		case o.skipped:
			stats.DocumentsSkipped++
		}
		stats.ChunksWritten += o.chunks
		stats.EmbeddingsWritten += o.embeddings
		if o.failure != nil {
			stats.Failures = append(stats.Failures, *o.failure)
		}
	}

	mutated := stats.DocumentsAdded+stats.DocumentsChanged > 0 || orphans > 0
	if mutated {
		allChunks, err := ing.store.ListAllChunks(ctx)
		if err != nil {
			return stats, err
		}
		if err := ing.graph.Rebuild(ctx, allChunks); err != nil {
			return stats, err
		}
		version, err := ing.store.BumpIndexVersion(ctx)
		if err != nil {
			return stats, err
		}
		stats.IndexVersion = version
	} else {
		version, err := ing.store.IndexVersion(ctx)
		if err != nil {
			return stats, err
		}
		stats.IndexVersion = version
	}

	ing.logger.Info("ingest batch finished",
		zap.Int("added", stats.DocumentsAdded),
		zap.Int("changed", stats.DocumentsChanged),
		zap.Int("skipped", stats.DocumentsSkipped),
		zap.Int("chunks", stats.ChunksWritten),
		zap.Int("embeddings", stats.EmbeddingsWritten),
		zap.Int("failures", len(stats.Failures)),
		zap.Uint64("index_version", stats.IndexVersion))
	return stats, nil
}

// ingestOne 摄取单个来源。解析类失败转为 SourceFailure 返回，
// 存储类失败作为错误上抛并中止批次。
func (ing *Ingestor) ingestOne(ctx context.Context, chunker *Chunker, effective config.IngestConfig, src Source) (sourceOutcome, error) {
	docType, err := resolveDocType(src.Type)
	if err != nil {
		return failedOutcome(src.SourceURI, err), nil
	}

	normalized := store.NormalizeContent(src.Content)
	hash := store.ContentHash(src.Content)
	docID := store.DocumentIDFor(src.SourceURI)

	existing, err := ing.store.GetDocument(ctx, docID)
	exists := true
	if err != nil {
		if types.GetErrorCode(err) != types.ErrNotFound {
			return sourceOutcome{}, err
		}
		exists = false
	}
	// 哈希未变：零索引写入
	if exists && existing.ContentHash == hash {
		return sourceOutcome{skipped: true}, nil
	}

	doc := store.Document{
		ID:          docID,
		SourceURI:   src.SourceURI,
		ContentHash: hash,
		Type:        docType,
		RawContent:  normalized,
		Summary:     Summarize(normalized, effective.SummarySentences),
	}

	chunks, err := chunker.Chunk(doc)
	if err != nil {
		if types.IsParseError(err) {
			return failedOutcome(src.SourceURI, err), nil
		}
		return sourceOutcome{}, err
	}

	// 被替换修订的旧块 ID，用于稠密索引摘除
	var staleChunkIDs []string
	if exists && ing.dense != nil {
		oldChunks, err := ing.store.ListChunks(ctx, docID)
		if err != nil {
			return sourceOutcome{}, err
		}
		for _, oc := range oldChunks {
			staleChunkIDs = append(staleChunkIDs, oc.ID)
		}
	}

	stored, err := ing.store.PutDocument(ctx, doc, chunks)
	if err != nil {
		return sourceOutcome{}, err
	}
	if err := ing.lexical.Add(ctx, stored, chunks); err != nil {
		return sourceOutcome{}, err
	}

	outcome := sourceOutcome{added: !exists, changed: exists, chunks: len(chunks)}

	if ing.dense != nil {
		for _, id := range staleChunkIDs {
			ing.dense.Remove(id)
		}
	}
	if ing.dense != nil && ing.embedder != nil && len(chunks) > 0 {
		written, err := ing.embedChunks(ctx, chunks)
		if err != nil {
			if !types.IsProviderUnavailable(err) {
				return sourceOutcome{}, err
			}
			// 提供者故障：该文档降级为仅词法检索
			ing.logger.Warn("embedding provider unavailable, document stays lexical-only",
				zap.String("source_uri", src.SourceURI),
				zap.String("provider", ing.embedder.Name()),
				zap.Error(err))
		} else {
			outcome.embeddings = written
		}
	}

	ing.logger.Debug("source ingested",
		zap.String("source_uri", src.SourceURI),
		zap.String("doc_id", stored.ID),
		zap.Int("revision", stored.Revision),
		zap.Int("chunks", len(chunks)))
	return outcome, nil
}

// embedChunks 计算并落库块向量，写穿稠密索引。
func (ing *Ingestor) embedChunks(ctx context.Context, chunks []store.Chunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ing.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("embedding count mismatch: want %d, got %d", len(chunks), len(vectors))).
			WithProvider(ing.embedder.Name())
	}

	providerID := ing.embedder.Name()
	embeddings := make([]store.Embedding, len(chunks))
	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		embeddings[i] = store.Embedding{
			ChunkID:    c.ID,
			ProviderID: providerID,
			Dim:        len(vectors[i]),
			Vector:     vectors[i],
		}
		entries[i] = index.Entry{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Vector:     vectors[i],
		}
	}
	if err := ing.store.PutEmbeddings(ctx, embeddings); err != nil {
		return 0, err
	}
	ing.dense.Add(entries...)
	return len(embeddings), nil
}

// effectiveConfig 以 Spec 覆盖引擎摄取配置，并校验嵌入规格一致性。
func (ing *Ingestor) effectiveConfig(spec Spec) (config.IngestConfig, error) {
	eff := ing.cfg

	if spec.Strategy != "" {
		switch spec.Strategy {
		case StrategyFixed, StrategySemantic, StrategyProposition:
			eff.Strategy = spec.Strategy
		default:
			return eff, types.NewError(types.ErrInvalidSpec,
				"unknown chunking strategy: "+spec.Strategy)
		}
	}
	if spec.ChunkSize < 0 || spec.ChunkOverlap < 0 || spec.MinChunkSize < 0 {
		return eff, types.NewError(types.ErrInvalidSpec, "chunk sizes must be non-negative")
	}
	if spec.ChunkSize > 0 {
		eff.ChunkSize = spec.ChunkSize
	}
	if spec.ChunkOverlap > 0 {
		eff.ChunkOverlap = spec.ChunkOverlap
	}
	if spec.MinChunkSize > 0 {
		eff.MinChunkSize = spec.MinChunkSize
	}
	if spec.Tokenizer != "" {
		switch spec.Tokenizer {
		case TokenizerEstimator, TokenizerTiktoken:
			eff.Tokenizer = spec.Tokenizer
		default:
			return eff, types.NewError(types.ErrInvalidSpec,
				"unknown tokenizer: "+spec.Tokenizer)
		}
	}
	if spec.TokenizerModel != "" {
		eff.TokenizerModel = spec.TokenizerModel
	}
	if spec.SummarySentences > 0 {
		eff.SummarySentences = spec.SummarySentences
	}

	if spec.EmbeddingProvider != "" && spec.EmbeddingProvider != activeProvider(ing.denseCfg) {
		return eff, types.NewError(types.ErrInvalidSpec,
			fmt.Sprintf("embedding provider %q does not match engine configuration %q",
				spec.EmbeddingProvider, activeProvider(ing.denseCfg)))
	}
	if spec.EmbeddingModel != "" && spec.EmbeddingModel != ing.denseCfg.Model {
		return eff, types.NewError(types.ErrInvalidSpec,
			fmt.Sprintf("embedding model %q does not match engine configuration %q",
				spec.EmbeddingModel, ing.denseCfg.Model))
	}
	if spec.DenseBackend != "" && spec.DenseBackend != activeBackend(ing.denseCfg) {
		return eff, types.NewError(types.ErrInvalidSpec,
			fmt.Sprintf("dense backend %q does not match engine configuration %q",
				spec.DenseBackend, activeBackend(ing.denseCfg)))
	}
	return eff, nil
}

func activeProvider(cfg config.DenseConfig) string {
	if cfg.Provider == "" {
		return index.ProviderHashing
	}
	return cfg.Provider
}

func activeBackend(cfg config.DenseConfig) string {
	if cfg.Backend == "" {
		return index.BackendScan
	}
	return cfg.Backend
}

// resolveDocType 解析来源类型。未知类型按解析失败隔离。
func resolveDocType(sourceType string) (string, error) {
	switch sourceType {
	case "", store.DocTypeText:
		return store.DocTypeText, nil
	case store.DocTypeCSVRow:
		return store.DocTypeCSVRow, nil
	case store.DocTypeProposition:
		return store.DocTypeProposition, nil
	default:
		return "", types.NewError(types.ErrParse, "unsupported source type: "+sourceType)
	}
}

// dedupeSources 同 URI 去重，保留最后一次出现（后提交覆盖先提交）。
func dedupeSources(sources []Source) []Source {
	last := make(map[string]int, len(sources))
	for i, s := range sources {
		last[s.SourceURI] = i
	}
	out := make([]Source, 0, len(sources))
	for i, s := range sources {
		if last[s.SourceURI] == i {
			out = append(out, s)
		}
	}
	return out
}

// failedOutcome 将错误封装为被隔离的源失败。
func failedOutcome(sourceURI string, err error) sourceOutcome {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrParse
	}
	msg := err.Error()
	var typed *types.Error
	if errors.As(err, &typed) {
		msg = typed.Message
	}
	return sourceOutcome{failure: &SourceFailure{
		SourceURI: sourceURI,
		Code:      code,
		Message:   msg,
	}}
}
