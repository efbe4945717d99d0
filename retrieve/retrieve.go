package retrieve

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/enhance"
	"github.com/BaSui01/ragflow/graph"
	"github.com/BaSui01/ragflow/index"
	"github.com/BaSui01/ragflow/store"
	"github.com/BaSui01/ragflow/types"
)

// 候选的去向标记，组装阶段回填。
const (
	ReasonIncluded = "included"
	ReasonBudget   = "budget"
	ReasonPoolCap  = "pool_cap"
)

// Candidate 候选块及各阶段得分。Text 供精排与组装使用，不进踪迹；
// LexicalScore/DenseScore 取自该块融合分最高的那次出现。
type Candidate struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	Ordinal      int     `json:"ordinal"`
	Text         string  `json:"-"`
	Method       string  `json:"method"`
	LexicalScore float64 `json:"lexical_score,omitempty"`
	DenseScore   float64 `json:"dense_score,omitempty"`
	Fused        float64 `json:"fused"`
	GraphBoost   float64 `json:"graph_boost,omitempty"`
	SummaryBoost float64 `json:"summary_boost,omitempty"`
	Score        float64 `json:"score"`
	RerankScore  float64 `json:"rerank_score,omitempty"`
	Included     bool    `json:"included"`
	Reason       string  `json:"reason,omitempty"`
}

// Trace 查询踪迹。Candidates 由引擎在流水线末端填充：池内候选带
// 组装去向，pool_cap 截断项殿后。
type Trace struct {
	Query         string            `json:"query"`
	Variants      []enhance.Variant `json:"variants"`
	Signal        float64           `json:"signal"`
	Retried       bool              `json:"retried"`
	LowConfidence bool              `json:"low_confidence"`
	Reranker      string            `json:"reranker,omitempty"`
	Candidates    []Candidate       `json:"candidates"`
}

// Options 单次查询的检索开关。
type Options struct {
	// GraphExpand 启用词图共现提升。
	GraphExpand bool
	// HierarchicalBoost 启用文档摘要提升。
	HierarchicalBoost bool
	// CorrectiveRetry 启用低置信纠偏重试。
	CorrectiveRetry bool
	// Dense 启用稠密检索路。
	Dense bool
}

// Result 检索产物。Pool 为排好序的候选池；Dropped 为池上限截断项，
// 只入踪迹不入后续阶段。
type Result struct {
	Pool    []Candidate
	Dropped []Candidate
	Trace   Trace
}

// Deps 检索器依赖。Dense/Embedder/Graph/Enhancer 可为 nil，
// 对应能力随之缺省。
type Deps struct {
	Store    store.Store
	Lexical  *index.Lexical
	Dense    index.DenseIndex
	Embedder index.Embedder
	Graph    *graph.TermGraph
	Enhancer *enhance.Enhancer
	Logger   *zap.Logger
}

// Retriever 混合检索器。查询只读，可并发调用。
type Retriever struct {
	cfg      config.RetrievalConfig
	store    store.Store
	lexical  *index.Lexical
	dense    index.DenseIndex
	embedder index.Embedder
	graph    *graph.TermGraph
	enhancer *enhance.Enhancer
	logger   *zap.Logger
}

// NewRetriever 创建混合检索器。RRFK/PoolSize 非正时回落到 60/50。
func NewRetriever(cfg config.RetrievalConfig, deps Deps) *Retriever {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 50
	}
	return &Retriever{
		cfg:      cfg,
		store:    deps.Store,
		lexical:  deps.Lexical,
		dense:    deps.Dense,
		embedder: deps.Embedder,
		graph:    deps.Graph,
		enhancer: deps.Enhancer,
		logger:   logger.With(zap.String("component", "retriever")),
	}
}

// Retrieve 执行一次混合检索。置信信号低于阈值且开启纠偏时恰好
// 重试一次：池上限翻倍、强制加入 step-back 变体、撤销最低分过滤；
// 重试后仍低于阈值则在踪迹标记 low_confidence。
func (r *Retriever) Retrieve(ctx context.Context, prompt string, opts Options) (*Result, error) {
	pool, dropped, variants, signal, err := r.retrieveOnce(ctx, prompt, opts, false)
	if err != nil {
		return nil, err
	}

	retried := false
	if opts.CorrectiveRetry && signal < r.cfg.CorrectiveThreshold {
		retried = true
		pool, dropped, variants, signal, err = r.retrieveOnce(ctx, prompt, opts, true)
		if err != nil {
			return nil, err
		}
	}
	low := opts.CorrectiveRetry && signal < r.cfg.CorrectiveThreshold
	if low {
		r.logger.Warn("low confidence retrieval",
			zap.String("query", prompt),
			zap.Float64("signal", signal),
			zap.Float64("threshold", r.cfg.CorrectiveThreshold))
	}

	r.logger.Debug("retrieval complete",
		zap.Int("pool", len(pool)),
		zap.Int("dropped", len(dropped)),
		zap.Int("variants", len(variants)),
		zap.Float64("signal", signal),
		zap.Bool("retried", retried))

	return &Result{
		Pool:    pool,
		Dropped: dropped,
		Trace: Trace{
			Query:         prompt,
			Variants:      variants,
			Signal:        signal,
			Retried:       retried,
			LowConfidence: low,
		},
	}, nil
}

// retrieveOnce 单轮检索：变体搜索、融合去重、池截断、文本回填、
// 提升与信号计算。widened 为纠偏重试轮。
func (r *Retriever) retrieveOnce(ctx context.Context, prompt string, opts Options, widened bool) ([]Candidate, []Candidate, []enhance.Variant, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, 0, err
	}

	variants := r.queryVariants(prompt, widened)
	poolLimit := r.cfg.PoolSize
	if widened {
		poolLimit *= 2
	}

	lists, err := r.searchVariants(ctx, variants, poolLimit, opts)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	candidates := fuseVariants(lists, r.cfg.RRFK)
	if !widened && r.cfg.MinScore > 0 {
		candidates = filterMinScore(candidates, r.cfg.MinScore)
	}

	var dropped []Candidate
	if len(candidates) > poolLimit {
		for _, c := range candidates[poolLimit:] {
			c.Reason = ReasonPoolCap
			dropped = append(dropped, c)
		}
		candidates = candidates[:poolLimit]
	}

	pool, err := r.hydrate(ctx, candidates)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	queryTokens := index.Tokenize(prompt)
	contentTerms := index.FilterStopWords(queryTokens)
	if opts.GraphExpand {
		r.applyGraphBoost(pool, queryTokens, contentTerms)
	}
	if opts.HierarchicalBoost {
		if err := r.applySummaryBoost(ctx, pool, contentTerms); err != nil {
			return nil, nil, nil, 0, err
		}
	}
	sortCandidates(pool)

	return pool, dropped, variants, relevanceSignal(pool, contentTerms), nil
}

// queryVariants 产出本轮查询变体。纠偏轮在缺席时强制补入 step-back
// 变体（有效时），绕过增强器的开关与去重。
func (r *Retriever) queryVariants(prompt string, widened bool) []enhance.Variant {
	if r.enhancer == nil {
		return []enhance.Variant{{
			Kind:  enhance.VariantOriginal,
			Text:  prompt,
			Terms: index.Tokenize(prompt),
		}}
	}
	variants := r.enhancer.Enhance(prompt)
	if !widened {
		return variants
	}
	for _, v := range variants {
		if v.Kind == enhance.VariantStepBack {
			return variants
		}
	}
	original := variants[0].Terms
	stepped := r.enhancer.StepBackTerms(original)
	if len(stepped) == 0 || slices.Equal(stepped, original) {
		return variants
	}
	return append(variants, enhance.Variant{
		Kind:  enhance.VariantStepBack,
		Text:  strings.Join(stepped, " "),
		Terms: stepped,
	})
}

// variantLists 单变体的两路排名列表。
type variantLists struct {
	lex   []index.Result
	dense []index.Result
}

// searchVariants 并行执行各变体的两路检索，结果按变体序归位。
// 嵌入提供者故障时丢弃全部稠密列表并整体降级为纯词法。
func (r *Retriever) searchVariants(ctx context.Context, variants []enhance.Variant, depth int, opts Options) ([]variantLists, error) {
	lists := make([]variantLists, len(variants))
	useDense := opts.Dense && r.dense != nil && r.embedder != nil && r.dense.Size() > 0

	embedErrs := make([]error, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			lists[i].lex = r.lexical.Search(v.Terms, depth)
			if !useDense {
				return nil
			}
			vec, err := r.embedder.EmbedQuery(gctx, v.Text)
			if err != nil {
				embedErrs[i] = err
				return nil
			}
			lists[i].dense = r.dense.Search(vec, depth)
			return nil
		})
	}
	_ = g.Wait()

	var providerDown error
	for _, err := range embedErrs {
		if err == nil {
			continue
		}
		if !types.IsProviderUnavailable(err) {
			return nil, err
		}
		providerDown = err
	}
	if providerDown != nil {
		r.logger.Warn("embedding provider unavailable, dense search skipped",
			zap.Error(providerDown))
		for i := range lists {
			lists[i].dense = nil
		}
	}
	return lists, nil
}

// hydrate 从 store 回填候选文本。索引与存储瞬时不一致产生的缺块
// 记警告后跳过，不判定为损坏。
func (r *Retriever) hydrate(ctx context.Context, candidates []Candidate) ([]Candidate, error) {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		chunk, err := r.store.GetChunk(ctx, c.ChunkID)
		if err != nil {
			if types.GetErrorCode(err) == types.ErrNotFound {
				r.logger.Warn("chunk missing during retrieval", zap.String("chunk_id", c.ChunkID))
				continue
			}
			return nil, err
		}
		c.Text = chunk.Text
		out = append(out, c)
	}
	return out, nil
}
