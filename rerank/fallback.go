package rerank

import (
	"context"

	"go.uber.org/zap"
)

// FallbackReranker 组合主重排器与降级重排器。主路失败记一条警告
// 并改走降级路，检索流程从不因重排服务不可用而中断；调用方上下文
// 已取消时直接返回主路错误，不再降级。
type FallbackReranker struct {
	primary  Reranker
	fallback Reranker
	logger   *zap.Logger
}

// NewFallbackReranker 创建降级包装。
func NewFallbackReranker(primary, fallback Reranker, logger *zap.Logger) *FallbackReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackReranker{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "fallback_reranker")),
	}
}

var _ Reranker = (*FallbackReranker)(nil)

// Name 返回主重排器的提供者标识。
func (r *FallbackReranker) Name() string { return r.primary.Name() }

// Rerank 先走主重排器，失败时降级。
func (r *FallbackReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	out, err := r.primary.Rerank(ctx, query, candidates)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	r.logger.Warn("reranker unavailable, falling back",
		zap.String("primary", r.primary.Name()),
		zap.String("fallback", r.fallback.Name()),
		zap.Error(err))
	return r.fallback.Rerank(ctx, query, candidates)
}
