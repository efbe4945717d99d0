package rerank

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// 重排提供者类型
const (
	ProviderOverlap = "overlap"
	ProviderHTTP    = "http"
)

// Candidate 待重排候选。Score 进入重排时为融合分，重排后被混合分
// 覆盖；Ordinal 与 DocumentID 参与确定性排序。
type Candidate struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Reranker 重排能力接口。实现不得修改传入切片，返回的新切片按
// 混合分降序、同分按 Ordinal、DocumentID、ChunkID 升序。
type Reranker interface {
	// Rerank 按查询相关性重排候选。
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)

	// Name 返回提供者标识。
	Name() string
}

// NewReranker 按配置创建重排器。http 提供者自动由 FallbackReranker
// 包一层 overlap 降级；未知提供者返回 INVALID_SPEC。
func NewReranker(cfg config.RerankConfig, logger *zap.Logger) (Reranker, error) {
	switch cfg.Provider {
	case "", ProviderOverlap:
		return NewOverlapReranker(cfg, logger), nil
	case ProviderHTTP:
		return NewFallbackReranker(NewHTTPReranker(cfg, logger), NewOverlapReranker(cfg, logger), logger), nil
	default:
		return nil, types.NewError(types.ErrInvalidSpec,
			fmt.Sprintf("unknown rerank provider: %s", cfg.Provider))
	}
}

// clampBlend 将混合权重限定在 [0,1]。
func clampBlend(blend float64) float64 {
	switch {
	case blend < 0:
		return 0
	case blend > 1:
		return 1
	default:
		return blend
	}
}

// blendScores 以 blend 比例混合相关度与归一化融合分并排序。融合分
// 在候选集内按最大值归一到 [0,1]，与 [0,1] 区间的相关度同尺度混合。
// 返回新切片，不修改传入候选。
func blendScores(candidates []Candidate, relevance []float64, blend float64) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	var maxFused float64
	for _, c := range out {
		if c.Score > maxFused {
			maxFused = c.Score
		}
	}
	for i := range out {
		var fused float64
		if maxFused > 0 {
			fused = out[i].Score / maxFused
		}
		out[i].Score = blend*relevance[i] + (1-blend)*fused
	}
	sortCandidates(out)
	return out
}

// sortCandidates 引擎统一的确定性排序：得分降序；同分按 Ordinal、
// DocumentID、ChunkID 升序。
func sortCandidates(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Ordinal != candidates[j].Ordinal {
			return candidates[i].Ordinal < candidates[j].Ordinal
		}
		if candidates[i].DocumentID != candidates[j].DocumentID {
			return candidates[i].DocumentID < candidates[j].DocumentID
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
}
