package rerank

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/index"
)

// 相关度特征权重：覆盖率为主，词频与邻近度为辅。
const (
	weightCoverage  = 0.5
	weightFrequency = 0.25
	weightProximity = 0.25
)

// OverlapReranker 离线确定性精排器。相关度由三个特征加权构成：
// 查询内容词覆盖率、查询词在候选中的词频占比、覆盖全部命中词的
// 最短窗口邻近度。无网络依赖，相同输入产出逐字节一致的排序。
type OverlapReranker struct {
	blend  float64
	logger *zap.Logger
}

// NewOverlapReranker 创建 overlap 精排器。BlendWeight 限定在 [0,1]，
// 0 表示只按归一化融合分排序。
func NewOverlapReranker(cfg config.RerankConfig, logger *zap.Logger) *OverlapReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverlapReranker{
		blend:  clampBlend(cfg.BlendWeight),
		logger: logger.With(zap.String("component", "overlap_reranker")),
	}
}

var _ Reranker = (*OverlapReranker)(nil)

// Name 返回提供者标识。
func (r *OverlapReranker) Name() string { return ProviderOverlap }

// Rerank 按查询相关性重排候选。查询无内容词时相关度全为零，
// 排序退化为归一化融合分序。
func (r *OverlapReranker) Rerank(_ context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	qTerms := uniqueTerms(index.ContentTerms(query))
	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = overlapRelevance(qTerms, c.Text)
	}
	return blendScores(candidates, relevance, r.blend), nil
}

// overlapRelevance 计算单个候选的 [0,1] 相关度。
func overlapRelevance(qTerms map[string]bool, text string) float64 {
	docTerms := index.Tokenize(text)
	if len(qTerms) == 0 || len(docTerms) == 0 {
		return 0
	}

	matched := make(map[string]bool, len(qTerms))
	occurrences := 0
	for _, t := range docTerms {
		if qTerms[t] {
			occurrences++
			matched[t] = true
		}
	}
	if len(matched) == 0 {
		return 0
	}

	coverage := float64(len(matched)) / float64(len(qTerms))
	frequency := float64(occurrences) / float64(len(docTerms))
	window := minTermWindow(docTerms, matched)
	proximity := float64(len(matched)) / float64(window)

	return weightCoverage*coverage + weightFrequency*frequency + weightProximity*proximity
}

// minTermWindow 返回覆盖全部目标词项的最短窗口长度（词项数）。
// 调用方保证每个目标词项都在 docTerms 中出现。
func minTermWindow(docTerms []string, wanted map[string]bool) int {
	need := len(wanted)
	counts := make(map[string]int, need)
	covered := 0
	best := len(docTerms)
	left := 0

	for right, term := range docTerms {
		if !wanted[term] {
			continue
		}
		counts[term]++
		if counts[term] == 1 {
			covered++
		}
		for covered == need {
			if w := right - left + 1; w < best {
				best = w
			}
			lt := docTerms[left]
			if wanted[lt] {
				counts[lt]--
				if counts[lt] == 0 {
					covered--
				}
			}
			left++
		}
	}
	return best
}

// uniqueTerms 词项去重为集合。
func uniqueTerms(terms []string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	return set
}
