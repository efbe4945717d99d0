package retrieve

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/index"
	"github.com/BaSui01/ragflow/types"
)

// applyGraphBoost 词图共现提升。收集查询内容词权重达标的共现邻居
// （去掉查询字面已有的词），候选文本含邻居词时按 边权×系数 累加
// 提升，受上限封顶。邻居按词序求和保证浮点结果确定。
func (r *Retriever) applyGraphBoost(pool []Candidate, queryTokens, contentTerms []string) {
	if r.graph == nil || len(pool) == 0 || r.cfg.GraphBoostFactor <= 0 {
		return
	}

	literal := uniqueTerms(queryTokens)
	neighborWeight := make(map[string]float64)
	for _, t := range contentTerms {
		for _, nb := range r.graph.Neighbors(t, r.cfg.GraphMinEdgeWeight) {
			if literal[nb.Term] {
				continue
			}
			if w, ok := neighborWeight[nb.Term]; !ok || nb.Weight > w {
				neighborWeight[nb.Term] = nb.Weight
			}
		}
	}
	if len(neighborWeight) == 0 {
		return
	}
	terms := make([]string, 0, len(neighborWeight))
	for t := range neighborWeight {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	for i := range pool {
		present := uniqueTerms(index.Tokenize(pool[i].Text))
		var sum float64
		for _, t := range terms {
			if present[t] {
				sum += neighborWeight[t] * r.cfg.GraphBoostFactor
			}
		}
		if sum <= 0 {
			continue
		}
		boost := math.Min(r.cfg.GraphBoostCeiling, sum)
		pool[i].GraphBoost = boost
		pool[i].Score += boost
	}
}

// applySummaryBoost 文档摘要提升。摘要对查询内容词的覆盖率达标时，
// 该文档的全部池内候选获得一次统一提升。
func (r *Retriever) applySummaryBoost(ctx context.Context, pool []Candidate, contentTerms []string) error {
	if r.cfg.SummaryBoost <= 0 || len(pool) == 0 || len(contentTerms) == 0 {
		return nil
	}

	qset := uniqueTerms(contentTerms)
	qualified := make(map[string]bool)
	for i := range pool {
		docID := pool[i].DocumentID
		hit, seen := qualified[docID]
		if !seen {
			var err error
			hit, err = r.summaryQualifies(ctx, docID, qset)
			if err != nil {
				return err
			}
			qualified[docID] = hit
		}
		if hit {
			pool[i].SummaryBoost = r.cfg.SummaryBoost
			pool[i].Score += r.cfg.SummaryBoost
		}
	}
	return nil
}

// summaryQualifies 判定文档摘要的查询词覆盖率是否达标。
func (r *Retriever) summaryQualifies(ctx context.Context, documentID string, qset map[string]bool) (bool, error) {
	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrNotFound {
			r.logger.Warn("document missing during retrieval", zap.String("document_id", documentID))
			return false, nil
		}
		return false, err
	}
	if doc.Summary == "" {
		return false, nil
	}
	present := uniqueTerms(index.Tokenize(doc.Summary))
	matched := 0
	for t := range qset {
		if present[t] {
			matched++
		}
	}
	return float64(matched)/float64(len(qset)) >= r.cfg.SummaryThreshold, nil
}

// relevanceSignal 纠偏置信信号：前三候选的最高查询词覆盖率，
// 空池或无内容词时为零。
func relevanceSignal(pool []Candidate, contentTerms []string) float64 {
	if len(pool) == 0 || len(contentTerms) == 0 {
		return 0
	}
	qset := uniqueTerms(contentTerms)
	top := len(pool)
	if top > 3 {
		top = 3
	}
	var best float64
	for _, c := range pool[:top] {
		present := uniqueTerms(index.Tokenize(c.Text))
		matched := 0
		for t := range qset {
			if present[t] {
				matched++
			}
		}
		if cov := float64(matched) / float64(len(qset)); cov > best {
			best = cov
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
