package retrieve

import (
	"sort"

	"github.com/BaSui01/ragflow/index"
)

// rrfScore 1-based 排名的 RRF 贡献。
func rrfScore(rank, k int) float64 {
	return 1.0 / float64(rank+k)
}

// fuseLists 变体内融合两路排名列表。同块两路贡献相加，Method 记
// fused；单路出现保留该路方法与原始分。稠密路相似度非正的条目
// 不参与融合，词汇完全无关的块不会借稠密排名尾部混入候选。
func fuseLists(lex, dense []index.Result, k int) map[string]Candidate {
	fused := make(map[string]Candidate, len(lex)+len(dense))
	for i, res := range lex {
		fused[res.ChunkID] = Candidate{
			ChunkID:      res.ChunkID,
			DocumentID:   res.DocumentID,
			Ordinal:      res.Ordinal,
			Method:       index.MethodLexical,
			LexicalScore: res.Score,
			Fused:        rrfScore(i+1, k),
		}
	}
	for i, res := range dense {
		if res.Score <= 0 {
			continue
		}
		c, ok := fused[res.ChunkID]
		if !ok {
			c = Candidate{
				ChunkID:    res.ChunkID,
				DocumentID: res.DocumentID,
				Ordinal:    res.Ordinal,
				Method:     index.MethodDense,
			}
		} else {
			c.Method = index.MethodFused
		}
		c.DenseScore = res.Score
		c.Fused += rrfScore(i+1, k)
		fused[res.ChunkID] = c
	}
	return fused
}

// fuseVariants 跨变体合并：按 ChunkID 去重，保留融合分最高的出现，
// 同分保留更早变体的出现。输出按引擎统一顺序排好。
func fuseVariants(lists []variantLists, k int) []Candidate {
	best := make(map[string]Candidate)
	for _, vl := range lists {
		for id, c := range fuseLists(vl.lex, vl.dense, k) {
			if cur, ok := best[id]; !ok || c.Fused > cur.Fused {
				best[id] = c
			}
		}
	}
	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		c.Score = c.Fused
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

// filterMinScore 过滤融合分低于下限的候选。纠偏重试轮不调用。
func filterMinScore(candidates []Candidate, min float64) []Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.Fused >= min {
			out = append(out, c)
		}
	}
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
