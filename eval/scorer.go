package eval

import (
	"strings"

	"github.com/BaSui01/ragflow/assemble"
	"github.com/BaSui01/ragflow/retrieve"
)

// Scorer 单维度计分器。返回值域 [0,1],无期望数据时记满分。
type Scorer interface {
	// Name 返回计分器标识,用于报告内的分项键。
	Name() string

	// Score 对单条用例的查询产物计分。
	Score(c Case, block assemble.ContextBlock, trace retrieve.Trace) float64
}

// ChunkRecallScorer 块召回率:期望块中实际入选的比例。
type ChunkRecallScorer struct{}

func (ChunkRecallScorer) Name() string { return "chunk_recall" }

func (ChunkRecallScorer) Score(c Case, block assemble.ContextBlock, _ retrieve.Trace) float64 {
	if len(c.ExpectedChunkIDs) == 0 {
		return 1
	}
	included := make(map[string]bool, len(block.IncludedChunkIDs))
	for _, id := range block.IncludedChunkIDs {
		included[id] = true
	}
	hit := 0
	for _, id := range c.ExpectedChunkIDs {
		if included[id] {
			hit++
		}
	}
	return float64(hit) / float64(len(c.ExpectedChunkIDs))
}

// ContainsScorer 文本包含率:期望子串在装配文本中出现的比例。
type ContainsScorer struct{}

func (ContainsScorer) Name() string { return "contains" }

func (ContainsScorer) Score(c Case, block assemble.ContextBlock, _ retrieve.Trace) float64 {
	if len(c.ExpectedContains) == 0 {
		return 1
	}
	hit := 0
	for _, want := range c.ExpectedContains {
		if strings.Contains(block.AssembledText, want) {
			hit++
		}
	}
	return float64(hit) / float64(len(c.ExpectedContains))
}
