package assemble

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/retrieve"
)

func candidates(texts ...string) []retrieve.Candidate {
	out := make([]retrieve.Candidate, len(texts))
	for i, text := range texts {
		out[i] = retrieve.Candidate{
			ChunkID:    "c" + string(rune('0'+i)),
			DocumentID: "doc_a",
			Ordinal:    i,
			Text:       text,
			Score:      1.0 / float64(i+1),
		}
	}
	return out
}

func TestAssemblerGreedyInRankOrder(t *testing.T) {
	t.Parallel()

	a := NewAssembler(config.AssemblerConfig{MaxContextChars: 17, Separator: "\n\n"}, nil)
	block, annotated := a.Assemble(candidates("alpha beta", "gamma", "delta"), 0)

	assert.Equal(t, "alpha beta\n\ngamma", block.AssembledText)
	assert.Equal(t, []string{"c0", "c1"}, block.IncludedChunkIDs)
	assert.Equal(t, 17, block.TotalChars)
	assert.True(t, block.Truncated)

	require.Len(t, annotated, 3)
	assert.True(t, annotated[0].Included)
	assert.Equal(t, retrieve.ReasonIncluded, annotated[0].Reason)
	assert.True(t, annotated[1].Included)
	assert.False(t, annotated[2].Included)
	assert.Equal(t, retrieve.ReasonBudget, annotated[2].Reason)
}

func TestAssemblerAllFit(t *testing.T) {
	t.Parallel()

	a := NewAssembler(config.DefaultAssemblerConfig(), nil)
	block, annotated := a.Assemble(candidates("alpha", "beta"), 0)

	assert.Equal(t, "alpha\n\nbeta", block.AssembledText)
	assert.Equal(t, []string{"c0", "c1"}, block.IncludedChunkIDs)
	assert.Equal(t, len("alpha\n\nbeta"), block.TotalChars)
	assert.False(t, block.Truncated)
	for _, c := range annotated {
		assert.True(t, c.Included)
		assert.Equal(t, retrieve.ReasonIncluded, c.Reason)
	}
}

func TestAssemblerFirstChunkTooLarge(t *testing.T) {
	t.Parallel()

	a := NewAssembler(config.AssemblerConfig{MaxContextChars: 3, Separator: "\n\n"}, nil)
	block, annotated := a.Assemble(candidates("alpha", "beta"), 0)

	assert.Empty(t, block.AssembledText)
	assert.Empty(t, block.IncludedChunkIDs)
	assert.Zero(t, block.TotalChars)
	assert.True(t, block.Truncated)
	for _, c := range annotated {
		assert.False(t, c.Included)
		assert.Equal(t, retrieve.ReasonBudget, c.Reason)
	}
}

func TestAssemblerStopsAtFirstNonFit(t *testing.T) {
	t.Parallel()

	// 第三个候选单看放得下,但装配在第二个候选处已经停止
	a := NewAssembler(config.AssemblerConfig{MaxContextChars: 8, Separator: "-"}, nil)
	block, annotated := a.Assemble(candidates("aaaa", "cccccccccc", "bb"), 0)

	assert.Equal(t, "aaaa", block.AssembledText)
	assert.Equal(t, []string{"c0"}, block.IncludedChunkIDs)
	assert.True(t, block.Truncated)
	assert.False(t, annotated[1].Included)
	assert.False(t, annotated[2].Included)
	assert.Equal(t, retrieve.ReasonBudget, annotated[2].Reason)
}

func TestAssemblerSeparatorCounted(t *testing.T) {
	t.Parallel()

	a := NewAssembler(config.AssemblerConfig{MaxContextChars: 9, Separator: "--"}, nil)
	block, _ := a.Assemble(candidates("aaaa", "bbbb"), 0)
	assert.Equal(t, "aaaa", block.AssembledText)
	assert.True(t, block.Truncated)

	block, _ = a.Assemble(candidates("aaaa", "bbbb"), 10)
	assert.Equal(t, "aaaa--bbbb", block.AssembledText)
	assert.Equal(t, 10, block.TotalChars)
	assert.False(t, block.Truncated)
}

func TestAssemblerRequestBudgetOverridesConfig(t *testing.T) {
	t.Parallel()

	a := NewAssembler(config.AssemblerConfig{MaxContextChars: 100, Separator: "-"}, nil)
	block, _ := a.Assemble(candidates("alpha", "beta"), 5)
	assert.Equal(t, "alpha", block.AssembledText)
	assert.True(t, block.Truncated)
}

func TestAssemblerEmptyCandidates(t *testing.T) {
	t.Parallel()

	a := NewAssembler(config.DefaultAssemblerConfig(), nil)
	block, annotated := a.Assemble(nil, 0)

	assert.Empty(t, block.AssembledText)
	assert.Empty(t, block.IncludedChunkIDs)
	assert.Zero(t, block.TotalChars)
	assert.False(t, block.Truncated)
	assert.Empty(t, annotated)
}

func TestAssemblerDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	input := candidates("alpha", "beta")
	a := NewAssembler(config.AssemblerConfig{MaxContextChars: 5, Separator: "-"}, nil)
	_, annotated := a.Assemble(input, 0)

	assert.False(t, input[0].Included)
	assert.Empty(t, input[0].Reason)
	assert.True(t, annotated[0].Included)
}

func TestAssemblerDeterministic(t *testing.T) {
	t.Parallel()

	a := NewAssembler(config.AssemblerConfig{MaxContextChars: 17, Separator: "\n\n"}, nil)
	input := candidates("alpha beta", "gamma", "delta")

	first, firstAnnotated := a.Assemble(input, 0)
	second, secondAnnotated := a.Assemble(input, 0)
	require.Equal(t, first, second)
	require.Equal(t, firstAnnotated, secondAnnotated)
}

// 预算不变量: 装配文本永不超出预算,入选恒为排名前缀,
// 文本恰为前缀文本以分隔符拼接。
func TestProperty_Assembler_BudgetInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		texts := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,12}`), 0, 8).Draw(rt, "texts")
		budget := rapid.IntRange(1, 40).Draw(rt, "budget")
		sep := rapid.SampledFrom([]string{"", "-", "\n\n"}).Draw(rt, "sep")

		a := NewAssembler(config.AssemblerConfig{MaxContextChars: 4000, Separator: sep}, nil)
		block, annotated := a.Assemble(candidates(texts...), budget)

		require.LessOrEqual(t, len(block.AssembledText), budget)
		require.Equal(t, len(block.AssembledText), block.TotalChars)

		included := len(block.IncludedChunkIDs)
		require.Equal(t, included < len(texts), block.Truncated)
		require.Equal(t, strings.Join(texts[:included], sep), block.AssembledText)
		for i, c := range annotated {
			require.Equal(t, i < included, c.Included)
		}
	})
}
