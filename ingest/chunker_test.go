package ingest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/store"
)

func docOf(docType, content string) store.Document {
	return store.Document{ID: "doc_test", Type: docType, RawContent: content}
}

// requireSpans 校验每个块的偏移精确指回原文子串。
func requireSpans(t *testing.T, content string, chunks []store.Chunk) {
	t.Helper()
	for _, c := range chunks {
		require.Equal(t, content[c.CharStart:c.CharEnd], c.Text,
			"chunk %s offsets must address its exact source span", c.ID)
	}
}

func chunkTexts(chunks []store.Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}

func TestChunkerFixedWindowsWithOverlap(t *testing.T) {
	t.Parallel()

	content := "alpha beta gamma delta epsilon zeta eta theta"
	chunker := NewChunker(config.IngestConfig{
		Strategy:     StrategyFixed,
		ChunkSize:    4,
		ChunkOverlap: 1,
	}, NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"alpha beta gamma",
		"gamma delta epsilon",
		"epsilon zeta eta",
		"zeta eta theta",
	}, chunkTexts(chunks))
	requireSpans(t, content, chunks)

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, fmt.Sprintf("doc_test_c%04d", i), c.ID)
		assert.Equal(t, "doc_test", c.DocumentID)
	}
	assert.Equal(t, []int{4, 4, 4, 3}, []int{
		chunks[0].TokenCount, chunks[1].TokenCount, chunks[2].TokenCount, chunks[3].TokenCount,
	})
}

func TestChunkerFixedSingleWindowUnderBudget(t *testing.T) {
	t.Parallel()

	content := "alpha beta"
	chunker := NewChunker(config.IngestConfig{Strategy: StrategyFixed, ChunkSize: 100},
		NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len(content), chunks[0].CharEnd)
}

func TestChunkerSemanticKeepsParagraphBoundaries(t *testing.T) {
	t.Parallel()

	content := "Alpha beta gamma.\n\nDelta epsilon zeta.\n\nEta theta iota."
	chunker := NewChunker(config.IngestConfig{Strategy: StrategySemantic, ChunkSize: 6},
		NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Alpha beta gamma.",
		"Delta epsilon zeta.",
		"Eta theta iota.",
	}, chunkTexts(chunks))
	requireSpans(t, content, chunks)
}

func TestChunkerSemanticMergesAdjacentParagraphs(t *testing.T) {
	t.Parallel()

	content := "Alpha beta gamma.\n\nDelta epsilon zeta.\n\nEta theta iota."
	chunker := NewChunker(config.IngestConfig{Strategy: StrategySemantic, ChunkSize: 12},
		NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)

	// 前两段合并仍在预算内，合并块是原文连续子串
	assert.Equal(t, []string{
		"Alpha beta gamma.\n\nDelta epsilon zeta.",
		"Eta theta iota.",
	}, chunkTexts(chunks))
	requireSpans(t, content, chunks)
}

func TestChunkerSemanticMergesShortTail(t *testing.T) {
	t.Parallel()

	content := "Alpha beta gamma.\n\nDelta epsilon zeta.\n\nEta theta iota."
	chunker := NewChunker(config.IngestConfig{
		Strategy:     StrategySemantic,
		ChunkSize:    12,
		MinChunkSize: 4,
	}, NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Text)
	requireSpans(t, content, chunks)
}

func TestChunkerSemanticOversizeParagraphSplitsOnSentences(t *testing.T) {
	t.Parallel()

	content := "Alpha beta gamma delta. Epsilon zeta eta theta."
	chunker := NewChunker(config.IngestConfig{Strategy: StrategySemantic, ChunkSize: 5},
		NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Alpha beta gamma delta.",
		"Epsilon zeta eta theta.",
	}, chunkTexts(chunks))
	requireSpans(t, content, chunks)
	assert.Equal(t, 24, chunks[1].CharStart)
}

func TestChunkerSemanticCJKSentenceEnders(t *testing.T) {
	t.Parallel()

	content := "第一句。第二句。"
	chunker := NewChunker(config.IngestConfig{Strategy: StrategySemantic, ChunkSize: 3},
		NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)

	assert.Equal(t, []string{"第一句。", "第二句。"}, chunkTexts(chunks))
	requireSpans(t, content, chunks)
}

func TestChunkerPropositionStrategySentencePerChunk(t *testing.T) {
	t.Parallel()

	content := "First point. Second point. Third point."
	chunker := NewChunker(config.IngestConfig{Strategy: StrategyProposition, ChunkSize: 64},
		NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, content))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"First point.",
		"Second point.",
		"Third point.",
	}, chunkTexts(chunks))
	requireSpans(t, content, chunks)
}

func TestChunkerPropositionDocTypeLinePerChunk(t *testing.T) {
	t.Parallel()

	// 文档类型优先于策略：proposition 内容一行一块
	content := "one fact\n\nsecond fact\nthird fact\n"
	chunker := NewChunker(config.IngestConfig{Strategy: StrategyFixed, ChunkSize: 64},
		NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeProposition, content))
	require.NoError(t, err)

	assert.Equal(t, []string{"one fact", "second fact", "third fact"}, chunkTexts(chunks))
	requireSpans(t, content, chunks)
}

func TestChunkerCSVRowPerChunk(t *testing.T) {
	t.Parallel()

	content := "name,role\nada,engineer\n , \ngrace,admiral,extra\n"
	chunker := NewChunker(config.IngestConfig{}, NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeCSVRow, content))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// 全空行被跳过；超出表头的列回落到 col<N> 键
	assert.Equal(t, "name: ada\nrole: engineer", chunks[0].Text)
	assert.Equal(t, "name: grace\nrole: admiral\ncol2: extra", chunks[1].Text)

	for _, c := range chunks {
		assert.Equal(t, 0, c.CharStart)
		assert.Equal(t, len(c.Text), c.CharEnd)
		assert.Positive(t, c.TokenCount)
	}
}

func TestChunkerCSVHeaderOnly(t *testing.T) {
	t.Parallel()

	chunker := NewChunker(config.IngestConfig{}, NewEstimatorTokenizer(), nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeCSVRow, "name,role\n"))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = chunker.Chunk(docOf(store.DocTypeCSVRow, ""))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkerDefaultsSurviveZeroConfig(t *testing.T) {
	t.Parallel()

	chunker := NewChunker(config.IngestConfig{ChunkSize: -5, ChunkOverlap: -3}, nil, nil)

	chunks, err := chunker.Chunk(docOf(store.DocTypeText, "Short document body."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Short document body.", chunks[0].Text)
	assert.Positive(t, chunks[0].TokenCount)
}

func TestChunkerEmptyContent(t *testing.T) {
	t.Parallel()

	chunker := NewChunker(config.IngestConfig{}, NewEstimatorTokenizer(), nil)

	for _, docType := range []string{store.DocTypeText, store.DocTypeProposition} {
		chunks, err := chunker.Chunk(docOf(docType, ""))
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}
