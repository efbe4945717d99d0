package index

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/config"
)

func TestHashingEmbedder_Deterministic(t *testing.T) {
	t.Parallel()
	emb := NewHashingEmbedder(64)
	ctx := context.Background()

	a, err := emb.EmbedQuery(ctx, "hybrid retrieval fusion")
	require.NoError(t, err)
	b, err := emb.EmbedQuery(ctx, "hybrid retrieval fusion")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := emb.EmbedQuery(ctx, "completely unrelated topic")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestHashingEmbedder_UnitNorm(t *testing.T) {
	t.Parallel()
	emb := NewHashingEmbedder(0) // 回落到 256
	require.Equal(t, 256, emb.Dimensions())
	assert.Equal(t, "hashing-256", emb.Name())

	vec, err := emb.EmbedQuery(context.Background(), "lexical dense graph boost")
	require.NoError(t, err)
	require.Len(t, vec, 256)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
}

func TestHashingEmbedder_EmbedDocuments(t *testing.T) {
	t.Parallel()
	emb := NewHashingEmbedder(32)

	vectors, err := emb.EmbedDocuments(context.Background(), []string{"first chunk", "second chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 32)
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestHashingEmbedder_EmptyText(t *testing.T) {
	t.Parallel()
	emb := NewHashingEmbedder(16)

	vec, err := emb.EmbedQuery(context.Background(), "")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func scanEntries(emb *HashingEmbedder, texts ...string) []Entry {
	entries := make([]Entry, len(texts))
	for i, text := range texts {
		vec, _ := emb.EmbedDocuments(context.Background(), []string{text})
		entries[i] = Entry{
			ChunkID:    fmt.Sprintf("doc_x_c%04d", i),
			DocumentID: "doc_x",
			Ordinal:    i,
			Vector:     vec[0],
		}
	}
	return entries
}

func TestScanIndex_SearchNearestFirst(t *testing.T) {
	t.Parallel()
	idx := NewScanIndex()
	idx.Add(
		Entry{ChunkID: "doc_x_c0000", DocumentID: "doc_x", Ordinal: 0, Vector: []float64{1, 0}},
		Entry{ChunkID: "doc_x_c0001", DocumentID: "doc_x", Ordinal: 1, Vector: []float64{0.6, 0.8}},
		Entry{ChunkID: "doc_x_c0002", DocumentID: "doc_x", Ordinal: 2, Vector: []float64{0, 1}},
	)
	require.Equal(t, 3, idx.Size())

	results := idx.Search([]float64{1, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "doc_x_c0000", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "doc_x_c0001", results[1].ChunkID)
	assert.Equal(t, MethodDense, results[0].Method)
	assert.Equal(t, []int{1, 2}, []int{results[0].Rank, results[1].Rank})
}

func TestScanIndex_DimensionMismatchSkipped(t *testing.T) {
	t.Parallel()
	idx := NewScanIndex()
	idx.Add(
		Entry{ChunkID: "doc_x_c0000", DocumentID: "doc_x", Vector: []float64{1, 0}},
		Entry{ChunkID: "doc_x_c0001", DocumentID: "doc_x", Vector: []float64{1, 0, 0}},
	)

	results := idx.Search([]float64{1, 0}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "doc_x_c0000", results[0].ChunkID)
}

func TestScanIndex_Remove(t *testing.T) {
	t.Parallel()
	idx := NewScanIndex()
	idx.Add(Entry{ChunkID: "doc_x_c0000", DocumentID: "doc_x", Vector: []float64{1, 0}})
	idx.Remove("doc_x_c0000")

	assert.Equal(t, 0, idx.Size())
	assert.Empty(t, idx.Search([]float64{1, 0}, 10))
}

func TestHNSWIndex_SearchFindsExactMatch(t *testing.T) {
	t.Parallel()
	emb := NewHashingEmbedder(64)
	idx := NewHNSWIndex(DefaultHNSWParams(), nil)

	texts := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		texts = append(texts, fmt.Sprintf("topic %d with distinct content about subsystem %d", i, i))
	}
	idx.Add(scanEntries(emb, texts...)...)
	require.Equal(t, 40, idx.Size())

	query, err := emb.EmbedQuery(context.Background(), texts[17])
	require.NoError(t, err)

	results := idx.Search(query, 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc_x_c0017", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestHNSWIndex_Reproducible(t *testing.T) {
	t.Parallel()
	emb := NewHashingEmbedder(64)
	texts := []string{"alpha subsystem", "beta subsystem", "gamma subsystem", "delta subsystem"}

	build := func() []Result {
		idx := NewHNSWIndex(DefaultHNSWParams(), nil)
		idx.Add(scanEntries(emb, texts...)...)
		query, _ := emb.EmbedQuery(context.Background(), "beta subsystem")
		return idx.Search(query, 4)
	}

	assert.Equal(t, build(), build())
}

func TestHNSWIndex_Remove(t *testing.T) {
	t.Parallel()
	emb := NewHashingEmbedder(64)
	idx := NewHNSWIndex(DefaultHNSWParams(), nil)
	idx.Add(scanEntries(emb, "first entry", "second entry", "third entry")...)

	idx.Remove("doc_x_c0000")
	assert.Equal(t, 2, idx.Size())

	query, _ := emb.EmbedQuery(context.Background(), "first entry")
	for _, r := range idx.Search(query, 10) {
		assert.NotEqual(t, "doc_x_c0000", r.ChunkID)
	}

	// 删除空索引中的条目不恐慌
	idx.Remove("doc_x_c0000")
}

func TestHNSWIndex_AddOverwrites(t *testing.T) {
	t.Parallel()
	idx := NewHNSWIndex(DefaultHNSWParams(), nil)
	idx.Add(Entry{ChunkID: "doc_x_c0000", DocumentID: "doc_x", Vector: []float64{1, 0}})
	idx.Add(Entry{ChunkID: "doc_x_c0000", DocumentID: "doc_x", Vector: []float64{0, 1}})

	require.Equal(t, 1, idx.Size())
	results := idx.Search([]float64{0, 1}, 1)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestAdaptiveHNSWParams(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 12, AdaptiveHNSWParams(100).M)
	assert.Equal(t, 16, AdaptiveHNSWParams(50_000).M)
	assert.Equal(t, 24, AdaptiveHNSWParams(500_000).M)
	assert.Equal(t, 32, AdaptiveHNSWParams(2_000_000).M)
}

func TestNewDenseIndex_BackendSelection(t *testing.T) {
	t.Parallel()

	scan := NewDenseIndex(config.DenseConfig{Backend: BackendScan}, 0, nil)
	assert.IsType(t, &ScanIndex{}, scan)

	fallback := NewDenseIndex(config.DenseConfig{}, 0, nil)
	assert.IsType(t, &ScanIndex{}, fallback)

	hnsw := NewDenseIndex(config.DenseConfig{
		Backend: BackendHNSW,
		HNSW:    config.HNSWConfig{M: 8, EfConstruction: 64, EfSearch: 32},
	}, 0, nil)
	assert.IsType(t, &HNSWIndex{}, hnsw)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Zero(t, cosineSimilarity([]float64{0, 0}, []float64{1, 2}))
	assert.InDelta(t, 1.0, cosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, math.Sqrt2/2, cosineSimilarity([]float64{1, 1}, []float64{1, 0}), 1e-9)
}
