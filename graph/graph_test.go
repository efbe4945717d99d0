package graph

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/store"
)

func chunksOf(texts ...string) []store.Chunk {
	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			ID:         store.ChunkIDFor("doc_test", i),
			DocumentID: "doc_test",
			Ordinal:    i,
			Text:       text,
		}
	}
	return chunks
}

func TestBuildEdges_OverlapCoefficient(t *testing.T) {
	t.Parallel()

	// redis/cache/cluster 各出现在 2 块,每对共现 1 次 → 权重 1/2。
	edges := BuildEdges(chunksOf(
		"redis cache",
		"redis cluster",
		"cache cluster",
	))
	require.Len(t, edges, 3)
	for _, e := range edges {
		assert.Less(t, e.TermA, e.TermB)
		assert.InDelta(t, 0.5, e.Weight, 1e-9)
	}
	assert.Equal(t, "cache", edges[0].TermA)
	assert.Equal(t, "cluster", edges[0].TermB)
}

func TestBuildEdges_FullCooccurrence(t *testing.T) {
	t.Parallel()

	// 两词项总是同现 → 权重 1。
	edges := BuildEdges(chunksOf("leader election", "leader election timeout"))
	var found bool
	for _, e := range edges {
		if e.TermA == "election" && e.TermB == "leader" {
			found = true
			assert.InDelta(t, 1.0, e.Weight, 1e-9)
		}
	}
	assert.True(t, found)
}

func TestBuildEdges_StopWordsExcluded(t *testing.T) {
	t.Parallel()

	edges := BuildEdges(chunksOf("the cache is in the cluster"))
	require.Len(t, edges, 1)
	assert.Equal(t, "cache", edges[0].TermA)
	assert.Equal(t, "cluster", edges[0].TermB)
}

func TestBuildEdges_Deterministic(t *testing.T) {
	t.Parallel()

	chunks := chunksOf(
		"raft consensus replicated log",
		"raft leader election",
		"log compaction snapshot",
	)
	assert.Equal(t, BuildEdges(chunks), BuildEdges(chunks))
}

func TestChunkTerms_CapByFrequency(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(fmt.Sprintf("term%02d ", i))
	}
	// term00 重复出现,必须在截断后保留
	sb.WriteString("term00 term00")

	terms := chunkTerms(sb.String())
	require.Len(t, terms, maxTermsPerChunk)
	assert.Equal(t, "term00", terms[0])
}

func TestTermGraph_Neighbors(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore(zap.NewNop())
	g := NewTermGraph(st, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, g.Rebuild(ctx, chunksOf(
		"redis cache",
		"redis cluster",
		"cache cluster",
		"redis cache eviction",
	)))

	neighbors := g.Neighbors("redis", 0)
	require.NotEmpty(t, neighbors)
	// 权重降序;同权重按词项升序
	for i := 1; i < len(neighbors); i++ {
		if neighbors[i-1].Weight == neighbors[i].Weight {
			assert.Less(t, neighbors[i-1].Term, neighbors[i].Term)
		} else {
			assert.Greater(t, neighbors[i-1].Weight, neighbors[i].Weight)
		}
	}

	strong := g.Neighbors("redis", 0.9)
	for _, n := range strong {
		assert.GreaterOrEqual(t, n.Weight, 0.9)
	}

	assert.Empty(t, g.Neighbors("absent", 0))
}

func TestTermGraph_WeightSymmetric(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore(zap.NewNop())
	g := NewTermGraph(st, nil)
	ctx := context.Background()

	require.NoError(t, g.Rebuild(ctx, chunksOf("gossip protocol membership")))
	assert.Equal(t, g.Weight("gossip", "protocol"), g.Weight("protocol", "gossip"))
	assert.Positive(t, g.Weight("gossip", "membership"))
	assert.Zero(t, g.Weight("gossip", "absent"))
}

func TestTermGraph_RebuildReplacesAndPersists(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore(zap.NewNop())
	g := NewTermGraph(st, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, g.Rebuild(ctx, chunksOf("alpha beta")))
	require.NoError(t, g.Rebuild(ctx, chunksOf("gamma delta")))

	assert.Zero(t, g.Weight("alpha", "beta"))
	assert.Positive(t, g.Weight("delta", "gamma"))
	assert.Equal(t, 1, g.EdgeCount())

	// 新实例从 store 回灌
	restored := NewTermGraph(st, zap.NewNop())
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, 1, restored.EdgeCount())
	assert.Positive(t, restored.Weight("delta", "gamma"))
}

func TestTermGraph_EmptyCorpus(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore(zap.NewNop())
	g := NewTermGraph(st, nil)

	require.NoError(t, g.Rebuild(context.Background(), nil))
	assert.Zero(t, g.EdgeCount())
	assert.Zero(t, g.TermCount())
}
