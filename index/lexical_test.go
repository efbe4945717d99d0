package index

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/store"
)

func testDoc(sourceURI string, chunkTexts ...string) (store.Document, []store.Chunk) {
	id := store.DocumentIDFor(sourceURI)
	doc := store.Document{
		ID:          id,
		SourceURI:   sourceURI,
		ContentHash: store.ContentHash(sourceURI),
		Type:        store.DocTypeText,
	}
	chunks := make([]store.Chunk, len(chunkTexts))
	for i, text := range chunkTexts {
		chunks[i] = store.Chunk{
			ID:         store.ChunkIDFor(id, i),
			DocumentID: id,
			Ordinal:    i,
			Text:       text,
		}
	}
	return doc, chunks
}

func newTestLexical(t *testing.T) (*Lexical, store.Store) {
	t.Helper()
	st := store.NewMemoryStore(zap.NewNop())
	return NewLexical(st, config.LexicalConfig{K1: 1.2, B: 0.75}, zap.NewNop()), st
}

func TestLexical_SearchScoring(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/storage.md",
		"redis cache layer",
		"postgres storage layer",
	)
	require.NoError(t, lex.Add(ctx, doc, chunks))

	// df=1, N=2, avgdl=3, tf=1, dl=3:
	// idf = ln((2-1+0.5)/(1+0.5)+1) = ln 2,长度归一化项约掉,score = idf。
	results := lex.Search([]string{"redis"}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, chunks[0].ID, results[0].ChunkID)
	assert.Equal(t, MethodLexical, results[0].Method)
	assert.Equal(t, 1, results[0].Rank)
	assert.InDelta(t, math.Log(2), results[0].Score, 1e-9)
}

func TestLexical_TieBreakByOrdinal(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/storage.md",
		"redis cache layer",
		"postgres storage layer",
	)
	require.NoError(t, lex.Add(ctx, doc, chunks))

	// "layer" 在两块中 tf、长度全同,得分相等,按 Ordinal 升序定序。
	results := lex.Search([]string{"layer"}, 10)
	require.Len(t, results, 2)
	assert.Equal(t, chunks[0].ID, results[0].ChunkID)
	assert.Equal(t, chunks[1].ID, results[1].ChunkID)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, []int{1, 2}, []int{results[0].Rank, results[1].Rank})
}

func TestLexical_TieBreakByDocumentID(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	docA, chunksA := testDoc("docs/a.md", "vector index rebuild")
	docB, chunksB := testDoc("docs/b.md", "vector index rebuild")
	require.NoError(t, lex.Add(ctx, docA, chunksA))
	require.NoError(t, lex.Add(ctx, docB, chunksB))

	results := lex.Search([]string{"rebuild"}, 10)
	require.Len(t, results, 2)
	first, second := results[0], results[1]
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Ordinal, second.Ordinal)
	assert.Less(t, first.DocumentID, second.DocumentID)
}

func TestLexical_ZeroMatchExcluded(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/storage.md", "redis cache layer", "postgres storage layer")
	require.NoError(t, lex.Add(ctx, doc, chunks))

	assert.Empty(t, lex.Search([]string{"kubernetes"}, 10))
	assert.Empty(t, lex.Search(nil, 10))
	assert.Empty(t, lex.Search([]string{"redis"}, 0))
}

func TestLexical_TopKCap(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/guide.md",
		"retrieval pipeline stage one",
		"retrieval pipeline stage two",
		"retrieval pipeline stage three",
	)
	require.NoError(t, lex.Add(ctx, doc, chunks))

	results := lex.Search([]string{"retrieval"}, 2)
	assert.Len(t, results, 2)
}

func TestLexical_RepeatedQueryTermAccumulates(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/guide.md", "hybrid fusion ranking")
	require.NoError(t, lex.Add(ctx, doc, chunks))

	single := lex.Search([]string{"fusion"}, 1)
	double := lex.Search([]string{"fusion", "fusion"}, 1)
	require.Len(t, single, 1)
	require.Len(t, double, 1)
	assert.InDelta(t, 2*single[0].Score, double[0].Score, 1e-9)
}

func TestLexical_AddReplacesPartition(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/notes.md", "legacy sharding scheme")
	require.NoError(t, lex.Add(ctx, doc, chunks))
	require.Len(t, lex.Search([]string{"sharding"}, 10), 1)

	_, updated := testDoc("docs/notes.md", "replicated consensus log")
	require.NoError(t, lex.Add(ctx, doc, updated))

	assert.Empty(t, lex.Search([]string{"sharding"}, 10))
	assert.Len(t, lex.Search([]string{"consensus"}, 10), 1)
	assert.Equal(t, 1, lex.ChunkCount())
}

func TestLexical_Remove(t *testing.T) {
	t.Parallel()
	lex, st := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/notes.md", "ephemeral scratch data")
	require.NoError(t, lex.Add(ctx, doc, chunks))
	require.NoError(t, lex.Remove(ctx, doc.ID))

	assert.Empty(t, lex.Search([]string{"scratch"}, 10))
	assert.Equal(t, 0, lex.ChunkCount())
	assert.Equal(t, 0, lex.TermCount())

	postings, err := st.ListPostings(ctx)
	require.NoError(t, err)
	assert.Empty(t, postings)
}

func TestLexical_Load(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	doc, chunks := testDoc("docs/arch.md", "event sourcing pattern", "command query separation")
	_, err := st.PutDocument(ctx, doc, chunks)
	require.NoError(t, err)
	require.NoError(t, st.ReplacePostings(ctx, doc.ID, BuildPostings(doc.ID, chunks)))

	lex := NewLexical(st, config.LexicalConfig{}, nil)
	require.NoError(t, lex.Load(ctx))

	assert.Equal(t, 2, lex.ChunkCount())
	results := lex.Search([]string{"sourcing"}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, chunks[0].ID, results[0].ChunkID)
	assert.Equal(t, 0, results[0].Ordinal)
}

func TestLexical_DF(t *testing.T) {
	t.Parallel()
	lex, _ := newTestLexical(t)
	ctx := context.Background()

	doc, chunks := testDoc("docs/arch.md", "streaming ingestion path", "batch ingestion path")
	require.NoError(t, lex.Add(ctx, doc, chunks))

	assert.Equal(t, 2, lex.DF("ingestion"))
	assert.Equal(t, 1, lex.DF("streaming"))
	assert.Equal(t, 0, lex.DF("absent"))
}

func TestBuildPostings(t *testing.T) {
	t.Parallel()

	doc, chunks := testDoc("docs/arch.md", "alpha beta alpha")
	postings := BuildPostings(doc.ID, chunks)
	require.Len(t, postings, 2)
	assert.Equal(t, "alpha", postings[0].Term)
	assert.Equal(t, 2, postings[0].TF)
	assert.Equal(t, "beta", postings[1].Term)
	assert.Equal(t, 1, postings[1].TF)
	for _, p := range postings {
		assert.Equal(t, doc.ID, p.DocumentID)
	}
}

// 检索确定性属性: 任意随机语料与查询下, Search 输出不超过 topK、
// 全部正分、严格遵循 SortResults 全序, 且重复调用逐字节一致。
func TestProperty_Lexical_SearchDeterministic(t *testing.T) {
	vocab := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}

	rapid.Check(t, func(rt *rapid.T) {
		lex, _ := newTestLexical(t)
		ctx := context.Background()

		nDocs := rapid.IntRange(1, 4).Draw(rt, "docs")
		for d := 0; d < nDocs; d++ {
			nChunks := rapid.IntRange(1, 3).Draw(rt, fmt.Sprintf("chunks%d", d))
			texts := make([]string, nChunks)
			for c := range texts {
				nTerms := rapid.IntRange(1, 6).Draw(rt, fmt.Sprintf("len%d_%d", d, c))
				words := make([]string, nTerms)
				for w := range words {
					words[w] = rapid.SampledFrom(vocab).Draw(rt, fmt.Sprintf("word%d_%d_%d", d, c, w))
				}
				texts[c] = strings.Join(words, " ")
			}
			doc, chunks := testDoc(fmt.Sprintf("docs/gen%d.md", d), texts...)
			require.NoError(t, lex.Add(ctx, doc, chunks))
		}

		queryLen := rapid.IntRange(1, 3).Draw(rt, "queryLen")
		terms := make([]string, queryLen)
		for i := range terms {
			terms[i] = rapid.SampledFrom(vocab).Draw(rt, fmt.Sprintf("q%d", i))
		}
		topK := rapid.IntRange(1, 8).Draw(rt, "topK")

		first := lex.Search(terms, topK)
		second := lex.Search(terms, topK)
		assert.Equal(t, first, second)
		assert.LessOrEqual(t, len(first), topK)

		sorted := append([]Result(nil), first...)
		SortResults(sorted)
		assert.Equal(t, sorted, first)

		for i, res := range first {
			assert.Greater(t, res.Score, 0.0)
			assert.Equal(t, i+1, res.Rank)
		}
	})
}

func TestSortResults_FullOrder(t *testing.T) {
	t.Parallel()

	results := []Result{
		{ChunkID: "doc_b_c0001", DocumentID: "doc_b", Ordinal: 1, Score: 0.5},
		{ChunkID: "doc_b_c0000", DocumentID: "doc_b", Ordinal: 0, Score: 0.5},
		{ChunkID: "doc_a_c0000", DocumentID: "doc_a", Ordinal: 0, Score: 0.5},
		{ChunkID: "doc_c_c0000", DocumentID: "doc_c", Ordinal: 0, Score: 0.9},
	}
	SortResults(results)

	assert.Equal(t, "doc_c_c0000", results[0].ChunkID) // 最高分
	assert.Equal(t, "doc_a_c0000", results[1].ChunkID) // 同分同序号,DocumentID 升序
	assert.Equal(t, "doc_b_c0000", results[2].ChunkID)
	assert.Equal(t, "doc_b_c0001", results[3].ChunkID) // 同分,Ordinal 靠后
}
