package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

func newTestDoc(sourceURI, content string) (Document, []Chunk) {
	id := DocumentIDFor(sourceURI)
	doc := Document{
		ID:          id,
		SourceURI:   sourceURI,
		ContentHash: ContentHash(content),
		Type:        DocTypeText,
		RawContent:  content,
	}
	chunks := []Chunk{
		{ID: ChunkIDFor(id, 0), DocumentID: id, Ordinal: 0, Text: content, CharStart: 0, CharEnd: len(content), TokenCount: len(content) / 4},
	}
	return doc, chunks
}

func TestMemoryStore_PutAndGetDocument(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	doc, chunks := newTestDoc("docs/auth.md", "JWT validation middleware")
	stored, err := s.PutDocument(ctx, doc, chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Revision)
	assert.False(t, stored.Superseded)
	assert.False(t, stored.CreatedAt.IsZero())

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
	assert.Equal(t, doc.SourceURI, got.SourceURI)

	bySource, err := s.GetDocumentBySource(ctx, "docs/auth.md")
	require.NoError(t, err)
	assert.Equal(t, got.ID, bySource.ID)

	listed, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, chunks[0].Text, listed[0].Text)
}

func TestMemoryStore_GetDocument_NotFound(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)

	_, err := s.GetDocument(context.Background(), "doc_missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	_, err = s.GetDocumentBySource(context.Background(), "nowhere.txt")
	require.Error(t, err)

	_, err = s.GetChunk(context.Background(), "doc_missing_c0000")
	require.Error(t, err)
}

func TestMemoryStore_SupersedeReplacesChunksWholesale(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	doc, chunks := newTestDoc("docs/auth.md", "version one content")
	_, err := s.PutDocument(ctx, doc, chunks)
	require.NoError(t, err)
	require.NoError(t, s.ReplacePostings(ctx, doc.ID, []Posting{
		{Term: "version", ChunkID: chunks[0].ID, TF: 1},
	}))
	require.NoError(t, s.PutEmbeddings(ctx, []Embedding{
		{ChunkID: chunks[0].ID, ProviderID: "hashing", Dim: 2, Vector: []float64{0.6, 0.8}},
	}))

	// 同来源的新内容：旧修订归档，块整体替换
	doc2, chunks2 := newTestDoc("docs/auth.md", "version two content\nwith a second chunk")
	chunks2 = append(chunks2, Chunk{
		ID: ChunkIDFor(doc2.ID, 1), DocumentID: doc2.ID, Ordinal: 1, Text: "with a second chunk",
	})
	stored, err := s.PutDocument(ctx, doc2, chunks2)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Revision)

	// 存活文档唯一
	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Revision)

	// 旧块、旧倒排项、旧向量全部消失
	all, err := s.ListAllChunks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	postings, err := s.ListPostings(ctx)
	require.NoError(t, err)
	assert.Empty(t, postings)

	embeddings, err := s.ListEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestMemoryStore_PutDocument_RejectsForeignChunks(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)

	doc, _ := newTestDoc("docs/a.md", "content a")
	foreign := Chunk{ID: "doc_other_c0000", DocumentID: "doc_other", Ordinal: 0, Text: "x"}

	_, err := s.PutDocument(context.Background(), doc, []Chunk{foreign})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong")
}

func TestMemoryStore_ListAllChunks_Ordering(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	ctx := context.Background()

	// 乱序写入两个文档
	docB, _ := newTestDoc("docs/b.md", "content b")
	chunksB := []Chunk{
		{ID: ChunkIDFor(docB.ID, 1), DocumentID: docB.ID, Ordinal: 1, Text: "b1"},
		{ID: ChunkIDFor(docB.ID, 0), DocumentID: docB.ID, Ordinal: 0, Text: "b0"},
	}
	docA, _ := newTestDoc("docs/a.md", "content a")
	chunksA := []Chunk{
		{ID: ChunkIDFor(docA.ID, 0), DocumentID: docA.ID, Ordinal: 0, Text: "a0"},
	}

	_, err := s.PutDocument(ctx, docB, chunksB)
	require.NoError(t, err)
	_, err = s.PutDocument(ctx, docA, chunksA)
	require.NoError(t, err)

	all, err := s.ListAllChunks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// (DocumentID, Ordinal) 排序
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		ok := prev.DocumentID < cur.DocumentID ||
			(prev.DocumentID == cur.DocumentID && prev.Ordinal < cur.Ordinal)
		assert.True(t, ok, "chunks out of order at %d", i)
	}
}

func TestMemoryStore_PostingsPartitionedByDocument(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	ctx := context.Background()

	docA, chunksA := newTestDoc("docs/a.md", "alpha beta")
	docB, chunksB := newTestDoc("docs/b.md", "beta gamma")
	_, err := s.PutDocument(ctx, docA, chunksA)
	require.NoError(t, err)
	_, err = s.PutDocument(ctx, docB, chunksB)
	require.NoError(t, err)

	require.NoError(t, s.ReplacePostings(ctx, docA.ID, []Posting{
		{Term: "alpha", ChunkID: chunksA[0].ID, TF: 1},
		{Term: "beta", ChunkID: chunksA[0].ID, TF: 1},
	}))
	require.NoError(t, s.ReplacePostings(ctx, docB.ID, []Posting{
		{Term: "beta", ChunkID: chunksB[0].ID, TF: 1},
		{Term: "gamma", ChunkID: chunksB[0].ID, TF: 1},
	}))

	all, err := s.ListPostings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	// (Term, ChunkID) 排序，DocumentID 由分区填充
	assert.Equal(t, "alpha", all[0].Term)
	assert.Equal(t, "beta", all[1].Term)
	assert.Equal(t, "beta", all[2].Term)
	assert.Equal(t, "gamma", all[3].Term)
	for _, p := range all {
		assert.NotEmpty(t, p.DocumentID)
	}

	// 整体替换一个分区不影响其他分区
	require.NoError(t, s.ReplacePostings(ctx, docA.ID, nil))
	remaining, err := s.ListPostings(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	for _, p := range remaining {
		assert.Equal(t, docB.ID, p.DocumentID)
	}
}

func TestMemoryStore_PutEmbeddings_UnknownChunk(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)

	err := s.PutEmbeddings(context.Background(), []Embedding{
		{ChunkID: "doc_ghost_c0000", ProviderID: "hashing", Dim: 2, Vector: []float64{1, 0}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestMemoryStore_PutEmbeddings_Idempotent(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	ctx := context.Background()

	doc, chunks := newTestDoc("docs/a.md", "content")
	_, err := s.PutDocument(ctx, doc, chunks)
	require.NoError(t, err)

	emb := Embedding{ChunkID: chunks[0].ID, ProviderID: "hashing", Dim: 2, Vector: []float64{0.6, 0.8}}
	require.NoError(t, s.PutEmbeddings(ctx, []Embedding{emb}))
	emb.Vector = []float64{1, 0}
	require.NoError(t, s.PutEmbeddings(ctx, []Embedding{emb}))

	all, err := s.ListEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []float64{1, 0}, all[0].Vector)
}

func TestMemoryStore_TermEdges_Replace(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	ctx := context.Background()

	require.NoError(t, s.ReplaceTermEdges(ctx, []TermEdge{
		{TermA: "jwt", TermB: "token", Weight: 0.8},
		{TermA: "auth", TermB: "jwt", Weight: 0.5},
	}))

	edges, err := s.ListTermEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "auth", edges[0].TermA)
	assert.Equal(t, "jwt", edges[1].TermA)

	// 整体替换
	require.NoError(t, s.ReplaceTermEdges(ctx, []TermEdge{
		{TermA: "redis", TermB: "cache", Weight: 0.9},
	}))
	edges, err = s.ListTermEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "redis", edges[0].TermA)
}

func TestMemoryStore_IndexVersionBump(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	ctx := context.Background()

	v, err := s.IndexVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v1, err := s.BumpIndexVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)

	v2, err := s.BumpIndexVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2)

	v, err = s.IndexVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestMemoryStore_ClosedStoreRejectsWrites(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Close())
	// Close 幂等
	require.NoError(t, s.Close())

	ctx := context.Background()
	doc, chunks := newTestDoc("docs/a.md", "content")

	_, err := s.PutDocument(ctx, doc, chunks)
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.GetErrorCode(err))

	_, err = s.BumpIndexVersion(ctx)
	require.Error(t, err)

	require.Error(t, s.Ping(ctx))
}

func TestMemoryStore_CountChunks(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	ctx := context.Background()

	n, err := s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	doc, chunks := newTestDoc("docs/a.md", "content")
	_, err = s.PutDocument(ctx, doc, chunks)
	require.NoError(t, err)

	n, err = s.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
