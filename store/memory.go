package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// ====== 内存存储（默认后端，用于测试和单机语料）======

// MemoryStore 内存语料存储。读写锁保护全部结构；
// 被替换的文档修订进入 append-only 归档，从不被修改。
type MemoryStore struct {
	mu sync.RWMutex

	documents map[string]Document            // 存活文档，按 ID
	bySource  map[string]string              // SourceURI -> 文档 ID
	archive   []Document                     // superseded 修订，只追加
	chunks    map[string]Chunk               // 按块 ID
	docChunks map[string][]string            // 文档 ID -> 有序块 ID
	postings  map[string][]Posting           // 文档 ID -> 倒排分区
	vectors   map[string]map[string]Embedding // 块 ID -> provider -> 向量
	termEdges []TermEdge
	version   uint64

	logger *zap.Logger
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储。
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		documents: make(map[string]Document),
		bySource:  make(map[string]string),
		chunks:    make(map[string]Chunk),
		docChunks: make(map[string][]string),
		postings:  make(map[string][]Posting),
		vectors:   make(map[string]map[string]Embedding),
		logger:    logger.With(zap.String("component", "memory_store")),
	}
}

// PutDocument 原子写入文档及其全部块。
func (s *MemoryStore) PutDocument(ctx context.Context, doc Document, chunks []Chunk) (Document, error) {
	if doc.ID == "" {
		return Document{}, fmt.Errorf("document ID cannot be empty")
	}
	for _, c := range chunks {
		if c.DocumentID != doc.ID {
			return Document{}, fmt.Errorf("chunk %s does not belong to document %s", c.ID, doc.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Document{}, types.NewError(types.ErrStoreUnavailable, "store is closed")
	}

	if old, ok := s.documents[doc.ID]; ok {
		// 归档旧修订并整体删除其块、倒排项与向量
		old.Superseded = true
		s.archive = append(s.archive, old)
		s.removeDocumentDataLocked(doc.ID)
		doc.Revision = old.Revision + 1
	} else {
		doc.Revision = 1
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.Superseded = false

	s.documents[doc.ID] = doc
	s.bySource[doc.SourceURI] = doc.ID

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	ids := make([]string, 0, len(sorted))
	for _, c := range sorted {
		s.chunks[c.ID] = c
		ids = append(ids, c.ID)
	}
	s.docChunks[doc.ID] = ids

	s.logger.Debug("document stored",
		zap.String("document_id", doc.ID),
		zap.Int("revision", doc.Revision),
		zap.Int("chunks", len(chunks)))

	return doc, nil
}

// GetDocument 返回存活修订。
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return Document{}, types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	return doc, nil
}

// GetDocumentBySource 按来源 URI 查找存活文档。
func (s *MemoryStore) GetDocumentBySource(ctx context.Context, sourceURI string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySource[sourceURI]
	if !ok {
		return Document{}, types.NewError(types.ErrNotFound, "no document for source: "+sourceURI)
	}
	return s.documents[id], nil
}

// ListDocuments 返回全部存活文档，按 ID 排序。
func (s *MemoryStore) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.documents))
	for _, d := range s.documents {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// GetChunk 按 ID 返回块。
func (s *MemoryStore) GetChunk(ctx context.Context, id string) (Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, types.NewError(types.ErrNotFound, "chunk not found: "+id)
	}
	return c, nil
}

// ListChunks 返回文档的块，按序号排序。
func (s *MemoryStore) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.docChunks[documentID]
	if !ok {
		return []Chunk{}, nil
	}
	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		chunks = append(chunks, s.chunks[id])
	}
	return chunks, nil
}

// ListAllChunks 返回全部块，按 (DocumentID, Ordinal) 排序。
func (s *MemoryStore) ListAllChunks(ctx context.Context) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Ordinal < chunks[j].Ordinal
	})
	return chunks, nil
}

// CountChunks 返回块总数。
func (s *MemoryStore) CountChunks(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// ReplacePostings 整体替换一个文档分区的倒排项。
func (s *MemoryStore) ReplacePostings(ctx context.Context, documentID string, postings []Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.NewError(types.ErrStoreUnavailable, "store is closed")
	}

	if len(postings) == 0 {
		delete(s.postings, documentID)
		return nil
	}

	part := make([]Posting, len(postings))
	copy(part, postings)
	for i := range part {
		part[i].DocumentID = documentID
	}
	s.postings[documentID] = part
	return nil
}

// ListPostings 返回全部倒排项，按 (Term, ChunkID) 排序。
func (s *MemoryStore) ListPostings(ctx context.Context) ([]Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Posting
	for _, part := range s.postings {
		all = append(all, part...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Term != all[j].Term {
			return all[i].Term < all[j].Term
		}
		return all[i].ChunkID < all[j].ChunkID
	})
	return all, nil
}

// PutEmbeddings 按 (ChunkID, ProviderID) 幂等写入。
func (s *MemoryStore) PutEmbeddings(ctx context.Context, embeddings []Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.NewError(types.ErrStoreUnavailable, "store is closed")
	}

	for _, e := range embeddings {
		if _, ok := s.chunks[e.ChunkID]; !ok {
			return types.NewError(types.ErrNotFound, "chunk not found for embedding: "+e.ChunkID)
		}
		byProvider, ok := s.vectors[e.ChunkID]
		if !ok {
			byProvider = make(map[string]Embedding)
			s.vectors[e.ChunkID] = byProvider
		}
		vec := make([]float64, len(e.Vector))
		copy(vec, e.Vector)
		e.Vector = vec
		byProvider[e.ProviderID] = e
	}
	return nil
}

// ListEmbeddings 返回全部向量，按 (ChunkID, ProviderID) 排序。
func (s *MemoryStore) ListEmbeddings(ctx context.Context) ([]Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Embedding
	for _, byProvider := range s.vectors {
		for _, e := range byProvider {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ChunkID != all[j].ChunkID {
			return all[i].ChunkID < all[j].ChunkID
		}
		return all[i].ProviderID < all[j].ProviderID
	})
	return all, nil
}

// ReplaceTermEdges 整体替换词共现图。
func (s *MemoryStore) ReplaceTermEdges(ctx context.Context, edges []TermEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.NewError(types.ErrStoreUnavailable, "store is closed")
	}

	s.termEdges = make([]TermEdge, len(edges))
	copy(s.termEdges, edges)
	return nil
}

// ListTermEdges 返回全部边，按 (TermA, TermB) 排序。
func (s *MemoryStore) ListTermEdges(ctx context.Context) ([]TermEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := make([]TermEdge, len(s.termEdges))
	copy(edges, s.termEdges)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].TermA != edges[j].TermA {
			return edges[i].TermA < edges[j].TermA
		}
		return edges[i].TermB < edges[j].TermB
	})
	return edges, nil
}

// DeleteOrphanChunks 删除失去存活文档的块及其倒排项与向量。
func (s *MemoryStore) DeleteOrphanChunks(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, types.NewError(types.ErrStoreUnavailable, "store is closed")
	}

	removed := 0
	for id, c := range s.chunks {
		if _, ok := s.documents[c.DocumentID]; !ok {
			delete(s.chunks, id)
			delete(s.vectors, id)
			removed++
		}
	}
	for docID := range s.postings {
		if _, ok := s.documents[docID]; !ok {
			delete(s.postings, docID)
		}
	}
	for docID := range s.docChunks {
		if _, ok := s.documents[docID]; !ok {
			delete(s.docChunks, docID)
		}
	}

	if removed > 0 {
		s.logger.Info("orphan chunks removed", zap.Int("count", removed))
	}
	return removed, nil
}

// IndexVersion 返回当前索引版本。
func (s *MemoryStore) IndexVersion(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

// BumpIndexVersion 原子递增并返回新版本。
func (s *MemoryStore) BumpIndexVersion(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, types.NewError(types.ErrStoreUnavailable, "store is closed")
	}

	s.version++
	s.logger.Debug("index version bumped", zap.Uint64("version", s.version))
	return s.version, nil
}

// Ping 检查存储可用性。
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrStoreUnavailable, "store is closed")
	}
	return nil
}

// Close 关闭存储。
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("memory store closed")
	return nil
}

// removeDocumentDataLocked 删除文档的块、倒排分区与向量。调用方必须持有写锁。
func (s *MemoryStore) removeDocumentDataLocked(documentID string) {
	for _, chunkID := range s.docChunks[documentID] {
		delete(s.chunks, chunkID)
		delete(s.vectors, chunkID)
	}
	delete(s.docChunks, documentID)
	delete(s.postings, documentID)
}
