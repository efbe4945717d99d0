package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// 文档类型
const (
	DocTypeText        = "text"
	DocTypeCSVRow      = "csv_row"
	DocTypeProposition = "proposition"
)

// Document 语料文档记录。不可变：内容变化时旧修订被标记为 superseded
// 并归档，新修订整体替换其所有 Chunk。
type Document struct {
	ID          string    `json:"id"`
	SourceURI   string    `json:"source_uri"`
	ContentHash string    `json:"content_hash"`
	Type        string    `json:"type"`
	RawContent  string    `json:"raw_content"`
	Summary     string    `json:"summary,omitempty"`
	Revision    int       `json:"revision"`
	Superseded  bool      `json:"superseded"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk 检索单元。恰好归属一个存活 Document。
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	TokenCount int    `json:"token_count"`
}

// Embedding 块向量。稠密索引关闭时不存在；每个 provider 每块一条。
type Embedding struct {
	ChunkID    string    `json:"chunk_id"`
	ProviderID string    `json:"provider_id"`
	Dim        int       `json:"dim"`
	Vector     []float64 `json:"vector"`
}

// Posting 倒排表项，按文档分区以支持增量重建。
type Posting struct {
	Term       string `json:"term"`
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	TF         int    `json:"tf"`
}

// TermEdge 词共现边，批量提交时整体重建。
type TermEdge struct {
	TermA  string  `json:"term_a"`
	TermB  string  `json:"term_b"`
	Weight float64 `json:"weight"`
}

// Store 语料存储接口。所有 List* 方法返回确定性排序的结果：
// 文档按 ID，块按 (DocumentID, Ordinal)，倒排项按 (Term, ChunkID)，
// 向量按 (ChunkID, ProviderID)，边按 (TermA, TermB)。
type Store interface {
	// PutDocument 原子写入文档及其全部块。若同 ID 的存活文档已存在，
	// 旧修订被归档（superseded），其块、倒排项与向量整体删除。
	// 返回落库后的文档（含分配的修订号）。
	PutDocument(ctx context.Context, doc Document, chunks []Chunk) (Document, error)

	// GetDocument 返回存活修订；不存在时返回 NOT_FOUND。
	GetDocument(ctx context.Context, id string) (Document, error)

	// GetDocumentBySource 按来源 URI 查找存活文档。
	GetDocumentBySource(ctx context.Context, sourceURI string) (Document, error)

	// ListDocuments 返回全部存活文档。
	ListDocuments(ctx context.Context) ([]Document, error)

	GetChunk(ctx context.Context, id string) (Chunk, error)
	ListChunks(ctx context.Context, documentID string) ([]Chunk, error)
	ListAllChunks(ctx context.Context) ([]Chunk, error)
	CountChunks(ctx context.Context) (int, error)

	// ReplacePostings 整体替换一个文档分区的倒排项。
	ReplacePostings(ctx context.Context, documentID string, postings []Posting) error
	ListPostings(ctx context.Context) ([]Posting, error)

	// PutEmbeddings 按 (ChunkID, ProviderID) 幂等写入。
	PutEmbeddings(ctx context.Context, embeddings []Embedding) error
	ListEmbeddings(ctx context.Context) ([]Embedding, error)

	// ReplaceTermEdges 整体替换词共现图。
	ReplaceTermEdges(ctx context.Context, edges []TermEdge) error
	ListTermEdges(ctx context.Context) ([]TermEdge, error)

	// DeleteOrphanChunks 删除失去存活文档的块及其倒排项与向量，
	// 返回删除数量。摄取批次开始时调用。
	DeleteOrphanChunks(ctx context.Context) (int, error)

	// IndexVersion 返回当前索引版本。
	IndexVersion(ctx context.Context) (uint64, error)

	// BumpIndexVersion 原子递增并返回新版本。每个摄取批次恰好调用一次，
	// 是唯一的发布点。
	BumpIndexVersion(ctx context.Context) (uint64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ====== 标识与内容哈希 ======

// NormalizeContent 归一化用于哈希的内容：CRLF 转 LF，逐行去除行尾空白。
func NormalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// ContentHash 返回归一化内容的 SHA-256 十六进制摘要。
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// DocumentIDFor 从来源 URI 确定性派生文档 ID。
func DocumentIDFor(sourceURI string) string {
	sum := sha256.Sum256([]byte(sourceURI))
	return "doc_" + hex.EncodeToString(sum[:8])
}

// ChunkIDFor 从文档 ID 与序号派生块 ID。固定宽度序号保证
// 字典序与序号序一致。
func ChunkIDFor(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_c%04d", documentID, ordinal)
}
