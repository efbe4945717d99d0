package index

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// 稠密索引后端类型
const (
	BackendScan = "scan"
	BackendHNSW = "hnsw"
)

// Entry 稠密索引条目，携带确定性排序所需的块元数据。
type Entry struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Vector     []float64
}

// DenseIndex 稠密向量索引接口。scan 后端做精确余弦扫描，
// hnsw 后端做近似图搜索；两者遵循同一结果契约。
type DenseIndex interface {
	// Add 插入或覆盖条目。
	Add(entries ...Entry)

	// Remove 按块 ID 删除条目。
	Remove(chunkID string)

	// Search 返回与查询向量最相似的前 topK 条结果。
	Search(query []float64, topK int) []Result

	// Size 返回条目数。
	Size() int
}

// NewDenseIndex 按配置选择后端。sizeHint 为预计条目数，
// hnsw 后端据此自适应图参数；传 0 使用默认档位。
func NewDenseIndex(cfg config.DenseConfig, sizeHint int, logger *zap.Logger) DenseIndex {
	switch cfg.Backend {
	case BackendHNSW:
		return NewHNSWIndex(hnswParams(cfg.HNSW, sizeHint), logger)
	default:
		return NewScanIndex()
	}
}

// ====== 精确扫描后端 ======

// ScanIndex 精确余弦扫描索引。O(N) 查询，结果完全确定。
type ScanIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewScanIndex 创建扫描索引。
func NewScanIndex() *ScanIndex {
	return &ScanIndex{entries: make(map[string]Entry)}
}

// Add 插入或覆盖条目。
func (s *ScanIndex) Add(entries ...Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ChunkID] = e
	}
}

// Remove 按块 ID 删除条目。
func (s *ScanIndex) Remove(chunkID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, chunkID)
}

// Search 对全部条目计算余弦相似度，返回前 topK 条。
func (s *ScanIndex) Search(query []float64, topK int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 || len(query) == 0 || len(s.entries) == 0 {
		return nil
	}

	results := make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		if len(e.Vector) != len(query) {
			continue
		}
		results = append(results, Result{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Ordinal:    e.Ordinal,
			Score:      cosineSimilarity(query, e.Vector),
			Method:     MethodDense,
		})
	}
	SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// Size 返回条目数。
func (s *ScanIndex) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cosineSimilarity 计算余弦相似度。维度不符或零向量返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
