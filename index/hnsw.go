package index

import (
	"container/heap"
	"hash/fnv"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// ====== HNSW 近似索引 ======

// HNSWParams HNSW 图参数。
type HNSWParams struct {
	M              int // 每层最大连接数
	EfConstruction int // 构建时搜索宽度
	EfSearch       int // 搜索时宽度
	MaxLevel       int // 最大层数
}

// DefaultHNSWParams 默认参数。
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 16, EfConstruction: 200, EfSearch: 100, MaxLevel: 16}
}

// AdaptiveHNSWParams 按语料规模选择参数档位：小语料用小 M 省内存，
// 大语料用大 M 保召回。
func AdaptiveHNSWParams(dataSize int) HNSWParams {
	params := DefaultHNSWParams()
	switch {
	case dataSize < 10000:
		params.M = 12
		params.EfConstruction = 100
		params.EfSearch = 50
	case dataSize < 100000:
		params.M = 16
		params.EfConstruction = 200
		params.EfSearch = 100
	case dataSize < 1000000:
		params.M = 24
		params.EfConstruction = 300
		params.EfSearch = 150
	default:
		params.M = 32
		params.EfConstruction = 400
		params.EfSearch = 200
	}
	return params
}

// hnswParams 合成最终参数：以 sizeHint 的自适应档位为底，
// 配置中的非零值逐项覆盖。
func hnswParams(cfg config.HNSWConfig, sizeHint int) HNSWParams {
	params := AdaptiveHNSWParams(sizeHint)
	if cfg.M > 0 {
		params.M = cfg.M
	}
	if cfg.EfConstruction > 0 {
		params.EfConstruction = cfg.EfConstruction
	}
	if cfg.EfSearch > 0 {
		params.EfSearch = cfg.EfSearch
	}
	return params
}

// HNSWIndex 分层可导航小世界图索引。近似搜索，召回尽力而为；
// 节点层数由块 ID 哈希导出而非随机数，同一语料的图结构可复现。
type HNSWIndex struct {
	mu         sync.RWMutex
	params     HNSWParams
	entries    map[string]Entry
	graph      map[string]map[int][]string // chunkID -> level -> 邻居
	entryPoint string
	maxLevel   int
	logger     *zap.Logger
}

var _ DenseIndex = (*HNSWIndex)(nil)
var _ DenseIndex = (*ScanIndex)(nil)

// NewHNSWIndex 创建 HNSW 索引。
func NewHNSWIndex(params HNSWParams, logger *zap.Logger) *HNSWIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.M <= 0 {
		params = DefaultHNSWParams()
	}
	return &HNSWIndex{
		params:  params,
		entries: make(map[string]Entry),
		graph:   make(map[string]map[int][]string),
		logger:  logger.With(zap.String("component", "hnsw_index")),
	}
}

// Add 插入或覆盖条目。已存在的块先整体摘除再重新入图。
func (idx *HNSWIndex) Add(entries ...Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range entries {
		if _, exists := idx.entries[e.ChunkID]; exists {
			idx.removeLocked(e.ChunkID)
		}
		idx.insertLocked(e)
	}
}

// Remove 按块 ID 删除条目及其全部图连接。
func (idx *HNSWIndex) Remove(chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunkID)
}

// Search 近似搜索前 topK 条。从顶层贪心下降到第 0 层后做
// 宽度受限的层内搜索，候选集内部按统一规则确定性排序。
func (idx *HNSWIndex) Search(query []float64, topK int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if topK <= 0 || len(query) == 0 || len(idx.entries) == 0 {
		return nil
	}

	ep := idx.entryPoint
	if _, ok := idx.entries[ep]; !ok {
		return nil
	}
	for level := idx.maxLevel; level > 0; level-- {
		if found := idx.searchLayer(query, ep, 1, level); len(found) > 0 {
			ep = found[0]
		}
	}

	ef := idx.params.EfSearch
	if ef < topK {
		ef = topK
	}
	candidates := idx.searchLayer(query, ep, ef, 0)

	results := make([]Result, 0, len(candidates))
	for _, chunkID := range candidates {
		e := idx.entries[chunkID]
		results = append(results, Result{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Ordinal:    e.Ordinal,
			Score:      1.0 - cosineDistance(query, e.Vector),
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
func (idx *HNSWIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// insertLocked 入图。调用方持有写锁。
func (idx *HNSWIndex) insertLocked(e Entry) {
	idx.entries[e.ChunkID] = e
	level := idx.levelFor(e.ChunkID)
	if level > idx.maxLevel {
		idx.maxLevel = level
	}

	idx.graph[e.ChunkID] = make(map[int][]string)
	for l := 0; l <= level; l++ {
		idx.graph[e.ChunkID][l] = []string{}
	}

	if idx.entryPoint == "" {
		idx.entryPoint = e.ChunkID
		return
	}
	if _, ok := idx.entries[idx.entryPoint]; !ok {
		idx.entryPoint = e.ChunkID
		return
	}

	// 从顶层下降到目标层
	ep := idx.entryPoint
	for lc := idx.maxLevel; lc > level; lc-- {
		if found := idx.searchLayer(e.Vector, ep, 1, lc); len(found) > 0 {
			ep = found[0]
		}
	}

	// 逐层建立双向连接
	for lc := level; lc >= 0; lc-- {
		candidates := idx.searchLayer(e.Vector, ep, idx.params.EfConstruction, lc)

		m := idx.params.M
		if lc == 0 {
			m = idx.params.M * 2
		}
		neighbors := idx.selectNeighbors(e.ChunkID, candidates, m)
		idx.graph[e.ChunkID][lc] = neighbors

		for _, nid := range neighbors {
			if idx.graph[nid] == nil {
				continue
			}
			idx.graph[nid][lc] = append(idx.graph[nid][lc], e.ChunkID)
			if len(idx.graph[nid][lc]) > m {
				idx.graph[nid][lc] = idx.selectNeighbors(nid, idx.graph[nid][lc], m)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}
}

// removeLocked 摘除节点并清理全部反向引用。调用方持有写锁。
func (idx *HNSWIndex) removeLocked(chunkID string) {
	if _, exists := idx.entries[chunkID]; !exists {
		return
	}
	delete(idx.entries, chunkID)
	delete(idx.graph, chunkID)

	for _, levels := range idx.graph {
		for level, neighbors := range levels {
			filtered := neighbors[:0]
			for _, nid := range neighbors {
				if nid != chunkID {
					filtered = append(filtered, nid)
				}
			}
			levels[level] = filtered
		}
	}

	if idx.entryPoint == chunkID {
		idx.entryPoint = ""
		for id := range idx.entries {
			if idx.entryPoint == "" || id < idx.entryPoint {
				idx.entryPoint = id
			}
		}
	}
}

// searchLayer 在指定层做宽度 ef 的贪心搜索，返回按距离升序的候选。
func (idx *HNSWIndex) searchLayer(query []float64, ep string, ef int, level int) []string {
	entry, ok := idx.entries[ep]
	if !ok {
		return nil
	}

	visited := map[string]bool{ep: true}
	candidates := &minHeap{}
	found := &maxHeap{}

	dist := cosineDistance(query, entry.Vector)
	heap.Push(candidates, &heapItem{id: ep, dist: dist})
	heap.Push(found, &heapItem{id: ep, dist: dist})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(*heapItem)
		if c.dist > (*found)[0].dist {
			break
		}
		for _, nid := range idx.graph[c.id][level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			neighbor, ok := idx.entries[nid]
			if !ok {
				continue
			}
			dist := cosineDistance(query, neighbor.Vector)
			if dist < (*found)[0].dist || found.Len() < ef {
				heap.Push(candidates, &heapItem{id: nid, dist: dist})
				heap.Push(found, &heapItem{id: nid, dist: dist})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	result := make([]string, found.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(found).(*heapItem).id
	}
	return result
}

// selectNeighbors 选出距离最近的 m 个邻居，同距离按 ID 升序。
func (idx *HNSWIndex) selectNeighbors(chunkID string, candidates []string, m int) []string {
	if len(candidates) <= m {
		return candidates
	}
	base := idx.entries[chunkID].Vector
	type scored struct {
		id   string
		dist float64
	}
	cands := make([]scored, len(candidates))
	for i, cid := range candidates {
		cands[i] = scored{id: cid, dist: cosineDistance(base, idx.entries[cid].Vector)}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].id < cands[j].id
	})
	result := make([]string, m)
	for i := 0; i < m; i++ {
		result[i] = cands[i].id
	}
	return result
}

// levelFor 由块 ID 的哈希位序列导出层数，几何分布 p=0.5。
// 相同语料重建得到相同的图结构。
func (idx *HNSWIndex) levelFor(chunkID string) int {
	h := fnv.New64a()
	h.Write([]byte(chunkID))
	bits := h.Sum64()
	level := 0
	for bits&1 == 1 && level < idx.params.MaxLevel {
		level++
		bits >>= 1
	}
	return level
}

// cosineDistance 余弦距离（1 - 相似度）。退化输入返回最大距离 1。
func cosineDistance(a, b []float64) float64 {
	sim := cosineSimilarity(a, b)
	if sim == 0 && (len(a) != len(b) || len(a) == 0) {
		return 1.0
	}
	return 1.0 - sim
}

// ====== 距离堆 ======

type heapItem struct {
	id   string
	dist float64
}

type minHeap []*heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []*heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
