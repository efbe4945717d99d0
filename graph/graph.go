package graph

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/index"
	"github.com/BaSui01/ragflow/store"
)

// 每块参与共现统计的词项上限。块内词项对数量随词项数平方增长，
// 超限时保留块内词频最高的词项。
const maxTermsPerChunk = 32

// Neighbor 共现邻居及其边权。
type Neighbor struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// TermGraph 词共现图。邻接表与 store 的 term_edges 表保持同步：
// Rebuild 写穿持久层，Load 在启动时回灌。
type TermGraph struct {
	mu        sync.RWMutex
	store     store.Store
	logger    *zap.Logger
	adj       map[string]map[string]float64 // term -> neighbor -> weight
	edgeCount int
}

// NewTermGraph 创建词共现图。
func NewTermGraph(st store.Store, logger *zap.Logger) *TermGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermGraph{
		store:  st,
		logger: logger.With(zap.String("component", "term_graph")),
		adj:    make(map[string]map[string]float64),
	}
}

// Load 从 store 回灌共现图，替换全部内存态。
func (g *TermGraph) Load(ctx context.Context) error {
	edges, err := g.store.ListTermEdges(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.installLocked(edges)
	g.mu.Unlock()

	g.logger.Info("term graph loaded",
		zap.Int("edges", len(edges)),
		zap.Int("terms", g.termCountLocked()))
	return nil
}

// Rebuild 基于全量块重建共现图并写穿到 store。
// 摄取批次提交时调用。
func (g *TermGraph) Rebuild(ctx context.Context, chunks []store.Chunk) error {
	edges := BuildEdges(chunks)
	if err := g.store.ReplaceTermEdges(ctx, edges); err != nil {
		return err
	}
	g.mu.Lock()
	g.installLocked(edges)
	g.mu.Unlock()

	g.logger.Info("term graph rebuilt",
		zap.Int("chunks", len(chunks)),
		zap.Int("edges", len(edges)))
	return nil
}

// Neighbors 返回权重不低于 minWeight 的共现邻居，
// 按权重降序、词项升序排列。
func (g *TermGraph) Neighbors(term string, minWeight float64) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bucket := g.adj[term]
	if len(bucket) == 0 {
		return nil
	}
	neighbors := make([]Neighbor, 0, len(bucket))
	for t, w := range bucket {
		if w >= minWeight {
			neighbors = append(neighbors, Neighbor{Term: t, Weight: w})
		}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Weight != neighbors[j].Weight {
			return neighbors[i].Weight > neighbors[j].Weight
		}
		return neighbors[i].Term < neighbors[j].Term
	})
	return neighbors
}

// Weight 返回两词项间的边权，无边时为 0。对称。
func (g *TermGraph) Weight(a, b string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adj[a][b]
}

// EdgeCount 返回边数。
func (g *TermGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgeCount
}

// TermCount 返回图中词项数。
func (g *TermGraph) TermCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.termCountLocked()
}

func (g *TermGraph) termCountLocked() int {
	return len(g.adj)
}

// installLocked 以边集重建邻接表。调用方持有写锁。
func (g *TermGraph) installLocked(edges []store.TermEdge) {
	g.adj = make(map[string]map[string]float64, len(edges))
	for _, e := range edges {
		g.linkLocked(e.TermA, e.TermB, e.Weight)
		g.linkLocked(e.TermB, e.TermA, e.Weight)
	}
	g.edgeCount = len(edges)
}

func (g *TermGraph) linkLocked(from, to string, weight float64) {
	bucket := g.adj[from]
	if bucket == nil {
		bucket = make(map[string]float64)
		g.adj[from] = bucket
	}
	bucket[to] = weight
}

// ====== 共现边构建 ======

// BuildEdges 从块集合统计词项共现边。以块为共现窗口，
// 权重为重叠系数 cooc(a,b)/min(df(a),df(b))，落在 (0,1]。
// 边按 (TermA, TermB) 升序返回，TermA < TermB 规范化。
func BuildEdges(chunks []store.Chunk) []store.TermEdge {
	df := make(map[string]int)
	cooc := make(map[[2]string]int)

	for _, c := range chunks {
		terms := chunkTerms(c.Text)
		for _, t := range terms {
			df[t]++
		}
		for i := 0; i < len(terms); i++ {
			for j := i + 1; j < len(terms); j++ {
				a, b := terms[i], terms[j]
				if b < a {
					a, b = b, a
				}
				cooc[[2]string{a, b}]++
			}
		}
	}

	edges := make([]store.TermEdge, 0, len(cooc))
	for pair, count := range cooc {
		minDF := df[pair[0]]
		if df[pair[1]] < minDF {
			minDF = df[pair[1]]
		}
		edges = append(edges, store.TermEdge{
			TermA:  pair[0],
			TermB:  pair[1],
			Weight: float64(count) / float64(minDF),
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].TermA != edges[j].TermA {
			return edges[i].TermA < edges[j].TermA
		}
		return edges[i].TermB < edges[j].TermB
	})
	return edges
}

// chunkTerms 返回块内参与共现统计的去重词项：停用词过滤后按
// 块内词频降序、词项升序取前 maxTermsPerChunk 个。
func chunkTerms(text string) []string {
	counts := index.TermCounts(index.ContentTerms(text))
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxTermsPerChunk {
		terms = terms[:maxTermsPerChunk]
	}
	return terms
}
