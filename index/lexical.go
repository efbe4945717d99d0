package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/store"
)

// 检索方法标签
const (
	MethodLexical = "lexical"
	MethodDense   = "dense"
	MethodFused   = "fused"
)

// Result 单路检索结果。DocumentID 与 Ordinal 参与确定性排序。
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Score      float64 `json:"score"`
	Method     string  `json:"method"`
	Rank       int     `json:"rank"`
}

// SortResults 确定性排序：得分降序；同分按 Ordinal、DocumentID、
// ChunkID 升序。全模块共用此顺序，保证相同语料与查询产出逐字节
// 一致的结果。
func SortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Ordinal != results[j].Ordinal {
			return results[i].Ordinal < results[j].Ordinal
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// ====== BM25 词法索引 ======

// chunkStat 块级统计：归属文档、序号与词项长度。
type chunkStat struct {
	documentID string
	ordinal    int
	length     int
}

// Lexical BM25 倒排索引。倒排项按文档分区，Add/Remove 以文档为
// 单位增量更新，内存态与 store 持久层保持写穿；Load 在启动时
// 从 store 整体回灌。
type Lexical struct {
	mu     sync.RWMutex
	store  store.Store
	k1     float64
	b      float64
	logger *zap.Logger

	postings   map[string]map[string]int  // term -> chunkID -> tf
	partitions map[string][]store.Posting // documentID -> 倒排分区
	chunks     map[string]chunkStat       // chunkID -> 统计
	totalLen   int
}

// NewLexical 创建词法索引。k1/b 取零值时回落到 1.2/0.75。
func NewLexical(st store.Store, cfg config.LexicalConfig, logger *zap.Logger) *Lexical {
	if logger == nil {
		logger = zap.NewNop()
	}
	k1 := cfg.K1
	if k1 <= 0 {
		k1 = 1.2
	}
	b := cfg.B
	if b <= 0 {
		b = 0.75
	}
	return &Lexical{
		store:      st,
		k1:         k1,
		b:          b,
		logger:     logger.With(zap.String("component", "lexical_index")),
		postings:   make(map[string]map[string]int),
		partitions: make(map[string][]store.Posting),
		chunks:     make(map[string]chunkStat),
	}
}

// Load 从 store 回灌倒排索引，替换全部内存态。
func (l *Lexical) Load(ctx context.Context) error {
	chunks, err := l.store.ListAllChunks(ctx)
	if err != nil {
		return err
	}
	postings, err := l.store.ListPostings(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.postings = make(map[string]map[string]int)
	l.partitions = make(map[string][]store.Posting)
	l.chunks = make(map[string]chunkStat, len(chunks))
	l.totalLen = 0

	for _, c := range chunks {
		l.chunks[c.ID] = chunkStat{documentID: c.DocumentID, ordinal: c.Ordinal}
	}
	byDoc := make(map[string][]store.Posting)
	for _, p := range postings {
		byDoc[p.DocumentID] = append(byDoc[p.DocumentID], p)
	}
	for documentID, partition := range byDoc {
		l.installLocked(documentID, partition)
	}

	l.logger.Info("lexical index loaded",
		zap.Int("chunks", len(l.chunks)),
		zap.Int("terms", len(l.postings)),
		zap.Int("documents", len(l.partitions)))
	return nil
}

// Add 为一个文档建立倒排分区并写穿到 store。同 ID 旧分区整体替换。
func (l *Lexical) Add(ctx context.Context, doc store.Document, chunks []store.Chunk) error {
	partition := BuildPostings(doc.ID, chunks)
	if err := l.store.ReplacePostings(ctx, doc.ID, partition); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(doc.ID)
	for _, c := range chunks {
		l.chunks[c.ID] = chunkStat{documentID: c.DocumentID, ordinal: c.Ordinal}
	}
	l.installLocked(doc.ID, partition)
	return nil
}

// Remove 删除一个文档的倒排分区并写穿到 store。
func (l *Lexical) Remove(ctx context.Context, documentID string) error {
	if err := l.store.ReplacePostings(ctx, documentID, nil); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(documentID)
	return nil
}

// Search 对词项序列执行 BM25 检索，返回前 topK 条结果。
// 重复词项按出现次数累加贡献；不含任何查询词的块不出现在结果中。
func (l *Lexical) Search(terms []string, topK int) []Result {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if topK <= 0 || len(terms) == 0 || len(l.chunks) == 0 {
		return nil
	}

	n := float64(len(l.chunks))
	avgdl := float64(l.totalLen) / n
	if avgdl <= 0 {
		avgdl = 1
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		bucket := l.postings[term]
		if len(bucket) == 0 {
			continue
		}
		df := float64(len(bucket))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1.0)
		for chunkID, tf := range bucket {
			dl := float64(l.chunks[chunkID].length)
			tfF := float64(tf)
			denom := tfF + l.k1*(1.0-l.b+l.b*dl/avgdl)
			scores[chunkID] += idf * tfF * (l.k1 + 1.0) / denom
		}
	}

	results := make([]Result, 0, len(scores))
	for chunkID, score := range scores {
		stat := l.chunks[chunkID]
		results = append(results, Result{
			ChunkID:    chunkID,
			DocumentID: stat.documentID,
			Ordinal:    stat.ordinal,
			Score:      score,
			Method:     MethodLexical,
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

// DF 返回包含词项的块数，查询增强据此估计词项稀有度。
func (l *Lexical) DF(term string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.postings[term])
}

// ChunkCount 返回索引内块数。
func (l *Lexical) ChunkCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chunks)
}

// TermCount 返回索引内不同词项数。
func (l *Lexical) TermCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.postings)
}

// installLocked 装载一个文档分区。调用方持有写锁。
func (l *Lexical) installLocked(documentID string, partition []store.Posting) {
	if len(partition) == 0 {
		return
	}
	l.partitions[documentID] = partition
	for _, p := range partition {
		bucket := l.postings[p.Term]
		if bucket == nil {
			bucket = make(map[string]int)
			l.postings[p.Term] = bucket
		}
		bucket[p.ChunkID] = p.TF

		stat := l.chunks[p.ChunkID]
		stat.documentID = p.DocumentID
		stat.length += p.TF
		l.chunks[p.ChunkID] = stat
		l.totalLen += p.TF
	}
}

// removeLocked 卸载一个文档分区及其块统计。调用方持有写锁。
func (l *Lexical) removeLocked(documentID string) {
	partition, ok := l.partitions[documentID]
	if ok {
		for _, p := range partition {
			bucket := l.postings[p.Term]
			delete(bucket, p.ChunkID)
			if len(bucket) == 0 {
				delete(l.postings, p.Term)
			}
			l.totalLen -= p.TF
		}
		delete(l.partitions, documentID)
	}
	for chunkID, stat := range l.chunks {
		if stat.documentID == documentID {
			delete(l.chunks, chunkID)
		}
	}
}

// BuildPostings 从块序列构建文档分区的倒排项，按 (Term, ChunkID)
// 升序返回。
func BuildPostings(documentID string, chunks []store.Chunk) []store.Posting {
	var partition []store.Posting
	for _, c := range chunks {
		for term, tf := range TermCounts(Tokenize(c.Text)) {
			partition = append(partition, store.Posting{
				Term:       term,
				ChunkID:    c.ID,
				DocumentID: documentID,
				TF:         tf,
			})
		}
	}
	sort.Slice(partition, func(i, j int) bool {
		if partition[i].Term != partition[j].Term {
			return partition[i].Term < partition[j].Term
		}
		return partition[i].ChunkID < partition[j].ChunkID
	})
	return partition
}
