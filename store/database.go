package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/database"
	"github.com/BaSui01/ragflow/types"
)

// =============================================================================
// 🗄️ 数据库存储（gorm 多驱动后端）
// =============================================================================

// maxTxRetries PutDocument 事务的最大重试次数（死锁、序列化失败等）
const maxTxRetries = 3

// DatabaseStore 数据库语料存储。表结构由 internal/migration 管理，
// 连接池与事务重试由 internal/database.PoolManager 承担。
type DatabaseStore struct {
	pool   *database.PoolManager
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*DatabaseStore)(nil)

// ====== gorm 模型 ======

type documentModel struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	Revision    int       `gorm:"column:revision;primaryKey"`
	SourceURI   string    `gorm:"column:source_uri;size:512;index"`
	ContentHash string    `gorm:"column:content_hash;size:64"`
	Type        string    `gorm:"column:doc_type;size:32"`
	RawContent  string    `gorm:"column:raw_content;type:text"`
	Summary     string    `gorm:"column:summary;type:text"`
	Superseded  bool      `gorm:"column:superseded;index"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (documentModel) TableName() string { return "documents" }

type chunkModel struct {
	ID         string `gorm:"column:id;primaryKey;size:80"`
	DocumentID string `gorm:"column:document_id;size:64;index"`
	Ordinal    int    `gorm:"column:ordinal"`
	Content    string `gorm:"column:content;type:text"`
	CharStart  int    `gorm:"column:char_start"`
	CharEnd    int    `gorm:"column:char_end"`
	TokenCount int    `gorm:"column:token_count"`
}

func (chunkModel) TableName() string { return "chunks" }

type postingModel struct {
	Term       string `gorm:"column:term;primaryKey;size:128"`
	ChunkID    string `gorm:"column:chunk_id;primaryKey;size:80"`
	DocumentID string `gorm:"column:document_id;size:64;index"`
	TF         int    `gorm:"column:tf"`
}

func (postingModel) TableName() string { return "postings" }

type embeddingModel struct {
	ChunkID    string `gorm:"column:chunk_id;primaryKey;size:80"`
	ProviderID string `gorm:"column:provider_id;primaryKey;size:64"`
	Dim        int    `gorm:"column:dim"`
	Vector     string `gorm:"column:vector;type:text"`
}

func (embeddingModel) TableName() string { return "embeddings" }

type termEdgeModel struct {
	TermA  string  `gorm:"column:term_a;primaryKey;size:128"`
	TermB  string  `gorm:"column:term_b;primaryKey;size:128"`
	Weight float64 `gorm:"column:weight"`
}

func (termEdgeModel) TableName() string { return "term_edges" }

type indexStateModel struct {
	ID      int    `gorm:"column:id;primaryKey"`
	Version uint64 `gorm:"column:version"`
}

func (indexStateModel) TableName() string { return "index_state" }

// ====== 打开与生命周期 ======

// openDialector 按驱动名选择 gorm 方言。sqlite 为纯 Go 实现（glebarez），
// sqlite3 为 cgo 实现。
func openDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "sqlite3":
		return cgosqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Open 连接数据库并配置连接池。
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to open database").WithCause(err)
	}

	return NewDatabaseStore(db, cfg, logger)
}

// NewDatabaseStore 基于已有 gorm 连接创建存储。
// 未配置的连接池参数取 database.DefaultPoolConfig；后台探活保持关闭，
// 连通性由上层 Ping 驱动。
func NewDatabaseStore(db *gorm.DB, cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg := database.DefaultPoolConfig()
	poolCfg.HealthCheckInterval = 0
	if cfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = cfg.ConnMaxLifetime
	}

	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, err
	}

	s := &DatabaseStore{
		pool:   pool,
		db:     db,
		logger: logger.With(zap.String("component", "database_store")),
	}

	s.logger.Info("database store initialized", zap.String("driver", cfg.Driver))

	return s, nil
}

// Ping 检查数据库连接。
func (s *DatabaseStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池。幂等。
func (s *DatabaseStore) Close() error {
	return s.pool.Close()
}

// DB 返回底层 gorm 实例（迁移与测试用）。
func (s *DatabaseStore) DB() *gorm.DB {
	return s.db
}

// PoolStats 返回连接池统计（诊断用）。
func (s *DatabaseStore) PoolStats() database.PoolStats {
	return s.pool.GetStats()
}

// ====== 文档 ======

// PutDocument 原子写入文档及其全部块。
func (s *DatabaseStore) PutDocument(ctx context.Context, doc Document, chunks []Chunk) (Document, error) {
	if doc.ID == "" {
		return Document{}, fmt.Errorf("document ID cannot be empty")
	}
	for _, c := range chunks {
		if c.DocumentID != doc.ID {
			return Document{}, fmt.Errorf("chunk %s does not belong to document %s", c.ID, doc.ID)
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	err := s.pool.WithTransactionRetry(ctx, maxTxRetries, func(tx *gorm.DB) error {
		var old documentModel
		err := tx.Where("id = ? AND superseded = ?", doc.ID, false).First(&old).Error
		switch {
		case err == nil:
			// 归档旧修订并整体删除其块、倒排项与向量
			if err := tx.Model(&documentModel{}).
				Where("id = ? AND revision = ?", old.ID, old.Revision).
				Update("superseded", true).Error; err != nil {
				return err
			}
			var chunkIDs []string
			if err := tx.Model(&chunkModel{}).
				Where("document_id = ?", doc.ID).
				Pluck("id", &chunkIDs).Error; err != nil {
				return err
			}
			if len(chunkIDs) > 0 {
				if err := tx.Where("chunk_id IN ?", chunkIDs).Delete(&embeddingModel{}).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("document_id = ?", doc.ID).Delete(&chunkModel{}).Error; err != nil {
				return err
			}
			if err := tx.Where("document_id = ?", doc.ID).Delete(&postingModel{}).Error; err != nil {
				return err
			}
			doc.Revision = old.Revision + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
			doc.Revision = 1
		default:
			return err
		}

		doc.Superseded = false
		if err := tx.Create(docToModel(doc)).Error; err != nil {
			return err
		}
		if len(chunks) > 0 {
			models := make([]chunkModel, 0, len(chunks))
			for _, c := range chunks {
				models = append(models, chunkToModel(c))
			}
			if err := tx.CreateInBatches(models, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("put document %s: %w", doc.ID, err)
	}

	s.logger.Debug("document stored",
		zap.String("document_id", doc.ID),
		zap.Int("revision", doc.Revision),
		zap.Int("chunks", len(chunks)))

	return doc, nil
}

// GetDocument 返回存活修订。
func (s *DatabaseStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var m documentModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND superseded = ?", id, false).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return docFromModel(m), nil
}

// GetDocumentBySource 按来源 URI 查找存活文档。
func (s *DatabaseStore) GetDocumentBySource(ctx context.Context, sourceURI string) (Document, error) {
	var m documentModel
	err := s.db.WithContext(ctx).
		Where("source_uri = ? AND superseded = ?", sourceURI, false).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, types.NewError(types.ErrNotFound, "no document for source: "+sourceURI)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document by source %s: %w", sourceURI, err)
	}
	return docFromModel(m), nil
}

// ListDocuments 返回全部存活文档，按 ID 排序。
func (s *DatabaseStore) ListDocuments(ctx context.Context) ([]Document, error) {
	var models []documentModel
	if err := s.db.WithContext(ctx).
		Where("superseded = ?", false).
		Order("id").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, docFromModel(m))
	}
	return docs, nil
}

// ====== 块 ======

// GetChunk 按 ID 返回块。
func (s *DatabaseStore) GetChunk(ctx context.Context, id string) (Chunk, error) {
	var m chunkModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Chunk{}, types.NewError(types.ErrNotFound, "chunk not found: "+id)
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return chunkFromModel(m), nil
}

// ListChunks 返回文档的块，按序号排序。
func (s *DatabaseStore) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	var models []chunkModel
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("ordinal").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", documentID, err)
	}
	chunks := make([]Chunk, 0, len(models))
	for _, m := range models {
		chunks = append(chunks, chunkFromModel(m))
	}
	return chunks, nil
}

// ListAllChunks 返回全部块，按 (DocumentID, Ordinal) 排序。
func (s *DatabaseStore) ListAllChunks(ctx context.Context) ([]Chunk, error) {
	var models []chunkModel
	if err := s.db.WithContext(ctx).
		Order("document_id, ordinal").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list all chunks: %w", err)
	}
	chunks := make([]Chunk, 0, len(models))
	for _, m := range models {
		chunks = append(chunks, chunkFromModel(m))
	}
	return chunks, nil
}

// CountChunks 返回块总数。
func (s *DatabaseStore) CountChunks(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&chunkModel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(count), nil
}

// ====== 倒排项 ======

// ReplacePostings 整体替换一个文档分区的倒排项。
func (s *DatabaseStore) ReplacePostings(ctx context.Context, documentID string, postings []Posting) error {
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&postingModel{}).Error; err != nil {
			return fmt.Errorf("delete postings for %s: %w", documentID, err)
		}
		if len(postings) == 0 {
			return nil
		}
		models := make([]postingModel, 0, len(postings))
		for _, p := range postings {
			models = append(models, postingModel{
				Term:       p.Term,
				ChunkID:    p.ChunkID,
				DocumentID: documentID,
				TF:         p.TF,
			})
		}
		if err := tx.CreateInBatches(models, 500).Error; err != nil {
			return fmt.Errorf("insert postings for %s: %w", documentID, err)
		}
		return nil
	})
}

// ListPostings 返回全部倒排项，按 (Term, ChunkID) 排序。
func (s *DatabaseStore) ListPostings(ctx context.Context) ([]Posting, error) {
	var models []postingModel
	if err := s.db.WithContext(ctx).
		Order("term, chunk_id").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	postings := make([]Posting, 0, len(models))
	for _, m := range models {
		postings = append(postings, Posting{
			Term:       m.Term,
			ChunkID:    m.ChunkID,
			DocumentID: m.DocumentID,
			TF:         m.TF,
		})
	}
	return postings, nil
}

// ====== 向量 ======

// PutEmbeddings 按 (ChunkID, ProviderID) 幂等写入。
func (s *DatabaseStore) PutEmbeddings(ctx context.Context, embeddings []Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		seen := make(map[string]bool)
		var chunkIDs []string
		for _, e := range embeddings {
			if !seen[e.ChunkID] {
				seen[e.ChunkID] = true
				chunkIDs = append(chunkIDs, e.ChunkID)
			}
		}
		var count int64
		if err := tx.Model(&chunkModel{}).Where("id IN ?", chunkIDs).Count(&count).Error; err != nil {
			return err
		}
		if int(count) != len(chunkIDs) {
			return types.NewError(types.ErrNotFound, "embedding references missing chunk")
		}

		for _, e := range embeddings {
			vec, err := json.Marshal(e.Vector)
			if err != nil {
				return fmt.Errorf("marshal vector for %s: %w", e.ChunkID, err)
			}
			m := embeddingModel{
				ChunkID:    e.ChunkID,
				ProviderID: e.ProviderID,
				Dim:        e.Dim,
				Vector:     string(vec),
			}
			// 幂等：同键覆盖
			if err := tx.Where("chunk_id = ? AND provider_id = ?", e.ChunkID, e.ProviderID).
				Delete(&embeddingModel{}).Error; err != nil {
				return err
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListEmbeddings 返回全部向量，按 (ChunkID, ProviderID) 排序。
func (s *DatabaseStore) ListEmbeddings(ctx context.Context) ([]Embedding, error) {
	var models []embeddingModel
	if err := s.db.WithContext(ctx).
		Order("chunk_id, provider_id").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	embeddings := make([]Embedding, 0, len(models))
	for _, m := range models {
		var vec []float64
		if err := json.Unmarshal([]byte(m.Vector), &vec); err != nil {
			return nil, types.NewError(types.ErrIndexCorruption,
				"corrupt embedding vector for chunk "+m.ChunkID).WithCause(err)
		}
		embeddings = append(embeddings, Embedding{
			ChunkID:    m.ChunkID,
			ProviderID: m.ProviderID,
			Dim:        m.Dim,
			Vector:     vec,
		})
	}
	return embeddings, nil
}

// ====== 词共现图 ======

// ReplaceTermEdges 整体替换词共现图。
func (s *DatabaseStore) ReplaceTermEdges(ctx context.Context, edges []TermEdge) error {
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM term_edges").Error; err != nil {
			return fmt.Errorf("clear term edges: %w", err)
		}
		if len(edges) == 0 {
			return nil
		}
		models := make([]termEdgeModel, 0, len(edges))
		for _, e := range edges {
			models = append(models, termEdgeModel{TermA: e.TermA, TermB: e.TermB, Weight: e.Weight})
		}
		if err := tx.CreateInBatches(models, 500).Error; err != nil {
			return fmt.Errorf("insert term edges: %w", err)
		}
		return nil
	})
}

// ListTermEdges 返回全部边，按 (TermA, TermB) 排序。
func (s *DatabaseStore) ListTermEdges(ctx context.Context) ([]TermEdge, error) {
	var models []termEdgeModel
	if err := s.db.WithContext(ctx).
		Order("term_a, term_b").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list term edges: %w", err)
	}
	edges := make([]TermEdge, 0, len(models))
	for _, m := range models {
		edges = append(edges, TermEdge{TermA: m.TermA, TermB: m.TermB, Weight: m.Weight})
	}
	return edges, nil
}

// ====== 孤儿回收与版本 ======

// DeleteOrphanChunks 删除失去存活文档的块及其倒排项与向量。
func (s *DatabaseStore) DeleteOrphanChunks(ctx context.Context) (int, error) {
	removed := 0
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		live := tx.Model(&documentModel{}).Select("id").Where("superseded = ?", false)

		var chunkIDs []string
		if err := tx.Model(&chunkModel{}).
			Where("document_id NOT IN (?)", live).
			Pluck("id", &chunkIDs).Error; err != nil {
			return err
		}
		if len(chunkIDs) == 0 {
			return nil
		}

		if err := tx.Where("chunk_id IN ?", chunkIDs).Delete(&embeddingModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chunk_id IN ?", chunkIDs).Delete(&postingModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", chunkIDs).Delete(&chunkModel{}).Error; err != nil {
			return err
		}
		removed = len(chunkIDs)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete orphan chunks: %w", err)
	}

	if removed > 0 {
		s.logger.Info("orphan chunks removed", zap.Int("count", removed))
	}
	return removed, nil
}

// IndexVersion 返回当前索引版本。
func (s *DatabaseStore) IndexVersion(ctx context.Context) (uint64, error) {
	var m indexStateModel
	err := s.db.WithContext(ctx).Where("id = ?", 1).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read index version: %w", err)
	}
	return m.Version, nil
}

// BumpIndexVersion 原子递增并返回新版本。
func (s *DatabaseStore) BumpIndexVersion(ctx context.Context) (uint64, error) {
	var version uint64
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var m indexStateModel
		err := tx.Where("id = ?", 1).First(&m).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			m = indexStateModel{ID: 1, Version: 1}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&indexStateModel{}).
				Where("id = ?", 1).
				Update("version", gorm.Expr("version + ?", 1)).Error; err != nil {
				return err
			}
			m.Version++
		}
		version = m.Version
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bump index version: %w", err)
	}

	s.logger.Debug("index version bumped", zap.Uint64("version", version))
	return version, nil
}

// ====== 记录转换 ======

func docToModel(d Document) *documentModel {
	return &documentModel{
		ID:          d.ID,
		Revision:    d.Revision,
		SourceURI:   d.SourceURI,
		ContentHash: d.ContentHash,
		Type:        d.Type,
		RawContent:  d.RawContent,
		Summary:     d.Summary,
		Superseded:  d.Superseded,
		CreatedAt:   d.CreatedAt,
	}
}

func docFromModel(m documentModel) Document {
	return Document{
		ID:          m.ID,
		Revision:    m.Revision,
		SourceURI:   m.SourceURI,
		ContentHash: m.ContentHash,
		Type:        m.Type,
		RawContent:  m.RawContent,
		Summary:     m.Summary,
		Superseded:  m.Superseded,
		CreatedAt:   m.CreatedAt,
	}
}

func chunkToModel(c Chunk) chunkModel {
	return chunkModel{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Ordinal:    c.Ordinal,
		Content:    c.Text,
		CharStart:  c.CharStart,
		CharEnd:    c.CharEnd,
		TokenCount: c.TokenCount,
	}
}

func chunkFromModel(m chunkModel) Chunk {
	return Chunk{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Ordinal:    m.Ordinal,
		Text:       m.Content,
		CharStart:  m.CharStart,
		CharEnd:    m.CharEnd,
		TokenCount: m.TokenCount,
	}
}

// Models 返回全部 gorm 模型（AutoMigrate 与测试用）。
func Models() []any {
	return []any{
		&documentModel{},
		&chunkModel{},
		&postingModel{},
		&embeddingModel{},
		&termEdgeModel{},
		&indexStateModel{},
	}
}
