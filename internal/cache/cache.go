package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// =============================================================================
// 💾 查询结果缓存
// =============================================================================

// connectTimeout 初始连通性探测超时
const connectTimeout = 5 * time.Second

// keyPrefix 全部缓存键的公共前缀
const keyPrefix = "ragflow:query"

// QueryCache 基于 Redis 的查询结果缓存。
// 键内含索引版本,摄取推进版本后旧键不再命中,由 TTL 回收。
type QueryCache struct {
	redis  *redis.Client
	cfg    config.CacheConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewQueryCache 创建查询缓存并验证 Redis 连通性
func NewQueryCache(cfg config.CacheConfig, logger *zap.Logger) (*QueryCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &QueryCache{
		redis:  client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "query_cache")),
	}

	c.logger.Info("query cache initialized",
		zap.String("addr", cfg.Addr),
		zap.Duration("ttl", cfg.TTL),
	)

	return c, nil
}

// Key 由查询文本、开关指纹与索引版本构造确定性缓存键。
// 同一 (prompt, fingerprint) 在不同索引版本下得到不同键。
func Key(prompt, fingerprint string, indexVersion uint64) string {
	sum := sha256.Sum256([]byte(prompt + "\x00" + fingerprint))
	return fmt.Sprintf("%s:v%d:%s", keyPrefix, indexVersion, hex.EncodeToString(sum[:16]))
}

// ====== 读写 ======

// Get 读取缓存值并反序列化到 dest。未命中返回 ErrCacheMiss。
func (c *QueryCache) Get(ctx context.Context, key string, dest any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("query cache is closed")
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache get failed: %w", err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// Set 序列化 value 并以配置 TTL 写入
func (c *QueryCache) Set(ctx context.Context, key string, value any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("query cache is closed")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	ttl := c.cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultCacheConfig().TTL
	}

	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete 删除缓存键
func (c *QueryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("query cache is closed")
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// ====== 生命周期 ======

// Ping 检查 Redis 连通性
func (c *QueryCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("query cache is closed")
	}
	return c.redis.Ping(ctx).Err()
}

// Close 关闭底层连接。幂等。
func (c *QueryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("closing query cache")

	return c.redis.Close()
}

// ====== 错误语义 ======

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = fmt.Errorf("cache miss")

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
