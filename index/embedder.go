package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// 嵌入提供者类型
const (
	ProviderHashing = "hashing"
	ProviderHTTP    = "http"
)

// Embedder 嵌入能力接口。ProviderID 唯一标识提供者与维度组合，
// 向量按 (ChunkID, ProviderID) 落库。
type Embedder interface {
	// Name 返回提供者标识。
	Name() string

	// Dimensions 返回向量维度。
	Dimensions() int

	// EmbedQuery 嵌入单条查询文本。
	EmbedQuery(ctx context.Context, text string) ([]float64, error)

	// EmbedDocuments 批量嵌入文档文本。
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
}

// NewEmbedder 按配置创建嵌入提供者。未知提供者返回 INVALID_SPEC。
func NewEmbedder(cfg config.DenseConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "", ProviderHashing:
		return NewHashingEmbedder(cfg.Dimensions), nil
	case ProviderHTTP:
		return NewHTTPEmbedder(cfg, logger), nil
	default:
		return nil, types.NewError(types.ErrInvalidSpec,
			fmt.Sprintf("unknown embedding provider: %s", cfg.Provider))
	}
}

// ====== 特征哈希嵌入（默认，离线确定性）======

// HashingEmbedder 词袋特征哈希嵌入。每个词项经 FNV-64a 映射到一个
// 维度并按哈希高位取符号累加，最终 L2 归一化。无网络依赖，
// 相同文本在任何运行中产出逐字节一致的向量。
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder 创建特征哈希嵌入器。dim 非正时取 256。
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{dim: dim}
}

// Name 返回含维度的提供者标识，不同维度的向量互不混用。
func (e *HashingEmbedder) Name() string {
	return fmt.Sprintf("hashing-%d", e.dim)
}

// Dimensions 返回向量维度。
func (e *HashingEmbedder) Dimensions() int { return e.dim }

// EmbedQuery 嵌入单条查询文本。
func (e *HashingEmbedder) EmbedQuery(_ context.Context, text string) ([]float64, error) {
	return e.embed(text), nil
}

// EmbedDocuments 批量嵌入文档文本。
func (e *HashingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *HashingEmbedder) embed(text string) []float64 {
	vec := make([]float64, e.dim)
	for _, term := range Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		slot := int(sum % uint64(e.dim))
		if (sum>>32)&1 == 1 {
			vec[slot] -= 1.0
		} else {
			vec[slot] += 1.0
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// ====== HTTP 嵌入适配器（OpenAI 风格）======

// HTTPEmbedder 调用 OpenAI 风格 /v1/embeddings 端点的嵌入适配器。
// 带请求超时与客户端限速；任何失败以 PROVIDER_UNAVAILABLE 或
// TIMEOUT 返回，由上层降级为纯词法检索。
type HTTPEmbedder struct {
	cfg     config.DenseConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu  sync.RWMutex
	dim int // 以服务端实际返回为准
}

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewHTTPEmbedder 创建 HTTP 嵌入适配器。
func NewHTTPEmbedder(cfg config.DenseConfig, logger *zap.Logger) *HTTPEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return &HTTPEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "http_embedder")),
	}
}

// Name 返回含模型名的提供者标识。
func (e *HTTPEmbedder) Name() string {
	return "http-" + e.cfg.Model
}

// Dimensions 返回向量维度。服务端返回前以配置值为准。
func (e *HTTPEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dim > 0 {
		return e.dim
	}
	return e.cfg.Dimensions
}

// EmbedQuery 嵌入单条查询文本。
func (e *HTTPEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments 批量嵌入文档文本。
func (e *HTTPEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, texts)
}

func (e *HTTPEmbedder) embed(ctx context.Context, inputs []string) ([][]float64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, e.unavailable("rate limiter wait interrupted", err)
		}
	}

	body := embedRequest{Input: inputs, Model: e.cfg.Model}
	if e.cfg.Dimensions > 0 {
		body.Dimensions = e.cfg.Dimensions
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal embedding request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create embedding request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrTimeout, "embedding request timed out").
				WithCause(err).WithProvider(e.Name()).WithRetryable(true)
		}
		return nil, e.unavailable("embedding request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.unavailable("read embedding response", err)
	}
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("embedding endpoint returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		return nil, types.NewError(types.ErrProviderUnavailable, msg).
			WithProvider(e.Name()).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var decoded embedResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, e.unavailable("decode embedding response", err)
	}
	if len(decoded.Data) != len(inputs) {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("embedding count mismatch: want %d, got %d", len(inputs), len(decoded.Data))).
			WithProvider(e.Name())
	}

	vectors := make([][]float64, len(inputs))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, types.NewError(types.ErrProviderUnavailable,
				fmt.Sprintf("embedding index %d out of range", d.Index)).WithProvider(e.Name())
		}
		vectors[d.Index] = d.Embedding
	}
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		e.mu.Lock()
		e.dim = len(vectors[0])
		e.mu.Unlock()
	}
	return vectors, nil
}

func (e *HTTPEmbedder) unavailable(msg string, cause error) *types.Error {
	return types.NewError(types.ErrProviderUnavailable, msg).
		WithCause(cause).WithProvider(e.Name()).WithRetryable(true)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
