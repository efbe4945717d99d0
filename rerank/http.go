package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// HTTPReranker 调用 Cohere 风格 /v2/rerank 端点的精排适配器。
// 带请求超时与客户端限速；任何失败以 PROVIDER_UNAVAILABLE 或
// TIMEOUT 返回，由 FallbackReranker 降级到 overlap。
type HTTPReranker struct {
	cfg     config.RerankConfig
	blend   float64
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewHTTPReranker 创建 HTTP 精排适配器。
func NewHTTPReranker(cfg config.RerankConfig, logger *zap.Logger) *HTTPReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.ai"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "rerank-v3.5"
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
	return &HTTPReranker{
		cfg:     cfg,
		blend:   clampBlend(cfg.BlendWeight),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "http_reranker")),
	}
}

var _ Reranker = (*HTTPReranker)(nil)

// Name 返回含模型名的提供者标识。
func (r *HTTPReranker) Name() string {
	return "http-" + r.cfg.Model
}

// Rerank 按查询相关性重排候选。端点未返回的候选相关度记零。
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, r.unavailable("rate limiter wait interrupted", err)
		}
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}
	body := rerankRequest{
		Query:     query,
		Documents: docs,
		Model:     r.cfg.Model,
		TopN:      len(docs),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal rerank request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.BaseURL+"/v2/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create rerank request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrTimeout, "rerank request timed out").
				WithCause(err).WithProvider(r.Name()).WithRetryable(true)
		}
		return nil, r.unavailable("rerank request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, r.unavailable("read rerank response", err)
	}
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("rerank endpoint returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		return nil, types.NewError(types.ErrProviderUnavailable, msg).
			WithProvider(r.Name()).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var decoded rerankResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, r.unavailable("decode rerank response", err)
	}

	relevance := make([]float64, len(candidates))
	for _, res := range decoded.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, types.NewError(types.ErrProviderUnavailable,
				fmt.Sprintf("rerank index %d out of range", res.Index)).WithProvider(r.Name())
		}
		relevance[res.Index] = res.RelevanceScore
	}
	return blendScores(candidates, relevance, r.blend), nil
}

func (r *HTTPReranker) unavailable(msg string, cause error) *types.Error {
	return types.NewError(types.ErrProviderUnavailable, msg).
		WithCause(cause).WithProvider(r.Name()).WithRetryable(true)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
