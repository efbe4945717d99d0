package ingest

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// 分词器类型
const (
	TokenizerEstimator = "estimator"
	TokenizerTiktoken  = "tiktoken"
)

// Tokenizer 分词计数接口。分块器据此按 token 预算切分文本。
// 实现不得失败：无法精确计数时退化为估算。
type Tokenizer interface {
	// CountTokens 返回文本的 token 数。
	CountTokens(text string) int
	// Name 返回分词器标识。
	Name() string
}

// NewTokenizer 按配置创建分词器。
// kind 为 "tiktoken" 时使用精确分词（懒加载编码数据，失败时回退估算），
// 其余取值使用 CJK 感知估算器。
func NewTokenizer(kind, model string, logger *zap.Logger) Tokenizer {
	switch kind {
	case TokenizerTiktoken:
		return NewTiktokenTokenizer(model, logger)
	default:
		return NewEstimatorTokenizer()
	}
}

// ====== CJK 感知估算器 ======

// EstimatorTokenizer 基于字符计数的 token 估算器。
// 区分 CJK 与 ASCII 字符，比朴素的 len/4 更准确，
// 且无需外部编码数据，离线确定性。
type EstimatorTokenizer struct{}

var _ Tokenizer = (*EstimatorTokenizer)(nil)

// NewEstimatorTokenizer 创建估算器。
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

// CountTokens 估算 token 数。CJK 约 1.5 字符/token，ASCII 约 4 字符/token，
// 非空文本至少 1。
func (e *EstimatorTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e *EstimatorTokenizer) Name() string { return "estimator" }

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}

// ====== tiktoken 精确分词器 ======

// modelEncodings 将模型名称映射到其 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// TiktokenTokenizer 基于 tiktoken 的精确分词器。
// 编码数据懒初始化（首次使用时可能下载）；初始化失败时
// 回退到 CJK 估算器并记录一次警告日志。
type TiktokenTokenizer struct {
	model    string
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error

	warnOnce sync.Once
	fallback *EstimatorTokenizer
	logger   *zap.Logger
}

var _ Tokenizer = (*TiktokenTokenizer)(nil)

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器。
// 未知模型按前缀匹配，匹配不到时默认 cl100k_base。
func NewTiktokenTokenizer(model string, logger *zap.Logger) *TiktokenTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}

	encoding, ok := modelEncodings[model]
	if !ok {
		for prefix, enc := range modelEncodings {
			if strings.HasPrefix(model, prefix) {
				encoding = enc
				ok = true
				break
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}

	return &TiktokenTokenizer{
		model:    model,
		encoding: encoding,
		fallback: NewEstimatorTokenizer(),
		logger:   logger,
	}
}

// init 懒初始化 tiktoken 编码。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回精确 token 数；编码不可用时回退到估算。
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.warnOnce.Do(func() {
			t.logger.Warn("tiktoken unavailable, falling back to estimator",
				zap.String("encoding", t.encoding),
				zap.Error(err))
		})
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenTokenizer) Name() string {
	return "tiktoken[" + t.encoding + "]"
}
