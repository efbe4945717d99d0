package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorTokenizerCountTokens(t *testing.T) {
	t.Parallel()

	est := NewEstimatorTokenizer()

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "single char rounds up to one", text: "a", want: 1},
		{name: "ascii four chars per token", text: strings.Repeat("abcd", 10), want: 10},
		{name: "cjk denser than ascii", text: "你好世界", want: 2},
		{name: "mixed script", text: "hello 世界", want: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, est.CountTokens(tt.text))
		})
	}
}

func TestEstimatorTokenizerName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "estimator", NewEstimatorTokenizer().Name())
}

func TestNewTokenizerDispatch(t *testing.T) {
	t.Parallel()

	assert.IsType(t, &EstimatorTokenizer{}, NewTokenizer(TokenizerEstimator, "", nil))
	assert.IsType(t, &EstimatorTokenizer{}, NewTokenizer("", "", nil))
	assert.IsType(t, &TiktokenTokenizer{}, NewTokenizer(TokenizerTiktoken, "gpt-4o", nil))
}

func TestTiktokenTokenizerEncodingSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  string
	}{
		{model: "gpt-4o", want: "tiktoken[o200k_base]"},
		{model: "text-embedding-3-small", want: "tiktoken[cl100k_base]"},
		// 前缀匹配：带版本后缀的模型名落到同一编码
		{model: "text-embedding-3-small-0125", want: "tiktoken[cl100k_base]"},
		// 未知模型默认 cl100k_base
		{model: "some-local-model", want: "tiktoken[cl100k_base]"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			tok := NewTiktokenTokenizer(tt.model, nil)
			assert.Equal(t, tt.want, tok.Name())
		})
	}
}

func TestTiktokenTokenizerAlwaysCounts(t *testing.T) {
	t.Parallel()

	// 编码数据可用时精确计数，不可用时回退估算；两种情况下
	// 非空文本都必须得到正数。
	tok := NewTiktokenTokenizer("gpt-4o", nil)
	n := tok.CountTokens("the quick brown fox jumps over the lazy dog")
	require.Positive(t, n)

	again := tok.CountTokens("the quick brown fox jumps over the lazy dog")
	assert.Equal(t, n, again)
}
