package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizePicksTermDenseSentences(t *testing.T) {
	t.Parallel()

	content := "Cache invalidation is hard. The cache cluster stores cache entries. Naming things is also hard."

	// "cache" 全文出现 3 次，含它最多的第二句得分最高；
	// 第一句次之，第三句落选。
	got := Summarize(content, 2)
	assert.Equal(t, "Cache invalidation is hard. The cache cluster stores cache entries.", got)
}

func TestSummarizeReordersByPosition(t *testing.T) {
	t.Parallel()

	// 得分最高的句子在文末：选中后仍按原文位置重组
	content := "Intro text here. Filler words follow. Kernel kernel kernel kernel."

	got := Summarize(content, 2)
	assert.Equal(t, "Filler words follow. Kernel kernel kernel kernel.", got)
}

func TestSummarizeFewerSentencesThanRequested(t *testing.T) {
	t.Parallel()

	got := Summarize("Single statement only.", 3)
	assert.Equal(t, "Single statement only.", got)
}

func TestSummarizeEmptyInputs(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Summarize("", 2))
	assert.Empty(t, Summarize("Some content here.", 0))
	assert.Empty(t, Summarize("Some content here.", -1))
}
