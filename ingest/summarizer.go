package ingest

import (
	"sort"
	"strings"

	"github.com/BaSui01/ragflow/index"
)

// Summarize 抽取式文档摘要。每句按停用词过滤后词项在全文中的
// 聚合频次打分，同分取位置靠前者；选出的句子按原文位置顺序重组。
// 摘要存储在 Document.Summary 上，供层级提升在查询期做覆盖度匹配。
func Summarize(content string, maxSentences int) string {
	if maxSentences <= 0 {
		return ""
	}
	sentences := splitSentenceSpans(content, 0, len(content))
	if len(sentences) == 0 {
		return ""
	}

	counts := index.TermCounts(index.ContentTerms(content))

	type scored struct {
		position int
		score    int
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		total := 0
		for _, term := range index.ContentTerms(s.text) {
			total += counts[term]
		}
		ranked[i] = scored{position: i, score: total}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].position < ranked[j].position
	})
	if len(ranked) > maxSentences {
		ranked = ranked[:maxSentences]
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].position < ranked[j].position
	})

	parts := make([]string, len(ranked))
	for i, r := range ranked {
		parts[i] = sentences[r.position].text
	}
	return strings.Join(parts, " ")
}
