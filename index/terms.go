package index

import (
	"strings"
	"unicode"
)

// ====== 词项管线 ======

// Tokenize 将文本切分为小写词项：连续的字母或数字为一个词项，
// 其余字符视为分隔符。结果保留重复与停用词，倒排索引据此保持完整；
// 需要过滤后词项的调用方使用 ContentTerms。
func Tokenize(text string) []string {
	terms := make([]string, 0, len(text)/5)
	var sb strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		if sb.Len() > 0 {
			terms = append(terms, sb.String())
			sb.Reset()
		}
	}
	if sb.Len() > 0 {
		terms = append(terms, sb.String())
	}
	return terms
}

// ContentTerms 返回去除停用词后的词项序列，用于查询增强、
// 摘要打分与覆盖度估计。
func ContentTerms(text string) []string {
	terms := Tokenize(text)
	filtered := terms[:0]
	for _, term := range terms {
		if stopWords[term] {
			continue
		}
		filtered = append(filtered, term)
	}
	return filtered
}

// FilterStopWords 从已切分的词项中去除停用词。
func FilterStopWords(terms []string) []string {
	filtered := make([]string, 0, len(terms))
	for _, term := range terms {
		if stopWords[term] {
			continue
		}
		filtered = append(filtered, term)
	}
	return filtered
}

// IsStopWord 判断词项是否为停用词。
func IsStopWord(term string) bool {
	return stopWords[term]
}

// TermCounts 统计词项频次。
func TermCounts(terms []string) map[string]int {
	counts := make(map[string]int, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	return counts
}

// stopWords 英文停用词表
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"i": true, "you": true, "he": true, "she": true, "it": true,
	"we": true, "they": true, "am": true,
	"what": true, "which": true, "who": true, "whom": true,
	"this": true, "that": true, "these": true, "those": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "between": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"because": true, "while": true, "although": true,
	"how": true, "why": true, "when": true, "where": true,
	"there": true, "here": true,
}
