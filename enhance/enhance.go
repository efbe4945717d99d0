package enhance

import (
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/graph"
	"github.com/BaSui01/ragflow/index"
)

// 变体类型
const (
	VariantOriginal = "original"
	VariantExpanded = "expanded"
	VariantStepBack = "step_back"
)

// Variant 查询变体。Terms 供词法检索，Text 供稠密嵌入，
// 两者由同一词集派生。
type Variant struct {
	Kind  string   `json:"kind"`
	Text  string   `json:"text"`
	Terms []string `json:"terms"`
}

// synonymMap 静态同义词规则。值为短语，拆词并过滤停用词后并入
// 扩展变体；全部小写，匹配分词后的查询词。
var synonymMap = map[string][]string{
	"how":        {"what way", "method"},
	"why":        {"reason", "cause"},
	"what":       {"which", "describe"},
	"best":       {"top", "optimal", "recommended"},
	"difference": {"comparison", "contrast", "versus"},
	"example":    {"instance", "sample", "demonstration"},
	"explain":    {"describe", "clarify", "elaborate"},
	"implement":  {"create", "build", "develop"},
	"use":        {"utilize", "apply", "employ"},
	"problem":    {"issue", "challenge", "difficulty"},
}

// Enhancer 查询增强器。扩展来源为静态规则与语料共现图，
// 泛化依据词法索引的文档频率，全部离线确定性。
type Enhancer struct {
	cfg     config.EnhancerConfig
	lexical *index.Lexical
	graph   *graph.TermGraph
	logger  *zap.Logger
}

// NewEnhancer 创建查询增强器。lexical 与 graph 可为 nil，
// 对应能力降级为不生效。
func NewEnhancer(cfg config.EnhancerConfig, lexical *index.Lexical, tg *graph.TermGraph, logger *zap.Logger) *Enhancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enhancer{
		cfg:     cfg,
		lexical: lexical,
		graph:   tg,
		logger:  logger.With(zap.String("component", "enhancer")),
	}
}

// Enhance 派生查询变体。original 始终在首位且保留原始提示词文本；
// expanded 仅在产生新增词时加入，step_back 仅在删除了词时加入，
// 顺序固定为 original、expanded、step_back。
func (e *Enhancer) Enhance(prompt string) []Variant {
	terms := index.Tokenize(prompt)
	variants := []Variant{{Kind: VariantOriginal, Text: prompt, Terms: terms}}

	if expanded := e.expandTerms(terms); len(expanded) > len(terms) {
		variants = append(variants, Variant{
			Kind:  VariantExpanded,
			Text:  strings.Join(expanded, " "),
			Terms: expanded,
		})
	}

	if e.cfg.EnableStepBack {
		if generalized := e.StepBackTerms(terms); len(generalized) < len(terms) {
			variants = append(variants, Variant{
				Kind:  VariantStepBack,
				Text:  strings.Join(generalized, " "),
				Terms: generalized,
			})
		}
	}

	e.logger.Debug("query enhanced",
		zap.String("prompt", prompt),
		zap.Int("variants", len(variants)))
	return variants
}

// expandTerms 返回原词集加扩展词。扩展词按同义词规则在前、
// 图邻居按（权重降序，词升序）在后的顺序加入，总数不超过
// MaxExpansions，且不与已有词重复。
func (e *Enhancer) expandTerms(terms []string) []string {
	if e.cfg.MaxExpansions <= 0 {
		return terms
	}

	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		seen[t] = true
	}
	var additions []string

	if e.cfg.EnableSynonyms {
	synonyms:
		for _, t := range terms {
			for _, phrase := range synonymMap[t] {
				for _, syn := range index.ContentTerms(phrase) {
					if len(additions) >= e.cfg.MaxExpansions {
						break synonyms
					}
					if seen[syn] {
						continue
					}
					seen[syn] = true
					additions = append(additions, syn)
				}
			}
		}
	}

	if e.graph != nil && len(additions) < e.cfg.MaxExpansions {
		// 从多个查询词可达的邻居取最大权重
		best := make(map[string]float64)
		for _, t := range index.FilterStopWords(terms) {
			for _, nb := range e.graph.Neighbors(t, e.cfg.MinEdgeWeight) {
				if seen[nb.Term] {
					continue
				}
				if nb.Weight > best[nb.Term] {
					best[nb.Term] = nb.Weight
				}
			}
		}

		neighbors := make([]graph.Neighbor, 0, len(best))
		for term, weight := range best {
			neighbors = append(neighbors, graph.Neighbor{Term: term, Weight: weight})
		}
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].Weight != neighbors[j].Weight {
				return neighbors[i].Weight > neighbors[j].Weight
			}
			return neighbors[i].Term < neighbors[j].Term
		})

		for _, nb := range neighbors {
			if len(additions) >= e.cfg.MaxExpansions {
				break
			}
			seen[nb.Term] = true
			additions = append(additions, nb.Term)
		}
	}

	if len(additions) == 0 {
		return terms
	}
	expanded := make([]string, 0, len(terms)+len(additions))
	expanded = append(expanded, terms...)
	expanded = append(expanded, additions...)
	return expanded
}

// StepBackTerms 生成泛化词集：剔除含数字的词（日期、版本、数量），
// 当剩余实义词超过两个时再剔除文档频率最低的词（同频取字典序
// 靠前者，剔除其全部出现）。矫正重试用它强制泛化。
func (e *Enhancer) StepBackTerms(terms []string) []string {
	kept := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.ContainsFunc(t, unicode.IsDigit) {
			continue
		}
		kept = append(kept, t)
	}

	content := index.FilterStopWords(kept)
	if len(content) <= 2 {
		return kept
	}

	rarest := ""
	rarestDF := -1
	for _, t := range content {
		df := 0
		if e.lexical != nil {
			df = e.lexical.DF(t)
		}
		if rarestDF == -1 || df < rarestDF || (df == rarestDF && t < rarest) {
			rarest = t
			rarestDF = df
		}
	}

	generalized := make([]string, 0, len(kept))
	for _, t := range kept {
		if t == rarest {
			continue
		}
		generalized = append(generalized, t)
	}
	return generalized
}
