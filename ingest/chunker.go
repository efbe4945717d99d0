package ingest

import (
	"encoding/csv"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/store"
	"github.com/BaSui01/ragflow/types"
)

// ====== 分块策略 ======

const (
	StrategyFixed       = "fixed"       // 固定 token 窗口，带重叠
	StrategySemantic    = "semantic"    // 段落/句子边界，合并到预算
	StrategyProposition = "proposition" // 一句/一条一个块
)

// sentenceEnders 句子结束标记（中英混排）。
var sentenceEnders = []rune{'.', '。', '!', '！', '?', '？', '\n'}

// fragment 切分出的文本片段。text 策略下恒为归一化内容的连续子串，
// CharStart/CharEnd 为其字节偏移；csv_row 的块文本是合成的，
// 偏移覆盖合成文本自身。
type fragment struct {
	text  string
	start int
	end   int
}

// Chunker 将文档内容按配置策略切分为检索块。
// 输入内容应已经过 store.NormalizeContent 归一化。
type Chunker struct {
	cfg       config.IngestConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewChunker 创建分块器。
func NewChunker(cfg config.IngestConfig, tokenizer Tokenizer, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenizer == nil {
		tokenizer = NewEstimatorTokenizer()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 2
	}
	return &Chunker{
		cfg:       cfg,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "chunker")),
	}
}

// Chunk 切分文档内容，返回带稳定 ID 的块序列。
// csv_row 内容解析失败时返回 PARSE_ERROR；其余策略不会失败。
func (c *Chunker) Chunk(doc store.Document) ([]store.Chunk, error) {
	var frags []fragment
	var err error

	switch doc.Type {
	case store.DocTypeCSVRow:
		frags, err = c.chunkCSV(doc.RawContent)
		if err != nil {
			return nil, err
		}
	case store.DocTypeProposition:
		frags = c.chunkLines(doc.RawContent)
	default:
		switch c.cfg.Strategy {
		case StrategyFixed:
			frags = c.chunkFixed(doc.RawContent, 0, len(doc.RawContent))
		case StrategyProposition:
			frags = c.chunkSentences(doc.RawContent)
		default:
			frags = c.chunkSemantic(doc.RawContent)
		}
	}

	chunks := make([]store.Chunk, 0, len(frags))
	for i, f := range frags {
		chunks = append(chunks, store.Chunk{
			ID:         store.ChunkIDFor(doc.ID, i),
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       f.text,
			CharStart:  f.start,
			CharEnd:    f.end,
			TokenCount: c.tokenizer.CountTokens(f.text),
		})
	}

	c.logger.Debug("document chunked",
		zap.String("document_id", doc.ID),
		zap.String("type", doc.Type),
		zap.Int("chunks", len(chunks)))

	return chunks, nil
}

// ====== fixed：token 窗口 ======

// chunkFixed 在 [from, to) 字节区间内按固定 token 窗口切分，
// 相邻窗口回退 ChunkOverlap 个 token 形成重叠。不感知句子边界。
func (c *Chunker) chunkFixed(content string, from, to int) []fragment {
	words := splitWords(content[from:to])
	if len(words) == 0 {
		return nil
	}

	var frags []fragment
	i := 0
	for i < len(words) {
		// 逐词增长到 token 预算；单词超限时独占一个窗口
		j := i + 1
		for j < len(words) {
			candidate := content[from+words[i].start : from+words[j].end]
			if c.tokenizer.CountTokens(candidate) > c.cfg.ChunkSize {
				break
			}
			j++
		}

		start := from + words[i].start
		end := from + words[j-1].end
		frags = append(frags, fragment{text: content[start:end], start: start, end: end})

		if j >= len(words) {
			break
		}

		// 回退 overlap token 的词作为下一窗口起点
		k := j
		overlapTokens := 0
		for k > i+1 && overlapTokens < c.cfg.ChunkOverlap {
			k--
			overlapTokens += c.tokenizer.CountTokens(words[k].word)
		}
		i = k
	}

	return frags
}

// ====== semantic：边界合并 ======

// chunkSemantic 语义分块：段落优先，超限段落降级到句子，
// 超限句子再降级到固定窗口；随后在边界单元上贪心合并到预算。
// 末尾不足 MinChunkSize 的碎块并入前一块。
func (c *Chunker) chunkSemantic(content string) []fragment {
	paras := splitParagraphs(content)

	var units []fragment
	for _, p := range paras {
		if c.tokenizer.CountTokens(p.text) <= c.cfg.ChunkSize {
			units = append(units, p)
			continue
		}
		for _, s := range splitSentenceSpans(content, p.start, p.end) {
			if c.tokenizer.CountTokens(s.text) <= c.cfg.ChunkSize {
				units = append(units, s)
				continue
			}
			units = append(units, c.chunkFixed(content, s.start, s.end)...)
		}
	}
	if len(units) == 0 {
		return nil
	}

	// 相邻单元贪心合并；合并结果仍是原文连续子串
	var frags []fragment
	i := 0
	for i < len(units) {
		start, end := units[i].start, units[i].end
		j := i + 1
		for j < len(units) {
			candidate := content[start:units[j].end]
			if c.tokenizer.CountTokens(candidate) > c.cfg.ChunkSize {
				break
			}
			end = units[j].end
			j++
		}
		if f, ok := trimmedFragment(content, start, end); ok {
			frags = append(frags, f)
		}
		i = j
	}

	// 末尾碎块并入前块，避免丢内容
	if n := len(frags); n > 1 && c.cfg.MinChunkSize > 0 &&
		c.tokenizer.CountTokens(frags[n-1].text) < c.cfg.MinChunkSize {
		merged, ok := trimmedFragment(content, frags[n-2].start, frags[n-1].end)
		if ok {
			frags = append(frags[:n-2], merged)
		}
	}

	return frags
}

// ====== proposition：一句一块 ======

// chunkSentences 每个句子一个块。
func (c *Chunker) chunkSentences(content string) []fragment {
	return splitSentenceSpans(content, 0, len(content))
}

// chunkLines 每个非空行一个块（内容已是命题级）。
func (c *Chunker) chunkLines(content string) []fragment {
	var frags []fragment
	offset := 0
	for _, line := range strings.Split(content, "\n") {
		if f, ok := trimmedFragment(content, offset, offset+len(line)); ok {
			frags = append(frags, f)
		}
		offset += len(line) + 1
	}
	return frags
}

// ====== csv_row：一行一块 ======

// chunkCSV 每个数据行一个块，首行为表头，
// 列序列化为 "key: value" 行。全空行跳过。
func (c *Chunker) chunkCSV(content string) ([]fragment, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, types.NewError(types.ErrParse, "invalid csv content").WithCause(err)
	}
	if len(records) < 2 {
		// 仅表头或空文件
		return nil, nil
	}

	header := records[0]
	var frags []fragment
	for _, row := range records[1:] {
		empty := true
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		var b strings.Builder
		for k, val := range row {
			key := fmt.Sprintf("col%d", k)
			if k < len(header) && strings.TrimSpace(header[k]) != "" {
				key = strings.TrimSpace(header[k])
			}
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(val))
			b.WriteByte('\n')
		}
		text := strings.TrimRight(b.String(), "\n")
		frags = append(frags, fragment{text: text, start: 0, end: len(text)})
	}

	return frags, nil
}

// ====== 切分辅助 ======

// wordSpan 词及其在源串中的字节偏移。
type wordSpan struct {
	word  string
	start int
	end   int
}

// splitWords 按 Unicode 空白切词，记录字节偏移。
func splitWords(s string) []wordSpan {
	var words []wordSpan
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(s) {
			r, size = utf8.DecodeRuneInString(s[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		words = append(words, wordSpan{word: s[start:i], start: start, end: i})
	}
	return words
}

// splitParagraphs 按空行切段，返回非空段落片段。
func splitParagraphs(content string) []fragment {
	var frags []fragment
	offset := 0
	for _, part := range strings.Split(content, "\n\n") {
		if f, ok := trimmedFragment(content, offset, offset+len(part)); ok {
			frags = append(frags, f)
		}
		offset += len(part) + 2
	}
	return frags
}

// splitSentenceSpans 在 [from, to) 区间内按句子结束标记切分，
// 返回非空句子片段，偏移指向 content。
func splitSentenceSpans(content string, from, to int) []fragment {
	var frags []fragment
	start := from
	i := from
	for i < to {
		r, size := utf8.DecodeRuneInString(content[i:to])
		i += size
		for _, ender := range sentenceEnders {
			if r == ender {
				if f, ok := trimmedFragment(content, start, i); ok {
					frags = append(frags, f)
				}
				start = i
				break
			}
		}
	}
	if f, ok := trimmedFragment(content, start, to); ok {
		frags = append(frags, f)
	}
	return frags
}

// trimmedFragment 去除 [start, end) 两端空白后构造片段，
// 偏移收紧到剪裁后的文本。全空白时 ok 为 false。
func trimmedFragment(content string, start, end int) (fragment, bool) {
	raw := content[start:end]
	text := strings.TrimSpace(raw)
	if text == "" {
		return fragment{}, false
	}
	rel := strings.Index(raw, text)
	return fragment{
		text:  text,
		start: start + rel,
		end:   start + rel + len(text),
	}, true
}
