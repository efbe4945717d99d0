package assemble

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/retrieve"
)

// ContextBlock 交给生成步骤的最终上下文契约。
type ContextBlock struct {
	AssembledText    string   `json:"assembled_text"`
	IncludedChunkIDs []string `json:"included_chunk_ids"`
	TotalChars       int      `json:"total_chars"`
	Truncated        bool     `json:"truncated"`
}

// Assembler 预算封顶的贪心上下文组装器。
type Assembler struct {
	cfg    config.AssemblerConfig
	logger *zap.Logger
}

// NewAssembler 创建组装器。MaxContextChars 非正时回落到 4000。
func NewAssembler(cfg config.AssemblerConfig, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 4000
	}
	return &Assembler{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "assembler")),
	}
}

// Assemble 按排名贪心装配候选。maxChars 非正时使用配置预算。
// 追加会突破预算的第一个候选终止装配,其后候选全部出局;返回
// 上下文块与带去向标注的候选副本,入参不被修改。
func (a *Assembler) Assemble(candidates []retrieve.Candidate, maxChars int) (ContextBlock, []retrieve.Candidate) {
	if maxChars <= 0 {
		maxChars = a.cfg.MaxContextChars
	}

	annotated := make([]retrieve.Candidate, len(candidates))
	copy(annotated, candidates)

	var buf strings.Builder
	var included []string
	total := 0
	fits := true
	for i := range annotated {
		addition := len(annotated[i].Text)
		if len(included) > 0 {
			addition += len(a.cfg.Separator)
		}
		if fits && total+addition > maxChars {
			fits = false
		}
		if !fits {
			annotated[i].Included = false
			annotated[i].Reason = retrieve.ReasonBudget
			continue
		}
		if len(included) > 0 {
			buf.WriteString(a.cfg.Separator)
		}
		buf.WriteString(annotated[i].Text)
		total += addition
		included = append(included, annotated[i].ChunkID)
		annotated[i].Included = true
		annotated[i].Reason = retrieve.ReasonIncluded
	}

	block := ContextBlock{
		AssembledText:    buf.String(),
		IncludedChunkIDs: included,
		TotalChars:       total,
		Truncated:        len(included) < len(annotated),
	}
	a.logger.Debug("context assembled",
		zap.Int("candidates", len(annotated)),
		zap.Int("included", len(included)),
		zap.Int("total_chars", total),
		zap.Int("budget", maxChars),
		zap.Bool("truncated", block.Truncated))
	return block, annotated
}
