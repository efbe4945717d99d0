package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/ragflow/assemble"
	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/retrieve"
	"github.com/BaSui01/ragflow/types"
)

// Toggles 逐用例的查询开关,镜像引擎查询面。
type Toggles struct {
	GraphExpand       bool   `yaml:"graph_expand" json:"graph_expand,omitempty"`
	HierarchicalBoost bool   `yaml:"hierarchical_boost" json:"hierarchical_boost,omitempty"`
	CorrectiveRetry   bool   `yaml:"corrective_retry" json:"corrective_retry,omitempty"`
	Dense             bool   `yaml:"dense" json:"dense,omitempty"`
	Rerank            bool   `yaml:"rerank" json:"rerank,omitempty"`
	RerankProvider    string `yaml:"rerank_provider" json:"rerank_provider,omitempty"`
}

// Case 单条评估用例。
type Case struct {
	ID               string   `yaml:"id" json:"id"`
	Query            string   `yaml:"query" json:"query"`
	ExpectedChunkIDs []string `yaml:"expected_chunk_ids" json:"expected_chunk_ids,omitempty"`
	ExpectedContains []string `yaml:"expected_contains" json:"expected_contains,omitempty"`
	Toggles          Toggles  `yaml:"toggles" json:"toggles"`
}

type caseFile struct {
	Cases []Case `yaml:"cases"`
}

// LoadCases 从 YAML 文件读取用例清单。用例 ID 必须唯一且查询非空。
func LoadCases(path string) ([]Case, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("cases file not readable: %s", path)).WithCause(err)
	}
	var file caseFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, types.NewError(types.ErrParse,
			fmt.Sprintf("cases file not valid YAML: %s", path)).WithCause(err)
	}
	if len(file.Cases) == 0 {
		return nil, types.NewError(types.ErrInvalidSpec,
			fmt.Sprintf("cases file has no cases: %s", path))
	}
	seen := make(map[string]bool, len(file.Cases))
	for i, c := range file.Cases {
		if c.ID == "" {
			return nil, types.NewError(types.ErrInvalidSpec,
				fmt.Sprintf("case %d has no id", i))
		}
		if seen[c.ID] {
			return nil, types.NewError(types.ErrInvalidSpec,
				fmt.Sprintf("duplicate case id: %s", c.ID))
		}
		seen[c.ID] = true
		if c.Query == "" {
			return nil, types.NewError(types.ErrInvalidSpec,
				fmt.Sprintf("case %s has no query", c.ID))
		}
	}
	return file.Cases, nil
}

// Runner 评估所需的最小引擎能力。
type Runner interface {
	// Query 以给定开关执行一次完整查询流水线。
	Query(ctx context.Context, prompt string, toggles Toggles) (assemble.ContextBlock, retrieve.Trace, error)

	// IndexVersion 返回当前索引版本。
	IndexVersion(ctx context.Context) (uint64, error)
}

// Evaluator 用例评估器。产出报告并维护声明账本。
type Evaluator struct {
	cfg     config.EvalConfig
	runner  Runner
	scorers []Scorer
	logger  *zap.Logger
}

// NewEvaluator 创建评估器,默认挂载块召回与文本包含计分器。
func NewEvaluator(cfg config.EvalConfig, runner Runner, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		cfg:     cfg,
		runner:  runner,
		scorers: []Scorer{ChunkRecallScorer{}, ContainsScorer{}},
		logger:  logger.With(zap.String("component", "evaluator")),
	}
}

// Run 按序执行全部用例。单用例查询失败记入该用例结果,不中断
// 整轮;账本配置就绪时每个成功用例追加一条声明。
func (e *Evaluator) Run(ctx context.Context, cases []Case) (*Report, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()

	var ledger *Ledger
	if e.cfg.LedgerPath != "" {
		var err error
		ledger, err = OpenLedger(e.cfg.LedgerPath, e.logger)
		if err != nil {
			return nil, err
		}
		defer ledger.Close()
	}

	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		result := e.runCase(ctx, c)
		if result.Error == "" && ledger != nil {
			claim := Claim{
				RunID:      runID,
				Claim:      c.Query,
				ChunkIDs:   result.IncludedChunkIDs,
				Confidence: result.Composite,
			}
			if err := ledger.Append(&claim); err != nil {
				return nil, err
			}
		}
		results = append(results, result)
	}

	report := &Report{
		RunID:       runID,
		GeneratedAt: started,
		Cases:       results,
		Summary:     summarize(results),
	}
	if ledger != nil {
		report.LedgerHead = ledger.Head()
	}
	e.logger.Info("evaluation run complete",
		zap.String("run_id", runID),
		zap.Int("cases", len(results)),
		zap.Int("failed", report.Summary.Failed),
		zap.Float64("mean_composite", report.Summary.MeanComposite))
	return report, nil
}

// WriteArtifacts 在输出目录落盘报告与证据包,文件名带 RunID 使
// 历史轮次保持只增。证据包按校验和引用报告与账本。
func (e *Evaluator) WriteArtifacts(ctx context.Context, report *Report) (reportPath, bundlePath string, err error) {
	reportPath = filepath.Join(e.cfg.OutputDir, fmt.Sprintf("report_%s.json", report.RunID))
	if err := WriteReport(report, reportPath); err != nil {
		return "", "", err
	}

	var version uint64
	if e.runner != nil {
		version, err = e.runner.IndexVersion(ctx)
		if err != nil {
			return "", "", err
		}
	}
	artifacts := []string{reportPath}
	if e.cfg.LedgerPath != "" {
		artifacts = append(artifacts, e.cfg.LedgerPath)
	}
	bundle, err := BuildBundle(report.RunID, version, artifacts, report.LedgerHead, e.cfg.SigningKey)
	if err != nil {
		return "", "", err
	}
	bundlePath = filepath.Join(e.cfg.OutputDir, fmt.Sprintf("evidence_%s.json", report.RunID))
	if err := WriteBundle(bundle, bundlePath); err != nil {
		return "", "", err
	}
	e.logger.Info("evaluation artifacts written",
		zap.String("report", reportPath),
		zap.String("bundle", bundlePath))
	return reportPath, bundlePath, nil
}

// runCase 执行单条用例:限时查询、计分、延迟采样。
func (e *Evaluator) runCase(ctx context.Context, c Case) CaseResult {
	result := CaseResult{
		CaseID: c.ID,
		Query:  c.Query,
		Scores: make(map[string]float64, len(e.scorers)),
	}

	caseCtx := ctx
	if e.cfg.CaseTimeout > 0 {
		var cancel context.CancelFunc
		caseCtx, cancel = context.WithTimeout(ctx, e.cfg.CaseTimeout)
		defer cancel()
	}

	start := time.Now()
	block, trace, err := e.runner.Query(caseCtx, c.Query, c.Toggles)
	result.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("eval case failed",
			zap.String("case_id", c.ID),
			zap.Error(err))
		return result
	}

	result.IncludedChunkIDs = block.IncludedChunkIDs
	result.Truncated = block.Truncated
	result.LowConfidence = trace.LowConfidence

	var sum float64
	for _, s := range e.scorers {
		score := s.Score(c, block, trace)
		result.Scores[s.Name()] = score
		sum += score
	}
	if len(e.scorers) > 0 {
		result.Composite = sum / float64(len(e.scorers))
	}
	return result
}
