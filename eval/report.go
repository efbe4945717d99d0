package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BaSui01/ragflow/types"
)

// CaseResult 单用例产物:分项得分、综合分与延迟。
type CaseResult struct {
	CaseID           string             `json:"case_id"`
	Query            string             `json:"query"`
	Scores           map[string]float64 `json:"scores"`
	Composite        float64            `json:"composite"`
	LatencyMS        float64            `json:"latency_ms"`
	IncludedChunkIDs []string           `json:"included_chunk_ids,omitempty"`
	Truncated        bool               `json:"truncated,omitempty"`
	LowConfidence    bool               `json:"low_confidence,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// Summary 整轮汇总。延迟分位数为最近秩法,只统计成功用例。
type Summary struct {
	Cases         int     `json:"cases"`
	Failed        int     `json:"failed"`
	MeanComposite float64 `json:"mean_composite"`
	LatencyP50MS  float64 `json:"latency_p50_ms"`
	LatencyP90MS  float64 `json:"latency_p90_ms"`
	LatencyP95MS  float64 `json:"latency_p95_ms"`
	LatencyP99MS  float64 `json:"latency_p99_ms"`
}

// Report 评估报告,落盘为 JSON 供看板读取。
type Report struct {
	RunID       string       `json:"run_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	Cases       []CaseResult `json:"cases"`
	Summary     Summary      `json:"summary"`
	LedgerHead  string       `json:"ledger_head,omitempty"`
}

func summarize(results []CaseResult) Summary {
	s := Summary{Cases: len(results)}

	var composites float64
	var latencies []float64
	for _, r := range results {
		if r.Error != "" {
			s.Failed++
			continue
		}
		composites += r.Composite
		latencies = append(latencies, r.LatencyMS)
	}
	if ok := len(latencies); ok > 0 {
		s.MeanComposite = composites / float64(ok)
	}
	sort.Float64s(latencies)
	s.LatencyP50MS = percentile(latencies, 50)
	s.LatencyP90MS = percentile(latencies, 90)
	s.LatencyP95MS = percentile(latencies, 95)
	s.LatencyP99MS = percentile(latencies, 99)
	return s
}

// percentile 最近秩分位数,入参须已升序。
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// WriteReport 将报告写为缩进 JSON,按需创建父目录。
func WriteReport(report *Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("report dir not writable: %s", filepath.Dir(path))).WithCause(err)
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return types.NewError(types.ErrInternalError, "report not serializable").WithCause(err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("report not writable: %s", path)).WithCause(err)
	}
	return nil
}
