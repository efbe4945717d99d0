// Package eval 对检索流水线做固定用例评估并产出治理工件。
//
// 用例清单为 YAML,逐条驱动完整查询流水线并计分:块召回、文本
// 包含与二者的综合均值。产物包括评估报告(逐用例得分与延迟、
// 含 p50/p90/p95/p99 的汇总)、哈希链防篡改的 JSONL 声明账本,
// 以及按校验和引用工件的证据包;配置签名密钥时证据包携带 HS256
// JWT 签名。除 RunID 与时间戳外全程确定。
package eval
