// Package ingest 提供语料摄取管线。
//
// 摄取器按批次处理来源：归一化内容、内容哈希判重、按策略分块
// （fixed/semantic/proposition 与 csv_row/proposition 文档类型）、
// 抽取式摘要，落库并写穿词法/稠密索引；批次尾重建词共现图并以
// 恰好一次的原子版本递增发布。单源解析失败被隔离，嵌入提供者
// 故障降级为仅词法。CorpusWatcher 轮询语料目录驱动增量摄取。
package ingest
