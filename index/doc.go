// Package index 提供词法与稠密两路检索索引。
//
// 词法路为 BM25 倒排索引，倒排项按文档分区，支持增量 Add/Remove；
// 稠密路由 Embedder（hashing/http）产出向量，后端可选精确扫描或 HNSW
// 近似图。两路共享统一的 Result 结果类型与确定性排序规则。
// 本包同时承载全局词项管线（Tokenize / 停用词），供摄取、增强、
// 图谱与评估各层复用。
package index
