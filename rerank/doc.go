// Package rerank 提供候选块的精排能力。
//
// 默认实现为离线确定性的 overlap 精排器：以查询词覆盖率、词频与
// 词项邻近度构造相关度，再按配置比例与归一化融合分混合。http
// 适配器接入 Cohere 风格的 /v2/rerank 端点，带超时与客户端限速；
// 任何失败经 FallbackReranker 降级回 overlap，检索流程从不因
// 重排服务不可用而中断。所有实现共享引擎统一的确定性排序规则。
package rerank
