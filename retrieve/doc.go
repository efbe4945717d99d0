// Package retrieve 实现多变体混合检索与候选融合。
//
// 每个查询变体并行走词法与稠密两路检索，以 RRF（1/(rank+k)）融合
// 排名并跨变体按 ChunkID 去重取最高分；候选池截断后依次施加词图
// 共现提升与文档摘要提升，再以 top-3 查询词覆盖率作为置信信号驱动
// 至多一次的纠偏重试（池翻倍、强制 step-back 变体、撤销最低分过滤）。
// 嵌入提供者故障时整条稠密路降级，查询从不因此失败。全流程共享
// 引擎统一的确定性排序，相同语料与查询产出逐字节一致的候选池。
package retrieve
