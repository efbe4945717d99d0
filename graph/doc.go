// Package graph 提供词共现图。
//
// 图在每个摄取批次提交时整体重建：以块为共现窗口统计停用词过滤后
// 词项对的共现次数，按重叠系数归一化为 [0,1] 权重。查询增强与
// 图谱加权通过 Neighbors 查询强共现邻居。
package graph
