// Package assemble 把排好序的候选装配为预算封顶的上下文块。
//
// 按排名贪心累加块文本，块间分隔符计入字符预算；一旦某次追加会
// 突破预算立即停止，其后候选一律标记为预算出局。首个候选放不下
// 时产出空块并置 Truncated，从不报错。相同输入总是产出逐字节一致
// 的 ContextBlock 与标注。
package assemble
