// Package enhance 提供确定性查询增强。
//
// 从提示词派生固定顺序的查询变体序列：original 始终在首位；
// expanded 叠加静态同义词规则与词共现图强邻居；step_back 剔除
// 数字词与最低文档频率词得到泛化变体。不产生新增效果的变体被
// 丢弃。全程无 LLM 调用，同一提示词在同一索引版本上总是产出
// 逐字节一致的变体。
package enhance
