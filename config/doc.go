// Package config 提供 RagFlow 的配置管理功能。
//
// 包含检索管线各阶段（摄取、索引、融合、重排、组装、评估）的
// 配置结构、默认值与校验逻辑。
// 支持从 YAML 文件和环境变量加载配置，环境变量优先级最高。
package config
