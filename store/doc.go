// Package store 提供语料存储层。
//
// 管理文档、块、倒排项、向量与词共现边等记录，维护原子递增的索引版本。
// 提供内存后端（默认）与 gorm 数据库后端（sqlite/postgres/mysql），
// 数据库表结构由 internal/migration 管理。
package store
