// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
Package database 提供 gorm 后端的连接池管理与事务执行。

# 概述

本包通过 PoolManager 封装 gorm 与 database/sql 的连接池配置，
是 store.DatabaseStore 的底座：存储层的 Ping/Close 以及全部写
事务（含重试）都经由它进入数据库。后台探活可选，间隔为 0 时
关闭，连通性改由调用方 Ping 驱动。

# 核心类型

  - PoolManager：连接池管理器，持有 gorm DB 与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置（Validate 校验上限关系与取值范围）。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 连接池调优：MaxIdleConns/MaxOpenConns/ConnMaxLifetime/ConnMaxIdleTime。
  - 探活：Ping 返回带 STORE_UNAVAILABLE 错误码的类型化错误，
    连接失败标记为可重试；后台循环定时 PingContext 并输出统计。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 对
    IsRetryableError 判定的瞬时错误（死锁、序列化失败、连接中断）
    做指数退避重试。
*/
package database
