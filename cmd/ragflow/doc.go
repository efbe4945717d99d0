// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 RagFlow 命令行入口。

# 概述

cmd/ragflow 是混合检索引擎的可执行入口，提供语料摄取、检索查询、
评估运行与数据库迁移等子命令。程序支持 YAML 配置文件加载、结构化
日志（zap）、OpenTelemetry 追踪初始化以及 Prometheus textfile 指标
快照落盘。

# 主要能力

  - 子命令：ingest（摄取目录/文件，--watch 持续监视）、query（单次
    混合检索，--trace 输出完整追踪 JSON）、eval（运行用例并落盘
    报告/证据包/账本）、migrate（up/down/status/goto/force）、version
  - 引导：加载配置 → 初始化日志 → 初始化遥测（失败降级为警告）→
    装配引擎；退出时按序落盘指标快照、关闭引擎、停掉遥测、刷日志
  - 摄取监视：CorpusWatcher 轮询语料目录，变更防抖后整目录重摄，
    未变更文档由内容哈希跳过
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
