// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的检索管线指标采集,覆盖摄取、
查询、重排、缓存与评估五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个 Collector
持有独立 Registry(promauto.With 注册),多引擎实例互不冲突,并可由
WriteTextfile 在运行结束时把快照写成 textfile collector 格式。
所有指标按 namespace 隔离,支持多维度 label 分组。

# 核心类型

  - Collector:指标收集器,持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标,按管线阶段分组管理。

# 主要能力

  - 摄取指标:文档计数(indexed/skipped/failed)、块计数(按策略)、
    批次耗时直方图与当前索引版本 Gauge。
  - 查询指标:请求总数(按结果与缓存命中态)、分阶段耗时直方图、
    候选池大小分布、低置信与纠偏重试计数。
  - 重排指标:请求总数与耗时,按 provider/status 分组。
  - 缓存指标:命中与未命中计数,按 cache_type 分组。
  - 评估指标:用例计数(按结果)与综合得分分布。
*/
package metrics
