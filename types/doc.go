// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 RagFlow 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 store、ingest、index、
retrieve、eval 等上层模块提供统一的错误契约。所有跨包共享的错误码均
定义于此，以避免循环依赖。

# 错误体系

  - Error / ErrorCode — 结构化错误体系，含 Source、Retryable、Provider 标记
  - PARSE_ERROR          — 单个来源解析失败，跳过并继续（批次隔离）
  - INDEX_CORRUPTION     — 索引损坏，致命错误，需要全量重建
  - PROVIDER_UNAVAILABLE — 外部 embedding/rerank 提供者失败，降级到本地默认实现
  - INVALID_SPEC         — 摄取规格缺失必填字段，直接返回给调用方

# 主要能力

  - 错误工具链：GetErrorCode / IsRetryable / IsParseError /
    IsIndexCorruption / IsProviderUnavailable（errors.As 感知包装链）
  - 流式构造：NewError(...).WithCause(...).WithSource(...).WithProvider(...)
*/
package types
