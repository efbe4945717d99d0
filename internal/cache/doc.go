// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的查询结果缓存，缓存键携带索引版本。

# 概述

本包封装 go-redis 客户端,为查询管线提供结果缓存。缓存键由查询
文本、功能开关指纹与当前索引版本共同构成:摄取提交推进索引版本后,
旧版本键不再被命中,由 TTL 自然回收,无需显式失效广播。

缓存不可用从不导致查询失败:调用方把任何缓存错误当作未命中降级,
直接走完整检索管线。

# 核心类型

  - QueryCache:查询缓存,持有 Redis 客户端与连接池配置,
    提供 JSON 序列化的 Get/Set、键删除、Ping 与优雅关闭。
  - Key:由 (查询文本, 开关指纹, 索引版本) 构造确定性缓存键。

# 错误语义

  - ErrCacheMiss 哨兵错误标记未命中,IsCacheMiss 判断之;
    其余错误为传输或序列化故障,由调用方降级处理。
*/
package cache
