// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 cache 提供带命名空间与 TTL 的键值存储，用于缓存追问问题与保存会话上下文。

# 核心类型

  - Store：键值存储接口，按 Namespace（conversation / cache / share / session）
    与 key 组织数据，键格式为 <prefix>:<namespace>:<key>。
  - RedisStore：基于 go-redis 的实现，带后台健康检查。
  - MemoryStore：基于 go-cache 的进程内实现，Redis 未启用时使用。
  - Config：Redis 地址、密码、键前缀、默认 TTL、连接池参数。

# 主要能力

  - NewRedisClient：创建并探活共享的 Redis 客户端。
  - GetJSON / SetJSON：泛型 JSON 序列化辅助函数。
  - ErrCacheMiss / IsCacheMiss：未命中哨兵错误。
*/
package cache
