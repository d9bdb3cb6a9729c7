// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package checkpoint 按会话 ID 持久化查询状态，用于多轮对话延续。
//
// 提供三种实现：MemoryStore（进程内）、RedisStore（有序集合索引 + TTL）
// 和 GormStore（postgres / mysql / sqlite）。每个会话最多保留 20 个检查点。
package checkpoint
