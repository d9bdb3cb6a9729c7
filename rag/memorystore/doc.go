// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package memorystore 提供基于 Redis 有序集合的会话时间记忆，
// 按写入时间排序，检索分数结合关键词覆盖率与新近度衰减。
package memorystore
