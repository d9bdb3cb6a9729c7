// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package database 提供基于 GORM 的数据库连接池管理。

[Open] 按配置选择方言（postgres、mysql 或纯 Go 的 sqlite），
[PoolManager] 统一管理连接生命周期、后台健康检查与事务重试。
检查点存储（agent/checkpoint.GormStore）与 pgvector 向量存储
（rag/vectorstore.PgVectorStore）共用同一个连接池。

健康检查定时探活，并通过 [StatsRecorder] 上报打开与空闲连接数。
[PoolManager.WithTransaction] 对死锁、序列化失败和断连等错误按指数退避重试。
*/
package database
