// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package migration 管理检查点与向量分块表的 Schema 版本，基于 golang-migrate。

迁移文件按方言内嵌在 migrations/{postgres,mysql,sqlite} 下：

  - 000001_init_schema：rag_checkpoints 表（三种方言）
  - 000002_rag_chunks：pgvector 扩展与 rag_chunks 表（仅 postgres）

SQLite 通过纯 Go 驱动打开，无需 cgo。命令行入口为 `aegisrag migrate`，
由 CLI 负责输出格式。
*/
package migration
