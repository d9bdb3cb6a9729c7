// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 vectorstore 提供向量检索通道的存储后端。

MemoryStore 为进程内余弦相似度实现，适合测试与小规模部署；
PgVectorStore 基于 gorm + pgvector，使用 <=> 余弦距离排序。
Searcher 将任一 Store 与 llm.Embedder 组合为 rag.Searcher，
结果标记为 vector 通道，可重试的上游错误包装为瞬时错误。
*/
package vectorstore
