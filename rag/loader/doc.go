// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package loader 读取本地语料并建立检索索引。
//
// LoaderRegistry 按扩展名把文件交给对应的加载器：
//   - 纯文本 (.txt)
//   - Markdown (.md, .markdown)，按标题切节
//   - JSON / JSONL (.json, .jsonl)，默认取 "text" 与 "id" 字段
//
// Ingestor 遍历语料目录，以一级子目录名作为命名空间，经 Chunker 按 token
// 预算切块后写入向量库（需要嵌入器）与 BM25 索引：
//
//	ing := loader.NewIngestor(loader.NewChunker(loader.DefaultChunkerConfig(), tok), bm25, logger,
//	    loader.WithVectorStore(store, embedder))
//	stats, err := ing.IngestDir(ctx, "./corpus")
package loader
