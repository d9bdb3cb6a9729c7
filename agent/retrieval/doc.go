// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 retrieval 实现编排图中的检索阶段。

VectorAgent、GraphAgent、MemoryAgent 各自对应一个检索通道：
空查询时跳过并记录；检索调用带重试，只重试本通道的瞬时错误；
重试耗尽后记录结构化错误并返回空结果，从不向编排图返回通道错误。

HybridStage 并发执行向量与图两个通道，按真实完成顺序发出阶段事件，
合并后按文本前 200 个字符去重。
*/
package retrieval
