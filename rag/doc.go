// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 rag 提供检索增强生成的通道无关基础设施：检索结果模型、分数归一化、
结果融合与去重、有效权重重分配以及 UI 证据样本抽取。

# 核心类型

  - RetrievedContext：单条检索结果，带通道标记（vector / bm25 /
    graph_local / graph_global / hybrid / graph / memory）与通道内 rank
  - Searcher / SearchRequest / SearchResponse：所有检索通道的统一接口
  - TransientError：通道瞬时错误，只有这类错误会被重试
  - Weights / ChannelCounts：四路检索的名义权重与结果计数
  - BM25Index：内存关键词索引
  - FourWaySearcher：向量、BM25、图局部、图全局四路并发检索与加权 RRF 融合

# 主要能力

  - NormalizeScore：大于 1 的原始分数按 min(1, log10(s+1)) 压缩
  - Dedup：按文本前 200 个字符近似去重，首次出现者保留
  - FuseRRF：加权倒数排名融合，score = Σ w/(k+rank)
  - EffectiveWeights：无结果通道权重归零并按比例重新分配
  - ExtractChannelSamples：每通道最多 N 条样本，附带关键词、实体、社区信息

子包 vectorstore、graphstore、memorystore 提供具体的检索后端。
*/
package rag
