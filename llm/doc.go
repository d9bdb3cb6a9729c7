// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 llm 提供统一的大语言模型接入层抽象。

# 核心接口

  - [Provider]：Completion / Stream / Name，意图分类、答案生成与追问生成共用
  - [Embedder]：向量化接口，供向量检索通道使用

# 子包

  - openaicompat：OpenAI 兼容协议的 HTTP 实现（chat/completions、SSE、embeddings）
  - retry：指数退避重试器，检索通道、分类器与协调器共用
  - tokenizer：基于 tiktoken 的 Token 计数，用于答案 Prompt 的上下文预算
*/
package llm
