// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package answer 基于检索结果生成带编号引用的答案。
//
// LLMGenerator 按 token 预算装入来源片段并以 citation_map、token、complete
// 的顺序流式输出；Stage 是编排图的 answer 节点，把这些事件实时转发给前端。
package answer
