// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package api 定义 AegisRAG HTTP API 的请求与响应结构。
//
// # API Overview
//
// AegisRAG 提供以下端点：
//   - POST /v1/query：批量查询，返回完整结果
//   - POST /v1/query/stream：SSE 流式查询，以 `data: [DONE]` 结束
//   - GET /v1/query/ws：WebSocket 流式查询
//   - GET /v1/sessions/{id}/followups：追问建议
//   - GET /v1/sessions/{id}/checkpoints：会话检查点摘要
//   - DELETE /v1/sessions/{id}：删除会话
//   - GET /health、GET /ready、GET /metrics
//
// # Authentication
//
// 启用认证时，/v1 下的端点需要 Bearer JWT：
//
//	Authorization: Bearer <token>
//
// # Base URL
//
//	http://localhost:8000
package api
