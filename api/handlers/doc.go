// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AegisRAG HTTP API 的请求处理器实现。

# 核心类型

  - QueryHandler    — 批量查询、SSE 流式查询与 WebSocket 流式查询
  - SessionHandler  — 追问建议、检查点摘要与会话删除
  - HealthHandler   — 存活与就绪检查（/health, /ready）
  - Response        — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo       — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter  — 包装 http.ResponseWriter 以捕获状态码

# 流式协议

SSE 与 WebSocket 推送相同的 Envelope（{"type": ..., "data": ...}）。
SSE 每条消息为一行 `data: <json>`，最后以 `data: [DONE]` 结束；
WebSocket 客户端先发送一条查询请求，服务端推送完毕后以 1000 正常关闭，
请求校验失败时推送 error 消息并以 1008 关闭。

批量查询失败时，响应的 data 字段仍包含失败状态下的部分结果。
*/
package handlers
