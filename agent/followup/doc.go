// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package followup 在答案完成后于后台生成追问问题。
// 对话上下文写入 conversation 命名空间，生成的问题写入 cache 命名空间，供客户端轮询。
package followup
