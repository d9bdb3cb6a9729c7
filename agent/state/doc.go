// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 state 定义在编排各阶段之间传递的查询状态与推理阶段事件。

QueryState 是显式结构体而非自由 map：检索结果、会话消息、终态阶段事件、
agent_path 追踪与结构化错误都按追加顺序记录。并发分支通过 Clone 获得
独立视图。

PhaseEvent 的 duration_ms 只由起止时间推导（见 MarshalJSON），
终态事件（completed / failed / skipped）不可再转换。
*/
package state
