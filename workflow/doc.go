// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package workflow 提供泛型的有向无环状态机：命名节点、无条件边、条件边、
入口与 End 终点。

# 核心类型

  - Graph[S, E]    — 可变构建器：AddNode / AddEdge / AddConditionalEdges / SetEntry
  - Compiled[S, E] — Compile 校验后的不可变图（入口、边目标、环检测、可达性、出边）
  - Run[S, E]      — 流式执行：Custom 侧信道事件与 Values 节点快照两个独立通道
  - Emit           — 节点向流式消费者发送侧信道事件

# 执行语义

Invoke 同步运行到 End。Stream 在后台运行，两个通道都不带缓冲：
节点执行期间 Emit 的事件总是先于该节点的快照送达。节点返回错误时运行终止，
不会静默继续。每个节点在独立的 OpenTelemetry span 中执行。
*/
package workflow
