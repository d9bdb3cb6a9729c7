// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 events 提供编排过程中的侧信道事件：阶段事件、token、引用映射。

Emit 把事件同时发往两处：当前 workflow.Stream 的 Custom 通道（若在流式
运行中），以及 context 中的 Bus（若有）。Bus 为带缓冲的异步分发，
处理器 panic 会被恢复并记录日志。

Sink：AttachMetrics 将终态阶段耗时写入 Prometheus 收集器；
NATSSink 将阶段事件发布到 aegis.phase.<phase_type>。
*/
package events
