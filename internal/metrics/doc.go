// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集。

Collector 通过 promauto 注册到默认 Registry，按 namespace 隔离：

  - HTTP：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 查询：按 mode/intent/status 统计的查询数与端到端耗时。
  - 阶段：终态阶段事件计数与耗时，Collector 实现 events.PhaseRecorder。
  - 检索通道：每个通道返回的结果数分布。
  - 编排：编排图编译次数、后台任务结果。
  - LLM、缓存、数据库连接池。
*/
package metrics
