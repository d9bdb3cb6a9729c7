// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package orchestrator 编排多代理 RAG 查询。

# 状态机

	router ─┬─> hybrid_search ─┐
	        ├─> vector_search ─┤
	        ├─> graph_query ───┼─> answer ─> End
	        └─> memory ────────┘

router 对查询做意图分类（调用方指定意图时跳过），条件边按意图选择检索节点；
特性开关关闭的路线回退到 vector_search。编译结果缓存 GraphTTL，工具配置文件
变化时经 [Coordinator.InvalidateGraph] 失效。

# 执行模式

[Coordinator.ProcessQuery] 批量执行，失败时按策略重试，返回完整结果。
[Coordinator.ProcessQueryStream] 流式执行，依次推送 phase_event、token、
citation_map、answer_chunk，以 reasoning_complete 或 error 结束。

两种模式都会按会话保存检查点，并把追问生成提交到后台任务池；后台任务使用
脱离请求生命周期的 context，不随请求取消。
*/
package orchestrator
