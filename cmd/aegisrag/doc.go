// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package main 提供 AegisRAG 服务端程序入口。

# 概述

cmd/aegisrag 是 AegisRAG 的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件与
AEGIS_ 前缀环境变量、结构化日志（zap + lumberjack 轮转）、
Prometheus 指标以及工具配置热重载。

# 核心类型

  - Server          — 组装检索后端、LLM、编排器并管理 HTTP 生命周期
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - rememberingStore — 检查点装饰器，把完成的对话轮次写入时间记忆

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、Metrics、RateLimiter（按 IP）、JWTAuth（HS256）
  - 检查点后端：memory / redis / database
  - 向量后端：memory（启动时载入语料目录）/ pgvector
  - 阶段事件：Prometheus 指标与可选的 NATS 转发
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
