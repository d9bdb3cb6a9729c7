// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry SDK（OTLP gRPC 导出），
// 编排图的每个节点在 workflow 中产生一个 span。关闭时使用 noop provider。
package telemetry
