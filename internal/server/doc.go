// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package server 管理 HTTP 服务器生命周期：非阻塞启动、Run 阻塞到信号、
// 优雅关闭，以及关闭后按逆序执行的 ShutdownHook（编排器、后台池、数据库、遥测）。
package server
