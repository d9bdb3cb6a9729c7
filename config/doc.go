// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package config 提供 AegisRAG 的配置管理功能。
//
// Loader 按"默认值 → YAML 文件 → 环境变量（AEGIS_ 前缀）"的顺序合成 Config，
// 可选读取 .env 文件，并以 validator 标签校验。ToolsConfig 是运行期可热更新的
// 特性开关，由编排器在重新编译状态机时经 ToolsLoader 读取；FileWatcher 监听
// 其文件变化以提前失效缓存。
package config
