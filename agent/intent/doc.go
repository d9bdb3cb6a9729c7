// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package intent 将用户查询分类为 vector / graph / hybrid / memory 检索策略。
// 后端错误在重试耗尽后转换为默认意图，从不向调用方传播。
package intent
