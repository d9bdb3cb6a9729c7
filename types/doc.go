// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
Package types 提供 AegisRAG 服务的全局共享错误定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、orchestrator、llm、
api 等上层模块提供统一的错误契约。

# 核心类型

  - Error / ErrorCode — 结构化错误，含 HTTP 状态码、Retryable、Component 标记
  - TIMEOUT / AEGIS_ERROR / INTERNAL_ERROR — 流式接口对外暴露的错误码

# 主要能力

  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable / IsTimeout
  - 常用错误构造：NewTimeoutError / NewInvalidRequestError / NewNotFoundError
*/
package types
