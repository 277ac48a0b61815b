// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供浏览器任务引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、agent/browser、
agent/browsertask 等上层模块提供统一的类型契约。

# 核心类型

  - Message：对话消息（Role、Content、Images）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 任务错误码：TRANSLATION_FAILED、ACTION_FAILED、RESOLUTION_FAILED 等
*/
package types
