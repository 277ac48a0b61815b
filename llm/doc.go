// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供任务引擎的大语言模型接入层。

# 概述

引擎只依赖 [Oracle] 接口：Generate 用于规划、恢复与总结，
GenerateWithImage 用于根据截图定位页面元素。Oracle 的回复是自由文本，
所有调用方都需要宽松解析并准备本地兜底。

# 核心接口

  - [Provider]：底层模型服务适配接口（Completion / HealthCheck / Name）
  - [Oracle]：引擎消费的文本/视觉生成接口
  - [ProviderOracle]：基于 Provider 的 Oracle 实现，内置限流、重试、
    Prometheus 指标与 OpenTelemetry span

# 子包

  - providers/openaicompat：OpenAI 兼容的 HTTP Provider，支持图片内容
  - retry：固定间隔与指数退避重试
  - tokenizer：页面内容放入提示词前的 token 截断
*/
package llm
