// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 openaicompat 提供 OpenAI 兼容 Chat Completions 接口的 Provider 实现。

OpenAI、DeepSeek、通义千问、本地 vLLM/Ollama 等只要遵循该协议即可接入。
携带截图的消息会被展开为 text + image_url 内容块（data URL）。
HTTP 错误经 MapHTTPError 映射为带 Retryable 标记的 types.Error，
由上层 llm.ProviderOracle 决定是否重试。
*/
package openaicompat
