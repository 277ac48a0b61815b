// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的浏览器任务指标采集能力，覆盖
任务、步骤、浏览器动作、元素定位、LLM 与数据库六个维度。

# 概述

Collector 统一注册和记录指标，默认使用 promauto 注册到全局 Registry，
测试中可通过 NewCollectorWithRegisterer 注入独立的 Registry。
所有指标按 namespace 隔离。Collector 的方法对 nil 接收者安全，
未启用指标时调用方直接传 nil 即可。

# 主要能力

  - 任务指标：按 task_type/status 统计总数与耗时。
  - 步骤指标：按 outcome 统计成功、失败、跳过与恢复后的步骤数。
  - 恢复指标：按 strategy 统计 replace/skip/modify/abort 次数。
  - 动作指标：按 kind/status 统计浏览器动作次数与耗时。
  - 定位指标：按 tier/status 统计确定性层与 AI 层的命中情况。
  - LLM 指标：请求总数、耗时与 Token 用量，按 provider/model 分组。
  - 数据库指标：活跃与空闲连接数 Gauge，按 database 分组。
*/
package metrics
