// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 browsertask 实现浏览器任务引擎：把自然语言指令编译为分步计划，
逐步翻译为浏览器动作执行，并在失败时重试、恢复或拆分。

# 核心组件

  - [Task]：任务模型。游标 CurrentStep 不超过步骤数；有子任务时
    进度只由子任务决定。[ExecutionState] 是按用途分字段的草稿区。
  - [Compiler]：先匹配确定性模板（搜索并总结、比较、查找、浏览、搜索），
    不命中时请求 LLM 规划。首步总是搜索或打开网址。
  - [Translator]：按关键词把步骤映射为 browser.BrowserAction；
    总结与比较步骤直接产出结果。
  - [Executor]：步骤状态机。失败按固定间隔重试，耗尽后交给 [Recovery]
    选择替换、跳过、修改计划或放弃。每步之后保存检查点。
  - [Decomposer]：步骤超过阈值时拆成 2 到 3 个顺序执行的子任务。
  - [Engine]：对外入口，按任务类型选择策略：多步、循环、条件、
    数据收集与交互式。

# 并发

单个 Executor 只操作一个页面视图，串行执行。循环任务在配置了
browser.BrowserPool 且并行度大于 1 时，每个 worker 借用独立的页面视图。
所有 LLM 与页面调用都接收 context，取消后任务保持非终态并返回 ctx.Err()。
*/
package browsertask
