// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 browser 提供任务引擎与宿主页面之间的动作层。

# 概述

任务引擎把每个计划步骤翻译为一个 [BrowserAction]，由 [ActionExecutor]
在 [PageView] 上执行。执行结果以 [ActionResult] 数据形式返回，
PageView 的错误与 panic 不会越过执行器边界。

# 核心组件

  - [BrowserAction]：封闭的动作联合类型（导航、点击、输入、搜索、标签页等）
  - [PageView]：宿主页面视图接口；[ChromeDPPageView] 为基于 chromedp 的实现
  - [ElementResolver]：两层元素定位，确定性层处理百度/Google/Bing 结果页，
    AI 层通过截图与 [VisualLocator] 猜测目标元素
  - [LLMVisionAdapter]：基于 llm.Oracle 视觉能力的 VisualLocator
  - [BrowserPool]：页面视图池，供并行循环的 worker 各自独占页面
*/
package browser
