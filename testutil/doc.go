/*
Package testutil 提供浏览器任务引擎测试的共享工具。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，
    TestContext 自动注册 Cleanup 防止泄漏

# 子包

  - testutil/mocks: MockOracle（脚本化 llm.Oracle）与
    FakePageView（内存 browser.PageView，可注入错误与 panic）
*/
package testutil
