// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
browseragent 是浏览器任务引擎的命令行入口。

	browseragent run [--config path] [--model hint] <指令>
	browseragent compile [--config path] <指令>
	browseragent resume [--config path]
	browseragent version

run 编译并执行一条自然语言指令, 把最终任务以 JSON 输出到标准输出。
resume 找回检查点存储中未完成的任务并继续执行。配置了
metrics.listen_addr 时进程运行期间同时暴露 /metrics 与 /healthz。
*/
package main
