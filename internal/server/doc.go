// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理命令行进程附带的运维 HTTP 端点。

NewOpsHandler 暴露 Prometheus 的 /metrics 与依赖探活 /healthz,
Manager 负责非阻塞启动、实际监听地址查询与带超时的优雅关闭。
*/
package server
