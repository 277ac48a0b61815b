// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接打开与连接池管理，
供任务检查点的 SQL 存储使用。

# 核心类型

  - Open：按 driver 打开 postgres / mysql / sqlite(纯 Go) 连接。
  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置。

# 主要能力

  - 健康检查：后台定时 PingContext 探活，并将连接数写入 Prometheus。
  - 事务管理：WithTransaction / WithTransactionRetry（死锁、序列化失败时退避重试）。
*/
package database
