// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 为浏览器任务提供检查点存储, 服务重启后可以找回未结束的任务。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - TaskStore: 任务检查点接口，支持保存、查询、删除、恢复扫描、
    过期清理与统计。

# 核心模型

  - TaskRecord: 任务快照。Snapshot 字段保存完整的任务 JSON，
    其余字段（状态、进度、父子关系）用于索引与过滤。
  - TaskFilter: 按类型、状态、父任务、创建时间过滤，支持排序与分页。
  - StoreConfig / CleanupConfig: 存储类型选择与自动清理策略，
    可由 config.PersistenceConfig 转换得到。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 原子写入 JSON 索引，适合单节点部署。
  - Redis: Sorted Set 索引加事务 Pipeline，适合分布式部署。
  - SQL: 基于 GORM，经 internal/database 连接池访问 postgres、mysql 或 sqlite。

# 使用方式

	store, err := persistence.NewTaskStore(cfg.Persistence, collector, logger)
	pending, err := store.GetRecoverableTasks(ctx)
*/
package persistence
