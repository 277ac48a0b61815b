// Package config 提供任务引擎的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，
// 环境变量名由前缀与字段的 env tag 拼接而成，
// 例如 BROWSERAGENT_ENGINE_MAX_RETRIES。
package config
