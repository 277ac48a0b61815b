package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/xiaoyun172/CS-LLM-house-sub001/config"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// CleanupConfig defines cleanup behavior for finished tasks
type CleanupConfig struct {
	// Enabled determines if automatic cleanup is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is how often cleanup runs (default: 1h)
	Interval time.Duration `json:"interval" yaml:"interval"`

	// TaskRetention is how long to keep finished tasks (default: 24h)
	TaskRetention time.Duration `json:"task_retention" yaml:"task_retention"`
}

// DefaultCleanupConfig returns the default cleanup configuration
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:       true,
		Interval:      1 * time.Hour,
		TaskRetention: 24 * time.Hour,
	}
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	Cleanup CleanupConfig `json:"cleanup" yaml:"cleanup"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/tasks",
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "browseragent:",
		},
		Cleanup: DefaultCleanupConfig(),
	}
}

// StoreConfigFrom 把应用配置转换为存储配置
func StoreConfigFrom(cfg config.PersistenceConfig) StoreConfig {
	return StoreConfig{
		Type:    StoreType(cfg.Type),
		BaseDir: cfg.BaseDir,
		Redis: RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
		Cleanup: CleanupConfig{
			Enabled:       cfg.CleanupInterval > 0,
			Interval:      cfg.CleanupInterval,
			TaskRetention: cfg.TaskRetention,
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}
