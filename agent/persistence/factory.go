package persistence

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/config"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/database"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/metrics"
)

// NewTaskStore 按配置创建 TaskStore. collector 可为 nil, 仅 sql 后端使用.
func NewTaskStore(cfg config.PersistenceConfig, collector *metrics.Collector, logger *zap.Logger) (TaskStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	storeCfg := StoreConfigFrom(cfg)

	switch storeCfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryTaskStore(storeCfg, logger), nil
	case StoreTypeFile:
		return NewFileTaskStore(storeCfg, logger)
	case StoreTypeRedis:
		return NewRedisTaskStore(storeCfg, logger)
	case StoreTypeSQL:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), logger, collector)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLTaskStore(pool, storeCfg, logger)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", cfg.Type)
	}
}
