package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTaskStore is a Redis-based implementation of TaskStore.
// Suitable for distributed production deployments.
// 任务 JSON 存在 string 键中, 另用 sorted set 按状态与父任务建索引.
type RedisTaskStore struct {
	client    redis.UniversalClient
	keyPrefix string
	config    StoreConfig
	logger    *zap.Logger
	stopCh    chan struct{}
}

// NewRedisTaskStore creates a new Redis-based task store
func NewRedisTaskStore(config StoreConfig, logger *zap.Logger) (*RedisTaskStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisTaskStoreWithClient(client, config, logger), nil
}

// NewRedisTaskStoreWithClient 使用已有客户端创建存储, 便于复用连接或在测试中注入.
func NewRedisTaskStoreWithClient(client redis.UniversalClient, config StoreConfig, logger *zap.Logger) *RedisTaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "browseragent:"
	}

	store := &RedisTaskStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
		config:    config,
		logger:    logger.With(zap.String("component", "redis_task_store")),
		stopCh:    make(chan struct{}),
	}

	if config.Cleanup.Enabled {
		go runCleanupLoop(config.Cleanup.Interval, store.stopCh, store.periodicCleanup)
	}
	return store
}

// Close closes the store
func (s *RedisTaskStore) Close() error {
	select {
	case <-s.stopCh:
		return nil
	default:
		close(s.stopCh)
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisTaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisTaskStore) taskKey(taskID string) string {
	return s.keyPrefix + "data:" + taskID
}

func (s *RedisTaskStore) statusKey(status TaskStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

func (s *RedisTaskStore) parentKey(parentID string) string {
	return s.keyPrefix + "parent:" + parentID
}

func (s *RedisTaskStore) allTasksKey() string {
	return s.keyPrefix + "all"
}

// SaveTask persists a task to the store
func (s *RedisTaskStore) SaveTask(ctx context.Context, task *TaskRecord) error {
	if task == nil {
		return ErrInvalidInput
	}

	prepareRecord(task, time.Now())

	// 状态变化时需要从旧索引移除
	oldTask, err := s.GetTask(ctx, task.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	score := float64(task.CreatedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(task.ID), data, 0)

	if oldTask != nil && oldTask.Status != task.Status {
		pipe.ZRem(ctx, s.statusKey(oldTask.Status), task.ID)
	}
	pipe.ZAdd(ctx, s.statusKey(task.Status), redis.Z{Score: score, Member: task.ID})
	pipe.ZAdd(ctx, s.allTasksKey(), redis.Z{Score: score, Member: task.ID})
	if task.ParentTaskID != "" {
		pipe.ZAdd(ctx, s.parentKey(task.ParentTaskID), redis.Z{Score: score, Member: task.ID})
	}

	_, err = pipe.Exec(ctx)
	return err
}

// GetTask retrieves a task by ID
func (s *RedisTaskStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var task TaskRecord
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// loadTasks 用 MGET 批量读取, 跳过已被删除或损坏的条目
func (s *RedisTaskStore) loadTasks(ctx context.Context, taskIDs []string) ([]*TaskRecord, error) {
	if len(taskIDs) == 0 {
		return []*TaskRecord{}, nil
	}
	keys := make([]string, len(taskIDs))
	for i, id := range taskIDs {
		keys[i] = s.taskKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*TaskRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var task TaskRecord
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			s.logger.Warn("skip corrupt task record", zap.String("task_id", taskIDs[i]), zap.Error(err))
			continue
		}
		result = append(result, &task)
	}
	return result, nil
}

// ListTasks retrieves tasks matching the filter criteria
func (s *RedisTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error) {
	// 选择最窄的索引
	indexKey := s.allTasksKey()
	switch {
	case filter.ParentTaskID != "":
		indexKey = s.parentKey(filter.ParentTaskID)
	case len(filter.Status) == 1:
		indexKey = s.statusKey(filter.Status[0])
	}

	taskIDs, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	tasks, err := s.loadTasks(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	return applyFilter(tasks, filter), nil
}

// DeleteTask removes a task from the store
func (s *RedisTaskStore) DeleteTask(ctx context.Context, taskID string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.taskKey(taskID))
	pipe.ZRem(ctx, s.statusKey(task.Status), taskID)
	pipe.ZRem(ctx, s.allTasksKey(), taskID)
	if task.ParentTaskID != "" {
		pipe.ZRem(ctx, s.parentKey(task.ParentTaskID), taskID)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// GetRecoverableTasks retrieves tasks that need to be recovered after restart
func (s *RedisTaskStore) GetRecoverableTasks(ctx context.Context) ([]*TaskRecord, error) {
	var taskIDs []string
	for _, status := range []TaskStatus{TaskStatusPending, TaskStatusRunning} {
		ids, err := s.client.ZRange(ctx, s.statusKey(status), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		taskIDs = append(taskIDs, ids...)
	}

	tasks, err := s.loadTasks(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	return recoverable(tasks), nil
}

// Cleanup removes completed/failed tasks older than the specified duration
func (s *RedisTaskStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	count := 0

	for _, status := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed} {
		ids, err := s.client.ZRange(ctx, s.statusKey(status), 0, -1).Result()
		if err != nil {
			return count, err
		}
		tasks, err := s.loadTasks(ctx, ids)
		if err != nil {
			return count, err
		}
		for _, task := range tasks {
			if !expired(task, cutoff) {
				continue
			}
			if err := s.DeleteTask(ctx, task.ID); err == nil {
				count++
			}
		}
	}
	return count, nil
}

// Stats returns statistics about the task store
func (s *RedisTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
	taskIDs, err := s.client.ZRange(ctx, s.allTasksKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	tasks, err := s.loadTasks(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	return computeStats(tasks, time.Now()), nil
}

func (s *RedisTaskStore) periodicCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.Cleanup(ctx, s.config.Cleanup.TaskRetention)
	if err != nil {
		s.logger.Warn("periodic cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("cleaned up finished tasks", zap.Int("count", n))
	}
}

// Ensure RedisTaskStore implements TaskStore
var _ TaskStore = (*RedisTaskStore)(nil)
