package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/database"
)

// taskRow 是 browser_tasks 表的行结构
type taskRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	ParentTaskID string `gorm:"size:64;index"`
	ChildTaskIDs string `gorm:"type:text"`
	Type         string `gorm:"size:32;index"`
	Description  string `gorm:"type:text"`
	Status       string `gorm:"size:16;index"`
	CurrentStep  int
	TotalSteps   int
	Progress     float64
	RetryCount   int
	Result       string    `gorm:"type:text"`
	Error        string    `gorm:"type:text"`
	Snapshot     string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
	CompletedAt  *time.Time
}

func (taskRow) TableName() string { return "browser_tasks" }

func toRow(task *TaskRecord) (*taskRow, error) {
	children, err := json.Marshal(task.ChildTaskIDs)
	if err != nil {
		return nil, err
	}
	return &taskRow{
		ID:           task.ID,
		ParentTaskID: task.ParentTaskID,
		ChildTaskIDs: string(children),
		Type:         task.Type,
		Description:  task.Description,
		Status:       string(task.Status),
		CurrentStep:  task.CurrentStep,
		TotalSteps:   task.TotalSteps,
		Progress:     task.Progress,
		RetryCount:   task.RetryCount,
		Result:       task.Result,
		Error:        task.Error,
		Snapshot:     string(task.Snapshot),
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
		CompletedAt:  task.CompletedAt,
	}, nil
}

func (r *taskRow) record() *TaskRecord {
	task := &TaskRecord{
		ID:           r.ID,
		ParentTaskID: r.ParentTaskID,
		Type:         r.Type,
		Description:  r.Description,
		Status:       TaskStatus(r.Status),
		CurrentStep:  r.CurrentStep,
		TotalSteps:   r.TotalSteps,
		Progress:     r.Progress,
		RetryCount:   r.RetryCount,
		Result:       r.Result,
		Error:        r.Error,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		CompletedAt:  r.CompletedAt,
	}
	if r.ChildTaskIDs != "" {
		_ = json.Unmarshal([]byte(r.ChildTaskIDs), &task.ChildTaskIDs)
	}
	if r.Snapshot != "" {
		task.Snapshot = json.RawMessage(r.Snapshot)
	}
	return task
}

// SQLTaskStore 基于 GORM 的 TaskStore, 支持 postgres、mysql 与 sqlite.
type SQLTaskStore struct {
	pool   *database.PoolManager
	config StoreConfig
	logger *zap.Logger
	stopCh chan struct{}
}

// NewSQLTaskStore 在连接池上创建存储并自动迁移表结构
func NewSQLTaskStore(pool *database.PoolManager, config StoreConfig, logger *zap.Logger) (*SQLTaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&taskRow{}); err != nil {
		return nil, fmt.Errorf("migrate task table: %w", err)
	}

	store := &SQLTaskStore{
		pool:   pool,
		config: config,
		logger: logger.With(zap.String("component", "sql_task_store")),
		stopCh: make(chan struct{}),
	}
	if config.Cleanup.Enabled {
		go runCleanupLoop(config.Cleanup.Interval, store.stopCh, store.periodicCleanup)
	}
	return store, nil
}

// Close 停止清理协程并关闭连接池
func (s *SQLTaskStore) Close() error {
	select {
	case <-s.stopCh:
		return nil
	default:
		close(s.stopCh)
	}
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLTaskStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *SQLTaskStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// SaveTask 以主键 upsert
func (s *SQLTaskStore) SaveTask(ctx context.Context, task *TaskRecord) error {
	if task == nil {
		return ErrInvalidInput
	}
	prepareRecord(task, time.Now())

	row, err := toRow(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	})
}

// GetTask retrieves a task by ID
func (s *SQLTaskStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	var row taskRow
	err := s.db(ctx).Where("id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// ListTasks 等值条件下推到 SQL, 时间范围、排序与分页在内存中完成
func (s *SQLTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error) {
	q := s.db(ctx).Model(&taskRow{})
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.ParentTaskID != "" {
		q = q.Where("parent_task_id = ?", filter.ParentTaskID)
	}
	if filter.RootOnly {
		q = q.Where("parent_task_id = ?", "")
	}

	tasks, err := s.find(q)
	if err != nil {
		return nil, err
	}
	return applyFilter(tasks, filter), nil
}

func (s *SQLTaskStore) find(q *gorm.DB) ([]*TaskRecord, error) {
	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	tasks := make([]*TaskRecord, len(rows))
	for i := range rows {
		tasks[i] = rows[i].record()
	}
	return tasks, nil
}

// DeleteTask removes a task from the store
func (s *SQLTaskStore) DeleteTask(ctx context.Context, taskID string) error {
	res := s.db(ctx).Where("id = ?", taskID).Delete(&taskRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecoverableTasks retrieves tasks that need to be recovered after restart
func (s *SQLTaskStore) GetRecoverableTasks(ctx context.Context) ([]*TaskRecord, error) {
	return s.ListTasks(ctx, TaskFilter{
		Status:   []TaskStatus{TaskStatusPending, TaskStatusRunning},
		RootOnly: true,
	})
}

// Cleanup removes completed/failed tasks older than the specified duration
func (s *SQLTaskStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	finished, err := s.ListTasks(ctx, TaskFilter{
		Status: []TaskStatus{TaskStatusCompleted, TaskStatusFailed},
	})
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	ids := make([]string, 0, len(finished))
	for _, task := range finished {
		if expired(task, cutoff) {
			ids = append(ids, task.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err = s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id IN ?", ids).Delete(&taskRow{})
		deleted = res.RowsAffected
		return res.Error
	})
	return int(deleted), err
}

// Stats 通过 GROUP BY 统计状态与类型分布
func (s *SQLTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
	type bucket struct {
		Label string
		Total int64
	}

	stats := &TaskStoreStats{
		StatusCounts: make(map[TaskStatus]int64),
		TypeCounts:   make(map[string]int64),
	}

	var byStatus []bucket
	if err := s.db(ctx).Model(&taskRow{}).
		Select("status AS label, COUNT(*) AS total").
		Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, b := range byStatus {
		stats.StatusCounts[TaskStatus(b.Label)] = b.Total
		stats.TotalTasks += b.Total
	}

	var byType []bucket
	if err := s.db(ctx).Model(&taskRow{}).
		Select("type AS label, COUNT(*) AS total").
		Where("type <> ?", "").
		Group("type").Scan(&byType).Error; err != nil {
		return nil, err
	}
	for _, b := range byType {
		stats.TypeCounts[b.Label] = b.Total
	}

	var oldest taskRow
	err := s.db(ctx).Where("status = ?", string(TaskStatusPending)).
		Order("created_at ASC").First(&oldest).Error
	switch {
	case err == nil:
		stats.OldestPendingAge = time.Since(oldest.CreatedAt)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return stats, nil
}

func (s *SQLTaskStore) periodicCleanup() {
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

// Ensure SQLTaskStore implements TaskStore
var _ TaskStore = (*SQLTaskStore)(nil)
