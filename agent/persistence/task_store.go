package persistence

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStore 保存浏览器任务的检查点, 服务重启后可以找回未完成的任务.
type TaskStore interface {
	Store

	// SaveTask persists a task record (create or update)
	SaveTask(ctx context.Context, task *TaskRecord) error

	// GetTask retrieves a task by ID
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)

	// ListTasks retrieves tasks matching the filter criteria
	ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error)

	// DeleteTask removes a task from the store
	DeleteTask(ctx context.Context, taskID string) error

	// GetRecoverableTasks returns top-level tasks in pending or running status
	GetRecoverableTasks(ctx context.Context) ([]*TaskRecord, error)

	// Cleanup removes finished tasks older than the specified duration
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns statistics about the task store
	Stats(ctx context.Context) (*TaskStoreStats, error)
}

// TaskStatus represents the status of a browser task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal returns true if the status is a terminal state
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsRecoverable returns true if the task should be resumed after restart
func (s TaskStatus) IsRecoverable() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// TaskRecord 是任务的持久化快照. Snapshot 保存完整的任务 JSON, 其余字段用于索引与过滤.
type TaskRecord struct {
	ID           string          `json:"id"`
	ParentTaskID string          `json:"parent_task_id,omitempty"`
	ChildTaskIDs []string        `json:"child_task_ids,omitempty"`
	Type         string          `json:"type"`
	Description  string          `json:"description"`
	Status       TaskStatus      `json:"status"`
	CurrentStep  int             `json:"current_step"`
	TotalSteps   int             `json:"total_steps"`
	Progress     float64         `json:"progress"`
	RetryCount   int             `json:"retry_count"`
	Result       string          `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the task is in a terminal state
func (t *TaskRecord) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Clone 返回深拷贝
func (t *TaskRecord) Clone() *TaskRecord {
	if t == nil {
		return nil
	}
	c := *t
	c.ChildTaskIDs = append([]string(nil), t.ChildTaskIDs...)
	c.Snapshot = append(json.RawMessage(nil), t.Snapshot...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// TaskFilter defines criteria for filtering tasks
type TaskFilter struct {
	Type          string       `json:"type,omitempty"`
	Status        []TaskStatus `json:"status,omitempty"`
	ParentTaskID  string       `json:"parent_task_id,omitempty"`
	RootOnly      bool         `json:"root_only,omitempty"` // 只返回顶层任务
	CreatedAfter  *time.Time   `json:"created_after,omitempty"`
	CreatedBefore *time.Time   `json:"created_before,omitempty"`
	Limit         int          `json:"limit,omitempty"`
	Offset        int          `json:"offset,omitempty"`
	OrderBy       string       `json:"order_by,omitempty"` // created_at (default), updated_at, progress
	OrderDesc     bool         `json:"order_desc,omitempty"`
}

// TaskStoreStats contains statistics about the task store
type TaskStoreStats struct {
	TotalTasks       int64                `json:"total_tasks"`
	StatusCounts     map[TaskStatus]int64 `json:"status_counts"`
	TypeCounts       map[string]int64     `json:"type_counts"`
	OldestPendingAge time.Duration        `json:"oldest_pending_age"`
}
