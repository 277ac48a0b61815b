package browsertask

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/persistence"
)

// TaskType 选择驱动任务的执行策略
type TaskType string

const (
	TaskTypeMultiStep      TaskType = "multi-step"
	TaskTypeLoop           TaskType = "loop"
	TaskTypeConditional    TaskType = "conditional"
	TaskTypeDataCollection TaskType = "data-collection"
	TaskTypeInteractive    TaskType = "interactive"
)

// ParseTaskType 解析任务类型, 兼容下划线与驼峰写法. 未知类型返回 false.
func ParseTaskType(s string) (TaskType, bool) {
	switch normalizeKey(s) {
	case "multistep", "simple", "default":
		return TaskTypeMultiStep, true
	case "loop":
		return TaskTypeLoop, true
	case "conditional":
		return TaskTypeConditional, true
	case "datacollection", "collect", "extraction":
		return TaskTypeDataCollection, true
	case "interactive":
		return TaskTypeInteractive, true
	}
	return "", false
}

// Status 任务状态, 由任务字段推导
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// HistoryEntry 记录一次步骤尝试
type HistoryEntry struct {
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Task 是一次浏览任务. 由调用方持有, 执行器原地修改.
type Task struct {
	ID             string          `json:"id"`
	Description    string          `json:"description"`
	Steps          []string        `json:"steps"`
	CurrentStep    int             `json:"current_step"`
	Completed      bool            `json:"completed"`
	Error          string          `json:"error,omitempty"`
	Result         string          `json:"result,omitempty"`
	ExecutionState ExecutionState  `json:"execution_state"`
	History        []HistoryEntry  `json:"history,omitempty"`
	RetryCount     int             `json:"retry_count"`
	RecoveryCount  int             `json:"recovery_count"`
	Subtasks       []*Task         `json:"subtasks,omitempty"`
	ParentTaskID   string          `json:"parent_task_id,omitempty"`
	TaskType       TaskType        `json:"task_type"`
	CollectedData  json.RawMessage `json:"collected_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	// CompletedAt 首次进入终态的时间
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask 创建待执行的任务
func NewTask(description string, steps []string, taskType TaskType) *Task {
	if taskType == "" {
		taskType = TaskTypeMultiStep
	}
	now := time.Now()
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Steps:       append([]string(nil), steps...),
		TaskType:    taskType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal 已完成或已失败
func (t *Task) IsTerminal() bool {
	return t.Completed || t.Error != ""
}

// Status 根据字段推导当前状态
func (t *Task) Status() Status {
	switch {
	case t.Error != "":
		return StatusFailed
	case t.Completed:
		return StatusCompleted
	case t.started():
		return StatusRunning
	default:
		return StatusPending
	}
}

func (t *Task) started() bool {
	if t.CurrentStep > 0 || len(t.History) > 0 {
		return true
	}
	for _, child := range t.Subtasks {
		if child.started() || child.IsTerminal() {
			return true
		}
	}
	return false
}

// Progress 返回 [0,1] 的进度. 有子任务时只由子任务的终态数量决定.
func (t *Task) Progress() float64 {
	if len(t.Subtasks) > 0 {
		done := 0
		for _, child := range t.Subtasks {
			if child.IsTerminal() {
				done++
			}
		}
		return float64(done) / float64(len(t.Subtasks))
	}
	if t.Completed {
		return 1
	}
	if len(t.Steps) == 0 {
		return 0
	}
	return float64(t.CurrentStep) / float64(len(t.Steps))
}

// HasRemainingSteps 游标尚未走到计划末尾
func (t *Task) HasRemainingSteps() bool {
	return t.CurrentStep < len(t.Steps)
}

// CurrentStepText 返回当前步骤, 越界时返回空串
func (t *Task) CurrentStepText() string {
	if t.CurrentStep < 0 || t.CurrentStep >= len(t.Steps) {
		return ""
	}
	return t.Steps[t.CurrentStep]
}

// ChildResults 返回已完成子任务的结果
func (t *Task) ChildResults() []string {
	var out []string
	for _, child := range t.Subtasks {
		if child.Completed && child.Result != "" {
			out = append(out, child.Result)
		}
	}
	return out
}

func (t *Task) appendHistory(step, outcome string, success bool) {
	now := time.Now()
	t.History = append(t.History, HistoryEntry{
		Step:      step,
		Outcome:   outcome,
		Success:   success,
		Timestamp: now,
	})
	t.UpdatedAt = now
}

func (t *Task) fail(msg string) {
	t.Error = msg
	t.settle(time.Now())
}

func (t *Task) complete() {
	t.Completed = true
	t.Error = ""
	t.settle(time.Now())
}

// settle 记录终态时间, 只保留第一次
func (t *Task) settle(now time.Time) {
	t.UpdatedAt = now
	if t.CompletedAt == nil {
		t.CompletedAt = &now
	}
}

// probe 以相同计划复制出一个全新的子任务, 不共享任何可变状态.
func (t *Task) probe() *Task {
	p := NewTask(t.Description, t.Steps, TaskTypeMultiStep)
	p.ParentTaskID = t.ID
	return p
}

// Record 转换为检查点记录, Snapshot 保存完整 JSON
func (t *Task) Record() (*persistence.TaskRecord, error) {
	snapshot, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	rec := &persistence.TaskRecord{
		ID:           t.ID,
		ParentTaskID: t.ParentTaskID,
		Type:         string(t.TaskType),
		Description:  t.Description,
		Status:       persistence.TaskStatus(t.Status()),
		CurrentStep:  t.CurrentStep,
		TotalSteps:   len(t.Steps),
		Progress:     t.Progress() * 100,
		RetryCount:   t.RetryCount,
		Result:       t.Result,
		Error:        t.Error,
		Snapshot:     snapshot,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.IsTerminal() && t.CompletedAt != nil {
		at := *t.CompletedAt
		rec.CompletedAt = &at
	}
	for _, child := range t.Subtasks {
		rec.ChildTaskIDs = append(rec.ChildTaskIDs, child.ID)
	}
	return rec, nil
}

// TaskFromRecord 从检查点恢复任务
func TaskFromRecord(rec *persistence.TaskRecord) (*Task, error) {
	var t Task
	if err := json.Unmarshal(rec.Snapshot, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = rec.ID
	}
	return &t, nil
}
