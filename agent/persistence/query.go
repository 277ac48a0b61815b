package persistence

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// prepareRecord 补全 ID 与时间戳. 终态任务第一次保存时记录完成时间.
func prepareRecord(task *TaskRecord, now time.Time) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status.IsTerminal() && task.CompletedAt == nil {
		at := now
		task.CompletedAt = &at
	}
	if !task.Status.IsTerminal() {
		task.CompletedAt = nil
	}
}

// matchesFilter checks if a task matches the filter criteria
func matchesFilter(task *TaskRecord, filter TaskFilter) bool {
	if filter.Type != "" && task.Type != filter.Type {
		return false
	}

	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if task.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.ParentTaskID != "" && task.ParentTaskID != filter.ParentTaskID {
		return false
	}

	if filter.RootOnly && task.ParentTaskID != "" {
		return false
	}

	if filter.CreatedAfter != nil && task.CreatedAt.Before(*filter.CreatedAfter) {
		return false
	}

	if filter.CreatedBefore != nil && task.CreatedAt.After(*filter.CreatedBefore) {
		return false
	}

	return true
}

// sortTasks sorts tasks by the specified field
func sortTasks(tasks []*TaskRecord, orderBy string, desc bool) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if desc {
			a, b = b, a
		}
		switch orderBy {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "progress":
			return a.Progress < b.Progress
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}

// paginate applies offset and limit
func paginate(tasks []*TaskRecord, offset, limit int) []*TaskRecord {
	if offset > 0 {
		if offset >= len(tasks) {
			return []*TaskRecord{}
		}
		tasks = tasks[offset:]
	}
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}

// applyFilter 过滤、排序并分页
func applyFilter(all []*TaskRecord, filter TaskFilter) []*TaskRecord {
	result := make([]*TaskRecord, 0, len(all))
	for _, task := range all {
		if matchesFilter(task, filter) {
			result = append(result, task)
		}
	}
	sortTasks(result, filter.OrderBy, filter.OrderDesc)
	return paginate(result, filter.Offset, filter.Limit)
}

// recoverable 返回顶层未结束任务, 按创建时间从旧到新.
func recoverable(all []*TaskRecord) []*TaskRecord {
	return applyFilter(all, TaskFilter{
		Status:   []TaskStatus{TaskStatusPending, TaskStatusRunning},
		RootOnly: true,
	})
}

// expired 判断终态任务是否早于 cutoff
func expired(task *TaskRecord, cutoff time.Time) bool {
	if !task.Status.IsTerminal() {
		return false
	}
	checkTime := task.UpdatedAt
	if task.CompletedAt != nil {
		checkTime = *task.CompletedAt
	}
	return checkTime.Before(cutoff)
}

// computeStats 统计任务集合
func computeStats(all []*TaskRecord, now time.Time) *TaskStoreStats {
	stats := &TaskStoreStats{
		StatusCounts: make(map[TaskStatus]int64),
		TypeCounts:   make(map[string]int64),
	}

	var oldestPending time.Time
	for _, task := range all {
		stats.TotalTasks++
		stats.StatusCounts[task.Status]++
		if task.Type != "" {
			stats.TypeCounts[task.Type]++
		}
		if task.Status == TaskStatusPending {
			if oldestPending.IsZero() || task.CreatedAt.Before(oldestPending) {
				oldestPending = task.CreatedAt
			}
		}
	}

	if !oldestPending.IsZero() {
		stats.OldestPendingAge = now.Sub(oldestPending)
	}
	return stats
}

// runCleanupLoop 周期性调用 cleanup 直到 stopCh 关闭
func runCleanupLoop(interval time.Duration, stopCh <-chan struct{}, cleanup func()) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			cleanup()
		}
	}
}
