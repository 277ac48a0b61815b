package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryTaskStore is an in-memory implementation of TaskStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryTaskStore struct {
	tasks  map[string]*TaskRecord
	mu     sync.RWMutex
	closed bool
	config StoreConfig
	logger *zap.Logger
	stopCh chan struct{}
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore(config StoreConfig, logger *zap.Logger) *MemoryTaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &MemoryTaskStore{
		tasks:  make(map[string]*TaskRecord),
		config: config,
		logger: logger.With(zap.String("component", "memory_task_store")),
		stopCh: make(chan struct{}),
	}

	if config.Cleanup.Enabled {
		go runCleanupLoop(config.Cleanup.Interval, store.stopCh, store.periodicCleanup)
	}

	return store
}

// Close closes the store
func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryTaskStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveTask persists a task to the store
func (s *MemoryTaskStore) SaveTask(ctx context.Context, task *TaskRecord) error {
	if task == nil {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	prepareRecord(task, time.Now())
	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask retrieves a task by ID
func (s *MemoryTaskStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return task.Clone(), nil
}

// ListTasks retrieves tasks matching the filter criteria
func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return applyFilter(s.snapshot(), filter), nil
}

// DeleteTask removes a task from the store
func (s *MemoryTaskStore) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

// GetRecoverableTasks retrieves tasks that need to be recovered after restart
func (s *MemoryTaskStore) GetRecoverableTasks(ctx context.Context) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return recoverable(s.snapshot()), nil
}

// Cleanup removes completed/failed tasks older than the specified duration
func (s *MemoryTaskStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for taskID, task := range s.tasks {
		if expired(task, cutoff) {
			delete(s.tasks, taskID)
			count++
		}
	}
	return count, nil
}

// Stats returns statistics about the task store
func (s *MemoryTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return computeStats(s.snapshot(), time.Now()), nil
}

// snapshot 返回所有任务的拷贝, 调用方需持有读锁
func (s *MemoryTaskStore) snapshot() []*TaskRecord {
	all := make([]*TaskRecord, 0, len(s.tasks))
	for _, task := range s.tasks {
		all = append(all, task.Clone())
	}
	return all
}

func (s *MemoryTaskStore) periodicCleanup() {
	n, err := s.Cleanup(context.Background(), s.config.Cleanup.TaskRetention)
	if err != nil {
		s.logger.Warn("periodic cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("cleaned up finished tasks", zap.Int("count", n))
	}
}

// Ensure MemoryTaskStore implements TaskStore
var _ TaskStore = (*MemoryTaskStore)(nil)
