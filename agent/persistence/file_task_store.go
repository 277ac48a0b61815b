package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileTaskStore是一个基于文件的执行"TaskStore".
// 所有记录缓存在内存中, 每次写操作后整体落盘到 index.json.
type FileTaskStore struct {
	baseDir string
	tasks   map[string]*TaskRecord // in-memory cache
	mu      sync.RWMutex
	closed  bool
	config  StoreConfig
	logger  *zap.Logger
	stopCh  chan struct{}
}

// NewFileTaskStore 新建文件任务存储器, 并装入已有的检查点
func NewFileTaskStore(config StoreConfig, logger *zap.Logger) (*FileTaskStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDir := filepath.Join(config.BaseDir, "tasks")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task store directory: %w", err)
	}

	store := &FileTaskStore{
		baseDir: baseDir,
		tasks:   make(map[string]*TaskRecord),
		config:  config,
		logger:  logger.With(zap.String("component", "file_task_store")),
		stopCh:  make(chan struct{}),
	}

	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load tasks from disk: %w", err)
	}

	if config.Cleanup.Enabled {
		go runCleanupLoop(config.Cleanup.Interval, store.stopCh, store.periodicCleanup)
	}

	return store, nil
}

func (s *FileTaskStore) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

// 从磁盘加载所有任务到内存
func (s *FileTaskStore) loadFromDisk() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var tasks map[string]*TaskRecord
	if err := json.Unmarshal(data, &tasks); err != nil {
		return err
	}
	if tasks != nil {
		s.tasks = tasks
	}
	s.logger.Debug("loaded task checkpoints", zap.Int("count", len(s.tasks)))
	return nil
}

// saveToDisk 原子写: 写入临时文件后重命名
func (s *FileTaskStore) saveToDisk() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return err
	}

	tempPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.indexPath())
}

// Close 落盘并停止清理协程
func (s *FileTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return s.saveToDisk()
}

// Ping checks if the store is healthy
func (s *FileTaskStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveTask 保存任务并落盘
func (s *FileTaskStore) SaveTask(ctx context.Context, task *TaskRecord) error {
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
	return s.saveToDisk()
}

// GetTask retrieves a task by ID
func (s *FileTaskStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
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
func (s *FileTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return applyFilter(s.snapshot(), filter), nil
}

// DeleteTask removes a task from the store
func (s *FileTaskStore) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, taskID)
	return s.saveToDisk()
}

// GetRecoverableTasks retrieves tasks that need to be recovered after restart
func (s *FileTaskStore) GetRecoverableTasks(ctx context.Context) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return recoverable(s.snapshot()), nil
}

// Cleanup removes completed/failed tasks older than the specified duration
func (s *FileTaskStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
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

	if count > 0 {
		if err := s.saveToDisk(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Stats returns statistics about the task store
func (s *FileTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return computeStats(s.snapshot(), time.Now()), nil
}

func (s *FileTaskStore) snapshot() []*TaskRecord {
	all := make([]*TaskRecord, 0, len(s.tasks))
	for _, task := range s.tasks {
		all = append(all, task.Clone())
	}
	return all
}

func (s *FileTaskStore) periodicCleanup() {
	n, err := s.Cleanup(context.Background(), s.config.Cleanup.TaskRetention)
	if err != nil {
		s.logger.Warn("periodic cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("cleaned up finished tasks", zap.Int("count", n))
	}
}

// Ensure FileTaskStore implements TaskStore
var _ TaskStore = (*FileTaskStore)(nil)
