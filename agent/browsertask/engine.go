package browsertask

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/persistence"
	"github.com/xiaoyun172/CS-LLM-house-sub001/config"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/metrics"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
)

// Config 引擎配置
type Config struct {
	Executor             ExecutorConfig
	SearchEngine         browser.SearchEngine
	ActionTimeout        time.Duration
	DecomposeThreshold   int
	MaxLoopItems         int
	LoopParallelism      int
	MaxInteractiveSteps  int
	MaxInteractiveRounds int
	TaskTimeout          time.Duration
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() Config {
	return Config{
		Executor:             DefaultExecutorConfig(),
		SearchEngine:         browser.EngineBaidu,
		DecomposeThreshold:   defaultDecomposeThreshold,
		MaxLoopItems:         5,
		LoopParallelism:      1,
		MaxInteractiveSteps:  20,
		MaxInteractiveRounds: 5,
	}
}

// ConfigFrom 从应用配置构建引擎配置, 未设置的字段使用默认值
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	ec := cfg.Engine
	out.Executor = ExecutorConfig{
		MaxRetries:    ec.MaxRetries,
		RetryDelay:    ec.RetryDelay,
		MaxRecoveries: ec.MaxRecoveries,
		ContentTokens: ec.ContentTokenBudget,
	}
	if engine, ok := browser.ParseSearchEngine(cfg.Browser.SearchEngine); ok {
		out.SearchEngine = engine
	}
	out.ActionTimeout = cfg.Browser.ActionTimeout
	if ec.DecomposeThreshold > 0 {
		out.DecomposeThreshold = ec.DecomposeThreshold
	}
	if ec.MaxLoopItems > 0 {
		out.MaxLoopItems = ec.MaxLoopItems
	}
	if ec.LoopParallelism > 0 {
		out.LoopParallelism = ec.LoopParallelism
	}
	if ec.MaxInteractiveSteps > 0 {
		out.MaxInteractiveSteps = ec.MaxInteractiveSteps
	}
	if ec.MaxInteractiveRounds > 0 {
		out.MaxInteractiveRounds = ec.MaxInteractiveRounds
	}
	out.TaskTimeout = ec.TaskTimeout
	return out
}

// withDefaults 用默认值填充未设置的字段
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Executor == (ExecutorConfig{}) {
		c.Executor = d.Executor
	}
	if c.Executor.ContentTokens <= 0 {
		c.Executor.ContentTokens = d.Executor.ContentTokens
	}
	if _, ok := browser.ParseSearchEngine(string(c.SearchEngine)); !ok {
		c.SearchEngine = d.SearchEngine
	}
	if c.DecomposeThreshold <= 0 {
		c.DecomposeThreshold = d.DecomposeThreshold
	}
	if c.MaxLoopItems <= 0 {
		c.MaxLoopItems = d.MaxLoopItems
	}
	if c.LoopParallelism <= 0 {
		c.LoopParallelism = d.LoopParallelism
	}
	if c.MaxInteractiveSteps <= 0 {
		c.MaxInteractiveSteps = d.MaxInteractiveSteps
	}
	if c.MaxInteractiveRounds <= 0 {
		c.MaxInteractiveRounds = d.MaxInteractiveRounds
	}
	return c
}

// Option 配置 Engine
type Option func(*Engine)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCollector 设置指标收集器
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithTaskStore 设置检查点存储
func WithTaskStore(store persistence.TaskStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithPagePool 设置页面视图池, 并行循环时每个 worker 从池中借一个页面
func WithPagePool(pool *browser.BrowserPool) Option {
	return func(e *Engine) { e.pool = pool }
}

// Engine 是对外的任务引擎. 不持有任何任务状态, 任务对象由调用方持有.
type Engine struct {
	oracle     llm.Oracle
	page       browser.PageView
	config     Config
	compiler   *Compiler
	translator *Translator
	decomposer *Decomposer
	executor   *Executor
	locator    browser.VisualLocator
	store      persistence.TaskStore
	pool       *browser.BrowserPool
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewEngine 创建引擎. page 是默认页面视图, 串行执行的所有任务都在它上面进行.
func NewEngine(oracle llm.Oracle, page browser.PageView, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		oracle: oracle,
		page:   page,
		config: cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "browser_engine"))

	e.compiler = NewCompiler(oracle, e.logger)
	e.translator = NewTranslator(oracle, e.config.SearchEngine, e.config.Executor.ContentTokens, e.logger)
	e.decomposer = NewDecomposer(oracle, e.config.DecomposeThreshold, e.config.Executor.ContentTokens, e.logger)
	if oracle != nil {
		e.locator = browser.NewLLMVisionAdapter(oracle, "", e.logger)
	}
	e.executor = e.newExecutor(page)
	return e
}

// newExecutor 为一个页面视图创建独立的执行器
func (e *Engine) newExecutor(page browser.PageView) *Executor {
	actions := browser.NewActionExecutor(page, e.locator, browser.ActionExecutorConfig{
		DefaultEngine: e.config.SearchEngine,
		ActionTimeout: e.config.ActionTimeout,
	}, e.collector, e.logger)
	exec := NewExecutor(e.oracle, e.translator, actions, e.config.Executor, e.store, e.collector, e.logger)
	exec.integrate = e.decomposer.Integrate
	return exec
}

// CompileInstruction 把自然语言指令编译为任务
func (e *Engine) CompileInstruction(ctx context.Context, instruction, modelHint string) *Task {
	return e.compiler.Compile(ctx, instruction, modelHint)
}

// DecomposeTask 拆分步骤过多的任务, 返回同一个任务
func (e *Engine) DecomposeTask(ctx context.Context, task *Task, modelHint string) *Task {
	return e.decomposer.Decompose(ctx, task, modelHint)
}

// ExecuteTask 按步骤执行任务, 不做类型分派
func (e *Engine) ExecuteTask(ctx context.Context, task *Task, modelHint string) error {
	return e.executor.Execute(ctx, task, modelHint)
}

// ExecuteComplexTask 按任务类型选择执行策略
func (e *Engine) ExecuteComplexTask(ctx context.Context, task *Task, modelHint string) error {
	if task == nil {
		return e.executor.Execute(ctx, nil, modelHint)
	}
	if task.IsTerminal() {
		return nil
	}

	e.logger.Info("executing complex task",
		zap.String("task_id", task.ID),
		zap.String("task_type", string(task.TaskType)))

	switch task.TaskType {
	case TaskTypeLoop:
		return e.executeLoop(ctx, task, modelHint)
	case TaskTypeConditional:
		return e.executeConditional(ctx, task, modelHint)
	case TaskTypeDataCollection:
		return e.executeDataCollection(ctx, task, modelHint)
	case TaskTypeInteractive:
		return e.executeInteractive(ctx, task, modelHint)
	default:
		return e.executeMultiStep(ctx, task, modelHint)
	}
}

// Run 编译并执行一条指令. TaskTimeout 大于 0 时限制整个任务的时长.
func (e *Engine) Run(ctx context.Context, instruction, modelHint string) (*Task, error) {
	if e.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TaskTimeout)
		defer cancel()
	}
	task := e.CompileInstruction(ctx, instruction, modelHint)
	if err := e.ExecuteComplexTask(ctx, task, modelHint); err != nil {
		return task, err
	}
	return task, nil
}

// Resume 找回存储中未完成的顶层任务并继续执行
func (e *Engine) Resume(ctx context.Context, modelHint string) ([]*Task, error) {
	if e.store == nil {
		return nil, nil
	}
	records, err := e.store.GetRecoverableTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recoverable tasks: %w", err)
	}

	var tasks []*Task
	for _, rec := range records {
		task, err := TaskFromRecord(rec)
		if err != nil {
			e.logger.Warn("skip unreadable checkpoint", zap.String("task_id", rec.ID), zap.Error(err))
			continue
		}
		e.logger.Info("resuming task",
			zap.String("task_id", task.ID),
			zap.Int("current_step", task.CurrentStep))
		tasks = append(tasks, task)
		if err := e.ExecuteComplexTask(ctx, task, modelHint); err != nil {
			return tasks, err
		}
	}
	return tasks, nil
}
