package browsertask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/persistence"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/metrics"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/telemetry"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/retry"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/tokenizer"
	"github.com/xiaoyun172/CS-LLM-house-sub001/types"
)

// 步骤结果, 用作指标标签
const (
	stepSucceeded = "success"
	stepHandled   = "handled"
	stepRetried   = "retry"
	stepRecovered = "recovered"
	stepFailed    = "failed"
	stepGrounding = "grounding"
)

// groundingStepLabel 隐式搜索在历史中的步骤名
const groundingStepLabel = "implicit-search"

// ExecutorConfig 任务执行器配置
type ExecutorConfig struct {
	MaxRetries    int           // 单步重试上限
	RetryDelay    time.Duration // 固定重试间隔
	MaxRecoveries int           // 每个任务的恢复次数上限
	ContentTokens int           // 合成结果时内容的 token 预算
}

// DefaultExecutorConfig 返回默认配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:    3,
		RetryDelay:    500 * time.Millisecond,
		MaxRecoveries: 2,
		ContentTokens: defaultContentTokens,
	}
}

// extender 在计划走完时被调用, 返回 true 表示追加了新步骤
type extender func(ctx context.Context, task *Task, modelHint string) bool

// integrator 把子任务结果合成为父任务结果
type integrator func(ctx context.Context, parent *Task, modelHint string) string

// Executor 逐步驱动任务: 翻译, 执行, 重试, 恢复.
// 一个 Executor 只操作一个页面视图, 不可并发执行多个任务.
type Executor struct {
	oracle     llm.Oracle
	translator *Translator
	actions    *browser.ActionExecutor
	recovery   *Recovery
	retryer    *retry.Retryer
	store      persistence.TaskStore
	integrate  integrator
	config     ExecutorConfig
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewExecutor 创建执行器. store 可为 nil, 此时不保存检查点.
func NewExecutor(oracle llm.Oracle, translator *Translator, actions *browser.ActionExecutor, config ExecutorConfig, store persistence.TaskStore, collector *metrics.Collector, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultExecutorConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.MaxRecoveries < 0 {
		config.MaxRecoveries = 0
	}
	if config.ContentTokens <= 0 {
		config.ContentTokens = defaults.ContentTokens
	}
	logger = logger.With(zap.String("component", "task_executor"))

	return &Executor{
		oracle:     oracle,
		translator: translator,
		actions:    actions,
		recovery:   NewRecovery(oracle, logger),
		retryer:    retry.New(retry.FixedPolicy(config.MaxRetries, config.RetryDelay), logger),
		store:      store,
		config:     config,
		collector:  collector,
		logger:     logger,
	}
}

// Execute 执行任务直到终态.
// 只有 ctx 取消与 nil 任务会返回 error, 其他失败写入 task.Error.
// 取消时任务保持非终态, 已完成的进度保留.
func (e *Executor) Execute(ctx context.Context, task *Task, modelHint string) error {
	return e.run(ctx, task, modelHint, nil)
}

func (e *Executor) run(ctx context.Context, task *Task, modelHint string, ext extender) (err error) {
	if task == nil {
		return types.NewError(types.ErrInvalidTask, "task is nil")
	}
	if task.IsTerminal() {
		return nil
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "browsertask.execute",
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.TaskType)),
		attribute.Int("task.steps", len(task.Steps)))
	defer func() {
		telemetry.EndSpan(span, err)
		if task.IsTerminal() {
			e.collector.RecordTask(string(task.TaskType), string(task.Status()), time.Since(start))
		}
	}()

	e.logger.Info("executing task",
		zap.String("task_id", task.ID),
		zap.String("description", task.Description),
		zap.Int("steps", len(task.Steps)))

	if len(task.Subtasks) > 0 {
		return e.runChildren(ctx, task, modelHint)
	}

	for !task.IsTerminal() {
		if !task.HasRemainingSteps() {
			if ext != nil && ext(ctx, task, modelHint) {
				continue
			}
			if err := ctx.Err(); err != nil {
				e.checkpoint(ctx, task)
				return err
			}
			e.finish(ctx, task, modelHint)
			break
		}
		if err := e.Step(ctx, task, modelHint); err != nil {
			return err
		}
	}

	e.logger.Info("task finished",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status())),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Step 执行当前步骤, 包括重试与恢复. 计划已走完时不做任何事.
func (e *Executor) Step(ctx context.Context, task *Task, modelHint string) (err error) {
	if task == nil {
		return types.NewError(types.ErrInvalidTask, "task is nil")
	}
	if task.IsTerminal() || !task.HasRemainingSteps() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if task.CurrentStep == 0 && !task.ExecutionState.GroundingDone {
		if err := e.ground(ctx, task); err != nil {
			return err
		}
	}

	step := task.CurrentStepText()
	ctx, span := telemetry.StartSpan(ctx, "browsertask.step",
		attribute.String("task.id", task.ID),
		attribute.Int("step.index", task.CurrentStep),
		attribute.String("step.text", step))
	defer func() { telemetry.EndSpan(span, err) }()

	var untranslatable bool
	outcome, attemptErr := retry.Do(ctx, e.retryer, func(attempt int) (string, error) {
		task.RetryCount = attempt
		if attempt > 0 {
			e.collector.RecordStep(stepRetried)
		}
		outcome, err := e.attempt(ctx, task, step, modelHint)
		var terr *types.Error
		if errors.As(err, &terr) && terr.Code == types.ErrTranslationFailed {
			untranslatable = true
			return "", retry.Permanent(err)
		}
		return outcome, err
	})

	if attemptErr == nil {
		task.RetryCount = 0
		task.CurrentStep++
		e.checkpoint(ctx, task)
		e.logger.Debug("step completed",
			zap.String("task_id", task.ID),
			zap.String("step", step),
			zap.String("outcome", outcome))
		return nil
	}

	// 取消导致的失败不计入重试与恢复
	if cerr := ctx.Err(); cerr != nil {
		e.checkpoint(ctx, task)
		return cerr
	}

	errMsg := attemptErr.Error()
	var exhausted *retry.ExhaustedError
	if errors.As(attemptErr, &exhausted) {
		errMsg = exhausted.Err.Error()
	}
	if !untranslatable {
		task.RetryCount = e.config.MaxRetries
	}
	e.recover(ctx, task, step, errMsg, modelHint)
	e.checkpoint(ctx, task)
	return nil
}

// attempt 执行一次步骤. Handled 翻译直接写入结果.
func (e *Executor) attempt(ctx context.Context, task *Task, step, modelHint string) (string, error) {
	state := &task.ExecutionState
	page := &browser.PageContent{URL: state.LastURL, Text: state.LastContent}

	tr := e.translator.Translate(ctx, step, page, modelHint, task)
	if tr == nil {
		task.appendHistory(step, "无法翻译为浏览器动作", false)
		return "", types.Errorf(types.ErrTranslationFailed, "无法翻译步骤: %s", step)
	}

	if tr.Handled {
		// 取消时模型调用失败会回退到原始内容, 不能当作步骤结果
		if err := ctx.Err(); err != nil {
			return "", err
		}
		task.Result = tr.Result
		state.SetNote("last_result", tr.Result)
		task.appendHistory(step, truncateRunes(tr.Result, 200), true)
		e.collector.RecordStep(stepHandled)
		return tr.Result, nil
	}

	res := e.actions.Execute(ctx, tr.Action)
	if !res.Success {
		task.appendHistory(step, res.Error, false)
		code := types.ErrActionFailed
		if res.Kind == browser.KindVisualInteraction {
			code = types.ErrResolutionFailed
		}
		return "", types.NewError(code, res.Error)
	}

	outcome := browser.Describe(tr.Action)
	if res.Content != nil {
		state.fileContent(res.Content.URL, res.Content.Text)
		outcome = fmt.Sprintf("%s → %s", outcome, res.Content.URL)
	}
	task.appendHistory(step, outcome, true)
	e.collector.RecordStep(stepSucceeded)
	return outcome, nil
}

// ground 在首步不是搜索或打开网址时先用任务描述搜索一次.
// 子任务只在页面为空白时补搜索, 否则沿用父任务已打开的页面.
func (e *Executor) ground(ctx context.Context, task *Task) error {
	state := &task.ExecutionState
	if len(task.Steps) > 0 && isGroundingStep(task.Steps[0]) {
		state.GroundingDone = true
		return nil
	}
	if task.ParentTaskID != "" && !e.pageBlank(ctx) {
		state.GroundingDone = true
		return nil
	}

	action := browser.SearchAction{Query: task.Description}
	res := e.actions.Execute(ctx, action)
	if err := ctx.Err(); err != nil {
		return err
	}

	state.GroundingDone = true
	state.SearchQuery = task.Description
	if res.Success {
		if res.Content != nil {
			state.AnalysisTarget = TargetSearchResults
			state.fileContent(res.Content.URL, res.Content.Text)
		}
		task.appendHistory(groundingStepLabel, browser.Describe(action), true)
	} else {
		// 失败不终止任务, 继续执行原计划
		task.appendHistory(groundingStepLabel, res.Error, false)
		e.logger.Warn("implicit search failed",
			zap.String("task_id", task.ID),
			zap.String("error", res.Error))
	}
	e.collector.RecordStep(stepGrounding)
	return nil
}

func (e *Executor) pageBlank(ctx context.Context) bool {
	content, err := e.actions.Page().GetContent(ctx)
	if err != nil || content == nil {
		return true
	}
	return content.URL == "" || content.URL == "about:blank"
}

// recover 在重试耗尽或无法翻译时调用. 恢复次数超过上限直接失败.
func (e *Executor) recover(ctx context.Context, task *Task, step, errMsg, modelHint string) {
	if task.RecoveryCount >= e.config.MaxRecoveries {
		e.logger.Warn("recovery budget exhausted",
			zap.String("task_id", task.ID),
			zap.String("step", step),
			zap.Int("recoveries", task.RecoveryCount))
		task.fail(fmt.Sprintf("步骤 %q 失败: %s", step, errMsg))
		e.collector.RecordStep(stepFailed)
		return
	}
	task.RecoveryCount++

	decision := e.recovery.Decide(ctx, task, step, errMsg, modelHint)
	e.logger.Info("applying recovery",
		zap.String("task_id", task.ID),
		zap.String("step", step),
		zap.String("strategy", string(decision.Strategy)),
		zap.Strings("steps", decision.Steps))
	e.collector.RecordRecovery(string(decision.Strategy))

	decision.Apply(task, fmt.Sprintf("步骤 %q 失败: %s", step, errMsg))
	if task.IsTerminal() {
		e.collector.RecordStep(stepFailed)
	} else {
		e.collector.RecordStep(stepRecovered)
	}
}

// runChildren 按顺序执行子任务, 全部终态后父任务结束
func (e *Executor) runChildren(ctx context.Context, parent *Task, modelHint string) error {
	for _, child := range parent.Subtasks {
		if child.IsTerminal() {
			continue
		}
		if err := e.run(ctx, child, modelHint, nil); err != nil {
			e.checkpoint(ctx, parent)
			return err
		}
		parent.UpdatedAt = time.Now()
		e.checkpoint(ctx, parent)
	}
	e.settleParent(ctx, parent, modelHint)
	e.checkpoint(ctx, parent)
	return nil
}

// settleParent 所有子任务失败时父任务失败, 否则合成子任务结果
func (e *Executor) settleParent(ctx context.Context, parent *Task, modelHint string) {
	var errs []string
	for _, child := range parent.Subtasks {
		if !child.IsTerminal() {
			return
		}
		if child.Error != "" {
			errs = append(errs, child.Error)
		}
	}
	if len(errs) == len(parent.Subtasks) {
		parent.fail("所有子任务均失败: " + strings.Join(errs, "; "))
		return
	}
	if e.integrate != nil {
		parent.Result = e.integrate(ctx, parent, modelHint)
	}
	if strings.TrimSpace(parent.Result) == "" {
		parent.Result = strings.Join(parent.ChildResults(), "\n\n")
	}
	parent.complete()
}

const synthesizePrompt = `任务目标: %s

下面是执行过程中从网页收集到的内容。请围绕任务目标给出简洁准确的最终结果, 直接输出结果文本。

%s`

// finish 标记完成并保证结果非空. 已由步骤直接产出的结果保持不变.
func (e *Executor) finish(ctx context.Context, task *Task, modelHint string) {
	if strings.TrimSpace(task.Result) == "" {
		task.Result = e.synthesize(ctx, task, modelHint)
	}
	task.complete()
	e.checkpoint(ctx, task)
}

func (e *Executor) synthesize(ctx context.Context, task *Task, modelHint string) string {
	sections := task.ExecutionState.gathered()
	if len(sections) == 0 {
		return fmt.Sprintf("任务已完成: %s", task.Description)
	}
	content := tokenizer.TruncateText(tokenizer.ForModel(modelHint), strings.Join(sections, "\n\n"), e.config.ContentTokens)

	if e.oracle != nil {
		resp, err := e.oracle.Generate(ctx, fmt.Sprintf(synthesizePrompt, task.Description, content), nil, modelHint)
		if err == nil && strings.TrimSpace(resp) != "" {
			return strings.TrimSpace(resp)
		}
		e.logger.Debug("result synthesis failed, using collected content", zap.Error(err))
	}
	return content
}

// checkpoint 保存任务快照. 失败只记录日志, 不影响执行.
func (e *Executor) checkpoint(ctx context.Context, task *Task) {
	if e.store == nil {
		return
	}
	rec, err := task.Record()
	if err != nil {
		e.logger.Warn("encode checkpoint failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if err := e.store.SaveTask(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("save checkpoint failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}
