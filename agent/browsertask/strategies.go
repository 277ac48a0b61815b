package browsertask

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/jsonutil"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/tokenizer"
)

// itemPlaceholder 出现在步骤中时按条目替换
const itemPlaceholder = "{item}"

const loopItemsPrompt = `任务: %s

下面是执行基础计划后得到的网页内容。请从中提取任务需要逐个处理的条目, 最多 %d 个, 每个条目是一个简短的名称或关键词。

%s

只输出 JSON 数组, 例如: ["条目1", "条目2"]`

const loopSummaryPrompt = `任务: %s

下面是对每个条目分别执行后的结果, 请合并为一份完整的总结, 直接输出结果文本。

%s`

const conditionalPrompt = `任务: %s

下面是执行基础计划后得到的网页内容。请判断任务中的条件是否成立, 并给出接下来要执行的唯一分支。

%s

只输出 JSON:
{"condition": "对条件的判断", "branch": {"description": "分支任务描述", "steps": ["步骤1", "步骤2"]}}`

const collectPrompt = `任务: %s

请从下面的网页内容中提取任务要求的数据, 以结构化 JSON 输出 (对象或数组), 不要输出其他文字。

%s`

const interactivePrompt = `任务: %s

已执行的步骤:
%s

当前页面内容:
%s

判断任务是否已经完成。如果还需要继续, 给出接下来要执行的具体步骤。

只输出 JSON:
{"continue": true, "steps": ["步骤1"], "reason": "原因"}`

type itemList struct {
	Items []string `json:"items"`
}

type conditionalChoice struct {
	Condition string      `json:"condition"`
	Branch    subtaskPlan `json:"branch"`
}

type continuation struct {
	Continue bool     `json:"continue"`
	Steps    []string `json:"steps"`
	Reason   string   `json:"reason"`
}

func (e *Engine) executeMultiStep(ctx context.Context, task *Task, modelHint string) error {
	e.DecomposeTask(ctx, task, modelHint)
	return e.executor.Execute(ctx, task, modelHint)
}

// executeLoop 先跑一遍基础计划取得条目, 再为每个条目生成子任务
func (e *Engine) executeLoop(ctx context.Context, task *Task, modelHint string) error {
	state := task.ExecutionState.Loop
	if state == nil {
		state = &LoopState{}
		task.ExecutionState.Loop = state
	}

	if len(task.Subtasks) == 0 {
		probe := task.probe()
		if err := e.executor.Execute(ctx, probe, modelHint); err != nil {
			return err
		}
		state.ProbeResult = probe.Result

		items := e.loopItems(ctx, task, probe, modelHint)
		if len(items) == 0 {
			e.logger.Info("no loop items found, adopting probe result", zap.String("task_id", task.ID))
			adopt(task, probe)
			e.executor.checkpoint(ctx, task)
			return nil
		}
		state.Items = items
		task.Subtasks = loopChildren(task, items)
		e.executor.checkpoint(ctx, task)
	}

	var err error
	if e.config.LoopParallelism > 1 && e.pool != nil {
		err = e.runChildrenParallel(ctx, task, modelHint)
	} else {
		err = e.runChildrenSerial(ctx, task, modelHint)
	}
	if err != nil {
		e.executor.checkpoint(ctx, task)
		return err
	}

	e.aggregateLoop(ctx, task, modelHint)
	e.executor.checkpoint(ctx, task)
	return nil
}

func (e *Engine) loopItems(ctx context.Context, task, probe *Task, modelHint string) []string {
	if e.oracle == nil {
		return nil
	}
	content := e.promptContent(probe, modelHint)
	if content == "" {
		return nil
	}
	resp, err := e.oracle.Generate(ctx, fmt.Sprintf(loopItemsPrompt, task.Description, e.config.MaxLoopItems, content), nil, modelHint)
	if err != nil {
		e.logger.Warn("loop item extraction failed", zap.Error(err))
		return nil
	}

	items, err := jsonutil.Extract[[]string](resp)
	if err != nil {
		list, lerr := jsonutil.Extract[itemList](resp)
		if lerr != nil {
			e.logger.Warn("unparseable loop items", zap.Error(err))
			return nil
		}
		items = list.Items
	}

	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		it = unquote(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
		if len(out) == e.config.MaxLoopItems {
			break
		}
	}
	return out
}

// loopChildren 按条目实例化步骤模板
func loopChildren(parent *Task, items []string) []*Task {
	children := make([]*Task, 0, len(items))
	for _, item := range items {
		child := NewTask(fmt.Sprintf("%s: %s", parent.Description, item), contextualize(parent.Steps, item), TaskTypeMultiStep)
		child.ParentTaskID = parent.ID
		children = append(children, child)
	}
	return children
}

// contextualize 替换 {item} 占位符. 没有占位符时把第一个搜索或打开步骤换成对条目的搜索.
func contextualize(steps []string, item string) []string {
	out := make([]string, 0, len(steps)+1)
	templated := false
	for _, s := range steps {
		if strings.Contains(s, itemPlaceholder) {
			templated = true
		}
		out = append(out, strings.ReplaceAll(s, itemPlaceholder, item))
	}
	if templated {
		return out
	}
	for i, s := range out {
		if isGroundingStep(s) {
			out[i] = searchStep(item)
			return out
		}
	}
	return append([]string{searchStep(item)}, out...)
}

func (e *Engine) runChildrenSerial(ctx context.Context, parent *Task, modelHint string) error {
	for _, child := range parent.Subtasks {
		if child.IsTerminal() {
			continue
		}
		if err := e.executor.Execute(ctx, child, modelHint); err != nil {
			return err
		}
	}
	return nil
}

// runChildrenParallel 每个 worker 从池中借一个页面视图, 子任务之间不共享页面
func (e *Engine) runChildrenParallel(ctx context.Context, parent *Task, modelHint string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.LoopParallelism)

	for _, child := range parent.Subtasks {
		if child.IsTerminal() {
			continue
		}
		g.Go(func() error {
			page, err := e.pool.Acquire(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				child.fail(fmt.Sprintf("无法获取页面视图: %v", err))
				return nil
			}
			defer e.pool.Release(page)
			return e.newExecutor(page).Execute(gctx, child, modelHint)
		})
	}
	return g.Wait()
}

// aggregateLoop 所有子任务终态后合并结果
func (e *Engine) aggregateLoop(ctx context.Context, task *Task, modelHint string) {
	var errs []string
	var b strings.Builder
	for _, child := range task.Subtasks {
		if !child.IsTerminal() {
			return
		}
		if child.Error != "" {
			errs = append(errs, child.Error)
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", child.Description, child.Result)
	}
	if len(errs) == len(task.Subtasks) {
		task.fail("所有条目均执行失败: " + strings.Join(errs, "; "))
		return
	}

	joined := strings.TrimSpace(b.String())
	task.Result = joined
	if e.oracle != nil {
		content := tokenizer.TruncateText(tokenizer.ForModel(modelHint), joined, e.config.Executor.ContentTokens)
		resp, err := e.oracle.Generate(ctx, fmt.Sprintf(loopSummaryPrompt, task.Description, content), nil, modelHint)
		if err == nil && strings.TrimSpace(resp) != "" {
			task.Result = strings.TrimSpace(resp)
		} else {
			e.logger.Debug("loop summary failed, concatenating results", zap.Error(err))
		}
	}
	task.complete()
}

// executeConditional 先跑基础计划, 再由 LLM 选择唯一的后续分支
func (e *Engine) executeConditional(ctx context.Context, task *Task, modelHint string) error {
	if len(task.Subtasks) == 0 {
		probe := task.probe()
		if err := e.executor.Execute(ctx, probe, modelHint); err != nil {
			return err
		}
		state := &ConditionalState{ProbeResult: probe.Result}
		task.ExecutionState.Conditional = state

		choice, ok := e.chooseBranch(ctx, task, probe, modelHint)
		if !ok {
			e.logger.Info("no branch chosen, adopting probe result", zap.String("task_id", task.ID))
			adopt(task, probe)
			e.executor.checkpoint(ctx, task)
			return nil
		}
		state.Condition = choice.Condition

		desc := strings.TrimSpace(choice.Branch.Description)
		if desc == "" {
			desc = task.Description
		}
		branch := NewTask(desc, choice.Branch.Steps, TaskTypeMultiStep)
		branch.ParentTaskID = task.ID
		branch.ExecutionState.GroundingDone = true
		task.Subtasks = []*Task{branch}
		e.executor.checkpoint(ctx, task)
	}

	branch := task.Subtasks[0]
	if err := e.executor.Execute(ctx, branch, modelHint); err != nil {
		e.executor.checkpoint(ctx, task)
		return err
	}
	adopt(task, branch)
	e.executor.checkpoint(ctx, task)
	return nil
}

func (e *Engine) chooseBranch(ctx context.Context, task, probe *Task, modelHint string) (conditionalChoice, bool) {
	if e.oracle == nil {
		return conditionalChoice{}, false
	}
	resp, err := e.oracle.Generate(ctx, fmt.Sprintf(conditionalPrompt, task.Description, e.promptContent(probe, modelHint)), nil, modelHint)
	if err != nil {
		e.logger.Warn("branch selection failed", zap.Error(err))
		return conditionalChoice{}, false
	}
	choice, err := jsonutil.Extract[conditionalChoice](resp)
	if err != nil {
		e.logger.Warn("unparseable branch selection", zap.Error(err))
		return conditionalChoice{}, false
	}
	choice.Branch.Steps = cleanSteps(choice.Branch.Steps)
	return choice, len(choice.Branch.Steps) > 0
}

// executeDataCollection 执行基础计划后抽取结构化数据. 抽取失败不影响任务状态.
func (e *Engine) executeDataCollection(ctx context.Context, task *Task, modelHint string) error {
	if err := e.executeMultiStep(ctx, task, modelHint); err != nil {
		return err
	}
	if !task.Completed || e.oracle == nil {
		return nil
	}

	content := e.promptContent(task, modelHint)
	resp, err := e.oracle.Generate(ctx, fmt.Sprintf(collectPrompt, task.Description, content), nil, modelHint)
	if err != nil {
		e.logger.Warn("data extraction failed", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}
	data, err := jsonutil.Extract[any](resp)
	if err != nil {
		e.logger.Warn("unparseable collected data", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}
	switch data.(type) {
	case map[string]any, []any:
	default:
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	task.CollectedData = raw
	e.executor.checkpoint(ctx, task)
	return nil
}

// executeInteractive 计划走完后询问是否继续, 轮数与步骤总数都有上限
func (e *Engine) executeInteractive(ctx context.Context, task *Task, modelHint string) error {
	return e.executor.run(ctx, task, modelHint, e.extendInteractive)
}

func (e *Engine) extendInteractive(ctx context.Context, task *Task, modelHint string) bool {
	state := task.ExecutionState.Interactive
	if state == nil {
		state = &InteractiveState{}
		task.ExecutionState.Interactive = state
	}
	if e.oracle == nil || state.Rounds >= e.config.MaxInteractiveRounds || len(task.Steps) >= e.config.MaxInteractiveSteps {
		return false
	}
	state.Rounds++

	prompt := fmt.Sprintf(interactivePrompt, task.Description, formatSteps(task.Steps), e.promptContent(task, modelHint))
	resp, err := e.oracle.Generate(ctx, prompt, nil, modelHint)
	if err != nil {
		e.logger.Warn("continuation request failed", zap.Error(err))
		return false
	}
	next, err := jsonutil.Extract[continuation](resp)
	if err != nil {
		e.logger.Warn("unparseable continuation", zap.Error(err))
		return false
	}
	steps := cleanSteps(next.Steps)
	if !next.Continue || len(steps) == 0 {
		return false
	}
	if room := e.config.MaxInteractiveSteps - len(task.Steps); len(steps) > room {
		steps = steps[:room]
	}
	task.Steps = append(task.Steps, steps...)
	task.appendHistory("interactive:continue", next.Reason, true)
	e.logger.Debug("interactive plan extended",
		zap.String("task_id", task.ID),
		zap.Int("round", state.Rounds),
		zap.Int("added", len(steps)))
	return true
}

// promptContent 返回放入提示词的任务内容, 按 token 预算截断
func (e *Engine) promptContent(task *Task, modelHint string) string {
	sections := task.ExecutionState.gathered()
	if task.Result != "" {
		sections = append([]string{"结果:\n" + task.Result}, sections...)
	}
	return tokenizer.TruncateText(tokenizer.ForModel(modelHint), strings.Join(sections, "\n\n"), e.config.Executor.ContentTokens)
}

// adopt 采用另一个任务的结果作为本任务的终态
func adopt(task, from *Task) {
	if from.Error != "" && !from.Completed {
		task.Result = from.Result
		task.fail(from.Error)
		return
	}
	task.Result = from.Result
	task.complete()
}
