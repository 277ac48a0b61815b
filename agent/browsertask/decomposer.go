package browsertask

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/jsonutil"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/tokenizer"
)

const (
	defaultDecomposeThreshold = 5
	minSubtasks               = 2
	maxSubtasks               = 3
)

const decomposePrompt = `下面的浏览器自动化任务步骤较多, 请把它拆分为 2 到 3 个连贯的子任务, 每个子任务包含描述和按顺序执行的步骤。
子任务按顺序执行, 后一个子任务可以沿用前一个子任务打开的页面。

任务: %s
步骤:
%s

只输出 JSON:
{"subtasks": [{"description": "子任务描述", "steps": ["步骤1", "步骤2"]}]}`

const integratePrompt = `任务目标: %s

下面是各个子任务的执行结果, 请整合为一个完整的最终结果, 直接输出结果文本。

%s`

type subtaskPlan struct {
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

type decomposition struct {
	Subtasks []subtaskPlan `json:"subtasks"`
}

// Decomposer 把步骤过多的任务拆成顺序执行的子任务
type Decomposer struct {
	oracle        llm.Oracle
	threshold     int
	contentTokens int
	logger        *zap.Logger
}

// NewDecomposer 创建拆分器. threshold<=0 时使用默认值 5.
func NewDecomposer(oracle llm.Oracle, threshold, contentTokens int, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = defaultDecomposeThreshold
	}
	if contentTokens <= 0 {
		contentTokens = defaultContentTokens
	}
	return &Decomposer{
		oracle:        oracle,
		threshold:     threshold,
		contentTokens: contentTokens,
		logger:        logger.With(zap.String("component", "task_decomposer")),
	}
}

// ShouldDecompose 步骤数超过阈值且尚未拆分
func (d *Decomposer) ShouldDecompose(task *Task) bool {
	return task != nil && !task.IsTerminal() && !task.started() &&
		len(task.Subtasks) == 0 && len(task.Steps) > d.threshold
}

// Decompose 就地拆分任务并返回同一个指针. 无法拆分时任务保持不变.
func (d *Decomposer) Decompose(ctx context.Context, task *Task, modelHint string) *Task {
	if !d.ShouldDecompose(task) || d.oracle == nil {
		return task
	}

	resp, err := d.oracle.Generate(ctx, fmt.Sprintf(decomposePrompt, task.Description, formatSteps(task.Steps)), nil, modelHint)
	if err != nil {
		d.logger.Warn("decompose oracle call failed", zap.String("task_id", task.ID), zap.Error(err))
		return task
	}

	plan, err := jsonutil.Extract[decomposition](resp)
	if err != nil {
		d.logger.Warn("unparseable decomposition", zap.String("task_id", task.ID), zap.Error(err))
		return task
	}

	var children []*Task
	for _, sp := range plan.Subtasks {
		steps := cleanSteps(sp.Steps)
		if len(steps) == 0 {
			continue
		}
		desc := strings.TrimSpace(sp.Description)
		if desc == "" {
			desc = fmt.Sprintf("%s (%d)", task.Description, len(children)+1)
		}
		child := NewTask(desc, steps, TaskTypeMultiStep)
		child.ParentTaskID = task.ID
		children = append(children, child)
		if len(children) == maxSubtasks {
			break
		}
	}
	if len(children) < minSubtasks {
		d.logger.Debug("decomposition yielded too few subtasks",
			zap.String("task_id", task.ID),
			zap.Int("subtasks", len(children)))
		return task
	}

	task.Subtasks = children
	d.logger.Info("task decomposed",
		zap.String("task_id", task.ID),
		zap.Int("subtasks", len(children)))
	return task
}

// Integrate 合成子任务结果. LLM 失败时按顺序拼接.
func (d *Decomposer) Integrate(ctx context.Context, parent *Task, modelHint string) string {
	results := parent.ChildResults()
	joined := strings.Join(results, "\n\n")
	if len(results) == 0 || d.oracle == nil {
		return joined
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "子任务 %d:\n%s\n\n", i+1, r)
	}
	content := tokenizer.TruncateText(tokenizer.ForModel(modelHint), b.String(), d.contentTokens)

	resp, err := d.oracle.Generate(ctx, fmt.Sprintf(integratePrompt, parent.Description, content), nil, modelHint)
	if err != nil || strings.TrimSpace(resp) == "" {
		d.logger.Debug("integration failed, concatenating results", zap.Error(err))
		return joined
	}
	return strings.TrimSpace(resp)
}
