package browsertask

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/jsonutil"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
)

// RecoveryStrategy 重试耗尽后的恢复方式
type RecoveryStrategy string

const (
	RecoveryReplaceStep RecoveryStrategy = "replace-step"
	RecoverySkipStep    RecoveryStrategy = "skip-step"
	RecoveryModifyPlan  RecoveryStrategy = "modify-plan"
	RecoveryAbort       RecoveryStrategy = "abort"
)

var recoveryAliases = map[string]RecoveryStrategy{
	"replacestep": RecoveryReplaceStep,
	"replace":     RecoveryReplaceStep,
	"retrywith":   RecoveryReplaceStep,
	"替换步骤":        RecoveryReplaceStep,
	"替换":          RecoveryReplaceStep,
	"skipstep":    RecoverySkipStep,
	"skip":        RecoverySkipStep,
	"跳过步骤":        RecoverySkipStep,
	"跳过":          RecoverySkipStep,
	"modifyplan":  RecoveryModifyPlan,
	"modify":      RecoveryModifyPlan,
	"replan":      RecoveryModifyPlan,
	"修改计划":        RecoveryModifyPlan,
	"abort":       RecoveryAbort,
	"stop":        RecoveryAbort,
	"fail":        RecoveryAbort,
	"终止":          RecoveryAbort,
	"放弃":          RecoveryAbort,
}

// ParseRecoveryStrategy 宽松解析策略名称
func ParseRecoveryStrategy(s string) (RecoveryStrategy, bool) {
	st, ok := recoveryAliases[normalizeKey(s)]
	return st, ok
}

// Decision 是一次恢复决策
type Decision struct {
	Strategy RecoveryStrategy `json:"strategy"`
	Steps    []string         `json:"steps,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

type rawDecision struct {
	Strategy string   `json:"strategy"`
	Action   string   `json:"action"`
	Steps    []string `json:"steps"`
	NewSteps []string `json:"new_steps"`
	Step     string   `json:"step"`
	Reason   string   `json:"reason"`
}

const recoveryPrompt = `浏览器自动化任务的某个步骤在多次重试后仍然失败。

任务: %s
失败的步骤: %s
错误: %s

已执行的历史:
%s

剩余计划:
%s

请选择一种恢复策略:
- replace-step: 用新的步骤替换失败的步骤
- skip-step: 跳过失败的步骤继续执行
- modify-plan: 用新的步骤替换剩余计划
- abort: 放弃任务

只输出 JSON:
{"strategy": "replace-step", "steps": ["新步骤"], "reason": "原因"}`

// Recovery 请求 LLM 给出恢复决策
type Recovery struct {
	oracle llm.Oracle
	logger *zap.Logger
}

// NewRecovery 创建恢复器
func NewRecovery(oracle llm.Oracle, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{
		oracle: oracle,
		logger: logger.With(zap.String("component", "task_recovery")),
	}
}

// Decide 返回恢复决策. LLM 不可用或输出无法解析时决策为 abort, 原因保留原始错误.
func (r *Recovery) Decide(ctx context.Context, task *Task, failedStep, errMsg, modelHint string) Decision {
	abort := Decision{Strategy: RecoveryAbort, Reason: errMsg}
	if r.oracle == nil {
		return abort
	}

	prompt := fmt.Sprintf(recoveryPrompt, task.Description, failedStep, errMsg, formatHistory(task.History), formatSteps(task.Steps[task.CurrentStep:]))
	resp, err := r.oracle.Generate(ctx, prompt, nil, modelHint)
	if err != nil {
		r.logger.Warn("recovery oracle call failed", zap.Error(err))
		return abort
	}

	raw, err := jsonutil.Extract[rawDecision](resp)
	if err != nil {
		r.logger.Warn("unparseable recovery decision", zap.Error(err))
		return abort
	}

	name := raw.Strategy
	if name == "" {
		name = raw.Action
	}
	strategy, ok := ParseRecoveryStrategy(name)
	if !ok {
		r.logger.Warn("unknown recovery strategy", zap.String("strategy", name))
		return abort
	}

	steps := raw.Steps
	if len(steps) == 0 {
		steps = raw.NewSteps
	}
	if len(steps) == 0 && raw.Step != "" {
		steps = []string{raw.Step}
	}
	steps = cleanSteps(steps)

	// 替换与修改计划必须给出新步骤
	if (strategy == RecoveryReplaceStep || strategy == RecoveryModifyPlan) && len(steps) == 0 {
		r.logger.Warn("recovery decision without steps", zap.String("strategy", string(strategy)))
		return abort
	}

	reason := strings.TrimSpace(raw.Reason)
	if strategy == RecoveryAbort && reason == "" {
		reason = errMsg
	}
	return Decision{Strategy: strategy, Steps: steps, Reason: reason}
}

// Apply 把决策应用到任务上. 游标始终不超过 len(Steps).
func (d Decision) Apply(task *Task, errMsg string) {
	task.RetryCount = 0
	cur := task.CurrentStep

	switch d.Strategy {
	case RecoveryReplaceStep:
		rest := append([]string(nil), task.Steps[cur+1:]...)
		task.Steps = append(append(task.Steps[:cur:cur], d.Steps...), rest...)
	case RecoverySkipStep:
		task.CurrentStep++
	case RecoveryModifyPlan:
		task.Steps = append(task.Steps[:cur:cur], d.Steps...)
	default:
		msg := errMsg
		if d.Reason != "" && !strings.Contains(msg, d.Reason) {
			msg = fmt.Sprintf("%s (%s)", errMsg, d.Reason)
		}
		task.fail(msg)
		return
	}
	if task.CurrentStep > len(task.Steps) {
		task.CurrentStep = len(task.Steps)
	}
	task.appendHistory(fmt.Sprintf("recovery:%s", d.Strategy), d.Reason, true)
}

func formatHistory(history []HistoryEntry) string {
	if len(history) == 0 {
		return "(无)"
	}
	var b strings.Builder
	for _, h := range history {
		mark := "成功"
		if !h.Success {
			mark = "失败"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", mark, h.Step, truncateRunes(h.Outcome, 200))
	}
	return b.String()
}

func formatSteps(steps []string) string {
	if len(steps) == 0 {
		return "(无)"
	}
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
