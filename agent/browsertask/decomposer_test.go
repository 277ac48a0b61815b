package browsertask

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyun172/CS-LLM-house-sub001/testutil/mocks"
)

const decomposeMarker = "拆分为 2 到 3 个连贯的子任务"

func longTask(n int) *Task {
	steps := make([]string, n)
	steps[0] = `搜索"x"`
	for i := 1; i < n; i++ {
		steps[i] = fmt.Sprintf("分析第 %d 个页面内容", i)
	}
	return NewTask("长任务", steps, TaskTypeMultiStep)
}

func TestDecomposer_ShouldDecompose(t *testing.T) {
	d := NewDecomposer(nil, 5, 0, nil)

	assert.False(t, d.ShouldDecompose(nil))
	assert.False(t, d.ShouldDecompose(longTask(5)))
	assert.True(t, d.ShouldDecompose(longTask(6)))

	started := longTask(6)
	started.CurrentStep = 1
	assert.False(t, d.ShouldDecompose(started))

	split := longTask(6)
	split.Subtasks = []*Task{NewTask("a", []string{"x"}, ""), NewTask("b", []string{"y"}, "")}
	assert.False(t, d.ShouldDecompose(split))

	done := longTask(6)
	done.complete()
	assert.False(t, d.ShouldDecompose(done))

	assert.True(t, NewDecomposer(nil, 0, 0, nil).ShouldDecompose(longTask(6)))
}

func TestDecomposer_Decompose(t *testing.T) {
	oracle := mocks.NewMockOracle().On(decomposeMarker, `{"subtasks": [
		{"description": "找到资料", "steps": ["搜索\"x\"", "点击第一条结果"]},
		{"description": "整理资料", "steps": ["分析页面内容", "总结页面内容"]}
	]}`)
	task := longTask(6)

	got := NewDecomposer(oracle, 5, 0, nil).Decompose(context.Background(), task, "gpt-4o")

	assert.Same(t, task, got)
	require.Len(t, task.Subtasks, 2)
	assert.Equal(t, "找到资料", task.Subtasks[0].Description)
	assert.Equal(t, []string{`搜索"x"`, "点击第一条结果"}, task.Subtasks[0].Steps)
	for _, child := range task.Subtasks {
		assert.Equal(t, task.ID, child.ParentTaskID)
		assert.Equal(t, TaskTypeMultiStep, child.TaskType)
	}
	assert.Len(t, task.Steps, 6)
	assert.Equal(t, "gpt-4o", oracle.Calls()[0].ModelHint)
}

func TestDecomposer_CapsSubtasks(t *testing.T) {
	oracle := mocks.NewMockOracle().WithDefault(`{"subtasks": [
		{"description": "1", "steps": ["a"]},
		{"description": "2", "steps": ["b"]},
		{"description": "", "steps": ["c"]},
		{"description": "4", "steps": ["d"]}
	]}`)
	task := longTask(8)

	NewDecomposer(oracle, 5, 0, nil).Decompose(context.Background(), task, "")
	require.Len(t, task.Subtasks, 3)
	assert.Equal(t, "长任务 (3)", task.Subtasks[2].Description)
}

func TestDecomposer_LeavesTaskUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		oracle *mocks.MockOracle
	}{
		{"invalid json", mocks.NewMockOracle().WithDefault("无法拆分")},
		{"single subtask", mocks.NewMockOracle().WithDefault(`{"subtasks": [{"description": "all", "steps": ["a", "b"]}]}`)},
		{"empty steps", mocks.NewMockOracle().WithDefault(`{"subtasks": [{"description": "a", "steps": []}, {"description": "b", "steps": [" "]}]}`)},
		{"oracle error", mocks.NewMockOracle().WithError(errors.New("rate limited"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := longTask(7)
			steps := append([]string(nil), task.Steps...)

			got := NewDecomposer(tt.oracle, 5, 0, nil).Decompose(context.Background(), task, "")
			assert.Same(t, task, got)
			assert.Empty(t, task.Subtasks)
			assert.Equal(t, steps, task.Steps)
		})
	}
}

func TestDecomposer_BelowThresholdSkipsOracle(t *testing.T) {
	oracle := mocks.NewMockOracle().WithDefault(`{"subtasks": []}`)
	NewDecomposer(oracle, 5, 0, nil).Decompose(context.Background(), longTask(3), "")
	assert.Zero(t, oracle.CallCount())
}

func TestDecomposer_Integrate(t *testing.T) {
	parent := longTask(6)
	a := NewTask("a", []string{"x"}, "")
	a.Result = "甲"
	a.complete()
	b := NewTask("b", []string{"y"}, "")
	b.fail("broken")
	c := NewTask("c", []string{"z"}, "")
	c.Result = "丙"
	c.complete()
	parent.Subtasks = []*Task{a, b, c}

	oracle := mocks.NewMockOracle().On("各个子任务的执行结果", "甲和丙的整合")
	assert.Equal(t, "甲和丙的整合", NewDecomposer(oracle, 5, 0, nil).Integrate(context.Background(), parent, ""))
	prompt := oracle.Calls()[0].Prompt
	assert.Contains(t, prompt, "子任务 1:\n甲")
	assert.Contains(t, prompt, "子任务 2:\n丙")

	failing := mocks.NewMockOracle().WithError(errors.New("down"))
	assert.Equal(t, "甲\n\n丙", NewDecomposer(failing, 5, 0, nil).Integrate(context.Background(), parent, ""))
	assert.Equal(t, "甲\n\n丙", NewDecomposer(nil, 5, 0, nil).Integrate(context.Background(), parent, ""))
}
