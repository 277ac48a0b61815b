package browsertask

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/persistence"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
	"github.com/xiaoyun172/CS-LLM-house-sub001/testutil"
	"github.com/xiaoyun172/CS-LLM-house-sub001/testutil/mocks"
	"github.com/xiaoyun172/CS-LLM-house-sub001/types"
)

const (
	articleURL      = "https://ai.example.com/report"
	firstResultLink = "#content_left .result:nth-child(1) h3 a"
)

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxRetries: 3, RetryDelay: time.Millisecond, MaxRecoveries: 2}
}

func newTestExecutor(oracle llm.Oracle, page browser.PageView, store persistence.TaskStore) *Executor {
	actions := browser.NewActionExecutor(page, nil, browser.ActionExecutorConfig{}, nil, zap.NewNop())
	return NewExecutor(oracle, NewTranslator(oracle, "", 0, nil), actions, testExecutorConfig(), store, nil, zap.NewNop())
}

// searchSite 注册一个百度结果页, 第一条结果指向 articleURL
func searchSite(query string) *mocks.FakePageView {
	return mocks.NewFakePageView().
		WithPage(browser.EngineBaidu.SearchURL(query), &mocks.FakePage{
			Title: query + "_百度搜索",
			Text:  "1. 人工智能最新进展报告 2. 大模型年度回顾 3. AI 芯片动态",
			Queries: map[string][]browser.ElementInfo{
				"#content_left .result h3 a": {{
					Selector: firstResultLink,
					Tag:      "a",
					Text:     "人工智能最新进展报告",
					Href:     articleURL,
					Visible:  true,
				}},
				"#ok": {{Selector: "#ok", Tag: "button", Text: "确定", Visible: true}},
			},
			Links: map[string]string{firstResultLink: articleURL},
		}).
		WithPage(articleURL, &mocks.FakePage{Title: "报告", Text: "2024 年大模型在推理能力上取得突破"})
}

func TestExecutor_ExampleScenario(t *testing.T) {
	oracle := mocks.NewMockOracle().On("收集到的内容", "人工智能最新进展: 大模型推理能力突破")
	page := searchSite("人工智能最新进展")
	exec := newTestExecutor(oracle, page, nil)

	task := NewCompiler(oracle, nil).Compile(context.Background(), "搜索人工智能最新进展并总结前三个结果", "")
	require.Equal(t, 0, task.CurrentStep)
	require.False(t, task.Completed)

	require.NoError(t, exec.Execute(testutil.TestContext(t), task, ""))

	assert.True(t, task.Completed)
	assert.Empty(t, task.Error)
	assert.Equal(t, 4, task.CurrentStep)
	assert.Equal(t, "人工智能最新进展: 大模型推理能力突破", task.Result)
	assert.Equal(t, StatusCompleted, task.Status())
	assert.InDelta(t, 1.0, task.Progress(), 1e-9)

	require.Len(t, task.History, 4)
	for _, h := range task.History {
		assert.True(t, h.Success, h.Step)
	}
	assert.Equal(t, articleURL, page.CurrentURL())
	assert.Contains(t, task.ExecutionState.SearchResults, "大模型年度回顾")
	assert.Contains(t, task.ExecutionState.PageAnalysis, "推理能力上取得突破")
	assert.Equal(t, "人工智能最新进展", task.ExecutionState.SearchQuery)
}

func TestExecutor_RetryCeiling(t *testing.T) {
	page := searchSite("x")
	exec := newTestExecutor(mocks.NewMockOracle(), page, nil)
	task := NewTask("点一个不存在的按钮", []string{`搜索"x"`, "点击 #missing"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))

	// 1 次尝试 + 3 次重试, 之后恢复失败
	assert.Equal(t, 4, page.CallCount("Click"))
	assert.True(t, task.IsTerminal())
	assert.False(t, task.Completed)
	assert.Contains(t, task.Error, "element not found")
	assert.Equal(t, 1, task.CurrentStep)
	assert.Equal(t, 1, task.RecoveryCount)
	assert.Equal(t, StatusFailed, task.Status())
}

func TestExecutor_RetrySucceedsAfterTransientFailure(t *testing.T) {
	page := searchSite("x").FailOn("Click", errors.New("detached node"), 2)
	oracle := mocks.NewMockOracle().WithDefault("完成")
	exec := newTestExecutor(oracle, page, nil)
	task := NewTask("t", []string{`搜索"x"`, "点击 #ok"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))
	assert.True(t, task.Completed)
	assert.Equal(t, 3, page.CallCount("Click"))
	assert.Zero(t, task.RetryCount)
	assert.Zero(t, task.RecoveryCount)
}

func TestExecutor_RecoveryStrategies(t *testing.T) {
	tests := []struct {
		name      string
		decision  string
		steps     []string
		completed bool
		errPart   string
	}{
		{
			name:      "replace step",
			decision:  `{"strategy": "replace-step", "steps": ["点击 #ok"], "reason": "换一个按钮"}`,
			steps:     []string{`搜索"x"`, "点击 #ok", "分析页面内容"},
			completed: true,
		},
		{
			name:      "skip step",
			decision:  `{"strategy": "skip-step", "reason": "不重要"}`,
			steps:     []string{`搜索"x"`, "点击 #missing", "分析页面内容"},
			completed: true,
		},
		{
			name:      "modify plan",
			decision:  "```json\n{\"strategy\": \"modify_plan\", \"steps\": [\"向下滚动\"]}\n```",
			steps:     []string{`搜索"x"`, "向下滚动"},
			completed: true,
		},
		{
			name:     "abort",
			decision: `{"strategy": "abort", "reason": "页面不存在"}`,
			steps:    []string{`搜索"x"`, "点击 #missing", "分析页面内容"},
			errPart:  "页面不存在",
		},
		{
			name:     "unknown strategy aborts",
			decision: `{"strategy": "pray"}`,
			steps:    []string{`搜索"x"`, "点击 #missing", "分析页面内容"},
			errPart:  "element not found",
		},
		{
			name:     "replace without steps aborts",
			decision: `{"strategy": "replace-step"}`,
			steps:    []string{`搜索"x"`, "点击 #missing", "分析页面内容"},
			errPart:  "element not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := mocks.NewMockOracle().
				On("恢复策略", tt.decision).
				WithDefault("最终结果")
			exec := newTestExecutor(oracle, searchSite("x"), nil)
			task := NewTask("t", []string{`搜索"x"`, "点击 #missing", "分析页面内容"}, TaskTypeMultiStep)

			require.NoError(t, exec.Execute(context.Background(), task, ""))

			assert.Equal(t, tt.steps, task.Steps)
			assert.Equal(t, tt.completed, task.Completed)
			assert.Zero(t, task.RetryCount)
			assert.LessOrEqual(t, task.CurrentStep, len(task.Steps))
			if tt.errPart != "" {
				assert.Contains(t, task.Error, tt.errPart)
			} else {
				assert.Empty(t, task.Error)
				assert.Equal(t, "最终结果", task.Result)
			}
		})
	}
}

func TestExecutor_RecoveryBudget(t *testing.T) {
	oracle := mocks.NewMockOracle().On("恢复策略", `{"strategy": "replace-step", "steps": ["点击 #still-missing"]}`)
	page := searchSite("x")
	exec := newTestExecutor(oracle, page, nil)
	task := NewTask("t", []string{`搜索"x"`, "点击 #missing"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))

	assert.Equal(t, 2, task.RecoveryCount)
	assert.Equal(t, 12, page.CallCount("Click"))
	assert.Equal(t, 2, oracle.CallsContaining("恢复策略"))
	assert.Contains(t, task.Error, "#still-missing")
}

func TestExecutor_UntranslatableStepSkipsRetries(t *testing.T) {
	oracle := mocks.NewMockOracle()
	exec := newTestExecutor(oracle, searchSite("x"), nil)
	task := NewTask("t", []string{`搜索"x"`, "思考人生的意义"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))

	assert.Contains(t, task.Error, "无法翻译步骤")
	failed := 0
	for _, h := range task.History {
		if h.Step == "思考人生的意义" {
			failed++
			assert.False(t, h.Success)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, oracle.CallsContaining("恢复策略"))
}

func TestExecutor_ImplicitGrounding(t *testing.T) {
	page := mocks.NewFakePageView()
	exec := newTestExecutor(nil, page, nil)
	task := NewTask("今天的科技新闻", []string{"分析页面内容"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))

	require.True(t, task.Completed)
	require.Len(t, task.History, 2)
	assert.Equal(t, groundingStepLabel, task.History[0].Step)
	assert.True(t, task.History[0].Success)
	assert.Equal(t, "分析页面内容", task.History[1].Step)
	assert.Equal(t, 1, task.CurrentStep)

	calls := page.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "Navigate "+browser.EngineBaidu.SearchURL("今天的科技新闻"), calls[0])
	assert.NotEmpty(t, task.Result)
}

func TestExecutor_ImplicitGroundingFailureContinues(t *testing.T) {
	page := mocks.NewFakePageView().FailOn("Navigate", errors.New("offline"), 1)
	exec := newTestExecutor(nil, page, nil)
	task := NewTask("今天的科技新闻", []string{"分析页面内容"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.False(t, task.History[0].Success)
	assert.True(t, task.ExecutionState.GroundingDone)
}

func TestExecutor_GroundedFirstStepSkipsImplicitSearch(t *testing.T) {
	page := mocks.NewFakePageView()
	exec := newTestExecutor(nil, page, nil)
	task := NewTask("t", []string{"打开 https://example.com", "分析页面内容"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))
	assert.Equal(t, 1, page.CallCount("Navigate"))
	assert.Len(t, task.History, 2)
}

func TestExecutor_HandledStepKeepsResult(t *testing.T) {
	oracle := mocks.NewMockOracle().On("收集到的网页内容", "摘要")
	exec := newTestExecutor(oracle, searchSite("x"), nil)
	task := NewTask("t", []string{`搜索"x"`, "总结搜索结果"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))
	assert.True(t, task.Completed)
	assert.Equal(t, "摘要", task.Result)
	assert.Equal(t, 1, oracle.CallCount())
}

func TestExecutor_ResultFallsBackToContent(t *testing.T) {
	oracle := mocks.NewMockOracle().WithError(errors.New("down"))
	exec := newTestExecutor(oracle, searchSite("x"), nil)
	task := NewTask("t", []string{`搜索"x"`, "分析搜索结果页面"}, TaskTypeMultiStep)

	require.NoError(t, exec.Execute(context.Background(), task, ""))
	assert.True(t, task.Completed)
	assert.Contains(t, task.Result, "大模型年度回顾")
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	page := searchSite("x")
	exec := newTestExecutor(nil, page, nil)
	task := NewTask("t", []string{`搜索"x"`}, TaskTypeMultiStep)

	err := exec.Execute(testutil.CancelledContext(), task, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, task.IsTerminal())
	assert.Zero(t, task.CurrentStep)
	assert.Zero(t, page.CallCount("Navigate"))
}

// cancellingPage 在第 n 次读取内容时取消 ctx
type cancellingPage struct {
	*mocks.FakePageView
	cancel context.CancelFunc
	after  int
	reads  int
}

func (p *cancellingPage) GetContent(ctx context.Context) (*browser.PageContent, error) {
	p.reads++
	if p.reads == p.after {
		p.cancel()
	}
	return p.FakePageView.GetContent(ctx)
}

func TestExecutor_CancelMidTaskPreservesProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page := &cancellingPage{FakePageView: searchSite("x"), cancel: cancel, after: 2}
	store := persistence.NewMemoryTaskStore(persistence.DefaultStoreConfig(), nil)
	t.Cleanup(func() { _ = store.Close() })

	exec := newTestExecutor(nil, page, store)
	task := NewTask("t", []string{`搜索"x"`, "分析搜索结果页面", "点击 #ok"}, TaskTypeMultiStep)

	err := exec.Execute(ctx, task, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, task.IsTerminal())
	assert.Equal(t, 1, task.CurrentStep)
	assert.NotEmpty(t, task.History)

	rec, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusRunning, rec.Status)
	assert.Equal(t, 1, rec.CurrentStep)
}

func TestExecutor_CancelDuringSummaryKeepsCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oracle := mocks.NewMockOracle().WithHandler(func(string, bool) (string, error) {
		cancel()
		return "", context.Canceled
	})
	exec := newTestExecutor(oracle, searchSite("x"), nil)

	task := NewTask("t", []string{`搜索"x"`, "总结页面内容"}, TaskTypeMultiStep)
	task.CurrentStep = 1
	task.ExecutionState.GroundingDone = true
	task.ExecutionState.fileContent("https://a.test", "页面正文")

	err := exec.Step(ctx, task, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, task.CurrentStep)
	assert.Empty(t, task.Result)
	assert.False(t, task.IsTerminal())
	for _, h := range task.History {
		assert.False(t, h.Success && h.Step == "总结页面内容")
	}
	assert.Equal(t, 1, oracle.CallCount())
}

func TestExecutor_Checkpoints(t *testing.T) {
	store := persistence.NewMemoryTaskStore(persistence.DefaultStoreConfig(), nil)
	t.Cleanup(func() { _ = store.Close() })

	exec := newTestExecutor(mocks.NewMockOracle().WithDefault("结果"), searchSite("x"), store)
	task := NewTask("t", []string{`搜索"x"`, "分析搜索结果页面"}, TaskTypeMultiStep)
	require.NoError(t, exec.Execute(context.Background(), task, ""))

	rec, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusCompleted, rec.Status)
	assert.Equal(t, "结果", rec.Result)
	assert.InDelta(t, 100.0, rec.Progress, 1e-9)

	restored, err := TaskFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, task.Steps, restored.Steps)
	assert.True(t, restored.Completed)
	assert.Len(t, restored.History, 2)
}

func TestExecutor_NilAndTerminalTasks(t *testing.T) {
	page := mocks.NewFakePageView()
	exec := newTestExecutor(nil, page, nil)

	err := exec.Execute(context.Background(), nil, "")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTask))

	done := NewTask("t", []string{`搜索"x"`}, TaskTypeMultiStep)
	done.complete()
	require.NoError(t, exec.Execute(context.Background(), done, ""))

	failed := NewTask("t", []string{`搜索"x"`}, TaskTypeMultiStep)
	failed.fail("boom")
	require.NoError(t, exec.Execute(context.Background(), failed, ""))
	require.NoError(t, exec.Step(context.Background(), failed, ""))

	assert.Empty(t, page.Calls())
}

func TestExecutor_SubtasksRunInOrder(t *testing.T) {
	page := searchSite("x")
	exec := newTestExecutor(nil, page, nil)

	parent := NewTask("parent", []string{"a", "b", "c", "d", "e", "f"}, TaskTypeMultiStep)
	first := NewTask("first", []string{`搜索"x"`, "分析搜索结果页面"}, TaskTypeMultiStep)
	second := NewTask("second", []string{"点击 #missing"}, TaskTypeMultiStep)
	third := NewTask("third", []string{"打开 https://example.com", "分析页面内容"}, TaskTypeMultiStep)
	for _, c := range []*Task{first, second, third} {
		c.ParentTaskID = parent.ID
	}
	parent.Subtasks = []*Task{first, second, third}

	require.NoError(t, exec.Execute(context.Background(), parent, ""))

	assert.True(t, first.Completed)
	assert.NotEmpty(t, second.Error)
	assert.True(t, third.Completed)
	assert.True(t, parent.Completed)
	assert.Contains(t, parent.Result, "content of https://example.com")
	assert.Contains(t, parent.Result, "大模型年度回顾")
	assert.InDelta(t, 1.0, parent.Progress(), 1e-9)
	// 第二个子任务沿用第一个子任务的页面, 不做隐式搜索
	assert.Equal(t, 1, page.CallCount("Navigate "+browser.EngineBaidu.SearchURL("x")))
}

func TestExecutor_AllSubtasksFailed(t *testing.T) {
	exec := newTestExecutor(nil, searchSite("x"), nil)
	parent := NewTask("parent", nil, TaskTypeMultiStep)
	for i := 0; i < 2; i++ {
		child := NewTask("child", []string{`搜索"x"`, "点击 #missing"}, TaskTypeMultiStep)
		child.ParentTaskID = parent.ID
		parent.Subtasks = append(parent.Subtasks, child)
	}

	require.NoError(t, exec.Execute(context.Background(), parent, ""))
	assert.Contains(t, parent.Error, "所有子任务均失败")
	assert.False(t, parent.Completed)
}
