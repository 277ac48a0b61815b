package browsertask

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/persistence"
	"github.com/xiaoyun172/CS-LLM-house-sub001/config"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
	"github.com/xiaoyun172/CS-LLM-house-sub001/testutil"
	"github.com/xiaoyun172/CS-LLM-house-sub001/testutil/mocks"
)

// 各提示词中的固定片段, 用于让 MockOracle 按调用方回复
const (
	markSynthesize  = "收集到的内容"
	markLoopItems   = "逐个处理的条目"
	markLoopSummary = "分别执行后的结果"
	markBranch      = "唯一分支"
	markCollect     = "结构化 JSON"
	markContinue    = "判断任务是否已经完成"
	markIntegrate   = "各个子任务的执行结果"
)

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.Executor = testExecutorConfig()
	return cfg
}

func newTestEngine(oracle llm.Oracle, page browser.PageView, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return NewEngine(oracle, page, testEngineConfig(), opts...)
}

func TestEngine_LoopRunsEveryItem(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markLoopItems, `["苹果", "香蕉", "苹果", "橙子"]`).
		On(markLoopSummary, "三种水果的价格总结").
		On(markSynthesize, "单项结果")
	page := mocks.NewFakePageView()
	engine := newTestEngine(oracle, page)

	task := NewTask("分别查询每种水果的价格", []string{`搜索"水果价格"`, "分析页面内容"}, TaskTypeLoop)
	require.NoError(t, engine.ExecuteComplexTask(testutil.TestContext(t), task, ""))

	assert.True(t, task.Completed)
	assert.Equal(t, "三种水果的价格总结", task.Result)
	assert.Equal(t, []string{"苹果", "香蕉", "橙子"}, task.ExecutionState.Loop.Items)
	require.Len(t, task.Subtasks, 3)
	for i, item := range []string{"苹果", "香蕉", "橙子"} {
		child := task.Subtasks[i]
		assert.True(t, child.Completed, item)
		assert.Equal(t, task.ID, child.ParentTaskID)
		assert.Equal(t, searchStep(item), child.Steps[0])
		assert.Equal(t, 1, page.CallCount("Navigate "+browser.EngineBaidu.SearchURL(item)))
	}
	assert.InDelta(t, 1.0, task.Progress(), 1e-9)
	assert.Equal(t, 1, oracle.CallsContaining(markLoopSummary))

	// 汇总提示词包含每个条目的结果
	for _, c := range oracle.Calls() {
		if strings.Contains(c.Prompt, markLoopSummary) {
			assert.Equal(t, 3, strings.Count(c.Prompt, "单项结果"))
		}
	}
}

func TestEngine_LoopTemplatedSteps(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markLoopItems, `{"items": ["北京", "上海"]}`).
		On(markLoopSummary, "两地天气").
		On(markSynthesize, "ok")
	engine := newTestEngine(oracle, mocks.NewFakePageView())

	task := NewTask("查询每个城市的天气", []string{`搜索"天气预报"`, `搜索"{item} 天气"`, "分析页面内容"}, TaskTypeLoop)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	require.Len(t, task.Subtasks, 2)
	assert.Equal(t, []string{`搜索"天气预报"`, `搜索"北京 天气"`, "分析页面内容"}, task.Subtasks[0].Steps)
	assert.Equal(t, []string{`搜索"天气预报"`, `搜索"上海 天气"`, "分析页面内容"}, task.Subtasks[1].Steps)
	assert.True(t, task.Completed)
}

func TestContextualize(t *testing.T) {
	assert.Equal(t, []string{searchStep("A"), "分析页面内容"},
		contextualize([]string{"打开 example.com", "分析页面内容"}, "A"))
	assert.Equal(t, []string{searchStep("A"), "分析页面内容"},
		contextualize([]string{"分析页面内容"}, "A"))
	assert.Equal(t, []string{"打开 https://a.com/A"},
		contextualize([]string{"打开 https://a.com/{item}"}, "A"))
}

func TestEngine_LoopCapsItems(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markLoopItems, `["a", "b", "c", "d", "e", "f", "g"]`).
		On(markLoopSummary, "done").
		On(markSynthesize, "ok")
	cfg := testEngineConfig()
	cfg.MaxLoopItems = 2
	engine := NewEngine(oracle, mocks.NewFakePageView(), cfg)

	task := NewTask("处理每一个条目", []string{`搜索"x"`}, TaskTypeLoop)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))
	assert.Len(t, task.Subtasks, 2)
	assert.True(t, task.Completed)
}

func TestEngine_LoopWithoutItemsAdoptsProbe(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markLoopItems, "[]").
		On(markSynthesize, "探测结果")
	engine := newTestEngine(oracle, mocks.NewFakePageView())

	task := NewTask("逐个查看", []string{`搜索"x"`, "分析页面内容"}, TaskTypeLoop)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.Empty(t, task.Subtasks)
	assert.Equal(t, "探测结果", task.Result)
	assert.Equal(t, "探测结果", task.ExecutionState.Loop.ProbeResult)
	// 探测不修改原任务的计划与游标
	assert.Equal(t, []string{`搜索"x"`, "分析页面内容"}, task.Steps)
	assert.Zero(t, task.CurrentStep)
}

func TestEngine_LoopAllItemsFail(t *testing.T) {
	page := mocks.NewFakePageView()
	oracle := mocks.NewMockOracle().WithHandler(func(prompt string, _ bool) (string, error) {
		if strings.Contains(prompt, markLoopItems) {
			// 探测结束后站点不可用
			page.FailOn("Navigate", errors.New("offline"), 0)
			return `["a", "b"]`, nil
		}
		return "无法恢复", nil
	})
	engine := newTestEngine(oracle, page)

	task := NewTask("逐个处理", []string{`搜索"x"`}, TaskTypeLoop)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.False(t, task.Completed)
	assert.Contains(t, task.Error, "所有条目均执行失败")
	assert.Contains(t, task.Error, "offline")
	for _, child := range task.Subtasks {
		assert.Equal(t, StatusFailed, child.Status())
	}
}

func TestEngine_LoopParallel(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markLoopItems, `["a", "b", "c", "d"]`).
		On(markLoopSummary, "并行汇总").
		On(markSynthesize, "ok")

	var mu sync.Mutex
	var pages []*mocks.FakePageView
	pool, err := browser.NewBrowserPool(context.Background(), browser.BrowserPoolConfig{MaxSize: 2},
		func(context.Context) (browser.PageView, error) {
			mu.Lock()
			defer mu.Unlock()
			p := mocks.NewFakePageView()
			pages = append(pages, p)
			return p, nil
		}, nil)
	require.NoError(t, err)
	defer pool.Close()

	cfg := testEngineConfig()
	cfg.LoopParallelism = 2
	mainPage := mocks.NewFakePageView()
	engine := NewEngine(oracle, mainPage, cfg, WithPagePool(pool))

	task := NewTask("分别处理每个条目", []string{`搜索"x"`, "分析页面内容"}, TaskTypeLoop)
	require.NoError(t, engine.ExecuteComplexTask(testutil.TestContext(t), task, ""))

	assert.True(t, task.Completed)
	assert.Equal(t, "并行汇总", task.Result)
	require.Len(t, task.Subtasks, 4)
	for _, child := range task.Subtasks {
		assert.True(t, child.Completed)
	}

	// 探测在主页面上执行, 子任务只使用池中的页面
	assert.Equal(t, 1, mainPage.CallCount("Navigate"))
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(pages), 2)
	total := 0
	for _, p := range pages {
		total += p.CallCount("Navigate")
	}
	assert.Equal(t, 4, total)
}

func TestEngine_ConditionalRunsChosenBranch(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markBranch, `{"condition": "找到了相关报告", "branch": {"description": "打开报告", "steps": ["点击第一条结果", "分析页面内容"]}}`).
		On(markSynthesize, "报告摘要")
	page := searchSite("x")
	engine := newTestEngine(oracle, page)

	task := NewTask("如果有相关报告就打开第一条结果", []string{`搜索"x"`}, TaskTypeConditional)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.Equal(t, "报告摘要", task.Result)
	assert.Equal(t, "找到了相关报告", task.ExecutionState.Conditional.Condition)
	require.Len(t, task.Subtasks, 1)
	branch := task.Subtasks[0]
	assert.Equal(t, "打开报告", branch.Description)
	assert.True(t, branch.Completed)
	assert.Equal(t, articleURL, page.CurrentURL())
	// 分支沿用探测留下的页面, 不再做隐式搜索
	assert.Equal(t, 1, page.CallCount("Navigate"))
}

func TestEngine_ConditionalUnparseableAdoptsProbe(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markBranch, "条件无法判断").
		On(markSynthesize, "探测摘要")
	engine := newTestEngine(oracle, searchSite("x"))

	task := NewTask("如果有降价就购买", []string{`搜索"x"`}, TaskTypeConditional)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.Empty(t, task.Subtasks)
	assert.Equal(t, "探测摘要", task.Result)
	assert.Equal(t, "探测摘要", task.ExecutionState.Conditional.ProbeResult)
}

func TestEngine_DataCollection(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"fenced object", "```json\n{\"prices\": [12, 15]}\n```", `{"prices": [12, 15]}`},
		{"array in prose", `结果如下: [{"name": "a"}, {"name": "b"}]`, `[{"name": "a"}, {"name": "b"}]`},
		{"not json", "页面上没有数据", ""},
		{"scalar", "42", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := mocks.NewMockOracle().
				On(markCollect, tt.response).
				On(markSynthesize, "摘要")
			engine := newTestEngine(oracle, searchSite("x"))

			task := NewTask("收集价格数据", []string{`搜索"x"`, "分析页面内容"}, TaskTypeDataCollection)
			require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

			assert.True(t, task.Completed)
			if tt.want == "" {
				assert.Empty(t, task.CollectedData)
				return
			}
			assert.JSONEq(t, tt.want, string(task.CollectedData))
		})
	}
}

func TestEngine_DataCollectionSkipsFailedTask(t *testing.T) {
	oracle := mocks.NewMockOracle().On(markCollect, `{"a": 1}`)
	engine := newTestEngine(oracle, searchSite("x"))

	task := NewTask("收集数据", []string{`搜索"x"`, "点击 #missing"}, TaskTypeDataCollection)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.Equal(t, StatusFailed, task.Status())
	assert.Zero(t, oracle.CallsContaining(markCollect))
	assert.Empty(t, task.CollectedData)
}

func TestEngine_InteractiveStepCap(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markContinue, `{"continue": true, "steps": ["向下滚动", "向下滚动", "向下滚动", "向下滚动", "向下滚动"], "reason": "还没看到底部"}`).
		On(markSynthesize, "浏览完毕")
	page := searchSite("x")
	engine := newTestEngine(oracle, page)

	task := NewTask("一直向下浏览直到页面底部", []string{`搜索"x"`}, TaskTypeInteractive)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.Len(t, task.Steps, 20)
	assert.Equal(t, 20, task.CurrentStep)
	assert.Equal(t, 4, task.ExecutionState.Interactive.Rounds)
	assert.Equal(t, 19, page.CallCount("Scroll"))
	assert.Equal(t, 4, oracle.CallsContaining(markContinue))
}

func TestEngine_InteractiveRoundCap(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markContinue, `{"continue": true, "steps": ["向下滚动", "向下滚动"]}`).
		On(markSynthesize, "ok")
	engine := newTestEngine(oracle, searchSite("x"))

	task := NewTask("持续浏览", []string{`搜索"x"`}, TaskTypeInteractive)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.Equal(t, 5, task.ExecutionState.Interactive.Rounds)
	assert.Len(t, task.Steps, 11)
	assert.LessOrEqual(t, len(task.Steps), 20)
}

func TestEngine_InteractiveStopsWhenDone(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(markContinue, `{"continue": false, "reason": "已完成"}`).
		On(markSynthesize, "ok")
	engine := newTestEngine(oracle, searchSite("x"))

	task := NewTask("持续浏览", []string{`搜索"x"`}, TaskTypeInteractive)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.Len(t, task.Steps, 1)
	assert.Equal(t, 1, task.ExecutionState.Interactive.Rounds)
	assert.Equal(t, "ok", task.Result)
}

func TestEngine_MultiStepDecomposes(t *testing.T) {
	oracle := mocks.NewMockOracle().
		On(decomposeMarker, `{"subtasks": [
			{"description": "搜索资料", "steps": ["搜索\"x\"", "分析搜索结果页面"]},
			{"description": "阅读报告", "steps": ["点击 #ok", "点击第一条结果", "分析页面内容"]}
		]}`).
		On(markIntegrate, "整合后的报告").
		On(markSynthesize, "子任务结果")
	page := searchSite("x")
	engine := newTestEngine(oracle, page)

	task := NewTask("阅读关于 x 的报告", []string{`搜索"x"`, "分析搜索结果页面", "点击 #ok", "点击第一条结果", "分析页面内容", "总结页面内容"}, TaskTypeMultiStep)
	require.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))

	assert.True(t, task.Completed)
	assert.Equal(t, "整合后的报告", task.Result)
	require.Len(t, task.Subtasks, 2)
	for _, child := range task.Subtasks {
		assert.True(t, child.Completed, child.Description)
	}
	assert.Equal(t, articleURL, page.CurrentURL())
	// 第二个子任务沿用已打开的页面
	assert.Equal(t, 1, page.CallCount("Navigate"))
}

func TestEngine_Run(t *testing.T) {
	oracle := mocks.NewMockOracle().On(markSynthesize, "进展总结")
	page := searchSite("人工智能最新进展")
	engine := newTestEngine(oracle, page)

	task, err := engine.Run(context.Background(), "搜索人工智能最新进展并总结前三个结果", "")
	require.NoError(t, err)
	assert.True(t, task.Completed)
	assert.Equal(t, "进展总结", task.Result)
	assert.Equal(t, TaskTypeMultiStep, task.TaskType)
}

func TestEngine_RunTimeout(t *testing.T) {
	cfg := testEngineConfig()
	cfg.TaskTimeout = 20 * time.Millisecond
	cfg.Executor.RetryDelay = time.Minute
	page := mocks.NewFakePageView().FailOn("Navigate", errors.New("slow network"), 0)
	engine := NewEngine(nil, page, cfg)

	// 第一次失败后等待重试时超时
	task, err := engine.Run(context.Background(), "搜索天气", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, task)
	assert.False(t, task.IsTerminal())
}

func TestEngine_ResumeFromCheckpoint(t *testing.T) {
	store := persistence.NewMemoryTaskStore(persistence.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()
	ctx := context.Background()

	task := NewTask("恢复的任务", []string{`搜索"x"`, "分析页面内容"}, TaskTypeMultiStep)
	task.CurrentStep = 1
	task.ExecutionState.GroundingDone = true
	task.appendHistory(`搜索"x"`, "search x", true)
	rec, err := task.Record()
	require.NoError(t, err)
	require.NoError(t, store.SaveTask(ctx, rec))

	done := NewTask("已完成", []string{"a"}, TaskTypeMultiStep)
	done.complete()
	rec, err = done.Record()
	require.NoError(t, err)
	require.NoError(t, store.SaveTask(ctx, rec))

	oracle := mocks.NewMockOracle().On(markSynthesize, "恢复后完成")
	page := searchSite("x")
	engine := newTestEngine(oracle, page, WithTaskStore(store))

	resumed, err := engine.Resume(ctx, "")
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, task.ID, resumed[0].ID)
	assert.True(t, resumed[0].Completed)
	assert.Equal(t, 2, resumed[0].CurrentStep)
	// 已完成的步骤不会重放
	assert.Zero(t, page.CallCount("Navigate"))

	stored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusCompleted, stored.Status)
	assert.Equal(t, "恢复后完成", stored.Result)
}

func TestEngine_ResumeWithoutStore(t *testing.T) {
	tasks, err := newTestEngine(nil, mocks.NewFakePageView()).Resume(context.Background(), "")
	assert.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEngine_NilAndTerminalTasks(t *testing.T) {
	engine := newTestEngine(nil, mocks.NewFakePageView())
	assert.Error(t, engine.ExecuteComplexTask(context.Background(), nil, ""))

	task := NewTask("t", []string{"a"}, TaskTypeLoop)
	task.fail("earlier")
	assert.NoError(t, engine.ExecuteComplexTask(context.Background(), task, ""))
	assert.Equal(t, "earlier", task.Error)
}

func TestConfigFrom(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFrom(nil))

	cfg := config.DefaultConfig()
	cfg.Browser.SearchEngine = "bing"
	cfg.Engine.LoopParallelism = 3
	cfg.Engine.TaskTimeout = time.Minute

	got := ConfigFrom(cfg)
	assert.Equal(t, browser.EngineBing, got.SearchEngine)
	assert.Equal(t, 3, got.Executor.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, got.Executor.RetryDelay)
	assert.Equal(t, 2, got.Executor.MaxRecoveries)
	assert.Equal(t, 3000, got.Executor.ContentTokens)
	assert.Equal(t, 3, got.LoopParallelism)
	assert.Equal(t, 5, got.DecomposeThreshold)
	assert.Equal(t, 20, got.MaxInteractiveSteps)
	assert.Equal(t, 5, got.MaxInteractiveRounds)
	assert.Equal(t, time.Minute, got.TaskTimeout)
	assert.Equal(t, cfg.Browser.ActionTimeout, got.ActionTimeout)
}

func TestConfig_WithDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())

	cfg := Config{SearchEngine: "yahoo", MaxLoopItems: 9}.withDefaults()
	assert.Equal(t, browser.EngineBaidu, cfg.SearchEngine)
	assert.Equal(t, 9, cfg.MaxLoopItems)
	assert.Equal(t, DefaultExecutorConfig(), cfg.Executor)
}
