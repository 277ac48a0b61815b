package browsertask

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/tokenizer"
)

// defaultInputSelector 步骤没有给出输入框时使用
const defaultInputSelector = `input[type="text"], input[type="search"], textarea`

// defaultContentTokens 提示词中页面内容的默认 token 预算
const defaultContentTokens = 3000

var (
	translateSearchPattern = regexp.MustCompile(`(?i)^\s*(?:(?:在|用|使用)\s*(?:百度|谷歌|必应|google|bing|baidu)\s*(?:上|中|里)?\s*)?(?:搜索|搜寻|搜一下|search(?:\s+for)?)\s*[:：]?\s*(.*?)\s*$`)
	enginePatterns         = []struct {
		pattern *regexp.Regexp
		engine  browser.SearchEngine
	}{
		{regexp.MustCompile(`(?i)百度|baidu`), browser.EngineBaidu},
		{regexp.MustCompile(`(?i)谷歌|google`), browser.EngineGoogle},
		{regexp.MustCompile(`(?i)必应|bing`), browser.EngineBing},
	}
	engineSuffixPattern = regexp.MustCompile(`(?i)\s+(?:on|with|using)\s+(?:google|bing|baidu)\s*$`)

	quotedPattern   = regexp.MustCompile(`["“「『]([^"”」』]+)["”」』]`)
	backtickPattern = regexp.MustCompile("`([^`]+)`")
	cssTokenPattern = regexp.MustCompile(`(?:^|[\s(（])((?:[a-z]+)?[#.][A-Za-z_][\w-]*(?:\[[^\]]+\])?|[a-z]+\[[^\]]+\])`)

	backPattern    = regexp.MustCompile(`(?i)^\s*(?:返回上一页|返回|后退|回到上一页|go\s+back|back)`)
	forwardPattern = regexp.MustCompile(`(?i)^\s*(?:前进|go\s+forward|forward)`)
	refreshPattern = regexp.MustCompile(`(?i)^\s*(?:刷新|重新加载|reload|refresh)`)

	scrollUpPattern   = regexp.MustCompile(`(?i)(?:向上|往上)(?:滚动|滑动|翻)|上滑|scroll\s+up`)
	scrollDownPattern = regexp.MustCompile(`(?i)(?:向下|往下)(?:滚动|滑动|翻)|下滑|滚动|scroll(?:\s+down)?`)

	switchTabPattern = regexp.MustCompile(`(?i)(?:切换到|切换至|转到)\s*第?\s*(\d+)\s*个?\s*(?:标签页|标签|tab)|switch\s+to\s+tab\s*#?(\d+)`)
	listTabsPattern  = regexp.MustCompile(`(?i)(?:列出|查看|显示)(?:所有)?(?:的)?标签页|list\s+(?:all\s+)?tabs`)
	closeTabPattern  = regexp.MustCompile(`(?i)关闭\s*第?\s*(\d+)\s*个?\s*(?:标签页|标签)|close\s+tab\s*#?(\d+)`)
	createTabPattern = regexp.MustCompile(`(?i)(?:新建|创建|打开新的?|打开一个新的?)\s*标签页|(?:open|create)\s+(?:a\s+)?new\s+tab|new\s+tab`)

	// 输入动词必须在句首, 前面只允许 "在...中" 或 "in ..." 这样的位置说明
	typePattern  = regexp.MustCompile(`(?i)^\s*(?:(?:在|于|向|往).+?(?:中|里|内|上)\s*|in\s+.+?,?\s+)?(?:输入|键入|填入|填写|type\b|enter\b)\s*[:：]?\s*(.*?)\s*$`)
	clickPattern = regexp.MustCompile(`(?i)^\s*(?:点击|单击|点一下|点开|选择|click(?:\s+on)?|tap|press|select)`)

	comparePattern   = regexp.MustCompile(`(?i)比较|对比|\bcompare\b`)
	summarizePattern = regexp.MustCompile(`(?i)总结|概括|归纳|汇总|summari[sz]e`)
	analyzePattern   = regexp.MustCompile(`(?i)分析|提取|读取|记录|获取(?:页面)?内容|查看(?:页面)?内容|analy[sz]e|extract|\bread\b|get\s+(?:page\s+)?content|record`)

	searchResultsPattern = regexp.MustCompile(`(?i)搜索结果|search\s+results?`)
)

// Translation 是单个步骤的翻译结果.
// Handled 为 true 时步骤已直接产出 Result, 不需要浏览器动作.
type Translation struct {
	Action  browser.BrowserAction
	Handled bool
	Result  string
}

// Translator 把步骤文本映射为浏览器动作. 只读写 task.ExecutionState.
type Translator struct {
	oracle        llm.Oracle
	engine        browser.SearchEngine
	contentTokens int
	logger        *zap.Logger
}

// NewTranslator 创建翻译器. engine 为空时使用百度, contentTokens<=0 时使用默认预算.
func NewTranslator(oracle llm.Oracle, engine browser.SearchEngine, contentTokens int, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := browser.ParseSearchEngine(string(engine)); !ok {
		engine = browser.EngineBaidu
	}
	if contentTokens <= 0 {
		contentTokens = defaultContentTokens
	}
	return &Translator{
		oracle:        oracle,
		engine:        engine,
		contentTokens: contentTokens,
		logger:        logger.With(zap.String("component", "step_translator")),
	}
}

// Translate 翻译一个步骤. 无法推导出动作时返回 nil.
func (tr *Translator) Translate(ctx context.Context, step string, page *browser.PageContent, modelHint string, task *Task) *Translation {
	step = strings.TrimSpace(step)
	if step == "" || task == nil {
		return nil
	}
	state := &task.ExecutionState

	if action := tr.navigation(step, state); action != nil {
		return &Translation{Action: action}
	}

	switch {
	case comparePattern.MatchString(step) && !analyzePattern.MatchString(step):
		return &Translation{Handled: true, Result: tr.compare(ctx, step, page, modelHint, task)}
	case summarizePattern.MatchString(step):
		return &Translation{Handled: true, Result: tr.summarize(ctx, step, page, modelHint, task)}
	case analyzePattern.MatchString(step):
		state.AnalysisTarget = analysisTarget(step, state)
		return &Translation{Action: browser.GetContentAction{}}
	}

	tr.logger.Debug("no action for step", zap.String("step", step))
	return nil
}

// navigation 处理所有直接对应浏览器动作的步骤
func (tr *Translator) navigation(step string, state *ExecutionState) browser.BrowserAction {
	if m := translateSearchPattern.FindStringSubmatch(step); m != nil {
		query := searchQuery(m[1])
		if query == "" {
			return nil
		}
		state.SearchQuery = query
		return browser.SearchAction{Engine: tr.detectEngine(step), Query: query}
	}

	// 标签页在打开之前判断, "打开新标签页" 不是导航
	if m := switchTabPattern.FindStringSubmatch(step); m != nil {
		return browser.SwitchTabAction{Index: tabIndex(m[1:])}
	}
	if listTabsPattern.MatchString(step) {
		return browser.ListTabsAction{}
	}
	if m := closeTabPattern.FindStringSubmatch(step); m != nil {
		return browser.CloseTabAction{Index: tabIndex(m[1:])}
	}
	if createTabPattern.MatchString(step) {
		action := browser.CreateTabAction{URL: extractURL(step)}
		if q := quotedPattern.FindStringSubmatch(step); q != nil {
			action.Title = strings.TrimSpace(q[1])
		}
		return action
	}

	if openVerbPattern.MatchString(step) {
		if u := extractURL(step); u != "" {
			return browser.NavigateAction{URL: u}
		}
		return browser.VisualInteractionAction{Instruction: step}
	}

	switch {
	case backPattern.MatchString(step):
		return browser.BackAction{}
	case forwardPattern.MatchString(step):
		return browser.ForwardAction{}
	case refreshPattern.MatchString(step):
		return browser.RefreshAction{}
	}

	if clickPattern.MatchString(step) {
		if selector := concreteSelector(step); selector != "" {
			return browser.ClickAction{Selector: selector}
		}
		return browser.VisualInteractionAction{Instruction: step}
	}

	if m := typePattern.FindStringSubmatch(step); m != nil {
		text := ""
		if q := quotedPattern.FindStringSubmatch(step); q != nil {
			text = q[1]
		} else {
			text = unquote(m[1])
		}
		if text == "" {
			return nil
		}
		selector := concreteSelector(step)
		if selector == "" {
			selector = defaultInputSelector
		}
		return browser.TypeAction{Selector: selector, Text: text}
	}

	switch {
	case scrollUpPattern.MatchString(step):
		return browser.ScrollUpAction{}
	case scrollDownPattern.MatchString(step):
		return browser.ScrollDownAction{}
	}
	return nil
}

func (tr *Translator) detectEngine(step string) browser.SearchEngine {
	for _, ep := range enginePatterns {
		if ep.pattern.MatchString(step) {
			return ep.engine
		}
	}
	return tr.engine
}

func searchQuery(rest string) string {
	if q := quotedPattern.FindStringSubmatch(rest); q != nil {
		return strings.TrimSpace(q[1])
	}
	rest = engineSuffixPattern.ReplaceAllString(rest, "")
	return unquote(rest)
}

// concreteSelector 提取反引号中的选择器或形如 #id / .class / tag[attr] 的片段
func concreteSelector(step string) string {
	if m := backtickPattern.FindStringSubmatch(step); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := cssTokenPattern.FindStringSubmatch(step); m != nil {
		return m[1]
	}
	return ""
}

// tabIndex 把从 1 开始的序号换成从 0 开始的下标
func tabIndex(groups []string) int {
	for _, g := range groups {
		if n, err := strconv.Atoi(g); err == nil {
			if n > 0 {
				return n - 1
			}
			return 0
		}
	}
	return 0
}

func analysisTarget(step string, state *ExecutionState) AnalysisTarget {
	if c := state.Comparison; c != nil && len(c.Items) == 2 {
		for _, q := range quotedPattern.FindAllStringSubmatch(step, -1) {
			switch strings.TrimSpace(q[1]) {
			case c.Items[0]:
				return TargetItem1
			case c.Items[1]:
				return TargetItem2
			}
		}
	}
	if searchResultsPattern.MatchString(step) {
		return TargetSearchResults
	}
	return TargetPage
}

const summarizePrompt = `任务目标: %s
当前步骤: %s

请根据下面收集到的网页内容完成当前步骤, 直接输出结果文本, 不要解释过程。

%s`

const comparePrompt = `任务目标: %s
当前步骤: %s

请比较下面两个对象, 列出主要相同点与不同点, 直接输出结果文本。

%s`

func (tr *Translator) summarize(ctx context.Context, step string, page *browser.PageContent, modelHint string, task *Task) string {
	sections := task.ExecutionState.gathered()
	if len(sections) == 0 && page != nil && strings.TrimSpace(page.Text) != "" {
		sections = []string{"当前页面:\n" + page.Text}
	}
	return tr.produce(ctx, summarizePrompt, step, sections, modelHint, task)
}

func (tr *Translator) compare(ctx context.Context, step string, page *browser.PageContent, modelHint string, task *Task) string {
	var sections []string
	if c := task.ExecutionState.Comparison; c != nil && len(c.Items) == 2 {
		for i, data := range []string{c.Item1Data, c.Item2Data} {
			if strings.TrimSpace(data) != "" {
				sections = append(sections, c.Items[i]+":\n"+data)
			}
		}
	}
	if len(sections) == 0 {
		sections = task.ExecutionState.gathered()
	}
	if len(sections) == 0 && page != nil && strings.TrimSpace(page.Text) != "" {
		sections = []string{"当前页面:\n" + page.Text}
	}
	return tr.produce(ctx, comparePrompt, step, sections, modelHint, task)
}

// produce 请求 LLM 生成文本, 失败时退回到截断后的原始内容
func (tr *Translator) produce(ctx context.Context, prompt, step string, sections []string, modelHint string, task *Task) string {
	if len(sections) == 0 {
		return fmt.Sprintf("没有可用于%q的页面内容", step)
	}
	tok := tokenizer.ForModel(modelHint)
	content := tokenizer.TruncateText(tok, strings.Join(sections, "\n\n"), tr.contentTokens)

	if tr.oracle != nil {
		resp, err := tr.oracle.Generate(ctx, fmt.Sprintf(prompt, task.Description, step, content), nil, modelHint)
		if err == nil && strings.TrimSpace(resp) != "" {
			return strings.TrimSpace(resp)
		}
		tr.logger.Debug("oracle produce failed, using literal content",
			zap.String("step", step),
			zap.Error(err))
	}
	return content
}
