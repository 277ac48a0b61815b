package browsertask

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/jsonutil"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
)

// 分析与交互步骤的固定措辞, 翻译器按同样的关键词识别
const (
	stepAnalyzeResults = "分析搜索结果页面"
	stepClickBest      = "点击最相关的搜索结果"
	stepExtractInfo    = "分析页面内容并提取相关信息"
	stepAnalyzePage    = "分析页面内容"
)

// fastPath 是一条确定性模板规则
type fastPath struct {
	name     string
	patterns []*regexp.Regexp
	build    func(instruction string, m []string) *Task
}

var fastPaths = []fastPath{
	{
		name: "search-summarize",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(?:请|帮我)?(?:搜索|搜一下|查一下|查询)\s*[“"「]?(.+?)[”"」]?\s*(?:并且|并|然后|，|,)?\s*(?:总结|概括|归纳|汇总)`),
			regexp.MustCompile(`(?i)^(?:please\s+)?search(?:\s+for)?\s+["“]?(.+?)["”]?\s*,?\s*(?:and|then)\s+summari[sz]e`),
		},
		build: func(instruction string, m []string) *Task {
			return NewTask(instruction, []string{searchStep(m[1]), stepAnalyzeResults, stepClickBest, stepExtractInfo}, TaskTypeMultiStep)
		},
	},
	{
		name: "compare",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(?:请|帮我)?(?:比较|对比)(?:一下)?\s*[“"]?(.+?)[”"]?\s*(?:和|与|跟|vs\.?|VS)\s*[“"]?(.+?)[”"]?(?:的(?:区别|差异|异同|优缺点))?$`),
			regexp.MustCompile(`(?i)^compare\s+(.+?)\s+(?:and|with|vs\.?|versus)\s+(.+?)\.?$`),
		},
		build: func(instruction string, m []string) *Task {
			a, b := unquote(m[1]), unquote(m[2])
			t := NewTask(instruction, []string{
				searchStep(a),
				fmt.Sprintf(`分析页面内容并记录"%s"的信息`, a),
				searchStep(b),
				fmt.Sprintf(`分析页面内容并记录"%s"的信息`, b),
				fmt.Sprintf(`比较"%s"和"%s"`, a, b),
			}, TaskTypeMultiStep)
			t.ExecutionState.Comparison = &ComparisonState{Items: []string{a, b}}
			return t
		},
	},
	{
		name: "find",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(?:请|帮我)?(?:查找|寻找|找到|找一下)\s*[“"]?(.+?)[”"]?$`),
			regexp.MustCompile(`(?i)^(?:find|look\s+up|look\s+for)\s+(.+?)\.?$`),
		},
		build: func(instruction string, m []string) *Task {
			if !isSimpleQuery(m[1]) {
				return nil
			}
			return NewTask(instruction, []string{searchStep(m[1]), stepClickBest, stepExtractInfo}, TaskTypeMultiStep)
		},
	},
	{
		name: "browse-site",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(?:请|帮我)?(?:打开|访问|浏览|前往|进入)\s*(?:网站|网页)?\s*(\S+)$`),
			regexp.MustCompile(`(?i)^(?:open|visit|browse|go\s+to)\s+(\S+)$`),
		},
		build: func(instruction string, m []string) *Task {
			u := extractURL(m[1])
			if u == "" {
				return nil
			}
			return NewTask(instruction, []string{"打开 " + u, stepAnalyzePage}, TaskTypeMultiStep)
		},
	},
	{
		name: "search",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(?:请|帮我)?(?:搜索|搜一下|查一下|查询)\s*[“"「]?(.+?)[”"」]?$`),
			regexp.MustCompile(`(?i)^(?:please\s+)?search(?:\s+for)?\s+["“]?(.+?)["”]?\.?$`),
		},
		build: func(instruction string, m []string) *Task {
			if !isSimpleQuery(m[1]) {
				return nil
			}
			return NewTask(instruction, []string{searchStep(m[1]), stepAnalyzeResults}, TaskTypeMultiStep)
		},
	},
}

const compilePrompt = `你是浏览器自动化任务的规划器。请把用户指令拆解为可以在浏览器中逐步执行的步骤。

每个步骤使用以下形式之一:
- 搜索"关键词"
- 打开 https://example.com
- 点击<元素描述>
- 在<输入框>中输入"文本"
- 向下滚动 / 向上滚动 / 返回 / 前进 / 刷新
- 分析搜索结果页面 / 分析页面内容并提取相关信息
- 总结<内容>

第一步必须是搜索或打开网址。taskType 取值: multi-step, loop, conditional, data-collection, interactive。

只输出 JSON:
{"description": "任务描述", "steps": ["步骤1", "步骤2"], "taskType": "multi-step"}

用户指令: %s`

// compiledPlan 是 LLM 规划结果
type compiledPlan struct {
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	TaskType    string   `json:"taskType"`
	TaskTypeAlt string   `json:"task_type"`
}

// Compiler 把自然语言指令编译为 Task
type Compiler struct {
	oracle llm.Oracle
	logger *zap.Logger
}

// NewCompiler 创建编译器. oracle 为 nil 时只使用模板与兜底计划.
func NewCompiler(oracle llm.Oracle, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{
		oracle: oracle,
		logger: logger.With(zap.String("component", "task_compiler")),
	}
}

// Compile 先尝试确定性模板, 再请求 LLM 规划. 永远返回一个首步可落地的任务.
func (c *Compiler) Compile(ctx context.Context, instruction, modelHint string) *Task {
	instruction = strings.TrimSpace(instruction)
	inferred := inferTaskType(instruction)

	// 模板优先, 步骤固定, 任务类型仍按关键词推断
	if t, name := matchFastPath(instruction); t != nil {
		t.TaskType = inferred
		c.logger.Debug("compiled by template",
			zap.String("template", name),
			zap.String("task_type", string(inferred)),
			zap.Int("steps", len(t.Steps)))
		return t
	}

	plan, err := c.plan(ctx, instruction, modelHint)
	if err != nil || len(plan.Steps) == 0 {
		c.logger.Warn("planning failed, using fallback plan",
			zap.String("instruction", instruction),
			zap.Error(err))
		return fallbackTask(instruction, inferred)
	}

	taskType := inferred
	for _, raw := range []string{plan.TaskType, plan.TaskTypeAlt} {
		if tt, ok := ParseTaskType(raw); ok {
			taskType = tt
			break
		}
	}

	description := strings.TrimSpace(plan.Description)
	if description == "" {
		description = instruction
	}

	steps := ensureGrounded(plan.Steps, instruction)
	c.logger.Debug("compiled by oracle",
		zap.Int("steps", len(steps)),
		zap.String("task_type", string(taskType)))
	return NewTask(description, steps, taskType)
}

func matchFastPath(instruction string) (*Task, string) {
	for _, fp := range fastPaths {
		for _, re := range fp.patterns {
			m := re.FindStringSubmatch(instruction)
			if m == nil {
				continue
			}
			if t := fp.build(instruction, m); t != nil {
				return t, fp.name
			}
		}
	}
	return nil, ""
}

func (c *Compiler) plan(ctx context.Context, instruction, modelHint string) (compiledPlan, error) {
	if c.oracle == nil {
		return compiledPlan{}, fmt.Errorf("no oracle configured")
	}
	resp, err := c.oracle.Generate(ctx, fmt.Sprintf(compilePrompt, instruction), nil, modelHint)
	if err != nil {
		return compiledPlan{}, err
	}
	return parsePlan(resp)
}

// parsePlan 依次尝试 JSON 解析与按行提取 steps 块
func parsePlan(resp string) (compiledPlan, error) {
	plan, err := jsonutil.Extract[compiledPlan](resp)
	if err == nil {
		plan.Steps = cleanSteps(plan.Steps)
		if len(plan.Steps) > 0 {
			return plan, nil
		}
	}

	if lp := parseStepsBlock(resp); len(lp.Steps) > 0 {
		return lp, nil
	}
	if err == nil {
		err = fmt.Errorf("plan has no steps")
	}
	return compiledPlan{}, err
}

var (
	stepsHeaderPattern = regexp.MustCompile(`(?i)^\s*["']?(?:steps|步骤)["']?\s*[:：]\s*\[?\s*$`)
	descriptionPattern = regexp.MustCompile(`(?i)^\s*["']?(?:description|描述)["']?\s*[:：]\s*(.+?)\s*,?\s*$`)
	listItemPattern    = regexp.MustCompile(`^\s*(?:[-*•]|\d+\s*[.)、．:：])\s*(.+)$`)
	keyLinePattern     = regexp.MustCompile(`^\s*["']?[A-Za-z_]+["']?\s*[:：]`)
)

// parseStepsBlock 从 "steps:" 之后的列表行中提取步骤
func parseStepsBlock(text string) compiledPlan {
	var plan compiledPlan
	inSteps := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if m := descriptionPattern.FindStringSubmatch(line); m != nil && !inSteps {
			plan.Description = unquote(strings.TrimSuffix(m[1], ","))
			continue
		}
		if stepsHeaderPattern.MatchString(line) {
			inSteps = true
			continue
		}
		if !inSteps {
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || trimmed == "]" || trimmed == "],":
			if len(plan.Steps) > 0 {
				return plan
			}
		case listItemPattern.MatchString(line):
			plan.Steps = append(plan.Steps, listItemPattern.FindStringSubmatch(line)[1])
		case keyLinePattern.MatchString(line):
			return plan
		default:
			plan.Steps = append(plan.Steps, trimmed)
		}
		plan.Steps = cleanSteps(plan.Steps)
	}
	return plan
}

func cleanSteps(steps []string) []string {
	out := steps[:0]
	for _, s := range steps {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ","))
		s = strings.ReplaceAll(s, `\"`, `"`)
		// 整行被引号包住时去掉外层引号, 步骤内部的引号保留
		if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ensureGrounded 首步不是搜索或打开网址时, 在前面补一个搜索步骤
func ensureGrounded(steps []string, instruction string) []string {
	if len(steps) > 0 && isGroundingStep(steps[0]) {
		return steps
	}
	return append([]string{searchStep(instruction)}, steps...)
}

func fallbackTask(instruction string, taskType TaskType) *Task {
	return NewTask(instruction, []string{searchStep(instruction), stepAnalyzeResults}, taskType)
}
