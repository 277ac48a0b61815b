package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/metrics"
)

// ResolveTier 元素定位层级
type ResolveTier string

const (
	TierDeterministic ResolveTier = "deterministic"
	TierAI            ResolveTier = "ai"
)

// InteractiveSelector 是文本匹配与兜底时查询的可交互元素集合
const InteractiveSelector = `a, button, [role=button], input[type=submit], [onclick]`

var resultReferencePattern = regexp.MustCompile(`(?i)(结果|链接|搜索|条目|第一|首个|result|link|first|entry|article)`)

// LocatorHint 是视觉模型对目标元素的猜测
type LocatorHint struct {
	Selector    string `json:"selector"`
	Text        string `json:"text"`
	Description string `json:"description"`
}

// VisualLocator 根据截图与指令猜测目标元素.
type VisualLocator interface {
	Locate(ctx context.Context, screenshot []byte, instruction string) (*LocatorHint, error)
}

// ResolveResult 是定位结果. 失败时 Attempted 列出尝试过的策略.
type ResolveResult struct {
	Success   bool        `json:"success"`
	Selector  string      `json:"selector,omitempty"`
	Tier      ResolveTier `json:"tier,omitempty"`
	Strategy  string      `json:"strategy,omitempty"`
	Attempted []string    `json:"attempted,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ElementResolver 把自然语言描述解析为可点击的选择器.
// 先走确定性层 (搜索结果页规则), 再走 AI 层 (截图 + VisualLocator).
type ElementResolver struct {
	page      PageView
	locator   VisualLocator
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewElementResolver 创建解析器. locator 为 nil 时 AI 层只做文本匹配与兜底.
func NewElementResolver(page PageView, locator VisualLocator, collector *metrics.Collector, logger *zap.Logger) *ElementResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElementResolver{
		page:      page,
		locator:   locator,
		collector: collector,
		logger:    logger.With(zap.String("component", "element_resolver")),
	}
}

// Resolve 依次尝试各层, 任一层成功即返回.
func (r *ElementResolver) Resolve(ctx context.Context, instruction string) ResolveResult {
	var attempted []string

	if refersToResult(instruction) {
		res, tried := r.resolveDeterministic(ctx)
		attempted = append(attempted, tried...)
		r.collector.RecordResolverAttempt(string(TierDeterministic), res.Success)
		if res.Success {
			res.Attempted = attempted
			return res
		}
	}
	if err := ctx.Err(); err != nil {
		return ResolveResult{Attempted: attempted, Error: err.Error()}
	}

	res, tried := r.resolveAI(ctx, instruction)
	attempted = append(attempted, tried...)
	r.collector.RecordResolverAttempt(string(TierAI), res.Success)
	if res.Success {
		res.Attempted = attempted
		return res
	}

	r.logger.Debug("element resolution exhausted",
		zap.String("instruction", instruction),
		zap.Strings("attempted", attempted))
	return ResolveResult{
		Attempted: attempted,
		Error:     fmt.Sprintf("无法定位元素 %q, 已尝试: %s", instruction, strings.Join(attempted, ", ")),
	}
}

func (r *ElementResolver) resolveDeterministic(ctx context.Context) (ResolveResult, []string) {
	var attempted []string

	content, err := r.page.GetContent(ctx)
	if err == nil && content != nil {
		if engine, ok := DetectSearchEngine(content.URL); ok {
			for _, sel := range engine.ResultSelectors() {
				attempted = append(attempted, fmt.Sprintf("%s:%s", engine, sel))
				if el, ok := r.firstMatch(ctx, sel, isResultLink); ok {
					return ResolveResult{Success: true, Selector: el.Selector, Tier: TierDeterministic, Strategy: string(engine)}, attempted
				}
			}
		}
	}

	attempted = append(attempted, "heuristic:first-link")
	if el, ok := r.firstMatch(ctx, "a[href]", func(el ElementInfo) bool {
		return isResultLink(el) && utf8.RuneCountInString(strings.TrimSpace(el.Text)) >= 4
	}); ok {
		return ResolveResult{Success: true, Selector: el.Selector, Tier: TierDeterministic, Strategy: "heuristic"}, attempted
	}
	return ResolveResult{}, attempted
}

func (r *ElementResolver) resolveAI(ctx context.Context, instruction string) (ResolveResult, []string) {
	var attempted []string
	hint := &LocatorHint{Text: instruction}

	if r.locator != nil {
		attempted = append(attempted, "ai:locate")
		shot, err := r.page.Screenshot(ctx)
		if err != nil {
			r.logger.Debug("screenshot failed", zap.Error(err))
		} else if h, err := r.locator.Locate(ctx, shot, instruction); err != nil {
			r.logger.Debug("visual locator failed", zap.Error(err))
		} else if h != nil {
			hint = h
		}
	}

	if sel := strings.TrimSpace(hint.Selector); sel != "" {
		attempted = append(attempted, "ai:selector")
		if el, ok := r.firstMatch(ctx, sel, func(el ElementInfo) bool { return el.Visible }); ok {
			return ResolveResult{Success: true, Selector: el.Selector, Tier: TierAI, Strategy: "selector"}, attempted
		}
	}

	candidates, err := r.page.QueryElements(ctx, InteractiveSelector)
	if err != nil {
		attempted = append(attempted, "ai:query")
		return ResolveResult{}, attempted
	}

	attempted = append(attempted, "ai:text-match")
	needle := hint.Text
	if strings.TrimSpace(needle) == "" {
		needle = hint.Description
	}
	if el, ok := bestTextMatch(candidates, tokenize(needle)); ok {
		return ResolveResult{Success: true, Selector: el.Selector, Tier: TierAI, Strategy: "text-match"}, attempted
	}

	attempted = append(attempted, "ai:first-interactive")
	for _, el := range candidates {
		if el.Visible {
			return ResolveResult{Success: true, Selector: el.Selector, Tier: TierAI, Strategy: "first-interactive"}, attempted
		}
	}
	return ResolveResult{}, attempted
}

func (r *ElementResolver) firstMatch(ctx context.Context, selector string, accept func(ElementInfo) bool) (ElementInfo, bool) {
	els, err := r.page.QueryElements(ctx, selector)
	if err != nil {
		return ElementInfo{}, false
	}
	for _, el := range els {
		if accept(el) {
			return el, true
		}
	}
	return ElementInfo{}, false
}

func refersToResult(instruction string) bool {
	return resultReferencePattern.MatchString(instruction)
}

func isResultLink(el ElementInfo) bool {
	href := strings.ToLower(el.Href)
	return el.Visible && (strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://"))
}

// tokenize 按空白与标点切分, 连续的中文片段作为一个词.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if utf8.RuneCountInString(f) < 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "click": true, "on": true, "button": true, "link": true, "点击": true, "按钮": true,
}

func bestTextMatch(candidates []ElementInfo, tokens []string) (ElementInfo, bool) {
	if len(tokens) == 0 {
		return ElementInfo{}, false
	}
	best, bestScore := ElementInfo{}, 0
	for _, el := range candidates {
		if !el.Visible || el.Text == "" {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(el.Text))
		short := utf8.RuneCountInString(text) < 2
		score := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) || (!short && strings.Contains(tok, text)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = el, score
		}
	}
	return best, bestScore > 0
}
