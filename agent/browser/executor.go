package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/metrics"
)

// scrollStep 单次滚动的像素
const scrollStep = 600

// ActionResult 动作执行结果. 失败以数据形式返回, 不返回 error.
type ActionResult struct {
	Success  bool          `json:"success"`
	Kind     ActionKind    `json:"kind"`
	Content  *PageContent  `json:"content,omitempty"`
	Tabs     []TabInfo     `json:"tabs,omitempty"`
	Selector string        `json:"selector,omitempty"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ActionExecutorConfig 动作执行器配置
type ActionExecutorConfig struct {
	DefaultEngine SearchEngine
	// ActionTimeout 单个动作的超时, 0 表示不额外限制
	ActionTimeout time.Duration
}

// ActionExecutor 在一个 PageView 上执行 BrowserAction.
type ActionExecutor struct {
	page      PageView
	resolver  *ElementResolver
	config    ActionExecutorConfig
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewActionExecutor 创建动作执行器. locator 传给内部的 ElementResolver.
func NewActionExecutor(page PageView, locator VisualLocator, config ActionExecutorConfig, collector *metrics.Collector, logger *zap.Logger) *ActionExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := engineProfiles[config.DefaultEngine]; !ok {
		config.DefaultEngine = EngineBaidu
	}
	return &ActionExecutor{
		page:      page,
		resolver:  NewElementResolver(page, locator, collector, logger),
		config:    config,
		collector: collector,
		logger:    logger.With(zap.String("component", "action_executor")),
	}
}

// Page 返回底层页面视图
func (e *ActionExecutor) Page() PageView { return e.page }

// Resolver 返回元素解析器
func (e *ActionExecutor) Resolver() *ElementResolver { return e.resolver }

// Execute 执行单个动作. 非只读动作成功后重新读取一次页面内容.
// PageView 的错误与 panic 都会转成失败结果.
func (e *ActionExecutor) Execute(ctx context.Context, action BrowserAction) (result *ActionResult) {
	start := time.Now()
	result = &ActionResult{}
	if action != nil {
		result.Kind = action.Kind()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in browser action",
				zap.String("action", Describe(action)),
				zap.Any("panic", r))
			result = &ActionResult{Kind: result.Kind, Error: fmt.Sprintf("panic: %v", r)}
		}
		result.Duration = time.Since(start)
		e.collector.RecordAction(string(result.Kind), result.Success, result.Duration)
	}()

	if action == nil {
		result.Error = "nil action"
		return result
	}

	if e.config.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ActionTimeout)
		defer cancel()
	}

	e.logger.Debug("executing browser action", zap.String("action", Describe(action)))

	if err := e.dispatch(ctx, action, result); err != nil {
		result.Success = false
		result.Error = err.Error()
		e.logger.Debug("browser action failed",
			zap.String("action", Describe(action)),
			zap.Error(err))
		return result
	}
	result.Success = true

	if !IsReadOnly(action) {
		content, err := e.page.GetContent(ctx)
		if err != nil {
			e.logger.Debug("content refresh failed", zap.Error(err))
		} else {
			result.Content = content
		}
	}
	return result
}

func (e *ActionExecutor) dispatch(ctx context.Context, action BrowserAction, result *ActionResult) error {
	switch a := action.(type) {
	case NavigateAction:
		return e.page.Navigate(ctx, a.URL)
	case ClickAction:
		result.Selector = a.Selector
		return e.page.Click(ctx, a.Selector)
	case TypeAction:
		result.Selector = a.Selector
		return e.page.Type(ctx, a.Selector, a.Text)
	case SearchAction:
		engine := a.Engine
		if _, ok := engineProfiles[engine]; !ok {
			engine = e.config.DefaultEngine
		}
		return e.page.Navigate(ctx, engine.SearchURL(a.Query))
	case BackAction:
		return e.page.Back(ctx)
	case ForwardAction:
		return e.page.Forward(ctx)
	case RefreshAction:
		return e.page.Refresh(ctx)
	case ScrollDownAction:
		return e.page.Scroll(ctx, scrollStep)
	case ScrollUpAction:
		return e.page.Scroll(ctx, -scrollStep)
	case GetContentAction:
		content, err := e.page.GetContent(ctx)
		if err != nil {
			return err
		}
		result.Content = content
		return nil
	case VisualInteractionAction:
		res := e.resolver.Resolve(ctx, a.Instruction)
		if !res.Success {
			return fmt.Errorf("resolution failed: %s", res.Error)
		}
		result.Selector = res.Selector
		result.Message = fmt.Sprintf("resolved by %s/%s", res.Tier, res.Strategy)
		return e.page.Click(ctx, res.Selector)
	case SwitchTabAction:
		return e.page.SwitchTab(ctx, a.Index)
	case ListTabsAction:
		tabs, err := e.page.ListTabs(ctx)
		if err != nil {
			return err
		}
		result.Tabs = tabs
		return nil
	case CloseTabAction:
		return e.page.CloseTab(ctx, a.Index)
	case CreateTabAction:
		idx, err := e.page.CreateTab(ctx, a.URL, a.Title)
		if err != nil {
			return err
		}
		result.Message = fmt.Sprintf("opened tab %d", idx)
		return nil
	default:
		return fmt.Errorf("unsupported action: %T", action)
	}
}
