package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/config"
)

// queryElementsScript 查询元素并给每个元素打上稳定的 data-ba-ref 标记
const queryElementsScript = `(function(sel){
  const out = [];
  let nodes;
  try { nodes = document.querySelectorAll(sel); } catch (e) { return out; }
  const interactive = ['a','button','input','select','textarea'];
  for (let i = 0; i < nodes.length && i < 200; i++) {
    const el = nodes[i];
    const r = el.getBoundingClientRect();
    const st = window.getComputedStyle(el);
    let ref = el.getAttribute('data-ba-ref');
    if (!ref) {
      window.__baRef = (window.__baRef || 0) + 1;
      ref = String(window.__baRef);
      el.setAttribute('data-ba-ref', ref);
    }
    const tag = el.tagName.toLowerCase();
    out.push({
      selector: '[data-ba-ref="' + ref + '"]',
      tag: tag,
      text: ((el.innerText || el.value || el.getAttribute('aria-label') || '') + '').trim().slice(0, 200),
      href: el.href || '',
      visible: r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none',
      interactive: interactive.includes(tag) || el.getAttribute('role') === 'button' || el.hasAttribute('onclick')
    });
  }
  return out;
})(%s)`

type tab struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

// ChromeDPPageView 基于 chromedp 的 PageView 实现, 支持多标签页
type ChromeDPPageView struct {
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc

	config config.BrowserConfig
	logger *zap.Logger

	mu     sync.Mutex
	tabs   []*tab
	active int
	closed bool
}

// NewChromeDPPageView 启动浏览器并打开首个标签页
func NewChromeDPPageView(cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDPPageView, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "chromedp_pageview"))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// 没有 discover targets 就收不到页面自己打开的新标签
	if err := chromedp.Run(rootCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return target.SetDiscoverTargets(true).Do(ctx)
		}),
		chromedp.Navigate("about:blank"),
	); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	p := &ChromeDPPageView{
		allocCancel: allocCancel,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		config:      cfg,
		logger:      logger,
	}
	p.tabs = []*tab{{id: chromedp.FromContext(rootCtx).Target.TargetID, ctx: rootCtx, cancel: func() {}}}

	chromedp.ListenBrowser(rootCtx, func(ev any) {
		e, ok := ev.(*target.EventTargetCreated)
		if !ok || e.TargetInfo == nil || e.TargetInfo.Type != "page" || e.TargetInfo.OpenerID == "" {
			return
		}
		go p.adoptTab(e.TargetInfo.TargetID)
	})

	logger.Info("chromedp browser started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("window_w", cfg.WindowWidth),
		zap.Int("window_h", cfg.WindowHeight))
	return p, nil
}

// adoptTab 接管页面通过 window.open 或 target=_blank 打开的标签页
func (p *ChromeDPPageView) adoptTab(id target.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, t := range p.tabs {
		if t.id == id {
			return
		}
	}
	ctx, cancel := chromedp.NewContext(p.rootCtx, chromedp.WithTargetID(id))
	p.tabs = append(p.tabs, &tab{id: id, ctx: ctx, cancel: cancel})
	p.active = len(p.tabs) - 1
	p.logger.Debug("adopted new tab", zap.String("target", string(id)))
}

func (p *ChromeDPPageView) activeTab() (*tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("page view is closed")
	}
	return p.tabs[p.active], nil
}

// run 在当前标签页执行动作, 同时受调用方 ctx 与动作超时约束
func (p *ChromeDPPageView) run(ctx context.Context, actions ...chromedp.Action) error {
	t, err := p.activeTab()
	if err != nil {
		return err
	}
	return p.runIn(ctx, t, actions...)
}

func (p *ChromeDPPageView) runIn(ctx context.Context, t *tab, actions ...chromedp.Action) error {
	timeout := p.config.ActionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *ChromeDPPageView) settle() chromedp.Action {
	return chromedp.Sleep(p.config.SettleDelay)
}

func (p *ChromeDPPageView) Navigate(ctx context.Context, rawURL string) error {
	p.logger.Debug("navigating", zap.String("url", rawURL))
	return p.run(ctx, chromedp.Navigate(rawURL), p.settle())
}

func (p *ChromeDPPageView) Click(ctx context.Context, selector string) error {
	p.logger.Debug("clicking", zap.String("selector", selector))
	return p.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		p.settle(),
	)
}

func (p *ChromeDPPageView) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (p *ChromeDPPageView) Scroll(ctx context.Context, deltaY int) error {
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil), p.settle())
}

func (p *ChromeDPPageView) Back(ctx context.Context) error {
	return p.run(ctx, chromedp.NavigateBack(), p.settle())
}

func (p *ChromeDPPageView) Forward(ctx context.Context) error {
	return p.run(ctx, chromedp.NavigateForward(), p.settle())
}

func (p *ChromeDPPageView) Refresh(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload(), p.settle())
}

// GetContent 返回标题、URL 与 readability 提取的正文, 提取失败时回退到 body 文本
func (p *ChromeDPPageView) GetContent(ctx context.Context) (*PageContent, error) {
	var loc, title, html string
	if err := p.run(ctx,
		chromedp.Location(&loc),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	content := &PageContent{Title: title, URL: loc}
	parsedURL, _ := url.Parse(loc)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		content.Text = article.TextContent
		if content.Title == "" {
			content.Title = article.Title
		}
	} else {
		var text string
		if err := p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
			return nil, fmt.Errorf("failed to read page text: %w", err)
		}
		content.Text = text
	}

	content.Text = truncateRunes(collapseBlankLines(content.Text), p.config.MaxContentChars)
	return content, nil
}

func (p *ChromeDPPageView) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (p *ChromeDPPageView) QueryElements(ctx context.Context, selector string) ([]ElementInfo, error) {
	arg, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var els []ElementInfo
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(queryElementsScript, arg), &els)); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	return els, nil
}

func (p *ChromeDPPageView) SwitchTab(ctx context.Context, index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.tabs) {
		n := len(p.tabs)
		p.mu.Unlock()
		return fmt.Errorf("tab index %d out of range [0,%d)", index, n)
	}
	t := p.tabs[index]
	p.active = index
	p.mu.Unlock()

	return p.runIn(ctx, t, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.ActivateTarget(t.id).Do(ctx)
	}))
}

func (p *ChromeDPPageView) ListTabs(ctx context.Context) ([]TabInfo, error) {
	p.mu.Lock()
	tabs := append([]*tab(nil), p.tabs...)
	active := p.active
	p.mu.Unlock()

	out := make([]TabInfo, 0, len(tabs))
	for i, t := range tabs {
		info := TabInfo{Index: i, ID: string(t.id), Active: i == active}
		if err := p.runIn(ctx, t, chromedp.Location(&info.URL), chromedp.Title(&info.Title)); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Debug("tab info unavailable", zap.Int("index", i), zap.Error(err))
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *ChromeDPPageView) CloseTab(ctx context.Context, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.tabs) {
		return fmt.Errorf("tab index %d out of range [0,%d)", index, len(p.tabs))
	}
	if len(p.tabs) == 1 {
		return fmt.Errorf("cannot close the last tab")
	}

	t := p.tabs[index]
	if t.ctx == p.rootCtx {
		// 根标签页的 context 承载整个浏览器, 只能通过 CDP 关闭目标
		if err := chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return target.CloseTarget(t.id).Do(ctx)
		})); err != nil {
			return fmt.Errorf("close tab %d: %w", index, err)
		}
	} else {
		t.cancel()
	}

	p.tabs = append(p.tabs[:index], p.tabs[index+1:]...)
	if p.active >= len(p.tabs) || p.active == index {
		p.active = len(p.tabs) - 1
	} else if p.active > index {
		p.active--
	}
	return nil
}

func (p *ChromeDPPageView) CreateTab(ctx context.Context, rawURL, title string) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, fmt.Errorf("page view is closed")
	}
	tctx, cancel := chromedp.NewContext(p.rootCtx)
	p.mu.Unlock()

	if rawURL == "" {
		rawURL = "about:blank"
	}
	t := &tab{ctx: tctx, cancel: cancel}
	actions := []chromedp.Action{chromedp.Navigate(rawURL), p.settle()}
	if title != "" {
		arg, _ := json.Marshal(title)
		actions = append(actions, chromedp.Evaluate("document.title = "+string(arg), nil))
	}
	if err := p.runIn(ctx, t, actions...); err != nil {
		cancel()
		return 0, fmt.Errorf("create tab: %w", err)
	}
	t.id = chromedp.FromContext(tctx).Target.TargetID

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tabs = append(p.tabs, t)
	p.active = len(p.tabs) - 1
	return p.active, nil
}

// Close 关闭所有标签页与浏览器进程
func (p *ChromeDPPageView) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	tabs := p.tabs
	p.tabs = nil
	p.mu.Unlock()

	for _, t := range tabs {
		t.cancel()
	}
	p.rootCancel()
	p.allocCancel()
	p.logger.Info("chromedp browser closed")
	return nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
