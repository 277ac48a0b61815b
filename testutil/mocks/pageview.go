// FakePageView 是 browser.PageView 的内存实现。
//
// 以 URL → FakePage 的映射模拟站点，支持多标签页、前进后退、
// DOM 查询结果预设以及按方法注入错误和 panic。
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
)

// FakePNG 是 Screenshot 返回的最小 PNG 头
var FakePNG = []byte("\x89PNG\r\n\x1a\nfake")

// FakePage 模拟的单个页面
type FakePage struct {
	Title string
	Text  string
	// Queries 预设 QueryElements 的结果, 以选择器字符串为键
	Queries map[string][]browser.ElementInfo
	// Links 点击该选择器后跳转到的 URL
	Links map[string]string
}

type fakeTab struct {
	history []string
	pos     int
	// title 创建时指定的标题, 只对第一个页面生效
	title string
}

func (t *fakeTab) url() string {
	if t.pos < 0 || t.pos >= len(t.history) {
		return "about:blank"
	}
	return t.history[t.pos]
}

func (t *fakeTab) push(u string) {
	t.history = append(t.history[:t.pos+1], u)
	t.pos = len(t.history) - 1
}

type injectedFault struct {
	err    error
	panic  bool
	remain int // 0 表示不限次数
}

// FakePageView 是 browser.PageView 的内存实现
type FakePageView struct {
	mu sync.Mutex

	pages map[string]*FakePage
	// PageFunc 为未注册的 URL 生成页面, 为空时生成通用页面
	PageFunc func(url string) *FakePage

	tabs   []*fakeTab
	active int
	scroll int
	typed  map[string]string
	closed bool

	faults map[string]*injectedFault
	calls  []string
}

// NewFakePageView 创建只有一个空白标签页的 FakePageView
func NewFakePageView() *FakePageView {
	return &FakePageView{
		pages:  make(map[string]*FakePage),
		tabs:   []*fakeTab{{history: []string{"about:blank"}}},
		typed:  make(map[string]string),
		faults: make(map[string]*injectedFault),
	}
}

// --- Builder 方法 ---

// WithPage 注册页面
func (f *FakePageView) WithPage(url string, page *FakePage) *FakePageView {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = page
	return f
}

// FailOn 让 method 的后续 times 次调用返回 err, times 为 0 表示一直失败
func (f *FakePageView) FailOn(method string, err error, times int) *FakePageView {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[method] = &injectedFault{err: err, remain: times}
	return f
}

// PanicOn 让 method 的调用直接 panic
func (f *FakePageView) PanicOn(method string) *FakePageView {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[method] = &injectedFault{panic: true}
	return f
}

// ClearFaults 移除所有注入的故障
func (f *FakePageView) ClearFaults() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[string]*injectedFault)
}

// --- 查询辅助 ---

// CurrentURL 返回当前标签页 URL
func (f *FakePageView) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabs[f.active].url()
}

// Typed 返回向 selector 输入的文本
func (f *FakePageView) Typed(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[selector]
}

// ScrollOffset 返回累计滚动距离
func (f *FakePageView) ScrollOffset() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scroll
}

// Calls 返回调用记录, 形如 "Navigate https://example.com"
func (f *FakePageView) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount 返回 method 被调用的次数
func (f *FakePageView) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method || strings.HasPrefix(c, method+" ") {
			n++
		}
	}
	return n
}

// IsClosed 报告 Close 是否被调用
func (f *FakePageView) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// --- 内部 ---

// enter 记录调用并检查注入的故障, 调用方需持有锁
func (f *FakePageView) enter(ctx context.Context, method, arg string) error {
	call := method
	if arg != "" {
		call += " " + arg
	}
	f.calls = append(f.calls, call)

	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return fmt.Errorf("page view is closed")
	}
	fault, ok := f.faults[method]
	if !ok {
		return nil
	}
	if fault.panic {
		panic(fmt.Sprintf("injected panic in %s", method))
	}
	if fault.remain > 0 {
		fault.remain--
		if fault.remain == 0 {
			delete(f.faults, method)
		}
	}
	return fault.err
}

func (f *FakePageView) page(url string) *FakePage {
	if p, ok := f.pages[url]; ok {
		return p
	}
	if f.PageFunc != nil {
		if p := f.PageFunc(url); p != nil {
			return p
		}
	}
	return &FakePage{Title: url, Text: "content of " + url}
}

func (f *FakePageView) tab() *fakeTab { return f.tabs[f.active] }

// --- browser.PageView 实现 ---

func (f *FakePageView) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Navigate", url); err != nil {
		return err
	}
	f.tab().push(url)
	f.scroll = 0
	return nil
}

func (f *FakePageView) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Click", selector); err != nil {
		return err
	}
	p := f.page(f.tab().url())
	if target, ok := p.Links[selector]; ok {
		f.tab().push(target)
		return nil
	}
	for _, els := range p.Queries {
		for _, el := range els {
			if el.Selector == selector {
				return nil
			}
		}
	}
	return fmt.Errorf("element not found: %s", selector)
}

func (f *FakePageView) Type(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Type", selector); err != nil {
		return err
	}
	f.typed[selector] = text
	return nil
}

func (f *FakePageView) Scroll(ctx context.Context, deltaY int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Scroll", fmt.Sprint(deltaY)); err != nil {
		return err
	}
	f.scroll += deltaY
	if f.scroll < 0 {
		f.scroll = 0
	}
	return nil
}

func (f *FakePageView) GetContent(ctx context.Context) (*browser.PageContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "GetContent", ""); err != nil {
		return nil, err
	}
	u := f.tab().url()
	p := f.page(u)
	return &browser.PageContent{Title: p.Title, URL: u, Text: p.Text}, nil
}

func (f *FakePageView) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Screenshot", ""); err != nil {
		return nil, err
	}
	return append([]byte(nil), FakePNG...), nil
}

func (f *FakePageView) Back(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Back", ""); err != nil {
		return err
	}
	if t := f.tab(); t.pos > 0 {
		t.pos--
	}
	return nil
}

func (f *FakePageView) Forward(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Forward", ""); err != nil {
		return err
	}
	if t := f.tab(); t.pos < len(t.history)-1 {
		t.pos++
	}
	return nil
}

func (f *FakePageView) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter(ctx, "Refresh", "")
}

func (f *FakePageView) QueryElements(ctx context.Context, selector string) ([]browser.ElementInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "QueryElements", selector); err != nil {
		return nil, err
	}
	p := f.page(f.tab().url())
	return append([]browser.ElementInfo(nil), p.Queries[selector]...), nil
}

func (f *FakePageView) SwitchTab(ctx context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "SwitchTab", fmt.Sprint(index)); err != nil {
		return err
	}
	if index < 0 || index >= len(f.tabs) {
		return fmt.Errorf("tab index %d out of range", index)
	}
	f.active = index
	return nil
}

func (f *FakePageView) ListTabs(ctx context.Context) ([]browser.TabInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ListTabs", ""); err != nil {
		return nil, err
	}
	out := make([]browser.TabInfo, 0, len(f.tabs))
	for i, t := range f.tabs {
		u := t.url()
		title := f.page(u).Title
		if t.title != "" && t.pos == 0 {
			title = t.title
		}
		out = append(out, browser.TabInfo{Index: i, Title: title, URL: u, Active: i == f.active})
	}
	return out, nil
}

func (f *FakePageView) CloseTab(ctx context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CloseTab", fmt.Sprint(index)); err != nil {
		return err
	}
	if index < 0 || index >= len(f.tabs) {
		return fmt.Errorf("tab index %d out of range", index)
	}
	if len(f.tabs) == 1 {
		return fmt.Errorf("cannot close the last tab")
	}
	f.tabs = append(f.tabs[:index], f.tabs[index+1:]...)
	if f.active >= len(f.tabs) || f.active == index {
		f.active = len(f.tabs) - 1
	} else if f.active > index {
		f.active--
	}
	return nil
}

func (f *FakePageView) CreateTab(ctx context.Context, url, title string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CreateTab", url); err != nil {
		return 0, err
	}
	if url == "" {
		url = "about:blank"
	}
	f.tabs = append(f.tabs, &fakeTab{history: []string{url}, title: title})
	f.active = len(f.tabs) - 1
	return f.active, nil
}

func (f *FakePageView) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Close")
	f.closed = true
	return nil
}

var _ browser.PageView = (*FakePageView)(nil)
