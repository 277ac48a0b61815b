package browser

import "context"

// PageContent 页面的可读内容
type PageContent struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// TabInfo 标签页信息
type TabInfo struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// ElementInfo 是 DOM 查询返回的元素快照. Selector 可直接用于 Click.
type ElementInfo struct {
	Selector    string `json:"selector"`
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	Href        string `json:"href,omitempty"`
	Visible     bool   `json:"visible"`
	Interactive bool   `json:"interactive"`
}

// PageView 是任务引擎驱动的宿主页面视图.
// 所有方法都应遵守 ctx 的取消与超时.
type PageView interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// Scroll 纵向滚动, deltaY 为负表示向上
	Scroll(ctx context.Context, deltaY int) error
	GetContent(ctx context.Context) (*PageContent, error)
	// Screenshot 返回当前视口的 PNG 截图
	Screenshot(ctx context.Context) ([]byte, error)
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Refresh(ctx context.Context) error
	QueryElements(ctx context.Context, selector string) ([]ElementInfo, error)

	SwitchTab(ctx context.Context, index int) error
	ListTabs(ctx context.Context) ([]TabInfo, error)
	CloseTab(ctx context.Context, index int) error
	// CreateTab 打开新标签页并切换过去, 返回其索引. title 非空时设为页面标题.
	CreateTab(ctx context.Context, url, title string) (int, error)

	Close() error
}
