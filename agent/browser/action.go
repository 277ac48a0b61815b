package browser

import "fmt"

// ActionKind 标识浏览器动作类型
type ActionKind string

const (
	KindNavigate          ActionKind = "navigate"
	KindClick             ActionKind = "click"
	KindType              ActionKind = "type"
	KindSearch            ActionKind = "search"
	KindBack              ActionKind = "back"
	KindForward           ActionKind = "forward"
	KindRefresh           ActionKind = "refresh"
	KindScrollDown        ActionKind = "scroll_down"
	KindScrollUp          ActionKind = "scroll_up"
	KindGetContent        ActionKind = "get_content"
	KindVisualInteraction ActionKind = "visual_interaction"
	KindSwitchTab         ActionKind = "switch_tab"
	KindListTabs          ActionKind = "list_tabs"
	KindCloseTab          ActionKind = "close_tab"
	KindCreateTab         ActionKind = "create_tab"
)

// BrowserAction 是封闭的动作联合类型, 只有本包内的类型可以实现它.
type BrowserAction interface {
	Kind() ActionKind
	isBrowserAction()
}

type NavigateAction struct{ URL string }

type ClickAction struct{ Selector string }

type TypeAction struct {
	Selector string
	Text     string
}

// SearchAction 在指定搜索引擎上搜索. Engine 为空时使用执行器的默认引擎.
type SearchAction struct {
	Engine SearchEngine
	Query  string
}

type BackAction struct{}

type ForwardAction struct{}

type RefreshAction struct{}

type ScrollDownAction struct{}

type ScrollUpAction struct{}

type GetContentAction struct{}

// VisualInteractionAction 用自然语言描述要点击的目标, 由 ElementResolver 定位.
type VisualInteractionAction struct{ Instruction string }

// SwitchTabAction Index 从 0 开始
type SwitchTabAction struct{ Index int }

type ListTabsAction struct{}

type CloseTabAction struct{ Index int }

type CreateTabAction struct {
	URL   string
	Title string
}

func (NavigateAction) Kind() ActionKind          { return KindNavigate }
func (ClickAction) Kind() ActionKind             { return KindClick }
func (TypeAction) Kind() ActionKind              { return KindType }
func (SearchAction) Kind() ActionKind            { return KindSearch }
func (BackAction) Kind() ActionKind              { return KindBack }
func (ForwardAction) Kind() ActionKind           { return KindForward }
func (RefreshAction) Kind() ActionKind           { return KindRefresh }
func (ScrollDownAction) Kind() ActionKind        { return KindScrollDown }
func (ScrollUpAction) Kind() ActionKind          { return KindScrollUp }
func (GetContentAction) Kind() ActionKind        { return KindGetContent }
func (VisualInteractionAction) Kind() ActionKind { return KindVisualInteraction }
func (SwitchTabAction) Kind() ActionKind         { return KindSwitchTab }
func (ListTabsAction) Kind() ActionKind          { return KindListTabs }
func (CloseTabAction) Kind() ActionKind          { return KindCloseTab }
func (CreateTabAction) Kind() ActionKind         { return KindCreateTab }

func (NavigateAction) isBrowserAction()          {}
func (ClickAction) isBrowserAction()             {}
func (TypeAction) isBrowserAction()              {}
func (SearchAction) isBrowserAction()            {}
func (BackAction) isBrowserAction()              {}
func (ForwardAction) isBrowserAction()           {}
func (RefreshAction) isBrowserAction()           {}
func (ScrollDownAction) isBrowserAction()        {}
func (ScrollUpAction) isBrowserAction()          {}
func (GetContentAction) isBrowserAction()        {}
func (VisualInteractionAction) isBrowserAction() {}
func (SwitchTabAction) isBrowserAction()         {}
func (ListTabsAction) isBrowserAction()          {}
func (CloseTabAction) isBrowserAction()          {}
func (CreateTabAction) isBrowserAction()         {}

// IsReadOnly 报告动作是否只读取页面而不改变页面状态.
func IsReadOnly(a BrowserAction) bool {
	switch a.(type) {
	case GetContentAction, ListTabsAction:
		return true
	default:
		return false
	}
}

// Describe 返回用于日志与历史记录的简短描述.
func Describe(a BrowserAction) string {
	switch v := a.(type) {
	case NavigateAction:
		return fmt.Sprintf("navigate %s", v.URL)
	case ClickAction:
		return fmt.Sprintf("click %s", v.Selector)
	case TypeAction:
		return fmt.Sprintf("type %q into %s", v.Text, v.Selector)
	case SearchAction:
		return fmt.Sprintf("search %q on %s", v.Query, v.Engine)
	case VisualInteractionAction:
		return fmt.Sprintf("visual click %q", v.Instruction)
	case SwitchTabAction:
		return fmt.Sprintf("switch to tab %d", v.Index)
	case CloseTabAction:
		return fmt.Sprintf("close tab %d", v.Index)
	case CreateTabAction:
		if v.Title != "" {
			return fmt.Sprintf("open tab %s (%s)", v.URL, v.Title)
		}
		return fmt.Sprintf("open tab %s", v.URL)
	case nil:
		return "<nil>"
	default:
		return string(a.Kind())
	}
}
