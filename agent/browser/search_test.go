package browser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
)

func TestSearchEngine_SearchURL(t *testing.T) {
	assert.Equal(t, "https://www.baidu.com/s?wd=%E4%BA%BA%E5%B7%A5%E6%99%BA%E8%83%BD", browser.EngineBaidu.SearchURL("人工智能"))
	assert.Equal(t, "https://www.google.com/search?q=go+lang", browser.EngineGoogle.SearchURL("go lang"))
	assert.Equal(t, "https://www.bing.com/search?q=a%26b", browser.EngineBing.SearchURL("a&b"))
	assert.Equal(t, browser.EngineBaidu.SearchURL("x"), browser.SearchEngine("yahoo").SearchURL("x"))
}

func TestParseAndDetectSearchEngine(t *testing.T) {
	e, ok := browser.ParseSearchEngine(" Google ")
	assert.True(t, ok)
	assert.Equal(t, browser.EngineGoogle, e)

	_, ok = browser.ParseSearchEngine("duckduckgo")
	assert.False(t, ok)

	e, ok = browser.DetectSearchEngine("https://www.bing.com/search?q=x")
	assert.True(t, ok)
	assert.Equal(t, browser.EngineBing, e)

	e, ok = browser.DetectSearchEngine("https://www.google.com.hk/search?q=x")
	assert.True(t, ok)
	assert.Equal(t, browser.EngineGoogle, e)

	_, ok = browser.DetectSearchEngine("https://example.com")
	assert.False(t, ok)
	_, ok = browser.DetectSearchEngine("not a url")
	assert.False(t, ok)
}

func TestActionKindsAndDescribe(t *testing.T) {
	assert.True(t, browser.IsReadOnly(browser.GetContentAction{}))
	assert.True(t, browser.IsReadOnly(browser.ListTabsAction{}))
	assert.False(t, browser.IsReadOnly(browser.ClickAction{Selector: "#a"}))

	assert.Equal(t, "click #a", browser.Describe(browser.ClickAction{Selector: "#a"}))
	assert.Equal(t, `search "go" on bing`, browser.Describe(browser.SearchAction{Engine: browser.EngineBing, Query: "go"}))
	assert.Equal(t, "scroll_down", browser.Describe(browser.ScrollDownAction{}))
	assert.Equal(t, "<nil>", browser.Describe(nil))
}
