package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/testutil/mocks"
)

type stubLocator struct {
	hint  *browser.LocatorHint
	err   error
	calls int
}

func (s *stubLocator) Locate(_ context.Context, shot []byte, _ string) (*browser.LocatorHint, error) {
	s.calls++
	if len(shot) == 0 {
		return nil, errors.New("no screenshot")
	}
	return s.hint, s.err
}

func navigate(t *testing.T, page *mocks.FakePageView, url string) {
	t.Helper()
	require.NoError(t, page.Navigate(context.Background(), url))
}

func TestElementResolver_SearchEngineResultSelectors(t *testing.T) {
	tests := []struct {
		name     string
		engine   browser.SearchEngine
		selector string
	}{
		{"baidu", browser.EngineBaidu, "#content_left .result h3 a"},
		{"google", browser.EngineGoogle, `#search .g a[href^="http"]`},
		{"bing", browser.EngineBing, "#b_results .b_algo h2 a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resultsURL := tt.engine.SearchURL("golang")
			page := mocks.NewFakePageView().WithPage(resultsURL, &mocks.FakePage{
				Queries: map[string][]browser.ElementInfo{
					tt.selector: {
						{Selector: "#hidden", Href: "https://hidden.test", Visible: false},
						{Selector: "#r1", Href: "https://go.dev", Text: "The Go Programming Language", Visible: true},
					},
				},
			})
			navigate(t, page, resultsURL)
			locator := &stubLocator{}

			res := browser.NewElementResolver(page, locator, nil, nil).Resolve(context.Background(), "点击第一个搜索结果")
			require.True(t, res.Success, res.Error)
			assert.Equal(t, "#r1", res.Selector)
			assert.Equal(t, browser.TierDeterministic, res.Tier)
			assert.Equal(t, string(tt.engine), res.Strategy)
			assert.Zero(t, locator.calls, "AI tier must not run after deterministic success")
		})
	}
}

func TestElementResolver_GenericHeuristic(t *testing.T) {
	page := mocks.NewFakePageView().WithPage("https://news.test", &mocks.FakePage{
		Queries: map[string][]browser.ElementInfo{
			"a[href]": {
				{Selector: "#short", Href: "https://news.test/a", Text: "更多", Visible: true},
				{Selector: "#js", Href: "javascript:void(0)", Text: "Subscribe now", Visible: true},
				{Selector: "#story", Href: "https://news.test/story", Text: "Breaking story", Visible: true},
			},
		},
	})
	navigate(t, page, "https://news.test")

	res := browser.NewElementResolver(page, nil, nil, nil).Resolve(context.Background(), "open the first result")
	require.True(t, res.Success)
	assert.Equal(t, "#story", res.Selector)
	assert.Equal(t, "heuristic", res.Strategy)
}

func TestElementResolver_AISelectorGuess(t *testing.T) {
	page := mocks.NewFakePageView().WithPage("https://app.test", &mocks.FakePage{
		Queries: map[string][]browser.ElementInfo{
			"#submit": {{Selector: "#submit", Text: "Submit", Visible: true}},
		},
	})
	navigate(t, page, "https://app.test")
	locator := &stubLocator{hint: &browser.LocatorHint{Selector: "#submit"}}

	res := browser.NewElementResolver(page, locator, nil, nil).Resolve(context.Background(), "press the submit control")
	require.True(t, res.Success)
	assert.Equal(t, "#submit", res.Selector)
	assert.Equal(t, browser.TierAI, res.Tier)
	assert.Equal(t, "selector", res.Strategy)
	assert.Equal(t, 1, locator.calls)
}

func TestElementResolver_AITextMatchAndFallback(t *testing.T) {
	elements := []browser.ElementInfo{
		{Selector: "#hidden", Text: "Checkout", Visible: false},
		{Selector: "#home", Text: "Home", Visible: true},
		{Selector: "#cart", Text: "Checkout now", Visible: true},
	}
	page := mocks.NewFakePageView().WithPage("https://shop.test", &mocks.FakePage{
		Queries: map[string][]browser.ElementInfo{browser.InteractiveSelector: elements},
	})
	navigate(t, page, "https://shop.test")

	locator := &stubLocator{hint: &browser.LocatorHint{Selector: "#missing", Text: "checkout"}}
	res := browser.NewElementResolver(page, locator, nil, nil).Resolve(context.Background(), "go to payment")
	require.True(t, res.Success)
	assert.Equal(t, "#cart", res.Selector)
	assert.Equal(t, "text-match", res.Strategy)
	assert.Contains(t, res.Attempted, "ai:selector")

	locator = &stubLocator{err: errors.New("vision offline")}
	res = browser.NewElementResolver(page, locator, nil, nil).Resolve(context.Background(), "zzz")
	require.True(t, res.Success)
	assert.Equal(t, "#home", res.Selector)
	assert.Equal(t, "first-interactive", res.Strategy)
}

func TestElementResolver_Exhausted(t *testing.T) {
	page := mocks.NewFakePageView()
	res := browser.NewElementResolver(page, nil, nil, nil).Resolve(context.Background(), "click the first result")
	assert.False(t, res.Success)
	assert.Contains(t, res.Attempted, "heuristic:first-link")
	assert.Contains(t, res.Attempted, "ai:first-interactive")
	assert.Contains(t, res.Error, "已尝试")
}

func TestElementResolver_NonResultInstructionSkipsDeterministicTier(t *testing.T) {
	page := mocks.NewFakePageView()
	res := browser.NewElementResolver(page, nil, nil, nil).Resolve(context.Background(), "press save")
	assert.False(t, res.Success)
	assert.NotContains(t, res.Attempted, "heuristic:first-link")
	assert.Zero(t, page.CallCount("QueryElements a[href]"))
}
