package browser

import (
	"net/url"
	"strings"
)

// SearchEngine 支持的搜索引擎
type SearchEngine string

const (
	EngineBaidu  SearchEngine = "baidu"
	EngineGoogle SearchEngine = "google"
	EngineBing   SearchEngine = "bing"
)

type engineProfile struct {
	searchURL   string
	hosts       []string
	resultLinks []string
}

var engineProfiles = map[SearchEngine]engineProfile{
	EngineBaidu: {
		searchURL:   "https://www.baidu.com/s?wd=",
		hosts:       []string{"baidu.com"},
		resultLinks: []string{"#content_left .result h3 a", "#content_left .c-container h3 a"},
	},
	EngineGoogle: {
		searchURL:   "https://www.google.com/search?q=",
		hosts:       []string{"google."},
		resultLinks: []string{`#search .g a[href^="http"]`, "#rso a:has(h3)"},
	},
	EngineBing: {
		searchURL:   "https://www.bing.com/search?q=",
		hosts:       []string{"bing.com"},
		resultLinks: []string{"#b_results .b_algo h2 a"},
	},
}

// ParseSearchEngine 解析引擎名称, 未知名称返回 false.
func ParseSearchEngine(name string) (SearchEngine, bool) {
	e := SearchEngine(strings.ToLower(strings.TrimSpace(name)))
	_, ok := engineProfiles[e]
	return e, ok
}

// SearchURL 返回查询对应的结果页 URL. 未知引擎回退到百度.
func (e SearchEngine) SearchURL(query string) string {
	p, ok := engineProfiles[e]
	if !ok {
		p = engineProfiles[EngineBaidu]
	}
	return p.searchURL + url.QueryEscape(query)
}

// ResultSelectors 返回该引擎结果页上第一条结果链接的候选选择器.
func (e SearchEngine) ResultSelectors() []string {
	return engineProfiles[e].resultLinks
}

// DetectSearchEngine 根据 URL 判断当前是否处于某个搜索引擎的结果页.
func DetectSearchEngine(rawURL string) (SearchEngine, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Host)
	for e, p := range engineProfiles {
		for _, h := range p.hosts {
			if strings.Contains(host, h) {
				return e, true
			}
		}
	}
	return "", false
}
