package browsertask

import "strings"

// AnalysisTarget 决定下一次读取的页面内容存放到哪里
type AnalysisTarget string

const (
	TargetNone          AnalysisTarget = ""
	TargetSearchResults AnalysisTarget = "search_results"
	TargetPage          AnalysisTarget = "page"
	TargetItem1         AnalysisTarget = "item1"
	TargetItem2         AnalysisTarget = "item2"
)

// ComparisonState 比较类任务的两个对象及其资料
type ComparisonState struct {
	Items     []string `json:"items,omitempty"`
	Item1Data string   `json:"item1_data,omitempty"`
	Item2Data string   `json:"item2_data,omitempty"`
}

// LoopState 循环任务的条目与探测结果
type LoopState struct {
	Items       []string `json:"items,omitempty"`
	ProbeResult string   `json:"probe_result,omitempty"`
}

// ConditionalState 条件任务选中的分支
type ConditionalState struct {
	Condition   string `json:"condition,omitempty"`
	ProbeResult string `json:"probe_result,omitempty"`
}

// InteractiveState 交互任务已追加计划的轮数
type InteractiveState struct {
	Rounds int `json:"rounds"`
}

// ExecutionState 是任务的步骤间草稿区. 只由执行器与翻译器写入.
// 各策略使用各自的字段, 不会互相覆盖.
type ExecutionState struct {
	AnalysisTarget AnalysisTarget `json:"analysis_target,omitempty"`
	SearchQuery    string         `json:"search_query,omitempty"`
	LastURL        string         `json:"last_url,omitempty"`
	LastContent    string         `json:"last_content,omitempty"`
	SearchResults  string         `json:"search_results,omitempty"`
	PageAnalysis   string         `json:"page_analysis,omitempty"`
	GroundingDone  bool           `json:"grounding_done,omitempty"`

	Comparison  *ComparisonState  `json:"comparison,omitempty"`
	Loop        *LoopState        `json:"loop,omitempty"`
	Conditional *ConditionalState `json:"conditional,omitempty"`
	Interactive *InteractiveState `json:"interactive,omitempty"`

	// Notes 留给临时键值
	Notes map[string]string `json:"notes,omitempty"`
}

// SetNote 写入临时键值
func (s *ExecutionState) SetNote(key, value string) {
	if s.Notes == nil {
		s.Notes = make(map[string]string)
	}
	s.Notes[key] = value
}

// Note 读取临时键值
func (s *ExecutionState) Note(key string) (string, bool) {
	v, ok := s.Notes[key]
	return v, ok
}

// fileContent 记录最新内容, 并按 AnalysisTarget 归档后清空目标.
func (s *ExecutionState) fileContent(url, text string) {
	s.LastURL = url
	s.LastContent = text

	switch s.AnalysisTarget {
	case TargetSearchResults:
		s.SearchResults = text
	case TargetPage:
		s.PageAnalysis = text
	case TargetItem1:
		s.comparison().Item1Data = text
	case TargetItem2:
		s.comparison().Item2Data = text
	}
	s.AnalysisTarget = TargetNone
}

func (s *ExecutionState) comparison() *ComparisonState {
	if s.Comparison == nil {
		s.Comparison = &ComparisonState{}
	}
	return s.Comparison
}

// gathered 返回已收集的内容, 按重要性排列, 用于结果合成
func (s *ExecutionState) gathered() []string {
	var parts []string
	add := func(label, text string) {
		if strings.TrimSpace(text) != "" {
			parts = append(parts, label+":\n"+text)
		}
	}
	add("页面内容", s.PageAnalysis)
	if c := s.Comparison; c != nil && len(c.Items) == 2 {
		add(c.Items[0], c.Item1Data)
		add(c.Items[1], c.Item2Data)
	}
	add("搜索结果", s.SearchResults)
	if len(parts) == 0 {
		add("当前页面", s.LastContent)
	}
	return parts
}

// normalizeKey 小写并去掉分隔符, 用于宽松匹配 LLM 输出的枚举值
func normalizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}
