package browsertask

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	searchVerbPattern = regexp.MustCompile(`(?i)^\s*(?:搜索|搜寻|搜一下|search)`)
	openVerbPattern   = regexp.MustCompile(`(?i)^\s*(?:打开|访问|前往|进入|浏览|导航到|open|visit|browse|go\s+to|navigate\s+to)`)

	urlPattern    = regexp.MustCompile(`https?://[^\s"'”“<>]+`)
	domainPattern = regexp.MustCompile(`(?i)\b((?:[a-z0-9-]+\.)+(?:com|cn|org|net|io|edu|gov|dev|ai|co|info|me|tv|app|wiki)(?:/[^\s"'”“<>]*)?)`)

	conjunctionPattern = regexp.MustCompile(`(?i)并且|并|然后|接着|之后|[，,；;]|\band\b|\bthen\b`)

	taskTypeRules = []struct {
		pattern  *regexp.Regexp
		taskType TaskType
	}{
		{regexp.MustCompile(`(?i)直到|持续|不断|一直|\buntil\b|\bkeep\s+(?:going|\w+ing)\b`), TaskTypeInteractive},
		{regexp.MustCompile(`(?i)每个|每一个|每一|逐个|逐一|分别|\beach\b|\bevery\b|\bfor\s+all\b`), TaskTypeLoop},
		{regexp.MustCompile(`(?i)如果|假如|若是|否则|不然|\bif\b|\botherwise\b|\bunless\b`), TaskTypeConditional},
		{regexp.MustCompile(`(?i)收集|采集|抓取|整理成|提取.*(?:数据|列表|表格)|\bcollect\b|\bextract\b|\bscrape\b|\bgather\b`), TaskTypeDataCollection},
	}
)

// isGroundingStep 步骤以搜索开头, 或以打开开头且带有网址
func isGroundingStep(step string) bool {
	if searchVerbPattern.MatchString(step) {
		return true
	}
	return openVerbPattern.MatchString(step) && extractURL(step) != ""
}

// extractURL 提取步骤中的网址, 裸域名补全为 https
func extractURL(text string) string {
	if m := urlPattern.FindString(text); m != "" {
		return trimURL(m)
	}
	if m := domainPattern.FindStringSubmatch(text); len(m) == 2 {
		return "https://" + trimURL(m[1])
	}
	return ""
}

func trimURL(u string) string {
	return strings.TrimRight(u, `.,;:!?)）。，、"'”`)
}

// inferTaskType 按关键词推断任务类型
func inferTaskType(instruction string) TaskType {
	for _, rule := range taskTypeRules {
		if rule.pattern.MatchString(instruction) {
			return rule.taskType
		}
	}
	return TaskTypeMultiStep
}

// isSimpleQuery 查询中没有连接词, 不是复合指令
func isSimpleQuery(q string) bool {
	return strings.TrimSpace(q) != "" && !conjunctionPattern.MatchString(q)
}

func searchStep(query string) string {
	return fmt.Sprintf(`搜索"%s"`, unquote(query))
}

// unquote 去掉首尾的中英文引号
func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'“”「」『』`)
}
