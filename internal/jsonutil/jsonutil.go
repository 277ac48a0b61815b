// Package jsonutil 从 LLM 自由文本中宽松地提取 JSON.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON 表示响应中找不到 JSON 结构.
var ErrNoJSON = errors.New("no JSON found in response")

var (
	fencedBlockRegex   = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)
	singleQuoteKey     = regexp.MustCompile(`([{,]\s*)'(\w+)'(\s*:)`)
	missingCommaRegex  = regexp.MustCompile(`(["\d}\]]|true|false|null)\s*\n\s*("[^"\n]+"\s*:)`)
)

// Extract 依次尝试: 整体解析 → 代码块 → 第一个 {/[ 起的单值解码 → 最外层 {...} → 修复后再解析.
func Extract[T any](response string) (T, error) {
	var result T

	text := strings.TrimSpace(response)
	if text == "" {
		return result, ErrNoJSON
	}

	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, nil
	}

	candidates := make([]string, 0, 3)
	if m := fencedBlockRegex.FindStringSubmatch(text); len(m) == 2 {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if idx := strings.IndexAny(text, "{["); idx >= 0 {
		candidates = append(candidates, text[idx:])
	}
	if obj := OutermostObject(text); obj != "" {
		candidates = append(candidates, obj)
	}
	if len(candidates) == 0 {
		return result, ErrNoJSON
	}

	var lastErr error
	for _, c := range candidates {
		if err := decodeFirst(c, &result); err == nil {
			return result, nil
		} else {
			lastErr = err
		}
		if repaired := Repair(c); repaired != c {
			if err := decodeFirst(repaired, &result); err == nil {
				return result, nil
			}
		}
	}
	return result, fmt.Errorf("parse JSON: %w", lastErr)
}

// decodeFirst 只解码第一个 JSON 值, 忽略尾随文本.
func decodeFirst(s string, v any) error {
	return json.NewDecoder(strings.NewReader(s)).Decode(v)
}

// OutermostObject 返回第一个 '{' 到最后一个 '}' 之间的子串.
func OutermostObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// Repair 修正 LLM 常见的 JSON 语法错误: 尾随逗号、单引号键、缺失逗号、字符串内控制字符.
func Repair(input string) string {
	out := sanitizeControlChars(input)
	out = missingCommaRegex.ReplaceAllString(out, `$1, $2`)
	out = trailingCommaRegex.ReplaceAllString(out, `$1`)
	out = singleQuoteKey.ReplaceAllString(out, `$1"$2"$3`)
	return out
}

func sanitizeControlChars(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	inString, escaped := false, false
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString && c == '\n':
			b.WriteString(`\n`)
			continue
		case inString && c == '\t':
			b.WriteString(`\t`)
			continue
		case inString && c == '\r':
			b.WriteString(`\r`)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
