package tokenizer

import (
	"strings"
	"sync"
)

// Tokenizer 统计并截断提示词中的文本.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Truncate 将文本截断到不超过 maxTokens 个 token.
	Truncate(text string, maxTokens int) (string, error)

	// Name 返回分词器的名称.
	Name() string
}

// 全局分词器注册表.
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称注册分词器.
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// lookup 精确匹配, 其次最长前缀匹配(如 "gpt-4o" 匹配 "gpt-4o-mini").
func lookup(model string) (Tokenizer, bool) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, true
	}
	var best Tokenizer
	bestLen := 0
	for prefix, t := range modelTokenizers {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = t, len(prefix)
		}
	}
	return best, best != nil
}

// ForModel 返回该模型的注册分词器, 未注册时回退到估算器.
func ForModel(model string) Tokenizer {
	if t, ok := lookup(model); ok {
		return t
	}
	return NewEstimator()
}

// TruncateText 用 t 截断文本, 计数失败时按字符粗略截断.
func TruncateText(t Tokenizer, text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	out, err := t.Truncate(text, maxTokens)
	if err != nil {
		out, _ = NewEstimator().Truncate(text, maxTokens)
	}
	return out
}
