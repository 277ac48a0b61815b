package tokenizer

// Estimator 基于字符数的 token 估算器.
// CJK 约 1.5 字符/token, 其他约 4 字符/token.
type Estimator struct{}

// NewEstimator creates a generic estimator.
func NewEstimator() *Estimator { return &Estimator{} }

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var cost float64
	for _, r := range text {
		cost += runeCost(r)
	}
	n := int(cost)
	if n == 0 {
		n = 1
	}
	return n, nil
}

// Truncate 按累计估算成本截断, 保证不切断多字节字符.
func (e *Estimator) Truncate(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	var cost float64
	for i, r := range text {
		cost += runeCost(r)
		if cost > float64(maxTokens) {
			return text[:i], nil
		}
	}
	return text, nil
}

func (e *Estimator) Name() string { return "estimator" }

func runeCost(r rune) float64 {
	if isCJK(r) {
		return 1 / 1.5
	}
	return 1 / 4.0
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
