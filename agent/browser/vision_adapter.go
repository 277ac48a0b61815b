package browser

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/jsonutil"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
)

const locatePrompt = `你是网页元素定位助手。根据截图找到与下述描述最匹配的可点击元素。
描述: %s

只返回 JSON, 不要 markdown:
{"selector": "CSS 选择器(不确定可留空)", "text": "元素上可见的文字", "description": "元素的简短说明"}`

// LLMVisionAdapter 用 Oracle 的视觉能力实现 VisualLocator
type LLMVisionAdapter struct {
	oracle    llm.Oracle
	modelHint string
	logger    *zap.Logger
}

// NewLLMVisionAdapter 创建视觉适配器
func NewLLMVisionAdapter(oracle llm.Oracle, modelHint string, logger *zap.Logger) *LLMVisionAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMVisionAdapter{
		oracle:    oracle,
		modelHint: modelHint,
		logger:    logger.With(zap.String("component", "vision_adapter")),
	}
}

// Locate 分析截图并返回目标元素的猜测
func (a *LLMVisionAdapter) Locate(ctx context.Context, screenshot []byte, instruction string) (*LocatorHint, error) {
	if len(screenshot) == 0 {
		return nil, fmt.Errorf("empty screenshot")
	}

	response, err := a.oracle.GenerateWithImage(ctx, fmt.Sprintf(locatePrompt, instruction), screenshot, a.modelHint)
	if err != nil {
		return nil, fmt.Errorf("vision analysis failed: %w", err)
	}

	hint, err := jsonutil.Extract[LocatorHint](response)
	if err != nil {
		// 非 JSON 回复按可见文字处理
		a.logger.Warn("failed to parse vision response as JSON, using raw", zap.Error(err))
		text := strings.Trim(strings.TrimSpace(response), "\"'`")
		if text == "" {
			return nil, fmt.Errorf("empty vision response")
		}
		return &LocatorHint{Text: text}, nil
	}

	a.logger.Debug("vision locate complete",
		zap.String("selector", hint.Selector),
		zap.String("text", hint.Text))
	return &hint, nil
}
