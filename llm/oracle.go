package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/metrics"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/telemetry"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/retry"
	"github.com/xiaoyun172/CS-LLM-house-sub001/types"

	"go.opentelemetry.io/otel/attribute"
)

// Oracle 是任务引擎使用的文本/视觉生成服务.
// 返回的是无类型自由文本, 调用方必须宽松解析.
type Oracle interface {
	// Generate 根据提示词与对话历史生成文本. modelHint 为空时使用默认模型.
	Generate(ctx context.Context, prompt string, history []types.Message, modelHint string) (string, error)

	// GenerateWithImage 携带一张截图生成文本.
	GenerateWithImage(ctx context.Context, prompt string, image []byte, modelHint string) (string, error)
}

// OracleConfig ProviderOracle 的配置
type OracleConfig struct {
	Model          string
	VisionModel    string
	SystemPrompt   string
	MaxTokens      int
	Temperature    float32
	RateLimitRPS   float64
	RateLimitBurst int
	Retry          *retry.Policy
}

// ProviderOracle 在 Provider 之上实现 Oracle: 限流、重试、指标与 span.
type ProviderOracle struct {
	provider  Provider
	cfg       OracleConfig
	retryer   *retry.Retryer
	limiter   *rate.Limiter
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewProviderOracle 创建 ProviderOracle. collector 可为 nil.
func NewProviderOracle(provider Provider, cfg OracleConfig, collector *metrics.Collector, logger *zap.Logger) *ProviderOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "oracle"), zap.String("provider", provider.Name()))

	policy := cfg.Retry
	if policy == nil {
		policy = retry.OraclePolicy()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &ProviderOracle{
		provider:  provider,
		cfg:       cfg,
		retryer:   retry.New(policy, logger),
		limiter:   limiter,
		collector: collector,
		logger:    logger,
	}
}

// Generate implements Oracle.
func (o *ProviderOracle) Generate(ctx context.Context, prompt string, history []types.Message, modelHint string) (string, error) {
	msgs := make([]types.Message, 0, len(history)+2)
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, types.NewSystemMessage(o.cfg.SystemPrompt))
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, types.NewUserMessage(prompt))

	return o.complete(ctx, pick(modelHint, o.cfg.Model), msgs)
}

// GenerateWithImage implements Oracle.
func (o *ProviderOracle) GenerateWithImage(ctx context.Context, prompt string, image []byte, modelHint string) (string, error) {
	msg := types.NewUserMessage(prompt)
	if len(image) > 0 {
		mime := http.DetectContentType(image)
		if !strings.HasPrefix(mime, "image/") {
			mime = "image/png"
		}
		msg.Images = []types.ImageContent{{
			Type:     "base64",
			Data:     base64.StdEncoding.EncodeToString(image),
			MimeType: mime,
		}}
	}
	model := pick(modelHint, pick(o.cfg.VisionModel, o.cfg.Model))
	return o.complete(ctx, model, []types.Message{msg})
}

func (o *ProviderOracle) complete(ctx context.Context, model string, msgs []types.Message) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm.completion",
		attribute.String("llm.provider", o.provider.Name()),
		attribute.String("llm.model", model),
	)

	req := &ChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	start := time.Now()
	resp, err := retry.Do(ctx, o.retryer, func(attempt int) (*ChatResponse, error) {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, retry.Permanent(err)
			}
		}
		return o.provider.Completion(ctx, req)
	})

	status := "success"
	var usage ChatUsage
	if err != nil {
		status = "error"
	} else {
		usage = resp.Usage
	}
	o.collector.RecordLLMRequest(o.provider.Name(), model, status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)

	if err != nil {
		telemetry.EndSpan(span, err)
		o.logger.Warn("oracle call failed", zap.String("model", model), zap.Error(err))
		if _, ok := types.AsError(err); ok {
			return "", err
		}
		return "", types.NewError(types.ErrOracleUnavailable, "oracle call failed").WithCause(err)
	}

	content := resp.FirstContent()
	telemetry.EndSpan(span, nil)
	if strings.TrimSpace(content) == "" {
		return "", types.NewError(types.ErrOracleParseFailure, fmt.Sprintf("empty completion from %s", o.provider.Name()))
	}
	return content, nil
}

func pick(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return fallback
}
