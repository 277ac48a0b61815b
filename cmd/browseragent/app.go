package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browsertask"
	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/persistence"
	"github.com/xiaoyun172/CS-LLM-house-sub001/config"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/metrics"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/server"
	"github.com/xiaoyun172/CS-LLM-house-sub001/internal/telemetry"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/providers/openaicompat"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/retry"
	"github.com/xiaoyun172/CS-LLM-house-sub001/llm/tokenizer"
)

// app 持有一次命令执行所需的全部组件, Close 按创建的逆序释放
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	engine  *browsertask.Engine
	closers []func(context.Context) error
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp 组装引擎. withBrowser 为 false 时不启动浏览器, 只用于编译.
func newApp(ctx context.Context, configPath string, withBrowser bool) (a *app, err error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := initLogger(cfg.Log)
	a = &app{cfg: cfg, logger: logger}
	a.onClose(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("starting browseragent",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit))

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		a.onClose(otelProviders.Shutdown)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	oracle := newOracle(cfg.LLM, collector, logger)

	store, err := persistence.NewTaskStore(cfg.Persistence, collector, logger)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	a.onClose(func(context.Context) error { return store.Close() })

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != "" {
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.ListenAddr
		ops := server.NewManager(server.NewOpsHandler(prometheus.DefaultGatherer, map[string]server.HealthCheck{
			"task_store": store.Ping,
		}), srvCfg, logger)
		if err := ops.Start(); err != nil {
			return nil, err
		}
		a.onClose(ops.Shutdown)
	}

	opts := []browsertask.Option{
		browsertask.WithLogger(logger),
		browsertask.WithCollector(collector),
		browsertask.WithTaskStore(store),
	}

	var page browser.PageView
	if withBrowser {
		view, err := browser.NewChromeDPPageView(cfg.Browser, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return view.Close() })
		page = view

		if cfg.Browser.PoolSize > 1 {
			pool, err := browser.NewBrowserPool(ctx, browser.BrowserPoolConfig{MaxSize: cfg.Browser.PoolSize},
				func(context.Context) (browser.PageView, error) {
					return browser.NewChromeDPPageView(cfg.Browser, logger)
				}, logger)
			if err != nil {
				return nil, err
			}
			a.onClose(func(context.Context) error { return pool.Close() })
			opts = append(opts, browsertask.WithPagePool(pool))
		}
	}

	a.engine = browsertask.NewEngine(oracle, page, browsertask.ConfigFrom(cfg), opts...)
	return a, nil
}

// newOracle 在 OpenAI 兼容接口之上构建 Oracle. 未配置 API Key 时返回 nil,
// 引擎退化为只使用确定性规则.
func newOracle(cfg config.LLMConfig, collector *metrics.Collector, logger *zap.Logger) llm.Oracle {
	if cfg.APIKey == "" {
		logger.Warn("llm api key not configured, running without oracle")
		return nil
	}
	provider := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.Provider,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}, logger)

	// OpenAI 系列模型用 tiktoken 计算提示词预算, 其余模型回退到估算器
	tokenizer.RegisterOpenAITokenizers()

	policy := retry.OraclePolicy()
	policy.MaxRetries = cfg.MaxRetries
	return llm.NewProviderOracle(provider, llm.OracleConfig{
		Model:          cfg.Model,
		VisionModel:    cfg.VisionModel,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    float32(cfg.Temperature),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Retry:          policy,
	}, collector, logger)
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close 释放资源, 每个步骤共享 10 秒的关闭时限
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
	}
}
