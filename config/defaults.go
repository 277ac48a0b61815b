// =============================================================================
// 📦 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Browser:     DefaultBrowserConfig(),
		Engine:      DefaultEngineConfig(),
		LLM:         DefaultLLMConfig(),
		Persistence: DefaultPersistenceConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
		Metrics:     DefaultMetricsConfig(),
	}
}

// DefaultBrowserConfig 返回默认浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:        true,
		ActionTimeout:   30 * time.Second,
		SettleDelay:     500 * time.Millisecond,
		WindowWidth:     1920,
		WindowHeight:    1080,
		MaxContentChars: 20000,
		SearchEngine:    "baidu",
		PoolSize:        1,
	}
}

// DefaultEngineConfig 返回默认执行配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetries:           3,
		RetryDelay:           500 * time.Millisecond,
		MaxRecoveries:        2,
		DecomposeThreshold:   5,
		MaxLoopItems:         5,
		LoopParallelism:      1,
		MaxInteractiveSteps:  20,
		MaxInteractiveRounds: 5,
		ContentTokenBudget:   3000,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		BaseURL:        "https://api.openai.com",
		Model:          "gpt-4o-mini",
		Timeout:        2 * time.Minute,
		MaxRetries:     2,
		RateLimitRPS:   2,
		RateLimitBurst: 4,
		MaxTokens:      2048,
		Temperature:    0.2,
	}
}

// DefaultPersistenceConfig 返回默认检查点存储配置
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Type:            "memory",
		BaseDir:         "./data/tasks",
		TaskRetention:   24 * time.Hour,
		CleanupInterval: time.Hour,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "browseragent:",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			User:            "browseragent",
			Name:            "./data/tasks.db",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "browseragent",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "browseragent",
	}
}
