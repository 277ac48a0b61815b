// =============================================================================
// 📦 浏览器任务引擎配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("BROWSERAGENT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 是环境变量的默认前缀
const DefaultEnvPrefix = "BROWSERAGENT"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是任务引擎的完整配置结构
type Config struct {
	// Browser 页面视图配置
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Engine 任务执行配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Persistence 任务检查点存储配置
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	// 是否无头模式
	Headless bool `yaml:"headless" env:"HEADLESS"`
	// Chrome 可执行文件路径（为空时自动查找）
	ExecPath string `yaml:"exec_path" env:"EXEC_PATH"`
	// 单个动作超时
	ActionTimeout time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT"`
	// 动作之后等待页面稳定的时间
	SettleDelay time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	// 窗口宽度
	WindowWidth int `yaml:"window_width" env:"WINDOW_WIDTH"`
	// 窗口高度
	WindowHeight int `yaml:"window_height" env:"WINDOW_HEIGHT"`
	// User-Agent（为空时使用浏览器默认值）
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	// 页面文本最大字符数
	MaxContentChars int `yaml:"max_content_chars" env:"MAX_CONTENT_CHARS"`
	// 默认搜索引擎: baidu, google, bing
	SearchEngine string `yaml:"search_engine" env:"SEARCH_ENGINE"`
	// 页面视图池大小（并行循环任务使用）
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// EngineConfig 任务执行配置
type EngineConfig struct {
	// 单步重试上限
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试间隔（固定）
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 每个任务允许的恢复次数
	MaxRecoveries int `yaml:"max_recoveries" env:"MAX_RECOVERIES"`
	// 步骤数超过该值时尝试分解
	DecomposeThreshold int `yaml:"decompose_threshold" env:"DECOMPOSE_THRESHOLD"`
	// 循环任务最多处理的条目数
	MaxLoopItems int `yaml:"max_loop_items" env:"MAX_LOOP_ITEMS"`
	// 循环任务并行度, 1 为串行
	LoopParallelism int `yaml:"loop_parallelism" env:"LOOP_PARALLELISM"`
	// 交互式任务步骤总数上限
	MaxInteractiveSteps int `yaml:"max_interactive_steps" env:"MAX_INTERACTIVE_STEPS"`
	// 交互式任务追加计划的轮数上限
	MaxInteractiveRounds int `yaml:"max_interactive_rounds" env:"MAX_INTERACTIVE_ROUNDS"`
	// 放入提示词的页面内容 token 上限
	ContentTokenBudget int `yaml:"content_token_budget" env:"CONTENT_TOKEN_BUDGET"`
	// 整个任务的超时, 0 表示不限
	TaskTimeout time.Duration `yaml:"task_timeout" env:"TASK_TIMEOUT"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider 名称（用于日志与指标）
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（OpenAI 兼容）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 文本模型
	Model string `yaml:"model" env:"MODEL"`
	// 视觉模型（为空时使用文本模型）
	VisionModel string `yaml:"vision_model" env:"VISION_MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 每秒请求数限制, 0 表示不限
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 单次回复最大 token
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
}

// PersistenceConfig 任务检查点存储配置
type PersistenceConfig struct {
	// 类型: memory, file, redis, sql
	Type string `yaml:"type" env:"TYPE"`
	// 文件存储目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// 已结束任务的保留时间
	TaskRetention time.Duration `yaml:"task_retention" env:"TASK_RETENTION"`
	// 清理间隔, 0 表示不清理
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Database 配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// /metrics 监听地址, 为空时不暴露
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置, 文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Engine.MaxRetries < 0 {
		errs = append(errs, "engine.max_retries must not be negative")
	}
	if c.Engine.RetryDelay < 0 {
		errs = append(errs, "engine.retry_delay must not be negative")
	}
	if c.Engine.DecomposeThreshold <= 0 {
		errs = append(errs, "engine.decompose_threshold must be positive")
	}
	if c.Engine.LoopParallelism <= 0 {
		errs = append(errs, "engine.loop_parallelism must be positive")
	}
	if c.Engine.LoopParallelism > 1 && c.Browser.PoolSize < c.Engine.LoopParallelism {
		errs = append(errs, "browser.pool_size must be >= engine.loop_parallelism")
	}
	if c.Engine.MaxInteractiveSteps <= 0 {
		errs = append(errs, "engine.max_interactive_steps must be positive")
	}
	switch c.Browser.SearchEngine {
	case "baidu", "google", "bing":
	default:
		errs = append(errs, fmt.Sprintf("unknown browser.search_engine %q", c.Browser.SearchEngine))
	}
	switch c.Persistence.Type {
	case "memory", "file", "redis", "sql":
	default:
		errs = append(errs, fmt.Sprintf("unknown persistence.type %q", c.Persistence.Type))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
