// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "baidu", cfg.Browser.SearchEngine)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryDelay)
	assert.Equal(t, 5, cfg.Engine.DecomposeThreshold)
	assert.Equal(t, 20, cfg.Engine.MaxInteractiveSteps)
	assert.Equal(t, "memory", cfg.Persistence.Type)
	assert.Equal(t, "sqlite", cfg.Persistence.Database.Driver)
	assert.False(t, cfg.Telemetry.Enabled)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	yamlContent := `
browser:
  headless: false
  search_engine: google
  settle_delay: 250ms
engine:
  max_retries: 5
  retry_delay: 1s
  loop_parallelism: 2
llm:
  model: "qwen-vl-max"
  base_url: "https://dashscope.aliyuncs.com/compatible-mode"
persistence:
  type: redis
  redis:
    addr: "redis:6379"
    key_prefix: "test:"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "google", cfg.Browser.SearchEngine)
	assert.Equal(t, 250*time.Millisecond, cfg.Browser.SettleDelay)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, time.Second, cfg.Engine.RetryDelay)
	assert.Equal(t, "qwen-vl-max", cfg.LLM.Model)
	assert.Equal(t, "redis", cfg.Persistence.Type)
	assert.Equal(t, "redis:6379", cfg.Persistence.Redis.Addr)

	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 20, cfg.Engine.MaxInteractiveSteps)
	assert.Equal(t, 1920, cfg.Browser.WindowWidth)

	// loop_parallelism 2 需要 pool_size >= 2
	assert.Error(t, cfg.Validate())
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("TESTBA_ENGINE_MAX_RETRIES", "7")
	t.Setenv("TESTBA_ENGINE_RETRY_DELAY", "2s")
	t.Setenv("TESTBA_BROWSER_HEADLESS", "false")
	t.Setenv("TESTBA_LLM_TEMPERATURE", "0.9")
	t.Setenv("TESTBA_LOG_OUTPUT_PATHS", "stdout, /tmp/agent.log")
	t.Setenv("TESTBA_PERSISTENCE_DATABASE_DRIVER", "postgres")

	cfg, err := NewLoader().WithEnvPrefix("TESTBA").Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Engine.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Engine.RetryDelay)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 0.9, cfg.LLM.Temperature)
	assert.Equal(t, []string{"stdout", "/tmp/agent.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "postgres", cfg.Persistence.Database.Driver)
}

func TestLoader_EnvInvalidValue(t *testing.T) {
	t.Setenv("TESTBB_ENGINE_MAX_RETRIES", "many")

	_, err := NewLoader().WithEnvPrefix("TESTBB").Load()
	assert.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	assert.NoError(t, err)

	t.Setenv("TESTBC_BROWSER_SEARCH_ENGINE", "yahoo")
	_, err = NewLoader().WithEnvPrefix("TESTBC").WithValidator((*Config).Validate).Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "tasks.db"}
	assert.Equal(t, "tasks.db", lite.DSN())

	assert.Equal(t, "", (&DatabaseConfig{Driver: "oracle"}).DSN())
}
