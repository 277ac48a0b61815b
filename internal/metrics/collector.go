// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器. nil Collector 的所有方法都是空操作.
type Collector struct {
	// 任务指标
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	recoveries   *prometheus.CounterVec

	// 浏览器动作指标
	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	resolverTiers  *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器, 注册到 prometheus 默认注册表
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建注册到指定 Registerer 的收集器
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.tasksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of finished browser tasks",
		},
		[]string{"type", "status"},
	)

	c.taskDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Browser task duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	c.stepsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_steps_total",
			Help:      "Total number of step attempts",
		},
		[]string{"outcome"}, // success, failure, handled
	)

	c.recoveries = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_recoveries_total",
			Help:      "Total number of recovery decisions",
		},
		[]string{"strategy"},
	)

	c.actionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_actions_total",
			Help:      "Total number of executed browser actions",
		},
		[]string{"kind", "status"},
	)

	c.actionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "browser_action_duration_seconds",
			Help:      "Browser action duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	c.resolverTiers = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "element_resolver_attempts_total",
			Help:      "Element resolver attempts per tier",
		},
		[]string{"tier", "status"},
	)

	c.llmRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordTask 记录一个到达终态的任务
func (c *Collector) RecordTask(taskType, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(taskType, status).Inc()
	c.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// RecordStep 记录一次步骤尝试
func (c *Collector) RecordStep(outcome string) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(outcome).Inc()
}

// RecordRecovery 记录一次恢复决策
func (c *Collector) RecordRecovery(strategy string) {
	if c == nil {
		return
	}
	c.recoveries.WithLabelValues(strategy).Inc()
}

// RecordAction 记录一次浏览器动作
func (c *Collector) RecordAction(kind string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.actionsTotal.WithLabelValues(kind, status(success)).Inc()
	c.actionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordResolverAttempt 记录元素定位某一层的结果
func (c *Collector) RecordResolverAttempt(tier string, success bool) {
	if c == nil {
		return
	}
	c.resolverTiers.WithLabelValues(tier, status(success)).Inc()
}

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
