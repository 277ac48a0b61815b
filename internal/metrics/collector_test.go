package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector() *Collector {
	return NewCollectorWithRegisterer("test", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordTask(t *testing.T) {
	c := newTestCollector()

	c.RecordTask("loop", "completed", 3*time.Second)
	c.RecordTask("loop", "completed", time.Second)
	c.RecordTask("multi-step", "failed", time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.tasksTotal.WithLabelValues("loop", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.tasksTotal.WithLabelValues("multi-step", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.taskDuration))
}

func TestCollector_RecordStepsAndRecoveries(t *testing.T) {
	c := newTestCollector()

	c.RecordStep("success")
	c.RecordStep("failure")
	c.RecordStep("failure")
	c.RecordRecovery("skip-step")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.stepsTotal.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.recoveries.WithLabelValues("skip-step")))
}

func TestCollector_RecordAction(t *testing.T) {
	c := newTestCollector()

	c.RecordAction("click", true, 10*time.Millisecond)
	c.RecordAction("click", false, 10*time.Millisecond)
	c.RecordResolverAttempt("deterministic", false)
	c.RecordResolverAttempt("visual", true)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.actionsTotal.WithLabelValues("click", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.actionsTotal.WithLabelValues("click", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.resolverTiers.WithLabelValues("visual", "success")))
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	c := newTestCollector()

	c.RecordLLMRequest("openai", "gpt-4o", "success", time.Second, 100, 20)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("openai", "gpt-4o", "success")))
	assert.Equal(t, float64(100), testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")))
	assert.Equal(t, float64(20), testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("openai", "gpt-4o", "completion")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	c := newTestCollector()

	c.RecordDBConnections("tasks", 5, 2)

	assert.Equal(t, float64(5), testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("tasks")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("tasks")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTask("loop", "completed", time.Second)
		c.RecordStep("success")
		c.RecordRecovery("abort")
		c.RecordAction("navigate", true, time.Second)
		c.RecordResolverAttempt("dom", true)
		c.RecordLLMRequest("p", "m", "error", time.Second, 0, 0)
		c.RecordDBConnections("db", 1, 1)
	})
}
