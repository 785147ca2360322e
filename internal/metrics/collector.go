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

// Collector 指标收集器
type Collector struct {
	// 轮次指标
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// 补全调用指标
	completionDuration *prometheus.HistogramVec
	completionErrors   *prometheus.CounterVec
	promptTokens       prometheus.Histogram

	// 历史与会话指标
	historyTrims   prometheus.Counter
	activeSessions prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of dispatched turns by outcome",
		},
		[]string{"outcome"},
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn handling duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	c.completionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Downstream completion call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"model"},
	)

	c.completionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_errors_total",
			Help:      "Total number of failed completion calls by error code",
		},
		[]string{"code"},
	)

	c.promptTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens_estimate",
			Help:      "Estimated prompt tokens per completion call",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 12),
		},
	)

	c.historyTrims = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_trimmed_entries_total",
			Help:      "Total number of history entries removed by trimming",
		},
	)

	c.activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of users currently in an active persona session",
		},
	)

	return c
}

// RecordTurn 记录一个已完成的轮次
func (c *Collector) RecordTurn(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
	c.turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCompletion 记录一次补全调用
func (c *Collector) RecordCompletion(model string, duration time.Duration, promptTokens int) {
	if c == nil {
		return
	}
	c.completionDuration.WithLabelValues(model).Observe(duration.Seconds())
	c.promptTokens.Observe(float64(promptTokens))
}

// RecordCompletionError 记录一次失败的补全调用
func (c *Collector) RecordCompletionError(code string) {
	if c == nil {
		return
	}
	c.completionErrors.WithLabelValues(code).Inc()
}

// RecordTrimmed 记录修剪移除的条数
func (c *Collector) RecordTrimmed(removed int) {
	if c == nil || removed <= 0 {
		return
	}
	c.historyTrims.Add(float64(removed))
}

// SetActiveSessions 上报当前活跃会话数
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.activeSessions.Set(float64(n))
}
