package metrics

import (
	"strconv"
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
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 激活指标
	activationsTotal *prometheus.CounterVec
	activeSkills     prometheus.Gauge

	// 上下文指标
	contextBuildsTotal   *prometheus.CounterVec
	contextTokens        prometheus.Histogram
	contextBuildDuration prometheus.Histogram
	contextCacheEvents   *prometheus.CounterVec

	// 注册表指标
	registeredSkills prometheus.Gauge

	// 存储指标
	storeOperationDuration *prometheus.HistogramVec
	storeErrorsTotal       *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器. reg 为 nil 时注册到 prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 激活指标
	c.activationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_activations_total",
			Help:      "Total number of skill activation attempts",
		},
		[]string{"skill", "via", "outcome"},
	)

	c.activeSkills = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_skills",
			Help:      "Number of currently active skills",
		},
	)

	// 上下文指标
	c.contextBuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_builds_total",
			Help:      "Total number of context builds",
		},
		[]string{"cached", "truncated"},
	)

	c.contextTokens = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_tokens",
			Help:      "Token count of built contexts",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 10),
		},
	)

	c.contextBuildDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_build_duration_seconds",
			Help:      "Context build duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	c.contextCacheEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_cache_events_total",
			Help:      "Context cache events by type",
		},
		[]string{"event"}, // hit, miss, remote_hit, eviction, corrupt
	)

	// 注册表指标
	c.registeredSkills = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_skills",
			Help:      "Number of skills in the registry",
		},
	)

	// 存储指标
	c.storeOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Registry store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.storeErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of failed registry store operations",
		},
		[]string{"backend", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// ⚡ 激活指标记录（activation.Observer）
// =============================================================================

// ObserveActivation 记录一次激活尝试
func (c *Collector) ObserveActivation(skill, via, outcome string) {
	c.activationsTotal.WithLabelValues(skill, via, outcome).Inc()
}

// ObserveActiveSkills 记录当前活跃技能数
func (c *Collector) ObserveActiveSkills(count int) {
	c.activeSkills.Set(float64(count))
}

// =============================================================================
// 🧩 上下文指标记录（context.BuildObserver / context.CacheObserver）
// =============================================================================

// ObserveContextBuild 记录一次上下文构建
func (c *Collector) ObserveContextBuild(tokens int, truncated, cached bool, elapsed time.Duration) {
	c.contextBuildsTotal.WithLabelValues(strconv.FormatBool(cached), strconv.FormatBool(truncated)).Inc()
	c.contextTokens.Observe(float64(tokens))
	c.contextBuildDuration.Observe(elapsed.Seconds())
}

// ObserveCacheEvent 记录上下文缓存事件
func (c *Collector) ObserveCacheEvent(event string) {
	c.contextCacheEvents.WithLabelValues(event).Inc()
}

// =============================================================================
// 🗄️ 注册表与存储指标记录
// =============================================================================

// RecordRegistrySize 记录注册表技能数
func (c *Collector) RecordRegistrySize(n int) {
	c.registeredSkills.Set(float64(n))
}

// RecordStoreOperation 记录存储操作，err 非 nil 时计入失败
func (c *Collector) RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	c.storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		c.storeErrorsTotal.WithLabelValues(backend, operation).Inc()
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
