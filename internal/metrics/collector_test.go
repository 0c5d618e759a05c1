package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/skillflow/agent/activation"
	skillctx "github.com/BaSui01/skillflow/agent/context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ activation.Observer    = (*Collector)(nil)
	_ skillctx.CacheObserver = (*Collector)(nil)
	_ skillctx.BuildObserver = (*Collector)(nil)
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.activationsTotal)
	assert.NotNil(t, collector.contextCacheEvents)

	// 同一注册表重复注册会 panic
	assert.Panics(t, func() { NewCollector("test", reg, zap.NewNop()) })
	// 不同 namespace 可共存
	assert.NotPanics(t, func() { NewCollector("other", reg, nil) })
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/v1/skills", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/v1/skills", 204, 50*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/activate", 409, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/v1/skills", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/activate", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestDuration))
}

func TestCollector_ObserveActivation(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.ObserveActivation("git", "explicit", "activated")
	collector.ObserveActivation("git", "explicit", "activated")
	collector.ObserveActivation("docker", "keyword", "failed")
	collector.ObserveActiveSkills(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.activationsTotal.WithLabelValues("git", "explicit", "activated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.activationsTotal.WithLabelValues("docker", "keyword", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.activeSkills))

	collector.ObserveActiveSkills(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.activeSkills))
}

func TestCollector_ObserveContext(t *testing.T) {
	collector, reg := newTestCollector(t)

	collector.ObserveContextBuild(1200, false, false, 3*time.Millisecond)
	collector.ObserveContextBuild(1200, false, true, time.Microsecond)
	collector.ObserveContextBuild(90000, true, false, 40*time.Millisecond)
	collector.ObserveCacheEvent(skillctx.CacheEventMiss)
	collector.ObserveCacheEvent(skillctx.CacheEventHit)
	collector.ObserveCacheEvent(skillctx.CacheEventHit)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.contextBuildsTotal.WithLabelValues("true", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.contextBuildsTotal.WithLabelValues("false", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.contextCacheEvents.WithLabelValues("hit")))

	expected := `
# HELP test_context_cache_events_total Context cache events by type
# TYPE test_context_cache_events_total counter
test_context_cache_events_total{event="hit"} 2
test_context_cache_events_total{event="miss"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_context_cache_events_total"))
}

func TestCollector_RegistryAndStore(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordRegistrySize(12)
	collector.RecordStoreOperation("file", "save", 5*time.Millisecond, nil)
	collector.RecordStoreOperation("sql", "load", 5*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 12.0, testutil.ToFloat64(collector.registeredSkills))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.storeOperationDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.storeErrorsTotal.WithLabelValues("sql", "load")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.storeErrorsTotal))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
			collector.ObserveActivation("git", "explicit", "activated")
			collector.ObserveCacheEvent("hit")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.activationsTotal.WithLabelValues("git", "explicit", "activated")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.contextCacheEvents.WithLabelValues("hit")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {301, "3xx"}, {404, "4xx"}, {503, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
