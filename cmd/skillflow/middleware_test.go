package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillflow/api/handlers"
	"github.com/BaSui01/skillflow/internal/ctxkeys"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/telemetry"
	"github.com/BaSui01/skillflow/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), mark("outer"), mark("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("client supplied", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "req-42")
		handler.ServeHTTP(w, r)
		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})
}

func TestRecovery(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Recovery(zaptest.NewLogger(t)))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/skills", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func TestRouteOf(t *testing.T) {
	tests := []struct {
		path  string
		route string
		skill string
	}{
		{"/healthz", "/healthz", ""},
		{"/api/v1/skills", "/api/v1/skills", ""},
		{"/api/v1/skills/react-review", "/api/v1/skills/:name", "react-review"},
		{"/api/v1/skills/react-review/chain", "/api/v1/skills/:name/chain", "react-review"},
		{"/api/v1/skills/react-review/other", "other", ""},
		{"/api/v1/skills/", "other", ""},
		{"/api/v1/skills//chain", "other", ""},
		{"/wp-login.php", "other", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			route, skill := routeOf(tt.path)
			assert.Equal(t, tt.route, route)
			assert.Equal(t, tt.skill, skill)
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("skillflow", reg, zap.NewNop())
	handler := MetricsMiddleware(collector)(okHandler())

	for _, path := range []string{"/api/v1/skills/a", "/api/v1/skills/b", "/random-1", "/random-2"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	// 技能名与未知路径都被归并，只产生两组标签
	count, err := promtestutil.GatherAndCount(reg, "skillflow_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestOTelTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var traceID string
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, _ = ctxkeys.TraceID(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	}), SessionID("sess-7"), OTelTracing())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/skills/app/chain", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/skills/:name/chain", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), traceID)
	assert.Equal(t, telemetry.TracerHTTP, spans[0].InstrumentationScope().Name)

	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "sess-7", attrs[telemetry.AttrSessionID])
	assert.Equal(t, "app", attrs["skill.name"])
	assert.Equal(t, "/api/v1/skills/:name/chain", attrs["http.route"])
	assert.Equal(t, "503", attrs["http.response.status_code"])
}

func TestRateLimiter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(okHandler())
	hit := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/skills", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:5678"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2:1234"))
}

func TestRateLimiter_ProbesAreNotLimited(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(okHandler())
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/healthz"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestSessionID(t *testing.T) {
	var seen string
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.SessionID(r.Context())
	}), SessionID("sess-1"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "sess-1", seen)
}
