package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/skillflow/api/handlers"
	"github.com/BaSui01/skillflow/internal/ctxkeys"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/telemetry"
	"github.com/BaSui01/skillflow/types"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个中间件在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					fields := append(requestFields(r),
						zap.Any("error", err),
						zap.Stack("stack"),
					)
					logger.Error("panic recovered", fields...)
					handlers.WriteErrorMessage(w, r, http.StatusInternalServerError,
						types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID 并写入 context. 客户端提供的 ID 原样保留.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// SessionID 把服务所托管 System 的会话 ID 写入 context，请求日志据此关联激活状态
func SessionID(id string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithSessionID(r.Context(), id)))
		})
	}
}

// SecurityHeaders 添加常用安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := append(requestFields(r),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
			logger.Info("request", fields...)
		})
	}
}

// requestFields 请求的路由、技能名与关联 ID
func requestFields(r *http.Request) []zap.Field {
	route, skill := routeOf(r.URL.Path)
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("route", route),
	}
	if skill != "" {
		fields = append(fields, zap.String("skill", skill))
	}
	ctx := r.Context()
	if id, ok := ctxkeys.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctxkeys.SessionID(ctx); ok {
		fields = append(fields, zap.String("session_id", id))
	}
	return fields
}

// =============================================================================
// 📊 MetricsMiddleware
// =============================================================================

// MetricsMiddleware 记录请求数与耗时. 路径先归一化，避免技能名撑爆标签基数.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			route, _ := routeOf(r.URL.Path)
			collector.RecordHTTPRequest(r.Method, route, rw.StatusCode, time.Since(start))
		})
	}
}

// knownPaths 不含动态段的路由
var knownPaths = map[string]struct{}{
	"/healthz": {}, "/ready": {}, "/readyz": {}, "/version": {}, "/metrics": {},
	"/api/v1/skills": {}, "/api/v1/search": {}, "/api/v1/suggest": {},
	"/api/v1/active": {}, "/api/v1/activate": {}, "/api/v1/deactivate": {},
	"/api/v1/chain": {}, "/api/v1/context": {}, "/api/v1/stats": {}, "/api/v1/refresh": {},
}

// routeOf 返回归一化路由与路径中的技能名. 技能名替换为 :name，未知路径统一记为 other:
//
//	/api/v1/skills/react-review        -> /api/v1/skills/:name, react-review
//	/api/v1/skills/react-review/chain  -> /api/v1/skills/:name/chain, react-review
//	/wp-login.php                      -> other
func routeOf(path string) (route, skill string) {
	if _, ok := knownPaths[path]; ok {
		return path, ""
	}
	rest, ok := strings.CutPrefix(path, "/api/v1/skills/")
	name, tail, _ := strings.Cut(rest, "/")
	if !ok || name == "" {
		return "other", ""
	}
	switch tail {
	case "":
		return "/api/v1/skills/:name", name
	case "chain":
		return "/api/v1/skills/:name/chain", name
	}
	return "other", ""
}

// =============================================================================
// 🔭 OTelTracing
// =============================================================================

// OTelTracing 为每个请求创建服务端 span，并从请求头提取上游 trace 上下文.
// span 带上会话 ID 与路径中的技能名，可与激活、上下文构建的子 span 关联.
func OTelTracing() Middleware {
	tracer := otel.Tracer(telemetry.TracerHTTP)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			route, skill := routeOf(r.URL.Path)

			attrs := []attribute.KeyValue{
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(route),
			}
			if id, ok := ctxkeys.SessionID(ctx); ok {
				attrs = append(attrs, telemetry.AttrSessionID.String(id))
			}
			if skill != "" {
				attrs = append(attrs, attrSkillName.String(skill))
			}
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

const attrSkillName = attribute.Key("skill.name")

// =============================================================================
// 🚦 RateLimiter
// =============================================================================

// visitorTTL 超过该时间未出现的客户端被清理
const visitorTTL = 3 * time.Minute

// RateLimiter 对 /api/ 下的技能接口按 IP 做令牌桶限流，探针与指标不受限.
// rps <= 0 时不限流. 清理协程随 ctx 退出.
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > visitorTTL {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				route, _ := routeOf(r.URL.Path)
				logger.Debug("rate limited", zap.String("ip", ip), zap.String("route", route))
				handlers.WriteErrorMessage(w, r, http.StatusTooManyRequests,
					types.ErrRateLimited, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
