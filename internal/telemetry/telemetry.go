// =============================================================================
// SkillFlow OpenTelemetry SDK Initialization
// =============================================================================
// Installs the trace (and optionally metric) providers that the activator,
// the context manager, the registry lifecycle and the HTTP middleware emit
// into. When telemetry is disabled the global providers stay noop.
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Tracer names. The activator and the context manager use their import
// paths; the registry lifecycle and HTTP layer use these.
const (
	TracerRegistry = "github.com/BaSui01/skillflow/registry"
	TracerHTTP     = "github.com/BaSui01/skillflow/http"
)

// Span attributes shared by the registry lifecycle spans.
const (
	AttrSessionID       = attribute.Key("skillflow.session_id")
	AttrRegistryBackend = attribute.Key("registry.backend")
	AttrRegistrySource  = attribute.Key("registry.source")
	AttrRegistrySkills  = attribute.Key("registry.skills")
)

// Config selects where spans go and what the exported resource says about
// this instance.
type Config struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64

	// ServiceName defaults to "skillflow".
	ServiceName string

	// ExportMetrics adds an OTLP metric exporter next to Prometheus.
	ExportMetrics bool

	// SkillsDirectory, RegistryBackend and MaxActiveSkills are attached to
	// the resource so traces from several instances can be told apart.
	SkillsDirectory string
	RegistryBackend string
	MaxActiveSkills int
}

// Providers holds the installed SDK providers. Both are nil when disabled.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Option customizes Init.
type Option func(*options)

type options struct {
	spanExporter sdktrace.SpanExporter
}

// WithSpanExporter replaces the OTLP trace exporter and exports spans
// synchronously, so tests can read them back immediately.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// Init installs global providers. Disabled telemetry returns noop Providers
// without connecting anywhere.
func Init(cfg Config, logger *zap.Logger, opts ...Option) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telemetry"))
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	spanProcessor, err := newSpanProcessor(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		spanProcessor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)

	var mp *sdkmetric.MeterProvider
	if cfg.ExportMetrics {
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.Float64("sample_rate", cfg.SampleRate),
		zap.String("registry_backend", cfg.RegistryBackend),
		zap.Bool("otlp_metrics", mp != nil),
	)
	return &Providers{tp: tp, mp: mp}, nil
}

func newSpanProcessor(ctx context.Context, cfg Config, o options) (sdktrace.TracerProviderOption, error) {
	if o.spanExporter != nil {
		return sdktrace.WithSyncer(o.spanExporter), nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return sdktrace.WithBatcher(exp), nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = "skillflow"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(buildVersion()),
	}
	if cfg.SkillsDirectory != "" {
		attrs = append(attrs, attribute.String("skillflow.skills_directory", cfg.SkillsDirectory))
	}
	if cfg.RegistryBackend != "" {
		attrs = append(attrs, attribute.String("skillflow.registry_backend", cfg.RegistryBackend))
	}
	if cfg.MaxActiveSkills > 0 {
		attrs = append(attrs, attribute.Int("skillflow.max_active_skills", cfg.MaxActiveSkills))
	}
	return attrs
}

// Shutdown flushes pending spans and closes exporters. Safe on noop Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🧭 Registry lifecycle spans
// =============================================================================

// StartRegistrySpan opens a span for a registry lifecycle operation such as
// "registry.initialize", "registry.refresh" or "registry.save".
func StartRegistrySpan(ctx context.Context, op, sessionID, backend string) (context.Context, trace.Span) {
	return otel.Tracer(TracerRegistry).Start(ctx, op,
		trace.WithAttributes(
			AttrSessionID.String(sessionID),
			AttrRegistryBackend.String(backend),
		))
}

// SkillChanges records refresh deltas on span, keys sorted for stable output.
func SkillChanges(span trace.Span, changes map[string]int) {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		span.SetAttributes(attribute.Int("registry."+k, changes[k]))
	}
}

// End finishes span, marking it failed when err is non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// buildVersion extracts the module version from build info, "dev" otherwise.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
