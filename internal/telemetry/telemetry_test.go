package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func initInMemory(t *testing.T, cfg Config) *tracetest.InMemoryExporter {
	t.Helper()
	saveAndRestoreGlobalProviders(t)
	exporter := tracetest.NewInMemoryExporter()
	cfg.Enabled = true
	p, err := Init(cfg, nil, WithSpanExporter(exporter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return exporter
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp, "TracerProvider should be nil when disabled")
	assert.Nil(t, p.mp, "MeterProvider should be nil when disabled")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledWithOTLPMetrics(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(Config{
		Enabled:       true,
		Endpoint:      "localhost:4317",
		ServiceName:   "skillflow-test",
		SampleRate:    0.5,
		ExportMetrics: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.NotNil(t, p.tp)
	assert.NotNil(t, p.mp)
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestInit_ResourceDescribesInstance(t *testing.T) {
	exporter := initInMemory(t, Config{
		SampleRate:      1,
		SkillsDirectory: "/srv/skills",
		RegistryBackend: "redis",
		MaxActiveSkills: 7,
	})

	_, span := otel.Tracer("github.com/BaSui01/skillflow/agent/context").Start(context.Background(), "context.build")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	res := attrMap(spans[0].Resource.Attributes())
	assert.Equal(t, "skillflow", res["service.name"].AsString())
	assert.Equal(t, "/srv/skills", res["skillflow.skills_directory"].AsString())
	assert.Equal(t, "redis", res["skillflow.registry_backend"].AsString())
	assert.Equal(t, int64(7), res["skillflow.max_active_skills"].AsInt64())
}

func TestInit_ZeroSampleRateDropsSpans(t *testing.T) {
	exporter := initInMemory(t, Config{SampleRate: 0})

	_, span := StartRegistrySpan(context.Background(), "registry.refresh", "s1", "file")
	End(span, nil)
	assert.Empty(t, exporter.GetSpans())
}

func TestRegistrySpan_RecordsOutcome(t *testing.T) {
	exporter := initInMemory(t, Config{SampleRate: 1})

	_, span := StartRegistrySpan(context.Background(), "registry.refresh", "session-1", "sql")
	SkillChanges(span, map[string]int{"removed": 1, "added": 2})
	End(span, nil)

	_, span = StartRegistrySpan(context.Background(), "registry.save", "session-1", "sql")
	End(span, errors.New("disk full"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	refresh := spans[0]
	assert.Equal(t, "registry.refresh", refresh.Name)
	attrs := attrMap(refresh.Attributes)
	assert.Equal(t, "session-1", attrs[AttrSessionID].AsString())
	assert.Equal(t, "sql", attrs[AttrRegistryBackend].AsString())
	assert.Equal(t, int64(2), attrs["registry.added"].AsInt64())
	assert.Equal(t, int64(1), attrs["registry.removed"].AsInt64())
	assert.Equal(t, codes.Unset, refresh.Status.Code)

	save := spans[1]
	assert.Equal(t, codes.Error, save.Status.Code)
	assert.Equal(t, "disk full", save.Status.Description)
	require.Len(t, save.Events, 1)
	assert.Equal(t, "exception", save.Events[0].Name)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", buildVersion())
}
