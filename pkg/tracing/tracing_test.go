package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_WithoutTracer(t *testing.T) {
	SetTracer(nil)

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()

	assert.Nil(t, GetActiveSpan(ctx))
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetTraceParent(ctx))
}

func TestStartSpan_WithTracer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	SetTracer(provider.Tracer("test"))
	t.Cleanup(func() { SetTracer(nil) })

	ctx, span := StartSpan(context.Background(), "Orchestrator.Run")
	require.NotNil(t, GetActiveSpan(ctx))

	traceID := GetTraceID(ctx)
	assert.Len(t, traceID, 32)
	assert.Len(t, GetSpanID(ctx), 16)
	assert.Contains(t, GetTraceParent(ctx), traceID)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Orchestrator.Run", spans[0].Name)
}
