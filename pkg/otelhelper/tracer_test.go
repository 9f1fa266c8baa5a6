package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, shutdown, err := otelhelper.NewTracer(context.Background(), "flowline-test", false)
	require.NoError(t, err)

	_, span := otelhelper.StartSpan(context.Background(), tracer, "noop")
	span.End()

	assert.False(t, span.SpanContext().IsValid())
	require.NoError(t, shutdown(context.Background()))
}

func TestSetError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))

	_, span := otelhelper.StartSpan(context.Background(), provider.Tracer("test"), "task.execute",
		attribute.String(otelhelper.TaskIDKey, "t1"))
	otelhelper.SetError(span, errors.New("boom"), attribute.String(otelhelper.WorkflowIDKey, "w1"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String(otelhelper.TaskIDKey, "t1"))
	assert.Contains(t, spans[0].Attributes(), attribute.Bool(otelhelper.ErrorKey, true))
	require.Len(t, spans[0].Events(), 1)
	assert.Contains(t, spans[0].Events()[0].Attributes, attribute.String(otelhelper.WorkflowIDKey, "w1"))
}
