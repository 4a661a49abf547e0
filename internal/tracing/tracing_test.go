package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_NoEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "camtrap-video"})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestStartStage_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartStage(context.Background(), "detect", attribute.Int("images", 3))
	End(span, errors.New("detector exited 1"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "camtrap.detect", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
