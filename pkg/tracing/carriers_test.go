package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func setupPropagation(t *testing.T) trace.Tracer {
	t.Helper()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("test")
}

func TestCarriers_RoundTrip(t *testing.T) {
	tracer := setupPropagation(t)
	ctx, span := tracer.Start(context.Background(), "publish")
	defer span.End()
	want := span.SpanContext().TraceID()

	t.Run("kafka", func(t *testing.T) {
		headers := InjectKafka(ctx, nil)
		assert.NotEmpty(t, headers)
		got := trace.SpanContextFromContext(ExtractKafka(context.Background(), headers))
		assert.Equal(t, want, got.TraceID())
	})

	t.Run("amqp", func(t *testing.T) {
		headers := InjectAMQP(ctx, nil)
		assert.Contains(t, headers, "traceparent")
		got := trace.SpanContextFromContext(ExtractAMQP(context.Background(), headers))
		assert.Equal(t, want, got.TraceID())
	})

	t.Run("nats", func(t *testing.T) {
		header := InjectNATS(ctx, nil)
		got := trace.SpanContextFromContext(ExtractNATS(context.Background(), header))
		assert.Equal(t, want, got.TraceID())
	})
}

func TestExtract_NilHeaders(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractAMQP(ctx, amqp.Table(nil)))
	assert.Equal(t, ctx, ExtractNATS(ctx, nats.Header(nil)))
	assert.False(t, trace.SpanContextFromContext(ExtractKafka(ctx, []kafka.Header(nil))).IsValid())
}

func TestTraceRequest_SkipsProbes(t *testing.T) {
	for path, want := range map[string]bool{
		"/health":          false,
		"/metrics":         false,
		"/api/v1/spam":     true,
		"/api/v1/messages": true,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, want, traceRequest(req), path)
	}
}
