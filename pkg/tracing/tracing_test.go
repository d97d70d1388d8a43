package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/dyadov103/home-hydroponics/internal/config"
)

func TestInit_DisabledStillPropagates(t *testing.T) {
	tp, err := Init(config.TracingConfig{Enabled: false}, "hydro-ingestor")
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestNewSampler(t *testing.T) {
	tests := map[string]string{
		"":                         "ParentBased{root:AlwaysOnSampler",
		"always_on":                "AlwaysOnSampler",
		"always_off":               "AlwaysOffSampler",
		"traceidratio":             "TraceIDRatioBased{0.25}",
		"parentbased_traceidratio": "ParentBased{root:TraceIDRatioBased{0.25}",
	}

	for typ, want := range tests {
		s := newSampler(config.SamplerConfig{Type: typ, Param: 0.25})
		assert.Contains(t, s.Description(), want, typ)
	}
}

func TestShutdown_NilSafe(t *testing.T) {
	var tp *TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
	assert.NoError(t, (&TracerProvider{}).Shutdown(context.Background()))
}
