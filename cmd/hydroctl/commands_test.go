package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/logger"
)

func TestInitialize_ReleasesResourcesOnFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := &config.Config{
		Broker:  config.BrokerConfig{Type: "carrier-pigeon", Queue: "home_hydro"},
		Tracing: config.TracingConfig{Enabled: false},
	}
	app := NewApp(cfg, logger.NewFromZap(zap.New(core)))

	err := initialize(context.Background(), app, needBroker)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown broker type")
	assert.NotNil(t, app.tracerProvider)
	assert.Equal(t, 1, logs.FilterMessage("Shutting down application...").Len())
	assert.Equal(t, 1, logs.FilterMessage("Application exited successfully").Len())
}

func TestInitHTTPServer_ServesSwaggerUI(t *testing.T) {
	app := NewApp(&config.Config{}, logger.NopLogger())
	app.initHTTPServer(context.Background())

	w := httptest.NewRecorder()
	app.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swagger-ui")
}
