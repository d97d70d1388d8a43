package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadov103/home-hydroponics/internal/broker"
	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/ingest"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	"github.com/dyadov103/home-hydroponics/pkg/retry"
)

type slowStore struct {
	entered chan struct{}
	delay   time.Duration
	stored  atomic.Int32
}

func (s *slowStore) InsertHumidity(ctx context.Context, r store.HumidityReading) error {
	close(s.entered)
	time.Sleep(s.delay)
	s.stored.Add(1)
	return nil
}

func (s *slowStore) InsertHeartbeat(ctx context.Context, r store.HeartbeatReading) error {
	return nil
}

type trackedDelivery struct {
	consumer        *trackedConsumer
	ackedWhileOpen  atomic.Bool
	ackedAfterClose atomic.Bool
}

func (d *trackedDelivery) Body() []byte {
	return []byte(`{"type":"humidity","zone1":"45.2","zone2":"50.1","zone3":"40","zone4":"60","zone5":"55","zone6":"48","zone7":"52","zone8":"47","serial":"ABC123456"}`)
}

func (d *trackedDelivery) ID() string { return "1" }

func (d *trackedDelivery) TraceContext(ctx context.Context) context.Context { return ctx }

func (d *trackedDelivery) Ack(ctx context.Context) error {
	if d.consumer.closed.Load() {
		d.ackedAfterClose.Store(true)
		return nil
	}
	d.ackedWhileOpen.Store(true)
	return nil
}

type trackedConsumer struct {
	delivery *trackedDelivery
	closed   atomic.Bool
}

func (c *trackedConsumer) Subscribe(ctx context.Context, queue string) error { return nil }

func (c *trackedConsumer) Consume(ctx context.Context, handler broker.Handler) error {
	handler(ctx, c.delivery)
	<-ctx.Done()
	return ctx.Err()
}

func (c *trackedConsumer) Close() error {
	c.closed.Store(true)
	return nil
}

func TestRun_InFlightMessageAckedBeforeConsumerCloses(t *testing.T) {
	cons := &trackedConsumer{}
	delivery := &trackedDelivery{consumer: cons}
	cons.delivery = delivery
	st := &slowStore{entered: make(chan struct{}), delay: 200 * time.Millisecond}

	cfg := &config.Config{}
	log := logger.NopLogger()
	app := NewApp(cfg, log)
	app.Consumer = cons
	app.server = &http.Server{Addr: "127.0.0.1:0", Handler: http.NewServeMux()}
	app.loop = ingest.NewLoop(cons, ingest.NewRouter(ingest.NewHandlers(st, log, ingest.HandlerOptions{})), log, ingest.LoopConfig{
		Queue:        "home_hydro",
		Broker:       "fake",
		StartupRetry: retry.Once(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	select {
	case <-st.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("insert never started")
	}
	cancel()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, int32(1), st.stored.Load())
	assert.True(t, delivery.ackedWhileOpen.Load())
	assert.False(t, delivery.ackedAfterClose.Load())
	assert.True(t, cons.closed.Load())
}

func TestRetryPolicy_FallsBackToDefaults(t *testing.T) {
	def := retry.DefaultPolicy()

	assert.Equal(t, def, retryPolicy(config.RetryConfig{}))

	p := retryPolicy(config.RetryConfig{MaxAttempts: 1, InitialInterval: time.Second})
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, def.MaxInterval, p.MaxInterval)
	assert.Equal(t, def.Multiplier, p.Multiplier)
	assert.Equal(t, def.MaxElapsedTime, p.MaxElapsedTime)
}
