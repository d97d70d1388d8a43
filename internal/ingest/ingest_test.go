package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dyadov103/home-hydroponics/internal/broker"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/models"
	"github.com/dyadov103/home-hydroponics/pkg/retry"
)

func humidity(z1, z2, z3, z4, z5, z6, z7, z8, serial interface{}) models.HumidityMessage {
	return models.HumidityMessage{
		Type:  models.TypeHumidity,
		Zone1: z1, Zone2: z2, Zone3: z3, Zone4: z4,
		Zone5: z5, Zone6: z6, Zone7: z7, Zone8: z8,
		Serial: serial,
	}
}

// ackLog records acknowledgements across deliveries in the order they happen.
type ackLog struct {
	mu  sync.Mutex
	ids []string
}

func (a *ackLog) add(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
}

func (a *ackLog) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

type fakeDelivery struct {
	id   string
	body []byte
	acks *ackLog
}

func (d *fakeDelivery) Body() []byte { return d.body }

func (d *fakeDelivery) ID() string { return d.id }

func (d *fakeDelivery) TraceContext(ctx context.Context) context.Context { return ctx }

func (d *fakeDelivery) Ack(ctx context.Context) error {
	d.acks.add(d.id)
	return nil
}

// fakeConsumer hands over its deliveries in order, then stops the loop.
type fakeConsumer struct {
	deliveries   []broker.Delivery
	subscribeErr error
	subscribes   int
	stop         context.CancelFunc
}

func (c *fakeConsumer) Subscribe(ctx context.Context, queue string) error {
	c.subscribes++
	return c.subscribeErr
}

func (c *fakeConsumer) Consume(ctx context.Context, handler broker.Handler) error {
	for _, d := range c.deliveries {
		handler(ctx, d)
	}
	if c.stop != nil {
		c.stop()
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeConsumer) Close() error { return nil }

type fakeStore struct {
	mu         sync.Mutex
	humidity   []store.HumidityReading
	heartbeats []store.HeartbeatReading
	calls      int
	failOn     map[int]error
	panicOn    map[int]bool
	block      bool
}

func (s *fakeStore) next() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panicOn[s.calls] {
		panic("driver exploded")
	}
	return s.calls, s.failOn[s.calls]
}

func (s *fakeStore) InsertHumidity(ctx context.Context, r store.HumidityReading) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if _, err := s.next(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.humidity = append(s.humidity, r)
	return nil
}

func (s *fakeStore) InsertHeartbeat(ctx context.Context, r store.HeartbeatReading) error {
	if _, err := s.next(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, r)
	return nil
}

type harness struct {
	store *fakeStore
	acks  *ackLog
	logs  *observer.ObservedLogs
	loop  *Loop
	cons  *fakeConsumer
}

func newHarness(t *testing.T, st *fakeStore, opts HandlerOptions, bodies ...string) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewFromZap(zap.New(core))

	acks := &ackLog{}
	deliveries := make([]broker.Delivery, 0, len(bodies))
	for i, b := range bodies {
		deliveries = append(deliveries, &fakeDelivery{id: string(rune('a' + i)), body: []byte(b), acks: acks})
	}

	cons := &fakeConsumer{deliveries: deliveries}
	router := NewRouter(NewHandlers(st, log, opts))
	loop := NewLoop(cons, router, log, LoopConfig{Queue: "home_hydro", Broker: "fake"})

	return &harness{store: st, acks: acks, logs: logs, loop: loop, cons: cons}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.cons.stop = cancel

	require.NoError(t, h.loop.Run(ctx))
	assert.Equal(t, StateDisconnected, h.loop.State())
}

const (
	humidityBody  = `{"type":"humidity","zone1":"45.2", "zone2":"50.1","zone3":"40","zone4":"60","zone5":"55","zone6":"48","zone7":"52","zone8":"47","serial":"ABC123456"}`
	heartbeatBody = `{"type":"heartbeat","battery":87,"dev_time":"2024-10-12T08:00:00Z","temperature":22.5,"dev_humidity":40,"serial":"XYZ999999"}`
)

func TestLoop_HumidityStoredAndAcked(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(t, st, HandlerOptions{}, humidityBody)

	before := time.Now()
	h.run(t)
	after := time.Now()

	require.Len(t, st.humidity, 1)
	r := st.humidity[0]
	assert.Equal(t, [8]interface{}{"45.2", "50.1", "40", "60", "55", "48", "52", "47"}, r.Zones)
	assert.Equal(t, "ABC123456", r.Serial)
	assert.False(t, r.ReceivedAt.Before(before))
	assert.False(t, r.ReceivedAt.After(after))

	assert.Equal(t, []string{"a"}, h.acks.all())
	assert.Equal(t, 1, h.logs.FilterMessage("Saved packet into DB").Len())
}

func TestLoop_HeartbeatStoredAndAcked(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(t, st, HandlerOptions{}, heartbeatBody)

	before := time.Now()
	h.run(t)

	require.Len(t, st.heartbeats, 1)
	r := st.heartbeats[0]
	devTime, ok := r.DevTime.(time.Time)
	require.True(t, ok)
	assert.True(t, devTime.Equal(time.Date(2024, 10, 12, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, "87", string(r.Battery.(json.Number)))
	assert.Equal(t, "22.5", string(r.Temperature.(json.Number)))
	assert.Equal(t, "40", string(r.DevHumidity.(json.Number)))
	assert.Equal(t, "XYZ999999", r.Serial)
	assert.False(t, r.ReceivedAt.Before(before))

	assert.Equal(t, []string{"a"}, h.acks.all())
}

func TestLoop_WaterAckOnlyLogged(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(t, st, HandlerOptions{}, `{"type":"water_ack"}`)

	h.run(t)

	assert.Zero(t, st.calls)
	assert.Equal(t, []string{"a"}, h.acks.all())
	assert.Equal(t, 1, h.logs.FilterMessage("The plants have been watered").Len())
}

func TestLoop_MalformedJSONAcked(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(t, st, HandlerOptions{}, `not valid json`)

	h.run(t)

	assert.Zero(t, st.calls)
	assert.Equal(t, []string{"a"}, h.acks.all())

	entries := h.logs.FilterMessage("Malformed message, dropping").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "decode_error", entries[0].ContextMap()["outcome"])
}

func TestLoop_UnsupportedTypeAcked(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(t, st, HandlerOptions{}, `{"type":"unknown_sensor","value":1}`)

	h.run(t)

	assert.Zero(t, st.calls)
	assert.Equal(t, []string{"a"}, h.acks.all())

	entries := h.logs.FilterMessage("Received an unsupported packet type").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unknown_sensor", entries[0].ContextMap()["packet_type"])
	assert.Equal(t, "a", entries[0].ContextMap()["message_id"])
}

func TestLoop_AckOrderMatchesReceiveOrder(t *testing.T) {
	st := &fakeStore{failOn: map[int]error{2: errors.New("boom")}}
	h := newHarness(t, st, HandlerOptions{},
		humidityBody,
		`not valid json`,
		heartbeatBody,
		`{"type":"water_ack"}`,
		humidityBody,
		`{"type":"nope"}`,
		heartbeatBody,
	)

	h.run(t)

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, h.acks.all())
}

func TestLoop_StoreFailureIsolated(t *testing.T) {
	st := &fakeStore{failOn: map[int]error{1: apperrors.ErrStore.WithCause(errors.New("connection refused"))}}
	h := newHarness(t, st, HandlerOptions{}, humidityBody, humidityBody)

	h.run(t)

	assert.Len(t, st.humidity, 1)
	assert.Equal(t, []string{"a", "b"}, h.acks.all())

	entries := h.logs.FilterMessage("Error while storing to DB").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0].ContextMap()["outcome"])
	assert.Contains(t, entries[0].ContextMap()["error"], "connection refused")
}

func TestLoop_StorePanicRecovered(t *testing.T) {
	st := &fakeStore{panicOn: map[int]bool{1: true}}
	h := newHarness(t, st, HandlerOptions{}, heartbeatBody, heartbeatBody)

	h.run(t)

	assert.Len(t, st.heartbeats, 1)
	assert.Equal(t, []string{"a", "b"}, h.acks.all())
	assert.Equal(t, 1, h.logs.FilterMessage("Error while storing to DB").Len())
}

func TestLoop_StoreTimeoutTreatedAsFailure(t *testing.T) {
	st := &fakeStore{block: true}
	h := newHarness(t, st, HandlerOptions{StoreTimeout: 20 * time.Millisecond}, humidityBody, `{"type":"water_ack"}`)

	h.run(t)

	assert.Equal(t, []string{"a", "b"}, h.acks.all())

	entries := h.logs.FilterMessage("Error while storing to DB").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "TIMEOUT")
}

func TestLoop_MissingFieldsForwardedAsNull(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(t, st, HandlerOptions{}, `{"type":"humidity","zone1":"40"}`)

	h.run(t)

	require.Len(t, st.humidity, 1)
	assert.Equal(t, [8]interface{}{"40", nil, nil, nil, nil, nil, nil, nil}, st.humidity[0].Zones)
	assert.Nil(t, st.humidity[0].Serial)
}

func TestLoop_StrictFieldsRejectsMissing(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(t, st, HandlerOptions{StrictFields: true}, `{"type":"humidity","zone1":"40"}`, humidityBody)

	h.run(t)

	assert.Len(t, st.humidity, 1)
	assert.Equal(t, []string{"a", "b"}, h.acks.all())
	assert.Equal(t, 1, h.logs.FilterMessage("Packet failed validation, dropping").Len())
}

func TestLoop_SubscribeFailureIsFatal(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	log := logger.NewFromZap(zap.New(core))

	cons := &fakeConsumer{subscribeErr: errors.New("connection refused")}
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
	loop := NewLoop(cons, NewRouter(NewHandlers(&fakeStore{}, log, HandlerOptions{})), log,
		LoopConfig{Queue: "home_hydro", Broker: "fake", StartupRetry: policy})

	err := loop.Run(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrFatal)
	assert.Equal(t, 3, cons.subscribes)
	assert.Equal(t, StateFailed, loop.State())
}

func TestRouter_UnsupportedCarriesType(t *testing.T) {
	r := NewRouter(NewHandlers(&fakeStore{}, logger.NopLogger(), HandlerOptions{}))

	res := r.Route(context.Background(), UnsupportedPacket{Type: "unknown_sensor"})

	assert.Equal(t, OutcomeUnsupported, res.Outcome)
	assert.Equal(t, "unknown_sensor", res.PacketType)
	assert.ErrorIs(t, res.Err, apperrors.ErrUnsupportedType)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "failed", StateFailed.String())
}

func TestAwaitInsert_ResultReadyAtDeadlineWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		done := make(chan error, 1)
		done <- nil
		assert.NoError(t, awaitInsert(ctx, done))
	}

	assert.ErrorIs(t, awaitInsert(ctx, make(chan error, 1)), context.Canceled)
}
