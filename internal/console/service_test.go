package console

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/models"
)

type published struct {
	queue string
	body  []byte
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []published
	failEach int
	err      error
	onPub    func()
}

func (p *fakeProducer) Publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.failEach > 0 && (len(p.messages)+1)%p.failEach == 0 {
		p.messages = append(p.messages, published{})
		return errors.New("channel closed")
	}
	p.messages = append(p.messages, published{queue: queue, body: body})
	if p.onPub != nil {
		p.onPub()
	}
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) bodies() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, 0, len(p.messages))
	for _, m := range p.messages {
		if m.body != nil {
			out = append(out, m.body)
		}
	}
	return out
}

// fakeCounter returns rows as the number of rows "stored" so far.
type fakeCounter struct {
	mu   sync.Mutex
	rows int64
	err  error
}

func (c *fakeCounter) CountRows(ctx context.Context, table string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if table != constants.TableHumidity && table != constants.TableHeartbeat {
		return 0, apperrors.ErrNotFound.WithDetail("message", "unknown table")
	}
	return c.rows, nil
}

func (c *fakeCounter) add(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows += n
}

type fakeSchema struct {
	reports []store.TableReport
}

func (s *fakeSchema) CheckAndCreate(ctx context.Context) []store.TableReport {
	return s.reports
}

func TestService_Send(t *testing.T) {
	prod := &fakeProducer{}
	svc := NewService(prod, &fakeCounter{}, &fakeSchema{}, logger.NopLogger(), WithQueue("plants"))

	require.NoError(t, svc.Send(context.Background(), `not even json`))

	require.Len(t, prod.messages, 1)
	assert.Equal(t, "plants", prod.messages[0].queue)
	assert.Equal(t, []byte(`not even json`), prod.messages[0].body)
}

func TestService_SendEmpty(t *testing.T) {
	svc := NewService(&fakeProducer{}, &fakeCounter{}, &fakeSchema{}, logger.NopLogger())

	err := svc.Send(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestService_SendPublishError(t *testing.T) {
	svc := NewService(&fakeProducer{err: errors.New("dial tcp: refused")}, &fakeCounter{}, &fakeSchema{}, logger.NopLogger())

	err := svc.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
}

func TestService_SendSyntheticHumidity(t *testing.T) {
	prod := &fakeProducer{}
	svc := NewService(prod, &fakeCounter{}, &fakeSchema{}, logger.NopLogger(), WithGenerator(models.NewPacketGenerator(7)))

	msg, err := svc.SendSyntheticHumidity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TypeHumidity, msg.Type)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(prod.bodies()[0], &wire))
	assert.Equal(t, "humidity", wire["type"])
	assert.Equal(t, msg.Serial, wire["serial"])
}

func TestService_SendSyntheticHeartbeat(t *testing.T) {
	prod := &fakeProducer{}
	svc := NewService(prod, &fakeCounter{}, &fakeSchema{}, logger.NopLogger(), WithGenerator(models.NewPacketGenerator(7)))

	msg, err := svc.SendSyntheticHeartbeat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TypeHeartbeat, msg.Type)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(prod.bodies()[0], &wire))
	assert.Equal(t, "heartbeat", wire["type"])
	assert.Equal(t, msg.Serial, wire["serial"])
	assert.Len(t, wire, 6)

	devTime, err := time.Parse(time.RFC3339, wire["dev_time"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), devTime, time.Minute)
}

func TestService_SendWaterAck(t *testing.T) {
	prod := &fakeProducer{}
	svc := NewService(prod, &fakeCounter{}, &fakeSchema{}, logger.NopLogger())

	msg, err := svc.SendWaterAck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TypeWaterAck, msg.Type)
	assert.JSONEq(t, `{"type":"water_ack"}`, string(prod.bodies()[0]))

	_, err = NewService(&fakeProducer{err: errors.New("channel closed")}, &fakeCounter{}, &fakeSchema{}, logger.NopLogger()).
		SendWaterAck(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
}

func TestService_SpamNoLoss(t *testing.T) {
	counter := &fakeCounter{rows: 40}
	prod := &fakeProducer{}
	prod.onPub = func() { counter.add(1) }

	svc := NewService(prod, counter, &fakeSchema{}, logger.NopLogger(), WithGenerator(models.NewPacketGenerator(1)))

	report, err := svc.Spam(context.Background(), 25, 0)
	require.NoError(t, err)

	assert.Equal(t, 25, report.Requested)
	assert.Equal(t, 25, report.Published)
	assert.Equal(t, int64(40), report.RowsBefore)
	assert.Equal(t, int64(65), report.RowsAfter)
	assert.InDelta(t, 0.0, report.LossPercent, 1e-9)

	for _, body := range prod.bodies() {
		var msg models.HumidityMessage
		require.NoError(t, json.Unmarshal(body, &msg))
		assert.Equal(t, models.TypeHumidity, msg.Type)
		assert.Regexp(t, `^[A-Z]{3}[0-9]{6}$`, msg.Serial)
	}
}

func TestService_SpamReportsLossAndPublishErrors(t *testing.T) {
	counter := &fakeCounter{}
	prod := &fakeProducer{failEach: 4}
	prod.onPub = func() { counter.add(1) }

	svc := NewService(prod, counter, &fakeSchema{}, logger.NopLogger())

	report, err := svc.Spam(context.Background(), 8, time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Published)
	assert.Equal(t, 2, report.PublishErrors)
	assert.InDelta(t, 25.0, report.LossPercent, 1e-9)
}

func TestService_SpamInvalidCount(t *testing.T) {
	svc := NewService(&fakeProducer{}, &fakeCounter{}, &fakeSchema{}, logger.NopLogger())

	_, err := svc.Spam(context.Background(), 0, 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestService_SpamCountFailure(t *testing.T) {
	prod := &fakeProducer{}
	svc := NewService(prod, &fakeCounter{err: apperrors.ErrStore}, &fakeSchema{}, logger.NopLogger())

	_, err := svc.Spam(context.Background(), 3, 0)
	assert.ErrorIs(t, err, apperrors.ErrStore)
	assert.Empty(t, prod.bodies())
}

func TestService_SpamCanceledDuringSettle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prod := &fakeProducer{onPub: cancel}
	svc := NewService(prod, &fakeCounter{}, &fakeSchema{}, logger.NopLogger())

	_, err := svc.Spam(ctx, 1, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPacketLoss(t *testing.T) {
	tests := []struct {
		name          string
		before, after int64
		sent          int
		want          float64
	}{
		{"all delivered", 10, 20, 10, 0},
		{"half lost", 0, 500, 1000, 50},
		{"all lost", 5, 5, 4, 100},
		{"nothing sent", 0, 0, 0, 0},
		{"extra rows from other writers", 0, 12, 10, -20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PacketLoss(tt.before, tt.after, tt.sent), 1e-9)
		})
	}
}
