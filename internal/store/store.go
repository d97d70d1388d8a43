package store

import (
	"context"
	"time"
)

// HumidityReading is one row of humidity_data. Zone and serial values are
// stored as received; nil becomes NULL.
type HumidityReading struct {
	Zones      [8]interface{}
	Serial     interface{}
	ReceivedAt time.Time
}

// HeartbeatReading is one row of heartbeat_data. DevTime holds a parsed
// time.Time, or the raw device value when it could not be parsed.
type HeartbeatReading struct {
	Battery     interface{}
	DevTime     interface{}
	Temperature interface{}
	DevHumidity interface{}
	Serial      interface{}
	ReceivedAt  time.Time
}

type Store interface {
	InsertHumidity(ctx context.Context, r HumidityReading) error
	InsertHeartbeat(ctx context.Context, r HeartbeatReading) error
}

type Counter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}
