package console

import (
	"context"
	"time"

	"github.com/dyadov103/home-hydroponics/internal/store"
	"github.com/dyadov103/home-hydroponics/pkg/models"
)

type Service interface {
	CheckTables(ctx context.Context) []store.TableReport
	Send(ctx context.Context, message string) error
	SendSyntheticHumidity(ctx context.Context) (*models.HumidityMessage, error)
	SendSyntheticHeartbeat(ctx context.Context) (*models.HeartbeatMessage, error)
	SendWaterAck(ctx context.Context) (*models.WaterAckMessage, error)
	Spam(ctx context.Context, count int, settle time.Duration) (*SpamReport, error)
	Count(ctx context.Context, table string) (int64, error)
}

type SchemaChecker interface {
	CheckAndCreate(ctx context.Context) []store.TableReport
}
