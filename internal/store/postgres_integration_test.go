package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dyadov103/home-hydroponics/internal/logger"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	ctx := context.Background()
	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("home_hydro"),
		postgresmodule.WithUsername("home_hydro"),
		postgresmodule.WithPassword("plants"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	return db
}

func TestPostgresStore_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	reports := NewSchemaManager(db, logger.NopLogger()).CheckAndCreate(ctx)
	for _, r := range reports {
		assert.Equal(t, TableValid, r.Status, r.Table)
	}

	s := NewPostgresStore(db)
	before := time.Now().UTC().Add(-time.Second)

	require.NoError(t, s.InsertHumidity(ctx, HumidityReading{
		Zones:      [8]interface{}{"45.2", json.Number("50.1"), "40", "60", "55", "48", "52", nil},
		Serial:     "ABC123456",
		ReceivedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.InsertHeartbeat(ctx, HeartbeatReading{
		Battery:     json.Number("87"),
		DevTime:     time.Date(2024, 10, 12, 8, 0, 0, 0, time.UTC),
		Temperature: json.Number("22.5"),
		DevHumidity: json.Number("40"),
		Serial:      "XYZ999999",
		ReceivedAt:  time.Now().UTC(),
	}))

	count, err := s.CountRows(ctx, "humidity_data")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var zone2 string
	var zone8 sql.NullString
	var ts time.Time
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT zone2, zone8, "timestamp" FROM humidity_data WHERE serial = $1`, "ABC123456").
		Scan(&zone2, &zone8, &ts))
	assert.Equal(t, "50.1", zone2)
	assert.False(t, zone8.Valid)
	assert.True(t, ts.After(before))

	var battery float64
	var devTime time.Time
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT battery, dev_time FROM heartbeat_data WHERE serial = $1`, "XYZ999999").
		Scan(&battery, &devTime))
	assert.Equal(t, 87.0, battery)
	assert.True(t, devTime.Equal(time.Date(2024, 10, 12, 8, 0, 0, 0, time.UTC)))
}
