package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dyadov103/home-hydroponics/internal/constants"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
)

const (
	insertHumidityQuery = `
		INSERT INTO humidity_data (zone1, zone2, zone3, zone4, zone5, zone6, zone7, zone8, serial, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	insertHeartbeatQuery = `
		INSERT INTO heartbeat_data (battery, dev_time, temperature, dev_humidity, serial, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6)
	`
)

// countableTables guards CountRows, which has to interpolate the table name.
var countableTables = map[string]bool{
	constants.TableHumidity:  true,
	constants.TableHeartbeat: true,
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertHumidity(ctx context.Context, r HumidityReading) error {
	args := make([]interface{}, 0, 10)
	args = append(args, r.Zones[:]...)
	args = append(args, r.Serial, r.ReceivedAt)

	return s.exec(ctx, constants.TableHumidity, insertHumidityQuery, args...)
}

func (s *PostgresStore) InsertHeartbeat(ctx context.Context, r HeartbeatReading) error {
	return s.exec(ctx, constants.TableHeartbeat, insertHeartbeatQuery,
		r.Battery,
		r.DevTime,
		r.Temperature,
		r.DevHumidity,
		r.Serial,
		r.ReceivedAt,
	)
}

func (s *PostgresStore) exec(ctx context.Context, table, query string, args ...interface{}) error {
	if err := checkArgs(args); err != nil {
		metrics.IncDatabaseQuery(table, "insert", "error")
		return apperrors.ErrStore.WithCause(err).
			WithDetail("pg_class", dataExceptionClass).
			WithDetail("table", table)
	}

	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, args...)
	metrics.ObserveDatabaseQueryDuration(table, "insert", time.Since(start))

	if err != nil {
		metrics.IncDatabaseQuery(table, "insert", "error")
		return classify(err).WithDetail("table", table)
	}

	metrics.IncDatabaseQuery(table, "insert", "success")
	return nil
}

func (s *PostgresStore) CountRows(ctx context.Context, table string) (int64, error) {
	if !countableTables[table] {
		return 0, apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("unknown table %q", table))
	}

	start := time.Now()
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(table)).Scan(&count)
	metrics.ObserveDatabaseQueryDuration(table, "count", time.Since(start))

	if err != nil {
		metrics.IncDatabaseQuery(table, "count", "error")
		return 0, classify(err).WithDetail("table", table)
	}

	metrics.IncDatabaseQuery(table, "count", "success")
	return count, nil
}

// dataExceptionClass is the SQLSTATE class name for class 22. Values the
// driver cannot encode are reported under it because the server would have
// rejected them the same way.
const dataExceptionClass = "data_exception"

// checkArgs rejects payload values with no SQL encoding, such as a nested
// JSON object in a zone field, before they reach the connection.
func checkArgs(args []interface{}) error {
	for i, arg := range args {
		if _, err := driver.DefaultParameterConverter.ConvertValue(arg); err != nil {
			return fmt.Errorf("converting argument $%d: %w", i+1, err)
		}
	}
	return nil
}

// classify maps driver errors onto application codes. Deadline errors become
// TIMEOUT; everything else is STORE_ERROR with the SQLSTATE attached when the
// server produced one.
func classify(err error) *apperrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrTimeout.WithCause(err)
	}

	appErr := apperrors.ErrStore.WithCause(err)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		appErr = appErr.
			WithDetail("pg_code", string(pqErr.Code)).
			WithDetail("pg_class", pqErr.Code.Class().Name())
	}
	return appErr
}
