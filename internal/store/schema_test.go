package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadov103/home-hydroponics/internal/logger"
)

func newMockSchemaManager(t *testing.T, tables ...TableSpec) (*SchemaManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := NewSchemaManager(db, logger.NopLogger())
	m.tables = tables
	return m, mock
}

var tinyTable = TableSpec{
	Name: "humidity_data",
	Columns: []Column{
		{"zone1", "VARCHAR(255)"},
		{"timestamp", "TIMESTAMP"},
	},
}

func TestSchemaManager_CreatesMissingTable(t *testing.T) {
	m, mock := newMockSchemaManager(t, tinyTable)

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("humidity_data").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "humidity_data" \("zone1" VARCHAR\(255\), "timestamp" TIMESTAMP\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reports := m.CheckAndCreate(context.Background())

	require.Len(t, reports, 1)
	assert.Equal(t, TableCreated, reports[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaManager_ValidTable(t *testing.T) {
	m, mock := newMockSchemaManager(t, tinyTable)

	mock.ExpectQuery(`FROM information_schema.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("zone1", "character varying").
			AddRow("timestamp", "timestamp without time zone"))

	reports := m.CheckAndCreate(context.Background())

	require.Len(t, reports, 1)
	assert.Equal(t, TableValid, reports[0].Status)
	assert.Empty(t, reports[0].Mismatches)
}

func TestSchemaManager_MismatchIsOnlyReported(t *testing.T) {
	m, mock := newMockSchemaManager(t, tinyTable)

	mock.ExpectQuery(`FROM information_schema.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("zone1", "integer"))

	reports := m.CheckAndCreate(context.Background())

	require.Len(t, reports, 1)
	assert.Equal(t, TableMismatch, reports[0].Status)
	assert.Equal(t, []string{"zone1: want varchar, got integer", "timestamp: missing"}, reports[0].Mismatches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaManager_ErrorDoesNotStopOtherTables(t *testing.T) {
	other := TableSpec{Name: "heartbeat_data", Columns: []Column{{"battery", "DOUBLE PRECISION"}}}
	m, mock := newMockSchemaManager(t, tinyTable, other)

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("humidity_data").
		WillReturnError(assert.AnError)
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("heartbeat_data").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "heartbeat_data"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reports := m.CheckAndCreate(context.Background())

	require.Len(t, reports, 2)
	assert.Equal(t, TableError, reports[0].Status)
	assert.Equal(t, TableCreated, reports[1].Status)
}

func TestNormalizeDataType(t *testing.T) {
	tests := map[string]string{
		"VARCHAR(255)":                "varchar",
		"character varying":           "varchar",
		"TIMESTAMP":                   "timestamp",
		"timestamp without time zone": "timestamp",
		"DOUBLE PRECISION":            "double precision",
		"integer":                     "integer",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeDataType(in), in)
	}
}
