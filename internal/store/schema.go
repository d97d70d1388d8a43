package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
)

type Column struct {
	Name string
	Type string
}

type TableSpec struct {
	Name    string
	Columns []Column
}

// SensorTables is the fixed schema the ingestor writes to.
var SensorTables = []TableSpec{
	{
		Name: constants.TableHumidity,
		Columns: []Column{
			{"zone1", "VARCHAR(255)"},
			{"zone2", "VARCHAR(255)"},
			{"zone3", "VARCHAR(255)"},
			{"zone4", "VARCHAR(255)"},
			{"zone5", "VARCHAR(255)"},
			{"zone6", "VARCHAR(255)"},
			{"zone7", "VARCHAR(255)"},
			{"zone8", "VARCHAR(255)"},
			{"serial", "VARCHAR(255)"},
			{"timestamp", "TIMESTAMP"},
		},
	},
	{
		Name: constants.TableHeartbeat,
		Columns: []Column{
			{"battery", "DOUBLE PRECISION"},
			{"dev_time", "TIMESTAMP"},
			{"temperature", "DOUBLE PRECISION"},
			{"dev_humidity", "DOUBLE PRECISION"},
			{"serial", "VARCHAR(255)"},
			{"timestamp", "TIMESTAMP"},
		},
	},
}

type TableStatus string

const (
	TableCreated  TableStatus = "created"
	TableValid    TableStatus = "valid"
	TableMismatch TableStatus = "mismatch"
	TableError    TableStatus = "error"
)

type TableReport struct {
	Table      string      `json:"table"`
	Status     TableStatus `json:"status"`
	Mismatches []string    `json:"mismatches,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// SchemaManager creates missing tables and reports, without altering,
// tables whose columns differ from their TableSpec.
type SchemaManager struct {
	db     *sql.DB
	logger logger.Logger
	tables []TableSpec
}

func NewSchemaManager(db *sql.DB, log logger.Logger) *SchemaManager {
	return &SchemaManager{db: db, logger: log, tables: SensorTables}
}

// CheckAndCreate inspects every table. A failure on one table is recorded in
// its report and does not stop the others.
func (m *SchemaManager) CheckAndCreate(ctx context.Context) []TableReport {
	reports := make([]TableReport, 0, len(m.tables))

	for _, spec := range m.tables {
		report := m.checkTable(ctx, spec)
		switch report.Status {
		case TableError:
			m.logger.Errorw("Error checking or creating table", "table", spec.Name, "error", report.Error)
		case TableMismatch:
			m.logger.Warnw("Table structure is invalid", "table", spec.Name, "mismatches", report.Mismatches)
		case TableCreated:
			m.logger.Infow("Table created", "table", spec.Name)
		default:
			m.logger.Infow("Table structure is valid", "table", spec.Name)
		}
		reports = append(reports, report)
	}

	return reports
}

func (m *SchemaManager) checkTable(ctx context.Context, spec TableSpec) TableReport {
	report := TableReport{Table: spec.Name}

	exists, err := m.tableExists(ctx, spec.Name)
	if err != nil {
		report.Status, report.Error = TableError, err.Error()
		return report
	}

	if !exists {
		if _, err := m.db.ExecContext(ctx, createTableSQL(spec)); err != nil {
			report.Status, report.Error = TableError, fmt.Sprintf("failed to create table: %v", err)
			return report
		}
		report.Status = TableCreated
		return report
	}

	actual, err := m.columns(ctx, spec.Name)
	if err != nil {
		report.Status, report.Error = TableError, err.Error()
		return report
	}

	for _, col := range spec.Columns {
		got, ok := actual[col.Name]
		if !ok {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: missing", col.Name))
			continue
		}
		if want := normalizeDataType(col.Type); got != want {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: want %s, got %s", col.Name, want, got))
		}
	}

	report.Status = TableValid
	if len(report.Mismatches) > 0 {
		report.Status = TableMismatch
	}
	return report
}

func (m *SchemaManager) tableExists(ctx context.Context, table string) (bool, error) {
	const query = `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	`

	var count int
	if err := m.db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return count > 0, nil
}

func (m *SchemaManager) columns(ctx context.Context, table string) (map[string]string, error) {
	const query = `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`

	rows, err := m.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols[name] = normalizeDataType(dataType)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return cols, nil
}

func createTableSQL(spec TableSpec) string {
	defs := make([]string, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		defs = append(defs, pq.QuoteIdentifier(col.Name)+" "+col.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pq.QuoteIdentifier(spec.Name), strings.Join(defs, ", "))
}

var typeModifier = regexp.MustCompile(`\s*\(.*\)`)

// normalizeDataType folds declared types and information_schema names onto one
// spelling, e.g. VARCHAR(255) and "character varying".
func normalizeDataType(t string) string {
	t = strings.ToLower(strings.TrimSpace(typeModifier.ReplaceAllString(t, "")))
	switch t {
	case "varchar", "character varying":
		return "varchar"
	case "timestamp", "timestamp without time zone":
		return "timestamp"
	case "double precision", "float8", "double":
		return "double precision"
	}
	return t
}
