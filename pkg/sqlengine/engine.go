// Package sqlengine implements the SQL Engine Adapter of §4.12: it
// wraps an embedded columnar engine (DuckDB, via
// github.com/marcboeker/go-duckdb) behind the four operations the spec
// names — register_batch, register_udf, execute, materialize —
// normalizing identifier quoting so callers always deal in unquoted
// lowercase names. Grounded on the pack example leapsql's
// internal/engine + internal/adapter split: an engine type holding a
// lazily-connected database handle behind a narrow operation set.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

// Engine wraps one embedded DuckDB database.
type Engine struct {
	db   *sql.DB
	udfs map[string]udfBinding
}

// Open opens an embedded DuckDB database at path ("" for in-memory,
// the common case for a single pipeline run).
func Open(path string) (*Engine, error) {
	if path == "" {
		path = ""
	}
	var db, err = sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: open: %w", err)
	}
	return &Engine{db: db}, nil
}

// Close releases the database handle.
func (e *Engine) Close() error { return e.db.Close() }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func duckdbType(f batch.Field) string {
	switch f.Type {
	case batch.TypeString:
		return "VARCHAR"
	case batch.TypeInt64:
		return "BIGINT"
	case batch.TypeFloat64:
		return "DOUBLE"
	case batch.TypeBool:
		return "BOOLEAN"
	case batch.TypeTimestampUTC:
		return "TIMESTAMP"
	case batch.TypeDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", f.Precision, f.Scale)
	case batch.TypeBytes:
		return "BLOB"
	default:
		return "VARCHAR"
	}
}

func logicalType(dbType string) batch.LogicalType {
	switch strings.ToUpper(dbType) {
	case "BIGINT", "INTEGER", "SMALLINT", "HUGEINT":
		return batch.TypeInt64
	case "DOUBLE", "FLOAT", "REAL":
		return batch.TypeFloat64
	case "BOOLEAN":
		return batch.TypeBool
	case "TIMESTAMP", "TIMESTAMP WITH TIME ZONE", "DATE":
		return batch.TypeTimestampUTC
	case "BLOB":
		return batch.TypeBytes
	default:
		if strings.HasPrefix(strings.ToUpper(dbType), "DECIMAL") {
			return batch.TypeDecimal
		}
		return batch.TypeString
	}
}

// RegisterBatch makes b queryable under tableName, creating the table
// on first use and appending on subsequent calls (§4.12).
func (e *Engine) RegisterBatch(ctx context.Context, tableName string, b *batch.Batch) error {
	var tx, err = e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlengine: register_batch %q: %w", tableName, err)
	}
	var committed = false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := e.ensureTable(ctx, tx, tableName, b.Schema()); err != nil {
		return err
	}
	if err := insertRows(ctx, tx, tableName, b); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlengine: register_batch %q: commit: %w", tableName, err)
	}
	committed = true
	return nil
}

func (e *Engine) ensureTable(ctx context.Context, tx *sql.Tx, tableName string, schema batch.Schema) error {
	var cols = make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		var nullability = "NOT NULL"
		if f.Nullable {
			nullability = ""
		}
		cols[i] = strings.TrimSpace(fmt.Sprintf("%s %s %s", quoteIdent(f.Name), duckdbType(f), nullability))
	}
	var ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(tableName), strings.Join(cols, ", "))
	var _, err = tx.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("sqlengine: create table %q: %w", tableName, err)
	}
	return nil
}

// Execute runs an arbitrary SELECT and returns a fully materialized
// batch, inferring its schema from the result set's column types.
func (e *Engine) Execute(ctx context.Context, query string) (*batch.Batch, error) {
	var rows, err = e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: execute: %w", err)
	}
	defer rows.Close()
	return batchFromRows(rows)
}

func batchFromRows(rows *sql.Rows) (*batch.Batch, error) {
	var colTypes, err = rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("sqlengine: column types: %w", err)
	}

	var fields = make([]batch.Field, len(colTypes))
	for i, ct := range colTypes {
		var nullable, _ = ct.Nullable()
		fields[i] = batch.Field{Name: ct.Name(), Type: logicalType(ct.DatabaseTypeName()), Nullable: nullable}
	}
	var schema = batch.Schema{Fields: fields}
	var columns = make([][]any, len(fields))

	for rows.Next() {
		var scanTargets = make([]any, len(fields))
		var values = make([]any, len(fields))
		for i := range scanTargets {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("sqlengine: scan row: %w", err)
		}
		for i, v := range values {
			columns[i] = append(columns[i], normalizeScanned(v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlengine: row iteration: %w", err)
	}
	return batch.New(schema, columns)
}

// normalizeScanned narrows driver-returned values (e.g. time.Time, []byte
// for VARCHAR under some drivers) to the plain Go scalars batch.Batch expects.
func normalizeScanned(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x
	default:
		return v
	}
}

// Materialize executes `CREATE OR REPLACE TABLE tableName AS <query>`
// atomically — DuckDB's CREATE OR REPLACE is itself transactional, so
// no explicit transaction wrapper is required.
func (e *Engine) Materialize(ctx context.Context, tableName, query string) error {
	var ddl = fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", quoteIdent(tableName), query)
	var _, err = e.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("sqlengine: materialize %q: %w", tableName, err)
	}
	return nil
}
