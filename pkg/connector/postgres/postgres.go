// Package postgres implements the Postgres source/destination
// connector named in §4.5's registry key list, over database/sql and
// github.com/lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

var acceptedParams = []string{
	"host", "port", "database", "dbname", "username", "user", "password",
	"sslmode", "schema", "sync_mode", "cursor_field", "primary_key",
}

// Source reads from a Postgres table, or a view/query object, through
// a pooled *sql.DB.
type Source struct {
	db     *sql.DB
	schema string
}

// New returns an unconfigured Postgres source factory.
func New() connector.Source { return &Source{} }

// Configure implements connector.Source. It validates parameters and
// opens the pooled handle with sql.Open, which does not dial the
// server: host and auth errors surface on TestConnection or on the
// first query.
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("postgres", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("postgres", params); err != nil {
		return err
	}
	var resolved = connector.ResolveAliases(params)
	if err := connector.ValidateRequired("postgres", resolved, []string{"host", "database", "username", "password"}); err != nil {
		return err
	}

	var dsn = buildDSN(resolved)
	var db, err = sql.Open("postgres", dsn)
	if err != nil {
		return &connector.ConfigurationError{ConnectorType: "postgres", Message: err.Error()}
	}
	s.db = db
	if v, ok := resolved["schema"].(string); ok && v != "" {
		s.schema = v
	} else {
		s.schema = "public"
	}
	return nil
}

func buildDSN(p map[string]any) string {
	var port = "5432"
	if v, ok := p["port"]; ok {
		port = fmt.Sprint(v)
	}
	var sslmode = "require"
	if v, ok := p["sslmode"].(string); ok && v != "" {
		sslmode = v
	}
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		p["host"], port, p["database"], p["username"], p["password"], sslmode)
}

// TestConnection implements connector.Source.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var start = time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok", LatencyMS: time.Since(start).Milliseconds()}, nil
}

// Discover implements connector.Source: lists base tables in the
// configured schema.
func (s *Source) Discover(ctx context.Context) ([]string, error) {
	var rows, err = s.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// GetSchema implements connector.Source.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var rows, err = s.db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, s.schema, object)
	if err != nil {
		return batch.Schema{}, err
	}
	defer rows.Close()

	var fields []batch.Field
	for rows.Next() {
		var name, dataType, isNullable string
		if err := rows.Scan(&name, &dataType, &isNullable); err != nil {
			return batch.Schema{}, err
		}
		fields = append(fields, batch.Field{Name: name, Type: pgLogicalType(dataType), Nullable: isNullable == "YES"})
	}
	if err := rows.Err(); err != nil {
		return batch.Schema{}, err
	}
	if len(fields) == 0 {
		return batch.Schema{}, fmt.Errorf("postgres: table %q not found in schema %q", object, s.schema)
	}
	return batch.Schema{Fields: fields}, nil
}

func pgLogicalType(dataType string) batch.LogicalType {
	switch dataType {
	case "integer", "bigint", "smallint":
		return batch.TypeInt64
	case "real", "double precision", "numeric", "decimal":
		return batch.TypeFloat64
	case "boolean":
		return batch.TypeBool
	case "timestamp without time zone", "timestamp with time zone", "date":
		return batch.TypeTimestampUTC
	case "bytea":
		return batch.TypeBytes
	default:
		return batch.TypeString
	}
}

// Read implements connector.Source.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}

	var query = buildSelect(s.schema, object, columns, filters, "", 0)
	var args = make([]any, len(filters))
	for i, f := range filters {
		args[i] = f.Value
	}
	var rows, qerr = s.db.QueryContext(ctx, query, args...)
	if qerr != nil {
		return nil, qerr
	}
	return &rowIterator{rows: rows, schema: schema}, nil
}

func buildSelect(schema, object string, columns []string, filters []connector.Filter, cursorField string, argStart int) string {
	var cols = "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ", ")
	}
	var query = fmt.Sprintf(`SELECT %s FROM %q.%q`, cols, schema, object)

	var conds []string
	var n = argStart
	for _, f := range filters {
		n++
		conds = append(conds, fmt.Sprintf("%s %s $%d", f.Column, f.Op, n))
	}
	if cursorField != "" {
		n++
		conds = append(conds, fmt.Sprintf("%s > $%d", cursorField, n))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query
}

// SupportsIncremental implements connector.Source.
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}

	if cursorValue == nil {
		var query = buildSelect(s.schema, object, columns, nil, "", 0)
		var rows, qerr = s.db.QueryContext(ctx, query)
		if qerr != nil {
			return nil, qerr
		}
		return &rowIterator{rows: rows, schema: schema}, nil
	}

	var query = buildSelect(s.schema, object, columns, nil, cursorField, 0)
	var rows, qerr = s.db.QueryContext(ctx, query, cursorValue)
	if qerr != nil {
		return nil, qerr
	}
	return &rowIterator{rows: rows, schema: schema}, nil
}

// GetCursorValue implements connector.Source.
func (s *Source) GetCursorValue(b *batch.Batch, field string) (any, error) {
	var col, ok = b.Column(field)
	if !ok || len(col) == 0 {
		return nil, nil
	}
	var max = col[0]
	for _, v := range col[1:] {
		if v != nil && compareGreater(v, max) {
			max = v
		}
	}
	return max, nil
}

func compareGreater(a, b any) bool {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return av > bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av > bv
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.After(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return av > bv
		}
	}
	return false
}

// Health implements connector.Source.
func (s *Source) Health(ctx context.Context) (connector.Health, error) {
	var test, _ = s.TestConnection(ctx)
	var state = connector.HealthHealthy
	if !test.OK {
		state = connector.HealthUnhealthy
	}
	return connector.Health{State: state, Metrics: map[string]any{"open_connections": s.db.Stats().OpenConnections}}, nil
}

// rowIterator streams *sql.Rows in fixed-size chunks so a large table
// never forces the whole result set into memory at once.
type rowIterator struct {
	rows   *sql.Rows
	schema batch.Schema
}

const chunkSize = 2000

func (it *rowIterator) Next(ctx context.Context) (*batch.Batch, bool, error) {
	var columns = make([][]any, len(it.schema.Fields))
	var n = 0
	for n < chunkSize && it.rows.Next() {
		var scanned = make([]any, len(it.schema.Fields))
		var ptrs = make([]any, len(scanned))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := it.rows.Scan(ptrs...); err != nil {
			return nil, false, err
		}
		for i, v := range scanned {
			columns[i] = append(columns[i], v)
		}
		n++
	}
	if err := it.rows.Err(); err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}
	var b, err = batch.New(it.schema, columns)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (it *rowIterator) Close() error { return it.rows.Close() }

// Dest writes to a Postgres table via database/sql.
type Dest struct {
	db     *sql.DB
	schema string
}

// NewDest returns an unconfigured Postgres destination.
func NewDest() connector.Destination { return &Dest{} }

// Configure implements connector.Destination.
func (d *Dest) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("postgres", params, acceptedParams); err != nil {
		return err
	}
	var resolved = connector.ResolveAliases(params)
	if err := connector.ValidateRequired("postgres", resolved, []string{"host", "database", "username", "password"}); err != nil {
		return err
	}
	var db, err = sql.Open("postgres", buildDSN(resolved))
	if err != nil {
		return &connector.ConfigurationError{ConnectorType: "postgres", Message: err.Error()}
	}
	d.db = db
	if v, ok := resolved["schema"].(string); ok && v != "" {
		d.schema = v
	} else {
		d.schema = "public"
	}
	return nil
}

// TestConnection implements connector.Destination.
func (d *Dest) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	if err := d.db.PingContext(ctx); err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok"}, nil
}

// Write implements connector.Destination, dispatching on mode.
func (d *Dest) Write(ctx context.Context, object string, b *batch.Batch, mode string, mergeKeys []string) (connector.WriteResult, error) {
	var tx, err = d.db.BeginTx(ctx, nil)
	if err != nil {
		return connector.WriteResult{}, err
	}
	defer tx.Rollback()

	switch mode {
	case "replace":
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q.%q`, d.schema, object)); err != nil {
			return connector.WriteResult{}, err
		}
		if err := createTable(ctx, tx, d.schema, object, b.Schema()); err != nil {
			return connector.WriteResult{}, err
		}
		if err := insertBatch(ctx, tx, d.schema, object, b); err != nil {
			return connector.WriteResult{}, err
		}
	case "append":
		if err := insertBatch(ctx, tx, d.schema, object, b); err != nil {
			return connector.WriteResult{}, err
		}
	case "merge":
		if err := mergeBatch(ctx, tx, d.schema, object, b, mergeKeys); err != nil {
			return connector.WriteResult{}, err
		}
	default:
		return connector.WriteResult{}, &connector.ConfigurationError{ConnectorType: "postgres", Message: "unknown write mode " + mode}
	}

	if err := tx.Commit(); err != nil {
		return connector.WriteResult{}, err
	}
	return connector.WriteResult{RowsWritten: b.RowCount()}, nil
}

func createTable(ctx context.Context, tx *sql.Tx, schema, object string, s batch.Schema) error {
	var cols = make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = fmt.Sprintf("%q %s", f.Name, pgColumnType(f))
	}
	var ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.%q (%s)`, schema, object, strings.Join(cols, ", "))
	var _, err = tx.ExecContext(ctx, ddl)
	return err
}

func pgColumnType(f batch.Field) string {
	switch f.Type {
	case batch.TypeInt64:
		return "bigint"
	case batch.TypeFloat64:
		return "double precision"
	case batch.TypeBool:
		return "boolean"
	case batch.TypeTimestampUTC:
		return "timestamp with time zone"
	case batch.TypeDecimal:
		return fmt.Sprintf("numeric(%d,%d)", f.Precision, f.Scale)
	case batch.TypeBytes:
		return "bytea"
	default:
		return "text"
	}
}

func insertBatch(ctx context.Context, tx *sql.Tx, schema, object string, b *batch.Batch) error {
	var fields = b.Schema().Fields
	var names = make([]string, len(fields))
	var placeholders = make([]string, len(fields))
	for i, f := range fields {
		names[i] = fmt.Sprintf("%q", f.Name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	var stmt = fmt.Sprintf(`INSERT INTO %q.%q (%s) VALUES (%s)`, schema, object, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	for _, row := range b.Rows() {
		if _, err := tx.ExecContext(ctx, stmt, row...); err != nil {
			return err
		}
	}
	return nil
}

func mergeBatch(ctx context.Context, tx *sql.Tx, schema, object string, b *batch.Batch, mergeKeys []string) error {
	var fields = b.Schema().Fields
	var names = make([]string, len(fields))
	var placeholders = make([]string, len(fields))
	var updates []string
	for i, f := range fields {
		names[i] = fmt.Sprintf("%q", f.Name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if !contains(mergeKeys, f.Name) {
			updates = append(updates, fmt.Sprintf("%q = EXCLUDED.%q", f.Name, f.Name))
		}
	}
	var conflictCols = make([]string, len(mergeKeys))
	for i, k := range mergeKeys {
		conflictCols[i] = fmt.Sprintf("%q", k)
	}

	var stmt = fmt.Sprintf(`INSERT INTO %q.%q (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		schema, object, strings.Join(names, ", "), strings.Join(placeholders, ", "),
		strings.Join(conflictCols, ", "), strings.Join(updates, ", "))

	for _, row := range b.Rows() {
		if _, err := tx.ExecContext(ctx, stmt, row...); err != nil {
			return err
		}
	}
	return nil
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
