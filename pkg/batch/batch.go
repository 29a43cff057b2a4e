package batch

import (
	"fmt"
	"sync"
)

// Batch is an immutable, columnar chunk of rows with a schema. It is
// produced once (by a connector read or a SQL engine result) and owned
// by exactly one consumer at a time; ownership transfers without copy.
// Row-oriented iteration is derived lazily and cached, so a connector
// that only ever emits rows never pays for a columnar materialization
// it doesn't use, and vice versa.
type Batch struct {
	schema Schema
	cols   []column
	rows   int

	mu       sync.Mutex
	rowCache [][]any
}

// column is one field's values, stored densely; nil entries mean SQL
// NULL for nullable fields.
type column struct {
	values []any
}

// New builds a Batch from a schema and column-major values. Every
// column must have the same length, which becomes the batch's row
// count; a zero-row batch is valid and keeps its schema.
func New(schema Schema, columns [][]any) (*Batch, error) {
	if len(columns) != len(schema.Fields) {
		return nil, fmt.Errorf("batch: %d columns given, schema has %d fields", len(columns), len(schema.Fields))
	}
	var rows = 0
	if len(columns) > 0 {
		rows = len(columns[0])
	}
	for i, c := range columns {
		if len(c) != rows {
			return nil, fmt.Errorf("batch: column %q has %d rows, expected %d", schema.Fields[i].Name, len(c), rows)
		}
	}
	var cols = make([]column, len(columns))
	for i, c := range columns {
		cols[i] = column{values: c}
	}
	return &Batch{schema: schema, cols: cols, rows: rows}, nil
}

// Empty returns a zero-row batch carrying only schema.
func Empty(schema Schema) *Batch {
	var cols = make([]column, len(schema.Fields))
	for i := range cols {
		cols[i] = column{values: nil}
	}
	return &Batch{schema: schema, cols: cols, rows: 0}
}

// Schema returns the batch's column schema.
func (b *Batch) Schema() Schema { return b.schema }

// RowCount returns the cached row count.
func (b *Batch) RowCount() int { return b.rows }

// Column returns the raw values of the named column, in row order.
func (b *Batch) Column(name string) ([]any, bool) {
	var i = b.schema.IndexOf(name)
	if i < 0 {
		return nil, false
	}
	return b.cols[i].values, true
}

// ColumnAt returns the raw values of the column at position i.
func (b *Batch) ColumnAt(i int) []any { return b.cols[i].values }

// Rows returns a lazily built, cached row-oriented view: one []any per
// row, in schema field order. Safe for concurrent callers; built once.
func (b *Batch) Rows() [][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rowCache != nil {
		return b.rowCache
	}
	var rows = make([][]any, b.rows)
	for r := 0; r < b.rows; r++ {
		var row = make([]any, len(b.cols))
		for c := range b.cols {
			row[c] = b.cols[c].values[r]
		}
		rows[r] = row
	}
	b.rowCache = rows
	return rows
}

// Row returns the value of column name at row index r.
func (b *Batch) Row(r int, name string) (any, bool) {
	var col, ok = b.Column(name)
	if !ok || r < 0 || r >= len(col) {
		return nil, false
	}
	return col[r], true
}

// Append returns a new batch holding b's rows followed by other's,
// requiring identical schemas. Used by the incremental source executor
// to fold multiple streamed batches into one logical source table.
func Append(b, other *Batch) (*Batch, error) {
	if len(b.schema.Fields) != len(other.schema.Fields) {
		return nil, fmt.Errorf("batch: cannot append batches with differing field counts")
	}
	for i, f := range b.schema.Fields {
		if other.schema.Fields[i].Name != f.Name || other.schema.Fields[i].Type != f.Type {
			return nil, fmt.Errorf("batch: cannot append, field %d mismatch (%s vs %s)", i, f, other.schema.Fields[i])
		}
	}
	var cols = make([][]any, len(b.cols))
	for i := range b.cols {
		cols[i] = append(append([]any{}, b.cols[i].values...), other.cols[i].values...)
	}
	return New(b.schema, cols)
}
