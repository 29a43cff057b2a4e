// Package csv implements the CSV source connector named in §4.5's
// registry key list. It reads a local file path, optionally with a
// header row, and supports incremental reads by re-scanning the file
// and filtering on a cursor column — grounded on the teacher's
// `go/flow/ingest.go` "slurp a bounded local input into batches" shape.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

// Source is a file-backed CSV connector. One instance is configured
// and used for exactly one source definition.
type Source struct {
	path       string
	hasHeader  bool
	delimiter  rune
	columns    []string
	inferred   batch.Schema
}

// New returns an unconfigured CSV source; registered with a
// *connector.Registry via RegisterSource("CSV", csv.New).
func New() connector.Source { return &Source{delimiter: ','} }

var acceptedParams = []string{"path", "has_header", "delimiter", "sync_mode", "cursor_field", "primary_key"}

// Configure implements connector.Source.
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("CSV", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("CSV", params); err != nil {
		return err
	}
	var resolved = connector.ResolveAliases(params)

	var path, ok = resolved["path"].(string)
	if !ok || path == "" {
		return &connector.ConfigurationError{ConnectorType: "CSV", Message: "path is required"}
	}
	s.path = path

	if hh, ok := resolved["has_header"].(bool); ok {
		s.hasHeader = hh
	} else {
		s.hasHeader = true
	}
	if d, ok := resolved["delimiter"].(string); ok && d != "" {
		s.delimiter = []rune(d)[0]
	}
	return nil
}

// TestConnection implements connector.Source: a CSV source's
// connection test is simply confirming the file is readable.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var start = time.Now()
	var f, err = os.Open(s.path)
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	f.Close()
	return connector.ConnectionTest{OK: true, Message: "ok", LatencyMS: time.Since(start).Milliseconds()}, nil
}

// Discover implements connector.Source: a CSV source exposes exactly
// one object, named after the configured path.
func (s *Source) Discover(ctx context.Context) ([]string, error) {
	return []string{s.path}, nil
}

// GetSchema implements connector.Source by reading the header row (or
// synthesizing col_0..col_N-1 when has_header is false) and sniffing
// each column's logical type from its first data row.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var f, err = os.Open(s.path)
	if err != nil {
		return batch.Schema{}, fmt.Errorf("csv: open %q: %w", s.path, err)
	}
	defer f.Close()

	var r = csv.NewReader(f)
	r.Comma = s.delimiter

	var header []string
	if s.hasHeader {
		header, err = r.Read()
		if err != nil {
			return batch.Schema{}, fmt.Errorf("csv: read header: %w", err)
		}
	}

	var sample []string
	sample, _ = r.Read() // best-effort; an empty file yields string-typed columns
	if header == nil {
		header = make([]string, len(sample))
		for i := range header {
			header[i] = fmt.Sprintf("col_%d", i)
		}
	}

	var fields = make([]batch.Field, len(header))
	for i, name := range header {
		var t = batch.TypeString
		if i < len(sample) {
			t = sniffType(sample[i])
		}
		fields[i] = batch.Field{Name: name, Type: t, Nullable: true}
	}
	s.columns = header
	s.inferred = batch.Schema{Fields: fields}
	return s.inferred, nil
}

func sniffType(v string) batch.LogicalType {
	if v == "" {
		return batch.TypeString
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return batch.TypeInt64
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return batch.TypeFloat64
	}
	if v == "true" || v == "false" {
		return batch.TypeBool
	}
	return batch.TypeString
}

// Read implements connector.Source: reads the whole file as one batch.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	return s.scan(ctx, "", nil)
}

// SupportsIncremental implements connector.Source: true, filtered by
// re-scanning and comparing the cursor column numerically for int64 and
// float64 columns and as text otherwise.
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	return s.scan(ctx, cursorField, cursorValue)
}

func (s *Source) scan(ctx context.Context, cursorField string, cursorValue any) (connector.BatchIterator, error) {
	if s.inferred.Fields == nil {
		if _, err := s.GetSchema(ctx, s.path); err != nil {
			return nil, err
		}
	}

	var f, err = os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", s.path, err)
	}

	var r = csv.NewReader(f)
	r.Comma = s.delimiter
	if s.hasHeader {
		if _, err := r.Read(); err != nil && err.Error() != "EOF" {
			f.Close()
			return nil, fmt.Errorf("csv: read header: %w", err)
		}
	}

	var cursorIdx = -1
	if cursorField != "" {
		cursorIdx = s.inferred.IndexOf(cursorField)
	}

	var threshold string
	var hasThreshold = cursorValue != nil
	if hasThreshold {
		threshold = fmt.Sprint(cursorValue)
	}

	var columns2 = make([][]any, len(s.inferred.Fields))
	for {
		var record, rerr = r.Read()
		if rerr != nil {
			break
		}
		if cursorIdx >= 0 && hasThreshold && cursorIdx < len(record) {
			if !cursorGreater(record[cursorIdx], threshold, s.inferred.Fields[cursorIdx].Type) {
				continue
			}
		}
		for i, f := range s.inferred.Fields {
			if i < len(record) {
				columns2[i] = append(columns2[i], convert(record[i], f.Type))
			} else {
				columns2[i] = append(columns2[i], nil)
			}
		}
	}
	f.Close()

	var b, berr = batch.New(s.inferred, columns2)
	if berr != nil {
		return nil, berr
	}
	return &onceIterator{b: b}, nil
}

func cursorGreater(raw, threshold string, t batch.LogicalType) bool {
	switch t {
	case batch.TypeInt64, batch.TypeFloat64:
		var rv, _ = strconv.ParseFloat(raw, 64)
		var tv, _ = strconv.ParseFloat(threshold, 64)
		return rv > tv
	default:
		return raw > threshold
	}
}

func convert(raw string, t batch.LogicalType) any {
	switch t {
	case batch.TypeInt64:
		var v, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		return v
	case batch.TypeFloat64:
		var v, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		return v
	case batch.TypeBool:
		return raw == "true"
	default:
		return raw
	}
}

// GetCursorValue implements connector.Source: the maximum value of
// field observed in b, compared according to its logical type.
func (s *Source) GetCursorValue(b *batch.Batch, field string) (any, error) {
	var col, ok = b.Column(field)
	if !ok || len(col) == 0 {
		return nil, nil
	}
	var max = col[0]
	for _, v := range col[1:] {
		if v == nil || max == nil {
			continue
		}
		if greaterAny(v, max) {
			max = v
		}
	}
	return max, nil
}

func greaterAny(a, b any) bool {
	switch av := a.(type) {
	case int64:
		return av > b.(int64)
	case float64:
		return av > b.(float64)
	case string:
		return av > b.(string)
	default:
		return false
	}
}

// Health implements connector.Source.
func (s *Source) Health(ctx context.Context) (connector.Health, error) {
	var test, _ = s.TestConnection(ctx)
	var state = connector.HealthHealthy
	if !test.OK {
		state = connector.HealthUnhealthy
	}
	return connector.Health{State: state, Metrics: map[string]any{"path": s.path}}, nil
}

// onceIterator yields a single pre-materialized batch, matching a
// file source's "read it all, once" access pattern.
type onceIterator struct {
	b    *batch.Batch
	done bool
}

func (it *onceIterator) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if it.done || it.b.RowCount() == 0 {
		return nil, false, nil
	}
	it.done = true
	return it.b, true, nil
}
func (it *onceIterator) Close() error { return nil }

// Dest is a file-backed CSV destination. REPLACE truncates and
// rewrites the file; APPEND opens for append; MERGE is not meaningful
// for a flat file and is rejected.
type Dest struct {
	path string
}

// NewDest returns an unconfigured CSV destination; registered with a
// *connector.Registry via RegisterDestination("CSV", csv.NewDest).
func NewDest() connector.Destination { return &Dest{} }

// Configure implements connector.Destination.
func (d *Dest) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("CSV", params, []string{"path"}); err != nil {
		return err
	}
	var path, ok = params["path"].(string)
	if !ok || path == "" {
		return &connector.ConfigurationError{ConnectorType: "CSV", Message: "path is required"}
	}
	d.path = path
	return nil
}

// TestConnection implements connector.Destination: confirms the
// destination directory is writable by touching the target path.
func (d *Dest) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var f, err = os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	f.Close()
	return connector.ConnectionTest{OK: true, Message: "ok"}, nil
}

// Write implements connector.Destination.
func (d *Dest) Write(ctx context.Context, object string, b *batch.Batch, mode string, mergeKeys []string) (connector.WriteResult, error) {
	if mode == "merge" {
		return connector.WriteResult{}, &connector.ConfigurationError{ConnectorType: "CSV", Message: "merge is not supported against a flat file destination"}
	}

	var flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if mode == "append" {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	var f, err = os.OpenFile(d.path, flag, 0o644)
	if err != nil {
		return connector.WriteResult{}, fmt.Errorf("csv: open %q: %w", d.path, err)
	}
	defer f.Close()

	var w = csv.NewWriter(f)
	var schema = b.Schema()

	if mode != "append" {
		var header = make([]string, len(schema.Fields))
		for i, f := range schema.Fields {
			header[i] = f.Name
		}
		if err := w.Write(header); err != nil {
			return connector.WriteResult{}, err
		}
	}

	var rows = b.Rows()
	for _, row := range rows {
		var record = make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		if err := w.Write(record); err != nil {
			return connector.WriteResult{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return connector.WriteResult{}, err
	}
	return connector.WriteResult{RowsWritten: b.RowCount()}, nil
}
