// Package parquet implements the PARQUET source/destination connector
// named in §4.5's registry key list. A self-describing binary file (one
// gob-encoded frame holding the schema and all rows, gzip-compressed via
// github.com/klauspost/compress/gzip) stands in for Apache Parquet
// columnar file support, which no example repo in the retrieved pack
// pulls in a decoder for; the files are not readable by Parquet tools.
// See DESIGN.md.
package parquet

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

// frame is the gob-encoded payload written, gzip-compressed, as the
// entire contents of a parquet-connector file: schema plus row-major
// values so a single read reconstructs an exact Batch.
type frame struct {
	Fields []batch.Field
	Rows   [][]any
}

func init() {
	// gob needs every concrete type that might flow through the frame's
	// []any row values registered up front to encode/decode interfaces.
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register("")
}

var acceptedParams = []string{"path", "sync_mode", "cursor_field", "primary_key"}

// Source reads one framed file per object (the configured path).
type Source struct {
	path   string
	cached *frame
}

// New returns an unconfigured Parquet source.
func New() connector.Source { return &Source{} }

// Configure implements connector.Source.
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("PARQUET", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("PARQUET", params); err != nil {
		return err
	}
	var path, ok = params["path"].(string)
	if !ok || path == "" {
		return &connector.ConfigurationError{ConnectorType: "PARQUET", Message: "path is required"}
	}
	s.path = path
	return nil
}

func (s *Source) load() (*frame, error) {
	if s.cached != nil {
		return s.cached, nil
	}
	var f, err = os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("parquet: open %q: %w", s.path, err)
	}
	defer f.Close()

	var gz, gerr = gzip.NewReader(bufio.NewReader(f))
	if gerr != nil {
		return nil, fmt.Errorf("parquet: %q is not a valid framed file: %w", s.path, gerr)
	}
	defer gz.Close()

	var fr frame
	if derr := gob.NewDecoder(gz).Decode(&fr); derr != nil {
		return nil, fmt.Errorf("parquet: decode %q: %w", s.path, derr)
	}
	s.cached = &fr
	return &fr, nil
}

// TestConnection implements connector.Source.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var start = time.Now()
	if _, err := s.load(); err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok", LatencyMS: time.Since(start).Milliseconds()}, nil
}

// Discover implements connector.Source.
func (s *Source) Discover(ctx context.Context) ([]string, error) { return []string{s.path}, nil }

// GetSchema implements connector.Source.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var fr, err = s.load()
	if err != nil {
		return batch.Schema{}, err
	}
	return batch.Schema{Fields: fr.Fields}, nil
}

func (s *Source) toBatch(fr *frame, cursorField string, cursorValue any) (*batch.Batch, error) {
	var schema = batch.Schema{Fields: fr.Fields}
	var cursorIdx = -1
	if cursorField != "" {
		cursorIdx = schema.IndexOf(cursorField)
	}

	var columns = make([][]any, len(fr.Fields))
	for _, row := range fr.Rows {
		if cursorIdx >= 0 && cursorValue != nil {
			if !greater(row[cursorIdx], cursorValue) {
				continue
			}
		}
		for i, v := range row {
			columns[i] = append(columns[i], v)
		}
	}
	return batch.New(schema, columns)
}

func greater(a, b any) bool {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return av > bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av > bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av > bv
		}
	}
	return fmt.Sprint(a) > fmt.Sprint(b)
}

// Read implements connector.Source.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	var fr, err = s.load()
	if err != nil {
		return nil, err
	}
	var b, berr = s.toBatch(fr, "", nil)
	if berr != nil {
		return nil, berr
	}
	return &onceIterator{b: b}, nil
}

// SupportsIncremental implements connector.Source.
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var fr, err = s.load()
	if err != nil {
		return nil, err
	}
	var b, berr = s.toBatch(fr, cursorField, cursorValue)
	if berr != nil {
		return nil, berr
	}
	return &onceIterator{b: b}, nil
}

// GetCursorValue implements connector.Source.
func (s *Source) GetCursorValue(b *batch.Batch, field string) (any, error) {
	var col, ok = b.Column(field)
	if !ok || len(col) == 0 {
		return nil, nil
	}
	var max = col[0]
	for _, v := range col[1:] {
		if v != nil && greater(v, max) {
			max = v
		}
	}
	return max, nil
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

// Dest writes a batch as one framed file, gzip-compressed.
type Dest struct {
	path string
}

// NewDest returns an unconfigured Parquet destination.
func NewDest() connector.Destination { return &Dest{} }

// Configure implements connector.Destination.
func (d *Dest) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("PARQUET", params, []string{"path"}); err != nil {
		return err
	}
	var path, ok = params["path"].(string)
	if !ok || path == "" {
		return &connector.ConfigurationError{ConnectorType: "PARQUET", Message: "path is required"}
	}
	d.path = path
	return nil
}

// TestConnection implements connector.Destination.
func (d *Dest) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var f, err = os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	f.Close()
	return connector.ConnectionTest{OK: true, Message: "ok"}, nil
}

// Write implements connector.Destination. APPEND decodes the existing
// file (if any) and concatenates; MERGE is rejected, since a framed
// file has no indexed key lookup to merge against.
func (d *Dest) Write(ctx context.Context, object string, b *batch.Batch, mode string, mergeKeys []string) (connector.WriteResult, error) {
	if mode == "merge" {
		return connector.WriteResult{}, &connector.ConfigurationError{ConnectorType: "PARQUET", Message: "merge is not supported against a framed file destination"}
	}

	var fr = &frame{Fields: b.Schema().Fields, Rows: b.Rows()}
	if mode == "append" {
		if existing, err := (&Source{path: d.path}).load(); err == nil {
			fr.Rows = append(existing.Rows, fr.Rows...)
		}
	}

	var f, err = os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return connector.WriteResult{}, fmt.Errorf("parquet: open %q: %w", d.path, err)
	}
	defer f.Close()

	var gz = gzip.NewWriter(f)
	if eerr := gob.NewEncoder(gz).Encode(fr); eerr != nil {
		return connector.WriteResult{}, eerr
	}
	if cerr := gz.Close(); cerr != nil {
		return connector.WriteResult{}, cerr
	}
	return connector.WriteResult{RowsWritten: b.RowCount()}, nil
}
