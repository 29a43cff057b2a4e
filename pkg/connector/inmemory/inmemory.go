// Package inmemory implements the in-memory source/destination
// connector named in §4.5's registry key list: a fixed set of batches
// held in a process-wide named registry, used by tests and by
// pipelines that stage data between steps without a real backend.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

// Store is a process-wide table name -> batch registry, analogous to a
// connection string pointing at a shared fixture. Tests populate it
// directly via Put before running a pipeline against it.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*batch.Batch
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{tables: make(map[string]*batch.Batch)}
}

// Put installs or replaces the batch held under name.
func (s *Store) Put(name string, b *batch.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = b
}

// Get returns the batch held under name.
func (s *Store) Get(name string) (*batch.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b, ok = s.tables[name]
	return b, ok
}

// Names returns every table name currently held.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out = make([]string, 0, len(s.tables))
	for k := range s.tables {
		out = append(out, k)
	}
	return out
}

// Source reads from a shared Store by table name.
type Source struct {
	store *Store
	table string
}

// New returns a factory closing over store, so tests can register a
// fixture before the registry ever configures a Source instance.
func New(store *Store) connector.SourceFactory {
	return func() connector.Source { return &Source{store: store} }
}

var acceptedParams = []string{"table", "sync_mode", "cursor_field", "primary_key"}

// Configure implements connector.Source.
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("IN_MEMORY", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("IN_MEMORY", params); err != nil {
		return err
	}
	var table, ok = params["table"].(string)
	if !ok || table == "" {
		return &connector.ConfigurationError{ConnectorType: "IN_MEMORY", Message: "table is required"}
	}
	s.table = table
	return nil
}

// TestConnection implements connector.Source.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	if _, ok := s.store.Get(s.table); !ok {
		return connector.ConnectionTest{OK: false, Message: fmt.Sprintf("table %q not found", s.table)}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok"}, nil
}

// Discover implements connector.Source.
func (s *Source) Discover(ctx context.Context) ([]string, error) { return s.store.Names(), nil }

// GetSchema implements connector.Source.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var b, ok = s.store.Get(object)
	if !ok {
		return batch.Schema{}, fmt.Errorf("in-memory: table %q not found", object)
	}
	return b.Schema(), nil
}

// Read implements connector.Source.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	var b, ok = s.store.Get(object)
	if !ok {
		return nil, fmt.Errorf("in-memory: table %q not found", object)
	}
	return &onceIterator{b: b}, nil
}

// SupportsIncremental implements connector.Source.
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source: filters rows whose
// cursor column exceeds cursorValue. Values of the same Go type (int64,
// float64, or string) compare natively; any other pair compares the
// fmt.Sprint text of both sides lexically.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var b, ok = s.store.Get(object)
	if !ok {
		return nil, fmt.Errorf("in-memory: table %q not found", object)
	}
	if cursorValue == nil {
		return &onceIterator{b: b}, nil
	}

	var col, cok = b.Column(cursorField)
	if !cok {
		return nil, fmt.Errorf("in-memory: table %q has no column %q", object, cursorField)
	}

	var schema = b.Schema()
	var columns2 = make([][]any, len(schema.Fields))
	var rows = b.Rows()
	for r, row := range rows {
		if !greater(col[r], cursorValue) {
			continue
		}
		for c := range schema.Fields {
			columns2[c] = append(columns2[c], row[c])
		}
	}
	var filtered, err = batch.New(schema, columns2)
	if err != nil {
		return nil, err
	}
	return &onceIterator{b: filtered}, nil
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
	return connector.Health{State: connector.HealthHealthy}, nil
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

// Dest writes into a shared Store by table name, honoring REPLACE,
// APPEND, and MERGE (keyed on the merge key columns).
type Dest struct {
	store *Store
	table string
}

// NewDest returns a factory closing over store.
func NewDest(store *Store) connector.DestinationFactory {
	return func() connector.Destination { return &Dest{store: store} }
}

// Configure implements connector.Destination.
func (d *Dest) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("IN_MEMORY", params, []string{"table"}); err != nil {
		return err
	}
	var table, ok = params["table"].(string)
	if !ok || table == "" {
		return &connector.ConfigurationError{ConnectorType: "IN_MEMORY", Message: "table is required"}
	}
	d.table = table
	return nil
}

// TestConnection implements connector.Destination.
func (d *Dest) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	return connector.ConnectionTest{OK: true, Message: "ok"}, nil
}

// Write implements connector.Destination.
func (d *Dest) Write(ctx context.Context, object string, b *batch.Batch, mode string, mergeKeys []string) (connector.WriteResult, error) {
	switch mode {
	case "append":
		var existing, ok = d.store.Get(object)
		if !ok {
			d.store.Put(object, b)
			return connector.WriteResult{RowsWritten: b.RowCount()}, nil
		}
		var merged, err = batch.Append(existing, b)
		if err != nil {
			return connector.WriteResult{}, err
		}
		d.store.Put(object, merged)
		return connector.WriteResult{RowsWritten: b.RowCount()}, nil
	case "merge":
		return d.merge(object, b, mergeKeys)
	default: // replace
		d.store.Put(object, b)
		return connector.WriteResult{RowsWritten: b.RowCount()}, nil
	}
}

func (d *Dest) merge(object string, b *batch.Batch, mergeKeys []string) (connector.WriteResult, error) {
	var existing, ok = d.store.Get(object)
	if !ok {
		d.store.Put(object, b)
		return connector.WriteResult{RowsWritten: b.RowCount()}, nil
	}

	var schema = existing.Schema()
	var keyOf = func(row []any) string {
		var key string
		for _, k := range mergeKeys {
			var idx = schema.IndexOf(k)
			key += fmt.Sprintf("%v|", row[idx])
		}
		return key
	}

	var byKey = map[string][]any{}
	for _, row := range existing.Rows() {
		byKey[keyOf(row)] = row
	}
	for _, row := range b.Rows() {
		byKey[keyOf(row)] = row
	}

	var columns = make([][]any, len(schema.Fields))
	for _, row := range byKey {
		for c := range schema.Fields {
			columns[c] = append(columns[c], row[c])
		}
	}
	var merged, err = batch.New(schema, columns)
	if err != nil {
		return connector.WriteResult{}, err
	}
	d.store.Put(object, merged)
	return connector.WriteResult{RowsWritten: b.RowCount()}, nil
}
