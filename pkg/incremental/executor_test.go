package incremental

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
	"github.com/sqlflow/sqlflow/pkg/watermark"
)

func numericComparer(a, b string) int {
	var av, _ = strconv.ParseFloat(a, 64)
	var bv, _ = strconv.ParseFloat(b, 64)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// fakeSource is a minimal connector.Source backed by an in-memory row
// set, used to exercise the executor without a real connector.
type fakeSource struct {
	schema       batch.Schema
	rows         [][]any // each row is [id, updated_at]
	supportsIncr bool
}

func (f *fakeSource) Configure(params map[string]any) error { return nil }
func (f *fakeSource) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	return connector.ConnectionTest{OK: true}, nil
}
func (f *fakeSource) Discover(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeSource) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	return f.schema, nil
}
func (f *fakeSource) SupportsIncremental() bool { return f.supportsIncr }
func (f *fakeSource) GetCursorValue(b *batch.Batch, field string) (any, error) {
	var col, ok = b.Column(field)
	if !ok || len(col) == 0 {
		return nil, nil
	}
	var max = col[0]
	for _, v := range col[1:] {
		if v.(float64) > max.(float64) {
			max = v
		}
	}
	return max, nil
}
func (f *fakeSource) Health(ctx context.Context) (connector.Health, error) {
	return connector.Health{State: connector.HealthHealthy}, nil
}

func (f *fakeSource) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	return f.iteratorFrom(nil)
}

func (f *fakeSource) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var threshold float64 = -1
	if cursorValue != nil {
		threshold, _ = strconv.ParseFloat(cursorValue.(string), 64)
	}
	var filtered [][]any
	for _, row := range f.rows {
		if row[1].(float64) > threshold {
			filtered = append(filtered, row)
		}
	}
	return f.iteratorFrom(filtered)
}

func (f *fakeSource) iteratorFrom(rows [][]any) (connector.BatchIterator, error) {
	if rows == nil {
		rows = f.rows
	}
	if len(rows) == 0 {
		return &fakeIterator{}, nil
	}
	var ids = make([]any, len(rows))
	var ats = make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r[0]
		ats[i] = r[1]
	}
	var b, err = batch.New(f.schema, [][]any{ids, ats})
	if err != nil {
		return nil, err
	}
	return &fakeIterator{batches: []*batch.Batch{b}}, nil
}

type fakeIterator struct {
	batches []*batch.Batch
	i       int
}

func (it *fakeIterator) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if it.i >= len(it.batches) {
		return nil, false, nil
	}
	var b = it.batches[it.i]
	it.i++
	return b, true, nil
}
func (it *fakeIterator) Close() error { return nil }

type fakeSink struct {
	registered map[string]int
}

func (s *fakeSink) Register(sourceName string, b *batch.Batch) error {
	if s.registered == nil {
		s.registered = make(map[string]int)
	}
	s.registered[sourceName] += b.RowCount()
	return nil
}

func newTestSchema() batch.Schema {
	return batch.Schema{Fields: []batch.Field{
		{Name: "id", Type: batch.TypeInt64},
		{Name: "updated_at", Type: batch.TypeFloat64},
	}}
}

func newTestRegistry(src *fakeSource) *connector.Registry {
	var reg = connector.NewRegistry()
	reg.RegisterSource("FAKE", func() connector.Source { return src })
	return reg
}

func TestFullRefreshReadsAllRows(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), rows: [][]any{{int64(1), 10.0}, {int64(2), 20.0}}}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)

	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncFullRefresh, "", nil)
	var sink = &fakeSink{}
	var result, err = ex.Run(context.Background(), "p1", def, nil, sink)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsRead)
	require.Equal(t, 2, sink.registered["events"])
}

func TestIncrementalFirstRunReadsFullHistory(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), rows: [][]any{{int64(1), 10.0}, {int64(2), 20.0}}, supportsIncr: true}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)

	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncIncremental, "updated_at", nil)
	var result, err = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsRead)
	require.True(t, result.HadCursor)
	require.Equal(t, 20.0, result.MaxCursor)
}

func TestIncrementalSecondRunOnlyReadsNewRows(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), rows: [][]any{{int64(1), 10.0}, {int64(2), 20.0}}, supportsIncr: true}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)
	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncIncremental, "updated_at", nil)

	var result, err = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.NoError(t, err)
	require.NoError(t, ex.Commit("p1", "run-1", def, result))

	src.rows = append(src.rows, []any{int64(3), 30.0})
	var result2, err2 = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.NoError(t, err2)
	require.Equal(t, 1, result2.RowsRead)
	require.Equal(t, 30.0, result2.MaxCursor)
}

func TestIncrementalMissingCursorFieldErrors(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), supportsIncr: true}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)

	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncIncremental, "", nil)
	var _, err = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.Error(t, err)
	var _, ok = err.(*MissingCursorFieldError)
	require.True(t, ok)
}

func TestIncrementalUnknownCursorFieldErrors(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), supportsIncr: true}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)

	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncIncremental, "does_not_exist", nil)
	var _, err = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.Error(t, err)
	var _, ok = err.(*MissingCursorFieldError)
	require.True(t, ok)
}

func TestIncrementalDiscoverySchemaIsCached(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), rows: [][]any{{int64(1), 10.0}}, supportsIncr: true}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)

	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncIncremental, "updated_at", nil)
	var _, err = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.NoError(t, err)

	var cached, ok = reg.CachedSchema("FAKE", "events")
	require.True(t, ok)
	require.Equal(t, src.schema, cached)
}

func TestIncrementalNotSupportedErrors(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), supportsIncr: false}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)

	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncIncremental, "updated_at", nil)
	var _, err = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.Error(t, err)
	var _, ok = err.(*IncrementalNotSupportedError)
	require.True(t, ok)
}

func TestEmptySourceLeavesWatermarkUnchanged(t *testing.T) {
	var src = &fakeSource{schema: newTestSchema(), supportsIncr: true}
	var reg = newTestRegistry(src)
	var wm, _ = watermark.Open("")
	defer wm.Close()
	var ex = New(reg, wm, numericComparer)
	var def = ast.NewSourceDefinition(1, "events", "FAKE", nil, ast.SyncIncremental, "updated_at", nil)

	var result, err = ex.Run(context.Background(), "p1", def, nil, &fakeSink{})
	require.NoError(t, err)
	require.Equal(t, 0, result.RowsRead)
	require.NoError(t, ex.Commit("p1", "run-1", def, result))

	var key = watermark.Key{Pipeline: "p1", Source: "events", Target: "events", CursorColumn: "updated_at"}
	var _, ok, _ = wm.Get(key)
	require.False(t, ok)
}
