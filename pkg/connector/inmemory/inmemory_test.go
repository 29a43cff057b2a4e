package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

func sampleBatch(t *testing.T) *batch.Batch {
	t.Helper()
	var schema = batch.Schema{Fields: []batch.Field{
		{Name: "id", Type: batch.TypeInt64},
		{Name: "updated_at", Type: batch.TypeInt64},
	}}
	var b, err = batch.New(schema, [][]any{{int64(1), int64(2)}, {int64(100), int64(200)}})
	require.NoError(t, err)
	return b
}

func TestReadReturnsStoredBatch(t *testing.T) {
	var store = NewStore()
	store.Put("orders", sampleBatch(t))

	var s = New(store)()
	require.NoError(t, s.Configure(map[string]any{"table": "orders"}))

	var it, err = s.Read(context.Background(), "orders", nil, nil)
	require.NoError(t, err)
	var b, _, nerr = it.Next(context.Background())
	require.NoError(t, nerr)
	require.Equal(t, 2, b.RowCount())
}

func TestReadIncrementalFiltersByCursor(t *testing.T) {
	var store = NewStore()
	store.Put("orders", sampleBatch(t))

	var s = New(store)()
	require.NoError(t, s.Configure(map[string]any{"table": "orders"}))

	var it, err = s.ReadIncremental(context.Background(), "orders", "updated_at", int64(150), nil)
	require.NoError(t, err)
	var b, _, nerr = it.Next(context.Background())
	require.NoError(t, nerr)
	require.Equal(t, 1, b.RowCount())
}

func TestWriteReplaceOverwritesTable(t *testing.T) {
	var store = NewStore()
	store.Put("orders", sampleBatch(t))

	var d = NewDest(store)()
	require.NoError(t, d.Configure(map[string]any{"table": "orders"}))

	var schema = batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.TypeInt64}}}
	var fresh, _ = batch.New(schema, [][]any{{int64(9)}})

	var result, err = d.Write(context.Background(), "orders", fresh, "replace", nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.RowsWritten)

	var stored, _ = store.Get("orders")
	require.Equal(t, 1, stored.RowCount())
}

func TestWriteAppendAccumulatesRows(t *testing.T) {
	var store = NewStore()
	store.Put("orders", sampleBatch(t))

	var d = NewDest(store)()
	require.NoError(t, d.Configure(map[string]any{"table": "orders"}))

	var result, err = d.Write(context.Background(), "orders", sampleBatch(t), "append", nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsWritten)

	var stored, _ = store.Get("orders")
	require.Equal(t, 4, stored.RowCount())
}

func TestWriteMergeUpdatesExistingKeyAndAddsNew(t *testing.T) {
	var store = NewStore()
	store.Put("orders", sampleBatch(t))

	var d = NewDest(store)()
	require.NoError(t, d.Configure(map[string]any{"table": "orders"}))

	var schema = batch.Schema{Fields: []batch.Field{
		{Name: "id", Type: batch.TypeInt64},
		{Name: "updated_at", Type: batch.TypeInt64},
	}}
	var incoming, _ = batch.New(schema, [][]any{{int64(1), int64(3)}, {int64(999), int64(300)}})

	var result, err = d.Write(context.Background(), "orders", incoming, "merge", []string{"id"})
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsWritten)

	var stored, _ = store.Get("orders")
	require.Equal(t, 3, stored.RowCount())
}
