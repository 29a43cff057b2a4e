package csv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	var path = filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestConfigureRequiresPath(t *testing.T) {
	var s = New()
	var err = s.Configure(map[string]any{})
	require.Error(t, err)
}

func TestConfigureRejectsUnknownParameter(t *testing.T) {
	var s = New()
	var err = s.Configure(map[string]any{"path": "x.csv", "bogus": true})
	require.Error(t, err)
}

func TestConfigureRejectsCDCSyncMode(t *testing.T) {
	var s = New()
	var err = s.Configure(map[string]any{"path": "x.csv", "sync_mode": "cdc"})
	require.Error(t, err)

	var syncErr *connector.UnsupportedSyncModeError
	require.True(t, errors.As(err, &syncErr))
	require.Equal(t, "cdc", syncErr.SyncMode)
}

func TestGetSchemaInfersTypesFromFirstRow(t *testing.T) {
	var path = writeCSV(t, "id,name,amount\n1,alice,9.50\n2,bob,3\n")
	var s = New()
	require.NoError(t, s.Configure(map[string]any{"path": path}))

	var schema, err = s.GetSchema(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, schema.Fields, 3)
	require.Equal(t, batch.TypeInt64, schema.Fields[0].Type)
	require.Equal(t, batch.TypeString, schema.Fields[1].Type)
	require.Equal(t, batch.TypeFloat64, schema.Fields[2].Type)
}

func TestReadReturnsAllRows(t *testing.T) {
	var path = writeCSV(t, "id,name\n1,alice\n2,bob\n")
	var s = New()
	require.NoError(t, s.Configure(map[string]any{"path": path}))

	var it, err = s.Read(context.Background(), path, nil, nil)
	require.NoError(t, err)
	defer it.Close()

	var b, _, nerr = it.Next(context.Background())
	require.NoError(t, nerr)
	require.Equal(t, 2, b.RowCount())

	var _, more, merr = it.Next(context.Background())
	require.NoError(t, merr)
	require.False(t, more)
}

func TestReadIncrementalFiltersByCursor(t *testing.T) {
	var path = writeCSV(t, "id,updated_at\n1,100\n2,200\n3,300\n")
	var s = New()
	require.NoError(t, s.Configure(map[string]any{"path": path}))

	var it, err = s.ReadIncremental(context.Background(), path, "updated_at", int64(150), nil)
	require.NoError(t, err)
	defer it.Close()

	var b, _, nerr = it.Next(context.Background())
	require.NoError(t, nerr)
	require.Equal(t, 2, b.RowCount())
}

func TestReadIncrementalWithNilCursorReadsAll(t *testing.T) {
	var path = writeCSV(t, "id,updated_at\n1,100\n2,200\n")
	var s = New()
	require.NoError(t, s.Configure(map[string]any{"path": path}))

	var it, err = s.ReadIncremental(context.Background(), path, "updated_at", nil, nil)
	require.NoError(t, err)
	defer it.Close()

	var b, _, nerr = it.Next(context.Background())
	require.NoError(t, nerr)
	require.Equal(t, 2, b.RowCount())
}

func TestGetCursorValueReturnsMax(t *testing.T) {
	var path = writeCSV(t, "id,updated_at\n1,100\n2,300\n3,200\n")
	var s = New()
	require.NoError(t, s.Configure(map[string]any{"path": path}))

	var it, err = s.Read(context.Background(), path, nil, nil)
	require.NoError(t, err)
	defer it.Close()
	var b, _, _ = it.Next(context.Background())

	var max, cerr = s.GetCursorValue(b, "updated_at")
	require.NoError(t, cerr)
	require.Equal(t, int64(300), max)
}

func TestTestConnectionFailsOnMissingFile(t *testing.T) {
	var s = New()
	require.NoError(t, s.Configure(map[string]any{"path": "/no/such/file.csv"}))
	var result, err = s.TestConnection(context.Background())
	require.NoError(t, err)
	require.False(t, result.OK)
}

func TestSupportsIncrementalIsTrue(t *testing.T) {
	var s = New()
	require.True(t, s.SupportsIncremental())
}
