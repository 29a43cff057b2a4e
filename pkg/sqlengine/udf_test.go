package sqlengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/udf"
)

func TestApplyScalarColumnAppendsUDFResult(t *testing.T) {
	var dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.star"), []byte(`
def shout(name):
    return name.upper()

SCALAR_UDFS = {"shout": shout}
`), 0o644))
	var manager = udf.New(dir)
	require.NoError(t, manager.Discover())

	var e, err = Open("")
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.RegisterUDF("m.shout", manager))

	var base, berr = batch.New(sampleSchema(), [][]any{{int64(1), int64(2)}, {"alice", "bob"}})
	require.NoError(t, berr)

	var out, aerr = e.ApplyScalarColumn(context.Background(), base, "m.shout", []string{"name"}, "shout_name", batch.TypeString)
	require.NoError(t, aerr)
	require.Equal(t, 2, out.RowCount())

	var col, ok = out.Column("shout_name")
	require.True(t, ok)
	require.Equal(t, "ALICE", col[0])
	require.Equal(t, "BOB", col[1])
}

func TestApplyScalarColumnErrorsOnUnregisteredUDF(t *testing.T) {
	var e, err = Open("")
	require.NoError(t, err)
	defer e.Close()

	var base, berr = batch.New(sampleSchema(), [][]any{{int64(1)}, {"alice"}})
	require.NoError(t, berr)

	var _, aerr = e.ApplyScalarColumn(context.Background(), base, "missing.fn", []string{"name"}, "out", batch.TypeString)
	require.Error(t, aerr)
}
