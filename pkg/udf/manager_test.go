package udf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

func writeModule(t *testing.T, dir, relPath, content string) {
	t.Helper()
	var full = filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestDiscoverMissingDirectoryIsNotAnError(t *testing.T) {
	var m = New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, m.Discover())
	require.Empty(t, m.Names())
}

func TestDiscoverRegistersScalarUDF(t *testing.T) {
	var dir = t.TempDir()
	writeModule(t, dir, "transforms/email.star", `
def normalize(email):
    return email.lower()

SCALAR_UDFS = {"normalize": normalize}
`)
	var m = New(dir)
	require.NoError(t, m.Discover())
	require.Contains(t, m.Names(), "transforms.email.normalize")
}

func TestCallScalarInvokesRegisteredFunction(t *testing.T) {
	var dir = t.TempDir()
	writeModule(t, dir, "transforms/email.star", `
def normalize(email):
    return email.lower()

SCALAR_UDFS = {"normalize": normalize}
`)
	var m = New(dir)
	require.NoError(t, m.Discover())

	var result, err = m.CallScalar("transforms.email.normalize", []any{"USER@Example.com"})
	require.NoError(t, err)
	require.Equal(t, "user@example.com", result)
}

func TestCallScalarPropagatesNilForNullableInput(t *testing.T) {
	var dir = t.TempDir()
	writeModule(t, dir, "m.star", `
def pass_through(x):
    if x == None:
        return None
    return x

SCALAR_UDFS = {"pass_through": pass_through}
`)
	var m = New(dir)
	require.NoError(t, m.Discover())

	var result, err = m.CallScalar("m.pass_through", []any{nil})
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCallScalarOnUnknownNameReturnsRegistrationError(t *testing.T) {
	var m = New(t.TempDir())
	var _, err = m.CallScalar("missing.fn", nil)
	require.Error(t, err)
	var _, ok = err.(*RegistrationError)
	require.True(t, ok)
}

func TestTableUDFRequiresBatchFirstArgument(t *testing.T) {
	var dir = t.TempDir()
	writeModule(t, dir, "m.star", `
def bad():
    return None

TABLE_UDFS = {"bad": bad}
`)
	var m = New(dir)
	var err = m.Discover()
	require.Error(t, err)
	var _, ok = err.(*RegistrationError)
	require.True(t, ok)
}

func TestCallTableInvokesRegisteredFunction(t *testing.T) {
	var dir = t.TempDir()
	writeModule(t, dir, "m.star", `
def passthrough_batch(b):
    return b

TABLE_UDFS = {"passthrough_batch": passthrough_batch}
`)
	var m = New(dir)
	require.NoError(t, m.Discover())

	var schema = batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.TypeInt64}}}
	var b, berr = batch.New(schema, [][]any{{int64(1), int64(2)}})
	require.NoError(t, berr)

	var out, err = m.CallTable("m.passthrough_batch", b, nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount())
}
