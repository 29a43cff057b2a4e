package s3

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

func TestSniffTypeDetectsIntFloatString(t *testing.T) {
	require.Equal(t, batch.TypeInt64, sniffType("42"))
	require.Equal(t, batch.TypeFloat64, sniffType("4.2"))
	require.Equal(t, batch.TypeString, sniffType("alice"))
}

func TestConvertParsesAccordingToType(t *testing.T) {
	require.Equal(t, int64(42), convert("42", batch.TypeInt64))
	require.Equal(t, 4.2, convert("4.2", batch.TypeFloat64))
	require.Equal(t, "alice", convert("alice", batch.TypeString))
	require.Nil(t, convert("nope", batch.TypeInt64))
}

func TestConfigureRequiresBucket(t *testing.T) {
	var s = New()
	require.Error(t, s.Configure(map[string]any{}))
}

func TestConfigureRejectsUnknownParameter(t *testing.T) {
	var s = New()
	require.Error(t, s.Configure(map[string]any{"bucket": "b", "bogus": 1}))
}

func TestDestWriteRejectsAppendMode(t *testing.T) {
	var d = &Dest{bucket: "b"}
	var schema = batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.TypeInt64}}}
	var b, _ = batch.New(schema, [][]any{{int64(1)}})
	var _, err = d.Write(nil, "orders", b, "append", nil)
	require.Error(t, err)
	var _, ok = err.(*connector.ConfigurationError)
	require.True(t, ok)
}
