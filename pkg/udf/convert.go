package udf

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

// toStarlark converts a Go scalar (as produced by batch.Batch columns)
// into its Starlark equivalent. Nil maps to starlark.None, matching
// §4.11's requirement that authors handle nullable inputs themselves.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	case []byte:
		return starlark.Bytes(x), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a starlark value", v)
	}
}

// fromStarlark converts a Starlark result back into a plain Go scalar
// suitable for a batch.Batch column.
func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer result %s overflows int64", x.String())
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("scalar udf returned unsupported type %s", v.Type())
	}
}

// batchValue wraps a *batch.Batch as a Starlark value, letting table
// UDFs accept and return batches without the script ever seeing Go
// types directly. It exposes no methods or attributes to Starlark code,
// and the manager predeclares no builtins for it: a table UDF can pass
// it along or return it, but cannot read its rows or columns.
type batchValue struct {
	b *batch.Batch
}

func newBatchValue(b *batch.Batch) *batchValue { return &batchValue{b: b} }

func (bv *batchValue) String() string        { return fmt.Sprintf("DataBatch(rows=%d)", bv.b.RowCount()) }
func (bv *batchValue) Type() string          { return "DataBatch" }
func (bv *batchValue) Freeze()               {}
func (bv *batchValue) Truth() starlark.Bool  { return bv.b.RowCount() > 0 }
func (bv *batchValue) Hash() (uint32, error) { return 0, fmt.Errorf("DataBatch is not hashable") }
