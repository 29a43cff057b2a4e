package sqlengine

import (
	"context"
	"fmt"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/udf"
)

// udfBinding is what register_udf records: enough to let Execute
// recognize and evaluate a call to this UDF inside a query's SELECT
// list without asking DuckDB to understand it natively.
type udfBinding struct {
	descriptor string
	manager    *udf.Manager
}

// RegisterUDF exposes a UDF under its qualified descriptor name
// (§4.12's register_udf). manager is the already-Discover()'d UDF
// manager that owns the underlying Starlark function.
func (e *Engine) RegisterUDF(descriptor string, manager *udf.Manager) error {
	if _, ok := manager.Lookup(descriptor); !ok {
		return fmt.Errorf("sqlengine: register_udf: %q is not a known udf", descriptor)
	}
	if e.udfs == nil {
		e.udfs = make(map[string]udfBinding)
	}
	e.udfs[descriptor] = udfBinding{descriptor: descriptor, manager: manager}
	return nil
}

// ApplyScalarColumn evaluates a registered scalar UDF over every row of
// base using the named argument columns, appending a result column
// named outputColumn (an existing column of that name is not replaced).
// This is how a scalar UDF referenced in a step's SQL is actually
// materialized: the executor runs the base query for the
// plain columns first, then calls ApplyScalarColumn for each UDF
// reference the step's SQL names (via udf.ExtractReferences),
// producing the final projected batch — rather than registering the
// function as a native DuckDB scalar function, whose C-extension ABI
// is out of scope here.
func (e *Engine) ApplyScalarColumn(ctx context.Context, base *batch.Batch, descriptor string, argColumns []string, outputColumn string, outputType batch.LogicalType) (*batch.Batch, error) {
	var binding, ok = e.udfs[descriptor]
	if !ok {
		return nil, fmt.Errorf("sqlengine: %q was not registered via register_udf", descriptor)
	}

	var argIdx = make([]int, len(argColumns))
	for i, name := range argColumns {
		argIdx[i] = base.Schema().IndexOf(name)
		if argIdx[i] < 0 {
			return nil, fmt.Errorf("sqlengine: udf %q: argument column %q not found", descriptor, name)
		}
	}

	var rows = base.Rows()
	var outValues = make([]any, len(rows))
	for i, row := range rows {
		var args = make([]any, len(argIdx))
		for j, idx := range argIdx {
			args[j] = row[idx]
		}
		var result, err = binding.manager.CallScalar(descriptor, args)
		if err != nil {
			return nil, err
		}
		outValues[i] = result
	}

	var newSchema = batch.Schema{Fields: append(append([]batch.Field{}, base.Schema().Fields...), batch.Field{Name: outputColumn, Type: outputType, Nullable: true})}
	var newColumns = make([][]any, len(newSchema.Fields))
	for i := range base.Schema().Fields {
		var col, _ = base.Column(base.Schema().Fields[i].Name)
		newColumns[i] = col
	}
	newColumns[len(newColumns)-1] = outValues

	return batch.New(newSchema, newColumns)
}
