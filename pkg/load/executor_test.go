package load

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/batch"
)

type fakeTarget struct {
	schemas map[string]batch.Schema
	replace map[string]*batch.Batch
	append  map[string]*batch.Batch
	merge   map[string]*batch.Batch
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		schemas: map[string]batch.Schema{},
		replace: map[string]*batch.Batch{},
		append:  map[string]*batch.Batch{},
		merge:   map[string]*batch.Batch{},
	}
}

func (t *fakeTarget) Schema(ctx context.Context, table string) (batch.Schema, bool, error) {
	var s, ok = t.schemas[table]
	return s, ok, nil
}

func (t *fakeTarget) Replace(ctx context.Context, table string, b *batch.Batch) error {
	t.replace[table] = b
	t.schemas[table] = b.Schema()
	return nil
}

func (t *fakeTarget) Append(ctx context.Context, table string, b *batch.Batch) error {
	t.append[table] = b
	return nil
}

func (t *fakeTarget) Merge(ctx context.Context, table string, b *batch.Batch, mergeKeys []string) error {
	t.merge[table] = b
	return nil
}

func idSchema() batch.Schema {
	return batch.Schema{Fields: []batch.Field{
		{Name: "id", Type: batch.TypeInt64},
		{Name: "name", Type: batch.TypeString},
	}}
}

func idBatch(t *testing.T) *batch.Batch {
	var b, err = batch.New(idSchema(), [][]any{{int64(1), int64(2)}, {"a", "b"}})
	require.NoError(t, err)
	return b
}

func TestReplaceAdoptsSourceSchema(t *testing.T) {
	var target = newFakeTarget()
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadReplace, nil)
	require.NoError(t, ex.Run(context.Background(), step, b))
	require.Same(t, b, target.replace["analytics.t"])
}

func TestAppendSucceedsOnCompatibleSubsetSchema(t *testing.T) {
	var target = newFakeTarget()
	target.schemas["analytics.t"] = batch.Schema{Fields: []batch.Field{
		{Name: "id", Type: batch.TypeInt64},
		{Name: "name", Type: batch.TypeString},
		{Name: "extra", Type: batch.TypeString, Nullable: true},
	}}
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadAppend, nil)
	require.NoError(t, ex.Run(context.Background(), step, b))
	require.Same(t, b, target.append["analytics.t"])
}

func TestAppendFailsOnMissingColumn(t *testing.T) {
	var target = newFakeTarget()
	target.schemas["analytics.t"] = batch.Schema{Fields: []batch.Field{
		{Name: "id", Type: batch.TypeInt64},
	}}
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadAppend, nil)
	var err = ex.Run(context.Background(), step, b)
	require.Error(t, err)
	var mismatch, ok = err.(*SchemaMismatchError)
	require.True(t, ok)
	require.Contains(t, mismatch.MissingColumns, "name")
}

func TestAppendFailsOnTypeConflict(t *testing.T) {
	var target = newFakeTarget()
	target.schemas["analytics.t"] = batch.Schema{Fields: []batch.Field{
		{Name: "id", Type: batch.TypeInt64},
		{Name: "name", Type: batch.TypeInt64},
	}}
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadAppend, nil)
	var err = ex.Run(context.Background(), step, b)
	require.Error(t, err)
	var mismatch, ok = err.(*SchemaMismatchError)
	require.True(t, ok)
	require.Contains(t, mismatch.TypeConflicts, "name")
	require.Contains(t, mismatch.Error(), "name")
}

func TestDiffSchemasRendersFieldDifferences(t *testing.T) {
	var source = batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.TypeInt64}, {Name: "name", Type: batch.TypeString}}}
	var target = batch.Schema{Fields: []batch.Field{{Name: "id", Type: batch.TypeInt64}, {Name: "name", Type: batch.TypeInt64}}}
	var diff = DiffSchemas(source, target)
	require.NotEmpty(t, diff)
	require.Contains(t, diff, "name")
}

func TestMergeRequiresNonEmptyKeys(t *testing.T) {
	var target = newFakeTarget()
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadMerge, nil)
	var err = ex.Run(context.Background(), step, b)
	require.Error(t, err)
	var _, ok = err.(*MergeKeyError)
	require.True(t, ok)
}

func TestMergeFailsWhenKeyMissingInTarget(t *testing.T) {
	var target = newFakeTarget()
	target.schemas["analytics.t"] = batch.Schema{Fields: []batch.Field{
		{Name: "name", Type: batch.TypeString},
	}}
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadMerge, []string{"id"})
	var err = ex.Run(context.Background(), step, b)
	require.Error(t, err)
	var mergeErr, ok = err.(*MergeKeyError)
	require.True(t, ok)
	require.Contains(t, mergeErr.MissingInTarget, "id")
}

func TestMergeSucceedsWithMatchingKeys(t *testing.T) {
	var target = newFakeTarget()
	target.schemas["analytics.t"] = idSchema()
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadMerge, []string{"id"})
	require.NoError(t, ex.Run(context.Background(), step, b))
	require.Same(t, b, target.merge["analytics.t"])
}

func TestAppendOnFirstWriteNeedsNoExistingSchema(t *testing.T) {
	var target = newFakeTarget()
	var ex = New(target)
	var b = idBatch(t)
	var step = ast.NewLoad(1, "analytics.t", "src", ast.LoadAppend, nil)
	// Append to a table that does not exist yet behaves like a first write.
	require.NoError(t, ex.Run(context.Background(), step, b))
}

func TestContentHashIsStableAcrossEqualBatches(t *testing.T) {
	var b1 = idBatch(t)
	var b2 = idBatch(t)
	require.Equal(t, ContentHash(b1), ContentHash(b2))
}
