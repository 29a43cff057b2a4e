package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/ast"
)

func TestParseSourceLoadTransformExport(t *testing.T) {
	var src = `
SOURCE orders TYPE CSV PARAMS {"path":"data/orders.csv","has_header":true};
LOAD orders_raw FROM orders;
CREATE TABLE totals AS SELECT customer_id, SUM(amount) AS total FROM orders_raw GROUP BY customer_id;
EXPORT SELECT * FROM totals TO "out/totals.csv" TYPE CSV OPTIONS {"header":true};
`
	var pipeline, err = Parse(src)
	require.NoError(t, err)
	require.Len(t, pipeline.Steps, 4)

	var src0, ok = pipeline.Steps[0].(ast.SourceDefinition)
	require.True(t, ok)
	require.Equal(t, "orders", src0.Name)
	require.Equal(t, "CSV", src0.ConnectorType)
	require.Equal(t, "data/orders.csv", src0.Params["path"])

	var load, ok2 = pipeline.Steps[1].(ast.Load)
	require.True(t, ok2)
	require.Equal(t, "orders_raw", load.TargetTable)
	require.Equal(t, "orders", load.SourceName)
	require.Equal(t, ast.LoadAppend, load.Mode)

	var cta, ok3 = pipeline.Steps[2].(ast.CreateTableAs)
	require.True(t, ok3)
	require.Equal(t, "totals", cta.TableName)
	require.Contains(t, cta.SQL, "GROUP BY customer_id")

	var export, ok4 = pipeline.Steps[3].(ast.Export)
	require.True(t, ok4)
	require.Equal(t, "out/totals.csv", export.Destination)
	require.Equal(t, "CSV", export.ConnectorType)
	require.Equal(t, true, export.Options["header"])
}

func TestParseLoadWithMergeKeys(t *testing.T) {
	var src = `LOAD prices FROM price_feed MODE MERGE KEYS (product_id, region);`
	var pipeline, err = Parse(src)
	require.NoError(t, err)
	var load = pipeline.Steps[0].(ast.Load)
	require.Equal(t, ast.LoadMerge, load.Mode)
	require.Equal(t, []string{"product_id", "region"}, load.MergeKeys)
}

func TestParseLoadMergeRequiresKeys(t *testing.T) {
	var src = `LOAD prices FROM price_feed MODE MERGE;`
	var _, err = Parse(src)
	require.Error(t, err)
}

func TestParseConditional(t *testing.T) {
	var src = `
SET env = 'prod';
IF env == 'prod' THEN
  SOURCE s TYPE POSTGRES PARAMS {"host":"db"};
ELSE
  SOURCE s TYPE CSV PARAMS {"path":"local.csv"};
ENDIF;
`
	var pipeline, err = Parse(src)
	require.NoError(t, err)
	require.Len(t, pipeline.Steps, 2)

	var cond, ok = pipeline.Steps[1].(ast.ConditionalBlock)
	require.True(t, ok)
	require.Len(t, cond.Branches, 1)
	require.Equal(t, "env == 'prod'", cond.Branches[0].Condition)
	require.Len(t, cond.Branches[0].Steps, 1)
	require.Len(t, cond.ElseSteps, 1)
}

func TestParseNestedConditional(t *testing.T) {
	var src = `
IF a == '1' THEN
  IF b == '2' THEN
    SET x = 'y';
  ENDIF;
ENDIF;
`
	var pipeline, err = Parse(src)
	require.NoError(t, err)
	require.Len(t, pipeline.Steps, 1)
	var outer = pipeline.Steps[0].(ast.ConditionalBlock)
	require.Len(t, outer.Branches[0].Steps, 1)
	var _, ok = outer.Branches[0].Steps[0].(ast.ConditionalBlock)
	require.True(t, ok)
}

func TestParseIncludeWithAlias(t *testing.T) {
	var src = `INCLUDE 'shared/sources.sf' AS shared;`
	var pipeline, err = Parse(src)
	require.NoError(t, err)
	var inc = pipeline.Steps[0].(ast.Include)
	require.Equal(t, "shared/sources.sf", inc.Path)
	require.Equal(t, "shared", inc.Alias)
}

func TestParseErrorUnterminatedString(t *testing.T) {
	var src = `SET x = 'unterminated;`
	var _, err = Parse(src)
	require.Error(t, err)
}

func TestParseErrorUnknownDirective(t *testing.T) {
	var src = `FROBNICATE x;`
	var _, err = Parse(src)
	require.Error(t, err)
	var pe, ok = err.(*ParseError)
	require.True(t, ok)
	require.Equal(t, 1, pe.Line)
}

func TestEmptyPipelineParsesToNoSteps(t *testing.T) {
	var pipeline, err = Parse("")
	require.NoError(t, err)
	require.Empty(t, pipeline.Steps)
}
