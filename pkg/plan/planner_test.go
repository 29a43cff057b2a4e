package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/vars"
)

func TestPlanOrdersLoadAfterItsSource(t *testing.T) {
	var v = vars.New()
	var p = New(v, nil)

	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewLoad(10, "analytics.orders", "orders", ast.LoadReplace, nil),
		ast.NewSourceDefinition(1, "orders", "CSV", map[string]any{"path": "orders.csv"}, ast.SyncFullRefresh, "", nil),
	}}

	var result, err = p.Plan("demo", pipeline)
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)
	require.Equal(t, "source_definition_orders", result.Steps[0].ID)
	require.Equal(t, "load_analytics.orders", result.Steps[1].ID)
	require.Contains(t, result.Steps[1].DependsOn, "source_definition_orders")
}

func TestPlanBuildsTransformDependencyFromSQLReference(t *testing.T) {
	var v = vars.New()
	var p = New(v, nil)

	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewSourceDefinition(1, "orders", "CSV", nil, ast.SyncFullRefresh, "", nil),
		ast.NewLoad(2, "raw.orders", "orders", ast.LoadReplace, nil),
		ast.NewCreateTableAs(3, "analytics.daily_totals", "SELECT date, SUM(amount) FROM raw.orders GROUP BY date"),
	}}

	var result, err = p.Plan("demo", pipeline)
	require.NoError(t, err)
	require.Len(t, result.Steps, 3)

	var transformIdx = -1
	for i, s := range result.Steps {
		if s.ID == "transform_analytics.daily_totals" {
			transformIdx = i
		}
	}
	require.GreaterOrEqual(t, transformIdx, 0)
	require.Contains(t, result.Steps[transformIdx].DependsOn, "load_raw.orders")
}

func TestPlanDetectsCycle(t *testing.T) {
	var v = vars.New()
	var p = New(v, nil)

	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewCreateTableAs(1, "a", "SELECT * FROM b"),
		ast.NewCreateTableAs(2, "b", "SELECT * FROM a"),
	}}

	var _, err = p.Plan("demo", pipeline)
	require.Error(t, err)
	var _, ok = err.(*CycleError)
	require.True(t, ok)
}

func TestPlanFailsOnUnresolvedLoadSource(t *testing.T) {
	var v = vars.New()
	var p = New(v, nil)

	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewLoad(1, "analytics.orders", "missing_source", ast.LoadReplace, nil),
	}}

	var _, err = p.Plan("demo", pipeline)
	require.Error(t, err)
	var refErr, ok = err.(*UnresolvedReferenceError)
	require.True(t, ok)
	require.Equal(t, "missing_source", refErr.UnknownTable)
}

func TestPlanFlattensTrueConditionalBranch(t *testing.T) {
	var v = vars.New()
	v.Set("env", "prod", vars.OriginCLI)
	var p = New(v, nil)

	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewConditionalBlock(1, []ast.Branch{
			{Condition: "'${env}' == 'prod'", Steps: []ast.Node{
				ast.NewSourceDefinition(2, "prod_source", "CSV", nil, ast.SyncFullRefresh, "", nil),
			}},
		}, []ast.Node{
			ast.NewSourceDefinition(3, "dev_source", "CSV", nil, ast.SyncFullRefresh, "", nil),
		}),
	}}

	var result, err = p.Plan("demo", pipeline)
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	require.Equal(t, "source_definition_prod_source", result.Steps[0].ID)
}

func TestPlanFlattensElseBranchWhenConditionFalse(t *testing.T) {
	var v = vars.New()
	v.Set("env", "dev", vars.OriginCLI)
	var p = New(v, nil)

	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewConditionalBlock(1, []ast.Branch{
			{Condition: "'${env}' == 'prod'", Steps: []ast.Node{
				ast.NewSourceDefinition(2, "prod_source", "CSV", nil, ast.SyncFullRefresh, "", nil),
			}},
		}, []ast.Node{
			ast.NewSourceDefinition(3, "dev_source", "CSV", nil, ast.SyncFullRefresh, "", nil),
		}),
	}}

	var result, err = p.Plan("demo", pipeline)
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	require.Equal(t, "source_definition_dev_source", result.Steps[0].ID)
}

func TestPlanSubstitutesVariablesInParams(t *testing.T) {
	var v = vars.New()
	v.Set("path", "/data/orders.csv", vars.OriginCLI)
	var p = New(v, nil)

	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewSourceDefinition(1, "orders", "CSV", map[string]any{"path": "${path}"}, ast.SyncFullRefresh, "", nil),
	}}

	var result, err = p.Plan("demo", pipeline)
	require.NoError(t, err)
	var def = result.Steps[0].Payload.(ast.SourceDefinition)
	require.Equal(t, "/data/orders.csv", def.Params["path"])
}

func TestPlanToJSONIncludesPipelineName(t *testing.T) {
	var v = vars.New()
	var p = New(v, nil)
	var pipeline = ast.Pipeline{Steps: []ast.Node{
		ast.NewSourceDefinition(1, "orders", "CSV", nil, ast.SyncFullRefresh, "", nil),
	}}
	var result, err = p.Plan("demo", pipeline)
	require.NoError(t, err)

	var data, jerr = result.ToJSON()
	require.NoError(t, jerr)
	require.Contains(t, string(data), `"pipeline": "demo"`)
}
