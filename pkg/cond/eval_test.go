package cond

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateSimpleComparisons(t *testing.T) {
	var cases = []struct {
		expr string
		want bool
	}{
		{"'prod' == 'prod'", true},
		{"'prod' == 'dev'", false},
		{"1 < 2", true},
		{"2 <= 2", true},
		{"3 > 4", false},
		{"true == true", true},
		{"NOT false", true},
	}
	for _, c := range cases {
		var got, err = Evaluate(c.expr)
		require.NoError(t, err, c.expr)
		require.Equal(t, c.want, got, c.expr)
	}
}

func TestEvaluateAndOr(t *testing.T) {
	var got, err = Evaluate("1 < 2 AND 3 > 2")
	require.NoError(t, err)
	require.True(t, got)

	got, err = Evaluate("1 > 2 OR 3 > 2")
	require.NoError(t, err)
	require.True(t, got)

	got, err = Evaluate("(1 > 2) AND (3 > 2)")
	require.NoError(t, err)
	require.False(t, got)
}

func TestEvaluateShortCircuitSkipsTypeErrorOnRight(t *testing.T) {
	// AND short-circuits on a false left side: the malformed right side
	// (string vs number) must never be evaluated.
	var got, err = Evaluate("1 > 2 AND 'x' == 3")
	require.NoError(t, err)
	require.False(t, got)

	// OR short-circuits on a true left side.
	got, err = Evaluate("1 < 2 OR 'x' == 3")
	require.NoError(t, err)
	require.True(t, got)
}

func TestEvaluateCrossTypeComparisonIsError(t *testing.T) {
	var _, err = Evaluate("'x' == 3")
	require.Error(t, err)
}

func TestEvaluateParseError(t *testing.T) {
	var _, err = Evaluate("1 ===")
	require.Error(t, err)
}
