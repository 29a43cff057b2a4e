package udf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractReferencesFindsBareCall(t *testing.T) {
	var names = ExtractReferences(`SELECT normalize_email(email) FROM customers`)
	require.Contains(t, names, "normalize_email")
}

func TestExtractReferencesFindsPythonFunc(t *testing.T) {
	var names = ExtractReferences(`SELECT PYTHON_FUNC("transforms.normalize_email", email) FROM customers`)
	require.Contains(t, names, "transforms.normalize_email")
}

func TestExtractReferencesIgnoresSQLBuiltins(t *testing.T) {
	var names = ExtractReferences(`SELECT COUNT(*), SUM(amount), CASE WHEN x THEN 1 ELSE 0 END FROM orders`)
	require.NotContains(t, names, "count")
	require.NotContains(t, names, "sum")
	require.NotContains(t, names, "case")
}

func TestExtractReferencesDeduplicates(t *testing.T) {
	var names = ExtractReferences(`SELECT double_it(a), double_it(b) FROM t`)
	var count = 0
	for _, n := range names {
		if n == "double_it" {
			count++
		}
	}
	require.Equal(t, 1, count)
}
