package batch

import "github.com/cockroachdb/apd"

// NewDecimal parses s as an arbitrary-precision apd decimal value. The
// load, incremental, and connector packages do not call it: decimal
// column values are compared in whatever Go form the connector produced.
func NewDecimal(s string) (*apd.Decimal, error) {
	var d, _, err = apd.NewFromString(s)
	return d, err
}

// CompareDecimal returns -1, 0, or 1 per standard comparison semantics.
func CompareDecimal(a, b *apd.Decimal) int {
	return a.Cmp(b)
}
