// Package batch implements the immutable, self-describing columnar
// data batch shared by connectors, the incremental/load executors, and
// the SQL engine adapter (§3 "Data batch", §4.7).
package batch

import "fmt"

// LogicalType is one of the column types a Batch schema may declare.
type LogicalType int

const (
	TypeString LogicalType = iota
	TypeInt64
	TypeFloat64
	TypeBool
	TypeTimestampUTC
	TypeDecimal
	TypeBytes
)

func (t LogicalType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeTimestampUTC:
		return "timestamp-utc"
	case TypeDecimal:
		return "decimal"
	case TypeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Field describes one column in a Schema.
type Field struct {
	Name       string
	Type       LogicalType
	Nullable   bool
	Precision  int // only meaningful for TypeDecimal
	Scale      int // only meaningful for TypeDecimal
}

// Schema is an ordered list of fields; it is the authoritative contract
// for a Batch. Two schemas are compatible for APPEND when every field of
// the source exists in the target with a compatible logical type.
type Schema struct {
	Fields []Field
}

// IndexOf returns the position of name in the schema, or -1.
func (s Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field returns the field named name, and whether it was found.
func (s Schema) Field(name string) (Field, bool) {
	var i = s.IndexOf(name)
	if i < 0 {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Compatible reports whether value types t1 and t2 may be treated as
// the same logical type for schema-compatibility purposes. Decimal
// columns with different (precision, scale) are still "compatible" in
// the coarse sense used by APPEND; MERGE key validation in pkg/load
// likewise compares only the keys' LogicalType, not precision or scale.
func Compatible(a, b LogicalType) bool { return a == b }

func (f Field) String() string {
	if f.Type == TypeDecimal {
		return fmt.Sprintf("%s decimal(%d,%d)%s", f.Name, f.Precision, f.Scale, nullSuffix(f.Nullable))
	}
	return fmt.Sprintf("%s %s%s", f.Name, f.Type, nullSuffix(f.Nullable))
}

func nullSuffix(nullable bool) string {
	if nullable {
		return " null"
	}
	return " not null"
}
