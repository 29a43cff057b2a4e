package udf

import "regexp"

// Both SQL surfaces named in §4.11: a bare identifier call, or the
// PYTHON_FUNC("module.fn", ...) escape hatch for names that aren't
// valid SQL identifiers.
var (
	bareCallPattern   = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_.]*)\s*\(`)
	pythonFuncPattern = regexp.MustCompile(`(?i)PYTHON_FUNC\s*\(\s*['"]([a-zA-Z_][\w.]*)['"]`)
)

// sqlReservedWords excludes SQL keywords that syntactically look like
// function calls (aggregate/window functions, control expressions) so
// they are not misreported as UDF references.
var sqlReservedWords = map[string]bool{
	"select": true, "count": true, "sum": true, "avg": true, "min": true, "max": true,
	"case": true, "cast": true, "coalesce": true, "exists": true, "extract": true,
	"python_func": true,
}

// ExtractReferences returns the set of UDF names referenced anywhere in
// sql, recognizing both `udf_name(...)` and `PYTHON_FUNC("module.fn",
// ...)` call forms. The returned names are deduplicated but otherwise
// unordered.
func ExtractReferences(sql string) []string {
	var seen = map[string]bool{}
	var out []string

	for _, m := range pythonFuncPattern.FindAllStringSubmatch(sql, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	for _, m := range bareCallPattern.FindAllStringSubmatch(sql, -1) {
		var name = m[1]
		if sqlReservedWords[toLower(name)] {
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func toLower(s string) string {
	var b = []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
