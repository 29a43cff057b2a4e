// Package vars resolves pipeline variables across four origins with a
// fixed priority order and performs ${name}/${name|default} textual
// substitution, per §4.2.
package vars

import (
	"fmt"
	"regexp"
	"strings"
)

// Origin is where a variable's value came from. Higher Origin values
// win when the same name is set from more than one origin.
type Origin int

const (
	OriginEnvironment Origin = iota
	OriginSet
	OriginProfile
	OriginCLI
)

func (o Origin) String() string {
	switch o {
	case OriginCLI:
		return "cli"
	case OriginProfile:
		return "profile"
	case OriginSet:
		return "set"
	case OriginEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// Variable is one resolved binding.
type Variable struct {
	Name   string
	Value  any
	Origin Origin
}

// Manager holds one value per variable name, keeping the
// highest-priority origin on conflicting writes.
type Manager struct {
	values map[string]Variable
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{values: make(map[string]Variable)}
}

// Set records value for name under origin. If name already has a value
// from a higher-priority origin, the existing value is kept; within the
// same origin, last write wins.
func (m *Manager) Set(name string, value any, origin Origin) {
	if existing, ok := m.values[name]; ok && existing.Origin > origin {
		return
	}
	m.values[name] = Variable{Name: name, Value: value, Origin: origin}
}

// Get returns the resolved value for name, if any.
func (m *Manager) Get(name string) (any, bool) {
	var v, ok = m.values[name]
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// Resolved returns a copy of the fully resolved variable map.
func (m *Manager) Resolved() map[string]Variable {
	var out = make(map[string]Variable, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// render converts a resolved value to its textual substitution form:
// numbers without quotes, booleans as true/false, strings as-is.
func render(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

var refPattern = regexp.MustCompile(`\$\{([^}|]+)(\|([^}]*))?\}`)

// Substitute replaces every ${name} / ${name|default} reference in s
// with its resolved value. Substitution is not recursive: the text a
// reference expands to is never re-scanned for further references.
func (m *Manager) Substitute(s string) string {
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		var groups = refPattern.FindStringSubmatch(match)
		var name = strings.TrimSpace(groups[1])
		var hasDefault = groups[2] != ""
		var def = groups[3]
		if v, ok := m.Get(name); ok {
			return render(v)
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Unresolved returns the ordered, de-duplicated list of variable names
// referenced in s that have no value and no default.
func (m *Manager) Unresolved(s string) []string {
	var seen = map[string]bool{}
	var out []string
	for _, groups := range refPattern.FindAllStringSubmatch(s, -1) {
		var name = strings.TrimSpace(groups[1])
		var hasDefault = groups[2] != ""
		if hasDefault {
			continue
		}
		if _, ok := m.Get(name); ok {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// SubstituteJSON walks a decoded JSON value (map[string]any, []any,
// string, or scalar) and substitutes variable references in every
// string leaf, returning a new value of the same shape.
func (m *Manager) SubstituteJSON(v any) any {
	switch t := v.(type) {
	case string:
		return m.Substitute(t)
	case map[string]any:
		var out = make(map[string]any, len(t))
		for k, val := range t {
			out[k] = m.SubstituteJSON(val)
		}
		return out
	case []any:
		var out = make([]any, len(t))
		for i, val := range t {
			out[i] = m.SubstituteJSON(val)
		}
		return out
	default:
		return v
	}
}

// UnresolvedVariableError is returned by callers that require every
// reference in a resolved pipeline to be satisfiable; the Manager
// itself never returns it (Substitute leaves unknown references
// untouched so callers can decide how strict to be).
type UnresolvedVariableError struct {
	Missing   []string
	Locations []string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variables %v at %v", e.Missing, e.Locations)
}
