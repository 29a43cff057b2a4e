// Package udf implements the UDF Manager of §4.11: it discovers
// Python-style user code under a project-relative directory (default
// python_udfs/), recursively, and exposes each declared function as a
// scalar or table UDF invocable from SQL. User code is written in
// Starlark — go.starlark.net's Python-like, deterministic dialect — the
// same sandboxed-script approach the pack's leapsql example uses for
// its own user-supplied template/macro code, reused here to host
// "Python-style" UDF bodies without shelling out to a real CPython.
package udf

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

// Kind distinguishes a scalar UDF (N scalars -> 1 scalar) from a table
// UDF (DataBatch + keyword scalars -> DataBatch).
type Kind int

const (
	KindScalar Kind = iota
	KindTable
)

// RegistrationError is returned when discovered user code fails to
// satisfy the scalar or table UDF contract.
type RegistrationError struct {
	UDFName      string
	EngineReason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("udf %q registration failed: %s", e.UDFName, e.EngineReason)
}

// RuntimeError wraps a failure raised while invoking a registered UDF.
type RuntimeError struct {
	UDFName       string
	OriginalError error
	Traceback     string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("udf %q runtime error: %v", e.UDFName, e.OriginalError)
}
func (e *RuntimeError) Unwrap() error { return e.OriginalError }

// Descriptor identifies one registered UDF by its fully-qualified
// module_path.function_name.
type Descriptor struct {
	Name   string // e.g. "transforms.normalize_email"
	Kind   Kind
	module string
	fn     *starlark.Function
	thread *starlark.Thread
}

// Manager discovers, registers, and invokes UDFs.
type Manager struct {
	root  string
	udfs  map[string]*Descriptor
}

// New returns a Manager rooted at dir (default "python_udfs" when dir
// is empty).
func New(dir string) *Manager {
	if dir == "" {
		dir = "python_udfs"
	}
	return &Manager{root: dir, udfs: make(map[string]*Descriptor)}
}

// Discover walks root recursively, executing every *.star file as a
// Starlark module and registering the functions named in its top-level
// SCALAR_UDFS / TABLE_UDFS dicts as descriptors "module_path.function".
//
// A module's path relative to root (without extension, with path
// separators replaced by '.') becomes its module_path; e.g.
// "transforms/email.star" -> module "transforms.email".
func (m *Manager) Discover() error {
	return filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if isNotExist(err) {
				return nil // an absent python_udfs/ directory is not an error
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".star") {
			return nil
		}
		return m.loadModule(path)
	})
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func (m *Manager) loadModule(path string) error {
	var rel, rerr = filepath.Rel(m.root, path)
	if rerr != nil {
		rel = path
	}
	var modulePath = strings.TrimSuffix(rel, ".star")
	modulePath = strings.ReplaceAll(modulePath, string(filepath.Separator), ".")

	var thread = &starlark.Thread{Name: modulePath}
	var globals, err = starlark.ExecFile(thread, path, nil, nil)
	if err != nil {
		return &RegistrationError{UDFName: modulePath, EngineReason: err.Error()}
	}

	if err := m.registerFromDict(modulePath, globals, "SCALAR_UDFS", KindScalar, thread); err != nil {
		return err
	}
	if err := m.registerFromDict(modulePath, globals, "TABLE_UDFS", KindTable, thread); err != nil {
		return err
	}
	return nil
}

func (m *Manager) registerFromDict(modulePath string, globals starlark.StringDict, dictName string, kind Kind, thread *starlark.Thread) error {
	var v, ok = globals[dictName]
	if !ok {
		return nil
	}
	var dict, isDict = v.(*starlark.Dict)
	if !isDict {
		return &RegistrationError{UDFName: modulePath, EngineReason: fmt.Sprintf("%s must be a dict", dictName)}
	}

	for _, item := range dict.Items() {
		var key, value = item[0], item[1]
		var name, isStr = starlark.AsString(key)
		if !isStr {
			return &RegistrationError{UDFName: modulePath, EngineReason: fmt.Sprintf("%s keys must be strings", dictName)}
		}
		var fn, isFn = value.(*starlark.Function)
		if !isFn {
			return &RegistrationError{UDFName: modulePath + "." + name, EngineReason: "registered value is not a function"}
		}
		if kind == KindTable {
			if fn.NumParams() < 1 {
				return &RegistrationError{UDFName: modulePath + "." + name, EngineReason: "table udf must accept a DataBatch as its first argument"}
			}
		}
		var full = modulePath + "." + name
		m.udfs[full] = &Descriptor{Name: full, Kind: kind, module: modulePath, fn: fn, thread: thread}
	}
	return nil
}

// Lookup returns the descriptor for a fully-qualified UDF name.
func (m *Manager) Lookup(name string) (*Descriptor, bool) {
	var d, ok = m.udfs[name]
	return d, ok
}

// Names returns every registered UDF name, for diagnostics.
func (m *Manager) Names() []string {
	var out = make([]string, 0, len(m.udfs))
	for n := range m.udfs {
		out = append(out, n)
	}
	return out
}

// CallScalar invokes a registered scalar UDF with positional args and
// returns its single scalar result as a Go value.
func (m *Manager) CallScalar(name string, args []any) (any, error) {
	var d, ok = m.udfs[name]
	if !ok {
		return nil, &RegistrationError{UDFName: name, EngineReason: "not registered"}
	}
	if d.Kind != KindScalar {
		return nil, &RuntimeError{UDFName: name, OriginalError: fmt.Errorf("%q is not a scalar udf", name)}
	}

	var starArgs = make(starlark.Tuple, len(args))
	for i, a := range args {
		var v, err = toStarlark(a)
		if err != nil {
			return nil, &RuntimeError{UDFName: name, OriginalError: err}
		}
		starArgs[i] = v
	}

	var result, err = starlark.Call(d.thread, d.fn, starArgs, nil)
	if err != nil {
		return nil, &RuntimeError{UDFName: name, OriginalError: err, Traceback: evalBacktrace(err)}
	}
	return fromStarlark(result)
}

// CallTable invokes a registered table UDF: b is passed positionally as
// the first argument; kwargs become keyword-only scalar arguments.
// The function must return a DataBatch value; that is checked here.
// Registration only checks that the function takes at least one
// parameter.
func (m *Manager) CallTable(name string, b *batch.Batch, kwargs map[string]any) (*batch.Batch, error) {
	var d, ok = m.udfs[name]
	if !ok {
		return nil, &RegistrationError{UDFName: name, EngineReason: "not registered"}
	}
	if d.Kind != KindTable {
		return nil, &RuntimeError{UDFName: name, OriginalError: fmt.Errorf("%q is not a table udf", name)}
	}

	var batchHandle = newBatchValue(b)
	var kw = make([]starlark.Tuple, 0, len(kwargs))
	for k, v := range kwargs {
		var sv, err = toStarlark(v)
		if err != nil {
			return nil, &RuntimeError{UDFName: name, OriginalError: err}
		}
		kw = append(kw, starlark.Tuple{starlark.String(k), sv})
	}

	var result, err = starlark.Call(d.thread, d.fn, starlark.Tuple{batchHandle}, kw)
	if err != nil {
		return nil, &RuntimeError{UDFName: name, OriginalError: err, Traceback: evalBacktrace(err)}
	}

	var out, isBatch = result.(*batchValue)
	if !isBatch {
		return nil, &RuntimeError{UDFName: name, OriginalError: fmt.Errorf("table udf must return a DataBatch, got %s", result.Type())}
	}
	return out.b, nil
}

func evalBacktrace(err error) string {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return evalErr.Backtrace()
	}
	return ""
}
