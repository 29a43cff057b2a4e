// Package load implements the Load Executor of §4.10: REPLACE, APPEND,
// and MERGE semantics for moving rows from a source table into a
// target table, enforcing schema and merge-key compatibility before
// any row is written — grounded on the teacher's
// `go/materialize/store.go` apply-by-mode shape.
package load

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/nsf/jsondiff"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/batch"
)

// SchemaMismatchError is raised by APPEND when the source schema is not
// a subset of the target schema.
type SchemaMismatchError struct {
	Target         string
	MissingColumns []string
	TypeConflicts  map[string][2]batch.LogicalType // column -> {source, target}
	SourceSchema   batch.Schema
	TargetSchema   batch.Schema
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch loading into %q: missing=%v conflicts=%v\n%s",
		e.Target, e.MissingColumns, e.TypeConflicts, DiffSchemas(e.SourceSchema, e.TargetSchema))
}

// MergeKeyError is raised by MERGE when a merge key is absent from
// either side, or its types disagree across source and target.
type MergeKeyError struct {
	Target          string
	MissingInSource []string
	MissingInTarget []string
	TypeMismatches  map[string][2]batch.LogicalType
}

func (e *MergeKeyError) Error() string {
	return fmt.Sprintf("merge key error loading into %q: missing_in_source=%v missing_in_target=%v type_mismatches=%v",
		e.Target, e.MissingInSource, e.MissingInTarget, e.TypeMismatches)
}

// Target is the destination-side surface the load executor writes
// through; pkg/sqlengine's adapter implements it against the embedded
// columnar engine, keeping C10 independent of any one engine.
type Target interface {
	// Schema returns the current schema of table, or (Schema{}, false)
	// if the table does not yet exist.
	Schema(ctx context.Context, table string) (batch.Schema, bool, error)
	// Replace atomically recreates table from b, adopting b's schema.
	Replace(ctx context.Context, table string, b *batch.Batch) error
	// Append inserts b's rows into the existing table.
	Append(ctx context.Context, table string, b *batch.Batch) error
	// Merge applies upsert-by-key semantics: rows whose mergeKeys tuple
	// matches an existing row are updated; others are inserted.
	Merge(ctx context.Context, table string, b *batch.Batch, mergeKeys []string) error
}

// Executor applies a Load step's mode against a Target.
type Executor struct {
	target Target
}

// New returns an Executor writing through target.
func New(target Target) *Executor {
	return &Executor{target: target}
}

// Run applies step to source batch b.
func (e *Executor) Run(ctx context.Context, step ast.Load, b *batch.Batch) error {
	switch step.Mode {
	case ast.LoadReplace:
		return e.target.Replace(ctx, step.TargetTable, b)
	case ast.LoadAppend:
		if err := e.validateAppend(ctx, step.TargetTable, b.Schema()); err != nil {
			return err
		}
		return e.target.Append(ctx, step.TargetTable, b)
	case ast.LoadMerge:
		if err := e.validateMerge(ctx, step.TargetTable, b.Schema(), step.MergeKeys); err != nil {
			return err
		}
		return e.target.Merge(ctx, step.TargetTable, b, step.MergeKeys)
	default:
		return fmt.Errorf("load %q: unknown mode %q", step.TargetTable, step.Mode)
	}
}

func (e *Executor) validateAppend(ctx context.Context, table string, source batch.Schema) error {
	var target, exists, err = e.target.Schema(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return nil // first write behaves like REPLACE for schema purposes
	}

	var missing []string
	var conflicts = map[string][2]batch.LogicalType{}
	for _, sf := range source.Fields {
		var tf, ok = target.Field(sf.Name)
		if !ok {
			missing = append(missing, sf.Name)
			continue
		}
		if !batch.Compatible(sf.Type, tf.Type) {
			conflicts[sf.Name] = [2]batch.LogicalType{sf.Type, tf.Type}
		}
	}
	if len(missing) > 0 || len(conflicts) > 0 {
		return &SchemaMismatchError{
			Target: table, MissingColumns: missing, TypeConflicts: conflicts,
			SourceSchema: source, TargetSchema: target,
		}
	}
	return nil
}

func (e *Executor) validateMerge(ctx context.Context, table string, source batch.Schema, mergeKeys []string) error {
	if len(mergeKeys) == 0 {
		return &MergeKeyError{Target: table, MissingInSource: []string{"<none declared>"}}
	}

	var target, exists, err = e.target.Schema(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return nil // first write: no target-side keys to reconcile against
	}

	var missingInSource, missingInTarget []string
	var mismatches = map[string][2]batch.LogicalType{}
	for _, key := range mergeKeys {
		var sf, sok = source.Field(key)
		var tf, tok = target.Field(key)
		if !sok {
			missingInSource = append(missingInSource, key)
		}
		if !tok {
			missingInTarget = append(missingInTarget, key)
		}
		if sok && tok && sf.Type != tf.Type {
			mismatches[key] = [2]batch.LogicalType{sf.Type, tf.Type}
		}
	}
	if len(missingInSource) > 0 || len(missingInTarget) > 0 || len(mismatches) > 0 {
		return &MergeKeyError{
			Target:          table,
			MissingInSource: missingInSource,
			MissingInTarget: missingInTarget,
			TypeMismatches:  mismatches,
		}
	}
	return nil
}

// DiffSchemas renders a human-readable JSON diff between a source and
// target schema, used when surfacing a SchemaMismatchError to the
// pipeline's failure report.
func DiffSchemas(source, target batch.Schema) string {
	var a = schemaJSON(source)
	var b = schemaJSON(target)
	var opts = jsondiff.DefaultConsoleOptions()
	var _, diff = jsondiff.Compare(a, b, &opts)
	return diff
}

func schemaJSON(s batch.Schema) []byte {
	var out = []byte("{")
	for i, f := range s.Fields {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, []byte(fmt.Sprintf("%q:%q", f.Name, f.Type.String()))...)
	}
	out = append(out, '}')
	return out
}

// ContentHash computes a stable hash of a batch's row content, used by
// tests to assert that a REPLACE or MERGE produced the expected rows
// without depending on the target engine's own row ordering.
func ContentHash(b *batch.Batch) uint64 {
	var key = make([]byte, 32) // highwayhash requires a 32-byte key; zero key is fine for a content fingerprint, not a MAC
	var h, _ = highwayhash.New64(key)
	var lines = make([]string, 0, b.RowCount())
	for _, row := range b.Rows() {
		var sb strings.Builder
		for _, v := range row {
			fmt.Fprintf(&sb, "%v|", v)
		}
		lines = append(lines, sb.String())
	}
	sort.Strings(lines) // row order does not affect the hash
	for _, line := range lines {
		h.Write([]byte(line + "\n"))
	}
	return h.Sum64()
}
