// Package incremental implements the Incremental Source Executor of
// §4.9: for a SourceDefinition step, it selects full_refresh vs
// incremental strategy, streams the connector's batches into a sink,
// tracks the maximum cursor value observed, and commits the new
// watermark only after the paired Load step consumes the source
// successfully — grounded on the teacher's `go/flow/shuffle_reader.go`
// read/track/commit-after-consumption pattern.
package incremental

import (
	"context"
	"fmt"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
	"github.com/sqlflow/sqlflow/pkg/watermark"
)

// IncrementalNotSupportedError is returned when sync_mode=incremental
// is requested of a connector whose SupportsIncremental() is false.
type IncrementalNotSupportedError struct {
	ConnectorType string
}

func (e *IncrementalNotSupportedError) Error() string {
	return fmt.Sprintf("connector %q does not support incremental sync", e.ConnectorType)
}

// MissingCursorFieldError is returned when sync_mode=incremental is
// declared without a cursor_field.
type MissingCursorFieldError struct {
	Source string
}

func (e *MissingCursorFieldError) Error() string {
	return fmt.Sprintf("source %q: sync_mode=incremental requires cursor_field", e.Source)
}

// CursorTypeError is returned when the observed cursor value's logical
// type is not comparable (not one of timestamp, integer, or string).
type CursorTypeError struct {
	Source string
	Field  string
	Type   batch.LogicalType
}

func (e *CursorTypeError) Error() string {
	return fmt.Sprintf("source %q: cursor field %q has non-comparable type %v", e.Source, e.Field, e.Type)
}

// Sink receives each batch streamed from a source, registering it with
// the SQL engine (C12) under the source's table name.
type Sink interface {
	Register(sourceName string, b *batch.Batch) error
}

// Result reports what one source's read produced, for the caller (C13)
// to pass to C10's load and then to Commit.
type Result struct {
	SourceName  string
	RowsRead    int
	MaxCursor   any
	HadCursor   bool
}

// Executor runs C9 against a connector registry and watermark store.
type Executor struct {
	registry   *connector.Registry
	watermarks *watermark.Store
	cmp        watermark.Comparer
}

// New returns an Executor. cmp orders cursor values in their stored
// string form (watermarks are persisted as text); pass a type-aware
// Comparer matched to the pipeline's cursor columns.
func New(registry *connector.Registry, watermarks *watermark.Store, cmp watermark.Comparer) *Executor {
	return &Executor{registry: registry, watermarks: watermarks, cmp: cmp}
}

// Run executes one SourceDefinition step: configures the connector,
// selects full_refresh vs incremental, streams every batch into sink,
// and returns the read summary without committing any watermark —
// commit happens only via Commit, after the paired Load succeeds.
func (e *Executor) Run(ctx context.Context, pipeline string, def ast.SourceDefinition, params map[string]any, sink Sink) (Result, error) {
	var src, err = e.registry.Source(def.ConnectorType)
	if err != nil {
		return Result{}, err
	}
	if err := src.Configure(params); err != nil {
		return Result{}, err
	}

	var result = Result{SourceName: def.Name}

	switch def.SyncMode {
	case ast.SyncIncremental:
		if def.CursorField == "" {
			return Result{}, &MissingCursorFieldError{Source: def.Name}
		}
		if !src.SupportsIncremental() {
			return Result{}, &IncrementalNotSupportedError{ConnectorType: def.ConnectorType}
		}

		var schema, serr = e.registry.DiscoverWithCache(ctx, def.ConnectorType, def.Name, src)
		if serr != nil {
			return Result{}, serr
		}
		if _, ok := schema.Field(def.CursorField); !ok {
			return Result{}, &MissingCursorFieldError{Source: def.Name}
		}

		var key = watermark.Key{Pipeline: pipeline, Source: def.Name, Target: def.Name, CursorColumn: def.CursorField}
		var stored, has, werr = e.watermarks.Get(key)
		if werr != nil {
			return Result{}, werr
		}

		var cursorValue any
		if has {
			cursorValue = stored
		}

		var it, rerr = src.ReadIncremental(ctx, def.Name, def.CursorField, cursorValue, nil)
		if rerr != nil {
			return Result{}, rerr
		}
		defer it.Close()

		if err := e.drain(ctx, def, src, it, sink, &result); err != nil {
			return Result{}, err
		}

	case ast.SyncFullRefresh, "":
		var it, rerr = src.Read(ctx, def.Name, nil, nil)
		if rerr != nil {
			return Result{}, rerr
		}
		defer it.Close()

		if err := e.drain(ctx, def, src, it, sink, &result); err != nil {
			return Result{}, err
		}

	default:
		return Result{}, fmt.Errorf("source %q: unknown sync_mode %q", def.Name, def.SyncMode)
	}

	return result, nil
}

func (e *Executor) drain(ctx context.Context, def ast.SourceDefinition, src connector.Source, it connector.BatchIterator, sink Sink, result *Result) error {
	for {
		var b, ok, err = it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := sink.Register(def.Name, b); err != nil {
			return err
		}
		result.RowsRead += b.RowCount()

		if def.SyncMode == ast.SyncIncremental {
			var cursor, cerr = src.GetCursorValue(b, def.CursorField)
			if cerr != nil {
				return &CursorTypeError{Source: def.Name, Field: def.CursorField}
			}
			if cursor != nil {
				if !result.HadCursor || e.cmp(fmt.Sprint(cursor), fmt.Sprint(result.MaxCursor)) > 0 {
					result.MaxCursor = cursor
					result.HadCursor = true
				}
			}
		}
	}
}

// Commit persists the watermark observed during Run, in the same unit
// of work as marking the paired Load step complete (the caller is
// expected to call Commit only after C10's write has succeeded). A
// Result with no observed cursor (zero batches, or full_refresh) is a
// no-op: the watermark is left unchanged per §4.9 step 4 / §4.8
// edge-case ("empty source... watermark unchanged").
func (e *Executor) Commit(pipeline, runID string, def ast.SourceDefinition, result Result) error {
	if def.SyncMode != ast.SyncIncremental || !result.HadCursor {
		return nil
	}
	var key = watermark.Key{Pipeline: pipeline, Source: def.Name, Target: def.Name, CursorColumn: def.CursorField}
	return e.watermarks.Set(key, fmt.Sprint(result.MaxCursor), runID, e.cmp)
}
