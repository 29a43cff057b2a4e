// Package executor implements the Pipeline Executor of §4.13: it walks
// a planned *plan.Plan in dependency order, dispatching each step to
// the component that owns its runtime semantics — C9's incremental
// source executor, C10's load executor, C12's SQL engine for
// transforms and UDF application, and a C5 destination connector for
// exports — running independent steps of the same dependency level
// concurrently, and reporting any failure as a structured
// {step_id, step_type, phase} envelope.
//
// Grounded on the teacher's `go/runtime/task.go` task-term shape: a run
// owns a bounded lifetime, proceeds through ordered phases, and
// surfaces exactly one terminal failure rather than a pile of
// goroutine panics.
package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
	"github.com/sqlflow/sqlflow/pkg/incremental"
	"github.com/sqlflow/sqlflow/pkg/load"
	"github.com/sqlflow/sqlflow/pkg/plan"
	"github.com/sqlflow/sqlflow/pkg/sqlengine"
	"github.com/sqlflow/sqlflow/pkg/udf"
	"github.com/sqlflow/sqlflow/pkg/watermark"
)

// Phase names the point within a step's execution where a failure
// occurred, so a caller can distinguish "the source never connected"
// from "the load violated a schema invariant" without string-matching
// the error.
type Phase string

const (
	PhaseConfigure Phase = "configure"
	PhaseRead      Phase = "read"
	PhaseLoad      Phase = "load"
	PhaseTransform Phase = "transform"
	PhaseExport    Phase = "export"
	PhaseCommit    Phase = "commit"
)

// StepError is the structured failure envelope every step dispatch
// returns on error, per §7.
type StepError struct {
	StepID   string
	StepType plan.StepType
	Phase    Phase
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (%s) failed during %s: %v", e.StepID, e.StepType, e.Phase, e.Err)
}
func (e *StepError) Unwrap() error { return e.Err }

// StepResult reports what one step produced.
type StepResult struct {
	StepID       string
	Type         plan.StepType
	RowsAffected int
	Duration     time.Duration
}

// Report is the summary of one completed run.
type Report struct {
	RunID    string
	Pipeline string
	Steps    []StepResult
}

// Executor runs a Plan against the wired components of one pipeline
// process: a connector registry, an embedded SQL engine, a watermark
// store, and a UDF manager.
type Executor struct {
	registry    *connector.Registry
	engine      *sqlengine.Engine
	watermarks  *watermark.Store
	udfs        *udf.Manager
	cmp         watermark.Comparer
	concurrency int
}

// New returns an Executor wired to the given components. Cursor values
// are compared with a comparer that orders numerically when both sides
// parse as numbers, falling back to lexical string order otherwise —
// callers with a cursor column of known type should override it via
// WithComparer. Steps run sequentially (one dependency level, one step
// at a time) by default, matching the reference single-worker
// behavior; callers opt into intra-level parallelism via
// WithConcurrency.
func New(registry *connector.Registry, engine *sqlengine.Engine, watermarks *watermark.Store, udfs *udf.Manager) *Executor {
	return &Executor{
		registry:    registry,
		engine:      engine,
		watermarks:  watermarks,
		udfs:        udfs,
		cmp:         genericComparer,
		concurrency: 1,
	}
}

// WithComparer overrides the cursor Comparer used to detect watermark
// regression.
func (e *Executor) WithComparer(cmp watermark.Comparer) *Executor {
	e.cmp = cmp
	return e
}

// WithConcurrency bounds how many steps of the same dependency level
// run at once, opting into parallel execution. n <= 0 is ignored.
func (e *Executor) WithConcurrency(n int) *Executor {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

func genericComparer(a, b string) int {
	var af, aerr = parseNumber(a)
	var bf, berr = parseNumber(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func parseNumber(s string) (float64, error) {
	var f, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

// runState holds the cross-step bookkeeping a Load step needs from its
// paired SourceDefinition: the registered batches live in the SQL
// engine by table name, but the watermark commit (§4.9 step 4) needs
// the original definition and the cursor observed while reading it.
type runState struct {
	mu         sync.Mutex
	sourceDefs map[string]ast.SourceDefinition
	incResults map[string]incremental.Result
}

func newRunState() *runState {
	return &runState{sourceDefs: map[string]ast.SourceDefinition{}, incResults: map[string]incremental.Result{}}
}

// engineSink adapts the SQL engine to C9's incremental.Sink contract.
type engineSink struct {
	ctx    context.Context
	engine *sqlengine.Engine
}

func (s engineSink) Register(sourceName string, b *batch.Batch) error {
	return s.engine.RegisterBatch(s.ctx, sourceName, b)
}

// Run executes every step of p in dependency order, running steps with
// no dependency relationship to each other concurrently, and returns a
// Report on success. On the first step failure, in-flight steps of the
// same level are allowed to finish (their results are discarded) and
// Run returns the failing step's *StepError.
func (e *Executor) Run(ctx context.Context, pipeline string, p *plan.Plan) (*Report, error) {
	var runID = uuid.NewString()
	var incExec = incremental.New(e.registry, e.watermarks, e.cmp)
	var loadExec = load.New(e.engine)
	var state = newRunState()

	var results = make(map[string]StepResult, len(p.Steps))
	var resultsMu sync.Mutex

	for _, level := range groupByLevel(p.Steps) {
		var g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)

		for _, step := range level {
			var step = step
			g.Go(func() error {
				var start = time.Now()
				var rows, err = e.dispatch(gctx, pipeline, runID, step, incExec, loadExec, state)
				if err != nil {
					return err
				}
				resultsMu.Lock()
				results[step.ID] = StepResult{StepID: step.ID, Type: step.Type, RowsAffected: rows, Duration: time.Since(start)}
				resultsMu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			log.WithFields(log.Fields{"pipeline": pipeline, "run_id": runID}).Error(FailureSummary(pipeline, err))
			return nil, err
		}
	}

	var ordered = make([]StepResult, 0, len(p.Steps))
	for _, s := range p.Steps {
		ordered = append(ordered, results[s.ID])
	}
	return &Report{RunID: runID, Pipeline: pipeline, Steps: ordered}, nil
}

func (e *Executor) dispatch(ctx context.Context, pipeline, runID string, step plan.Step, incExec *incremental.Executor, loadExec *load.Executor, state *runState) (int, error) {
	switch step.Type {
	case plan.StepSourceDefinition:
		return e.runSourceDefinition(ctx, pipeline, step, incExec, state)
	case plan.StepLoad:
		return e.runLoad(ctx, pipeline, runID, step, loadExec, incExec, state)
	case plan.StepTransform:
		return e.runTransform(ctx, step)
	case plan.StepExport:
		return e.runExport(ctx, step)
	default:
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseConfigure, Err: fmt.Errorf("unknown step type %q", step.Type)}
	}
}

func (e *Executor) runSourceDefinition(ctx context.Context, pipeline string, step plan.Step, incExec *incremental.Executor, state *runState) (int, error) {
	var def, ok = step.Payload.(ast.SourceDefinition)
	if !ok {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseConfigure, Err: fmt.Errorf("payload is not a SourceDefinition")}
	}

	var sink = engineSink{ctx: ctx, engine: e.engine}
	var result, err = incExec.Run(ctx, pipeline, def, def.Params, sink)
	if err != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseRead, Err: err}
	}

	state.mu.Lock()
	state.sourceDefs[def.Name] = def
	state.incResults[def.Name] = result
	state.mu.Unlock()

	return result.RowsRead, nil
}

func (e *Executor) runLoad(ctx context.Context, pipeline, runID string, step plan.Step, loadExec *load.Executor, incExec *incremental.Executor, state *runState) (int, error) {
	var ld, ok = step.Payload.(ast.Load)
	if !ok {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseLoad, Err: fmt.Errorf("payload is not a Load")}
	}

	var b, err = e.engine.Execute(ctx, fmt.Sprintf("SELECT * FROM %s", quoteIdent(ld.SourceName)))
	if err != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseLoad, Err: err}
	}
	if err := loadExec.Run(ctx, ld, b); err != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseLoad, Err: err}
	}

	state.mu.Lock()
	var def, hasDef = state.sourceDefs[ld.SourceName]
	var result = state.incResults[ld.SourceName]
	state.mu.Unlock()

	if hasDef {
		if err := incExec.Commit(pipeline, runID, def, result); err != nil {
			return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseCommit, Err: err}
		}
	}

	return b.RowCount(), nil
}

// udfCallPattern recognizes `udf_name(arg1, arg2) AS alias` inside a
// transform's select list — the one shape ApplyScalarColumn's protocol
// (base query first, then one appended column per UDF call) can apply
// without a full SQL parser.
var udfCallPattern = regexp.MustCompile(`(?i)([a-zA-Z_][\w.]*)\s*\(([^()]*)\)\s+AS\s+([a-zA-Z_]\w*)`)
var fromClausePattern = regexp.MustCompile(`(?is)\bFROM\b.*$`)

func (e *Executor) runTransform(ctx context.Context, step plan.Step) (int, error) {
	var ct, ok = step.Payload.(ast.CreateTableAs)
	if !ok {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: fmt.Errorf("payload is not a CreateTableAs")}
	}

	var refs = udf.ExtractReferences(ct.SQL)
	if len(refs) == 0 {
		if err := e.engine.Materialize(ctx, ct.TableName, ct.SQL); err != nil {
			return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: err}
		}
		return e.countRows(ctx, ct.TableName), nil
	}

	var from = fromClausePattern.FindString(ct.SQL)
	if from == "" {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: fmt.Errorf("transform %q calls a udf but has no FROM clause to derive its argument columns from", ct.TableName)}
	}

	var base, err = e.engine.Execute(ctx, "SELECT * "+from)
	if err != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: err}
	}

	for _, m := range udfCallPattern.FindAllStringSubmatch(ct.SQL, -1) {
		var name, argsRaw, alias = m[1], m[2], m[3]
		if !containsName(refs, name) {
			continue
		}
		var descriptor, found = resolveUDF(name, e.udfs)
		if !found {
			return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: fmt.Errorf("udf %q referenced in transform %q is not registered", name, ct.TableName)}
		}
		if err := e.engine.RegisterUDF(descriptor, e.udfs); err != nil {
			return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: err}
		}
		var argCols = splitArgs(argsRaw)
		var next, aerr = e.engine.ApplyScalarColumn(ctx, base, descriptor, argCols, alias, batch.TypeString)
		if aerr != nil {
			return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: aerr}
		}
		base = next
	}

	if err := e.engine.Replace(ctx, ct.TableName, base); err != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseTransform, Err: err}
	}
	return base.RowCount(), nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func splitArgs(raw string) []string {
	var parts = strings.Split(raw, ",")
	var out = make([]string, 0, len(parts))
	for _, p := range parts {
		var trimmed = strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// resolveUDF matches a SQL-visible call name against a registered,
// fully-qualified descriptor: an exact match wins, otherwise a unique
// "<module>.<name>" suffix match is accepted so pipeline authors can
// call a UDF by its bare function name when it is unambiguous.
func resolveUDF(name string, manager *udf.Manager) (string, bool) {
	if _, ok := manager.Lookup(name); ok {
		return name, true
	}
	var match string
	var count int
	for _, n := range manager.Names() {
		if strings.HasSuffix(n, "."+name) {
			match = n
			count++
		}
	}
	if count == 1 {
		return match, true
	}
	return "", false
}

func (e *Executor) runExport(ctx context.Context, step plan.Step) (int, error) {
	var ex, ok = step.Payload.(ast.Export)
	if !ok {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseExport, Err: fmt.Errorf("payload is not an Export")}
	}

	var b, err = e.engine.Execute(ctx, ex.SQL)
	if err != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseExport, Err: err}
	}

	var dst, derr = e.registry.Destination(ex.ConnectorType)
	if derr != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseConfigure, Err: derr}
	}
	// mode and merge_keys are Write arguments (see writeMode), not
	// destination configuration.
	var configParams = make(map[string]any, len(ex.Options))
	for k, v := range ex.Options {
		if k != "mode" && k != "merge_keys" {
			configParams[k] = v
		}
	}
	if err := dst.Configure(configParams); err != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseConfigure, Err: err}
	}

	var mode, mergeKeys = writeMode(ex.Options)
	var result, werr = dst.Write(ctx, ex.Destination, b, mode, mergeKeys)
	if werr != nil {
		return 0, &StepError{StepID: step.ID, StepType: step.Type, Phase: PhaseExport, Err: werr}
	}
	return result.RowsWritten, nil
}

func writeMode(options map[string]any) (string, []string) {
	var mode = "replace"
	if v, ok := options["mode"].(string); ok && v != "" {
		mode = strings.ToLower(v)
	}
	var mergeKeys []string
	switch v := options["merge_keys"].(type) {
	case []string:
		mergeKeys = v
	case []any:
		for _, x := range v {
			mergeKeys = append(mergeKeys, fmt.Sprint(x))
		}
	}
	return mode, mergeKeys
}

func (e *Executor) countRows(ctx context.Context, table string) int {
	var b, err = e.engine.Execute(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", quoteIdent(table)))
	if err != nil || b.RowCount() == 0 {
		return 0
	}
	var col, ok = b.Column("n")
	if !ok || len(col) == 0 {
		return 0
	}
	if n, ok := col[0].(int64); ok {
		return int(n)
	}
	return 0
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// groupByLevel partitions an already topologically sorted step slice
// into dependency levels: every step in level N depends only on steps
// in levels < N, so all steps within one level are safe to run
// concurrently.
func groupByLevel(steps []plan.Step) [][]plan.Step {
	var level = make(map[string]int, len(steps))
	var maxLevel = 0
	for _, s := range steps {
		var lvl = 0
		for _, dep := range s.DependsOn {
			if level[dep]+1 > lvl {
				lvl = level[dep] + 1
			}
		}
		level[s.ID] = lvl
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	var levels = make([][]plan.Step, maxLevel+1)
	for _, s := range steps {
		var lvl = level[s.ID]
		levels[lvl] = append(levels[lvl], s)
	}
	return levels
}

// FailureSummary renders a one-line, human-facing description of a run
// failure, suitable for a CLI's terminal output.
func FailureSummary(pipeline string, err error) string {
	var red = color.New(color.FgRed).SprintFunc()
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return fmt.Sprintf("%s pipeline %q failed at step %s (%s/%s): %v",
			red("FAIL"), pipeline, stepErr.StepID, stepErr.StepType, stepErr.Phase, stepErr.Err)
	}
	return fmt.Sprintf("%s pipeline %q failed: %v", red("FAIL"), pipeline, err)
}
