// Package plan implements the Planner of §4.4: it flattens
// conditionals, materializes SET nodes into the variable manager,
// substitutes variables, builds a table-reference dependency graph,
// and emits a topologically sorted execution plan — grounded on the
// teacher's `go/flow/bindings.go` "tagged operation with explicit
// dependency annotations, topologically applied" shape.
package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/cond"
	"github.com/sqlflow/sqlflow/pkg/vars"
)

// StepType is one of the four runtime operation kinds §3 names.
type StepType string

const (
	StepSourceDefinition StepType = "source_definition"
	StepLoad             StepType = "load"
	StepTransform        StepType = "transform"
	StepExport           StepType = "export"
)

// Step is one node of the emitted execution plan.
type Step struct {
	ID         string   `json:"id"`
	Type       StepType `json:"type"`
	DependsOn  []string `json:"depends_on"`
	Payload    any      `json:"payload"`
	sourceLine int
	producedTable string // table name this step makes queryable, "" if none
}

// Plan is the ordered, topologically sorted execution plan §6's
// artifact JSON mirrors.
type Plan struct {
	Pipeline string `json:"pipeline"`
	Steps    []Step `json:"steps"`
}

// CycleError is returned when the dependency graph is not a DAG.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnresolvedReferenceError is returned when a Load names a source that
// no step defines. A table referenced in transform or export SQL that no
// step produces is not an error; it adds no dependency edge.
type UnresolvedReferenceError struct {
	StepID       string
	UnknownTable string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("step %q references unknown table %q", e.StepID, e.UnknownTable)
}

// Warner receives a warning message when a conditional branch fails to
// evaluate; the planner proceeds to the next branch per §4.3.
type Warner interface {
	Warn(message string, fields map[string]any)
}

type noopWarner struct{}

func (noopWarner) Warn(string, map[string]any) {}

// Planner turns a raw ast.Pipeline into an execution Plan.
type Planner struct {
	variables *vars.Manager
	warner    Warner
}

// New returns a Planner bound to the resolved variable manager.
func New(variables *vars.Manager, warner Warner) *Planner {
	if warner == nil {
		warner = noopWarner{}
	}
	return &Planner{variables: variables, warner: warner}
}

// Plan runs the full §4.4 algorithm over pipeline, returning the
// topologically sorted execution Plan.
func (p *Planner) Plan(pipelineName string, pipeline ast.Pipeline) (*Plan, error) {
	var flattened, err = p.flatten(pipeline.Steps)
	if err != nil {
		return nil, err
	}

	var substituted, serr = p.substitute(flattened)
	if serr != nil {
		return nil, serr
	}

	var steps, ierr = p.assignIDs(substituted)
	if ierr != nil {
		return nil, ierr
	}

	if err := p.buildEdges(steps); err != nil {
		return nil, err
	}

	var sorted, terr = topoSort(steps)
	if terr != nil {
		return nil, terr
	}

	return &Plan{Pipeline: pipelineName, Steps: sorted}, nil
}

// flatten recursively resolves ConditionalBlocks in source order,
// materializing SET nodes into the variable manager as it goes (step 1
// and step 2 of §4.4 interleave: a SET inside an earlier branch must be
// visible to a later condition at the same nesting level).
func (p *Planner) flatten(nodes []ast.Node) ([]ast.Node, error) {
	var out []ast.Node
	for _, n := range nodes {
		switch step := n.(type) {
		case ast.Set:
			var resolved = p.variables.Substitute(step.Value)
			p.variables.Set(step.Name, resolved, vars.OriginSet)
			out = append(out, step)
		case ast.ConditionalBlock:
			var chosen, err = p.chooseBranch(step)
			if err != nil {
				return nil, err
			}
			if chosen != nil {
				var inner, ferr = p.flatten(chosen)
				if ferr != nil {
					return nil, ferr
				}
				out = append(out, inner...)
			}
		default:
			out = append(out, n)
		}
	}
	return out, nil
}

func (p *Planner) chooseBranch(block ast.ConditionalBlock) ([]ast.Node, error) {
	for _, branch := range block.Branches {
		var substituted = p.variables.Substitute(branch.Condition)
		var result, err = cond.Evaluate(substituted)
		if err != nil {
			p.warner.Warn("condition evaluation failed, falling through to next branch", map[string]any{
				"condition": branch.Condition,
				"line":      block.Line(),
				"error":     err.Error(),
			})
			continue
		}
		if result {
			return branch.Steps, nil
		}
	}
	return block.ElseSteps, nil
}

// substitute applies variable substitution to every remaining node's
// string fields and JSON parameter leaves (step 3).
func (p *Planner) substitute(nodes []ast.Node) ([]ast.Node, error) {
	var out = make([]ast.Node, len(nodes))
	for i, n := range nodes {
		switch step := n.(type) {
		case ast.SourceDefinition:
			step.Name = p.variables.Substitute(step.Name)
			step.ConnectorType = p.variables.Substitute(step.ConnectorType)
			step.Params = p.substituteParams(step.Params)
			out[i] = step
		case ast.Load:
			step.TargetTable = p.variables.Substitute(step.TargetTable)
			step.SourceName = p.variables.Substitute(step.SourceName)
			out[i] = step
		case ast.CreateTableAs:
			step.TableName = p.variables.Substitute(step.TableName)
			step.SQL = p.variables.Substitute(step.SQL)
			out[i] = step
		case ast.Export:
			step.SQL = p.variables.Substitute(step.SQL)
			step.Destination = p.variables.Substitute(step.Destination)
			step.ConnectorType = p.variables.Substitute(step.ConnectorType)
			step.Options = p.substituteParams(step.Options)
			out[i] = step
		default:
			out[i] = n
		}
	}
	return out, nil
}

func (p *Planner) substituteParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	var substituted, ok = p.variables.SubstituteJSON(m).(map[string]any)
	if !ok {
		return m
	}
	return substituted
}

// assignIDs builds the Step wrapper with deterministic ids (step 5):
// `{type}_{name}`, suffixed with `_<n>` on collision.
func (p *Planner) assignIDs(nodes []ast.Node) ([]Step, error) {
	var steps []Step
	var seen = map[string]int{}

	var nextID = func(stepType StepType, name string) string {
		var base = string(stepType) + "_" + name
		var n = seen[base]
		seen[base] = n + 1
		if n == 0 {
			return base
		}
		return fmt.Sprintf("%s_%d", base, n)
	}

	for _, n := range nodes {
		switch step := n.(type) {
		case ast.SourceDefinition:
			steps = append(steps, Step{
				ID: nextID(StepSourceDefinition, step.Name), Type: StepSourceDefinition,
				Payload: step, sourceLine: step.Line(), producedTable: step.Name,
			})
		case ast.Load:
			steps = append(steps, Step{
				ID: nextID(StepLoad, step.TargetTable), Type: StepLoad,
				Payload: step, sourceLine: step.Line(), producedTable: step.TargetTable,
			})
		case ast.CreateTableAs:
			steps = append(steps, Step{
				ID: nextID(StepTransform, step.TableName), Type: StepTransform,
				Payload: step, sourceLine: step.Line(), producedTable: step.TableName,
			})
		case ast.Export:
			var name = step.Destination
			steps = append(steps, Step{
				ID: nextID(StepExport, name), Type: StepExport,
				Payload: step, sourceLine: step.Line(),
			})
		case ast.Include:
			return nil, fmt.Errorf("include %q must be resolved before planning", step.Path)
		}
	}
	return steps, nil
}

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][\w.]*)`)

// buildEdges implements step 4: a Load depends on its named source; a
// transform/export depends on the producer of every table its SQL
// references.
func (p *Planner) buildEdges(steps []Step) error {
	var producer = map[string]string{} // table name -> step id
	for _, s := range steps {
		if s.producedTable != "" {
			producer[s.producedTable] = s.ID
		}
	}

	for i := range steps {
		switch payload := steps[i].Payload.(type) {
		case ast.Load:
			if srcID, ok := producer[payload.SourceName]; ok {
				steps[i].DependsOn = append(steps[i].DependsOn, srcID)
			} else {
				return &UnresolvedReferenceError{StepID: steps[i].ID, UnknownTable: payload.SourceName}
			}
		case ast.CreateTableAs:
			var refs = referencedTables(payload.SQL)
			for _, t := range refs {
				if t == payload.TableName {
					continue // self-reference (e.g. incremental append) is not a planning dependency
				}
				if srcID, ok := producer[t]; ok {
					steps[i].DependsOn = append(steps[i].DependsOn, srcID)
				}
			}
		case ast.Export:
			var refs = referencedTables(payload.SQL)
			for _, t := range refs {
				if srcID, ok := producer[t]; ok {
					steps[i].DependsOn = append(steps[i].DependsOn, srcID)
				}
			}
		}
	}
	return nil
}

func referencedTables(sql string) []string {
	var seen = map[string]bool{}
	var out []string
	for _, m := range tableRefPattern.FindAllStringSubmatch(sql, -1) {
		var t = m[1]
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// topoSort implements steps 6-7: Kahn's algorithm with ties broken by
// original source line.
func topoSort(steps []Step) ([]Step, error) {
	var byID = make(map[string]*Step, len(steps))
	for i := range steps {
		byID[steps[i].ID] = &steps[i]
	}

	var indegree = make(map[string]int, len(steps))
	var dependents = make(map[string][]string)
	for _, s := range steps {
		if _, ok := indegree[s.ID]; !ok {
			indegree[s.ID] = 0
		}
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []string
	for _, s := range steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return byID[ready[i]].sourceLine < byID[ready[j]].sourceLine })

	var out []Step
	for len(ready) > 0 {
		var id = ready[0]
		ready = ready[1:]
		out = append(out, *byID[id])

		var unlocked []string
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return byID[unlocked[i]].sourceLine < byID[unlocked[j]].sourceLine })
		ready = append(ready, unlocked...)
		sort.Slice(ready, func(i, j int) bool { return byID[ready[i]].sourceLine < byID[ready[j]].sourceLine })
	}

	if len(out) != len(steps) {
		var cycle []string
		for id, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, &CycleError{Cycle: cycle}
	}
	return out, nil
}

// ToJSON renders the plan as the artifact shape §6 names.
func (pl *Plan) ToJSON() ([]byte, error) {
	return json.MarshalIndent(pl, "", "  ")
}
