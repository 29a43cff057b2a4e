// Package ast defines the typed node set produced by pkg/parser: one
// variant per pipeline directive, plus the conditional tree shape used
// before planning flattens it.
package ast

// SyncMode is the sync strategy declared on a SourceDefinition.
type SyncMode string

const (
	SyncFullRefresh SyncMode = "full_refresh"
	SyncIncremental SyncMode = "incremental"
)

// LoadMode is how a Load applies its source rows to its target table.
type LoadMode string

const (
	LoadReplace LoadMode = "REPLACE"
	LoadAppend  LoadMode = "APPEND"
	LoadMerge   LoadMode = "MERGE"
)

// Node is implemented by every pipeline step variant. Line returns the
// 1-based source line the node was parsed from, for diagnostics.
type Node interface {
	Line() int
	node()
}

type base struct {
	LineNo int
}

func (b base) Line() int { return b.LineNo }

// SourceDefinition declares a named, typed data source.
type SourceDefinition struct {
	base
	Name         string
	ConnectorType string
	Params       map[string]any
	SyncMode     SyncMode
	CursorField  string
	PrimaryKey   []string
}

func (SourceDefinition) node() {}

// Load applies rows read from a source into a target table.
type Load struct {
	base
	TargetTable string
	SourceName  string
	Mode        LoadMode
	MergeKeys   []string
}

func (Load) node() {}

// CreateTableAs registers a transform whose body is SQL evaluated by the
// embedded engine. SQL is carried verbatim; the parser never validates it.
type CreateTableAs struct {
	base
	TableName string
	SQL       string
}

func (CreateTableAs) node() {}

// Export runs a SELECT and streams the result to a destination connector.
type Export struct {
	base
	SQL           string
	Destination   string
	ConnectorType string
	Options       map[string]any
}

func (Export) node() {}

// Include splices another pipeline file's steps in place, optionally
// under a namespace alias.
type Include struct {
	base
	Path  string
	Alias string
}

func (Include) node() {}

// Set materializes a variable binding at plan time, in source order.
type Set struct {
	base
	Name  string
	Value string
}

func (Set) node() {}

// ConditionalBlock is IF/ELSEIF/ELSE/ENDIF. Branches are evaluated in
// order; the first true condition's steps are emitted, else ElseSteps,
// else nothing. Nesting is unbounded.
type ConditionalBlock struct {
	base
	Branches  []Branch
	ElseSteps []Node
}

func (ConditionalBlock) node() {}

// Branch is one IF/ELSEIF arm: a condition expression and its steps.
type Branch struct {
	Condition string
	Steps     []Node
}

// Pipeline is an ordered sequence of top-level steps parsed from one
// source file, before conditional flattening or variable substitution.
type Pipeline struct {
	Steps []Node
}

// NewSourceDefinition builds a SourceDefinition node, line-tagged.
func NewSourceDefinition(line int, name, connectorType string, params map[string]any, sync SyncMode, cursor string, pk []string) SourceDefinition {
	return SourceDefinition{base{line}, name, connectorType, params, sync, cursor, pk}
}

// NewLoad builds a Load node, line-tagged.
func NewLoad(line int, target, source string, mode LoadMode, mergeKeys []string) Load {
	return Load{base{line}, target, source, mode, mergeKeys}
}

// NewCreateTableAs builds a CreateTableAs node, line-tagged.
func NewCreateTableAs(line int, table, sql string) CreateTableAs {
	return CreateTableAs{base{line}, table, sql}
}

// NewExport builds an Export node, line-tagged.
func NewExport(line int, sql, dest, connectorType string, options map[string]any) Export {
	return Export{base{line}, sql, dest, connectorType, options}
}

// NewInclude builds an Include node, line-tagged.
func NewInclude(line int, path, alias string) Include {
	return Include{base{line}, path, alias}
}

// NewSet builds a Set node, line-tagged.
func NewSet(line int, name, value string) Set {
	return Set{base{line}, name, value}
}

// NewConditionalBlock builds a ConditionalBlock node, line-tagged.
func NewConditionalBlock(line int, branches []Branch, elseSteps []Node) ConditionalBlock {
	return ConditionalBlock{base{line}, branches, elseSteps}
}
