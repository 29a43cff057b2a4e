// Package parser turns pipeline source text into an ast.Pipeline. It
// tokenizes eagerly (pkg/lexer) then walks the token stream with a
// straightforward recursive-descent parser; SQL bodies are sliced out
// of the original source verbatim and handed downstream unparsed, per
// §4.1 of the pipeline DSL.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sqlflow/sqlflow/pkg/ast"
	"github.com/sqlflow/sqlflow/pkg/lexer"
)

// Parse tokenizes and parses src into a Pipeline.
func Parse(src string) (ast.Pipeline, error) {
	var toks, err = tokenize(src)
	if err != nil {
		return ast.Pipeline{}, err
	}
	var p = &parser{src: src, toks: toks}
	var steps, perr = p.parseStatements(atTopLevel)
	if perr != nil {
		return ast.Pipeline{}, perr
	}
	if p.cur().Kind != lexer.TokEOF {
		return ast.Pipeline{}, p.errorf("end of input", "%q", p.cur().Text)
	}
	return ast.Pipeline{Steps: steps}, nil
}

func tokenize(src string) ([]lexer.Token, error) {
	var lx = lexer.New(src)
	var toks []lexer.Token
	for {
		var t, err = lx.Next()
		if err != nil {
			if le, ok := err.(*lexer.Error); ok {
				return nil, &ParseError{le.Line, le.Column, "valid token", "lexical error: " + le.Message, snippet(src, 0)}
			}
			return nil, err
		}
		toks = append(toks, t)
		if t.Kind == lexer.TokEOF {
			break
		}
	}
	return toks, nil
}

type stopSet int

const (
	atTopLevel stopSet = iota
	inConditionalBranch
)

type parser struct {
	src  string
	toks []lexer.Token
	pos  int
}

func (p *parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *parser) peekN(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *parser) advance() lexer.Token {
	var t = p.toks[p.pos]
	if t.Kind != lexer.TokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(expected, format string, args ...any) error {
	var t = p.cur()
	return &ParseError{
		Line: t.Line, Column: t.Column,
		Expected: expected,
		Found:    fmt.Sprintf(format, args...),
		Snippet:  snippet(p.src, t.Offset),
	}
}

func (p *parser) expectKeyword(kw string) (lexer.Token, error) {
	var t = p.cur()
	if t.Kind != lexer.TokKeyword || t.Text != kw {
		return t, p.errorf(kw, "%q", p.describe(t))
	}
	return p.advance(), nil
}

func (p *parser) expectIdent() (string, error) {
	var t = p.cur()
	if t.Kind != lexer.TokIdent {
		return "", p.errorf("identifier", "%q", p.describe(t))
	}
	p.advance()
	return t.Text, nil
}

func (p *parser) expectString() (string, error) {
	var t = p.cur()
	if t.Kind != lexer.TokString {
		return "", p.errorf("string literal", "%q", p.describe(t))
	}
	p.advance()
	return t.Text, nil
}

func (p *parser) expectSemicolon() error {
	var t = p.cur()
	if t.Kind != lexer.TokSemicolon {
		return p.errorf("';'", "%q", p.describe(t))
	}
	p.advance()
	return nil
}

func (p *parser) describe(t lexer.Token) string {
	if t.Kind == lexer.TokEOF {
		return "end of input"
	}
	return t.Text
}

// isBlockEnd reports whether the current position starts an ELSEIF,
// ELSE, or ENDIF/END IF keyword, which terminate a conditional branch's
// statement list.
func (p *parser) isBlockEnd() bool {
	var t = p.cur()
	if t.Kind != lexer.TokKeyword {
		return false
	}
	switch t.Text {
	case "ELSEIF", "ELSE", "ENDIF":
		return true
	case "END":
		return p.peekN(1).Kind == lexer.TokKeyword && p.peekN(1).Text == "IF"
	}
	return false
}

// parseStatements parses zero or more top-level statements until EOF
// (atTopLevel) or a conditional-block terminator (inConditionalBranch).
func (p *parser) parseStatements(stop stopSet) ([]ast.Node, error) {
	var steps []ast.Node
	for {
		if p.cur().Kind == lexer.TokEOF {
			return steps, nil
		}
		if stop == inConditionalBranch && p.isBlockEnd() {
			return steps, nil
		}
		var step, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
}

func (p *parser) parseStatement() (ast.Node, error) {
	var t = p.cur()
	if t.Kind != lexer.TokKeyword {
		return nil, p.errorf("a pipeline directive (SOURCE, LOAD, CREATE, EXPORT, SET, INCLUDE, IF)", "%q", p.describe(t))
	}
	switch t.Text {
	case "SOURCE":
		return p.parseSource()
	case "LOAD":
		return p.parseLoad()
	case "CREATE":
		return p.parseCreateTableAs()
	case "EXPORT":
		return p.parseExport()
	case "SET":
		return p.parseSet()
	case "INCLUDE":
		return p.parseInclude()
	case "IF":
		return p.parseConditional()
	default:
		return nil, p.errorf("a pipeline directive (SOURCE, LOAD, CREATE, EXPORT, SET, INCLUDE, IF)", "%q", t.Text)
	}
}

func (p *parser) parseSource() (ast.Node, error) {
	var line = p.cur().Line
	if _, err := p.expectKeyword("SOURCE"); err != nil {
		return nil, err
	}
	var name, err = p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("TYPE"); err != nil {
		return nil, err
	}
	var connType string
	connType, err = p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("PARAMS"); err != nil {
		return nil, err
	}
	var params map[string]any
	params, err = p.expectJSONObject()
	if err != nil {
		return nil, err
	}
	if err := p.expectSemicolon(); err != nil {
		return nil, err
	}

	var sync = ast.SyncFullRefresh
	if v, ok := params["sync_mode"]; ok {
		if s, ok := v.(string); ok {
			sync = ast.SyncMode(s)
		}
	}
	var cursor string
	if v, ok := params["cursor_field"]; ok {
		cursor, _ = v.(string)
	}
	var pk []string
	if v, ok := params["primary_key"]; ok {
		pk = toStringSlice(v)
	}
	return ast.NewSourceDefinition(line, name, strings.ToUpper(connType), params, sync, cursor, pk), nil
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []any:
		var out = make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}

func (p *parser) parseLoad() (ast.Node, error) {
	var line = p.cur().Line
	if _, err := p.expectKeyword("LOAD"); err != nil {
		return nil, err
	}
	var target, err = p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	var source string
	source, err = p.expectIdent()
	if err != nil {
		return nil, err
	}

	var mode = ast.LoadAppend
	var mergeKeys []string
	if p.cur().Kind == lexer.TokKeyword && p.cur().Text == "MODE" {
		p.advance()
		var mt = p.cur()
		if mt.Kind != lexer.TokKeyword || (mt.Text != "REPLACE" && mt.Text != "APPEND" && mt.Text != "MERGE") {
			return nil, p.errorf("REPLACE, APPEND, or MERGE", "%q", p.describe(mt))
		}
		p.advance()
		mode = ast.LoadMode(mt.Text)
		if mode == ast.LoadMerge {
			if _, err := p.expectKeyword("KEYS"); err != nil {
				return nil, err
			}
			mergeKeys, err = p.parseIdentList()
			if err != nil {
				return nil, err
			}
		}
	}
	if mode == ast.LoadMerge && len(mergeKeys) == 0 {
		return nil, p.errorf("non-empty MERGE KEYS list", "no keys given")
	}
	if err := p.expectSemicolon(); err != nil {
		return nil, err
	}
	return ast.NewLoad(line, target, source, mode, mergeKeys), nil
}

func (p *parser) parseIdentList() ([]string, error) {
	if p.cur().Kind != lexer.TokOp || p.cur().Text != "(" {
		return nil, p.errorf("'('", "%q", p.describe(p.cur()))
	}
	p.advance()
	var idents []string
	for {
		var id, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
		idents = append(idents, id)
		if p.cur().Kind == lexer.TokOp && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if p.cur().Kind != lexer.TokOp || p.cur().Text != ")" {
		return nil, p.errorf("')'", "%q", p.describe(p.cur()))
	}
	p.advance()
	return idents, nil
}

func (p *parser) parseCreateTableAs() (ast.Node, error) {
	var line = p.cur().Line
	if _, err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	var table, err = p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	var sql = p.readSQLUntilTerminator()
	var consumedSemi = p.cur().Kind == lexer.TokSemicolon
	if consumedSemi {
		p.advance()
	}
	return ast.NewCreateTableAs(line, table, sql), nil
}

func (p *parser) parseExport() (ast.Node, error) {
	var line = p.cur().Line
	if _, err := p.expectKeyword("EXPORT"); err != nil {
		return nil, err
	}
	var sql = p.readSQLUntilTerminator()
	if _, err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	var dest, err = p.expectString()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("TYPE"); err != nil {
		return nil, err
	}
	var connType string
	connType, err = p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("OPTIONS"); err != nil {
		return nil, err
	}
	var opts map[string]any
	opts, err = p.expectJSONObject()
	if err != nil {
		return nil, err
	}
	if err := p.expectSemicolon(); err != nil {
		return nil, err
	}
	return ast.NewExport(line, sql, dest, strings.ToUpper(connType), opts), nil
}

// readSQLUntilTerminator advances past tokens, collecting verbatim
// source text, until it reaches a semicolon, the TO keyword, an
// ENDIF/END-IF keyword, or EOF — per §4.1's <select-sql> rule. The
// terminator itself is left unconsumed.
func (p *parser) readSQLUntilTerminator() string {
	var start = p.cur().Offset
	var end = start
	for {
		var t = p.cur()
		if t.Kind == lexer.TokEOF || t.Kind == lexer.TokSemicolon {
			break
		}
		if t.Kind == lexer.TokKeyword && (t.Text == "TO" || t.Text == "ENDIF") {
			break
		}
		if t.Kind == lexer.TokKeyword && t.Text == "END" && p.peekN(1).Kind == lexer.TokKeyword && p.peekN(1).Text == "IF" {
			break
		}
		end = t.Offset + len(p.rawTokenText(t))
		p.advance()
	}
	return strings.TrimSpace(p.src[start:end])
}

// rawTokenText returns the original source slice for a token, which for
// string/JSON literals differs from Token.Text (escapes decoded there).
func (p *parser) rawTokenText(t lexer.Token) string {
	switch t.Kind {
	case lexer.TokString:
		return rescanLiteral(p.src, t.Offset)
	case lexer.TokJSON:
		return rescanLiteral(p.src, t.Offset)
	default:
		return t.Text
	}
}

// rescanLiteral finds the raw source span of a string or JSON literal
// starting at offset, without decoding escapes.
func rescanLiteral(src string, offset int) string {
	if offset >= len(src) {
		return ""
	}
	switch src[offset] {
	case '\'', '"':
		var i = offset + 1
		for i < len(src) {
			if src[i] == '\\' {
				i += 2
				continue
			}
			if src[i] == src[offset] {
				i++
				break
			}
			i++
		}
		return src[offset:i]
	case '{':
		var depth = 0
		var inString = false
		var i = offset
		for i < len(src) {
			var b = src[i]
			if inString {
				if b == '\\' {
					i += 2
					continue
				}
				if b == '"' {
					inString = false
				}
				i++
				continue
			}
			switch b {
			case '"':
				inString = true
				i++
			case '{':
				depth++
				i++
			case '}':
				depth--
				i++
				if depth == 0 {
					return src[offset:i]
				}
			default:
				i++
			}
		}
		return src[offset:i]
	default:
		return ""
	}
}

func (p *parser) expectJSONObject() (map[string]any, error) {
	var t = p.cur()
	if t.Kind != lexer.TokJSON {
		return nil, p.errorf("JSON object literal", "%q", p.describe(t))
	}
	p.advance()
	var out map[string]any
	if err := json.Unmarshal([]byte(t.Text), &out); err != nil {
		return nil, &ParseError{t.Line, t.Column, "valid JSON object", err.Error(), snippet(p.src, t.Offset)}
	}
	return out, nil
}

func (p *parser) parseSet() (ast.Node, error) {
	var line = p.cur().Line
	if _, err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var name, err = p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind != lexer.TokOp || p.cur().Text != "=" {
		return nil, p.errorf("'='", "%q", p.describe(p.cur()))
	}
	p.advance()
	var value string
	value, err = p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectSemicolon(); err != nil {
		return nil, err
	}
	return ast.NewSet(line, name, value), nil
}

func (p *parser) parseInclude() (ast.Node, error) {
	var line = p.cur().Line
	if _, err := p.expectKeyword("INCLUDE"); err != nil {
		return nil, err
	}
	var path, err = p.expectString()
	if err != nil {
		return nil, err
	}
	var alias string
	if p.cur().Kind == lexer.TokKeyword && p.cur().Text == "AS" {
		p.advance()
		alias, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectSemicolon(); err != nil {
		return nil, err
	}
	return ast.NewInclude(line, path, alias), nil
}

func (p *parser) parseConditional() (ast.Node, error) {
	var line = p.cur().Line
	if _, err := p.expectKeyword("IF"); err != nil {
		return nil, err
	}
	var branches []ast.Branch
	var cond, err = p.parseConditionExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("THEN"); err != nil {
		return nil, err
	}
	var steps []ast.Node
	steps, err = p.parseStatements(inConditionalBranch)
	if err != nil {
		return nil, err
	}
	branches = append(branches, ast.Branch{Condition: cond, Steps: steps})

	for p.cur().Kind == lexer.TokKeyword && p.cur().Text == "ELSEIF" {
		p.advance()
		cond, err = p.parseConditionExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		steps, err = p.parseStatements(inConditionalBranch)
		if err != nil {
			return nil, err
		}
		branches = append(branches, ast.Branch{Condition: cond, Steps: steps})
	}

	var elseSteps []ast.Node
	if p.cur().Kind == lexer.TokKeyword && p.cur().Text == "ELSE" {
		p.advance()
		elseSteps, err = p.parseStatements(inConditionalBranch)
		if err != nil {
			return nil, err
		}
	}

	if p.cur().Kind == lexer.TokKeyword && p.cur().Text == "ENDIF" {
		p.advance()
	} else if p.cur().Kind == lexer.TokKeyword && p.cur().Text == "END" && p.peekN(1).Text == "IF" {
		p.advance()
		p.advance()
	} else {
		return nil, p.errorf("ENDIF or END IF", "%q", p.describe(p.cur()))
	}
	if p.cur().Kind == lexer.TokSemicolon {
		p.advance()
	}
	return ast.NewConditionalBlock(line, branches, elseSteps), nil
}

// parseConditionExpr captures the raw condition text between IF/ELSEIF
// and THEN; pkg/cond parses and evaluates it later, at plan time, once
// variables are resolved.
func (p *parser) parseConditionExpr() (string, error) {
	var start = p.cur().Offset
	var end = start
	var depth = 0
	for {
		var t = p.cur()
		if t.Kind == lexer.TokEOF {
			return "", p.errorf("THEN", "end of input")
		}
		if depth == 0 && t.Kind == lexer.TokKeyword && t.Text == "THEN" {
			break
		}
		if t.Kind == lexer.TokOp && t.Text == "(" {
			depth++
		}
		if t.Kind == lexer.TokOp && t.Text == ")" {
			depth--
		}
		end = t.Offset + len(p.rawTokenText(t))
		p.advance()
	}
	return strings.TrimSpace(p.src[start:end]), nil
}
