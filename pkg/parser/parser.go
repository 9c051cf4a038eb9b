// Package parser builds an ast.File from a pkg/lexer token stream using
// recursive descent for statements/declarations and precedence climbing
// for expressions.
package parser

import (
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/token"
)

// maxErrors caps error reporting: once the bag holds this many
// diagnostics, errorf records no more, so one early error cannot
// cascade into hundreds of follow-on complaints. Parsing itself
// continues to the end of the token stream.
const maxErrors = 10

// Parser consumes a flat token slice (already lexed to completion, since
// the lexer never stops at the first error either) and builds an
// ast.File, accumulating syntax errors into bag rather than aborting.
type Parser struct {
	file string
	toks []token.Token
	pos  int
	bag  *diagnostic.Bag

	docs map[ast.Item]string
}

// New creates a Parser over toks, reporting syntax errors into bag.
func New(file string, toks []token.Token, bag *diagnostic.Bag) *Parser {
	return &Parser{file: file, toks: toks, bag: bag, docs: map[ast.Item]string{}}
}

// ParseFile parses a complete compilation unit.
func (p *Parser) ParseFile() *ast.File {
	f := &ast.File{Doc: p.docs}
	p.skipNewlines()
	for !p.at(token.EOF) {
		item := p.parseItem()
		if item != nil {
			f.Items = append(f.Items, item)
		}
		p.skipNewlines()
	}
	return f
}

// ---------------------------------------------------------------------
// token cursor helpers
// ---------------------------------------------------------------------

func (p *Parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF sentinel
	}
	return p.toks[p.pos]
}

func (p *Parser) peekAt(off int) token.Token {
	i := p.pos + off
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[i]
}

func (p *Parser) at(k token.Kind) bool { return p.cur().Kind == k }

func (p *Parser) advance() token.Token {
	t := p.cur()
	if t.Kind != token.EOF {
		p.pos++
	}
	return t
}

// skipNewlines consumes NEWLINE/INDENT/DEDENT tokens, which carry no
// grouping meaning in Lumen's surface syntax: blocks are delimited by
// explicit keywords (`end`, `else`, arm separators), and INDENT/DEDENT
// only exist for markdown-aware diagnostics further upstream.
func (p *Parser) skipNewlines() {
	for p.at(token.NEWLINE) || p.at(token.INDENT) || p.at(token.DEDENT) {
		p.advance()
	}
}

func (p *Parser) span(start token.Token) diagnostic.Span {
	end := p.toks[p.pos-1]
	if p.pos == 0 {
		end = start
	}
	return diagnostic.Span{Start: start.Start, End: end.End, Line: start.Line, Col: start.Col, File: p.file}
}

func (p *Parser) errorf(kind diagnostic.Kind, format string, args ...any) {
	if p.bag.Len() >= maxErrors {
		return
	}
	t := p.cur()
	sp := diagnostic.Span{Start: t.Start, End: t.End, Line: t.Line, Col: t.Col, File: p.file}
	p.bag.Errorf(diagnostic.StageParse, kind, sp, format, args...)
}

// expect consumes a token of kind k, or records a syntax error and
// returns the zero Token without advancing.
func (p *Parser) expect(k token.Kind, context string) token.Token {
	if p.at(k) {
		return p.advance()
	}
	p.errorf("UnexpectedToken", "expected %s %s, found %s", k, context, p.cur().Kind)
	return token.Token{}
}

// expectIdent consumes an IDENT and returns its text, or "" on error.
func (p *Parser) expectIdent(context string) string {
	if p.at(token.IDENT) {
		return p.advance().Text
	}
	p.errorf("UnexpectedToken", "expected identifier %s, found %s", context, p.cur().Kind)
	return ""
}

// syncTo advances past tokens until one of the given kinds is the
// current token (or EOF), used for panic-mode recovery after a syntax
// error inside a declaration or statement.
func (p *Parser) syncTo(kinds ...token.Kind) {
	for !p.at(token.EOF) {
		for _, k := range kinds {
			if p.at(k) {
				return
			}
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------
// top-level items
// ---------------------------------------------------------------------

func (p *Parser) parseItem() ast.Item {
	doc := p.takeDoc()
	var item ast.Item
	switch p.cur().Kind {
	case token.KW_CELL:
		item = p.parseCellDecl()
	case token.KW_RECORD:
		item = p.parseRecordDecl()
	case token.KW_ENUM:
		item = p.parseEnumDecl()
	case token.KW_TYPE:
		item = p.parseTypeAliasDecl()
	case token.KW_TRAIT:
		item = p.parseTraitDecl()
	case token.KW_IMPL:
		item = p.parseImplDecl()
	case token.KW_CONST:
		item = p.parseConstDecl()
	case token.KW_IMPORT:
		item = p.parseImportDecl()
	case token.KW_USE:
		item = p.parseUseToolDecl()
	case token.KW_GRANT:
		item = p.parseGrantDecl()
	case token.KW_BIND:
		item = p.parseBindEffectDecl()
	case token.KW_EFFECT:
		item = p.parseEffectDecl()
	case token.KW_HANDLER:
		item = p.parseHandlerDecl()
	case token.KW_AGENT:
		item = p.parseAgentDecl()
	case token.KW_MEMORY, token.KW_MACHINE, token.KW_PIPELINE, token.KW_ORCHESTRATION,
		token.KW_GUARDRAIL, token.KW_EVAL, token.KW_PATTERN:
		item = p.parseProcessDecl()
	case token.KW_MACRO:
		item = p.parseMacroDecl()
	case token.KW_EXTERN:
		item = p.parseExternDecl()
	case token.AT:
		item = p.parseDirectiveItem()
	default:
		p.errorf("UnexpectedToken", "expected a top-level declaration, found %s", p.cur().Kind)
		p.advance()
		return nil
	}
	if item != nil && doc != "" {
		p.docs[item] = doc
	}
	return item
}

// takeDoc returns the doc text for the next declaration. The lexer
// discards all comment text, `##` lines included, so takeDoc consumes
// no tokens and always returns "", and File.Doc stays empty.
func (p *Parser) takeDoc() string { return "" }

func (p *Parser) parseGenerics() []string {
	if !p.at(token.LBRACKET) {
		return nil
	}
	p.advance()
	var gs []string
	for !p.at(token.RBRACKET) && !p.at(token.EOF) {
		gs = append(gs, p.expectIdent("generic parameter"))
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RBRACKET, "to close generic parameter list")
	return gs
}

func (p *Parser) parseParams() []ast.Param {
	p.expect(token.LPAREN, "to start a parameter list")
	var params []ast.Param
	for !p.at(token.RPAREN) && !p.at(token.EOF) {
		name := p.expectIdent("parameter name")
		var ty ast.TypeExpr
		if p.at(token.COLON) {
			p.advance()
			ty = p.parseType()
		}
		var def ast.Expr
		if p.at(token.ASSIGN) {
			p.advance()
			def = p.parseExpr(precLowest)
		}
		params = append(params, ast.Param{Name: name, Type: ty, Default: def})
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RPAREN, "to close a parameter list")
	return params
}

func (p *Parser) parseEffectRow() ast.EffectRow {
	if !p.at(token.SLASH) {
		return ast.EffectRow{}
	}
	p.advance()
	p.expect(token.LBRACE, "to start an effect row")
	row := ast.EffectRow{Explicit: true}
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		if p.at(token.DOTDOT) {
			p.advance()
			row.RowVar = p.expectIdent("effect row variable")
			break
		}
		row.Effects = append(row.Effects, p.expectIdent("effect name"))
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RBRACE, "to close an effect row")
	return row
}

func (p *Parser) parseCellDecl() *ast.CellDecl {
	start := p.advance() // 'cell'
	name := p.expectIdent("after 'cell'")
	generics := p.parseGenerics()
	params := p.parseParams()
	var ret ast.TypeExpr
	if p.at(token.ARROW) {
		p.advance()
		ret = p.parseType()
	}
	effects := p.parseEffectRow()
	body := p.parseBlock(token.KW_END)
	p.expect(token.KW_END, "to close 'cell'")
	d := &ast.CellDecl{Name: name, Generics: generics, Params: params, Ret: ret, Effects: effects, Body: body}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseRecordDecl() *ast.RecordDecl {
	start := p.advance() // 'record'
	name := p.expectIdent("after 'record'")
	generics := p.parseGenerics()
	p.expect(token.LBRACE, "to start record fields")
	var fields []ast.RecordField
	p.skipNewlines()
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		fn := p.expectIdent("field name")
		p.expect(token.COLON, "after field name")
		ft := p.parseType()
		fields = append(fields, ast.RecordField{Name: fn, Type: ft})
		if p.at(token.COMMA) {
			p.advance()
			p.skipNewlines()
			continue
		}
		p.skipNewlines()
		break
	}
	p.expect(token.RBRACE, "to close record fields")
	var where ast.Expr
	if p.at(token.KW_WHERE) {
		p.advance()
		where = p.parseExpr(precLowest)
	}
	d := &ast.RecordDecl{Name: name, Generics: generics, Fields: fields, Where: where}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseEnumDecl() *ast.EnumDecl {
	start := p.advance() // 'enum'
	name := p.expectIdent("after 'enum'")
	generics := p.parseGenerics()
	var variants []ast.EnumVariant
	p.skipNewlines()
	for p.at(token.IDENT) {
		vname := p.advance().Text
		v := ast.EnumVariant{Name: vname}
		if p.at(token.LPAREN) {
			p.advance()
			for !p.at(token.RPAREN) && !p.at(token.EOF) {
				v.Payload = append(v.Payload, p.parseType())
				if p.at(token.COMMA) {
					p.advance()
					continue
				}
				break
			}
			p.expect(token.RPAREN, "to close variant payload")
		} else if p.at(token.LBRACE) {
			p.advance()
			for !p.at(token.RBRACE) && !p.at(token.EOF) {
				fn := p.expectIdent("variant field name")
				p.expect(token.COLON, "after variant field name")
				ft := p.parseType()
				v.Fields = append(v.Fields, ast.RecordField{Name: fn, Type: ft})
				if p.at(token.COMMA) {
					p.advance()
					continue
				}
				break
			}
			p.expect(token.RBRACE, "to close variant fields")
		}
		variants = append(variants, v)
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'enum'")
	d := &ast.EnumDecl{Name: name, Generics: generics, Variants: variants}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseTypeAliasDecl() *ast.TypeAliasDecl {
	start := p.advance() // 'type'
	name := p.expectIdent("after 'type'")
	generics := p.parseGenerics()
	p.expect(token.ASSIGN, "after type alias name")
	val := p.parseType()
	d := &ast.TypeAliasDecl{Name: name, Generics: generics, Value: val}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseTraitDecl() *ast.TraitDecl {
	start := p.advance() // 'trait'
	name := p.expectIdent("after 'trait'")
	var methods []ast.TraitMethod
	for p.at(token.KW_FN) {
		p.advance()
		mname := p.expectIdent("trait method name")
		params := p.parseParams()
		var ret ast.TypeExpr
		if p.at(token.ARROW) {
			p.advance()
			ret = p.parseType()
		}
		methods = append(methods, ast.TraitMethod{Name: mname, Params: params, Ret: ret})
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'trait'")
	d := &ast.TraitDecl{Name: name, Methods: methods}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseImplDecl() *ast.ImplDecl {
	start := p.advance() // 'impl'
	var traitName string
	first := p.parseType()
	ty := first
	if p.at(token.KW_FOR) {
		p.advance()
		if nt, ok := first.(*ast.NamedType); ok {
			traitName = nt.Name
		}
		ty = p.parseType()
	}
	p.skipNewlines()
	var methods []*ast.CellDecl
	for p.at(token.KW_CELL) {
		methods = append(methods, p.parseCellDecl())
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'impl'")
	d := &ast.ImplDecl{Trait: traitName, Type: ty, Methods: methods}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseConstDecl() *ast.ConstDecl {
	start := p.advance() // 'const'
	name := p.expectIdent("after 'const'")
	var ty ast.TypeExpr
	if p.at(token.COLON) {
		p.advance()
		ty = p.parseType()
	}
	p.expect(token.ASSIGN, "after const name")
	val := p.parseExpr(precLowest)
	d := &ast.ConstDecl{Name: name, Type: ty, Value: val}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseImportDecl() *ast.ImportDecl {
	start := p.advance() // 'import'
	pathTok := p.expect(token.STRING, "import path")
	alias := ""
	if p.at(token.KW_AS) {
		p.advance()
		alias = p.expectIdent("import alias")
	}
	d := &ast.ImportDecl{Path: pathTok.Text, Alias: alias}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseUseToolDecl() *ast.UseToolDecl {
	start := p.advance() // 'use'
	p.expect(token.KW_TOOL, "after 'use'")
	alias := p.expectIdent("tool alias")
	p.expect(token.COLON, "after tool alias")
	op := p.expect(token.STRING, "tool operation string")
	d := &ast.UseToolDecl{Alias: alias, Operation: op.Text}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseGrantDecl() *ast.GrantDecl {
	start := p.advance() // 'grant'
	alias := p.expectIdent("grant alias")
	p.expect(token.LBRACE, "to start grant entries")
	entries := map[string]ast.Expr{}
	p.skipNewlines()
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		key := p.expectIdent("grant entry name")
		p.expect(token.COLON, "after grant entry name")
		entries[key] = p.parseExpr(precLowest)
		if p.at(token.COMMA) {
			p.advance()
			p.skipNewlines()
			continue
		}
		p.skipNewlines()
		break
	}
	p.expect(token.RBRACE, "to close grant entries")
	d := &ast.GrantDecl{Alias: alias, Entries: entries}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseBindEffectDecl() *ast.BindEffectDecl {
	start := p.advance() // 'bind'
	p.expect(token.KW_EFFECT, "after 'bind'")
	effect := p.expectIdent("effect name")
	p.expect(token.KW_TO, "after effect name")
	alias := p.expectIdent("tool alias")
	d := &ast.BindEffectDecl{Effect: effect, Alias: alias}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseEffectDecl() *ast.EffectDecl {
	start := p.advance() // 'effect'
	name := p.expectIdent("after 'effect'")
	var ops []ast.EffectOp
	p.skipNewlines()
	for p.at(token.KW_FN) {
		p.advance()
		opname := p.expectIdent("effect operation name")
		params := p.parseParams()
		var ret ast.TypeExpr
		if p.at(token.ARROW) {
			p.advance()
			ret = p.parseType()
		}
		ops = append(ops, ast.EffectOp{Name: opname, Params: params, Ret: ret})
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'effect'")
	d := &ast.EffectDecl{Name: name, Ops: ops}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseHandlerClause() ast.HandlerClause {
	effect := p.expectIdent("effect name in handler clause")
	p.expect(token.DOT, "between effect and operation name")
	op := p.expectIdent("operation name in handler clause")
	params := p.parseParams()
	p.expect(token.FATARROW, "after handler clause parameters")
	body := p.parseClauseBody()
	return ast.HandlerClause{Effect: effect, Op: op, Params: params, Body: body}
}

// parseClauseBody parses an effect/handle clause body: either a `do
// ... end` block, or a single statement terminated by a newline. A
// bare single-statement form (rather than an implicit block) avoids
// ambiguity with the next clause header, which also starts with an
// identifier.
func (p *Parser) parseClauseBody() []ast.Stmt {
	if p.at(token.KW_DO) {
		p.advance()
		body := p.parseBlock(token.KW_END)
		p.expect(token.KW_END, "to close clause body")
		return body
	}
	return []ast.Stmt{p.parseStmt()}
}

func (p *Parser) parseHandlerDecl() *ast.HandlerDecl {
	start := p.advance() // 'handler'
	name := p.expectIdent("after 'handler'")
	var clauses []ast.HandlerClause
	p.skipNewlines()
	for !p.at(token.KW_END) && !p.at(token.EOF) {
		clauses = append(clauses, p.parseHandlerClause())
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'handler'")
	d := &ast.HandlerDecl{Name: name, Clauses: clauses}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseAgentDecl() *ast.AgentDecl {
	start := p.advance() // 'agent'
	name := p.expectIdent("after 'agent'")
	p.skipNewlines()
	var items []ast.Item
	for !p.at(token.KW_END) && !p.at(token.EOF) {
		it := p.parseItem()
		if it != nil {
			items = append(items, it)
		}
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'agent'")
	d := &ast.AgentDecl{Name: name, Items: items}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseMacroDecl() *ast.MacroDecl {
	start := p.advance() // 'macro'
	name := p.expectIdent("after 'macro'")
	p.expect(token.LPAREN, "to start macro parameters")
	var params []string
	for !p.at(token.RPAREN) && !p.at(token.EOF) {
		params = append(params, p.expectIdent("macro parameter"))
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RPAREN, "to close macro parameters")
	body := p.parseBlock(token.KW_END)
	p.expect(token.KW_END, "to close 'macro'")
	d := &ast.MacroDecl{Name: name, Params: params, Body: body}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseExternDecl() *ast.ExternDecl {
	start := p.advance() // 'extern'
	p.expect(token.KW_CELL, "after 'extern'")
	name := p.expectIdent("extern cell name")
	params := p.parseParams()
	var ret ast.TypeExpr
	if p.at(token.ARROW) {
		p.advance()
		ret = p.parseType()
	}
	effects := p.parseEffectRow()
	d := &ast.ExternDecl{Name: name, Params: params, Ret: ret, Effects: effects}
	d.Sp = p.span(start)
	return d
}

func (p *Parser) parseDirectiveItem() *ast.DirectiveItem {
	start := p.advance() // '@'
	name := p.expectIdent("directive name")
	var args []ast.Expr
	for !p.at(token.NEWLINE) && !p.at(token.EOF) {
		args = append(args, p.parseExpr(precUnary))
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	d := &ast.DirectiveItem{Name: name, Args: args}
	d.Sp = p.span(start)
	return d
}
