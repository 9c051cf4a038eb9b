package parser

import (
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/token"
)

// parseBlock parses statements until the current token is one of the
// given terminator kinds (not consumed) or EOF.
func (p *Parser) parseBlock(terminators ...token.Kind) []ast.Stmt {
	var stmts []ast.Stmt
	p.skipNewlines()
	for !p.atAny(terminators...) && !p.at(token.EOF) {
		s := p.parseStmt()
		if s != nil {
			stmts = append(stmts, s)
		}
		p.skipNewlines()
	}
	return stmts
}

func (p *Parser) atAny(kinds ...token.Kind) bool {
	for _, k := range kinds {
		if p.at(k) {
			return true
		}
	}
	return false
}

func (p *Parser) parseStmt() ast.Stmt {
	switch p.cur().Kind {
	case token.KW_LET:
		return p.parseLetStmt()
	case token.KW_IF:
		return p.parseIfStmt()
	case token.KW_FOR:
		return p.parseForStmt("")
	case token.KW_WHILE:
		return p.parseWhileStmt("")
	case token.KW_LOOP:
		return p.parseLoopStmt("")
	case token.AT:
		return p.parseLabeledStmt()
	case token.KW_MATCH:
		return p.parseMatchStmt()
	case token.KW_RETURN:
		return p.parseReturnStmt()
	case token.KW_HALT:
		start := p.advance()
		v := p.parseExpr(precLowest)
		s := &ast.HaltStmt{Value: v}
		s.Sp = p.span(start)
		return s
	case token.KW_EMIT:
		start := p.advance()
		v := p.parseExpr(precLowest)
		s := &ast.EmitStmt{Value: v}
		s.Sp = p.span(start)
		return s
	case token.KW_DEFER:
		start := p.advance()
		body := p.parseDeferBody()
		s := &ast.DeferStmt{Body: body}
		s.Sp = p.span(start)
		return s
	case token.KW_YIELD:
		start := p.advance()
		v := p.parseExpr(precLowest)
		s := &ast.YieldStmt{Value: v}
		s.Sp = p.span(start)
		return s
	case token.KW_BREAK:
		start := p.advance()
		s := &ast.BreakStmt{}
		if p.at(token.AT) {
			p.advance()
			s.Label = p.expectIdent("label after '@'")
		}
		if !p.atStmtEnd() {
			s.Value = p.parseExpr(precLowest)
		}
		s.Sp = p.span(start)
		return s
	case token.KW_CONTINUE:
		start := p.advance()
		s := &ast.ContinueStmt{}
		if p.at(token.AT) {
			p.advance()
			s.Label = p.expectIdent("label after '@'")
		}
		s.Sp = p.span(start)
		return s
	default:
		start := p.cur()
		e := p.parseExpr(precLowest)
		if s := p.tryParseAssign(start, e); s != nil {
			return s
		}
		s := &ast.ExprStmt{Value: e}
		s.Sp = p.span(start)
		return s
	}
}

// atStmtEnd reports whether the statement parser is positioned at a
// token that cannot begin an expression, signaling a bare (valueless)
// control statement like `break` or `return`.
func (p *Parser) atStmtEnd() bool {
	switch p.cur().Kind {
	case token.NEWLINE, token.EOF, token.KW_END, token.KW_ELSE, token.SEMI:
		return true
	}
	return false
}

func (p *Parser) tryParseAssign(start token.Token, target ast.Expr) ast.Stmt {
	op, ok := assignOps[p.cur().Kind]
	if !ok {
		return nil
	}
	p.advance()
	val := p.parseExpr(precLowest)
	s := &ast.AssignStmt{Target: target, Op: op, Value: val}
	s.Sp = p.span(start)
	return s
}

var assignOps = map[token.Kind]ast.AssignOp{
	token.ASSIGN:    ast.AssignPlain,
	token.PLUSEQ:    ast.AssignAdd,
	token.MINUSEQ:   ast.AssignSub,
	token.STAREQ:    ast.AssignMul,
	token.SLASHEQ:   ast.AssignDiv,
	token.PERCENTEQ: ast.AssignMod,
}

func (p *Parser) parseLetStmt() *ast.LetStmt {
	start := p.advance() // 'let'
	mutable := false
	if p.at(token.KW_MUT) {
		p.advance()
		mutable = true
	}
	pat := p.parsePattern()
	var ty ast.TypeExpr
	if p.at(token.COLON) {
		p.advance()
		ty = p.parseType()
	}
	p.expect(token.ASSIGN, "after let pattern")
	val := p.parseExpr(precLowest)
	s := &ast.LetStmt{Mutable: mutable, Pattern: pat, Type: ty, Value: val}
	s.Sp = p.span(start)
	return s
}

func (p *Parser) parseIfStmt() *ast.IfStmt {
	start := p.advance() // 'if'
	cond := p.parseExpr(precLowest)
	if p.at(token.KW_THEN) {
		p.advance()
	}
	then := p.parseBlock(token.KW_END, token.KW_ELSE)
	var els []ast.Stmt
	if p.at(token.KW_ELSE) {
		p.advance()
		if p.at(token.KW_IF) {
			els = []ast.Stmt{p.parseIfStmt()}
		} else {
			els = p.parseBlock(token.KW_END)
			p.expect(token.KW_END, "to close 'if'")
		}
	} else {
		p.expect(token.KW_END, "to close 'if'")
	}
	s := &ast.IfStmt{Cond: cond, Then: then, Else: els}
	s.Sp = p.span(start)
	return s
}

// parseLabeledStmt handles `@label` prefixes on for/while/loop.
func (p *Parser) parseLabeledStmt() ast.Stmt {
	p.advance() // '@'
	label := p.expectIdent("loop label")
	p.expect(token.COLON, "after loop label")
	switch p.cur().Kind {
	case token.KW_FOR:
		return p.parseForStmt(label)
	case token.KW_WHILE:
		return p.parseWhileStmt(label)
	case token.KW_LOOP:
		return p.parseLoopStmt(label)
	default:
		p.errorf("UnexpectedToken", "expected 'for', 'while' or 'loop' after label, found %s", p.cur().Kind)
		return nil
	}
}

func (p *Parser) parseForStmt(label string) *ast.ForStmt {
	start := p.advance() // 'for'
	pat := p.parsePattern()
	p.expect(token.KW_IN, "after for-loop pattern")
	iter := p.parseExpr(precLowest)
	var filter ast.Expr
	if p.at(token.KW_IF) {
		p.advance()
		filter = p.parseExpr(precLowest)
	}
	if p.at(token.KW_DO) {
		p.advance()
	}
	body := p.parseBlock(token.KW_END)
	p.expect(token.KW_END, "to close 'for'")
	s := &ast.ForStmt{Pattern: pat, Iter: iter, Filter: filter, Label: label, Body: body}
	s.Sp = p.span(start)
	return s
}

func (p *Parser) parseWhileStmt(label string) *ast.WhileStmt {
	start := p.advance() // 'while'
	cond := p.parseExpr(precLowest)
	if p.at(token.KW_DO) {
		p.advance()
	}
	body := p.parseBlock(token.KW_END)
	p.expect(token.KW_END, "to close 'while'")
	s := &ast.WhileStmt{Label: label, Cond: cond, Body: body}
	s.Sp = p.span(start)
	return s
}

func (p *Parser) parseLoopStmt(label string) *ast.LoopStmt {
	start := p.advance() // 'loop'
	body := p.parseBlock(token.KW_END)
	p.expect(token.KW_END, "to close 'loop'")
	s := &ast.LoopStmt{Label: label, Body: body}
	s.Sp = p.span(start)
	return s
}

func (p *Parser) parseMatchStmt() *ast.MatchStmt {
	start := p.advance() // 'match'
	subject := p.parseExpr(precLowest)
	p.skipNewlines()
	var arms []ast.MatchArm
	for !p.at(token.KW_END) && !p.at(token.EOF) {
		pat := p.parsePattern()
		var guard ast.Expr
		if p.at(token.KW_IF) {
			p.advance()
			guard = p.parseExpr(precLowest)
		}
		p.expect(token.FATARROW, "after match arm pattern")
		body := p.parseArmBody()
		arms = append(arms, ast.MatchArm{Pattern: pat, Guard: guard, Body: body})
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'match'")
	s := &ast.MatchStmt{Subject: subject, Arms: arms}
	s.Sp = p.span(start)
	return s
}

// parseArmBody parses a match-statement arm body: one expression, or
// one assignment, ending at the end of the line. A multi-statement
// block is not accepted as an arm body, since match arms have no
// individual closing keyword.
func (p *Parser) parseArmBody() []ast.Stmt {
	start := p.cur()
	e := p.parseExpr(precLowest)
	if s := p.tryParseAssign(start, e); s != nil {
		return []ast.Stmt{s}
	}
	es := &ast.ExprStmt{Value: e}
	es.Sp = p.span(start)
	return []ast.Stmt{es}
}

func (p *Parser) parseReturnStmt() *ast.ReturnStmt {
	start := p.advance() // 'return'
	s := &ast.ReturnStmt{}
	if !p.atStmtEnd() {
		s.Value = p.parseExpr(precLowest)
	}
	s.Sp = p.span(start)
	return s
}

// parseDeferBody parses either `defer expr` or `defer do ... end`.
func (p *Parser) parseDeferBody() []ast.Stmt {
	if p.at(token.KW_DO) {
		p.advance()
		body := p.parseBlock(token.KW_END)
		p.expect(token.KW_END, "to close 'defer'")
		return body
	}
	start := p.cur()
	e := p.parseExpr(precLowest)
	es := &ast.ExprStmt{Value: e}
	es.Sp = p.span(start)
	return []ast.Stmt{es}
}
