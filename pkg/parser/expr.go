package parser

import (
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/token"
)

// spanFrom builds a span starting at start's position and ending at the
// most recently consumed token, used to cover a node built from parts
// parsed after the initial Span() was captured.
func (p *Parser) spanFrom(start diagnostic.Span) diagnostic.Span {
	end := p.toks[p.pos-1]
	return diagnostic.Span{Start: start.Start, End: end.End, Line: start.Line, Col: start.Col, File: p.file}
}

// Precedence levels, lowest to highest. Binary
// operators at the same level are left-associative except power, which
// is right-associative (handled by passing a lower right-binding
// precedence for STARSTAR in parseExpr's recursive call).
const (
	precLowest = iota
	precOr
	precAnd
	precEquality
	precComparison
	precBitOr
	precBitXor
	precBitAnd
	precShift
	precRange
	precConcat
	precAdditive
	precMultiplicative
	precPower
	precUnary
	precPostfix
)

var binPrec = map[token.Kind]int{
	token.OROR: precOr, token.KW_OR: precOr,
	token.ANDAND: precAnd, token.KW_AND: precAnd,
	token.EQ: precEquality, token.NEQ: precEquality,
	token.LT: precComparison, token.LE: precComparison,
	token.GT: precComparison, token.GE: precComparison,
	token.KW_IN:  precComparison,
	token.PIPEOP: precBitOr,
	token.CARET:  precBitXor,
	token.AMP:    precBitAnd,
	token.SHL:    precShift, token.SHR: precShift,
	token.CONCAT: precConcat,
	token.PLUS:   precAdditive, token.MINUS: precAdditive,
	token.STAR: precMultiplicative, token.SLASH: precMultiplicative,
	token.SLASHSLASH: precMultiplicative, token.PERCENT: precMultiplicative,
	token.STARSTAR: precPower,
}

var binOp = map[token.Kind]ast.BinaryOp{
	token.PLUS: ast.BAdd, token.MINUS: ast.BSub, token.STAR: ast.BMul,
	token.SLASH: ast.BDiv, token.SLASHSLASH: ast.BFloorDiv, token.PERCENT: ast.BMod,
	token.STARSTAR: ast.BPow, token.CONCAT: ast.BConcat,
	token.AMP: ast.BBitAnd, token.PIPEOP: ast.BBitOr, token.CARET: ast.BBitXor,
	token.SHL: ast.BShl, token.SHR: ast.BShr,
	token.EQ: ast.BEq, token.NEQ: ast.BNeq, token.LT: ast.BLt, token.LE: ast.BLe,
	token.GT: ast.BGt, token.GE: ast.BGe,
	token.ANDAND: ast.BAnd, token.KW_AND: ast.BAnd,
	token.OROR: ast.BOr, token.KW_OR: ast.BOr,
	token.KW_IN: ast.BIn,
}

// parseExpr parses an expression binding at least as tightly as
// minPrec, via precedence climbing.
func (p *Parser) parseExpr(minPrec int) ast.Expr {
	left := p.parseUnary()
	for {
		if p.at(token.DOTDOT) || p.at(token.DOTDOTEQ) {
			if precRange < minPrec {
				break
			}
			start := left.Span()
			closed := p.at(token.DOTDOTEQ)
			p.advance()
			var hi ast.Expr
			if !p.atRangeEnd() {
				hi = p.parseExpr(precRange + 1)
			}
			r := &ast.RangeExpr{Low: left, High: hi, Closed: closed}
			r.Sp = p.spanFrom(start)
			left = r
			continue
		}
		if p.at(token.KW_IS) {
			if precComparison < minPrec {
				break
			}
			start := left.Span()
			p.advance()
			ty := p.parseType()
			t := &ast.TypeTest{Target: left, Type: ty}
			t.Sp = p.spanFrom(start)
			left = t
			continue
		}
		op, ok := binOp[p.cur().Kind]
		if !ok {
			break
		}
		prec, _ := binPrec[p.cur().Kind]
		if prec < minPrec {
			break
		}
		start := left.Span()
		p.advance()
		nextMin := prec + 1
		if op == ast.BPow {
			nextMin = prec // right-associative
		}
		right := p.parseExpr(nextMin)
		be := &ast.BinaryExpr{Op: op, Left: left, Right: right}
		be.Sp = p.spanFrom(start)
		left = be
	}
	return left
}

func (p *Parser) atRangeEnd() bool {
	switch p.cur().Kind {
	case token.RBRACKET, token.RPAREN, token.COMMA, token.NEWLINE, token.EOF, token.KW_END, token.KW_DO:
		return true
	}
	return false
}

func (p *Parser) parseUnary() ast.Expr {
	start := p.cur()
	switch start.Kind {
	case token.MINUS:
		p.advance()
		operand := p.parseExpr(precUnary)
		u := &ast.UnaryExpr{Op: ast.UnaryNeg, Operand: operand}
		u.Sp = p.span(start)
		return p.parsePostfix(u)
	case token.BANG:
		p.advance()
		operand := p.parseExpr(precUnary)
		u := &ast.UnaryExpr{Op: ast.UnaryNot, Operand: operand}
		u.Sp = p.span(start)
		return p.parsePostfix(u)
	case token.KW_NOT:
		p.advance()
		operand := p.parseExpr(precUnary)
		u := &ast.UnaryExpr{Op: ast.UnaryNot, Operand: operand}
		u.Sp = p.span(start)
		return p.parsePostfix(u)
	case token.TILDE:
		p.advance()
		operand := p.parseExpr(precUnary)
		u := &ast.UnaryExpr{Op: ast.UnaryBitNot, Operand: operand}
		u.Sp = p.span(start)
		return p.parsePostfix(u)
	default:
		return p.parsePostfix(p.parsePrimary())
	}
}

// parsePostfix applies call/index/field/pipe/compose/null-safe/cast
// chains after a primary expression.
func (p *Parser) parsePostfix(e ast.Expr) ast.Expr {
	start := e.Span()
	for {
		switch p.cur().Kind {
		case token.DOT:
			p.advance()
			field := p.expectIdent("field name after '.'")
			fa := &ast.FieldAccess{Target: e, Field: field}
			fa.Sp = p.spanFrom(start)
			e = fa
		case token.QUESTION:
			if p.peekAt(1).Kind == token.DOT {
				p.advance()
				p.advance()
				field := p.expectIdent("field name after '?.'")
				n := &ast.NullSafeAccess{Target: e, Field: field}
				n.Sp = p.spanFrom(start)
				e = n
				continue
			}
			if p.peekAt(1).Kind == token.LBRACKET {
				p.advance()
				p.advance()
				idx := p.parseExpr(precLowest)
				p.expect(token.RBRACKET, "to close '?[...]'")
				n := &ast.NullSafeIndex{Target: e, Index: idx}
				n.Sp = p.spanFrom(start)
				e = n
				continue
			}
			return e
		case token.QQUESTION:
			p.advance()
			right := p.parseExpr(precUnary)
			n := &ast.NullCoalesce{Left: e, Right: right}
			n.Sp = p.spanFrom(start)
			e = n
		case token.BANG:
			p.advance()
			n := &ast.NullAssert{Target: e}
			n.Sp = p.spanFrom(start)
			e = n
		case token.KW_AS:
			p.advance()
			ty := p.parseType()
			n := &ast.TypeCast{Target: e, Type: ty}
			n.Sp = p.spanFrom(start)
			e = n
		case token.LBRACKET:
			p.advance()
			idx := p.parseExpr(precLowest)
			p.expect(token.RBRACKET, "to close index expression")
			n := &ast.IndexExpr{Target: e, Index: idx}
			n.Sp = p.spanFrom(start)
			e = n
		case token.LPAREN:
			args := p.parseCallArgs()
			c := &ast.CallExpr{Callee: e, Args: args}
			c.Sp = p.spanFrom(start)
			e = c
		case token.PIPE:
			p.advance()
			callee := p.parsePostfix(p.parsePrimary())
			call, ok := callee.(*ast.CallExpr)
			if !ok {
				call = &ast.CallExpr{Callee: callee}
			}
			pe := &ast.PipeExpr{Left: e, Call: call}
			pe.Sp = p.spanFrom(start)
			e = pe
		case token.COMPOSE:
			p.advance()
			right := p.parseExpr(precUnary)
			ce := &ast.ComposeExpr{Left: e, Right: right}
			ce.Sp = p.spanFrom(start)
			e = ce
		default:
			return e
		}
	}
}

func (p *Parser) parseCallArgs() []ast.Arg {
	p.advance() // '('
	var args []ast.Arg
	for !p.at(token.RPAREN) && !p.at(token.EOF) {
		if p.at(token.IDENT) && p.peekAt(1).Kind == token.COLON {
			name := p.advance().Text
			p.advance() // ':'
			args = append(args, ast.Arg{Name: name, Value: p.parseExpr(precLowest)})
		} else {
			args = append(args, ast.Arg{Value: p.parseExpr(precLowest)})
		}
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RPAREN, "to close call arguments")
	return args
}

func (p *Parser) parsePrimary() ast.Expr {
	start := p.cur()
	switch start.Kind {
	case token.INT, token.BIGINT, token.FLOAT, token.RAW_STRING, token.BYTES, token.KW_TRUE, token.KW_FALSE, token.KW_NULL:
		lit := p.parseLiteralToken()
		return lit
	case token.STRING:
		return p.parseInterpString(p.advance())
	case token.IDENT, token.KW_OK, token.KW_ERR:
		name := p.advance().Text
		if name == "_" {
			id := &ast.Ident{Name: name}
			id.Sp = p.span(start)
			return id
		}
		if p.at(token.LBRACE) && p.looksLikeRecordLit() {
			return p.parseRecordLitTail(start, name)
		}
		id := &ast.Ident{Name: name}
		id.Sp = p.span(start)
		return id
	case token.LPAREN:
		return p.parseParenOrTuple(start)
	case token.LBRACKET:
		return p.parseListOrComprehension(start)
	case token.LBRACE:
		return p.parseMapOrSetLit(start)
	case token.KW_FN:
		return p.parseLambda(start)
	case token.KW_IF:
		return p.parseIfExpr(start)
	case token.KW_WHEN:
		return p.parseWhenExpr(start)
	case token.KW_MATCH:
		return p.parseMatchExpr(start)
	case token.KW_PERFORM:
		return p.parsePerformExpr(start)
	case token.KW_HANDLE:
		return p.parseHandleExpr(start)
	case token.KW_RESUME:
		p.advance()
		p.expect(token.LPAREN, "after 'resume'")
		v := p.parseExpr(precLowest)
		p.expect(token.RPAREN, "to close 'resume(...)'")
		r := &ast.ResumeExpr{Value: v}
		r.Sp = p.span(start)
		return r
	case token.KW_AWAIT:
		p.advance()
		v := p.parseExpr(precUnary)
		a := &ast.AwaitExpr{Value: v}
		a.Sp = p.span(start)
		return a
	case token.KW_SPAWN:
		p.advance()
		v := p.parseExpr(precUnary)
		s := &ast.SpawnExpr{Value: v}
		s.Sp = p.span(start)
		return s
	case token.KW_TRY:
		p.advance()
		v := p.parseExpr(precUnary)
		t := &ast.TryExpr{Value: v}
		t.Sp = p.span(start)
		return t
	case token.KW_COMPTIME:
		p.advance()
		v := p.parseExpr(precUnary)
		c := &ast.ComptimeExpr{Value: v}
		c.Sp = p.span(start)
		return c
	default:
		p.errorf("UnexpectedToken", "expected an expression, found %s", start.Kind)
		p.advance()
		id := &ast.Ident{Name: "_"}
		id.Sp = p.span(start)
		return id
	}
}

// looksLikeRecordLit disambiguates `Name { field: expr }` from a bare
// identifier followed by a block-opening `{` belonging to the
// surrounding construct (e.g. a lambda/if body is never brace-delimited
// in Lumen, so any IDENT immediately followed by `{` here is a record
// literal unless the brace's first token looks like a set/map element).
func (p *Parser) looksLikeRecordLit() bool {
	if p.peekAt(1).Kind == token.RBRACE {
		return true
	}
	return p.peekAt(1).Kind == token.IDENT && p.peekAt(2).Kind == token.COLON
}

func (p *Parser) parseRecordLitTail(start token.Token, name string) ast.Expr {
	p.advance() // '{'
	var fields []ast.RecordField2
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		fn := p.expectIdent("record literal field name")
		p.expect(token.COLON, "after record literal field name")
		fields = append(fields, ast.RecordField2{Name: fn, Value: p.parseExpr(precLowest)})
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RBRACE, "to close record literal")
	rl := &ast.RecordLit{Type: name, Fields: fields}
	rl.Sp = p.span(start)
	return rl
}

// parseParenOrTuple disambiguates a grouped expression `(e)` from a
// tuple literal `(a, b, ...)` on a top-level comma.
func (p *Parser) parseParenOrTuple(start token.Token) ast.Expr {
	p.advance() // '('
	if p.at(token.RPAREN) {
		p.advance()
		t := &ast.TupleLit{}
		t.Sp = p.span(start)
		return t
	}
	first := p.parseExpr(precLowest)
	if !p.at(token.COMMA) {
		p.expect(token.RPAREN, "to close grouped expression")
		return first
	}
	elems := []ast.Expr{first}
	for p.at(token.COMMA) {
		p.advance()
		if p.at(token.RPAREN) {
			break
		}
		elems = append(elems, p.parseExpr(precLowest))
	}
	p.expect(token.RPAREN, "to close tuple literal")
	t := &ast.TupleLit{Elems: elems}
	t.Sp = p.span(start)
	return t
}

func (p *Parser) parseListOrComprehension(start token.Token) ast.Expr {
	p.advance() // '['
	if p.at(token.RBRACKET) {
		p.advance()
		l := &ast.ListLit{}
		l.Sp = p.span(start)
		return l
	}
	first := p.parseExpr(precLowest)
	if p.at(token.KW_FOR) {
		p.advance()
		pat := p.parsePattern()
		p.expect(token.KW_IN, "after comprehension pattern")
		iter := p.parseExpr(precLowest)
		var filter ast.Expr
		if p.at(token.KW_IF) {
			p.advance()
			filter = p.parseExpr(precLowest)
		}
		p.expect(token.RBRACKET, "to close list comprehension")
		c := &ast.Comprehension{Kind: ast.CompList, Value: first, Pattern: pat, Iter: iter, Filter: filter}
		c.Sp = p.span(start)
		return c
	}
	elems := []ast.Expr{first}
	for p.at(token.COMMA) {
		p.advance()
		if p.at(token.RBRACKET) {
			break
		}
		elems = append(elems, p.parseExpr(precLowest))
	}
	p.expect(token.RBRACKET, "to close list literal")
	l := &ast.ListLit{Elems: elems}
	l.Sp = p.span(start)
	return l
}

// parseMapOrSetLit disambiguates `{k: v, ...}` (map) from `{a, b, ...}`
// (set) on whether the first element is followed by a colon, and
// additionally recognizes map/set comprehensions.
func (p *Parser) parseMapOrSetLit(start token.Token) ast.Expr {
	p.advance() // '{'
	if p.at(token.RBRACE) {
		p.advance()
		m := &ast.MapLit{}
		m.Sp = p.span(start)
		return m
	}
	firstKeyOrElem := p.parseExpr(precLowest)
	if p.at(token.COLON) {
		p.advance()
		firstVal := p.parseExpr(precLowest)
		if p.at(token.KW_FOR) {
			p.advance()
			pat := p.parsePattern()
			p.expect(token.KW_IN, "after comprehension pattern")
			iter := p.parseExpr(precLowest)
			var filter ast.Expr
			if p.at(token.KW_IF) {
				p.advance()
				filter = p.parseExpr(precLowest)
			}
			p.expect(token.RBRACE, "to close map comprehension")
			c := &ast.Comprehension{Kind: ast.CompMap, Key: firstKeyOrElem, Value: firstVal, Pattern: pat, Iter: iter, Filter: filter}
			c.Sp = p.span(start)
			return c
		}
		entries := []ast.MapEntry{{Key: firstKeyOrElem, Value: firstVal}}
		for p.at(token.COMMA) {
			p.advance()
			if p.at(token.RBRACE) {
				break
			}
			k := p.parseExpr(precLowest)
			p.expect(token.COLON, "after map entry key")
			v := p.parseExpr(precLowest)
			entries = append(entries, ast.MapEntry{Key: k, Value: v})
		}
		p.expect(token.RBRACE, "to close map literal")
		m := &ast.MapLit{Entries: entries}
		m.Sp = p.span(start)
		return m
	}
	if p.at(token.KW_FOR) {
		p.advance()
		pat := p.parsePattern()
		p.expect(token.KW_IN, "after comprehension pattern")
		iter := p.parseExpr(precLowest)
		var filter ast.Expr
		if p.at(token.KW_IF) {
			p.advance()
			filter = p.parseExpr(precLowest)
		}
		p.expect(token.RBRACE, "to close set comprehension")
		c := &ast.Comprehension{Kind: ast.CompSet, Value: firstKeyOrElem, Pattern: pat, Iter: iter, Filter: filter}
		c.Sp = p.span(start)
		return c
	}
	elems := []ast.Expr{firstKeyOrElem}
	for p.at(token.COMMA) {
		p.advance()
		if p.at(token.RBRACE) {
			break
		}
		elems = append(elems, p.parseExpr(precLowest))
	}
	p.expect(token.RBRACE, "to close set literal")
	s := &ast.SetLit{Elems: elems}
	s.Sp = p.span(start)
	return s
}

func (p *Parser) parseLambda(start token.Token) ast.Expr {
	p.advance() // 'fn'
	params := p.parseParams()
	var ret ast.TypeExpr
	if p.at(token.ARROW) {
		p.advance()
		ret = p.parseType()
	}
	l := &ast.LambdaExpr{Params: params, Ret: ret}
	if p.at(token.FATARROW) {
		p.advance()
		l.Expr = p.parseExpr(precLowest)
	} else if p.at(token.KW_DO) {
		p.advance()
		l.Body = p.parseBlock(token.KW_END)
		p.expect(token.KW_END, "to close lambda body")
	} else {
		p.errorf("UnexpectedToken", "expected '=>' or 'do' in lambda, found %s", p.cur().Kind)
	}
	l.Sp = p.span(start)
	return l
}

func (p *Parser) parseIfExpr(start token.Token) ast.Expr {
	p.advance() // 'if'
	cond := p.parseExpr(precLowest)
	p.expect(token.KW_THEN, "after if-expression condition")
	then := p.parseExpr(precLowest)
	p.expect(token.KW_ELSE, "in if-expression (both branches required)")
	els := p.parseExpr(precLowest)
	e := &ast.IfExpr{Cond: cond, Then: then, Else: els}
	e.Sp = p.span(start)
	return e
}

func (p *Parser) parseWhenExpr(start token.Token) ast.Expr {
	p.advance() // 'when'
	p.skipNewlines()
	var arms []ast.WhenArm
	for !p.at(token.KW_END) && !p.at(token.EOF) {
		if p.at(token.KW_ELSE) {
			p.advance()
			p.expect(token.FATARROW, "after 'else' in 'when'")
			arms = append(arms, ast.WhenArm{Body: p.parseExpr(precLowest)})
		} else {
			cond := p.parseExpr(precLowest)
			p.expect(token.FATARROW, "after 'when' arm condition")
			arms = append(arms, ast.WhenArm{Cond: cond, Body: p.parseExpr(precLowest)})
		}
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'when'")
	e := &ast.WhenExpr{Arms: arms}
	e.Sp = p.span(start)
	return e
}

func (p *Parser) parseMatchExpr(start token.Token) ast.Expr {
	p.advance() // 'match'
	subject := p.parseExpr(precLowest)
	p.skipNewlines()
	var arms []ast.MatchArmExpr
	for !p.at(token.KW_END) && !p.at(token.EOF) {
		pat := p.parsePattern()
		var guard ast.Expr
		if p.at(token.KW_IF) {
			p.advance()
			guard = p.parseExpr(precLowest)
		}
		p.expect(token.FATARROW, "after match-expression arm pattern")
		body := p.parseExpr(precLowest)
		arms = append(arms, ast.MatchArmExpr{Pattern: pat, Guard: guard, Body: body})
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'match'")
	e := &ast.MatchExpr{Subject: subject, Arms: arms}
	e.Sp = p.span(start)
	return e
}

func (p *Parser) parsePerformExpr(start token.Token) ast.Expr {
	p.advance() // 'perform'
	effect := p.expectIdent("effect name after 'perform'")
	p.expect(token.DOT, "between effect and operation name")
	op := p.expectIdent("operation name after 'perform Effect.'")
	var args []ast.Expr
	if p.at(token.LPAREN) {
		p.advance()
		for !p.at(token.RPAREN) && !p.at(token.EOF) {
			args = append(args, p.parseExpr(precLowest))
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RPAREN, "to close 'perform' arguments")
	}
	e := &ast.PerformExpr{Effect: effect, Op: op, Args: args}
	e.Sp = p.span(start)
	return e
}

func (p *Parser) parseHandleExpr(start token.Token) ast.Expr {
	p.advance() // 'handle'
	body := p.parseBlock(token.KW_WITH)
	p.expect(token.KW_WITH, "after 'handle' body")
	p.skipNewlines()
	var clauses []ast.HandleClause
	for !p.at(token.KW_END) && !p.at(token.EOF) {
		effect := p.expectIdent("effect name in handle clause")
		p.expect(token.DOT, "between effect and operation name")
		op := p.expectIdent("operation name in handle clause")
		params := p.parseParams()
		p.expect(token.FATARROW, "after handle clause parameters")
		cbody := p.parseClauseBody()
		clauses = append(clauses, ast.HandleClause{Effect: effect, Op: op, Params: params, Body: cbody})
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'handle'")
	e := &ast.HandleExpr{Body: body, Clauses: clauses}
	e.Sp = p.span(start)
	return e
}
