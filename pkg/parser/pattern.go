package parser

import (
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/token"
)

// parsePattern parses a full pattern, including trailing `| alt` and
// `if guard` forms (lowest precedence pattern combinators).
func (p *Parser) parsePattern() ast.Pattern {
	pat := p.parsePatternOr()
	if p.at(token.KW_IF) {
		start := p.cur()
		p.advance()
		cond := p.parseExpr(precLowest)
		g := &ast.GuardPattern{Inner: pat, Cond: cond}
		g.Sp = p.span(start)
		return g
	}
	return pat
}

func (p *Parser) parsePatternOr() ast.Pattern {
	first := p.parsePatternAtom()
	if !p.at(token.PIPEOP) {
		return first
	}
	alts := []ast.Pattern{first}
	for p.at(token.PIPEOP) {
		p.advance()
		alts = append(alts, p.parsePatternAtom())
	}
	o := &ast.OrPattern{Alts: alts}
	o.Sp = first.Span()
	return o
}

func (p *Parser) parsePatternAtom() ast.Pattern {
	start := p.cur()
	switch start.Kind {
	case token.IDENT:
		if start.Text == "_" {
			p.advance()
			w := &ast.WildcardPattern{}
			w.Sp = p.span(start)
			return w
		}
		// Could be a bare binding, a typed binding `name: Type`, a
		// record pattern `Name { ... }`, or a variant pattern
		// `Name.Variant(...)` / `Name.Variant { ... }`.
		name := p.advance().Text
		if p.at(token.COLON) {
			p.advance()
			ty := p.parseType()
			tp := &ast.TypedIdentPattern{Name: name, Type: ty}
			tp.Sp = p.span(start)
			return tp
		}
		if p.at(token.DOT) {
			p.advance()
			variant := p.expectIdent("variant name")
			return p.parseVariantPatternTail(start, name, variant)
		}
		if p.at(token.LBRACE) {
			return p.parseRecordPatternTail(start, name)
		}
		ip := &ast.IdentPattern{Name: name}
		ip.Sp = p.span(start)
		return ip
	case token.LBRACKET:
		p.advance()
		var elems []ast.Pattern
		rest := ""
		hasRest := false
		for !p.at(token.RBRACKET) && !p.at(token.EOF) {
			if p.at(token.DOTDOT) {
				p.advance()
				hasRest = true
				if p.at(token.IDENT) {
					rest = p.advance().Text
				} else {
					rest = "_"
				}
				break
			}
			elems = append(elems, p.parsePattern())
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RBRACKET, "to close list pattern")
		lp := &ast.ListPattern{Elems: elems, Rest: rest, HasRest: hasRest}
		lp.Sp = p.span(start)
		return lp
	case token.LPAREN:
		p.advance()
		var elems []ast.Pattern
		for !p.at(token.RPAREN) && !p.at(token.EOF) {
			elems = append(elems, p.parsePattern())
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RPAREN, "to close tuple pattern")
		tp := &ast.TuplePattern{Elems: elems}
		tp.Sp = p.span(start)
		return tp
	case token.INT, token.BIGINT, token.FLOAT, token.STRING, token.RAW_STRING,
		token.BYTES, token.KW_TRUE, token.KW_FALSE, token.KW_NULL:
		lit := p.parseLiteralToken()
		if p.at(token.DOTDOT) || p.at(token.DOTDOTEQ) {
			closed := p.at(token.DOTDOTEQ)
			p.advance()
			hi := p.parseLiteralToken()
			rp := &ast.RangePattern{Low: lit, High: hi, Closed: closed}
			rp.Sp = p.span(start)
			return rp
		}
		lp := &ast.LiteralPattern{Value: lit}
		lp.Sp = p.span(start)
		return lp
	case token.MINUS:
		p.advance()
		lit := p.parseLiteralToken()
		lit.Text = "-" + lit.Text
		lp := &ast.LiteralPattern{Value: lit}
		lp.Sp = p.span(start)
		return lp
	default:
		p.errorf("UnexpectedToken", "expected a pattern, found %s", start.Kind)
		p.advance()
		w := &ast.WildcardPattern{}
		w.Sp = p.span(start)
		return w
	}
}

func (p *Parser) parseLiteralToken() *ast.Literal {
	t := p.advance()
	var kind ast.LiteralKind
	switch t.Kind {
	case token.INT:
		kind = ast.LitInt
	case token.BIGINT:
		kind = ast.LitBigInt
	case token.FLOAT:
		kind = ast.LitFloat
	case token.STRING:
		kind = ast.LitString
	case token.RAW_STRING:
		kind = ast.LitRawString
	case token.BYTES:
		kind = ast.LitBytes
	case token.KW_TRUE, token.KW_FALSE:
		kind = ast.LitBool
	case token.KW_NULL:
		kind = ast.LitNull
	}
	lit := &ast.Literal{Kind: kind, Text: t.Text}
	lit.Sp = p.span(t)
	return lit
}

func (p *Parser) parseVariantPatternTail(start token.Token, enum, variant string) ast.Pattern {
	vp := &ast.VariantPattern{Enum: enum, Variant: variant}
	if p.at(token.LPAREN) {
		p.advance()
		for !p.at(token.RPAREN) && !p.at(token.EOF) {
			vp.Payload = append(vp.Payload, p.parsePattern())
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RPAREN, "to close variant pattern payload")
	} else if p.at(token.LBRACE) {
		p.advance()
		for !p.at(token.RBRACE) && !p.at(token.EOF) {
			fn := p.expectIdent("variant field name")
			p.expect(token.COLON, "after variant field name")
			vp.Fields = append(vp.Fields, ast.FieldPattern{Name: fn, Pattern: p.parsePattern()})
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RBRACE, "to close variant pattern fields")
	}
	vp.Sp = p.span(start)
	return vp
}

func (p *Parser) parseRecordPatternTail(start token.Token, typeName string) ast.Pattern {
	p.advance() // '{'
	rp := &ast.RecordPattern{Type: typeName}
	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		if p.at(token.DOTDOT) {
			p.advance()
			rp.Rest = true
			break
		}
		fn := p.expectIdent("record pattern field name")
		var fp ast.Pattern
		if p.at(token.COLON) {
			p.advance()
			fp = p.parsePattern()
		} else {
			ip := &ast.IdentPattern{Name: fn}
			fp = ip
		}
		rp.Fields = append(rp.Fields, ast.FieldPattern{Name: fn, Pattern: fp})
		if p.at(token.COMMA) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RBRACE, "to close record pattern")
	rp.Sp = p.span(start)
	return rp
}
