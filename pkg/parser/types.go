package parser

import (
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/token"
)

// parseType parses a type expression, including the trailing `?`
// optional-sugar (desugared to `T | Null`) and `A | B` unions.
func (p *Parser) parseType() ast.TypeExpr {
	t := p.parseTypeAtom()
	if p.at(token.QUESTION) {
		start := p.advance()
		u := &ast.UnionType{Alts: []ast.TypeExpr{t, p.nullType(start)}}
		u.Sp = p.span(start)
		t = u
	}
	if p.at(token.PIPEOP) {
		alts := []ast.TypeExpr{t}
		for p.at(token.PIPEOP) {
			p.advance()
			alts = append(alts, p.parseTypeAtom())
		}
		u := &ast.UnionType{Alts: alts}
		u.Sp = t.Span()
		t = u
	}
	return t
}

func (p *Parser) nullType(at token.Token) ast.TypeExpr {
	n := &ast.NamedType{Name: ast.TNull}
	n.Sp = p.span(at)
	return n
}

func (p *Parser) parseTypeAtom() ast.TypeExpr {
	start := p.cur()
	switch start.Kind {
	case token.IDENT:
		name := p.advance().Text
		switch name {
		case "list":
			p.expect(token.LBRACKET, "after 'list'")
			elem := p.parseType()
			p.expect(token.RBRACKET, "to close 'list[...]'")
			lt := &ast.ListType{Elem: elem}
			lt.Sp = p.span(start)
			return lt
		case "map":
			p.expect(token.LBRACKET, "after 'map'")
			key := p.parseType()
			p.expect(token.COMMA, "between map key and value types")
			val := p.parseType()
			p.expect(token.RBRACKET, "to close 'map[...]'")
			mt := &ast.MapType{Key: key, Value: val}
			mt.Sp = p.span(start)
			return mt
		case "set":
			p.expect(token.LBRACKET, "after 'set'")
			elem := p.parseType()
			p.expect(token.RBRACKET, "to close 'set[...]'")
			st := &ast.SetType{Elem: elem}
			st.Sp = p.span(start)
			return st
		case "result":
			p.expect(token.LBRACKET, "after 'result'")
			ok := p.parseType()
			p.expect(token.COMMA, "between result ok and err types")
			errT := p.parseType()
			p.expect(token.RBRACKET, "to close 'result[...]'")
			rt := &ast.ResultType{Ok: ok, Err: errT}
			rt.Sp = p.span(start)
			return rt
		}
		nt := &ast.NamedType{Name: name}
		if p.at(token.LBRACKET) {
			p.advance()
			for !p.at(token.RBRACKET) && !p.at(token.EOF) {
				nt.Args = append(nt.Args, p.parseType())
				if p.at(token.COMMA) {
					p.advance()
					continue
				}
				break
			}
			p.expect(token.RBRACKET, "to close generic type arguments")
		}
		nt.Sp = p.span(start)
		return nt
	case token.LPAREN:
		p.advance()
		var elems []ast.TypeExpr
		for !p.at(token.RPAREN) && !p.at(token.EOF) {
			elems = append(elems, p.parseType())
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RPAREN, "to close tuple type")
		tt := &ast.TupleType{Elems: elems}
		tt.Sp = p.span(start)
		return tt
	case token.KW_FN:
		p.advance()
		p.expect(token.LPAREN, "after 'fn'")
		var params []ast.TypeExpr
		for !p.at(token.RPAREN) && !p.at(token.EOF) {
			params = append(params, p.parseType())
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RPAREN, "to close function parameter types")
		var ret ast.TypeExpr
		if p.at(token.ARROW) {
			p.advance()
			ret = p.parseType()
		}
		ft := &ast.FuncType{Params: params, Ret: ret, Effects: p.parseEffectRow()}
		ft.Sp = p.span(start)
		return ft
	case token.DOTDOT:
		p.advance()
		name := p.expectIdent("row variable name")
		rv := &ast.RowVarType{Name: name}
		rv.Sp = p.span(start)
		return rv
	default:
		p.errorf("UnexpectedToken", "expected a type, found %s", start.Kind)
		p.advance()
		nt := &ast.NamedType{Name: "Null"}
		nt.Sp = p.span(start)
		return nt
	}
}
