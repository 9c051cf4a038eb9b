package parser

import (
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/lexer"
	"github.com/lumen-lang/lumen/pkg/token"
)

// parseInterpString splits a STRING token's decoded text on its
// (brace-depth-balanced) `{expr}` segments and re-lexes/re-parses each
// expression segment independently, since pkg/lexer's lexString leaves
// interpolation segments as raw text rather than sub-tokenizing them
// back into a single interpolated-string expression.
func (p *Parser) parseInterpString(tok token.Token) ast.Expr {
	segs := splitInterpSegments(tok.Text)
	if len(segs) == 1 && segs[0].isText {
		lit := &ast.Literal{Kind: ast.LitString, Text: segs[0].text}
		lit.Sp = p.span(tok)
		return lit
	}

	is := &ast.InterpString{}
	is.Sp = p.span(tok)
	for _, seg := range segs {
		if seg.isText {
			is.Segments = append(is.Segments, ast.InterpSegment{Text: seg.text})
			continue
		}
		is.Segments = append(is.Segments, ast.InterpSegment{Expr: p.parseSubExpr(seg.text, tok)})
	}
	return is
}

// parseSubExpr lexes and parses src as a standalone expression, used
// for one `{expr}` interpolation segment. Diagnostics from the sub-pass
// are merged into the parent's bag so interpolation errors surface
// exactly like any other syntax error.
func (p *Parser) parseSubExpr(src string, owner token.Token) ast.Expr {
	subBag := diagnostic.NewBag()
	sub := lexer.New(p.file, src, subBag)
	toks := sub.Tokenize()
	subParser := New(p.file, toks, subBag)
	expr := subParser.parseExpr(precLowest)
	p.bag.Merge(subBag)
	return expr
}

type interpSeg struct {
	isText bool
	text   string
}

// splitInterpSegments walks raw (already escape-decoded by the lexer)
// string text, splitting it into literal-text and `{expr}` segments by
// tracking brace depth, mirroring the depth tracking pkg/lexer used to
// consume the literal as a single token.
func splitInterpSegments(raw string) []interpSeg {
	var segs []interpSeg
	var cur []byte
	depth := 0
	var exprStart int
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '{' && depth == 0:
			if len(cur) > 0 {
				segs = append(segs, interpSeg{isText: true, text: string(cur)})
				cur = nil
			}
			depth = 1
			exprStart = i + 1
		case c == '{' && depth > 0:
			depth++
		case c == '}' && depth == 1:
			depth = 0
			segs = append(segs, interpSeg{text: raw[exprStart:i]})
		case c == '}' && depth > 1:
			depth--
		default:
			if depth == 0 {
				cur = append(cur, c)
			}
		}
	}
	if len(cur) > 0 {
		segs = append(segs, interpSeg{isText: true, text: string(cur)})
	}
	if len(segs) == 0 {
		segs = append(segs, interpSeg{isText: true, text: ""})
	}
	return segs
}
