package lower

import (
	"strconv"

	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/value"
)

// bindPatternFromReg binds an irrefutable pattern's names against the
// value in src, without emitting any test. Used by let, for, and
// comprehension bindings; refutable forms reaching here were already
// rejected by the type checker, so they only raise a lowering error
// as a backstop.
func (l *Lowerer) bindPatternFromReg(c *cellCtx, p ast.Pattern, src uint16) {
	switch pt := p.(type) {
	case *ast.WildcardPattern:
	case *ast.IdentPattern:
		dst := c.bind(pt.Name)
		c.b.Emit(lir.ABC(lir.OpMove, dst, src, 0))
	case *ast.TypedIdentPattern:
		dst := c.bind(pt.Name)
		c.b.Emit(lir.ABC(lir.OpMove, dst, src, 0))
	case *ast.TuplePattern:
		for i, el := range pt.Elems {
			er := c.alloc()
			c.b.Emit(lir.ABC(lir.OpGetTuple, er, src, uint16(i)))
			l.bindPatternFromReg(c, el, er)
		}
	case *ast.RecordPattern:
		for _, f := range pt.Fields {
			fr := c.alloc()
			nameIdx := l.mod.AddString(f.Name)
			c.b.Emit(lir.ABC(lir.OpGetField, fr, src, uint16(nameIdx)))
			l.bindPatternFromReg(c, f.Pattern, fr)
		}
	case *ast.ListPattern:
		l.bindListElems(c, pt, src)
	case *ast.VariantPattern:
		l.bindVariantPayload(c, pt, src)
	default:
		l.errorf(p.Span(), "RefutablePattern", "this pattern can fail and cannot be used in a binding position")
	}
}

func (l *Lowerer) bindListElems(c *cellCtx, pt *ast.ListPattern, src uint16) {
	for i, el := range pt.Elems {
		er := c.alloc()
		ir := c.alloc()
		c.b.Emit(lir.ABxForm(lir.OpLoadK, ir, l.mod.AddConst(value.Int(int64(i)))))
		c.b.Emit(lir.ABC(lir.OpGetIndex, er, src, ir))
		l.bindPatternFromReg(c, el, er)
	}
	if pt.HasRest && pt.Rest != "" && pt.Rest != "_" {
		rest := c.alloc()
		c.b.Emit(lir.ABC(lir.OpMove, rest+1, src, 0))
		from := c.allocBlock(1)
		c.b.Emit(lir.ABxForm(lir.OpLoadK, from, l.mod.AddConst(value.Int(int64(len(pt.Elems))))))
		c.b.Emit(lir.ABC(lir.OpIntrinsic, rest, uint16(mustIntrinsicID("slice")), 2))
		c.bindTo(pt.Rest, rest)
	}
}

func (l *Lowerer) bindVariantPayload(c *cellCtx, pt *ast.VariantPattern, src uint16) {
	for i, el := range pt.Payload {
		fr := c.alloc()
		nameIdx := l.mod.AddString(strconv.Itoa(i))
		c.b.Emit(lir.ABC(lir.OpGetField, fr, src, uint16(nameIdx)))
		l.bindPatternFromReg(c, el, fr)
	}
	for _, f := range pt.Fields {
		fr := c.alloc()
		nameIdx := l.mod.AddString(f.Name)
		c.b.Emit(lir.ABC(lir.OpGetField, fr, src, uint16(nameIdx)))
		l.bindPatternFromReg(c, f.Pattern, fr)
	}
}

// emitPatternTest emits the test sequence for one match arm: each check
// lands its boolean in a freshly allocated temporary, followed by Test
// and a conditional jump to failLabel. On fall-through the pattern
// matched and all its names are bound in the current scope.
func (l *Lowerer) emitPatternTest(c *cellCtx, p ast.Pattern, subj uint16, failLabel int) {
	switch pt := p.(type) {
	case *ast.WildcardPattern:
	case *ast.IdentPattern:
		dst := c.bind(pt.Name)
		c.b.Emit(lir.ABC(lir.OpMove, dst, subj, 0))
	case *ast.TypedIdentPattern:
		t := c.alloc()
		typeIdx := l.mod.AddString(pt.Type.String())
		c.b.Emit(lir.ABC(lir.OpIs, t, subj, uint16(typeIdx)))
		c.b.Emit(lir.ABC(lir.OpTest, t, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
		dst := c.bind(pt.Name)
		c.b.Emit(lir.ABC(lir.OpMove, dst, subj, 0))
	case *ast.LiteralPattern:
		k := l.lowerLiteral(c, pt.Value)
		eq := c.alloc()
		c.b.Emit(lir.ABC(lir.OpEq, eq, subj, k))
		c.b.Emit(lir.ABC(lir.OpTest, eq, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
	case *ast.RangePattern:
		lo := l.lowerLiteral(c, pt.Low)
		hi := l.lowerLiteral(c, pt.High)
		ge := c.alloc()
		c.b.Emit(lir.ABC(lir.OpLt, ge, subj, lo))
		c.b.Emit(lir.ABC(lir.OpTest, ge, 0, 1)) // subj < low fails
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
		le := c.alloc()
		if pt.Closed {
			c.b.Emit(lir.ABC(lir.OpLe, le, subj, hi))
		} else {
			c.b.Emit(lir.ABC(lir.OpLt, le, subj, hi))
		}
		c.b.Emit(lir.ABC(lir.OpTest, le, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
	case *ast.VariantPattern:
		tag := pt.Variant
		if pt.Enum != "" {
			tag = pt.Enum + "::" + pt.Variant
		} else {
			tag = "::" + pt.Variant // suffix-matched against the union tag
		}
		t := c.alloc()
		tagIdx := l.mod.AddString(tag)
		c.b.Emit(lir.ABC(lir.OpIs, t, subj, uint16(tagIdx)))
		c.b.Emit(lir.ABC(lir.OpTest, t, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
		for i, el := range pt.Payload {
			fr := c.alloc()
			nameIdx := l.mod.AddString(strconv.Itoa(i))
			c.b.Emit(lir.ABC(lir.OpGetField, fr, subj, uint16(nameIdx)))
			l.emitPatternTest(c, el, fr, failLabel)
		}
		for _, f := range pt.Fields {
			fr := c.alloc()
			nameIdx := l.mod.AddString(f.Name)
			c.b.Emit(lir.ABC(lir.OpGetField, fr, subj, uint16(nameIdx)))
			l.emitPatternTest(c, f.Pattern, fr, failLabel)
		}
	case *ast.RecordPattern:
		if pt.Type != "" {
			t := c.alloc()
			typeIdx := l.mod.AddString(pt.Type)
			c.b.Emit(lir.ABC(lir.OpIs, t, subj, uint16(typeIdx)))
			c.b.Emit(lir.ABC(lir.OpTest, t, 0, 0))
			c.b.EmitJump(lir.OpJmp, 0, failLabel)
		}
		for _, f := range pt.Fields {
			fr := c.alloc()
			nameIdx := l.mod.AddString(f.Name)
			c.b.Emit(lir.ABC(lir.OpGetField, fr, subj, uint16(nameIdx)))
			l.emitPatternTest(c, f.Pattern, fr, failLabel)
		}
	case *ast.TuplePattern:
		for i, el := range pt.Elems {
			er := c.alloc()
			c.b.Emit(lir.ABC(lir.OpGetTuple, er, subj, uint16(i)))
			l.emitPatternTest(c, el, er, failLabel)
		}
	case *ast.ListPattern:
		n := c.alloc()
		c.b.Emit(lir.ABC(lir.OpMove, n+1, subj, 0))
		c.allocBlock(1)
		c.b.Emit(lir.ABC(lir.OpIntrinsic, n, uint16(mustIntrinsicID("len")), 1))
		want := c.alloc()
		c.b.Emit(lir.ABxForm(lir.OpLoadK, want, l.mod.AddConst(value.Int(int64(len(pt.Elems))))))
		cmp := c.alloc()
		if pt.HasRest {
			// need len >= fixed-element count: fail when len < want
			c.b.Emit(lir.ABC(lir.OpLt, cmp, n, want))
			c.b.Emit(lir.ABC(lir.OpTest, cmp, 0, 1))
		} else {
			c.b.Emit(lir.ABC(lir.OpEq, cmp, n, want))
			c.b.Emit(lir.ABC(lir.OpTest, cmp, 0, 0))
		}
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
		for i, el := range pt.Elems {
			er := c.alloc()
			ir := c.alloc()
			c.b.Emit(lir.ABxForm(lir.OpLoadK, ir, l.mod.AddConst(value.Int(int64(i)))))
			c.b.Emit(lir.ABC(lir.OpGetIndex, er, subj, ir))
			l.emitPatternTest(c, el, er, failLabel)
		}
		if pt.HasRest && pt.Rest != "" && pt.Rest != "_" {
			rest := c.alloc()
			c.b.Emit(lir.ABC(lir.OpMove, rest+1, subj, 0))
			from := c.allocBlock(1)
			c.b.Emit(lir.ABxForm(lir.OpLoadK, from, l.mod.AddConst(value.Int(int64(len(pt.Elems))))))
			c.b.Emit(lir.ABC(lir.OpIntrinsic, rest, uint16(mustIntrinsicID("slice")), 2))
			c.bindTo(pt.Rest, rest)
		}
	case *ast.GuardPattern:
		l.emitPatternTest(c, pt.Inner, subj, failLabel)
		g := l.lowerExpr(c, pt.Cond)
		c.b.Emit(lir.ABC(lir.OpTest, g, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
	case *ast.OrPattern:
		// Alternatives that bind names allocate separate registers per
		// alternative; pkg/types requires or-alternatives to bind the
		// same name set, and the arm body sees the registers of the
		// alternative that matched last in source order only when all
		// alternatives route bindings through bindTo on the same names.
		success := c.b.Label()
		for i, alt := range pt.Alts {
			if i == len(pt.Alts)-1 {
				l.emitPatternTest(c, alt, subj, failLabel)
				break
			}
			tryNext := c.b.Label()
			l.emitPatternTest(c, alt, subj, tryNext)
			c.b.EmitJump(lir.OpJmp, 0, success)
			c.b.Place(tryNext)
		}
		c.b.Place(success)
	default:
		l.errorf(p.Span(), "UnsupportedPattern", "lowering does not support this pattern form")
		c.b.EmitJump(lir.OpJmp, 0, failLabel)
	}
}
