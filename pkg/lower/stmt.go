package lower

import (
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/value"
)

// noRegister marks a valueless Return's A operand.
const noRegister uint16 = 0xFFFF

// lowerCell compiles one cell declaration into a lir.Cell. Parameters
// occupy R0..Rn-1; a trailing expression statement is the cell's
// implicit return value.
func (l *Lowerer) lowerCell(name string, d *ast.CellDecl) lir.Cell {
	c := newCellCtx(l, nil)
	for _, p := range d.Params {
		c.bind(p.Name)
	}
	c.pushDeferFrame()

	body := d.Body
	var tail ast.Expr
	if n := len(body); n > 0 {
		if es, ok := body[n-1].(*ast.ExprStmt); ok {
			tail = es.Value
			body = body[:n-1]
		}
	}
	l.lowerBlock(c, body)
	if tail != nil {
		r := l.lowerExpr(c, tail)
		c.popDeferFrame(func(b []ast.Stmt) { l.lowerBlock(c, b) })
		c.b.Emit(lir.ABC(lir.OpReturn, r, 0, 0))
	} else {
		c.popDeferFrame(func(b []ast.Stmt) { l.lowerBlock(c, b) })
		c.b.Emit(lir.ABC(lir.OpReturn, noRegister, 0, 0))
	}

	cell := lir.Cell{
		Name:          name,
		ParamCount:    len(d.Params),
		RegisterCount: int(c.high),
		Upvalues:      c.upvals,
		Code:          c.b.Finish(),
		Deterministic: l.res.Deterministic,
	}
	if d.Effects.Explicit {
		cell.DeclaredEffects = d.Effects.Effects
	}
	if info := l.res.Cells[name]; info != nil {
		cell.EffectRow = info.Row
	}
	return cell
}

func (l *Lowerer) lowerBlock(c *cellCtx, stmts []ast.Stmt) {
	for _, s := range stmts {
		l.lowerStmt(c, s)
	}
}

func (l *Lowerer) lowerStmt(c *cellCtx, s ast.Stmt) {
	switch st := s.(type) {
	case *ast.LetStmt:
		// Binding registers must outlive the statement, so no
		// mark/release here; only non-let statements reclaim temps.
		src := l.lowerExpr(c, st.Value)
		l.bindPatternFromReg(c, st.Pattern, src)
	case *ast.AssignStmt:
		m := c.mark()
		l.lowerAssign(c, st)
		c.release(m)
	case *ast.IfStmt:
		l.lowerIfStmt(c, st)
	case *ast.ForStmt:
		l.lowerForStmt(c, st)
	case *ast.WhileStmt:
		l.lowerWhileStmt(c, st)
	case *ast.LoopStmt:
		l.lowerLoopStmt(c, st)
	case *ast.MatchStmt:
		l.lowerMatchStmt(c, st)
	case *ast.ReturnStmt:
		l.lowerReturn(c, st)
	case *ast.HaltStmt:
		m := c.mark()
		v := l.lowerExpr(c, st.Value)
		c.b.Emit(lir.ABC(lir.OpHalt, v, 0, 0))
		c.release(m)
	case *ast.EmitStmt:
		m := c.mark()
		v := l.lowerExpr(c, st.Value)
		c.b.Emit(lir.ABxForm(lir.OpEmit, v, l.mod.AddString("out")))
		c.release(m)
	case *ast.YieldStmt:
		// Yield shares Emit's channel machinery; pipeline stages and
		// generators drain the "yield" channel.
		m := c.mark()
		v := l.lowerExpr(c, st.Value)
		c.b.Emit(lir.ABxForm(lir.OpEmit, v, l.mod.AddString("yield")))
		c.release(m)
	case *ast.DeferStmt:
		c.addDefer(st.Body)
	case *ast.BreakStmt:
		lbl, ok := c.findLoop(st.Label)
		if !ok {
			l.errorf(st.Span(), "MisplacedBreak", "break outside of a loop")
			return
		}
		if st.Value != nil {
			m := c.mark()
			l.lowerExpr(c, st.Value)
			c.release(m)
		}
		c.b.EmitJump(lir.OpBreak, 0, lbl.breakLabel)
	case *ast.ContinueStmt:
		lbl, ok := c.findLoop(st.Label)
		if !ok {
			l.errorf(st.Span(), "MisplacedContinue", "continue outside of a loop")
			return
		}
		c.b.EmitJump(lir.OpContinue, 0, lbl.continueLabel)
	case *ast.ExprStmt:
		m := c.mark()
		l.lowerExpr(c, st.Value)
		c.release(m)
	default:
		l.errorf(s.Span(), "UnsupportedStmt", "lowering does not support this statement form")
	}
}

func (l *Lowerer) lowerAssign(c *cellCtx, st *ast.AssignStmt) {
	var compound lir.Op
	switch st.Op {
	case ast.AssignAdd:
		compound = lir.OpAdd
	case ast.AssignSub:
		compound = lir.OpSub
	case ast.AssignMul:
		compound = lir.OpMul
	case ast.AssignDiv:
		compound = lir.OpDiv
	case ast.AssignMod:
		compound = lir.OpMod
	}

	switch tgt := st.Target.(type) {
	case *ast.Ident:
		if r, ok := c.lookupLocal(tgt.Name); ok {
			v := l.lowerExpr(c, st.Value)
			if st.Op != ast.AssignPlain {
				tmp := c.alloc()
				c.b.Emit(lir.ABC(compound, tmp, r, v))
				v = tmp
			}
			c.b.Emit(lir.ABC(lir.OpMove, r, v, 0))
			return
		}
		if idx, ok := c.resolveUpval(tgt.Name); ok {
			v := l.lowerExpr(c, st.Value)
			if st.Op != ast.AssignPlain {
				cur := c.alloc()
				c.b.Emit(lir.ABC(lir.OpGetUpval, cur, idx, 0))
				tmp := c.alloc()
				c.b.Emit(lir.ABC(compound, tmp, cur, v))
				v = tmp
			}
			c.b.Emit(lir.ABC(lir.OpSetUpval, idx, v, 0))
			return
		}
		l.errorf(tgt.Span(), "UnresolvedIdentifier", "assignment to undeclared name %q", tgt.Name)
	case *ast.FieldAccess:
		obj := l.lowerExpr(c, tgt.Target)
		nameIdx := l.mod.AddString(tgt.Field)
		v := l.lowerExpr(c, st.Value)
		if st.Op != ast.AssignPlain {
			cur := c.alloc()
			c.b.Emit(lir.ABC(lir.OpGetField, cur, obj, uint16(nameIdx)))
			tmp := c.alloc()
			c.b.Emit(lir.ABC(compound, tmp, cur, v))
			v = tmp
		}
		c.b.Emit(lir.ABC(lir.OpSetField, obj, uint16(nameIdx), v))
	case *ast.IndexExpr:
		obj := l.lowerExpr(c, tgt.Target)
		idx := l.lowerExpr(c, tgt.Index)
		v := l.lowerExpr(c, st.Value)
		if st.Op != ast.AssignPlain {
			cur := c.alloc()
			c.b.Emit(lir.ABC(lir.OpGetIndex, cur, obj, idx))
			tmp := c.alloc()
			c.b.Emit(lir.ABC(compound, tmp, cur, v))
			v = tmp
		}
		c.b.Emit(lir.ABC(lir.OpSetIndex, obj, idx, v))
	default:
		l.errorf(st.Span(), "InvalidAssignTarget", "cannot assign to this expression")
	}
}

func (l *Lowerer) lowerIfStmt(c *cellCtx, st *ast.IfStmt) {
	m := c.mark()
	cond := l.lowerExpr(c, st.Cond)
	c.b.Emit(lir.ABC(lir.OpTest, cond, 0, 0))
	c.release(m)
	elseLabel := c.b.Label()
	c.b.EmitJump(lir.OpJmp, 0, elseLabel)
	c.pushScope()
	l.lowerBlock(c, st.Then)
	c.popScope()
	if len(st.Else) == 0 {
		c.b.Place(elseLabel)
		return
	}
	endLabel := c.b.Label()
	c.b.EmitJump(lir.OpJmp, 0, endLabel)
	c.b.Place(elseLabel)
	c.pushScope()
	l.lowerBlock(c, st.Else)
	c.popScope()
	c.b.Place(endLabel)
}

// lowerForStmt iterates a range numerically and any other iterable by
// index scan; `continue` targets the latch so the induction step is
// never skipped.
func (l *Lowerer) lowerForStmt(c *cellCtx, st *ast.ForStmt) {
	if r, ok := st.Iter.(*ast.RangeExpr); ok {
		l.lowerForRange(c, st, r)
		return
	}
	iter := l.lowerExpr(c, st.Iter)

	length := c.alloc()
	c.b.Emit(lir.ABC(lir.OpMove, length+1, iter, 0))
	c.allocBlock(1)
	c.b.Emit(lir.ABC(lir.OpIntrinsic, length, uint16(mustIntrinsicID("len")), 1))

	idx := c.alloc()
	c.b.Emit(lir.ABxForm(lir.OpLoadK, idx, l.mod.AddConst(value.Int(0))))
	one := c.alloc()
	c.b.Emit(lir.ABxForm(lir.OpLoadK, one, l.mod.AddConst(value.Int(1))))

	start := c.b.Label()
	latch := c.b.Label()
	end := c.b.Label()
	c.b.Place(start)
	lt := c.alloc()
	c.b.Emit(lir.ABC(lir.OpLt, lt, idx, length))
	c.b.Emit(lir.ABC(lir.OpTest, lt, 0, 0))
	c.b.EmitJump(lir.OpJmp, 0, end)

	c.pushScope()
	c.pushLoop(st.Label, end, latch)
	el := c.alloc()
	c.b.Emit(lir.ABC(lir.OpGetIndex, el, iter, idx))
	l.bindPatternFromReg(c, st.Pattern, el)
	if st.Filter != nil {
		f := l.lowerExpr(c, st.Filter)
		c.b.Emit(lir.ABC(lir.OpTest, f, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, latch)
	}
	l.lowerBlock(c, st.Body)
	c.popLoop()
	c.popScope()

	c.b.Place(latch)
	next := c.alloc()
	c.b.Emit(lir.ABC(lir.OpAdd, next, idx, one))
	c.b.Emit(lir.ABC(lir.OpMove, idx, next, 0))
	c.b.EmitJump(lir.OpLoop, 0, start)
	c.b.Place(end)
}

func (l *Lowerer) lowerForRange(c *cellCtx, st *ast.ForStmt, r *ast.RangeExpr) {
	low := l.lowerExpr(c, r.Low)
	high := l.lowerExpr(c, r.High)
	one := c.alloc()
	c.b.Emit(lir.ABxForm(lir.OpLoadK, one, l.mod.AddConst(value.Int(1))))

	c.pushScope()
	idx := c.alloc()
	c.b.Emit(lir.ABC(lir.OpMove, idx, low, 0))
	if ip, ok := st.Pattern.(*ast.IdentPattern); ok {
		c.bindTo(ip.Name, idx)
	} else if _, wild := st.Pattern.(*ast.WildcardPattern); !wild {
		l.errorf(st.Pattern.Span(), "InvalidPattern", "range iteration binds a single identifier")
	}

	start := c.b.Label()
	latch := c.b.Label()
	end := c.b.Label()
	c.b.Place(start)
	cmp := c.alloc()
	if r.Closed {
		c.b.Emit(lir.ABC(lir.OpLe, cmp, idx, high))
	} else {
		c.b.Emit(lir.ABC(lir.OpLt, cmp, idx, high))
	}
	c.b.Emit(lir.ABC(lir.OpTest, cmp, 0, 0))
	c.b.EmitJump(lir.OpJmp, 0, end)

	c.pushLoop(st.Label, end, latch)
	if st.Filter != nil {
		f := l.lowerExpr(c, st.Filter)
		c.b.Emit(lir.ABC(lir.OpTest, f, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, latch)
	}
	l.lowerBlock(c, st.Body)
	c.popLoop()

	c.b.Place(latch)
	next := c.alloc()
	c.b.Emit(lir.ABC(lir.OpAdd, next, idx, one))
	c.b.Emit(lir.ABC(lir.OpMove, idx, next, 0))
	c.b.EmitJump(lir.OpLoop, 0, start)
	c.b.Place(end)
	c.popScope()
}

func (l *Lowerer) lowerWhileStmt(c *cellCtx, st *ast.WhileStmt) {
	start := c.b.Label()
	end := c.b.Label()
	c.b.Place(start)
	m := c.mark()
	cond := l.lowerExpr(c, st.Cond)
	c.b.Emit(lir.ABC(lir.OpTest, cond, 0, 0))
	c.release(m)
	c.b.EmitJump(lir.OpJmp, 0, end)
	c.pushScope()
	c.pushLoop(st.Label, end, start)
	l.lowerBlock(c, st.Body)
	c.popLoop()
	c.popScope()
	c.b.EmitJump(lir.OpLoop, 0, start)
	c.b.Place(end)
}

func (l *Lowerer) lowerLoopStmt(c *cellCtx, st *ast.LoopStmt) {
	start := c.b.Label()
	end := c.b.Label()
	c.b.Place(start)
	c.pushScope()
	c.pushLoop(st.Label, end, start)
	l.lowerBlock(c, st.Body)
	c.popLoop()
	c.popScope()
	c.b.EmitJump(lir.OpLoop, 0, start)
	c.b.Place(end)
}

func (l *Lowerer) lowerMatchStmt(c *cellCtx, st *ast.MatchStmt) {
	subj := l.lowerExpr(c, st.Subject)
	endLabel := c.b.Label()
	for _, arm := range st.Arms {
		nextLabel := c.b.Label()
		c.pushScope()
		l.emitPatternTest(c, arm.Pattern, subj, nextLabel)
		if arm.Guard != nil {
			g := l.lowerExpr(c, arm.Guard)
			c.b.Emit(lir.ABC(lir.OpTest, g, 0, 0))
			c.b.EmitJump(lir.OpJmp, 0, nextLabel)
		}
		l.lowerBlock(c, arm.Body)
		c.popScope()
		c.b.EmitJump(lir.OpJmp, 0, endLabel)
		c.b.Place(nextLabel)
	}
	c.b.Place(endLabel)
}

func (l *Lowerer) lowerReturn(c *cellCtx, st *ast.ReturnStmt) {
	if st.Value == nil {
		l.emitDefersAndReturn(c, noRegister)
		return
	}
	// A call in tail position becomes TailCall, but only when no defer
	// is pending: deferred bodies must run before the frame is reused.
	if call, ok := st.Value.(*ast.CallExpr); ok && len(c.pendingDefers()) == 0 {
		if id, isIdent := call.Callee.(*ast.Ident); isIdent {
			if _, isCell := l.cellIndex[id.Name]; isCell {
				if _, shadowed := c.lookupLocal(id.Name); !shadowed {
					l.lowerCall(c, call, true)
					return
				}
			}
		}
	}
	r := l.lowerExpr(c, st.Value)
	l.emitDefersAndReturn(c, r)
}
