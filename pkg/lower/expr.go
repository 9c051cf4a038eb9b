package lower

import (
	"math/big"
	"strconv"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/value"
)

// lowerExpr emits code evaluating e and returns the register holding
// its result. Temporaries are never released here; the enclosing
// statement's mark/release pair reclaims them.
func (l *Lowerer) lowerExpr(c *cellCtx, e ast.Expr) uint16 {
	switch ex := e.(type) {
	case *ast.Literal:
		return l.lowerLiteral(c, ex)
	case *ast.InterpString:
		return l.lowerInterpString(c, ex)
	case *ast.Ident:
		return l.lowerIdent(c, ex.Name, ex.Span())
	case *ast.RecordLit:
		return l.lowerRecordLit(c, ex)
	case *ast.ListLit:
		return l.lowerSeqLit(c, lir.OpNewList, ex.Elems)
	case *ast.SetLit:
		return l.lowerSeqLit(c, lir.OpNewSet, ex.Elems)
	case *ast.TupleLit:
		return l.lowerSeqLit(c, lir.OpNewTuple, ex.Elems)
	case *ast.MapLit:
		return l.lowerMapLit(c, ex)
	case *ast.UnaryExpr:
		return l.lowerUnary(c, ex)
	case *ast.BinaryExpr:
		return l.lowerBinary(c, ex)
	case *ast.RangeExpr:
		return l.lowerRange(c, ex)
	case *ast.PipeExpr:
		return l.lowerExpr(c, desugarPipe(ex))
	case *ast.ComposeExpr:
		return l.lowerCompose(c, ex)
	case *ast.NullSafeAccess:
		return l.lowerNullSafeAccess(c, ex)
	case *ast.NullSafeIndex:
		return l.lowerNullSafeIndex(c, ex)
	case *ast.NullCoalesce:
		return l.lowerNullCoalesce(c, ex)
	case *ast.NullAssert:
		return l.lowerNullAssert(c, ex)
	case *ast.TypeTest:
		return l.lowerTypeTest(c, ex)
	case *ast.TypeCast:
		return l.lowerExpr(c, ex.Target) // conversion performed at runtime by the consuming opcode/intrinsic; no-op at the register level
	case *ast.FieldAccess:
		return l.lowerFieldAccess(c, ex.Target, ex.Field)
	case *ast.IndexExpr:
		return l.lowerIndex(c, ex.Target, ex.Index)
	case *ast.CallExpr:
		return l.lowerCall(c, ex, false)
	case *ast.Comprehension:
		return l.lowerComprehension(c, ex)
	case *ast.LambdaExpr:
		return l.lowerLambda(c, ex)
	case *ast.IfExpr:
		return l.lowerIfExpr(c, ex)
	case *ast.WhenExpr:
		return l.lowerWhenExpr(c, ex)
	case *ast.MatchExpr:
		return l.lowerMatchExpr(c, ex)
	case *ast.ComptimeExpr:
		return l.lowerExpr(c, ex.Value)
	case *ast.PerformExpr:
		return l.lowerPerform(c, ex)
	case *ast.HandleExpr:
		return l.lowerHandle(c, ex)
	case *ast.ResumeExpr:
		return l.lowerResume(c, ex)
	case *ast.AwaitExpr:
		v := l.lowerExpr(c, ex.Value)
		dst := c.alloc()
		c.b.Emit(lir.ABC(lir.OpAwait, dst, v, 0))
		return dst
	case *ast.SpawnExpr:
		v := l.lowerExpr(c, ex.Value)
		dst := c.alloc()
		c.b.Emit(lir.ABC(lir.OpSpawn, dst, v, 0))
		return dst
	case *ast.TryExpr:
		return l.lowerTry(c, ex)
	case *calleeExpr:
		return l.lowerExpr(c, ex.Expr)
	default:
		l.errorf(e.Span(), "UnsupportedExpr", "lowering does not support this expression form")
		dst := c.alloc()
		c.b.Emit(lir.ABC(lir.OpLoadNil, dst, 0, 0))
		return dst
	}
}

func (l *Lowerer) lowerLiteral(c *cellCtx, lit *ast.Literal) uint16 {
	var v value.Value
	switch lit.Kind {
	case ast.LitInt:
		n, _ := strconv.ParseInt(lit.Text, 10, 64)
		v = value.Int(n)
	case ast.LitBigInt:
		b := new(big.Int)
		b.SetString(lit.Text, 10)
		v = value.BigInt(b)
	case ast.LitFloat:
		f, _ := strconv.ParseFloat(lit.Text, 64)
		v = value.Float(f)
	case ast.LitBool:
		v = value.Bool(lit.Text == "true")
	case ast.LitString, ast.LitRawString:
		v = value.String(lit.Text)
	case ast.LitBytes:
		v = value.Bytes([]byte(lit.Text))
	case ast.LitNull:
		v = value.Null
	default:
		v = value.Null
	}
	idx := l.mod.AddConst(v)
	dst := c.alloc()
	c.b.Emit(lir.ABxForm(lir.OpLoadK, dst, idx))
	return dst
}

func (l *Lowerer) lowerInterpString(c *cellCtx, ex *ast.InterpString) uint16 {
	var acc uint16
	first := true
	for _, seg := range ex.Segments {
		var segReg uint16
		if seg.Expr != nil {
			segReg = l.lowerExpr(c, seg.Expr)
		} else {
			segReg = c.alloc()
			idx := l.mod.AddConst(value.String(seg.Text))
			c.b.Emit(lir.ABxForm(lir.OpLoadK, segReg, idx))
		}
		if first {
			acc = segReg
			first = false
			continue
		}
		dst := c.alloc()
		c.b.Emit(lir.ABC(lir.OpConcat, dst, acc, segReg))
		acc = dst
	}
	if first {
		// empty interpolation literal ""
		return l.lowerLiteral(c, &ast.Literal{Kind: ast.LitString, Text: ""})
	}
	return acc
}

func (l *Lowerer) lowerIdent(c *cellCtx, name string, sp diagnostic.Span) uint16 {
	if r, ok := c.lookupLocal(name); ok {
		return r
	}
	if idx, ok := c.resolveUpval(name); ok {
		dst := c.alloc()
		c.b.Emit(lir.ABC(lir.OpGetUpval, dst, idx, 0))
		return dst
	}
	if cellIdx, ok := l.cellIndex[name]; ok {
		dst := c.alloc()
		c.b.Emit(lir.ABxForm(lir.OpClosure, dst, cellIdx))
		return dst
	}
	if vi, ok := l.variantIndex[name]; ok && vi.payloadArity == 0 {
		dst := c.alloc()
		c.b.Emit(lir.ABxForm(lir.OpNewUnion, dst, vi.typeIdx<<16|vi.variantIdx))
		return dst
	}
	if cd, ok := l.constDecls[name]; ok {
		return l.lowerExpr(c, cd.Value)
	}
	l.errorf(sp, "UnresolvedIdentifier", "identifier %q does not resolve to a local, upvalue, or declared cell", name)
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpLoadNil, dst, 0, 0))
	return dst
}

// resolveUpval finds name in an enclosing cell's scope (direct parent)
// or its own upvalue list (grandparent+), registering a new upvalue
// entry in c on first reference (classic flat-closure resolution).
func (c *cellCtx) resolveUpval(name string) (uint16, bool) {
	if idx, ok := c.upvalName[name]; ok {
		return idx, true
	}
	if c.parent == nil {
		return 0, false
	}
	if r, ok := c.parent.lookupLocal(name); ok {
		idx := uint16(len(c.upvals))
		c.upvals = append(c.upvals, lir.UpvalueDesc{FromParent: true, Index: r})
		c.upvalName[name] = idx
		return idx, true
	}
	if pidx, ok := c.parent.resolveUpval(name); ok {
		idx := uint16(len(c.upvals))
		c.upvals = append(c.upvals, lir.UpvalueDesc{FromParent: false, Index: pidx})
		c.upvalName[name] = idx
		return idx, true
	}
	return 0, false
}

// lowerRecordLit evaluates the literal's fields in the record type's
// declared order (so NewRecord can zip registers against the TypeDef)
// and emits the construction plus, when the record carries a runtime
// `where` constraint, a Schema check over the fresh value.
func (l *Lowerer) lowerRecordLit(c *cellCtx, ex *ast.RecordLit) uint16 {
	typeIdx, ok := l.typeIndex[ex.Type]
	if !ok {
		l.errorf(ex.Span(), "UnknownRecordType", "record literal names undeclared type %q", ex.Type)
	}
	byName := map[string]ast.Expr{}
	for _, f := range ex.Fields {
		byName[f.Name] = f.Value
	}
	ordered := make([]ast.Expr, 0, len(ex.Fields))
	if decl, declared := l.recordFields[ex.Type]; declared {
		for _, f := range decl.Fields {
			if v, present := byName[f.Name]; present {
				ordered = append(ordered, v)
			} else {
				ordered = append(ordered, &ast.Literal{Kind: ast.LitNull, Text: "null"})
			}
		}
	} else {
		for _, f := range ex.Fields {
			ordered = append(ordered, f.Value)
		}
	}
	base := c.allocBlock(len(ordered))
	for i, fv := range ordered {
		fr := l.lowerExpr(c, fv)
		if fr != base+uint16(i) {
			c.b.Emit(lir.ABC(lir.OpMove, base+uint16(i), fr, 0))
		}
	}
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpNewRecord, dst, base, uint16(typeIdx)))
	if l.needsRuntimeCheck(ex.Type) {
		chk := c.alloc()
		c.b.Emit(lir.ABC(lir.OpSchema, chk, dst, uint16(typeIdx)))
	}
	return dst
}

func (l *Lowerer) lowerSeqLit(c *cellCtx, op lir.Op, elems []ast.Expr) uint16 {
	base := c.allocBlock(len(elems))
	for i, el := range elems {
		r := l.lowerExpr(c, el)
		if r != base+uint16(i) {
			c.b.Emit(lir.ABC(lir.OpMove, base+uint16(i), r, 0))
		}
	}
	dst := c.alloc()
	c.b.Emit(lir.ABC(op, dst, base, uint16(len(elems))))
	return dst
}

func (l *Lowerer) lowerMapLit(c *cellCtx, ex *ast.MapLit) uint16 {
	base := c.allocBlock(len(ex.Entries) * 2)
	for i, en := range ex.Entries {
		kr := l.lowerExpr(c, en.Key)
		slot := base + uint16(i*2)
		if kr != slot {
			c.b.Emit(lir.ABC(lir.OpMove, slot, kr, 0))
		}
		vr := l.lowerExpr(c, en.Value)
		if vr != slot+1 {
			c.b.Emit(lir.ABC(lir.OpMove, slot+1, vr, 0))
		}
	}
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpNewMap, dst, base, uint16(len(ex.Entries))))
	return dst
}

var unaryOps = map[ast.UnaryOp]lir.Op{
	ast.UnaryNeg:    lir.OpNeg,
	ast.UnaryNot:    lir.OpNot,
	ast.UnaryBitNot: lir.OpBitNot,
}

func (l *Lowerer) lowerUnary(c *cellCtx, ex *ast.UnaryExpr) uint16 {
	src := l.lowerExpr(c, ex.Operand)
	dst := c.alloc()
	c.b.Emit(lir.ABC(unaryOps[ex.Op], dst, src, 0))
	return dst
}

var binaryOps = map[ast.BinaryOp]lir.Op{
	ast.BAdd: lir.OpAdd, ast.BSub: lir.OpSub, ast.BMul: lir.OpMul, ast.BDiv: lir.OpDiv,
	ast.BFloorDiv: lir.OpFloorDiv, ast.BMod: lir.OpMod, ast.BPow: lir.OpPow,
	ast.BConcat: lir.OpConcat,
	ast.BBitAnd: lir.OpBitAnd, ast.BBitOr: lir.OpBitOr, ast.BBitXor: lir.OpBitXor,
	ast.BShl: lir.OpShl, ast.BShr: lir.OpShr,
	ast.BEq: lir.OpEq, ast.BLt: lir.OpLt, ast.BLe: lir.OpLe, ast.BIn: lir.OpIn,
}

func (l *Lowerer) lowerBinary(c *cellCtx, ex *ast.BinaryExpr) uint16 {
	switch ex.Op {
	case ast.BAnd:
		return l.lowerShortCircuit(c, ex, true)
	case ast.BOr:
		return l.lowerShortCircuit(c, ex, false)
	case ast.BNeq:
		lr := l.lowerExpr(c, ex.Left)
		rr := l.lowerExpr(c, ex.Right)
		eq := c.alloc()
		c.b.Emit(lir.ABC(lir.OpEq, eq, lr, rr))
		dst := c.alloc()
		c.b.Emit(lir.ABC(lir.OpNot, dst, eq, 0))
		return dst
	case ast.BGt:
		// a > b == !(a <= b)
		lr := l.lowerExpr(c, ex.Left)
		rr := l.lowerExpr(c, ex.Right)
		le := c.alloc()
		c.b.Emit(lir.ABC(lir.OpLe, le, lr, rr))
		out := c.alloc()
		c.b.Emit(lir.ABC(lir.OpNot, out, le, 0))
		return out
	case ast.BGe:
		lr := l.lowerExpr(c, ex.Left)
		rr := l.lowerExpr(c, ex.Right)
		lt := c.alloc()
		c.b.Emit(lir.ABC(lir.OpLt, lt, lr, rr))
		out := c.alloc()
		c.b.Emit(lir.ABC(lir.OpNot, out, lt, 0))
		return out
	default:
		lr := l.lowerExpr(c, ex.Left)
		rr := l.lowerExpr(c, ex.Right)
		dst := c.alloc()
		op, ok := binaryOps[ex.Op]
		if !ok {
			l.errorf(ex.Span(), "UnsupportedExpr", "unsupported binary operator")
			op = lir.OpAdd
		}
		c.b.Emit(lir.ABC(op, dst, lr, rr))
		return dst
	}
}

// lowerShortCircuit lowers `and`/`or` via Test+Jmp so the right-hand
// side is only evaluated when it can still affect the result.
func (l *Lowerer) lowerShortCircuit(c *cellCtx, ex *ast.BinaryExpr, isAnd bool) uint16 {
	dst := c.alloc()
	lr := l.lowerExpr(c, ex.Left)
	c.b.Emit(lir.ABC(lir.OpMove, dst, lr, 0))
	skip := c.b.Label()
	testFlag := uint16(0) // `and` skips the RHS when the LHS is falsy
	if !isAnd {
		testFlag = 1 // `or` skips the RHS when the LHS is truthy
	}
	c.b.Emit(lir.ABC(lir.OpTest, dst, 0, testFlag))
	c.b.EmitJump(lir.OpJmp, 0, skip)
	rr := l.lowerExpr(c, ex.Right)
	c.b.Emit(lir.ABC(lir.OpMove, dst, rr, 0))
	c.b.Place(skip)
	return dst
}

// lowerRange materializes a range through the __range intrinsic as a
// record with fields low, high and closed (true for `..=`), which the
// VM's iteration protocol and `in` operator expand.
func (l *Lowerer) lowerRange(c *cellCtx, ex *ast.RangeExpr) uint16 {
	base := c.allocBlock(3)
	lo := l.lowerExpr(c, ex.Low)
	if lo != base {
		c.b.Emit(lir.ABC(lir.OpMove, base, lo, 0))
	}
	hi := l.lowerExpr(c, ex.High)
	if hi != base+1 {
		c.b.Emit(lir.ABC(lir.OpMove, base+1, hi, 0))
	}
	closedIdx := l.mod.AddConst(value.Bool(ex.Closed))
	c.b.Emit(lir.ABxForm(lir.OpLoadK, base+2, closedIdx))
	dst := c.alloc()
	rid := mustIntrinsicID("__range")
	for i := uint16(0); i < 3; i++ {
		// args must sit in Rdst+1.. for the intrinsic convention
		c.b.Emit(lir.ABC(lir.OpMove, dst+1+i, base+i, 0))
	}
	c.allocBlock(3)
	c.b.Emit(lir.ABC(lir.OpIntrinsic, dst, uint16(rid), 3))
	return dst
}

func desugarPipe(ex *ast.PipeExpr) *ast.CallExpr {
	args := append([]ast.Arg{{Value: ex.Left}}, ex.Call.Args...)
	return &ast.CallExpr{Callee: ex.Call.Callee, Args: args}
}

func (l *Lowerer) lowerCompose(c *cellCtx, ex *ast.ComposeExpr) uint16 {
	// `f ~> g` has no direct LIR op; synthesize a lambda `x => g(f(x))`
	// over the same two callables, reusing the ordinary lambda path.
	param := "__compose_x"
	inner := &ast.CallExpr{Callee: &calleeExpr{ex.Left}, Args: []ast.Arg{{Value: &ast.Ident{Name: param}}}}
	outer := &ast.CallExpr{Callee: &calleeExpr{ex.Right}, Args: []ast.Arg{{Value: inner}}}
	lambda := &ast.LambdaExpr{Params: []ast.Param{{Name: param}}, Expr: outer}
	return l.lowerLambda(c, lambda)
}

// calleeExpr wraps an arbitrary expression (not just an ident) so it
// can serve as a CallExpr callee in lowering-synthesized calls; the
// lowerExpr switch unwraps it.
type calleeExpr struct{ ast.Expr }

func (l *Lowerer) lowerNullSafeAccess(c *cellCtx, ex *ast.NullSafeAccess) uint16 {
	tgt := l.lowerExpr(c, ex.Target)
	dst := c.alloc()
	nn := c.alloc()
	c.b.Emit(lir.ABC(lir.OpNullCo, nn, tgt, 0))
	skip := c.b.Label()
	c.b.Emit(lir.ABC(lir.OpTest, nn, 0, 0))
	c.b.EmitJump(lir.OpJmp, 0, skip)
	nameIdx := l.mod.AddString(ex.Field)
	c.b.Emit(lir.ABC(lir.OpGetField, dst, tgt, uint16(nameIdx)))
	end := c.b.Label()
	c.b.EmitJump(lir.OpJmp, 0, end)
	c.b.Place(skip)
	c.b.Emit(lir.ABC(lir.OpLoadNil, dst, 0, 0))
	c.b.Place(end)
	return dst
}

func (l *Lowerer) lowerNullSafeIndex(c *cellCtx, ex *ast.NullSafeIndex) uint16 {
	tgt := l.lowerExpr(c, ex.Target)
	idx := l.lowerExpr(c, ex.Index)
	dst := c.alloc()
	nn := c.alloc()
	c.b.Emit(lir.ABC(lir.OpNullCo, nn, tgt, 0))
	skip := c.b.Label()
	c.b.Emit(lir.ABC(lir.OpTest, nn, 0, 0))
	c.b.EmitJump(lir.OpJmp, 0, skip)
	c.b.Emit(lir.ABC(lir.OpGetIndex, dst, tgt, idx))
	end := c.b.Label()
	c.b.EmitJump(lir.OpJmp, 0, end)
	c.b.Place(skip)
	c.b.Emit(lir.ABC(lir.OpLoadNil, dst, 0, 0))
	c.b.Place(end)
	return dst
}

func (l *Lowerer) lowerNullCoalesce(c *cellCtx, ex *ast.NullCoalesce) uint16 {
	lr := l.lowerExpr(c, ex.Left)
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpMove, dst, lr, 0))
	nn := c.alloc()
	c.b.Emit(lir.ABC(lir.OpNullCo, nn, dst, 0))
	skip := c.b.Label()
	c.b.Emit(lir.ABC(lir.OpTest, nn, 0, 1))
	c.b.EmitJump(lir.OpJmp, 0, skip)
	rr := l.lowerExpr(c, ex.Right)
	c.b.Emit(lir.ABC(lir.OpMove, dst, rr, 0))
	c.b.Place(skip)
	return dst
}

func (l *Lowerer) lowerNullAssert(c *cellCtx, ex *ast.NullAssert) uint16 {
	tgt := l.lowerExpr(c, ex.Target)
	nn := c.alloc()
	c.b.Emit(lir.ABC(lir.OpNullCo, nn, tgt, 0))
	okLabel := c.b.Label()
	c.b.Emit(lir.ABC(lir.OpTest, nn, 0, 1))
	c.b.EmitJump(lir.OpJmp, 0, okLabel)
	msg := c.alloc()
	msgIdx := l.mod.AddConst(value.String("null assertion failed"))
	c.b.Emit(lir.ABxForm(lir.OpLoadK, msg, msgIdx))
	c.b.Emit(lir.ABC(lir.OpHalt, msg, 0, 1)) // C=1 marks a null-assert halt, surfaced as NullDereference
	c.b.Place(okLabel)
	return tgt
}

func (l *Lowerer) lowerTypeTest(c *cellCtx, ex *ast.TypeTest) uint16 {
	tgt := l.lowerExpr(c, ex.Target)
	typeIdx := l.mod.AddString(ex.Type.String())
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpIs, dst, tgt, uint16(typeIdx)))
	return dst
}

func (l *Lowerer) lowerFieldAccess(c *cellCtx, target ast.Expr, field string) uint16 {
	tgt := l.lowerExpr(c, target)
	dst := c.alloc()
	nameIdx := l.mod.AddString(field)
	c.b.Emit(lir.ABC(lir.OpGetField, dst, tgt, uint16(nameIdx)))
	return dst
}

func (l *Lowerer) lowerIndex(c *cellCtx, target, index ast.Expr) uint16 {
	tgt := l.lowerExpr(c, target)
	idx := l.lowerExpr(c, index)
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpGetIndex, dst, tgt, idx))
	return dst
}

// lowerCall lowers a call expression. tailPos is set by statement-level
// lowering when this call occupies tail position in a `return`, so
// TailCall can replace Call+Return.
func (l *Lowerer) lowerCall(c *cellCtx, ex *ast.CallExpr, tailPos bool) uint16 {
	if id, ok := ex.Callee.(*ast.Ident); ok {
		if _, isLocal := c.lookupLocal(id.Name); !isLocal {
			if _, isUp := c.upvalName[id.Name]; !isUp {
				if l.toolAliases[id.Name] {
					return l.lowerToolCall(c, id.Name, ex.Args)
				}
				if vi, isVariant := l.variantIndex[id.Name]; isVariant {
					return l.lowerVariantCall(c, vi, ex.Args)
				}
				if ti, isProcess := l.processTypeIdx[id.Name]; isProcess {
					return l.lowerProcessNew(c, ti, ex.Args)
				}
				if _, isCell := l.cellIndex[id.Name]; !isCell {
					if iid, isIntrinsic := intrinsicID(id.Name); isIntrinsic {
						return l.lowerIntrinsicCall(c, iid, ex.Args)
					}
				}
			}
		}
	}
	base := c.allocBlock(1 + len(ex.Args))
	calleeReg := l.lowerExpr(c, ex.Callee)
	if calleeReg != base {
		c.b.Emit(lir.ABC(lir.OpMove, base, calleeReg, 0))
	}
	for i, a := range ex.Args {
		ar := l.lowerExpr(c, a.Value)
		slot := base + 1 + uint16(i)
		if ar != slot {
			c.b.Emit(lir.ABC(lir.OpMove, slot, ar, 0))
		}
	}
	if tailPos {
		c.b.Emit(lir.ABC(lir.OpTailCall, base, 0, uint16(len(ex.Args))))
		return base
	}
	c.b.Emit(lir.ABC(lir.OpCall, base, base, uint16(len(ex.Args))))
	return base
}

// lowerArgsAfter evaluates args into the registers immediately
// following dst, the shared argument convention for Intrinsic,
// ToolCall, Perform, and NewUnion.
func (l *Lowerer) lowerArgsAfter(c *cellCtx, dst uint16, args []ast.Expr) {
	base := c.allocBlock(len(args))
	for i, a := range args {
		ar := l.lowerExpr(c, a)
		slot := base + uint16(i)
		if ar != slot {
			c.b.Emit(lir.ABC(lir.OpMove, slot, ar, 0))
		}
	}
	if len(args) > 0 && base != dst+1 {
		// allocBlock immediately after alloc(dst) always yields dst+1;
		// reaching here means a lowering bug, surface it loudly.
		panic("lower: argument block not contiguous with destination")
	}
}

func argValues(args []ast.Arg) []ast.Expr {
	out := make([]ast.Expr, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func (l *Lowerer) lowerToolCall(c *cellCtx, alias string, args []ast.Arg) uint16 {
	dst := c.alloc()
	l.lowerArgsAfter(c, dst, argValues(args))
	aliasIdx := l.mod.AddString(alias)
	c.b.Emit(lir.ABC(lir.OpToolCall, dst, uint16(aliasIdx), uint16(len(args))))
	return dst
}

func (l *Lowerer) lowerIntrinsicCall(c *cellCtx, id uint32, args []ast.Arg) uint16 {
	dst := c.alloc()
	l.lowerArgsAfter(c, dst, argValues(args))
	c.b.Emit(lir.ABC(lir.OpIntrinsic, dst, uint16(id), uint16(len(args))))
	return dst
}

func (l *Lowerer) lowerVariantCall(c *cellCtx, vi variantInfo, args []ast.Arg) uint16 {
	dst := c.alloc()
	l.lowerArgsAfter(c, dst, argValues(args))
	c.b.Emit(lir.ABxForm(lir.OpNewUnion, dst, vi.typeIdx<<16|vi.variantIdx))
	return dst
}

func (l *Lowerer) lowerProcessNew(c *cellCtx, typeIdx uint32, args []ast.Arg) uint16 {
	base := c.allocBlock(len(args))
	for i, a := range args {
		ar := l.lowerExpr(c, a.Value)
		if ar != base+uint16(i) {
			c.b.Emit(lir.ABC(lir.OpMove, base+uint16(i), ar, 0))
		}
	}
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpNewRecord, dst, base, uint16(typeIdx)))
	return dst
}

func (l *Lowerer) lowerPerform(c *cellCtx, ex *ast.PerformExpr) uint16 {
	dst := c.alloc()
	l.lowerArgsAfter(c, dst, ex.Args)
	effectIdx := l.mod.AddString(ex.Effect)
	opIdx := l.mod.AddString(ex.Op)
	c.b.Emit(lir.ABC(lir.OpPerform, dst, uint16(effectIdx), uint16(opIdx)))
	return dst
}

func (l *Lowerer) lowerHandle(c *cellCtx, ex *ast.HandleExpr) uint16 {
	// Each clause becomes its own synthetic cell (giving Perform's
	// continuation capture a clean frame boundary to return into);
	// HandlePush installs the clause cell and the VM matches a
	// Perform's (effect, op) against the cell's handler tags when
	// searching the stack top-down.
	for _, cl := range ex.Clauses {
		clauseDecl := &ast.CellDecl{
			Name:   "<handle>." + cl.Effect + "." + cl.Op,
			Params: cl.Params,
			Body:   cl.Body,
		}
		idx := l.registerSyntheticCell(clauseDecl, cl.Effect, cl.Op)
		c.b.Emit(lir.ABxForm(lir.OpHandlePush, 0, idx))
	}
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpLoadNil, dst, 0, 0))
	m := c.mark()
	for _, s := range ex.Body {
		if es, ok := s.(*ast.ExprStmt); ok {
			r := l.lowerExpr(c, es.Value)
			c.b.Emit(lir.ABC(lir.OpMove, dst, r, 0))
			continue
		}
		l.lowerStmt(c, s)
	}
	c.release(m)
	for range ex.Clauses {
		c.b.Emit(lir.ABC(lir.OpHandlePop, 0, 0, 0))
	}
	return dst
}

// registerSyntheticCell appends a lowering-internal cell (a handler
// clause body) that has no source-level name and therefore was not
// seen by collectCells; it is lowered immediately rather than deferred.
func (l *Lowerer) registerSyntheticCell(d *ast.CellDecl, handlerEffect, handlerOp string) uint32 {
	idx := uint32(len(l.mod.Cells))
	l.mod.Cells = append(l.mod.Cells, lir.Cell{})
	cell := l.lowerCell(d.Name, d)
	cell.HandlerEffect = handlerEffect
	cell.HandlerOp = handlerOp
	l.mod.Cells[idx] = cell
	return idx
}

func (l *Lowerer) lowerResume(c *cellCtx, ex *ast.ResumeExpr) uint16 {
	v := l.lowerExpr(c, ex.Value)
	dst := c.alloc()
	// B is unused: the continuation is the one captured for the
	// innermost active handler invocation, tracked by the VM.
	c.b.Emit(lir.ABC(lir.OpResume, dst, 0, v))
	return dst
}

func (l *Lowerer) lowerTry(c *cellCtx, ex *ast.TryExpr) uint16 {
	// `try e` unwraps result[T,E]: ok(v) yields v, err(e) returns the
	// whole err value from the current cell. The VM implements the
	// unwrap-or-propagate behind a reserved field selector.
	v := l.lowerExpr(c, ex.Value)
	dst := c.alloc()
	nameIdx := l.mod.AddString("__try_unwrap")
	c.b.Emit(lir.ABC(lir.OpGetField, dst, v, uint16(nameIdx)))
	return dst
}

func (l *Lowerer) lowerIfExpr(c *cellCtx, ex *ast.IfExpr) uint16 {
	condReg := l.lowerExpr(c, ex.Cond)
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpTest, condReg, 0, 0))
	elseLabel := c.b.Label()
	c.b.EmitJump(lir.OpJmp, 0, elseLabel)
	thenReg := l.lowerExpr(c, ex.Then)
	c.b.Emit(lir.ABC(lir.OpMove, dst, thenReg, 0))
	endLabel := c.b.Label()
	c.b.EmitJump(lir.OpJmp, 0, endLabel)
	c.b.Place(elseLabel)
	elseReg := l.lowerExpr(c, ex.Else)
	c.b.Emit(lir.ABC(lir.OpMove, dst, elseReg, 0))
	c.b.Place(endLabel)
	return dst
}

func (l *Lowerer) lowerWhenExpr(c *cellCtx, ex *ast.WhenExpr) uint16 {
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpLoadNil, dst, 0, 0))
	endLabel := c.b.Label()
	for _, arm := range ex.Arms {
		var nextLabel int
		if arm.Cond != nil {
			condReg := l.lowerExpr(c, arm.Cond)
			c.b.Emit(lir.ABC(lir.OpTest, condReg, 0, 0))
			nextLabel = c.b.Label()
			c.b.EmitJump(lir.OpJmp, 0, nextLabel)
		}
		bodyReg := l.lowerExpr(c, arm.Body)
		c.b.Emit(lir.ABC(lir.OpMove, dst, bodyReg, 0))
		c.b.EmitJump(lir.OpJmp, 0, endLabel)
		if arm.Cond != nil {
			c.b.Place(nextLabel)
		}
	}
	c.b.Place(endLabel)
	return dst
}

func (l *Lowerer) lowerMatchExpr(c *cellCtx, ex *ast.MatchExpr) uint16 {
	subj := l.lowerExpr(c, ex.Subject)
	dst := c.alloc()
	endLabel := c.b.Label()
	for _, arm := range ex.Arms {
		nextLabel := c.b.Label()
		c.pushScope()
		l.emitPatternTest(c, arm.Pattern, subj, nextLabel)
		if arm.Guard != nil {
			g := l.lowerExpr(c, arm.Guard)
			c.b.Emit(lir.ABC(lir.OpTest, g, 0, 0))
			c.b.EmitJump(lir.OpJmp, 0, nextLabel)
		}
		bodyReg := l.lowerExpr(c, arm.Body)
		c.b.Emit(lir.ABC(lir.OpMove, dst, bodyReg, 0))
		c.popScope()
		c.b.EmitJump(lir.OpJmp, 0, endLabel)
		c.b.Place(nextLabel)
	}
	c.b.Emit(lir.ABC(lir.OpLoadNil, dst, 0, 0)) // unreachable when exhaustiveness held, kept as a defined fallback
	c.b.Place(endLabel)
	return dst
}

// lowerComprehension builds the collection by an index-scan loop over
// the iterable: list/set comprehensions accumulate via the push
// intrinsic, map comprehensions via SetIndex.
func (l *Lowerer) lowerComprehension(c *cellCtx, ex *ast.Comprehension) uint16 {
	iter := l.lowerExpr(c, ex.Iter)

	acc := c.alloc()
	seed := lir.OpNewList
	if ex.Kind == ast.CompSet {
		seed = lir.OpNewSet
	} else if ex.Kind == ast.CompMap {
		seed = lir.OpNewMap
	}
	c.b.Emit(lir.ABC(seed, acc, 0, 0))

	length := c.alloc()
	c.b.Emit(lir.ABC(lir.OpMove, length+1, iter, 0))
	c.allocBlock(1)
	c.b.Emit(lir.ABC(lir.OpIntrinsic, length, uint16(mustIntrinsicID("len")), 1))

	idx := c.alloc()
	zeroIdx := l.mod.AddConst(value.Int(0))
	c.b.Emit(lir.ABxForm(lir.OpLoadK, idx, zeroIdx))
	one := c.alloc()
	oneIdx := l.mod.AddConst(value.Int(1))
	c.b.Emit(lir.ABxForm(lir.OpLoadK, one, oneIdx))

	loopStart := c.b.Label()
	loopEnd := c.b.Label()
	c.b.Place(loopStart)
	lt := c.alloc()
	c.b.Emit(lir.ABC(lir.OpLt, lt, idx, length))
	c.b.Emit(lir.ABC(lir.OpTest, lt, 0, 0))
	c.b.EmitJump(lir.OpJmp, 0, loopEnd)

	c.pushScope()
	el := c.alloc()
	c.b.Emit(lir.ABC(lir.OpGetIndex, el, iter, idx))
	l.bindPatternFromReg(c, ex.Pattern, el)
	if ex.Filter != nil {
		skipLabel := c.b.Label()
		fr := l.lowerExpr(c, ex.Filter)
		c.b.Emit(lir.ABC(lir.OpTest, fr, 0, 0))
		c.b.EmitJump(lir.OpJmp, 0, skipLabel)
		l.emitComprehensionAppend(c, ex, acc)
		c.b.Place(skipLabel)
	} else {
		l.emitComprehensionAppend(c, ex, acc)
	}
	c.popScope()

	next := c.alloc()
	c.b.Emit(lir.ABC(lir.OpAdd, next, idx, one))
	c.b.Emit(lir.ABC(lir.OpMove, idx, next, 0))
	c.b.EmitJump(lir.OpLoop, 0, loopStart)
	c.b.Place(loopEnd)
	return acc
}

func (l *Lowerer) emitComprehensionAppend(c *cellCtx, ex *ast.Comprehension, acc uint16) {
	if ex.Kind == ast.CompMap {
		k := l.lowerExpr(c, ex.Key)
		v := l.lowerExpr(c, ex.Value)
		c.b.Emit(lir.ABC(lir.OpSetIndex, acc, k, v))
		return
	}
	v := l.lowerExpr(c, ex.Value)
	dst := c.alloc()
	c.b.Emit(lir.ABC(lir.OpMove, dst+1, acc, 0))
	c.b.Emit(lir.ABC(lir.OpMove, dst+2, v, 0))
	c.allocBlock(2)
	c.b.Emit(lir.ABC(lir.OpIntrinsic, dst, uint16(mustIntrinsicID("push")), 2))
	c.b.Emit(lir.ABC(lir.OpMove, acc, dst, 0))
}

func mustIntrinsicID(name string) uint32 {
	id, ok := intrinsicID(name)
	if !ok {
		panic("lower: missing intrinsic " + name)
	}
	return id
}

func (l *Lowerer) lowerLambda(c *cellCtx, ex *ast.LambdaExpr) uint16 {
	inner := newCellCtx(l, c)
	for _, p := range ex.Params {
		inner.bind(p.Name)
	}
	inner.pushDeferFrame()
	if ex.Expr != nil {
		r := l.lowerExpr(inner, ex.Expr)
		l.emitDefersAndReturn(inner, r)
	} else {
		l.lowerBlock(inner, ex.Body)
		inner.popDeferFrame(func(body []ast.Stmt) { l.lowerBlock(inner, body) })
		inner.b.Emit(lir.ABC(lir.OpReturn, noRegister, 0, 0))
	}
	cell := lir.Cell{
		Name:          "<lambda>",
		ParamCount:    len(ex.Params),
		RegisterCount: int(inner.high),
		Upvalues:      inner.upvals,
		Code:          inner.b.Finish(),
	}
	idx := uint32(len(l.mod.Cells))
	l.mod.Cells = append(l.mod.Cells, cell)

	dst := c.alloc()
	c.b.Emit(lir.ABxForm(lir.OpClosure, dst, idx))
	return dst
}

func (l *Lowerer) emitDefersAndReturn(c *cellCtx, resultReg uint16) {
	for _, body := range c.pendingDefers() {
		l.lowerBlock(c, body)
	}
	c.b.Emit(lir.ABC(lir.OpReturn, resultReg, 0, 0))
}
