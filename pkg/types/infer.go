package types

import (
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/lir"
)

func (c *Checker) infer(e ast.Expr, env *Env) *Type {
	switch ex := e.(type) {
	case *ast.Literal:
		return literalType(ex.Kind)
	case *ast.InterpString:
		for _, seg := range ex.Segments {
			if seg.Expr != nil {
				c.infer(seg.Expr, env)
			}
		}
		return TString
	case *ast.Ident:
		return c.inferIdent(ex, env)
	case *ast.RecordLit:
		return c.inferRecordLit(ex, env)
	case *ast.ListLit:
		elem := Unknown
		for _, el := range ex.Elems {
			elem = Unify(elem, c.infer(el, env))
		}
		return &Type{Kind: KList, Args: []*Type{elem}}
	case *ast.MapLit:
		key, val := Unknown, Unknown
		for _, en := range ex.Entries {
			key = Unify(key, c.infer(en.Key, env))
			val = Unify(val, c.infer(en.Value, env))
		}
		return &Type{Kind: KMap, Args: []*Type{key, val}}
	case *ast.SetLit:
		elem := Unknown
		for _, el := range ex.Elems {
			elem = Unify(elem, c.infer(el, env))
		}
		return &Type{Kind: KSet, Args: []*Type{elem}}
	case *ast.TupleLit:
		args := make([]*Type, len(ex.Elems))
		for i, el := range ex.Elems {
			args[i] = c.infer(el, env)
		}
		return &Type{Kind: KTuple, Args: args}
	case *ast.UnaryExpr:
		return c.inferUnary(ex, env)
	case *ast.BinaryExpr:
		return c.inferBinary(ex, env)
	case *ast.RangeExpr:
		c.infer(ex.Low, env)
		c.infer(ex.High, env)
		return &Type{Kind: KList, Args: []*Type{TInt}}
	case *ast.PipeExpr:
		c.infer(ex.Left, env)
		return c.infer(ex.Call, env)
	case *ast.ComposeExpr:
		c.infer(ex.Left, env)
		c.infer(ex.Right, env)
		return Unknown
	case *ast.NullSafeAccess:
		tt := c.infer(ex.Target, env)
		if inner, ok := IsOptional(tt); ok {
			return Optional(c.fieldType(inner, ex.Field, ex.Span()))
		}
		return Optional(c.fieldType(tt, ex.Field, ex.Span()))
	case *ast.NullSafeIndex:
		tt := c.infer(ex.Target, env)
		c.infer(ex.Index, env)
		return Optional(elemTypeOf(tt))
	case *ast.NullCoalesce:
		left := c.infer(ex.Left, env)
		right := c.infer(ex.Right, env)
		if inner, ok := IsOptional(left); ok {
			return Unify(inner, right)
		}
		return Unify(left, right)
	case *ast.NullAssert:
		tt := c.infer(ex.Target, env)
		if inner, ok := IsOptional(tt); ok {
			return inner
		}
		return tt
	case *ast.TypeTest:
		c.infer(ex.Target, env)
		return TBool
	case *ast.TypeCast:
		c.infer(ex.Target, env)
		return FromAST(ex.Type)
	case *ast.FieldAccess:
		tt := c.infer(ex.Target, env)
		return c.fieldType(tt, ex.Field, ex.Span())
	case *ast.IndexExpr:
		tt := c.infer(ex.Target, env)
		c.infer(ex.Index, env)
		if tt.Kind == KTuple {
			return Unknown // literal tuple index resolved by pkg/lower from a constant, not here
		}
		return elemTypeOf(tt)
	case *ast.CallExpr:
		return c.inferCall(ex, env)
	case *ast.Comprehension:
		iterT := c.infer(ex.Iter, env)
		child := env.Child()
		c.bindPatternType(ex.Pattern, elemTypeOf(iterT), child)
		if ex.Filter != nil {
			c.expectBool(ex.Filter, child)
		}
		switch ex.Kind {
		case ast.CompMap:
			k := c.infer(ex.Key, child)
			v := c.infer(ex.Value, child)
			return &Type{Kind: KMap, Args: []*Type{k, v}}
		case ast.CompSet:
			return &Type{Kind: KSet, Args: []*Type{c.infer(ex.Value, child)}}
		default:
			return &Type{Kind: KList, Args: []*Type{c.infer(ex.Value, child)}}
		}
	case *ast.LambdaExpr:
		return c.inferLambda(ex, env)
	case *ast.IfExpr:
		c.expectBool(ex.Cond, env)
		return Unify(c.infer(ex.Then, env), c.infer(ex.Else, env))
	case *ast.WhenExpr:
		result := Unknown
		for _, arm := range ex.Arms {
			if arm.Cond != nil {
				c.expectBool(arm.Cond, env)
			}
			result = Unify(result, c.infer(arm.Body, env))
		}
		return result
	case *ast.MatchExpr:
		subjT := c.infer(ex.Subject, env)
		arms := make([]patternArm, len(ex.Arms))
		for i, arm := range ex.Arms {
			arms[i] = patternArm{Pattern: arm.Pattern, HasGuard: arm.Guard != nil}
		}
		c.checkExhaustive(subjT, arms, ex.Span())
		result := Unknown
		for _, arm := range ex.Arms {
			child := env.Child()
			c.bindPatternTypeFromSubject(arm.Pattern, subjT, child)
			if arm.Guard != nil {
				c.expectBool(arm.Guard, child)
			}
			result = Unify(result, c.infer(arm.Body, child))
		}
		return result
	case *ast.ComptimeExpr:
		return c.infer(ex.Value, env)
	case *ast.PerformExpr:
		for _, a := range ex.Args {
			c.infer(a, env)
		}
		return c.inferEffectOpReturn(ex)
	case *ast.HandleExpr:
		child := env.Child()
		var result *Type = Unknown
		for _, s := range ex.Body {
			if es, ok := s.(*ast.ExprStmt); ok {
				result = c.infer(es.Value, child)
				continue
			}
			c.checkStmt(s, child, nil)
		}
		for _, cl := range ex.Clauses {
			clEnv := child.Child()
			for _, p := range cl.Params {
				clEnv.Set(p.Name, FromAST(p.Type))
			}
			c.checkBlock(cl.Body, clEnv, nil)
		}
		return result
	case *ast.ResumeExpr:
		c.infer(ex.Value, env)
		return Unknown
	case *ast.AwaitExpr:
		return c.infer(ex.Value, env)
	case *ast.SpawnExpr:
		st := c.infer(ex.Value, env)
		if st.Kind == KFunc && len(st.Args) > 0 {
			return st.Args[len(st.Args)-1] // a spawned closure's future settles to its result
		}
		return st
	case *ast.TryExpr:
		tt := c.infer(ex.Value, env)
		if tt.Kind == KResult {
			return tt.Args[0]
		}
		return tt
	default:
		return Unknown
	}
}

func literalType(k ast.LiteralKind) *Type {
	switch k {
	case ast.LitInt:
		return TInt
	case ast.LitBigInt:
		return Scalar("BigInt")
	case ast.LitFloat:
		return TFloat
	case ast.LitBool:
		return TBool
	case ast.LitString, ast.LitRawString:
		return TString
	case ast.LitBytes:
		return TBytes
	case ast.LitNull:
		return TNull
	default:
		return Unknown
	}
}

func (c *Checker) inferIdent(ex *ast.Ident, env *Env) *Type {
	if t, ok := env.Get(ex.Name); ok {
		return t
	}
	if cell, ok := c.cells[ex.Name]; ok {
		return c.cellFuncType(cell)
	}
	if t, ok := c.ambientType(ex.Name); ok {
		return t
	}
	candidates := append(append([]string{}, env.Names()...), c.globalNames...)
	suggestion := suggestName(ex.Name, candidates)
	c.errorfSuggest(ex.Span(), "UndeclaredIdentifier", suggestion, "undeclared identifier %q", ex.Name)
	return Unknown
}

// ambientType resolves names that are callable without a user cell
// declaration: intrinsics, tool aliases, constants, process
// constructors, and enum variant constructors. Their precise
// signatures live in the runtime; value-level checking treats them as
// unconstrained callables.
func (c *Checker) ambientType(name string) (*Type, bool) {
	if _, ok := lir.IntrinsicID(name); ok {
		return Unknown, true
	}
	if c.res != nil {
		if _, ok := c.res.Tools[name]; ok {
			return Unknown, true
		}
		if sym, ok := c.res.Globals[name]; ok && (sym.Kind == "process" || sym.Kind == "const" || sym.Kind == "extern") {
			return Unknown, true
		}
	}
	for enumName, decl := range c.enums {
		for _, v := range decl.Variants {
			if v.Name == name {
				return &Type{Kind: KEnum, Name: enumName}, true
			}
		}
	}
	return nil, false
}

func (c *Checker) cellFuncType(cell *ast.CellDecl) *Type {
	args := make([]*Type, 0, len(cell.Params)+1)
	for _, p := range cell.Params {
		args = append(args, FromAST(p.Type))
	}
	args = append(args, FromAST(cell.Ret))
	return &Type{Kind: KFunc, Args: args, Effects: cell.Effects.Effects}
}

func (c *Checker) inferLambda(ex *ast.LambdaExpr, env *Env) *Type {
	child := env.Child()
	args := make([]*Type, 0, len(ex.Params)+1)
	for _, p := range ex.Params {
		pt := FromAST(p.Type)
		child.Set(p.Name, pt)
		args = append(args, pt)
	}
	var ret *Type
	if ex.Expr != nil {
		ret = c.infer(ex.Expr, child)
	} else {
		c.checkBlock(ex.Body, child, FromAST(ex.Ret))
		ret = FromAST(ex.Ret)
	}
	if ex.Ret != nil {
		ret = FromAST(ex.Ret)
	}
	args = append(args, ret)
	return &Type{Kind: KFunc, Args: args}
}

func (c *Checker) inferUnary(ex *ast.UnaryExpr, env *Env) *Type {
	t := c.infer(ex.Operand, env)
	switch ex.Op {
	case ast.UnaryNot:
		if t.Kind != KUnknown && !Equal(t, TBool) {
			c.errorf(ex.Span(), "TypeMismatch", "operator 'not' requires Bool, got %s", t)
		}
		return TBool
	case ast.UnaryBitNot:
		if t.Kind != KUnknown && !Equal(t, TInt) {
			c.errorf(ex.Span(), "TypeMismatch", "bitwise not requires Int, got %s", t)
		}
		return TInt
	default: // UnaryNeg
		if t.Kind != KUnknown && !Equal(t, TInt) && !Equal(t, TFloat) {
			c.errorf(ex.Span(), "TypeMismatch", "unary '-' requires Int or Float, got %s", t)
		}
		return t
	}
}

func (c *Checker) inferBinary(ex *ast.BinaryExpr, env *Env) *Type {
	l := c.infer(ex.Left, env)
	r := c.infer(ex.Right, env)
	switch ex.Op {
	case ast.BAdd, ast.BSub, ast.BMul, ast.BDiv, ast.BFloorDiv, ast.BMod, ast.BPow:
		if isNumeric(l) && isNumeric(r) {
			if Equal(l, TFloat) || Equal(r, TFloat) {
				return TFloat
			}
			return TInt
		}
		if ex.Op == ast.BAdd && Equal(l, TString) && Equal(r, TString) {
			return TString
		}
		return Unify(l, r)
	case ast.BConcat:
		return Unify(l, r)
	case ast.BBitAnd, ast.BBitOr, ast.BBitXor, ast.BShl, ast.BShr:
		return TInt
	case ast.BEq, ast.BNeq, ast.BLt, ast.BLe, ast.BGt, ast.BGe, ast.BIn:
		return TBool
	case ast.BAnd, ast.BOr:
		c.expectBool(ex.Left, env)
		c.expectBool(ex.Right, env)
		return TBool
	default:
		return Unknown
	}
}

func isNumeric(t *Type) bool {
	return t.Kind == KScalar && (t.Name == ast.TInt || t.Name == ast.TFloat) || t.Kind == KUnknown
}

func (c *Checker) inferRecordLit(ex *ast.RecordLit, env *Env) *Type {
	for _, f := range ex.Fields {
		c.infer(f.Value, env)
	}
	if ex.Type == "" {
		return Unknown
	}
	rec := c.records[ex.Type]
	if rec == nil {
		return &Type{Kind: KRecord, Name: ex.Type}
	}
	for _, f := range ex.Fields {
		found := false
		for _, rf := range rec.Fields {
			if rf.Name == f.Name {
				found = true
				vt := c.infer(f.Value, env)
				if !Assignable(vt, FromAST(rf.Type)) {
					c.errorf(f.Value.Span(), "TypeMismatch", "field %q of %s expects %s, got %s", f.Name, ex.Type, FromAST(rf.Type), vt)
				}
			}
		}
		if !found {
			c.errorf(ex.Span(), "UnknownField", "record %q has no field %q", ex.Type, f.Name)
		}
	}
	return &Type{Kind: KRecord, Name: ex.Type}
}

func (c *Checker) fieldType(t *Type, field string, sp diagnostic.Span) *Type {
	if t.Kind == KRecord {
		rec := c.records[t.Name]
		if rec != nil {
			for _, f := range rec.Fields {
				if f.Name == field {
					return FromAST(f.Type)
				}
			}
			c.errorf(sp, "UnknownField", "record %q has no field %q", t.Name, field)
		}
	}
	return Unknown
}

func (c *Checker) inferCall(ex *ast.CallExpr, env *Env) *Type {
	calleeT := c.infer(ex.Callee, env)
	for _, a := range ex.Args {
		c.infer(a.Value, env)
	}
	if calleeT.Kind != KFunc {
		return Unknown
	}
	if len(calleeT.Args) == 0 {
		return Unknown
	}
	paramTypes := calleeT.Args[:len(calleeT.Args)-1]
	for i, a := range ex.Args {
		if i >= len(paramTypes) {
			break
		}
		at := c.infer(a.Value, env)
		if !Assignable(at, paramTypes[i]) {
			c.errorf(a.Value.Span(), "TypeMismatch", "argument %d expects %s, got %s", i+1, paramTypes[i], at)
		}
	}
	return calleeT.Args[len(calleeT.Args)-1]
}

func (c *Checker) inferEffectOpReturn(ex *ast.PerformExpr) *Type {
	return Unknown
}
