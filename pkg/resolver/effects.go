package resolver

import (
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
)

// intrinsicEffects maps built-in call names to the effect kind they
// contribute.
var intrinsicEffects = map[string]string{
	"now":        "time",
	"today":      "time",
	"elapsed":    "time",
	"timestamp":  "time",
	"random":     "random",
	"random_int": "random",
	"shuffle":    "random",
	"uuid":       "random",
}

func (r *Resolver) add(out map[string]EffectCause, eff, reason string, sp diagnostic.Span) {
	if _, ok := out[eff]; ok {
		return
	}
	out[eff] = EffectCause{Effect: eff, Reason: reason, Span: sp}
}

func (r *Resolver) inferBlock(stmts []ast.Stmt, sc *scope, out map[string]EffectCause) {
	for _, s := range stmts {
		r.inferStmt(s, sc, out)
	}
}

func (r *Resolver) inferStmt(s ast.Stmt, sc *scope, out map[string]EffectCause) {
	switch st := s.(type) {
	case *ast.LetStmt:
		r.inferExpr(st.Value, sc, out)
		bindPattern(sc, st.Pattern)
	case *ast.AssignStmt:
		r.inferExpr(st.Target, sc, out)
		r.inferExpr(st.Value, sc, out)
	case *ast.IfStmt:
		r.inferExpr(st.Cond, sc, out)
		r.inferBlock(st.Then, sc.child(), out)
		r.inferBlock(st.Else, sc.child(), out)
	case *ast.ForStmt:
		r.inferExpr(st.Iter, sc, out)
		child := sc.child()
		bindPattern(child, st.Pattern)
		if st.Filter != nil {
			r.inferExpr(st.Filter, child, out)
		}
		r.inferBlock(st.Body, child, out)
	case *ast.WhileStmt:
		r.inferExpr(st.Cond, sc, out)
		r.inferBlock(st.Body, sc.child(), out)
	case *ast.LoopStmt:
		r.inferBlock(st.Body, sc.child(), out)
	case *ast.MatchStmt:
		r.inferExpr(st.Subject, sc, out)
		for _, arm := range st.Arms {
			child := sc.child()
			bindPattern(child, arm.Pattern)
			if arm.Guard != nil {
				r.inferExpr(arm.Guard, child, out)
			}
			r.inferBlock(arm.Body, child, out)
		}
	case *ast.ReturnStmt:
		if st.Value != nil {
			r.inferExpr(st.Value, sc, out)
		}
	case *ast.HaltStmt:
		if st.Value != nil {
			r.inferExpr(st.Value, sc, out)
		}
	case *ast.EmitStmt:
		r.inferExpr(st.Value, sc, out)
		r.add(out, "emit", "emit statement", st.Span())
	case *ast.DeferStmt:
		r.inferBlock(st.Body, sc.child(), out)
	case *ast.YieldStmt:
		r.inferExpr(st.Value, sc, out)
	case *ast.BreakStmt:
		if st.Value != nil {
			r.inferExpr(st.Value, sc, out)
		}
	case *ast.ExprStmt:
		r.inferExpr(st.Value, sc, out)
	}
}

func (r *Resolver) inferExpr(e ast.Expr, sc *scope, out map[string]EffectCause) {
	if e == nil {
		return
	}
	switch ex := e.(type) {
	case *ast.Literal, *ast.Ident:
		// pure: an Ident may be a free reference, but references alone
		// never contribute an effect (only calls through them do).
	case *ast.InterpString:
		for _, seg := range ex.Segments {
			if seg.Expr != nil {
				r.inferExpr(seg.Expr, sc, out)
			}
		}
	case *ast.RecordLit:
		for _, f := range ex.Fields {
			r.inferExpr(f.Value, sc, out)
		}
	case *ast.ListLit:
		for _, el := range ex.Elems {
			r.inferExpr(el, sc, out)
		}
	case *ast.MapLit:
		for _, en := range ex.Entries {
			r.inferExpr(en.Key, sc, out)
			r.inferExpr(en.Value, sc, out)
		}
	case *ast.SetLit:
		for _, el := range ex.Elems {
			r.inferExpr(el, sc, out)
		}
	case *ast.TupleLit:
		for _, el := range ex.Elems {
			r.inferExpr(el, sc, out)
		}
	case *ast.UnaryExpr:
		r.inferExpr(ex.Operand, sc, out)
	case *ast.BinaryExpr:
		r.inferExpr(ex.Left, sc, out)
		r.inferExpr(ex.Right, sc, out)
	case *ast.RangeExpr:
		r.inferExpr(ex.Low, sc, out)
		r.inferExpr(ex.High, sc, out)
	case *ast.PipeExpr:
		r.inferExpr(ex.Left, sc, out)
		r.inferExpr(ex.Call, sc, out)
	case *ast.ComposeExpr:
		r.inferExpr(ex.Left, sc, out)
		r.inferExpr(ex.Right, sc, out)
	case *ast.NullSafeAccess:
		r.inferExpr(ex.Target, sc, out)
	case *ast.NullSafeIndex:
		r.inferExpr(ex.Target, sc, out)
		r.inferExpr(ex.Index, sc, out)
	case *ast.NullCoalesce:
		r.inferExpr(ex.Left, sc, out)
		r.inferExpr(ex.Right, sc, out)
	case *ast.NullAssert:
		r.inferExpr(ex.Target, sc, out)
	case *ast.TypeTest:
		r.inferExpr(ex.Target, sc, out)
	case *ast.TypeCast:
		r.inferExpr(ex.Target, sc, out)
	case *ast.FieldAccess:
		r.inferExpr(ex.Target, sc, out)
	case *ast.IndexExpr:
		r.inferExpr(ex.Target, sc, out)
		r.inferExpr(ex.Index, sc, out)
	case *ast.CallExpr:
		r.inferCall(ex, sc, out)
	case *ast.Comprehension:
		r.inferExpr(ex.Iter, sc, out)
		child := sc.child()
		bindPattern(child, ex.Pattern)
		if ex.Filter != nil {
			r.inferExpr(ex.Filter, child, out)
		}
		if ex.Key != nil {
			r.inferExpr(ex.Key, child, out)
		}
		r.inferExpr(ex.Value, child, out)
	case *ast.LambdaExpr:
		child := sc.child()
		for _, p := range ex.Params {
			child.bind(p.Name)
		}
		if ex.Expr != nil {
			r.inferExpr(ex.Expr, child, out)
		}
		r.inferBlock(ex.Body, child, out)
	case *ast.IfExpr:
		r.inferExpr(ex.Cond, sc, out)
		r.inferExpr(ex.Then, sc, out)
		r.inferExpr(ex.Else, sc, out)
	case *ast.WhenExpr:
		for _, arm := range ex.Arms {
			if arm.Cond != nil {
				r.inferExpr(arm.Cond, sc, out)
			}
			r.inferExpr(arm.Body, sc, out)
		}
	case *ast.MatchExpr:
		r.inferExpr(ex.Subject, sc, out)
		for _, arm := range ex.Arms {
			child := sc.child()
			bindPattern(child, arm.Pattern)
			if arm.Guard != nil {
				r.inferExpr(arm.Guard, child, out)
			}
			r.inferExpr(arm.Body, child, out)
		}
	case *ast.ComptimeExpr:
		r.inferExpr(ex.Value, sc, out)
	case *ast.PerformExpr:
		for _, a := range ex.Args {
			r.inferExpr(a, sc, out)
		}
		r.add(out, ex.Effect, "perform "+ex.Effect+"."+ex.Op, ex.Span())
	case *ast.HandleExpr:
		r.inferBlock(ex.Body, sc.child(), out)
		for _, cl := range ex.Clauses {
			child := sc.child()
			for _, p := range cl.Params {
				child.bind(p.Name)
			}
			r.inferBlock(cl.Body, child, out)
		}
	case *ast.ResumeExpr:
		r.inferExpr(ex.Value, sc, out)
	case *ast.AwaitExpr:
		r.inferExpr(ex.Value, sc, out)
	case *ast.SpawnExpr:
		r.inferExpr(ex.Value, sc, out)
	case *ast.TryExpr:
		r.inferExpr(ex.Value, sc, out)
	}
}

func (r *Resolver) inferCall(ex *ast.CallExpr, sc *scope, out map[string]EffectCause) {
	for _, a := range ex.Args {
		r.inferExpr(a.Value, sc, out)
	}
	callee, ok := ex.Callee.(*ast.Ident)
	if !ok {
		r.inferExpr(ex.Callee, sc, out)
		return
	}
	if sc.has(callee.Name) {
		return // local closure value; its row was already accounted for where it was defined
	}
	if eff, isIntrinsic := intrinsicEffects[callee.Name]; isIntrinsic {
		r.add(out, eff, "call to "+callee.Name+"()", ex.Span())
		return
	}
	if info, isCell := r.res.Cells[callee.Name]; isCell {
		for _, eff := range info.Row {
			if cause, ok := info.Inferred[eff]; ok && cause.ViaTool {
				r.addTool(out, eff, "call to "+callee.Name+"() -> "+cause.Reason, ex.Span())
			} else {
				r.add(out, eff, "call to "+callee.Name+"()", ex.Span())
			}
		}
		return
	}
	if _, isTool := r.res.Tools[callee.Name]; isTool {
		for eff, alias := range r.res.EffectBindings {
			if alias == callee.Name {
				r.addTool(out, eff, "call to "+callee.Name+" -> effect "+eff+" via bind", ex.Span())
			}
		}
	}
}

func (r *Resolver) addTool(out map[string]EffectCause, eff, reason string, sp diagnostic.Span) {
	if _, ok := out[eff]; ok {
		return
	}
	out[eff] = EffectCause{Effect: eff, Reason: reason, Span: sp, ViaTool: true}
}

func bindPattern(sc *scope, p ast.Pattern) {
	switch pat := p.(type) {
	case *ast.IdentPattern:
		sc.bind(pat.Name)
	case *ast.TypedIdentPattern:
		sc.bind(pat.Name)
	case *ast.VariantPattern:
		for _, sub := range pat.Payload {
			bindPattern(sc, sub)
		}
		for _, f := range pat.Fields {
			bindPattern(sc, f.Pattern)
		}
	case *ast.RecordPattern:
		for _, f := range pat.Fields {
			bindPattern(sc, f.Pattern)
		}
	case *ast.TuplePattern:
		for _, sub := range pat.Elems {
			bindPattern(sc, sub)
		}
	case *ast.ListPattern:
		for _, sub := range pat.Elems {
			bindPattern(sc, sub)
		}
		if pat.HasRest && pat.Rest != "" && pat.Rest != "_" {
			sc.bind(pat.Rest)
		}
	case *ast.GuardPattern:
		bindPattern(sc, pat.Inner)
	case *ast.OrPattern:
		for _, alt := range pat.Alts {
			bindPattern(sc, alt)
		}
	}
}
