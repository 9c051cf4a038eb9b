// Package constraints validates `where` clauses on record declarations
// declarations: each clause must be a syntactically valid
// Bool-valued expression referencing only the record's own fields or
// pure (effect-free) cells. pkg/types already checks the Bool-typing
// half; this package owns the purity/reference half and marks which
// records need their constraint re-checked at construction time.
package constraints

import (
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/resolver"
)

// RecordConstraint is the per-record outcome of validating a `where`
// clause.
type RecordConstraint struct {
	Decl              *ast.RecordDecl
	Fields            []string // field names actually referenced by the clause
	NeedsRuntimeCheck bool     // true whenever the clause reads a field; pkg/lower emits a check at construction
}

// Result collects every record's constraint outcome, keyed by record
// name.
type Result struct {
	Records map[string]*RecordConstraint
}

// Validator walks a resolved file's record declarations.
type Validator struct {
	bag *diagnostic.Bag
	res *resolver.Result
	out *Result
}

// New returns a Validator reporting into bag, using res to tell pure
// cells (empty inferred effect row) from effectful ones.
func New(bag *diagnostic.Bag, res *resolver.Result) *Validator {
	return &Validator{bag: bag, res: res, out: &Result{Records: map[string]*RecordConstraint{}}}
}

// Validate walks every RecordDecl in file (recursing into agents) and
// returns the accumulated Result.
func (v *Validator) Validate(file *ast.File) *Result {
	v.walkItems(file.Items)
	return v.out
}

func (v *Validator) walkItems(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.RecordDecl:
			v.validateRecord(d)
		case *ast.AgentDecl:
			v.walkItems(d.Items)
		}
	}
}

func (v *Validator) validateRecord(d *ast.RecordDecl) {
	rc := &RecordConstraint{Decl: d}
	v.out.Records[d.Name] = rc
	if d.Where == nil {
		return
	}
	fieldSet := map[string]bool{}
	for _, f := range d.Fields {
		fieldSet[f.Name] = true
	}
	seen := map[string]bool{}
	v.walkExpr(d.Where, fieldSet, map[string]bool{}, func(name string) {
		if !seen[name] {
			seen[name] = true
			rc.Fields = append(rc.Fields, name)
		}
	})
	rc.NeedsRuntimeCheck = len(rc.Fields) > 0
}

// walkExpr validates every identifier reference and call in e. locals
// is the set of names bound by an enclosing lambda/comprehension
// inside the clause (allowed unconditionally); onField is invoked for
// every record field the clause reads.
func (v *Validator) walkExpr(e ast.Expr, fields map[string]bool, locals map[string]bool, onField func(string)) {
	if e == nil {
		return
	}
	switch ex := e.(type) {
	case *ast.Literal:
	case *ast.InterpString:
		for _, seg := range ex.Segments {
			v.walkExpr(seg.Expr, fields, locals, onField)
		}
	case *ast.Ident:
		v.checkReference(ex.Name, ex.Span(), fields, locals, onField)
	case *ast.RecordLit:
		for _, f := range ex.Fields {
			v.walkExpr(f.Value, fields, locals, onField)
		}
	case *ast.ListLit:
		for _, el := range ex.Elems {
			v.walkExpr(el, fields, locals, onField)
		}
	case *ast.MapLit:
		for _, en := range ex.Entries {
			v.walkExpr(en.Key, fields, locals, onField)
			v.walkExpr(en.Value, fields, locals, onField)
		}
	case *ast.SetLit:
		for _, el := range ex.Elems {
			v.walkExpr(el, fields, locals, onField)
		}
	case *ast.TupleLit:
		for _, el := range ex.Elems {
			v.walkExpr(el, fields, locals, onField)
		}
	case *ast.UnaryExpr:
		v.walkExpr(ex.Operand, fields, locals, onField)
	case *ast.BinaryExpr:
		v.walkExpr(ex.Left, fields, locals, onField)
		v.walkExpr(ex.Right, fields, locals, onField)
	case *ast.RangeExpr:
		v.walkExpr(ex.Low, fields, locals, onField)
		v.walkExpr(ex.High, fields, locals, onField)
	case *ast.NullCoalesce:
		v.walkExpr(ex.Left, fields, locals, onField)
		v.walkExpr(ex.Right, fields, locals, onField)
	case *ast.NullAssert:
		v.walkExpr(ex.Target, fields, locals, onField)
	case *ast.NullSafeAccess:
		v.walkExpr(ex.Target, fields, locals, onField)
	case *ast.NullSafeIndex:
		v.walkExpr(ex.Target, fields, locals, onField)
		v.walkExpr(ex.Index, fields, locals, onField)
	case *ast.TypeTest:
		v.walkExpr(ex.Target, fields, locals, onField)
	case *ast.TypeCast:
		v.walkExpr(ex.Target, fields, locals, onField)
	case *ast.FieldAccess:
		v.walkExpr(ex.Target, fields, locals, onField)
	case *ast.IndexExpr:
		v.walkExpr(ex.Target, fields, locals, onField)
		v.walkExpr(ex.Index, fields, locals, onField)
	case *ast.CallExpr:
		v.checkCallee(ex, ex.Span())
		for _, a := range ex.Args {
			v.walkExpr(a.Value, fields, locals, onField)
		}
	case *ast.Comprehension:
		v.walkExpr(ex.Iter, fields, locals, onField)
		child := withPatternLocals(ex.Pattern, locals)
		v.walkExpr(ex.Value, fields, child, onField)
		v.walkExpr(ex.Key, fields, child, onField)
		v.walkExpr(ex.Filter, fields, child, onField)
	case *ast.LambdaExpr:
		child := cloneLocals(locals)
		for _, p := range ex.Params {
			child[p.Name] = true
		}
		v.walkExpr(ex.Expr, fields, child, onField)
		for _, s := range ex.Body {
			if es, ok := s.(*ast.ExprStmt); ok {
				v.walkExpr(es.Value, fields, child, onField)
			}
		}
	case *ast.IfExpr:
		v.walkExpr(ex.Cond, fields, locals, onField)
		v.walkExpr(ex.Then, fields, locals, onField)
		v.walkExpr(ex.Else, fields, locals, onField)
	case *ast.WhenExpr:
		for _, arm := range ex.Arms {
			v.walkExpr(arm.Cond, fields, locals, onField)
			v.walkExpr(arm.Body, fields, locals, onField)
		}
	case *ast.MatchExpr:
		v.walkExpr(ex.Subject, fields, locals, onField)
		for _, arm := range ex.Arms {
			child := withPatternLocals(arm.Pattern, locals)
			v.walkExpr(arm.Guard, fields, child, onField)
			v.walkExpr(arm.Body, fields, child, onField)
		}
	case *ast.ComptimeExpr:
		v.walkExpr(ex.Value, fields, locals, onField)
	default:
		// Effect-bearing forms (perform/handle/resume/await/spawn/try,
		// pipe/compose) never appear in a pure constraint clause; report
		// once here rather than listing every disallowed variant.
		v.bag.Errorf(diagnostic.StageConstraint, "ConstraintNotPure", e.Span(),
			"where clause may only use pure expressions; this form is not allowed in a constraint")
	}
}

func (v *Validator) checkReference(name string, sp diagnostic.Span, fields, locals map[string]bool, onField func(string)) {
	if locals[name] {
		return
	}
	if fields[name] {
		onField(name)
		return
	}
	if _, isCell := v.res.Cells[name]; isCell {
		// referenced as a value (not called) — e.g. passed as a
		// callback; purity is checked where it's actually called.
		return
	}
	v.bag.Errorf(diagnostic.StageConstraint, "ConstraintInvalidReference", sp,
		"where clause references %q, which is neither a field of the record nor a pure cell", name)
}

func (v *Validator) checkCallee(ex *ast.CallExpr, sp diagnostic.Span) {
	id, ok := ex.Callee.(*ast.Ident)
	if !ok {
		return // computed callee (e.g. a lambda expression); nothing more specific to say
	}
	info, isCell := v.res.Cells[id.Name]
	if !isCell {
		return // not a declared cell: either a local/lambda param or an unresolved name already reported by pkg/resolver
	}
	if len(info.Row) > 0 {
		v.bag.Errorf(diagnostic.StageConstraint, "ConstraintNotPure", sp,
			"where clause calls %q, which has effect(s) %v; constraints must be pure", id.Name, info.Row)
	}
}

func withPatternLocals(p ast.Pattern, locals map[string]bool) map[string]bool {
	child := cloneLocals(locals)
	bindPatternNames(p, child)
	return child
}

func cloneLocals(locals map[string]bool) map[string]bool {
	child := make(map[string]bool, len(locals)+2)
	for k := range locals {
		child[k] = true
	}
	return child
}

func bindPatternNames(p ast.Pattern, into map[string]bool) {
	switch pat := p.(type) {
	case *ast.IdentPattern:
		into[pat.Name] = true
	case *ast.TypedIdentPattern:
		into[pat.Name] = true
	case *ast.VariantPattern:
		for _, sub := range pat.Payload {
			bindPatternNames(sub, into)
		}
		for _, fp := range pat.Fields {
			bindPatternNames(fp.Pattern, into)
		}
	case *ast.RecordPattern:
		for _, fp := range pat.Fields {
			bindPatternNames(fp.Pattern, into)
		}
	case *ast.TuplePattern:
		for _, sub := range pat.Elems {
			bindPatternNames(sub, into)
		}
	case *ast.ListPattern:
		for _, sub := range pat.Elems {
			bindPatternNames(sub, into)
		}
		if pat.HasRest && pat.Rest != "" && pat.Rest != "_" {
			into[pat.Rest] = true
		}
	case *ast.GuardPattern:
		bindPatternNames(pat.Inner, into)
	case *ast.OrPattern:
		for _, alt := range pat.Alts {
			bindPatternNames(alt, into)
		}
	}
}
