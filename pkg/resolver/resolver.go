// Package resolver implements the two-pass name resolution and effect
// inference stage between parsing and type checking.
package resolver

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
)

// Symbol records where a top-level name was declared, for duplicate
// detection and later lookup by pkg/types/pkg/lower.
type Symbol struct {
	Name string
	Item ast.Item
	Kind string // "cell", "record", "enum", "type", "trait", "const", "effect", "handler", "agent", "process", "extern", "macro"
}

// EffectCause names the single expression that first introduced one
// effect kind into a cell's inferred row, so diagnostics can explain
// *why* an effect is present, not just that it is.
type EffectCause struct {
	Effect  string
	Reason  string
	Span    diagnostic.Span
	ViaTool bool // the effect came from a tool call's binding, which always requires an explicit row
}

// CellInfo is everything the resolver computes for one cell.
type CellInfo struct {
	Decl          *ast.CellDecl
	Inferred      map[string]EffectCause // effect name -> cause
	Row           []string               // sorted inferred effect names
	Deterministic bool
}

// Result is the resolver's complete output, consumed by pkg/types and
// pkg/lower.
type Result struct {
	Globals        map[string]Symbol
	Cells          map[string]*CellInfo
	Tools          map[string]ast.UseToolDecl // alias -> decl
	Grants         map[string]GrantPolicy     // alias -> merged policy
	EffectBindings map[string]string          // effect name -> tool alias
	Deterministic  bool
	FutureSchedule string // "" if unspecified; else "eager" | "deferred_fifo"
}

// Resolver runs the two passes over one parsed file.
type Resolver struct {
	bag *diagnostic.Bag
	res *Result
}

// New returns a Resolver that reports into bag.
func New(bag *diagnostic.Bag) *Resolver {
	return &Resolver{
		bag: bag,
		res: &Result{
			Globals:        map[string]Symbol{},
			Cells:          map[string]*CellInfo{},
			Tools:          map[string]ast.UseToolDecl{},
			Grants:         map[string]GrantPolicy{},
			EffectBindings: map[string]string{},
		},
	}
}

// Resolve runs pass 1 (declaration registration) then pass 2 (binding,
// effect inference, grant/binding resolution, process validation).
func (r *Resolver) Resolve(file *ast.File) *Result {
	r.pass1Items(file.Items)
	r.resolveDirectives(file.Items)
	// Grant and effect-binding resolution needs only declarations, and
	// effect inference needs the bindings (a tool call contributes its
	// bound effect), so bindings resolve before the inference rounds.
	r.resolveGrantsAndBindings(file.Items)

	// Effect inference is a fixed-point over the call graph: a cell's
	// row can depend on a callee declared later in the file (or in a
	// mutually recursive cycle), so silent rounds settle the inferred
	// rows before the final round reports diagnostics against them.
	rounds := len(r.res.Cells) + 1
	if rounds > 8 {
		rounds = 8
	}
	for round := 0; round < rounds; round++ {
		r.pass2Items(file.Items, round == rounds-1)
	}

	r.validateProcesses(file.Items)
	return r.res
}

// pass1Items registers every declaration (recursing into agent bodies)
// and reports duplicate definitions across all declaration kinds.
func (r *Resolver) pass1Items(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.CellDecl:
			r.register(d.Name, it, "cell", d.Span())
			r.res.Cells[d.Name] = &CellInfo{Decl: d}
		case *ast.RecordDecl:
			r.register(d.Name, it, "record", d.Span())
		case *ast.EnumDecl:
			r.register(d.Name, it, "enum", d.Span())
		case *ast.TypeAliasDecl:
			r.register(d.Name, it, "type", d.Span())
		case *ast.TraitDecl:
			r.register(d.Name, it, "trait", d.Span())
		case *ast.ConstDecl:
			r.register(d.Name, it, "const", d.Span())
		case *ast.EffectDecl:
			r.register(d.Name, it, "effect", d.Span())
		case *ast.HandlerDecl:
			r.register(d.Name, it, "handler", d.Span())
		case *ast.AgentDecl:
			r.register(d.Name, it, "agent", d.Span())
			r.pass1Items(d.Items)
		case *ast.ProcessDecl:
			r.register(d.Name, it, "process", d.Span())
			for _, m := range d.Methods {
				r.res.Cells[d.Name+"."+m.Name] = &CellInfo{Decl: m}
			}
		case *ast.ExternDecl:
			r.register(d.Name, it, "extern", d.Span())
		case *ast.MacroDecl:
			r.register(d.Name, it, "macro", d.Span())
		case *ast.UseToolDecl:
			r.res.Tools[d.Alias] = *d
		}
	}
}

func (r *Resolver) register(name string, item ast.Item, kind string, sp diagnostic.Span) {
	if existing, ok := r.res.Globals[name]; ok {
		r.bag.Add(diagnostic.Diagnostic{
			Severity: diagnostic.SeverityError,
			Stage:    diagnostic.StageResolve,
			Kind:     "DuplicateDefinition",
			Message:  fmt.Sprintf("%q is already declared as a %s", name, existing.Kind),
			Primary:  sp,
		})
		return
	}
	r.res.Globals[name] = Symbol{Name: name, Item: item, Kind: kind}
}

// resolveDirectives scans top-level `@name value` directives for
// module metadata (`@deterministic`, `@future_schedule`).
func (r *Resolver) resolveDirectives(items []ast.Item) {
	for _, it := range items {
		dir, ok := it.(*ast.DirectiveItem)
		if !ok {
			continue
		}
		switch dir.Name {
		case "deterministic":
			if b, ok := boolArg(dir.Args); ok {
				r.res.Deterministic = b
			}
		case "future_schedule":
			if s, ok := stringArg(dir.Args); ok {
				r.res.FutureSchedule = s
			}
		}
	}
}

func boolArg(args []ast.Expr) (bool, bool) {
	if len(args) != 1 {
		return false, false
	}
	lit, ok := args[0].(*ast.Literal)
	if !ok || lit.Kind != ast.LitBool {
		return false, false
	}
	return lit.Text == "true", true
}

func stringArg(args []ast.Expr) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	lit, ok := args[0].(*ast.Literal)
	if !ok {
		return "", false
	}
	return lit.Text, true
}

// pass2Items binds every cell body's expressions to declarations and
// infers effect rows. Diagnostics are only recorded when emit is true
// (the final fixed-point round).
func (r *Resolver) pass2Items(items []ast.Item, emit bool) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.CellDecl:
			r.resolveCell(d.Name, d, emit)
		case *ast.AgentDecl:
			r.pass2Items(d.Items, emit)
		case *ast.ProcessDecl:
			for _, m := range d.Methods {
				r.resolveCell(d.Name+"."+m.Name, m, emit)
			}
		}
	}
}

func (r *Resolver) resolveCell(key string, d *ast.CellDecl, emit bool) {
	info := r.res.Cells[key]
	if info == nil {
		info = &CellInfo{Decl: d}
		r.res.Cells[key] = info
	}
	scope := newScope(nil)
	for _, p := range d.Params {
		scope.bind(p.Name)
	}
	inferred := map[string]EffectCause{}
	r.inferBlock(d.Body, scope, inferred)
	info.Inferred = inferred

	var row []string
	for eff := range inferred {
		row = append(row, eff)
	}
	sortStrings(row)
	info.Row = row

	if !emit {
		return
	}

	if d.Effects.Explicit {
		declared := map[string]bool{}
		for _, e := range d.Effects.Effects {
			declared[e] = true
		}
		for eff, cause := range inferred {
			if !declared[eff] {
				r.bag.Add(diagnostic.Diagnostic{
					Severity: diagnostic.SeverityError,
					Stage:    diagnostic.StageResolve,
					Kind:     "UndeclaredEffect",
					Message:  fmt.Sprintf("cell %q performs effect %q not present in its declared row", d.Name, eff),
					Primary:  cause.Span,
					Cause:    []string{cause.Reason},
				})
			}
		}
	} else {
		// strict default: an effect introduced by a tool binding always
		// needs an explicit row on the calling cell
		for eff, cause := range inferred {
			if cause.ViaTool {
				r.bag.Add(diagnostic.Diagnostic{
					Severity: diagnostic.SeverityError,
					Stage:    diagnostic.StageResolve,
					Kind:     "UndeclaredEffect",
					Message:  fmt.Sprintf("cell %q performs effect %q but declares no effect row", d.Name, eff),
					Primary:  cause.Span,
					Cause:    []string{cause.Reason},
				})
			}
		}
	}

	if r.res.Deterministic {
		for eff, cause := range inferred {
			if eff == "random" || eff == "time" || !knownEffects[eff] {
				r.bag.Add(diagnostic.Diagnostic{
					Severity: diagnostic.SeverityError,
					Stage:    diagnostic.StageResolve,
					Kind:     "NondeterministicEffect",
					Message:  fmt.Sprintf("cell %q contributes non-deterministic effect %q (%s) under @deterministic true", d.Name, eff, cause.Reason),
					Primary:  cause.Span,
				})
			}
		}
	}
}

var knownEffects = map[string]bool{
	"http": true, "llm": true, "fs": true, "trace": true, "state": true,
	"random": true, "time": true, "emit": true,
}

func sortStrings(xs []string) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
