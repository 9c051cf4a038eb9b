package resolver

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
)

// GrantPolicy is the capability envelope merged from a `grant` block's
// entries: domain allow-list,
// timeout, max-tokens ceiling, effect allow-list, and arbitrary custom
// keys requiring an exact-match value.
type GrantPolicy struct {
	Alias       string
	DomainGlobs []string
	TimeoutMs   int
	MaxTokens   int
	Effects     []string
	CustomKeys  map[string]string
}

// resolveGrantsAndBindings evaluates every GrantDecl's literal entry
// list into a GrantPolicy and every BindEffectDecl into an
// effect-to-tool binding, preferring explicit bindings over heuristic
// name matching.
func (r *Resolver) resolveGrantsAndBindings(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.GrantDecl:
			r.res.Grants[d.Alias] = r.evalGrant(d)
		case *ast.BindEffectDecl:
			r.res.EffectBindings[d.Effect] = d.Alias
		case *ast.AgentDecl:
			r.resolveGrantsAndBindings(d.Items)
		}
	}

	// Heuristic fallback: an effect with no explicit binding but whose
	// name exactly matches a declared tool alias is bound to it.
	for _, it := range items {
		ed, ok := it.(*ast.EffectDecl)
		if !ok {
			continue
		}
		if _, bound := r.res.EffectBindings[ed.Name]; bound {
			continue
		}
		if _, hasTool := r.res.Tools[ed.Name]; hasTool {
			r.res.EffectBindings[ed.Name] = ed.Name
		}
	}

	// Every grant must reference a declared tool alias.
	for alias := range r.res.Grants {
		if _, ok := r.res.Tools[alias]; !ok {
			r.bag.Warnf(diagnostic.StageResolve, "UnknownToolAlias", diagnostic.Span{},
				"grant %q references a tool alias with no matching `use tool` declaration", alias)
		}
	}
}

func (r *Resolver) evalGrant(d *ast.GrantDecl) GrantPolicy {
	gp := GrantPolicy{Alias: d.Alias, CustomKeys: map[string]string{}}
	for key, expr := range d.Entries {
		switch key {
		case "domains":
			gp.DomainGlobs = stringListLit(expr)
		case "effects":
			gp.Effects = stringListLit(expr)
		case "timeout_ms":
			if n, ok := intLit(expr); ok {
				gp.TimeoutMs = n
			}
		case "max_tokens":
			if n, ok := intLit(expr); ok {
				gp.MaxTokens = n
			}
		default:
			if lit, ok := expr.(*ast.Literal); ok {
				gp.CustomKeys[key] = lit.Text
			} else {
				r.bag.Errorf(diagnostic.StageResolve, "InvalidGrantEntry", expr.Span(),
					"grant entry %q must be a literal value", key)
			}
		}
	}
	return gp
}

func stringListLit(e ast.Expr) []string {
	lst, ok := e.(*ast.ListLit)
	if !ok {
		return nil
	}
	var out []string
	for _, el := range lst.Elems {
		if lit, ok := el.(*ast.Literal); ok {
			out = append(out, lit.Text)
		}
	}
	return out
}

func intLit(e ast.Expr) (int, bool) {
	lit, ok := e.(*ast.Literal)
	if !ok || (lit.Kind != ast.LitInt && lit.Kind != ast.LitBigInt) {
		return 0, false
	}
	var n int
	_, err := fmt.Sscanf(lit.Text, "%d", &n)
	return n, err == nil
}
