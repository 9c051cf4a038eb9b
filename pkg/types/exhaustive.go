package types

import (
	"sort"
	"strings"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
)

// patternArm is the minimal shape checkExhaustive needs from a match
// arm: which pattern it tests and whether a guard makes it
// conditional (a guarded arm never counts toward exhaustiveness, since
// its coverage depends on a runtime condition).
type patternArm struct {
	Pattern  ast.Pattern
	HasGuard bool
}

// checkExhaustive reports NonExhaustiveMatch when subjType is an enum
// or Bool and arms fail to cover every case. Other subject kinds are
// not required to be exhaustive.
func (c *Checker) checkExhaustive(subjType *Type, arms []patternArm, sp diagnostic.Span) {
	if subjType == nil || subjType.Kind == KUnknown {
		return
	}
	if hasCatchAll(arms) {
		return
	}
	switch subjType.Kind {
	case KRecord, KEnum:
		enumDecl := c.enums[subjType.Name]
		if enumDecl == nil {
			return
		}
		covered := map[string]bool{}
		for _, arm := range arms {
			collectVariantTags(arm.Pattern, arm.HasGuard, covered)
		}
		var missing []string
		for _, v := range enumDecl.Variants {
			if !covered[v.Name] {
				missing = append(missing, v.Name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			c.errorf(sp, "NonExhaustiveMatch", "match on %s is not exhaustive, missing variant(s): %s", subjType.Name, strings.Join(missing, ", "))
		}
	case KScalar:
		if subjType.Name != ast.TBool {
			return
		}
		var hasTrue, hasFalse bool
		for _, arm := range arms {
			if arm.HasGuard {
				continue
			}
			collectBoolCoverage(arm.Pattern, &hasTrue, &hasFalse)
		}
		if !hasTrue || !hasFalse {
			c.errorf(sp, "NonExhaustiveMatch", "match on Bool is not exhaustive, missing: %s", missingBoolArm(hasTrue, hasFalse))
		}
	}
}

// hasCatchAll reports whether arms contains an unconditional wildcard
// or plain identifier pattern, which alone makes any match exhaustive.
func hasCatchAll(arms []patternArm) bool {
	for _, arm := range arms {
		if arm.HasGuard {
			continue
		}
		switch arm.Pattern.(type) {
		case *ast.WildcardPattern, *ast.IdentPattern:
			return true
		}
	}
	return false
}

func collectVariantTags(p ast.Pattern, guarded bool, covered map[string]bool) {
	switch pat := p.(type) {
	case *ast.VariantPattern:
		if !guarded {
			covered[pat.Variant] = true
		}
	case *ast.OrPattern:
		for _, alt := range pat.Alts {
			collectVariantTags(alt, guarded, covered)
		}
	case *ast.GuardPattern:
		collectVariantTags(pat.Inner, true, covered)
	}
}

func collectBoolCoverage(p ast.Pattern, hasTrue, hasFalse *bool) {
	switch pat := p.(type) {
	case *ast.LiteralPattern:
		if pat.Value == nil {
			return
		}
		switch pat.Value.Text {
		case "true":
			*hasTrue = true
		case "false":
			*hasFalse = true
		}
	case *ast.OrPattern:
		for _, alt := range pat.Alts {
			collectBoolCoverage(alt, hasTrue, hasFalse)
		}
	}
}

func missingBoolArm(hasTrue, hasFalse bool) string {
	switch {
	case !hasTrue && !hasFalse:
		return "true, false"
	case !hasTrue:
		return "true"
	default:
		return "false"
	}
}
