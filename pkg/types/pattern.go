package types

import "github.com/lumen-lang/lumen/pkg/ast"

// bindPatternTypeFromSubject binds every identifier a pattern
// introduces to its narrowed type given the value being matched has
// type subj.
func (c *Checker) bindPatternTypeFromSubject(p ast.Pattern, subj *Type, env *Env) {
	switch pat := p.(type) {
	case *ast.IdentPattern:
		env.Set(pat.Name, subj)
	case *ast.TypedIdentPattern:
		env.Set(pat.Name, FromAST(pat.Type))
	case *ast.WildcardPattern, *ast.LiteralPattern, *ast.RangePattern:
		// no bindings
	case *ast.VariantPattern:
		enumName := pat.Enum
		if enumName == "" && subj != nil {
			enumName = subj.Name
		}
		enumDecl := c.enums[enumName]
		var fieldTypes []ast.RecordField
		if enumDecl != nil {
			for _, v := range enumDecl.Variants {
				if v.Name != pat.Variant {
					continue
				}
				fieldTypes = v.Fields
				for i, sub := range pat.Payload {
					if i < len(v.Payload) {
						c.bindPatternTypeFromSubject(sub, FromAST(v.Payload[i]), env)
					} else {
						c.bindPatternTypeFromSubject(sub, Unknown, env)
					}
				}
			}
		} else {
			for _, sub := range pat.Payload {
				c.bindPatternTypeFromSubject(sub, Unknown, env)
			}
		}
		for _, fp := range pat.Fields {
			ft := Unknown
			for _, f := range fieldTypes {
				if f.Name == fp.Name {
					ft = FromAST(f.Type)
				}
			}
			c.bindPatternTypeFromSubject(fp.Pattern, ft, env)
		}
	case *ast.RecordPattern:
		rec := c.records[pat.Type]
		for _, fp := range pat.Fields {
			ft := Unknown
			if rec != nil {
				for _, f := range rec.Fields {
					if f.Name == fp.Name {
						ft = FromAST(f.Type)
					}
				}
			}
			c.bindPatternTypeFromSubject(fp.Pattern, ft, env)
		}
	case *ast.TuplePattern:
		for i, sub := range pat.Elems {
			et := Unknown
			if subj != nil && subj.Kind == KTuple && i < len(subj.Args) {
				et = subj.Args[i]
			}
			c.bindPatternTypeFromSubject(sub, et, env)
		}
	case *ast.ListPattern:
		et := Unknown
		if subj != nil && subj.Kind == KList {
			et = subj.Args[0]
		}
		for _, sub := range pat.Elems {
			c.bindPatternTypeFromSubject(sub, et, env)
		}
		if pat.HasRest && pat.Rest != "" && pat.Rest != "_" {
			env.Set(pat.Rest, &Type{Kind: KList, Args: []*Type{et}})
		}
	case *ast.GuardPattern:
		c.bindPatternTypeFromSubject(pat.Inner, subj, env)
	case *ast.OrPattern:
		for _, alt := range pat.Alts {
			c.bindPatternTypeFromSubject(alt, subj, env)
		}
	}
}
