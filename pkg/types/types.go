// Package types implements bidirectional type checking with pattern
// exhaustiveness over a resolved AST over enum and Bool subjects.
package types

import (
	"strings"

	"github.com/lumen-lang/lumen/pkg/ast"
)

// Kind tags a Type's shape.
type Kind int

const (
	KScalar Kind = iota
	KList
	KMap
	KSet
	KTuple
	KResult
	KUnion
	KFunc
	KRecord
	KEnum
	KRowVar
	KUnknown // inference could not determine a type; never reported as an error by itself
)

// Type is the checker's internal type representation, built from
// ast.TypeExpr by FromAST and from declarations by the Checker.
type Type struct {
	Kind    Kind
	Name    string  // scalar/record/enum/row-var name
	Args    []*Type // List/Set: [elem]; Map: [key,val]; Tuple: elems; Result: [ok,err]; Union: alts; Func: [params..., ret]
	Effects []string
}

func Scalar(name string) *Type { return &Type{Kind: KScalar, Name: name} }

var (
	TString = Scalar(ast.TString)
	TInt    = Scalar(ast.TInt)
	TFloat  = Scalar(ast.TFloat)
	TBool   = Scalar(ast.TBool)
	TBytes  = Scalar(ast.TBytes)
	TJson   = Scalar(ast.TJson)
	TNull   = Scalar(ast.TNull)
	Unknown = &Type{Kind: KUnknown}
)

// FromAST converts a parsed type expression into the checker's
// internal representation. A nil input yields Unknown (an omitted
// annotation, to be inferred).
func FromAST(te ast.TypeExpr) *Type {
	if te == nil {
		return Unknown
	}
	switch t := te.(type) {
	case *ast.NamedType:
		args := make([]*Type, len(t.Args))
		for i, a := range t.Args {
			args[i] = FromAST(a)
		}
		switch t.Name {
		case ast.TString, ast.TInt, ast.TFloat, ast.TBool, ast.TBytes, ast.TJson, ast.TNull:
			return &Type{Kind: KScalar, Name: t.Name}
		default:
			return &Type{Kind: KRecord, Name: t.Name, Args: args} // enum names stay KRecord too; checkExhaustive looks them up among declared enums
		}
	case *ast.ListType:
		return &Type{Kind: KList, Args: []*Type{FromAST(t.Elem)}}
	case *ast.MapType:
		return &Type{Kind: KMap, Args: []*Type{FromAST(t.Key), FromAST(t.Value)}}
	case *ast.SetType:
		return &Type{Kind: KSet, Args: []*Type{FromAST(t.Elem)}}
	case *ast.TupleType:
		args := make([]*Type, len(t.Elems))
		for i, e := range t.Elems {
			args[i] = FromAST(e)
		}
		return &Type{Kind: KTuple, Args: args}
	case *ast.ResultType:
		return &Type{Kind: KResult, Args: []*Type{FromAST(t.Ok), FromAST(t.Err)}}
	case *ast.UnionType:
		args := make([]*Type, len(t.Alts))
		for i, a := range t.Alts {
			args[i] = FromAST(a)
		}
		return &Type{Kind: KUnion, Args: args}
	case *ast.FuncType:
		args := make([]*Type, 0, len(t.Params)+1)
		for _, p := range t.Params {
			args = append(args, FromAST(p))
		}
		args = append(args, FromAST(t.Ret))
		return &Type{Kind: KFunc, Args: args, Effects: t.Effects.Effects}
	case *ast.RowVarType:
		return &Type{Kind: KRowVar, Name: t.Name}
	default:
		return Unknown
	}
}

// Optional wraps t as `t | Null`, the desugaring of `T?`.
func Optional(t *Type) *Type {
	return &Type{Kind: KUnion, Args: []*Type{t, TNull}}
}

// String renders t for diagnostics.
func (t *Type) String() string {
	if t == nil {
		return "?"
	}
	switch t.Kind {
	case KScalar:
		return t.Name
	case KList:
		return "list[" + t.Args[0].String() + "]"
	case KMap:
		return "map[" + t.Args[0].String() + "," + t.Args[1].String() + "]"
	case KSet:
		return "set[" + t.Args[0].String() + "]"
	case KTuple:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KResult:
		return "result[" + t.Args[0].String() + "," + t.Args[1].String() + "]"
	case KUnion:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}
		return strings.Join(parts, " | ")
	case KFunc:
		parts := make([]string, len(t.Args)-1)
		for i := 0; i < len(t.Args)-1; i++ {
			parts[i] = t.Args[i].String()
		}
		return "fn(" + strings.Join(parts, ", ") + ") -> " + t.Args[len(t.Args)-1].String()
	case KRecord:
		return t.Name
	case KEnum:
		return t.Name
	case KRowVar:
		return ".." + t.Name
	default:
		return "?"
	}
}

// IsOptional reports whether t is a union containing Null, returning
// the non-Null member when there's exactly one other alternative.
func IsOptional(t *Type) (*Type, bool) {
	if t.Kind != KUnion {
		return nil, false
	}
	var nonNull []*Type
	hasNull := false
	for _, a := range t.Args {
		if a.Kind == KScalar && a.Name == ast.TNull {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, a)
	}
	if !hasNull || len(nonNull) != 1 {
		return nil, false
	}
	return nonNull[0], true
}

// Assignable reports whether a value of type from can be used where to
// is expected: Int -> Float, T -> T |
// U (union widening), Null -> any optional union containing Null, and
// otherwise structural equality.
func Assignable(from, to *Type) bool {
	if from == nil || to == nil || from.Kind == KUnknown || to.Kind == KUnknown {
		return true // inference incomplete; don't cascade a spurious mismatch
	}
	if Equal(from, to) {
		return true
	}
	if from.Kind == KScalar && from.Name == ast.TInt && to.Kind == KScalar && to.Name == ast.TFloat {
		return true
	}
	if to.Kind == KUnion {
		for _, alt := range to.Args {
			if Assignable(from, alt) {
				return true
			}
		}
	}
	if from.Kind == KScalar && from.Name == ast.TNull && to.Kind == KUnion {
		for _, alt := range to.Args {
			if alt.Kind == KScalar && alt.Name == ast.TNull {
				return true
			}
		}
	}
	return false
}

// Equal reports structural type equality.
func Equal(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Name != b.Name || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if !Equal(a.Args[i], b.Args[i]) {
			return false
		}
	}
	return true
}

// Unify returns a type both a and b are Assignable to, widening scalars
// and falling back to a union of the two when no simpler common type
// exists; used to give list/if/match/comprehension branches one type.
func Unify(a, b *Type) *Type {
	if a.Kind == KUnknown {
		return b
	}
	if b.Kind == KUnknown {
		return a
	}
	if Equal(a, b) {
		return a
	}
	if Assignable(a, b) {
		return b
	}
	if Assignable(b, a) {
		return a
	}
	return &Type{Kind: KUnion, Args: []*Type{a, b}}
}
