package ast

// TypeExpr is any type-level expression.
type TypeExpr interface {
	Node
	typeNode()
	String() string
}

// NamedType is a (possibly generic) named type, including the built-in
// scalars String/Int/Float/Bool/Bytes/Json/Null.
type NamedType struct {
	baseNode
	Name string
	Args []TypeExpr // generic instantiation arguments, empty if none
}

func (*NamedType) typeNode() {}
func (n *NamedType) String() string {
	if len(n.Args) == 0 {
		return n.Name
	}
	s := n.Name + "["
	for i, a := range n.Args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + "]"
}

// ListType is `list[T]`.
type ListType struct {
	baseNode
	Elem TypeExpr
}

func (*ListType) typeNode()        {}
func (l *ListType) String() string { return "list[" + l.Elem.String() + "]" }

// MapType is `map[K,V]`.
type MapType struct {
	baseNode
	Key, Value TypeExpr
}

func (*MapType) typeNode()        {}
func (m *MapType) String() string { return "map[" + m.Key.String() + "," + m.Value.String() + "]" }

// SetType is `set[T]`.
type SetType struct {
	baseNode
	Elem TypeExpr
}

func (*SetType) typeNode()        {}
func (s *SetType) String() string { return "set[" + s.Elem.String() + "]" }

// TupleType is `(T1, T2, ...)`.
type TupleType struct {
	baseNode
	Elems []TypeExpr
}

func (*TupleType) typeNode() {}
func (t *TupleType) String() string {
	s := "("
	for i, e := range t.Elems {
		if i > 0 {
			s += ", "
		}
		s += e.String()
	}
	return s + ")"
}

// ResultType is `result[T, E]`.
type ResultType struct {
	baseNode
	Ok, Err TypeExpr
}

func (*ResultType) typeNode()        {}
func (r *ResultType) String() string { return "result[" + r.Ok.String() + "," + r.Err.String() + "]" }

// UnionType is `A | B | ...`; `T?` is parsed as UnionType{T, Null}.
type UnionType struct {
	baseNode
	Alts []TypeExpr
}

func (*UnionType) typeNode() {}
func (u *UnionType) String() string {
	s := ""
	for i, a := range u.Alts {
		if i > 0 {
			s += " | "
		}
		s += a.String()
	}
	return s
}

// FuncType is `fn(T, ...) -> R / {effects}`.
type FuncType struct {
	baseNode
	Params  []TypeExpr
	Ret     TypeExpr
	Effects EffectRow
}

func (*FuncType) typeNode() {}
func (f *FuncType) String() string {
	s := "fn("
	for i, p := range f.Params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	s += ") -> " + f.Ret.String()
	return s
}

// RowVarType is a bare effect-row type variable occurring in a generic
// signature.
type RowVarType struct {
	baseNode
	Name string
}

func (*RowVarType) typeNode()        {}
func (r *RowVarType) String() string { return r.Name }

// Built-in scalar type names recognized by pkg/types.
const (
	TString = "String"
	TInt    = "Int"
	TFloat  = "Float"
	TBool   = "Bool"
	TBytes  = "Bytes"
	TJson   = "Json"
	TNull   = "Null"
)
