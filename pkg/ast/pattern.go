package ast

// Pattern is any pattern form used in `let`, `match`, `for`, and
// function parameters with destructuring.
type Pattern interface {
	Node
	patternNode()
}

// LiteralPattern matches an exact scalar value.
type LiteralPattern struct {
	baseNode
	Value *Literal
}

func (*LiteralPattern) patternNode() {}

// WildcardPattern is `_`.
type WildcardPattern struct{ baseNode }

func (*WildcardPattern) patternNode() {}

// IdentPattern binds the matched value to a name.
type IdentPattern struct {
	baseNode
	Name string
}

func (*IdentPattern) patternNode() {}

// TypedIdentPattern is `name: Type`, binding only if the value has the
// given type.
type TypedIdentPattern struct {
	baseNode
	Name string
	Type TypeExpr
}

func (*TypedIdentPattern) patternNode() {}

// VariantPattern matches an enum variant, destructuring its payload.
type VariantPattern struct {
	baseNode
	Enum    string // "" if inferred from match subject type
	Variant string
	Payload []Pattern      // positional payload patterns
	Fields  []FieldPattern // named payload patterns
}

// FieldPattern is one `name: pattern` entry in a record/variant
// destructure.
type FieldPattern struct {
	Name    string
	Pattern Pattern
}

func (*VariantPattern) patternNode() {}

// RecordPattern destructures a record, optionally with a trailing `..`
// to ignore remaining fields.
type RecordPattern struct {
	baseNode
	Type   string
	Fields []FieldPattern
	Rest   bool
}

func (*RecordPattern) patternNode() {}

// TuplePattern destructures a tuple positionally.
type TuplePattern struct {
	baseNode
	Elems []Pattern
}

func (*TuplePattern) patternNode() {}

// ListPattern destructures a list, with an optional `..rest` binding
// the remainder.
type ListPattern struct {
	baseNode
	Elems   []Pattern
	Rest    string // "" if no rest binding, "_" if rest is discarded
	HasRest bool
}

func (*ListPattern) patternNode() {}

// GuardPattern is `p if e`.
type GuardPattern struct {
	baseNode
	Inner Pattern
	Cond  Expr
}

func (*GuardPattern) patternNode() {}

// OrPattern is `p1 | p2`.
type OrPattern struct {
	baseNode
	Alts []Pattern
}

func (*OrPattern) patternNode() {}

// RangePattern matches a value within [Low, High] (or [Low, High) if
// not Closed).
type RangePattern struct {
	baseNode
	Low, High *Literal
	Closed    bool
}

func (*RangePattern) patternNode() {}
