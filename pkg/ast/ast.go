// Package ast defines the abstract syntax tree produced by pkg/parser
// and consumed by pkg/resolver, pkg/types, pkg/constraints and
// pkg/lower.
package ast

import "github.com/lumen-lang/lumen/internal/diagnostic"

// Node is implemented by every AST node so the tree can be walked
// generically by diagnostics and pretty-printers.
type Node interface {
	Span() diagnostic.Span
}

// File is a parsed compilation unit: an ordered list of top-level items.
type File struct {
	Items []Item
	Doc   map[Item]string // docstrings attached to the following declaration
}

// ---------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------

// Item is any top-level or nested declaration.
type Item interface {
	Node
	itemNode()
}

type baseNode struct{ Sp diagnostic.Span }

func (b baseNode) Span() diagnostic.Span { return b.Sp }

// Param is a cell/lambda parameter.
type Param struct {
	Name    string
	Type    TypeExpr
	Default Expr // nil if none
}

// EffectRow is the explicit or inferred set of effect names on a cell,
// with an optional trailing row variable for effect polymorphism.
type EffectRow struct {
	Effects  []string
	RowVar   string // "" if none
	Explicit bool   // whether the source wrote an explicit `/ {..}` row
}

// CellDecl is `cell name(params) -> RetType / {effects} body end`.
type CellDecl struct {
	baseNode
	Name     string
	Generics []string
	Params   []Param
	Ret      TypeExpr
	Effects  EffectRow
	Body     []Stmt
}

func (*CellDecl) itemNode() {}

// RecordDecl is `record Name { fields } where clause end`.
type RecordField struct {
	Name string
	Type TypeExpr
}

type RecordDecl struct {
	baseNode
	Name     string
	Generics []string
	Fields   []RecordField
	Where    Expr // nil if no constraint clause
}

func (*RecordDecl) itemNode() {}

// EnumDecl is `enum Name Variant(payload)... end`.
type EnumVariant struct {
	Name    string
	Payload []TypeExpr    // positional payload types, empty for unit variants
	Fields  []RecordField // named payload fields, mutually exclusive with Payload
}

type EnumDecl struct {
	baseNode
	Name     string
	Generics []string
	Variants []EnumVariant
}

func (*EnumDecl) itemNode() {}

// TypeAliasDecl is `type Name = TypeExpr`.
type TypeAliasDecl struct {
	baseNode
	Name     string
	Generics []string
	Value    TypeExpr
}

func (*TypeAliasDecl) itemNode() {}

// TraitDecl declares a set of method signatures a type can implement.
type TraitMethod struct {
	Name   string
	Params []Param
	Ret    TypeExpr
}

type TraitDecl struct {
	baseNode
	Name    string
	Methods []TraitMethod
}

func (*TraitDecl) itemNode() {}

// ImplDecl implements a trait for a type (or inherent methods if
// Trait == "").
type ImplDecl struct {
	baseNode
	Trait   string
	Type    TypeExpr
	Methods []*CellDecl
}

func (*ImplDecl) itemNode() {}

// ConstDecl is `const NAME: Type = expr`.
type ConstDecl struct {
	baseNode
	Name  string
	Type  TypeExpr // nil if inferred
	Value Expr
}

func (*ConstDecl) itemNode() {}

// ImportDecl is `import path [as alias]`.
type ImportDecl struct {
	baseNode
	Path  string
	Alias string
}

func (*ImportDecl) itemNode() {}

// UseToolDecl is `use tool Alias : "namespace.operation"`.
type UseToolDecl struct {
	baseNode
	Alias     string
	Operation string
}

func (*UseToolDecl) itemNode() {}

// GrantDecl is `grant Alias { domains: [...], timeout_ms: N, ... }`.
type GrantDecl struct {
	baseNode
	Alias   string
	Entries map[string]Expr
}

func (*GrantDecl) itemNode() {}

// BindEffectDecl is `bind effect Name to Alias`.
type BindEffectDecl struct {
	baseNode
	Effect string
	Alias  string
}

func (*BindEffectDecl) itemNode() {}

// EffectDecl declares an algebraic effect and its operation signatures.
type EffectOp struct {
	Name   string
	Params []Param
	Ret    TypeExpr
}

type EffectDecl struct {
	baseNode
	Name string
	Ops  []EffectOp
}

func (*EffectDecl) itemNode() {}

// HandlerDecl is a standalone named handler bundling operation clauses,
// usable from a `handle ... with HandlerName end` form.
type HandlerClause struct {
	Effect string
	Op     string
	Params []Param
	Body   []Stmt
}

type HandlerDecl struct {
	baseNode
	Name    string
	Clauses []HandlerClause
}

func (*HandlerDecl) itemNode() {}

// AgentDecl groups cells/processes under an agent namespace.
type AgentDecl struct {
	baseNode
	Name  string
	Items []Item
}

func (*AgentDecl) itemNode() {}

// ProcessKind distinguishes the seven process-declaration shapes.
type ProcessKind int

const (
	ProcessMemory ProcessKind = iota
	ProcessMachine
	ProcessPipeline
	ProcessOrchestration
	ProcessGuardrail
	ProcessEval
	ProcessPattern
)

// MachineState is one state in a `machine` declaration.
type MachineState struct {
	Name        string
	Payload     []Param
	OnEnter     []Stmt
	Terminal    bool
	Transitions []MachineTransition
}

// MachineTransition is `transition Target(args) [if guard]` inside an
// on_enter body, or a declared edge in the state's transition list.
type MachineTransition struct {
	Target string
	Args   []Expr
	Guard  Expr // nil if unconditional
}

// PipelineStage is one stage cell reference in a `pipeline` declaration.
type PipelineStage struct {
	CellName string
}

// ProcessDecl covers memory / machine / pipeline / orchestration /
// guardrail / eval / pattern process declarations.
type ProcessDecl struct {
	baseNode
	Kind    ProcessKind
	Name    string
	States  []MachineState  // machine only
	Initial string          // machine only
	Stages  []PipelineStage // pipeline only
	Methods []*CellDecl     // user-defined overrides (e.g. custom run())
}

func (*ProcessDecl) itemNode() {}

// MacroDecl is a trivial textual/structural macro; anything beyond
// trivial parsing of the body is out of scope.
type MacroDecl struct {
	baseNode
	Name   string
	Params []string
	Body   []Stmt
}

func (*MacroDecl) itemNode() {}

// ExternDecl declares an external cell signature with no body, resolved
// to a provider/intrinsic at lowering time.
type ExternDecl struct {
	baseNode
	Name    string
	Params  []Param
	Ret     TypeExpr
	Effects EffectRow
}

func (*ExternDecl) itemNode() {}

// DirectiveItem carries a parsed `@name value...` that appeared inside
// code (as opposed to markdown prose); most directives (e.g.
// `@deterministic true`) are module-level metadata.
type DirectiveItem struct {
	baseNode
	Name string
	Args []Expr
}

func (*DirectiveItem) itemNode() {}
