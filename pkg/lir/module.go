package lir

import "github.com/lumen-lang/lumen/pkg/value"

// FormatVersion is bumped whenever the opcode catalog or instruction
// encoding changes in a way that would make an older Module
// unreadable by this package.
const FormatVersion = 1

// Module is the unit pkg/lower produces and pkg/vm consumes: a tuple
// of (cells, const_pool, string_table, types, effects, metadata) per
// the LIR module contract.
type Module struct {
	Version  int
	Cells    []Cell
	Consts   []value.Value
	Strings  []string
	Types    []TypeDef
	Effects  []EffectDef
	Metadata Metadata
}

// NewModule returns an empty Module stamped with the current
// FormatVersion.
func NewModule() *Module {
	return &Module{Version: FormatVersion}
}

// AddConst interns v into the constant pool, returning its index;
// identical scalars are deduplicated.
func (m *Module) AddConst(v value.Value) uint32 {
	for i, c := range m.Consts {
		if c.Kind() == v.Kind() && value.Equal(c, v) {
			return uint32(i)
		}
	}
	m.Consts = append(m.Consts, v)
	return uint32(len(m.Consts) - 1)
}

// AddString interns s into the string table, returning its index.
func (m *Module) AddString(s string) uint32 {
	for i, existing := range m.Strings {
		if existing == s {
			return uint32(i)
		}
	}
	m.Strings = append(m.Strings, s)
	return uint32(len(m.Strings) - 1)
}

// AddType appends t to the type table, returning its index.
func (m *Module) AddType(t TypeDef) uint32 {
	m.Types = append(m.Types, t)
	return uint32(len(m.Types) - 1)
}

// AddEffect appends e to the effect table, returning its index.
func (m *Module) AddEffect(e EffectDef) uint32 {
	m.Effects = append(m.Effects, e)
	return uint32(len(m.Effects) - 1)
}

// AddCell appends c to the cell table, returning its index.
func (m *Module) AddCell(c Cell) uint32 {
	m.Cells = append(m.Cells, c)
	return uint32(len(m.Cells) - 1)
}

// Cell is one compiled cell (function): name, arity, register
// watermark, captured-upvalue count, and its instruction stream.
type Cell struct {
	Name          string
	ParamCount    int
	RegisterCount int // watermark: highest register index used + 1
	Upvalues      []UpvalueDesc
	Code          []Instr

	// DeclaredEffects is the cell's explicit effect row (nil if
	// inferred only); EffectRow is what the resolver computed.
	DeclaredEffects []string
	EffectRow       []string

	// HandlerEffect/HandlerOp are set only on synthetic handler-clause
	// cells referenced by HandlePush; the VM matches a Perform's
	// (effect, operation) pair against them when searching the handler
	// stack top-down.
	HandlerEffect string
	HandlerOp     string

	Deterministic bool
}

// UpvalueDesc describes one captured variable in a closure cell: it
// either lifts a local register of the immediately enclosing cell
// (FromParent=true, Index is a register) or re-exports one of the
// enclosing cell's own upvalues (FromParent=false, Index is an
// upvalue index).
type UpvalueDesc struct {
	FromParent bool
	Index      uint16
}

// TypeKind tags a TypeDef's shape.
type TypeKind int

const (
	TypeRecord TypeKind = iota
	TypeEnum
	TypeProcess
)

// TypeDef is one entry of the LIR type table: records (field names +
// types), enums (variant tags + payload types), processes (kinds +
// method descriptors).
type TypeDef struct {
	Kind TypeKind
	Name string

	// TypeRecord
	Fields []FieldDef
	// HasConstraint marks records whose `where` clause reads fields;
	// ConstraintCell evaluates it (fields as parameters, Bool result)
	// when a Schema check runs at construction.
	HasConstraint  bool
	ConstraintCell uint32

	// TypeEnum
	Variants []VariantDef

	// TypeProcess
	ProcessKind string // "memory" | "machine" | "pipeline" | "orchestration" | "guardrail" | "eval" | "pattern"
	Methods     []MethodDesc

	// machine processes only
	Initial string
	States  []StateDef

	// pipeline processes only: stage cell indices in order
	StageCells []uint32
}

// StateDef is one typed machine state: its payload arity and the
// synthesized cell that runs its on_enter body and transition dispatch.
// The cell returns null to stop in this state, or a (target, args)
// tuple to move on.
type StateDef struct {
	Name       string
	Terminal   bool
	ParamCount int
	CellIndex  uint32
}

// FieldDef is one record field's name and declared type, rendered as
// a human-readable type string (the checked representation lives in
// pkg/types; LIR only needs it for runtime schema validation).
type FieldDef struct {
	Name string
	Type string
}

// VariantDef is one enum variant: a tag plus either positional payload
// types (tuple-style) or named field types (record-style).
type VariantDef struct {
	Tag    string
	Fields []FieldDef
}

// MethodDesc names a process method override and the cell index that
// implements it.
type MethodDesc struct {
	Name      string
	CellIndex uint32
}

// EffectDef is one declared effect's operation signatures.
type EffectDef struct {
	Name string
	Ops  []EffectOpDef
}

// EffectOpDef is one operation within an effect: its name, parameter
// types, and result type (as human-readable strings; see FieldDef).
type EffectOpDef struct {
	Name    string
	Params  []FieldDef
	Returns string
}

// Metadata carries module-wide directives that are not cell-local:
// the entry cell, the deterministic-mode flag, the default future
// scheduling policy, grant policies keyed by tool alias, and
// effect-to-tool bindings.
type Metadata struct {
	EntryCell             string
	Deterministic         bool
	DefaultFutureSchedule string // "eager" | "deferred_fifo"

	GrantPolicies map[string]GrantPolicy
	EffectToTool  map[string]string // effect name -> tool alias
}

// GrantPolicy is the capability envelope bound to one tool alias via
// `grant` declarations: domain allow-list (glob patterns), timeout,
// max-tokens ceiling, effect allow-list, and arbitrary custom keys
// requiring an exact-match value.
type GrantPolicy struct {
	ToolAlias   string
	DomainGlobs []string
	Timeout     string // duration literal text, parsed by pkg/tool
	MaxTokens   int
	Effects     []string
	CustomKeys  map[string]string
}
