// Package lower compiles a resolved, type-checked, constraint-checked
// AST into an executable pkg/lir.Module.
package lower

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/constraints"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/resolver"
)

// cellEntry is one flat cell awaiting code generation: its assigned
// module index, qualified name, and declaring AST node.
type cellEntry struct {
	index uint32
	name  string
	decl  *ast.CellDecl
}

// Lowerer walks a resolved file and emits a lir.Module. Unlike
// pkg/resolver and pkg/types, lowering assumes the input is already
// free of errors (pkg/lumen's facade refuses to lower a file that
// accumulated diagnostics in an earlier stage); any diagnostic raised
// here is tagged StageLower and indicates a lowering-internal
// assumption was violated.
type Lowerer struct {
	bag  *diagnostic.Bag
	res  *resolver.Result
	cons *constraints.Result

	mod *lir.Module

	cellIndex      map[string]uint32
	recordFields   map[string]*ast.RecordDecl
	enumDecls      map[string]*ast.EnumDecl
	toolAliases    map[string]bool
	typeIndex      map[string]uint32 // type name -> module type-table index
	variantIndex   map[string]variantInfo
	processTypeIdx map[string]uint32
	processDecls   map[string]*ast.ProcessDecl
	constDecls     map[string]*ast.ConstDecl

	cells []cellEntry
}

// variantInfo locates one enum variant in the module type table so
// constructor references (`Red`, `Some(x)`) can emit NewUnion directly.
type variantInfo struct {
	typeIdx      uint32
	variantIdx   uint32
	payloadArity int
}

// New returns a Lowerer reporting into bag, informed by the resolver
// and constraint-validator results for the same file.
func New(bag *diagnostic.Bag, res *resolver.Result, cons *constraints.Result) *Lowerer {
	return &Lowerer{
		bag:            bag,
		res:            res,
		cons:           cons,
		mod:            lir.NewModule(),
		cellIndex:      map[string]uint32{},
		recordFields:   map[string]*ast.RecordDecl{},
		enumDecls:      map[string]*ast.EnumDecl{},
		toolAliases:    map[string]bool{},
		typeIndex:      map[string]uint32{},
		variantIndex:   map[string]variantInfo{},
		processTypeIdx: map[string]uint32{},
		processDecls:   map[string]*ast.ProcessDecl{},
		constDecls:     map[string]*ast.ConstDecl{},
	}
}

// Lower compiles file into a complete lir.Module.
func (l *Lowerer) Lower(file *ast.File) *lir.Module {
	l.collectTypes(file.Items)
	l.collectCells(file.Items)
	l.mod.Cells = make([]lir.Cell, len(l.cells))
	for _, ce := range l.cells {
		l.mod.Cells[ce.index] = l.lowerCell(ce.name, ce.decl)
	}
	l.buildMetadata()
	return l.mod
}

// collectTypes registers every record/enum/process declaration into
// the module's type table before any cell is lowered, so a cell body
// referencing a type declared later in the file (or in a sibling
// agent) still resolves.
func (l *Lowerer) collectTypes(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.RecordDecl:
			l.recordFields[d.Name] = d
			fields := make([]lir.FieldDef, len(d.Fields))
			for i, f := range d.Fields {
				fields[i] = lir.FieldDef{Name: f.Name, Type: f.Type.String()}
			}
			l.typeIndex[d.Name] = l.mod.AddType(lir.TypeDef{Kind: lir.TypeRecord, Name: d.Name, Fields: fields})
		case *ast.ConstDecl:
			l.constDecls[d.Name] = d
		case *ast.EnumDecl:
			l.enumDecls[d.Name] = d
			variants := make([]lir.VariantDef, len(d.Variants))
			for i, v := range d.Variants {
				var fields []lir.FieldDef
				if len(v.Fields) > 0 {
					fields = make([]lir.FieldDef, len(v.Fields))
					for j, f := range v.Fields {
						fields[j] = lir.FieldDef{Name: f.Name, Type: f.Type.String()}
					}
				} else {
					fields = make([]lir.FieldDef, len(v.Payload))
					for j, p := range v.Payload {
						fields[j] = lir.FieldDef{Type: p.String()}
					}
				}
				variants[i] = lir.VariantDef{Tag: v.Name, Fields: fields}
			}
			ti := l.mod.AddType(lir.TypeDef{Kind: lir.TypeEnum, Name: d.Name, Variants: variants})
			l.typeIndex[d.Name] = ti
			for i, v := range d.Variants {
				arity := len(v.Payload)
				if len(v.Fields) > 0 {
					arity = len(v.Fields)
				}
				l.variantIndex[v.Name] = variantInfo{typeIdx: ti, variantIdx: uint32(i), payloadArity: arity}
			}
		case *ast.UseToolDecl:
			l.toolAliases[d.Alias] = true
		case *ast.EffectDecl:
			ops := make([]lir.EffectOpDef, len(d.Ops))
			for i, op := range d.Ops {
				params := make([]lir.FieldDef, len(op.Params))
				for j, p := range op.Params {
					params[j] = lir.FieldDef{Name: p.Name, Type: p.Type.String()}
				}
				ret := ""
				if op.Ret != nil {
					ret = op.Ret.String()
				}
				ops[i] = lir.EffectOpDef{Name: op.Name, Params: params, Returns: ret}
			}
			l.mod.AddEffect(lir.EffectDef{Name: d.Name, Ops: ops})
		case *ast.AgentDecl:
			l.collectTypes(d.Items)
		case *ast.ProcessDecl:
			l.collectProcessType(d)
		}
	}
}

func (l *Lowerer) collectProcessType(d *ast.ProcessDecl) {
	kind := processKindString(d.Kind)
	methods := make([]lir.MethodDesc, len(d.Methods))
	for i, m := range d.Methods {
		// CellIndex is patched in after collectCells assigns indices;
		// the method name is enough to look it up at that point.
		methods[i] = lir.MethodDesc{Name: m.Name}
	}
	ti := l.mod.AddType(lir.TypeDef{Kind: lir.TypeProcess, Name: d.Name, ProcessKind: kind, Methods: methods})
	l.typeIndex[d.Name] = ti
	l.processTypeIdx[d.Name] = ti
	l.processDecls[d.Name] = d
}

func processKindString(k ast.ProcessKind) string {
	switch k {
	case ast.ProcessMachine:
		return "machine"
	case ast.ProcessPipeline:
		return "pipeline"
	case ast.ProcessOrchestration:
		return "orchestration"
	case ast.ProcessGuardrail:
		return "guardrail"
	case ast.ProcessEval:
		return "eval"
	case ast.ProcessPattern:
		return "pattern"
	default:
		return "memory"
	}
}

// collectCells assigns every cell (top-level, nested in an agent, or a
// process method override) a stable module index before any code is
// generated, so forward and mutually-recursive calls resolve.
func (l *Lowerer) collectCells(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.CellDecl:
			l.registerCell(d.Name, d)
		case *ast.RecordDecl:
			if d.Where != nil && l.needsRuntimeCheck(d.Name) {
				params := make([]ast.Param, len(d.Fields))
				for i, f := range d.Fields {
					params[i] = ast.Param{Name: f.Name, Type: f.Type}
				}
				l.registerCell("<where>."+d.Name, &ast.CellDecl{
					Name:   "<where>." + d.Name,
					Params: params,
					Body:   []ast.Stmt{&ast.ReturnStmt{Value: d.Where}},
				})
			}
		case *ast.AgentDecl:
			l.collectCells(d.Items)
		case *ast.ProcessDecl:
			for _, m := range d.Methods {
				l.registerCell(d.Name+"."+m.Name, m)
			}
			if d.Kind == ast.ProcessMachine {
				l.collectMachineCells(d)
			}
		}
	}
	// Now that every cell has an index, fill in the cell references
	// the type table could not know during collectTypes.
	for i := range l.mod.Types {
		t := &l.mod.Types[i]
		switch t.Kind {
		case lir.TypeProcess:
			l.patchProcessType(t, l.processDecls[t.Name])
		case lir.TypeRecord:
			if idx, ok := l.cellIndex["<where>."+t.Name]; ok {
				t.HasConstraint = true
				t.ConstraintCell = idx
			}
		}
	}
}

func (l *Lowerer) registerCell(name string, d *ast.CellDecl) {
	idx := uint32(len(l.cells))
	l.cellIndex[name] = idx
	l.cells = append(l.cells, cellEntry{index: idx, name: name, decl: d})
}

func (l *Lowerer) buildMetadata() {
	l.mod.Metadata.Deterministic = l.res.Deterministic
	l.mod.Metadata.DefaultFutureSchedule = l.res.FutureSchedule
	if l.mod.Metadata.DefaultFutureSchedule == "" {
		l.mod.Metadata.DefaultFutureSchedule = "eager"
	}
	if l.res.Deterministic {
		l.mod.Metadata.DefaultFutureSchedule = "deferred_fifo"
	}
	if _, ok := l.cellIndex["main"]; ok {
		l.mod.Metadata.EntryCell = "main"
	}
	l.mod.Metadata.GrantPolicies = map[string]lir.GrantPolicy{}
	for alias, gp := range l.res.Grants {
		l.mod.Metadata.GrantPolicies[alias] = lir.GrantPolicy{
			ToolAlias:   alias,
			DomainGlobs: gp.DomainGlobs,
			Timeout:     fmt.Sprintf("%dms", gp.TimeoutMs),
			MaxTokens:   gp.MaxTokens,
			Effects:     gp.Effects,
			CustomKeys:  gp.CustomKeys,
		}
	}
	l.mod.Metadata.EffectToTool = map[string]string{}
	for eff, alias := range l.res.EffectBindings {
		l.mod.Metadata.EffectToTool[eff] = alias
	}
}

// needsRuntimeCheck reports whether recordName's `where` clause reads
// any field, in which case construction sites emit a Schema check.
func (l *Lowerer) needsRuntimeCheck(recordName string) bool {
	if l.cons == nil {
		return false
	}
	rc, ok := l.cons.Records[recordName]
	return ok && rc.NeedsRuntimeCheck
}

func (l *Lowerer) errorf(sp diagnostic.Span, kind, format string, args ...any) {
	l.bag.Errorf(diagnostic.StageLower, diagnostic.Kind(kind), sp, format, args...)
}
