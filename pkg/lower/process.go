package lower

import (
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/lir"
)

// stateCellName names the synthesized cell that runs one machine
// state's on_enter body and transition dispatch.
func stateCellName(process, state string) string {
	return process + ".state." + state
}

// synthesizeStateCell builds the CellDecl for one machine state: the
// on_enter statements followed by the state's transition list compiled
// into guarded returns of a (target, args) tuple. A fall-through (no
// transition fired) returns null, which the machine runtime reads as
// "stay and stop".
func synthesizeStateCell(d *ast.ProcessDecl, st ast.MachineState) *ast.CellDecl {
	body := append([]ast.Stmt(nil), st.OnEnter...)
	for _, tr := range st.Transitions {
		ret := &ast.ReturnStmt{Value: &ast.TupleLit{Elems: []ast.Expr{
			&ast.Literal{Kind: ast.LitString, Text: tr.Target},
			&ast.ListLit{Elems: tr.Args},
		}}}
		if tr.Guard != nil {
			body = append(body, &ast.IfStmt{Cond: tr.Guard, Then: []ast.Stmt{ret}})
		} else {
			body = append(body, ret)
		}
	}
	return &ast.CellDecl{
		Name:   stateCellName(d.Name, st.Name),
		Params: st.Payload,
		Body:   body,
	}
}

// collectMachineCells registers the synthesized state cells of a
// machine declaration so they receive stable indices alongside
// ordinary cells.
func (l *Lowerer) collectMachineCells(d *ast.ProcessDecl) {
	for _, st := range d.States {
		l.registerCell(stateCellName(d.Name, st.Name), synthesizeStateCell(d, st))
	}
}

// patchProcessType fills in the cell indices the type table could not
// know before collectCells ran: method cells, machine state cells, and
// pipeline stage cells.
func (l *Lowerer) patchProcessType(t *lir.TypeDef, d *ast.ProcessDecl) {
	for j := range t.Methods {
		t.Methods[j].CellIndex = l.cellIndex[t.Name+"."+t.Methods[j].Name]
	}
	if d == nil {
		return
	}
	switch d.Kind {
	case ast.ProcessMachine:
		t.Initial = d.Initial
		t.States = make([]lir.StateDef, len(d.States))
		for j, st := range d.States {
			t.States[j] = lir.StateDef{
				Name:       st.Name,
				Terminal:   st.Terminal,
				ParamCount: len(st.Payload),
				CellIndex:  l.cellIndex[stateCellName(d.Name, st.Name)],
			}
		}
	case ast.ProcessPipeline:
		t.StageCells = make([]uint32, len(d.Stages))
		for j, sg := range d.Stages {
			idx, ok := l.cellIndex[sg.CellName]
			if !ok {
				l.errorf(d.Span(), "UnknownCell", "pipeline %q references undeclared stage cell %q", d.Name, sg.CellName)
				continue
			}
			t.StageCells[j] = idx
		}
	}
}
