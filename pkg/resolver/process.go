package resolver

import (
	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
)

// validateProcesses checks machine/pipeline structural invariants that
// can't be expressed as ordinary name resolution: every transition
// target must name a declared state, the initial state (if any) must
// exist, and every pipeline stage must name a declared cell.
func (r *Resolver) validateProcesses(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.ProcessDecl:
			r.validateProcess(d)
		case *ast.AgentDecl:
			r.validateProcesses(d.Items)
		}
	}
}

func (r *Resolver) validateProcess(d *ast.ProcessDecl) {
	switch d.Kind {
	case ast.ProcessMachine:
		states := map[string]*ast.MachineState{}
		for i := range d.States {
			states[d.States[i].Name] = &d.States[i]
		}
		if d.Initial != "" && states[d.Initial] == nil {
			r.bag.Errorf(diagnostic.StageResolve, "UnknownMachineState", d.Span(),
				"machine %q declares initial state %q which is not a declared state", d.Name, d.Initial)
		}
		for _, st := range d.States {
			for _, tr := range st.Transitions {
				target, ok := states[tr.Target]
				if !ok {
					r.bag.Errorf(diagnostic.StageResolve, "UnknownMachineState", d.Span(),
						"machine %q's state %q transitions to undeclared state %q", d.Name, st.Name, tr.Target)
					continue
				}
				if len(tr.Args) != len(target.Payload) {
					r.bag.Errorf(diagnostic.StageResolve, "MachineTransitionArity", d.Span(),
						"machine %q: transition %s -> %s carries %d argument(s), state takes %d",
						d.Name, st.Name, tr.Target, len(tr.Args), len(target.Payload))
				}
			}
		}
		// at least one terminal state must be reachable from the initial
		if initial := states[d.Initial]; initial != nil {
			seen := map[string]bool{}
			queue := []string{d.Initial}
			terminalReachable := false
			for len(queue) > 0 {
				name := queue[0]
				queue = queue[1:]
				if seen[name] {
					continue
				}
				seen[name] = true
				st := states[name]
				if st == nil {
					continue
				}
				if st.Terminal {
					terminalReachable = true
					break
				}
				for _, tr := range st.Transitions {
					queue = append(queue, tr.Target)
				}
			}
			if !terminalReachable {
				r.bag.Errorf(diagnostic.StageResolve, "NoTerminalState", d.Span(),
					"machine %q has no terminal state reachable from %q", d.Name, d.Initial)
			}
		}
	case ast.ProcessPipeline:
		for _, stage := range d.Stages {
			if _, ok := r.res.Cells[stage.CellName]; !ok {
				r.bag.Errorf(diagnostic.StageResolve, "UnknownCell", d.Span(),
					"pipeline %q references undeclared stage cell %q", d.Name, stage.CellName)
			}
		}
	}
}
