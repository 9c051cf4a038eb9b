package vm

import (
	"strconv"
	"strings"

	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/process"
	"github.com/lumen-lang/lumen/pkg/value"
)

// procTagPrefix tags the record values that stand in for process
// instances; the id field keys the VM-local instance table.
const procTagPrefix = "__process:"

// procInstance is one live process: exactly one of the runtime
// pointers is set, per the declaration's kind.
type procInstance struct {
	def  *lir.TypeDef
	mem  *process.Memory
	mach *process.Machine
	pipe *process.Pipeline
}

// newProcessInstance creates a fresh, isolated instance of the
// declared process. Two instances of the same declaration share
// nothing.
func (vm *VM) newProcessInstance(t *lir.TypeDef, _ []value.Value) (value.Value, error) {
	pi := &procInstance{def: t}
	call := func(cellIndex uint32, args []value.Value) (value.Value, error) {
		return vm.callCellIndex(cellIndex, args)
	}
	switch t.ProcessKind {
	case "memory":
		pi.mem = process.NewMemory()
	case "machine":
		m, err := process.NewMachine(t, call)
		if err != nil {
			return value.Null, vm.errf(ErrTypeMismatch, "%v", err)
		}
		pi.mach = m
	case "pipeline":
		p, err := process.NewPipeline(t, call)
		if err != nil {
			return value.Null, vm.errf(ErrTypeMismatch, "%v", err)
		}
		pi.pipe = p
	}
	vm.nextProc++
	id := vm.nextProc
	vm.procs[id] = pi
	return value.Record(
		procTagPrefix+t.Name,
		map[string]value.Value{"id": value.Int(id)},
		[]string{"id"},
	), nil
}

// processOf resolves a process-instance record back to its runtime, or
// nil for ordinary records.
func (vm *VM) processOf(v value.Value) *procInstance {
	if v.Kind() != value.KRecord || !strings.HasPrefix(v.RecordType(), procTagPrefix) {
		return nil
	}
	id, ok := v.RecordField("id")
	if !ok {
		return nil
	}
	return vm.procs[id.AsInt()]
}

// boundMethod packages (instance, method name) as a callable value;
// OpCall routes closures with a negative cell index back through
// callBoundMethod.
func boundMethod(instance value.Value, name string) value.Value {
	return value.ClosureValue(&value.Closure{
		CellIndex: -1,
		Upvalues:  []value.Value{instance, value.String(name)},
	})
}

// callBoundMethod dispatches a process method call: a user-declared
// method override wins, then the built-in method set of the process
// kind.
func (vm *VM) callBoundMethod(cl *value.Closure, args []value.Value) (value.Value, error) {
	if len(cl.Upvalues) != 2 {
		return value.Null, vm.errf(ErrTypeMismatch, "malformed bound method")
	}
	pi := vm.processOf(cl.Upvalues[0])
	if pi == nil {
		return value.Null, vm.errf(ErrTypeMismatch, "bound method on a non-process value")
	}
	name := cl.Upvalues[1].AsString()

	for _, m := range pi.def.Methods {
		if m.Name == name {
			return vm.callCellIndex(m.CellIndex, args)
		}
	}

	switch {
	case pi.mem != nil:
		return vm.memoryMethod(pi.mem, name, args)
	case pi.mach != nil:
		return vm.machineMethod(pi.mach, name, args)
	case pi.pipe != nil:
		return vm.pipelineMethod(pi.pipe, name, args)
	}
	return value.Null, vm.errf(ErrTypeMismatch, "process %s has no method %q", pi.def.Name, name)
}

func (vm *VM) memoryMethod(m *process.Memory, name string, args []value.Value) (value.Value, error) {
	switch name {
	case "append":
		if err := m.Append(arg(args, 0)); err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		return value.Null, nil
	case "recent":
		n := int(arg(args, 0).AsInt())
		return value.List(m.Recent(n)), nil
	case "remember":
		if err := m.Remember(arg(args, 0).AsString(), arg(args, 1)); err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		return value.Null, nil
	case "recall":
		return m.Recall(arg(args, 0).AsString()), nil
	case "upsert":
		if err := m.Upsert(arg(args, 0).AsString(), arg(args, 1)); err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		return value.Null, nil
	case "get":
		return m.Get(arg(args, 0).AsString()), nil
	case "query":
		pred := arg(args, 0)
		out, err := m.Query(func(v value.Value) (bool, error) {
			res, err := vm.callValue(pred, []value.Value{v})
			if err != nil {
				return false, err
			}
			return truthy(res), nil
		})
		if err != nil {
			return value.Null, err
		}
		return value.List(out), nil
	case "store":
		return m.Store(), nil
	case "search":
		n := 5
		if len(args) > 1 {
			n = int(arg(args, 1).AsInt())
		}
		out, err := m.Search(arg(args, 0).AsString(), n)
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		return value.List(out), nil
	}
	return value.Null, vm.errf(ErrTypeMismatch, "memory has no method %q", name)
}

func (vm *VM) machineMethod(m *process.Machine, name string, args []value.Value) (value.Value, error) {
	switch name {
	case "start":
		if err := m.Start(args); err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		return value.Null, nil
	case "step":
		moved, err := m.Step()
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		return value.Bool(moved), nil
	case "is_terminal":
		return value.Bool(m.IsTerminal()), nil
	case "current_state":
		state, payload := m.CurrentState()
		return value.Tuple([]value.Value{value.String(state), value.List(payload)}), nil
	case "run":
		if err := m.Run(args); err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		state, payload := m.CurrentState()
		return value.Tuple([]value.Value{value.String(state), value.List(payload)}), nil
	case "resume_from":
		snap := arg(args, 0)
		parts := snap.AsList()
		if len(parts) != 2 {
			return value.Null, vm.errf(ErrTypeMismatch, "resume_from needs a (state, payload) snapshot")
		}
		if err := m.ResumeFrom(parts[0].AsString(), parts[1].AsList()); err != nil {
			return value.Null, vm.errf(ErrHalt, "%v", err)
		}
		return value.Null, nil
	}
	return value.Null, vm.errf(ErrTypeMismatch, "machine has no method %q (tried %s)", name, strconv.Quote(name))
}

func (vm *VM) pipelineMethod(p *process.Pipeline, name string, args []value.Value) (value.Value, error) {
	if name != "run" {
		return value.Null, vm.errf(ErrTypeMismatch, "pipeline has no method %q", name)
	}
	res, err := p.Run(arg(args, 0))
	if err != nil {
		return value.Null, vm.errf(ErrHalt, "%v", err)
	}
	return res, nil
}

func arg(args []value.Value, i int) value.Value {
	if i >= len(args) {
		return value.Null
	}
	return args[i]
}
