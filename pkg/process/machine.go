package process

import (
	"fmt"

	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/value"
)

// CallCell invokes one compiled cell with arguments; the VM supplies
// its own frame machinery here so process runtimes never touch the
// interpreter directly.
type CallCell func(cellIndex uint32, args []value.Value) (value.Value, error)

// runCap bounds Run's step count so a machine whose transitions cycle
// forever fails loudly instead of spinning until fuel exhaustion.
const runCap = 10000

// Machine executes one instance of a typed state-machine declaration.
// Each state's on_enter body and transition dispatch were compiled
// into a cell that returns null to stop in place or a (target, args)
// tuple to move on.
type Machine struct {
	def     *lir.TypeDef
	call    CallCell
	current string
	payload []value.Value
	stopped bool
	started bool
}

// NewMachine builds an instance over a machine-kind type definition.
func NewMachine(def *lir.TypeDef, call CallCell) (*Machine, error) {
	if def.ProcessKind != "machine" {
		return nil, fmt.Errorf("machine: %q is a %s process", def.Name, def.ProcessKind)
	}
	return &Machine{def: def, call: call}, nil
}

func (m *Machine) state(name string) (*lir.StateDef, error) {
	for i := range m.def.States {
		if m.def.States[i].Name == name {
			return &m.def.States[i], nil
		}
	}
	return nil, fmt.Errorf("machine %s: unknown state %q", m.def.Name, name)
}

// Start enters the initial state with args as its payload.
func (m *Machine) Start(args []value.Value) error {
	st, err := m.state(m.def.Initial)
	if err != nil {
		return err
	}
	if len(args) != st.ParamCount {
		return fmt.Errorf("machine %s: initial state %q takes %d arguments, got %d",
			m.def.Name, st.Name, st.ParamCount, len(args))
	}
	m.current = st.Name
	m.payload = args
	m.started = true
	m.stopped = false
	return nil
}

// Step executes the current state's on_enter. A (target, args) result
// moves to the target state and reports true; a null result stops the
// machine in place and reports false.
func (m *Machine) Step() (bool, error) {
	if !m.started {
		return false, fmt.Errorf("machine %s: Step before Start", m.def.Name)
	}
	if m.stopped {
		return false, nil
	}
	st, err := m.state(m.current)
	if err != nil {
		return false, err
	}
	res, err := m.call(st.CellIndex, m.payload)
	if err != nil {
		return false, err
	}
	if res.Kind() != value.KTuple {
		m.stopped = true
		return false, nil
	}
	parts := res.AsList()
	if len(parts) != 2 {
		return false, fmt.Errorf("machine %s: state %q produced a malformed transition", m.def.Name, m.current)
	}
	target := parts[0].AsString()
	next, err := m.state(target)
	if err != nil {
		return false, err
	}
	args := parts[1].AsList()
	if len(args) != next.ParamCount {
		return false, fmt.Errorf("machine %s: transition to %q carries %d arguments, want %d",
			m.def.Name, target, len(args), next.ParamCount)
	}
	m.current = target
	m.payload = args
	return true, nil
}

// IsTerminal reports whether the machine sits in a terminal state (or
// has stopped with no transition available).
func (m *Machine) IsTerminal() bool {
	if !m.started {
		return false
	}
	if m.stopped {
		return true
	}
	st, err := m.state(m.current)
	return err == nil && st.Terminal
}

// CurrentState returns the current state's name and payload.
func (m *Machine) CurrentState() (string, []value.Value) {
	return m.current, m.payload
}

// Run starts the machine and steps to a fixed point.
func (m *Machine) Run(args []value.Value) error {
	if err := m.Start(args); err != nil {
		return err
	}
	for i := 0; i < runCap; i++ {
		moved, err := m.Step()
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
	}
	return fmt.Errorf("machine %s: no fixed point after %d steps", m.def.Name, runCap)
}

// ResumeFrom restores a snapshot taken via CurrentState, so a halted
// run can continue in a fresh VM.
func (m *Machine) ResumeFrom(state string, payload []value.Value) error {
	st, err := m.state(state)
	if err != nil {
		return err
	}
	if len(payload) != st.ParamCount {
		return fmt.Errorf("machine %s: snapshot payload arity mismatch for %q", m.def.Name, state)
	}
	m.current = state
	m.payload = payload
	m.started = true
	m.stopped = false
	return nil
}
