package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/value"
)

// counterDef models a two-state machine: Counting(n) transitions to
// Done(n) once n reaches 3, otherwise back into Counting(n+1). The
// fake CallCell stands in for the compiled state cells.
func counterDef() *lir.TypeDef {
	return &lir.TypeDef{
		Kind:        lir.TypeProcess,
		Name:        "Counter",
		ProcessKind: "machine",
		Initial:     "Counting",
		States: []lir.StateDef{
			{Name: "Counting", ParamCount: 1, CellIndex: 0},
			{Name: "Done", ParamCount: 1, CellIndex: 1, Terminal: true},
		},
	}
}

func counterCall(cellIndex uint32, args []value.Value) (value.Value, error) {
	switch cellIndex {
	case 0:
		n := args[0].AsInt()
		if n >= 3 {
			return value.Tuple([]value.Value{
				value.String("Done"),
				value.List([]value.Value{value.Int(n)}),
			}), nil
		}
		return value.Tuple([]value.Value{
			value.String("Counting"),
			value.List([]value.Value{value.Int(n + 1)}),
		}), nil
	default:
		return value.Null, nil
	}
}

func TestMachineRunReachesTerminal(t *testing.T) {
	m, err := NewMachine(counterDef(), counterCall)
	require.NoError(t, err)
	require.NoError(t, m.Run([]value.Value{value.Int(0)}))

	state, payload := m.CurrentState()
	assert.Equal(t, "Done", state)
	require.Len(t, payload, 1)
	assert.Equal(t, int64(3), payload[0].AsInt())
	assert.True(t, m.IsTerminal())
}

func TestMachineStepByStep(t *testing.T) {
	m, err := NewMachine(counterDef(), counterCall)
	require.NoError(t, err)
	require.NoError(t, m.Start([]value.Value{value.Int(2)}))
	assert.False(t, m.IsTerminal())

	moved, err := m.Step()
	require.NoError(t, err)
	assert.True(t, moved)
	state, _ := m.CurrentState()
	assert.Equal(t, "Counting", state)

	moved, err = m.Step()
	require.NoError(t, err)
	assert.True(t, moved)
	state, _ = m.CurrentState()
	assert.Equal(t, "Done", state)
}

func TestMachineStartArityMismatch(t *testing.T) {
	m, err := NewMachine(counterDef(), counterCall)
	require.NoError(t, err)
	assert.Error(t, m.Start(nil))
}

func TestMachineResumeFromSnapshot(t *testing.T) {
	m, err := NewMachine(counterDef(), counterCall)
	require.NoError(t, err)
	require.NoError(t, m.ResumeFrom("Counting", []value.Value{value.Int(3)}))

	moved, err := m.Step()
	require.NoError(t, err)
	assert.True(t, moved)
	state, _ := m.CurrentState()
	assert.Equal(t, "Done", state)
}

func TestPipelineThreadsValue(t *testing.T) {
	def := &lir.TypeDef{
		Kind:        lir.TypeProcess,
		Name:        "Calc",
		ProcessKind: "pipeline",
		StageCells:  []uint32{0, 1},
	}
	call := func(cellIndex uint32, args []value.Value) (value.Value, error) {
		n := args[0].AsInt()
		if cellIndex == 0 {
			return value.Int(n * 2), nil
		}
		return value.Int(n + 1), nil
	}
	p, err := NewPipeline(def, call)
	require.NoError(t, err)
	out, err := p.Run(value.Int(5))
	require.NoError(t, err)
	assert.Equal(t, int64(11), out.AsInt())
}

func TestMachineRejectsWrongKind(t *testing.T) {
	def := &lir.TypeDef{Kind: lir.TypeProcess, Name: "M", ProcessKind: "memory"}
	_, err := NewMachine(def, counterCall)
	assert.Error(t, err)
	_, err = NewPipeline(def, counterCall)
	assert.Error(t, err)
}
