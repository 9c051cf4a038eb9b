package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/value"
)

// addModule assembles a module whose single cell adds its two
// parameters and returns the sum.
func addModule() *lir.Module {
	m := lir.NewModule()
	b := lir.NewBuilder()
	b.Emit(lir.ABC(lir.OpAdd, 2, 0, 1))
	b.Emit(lir.ABC(lir.OpReturn, 2, 0, 0))
	m.AddCell(lir.Cell{Name: "add", ParamCount: 2, RegisterCount: 3, Code: b.Finish()})
	m.Metadata.EntryCell = "add"
	return m
}

func TestAddCell(t *testing.T) {
	machine := New(addModule(), Options{RunID: "t"})
	res, err := machine.Run("add", []value.Value{value.Int(2), value.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Value.AsInt())
}

func TestCheckedOverflow(t *testing.T) {
	m := lir.NewModule()
	maxIdx := m.AddConst(value.Int(1<<63 - 1))
	oneIdx := m.AddConst(value.Int(1))
	b := lir.NewBuilder()
	b.Emit(lir.ABxForm(lir.OpLoadK, 0, maxIdx))
	b.Emit(lir.ABxForm(lir.OpLoadK, 1, oneIdx))
	b.Emit(lir.ABC(lir.OpAdd, 2, 0, 1))
	b.Emit(lir.ABC(lir.OpReturn, 2, 0, 0))
	m.AddCell(lir.Cell{Name: "boom", RegisterCount: 3, Code: b.Finish()})

	machine := New(m, Options{RunID: "t"})
	_, err := machine.Run("boom", nil)
	require.Error(t, err)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrArithmeticOverflow, re.Kind)
}

func TestBackwardLoopTerminates(t *testing.T) {
	// count register 0 from 0 to 10 with an explicit backward Loop edge
	m := lir.NewModule()
	zeroIdx := m.AddConst(value.Int(0))
	oneIdx := m.AddConst(value.Int(1))
	tenIdx := m.AddConst(value.Int(10))

	b := lir.NewBuilder()
	b.Emit(lir.ABxForm(lir.OpLoadK, 0, zeroIdx))
	b.Emit(lir.ABxForm(lir.OpLoadK, 1, oneIdx))
	b.Emit(lir.ABxForm(lir.OpLoadK, 2, tenIdx))
	top := b.Label()
	end := b.Label()
	b.Place(top)
	b.Emit(lir.ABC(lir.OpLt, 3, 0, 2))
	b.Emit(lir.ABC(lir.OpTest, 3, 0, 0))
	b.EmitJump(lir.OpJmp, 0, end)
	b.Emit(lir.ABC(lir.OpAdd, 4, 0, 1))
	b.Emit(lir.ABC(lir.OpMove, 0, 4, 0))
	b.EmitJump(lir.OpLoop, 0, top)
	b.Place(end)
	b.Emit(lir.ABC(lir.OpReturn, 0, 0, 0))
	m.AddCell(lir.Cell{Name: "count", RegisterCount: 5, Code: b.Finish()})

	machine := New(m, Options{RunID: "t"})
	res, err := machine.Run("count", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Value.AsInt())
}

func TestFuelExhaustion(t *testing.T) {
	// an infinite loop must hit the fuel budget, not hang
	m := lir.NewModule()
	b := lir.NewBuilder()
	top := b.Label()
	b.Place(top)
	b.Emit(lir.ABC(lir.OpNop, 0, 0, 0))
	b.EmitJump(lir.OpLoop, 0, top)
	m.AddCell(lir.Cell{Name: "spin", RegisterCount: 1, Code: b.Finish()})

	machine := New(m, Options{RunID: "t", Fuel: 1000})
	_, err := machine.Run("spin", nil)
	require.Error(t, err)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrFuelExhausted, re.Kind)
}

func TestStackOverflow(t *testing.T) {
	// cell 0 calls itself unconditionally
	m := lir.NewModule()
	b := lir.NewBuilder()
	b.Emit(lir.ABxForm(lir.OpClosure, 0, 0))
	b.Emit(lir.ABC(lir.OpCall, 0, 0, 0))
	b.Emit(lir.ABC(lir.OpReturn, 0, 0, 0))
	m.AddCell(lir.Cell{Name: "rec", RegisterCount: 1, Code: b.Finish()})

	machine := New(m, Options{RunID: "t", MaxDepth: 32})
	_, err := machine.Run("rec", nil)
	require.Error(t, err)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrStackOverflow, re.Kind)
}

func TestDivisionByZeroKind(t *testing.T) {
	m := lir.NewModule()
	oneIdx := m.AddConst(value.Int(1))
	zeroIdx := m.AddConst(value.Int(0))
	b := lir.NewBuilder()
	b.Emit(lir.ABxForm(lir.OpLoadK, 0, oneIdx))
	b.Emit(lir.ABxForm(lir.OpLoadK, 1, zeroIdx))
	b.Emit(lir.ABC(lir.OpDiv, 2, 0, 1))
	b.Emit(lir.ABC(lir.OpReturn, 2, 0, 0))
	m.AddCell(lir.Cell{Name: "div", RegisterCount: 3, Code: b.Finish()})

	machine := New(m, Options{RunID: "t"})
	_, err := machine.Run("div", nil)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrDivisionByZero, re.Kind)
}

func TestInvalidShiftRejected(t *testing.T) {
	machine := New(addModule(), Options{RunID: "t"})
	_, err := machine.arith(lir.OpShl, value.Int(1), value.Int(64))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrInvalidShift, re.Kind)
}

func TestHexDecodeRejectsOddLength(t *testing.T) {
	machine := New(addModule(), Options{RunID: "t"})
	id, ok := lir.IntrinsicID("hex_decode")
	require.True(t, ok)
	_, err := machine.callIntrinsic(uint16(id), []value.Value{value.String("abc")})
	assert.Error(t, err)
}

func TestStringIndexIsCodepointAware(t *testing.T) {
	m := lir.NewModule()
	sIdx := m.AddConst(value.String("héllo"))
	iIdx := m.AddConst(value.Int(1))
	b := lir.NewBuilder()
	b.Emit(lir.ABxForm(lir.OpLoadK, 0, sIdx))
	b.Emit(lir.ABxForm(lir.OpLoadK, 1, iIdx))
	b.Emit(lir.ABC(lir.OpGetIndex, 2, 0, 1))
	b.Emit(lir.ABC(lir.OpReturn, 2, 0, 0))
	m.AddCell(lir.Cell{Name: "idx", RegisterCount: 3, Code: b.Finish()})

	machine := New(m, Options{RunID: "t"})
	res, err := machine.Run("idx", nil)
	require.NoError(t, err)
	assert.Equal(t, "é", res.Value.AsString())
}

func TestDeterministicRejectsRandomIntrinsic(t *testing.T) {
	mod := addModule()
	mod.Metadata.Deterministic = true
	machine := New(mod, Options{RunID: "t"})
	id, ok := lir.IntrinsicID("random")
	require.True(t, ok)
	_, err := machine.callIntrinsic(uint16(id), nil)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrNondeterministic, re.Kind)
}
