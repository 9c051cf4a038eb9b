package vm

import (
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/lumen-lang/lumen/pkg/effect"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/tool"
	"github.com/lumen-lang/lumen/pkg/value"
)

// arith executes one binary numeric/bitwise opcode with checked
// integer semantics: overflow, zero divisors, and out-of-range shifts
// all fail instead of wrapping.
func (vm *VM) arith(op lir.Op, a, b value.Value) (value.Value, error) {
	// Int op Int stays exact; any Float operand widens both sides.
	if a.Kind() == value.KInt && b.Kind() == value.KInt {
		return vm.intArith(op, a.AsInt(), b.AsInt())
	}
	if a.Kind() == value.KBigInt || b.Kind() == value.KBigInt {
		return vm.bigArith(op, toBig(a), toBig(b))
	}
	if isNumeric(a) && isNumeric(b) {
		return vm.floatArith(op, toFloat(a), toFloat(b))
	}
	return value.Null, vm.errf(ErrTypeMismatch, "cannot apply %s to %s and %s", op, a.Kind(), b.Kind())
}

func isNumeric(v value.Value) bool {
	k := v.Kind()
	return k == value.KInt || k == value.KFloat || k == value.KBigInt
}

func toFloat(v value.Value) float64 {
	switch v.Kind() {
	case value.KInt:
		return float64(v.AsInt())
	case value.KBigInt:
		f, _ := new(big.Float).SetInt(v.AsBigInt()).Float64()
		return f
	default:
		return v.AsFloat()
	}
}

func toBig(v value.Value) *big.Int {
	switch v.Kind() {
	case value.KBigInt:
		return v.AsBigInt()
	case value.KInt:
		return big.NewInt(v.AsInt())
	default:
		return big.NewInt(int64(v.AsFloat()))
	}
}

func (vm *VM) intArith(op lir.Op, a, b int64) (value.Value, error) {
	switch op {
	case lir.OpAdd:
		res := a + b
		if (res > a) != (b > 0) {
			return value.Null, vm.errf(ErrArithmeticOverflow, "%d + %d overflows Int", a, b)
		}
		return value.Int(res), nil
	case lir.OpSub:
		res := a - b
		if (res < a) != (b > 0) {
			return value.Null, vm.errf(ErrArithmeticOverflow, "%d - %d overflows Int", a, b)
		}
		return value.Int(res), nil
	case lir.OpMul:
		if a != 0 && b != 0 {
			res := a * b
			if res/b != a {
				return value.Null, vm.errf(ErrArithmeticOverflow, "%d * %d overflows Int", a, b)
			}
			return value.Int(res), nil
		}
		return value.Int(0), nil
	case lir.OpDiv, lir.OpFloorDiv:
		if b == 0 {
			return value.Null, vm.errf(ErrDivisionByZero, "division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return value.Null, vm.errf(ErrArithmeticOverflow, "%d / %d overflows Int", a, b)
		}
		q := a / b
		if op == lir.OpFloorDiv && (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return value.Int(q), nil
	case lir.OpMod:
		if b == 0 {
			return value.Null, vm.errf(ErrDivisionByZero, "modulo by zero")
		}
		return value.Int(a % b), nil
	case lir.OpPow:
		return vm.intPow(a, b)
	case lir.OpBitAnd:
		return value.Int(a & b), nil
	case lir.OpBitOr:
		return value.Int(a | b), nil
	case lir.OpBitXor:
		return value.Int(a ^ b), nil
	case lir.OpShl:
		if b < 0 || b > 63 {
			return value.Null, vm.errf(ErrInvalidShift, "shift amount %d outside [0, 63]", b)
		}
		return value.Int(a << uint(b)), nil
	case lir.OpShr:
		if b < 0 || b > 63 {
			return value.Null, vm.errf(ErrInvalidShift, "shift amount %d outside [0, 63]", b)
		}
		return value.Int(a >> uint(b)), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "unsupported Int operation %s", op)
	}
}

func (vm *VM) intPow(base, exp int64) (value.Value, error) {
	if exp < 0 {
		return value.Float(math.Pow(float64(base), float64(exp))), nil
	}
	var res int64 = 1
	for i := int64(0); i < exp; i++ {
		next := res * base
		if base != 0 && next/base != res {
			return value.Null, vm.errf(ErrArithmeticOverflow, "%d ** %d overflows Int", base, exp)
		}
		res = next
	}
	return value.Int(res), nil
}

func (vm *VM) bigArith(op lir.Op, a, b *big.Int) (value.Value, error) {
	res := new(big.Int)
	switch op {
	case lir.OpAdd:
		res.Add(a, b)
	case lir.OpSub:
		res.Sub(a, b)
	case lir.OpMul:
		res.Mul(a, b)
	case lir.OpDiv, lir.OpFloorDiv:
		if b.Sign() == 0 {
			return value.Null, vm.errf(ErrDivisionByZero, "division by zero")
		}
		res.Div(a, b)
	case lir.OpMod:
		if b.Sign() == 0 {
			return value.Null, vm.errf(ErrDivisionByZero, "modulo by zero")
		}
		res.Mod(a, b)
	case lir.OpPow:
		if !b.IsInt64() || b.Sign() < 0 {
			return value.Null, vm.errf(ErrArithmeticOverflow, "BigInt exponent out of range")
		}
		res.Exp(a, b, nil)
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "unsupported BigInt operation %s", op)
	}
	return value.BigInt(res), nil
}

func (vm *VM) floatArith(op lir.Op, a, b float64) (value.Value, error) {
	switch op {
	case lir.OpAdd:
		return value.Float(a + b), nil
	case lir.OpSub:
		return value.Float(a - b), nil
	case lir.OpMul:
		return value.Float(a * b), nil
	case lir.OpDiv:
		return value.Float(a / b), nil
	case lir.OpFloorDiv:
		return value.Float(math.Floor(a / b)), nil
	case lir.OpMod:
		return value.Float(math.Mod(a, b)), nil
	case lir.OpPow:
		return value.Float(math.Pow(a, b)), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "unsupported Float operation %s", op)
	}
}

func (vm *VM) negate(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KInt:
		if v.AsInt() == math.MinInt64 {
			return value.Null, vm.errf(ErrArithmeticOverflow, "negating %d overflows Int", v.AsInt())
		}
		return value.Int(-v.AsInt()), nil
	case value.KFloat:
		return value.Float(-v.AsFloat()), nil
	case value.KBigInt:
		return value.BigInt(new(big.Int).Neg(v.AsBigInt())), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "cannot negate %s", v.Kind())
	}
}

// compare implements Lt/Le. NaN compares unordered: every comparison
// involving NaN is false, consistent with Eq.
func (vm *VM) compare(a, b value.Value, orEqual bool) (value.Value, error) {
	if isNumeric(a) && isNumeric(b) {
		af, bf := toFloat(a), toFloat(b)
		if af != af || bf != bf {
			return value.Bool(false), nil
		}
		if a.Kind() == value.KInt && b.Kind() == value.KInt {
			if orEqual {
				return value.Bool(a.AsInt() <= b.AsInt()), nil
			}
			return value.Bool(a.AsInt() < b.AsInt()), nil
		}
		if orEqual {
			return value.Bool(af <= bf), nil
		}
		return value.Bool(af < bf), nil
	}
	if a.Kind() == value.KString && b.Kind() == value.KString {
		if orEqual {
			return value.Bool(a.AsString() <= b.AsString()), nil
		}
		return value.Bool(a.AsString() < b.AsString()), nil
	}
	return value.Null, vm.errf(ErrTypeMismatch, "cannot order %s and %s", a.Kind(), b.Kind())
}

// opIn implements membership: element in list/set, key in map,
// substring in string, and numeric containment in a range value.
func (vm *VM) opIn(needle, haystack value.Value) (value.Value, error) {
	switch haystack.Kind() {
	case value.KList, value.KTuple:
		for _, e := range haystack.AsList() {
			if value.Equal(e, needle) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case value.KSet:
		for _, e := range haystack.AsSet() {
			if value.Equal(e, needle) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case value.KMap:
		_, ok := haystack.MapGet(needle.AsString())
		return value.Bool(ok), nil
	case value.KString:
		return value.Bool(strings.Contains(haystack.AsString(), needle.AsString())), nil
	case value.KRecord:
		if haystack.RecordType() == rangeTag {
			return vm.rangeContains(needle, haystack)
		}
		_, ok := haystack.MapGet(needle.AsString())
		return value.Bool(ok), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "`in` needs a collection, got %s", haystack.Kind())
	}
}

// rangeTag marks the record values the __range intrinsic builds.
const rangeTag = "__range"

func (vm *VM) rangeContains(needle, rng value.Value) (value.Value, error) {
	lo, _ := rng.RecordField("low")
	hi, _ := rng.RecordField("high")
	closed, _ := rng.RecordField("closed")
	n := toFloat(needle)
	if n < toFloat(lo) {
		return value.Bool(false), nil
	}
	if closed.AsBool() {
		return value.Bool(n <= toFloat(hi)), nil
	}
	return value.Bool(n < toFloat(hi)), nil
}

// typeMatches implements `is`: scalar kind names, record type names,
// enum names (prefix over the union tag), and Enum::Variant /
// ::Variant tags.
func (vm *VM) typeMatches(v value.Value, typeName string) bool {
	if strings.Contains(typeName, "::") {
		if v.Kind() != value.KUnion {
			return false
		}
		tag := v.UnionTag()
		if strings.HasPrefix(typeName, "::") {
			return strings.HasSuffix(tag, typeName)
		}
		return tag == typeName
	}
	switch typeName {
	case "Null":
		return v.Kind() == value.KNull
	case "Bool":
		return v.Kind() == value.KBool
	case "Int":
		return v.Kind() == value.KInt
	case "BigInt":
		return v.Kind() == value.KBigInt
	case "Float":
		return v.Kind() == value.KFloat
	case "String":
		return v.Kind() == value.KString
	case "Bytes":
		return v.Kind() == value.KBytes
	case "List":
		return v.Kind() == value.KList
	case "Map", "Json":
		return v.Kind() == value.KMap
	case "Set":
		return v.Kind() == value.KSet
	}
	switch v.Kind() {
	case value.KRecord:
		return v.RecordType() == typeName
	case value.KUnion:
		return strings.HasPrefix(v.UnionTag(), typeName+"::")
	default:
		return false
	}
}

// toDisplayString renders a value for Concat and interpolation.
func toDisplayString(v value.Value) string {
	return v.String()
}

// opGetField reads a field: record/map entries, union payload slots,
// bound process methods, the codepoint-aware string helpers, and the
// reserved __try_unwrap selector that implements `try`.
func (vm *VM) opGetField(f *frame, in lir.Instr, minDepth int) (value.Value, bool, error) {
	obj := f.reg(in.B())
	name := vm.str(in.C())

	if name == "__try_unwrap" {
		return vm.tryUnwrap(f, in, obj, minDepth)
	}

	switch obj.Kind() {
	case value.KRecord:
		if pi := vm.processOf(obj); pi != nil {
			f.setReg(in.A(), boundMethod(obj, name))
			return value.Null, false, nil
		}
		fv, ok := obj.RecordField(name)
		if !ok {
			return value.Null, false, vm.errf(ErrKeyNotFound, "record %s has no field %q", obj.RecordType(), name)
		}
		f.setReg(in.A(), fv)
	case value.KUnion:
		fv, ok := obj.MapGet(name)
		if !ok {
			return value.Null, false, vm.errf(ErrKeyNotFound, "variant %s has no payload slot %q", obj.UnionTag(), name)
		}
		f.setReg(in.A(), fv)
	case value.KMap:
		fv, ok := obj.MapGet(name)
		if !ok {
			return value.Null, false, vm.errf(ErrKeyNotFound, "map has no key %q", name)
		}
		f.setReg(in.A(), fv)
	case value.KNull:
		return value.Null, false, vm.errf(ErrNullDereference, "field access %q on null", name)
	default:
		return value.Null, false, vm.errf(ErrTypeMismatch, "field access %q on %s", name, obj.Kind())
	}
	return value.Null, false, nil
}

// tryUnwrap implements `try`: ok(v) yields the payload, err(e)
// returns the whole union from the current cell.
func (vm *VM) tryUnwrap(f *frame, in lir.Instr, obj value.Value, minDepth int) (value.Value, bool, error) {
	if obj.Kind() != value.KUnion {
		// a non-result value passes through untouched
		f.setReg(in.A(), obj)
		return value.Null, false, nil
	}
	tag := obj.UnionTag()
	if strings.HasSuffix(tag, "::ok") {
		payload, _ := obj.MapGet("0")
		f.setReg(in.A(), payload)
		return value.Null, false, nil
	}
	if strings.HasSuffix(tag, "::err") {
		return vm.doReturn(f, obj, minDepth)
	}
	f.setReg(in.A(), obj)
	return value.Null, false, nil
}

func (vm *VM) opSetField(f *frame, in lir.Instr) error {
	obj := f.reg(in.A())
	name := vm.str(in.B())
	val := f.reg(in.C())
	switch obj.Kind() {
	case value.KRecord, value.KMap:
		f.setReg(in.A(), obj.WithMapSet(name, val))
		return nil
	case value.KNull:
		return vm.errf(ErrNullDereference, "field assignment %q on null", name)
	default:
		return vm.errf(ErrTypeMismatch, "field assignment %q on %s", name, obj.Kind())
	}
}

func (vm *VM) opGetIndex(f *frame, in lir.Instr) error {
	obj := f.reg(in.B())
	idx := f.reg(in.C())
	switch obj.Kind() {
	case value.KList, value.KTuple:
		elems := obj.AsList()
		i := int(idx.AsInt())
		if i < 0 || i >= len(elems) {
			return vm.errf(ErrIndexNotFound, "index %d out of range (len %d)", i, len(elems))
		}
		f.setReg(in.A(), elems[i])
	case value.KSet:
		elems := obj.AsSet()
		i := int(idx.AsInt())
		if i < 0 || i >= len(elems) {
			return vm.errf(ErrIndexNotFound, "index %d out of range (len %d)", i, len(elems))
		}
		f.setReg(in.A(), elems[i])
	case value.KMap:
		v, ok := obj.MapGet(idx.AsString())
		if !ok {
			return vm.errf(ErrKeyNotFound, "map has no key %q", idx.AsString())
		}
		f.setReg(in.A(), v)
	case value.KString:
		// codepoint-aware indexing: never splits a codepoint
		runes := []rune(obj.AsString())
		i := int(idx.AsInt())
		if i < 0 || i >= len(runes) {
			return vm.errf(ErrIndexNotFound, "string index %d out of range (len %d)", i, len(runes))
		}
		f.setReg(in.A(), value.String(string(runes[i])))
	case value.KBytes:
		bs := obj.AsBytes()
		i := int(idx.AsInt())
		if i < 0 || i >= len(bs) {
			return vm.errf(ErrIndexNotFound, "bytes index %d out of range (len %d)", i, len(bs))
		}
		f.setReg(in.A(), value.Int(int64(bs[i])))
	case value.KRecord:
		if obj.RecordType() == rangeTag {
			lo, _ := obj.RecordField("low")
			f.setReg(in.A(), value.Int(lo.AsInt()+idx.AsInt()))
			return nil
		}
		v, ok := obj.MapGet(idx.AsString())
		if !ok {
			return vm.errf(ErrKeyNotFound, "record %s has no field %q", obj.RecordType(), idx.AsString())
		}
		f.setReg(in.A(), v)
	case value.KNull:
		return vm.errf(ErrNullDereference, "index on null")
	default:
		return vm.errf(ErrTypeMismatch, "index on %s", obj.Kind())
	}
	return nil
}

func (vm *VM) opSetIndex(f *frame, in lir.Instr) error {
	obj := f.reg(in.A())
	idx := f.reg(in.B())
	val := f.reg(in.C())
	switch obj.Kind() {
	case value.KList:
		elems := obj.AsList()
		i := int(idx.AsInt())
		if i < 0 || i >= len(elems) {
			return vm.errf(ErrIndexNotFound, "index %d out of range (len %d)", i, len(elems))
		}
		f.setReg(in.A(), obj.WithListSet(i, val))
	case value.KMap:
		f.setReg(in.A(), obj.WithMapSet(idx.AsString(), val))
	default:
		return vm.errf(ErrTypeMismatch, "index assignment on %s", obj.Kind())
	}
	return nil
}

// opPerform searches the handler stack top-down; a match transfers
// control to the clause cell with a fresh one-shot continuation, a
// miss falls back to the effect-to-tool binding, and an unbound effect
// raises UnhandledEffect.
func (vm *VM) opPerform(f *frame, in lir.Instr) error {
	effName := vm.str(in.B())
	opName := vm.str(in.C())
	argc := vm.performArity(effName, opName)
	args := vm.collectRegs(f, in.A()+1, argc)

	h, hi, found := vm.hs.Find(effName, opName)
	if !found {
		if alias, bound := vm.mod.Metadata.EffectToTool[effName]; bound {
			res, err := vm.opToolCall(alias, args)
			if err != nil {
				return err
			}
			f.setReg(in.A(), res)
			return nil
		}
		return vm.errf(ErrUnhandledEffect, "no handler for %s.%s", effName, opName)
	}

	// mask the handler while its clause runs so a same-effect perform
	// inside the clause does not loop back into it
	masked := vm.hs.RemoveAt(hi)

	contFrame := len(vm.frames) - 1
	if err := vm.pushFrame(uint32(h.CellIndex), args, nil, in.A()); err != nil {
		return err
	}
	nf := vm.frames[len(vm.frames)-1]
	nf.cont = effect.NewContinuation(nil)
	nf.contFrame = contFrame
	nf.contDst = in.A()
	nf.masked = &masked
	return nil
}

// performArity reads the handler or effect-table arity for an
// operation, so Perform knows how many argument registers to collect.
func (vm *VM) performArity(effName, opName string) int {
	if h, _, ok := vm.hs.Find(effName, opName); ok {
		return vm.mod.Cells[h.CellIndex].ParamCount
	}
	for _, e := range vm.mod.Effects {
		if e.Name != effName {
			continue
		}
		for _, op := range e.Ops {
			if op.Name == opName {
				return len(op.Params)
			}
		}
	}
	return 0
}

// opResume consumes the innermost clause continuation and runs the
// suspended computation underneath the clause to completion; its final
// value becomes resume's result. The second resume on the same
// continuation raises ContinuationConsumed.
func (vm *VM) opResume(f *frame, in lir.Instr) (value.Value, error) {
	clauseIdx := -1
	for i := len(vm.frames) - 1; i >= 0; i-- {
		if vm.frames[i].cont != nil {
			clauseIdx = i
			break
		}
	}
	if clauseIdx < 0 {
		return value.Null, vm.errf(ErrUnhandledEffect, "resume outside of a handler clause")
	}
	clause := vm.frames[clauseIdx]
	if _, err := clause.cont.Take(); err != nil {
		return value.Null, vm.errf(ErrContinuationConsumed, "%v", err)
	}

	v := f.reg(in.C())

	// detach the clause (and anything it called) from the stack,
	// deliver the resume value to the suspended Perform, re-install
	// the masked handler, and run the suspended computation
	detached := append([]*frame(nil), vm.frames[clauseIdx:]...)
	vm.frames = vm.frames[:clauseIdx]
	if clause.contFrame >= 0 && clause.contFrame < len(vm.frames) {
		vm.frames[clause.contFrame].setReg(clause.contDst, v)
	}
	if clause.masked != nil {
		vm.hs.Push(*clause.masked)
		clause.masked = nil
	}

	result, err := vm.runLoop(1)
	// reattach the clause frames so the clause body continues after
	// resume, whatever the suspended computation did
	vm.frames = append(vm.frames, detached...)
	if err != nil {
		return value.Null, err
	}
	return result, nil
}

// opToolCall packages the argument registers into the provider input:
// a single argument passes through as-is, several become a list.
func (vm *VM) opToolCall(alias string, args []value.Value) (value.Value, error) {
	var input value.Value
	switch len(args) {
	case 0:
		input = value.Null
	case 1:
		input = args[0]
	default:
		input = value.List(args)
	}
	res, err := vm.disp.Call(alias, input)
	if err != nil {
		var pe *tool.PolicyError
		if errors.As(err, &pe) {
			return value.Null, vm.errf(ErrToolPolicy, "%v", err)
		}
		var ue *tool.UnknownToolError
		if errors.As(err, &ue) {
			return value.Null, vm.errf(ErrUnknownTool, "%v", err)
		}
		return value.Null, vm.errf(ErrHalt, "%v", err)
	}
	return res, nil
}
