package vm

import (
	"strconv"

	"github.com/lumen-lang/lumen/pkg/effect"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/trace"
	"github.com/lumen-lang/lumen/pkg/value"
)

// step executes one instruction. instrIdx is the instruction's own
// index (jump displacements are relative to it). The (value, done)
// pair mirrors doReturn: done reports that the frame stack crossed
// below minDepth and the loop should surface the value.
func (vm *VM) step(f *frame, in lir.Instr, instrIdx int, minDepth int) (value.Value, bool, error) {
	op := in.Op()
	switch op {
	case lir.OpNop:

	case lir.OpLoadK:
		idx := in.Bx()
		if int(idx) >= len(vm.mod.Consts) {
			return value.Null, false, vm.errf(ErrTypeMismatch, "constant index %d out of range", idx)
		}
		f.setReg(in.A(), vm.mod.Consts[idx])
	case lir.OpLoadNil:
		f.setReg(in.A(), value.Null)
	case lir.OpLoadBool:
		f.setReg(in.A(), value.Bool(in.B() != 0))
	case lir.OpLoadInt:
		f.setReg(in.A(), value.Int(int64(in.SAxVal())))
	case lir.OpMove:
		f.setReg(in.A(), f.reg(in.B()))

	case lir.OpNewList:
		f.setReg(in.A(), value.List(vm.collectRegs(f, in.B(), int(in.C()))))
	case lir.OpNewTuple:
		f.setReg(in.A(), value.Tuple(vm.collectRegs(f, in.B(), int(in.C()))))
	case lir.OpNewSet:
		f.setReg(in.A(), value.Set(vm.collectRegs(f, in.B(), int(in.C()))))
	case lir.OpNewMap:
		n := int(in.C())
		keys := make([]string, 0, n)
		vals := make([]value.Value, 0, n)
		for i := 0; i < n; i++ {
			keys = append(keys, f.reg(in.B()+uint16(i*2)).AsString())
			vals = append(vals, f.reg(in.B()+uint16(i*2)+1))
		}
		f.setReg(in.A(), value.Map(keys, vals))
	case lir.OpNewRecord:
		if err := vm.opNewRecord(f, in); err != nil {
			return value.Null, false, err
		}
	case lir.OpNewUnion:
		if err := vm.opNewUnion(f, in); err != nil {
			return value.Null, false, err
		}

	case lir.OpGetField:
		v, done, err := vm.opGetField(f, in, minDepth)
		return v, done, err
	case lir.OpSetField:
		if err := vm.opSetField(f, in); err != nil {
			return value.Null, false, err
		}
	case lir.OpGetIndex:
		if err := vm.opGetIndex(f, in); err != nil {
			return value.Null, false, err
		}
	case lir.OpSetIndex:
		if err := vm.opSetIndex(f, in); err != nil {
			return value.Null, false, err
		}
	case lir.OpGetTuple:
		t := f.reg(in.B())
		elems := t.AsList()
		if int(in.C()) >= len(elems) {
			return value.Null, false, vm.errf(ErrIndexNotFound, "tuple index %d out of range (len %d)", in.C(), len(elems))
		}
		f.setReg(in.A(), elems[in.C()])

	case lir.OpAdd, lir.OpSub, lir.OpMul, lir.OpDiv, lir.OpFloorDiv, lir.OpMod, lir.OpPow,
		lir.OpBitAnd, lir.OpBitOr, lir.OpBitXor, lir.OpShl, lir.OpShr:
		res, err := vm.arith(op, f.reg(in.B()), f.reg(in.C()))
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)
	case lir.OpNeg:
		res, err := vm.negate(f.reg(in.B()))
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)
	case lir.OpBitNot:
		v := f.reg(in.B())
		if v.Kind() != value.KInt {
			return value.Null, false, vm.errf(ErrTypeMismatch, "bitwise not needs Int, got %s", v.Kind())
		}
		f.setReg(in.A(), value.Int(^v.AsInt()))
	case lir.OpConcat:
		f.setReg(in.A(), value.String(toDisplayString(f.reg(in.B()))+toDisplayString(f.reg(in.C()))))

	case lir.OpEq:
		f.setReg(in.A(), value.Bool(value.Equal(f.reg(in.B()), f.reg(in.C()))))
	case lir.OpLt:
		res, err := vm.compare(f.reg(in.B()), f.reg(in.C()), false)
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)
	case lir.OpLe:
		res, err := vm.compare(f.reg(in.B()), f.reg(in.C()), true)
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)
	case lir.OpNot:
		f.setReg(in.A(), value.Bool(!truthy(f.reg(in.B()))))
	case lir.OpAnd:
		f.setReg(in.A(), value.Bool(truthy(f.reg(in.B())) && truthy(f.reg(in.C()))))
	case lir.OpOr:
		f.setReg(in.A(), value.Bool(truthy(f.reg(in.B())) || truthy(f.reg(in.C()))))
	case lir.OpIn:
		res, err := vm.opIn(f.reg(in.B()), f.reg(in.C()))
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)
	case lir.OpIs:
		f.setReg(in.A(), value.Bool(vm.typeMatches(f.reg(in.B()), vm.str(in.C()))))
	case lir.OpNullCo:
		f.setReg(in.A(), value.Bool(!f.reg(in.B()).IsNull()))

	case lir.OpTest:
		// the following instruction must be a jump; it is taken iff
		// the condition's truthiness matches the C flag
		if f.ip >= len(f.cell.Code) {
			return value.Null, false, vm.errf(ErrTypeMismatch, "Test at end of code")
		}
		jmp := f.cell.Code[f.ip]
		jmpIdx := f.ip
		f.ip++
		cond := truthy(f.reg(in.A()))
		wantTrue := in.C() == 1
		if cond == wantTrue {
			f.ip = jmpIdx + int(jmp.SAxVal())
		}

	case lir.OpJmp, lir.OpLoop, lir.OpBreak, lir.OpContinue:
		f.ip = instrIdx + int(in.SAxVal())
	case lir.OpForPrep, lir.OpForLoop:
		// reserved for the dedicated numeric-for fast path; current
		// lowering emits Lt/Test/Loop sequences instead
		f.ip = instrIdx + int(in.SAxVal())

	case lir.OpCall:
		callee := f.reg(in.B())
		args := vm.collectRegs(f, in.B()+1, int(in.C()))
		cl := callee.AsClosure()
		if cl == nil {
			return value.Null, false, vm.errf(ErrTypeMismatch, "value of kind %s is not callable", callee.Kind())
		}
		if cl.CellIndex < 0 {
			res, err := vm.callBoundMethod(cl, args)
			if err != nil {
				return value.Null, false, err
			}
			f.setReg(in.A(), res)
			return value.Null, false, nil
		}
		if err := vm.pushFrame(uint32(cl.CellIndex), args, cl.Upvalues, in.A()); err != nil {
			return value.Null, false, err
		}
	case lir.OpTailCall:
		callee := f.reg(in.A())
		args := vm.collectRegs(f, in.A()+1, int(in.C()))
		cl := callee.AsClosure()
		if cl == nil {
			return value.Null, false, vm.errf(ErrTypeMismatch, "value of kind %s is not callable", callee.Kind())
		}
		if cl.CellIndex < 0 {
			res, err := vm.callBoundMethod(cl, args)
			if err != nil {
				return value.Null, false, err
			}
			return vm.doReturn(f, res, minDepth)
		}
		// reuse the frame slot: pop the caller, push the callee with
		// the caller's return register
		vm.traceExit(f.cell)
		retReg := f.retReg
		cont, contFrame, contDst, masked := f.cont, f.contFrame, f.contDst, f.masked
		vm.frames = vm.frames[:len(vm.frames)-1]
		if err := vm.pushFrame(uint32(cl.CellIndex), args, cl.Upvalues, retReg); err != nil {
			return value.Null, false, err
		}
		nf := vm.frames[len(vm.frames)-1]
		nf.cont, nf.contFrame, nf.contDst, nf.masked = cont, contFrame, contDst, masked
	case lir.OpReturn:
		var res value.Value = value.Null
		if in.A() != 0xFFFF {
			res = f.reg(in.A())
		}
		return vm.doReturn(f, res, minDepth)
	case lir.OpHalt:
		v := f.reg(in.A())
		if in.C() == 1 {
			return value.Null, false, vm.errf(ErrNullDereference, "%s", toDisplayString(v))
		}
		return value.Null, false, vm.errf(ErrHalt, "%s", toDisplayString(v))

	case lir.OpIntrinsic:
		res, err := vm.callIntrinsic(in.B(), vm.collectRegs(f, in.A()+1, int(in.C())))
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)
	case lir.OpClosure:
		idx := in.Bx()
		if int(idx) >= len(vm.mod.Cells) {
			return value.Null, false, vm.errf(ErrUnknownCell, "closure over cell index %d out of range", idx)
		}
		descs := vm.mod.Cells[idx].Upvalues
		ups := make([]value.Value, len(descs))
		for i, d := range descs {
			if d.FromParent {
				ups[i] = f.reg(d.Index)
			} else if f.upvals != nil && int(d.Index) < len(f.upvals) {
				ups[i] = f.upvals[d.Index]
			} else {
				ups[i] = value.Null
			}
		}
		f.setReg(in.A(), value.ClosureValue(&value.Closure{CellIndex: int(idx), Upvalues: ups}))
	case lir.OpGetUpval:
		if f.upvals == nil || int(in.B()) >= len(f.upvals) {
			f.setReg(in.A(), value.Null)
		} else {
			f.setReg(in.A(), f.upvals[in.B()])
		}
	case lir.OpSetUpval:
		if f.upvals != nil && int(in.A()) < len(f.upvals) {
			f.upvals[in.A()] = f.reg(in.B())
		}

	case lir.OpPerform:
		if err := vm.opPerform(f, in); err != nil {
			return value.Null, false, err
		}
	case lir.OpHandlePush:
		idx := in.Bx()
		if int(idx) >= len(vm.mod.Cells) {
			return value.Null, false, vm.errf(ErrUnknownCell, "handler cell index %d out of range", idx)
		}
		hc := &vm.mod.Cells[idx]
		vm.hs.Push(effect.Handler{
			CellIndex:  int(idx),
			Effect:     hc.HandlerEffect,
			Op:         hc.HandlerOp,
			FrameDepth: len(vm.frames),
		})
	case lir.OpHandlePop:
		vm.hs.Pop()
	case lir.OpResume:
		res, err := vm.opResume(f, in)
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)

	case lir.OpAwait:
		res, err := vm.sched.Await(f.reg(in.B()))
		if err != nil {
			return value.Null, false, vm.errf(ErrHalt, "await: %v", err)
		}
		f.setReg(in.A(), res)
	case lir.OpSpawn:
		f.setReg(in.A(), vm.sched.Spawn(vm.spawnTask(f.reg(in.B()))))

	case lir.OpToolCall:
		alias := vm.str(in.B())
		args := vm.collectRegs(f, in.A()+1, int(in.C()))
		res, err := vm.opToolCall(alias, args)
		if err != nil {
			return value.Null, false, err
		}
		f.setReg(in.A(), res)
	case lir.OpSchema:
		if err := vm.opSchema(f, in); err != nil {
			return value.Null, false, err
		}
	case lir.OpEmit:
		vm.emitValue(vm.mod.Strings[in.Bx()], f.reg(in.A()))
	case lir.OpTraceRef:
		f.setReg(in.A(), value.TraceRef(vm.log.RunID()))

	default:
		return value.Null, false, vm.errf(ErrTypeMismatch, "unknown opcode %d", op)
	}
	return value.Null, false, nil
}

func (vm *VM) collectRegs(f *frame, base uint16, n int) []value.Value {
	out := make([]value.Value, n)
	for i := 0; i < n; i++ {
		out[i] = f.reg(base + uint16(i))
	}
	return out
}

func truthy(v value.Value) bool {
	switch v.Kind() {
	case value.KNull:
		return false
	case value.KBool:
		return v.AsBool()
	default:
		return true
	}
}

func (vm *VM) opNewRecord(f *frame, in lir.Instr) error {
	typeIdx := int(in.C())
	if typeIdx >= len(vm.mod.Types) {
		return vm.errf(ErrTypeMismatch, "record type index %d out of range", typeIdx)
	}
	t := &vm.mod.Types[typeIdx]
	if t.Kind == lir.TypeProcess {
		inst, err := vm.newProcessInstance(t, vm.collectRegs(f, in.B(), 0))
		if err != nil {
			return err
		}
		f.setReg(in.A(), inst)
		return nil
	}
	fields := map[string]value.Value{}
	order := make([]string, len(t.Fields))
	for i, fd := range t.Fields {
		order[i] = fd.Name
		fields[fd.Name] = f.reg(in.B() + uint16(i))
	}
	f.setReg(in.A(), value.Record(t.Name, fields, order))
	return nil
}

func (vm *VM) opNewUnion(f *frame, in lir.Instr) error {
	bx := in.Bx()
	typeIdx := int(bx >> 16)
	variantIdx := int(bx & 0xFFFF)
	if typeIdx >= len(vm.mod.Types) {
		return vm.errf(ErrTypeMismatch, "union type index %d out of range", typeIdx)
	}
	t := &vm.mod.Types[typeIdx]
	if variantIdx >= len(t.Variants) {
		return vm.errf(ErrTypeMismatch, "variant index %d out of range for %s", variantIdx, t.Name)
	}
	v := t.Variants[variantIdx]
	fields := map[string]value.Value{}
	order := make([]string, len(v.Fields))
	for i, fd := range v.Fields {
		name := fd.Name
		if name == "" {
			name = strconv.Itoa(i)
		}
		order[i] = name
		fields[name] = f.reg(in.A() + 1 + uint16(i))
	}
	f.setReg(in.A(), value.Union(t.Name, v.Tag, fields, order))
	return nil
}

func (vm *VM) opSchema(f *frame, in lir.Instr) error {
	typeIdx := int(in.C())
	if typeIdx >= len(vm.mod.Types) {
		return vm.errf(ErrTypeMismatch, "schema type index %d out of range", typeIdx)
	}
	t := &vm.mod.Types[typeIdx]
	rec := f.reg(in.B())
	ok := true
	if t.HasConstraint {
		args := make([]value.Value, len(t.Fields))
		for i, fd := range t.Fields {
			fv, _ := rec.RecordField(fd.Name)
			args[i] = fv
		}
		res, err := vm.callCellIndex(t.ConstraintCell, args)
		if err != nil {
			return err
		}
		ok = truthy(res)
	}
	vm.log.Append(trace.KindSchemaValidate, map[string]any{"type": t.Name, "ok": ok})
	if !ok {
		return vm.errf(ErrSchemaValidation, "record %s violates its constraint", t.Name)
	}
	f.setReg(in.A(), value.Bool(true))
	return nil
}
