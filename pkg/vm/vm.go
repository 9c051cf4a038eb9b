// Package vm executes LIR modules: a single-threaded cooperative
// interpreter with a frame stack, checked arithmetic, algebraic effect
// handlers over one-shot continuations, deterministic future
// scheduling, process runtimes, and capability-gated tool dispatch.
package vm

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/logger"
	"github.com/lumen-lang/lumen/pkg/effect"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/scheduler"
	"github.com/lumen-lang/lumen/pkg/tool"
	"github.com/lumen-lang/lumen/pkg/trace"
	"github.com/lumen-lang/lumen/pkg/value"
)

// DefaultFuel is the instruction budget a run receives unless the
// caller overrides it.
const DefaultFuel int64 = 10_000_000

// DefaultMaxDepth bounds the call-frame stack.
const DefaultMaxDepth = 256

// Options configures a VM instance. Registry and policies are frozen
// at construction; mutation during a run is not possible.
type Options struct {
	Fuel     int64
	MaxDepth int
	Registry *tool.Registry
	RunID    string
	// Deterministic overrides the module's directive when set.
	Deterministic bool
}

// RunResult carries a completed run's value, its emitted values, and
// the trace log.
type RunResult struct {
	Value   value.Value
	Emitted []value.Value
	Trace   *trace.Log
}

// frame is one call activation: the cell, its register file, the
// instruction pointer, and where the caller wants the result.
type frame struct {
	cell      *lir.Cell
	cellIndex uint32
	regs      []value.Value
	ip        int
	retReg    uint16
	upvals    []value.Value

	// handler-clause bookkeeping: cont guards the one-shot resume,
	// contFrame/contDst locate the suspended Perform's result register,
	// masked re-installs the handler when control returns to the body.
	cont      *effect.Continuation
	contFrame int
	contDst   uint16
	masked    *effect.Handler
}

// VM interprets one module. A VM runs one computation at a time; all
// progress is made by the single dispatch loop.
type VM struct {
	mod   *lir.Module
	sched *scheduler.Scheduler
	hs    effect.Stack
	disp  *tool.Dispatcher
	log   *trace.Log

	frames   []*frame
	fuel     int64
	maxDepth int

	deterministic bool

	procs    map[int64]*procInstance
	nextProc int64

	emitted []value.Value
}

// New builds a VM over mod. The provider registry is frozen here; the
// grant policies come from the module metadata.
func New(mod *lir.Module, opts Options) *VM {
	if opts.Fuel == 0 {
		opts.Fuel = DefaultFuel
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Registry == nil {
		opts.Registry = tool.NewRegistry()
	}
	if opts.RunID == "" {
		opts.RunID = "run"
	}
	deterministic := mod.Metadata.Deterministic || opts.Deterministic

	opts.Registry.Freeze()
	log := trace.NewLog(opts.RunID, deterministic)

	policies := map[string]tool.Policy{}
	for alias, gp := range mod.Metadata.GrantPolicies {
		policies[alias] = tool.Policy{
			DomainGlobs: gp.DomainGlobs,
			MaxTokens:   gp.MaxTokens,
			Effects:     gp.Effects,
			CustomKeys:  gp.CustomKeys,
		}
	}
	disp := tool.NewDispatcher(opts.Registry, policies, log)
	disp.SetDeterministic(deterministic)

	policy := scheduler.ParsePolicy(mod.Metadata.DefaultFutureSchedule)
	if deterministic {
		policy = scheduler.DeferredFifo
	}

	return &VM{
		mod:           mod,
		sched:         scheduler.New(policy),
		disp:          disp,
		log:           log,
		fuel:          opts.Fuel,
		maxDepth:      opts.MaxDepth,
		deterministic: deterministic,
		procs:         map[int64]*procInstance{},
	}
}

// Trace returns the run's trace log.
func (vm *VM) Trace() *trace.Log { return vm.log }

// Run executes the named cell with args and returns its result. The
// trace brackets the run with run_start/run_end; a runtime error is
// recorded as an error event before run_end.
func (vm *VM) Run(cellName string, args []value.Value) (*RunResult, error) {
	idx, ok := vm.findCell(cellName)
	if !ok {
		return nil, vm.errf(ErrUnknownCell, "cell %q not found in module", cellName)
	}
	vm.log.Append(trace.KindRunStart, map[string]any{"cell": cellName, "deterministic": vm.deterministic})
	logger.Get().Debug().Str("cell", cellName).Msg("run start")

	res, err := vm.callCellIndex(idx, args)
	if err == nil {
		// drain any futures still queued under deferred-fifo
		vm.sched.Drain()
	}
	if err != nil {
		vm.log.Append(trace.KindError, map[string]any{"error": err.Error()})
		logger.Get().Error().Err(err).Str("cell", cellName).Msg("run failed")
	}
	vm.log.Append(trace.KindRunEnd, map[string]any{"cell": cellName})
	if err != nil {
		return nil, err
	}
	return &RunResult{Value: res, Emitted: vm.emitted, Trace: vm.log}, nil
}

func (vm *VM) findCell(name string) (uint32, bool) {
	for i := range vm.mod.Cells {
		if vm.mod.Cells[i].Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// callCellIndex pushes a frame for the cell and runs it to completion.
// This is the reentrant entry used by Run, process methods, scheduler
// tasks, and constraint checks.
func (vm *VM) callCellIndex(idx uint32, args []value.Value) (value.Value, error) {
	if err := vm.pushFrame(idx, args, nil, 0); err != nil {
		return value.Null, err
	}
	return vm.runLoop(len(vm.frames))
}

// callValue invokes a callable value: a closure over a cell, or a
// bound process method.
func (vm *VM) callValue(fn value.Value, args []value.Value) (value.Value, error) {
	cl := fn.AsClosure()
	if cl == nil {
		return value.Null, vm.errf(ErrTypeMismatch, "value of kind %s is not callable", fn.Kind())
	}
	if cl.CellIndex < 0 {
		return vm.callBoundMethod(cl, args)
	}
	if err := vm.pushFrame(uint32(cl.CellIndex), args, cl.Upvalues, 0); err != nil {
		return value.Null, err
	}
	return vm.runLoop(len(vm.frames))
}

// pushFrame creates an activation for cell idx. retReg is only
// meaningful when the caller frame consumes the result in-loop.
func (vm *VM) pushFrame(idx uint32, args []value.Value, upvals []value.Value, retReg uint16) error {
	if int(idx) >= len(vm.mod.Cells) {
		return vm.errf(ErrUnknownCell, "cell index %d out of range", idx)
	}
	if len(vm.frames) >= vm.maxDepth {
		return vm.errf(ErrStackOverflow, "frame depth exceeds %d", vm.maxDepth)
	}
	cell := &vm.mod.Cells[idx]
	if len(args) != cell.ParamCount {
		return vm.errf(ErrTypeMismatch, "cell %s takes %d arguments, got %d", cell.Name, cell.ParamCount, len(args))
	}
	size := cell.RegisterCount
	if size < cell.ParamCount {
		size = cell.ParamCount
	}
	regs := make([]value.Value, size)
	for i := range regs {
		regs[i] = value.Null
	}
	for i, a := range args {
		regs[i] = a.Retain()
	}
	vm.frames = append(vm.frames, &frame{
		cell:      cell,
		cellIndex: idx,
		regs:      regs,
		retReg:    retReg,
		upvals:    upvals,
		contFrame: -1,
	})
	vm.traceEnter(cell)
	return nil
}

func (vm *VM) traceEnter(cell *lir.Cell) {
	if namedCell(cell) {
		vm.log.Append(trace.KindCellEnter, map[string]any{"cell": cell.Name})
	}
}

func (vm *VM) traceExit(cell *lir.Cell) {
	if namedCell(cell) {
		vm.log.Append(trace.KindCellExit, map[string]any{"cell": cell.Name})
	}
}

// namedCell filters lambdas and lowering-synthesized cells out of the
// cell_enter/cell_exit trace granularity.
func namedCell(cell *lir.Cell) bool {
	return len(cell.Name) > 0 && cell.Name[0] != '<'
}

// reg reads register r of the top frame.
func (f *frame) reg(r uint16) value.Value {
	if int(r) >= len(f.regs) {
		return value.Null
	}
	return f.regs[r]
}

func (f *frame) setReg(r uint16, v value.Value) {
	if int(r) >= len(f.regs) {
		grown := make([]value.Value, int(r)+1)
		copy(grown, f.regs)
		for i := len(f.regs); i < len(grown); i++ {
			grown[i] = value.Null
		}
		f.regs = grown
	}
	f.regs[r] = v
}

func (vm *VM) str(idx uint16) string {
	if int(idx) >= len(vm.mod.Strings) {
		return ""
	}
	return vm.mod.Strings[idx]
}

// runLoop executes until the frame stack drops below minDepth and
// returns the value carried by the Return (or Resume completion) that
// crossed the boundary.
func (vm *VM) runLoop(minDepth int) (value.Value, error) {
	var crossing value.Value
	for len(vm.frames) >= minDepth {
		f := vm.frames[len(vm.frames)-1]
		if f.ip >= len(f.cell.Code) {
			// fell off the end: implicit valueless return
			v, done, err := vm.doReturn(f, value.Null, minDepth)
			if err != nil {
				return value.Null, err
			}
			if done {
				crossing = v
			}
			continue
		}
		instrIdx := f.ip
		in := f.cell.Code[instrIdx]
		f.ip++

		vm.fuel--
		if vm.fuel <= 0 {
			return value.Null, vm.errf(ErrFuelExhausted, "instruction budget exhausted")
		}

		v, done, err := vm.step(f, in, instrIdx, minDepth)
		if err != nil {
			return value.Null, err
		}
		if done {
			crossing = v
		}
	}
	return crossing, nil
}

// doReturn pops the top frame with result v. It reports done=true when
// the pop crossed below minDepth (the caller of runLoop gets v).
// Handler-clause frames returning with an unconsumed continuation
// implicitly resume the suspended computation with their value.
func (vm *VM) doReturn(f *frame, v value.Value, minDepth int) (value.Value, bool, error) {
	vm.traceExit(f.cell)
	if f.cont != nil && !f.cont.Consumed() {
		// implicit resume: the clause finished without calling resume,
		// its value becomes the Perform's result
		if _, err := f.cont.Take(); err != nil {
			return value.Null, false, vm.errf(ErrContinuationConsumed, "%v", err)
		}
		if f.masked != nil {
			vm.hs.Push(*f.masked)
		}
		vm.frames = vm.frames[:len(vm.frames)-1]
		if f.contFrame >= 0 && f.contFrame < len(vm.frames) {
			vm.frames[f.contFrame].setReg(f.contDst, v)
		}
		return value.Null, len(vm.frames) < minDepth, nil
	}
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) < minDepth {
		return v, true, nil
	}
	caller := vm.frames[len(vm.frames)-1]
	caller.setReg(f.retReg, v)
	return value.Null, false, nil
}

// spawnTask wraps a spawned operand as a scheduler task: closures are
// invoked when the task runs; any other value completes immediately.
func (vm *VM) spawnTask(v value.Value) scheduler.Task {
	if cl := v.AsClosure(); cl != nil {
		return func() (value.Value, error) {
			return vm.callValue(v, nil)
		}
	}
	return func() (value.Value, error) { return v, nil }
}

// Emitted returns values emitted so far; pipelines and tests read it.
func (vm *VM) Emitted() []value.Value { return vm.emitted }

func (vm *VM) emitValue(channel string, v value.Value) {
	vm.emitted = append(vm.emitted, v)
	vm.log.Append(trace.KindEmit, map[string]any{"channel": channel, "value": v.String()})
}

// CallCellByName invokes a named cell from outside the dispatch loop,
// the library entry the CLI run command uses for arbitrary cells.
func (vm *VM) CallCellByName(name string, args []value.Value) (value.Value, error) {
	idx, ok := vm.findCell(name)
	if !ok {
		return value.Null, vm.errf(ErrUnknownCell, "cell %q not found in module", name)
	}
	return vm.callCellIndex(idx, args)
}

func (vm *VM) String() string {
	return fmt.Sprintf("vm(cells=%d, fuel=%d, depth=%d)", len(vm.mod.Cells), vm.fuel, len(vm.frames))
}
