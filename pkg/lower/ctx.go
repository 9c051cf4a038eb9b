package lower

import (
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/lir"
)

// loopLabels tracks the jump targets a break/continue (optionally
// labelled) inside the current loop should patch to.
type loopLabels struct {
	label         string
	breakLabel    int
	continueLabel int
}

// cellCtx is the lowering state for a single cell: its instruction
// builder, register allocator, lexical scope chain (name -> register),
// upvalue capture list (filled in lazily the first time an enclosing
// variable is referenced from a nested lambda), loop stack for
// break/continue, and deferred-statement stack for LIFO scope-exit
// emission.
type cellCtx struct {
	l *Lowerer
	b *lir.Builder

	next uint16
	high uint16

	scopes []map[string]uint16
	loops  []loopLabels
	defers [][]ast.Stmt // one slice of pending defer bodies per enclosing block

	// parent is non-nil when this cell is a lambda lowered from inside
	// another cell's body; upvals records each captured variable, in
	// the order first referenced.
	parent    *cellCtx
	upvals    []lir.UpvalueDesc
	upvalName map[string]uint16 // name -> upvalue index, for names captured from the parent
}

func newCellCtx(l *Lowerer, parent *cellCtx) *cellCtx {
	return &cellCtx{
		l:         l,
		b:         lir.NewBuilder(),
		scopes:    []map[string]uint16{{}},
		parent:    parent,
		upvalName: map[string]uint16{},
	}
}

func (c *cellCtx) pushScope() { c.scopes = append(c.scopes, map[string]uint16{}) }
func (c *cellCtx) popScope()  { c.scopes = c.scopes[:len(c.scopes)-1] }

func (c *cellCtx) bind(name string) uint16 {
	r := c.alloc()
	c.scopes[len(c.scopes)-1][name] = r
	return r
}

func (c *cellCtx) bindTo(name string, reg uint16) {
	c.scopes[len(c.scopes)-1][name] = reg
}

// lookupLocal searches this cell's own scope chain only.
func (c *cellCtx) lookupLocal(name string) (uint16, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if r, ok := c.scopes[i][name]; ok {
			return r, true
		}
	}
	return 0, false
}

// alloc reserves the next register, bumping the watermark.
func (c *cellCtx) alloc() uint16 {
	r := c.next
	c.next++
	if c.next > c.high {
		c.high = c.next
	}
	return r
}

// allocBlock reserves n contiguous registers, used for call argument
// frames.
func (c *cellCtx) allocBlock(n int) uint16 {
	base := c.next
	c.next += uint16(n)
	if c.next > c.high {
		c.high = c.next
	}
	return base
}

// mark/release free a block's temporaries on exit: a block records the allocator position on
// entry and rewinds to it on exit, reusing registers across sibling
// statements without reusing them concurrently.
func (c *cellCtx) mark() uint16     { return c.next }
func (c *cellCtx) release(m uint16) { c.next = m }

func (c *cellCtx) pushLoop(label string, breakL, continueL int) {
	c.loops = append(c.loops, loopLabels{label: label, breakLabel: breakL, continueLabel: continueL})
}

func (c *cellCtx) popLoop() { c.loops = c.loops[:len(c.loops)-1] }

// findLoop resolves a (possibly empty) break/continue label to the
// innermost matching loop frame.
func (c *cellCtx) findLoop(label string) (loopLabels, bool) {
	for i := len(c.loops) - 1; i >= 0; i-- {
		if label == "" || c.loops[i].label == label {
			return c.loops[i], true
		}
	}
	return loopLabels{}, false
}

func (c *cellCtx) pushDeferFrame() { c.defers = append(c.defers, nil) }

func (c *cellCtx) addDefer(body []ast.Stmt) {
	top := len(c.defers) - 1
	c.defers[top] = append(c.defers[top], &ast.DeferStmt{Body: body})
}

// popDeferFrame emits every defer body registered in the current
// frame, most-recently-declared first (LIFO), then removes the frame.
// emit is the lowering callback (lowerBlock) so this file doesn't need
// to import the statement lowering logic directly.
func (c *cellCtx) popDeferFrame(emit func([]ast.Stmt)) {
	top := len(c.defers) - 1
	frame := c.defers[top]
	for i := len(frame) - 1; i >= 0; i-- {
		ds := frame[i].(*ast.DeferStmt)
		emit(ds.Body)
	}
	c.defers = c.defers[:top]
}

// pendingDefers returns every defer body registered across all active
// frames (innermost first), used to emit LIFO cleanup on a non-local
// exit (return/halt/break) that skips past enclosing block boundaries.
func (c *cellCtx) pendingDefers() []([]ast.Stmt) {
	var out [][]ast.Stmt
	for i := len(c.defers) - 1; i >= 0; i-- {
		frame := c.defers[i]
		for j := len(frame) - 1; j >= 0; j-- {
			out = append(out, frame[j].(*ast.DeferStmt).Body)
		}
	}
	return out
}
