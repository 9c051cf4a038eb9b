package lumen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/trace"
	"github.com/lumen-lang/lumen/pkg/value"
	"github.com/lumen-lang/lumen/pkg/vm"
)

func compileOK(t *testing.T, src string) *RunHarness {
	t.Helper()
	mod, diags := Compile(src, CompileOptions{Filename: "test.lm"})
	for _, d := range diags {
		t.Logf("diag: %s", d.Error())
	}
	require.NotNil(t, mod, "expected source to compile")
	return &RunHarness{t: t, src: src}
}

// RunHarness recompiles per run so deterministic-trace tests get a
// fresh VM each time.
type RunHarness struct {
	t   *testing.T
	src string
}

func (h *RunHarness) run(cell string) (*vm.RunResult, error) {
	mod, _ := Compile(h.src, CompileOptions{Filename: "test.lm"})
	require.NotNil(h.t, mod)
	return Run(mod, RunOptions{Cell: cell, RunID: "test-run"})
}

func (h *RunHarness) mustRun(cell string) *vm.RunResult {
	res, err := h.run(cell)
	require.NoError(h.t, err)
	return res
}

func compileErr(t *testing.T, src string) []diagnostic.Diagnostic {
	t.Helper()
	mod, diags := Compile(src, CompileOptions{Filename: "test.lm"})
	require.Nil(t, mod, "expected compilation to fail")
	return diags
}

func hasDiagnostic(diags []diagnostic.Diagnostic, kind diagnostic.Kind, substr string) bool {
	for _, d := range diags {
		if d.Kind == kind && strings.Contains(d.Error(), substr) {
			return true
		}
	}
	return false
}

func TestFibonacci(t *testing.T) {
	src := `
cell fib(n: Int) -> Int
  return if n < 2 then n else fib(n-1) + fib(n-2)
end

cell main() -> Int
  return fib(10)
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, value.KInt, res.Value.Kind())
	assert.Equal(t, int64(55), res.Value.AsInt())

	events := res.Trace.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, trace.KindRunStart, events[0].Kind)
	assert.Equal(t, trace.KindRunEnd, events[len(events)-1].Kind)
	var enters, exits int
	for _, ev := range events {
		switch ev.Kind {
		case trace.KindCellEnter:
			enters++
		case trace.KindCellExit:
			exits++
		}
	}
	assert.Equal(t, enters, exits, "every cell_enter pairs with a cell_exit")
	assert.Greater(t, enters, 1, "fib recursion must appear in the trace")
	assert.NoError(t, res.Trace.VerifyChain())
}

func TestExhaustivenessRejection(t *testing.T) {
	src := `
enum Color
  Red
  Green
  Blue
end

cell pick(c: Color) -> Int
  return match c
    Color.Red => 1
    Color.Green => 2
  end
end
`
	diags := compileErr(t, src)
	assert.True(t, hasDiagnostic(diags, "NonExhaustiveMatch", "Blue"),
		"expected a NonExhaustiveMatch naming Blue, got %v", diags)
}

func TestUndeclaredEffectFromToolBinding(t *testing.T) {
	src := `
use tool HttpGet : "http.get"
bind effect http to HttpGet

cell main() -> String
  return HttpGet("https://example.com")
end
`
	diags := compileErr(t, src)
	assert.True(t, hasDiagnostic(diags, "UndeclaredEffect", "http"),
		"expected UndeclaredEffect for http, got %v", diags)
	assert.True(t, hasDiagnostic(diags, "UndeclaredEffect", "via bind"),
		"expected the cause chain to explain the binding, got %v", diags)
}

func TestDeclaredEffectRowAccepted(t *testing.T) {
	src := `
use tool HttpGet : "http.get"
bind effect http to HttpGet

cell fetch(u: String) -> String / {http}
  return HttpGet(u)
end

cell main() -> Int
  return 1
end
`
	mod, diags := Compile(src, CompileOptions{Filename: "test.lm"})
	for _, d := range diags {
		t.Logf("diag: %s", d.Error())
	}
	require.NotNil(t, mod)
}

func TestDeterministicModeRejectsTimestamp(t *testing.T) {
	src := `
@deterministic true

cell main() -> Int
  return timestamp()
end
`
	diags := compileErr(t, src)
	assert.True(t, hasDiagnostic(diags, "NondeterministicEffect", "time"),
		"expected a NondeterministicEffect for the time kind, got %v", diags)
	assert.True(t, hasDiagnostic(diags, "NondeterministicEffect", "timestamp"),
		"expected the cause to name the timestamp call, got %v", diags)
}

func TestMemoryIsolation(t *testing.T) {
	src := `
memory Buf
end

cell main() -> Int
  let a = Buf()
  let b = Buf()
  a.append("x")
  return len(b.recent(10))
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, int64(0), res.Value.AsInt())
}

func TestEffectHandlerWithResume(t *testing.T) {
	src := `
effect Console
  fn log(m: String) -> Null
end

cell main() -> String
  return handle
    perform Console.log("hi")
    "ok"
  with
    Console.log(m) => resume(null)
  end
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, "ok", res.Value.AsString())
}

func TestDoubleResumeRaisesContinuationConsumed(t *testing.T) {
	src := `
effect Console
  fn log(m: String) -> Null
end

cell main() -> String
  return handle
    perform Console.log("hi")
    "ok"
  with
    Console.log(m) => do
      resume(null)
      resume(null)
    end
  end
end
`
	h := compileOK(t, src)
	_, err := h.run("main")
	require.Error(t, err)
	var re *vm.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, vm.ErrContinuationConsumed, re.Kind)
}

func TestDeterministicTraceIsByteIdentical(t *testing.T) {
	src := `
@deterministic true

cell work(n: Int) -> Int
  let mut total = 0
  for i in 0..n do
    total = total + i
  end
  return total
end

cell main() -> Int
  return work(10)
end
`
	h := compileOK(t, src)
	a := h.mustRun("main")
	b := h.mustRun("main")
	assert.Equal(t, int64(45), a.Value.AsInt())

	ea, eb := a.Trace.Events(), b.Trace.Events()
	require.Equal(t, len(ea), len(eb))
	for i := range ea {
		assert.Equal(t, ea[i].Hash, eb[i].Hash, "event %d (%s) hashes diverged", i, ea[i].Kind)
	}
}

func TestIntegerOverflowRaises(t *testing.T) {
	src := `
cell main() -> Int
  return 9223372036854775807 + 1
end
`
	h := compileOK(t, src)
	_, err := h.run("main")
	require.Error(t, err)
	var re *vm.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, vm.ErrArithmeticOverflow, re.Kind)
}

func TestDivisionByZeroRaises(t *testing.T) {
	src := `
cell main() -> Int
  let zero = 0
  return 1 / zero
end
`
	h := compileOK(t, src)
	_, err := h.run("main")
	require.Error(t, err)
	var re *vm.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, vm.ErrDivisionByZero, re.Kind)
}

func TestBackwardJumpsTerminate(t *testing.T) {
	src := `
cell main() -> Int
  let mut n = 0
  while n < 100 do
    n = n + 1
  end
  return n
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, int64(100), res.Value.AsInt())
}

func TestMatchExpressionWithPayload(t *testing.T) {
	src := `
enum Shape
  Circle(Float)
  Square(Float)
end

cell area(s: Shape) -> Float
  return match s
    Shape.Circle(r) => 3.0 * r * r
    Shape.Square(w) => w * w
  end
end

cell main() -> Float
  return area(Square(4.0))
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, 16.0, res.Value.AsFloat())
}

func TestMachineRunsToTerminalState(t *testing.T) {
	src := `
machine Counter
  initial Counting
  state Counting(n: Int)
    transition Done(n) if n >= 3
    transition Counting(n + 1)
  end
  state Done(n: Int)
    terminal
  end
end

cell main() -> String
  let m = Counter()
  let snapshot = m.run(0)
  return snapshot[0]
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, "Done", res.Value.AsString())
}

func TestPipelineChainsStages(t *testing.T) {
	src := `
cell double(x: Int) -> Int
  return x * 2
end

cell inc(x: Int) -> Int
  return x + 1
end

pipeline Calc
  stage double
  stage inc
end

cell main() -> Int
  let p = Calc()
  return p.run(5)
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, int64(11), res.Value.AsInt())
}

func TestSpawnAwaitRoundTrip(t *testing.T) {
	src := `
@deterministic true

cell slow() -> Int
  return 42
end

cell main() -> Int
  let f = spawn fn() -> Int => slow()
  return await f
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, int64(42), res.Value.AsInt())
}

func TestLambdaCapturesUpvalue(t *testing.T) {
	src := `
cell main() -> Int
  let base = 40
  let add = fn(x: Int) -> Int => x + base
  return add(2)
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, int64(42), res.Value.AsInt())
}

func TestDuplicateDefinitionRejected(t *testing.T) {
	src := `
cell twice(x: Int) -> Int
  return x * 2
end

cell twice(x: Int) -> Int
  return x + x
end
`
	diags := compileErr(t, src)
	assert.True(t, hasDiagnostic(diags, "DuplicateDefinition", "twice"), "got %v", diags)
}

func TestMarkdownExtraction(t *testing.T) {
	doc := "# My agent\n\nSome prose.\n\n```lumen\ncell main() -> Int\n  return 7\nend\n```\n\nMore prose.\n"
	mod, diags := Compile(doc, CompileOptions{Filename: "agent.lm.md"})
	for _, d := range diags {
		t.Logf("diag: %s", d.Error())
	}
	require.NotNil(t, mod)
	res, err := Run(mod, RunOptions{RunID: "md-run"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Value.AsInt())
}

func TestTryUnwrapsOkAndPropagatesErr(t *testing.T) {
	src := `
cell parse(s: String) -> Int
  let r = if s == "good" then ok(1) else err("bad input")
  let v = try r
  return v + 1
end

cell main() -> Int
  return parse("good")
end
`
	res := compileOK(t, src).mustRun("main")
	assert.Equal(t, int64(2), res.Value.AsInt())
}
