package lir

import "testing"

func TestABCRoundtrip(t *testing.T) {
	i := ABC(OpAdd, 1, 2, 3)
	if i.Op() != OpAdd || i.A() != 1 || i.B() != 2 || i.C() != 3 {
		t.Fatalf("expected Add(1,2,3), got %s A=%d B=%d C=%d", i.Op(), i.A(), i.B(), i.C())
	}
}

func TestABxRoundtrip(t *testing.T) {
	i := ABxForm(OpLoadK, 5, 70000)
	if i.Op() != OpLoadK || i.A() != 5 || i.Bx() != 70000 {
		t.Fatalf("expected LoadK(5, 70000), got %s A=%d Bx=%d", i.Op(), i.A(), i.Bx())
	}
}

func TestSAxNegativeDisplacement(t *testing.T) {
	i := SAx(OpLoop, 0, -12)
	if i.Op() != OpLoop || i.SAxVal() != -12 {
		t.Fatalf("expected Loop disp=-12, got disp=%d", i.SAxVal())
	}
	if !i.Op().IsJump() {
		t.Error("expected Loop to be classified as a jump opcode")
	}
}

func TestIsJumpExcludesNonJumpOps(t *testing.T) {
	if OpAdd.IsJump() {
		t.Error("Add must not be classified as a jump opcode")
	}
}

func TestBuilderForwardJumpPatch(t *testing.T) {
	b := NewBuilder()
	end := b.Label()
	b.EmitJump(OpJmp, 0, end)
	b.Emit(ABC(OpNop, 0, 0, 0))
	b.Place(end)
	code := b.Finish()

	if code[0].SAxVal() != 2 {
		t.Fatalf("expected forward jump displacement 2, got %d", code[0].SAxVal())
	}
}

func TestBuilderBackwardJumpPatch(t *testing.T) {
	b := NewBuilder()
	top := b.Label()
	b.Place(top)
	b.Emit(ABC(OpNop, 0, 0, 0))
	b.EmitJump(OpLoop, 0, top)
	code := b.Finish()

	if code[1].SAxVal() != -1 {
		t.Fatalf("expected backward jump displacement -1, got %d", code[1].SAxVal())
	}
}

func TestBuilderUnresolvedLabelPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unresolved label")
		}
	}()
	b := NewBuilder()
	dangling := b.Label()
	b.EmitJump(OpJmp, 0, dangling)
	b.Finish()
}

func TestModuleInternsConstantsAndStrings(t *testing.T) {
	m := NewModule()
	a := m.AddString("foo")
	bIdx := m.AddString("foo")
	if a != bIdx {
		t.Errorf("expected string interning to dedupe, got indices %d and %d", a, bIdx)
	}
}

func TestModuleAddCell(t *testing.T) {
	m := NewModule()
	idx := m.AddCell(Cell{Name: "main", ParamCount: 0, RegisterCount: 2})
	if idx != 0 || m.Cells[0].Name != "main" {
		t.Fatalf("expected cell 0 named main, got idx=%d cells=%v", idx, m.Cells)
	}
}
