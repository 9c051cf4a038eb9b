package value

import (
	"math/big"
	"testing"
)

func TestEqualScalars(t *testing.T) {
	if !Equal(Int(3), Int(3)) {
		t.Error("expected Int(3) == Int(3)")
	}
	if Equal(Int(3), Int(4)) {
		t.Error("expected Int(3) != Int(4)")
	}
	if !Equal(String("abc"), String("abc")) {
		t.Error("expected equal strings to compare equal")
	}
}

func TestEqualNaNIsNeverEqual(t *testing.T) {
	nan := Float(nan())
	if Equal(nan, nan) {
		t.Error("NaN must not equal itself")
	}
	if Equal(nan, Float(1.0)) {
		t.Error("NaN must not equal any other float")
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestEqualCrossNumericKind(t *testing.T) {
	if !Equal(Int(2), Float(2.0)) {
		t.Error("expected Int(2) == Float(2.0)")
	}
	big2 := BigInt(big.NewInt(2))
	if !Equal(big2, Int(2)) {
		t.Error("expected BigInt(2) == Int(2)")
	}
}

func TestListCopyOnWrite(t *testing.T) {
	base := List([]Value{Int(1), Int(2)})
	aliased := base.Retain()

	mutated := aliased.WithListAppend(Int(3))

	if len(base.AsList()) != 2 {
		t.Errorf("expected original list untouched, got len=%d", len(base.AsList()))
	}
	if len(mutated.AsList()) != 3 {
		t.Errorf("expected mutated list len=3, got %d", len(mutated.AsList()))
	}
}

func TestSetDeduplicates(t *testing.T) {
	s := Set([]Value{Int(1), Int(2), Int(1)})
	if len(s.AsSet()) != 2 {
		t.Errorf("expected 2 unique elements, got %d", len(s.AsSet()))
	}
}

func TestMapPreservesInsertionOrder(t *testing.T) {
	m := Map([]string{"b", "a", "c"}, []Value{Int(1), Int(2), Int(3)})
	keys := m.MapKeys()
	want := []string{"b", "a", "c"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("expected key order %v, got %v", want, keys)
		}
	}
}

func TestRecordFieldAccess(t *testing.T) {
	fields := map[string]Value{"name": String("lumen"), "age": Int(1)}
	r := Record("Agent", fields, []string{"name", "age"})

	if r.RecordType() != "Agent" {
		t.Errorf("expected record type Agent, got %q", r.RecordType())
	}
	v, ok := r.RecordField("name")
	if !ok || v.AsString() != "lumen" {
		t.Errorf("expected field name=lumen, got %v ok=%v", v, ok)
	}
}

func TestUnionTag(t *testing.T) {
	u := Union("Shape", "Circle", map[string]Value{"radius": Float(1.5)}, []string{"radius"})
	if u.UnionTag() != "Shape::Circle" {
		t.Errorf("expected tag Shape::Circle, got %q", u.UnionTag())
	}
}

func TestSortValuesNaNLast(t *testing.T) {
	xs := []Value{Float(3), Float(nan()), Float(1)}
	SortValues(xs)
	if xs[0].AsFloat() != 1 || xs[1].AsFloat() != 3 {
		t.Fatalf("expected finite floats sorted ascending before NaN, got %v", xs)
	}
}

func TestStringRoundtrip(t *testing.T) {
	r := Record("Point", map[string]Value{"x": Int(1), "y": Int(2)}, []string{"x", "y"})
	got := r.String()
	want := "Point{x: 1, y: 2}"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
