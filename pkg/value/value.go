// Package value defines the tagged runtime value representation shared
// by pkg/vm, pkg/effect, pkg/scheduler and pkg/process.
package value

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Kind tags a Value's concrete representation.
type Kind int

const (
	KNull Kind = iota
	KBool
	KInt
	KBigInt
	KFloat
	KString
	KBytes
	KList
	KTuple
	KSet
	KMap
	KRecord
	KUnion
	KClosure
	KFuture
	KTraceRef
)

func (k Kind) String() string {
	switch k {
	case KNull:
		return "Null"
	case KBool:
		return "Bool"
	case KInt:
		return "Int"
	case KBigInt:
		return "BigInt"
	case KFloat:
		return "Float"
	case KString:
		return "String"
	case KBytes:
		return "Bytes"
	case KList:
		return "List"
	case KTuple:
		return "Tuple"
	case KSet:
		return "Set"
	case KMap:
		return "Map"
	case KRecord:
		return "Record"
	case KUnion:
		return "Union"
	case KClosure:
		return "Closure"
	case KFuture:
		return "Future"
	case KTraceRef:
		return "TraceRef"
	default:
		return "Unknown"
	}
}

// Value is an immutable handle to one tagged runtime value. Collection
// payloads (List/Tuple/Set/Map/Record) are held behind a refcounted
// box so mutation can clone-on-write only when shared (spec
// "Ownership").
type Value struct {
	kind  Kind
	i     int64
	f     float64
	big   *big.Int
	str   string // also used for the interned-string fast path
	bytes []byte
	box   *box
}

// box is the shared, possibly-mutated-in-place backing store for
// reference-kind values; refs tracks how many Values currently point
// at it so mutating ops know whether a private copy is required.
type box struct {
	refs    int
	list    []Value
	fields  map[string]Value // Record fields / Map entries (ordered via order)
	order   []string         // insertion order for Map/Record key iteration
	setKeys []Value          // Set elements, insertion-ordered, unique by Equal
	tag     string           // Record type name / Union variant name
	closure *Closure
	future  *Future
}

func newBox() *box { return &box{refs: 1} }

func (b *box) retain() *box {
	if b == nil {
		return nil
	}
	b.refs++
	return b
}

// clone returns a private copy of b with refs reset to 1, used when a
// mutation is about to be applied to a value whose box is shared.
func (b *box) clone() *box {
	nb := &box{refs: 1, tag: b.tag}
	if b.list != nil {
		nb.list = append([]Value(nil), b.list...)
	}
	if b.fields != nil {
		nb.fields = make(map[string]Value, len(b.fields))
		for k, v := range b.fields {
			nb.fields[k] = v
		}
		nb.order = append([]string(nil), b.order...)
	}
	if b.setKeys != nil {
		nb.setKeys = append([]Value(nil), b.setKeys...)
	}
	nb.closure = b.closure
	nb.future = b.future
	return nb
}

// Null is the singleton Null value.
var Null = Value{kind: KNull}

// Bool constructs a Bool value.
func Bool(b bool) Value {
	i := int64(0)
	if b {
		i = 1
	}
	return Value{kind: KBool, i: i}
}

// Int constructs a 64-bit Int value.
func Int(i int64) Value { return Value{kind: KInt, i: i} }

// BigInt constructs an arbitrary-precision integer value.
func BigInt(b *big.Int) Value { return Value{kind: KBigInt, big: b} }

// Float constructs a Float value.
func Float(f float64) Value { return Value{kind: KFloat, f: f} }

// String constructs a String value (the intern table, if any, lives in
// pkg/vm; this package just carries the decoded text).
func String(s string) Value { return Value{kind: KString, str: s} }

// Bytes constructs a Bytes value.
func Bytes(b []byte) Value { return Value{kind: KBytes, bytes: b} }

// List constructs a shared List value from elems (copied once).
func List(elems []Value) Value {
	b := newBox()
	b.list = append([]Value(nil), elems...)
	return Value{kind: KList, box: b}
}

// Tuple constructs a shared Tuple value.
func Tuple(elems []Value) Value {
	b := newBox()
	b.list = append([]Value(nil), elems...)
	return Value{kind: KTuple, box: b}
}

// Set constructs a shared Set value, deduplicating via Equal and
// preserving first-seen order.
func Set(elems []Value) Value {
	b := newBox()
	for _, e := range elems {
		if !containsVal(b.setKeys, e) {
			b.setKeys = append(b.setKeys, e)
		}
	}
	return Value{kind: KSet, box: b}
}

func containsVal(xs []Value, v Value) bool {
	for _, x := range xs {
		if Equal(x, v) {
			return true
		}
	}
	return false
}

// Map constructs a shared ordered string-keyed Map value.
func Map(keys []string, vals []Value) Value {
	b := newBox()
	b.fields = make(map[string]Value, len(keys))
	for i, k := range keys {
		if _, exists := b.fields[k]; !exists {
			b.order = append(b.order, k)
		}
		b.fields[k] = vals[i]
	}
	return Value{kind: KMap, box: b}
}

// Record constructs a shared Record value tagged with its type name.
func Record(typeName string, fields map[string]Value, order []string) Value {
	b := newBox()
	b.tag = typeName
	b.fields = fields
	b.order = order
	return Value{kind: KRecord, box: b}
}

// Union constructs a Union (enum variant) value; payload is stored the
// same way a Record's fields are, keyed positionally as "0", "1", ...
// for tuple-style variants or by name for record-style variants.
func Union(typeName, variant string, fields map[string]Value, order []string) Value {
	b := newBox()
	b.tag = typeName + "::" + variant
	b.fields = fields
	b.order = order
	return Value{kind: KUnion, box: b}
}

// Closure is the captured-environment payload of a closure Value.
type Closure struct {
	CellIndex int
	Upvalues  []Value
}

// ClosureValue constructs a Closure value.
func ClosureValue(c *Closure) Value {
	b := newBox()
	b.closure = c
	return Value{kind: KClosure, box: b}
}

// Future is the scheduler-owned payload of a Future value; pkg/scheduler
// mutates FutureState fields directly through the pointer obtained from
// AsFuture, since futures are inherently mutable scheduler state rather
// than copy-on-write data.
type Future struct {
	ID     int64
	Done   bool
	Result Value
	Err    error
}

// FutureValue constructs a Future value around f (not copied).
func FutureValue(f *Future) Value {
	b := newBox()
	b.future = f
	return Value{kind: KFuture, box: b}
}

// TraceRef constructs an opaque trace-identifier value.
func TraceRef(id string) Value { return Value{kind: KTraceRef, str: id} }

// Kind returns v's tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KNull }

func (v Value) AsBool() bool       { return v.i != 0 }
func (v Value) AsInt() int64       { return v.i }
func (v Value) AsBigInt() *big.Int { return v.big }
func (v Value) AsFloat() float64   { return v.f }
func (v Value) AsString() string   { return v.str }
func (v Value) AsBytes() []byte    { return v.bytes }
func (v Value) AsTraceRef() string { return v.str }

func (v Value) AsList() []Value {
	if v.box == nil {
		return nil
	}
	return v.box.list
}

func (v Value) AsSet() []Value {
	if v.box == nil {
		return nil
	}
	return v.box.setKeys
}

func (v Value) MapKeys() []string {
	if v.box == nil {
		return nil
	}
	return v.box.order
}

func (v Value) MapGet(key string) (Value, bool) {
	if v.box == nil || v.box.fields == nil {
		return Null, false
	}
	val, ok := v.box.fields[key]
	return val, ok
}

func (v Value) RecordType() string {
	if v.box == nil {
		return ""
	}
	return v.box.tag
}

func (v Value) RecordField(name string) (Value, bool) {
	return v.MapGet(name)
}

func (v Value) UnionTag() string {
	if v.box == nil {
		return ""
	}
	return v.box.tag
}

func (v Value) AsClosure() *Closure {
	if v.box == nil {
		return nil
	}
	return v.box.closure
}

func (v Value) AsFuture() *Future {
	if v.box == nil {
		return nil
	}
	return v.box.future
}

// WithListAppend returns a List value with x appended, cloning the
// backing box first if it is shared (refs > 1).
func (v Value) WithListAppend(x Value) Value {
	b := v.box
	if b.refs > 1 {
		b = b.clone()
	}
	b.list = append(b.list, x)
	return Value{kind: KList, box: b}
}

// WithListSet returns a List value with index i replaced by x.
func (v Value) WithListSet(i int, x Value) Value {
	b := v.box
	if b.refs > 1 {
		b = b.clone()
	}
	b.list[i] = x
	return Value{kind: KList, box: b}
}

// WithMapSet returns a Map value with key set to x.
func (v Value) WithMapSet(key string, x Value) Value {
	b := v.box
	if b.refs > 1 {
		b = b.clone()
	}
	if b.fields == nil {
		b.fields = map[string]Value{}
	}
	if _, exists := b.fields[key]; !exists {
		b.order = append(b.order, key)
	}
	b.fields[key] = x
	return Value{kind: KMap, box: b}
}

// Retain increments v's backing box refcount, called when a second
// binding starts aliasing the same collection.
func (v Value) Retain() Value {
	if v.box != nil {
		v.box.retain()
	}
	return v
}

// Equal reports structural equality. NaN is unequal to everything,
// including itself.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		if numericKind(a.kind) && numericKind(b.kind) {
			return numericEqual(a, b)
		}
		return false
	}
	switch a.kind {
	case KNull:
		return true
	case KBool, KInt:
		return a.i == b.i
	case KFloat:
		if isNaN(a.f) || isNaN(b.f) {
			return false
		}
		return a.f == b.f
	case KBigInt:
		return a.big.Cmp(b.big) == 0
	case KString, KTraceRef:
		return a.str == b.str
	case KBytes:
		return string(a.bytes) == string(b.bytes)
	case KList, KTuple:
		al, bl := a.AsList(), b.AsList()
		if len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	case KSet:
		as, bs := a.AsSet(), b.AsSet()
		if len(as) != len(bs) {
			return false
		}
		for _, x := range as {
			if !containsVal(bs, x) {
				return false
			}
		}
		return true
	case KMap, KRecord, KUnion:
		ak, bk := a.MapKeys(), b.MapKeys()
		if len(ak) != len(bk) {
			return false
		}
		if a.kind != KMap && a.RecordType() != b.RecordType() {
			return false
		}
		for _, k := range ak {
			av, _ := a.MapGet(k)
			bv, ok := b.MapGet(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numericKind(k Kind) bool { return k == KInt || k == KBigInt || k == KFloat }

func numericEqual(a, b Value) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok || isNaN(af) || isNaN(bf) {
		return false
	}
	return af == bf
}

func asFloat(v Value) (float64, bool) {
	switch v.kind {
	case KInt:
		return float64(v.i), true
	case KFloat:
		return v.f, true
	case KBigInt:
		f, _ := new(big.Float).SetInt(v.big).Float64()
		return f, true
	default:
		return 0, false
	}
}

func isNaN(f float64) bool { return f != f }

// String renders v for diagnostics, logging, and trace-event bodies.
func (v Value) String() string {
	switch v.kind {
	case KNull:
		return "null"
	case KBool:
		return fmt.Sprintf("%t", v.AsBool())
	case KInt:
		return fmt.Sprintf("%d", v.i)
	case KBigInt:
		return v.big.String()
	case KFloat:
		return fmt.Sprintf("%g", v.f)
	case KString:
		return v.str
	case KBytes:
		return fmt.Sprintf("bytes(%d)", len(v.bytes))
	case KList:
		return joinValues("[", "]", v.AsList())
	case KTuple:
		return joinValues("(", ")", v.AsList())
	case KSet:
		return joinValues("{", "}", v.AsSet())
	case KMap:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range v.MapKeys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			val, _ := v.MapGet(k)
			fmt.Fprintf(&sb, "%s: %s", k, val.String())
		}
		sb.WriteByte('}')
		return sb.String()
	case KRecord:
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s{", v.RecordType())
		for i, k := range v.MapKeys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			val, _ := v.MapGet(k)
			fmt.Fprintf(&sb, "%s: %s", k, val.String())
		}
		sb.WriteByte('}')
		return sb.String()
	case KUnion:
		return v.UnionTag()
	case KClosure:
		return "<closure>"
	case KFuture:
		return "<future>"
	case KTraceRef:
		return "trace:" + v.str
	default:
		return "<?>"
	}
}

func joinValues(open, close string, xs []Value) string {
	var sb strings.Builder
	sb.WriteString(open)
	for i, x := range xs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(x.String())
	}
	sb.WriteString(close)
	return sb.String()
}

// Less provides a total (but otherwise unspecified beyond consistency)
// ordering over values of the same kind, used by sorted-container
// operations (NaN sorts after all other
// floats, consistently, never comparing as ordered with non-floats of
// the same key).
func Less(a, b Value) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	switch a.kind {
	case KInt:
		return a.i < b.i
	case KFloat:
		aNaN, bNaN := isNaN(a.f), isNaN(b.f)
		if aNaN != bNaN {
			return bNaN
		}
		return a.f < b.f
	case KBigInt:
		return a.big.Cmp(b.big) < 0
	case KString:
		return a.str < b.str
	default:
		return a.String() < b.String()
	}
}

// SortValues sorts a slice of Values in place using Less.
func SortValues(xs []Value) {
	sort.Slice(xs, func(i, j int) bool { return Less(xs[i], xs[j]) })
}
