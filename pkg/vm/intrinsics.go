package vm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/trace"
	"github.com/lumen-lang/lumen/pkg/value"
)

// callIntrinsic dispatches one built-in operation by its catalog id.
// Deterministic runs reject the time/randomness entries as a runtime
// backstop behind the resolver's compile-time check.
func (vm *VM) callIntrinsic(id uint16, args []value.Value) (value.Value, error) {
	name := lir.IntrinsicName(uint32(id))
	switch name {
	case "len", "length":
		return vm.intrinsicLen(arg(args, 0))
	case "now", "timestamp":
		if vm.deterministic {
			return value.Null, vm.errf(ErrNondeterministic, "%s is unavailable in deterministic mode", name)
		}
		return value.Int(time.Now().UnixMilli()), nil
	case "today":
		if vm.deterministic {
			return value.Null, vm.errf(ErrNondeterministic, "today is unavailable in deterministic mode")
		}
		return value.String(time.Now().Format("2006-01-02")), nil
	case "elapsed":
		if vm.deterministic {
			return value.Null, vm.errf(ErrNondeterministic, "elapsed is unavailable in deterministic mode")
		}
		return value.Int(time.Now().UnixMilli() - arg(args, 0).AsInt()), nil
	case "random":
		if vm.deterministic {
			return value.Null, vm.errf(ErrNondeterministic, "random is unavailable in deterministic mode")
		}
		return value.Float(rand.Float64()), nil
	case "random_int":
		if vm.deterministic {
			return value.Null, vm.errf(ErrNondeterministic, "random_int is unavailable in deterministic mode")
		}
		lo, hi := arg(args, 0).AsInt(), arg(args, 1).AsInt()
		if hi <= lo {
			return value.Int(lo), nil
		}
		return value.Int(lo + rand.Int63n(hi-lo)), nil
	case "shuffle":
		if vm.deterministic {
			return value.Null, vm.errf(ErrNondeterministic, "shuffle is unavailable in deterministic mode")
		}
		elems := append([]value.Value(nil), arg(args, 0).AsList()...)
		rand.Shuffle(len(elems), func(i, j int) { elems[i], elems[j] = elems[j], elems[i] })
		return value.List(elems), nil
	case "uuid":
		if vm.deterministic {
			return value.Null, vm.errf(ErrNondeterministic, "uuid is unavailable in deterministic mode")
		}
		return value.String(uuid.NewString()), nil

	case "str":
		return value.String(toDisplayString(arg(args, 0))), nil
	case "int":
		return vm.intrinsicInt(arg(args, 0))
	case "float":
		return vm.intrinsicFloat(arg(args, 0))
	case "bool":
		return value.Bool(truthy(arg(args, 0))), nil

	case "json_encode":
		return value.String(trace.Canonical(valueToJSON(arg(args, 0)))), nil
	case "json_decode":
		var decoded any
		if err := json.Unmarshal([]byte(arg(args, 0).AsString()), &decoded); err != nil {
			return value.Null, vm.errf(ErrHalt, "json_decode: %v", err)
		}
		return jsonToValue(decoded), nil

	case "hex_encode":
		return value.String(hex.EncodeToString(arg(args, 0).AsBytes())), nil
	case "hex_decode":
		s := arg(args, 0).AsString()
		if len(s)%2 != 0 {
			return value.Null, vm.errf(ErrHalt, "hex_decode: odd-length input")
		}
		bs, err := hex.DecodeString(s)
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "hex_decode: %v", err)
		}
		return value.Bytes(bs), nil
	case "url_encode":
		// encodes the UTF-8 byte sequence, not codepoints
		return value.String(url.QueryEscape(arg(args, 0).AsString())), nil
	case "url_decode":
		s, err := url.QueryUnescape(arg(args, 0).AsString())
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "url_decode: %v", err)
		}
		return value.String(s), nil

	case "abs":
		v := arg(args, 0)
		if v.Kind() == value.KInt {
			if v.AsInt() == math.MinInt64 {
				return value.Null, vm.errf(ErrArithmeticOverflow, "abs(%d) overflows Int", v.AsInt())
			}
			if v.AsInt() < 0 {
				return value.Int(-v.AsInt()), nil
			}
			return v, nil
		}
		return value.Float(math.Abs(v.AsFloat())), nil
	case "min":
		return vm.minMax(args, false)
	case "max":
		return vm.minMax(args, true)

	case "push":
		col := arg(args, 0)
		if col.Kind() == value.KSet {
			elems := append(append([]value.Value(nil), col.AsSet()...), arg(args, 1))
			return value.Set(elems), nil
		}
		return col.WithListAppend(arg(args, 1)), nil
	case "pop":
		elems := arg(args, 0).AsList()
		if len(elems) == 0 {
			return value.Null, vm.errf(ErrIndexNotFound, "pop on empty list")
		}
		return value.List(elems[:len(elems)-1]), nil
	case "keys":
		ks := arg(args, 0).MapKeys()
		out := make([]value.Value, len(ks))
		for i, k := range ks {
			out[i] = value.String(k)
		}
		return value.List(out), nil
	case "values":
		m := arg(args, 0)
		out := make([]value.Value, 0, len(m.MapKeys()))
		for _, k := range m.MapKeys() {
			v, _ := m.MapGet(k)
			out = append(out, v)
		}
		return value.List(out), nil
	case "contains":
		return vm.opIn(arg(args, 1), arg(args, 0))

	case "sort":
		elems := append([]value.Value(nil), arg(args, 0).AsList()...)
		value.SortValues(elems)
		return value.List(elems), nil
	case "reverse":
		src := arg(args, 0).AsList()
		out := make([]value.Value, len(src))
		for i, e := range src {
			out[len(src)-1-i] = e
		}
		return value.List(out), nil
	case "split":
		parts := strings.Split(arg(args, 0).AsString(), arg(args, 1).AsString())
		out := make([]value.Value, len(parts))
		for i, p := range parts {
			out[i] = value.String(p)
		}
		return value.List(out), nil
	case "join":
		elems := arg(args, 0).AsList()
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = toDisplayString(e)
		}
		return value.String(strings.Join(parts, arg(args, 1).AsString())), nil
	case "upper":
		return value.String(strings.ToUpper(arg(args, 0).AsString())), nil
	case "lower":
		return value.String(strings.ToLower(arg(args, 0).AsString())), nil
	case "trim":
		return value.String(strings.TrimSpace(arg(args, 0).AsString())), nil
	case "format":
		return vm.intrinsicFormat(args)

	case "ok":
		return resultUnion("ok", arg(args, 0)), nil
	case "err":
		return resultUnion("err", arg(args, 0)), nil

	case "slice":
		return vm.intrinsicSlice(args)
	case "sha256":
		var data []byte
		v := arg(args, 0)
		if v.Kind() == value.KBytes {
			data = v.AsBytes()
		} else {
			data = []byte(v.AsString())
		}
		sum := sha256.Sum256(data)
		return value.String(hex.EncodeToString(sum[:])), nil

	case "parallel":
		vm.log.Append(trace.KindParallelStart, map[string]any{"count": len(args)})
		res, err := vm.sched.Parallel(args)
		vm.log.Append(trace.KindParallelEnd, map[string]any{"count": len(args)})
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "parallel: %v", err)
		}
		return res, nil
	case "race":
		res, err := vm.sched.Race(args)
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "race: %v", err)
		}
		return res, nil
	case "vote":
		threshold := int(arg(args, 0).AsInt())
		res, err := vm.sched.Vote(threshold, args[1:])
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "vote: %v", err)
		}
		return res, nil
	case "select":
		pred := arg(args, 0)
		res, err := vm.sched.Select(func(v value.Value) (bool, error) {
			r, err := vm.callValue(pred, []value.Value{v})
			if err != nil {
				return false, err
			}
			return truthy(r), nil
		}, args[1:])
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "select: %v", err)
		}
		return res, nil
	case "timeout":
		res, err := vm.sched.Timeout(arg(args, 0).AsInt(), arg(args, 1))
		if err != nil {
			return resultUnion("err", value.String(err.Error())), nil
		}
		return resultUnion("ok", res), nil

	case "__range":
		return value.Record(rangeTag,
			map[string]value.Value{"low": arg(args, 0), "high": arg(args, 1), "closed": arg(args, 2)},
			[]string{"low", "high", "closed"}), nil
	}
	return value.Null, vm.errf(ErrTypeMismatch, "unknown intrinsic id %d", id)
}

// resultUnion builds the ok/err values of the built-in result type
// without requiring a user enum declaration.
func resultUnion(tag string, payload value.Value) value.Value {
	return value.Union("result", tag, map[string]value.Value{"0": payload}, []string{"0"})
}

func (vm *VM) intrinsicLen(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KString:
		return value.Int(int64(len([]rune(v.AsString())))), nil
	case value.KBytes:
		return value.Int(int64(len(v.AsBytes()))), nil
	case value.KList, value.KTuple:
		return value.Int(int64(len(v.AsList()))), nil
	case value.KSet:
		return value.Int(int64(len(v.AsSet()))), nil
	case value.KMap:
		return value.Int(int64(len(v.MapKeys()))), nil
	case value.KRecord:
		if v.RecordType() == rangeTag {
			lo, _ := v.RecordField("low")
			hi, _ := v.RecordField("high")
			closed, _ := v.RecordField("closed")
			n := hi.AsInt() - lo.AsInt()
			if closed.AsBool() {
				n++
			}
			if n < 0 {
				n = 0
			}
			return value.Int(n), nil
		}
		return value.Int(int64(len(v.MapKeys()))), nil
	case value.KNull:
		return value.Int(0), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "len on %s", v.Kind())
	}
}

func (vm *VM) intrinsicInt(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KInt:
		return v, nil
	case value.KFloat:
		return value.Int(int64(v.AsFloat())), nil
	case value.KBool:
		if v.AsBool() {
			return value.Int(1), nil
		}
		return value.Int(0), nil
	case value.KString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.AsString()), 10, 64)
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "int: cannot parse %q", v.AsString())
		}
		return value.Int(n), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "int on %s", v.Kind())
	}
}

func (vm *VM) intrinsicFloat(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KFloat:
		return v, nil
	case value.KInt:
		return value.Float(float64(v.AsInt())), nil
	case value.KString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.AsString()), 64)
		if err != nil {
			return value.Null, vm.errf(ErrHalt, "float: cannot parse %q", v.AsString())
		}
		return value.Float(f), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "float on %s", v.Kind())
	}
}

func (vm *VM) minMax(args []value.Value, max bool) (value.Value, error) {
	items := args
	if len(args) == 1 && args[0].Kind() == value.KList {
		items = args[0].AsList()
	}
	if len(items) == 0 {
		return value.Null, vm.errf(ErrTypeMismatch, "min/max of nothing")
	}
	best := items[0]
	for _, it := range items[1:] {
		cmp, err := vm.compare(it, best, false)
		if err != nil {
			return value.Null, err
		}
		less := cmp.AsBool()
		if (max && !less && !value.Equal(it, best)) || (!max && less) {
			best = it
		}
	}
	return best, nil
}

func (vm *VM) intrinsicFormat(args []value.Value) (value.Value, error) {
	tmpl := arg(args, 0).AsString()
	var sb strings.Builder
	argIdx := 1
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' && i+1 < len(tmpl) && tmpl[i+1] == '}' {
			if argIdx < len(args) {
				sb.WriteString(toDisplayString(args[argIdx]))
				argIdx++
			}
			i++
			continue
		}
		sb.WriteByte(tmpl[i])
	}
	return value.String(sb.String()), nil
}

func (vm *VM) intrinsicSlice(args []value.Value) (value.Value, error) {
	src := arg(args, 0)
	from := int(arg(args, 1).AsInt())
	switch src.Kind() {
	case value.KList:
		elems := src.AsList()
		to := len(elems)
		if len(args) > 2 {
			to = int(arg(args, 2).AsInt())
		}
		if from < 0 || to > len(elems) || from > to {
			return value.Null, vm.errf(ErrIndexNotFound, "slice [%d:%d] out of range (len %d)", from, to, len(elems))
		}
		return value.List(elems[from:to]), nil
	case value.KString:
		// codepoint-aware: a slice boundary never splits a codepoint
		runes := []rune(src.AsString())
		to := len(runes)
		if len(args) > 2 {
			to = int(arg(args, 2).AsInt())
		}
		if from < 0 || to > len(runes) || from > to {
			return value.Null, vm.errf(ErrIndexNotFound, "slice [%d:%d] out of range (len %d)", from, to, len(runes))
		}
		return value.String(string(runes[from:to])), nil
	default:
		return value.Null, vm.errf(ErrTypeMismatch, "slice on %s", src.Kind())
	}
}

func valueToJSON(v value.Value) any {
	switch v.Kind() {
	case value.KNull:
		return nil
	case value.KBool:
		return v.AsBool()
	case value.KInt:
		return v.AsInt()
	case value.KFloat:
		return v.AsFloat()
	case value.KString:
		return v.AsString()
	case value.KList, value.KTuple, value.KSet:
		var elems []value.Value
		if v.Kind() == value.KSet {
			elems = v.AsSet()
		} else {
			elems = v.AsList()
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = valueToJSON(e)
		}
		return out
	case value.KMap, value.KRecord:
		out := map[string]any{}
		for _, k := range v.MapKeys() {
			e, _ := v.MapGet(k)
			out[k] = valueToJSON(e)
		}
		return out
	default:
		return v.String()
	}
}

func jsonToValue(v any) value.Value {
	switch x := v.(type) {
	case nil:
		return value.Null
	case bool:
		return value.Bool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return value.Int(int64(x))
		}
		return value.Float(x)
	case string:
		return value.String(x)
	case []any:
		out := make([]value.Value, len(x))
		for i, e := range x {
			out[i] = jsonToValue(e)
		}
		return value.List(out)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]value.Value, len(keys))
		for i, k := range keys {
			vals[i] = jsonToValue(x[k])
		}
		return value.Map(keys, vals)
	default:
		return value.String(fmt.Sprintf("%v", x))
	}
}
