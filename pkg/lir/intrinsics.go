package lir

// IntrinsicNames assigns a stable id to every built-in operation
// callable without a user declaration: numeric, string, collection,
// JSON, hashing, and time/randomness helpers, plus reserved
// lowering-internal entries prefixed with "__". Order is append-only
// within a FormatVersion; ids are the slice indices.
var IntrinsicNames = []string{
	"len", "now", "today", "elapsed", "timestamp",
	"random", "random_int", "shuffle", "uuid",
	"str", "int", "float", "bool",
	"json_encode", "json_decode",
	"hex_encode", "hex_decode", "url_encode", "url_decode",
	"abs", "min", "max",
	"push", "pop", "keys", "values", "contains",
	"sort", "reverse", "split", "join", "upper", "lower", "trim", "format",
	"ok", "err",
	"slice", "length",
	"sha256",
	"parallel", "race", "vote", "select", "timeout",
	"__range",
}

var intrinsicIndex = func() map[string]uint32 {
	m := make(map[string]uint32, len(IntrinsicNames))
	for i, n := range IntrinsicNames {
		m[n] = uint32(i)
	}
	return m
}()

// IntrinsicID resolves an intrinsic name to its id.
func IntrinsicID(name string) (uint32, bool) {
	id, ok := intrinsicIndex[name]
	return id, ok
}

// IntrinsicName returns the name for id, or "" when out of range.
func IntrinsicName(id uint32) string {
	if int(id) >= len(IntrinsicNames) {
		return ""
	}
	return IntrinsicNames[id]
}
