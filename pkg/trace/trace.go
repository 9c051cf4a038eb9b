// Package trace maintains the hash-chained execution log: an ordered,
// append-only sequence of events where each entry hashes its canonical
// serialization together with the previous entry's hash, making any
// later mutation detectable.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the event kinds a run can emit.
type Kind string

const (
	KindRunStart       Kind = "run_start"
	KindCellEnter      Kind = "cell_enter"
	KindCellExit       Kind = "cell_exit"
	KindToolCall       Kind = "tool_call"
	KindSchemaValidate Kind = "schema_validate"
	KindParallelStart  Kind = "parallel_start"
	KindParallelEnd    Kind = "parallel_end"
	KindEmit           Kind = "emit"
	KindError          Kind = "error"
	KindRunEnd         Kind = "run_end"
)

// Event is one entry in the chain. Fields carries the kind-specific
// payload (tool name, input/output hashes, cell name, ...).
type Event struct {
	Seq       int64          `json:"seq"`
	Kind      Kind           `json:"kind"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
	Timestamp int64          `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Clock supplies event timestamps. Deterministic runs substitute a
// logical clock (the sequence number) so two identical runs produce
// byte-identical chains.
type Clock func() int64

// WallClock is the default clock: unix milliseconds.
func WallClock() int64 { return time.Now().UnixMilli() }

// Log accumulates a run's events and the rolling previous hash.
type Log struct {
	events []Event
	prev   string
	seq    int64
	clock  Clock
	runID  string
}

// NewLog returns an empty log. deterministic selects the logical clock.
func NewLog(runID string, deterministic bool) *Log {
	l := &Log{prev: genesisHash(runID), runID: runID}
	if deterministic {
		l.clock = nil // logical clock: Append uses the sequence number
	} else {
		l.clock = WallClock
	}
	return l
}

// RunID returns the identifier TraceRef values resolve to.
func (l *Log) RunID() string { return l.runID }

func genesisHash(runID string) string {
	sum := sha256.Sum256([]byte("lumen-trace-genesis:" + runID))
	return hex.EncodeToString(sum[:])
}

// Append adds one event of the given kind, computing its hash over the
// canonical serialization with the previous hash prepended.
func (l *Log) Append(kind Kind, fields map[string]any) Event {
	ev := Event{
		Seq:      l.seq,
		Kind:     kind,
		PrevHash: l.prev,
		Fields:   fields,
	}
	if l.clock != nil {
		ev.Timestamp = l.clock()
	} else {
		ev.Timestamp = l.seq
	}
	ev.Hash = hashEvent(ev)
	l.events = append(l.events, ev)
	l.prev = ev.Hash
	l.seq++
	return ev
}

// Events returns the chain in append order.
func (l *Log) Events() []Event { return l.events }

// VerifyChain replays this log's own chain, the self-check behind
// `lumenc trace --verify`.
func (l *Log) VerifyChain() error { return Verify(l.runID, l.events) }

// hashEvent computes sha256 over prev_hash + the event's canonical
// serialization (hash field excluded).
func hashEvent(ev Event) string {
	h := sha256.New()
	h.Write([]byte(ev.PrevHash))
	h.Write([]byte(canonicalEvent(ev)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalEvent serializes an event with sorted keys and a stable
// numeric representation, independent of Go's map iteration order.
func canonicalEvent(ev Event) string {
	var sb strings.Builder
	sb.WriteByte('{')
	fmt.Fprintf(&sb, `"kind":%q,`, string(ev.Kind))
	fmt.Fprintf(&sb, `"seq":%d,`, ev.Seq)
	fmt.Fprintf(&sb, `"timestamp":%d`, ev.Timestamp)
	if len(ev.Fields) > 0 {
		sb.WriteByte(',')
		sb.WriteString(`"fields":`)
		sb.WriteString(Canonical(ev.Fields))
	}
	sb.WriteByte('}')
	return sb.String()
}

// Canonical renders v as JSON with object keys sorted and numbers in a
// stable decimal form, so the same logical value always hashes the
// same bytes.
func Canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case string:
		b, _ := json.Marshal(x)
		return string(b)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			sb.WriteString(Canonical(x[k]))
		}
		sb.WriteByte('}')
		return sb.String()
	case []any:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(Canonical(e))
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// HashValue hashes an arbitrary payload (tool inputs/outputs) into the
// short digest recorded on tool_call events.
func HashValue(v any) string {
	sum := sha256.Sum256([]byte(Canonical(v)))
	return hex.EncodeToString(sum[:])
}

// Verify replays the chain: every event's PrevHash must equal the
// prior event's Hash (or the genesis hash for the first), and every
// Hash must recompute from the event's canonical serialization. The
// first mismatch is reported with its sequence number.
func Verify(runID string, events []Event) error {
	prev := genesisHash(runID)
	for i, ev := range events {
		if ev.PrevHash != prev {
			return fmt.Errorf("trace: event %d prev_hash mismatch", i)
		}
		if got := hashEvent(ev); got != ev.Hash {
			return fmt.Errorf("trace: event %d hash mismatch (chain tampered)", i)
		}
		if ev.Seq != int64(i) {
			return fmt.Errorf("trace: event %d carries out-of-order seq %d", i, ev.Seq)
		}
		prev = ev.Hash
	}
	return nil
}
