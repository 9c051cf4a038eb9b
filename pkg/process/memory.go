// Package process implements the built-in process runtimes: the
// instance-scoped memory store, the typed state-machine executor, and
// the pipeline stage chainer. Instances never share state; two
// processes of the same declaration are fully independent.
package process

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/lumen-lang/lumen/pkg/value"
)

// Memory is one instance of a memory-process declaration: an ordered
// event log plus a keyed store, optionally backed by an embedded
// vector collection for semantic search.
type Memory struct {
	events []value.Value
	kv     map[string]value.Value
	order  []string

	vector *chromem.Collection
	nextID int
}

// NewMemory returns an empty instance.
func NewMemory() *Memory {
	return &Memory{kv: map[string]value.Value{}}
}

// NewVectorMemory returns an instance whose string entries are also
// indexed in an embedded chromem collection, enabling Search. embed
// supplies the embedding; tests inject a local deterministic one.
func NewVectorMemory(name string, embed chromem.EmbeddingFunc) (*Memory, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("memory: create vector collection: %w", err)
	}
	m := NewMemory()
	m.vector = col
	return m, nil
}

// Append adds v to the event log.
func (m *Memory) Append(v value.Value) error {
	m.events = append(m.events, v)
	return m.index(v)
}

// Recent returns the newest n events, oldest first.
func (m *Memory) Recent(n int) []value.Value {
	if n <= 0 || len(m.events) == 0 {
		return nil
	}
	if n > len(m.events) {
		n = len(m.events)
	}
	out := make([]value.Value, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}

// Remember stores v under key, overwriting any previous value.
func (m *Memory) Remember(key string, v value.Value) error {
	if _, exists := m.kv[key]; !exists {
		m.order = append(m.order, key)
	}
	m.kv[key] = v
	return m.index(v)
}

// Recall returns the value stored under key, or Null.
func (m *Memory) Recall(key string) value.Value {
	if v, ok := m.kv[key]; ok {
		return v
	}
	return value.Null
}

// Upsert is Remember under the store-mutation name.
func (m *Memory) Upsert(key string, v value.Value) error {
	return m.Remember(key, v)
}

// Get is Recall under the store-read name.
func (m *Memory) Get(key string) value.Value {
	return m.Recall(key)
}

// Query returns every event satisfying pred, in log order.
func (m *Memory) Query(pred func(value.Value) (bool, error)) ([]value.Value, error) {
	var out []value.Value
	for _, e := range m.events {
		ok, err := pred(e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Store snapshots the instance as a map value: the event list plus
// every key in insertion order.
func (m *Memory) Store() value.Value {
	keys := []string{"events"}
	vals := []value.Value{value.List(m.events)}
	for _, k := range m.order {
		keys = append(keys, k)
		vals = append(vals, m.kv[k])
	}
	return value.Map(keys, vals)
}

// Search runs a semantic query against the vector index, returning up
// to n matching entries. Only valid on vector-backed instances.
func (m *Memory) Search(query string, n int) ([]value.Value, error) {
	if m.vector == nil {
		return nil, fmt.Errorf("memory: not declared as a vector memory")
	}
	if n <= 0 {
		n = 5
	}
	if count := m.vector.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	results, err := m.vector.Query(context.Background(), query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: vector query: %w", err)
	}
	out := make([]value.Value, len(results))
	for i, r := range results {
		out[i] = value.String(r.Content)
	}
	return out, nil
}

// index adds a string entry to the vector collection when one is
// attached; non-string values only live in the log/store.
func (m *Memory) index(v value.Value) error {
	if m.vector == nil || v.Kind() != value.KString {
		return nil
	}
	m.nextID++
	doc := chromem.Document{
		ID:      fmt.Sprintf("d%d", m.nextID),
		Content: v.AsString(),
	}
	if err := m.vector.AddDocument(context.Background(), doc); err != nil {
		return fmt.Errorf("memory: index document: %w", err)
	}
	return nil
}
