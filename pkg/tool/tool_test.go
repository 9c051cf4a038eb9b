package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/pkg/trace"
	"github.com/lumen-lang/lumen/pkg/value"
)

// fakeProvider counts invocations so policy tests can assert the
// provider is never reached on a violation.
type fakeProvider struct {
	calls   int
	effects []string
	result  value.Value
}

func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Version() string { return "0.0.1" }
func (p *fakeProvider) Schema() Schema {
	return Schema{EffectKinds: p.effects}
}
func (p *fakeProvider) Call(input value.Value) (value.Value, error) {
	p.calls++
	return p.result, nil
}

func inputMap(pairs ...string) value.Value {
	keys := make([]string, 0, len(pairs)/2)
	vals := make([]value.Value, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		keys = append(keys, pairs[i])
		vals = append(vals, value.String(pairs[i+1]))
	}
	return value.Map(keys, vals)
}

func TestRegistryFreezeRejectsRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("A", &fakeProvider{}))
	reg.Freeze()
	assert.Error(t, reg.Register("B", &fakeProvider{}))
}

func TestPolicyMergeTightensLimits(t *testing.T) {
	a := Policy{TimeoutMs: 5000, MaxTokens: 1000, DomainGlobs: []string{"*.example.com"}}
	b := Policy{TimeoutMs: 1000, MaxTokens: 4000, DomainGlobs: []string{"api.other.io"}}
	m := a.Merge(b)
	assert.Equal(t, 1000, m.TimeoutMs, "the tighter timeout wins")
	assert.Equal(t, 1000, m.MaxTokens, "the tighter token ceiling wins")
	assert.Len(t, m.DomainGlobs, 2)
}

func TestValidateDomainGlob(t *testing.T) {
	p := Policy{DomainGlobs: []string{"*.example.com"}}
	assert.NoError(t, p.Validate("T", inputMap("url", "https://api.example.com/v1"), nil))
	assert.Error(t, p.Validate("T", inputMap("url", "https://evil.io/steal"), nil))
	assert.Error(t, p.Validate("T", inputMap("q", "no url at all"), nil))
}

func TestValidateMaxTokens(t *testing.T) {
	p := Policy{MaxTokens: 100}
	over := value.Map([]string{"max_tokens"}, []value.Value{value.Int(500)})
	under := value.Map([]string{"max_tokens"}, []value.Value{value.Int(50)})
	assert.Error(t, p.Validate("T", over, nil))
	assert.NoError(t, p.Validate("T", under, nil))
}

func TestValidateEffectAllowList(t *testing.T) {
	p := Policy{Effects: []string{"http"}}
	assert.NoError(t, p.Validate("T", value.Null, []string{"http"}))
	assert.Error(t, p.Validate("T", value.Null, []string{"llm"}))
}

func TestValidateCustomKeyExactMatch(t *testing.T) {
	p := Policy{CustomKeys: map[string]string{"region": "eu-west-1"}}
	assert.NoError(t, p.Validate("T", inputMap("region", "eu-west-1"), nil))
	assert.Error(t, p.Validate("T", inputMap("region", "us-east-1"), nil))
	assert.Error(t, p.Validate("T", inputMap("other", "x"), nil))
}

func TestDispatcherViolationNeverInvokesProvider(t *testing.T) {
	fake := &fakeProvider{effects: []string{"http"}, result: value.String("data")}
	reg := NewRegistry()
	require.NoError(t, reg.Register("Fetch", fake))
	reg.Freeze()

	log := trace.NewLog("t", true)
	d := NewDispatcher(reg, map[string]Policy{
		"Fetch": {DomainGlobs: []string{"*.example.com"}},
	}, log)

	_, err := d.Call("Fetch", inputMap("url", "https://evil.io/x"))
	require.Error(t, err)
	var pe *PolicyError
	assert.ErrorAs(t, err, &pe)
	assert.Zero(t, fake.calls, "a policy violation must never reach the provider")
}

func TestDispatcherRecordsToolCallEvent(t *testing.T) {
	fake := &fakeProvider{effects: []string{"http"}, result: value.String("data")}
	reg := NewRegistry()
	require.NoError(t, reg.Register("Fetch", fake))
	reg.Freeze()

	log := trace.NewLog("t", true)
	d := NewDispatcher(reg, nil, log)
	d.SetDeterministic(true)

	out, err := d.Call("Fetch", inputMap("url", "https://api.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "data", out.AsString())
	assert.Equal(t, 1, fake.calls)

	events := log.Events()
	require.Len(t, events, 1)
	assert.Equal(t, trace.KindToolCall, events[0].Kind)
	assert.Equal(t, "Fetch", events[0].Fields["tool"])
	assert.Equal(t, "fake", events[0].Fields["provider_name"])
	assert.NotEmpty(t, events[0].Fields["input_hash"])
	assert.NotEmpty(t, events[0].Fields["output_hash"])
}

func TestDispatcherUnknownTool(t *testing.T) {
	reg := NewRegistry()
	reg.Freeze()
	d := NewDispatcher(reg, nil, nil)
	_, err := d.Call("Nope", value.Null)
	var ue *UnknownToolError
	assert.ErrorAs(t, err, &ue)
}
