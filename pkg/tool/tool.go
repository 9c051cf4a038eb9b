// Package tool implements capability-scoped external tool dispatch:
// the provider contract, the per-alias registry frozen at run start,
// grant-policy merging and validation, and the dispatch path that
// records every call on the hash-chained trace.
package tool

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/lumen-lang/lumen/pkg/trace"
	"github.com/lumen-lang/lumen/pkg/value"
)

// Schema describes a provider's input/output shape and the effect
// kinds invoking it contributes.
type Schema struct {
	Input       map[string]any
	Output      map[string]any
	EffectKinds []string
}

// Provider is an opaque external capability bound to a tool alias.
// Providers are synchronous from the VM's perspective; implementations
// may pump their own event loop internally but must not return before
// the call settles.
type Provider interface {
	Name() string
	Version() string
	Schema() Schema
	Call(input value.Value) (value.Value, error)
}

// Registry maps tool aliases to providers. It is populated during VM
// construction and frozen at run start; registration afterwards fails.
type Registry struct {
	providers map[string]Provider
	frozen    bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register binds alias to p.
func (r *Registry) Register(alias string, p Provider) error {
	if r.frozen {
		return fmt.Errorf("tool: registry is frozen, cannot register %q", alias)
	}
	r.providers[alias] = p
	return nil
}

// Freeze forbids further registration for the remainder of the run.
func (r *Registry) Freeze() { r.frozen = true }

// Lookup resolves alias to its provider.
func (r *Registry) Lookup(alias string) (Provider, bool) {
	p, ok := r.providers[alias]
	return p, ok
}

// Policy is the merged capability envelope for one tool alias.
type Policy struct {
	DomainGlobs []string
	TimeoutMs   int
	MaxTokens   int
	Effects     []string
	CustomKeys  map[string]string
}

// Merge folds other into p: domain and effect lists union, the
// tighter timeout and token ceiling win, and custom keys accumulate
// (a conflicting duplicate key keeps the stricter, first-seen value).
func (p Policy) Merge(other Policy) Policy {
	out := Policy{
		DomainGlobs: append(append([]string(nil), p.DomainGlobs...), other.DomainGlobs...),
		Effects:     append(append([]string(nil), p.Effects...), other.Effects...),
		TimeoutMs:   p.TimeoutMs,
		MaxTokens:   p.MaxTokens,
		CustomKeys:  map[string]string{},
	}
	if other.TimeoutMs > 0 && (out.TimeoutMs == 0 || other.TimeoutMs < out.TimeoutMs) {
		out.TimeoutMs = other.TimeoutMs
	}
	if other.MaxTokens > 0 && (out.MaxTokens == 0 || other.MaxTokens < out.MaxTokens) {
		out.MaxTokens = other.MaxTokens
	}
	for k, v := range p.CustomKeys {
		out.CustomKeys[k] = v
	}
	for k, v := range other.CustomKeys {
		if _, exists := out.CustomKeys[k]; !exists {
			out.CustomKeys[k] = v
		}
	}
	return out
}

// UnknownToolError reports a call against an alias with no registered
// provider.
type UnknownToolError struct {
	Alias string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Alias)
}

// PolicyError reports a grant violation; the provider is never invoked
// when one is raised.
type PolicyError struct {
	Alias  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("tool policy violation on %q: %s", e.Alias, e.Reason)
}

// Validate checks input (a map/record value) against the policy:
// domain globs over the input's url/domain field, the max-token
// ceiling, the effect allow-list against the provider's declared
// kinds, and exact-match custom keys.
func (p Policy) Validate(alias string, input value.Value, providerEffects []string) error {
	if len(p.DomainGlobs) > 0 {
		domain := inputDomain(input)
		if domain == "" {
			return &PolicyError{Alias: alias, Reason: "policy restricts domains but the input names none"}
		}
		if !matchAnyGlob(p.DomainGlobs, domain) {
			return &PolicyError{Alias: alias, Reason: fmt.Sprintf("domain %q not allowed", domain)}
		}
	}
	if p.MaxTokens > 0 {
		if mt, ok := input.MapGet("max_tokens"); ok && mt.Kind() == value.KInt && int(mt.AsInt()) > p.MaxTokens {
			return &PolicyError{Alias: alias, Reason: fmt.Sprintf("max_tokens %d exceeds grant ceiling %d", mt.AsInt(), p.MaxTokens)}
		}
	}
	if len(p.Effects) > 0 {
		for _, ek := range providerEffects {
			if !containsString(p.Effects, ek) {
				return &PolicyError{Alias: alias, Reason: fmt.Sprintf("effect %q not in grant allow-list", ek)}
			}
		}
	}
	for k, want := range p.CustomKeys {
		got, ok := input.MapGet(k)
		if !ok || valueText(got) != want {
			return &PolicyError{Alias: alias, Reason: fmt.Sprintf("custom key %q requires exact value %q", k, want)}
		}
	}
	return nil
}

// inputDomain extracts the domain a call targets: a "domain" field
// wins, else the host portion of a "url" field.
func inputDomain(input value.Value) string {
	if d, ok := input.MapGet("domain"); ok {
		return d.AsString()
	}
	u, ok := input.MapGet("url")
	if !ok {
		return ""
	}
	s := u.AsString()
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

func matchAnyGlob(globs []string, s string) bool {
	for _, g := range globs {
		if ok, _ := path.Match(g, s); ok {
			return true
		}
	}
	return false
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func valueText(v value.Value) string {
	switch v.Kind() {
	case value.KString:
		return v.AsString()
	case value.KInt:
		return strconv.FormatInt(v.AsInt(), 10)
	case value.KBool:
		return strconv.FormatBool(v.AsBool())
	default:
		return v.String()
	}
}

// Dispatcher resolves aliases, enforces merged grant policies, invokes
// providers, and records tool_call trace events.
type Dispatcher struct {
	reg           *Registry
	policies      map[string]Policy
	log           *trace.Log
	deterministic bool
}

// SetDeterministic zeroes the duration recorded on tool_call events so
// two identical runs hash identically.
func (d *Dispatcher) SetDeterministic(on bool) { d.deterministic = on }

// NewDispatcher wires a frozen registry, the per-alias merged
// policies, and the run's trace log.
func NewDispatcher(reg *Registry, policies map[string]Policy, log *trace.Log) *Dispatcher {
	if policies == nil {
		policies = map[string]Policy{}
	}
	return &Dispatcher{reg: reg, policies: policies, log: log}
}

// Call performs one tool invocation: resolve, validate, invoke, trace.
// Policy violations and unknown aliases return before any provider
// code runs.
func (d *Dispatcher) Call(alias string, input value.Value) (value.Value, error) {
	p, ok := d.reg.Lookup(alias)
	if !ok {
		return value.Null, &UnknownToolError{Alias: alias}
	}
	sch := p.Schema()
	if pol, has := d.policies[alias]; has {
		if err := pol.Validate(alias, input, sch.EffectKinds); err != nil {
			return value.Null, err
		}
	}
	start := time.Now()
	out, err := p.Call(input)
	durMs := time.Since(start).Milliseconds()
	if d.deterministic {
		durMs = 0
	}
	if d.log != nil {
		fields := map[string]any{
			"tool":             alias,
			"input_hash":       trace.HashValue(input.String()),
			"duration_ms":      durMs,
			"provider_name":    p.Name(),
			"provider_version": p.Version(),
		}
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["output_hash"] = trace.HashValue(out.String())
		}
		d.log.Append(trace.KindToolCall, fields)
	}
	if err != nil {
		return value.Null, fmt.Errorf("tool %q: %w", alias, err)
	}
	return out, nil
}

// Effects reports the effect kinds alias contributes, from its
// provider schema.
func (d *Dispatcher) Effects(alias string) []string {
	p, ok := d.reg.Lookup(alias)
	if !ok {
		return nil
	}
	return p.Schema().EffectKinds
}
