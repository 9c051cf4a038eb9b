// Package diagnostic is the shared error/diagnostic model used by every
// front-end stage (markdown extraction, lexing, parsing, resolving,
// type checking, constraint validation, lowering) and surfaced by the VM.
package diagnostic

import (
	"fmt"
	"sort"
	"strings"
)

// Span is a half-open byte range in the code stream, with the document
// position it maps back to via pkg/source's offset table.
type Span struct {
	Start, End int
	Line, Col  int
	File       string
}

func (s Span) String() string {
	if s.File == "" {
		return fmt.Sprintf("%d:%d", s.Line, s.Col)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Severity distinguishes hard errors from advisory warnings (e.g. a
// skipped malformed markdown fence).
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Stage identifies which pipeline component raised a diagnostic, used by
// callers to decide whether downstream stages ran in best-effort mode.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageLex        Stage = "lex"
	StageParse      Stage = "parse"
	StageResolve    Stage = "resolve"
	StageType       Stage = "type"
	StageConstraint Stage = "constraint"
	StageLower      Stage = "lower"
	StageRuntime    Stage = "runtime"
)

// Kind is a stable, stage-scoped error identifier (not a Go type, a
// label), e.g. "UndeclaredEffect",
// "NonExhaustiveMatch", "DivisionByZero".
type Kind string

// Diagnostic is one accumulated error or warning. Stages never abort on
// the first Diagnostic; they keep going and return every one they found.
type Diagnostic struct {
	Stage     Stage
	Kind      Kind
	Severity  Severity
	Primary   Span
	Message   string
	Secondary []Span
	Cause     []string // provenance chain, e.g. UndeclaredEffect's "call to X -> effect Y via bind"
	Suggest   string   // "did you mean" fix-it, empty if none
	Cascading bool     // true if a prior Diagnostic in an earlier stage makes this one suspect
}

func (d Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s", d.Primary, d.Kind, d.Message)
	if d.Suggest != "" {
		fmt.Fprintf(&b, " (did you mean %s?)", d.Suggest)
	}
	for _, c := range d.Cause {
		fmt.Fprintf(&b, "\n  caused by: %s", c)
	}
	return b.String()
}

// Bag accumulates diagnostics across one or more pipeline stages:
// every stage keeps adding to the same Bag and running in best-effort
// mode rather than aborting.
type Bag struct {
	items        []Diagnostic
	firstErrorAt int // index of the first non-cascading error, -1 if none
}

// NewBag returns an empty diagnostic bag.
func NewBag() *Bag {
	return &Bag{firstErrorAt: -1}
}

// Add appends a diagnostic, marking it cascading if a hard error has
// already been recorded in an earlier call.
func (b *Bag) Add(d Diagnostic) {
	if d.Severity == SeverityError && b.firstErrorAt >= 0 {
		d.Cascading = true
	}
	b.items = append(b.items, d)
	if d.Severity == SeverityError && b.firstErrorAt < 0 {
		b.firstErrorAt = len(b.items) - 1
	}
}

// Errorf is a convenience constructor-and-add for a simple hard error.
func (b *Bag) Errorf(stage Stage, kind Kind, span Span, format string, args ...any) {
	b.Add(Diagnostic{
		Stage:    stage,
		Kind:     kind,
		Severity: SeverityError,
		Primary:  span,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Warnf is a convenience constructor-and-add for a warning.
func (b *Bag) Warnf(stage Stage, kind Kind, span Span, format string, args ...any) {
	b.Add(Diagnostic{
		Stage:    stage,
		Kind:     kind,
		Severity: SeverityWarning,
		Primary:  span,
		Message:  fmt.Sprintf(format, args...),
	})
}

// HasErrors reports whether any hard error has been recorded. The
// front-end refuses to emit an LIR module while this is true.
func (b *Bag) HasErrors() bool {
	return b.firstErrorAt >= 0
}

// All returns every diagnostic recorded so far, in insertion order.
func (b *Bag) All() []Diagnostic {
	return b.items
}

// Errors returns only the hard errors, in insertion order.
func (b *Bag) Errors() []Diagnostic {
	out := make([]Diagnostic, 0, len(b.items))
	for _, d := range b.items {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the total number of recorded diagnostics.
func (b *Bag) Len() int {
	return len(b.items)
}

// SortBySpan orders diagnostics by primary span position, stable on
// insertion order for ties; used before printing to a user.
func (b *Bag) SortBySpan() {
	sort.SliceStable(b.items, func(i, j int) bool {
		return b.items[i].Primary.Start < b.items[j].Primary.Start
	})
}

// Merge appends all diagnostics from other into b, preserving cascading
// status already computed on other's items and re-evaluating the
// firstErrorAt bookkeeping.
func (b *Bag) Merge(other *Bag) {
	for _, d := range other.items {
		b.Add(d)
	}
}
