// Package lumen is the library facade over the whole core: Compile
// runs the seven-stage front-end on one document and Run executes the
// resulting module. The CLI is a thin shell over these two calls.
package lumen

import (
	"fmt"
	"strings"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/internal/logger"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/constraints"
	"github.com/lumen-lang/lumen/pkg/lexer"
	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/lower"
	"github.com/lumen-lang/lumen/pkg/parser"
	"github.com/lumen-lang/lumen/pkg/resolver"
	"github.com/lumen-lang/lumen/pkg/source"
	"github.com/lumen-lang/lumen/pkg/tool"
	"github.com/lumen-lang/lumen/pkg/types"
	"github.com/lumen-lang/lumen/pkg/value"
	"github.com/lumen-lang/lumen/pkg/vm"
)

// CompileOptions configures one front-end run.
type CompileOptions struct {
	// Filename labels diagnostics; its extension also selects the
	// extraction mode unless Mode is set explicitly.
	Filename string
	Mode     source.Mode
	// ModeSet marks Mode as explicit, overriding extension sniffing.
	ModeSet bool
}

// Compile runs extraction, lexing, parsing, resolution, type checking,
// constraint validation, and lowering over doc. The returned module is
// nil whenever any hard error accumulated; the diagnostics always
// carry everything every stage found.
func Compile(doc string, opts CompileOptions) (*lir.Module, []diagnostic.Diagnostic) {
	bag := diagnostic.NewBag()
	mode := opts.Mode
	if !opts.ModeSet {
		mode = modeForFilename(opts.Filename)
	}

	unit := source.Extract(opts.Filename, doc, mode, bag)
	toks := lexer.New(opts.Filename, unit.Code, bag).Tokenize()
	file := parser.New(opts.Filename, toks, bag).ParseFile()
	injectDirectives(file, unit.Directives)

	res := resolver.New(bag).Resolve(file)
	types.New(bag, res).Check(file)
	cons := constraints.New(bag, res).Validate(file)

	if bag.HasErrors() {
		bag.SortBySpan()
		logger.Get().Warn().Int("diagnostics", bag.Len()).Str("file", opts.Filename).Msg("compile failed")
		return nil, bag.All()
	}

	mod := lower.New(bag, res, cons).Lower(file)
	if bag.HasErrors() {
		bag.SortBySpan()
		return nil, bag.All()
	}
	bag.SortBySpan()
	return mod, bag.All()
}

func modeForFilename(name string) source.Mode {
	if strings.HasSuffix(name, ".lm.md") || strings.HasSuffix(name, ".lumen") || strings.HasSuffix(name, ".md") {
		return source.ModeMarkdown
	}
	return source.ModeRaw
}

// injectDirectives carries `@name value` lines found in markdown prose
// into the AST the resolver walks, so `@deterministic true` outside a
// code fence still governs the module.
func injectDirectives(file *ast.File, dirs []source.Directive) {
	items := make([]ast.Item, 0, len(dirs)+len(file.Items))
	for _, d := range dirs {
		args := make([]ast.Expr, len(d.Args))
		for i, a := range d.Args {
			args[i] = directiveArg(a)
		}
		items = append(items, &ast.DirectiveItem{Name: d.Name, Args: args})
	}
	file.Items = append(items, file.Items...)
}

func directiveArg(text string) ast.Expr {
	switch text {
	case "true", "false":
		return &ast.Literal{Kind: ast.LitBool, Text: text}
	}
	if len(text) > 0 && text[0] >= '0' && text[0] <= '9' {
		return &ast.Literal{Kind: ast.LitInt, Text: text}
	}
	return &ast.Literal{Kind: ast.LitString, Text: text}
}

// RunOptions configures one VM execution.
type RunOptions struct {
	Cell     string
	Args     []value.Value
	Fuel     int64
	MaxDepth int
	Registry *tool.Registry
	RunID    string
}

// Run executes the module's entry cell (or opts.Cell) and returns the
// VM's result, including the hash-chained trace.
func Run(mod *lir.Module, opts RunOptions) (*vm.RunResult, error) {
	cell := opts.Cell
	if cell == "" {
		cell = mod.Metadata.EntryCell
	}
	if cell == "" {
		return nil, fmt.Errorf("lumen: module has no entry cell and none was named")
	}
	machine := vm.New(mod, vm.Options{
		Fuel:     opts.Fuel,
		MaxDepth: opts.MaxDepth,
		Registry: opts.Registry,
		RunID:    opts.RunID,
	})
	return machine.Run(cell, opts.Args)
}

// CompileAndRun is the one-call path tests and the CLI `run` command
// use: compile doc, fail on diagnostics, execute.
func CompileAndRun(doc string, copts CompileOptions, ropts RunOptions) (*vm.RunResult, []diagnostic.Diagnostic, error) {
	mod, diags := Compile(doc, copts)
	if mod == nil {
		return nil, diags, fmt.Errorf("lumen: compile failed with %d diagnostics", len(diags))
	}
	res, err := Run(mod, ropts)
	return res, diags, err
}
