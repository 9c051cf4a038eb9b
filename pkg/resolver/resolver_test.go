package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
)

func cell(name string, effects ast.EffectRow, body []ast.Stmt) *ast.CellDecl {
	return &ast.CellDecl{Name: name, Effects: effects, Body: body}
}

func TestDuplicateDefinitionReported(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		cell("greet", ast.EffectRow{}, nil),
		cell("greet", ast.EffectRow{}, nil),
	}}

	New(bag).Resolve(file)

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("DuplicateDefinition"), bag.Errors()[0].Kind)
}

func TestInferredEffectFromEmitStatement(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		cell("speak", ast.EffectRow{}, []ast.Stmt{
			&ast.EmitStmt{Value: &ast.Literal{Kind: ast.LitString, Text: "hi"}},
		}),
	}}

	res := New(bag).Resolve(file)

	info := res.Cells["speak"]
	require.NotNil(t, info)
	assert.Contains(t, info.Row, "emit")
}

func TestUndeclaredEffectIsAnError(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		cell("speak", ast.EffectRow{Explicit: true}, []ast.Stmt{
			&ast.EmitStmt{Value: &ast.Literal{Kind: ast.LitString, Text: "hi"}},
		}),
	}}

	New(bag).Resolve(file)

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("UndeclaredEffect"), bag.Errors()[0].Kind)
}

func TestDeterministicModeRejectsRandomEffect(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		&ast.DirectiveItem{Name: "deterministic", Args: []ast.Expr{&ast.Literal{Kind: ast.LitBool, Text: "true"}}},
		cell("roll", ast.EffectRow{}, []ast.Stmt{
			&ast.ExprStmt{Value: &ast.CallExpr{Callee: &ast.Ident{Name: "random"}}},
		}),
	}}

	New(bag).Resolve(file)

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("NondeterministicEffect"), bag.Errors()[0].Kind)
}

func TestCallerInheritsCalleeEffectRow(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		cell("inner", ast.EffectRow{}, []ast.Stmt{
			&ast.EmitStmt{Value: &ast.Literal{Kind: ast.LitString, Text: "x"}},
		}),
		cell("outer", ast.EffectRow{}, []ast.Stmt{
			&ast.ExprStmt{Value: &ast.CallExpr{Callee: &ast.Ident{Name: "inner"}}},
		}),
	}}

	res := New(bag).Resolve(file)

	assert.Contains(t, res.Cells["outer"].Row, "emit")
}

func TestMachineTransitionToUnknownStateIsAnError(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		&ast.ProcessDecl{
			Kind: ast.ProcessMachine,
			Name: "Door",
			States: []ast.MachineState{
				{Name: "Closed", Transitions: []ast.MachineTransition{{Target: "Open"}}},
			},
		},
	}}

	New(bag).Resolve(file)

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("UnknownMachineState"), bag.Errors()[0].Kind)
}

func TestGrantEntriesEvaluated(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		&ast.UseToolDecl{Alias: "Web", Operation: "http.fetch"},
		&ast.GrantDecl{Alias: "Web", Entries: map[string]ast.Expr{
			"domains":    &ast.ListLit{Elems: []ast.Expr{&ast.Literal{Kind: ast.LitString, Text: "*.example.com"}}},
			"timeout_ms": &ast.Literal{Kind: ast.LitInt, Text: "5000"},
		}},
	}}

	res := New(bag).Resolve(file)

	gp := res.Grants["Web"]
	assert.Equal(t, []string{"*.example.com"}, gp.DomainGlobs)
	assert.Equal(t, 5000, gp.TimeoutMs)
}

func TestBindEffectPreferredOverHeuristic(t *testing.T) {
	bag := diagnostic.NewBag()
	file := &ast.File{Items: []ast.Item{
		&ast.UseToolDecl{Alias: "Search", Operation: "http.search"},
		&ast.EffectDecl{Name: "http"},
		&ast.BindEffectDecl{Effect: "http", Alias: "Search"},
	}}

	res := New(bag).Resolve(file)

	assert.Equal(t, "Search", res.EffectBindings["http"])
}
