package constraints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/resolver"
)

func namedType(name string) ast.TypeExpr { return &ast.NamedType{Name: name} }

func lit(kind ast.LiteralKind, text string) *ast.Literal { return &ast.Literal{Kind: kind, Text: text} }

func validate(t *testing.T, items []ast.Item) (*diagnostic.Bag, *Result) {
	t.Helper()
	bag := diagnostic.NewBag()
	file := &ast.File{Items: items}
	res := resolver.New(bag).Resolve(file)
	return bag, New(bag, res).Validate(file)
}

func TestFieldOnlyConstraintNeedsRuntimeCheck(t *testing.T) {
	bag, out := validate(t, []ast.Item{
		&ast.RecordDecl{
			Name:   "Account",
			Fields: []ast.RecordField{{Name: "balance", Type: namedType(ast.TInt)}},
			Where: &ast.BinaryExpr{
				Op:    ast.BGe,
				Left:  &ast.Ident{Name: "balance"},
				Right: lit(ast.LitInt, "0"),
			},
		},
	})

	assert.False(t, bag.HasErrors())
	rc := out.Records["Account"]
	require.NotNil(t, rc)
	assert.True(t, rc.NeedsRuntimeCheck)
	assert.Equal(t, []string{"balance"}, rc.Fields)
}

func TestConstraintReferencingUnknownNameIsAnError(t *testing.T) {
	bag, _ := validate(t, []ast.Item{
		&ast.RecordDecl{
			Name:   "Account",
			Fields: []ast.RecordField{{Name: "balance", Type: namedType(ast.TInt)}},
			Where: &ast.BinaryExpr{
				Op:    ast.BGe,
				Left:  &ast.Ident{Name: "balnce"},
				Right: lit(ast.LitInt, "0"),
			},
		},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("ConstraintInvalidReference"), bag.Errors()[0].Kind)
}

func TestConstraintCallingEffectfulCellIsAnError(t *testing.T) {
	bag, _ := validate(t, []ast.Item{
		&ast.CellDecl{Name: "logged", Body: []ast.Stmt{
			&ast.EmitStmt{Value: lit(ast.LitString, "check")},
		}},
		&ast.RecordDecl{
			Name:   "Account",
			Fields: []ast.RecordField{{Name: "balance", Type: namedType(ast.TInt)}},
			Where: &ast.CallExpr{
				Callee: &ast.Ident{Name: "logged"},
				Args:   []ast.Arg{{Value: &ast.Ident{Name: "balance"}}},
			},
		},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("ConstraintNotPure"), bag.Errors()[0].Kind)
}

func TestConstraintWithNoFieldReferenceNeedsNoRuntimeCheck(t *testing.T) {
	bag, out := validate(t, []ast.Item{
		&ast.RecordDecl{
			Name:   "Flag",
			Fields: []ast.RecordField{{Name: "on", Type: namedType(ast.TBool)}},
			Where:  lit(ast.LitBool, "true"),
		},
	})

	assert.False(t, bag.HasErrors())
	assert.False(t, out.Records["Flag"].NeedsRuntimeCheck)
}

func TestPerformInConstraintIsRejected(t *testing.T) {
	bag, _ := validate(t, []ast.Item{
		&ast.RecordDecl{
			Name:   "Account",
			Fields: []ast.RecordField{{Name: "balance", Type: namedType(ast.TInt)}},
			Where:  &ast.PerformExpr{Effect: "random", Op: "int"},
		},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("ConstraintNotPure"), bag.Errors()[0].Kind)
}
