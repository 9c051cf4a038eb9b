package types

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

func checkFile(t *testing.T, items []ast.Item) *diagnostic.Bag {
	t.Helper()
	bag := diagnostic.NewBag()
	file := &ast.File{Items: items}
	res := resolver.New(bag).Resolve(file)
	New(bag, res).Check(file)
	return bag
}

func TestLetTypeMismatchIsAnError(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.CellDecl{Name: "f", Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.LetStmt{Pattern: &ast.IdentPattern{Name: "x"}, Type: namedType(ast.TString), Value: lit(ast.LitInt, "1")},
		}},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("TypeMismatch"), bag.Errors()[0].Kind)
}

func TestIntWidensToFloatOnAssignment(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.CellDecl{Name: "f", Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.LetStmt{Pattern: &ast.IdentPattern{Name: "x"}, Type: namedType(ast.TFloat), Value: lit(ast.LitInt, "1")},
		}},
	})

	assert.False(t, bag.HasErrors())
}

func TestUndeclaredIdentifierSuggestsClosestName(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.CellDecl{Name: "f", Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.LetStmt{Pattern: &ast.IdentPattern{Name: "count"}, Value: lit(ast.LitInt, "1")},
			&ast.ExprStmt{Value: &ast.Ident{Name: "coutn"}},
		}},
	})

	require.True(t, bag.HasErrors())
	errs := bag.Errors()
	assert.Equal(t, diagnostic.Kind("UndeclaredIdentifier"), errs[len(errs)-1].Kind)
	assert.Equal(t, "count", errs[len(errs)-1].Suggest)
}

func TestMatchOnEnumMissingVariantIsNonExhaustive(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.EnumDecl{Name: "Light", Variants: []ast.EnumVariant{{Name: "Red"}, {Name: "Green"}}},
		&ast.CellDecl{Name: "f", Params: []ast.Param{{Name: "l", Type: namedType("Light")}}, Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.MatchStmt{
				Subject: &ast.Ident{Name: "l"},
				Arms: []ast.MatchArm{
					{Pattern: &ast.VariantPattern{Enum: "Light", Variant: "Red"}},
				},
			},
		}},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("NonExhaustiveMatch"), bag.Errors()[0].Kind)
}

func TestMatchOnEnumWithWildcardIsExhaustive(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.EnumDecl{Name: "Light", Variants: []ast.EnumVariant{{Name: "Red"}, {Name: "Green"}}},
		&ast.CellDecl{Name: "f", Params: []ast.Param{{Name: "l", Type: namedType("Light")}}, Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.MatchStmt{
				Subject: &ast.Ident{Name: "l"},
				Arms: []ast.MatchArm{
					{Pattern: &ast.VariantPattern{Enum: "Light", Variant: "Red"}},
					{Pattern: &ast.WildcardPattern{}},
				},
			},
		}},
	})

	assert.False(t, bag.HasErrors())
}

func TestMatchOnBoolMissingFalseIsNonExhaustive(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.CellDecl{Name: "f", Params: []ast.Param{{Name: "b", Type: namedType(ast.TBool)}}, Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.MatchStmt{
				Subject: &ast.Ident{Name: "b"},
				Arms: []ast.MatchArm{
					{Pattern: &ast.LiteralPattern{Value: lit(ast.LitBool, "true")}},
				},
			},
		}},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("NonExhaustiveMatch"), bag.Errors()[0].Kind)
}

func TestGuardedArmDoesNotCountTowardExhaustiveness(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.EnumDecl{Name: "Light", Variants: []ast.EnumVariant{{Name: "Red"}, {Name: "Green"}}},
		&ast.CellDecl{Name: "f", Params: []ast.Param{{Name: "l", Type: namedType("Light")}}, Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.MatchStmt{
				Subject: &ast.Ident{Name: "l"},
				Arms: []ast.MatchArm{
					{Pattern: &ast.VariantPattern{Enum: "Light", Variant: "Red"}, Guard: lit(ast.LitBool, "true")},
					{Pattern: &ast.VariantPattern{Enum: "Light", Variant: "Green"}},
				},
			},
		}},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("NonExhaustiveMatch"), bag.Errors()[0].Kind)
}

func TestRecordFieldTypeMismatchIsAnError(t *testing.T) {
	bag := checkFile(t, []ast.Item{
		&ast.RecordDecl{Name: "Point", Fields: []ast.RecordField{{Name: "x", Type: namedType(ast.TInt)}}},
		&ast.CellDecl{Name: "f", Ret: namedType(ast.TNull), Body: []ast.Stmt{
			&ast.ExprStmt{Value: &ast.RecordLit{Type: "Point", Fields: []ast.RecordField2{
				{Name: "x", Value: lit(ast.LitString, "oops")},
			}}},
		}},
	})

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostic.Kind("TypeMismatch"), bag.Errors()[0].Kind)
}
