package types

import (
	"fmt"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/resolver"
)

// Checker performs bidirectional type checking over a resolved file.
type Checker struct {
	bag         *diagnostic.Bag
	res         *resolver.Result
	records     map[string]*ast.RecordDecl
	enums       map[string]*ast.EnumDecl
	aliases     map[string]ast.TypeExpr
	traits      map[string]*ast.TraitDecl
	cells       map[string]*ast.CellDecl
	globalNames []string
}

// New returns a Checker reporting into bag, informed by res (whose tool
// aliases and process/const/extern globals are typed as Unknown
// callables); effect rows are not checked here.
func New(bag *diagnostic.Bag, res *resolver.Result) *Checker {
	return &Checker{
		bag:     bag,
		res:     res,
		records: map[string]*ast.RecordDecl{},
		enums:   map[string]*ast.EnumDecl{},
		aliases: map[string]ast.TypeExpr{},
		traits:  map[string]*ast.TraitDecl{},
		cells:   map[string]*ast.CellDecl{},
	}
}

// Check type-checks every cell and process method in file.
func (c *Checker) Check(file *ast.File) {
	c.collect(file.Items)
	for name := range c.cells {
		c.globalNames = append(c.globalNames, name)
	}
	c.checkItems(file.Items)
}

func (c *Checker) collect(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.RecordDecl:
			c.records[d.Name] = d
		case *ast.EnumDecl:
			c.enums[d.Name] = d
		case *ast.TypeAliasDecl:
			c.aliases[d.Name] = d.Value
		case *ast.TraitDecl:
			c.traits[d.Name] = d
		case *ast.CellDecl:
			c.cells[d.Name] = d
		case *ast.AgentDecl:
			c.collect(d.Items)
		case *ast.ProcessDecl:
			for _, m := range d.Methods {
				c.cells[d.Name+"."+m.Name] = m
			}
		}
	}
}

func (c *Checker) checkItems(items []ast.Item) {
	for _, it := range items {
		switch d := it.(type) {
		case *ast.RecordDecl:
			c.checkRecordConstraint(d)
		case *ast.CellDecl:
			c.checkCell(d.Name, d)
		case *ast.AgentDecl:
			c.checkItems(d.Items)
		case *ast.ProcessDecl:
			for _, m := range d.Methods {
				c.checkCell(d.Name+"."+m.Name, m)
			}
			c.checkMachineStates(d)
		}
	}
}

// checkMachineStates type-checks each machine state's on_enter body
// and transition expressions against the state's payload parameters;
// guards must be Bool.
func (c *Checker) checkMachineStates(d *ast.ProcessDecl) {
	if d.Kind != ast.ProcessMachine {
		return
	}
	for _, st := range d.States {
		env := NewEnv(nil)
		for _, p := range st.Payload {
			env.Set(p.Name, FromAST(p.Type))
		}
		c.checkBlock(st.OnEnter, env, Unknown)
		for _, tr := range st.Transitions {
			for _, a := range tr.Args {
				c.infer(a, env)
			}
			if tr.Guard != nil {
				c.expectBool(tr.Guard, env)
			}
		}
	}
}

// checkRecordConstraint only validates that a `where` clause, if
// present, type-checks to Bool; pkg/constraints owns the deeper
// field-reference validation.
func (c *Checker) checkRecordConstraint(d *ast.RecordDecl) {
	if d.Where == nil {
		return
	}
	env := NewEnv(nil)
	for _, f := range d.Fields {
		env.Set(f.Name, FromAST(f.Type))
	}
	t := c.infer(d.Where, env)
	if !Equal(t, TBool) && t.Kind != KUnknown {
		c.errorf(d.Where.Span(), "ConstraintNotBoolean", "where clause of record %q must be Bool, got %s", d.Name, t)
	}
}

func (c *Checker) checkCell(name string, d *ast.CellDecl) {
	env := NewEnv(nil)
	for _, p := range d.Params {
		env.Set(p.Name, FromAST(p.Type))
	}
	ret := FromAST(d.Ret)
	c.checkBlock(d.Body, env, ret)
}

func (c *Checker) checkBlock(stmts []ast.Stmt, env *Env, ret *Type) {
	for _, s := range stmts {
		c.checkStmt(s, env, ret)
	}
}

func (c *Checker) checkStmt(s ast.Stmt, env *Env, ret *Type) {
	switch st := s.(type) {
	case *ast.LetStmt:
		vt := c.infer(st.Value, env)
		if st.Type != nil {
			declared := FromAST(st.Type)
			if !Assignable(vt, declared) {
				c.errorf(st.Span(), "TypeMismatch", "cannot assign %s to declared type %s", vt, declared)
			}
			vt = declared
		}
		c.bindPatternType(st.Pattern, vt, env)
	case *ast.AssignStmt:
		targetT := c.infer(st.Target, env)
		valT := c.infer(st.Value, env)
		if !Assignable(valT, targetT) {
			c.errorf(st.Span(), "TypeMismatch", "cannot assign %s to %s", valT, targetT)
		}
	case *ast.IfStmt:
		c.expectBool(st.Cond, env)
		c.checkBlock(st.Then, env.Child(), ret)
		c.checkBlock(st.Else, env.Child(), ret)
	case *ast.ForStmt:
		iterT := c.infer(st.Iter, env)
		child := env.Child()
		c.bindPatternType(st.Pattern, elemTypeOf(iterT), child)
		if st.Filter != nil {
			c.expectBool(st.Filter, child)
		}
		c.checkBlock(st.Body, child, ret)
	case *ast.WhileStmt:
		c.expectBool(st.Cond, env)
		c.checkBlock(st.Body, env.Child(), ret)
	case *ast.LoopStmt:
		c.checkBlock(st.Body, env.Child(), ret)
	case *ast.MatchStmt:
		subjT := c.infer(st.Subject, env)
		arms := make([]patternArm, len(st.Arms))
		for i, arm := range st.Arms {
			arms[i] = patternArm{Pattern: arm.Pattern, HasGuard: arm.Guard != nil}
		}
		c.checkExhaustive(subjT, arms, st.Span())
		for _, arm := range st.Arms {
			child := env.Child()
			c.bindPatternTypeFromSubject(arm.Pattern, subjT, child)
			if arm.Guard != nil {
				c.expectBool(arm.Guard, child)
			}
			c.checkBlock(arm.Body, child, ret)
		}
	case *ast.ReturnStmt:
		if st.Value == nil {
			return
		}
		vt := c.infer(st.Value, env)
		if ret != nil && ret.Kind != KUnknown && !Assignable(vt, ret) {
			c.errorf(st.Span(), "TypeMismatch", "return value of type %s does not match declared return type %s", vt, ret)
		}
	case *ast.HaltStmt:
		if st.Value != nil {
			c.infer(st.Value, env)
		}
	case *ast.EmitStmt:
		c.infer(st.Value, env)
	case *ast.DeferStmt:
		c.checkBlock(st.Body, env.Child(), ret)
	case *ast.YieldStmt:
		c.infer(st.Value, env)
	case *ast.BreakStmt:
		if st.Value != nil {
			c.infer(st.Value, env)
		}
	case *ast.ExprStmt:
		c.infer(st.Value, env)
	}
}

func (c *Checker) expectBool(e ast.Expr, env *Env) {
	t := c.infer(e, env)
	if t.Kind != KUnknown && !Equal(t, TBool) {
		c.errorf(e.Span(), "TypeMismatch", "expected Bool, got %s", t)
	}
}

func elemTypeOf(t *Type) *Type {
	switch t.Kind {
	case KList, KSet:
		return t.Args[0]
	case KMap:
		return &Type{Kind: KTuple, Args: []*Type{t.Args[0], t.Args[1]}}
	default:
		return Unknown
	}
}

func (c *Checker) bindPatternType(p ast.Pattern, t *Type, env *Env) {
	c.bindPatternTypeFromSubject(p, t, env)
}

func (c *Checker) errorf(sp diagnostic.Span, kind, format string, args ...any) {
	c.bag.Errorf(diagnostic.StageType, diagnostic.Kind(kind), sp, format, args...)
}

func (c *Checker) errorfSuggest(sp diagnostic.Span, kind, suggest, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.bag.Add(diagnostic.Diagnostic{
		Stage: diagnostic.StageType, Kind: diagnostic.Kind(kind), Severity: diagnostic.SeverityError,
		Primary: sp, Message: msg, Suggest: suggest,
	})
}
