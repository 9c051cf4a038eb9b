package parser

import (
	"github.com/lumen-lang/lumen/pkg/ast"
	"github.com/lumen-lang/lumen/pkg/token"
)

// parseProcessDecl parses any of the seven process-declaration shapes:
// memory, machine, pipeline, orchestration, guardrail,
// eval, pattern. Only machine and pipeline carry shape-specific syntax
// (states/transitions, stage lists); the rest are a name plus a body of
// method overrides, resolved against their runtime's default behavior
// by pkg/process.
func (p *Parser) parseProcessDecl() *ast.ProcessDecl {
	start := p.advance() // the process keyword
	kind := processKindOf(start.Kind)
	name := p.expectIdent("process name")
	p.skipNewlines()

	d := &ast.ProcessDecl{Kind: kind, Name: name}
	switch kind {
	case ast.ProcessMachine:
		p.parseMachineBody(d)
	case ast.ProcessPipeline:
		p.parsePipelineBody(d)
	default:
		p.parseProcessMethods(d)
	}
	p.expect(token.KW_END, "to close process declaration")
	d.Sp = p.span(start)
	return d
}

func processKindOf(k token.Kind) ast.ProcessKind {
	switch k {
	case token.KW_MEMORY:
		return ast.ProcessMemory
	case token.KW_MACHINE:
		return ast.ProcessMachine
	case token.KW_PIPELINE:
		return ast.ProcessPipeline
	case token.KW_ORCHESTRATION:
		return ast.ProcessOrchestration
	case token.KW_GUARDRAIL:
		return ast.ProcessGuardrail
	case token.KW_EVAL:
		return ast.ProcessEval
	default:
		return ast.ProcessPattern
	}
}

// parseProcessMethods consumes a run of `cell` overrides, the only
// content allowed in a memory/orchestration/guardrail/eval/pattern body.
func (p *Parser) parseProcessMethods(d *ast.ProcessDecl) {
	for p.at(token.KW_CELL) {
		d.Methods = append(d.Methods, p.parseCellDecl())
		p.skipNewlines()
	}
}

func (p *Parser) parsePipelineBody(d *ast.ProcessDecl) {
	for p.at(token.KW_STAGE) {
		p.advance()
		cellName := p.expectIdent("stage cell name")
		d.Stages = append(d.Stages, ast.PipelineStage{CellName: cellName})
		p.skipNewlines()
	}
	p.parseProcessMethods(d)
}

func (p *Parser) parseMachineBody(d *ast.ProcessDecl) {
	if p.at(token.IDENT) && p.cur().Text == "initial" {
		p.advance()
		d.Initial = p.expectIdent("initial state name")
		p.skipNewlines()
	}
	for p.at(token.KW_STATE) {
		d.States = append(d.States, p.parseMachineState())
		p.skipNewlines()
	}
	if d.Initial == "" && len(d.States) > 0 {
		d.Initial = d.States[0].Name
	}
	p.parseProcessMethods(d)
}

func (p *Parser) parseMachineState() ast.MachineState {
	p.advance() // 'state'
	name := p.expectIdent("state name")
	st := ast.MachineState{Name: name}
	if p.at(token.LPAREN) {
		st.Payload = p.parseParams()
	}
	p.skipNewlines()
	for !p.at(token.KW_END) && !p.at(token.EOF) {
		switch {
		case p.at(token.IDENT) && p.cur().Text == "terminal":
			p.advance()
			st.Terminal = true
		case p.at(token.KW_ON_ENTER):
			p.advance()
			st.OnEnter = p.parseBlock(token.KW_END)
			p.expect(token.KW_END, "to close 'on_enter'")
		case p.at(token.KW_TRANSITION):
			st.Transitions = append(st.Transitions, p.parseMachineTransition())
		default:
			p.errorf("UnexpectedToken", "expected 'terminal', 'on_enter' or 'transition' in state body, found %s", p.cur().Kind)
			p.advance()
		}
		p.skipNewlines()
	}
	p.expect(token.KW_END, "to close 'state'")
	return st
}

func (p *Parser) parseMachineTransition() ast.MachineTransition {
	p.advance() // 'transition'
	target := p.expectIdent("transition target state")
	tr := ast.MachineTransition{Target: target}
	if p.at(token.LPAREN) {
		p.advance()
		for !p.at(token.RPAREN) && !p.at(token.EOF) {
			tr.Args = append(tr.Args, p.parseExpr(precLowest))
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RPAREN, "to close transition arguments")
	}
	if p.at(token.KW_IF) {
		p.advance()
		tr.Guard = p.parseExpr(precLowest)
	}
	return tr
}
