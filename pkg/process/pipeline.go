package process

import (
	"fmt"

	"github.com/lumen-lang/lumen/pkg/lir"
	"github.com/lumen-lang/lumen/pkg/value"
)

// Pipeline chains a fixed sequence of stage cells; Run threads one
// data value through them in order. The default run is synthesized
// here; a user-declared run method on the process overrides it at
// dispatch time.
type Pipeline struct {
	def  *lir.TypeDef
	call CallCell
}

// NewPipeline builds an instance over a pipeline-kind type definition.
func NewPipeline(def *lir.TypeDef, call CallCell) (*Pipeline, error) {
	if def.ProcessKind != "pipeline" {
		return nil, fmt.Errorf("pipeline: %q is a %s process", def.Name, def.ProcessKind)
	}
	return &Pipeline{def: def, call: call}, nil
}

// Run computes stage_n(...stage_1(x)...).
func (p *Pipeline) Run(x value.Value) (value.Value, error) {
	cur := x
	for i, cellIdx := range p.def.StageCells {
		out, err := p.call(cellIdx, []value.Value{cur})
		if err != nil {
			return value.Null, fmt.Errorf("pipeline %s: stage %d: %w", p.def.Name, i+1, err)
		}
		cur = out
	}
	return cur, nil
}
