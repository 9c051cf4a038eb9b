package lir

import (
	"fmt"
	"strings"
)

// Disassemble renders m's cells as human-readable text, used by the
// `emit` and `trace-show` CLI commands and by test fixtures.
func (m *Module) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; lir v%d, entry=%s\n", m.Version, m.Metadata.EntryCell)
	for ci, c := range m.Cells {
		fmt.Fprintf(&sb, "cell %d %s(params=%d, regs=%d, upvals=%d)\n", ci, c.Name, c.ParamCount, c.RegisterCount, len(c.Upvalues))
		for ip, instr := range c.Code {
			fmt.Fprintf(&sb, "  %4d  %s\n", ip, disasmInstr(instr))
		}
	}
	return sb.String()
}

func disasmInstr(i Instr) string {
	op := i.Op()
	if op.IsJump() {
		return fmt.Sprintf("%-10s A=%d disp=%d", op, i.A(), i.SAxVal())
	}
	switch op {
	case OpLoadK, OpNewUnion, OpClosure, OpHandlePush, OpEmit:
		return fmt.Sprintf("%-10s A=%d Bx=%d", op, i.A(), i.Bx())
	default:
		return fmt.Sprintf("%-10s A=%d B=%d C=%d", op, i.A(), i.B(), i.C())
	}
}
