// Package disasm renders a loaded bytecode program as a human-readable
// instruction listing, the `-d` mode of cmd/lstfc (spec §6).
package disasm

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/lstf-lang/lstf/internal/bcformat"
	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/vm"
)

// Write prints a full tabular disassembly of prog to w: one row per
// instruction, grouped under each function's header, addresses resolved
// back to function names for calls, schedules, closures and load_code;
// jump targets are shown as raw code offsets.
func Write(w io.Writer, prog *bcformat.Program) error {
	for _, fn := range prog.Functions {
		fmt.Fprintf(w, "func %s(%d):\n", fn.Name, fn.NumParams)
		if err := writeFunction(w, prog, fn); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeFunction(w io.Writer, prog *bcformat.Program, fn bcformat.FunctionMeta) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"addr", "op", "operand"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	end := uint64(len(prog.Code))
	for _, other := range prog.Functions {
		if other.CodeOffset > fn.CodeOffset && other.CodeOffset < end {
			end = other.CodeOffset
		}
	}

	pc := fn.CodeOffset
	for pc < end {
		d, err := vm.Decode(prog.Code, pc)
		if err != nil {
			return fmt.Errorf("disasm: %s at %d: %w", fn.Name, pc, err)
		}
		table.Append([]string{strconv.FormatUint(pc, 10), d.Op.String(), operand(prog, d)})
		pc = d.Next
	}
	table.Render()
	return nil
}

func operand(prog *bcformat.Program, d vm.Decoded) string {
	switch d.Op {
	case bytecode.OpLoadFrame, bytecode.OpStore:
		return strconv.FormatInt(d.FrameOffset, 10)
	case bytecode.OpLoadData, bytecode.OpLoadExpression, bytecode.OpAssert:
		return dataString(prog, d.DataOffset)
	case bytecode.OpLoadCode, bytecode.OpCall, bytecode.OpSchedule, bytecode.OpClosure:
		name := strconv.FormatUint(d.FuncOffset, 10)
		if fm, ok := prog.FunctionAt(d.FuncOffset); ok {
			name = fm.Name
		}
		if d.Op == bytecode.OpClosure {
			return fmt.Sprintf("%s %s", name, upvalueList(d.Upvalues))
		}
		return name
	case bytecode.OpUpGet, bytecode.OpUpSet:
		return strconv.Itoa(int(d.Count))
	case bytecode.OpVMCall:
		return strconv.Itoa(int(d.VMCall))
	case bytecode.OpJump, bytecode.OpElse:
		return strconv.FormatUint(d.JumpTarget, 10)
	case bytecode.OpExit:
		return strconv.Itoa(int(d.ExitCode))
	default:
		return ""
	}
}

// WriteAssembly renders prog in the same `L<n>: mnemonic operand` textual
// form package asmtext emits from a freshly assembled program, so a
// `.lstfc` binary's code can be round-tripped to `.lstfa` text and back
// (the `-d` / `-a` pair, spec §6), without keeping the pre-serialize
// bytecode.Program this loaded form no longer carries. Data operands are
// written as numeric data-section offsets; the data section's contents are
// not part of the text form.
func WriteAssembly(w io.Writer, prog *bcformat.Program) error {
	for _, fn := range prog.Functions {
		if _, err := fmt.Fprintf(w, "func %s(%d):\n", fn.Name, fn.NumParams); err != nil {
			return err
		}
		if err := writeFunctionAssembly(w, prog, fn); err != nil {
			return err
		}
	}
	return nil
}

func writeFunctionAssembly(w io.Writer, prog *bcformat.Program, fn bcformat.FunctionMeta) error {
	end := uint64(len(prog.Code))
	for _, other := range prog.Functions {
		if other.CodeOffset > fn.CodeOffset && other.CodeOffset < end {
			end = other.CodeOffset
		}
	}

	// addrToLabel assigns each instruction's starting byte offset a
	// sequential label so jump operands (themselves byte offsets) can be
	// rewritten as the label of whichever instruction they land on.
	addrToLabel := make(map[uint64]int)
	var addrs []uint64
	for pc := fn.CodeOffset; pc < end; {
		addrToLabel[pc] = len(addrs)
		addrs = append(addrs, pc)
		d, err := vm.Decode(prog.Code, pc)
		if err != nil {
			return fmt.Errorf("disasm: %s at %d: %w", fn.Name, pc, err)
		}
		pc = d.Next
	}

	for i, pc := range addrs {
		d, err := vm.Decode(prog.Code, pc)
		if err != nil {
			return fmt.Errorf("disasm: %s at %d: %w", fn.Name, pc, err)
		}
		op := operandAssembly(prog, d, addrToLabel)
		if op == "" {
			if _, err := fmt.Fprintf(w, "  L%d: %s\n", i, d.Op); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "  L%d: %s %s\n", i, d.Op, op); err != nil {
			return err
		}
	}
	return nil
}

func operandAssembly(prog *bcformat.Program, d vm.Decoded, addrToLabel map[uint64]int) string {
	switch d.Op {
	case bytecode.OpJump, bytecode.OpElse:
		if lbl, ok := addrToLabel[d.JumpTarget]; ok {
			return fmt.Sprintf("L%d", lbl)
		}
		return strconv.FormatUint(d.JumpTarget, 10)
	case bytecode.OpCall:
		return fmt.Sprintf("%s %t", operand(prog, d), d.HasResult)
	case bytecode.OpCallIndirect:
		return fmt.Sprintf("%t", d.HasResult)
	case bytecode.OpSchedule:
		return fmt.Sprintf("%s %d", operand(prog, d), d.Count)
	case bytecode.OpScheduleIndirect, bytecode.OpParams:
		return strconv.Itoa(int(d.Count))
	case bytecode.OpLoadData, bytecode.OpLoadExpression, bytecode.OpAssert:
		return strconv.FormatUint(d.DataOffset, 10)
	case bytecode.OpVMCall:
		return fmt.Sprintf("%s %t", d.VMCall, d.HasResult)
	default:
		return operand(prog, d)
	}
}

func upvalueList(ups []vm.DecodedUpvalue) string {
	s := ""
	for i, u := range ups {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("(%t, %d)", u.IsLocal, u.Index)
	}
	return s
}

// dataString reads a NUL-terminated string out of the data section for
// display; disassembly is read-only and never fails on bad data, it just
// shows the raw offset instead.
func dataString(prog *bcformat.Program, off uint64) string {
	if off >= uint64(len(prog.Data)) {
		return strconv.FormatUint(off, 10)
	}
	end := off
	for end < uint64(len(prog.Data)) && prog.Data[end] != 0 {
		end++
	}
	return strconv.Quote(string(prog.Data[off:end]))
}
