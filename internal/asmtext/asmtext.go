// Package asmtext implements the textual assembly dialect cmd/lstfc's `-a`
// (assemble) mode reads (spec §6): one function per block, one
// instruction per line, labeled `L<n>`
// by its position so jumps can reference instructions that come later in
// the same function.
package asmtext

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lstf-lang/lstf/internal/bytecode"
)

// Write renders prog as assembly text.
func Write(w io.Writer, prog *bytecode.Program) error {
	for _, fn := range prog.Functions {
		if _, err := fmt.Fprintf(w, "func %s(%d):\n", fn.Name, fn.NumParams); err != nil {
			return err
		}
		index := make(map[*bytecode.Instruction]int, len(fn.Instructions))
		for i, ins := range fn.Instructions {
			index[ins] = i
		}
		for i, ins := range fn.Instructions {
			line, err := formatInstruction(ins, index)
			if err != nil {
				return fmt.Errorf("asmtext: %s: %w", fn.Name, err)
			}
			if _, err := fmt.Fprintf(w, "  L%d: %s\n", i, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatInstruction(ins *bytecode.Instruction, index map[*bytecode.Instruction]int) (string, error) {
	op := ins.Op.String()
	switch ins.Op {
	case bytecode.OpLoadFrame, bytecode.OpStore:
		return fmt.Sprintf("%s %d", op, ins.FrameOffset), nil
	case bytecode.OpLoadData, bytecode.OpLoadExpression, bytecode.OpAssert:
		return fmt.Sprintf("%s %d", op, ins.DataOffset), nil
	case bytecode.OpLoadCode:
		return fmt.Sprintf("%s %s", op, ins.FuncRef.Name), nil
	case bytecode.OpCall:
		return fmt.Sprintf("%s %s %t", op, ins.FuncRef.Name, ins.HasResult), nil
	case bytecode.OpSchedule:
		return fmt.Sprintf("%s %s %d", op, ins.FuncRef.Name, ins.Count), nil
	case bytecode.OpCallIndirect:
		return fmt.Sprintf("%s %t", op, ins.HasResult), nil
	case bytecode.OpScheduleIndirect:
		return fmt.Sprintf("%s %d", op, ins.Count), nil
	case bytecode.OpParams:
		return fmt.Sprintf("%s %d", op, ins.Count), nil
	case bytecode.OpClosure:
		parts := make([]string, len(ins.Upvalues))
		for i, u := range ins.Upvalues {
			parts[i] = fmt.Sprintf("(%t, %d)", u.IsLocal, u.Index)
		}
		return fmt.Sprintf("%s %s %s", op, ins.FuncRef.Name, strings.Join(parts, " ")), nil
	case bytecode.OpUpGet, bytecode.OpUpSet:
		return fmt.Sprintf("%s %d", op, ins.Count), nil
	case bytecode.OpVMCall:
		return fmt.Sprintf("%s %s %t", op, ins.VMCall, ins.HasResult), nil
	case bytecode.OpJump, bytecode.OpElse:
		target, ok := index[ins.Target]
		if !ok {
			return "", fmt.Errorf("jump target not within function")
		}
		return fmt.Sprintf("%s L%d", op, target), nil
	case bytecode.OpExit:
		return fmt.Sprintf("%s %d", op, ins.ExitCode), nil
	default:
		return op, nil
	}
}

// Parse reads assembly text back into a structured Program, the `-a`
// assemble mode. Jump operands may reference any label in the same
// function regardless of order, resolved in a second pass once every
// instruction has been read.
func Parse(r io.Reader) (*bytecode.Program, error) {
	prog := bytecode.NewProgram()
	scanner := bufio.NewScanner(r)

	var fn *bytecode.Function
	var labels map[string]int
	type pendingJump struct {
		ins   *bytecode.Instruction
		label string
	}
	var pending []pendingJump

	resolveFunc := func() {
		if fn == nil {
			return
		}
		for _, p := range pending {
			idx, ok := labels[p.label]
			if !ok || idx >= len(fn.Instructions) {
				continue
			}
			p.ins.Target = fn.Instructions[idx]
		}
		pending = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "func ") {
			resolveFunc()
			name, numParams, err := parseFuncHeader(line)
			if err != nil {
				return nil, err
			}
			labels = make(map[string]int)
			if existing, ok := prog.Function(name); ok {
				// A forward reference (from an earlier call/closure/load_code)
				// already created a stub for this function; fill it in rather
				// than rejecting it as a duplicate.
				fn = existing
				fn.NumParams = numParams
			} else {
				fn = &bytecode.Function{Name: name, NumParams: numParams}
				if err := prog.AddFunction(fn); err != nil {
					return nil, err
				}
			}
			continue
		}
		if fn == nil {
			return nil, fmt.Errorf("asmtext: instruction outside any func: %q", line)
		}
		label, rest, err := splitLabel(line)
		if err != nil {
			return nil, err
		}
		labels[label] = len(fn.Instructions)
		ins, jump, err := parseInstruction(rest, prog)
		if err != nil {
			return nil, fmt.Errorf("asmtext: %s: %w", fn.Name, err)
		}
		fn.Instructions = append(fn.Instructions, ins)
		if jump != "" {
			pending = append(pending, pendingJump{ins: ins, label: jump})
		}
	}
	resolveFunc()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return prog, nil
}

func parseFuncHeader(line string) (string, int, error) {
	line = strings.TrimSuffix(strings.TrimPrefix(line, "func "), ":")
	open := strings.IndexByte(line, '(')
	shut := strings.IndexByte(line, ')')
	if open < 0 || shut < open {
		return "", 0, fmt.Errorf("asmtext: malformed func header %q", line)
	}
	name := line[:open]
	n, err := strconv.Atoi(line[open+1 : shut])
	if err != nil {
		return "", 0, fmt.Errorf("asmtext: bad param count in %q: %w", line, err)
	}
	return name, n, nil
}

func splitLabel(line string) (label, rest string, err error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", "", fmt.Errorf("asmtext: missing label: %q", line)
	}
	return strings.TrimSpace(line[:colon]), strings.TrimSpace(line[colon+1:]), nil
}

func parseInstruction(text string, prog *bytecode.Program) (*bytecode.Instruction, string, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, "", fmt.Errorf("empty instruction")
	}
	mnemonic, args := fields[0], fields[1:]
	op, ok := opcodeByName[mnemonic]
	if !ok {
		return nil, "", fmt.Errorf("unknown opcode %q", mnemonic)
	}
	ins := &bytecode.Instruction{Op: op}

	funcRef := func(name string) *bytecode.Function {
		if f, ok := prog.Function(name); ok {
			return f
		}
		f := &bytecode.Function{Name: name}
		_ = prog.AddFunction(f)
		return f
	}

	switch op {
	case bytecode.OpLoadFrame, bytecode.OpStore:
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, "", err
		}
		ins.FrameOffset = n
	case bytecode.OpLoadData, bytecode.OpLoadExpression, bytecode.OpAssert:
		n, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return nil, "", err
		}
		ins.DataOffset = n
	case bytecode.OpLoadCode:
		ins.FuncRef = funcRef(args[0])
	case bytecode.OpCall:
		ins.FuncRef = funcRef(args[0])
		ins.HasResult = args[1] == "true"
	case bytecode.OpSchedule:
		ins.FuncRef = funcRef(args[0])
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, "", err
		}
		ins.Count = uint8(n)
	case bytecode.OpCallIndirect:
		ins.HasResult = args[0] == "true"
	case bytecode.OpScheduleIndirect, bytecode.OpParams, bytecode.OpUpGet, bytecode.OpUpSet:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, "", err
		}
		ins.Count = uint8(n)
	case bytecode.OpClosure:
		ins.FuncRef = funcRef(args[0])
		rest := strings.Join(args[1:], " ")
		ups, err := parseUpvalues(rest)
		if err != nil {
			return nil, "", err
		}
		ins.Upvalues = ups
		ins.Count = uint8(len(ups))
	case bytecode.OpVMCall:
		vc, ok := vmcallByName[args[0]]
		if !ok {
			return nil, "", fmt.Errorf("unknown vmcall %q", args[0])
		}
		ins.VMCall = vc
		ins.HasResult = args[1] == "true"
	case bytecode.OpJump, bytecode.OpElse:
		return ins, args[0], nil
	case bytecode.OpExit:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, "", err
		}
		ins.ExitCode = uint8(n)
	}
	return ins, "", nil
}

func parseUpvalues(s string) ([]bytecode.Upvalue, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var ups []bytecode.Upvalue
	for _, tok := range strings.Split(s, ") (") {
		tok = strings.Trim(tok, "() ")
		parts := strings.Split(tok, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed upvalue %q", tok)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}
		ups = append(ups, bytecode.Upvalue{IsLocal: strings.TrimSpace(parts[0]) == "true", Index: uint8(idx)})
	}
	return ups, nil
}

var opcodeByName = func() map[string]bytecode.Opcode {
	m := make(map[string]bytecode.Opcode)
	for op := bytecode.Opcode(0); ; op++ {
		name := op.String()
		if strings.HasPrefix(name, "opcode(") {
			break
		}
		m[name] = op
	}
	return m
}()

var vmcallByName = map[string]bytecode.VMCallCode{
	"connect":     bytecode.VMCallConnect,
	"td_open":     bytecode.VMCallTextDocumentOpen,
	"diagnostics": bytecode.VMCallDiagnostics,
}
