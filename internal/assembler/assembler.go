// Package assembler lowers the CFG intermediate representation (package
// ir) into the linear, position-independent bytecode model (package
// bytecode), per spec §4.5: a depth-first walk of each function's blocks
// assigning frame offsets as it goes, back-patching forward jumps once
// their target's first instruction is known, and emitting the
// variables_killed pops the stack-pop-point analysis (package ir) computed
// before every branch and every void return.
package assembler

import (
	"fmt"

	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/ir"
	"github.com/lstf-lang/lstf/internal/jsonval"
)

// Assemble lowers an entire ir.Program into a bytecode.Program. Every
// function is expected to have already been through ir.Analyze.
func Assemble(prog *ir.Program, entryFunction string) (*bytecode.Program, error) {
	out := bytecode.NewProgram()
	out.EntryFunction = entryFunction

	bcFuncs := make(map[*ir.Function]*bytecode.Function, len(prog.Functions))
	for _, fn := range prog.Functions {
		bcFuncs[fn] = &bytecode.Function{Name: fn.Name, NumParams: fn.NumParams}
	}

	for _, fn := range prog.Functions {
		a := &funcAssembler{
			irFn:     fn,
			bcFn:     bcFuncs[fn],
			bcFuncOf: bcFuncs,
			prog:     out,
			offsetOf: make(map[ir.Instruction]int),
			blockFP:  make(map[*ir.BasicBlock]int),
			first:    make(map[*ir.BasicBlock]*bytecode.Instruction),
			pending:  nil,
		}
		if err := a.run(); err != nil {
			return nil, fmt.Errorf("assembler: function %q: %w", fn.Name, err)
		}
		if err := out.AddFunction(a.bcFn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type pendingJump struct {
	instr  *bytecode.Instruction
	target *ir.BasicBlock
}

type funcAssembler struct {
	irFn     *ir.Function
	bcFn     *bytecode.Function
	bcFuncOf map[*ir.Function]*bytecode.Function
	prog     *bytecode.Program

	fp       int
	offsetOf map[ir.Instruction]int // frame offset already assigned to a value-producing instruction
	blockFP  map[*ir.BasicBlock]int
	first    map[*ir.BasicBlock]*bytecode.Instruction
	visited  map[*ir.BasicBlock]bool
	pending  []pendingJump
}

func (a *funcAssembler) run() error {
	if a.irFn.IsPrimitive {
		return a.assemblePrimitive()
	}
	a.visited = make(map[*ir.BasicBlock]bool)
	a.emit(&bytecode.Instruction{Op: bytecode.OpParams, Count: uint8(a.irFn.NumParams)})
	a.fp = a.irFn.NumParams
	for i, p := range a.irFn.Params() {
		a.offsetOf[p] = i
	}

	if err := a.walk(a.irFn.Entry); err != nil {
		return err
	}

	for _, pj := range a.pending {
		target, ok := a.first[pj.target]
		if !ok {
			return fmt.Errorf("jump to unreachable block %q", pj.target.Label)
		}
		pj.instr.Target = target
	}
	return nil
}

func (a *funcAssembler) assemblePrimitive() error {
	a.emit(&bytecode.Instruction{Op: bytecode.OpParams, Count: uint8(a.irFn.NumParams)})
	switch a.irFn.Opcode {
	case bytecode.OpVMCall:
		a.emit(&bytecode.Instruction{Op: bytecode.OpVMCall, VMCall: bytecode.VMCallCode(a.irFn.VmCallCode), HasResult: a.irFn.HasResult})
	default:
		a.emit(&bytecode.Instruction{Op: a.irFn.Opcode})
	}
	a.emit(&bytecode.Instruction{Op: bytecode.OpReturn})
	return nil
}

func (a *funcAssembler) emit(ins *bytecode.Instruction) *bytecode.Instruction {
	a.bcFn.Instructions = append(a.bcFn.Instructions, ins)
	return ins
}

func (a *funcAssembler) recordFirst(bb *ir.BasicBlock, ins *bytecode.Instruction) {
	if _, ok := a.first[bb]; !ok {
		a.first[bb] = ins
	}
}

// walk emits bb and, depth-first, its Taken then NotTaken successor,
// unless already visited (in which case a caller-emitted jump/else will
// later be patched to point at its recorded first instruction).
func (a *funcAssembler) walk(bb *ir.BasicBlock) error {
	if a.visited[bb] {
		return nil
	}
	a.visited[bb] = true
	a.blockFP[bb] = a.fp

	if bb == a.irFn.Exit {
		return nil
	}

	if len(bb.Instructions) == 0 {
		a.recordFirst(bb, nil) // patched below once successor is known
	}

	term := bb.Terminator()
	body := bb.Instructions
	if term != nil {
		body = bb.Instructions[:len(bb.Instructions)-1]
	}
	for _, ins := range body {
		bcIns, err := a.lower(ins)
		if err != nil {
			return err
		}
		if bcIns != nil {
			a.recordFirst(bb, bcIns)
		}
	}

	if term == nil {
		// Falls off the end of the block with no explicit Branch/Return.
		if bb.Taken == a.irFn.Exit || bb.Taken == nil {
			r := a.emit(&bytecode.Instruction{Op: bytecode.OpReturn})
			a.recordFirst(bb, r)
			return nil
		}
		j := a.emit(&bytecode.Instruction{Op: bytecode.OpJump})
		a.recordFirst(bb, j)
		a.pending = append(a.pending, pendingJump{instr: j, target: bb.Taken})
		return a.walk(bb.Taken)
	}

	switch t := term.(type) {
	case *ir.ReturnInstr:
		if t.Value == nil {
			popKilledLocals(a, bb)
		}
		ins := &bytecode.Instruction{Op: bytecode.OpReturn}
		if t.Value != nil {
			a.fp--
		}
		a.emit(ins)
		return nil
	case *ir.BranchInstr:
		if t.Cond == nil {
			popKilledLocals(a, bb)
			if a.visited[t.TakenBB] {
				a.emit(&bytecode.Instruction{Op: bytecode.OpJump, Target: a.first[t.TakenBB]})
				return nil
			}
			j := a.emit(&bytecode.Instruction{Op: bytecode.OpJump})
			a.pending = append(a.pending, pendingJump{instr: j, target: t.TakenBB})
			return a.walk(t.TakenBB)
		}
		// Conditional: `else` jumps to NotTaken when the condition is
		// false, falling through to Taken otherwise.
		a.fp-- // pops Cond
		popKilledLocals(a, bb)
		e := a.emit(&bytecode.Instruction{Op: bytecode.OpElse})
		if a.visited[t.NotTakenBB] {
			e.Target = a.first[t.NotTakenBB]
		} else {
			a.pending = append(a.pending, pendingJump{instr: e, target: t.NotTakenBB})
		}
		savedFP := a.fp
		if err := a.walk(t.TakenBB); err != nil {
			return err
		}
		a.fp = savedFP
		return a.walk(t.NotTakenBB)
	default:
		return fmt.Errorf("block %q ends in non-terminator %T", bb.Label, term)
	}
}

// popKilledLocals emits one `pop` per local the stack-pop-point analysis
// determined is live out of bb but dead on every non-exit successor.
func popKilledLocals(a *funcAssembler, bb *ir.BasicBlock) {
	for i := 0; i < bb.VariablesKilled; i++ {
		a.emit(&bytecode.Instruction{Op: bytecode.OpPop})
		a.fp--
	}
}

func (a *funcAssembler) lower(ins ir.Instruction) (*bytecode.Instruction, error) {
	switch v := ins.(type) {
	case *ir.AllocInstr:
		if v.Initializer != nil {
			a.offsetOf[v] = a.offsetOf[v.Initializer]
		} else {
			a.offsetOf[v] = a.fp - 1
		}
		return nil, nil

	case *ir.LoadInstr:
		off, err := a.resolve(v.Src)
		if err != nil {
			return nil, err
		}
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpLoadFrame, FrameOffset: int64(off)})
		a.push(v)
		return bi, nil

	case *ir.StoreInstr:
		off, err := a.resolve(v.Dst)
		if err != nil {
			return nil, err
		}
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpStore, FrameOffset: int64(off)})
		a.fp--
		return bi, nil

	case *ir.ConstInstr:
		data := a.prog.InternString(jsonval.Compact(v.Value))
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpLoadExpression, DataOffset: data})
		a.push(v)
		return bi, nil

	case *ir.GetElemInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpGet})
		a.fp -= 2
		a.push(v)
		return bi, nil

	case *ir.SetElemInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpSet})
		a.fp -= 3
		return bi, nil

	case *ir.AppendInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpAppend})
		a.fp -= 2
		return bi, nil

	case *ir.MatchInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpMatch})
		a.fp -= 2
		a.push(v)
		return bi, nil

	case *ir.BinaryInstr:
		bi := a.emit(&bytecode.Instruction{Op: binaryOpcode(v.Op)})
		a.fp -= 2
		a.push(v)
		return bi, nil

	case *ir.UnaryInstr:
		bi := a.emit(&bytecode.Instruction{Op: unaryOpcode(v.Op)})
		a.fp--
		a.push(v)
		return bi, nil

	case *ir.CallInstr:
		if v.Fn.IsPrimitive {
			// Primitive builtins are lowered directly to their opcode at the
			// call site; their arguments are already on top of the stack.
			ins := &bytecode.Instruction{Op: v.Fn.Opcode}
			if v.Fn.Opcode == bytecode.OpVMCall {
				ins.VMCall = bytecode.VMCallCode(v.Fn.VmCallCode)
				ins.HasResult = v.Fn.HasResult
			}
			bi := a.emit(ins)
			a.fp -= len(v.Args)
			if v.Fn.HasResult {
				a.push(v)
			}
			return bi, nil
		}
		callee, ok := a.bcFuncOf[v.Fn]
		if !ok {
			return nil, fmt.Errorf("call to unknown function %q", v.Fn.Name)
		}
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpCall, FuncRef: callee, HasResult: v.Fn.HasResult})
		a.fp -= len(v.Args)
		if v.Fn.HasResult {
			a.push(v)
		}
		return bi, nil

	case *ir.IndirectCallInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpCallIndirect, HasResult: v.HasResult})
		a.fp -= len(v.Args) + 1
		if v.HasResult {
			a.push(v)
		}
		return bi, nil

	case *ir.ScheduleInstr:
		callee, ok := a.bcFuncOf[v.Fn]
		if !ok {
			return nil, fmt.Errorf("schedule of unknown function %q", v.Fn.Name)
		}
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpSchedule, FuncRef: callee, Count: uint8(len(v.Args))})
		a.fp -= len(v.Args)
		return bi, nil

	case *ir.IndirectScheduleInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpScheduleIndirect, Count: uint8(len(v.Args))})
		a.fp -= len(v.Args) + 1
		return bi, nil

	case *ir.ClosureInstr:
		callee, ok := a.bcFuncOf[v.Fn]
		if !ok {
			return nil, fmt.Errorf("closure over unknown function %q", v.Fn.Name)
		}
		ups := make([]bytecode.Upvalue, len(v.Captures))
		for i, c := range v.Captures {
			if c.IsLocal {
				off, err := a.resolve(c.Local)
				if err != nil {
					return nil, err
				}
				ups[i] = bytecode.Upvalue{IsLocal: true, Index: uint8(off)}
			} else {
				ups[i] = bytecode.Upvalue{IsLocal: false, Index: uint8(c.UpvalueID)}
			}
		}
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpClosure, FuncRef: callee, Count: uint8(len(ups)), Upvalues: ups})
		a.push(v)
		return bi, nil

	case *ir.GetUpvalueInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpUpGet, Count: uint8(v.ID)})
		a.push(v)
		return bi, nil

	case *ir.SetUpvalueInstr:
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpUpSet, Count: uint8(v.ID)})
		a.fp--
		return bi, nil

	case *ir.LoadFunctionInstr:
		callee, ok := a.bcFuncOf[v.Fn]
		if !ok {
			return nil, fmt.Errorf("reference to unknown function %q", v.Fn.Name)
		}
		bi := a.emit(&bytecode.Instruction{Op: bytecode.OpLoadCode, FuncRef: callee})
		a.push(v)
		return bi, nil

	case *ir.PhiInstr:
		for _, arg := range v.Args {
			off, err := a.resolve(arg)
			if err != nil {
				return nil, err
			}
			a.offsetOf[v] = off
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("assembler: unhandled instruction %T", ins)
	}
}

func (a *funcAssembler) push(ins ir.Instruction) {
	a.offsetOf[ins] = a.fp
	a.fp++
}

func (a *funcAssembler) resolve(ins ir.Instruction) (int, error) {
	if off, ok := a.offsetOf[ins]; ok {
		return off, nil
	}
	if p, ok := ins.(*ir.ParamInstr); ok {
		return p.Index, nil
	}
	return 0, fmt.Errorf("reference to an instruction whose frame offset was never assigned (%T)", ins)
}

func binaryOpcode(op ir.BinaryOp) bytecode.Opcode {
	switch op {
	case ir.BinAdd:
		return bytecode.OpAdd
	case ir.BinSub:
		return bytecode.OpSub
	case ir.BinMul:
		return bytecode.OpMul
	case ir.BinDiv:
		return bytecode.OpDiv
	case ir.BinPow:
		return bytecode.OpPow
	case ir.BinMod:
		return bytecode.OpMod
	case ir.BinAnd:
		return bytecode.OpAnd
	case ir.BinOr:
		return bytecode.OpOr
	case ir.BinXor:
		return bytecode.OpXor
	case ir.BinLShift:
		return bytecode.OpLShift
	case ir.BinRShift:
		return bytecode.OpRShift
	case ir.BinLessThan:
		return bytecode.OpLessThan
	case ir.BinLessThanEqual:
		return bytecode.OpLessThanEqual
	case ir.BinEqual:
		return bytecode.OpEqual
	case ir.BinGreaterThan:
		return bytecode.OpGreaterThan
	case ir.BinGreaterThanEqual:
		return bytecode.OpGreaterThanEqual
	case ir.BinLogicalAnd:
		return bytecode.OpLAnd
	case ir.BinLogicalOr:
		return bytecode.OpLOr
	default:
		panic("assembler: unhandled binary op")
	}
}

func unaryOpcode(op ir.UnaryOp) bytecode.Opcode {
	switch op {
	case ir.UnaryNeg:
		return bytecode.OpNeg
	case ir.UnaryNot:
		return bytecode.OpNot
	case ir.UnaryLogicalNot:
		return bytecode.OpLNot
	case ir.UnaryBool:
		return bytecode.OpBool
	default:
		panic("assembler: unhandled unary op")
	}
}
