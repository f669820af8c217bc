package vm

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/lstf-lang/lstf/internal/bcformat"
	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/jsonval"
)

// ContextSwitchCycles is how many instructions a coroutine runs before the
// scheduler force-switches to the next one in the run queue (spec §5).
const ContextSwitchCycles = 64

// VMCallHandler implements one vmcall code. It pops whatever arguments its
// call expects directly off co's stack. A synchronous handler pushes its
// result (if hasResult) before returning. An asynchronous one instead
// increments co.OutstandingIO and arranges to call VM.Resume later, once
// the real result (e.g. a JSON-RPC response) is available.
type VMCallHandler func(vm *VM, co *Coroutine, hasResult bool) error

// ProgramExit is returned by Run/RunSlice when the running program
// executed an `exit` instruction, distinct from a single coroutine simply
// finishing: it means the whole VM should stop.
type ProgramExit struct{ Code int }

func (e *ProgramExit) Error() string { return fmt.Sprintf("vm: exit(%d)", e.Code) }

// VM is one loaded program's runtime state: the scheduler's run and
// suspended queues plus the vmcall handlers wired in by the host (package
// eventloop).
type VM struct {
	Program  *bcformat.Program
	Out      io.Writer
	Handlers map[bytecode.VMCallCode]VMCallHandler

	runQueue  []*Coroutine
	suspended []*Coroutine
	nextID    int

	breakpoints map[uint64]bool
}

// New creates a VM ready to run prog, writing `print` output to out.
func New(prog *bcformat.Program, out io.Writer) *VM {
	if out == nil {
		out = io.Discard
	}
	return &VM{Program: prog, Out: out, Handlers: make(map[bytecode.VMCallCode]VMCallHandler)}
}

// RegisterVMCall wires a handler for the given vmcall code.
func (vm *VM) RegisterVMCall(code bytecode.VMCallCode, h VMCallHandler) {
	vm.Handlers[code] = h
}

// SetBreakpoint arms a breakpoint at the given code offset, for the
// `--debug` REPL (spec §6).
func (vm *VM) SetBreakpoint(pc uint64) {
	if vm.breakpoints == nil {
		vm.breakpoints = make(map[uint64]bool)
	}
	vm.breakpoints[pc] = true
}

// ClearBreakpoint disarms a previously set breakpoint.
func (vm *VM) ClearBreakpoint(pc uint64) {
	delete(vm.breakpoints, pc)
}

// Step executes a single instruction for co, exported for the debug REPL's
// single-coroutine, single-step driving (RunSlice's batching and the
// scheduler's run queue are bypassed entirely in that mode).
func (vm *VM) Step(co *Coroutine) (Status, error) {
	if vm.breakpoints[co.PC] && !co.pastBreakpoint {
		co.pastBreakpoint = true
		return StatusHitBreakpoint, nil
	}
	co.pastBreakpoint = false
	return vm.step(co)
}

// Start schedules the program's entry point as the first coroutine.
func (vm *VM) Start(args []Value) *Coroutine {
	co := newCoroutine(vm.nextID, vm.Program.EntryPoint, args)
	vm.nextID++
	vm.runQueue = append(vm.runQueue, co)
	return co
}

// Runnable reports whether any coroutine is ready to execute right now.
func (vm *VM) Runnable() bool { return len(vm.runQueue) > 0 }

// Idle reports whether there is nothing left to do at all: no runnable
// coroutines and none waiting on I/O either.
func (vm *VM) Idle() bool { return len(vm.runQueue) == 0 && len(vm.suspended) == 0 }

// Suspended returns the coroutines currently blocked on outstanding I/O,
// for an event loop to correlate against completed requests.
func (vm *VM) Suspended() []*Coroutine { return vm.suspended }

// Coroutines returns every coroutine the VM currently knows about,
// runnable or suspended, for read-only inspection (the debug inspector).
func (vm *VM) Coroutines() []*Coroutine {
	all := make([]*Coroutine, 0, len(vm.runQueue)+len(vm.suspended))
	all = append(all, vm.runQueue...)
	all = append(all, vm.suspended...)
	return all
}

// Resume is called by the host once an asynchronous vmcall's result is
// ready: it pushes the result (if any), decrements OutstandingIO, and, once
// that reaches zero, moves the coroutine back onto the run queue.
func (vm *VM) Resume(co *Coroutine, result Value, hasResult bool) {
	if hasResult {
		co.Stack.Push(result)
	}
	if co.OutstandingIO > 0 {
		co.OutstandingIO--
	}
	if co.OutstandingIO == 0 {
		for i, s := range vm.suspended {
			if s == co {
				vm.suspended = append(vm.suspended[:i], vm.suspended[i+1:]...)
				break
			}
		}
		vm.runQueue = append(vm.runQueue, co)
	}
}

// Run drives the scheduler until no coroutine is runnable (typically
// because the remainder are all waiting on I/O, or the program is done).
func (vm *VM) Run() error {
	for vm.Runnable() {
		if _, err := vm.RunSlice(); err != nil {
			return err
		}
	}
	return nil
}

// RunSlice executes the coroutine at the front of the run queue for up to
// ContextSwitchCycles instructions, or until it exits, suspends on I/O, or
// faults. It reports whether it made any progress at all.
func (vm *VM) RunSlice() (bool, error) {
	if len(vm.runQueue) == 0 {
		return false, nil
	}
	co := vm.runQueue[0]
	vm.runQueue = vm.runQueue[1:]

	for i := 0; i < ContextSwitchCycles; i++ {
		status, err := vm.step(co)
		if err != nil {
			return true, err
		}
		if status == StatusExited {
			return true, nil
		}
		if co.OutstandingIO > 0 {
			vm.suspended = append(vm.suspended, co)
			return true, nil
		}
	}
	vm.runQueue = append(vm.runQueue, co)
	return true, nil
}

func fault(status Status, pc uint64, detail string) error {
	return &Fault{Status: status, PC: pc, Detail: detail}
}

// step fetch-decodes-executes exactly one instruction for co.
func (vm *VM) step(co *Coroutine) (Status, error) {
	pc := co.PC
	d, err := fetch(vm.Program.Code, pc)
	if err != nil {
		return StatusInvalidCodeOffset, err
	}
	co.PC = d.next

	switch d.op {
	case bytecode.OpLoadFrame:
		v, err := co.Stack.GetFrameValue(d.frameOffset)
		if err != nil {
			return StatusInvalidStackOffset, err
		}
		co.Stack.Push(v)

	case bytecode.OpStore:
		v, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		if err := co.Stack.SetFrameValue(d.frameOffset, v); err != nil {
			return StatusInvalidStackOffset, err
		}

	case bytecode.OpLoadData:
		s, err := readCString(vm.Program.Data, d.dataOffset)
		if err != nil {
			return StatusInvalidDataOffset, err
		}
		co.Stack.Push(String(s))

	case bytecode.OpLoadExpression:
		s, err := readCString(vm.Program.Data, d.dataOffset)
		if err != nil {
			return StatusInvalidDataOffset, err
		}
		jv, err := jsonval.Parse(s)
		if err != nil {
			return StatusInvalidExpression, err
		}
		co.Stack.Push(FromJSON(jv))

	case bytecode.OpLoadCode:
		co.Stack.Push(CodeAddress(d.funcOffset))

	case bytecode.OpPop:
		if _, err := co.Stack.Pop(); err != nil {
			return StatusStackOverflow, err
		}

	case bytecode.OpGet:
		idx, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		container, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		v, status, err := vm.getElem(container, idx)
		if err != nil {
			return status, err
		}
		co.Stack.Push(v)

	case bytecode.OpSet:
		val, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		idx, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		container, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		if status, err := vm.setElem(container, idx, val); err != nil {
			return status, err
		}

	case bytecode.OpAppend:
		val, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		container, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		if container.Kind != KindArrayRef && container.Kind != KindPatternRef {
			return StatusInvalidOperandType, &TypeError{Op: "append", Kind: container.Kind, Want: "array"}
		}
		vj, err := ToJSON(val)
		if err != nil {
			return StatusInvalidOperandType, err
		}
		container.J.Append(vj)

	case bytecode.OpMatch:
		b, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		a, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		eq, status, err := vm.structuralEqual(a, b)
		if err != nil {
			return status, err
		}
		co.Stack.Push(Bool(eq))

	case bytecode.OpIn:
		container, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		needle, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		found, status, err := vm.membership(needle, container)
		if err != nil {
			return status, err
		}
		co.Stack.Push(Bool(found))

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpPow, bytecode.OpMod,
		bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor, bytecode.OpLShift, bytecode.OpRShift,
		bytecode.OpLessThan, bytecode.OpLessThanEqual, bytecode.OpEqual, bytecode.OpGreaterThan, bytecode.OpGreaterThanEqual,
		bytecode.OpLAnd, bytecode.OpLOr:
		b, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		a, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		result, status, err := vm.binary(d.op, a, b)
		if err != nil {
			return status, err
		}
		co.Stack.Push(result)

	case bytecode.OpNeg, bytecode.OpNot, bytecode.OpLNot, bytecode.OpBool:
		a, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		result, status, err := vm.unary(d.op, a)
		if err != nil {
			return status, err
		}
		co.Stack.Push(result)

	case bytecode.OpParams:
		if err := co.Stack.SetParameters(int(d.count)); err != nil {
			return StatusInvalidStackOffset, err
		}

	case bytecode.OpCall:
		co.Stack.SetupFrame(true, co.PC, nil)
		co.PC = d.funcOffset

	case bytecode.OpCallIndirect:
		fnVal, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		entry, cl, status, err := resolveCallable(fnVal)
		if err != nil {
			return status, err
		}
		co.Stack.SetupFrame(true, co.PC, cl)
		co.PC = entry

	case bytecode.OpSchedule:
		if err := vm.schedule(co, d.funcOffset, nil, int(d.count)); err != nil {
			return StatusStackOverflow, err
		}

	case bytecode.OpScheduleIndirect:
		fnVal, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		entry, cl, status, err := resolveCallable(fnVal)
		if err != nil {
			return status, err
		}
		if err := vm.schedule(co, entry, cl, int(d.count)); err != nil {
			return StatusStackOverflow, err
		}

	case bytecode.OpReturn:
		res, err := co.Stack.TeardownFrame()
		if err != nil {
			return StatusInvalidReturn, err
		}
		if !res.HasCaller {
			return StatusExited, nil
		}
		co.PC = res.ReturnAddr

	case bytecode.OpClosure:
		frame, ferr := co.Stack.CurrentFrame()
		if ferr != nil {
			return StatusFrameUnderflow, ferr
		}
		ups := make([]*Upvalue, len(d.upvalues))
		for i, u := range d.upvalues {
			if u.isLocal {
				uv, err := co.Stack.OpenUpvalue(co, int(u.index))
				if err != nil {
					return StatusInvalidStackOffset, err
				}
				ups[i] = uv
			} else {
				if frame.Closure == nil || int(u.index) >= len(frame.Closure.Upvalues) {
					return StatusInvalidStackOffset, fault(StatusInvalidStackOffset, pc, "upvalue index out of range")
				}
				ups[i] = frame.Closure.Upvalues[u.index]
			}
		}
		co.Stack.Push(ClosureValue(&Closure{Entry: d.funcOffset, Upvalues: ups}))

	case bytecode.OpUpGet:
		frame, ferr := co.Stack.CurrentFrame()
		if ferr != nil {
			return StatusFrameUnderflow, ferr
		}
		if frame.Closure == nil || int(d.count) >= len(frame.Closure.Upvalues) {
			return StatusInvalidStackOffset, fault(StatusInvalidStackOffset, pc, "upget out of range")
		}
		co.Stack.Push(frame.Closure.Upvalues[d.count].Get())

	case bytecode.OpUpSet:
		frame, ferr := co.Stack.CurrentFrame()
		if ferr != nil {
			return StatusFrameUnderflow, ferr
		}
		v, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		if frame.Closure == nil || int(d.count) >= len(frame.Closure.Upvalues) {
			return StatusInvalidStackOffset, fault(StatusInvalidStackOffset, pc, "upset out of range")
		}
		frame.Closure.Upvalues[d.count].Set(v)

	case bytecode.OpVMCall:
		h, ok := vm.Handlers[d.vmcall]
		if !ok {
			return StatusInvalidVMCall, fault(StatusInvalidVMCall, pc, d.vmcall.String())
		}
		if err := h(vm, co, d.hasResult); err != nil {
			return StatusInvalidVMCall, err
		}

	case bytecode.OpElse:
		cond, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		if !Truthy(cond) {
			co.PC = d.jumpTarget
		}

	case bytecode.OpJump:
		co.PC = d.jumpTarget

	case bytecode.OpPrint:
		v, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		jv, err := ToJSON(v)
		if err != nil {
			return StatusInvalidOperandType, err
		}
		fmt.Fprintln(vm.Out, jsonval.Compact(jv))

	case bytecode.OpExit:
		return StatusExited, &ProgramExit{Code: int(d.exitCode)}

	case bytecode.OpAssert:
		v, err := co.Stack.Pop()
		if err != nil {
			return StatusStackOverflow, err
		}
		if !Truthy(v) {
			msg, _ := readCString(vm.Program.Data, d.dataOffset)
			return StatusInvalidExpression, fault(StatusInvalidExpression, pc, "assertion failed: "+msg)
		}

	default:
		return StatusInvalidInstruction, fault(StatusInvalidInstruction, pc, d.op.String())
	}

	return StatusContinue, nil
}

func readCString(data []byte, offset uint64) (string, error) {
	if offset >= uint64(len(data)) {
		return "", fmt.Errorf("vm: data offset %d out of range", offset)
	}
	end := bytes.IndexByte(data[offset:], 0)
	if end < 0 {
		return "", fmt.Errorf("vm: unterminated data string at offset %d", offset)
	}
	return string(data[offset : offset+uint64(end)]), nil
}

func resolveCallable(v Value) (entry uint64, cl *Closure, status Status, err error) {
	switch v.Kind {
	case KindCodeAddress:
		return v.Addr, nil, StatusContinue, nil
	case KindClosure:
		return v.Cl.Entry, v.Cl, StatusContinue, nil
	default:
		return 0, nil, StatusInvalidOperandType, &TypeError{Op: "call", Kind: v.Kind, Want: "code address or closure"}
	}
}

func (vm *VM) schedule(caller *Coroutine, entry uint64, cl *Closure, nargs int) error {
	if len(caller.Stack.Values) < nargs {
		return ErrStackUnderflow
	}
	args := make([]Value, nargs)
	copy(args, caller.Stack.Values[len(caller.Stack.Values)-nargs:])
	caller.Stack.Values = caller.Stack.Values[:len(caller.Stack.Values)-nargs]

	co := newCoroutine(vm.nextID, entry, args)
	vm.nextID++
	if cl != nil {
		co.Stack.Frames[0].Closure = cl
	}
	vm.runQueue = append(vm.runQueue, co)
	return nil
}

func (vm *VM) getElem(container, idx Value) (Value, Status, error) {
	byIndex := container.Kind == KindArrayRef || (container.Kind == KindPatternRef && idx.Kind == KindInt)
	byKey := container.Kind == KindObjectRef || (container.Kind == KindPatternRef && idx.Kind == KindString)

	switch {
	case byIndex:
		if idx.Kind != KindInt {
			return Value{}, StatusInvalidOperandType, &TypeError{Op: "get", Kind: idx.Kind, Want: "int"}
		}
		if idx.I < 0 || idx.I >= int64(len(container.J.Elems)) {
			return Value{}, StatusIndexOutOfBounds, fmt.Errorf("vm: index %d out of bounds", idx.I)
		}
		return FromJSON(container.J.Elems[idx.I]), StatusContinue, nil
	case byKey:
		if idx.Kind != KindString {
			return Value{}, StatusInvalidOperandType, &TypeError{Op: "get", Kind: idx.Kind, Want: "string"}
		}
		m, ok := container.J.GetMember(idx.S)
		if !ok {
			return Value{}, StatusInvalidMemberAccess, fmt.Errorf("vm: no member %q", idx.S)
		}
		return FromJSON(m), StatusContinue, nil
	default:
		return Value{}, StatusInvalidOperandType, &TypeError{Op: "get", Kind: container.Kind, Want: "array or object"}
	}
}

func (vm *VM) setElem(container, idx, val Value) (Status, error) {
	vj, err := ToJSON(val)
	if err != nil {
		return StatusInvalidOperandType, err
	}
	byIndex := container.Kind == KindArrayRef || (container.Kind == KindPatternRef && idx.Kind == KindInt)
	byKey := container.Kind == KindObjectRef || (container.Kind == KindPatternRef && idx.Kind == KindString)

	switch {
	case byIndex:
		if idx.Kind != KindInt {
			return StatusInvalidOperandType, &TypeError{Op: "set", Kind: idx.Kind, Want: "int"}
		}
		if idx.I < 0 || idx.I >= int64(len(container.J.Elems)) {
			return StatusIndexOutOfBounds, fmt.Errorf("vm: index %d out of bounds", idx.I)
		}
		container.J.Elems[idx.I] = vj
		return StatusContinue, nil
	case byKey:
		if idx.Kind != KindString {
			return StatusInvalidOperandType, &TypeError{Op: "set", Kind: idx.Kind, Want: "string"}
		}
		container.J.SetMember(idx.S, vj, false)
		return StatusContinue, nil
	default:
		return StatusInvalidOperandType, &TypeError{Op: "set", Kind: container.Kind, Want: "array or object"}
	}
}

func (vm *VM) structuralEqual(a, b Value) (bool, Status, error) {
	aj, err := ToJSON(a)
	if err != nil {
		return false, StatusInvalidOperandType, err
	}
	bj, err := ToJSON(b)
	if err != nil {
		return false, StatusInvalidOperandType, err
	}
	return jsonval.Equal(aj, bj), StatusContinue, nil
}

func (vm *VM) membership(needle, container Value) (bool, Status, error) {
	switch container.Kind {
	case KindObjectRef, KindPatternRef:
		if needle.Kind != KindString {
			return false, StatusInvalidOperandType, &TypeError{Op: "in", Kind: needle.Kind, Want: "string"}
		}
		_, ok := container.J.GetMember(needle.S)
		return ok, StatusContinue, nil
	case KindArrayRef:
		nj, err := ToJSON(needle)
		if err != nil {
			return false, StatusInvalidOperandType, err
		}
		for _, e := range container.J.Elems {
			if jsonval.Equal(nj, e) {
				return true, StatusContinue, nil
			}
		}
		return false, StatusContinue, nil
	default:
		return false, StatusInvalidOperandType, &TypeError{Op: "in", Kind: container.Kind, Want: "array or object"}
	}
}

func (vm *VM) binary(op bytecode.Opcode, a, b Value) (Value, Status, error) {
	if op == bytecode.OpEqual {
		eq, status, err := vm.structuralEqual(a, b)
		return Bool(eq), status, err
	}
	if op == bytecode.OpAdd && a.Kind == KindString && b.Kind == KindString {
		return String(a.S + b.S), StatusContinue, nil
	}
	if op == bytecode.OpLAnd {
		return Bool(Truthy(a) && Truthy(b)), StatusContinue, nil
	}
	if op == bytecode.OpLOr {
		return Bool(Truthy(a) || Truthy(b)), StatusContinue, nil
	}

	switch op {
	case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor, bytecode.OpLShift, bytecode.OpRShift:
		if a.Kind != KindInt || b.Kind != KindInt {
			return Value{}, StatusInvalidOperandType, &TypeError{Op: op.String(), Kind: a.Kind, Want: "int"}
		}
		switch op {
		case bytecode.OpAnd:
			return Int(a.I & b.I), StatusContinue, nil
		case bytecode.OpOr:
			return Int(a.I | b.I), StatusContinue, nil
		case bytecode.OpXor:
			return Int(a.I ^ b.I), StatusContinue, nil
		case bytecode.OpLShift:
			return Int(a.I << uint(b.I)), StatusContinue, nil
		case bytecode.OpRShift:
			return Int(a.I >> uint(b.I)), StatusContinue, nil
		}
	}

	af, aIsDouble, aerr := numOf(a)
	bf, bIsDouble, berr := numOf(b)
	if aerr != nil {
		return Value{}, StatusInvalidOperandType, aerr
	}
	if berr != nil {
		return Value{}, StatusInvalidOperandType, berr
	}
	isDouble := aIsDouble || bIsDouble

	switch op {
	case bytecode.OpLessThan:
		return Bool(af < bf), StatusContinue, nil
	case bytecode.OpLessThanEqual:
		return Bool(af <= bf), StatusContinue, nil
	case bytecode.OpGreaterThan:
		return Bool(af > bf), StatusContinue, nil
	case bytecode.OpGreaterThanEqual:
		return Bool(af >= bf), StatusContinue, nil
	}

	var result float64
	switch op {
	case bytecode.OpAdd:
		result = af + bf
	case bytecode.OpSub:
		result = af - bf
	case bytecode.OpMul:
		result = af * bf
	case bytecode.OpDiv:
		if bf == 0 {
			return Value{}, StatusInvalidExpression, fmt.Errorf("vm: division by zero")
		}
		result = af / bf
		isDouble = true
	case bytecode.OpPow:
		result = math.Pow(af, bf)
	case bytecode.OpMod:
		if bf == 0 {
			return Value{}, StatusInvalidExpression, fmt.Errorf("vm: modulo by zero")
		}
		if isDouble {
			result = math.Mod(af, bf)
		} else {
			result = float64(int64(af) % int64(bf))
		}
	default:
		return Value{}, StatusInvalidInstruction, fmt.Errorf("vm: unhandled binary opcode %s", op)
	}
	if isDouble {
		return Double(result), StatusContinue, nil
	}
	return Int(int64(result)), StatusContinue, nil
}

func numOf(v Value) (float64, bool, error) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), false, nil
	case KindDouble:
		return v.F, true, nil
	default:
		return 0, false, &TypeError{Op: "arithmetic", Kind: v.Kind, Want: "int or double"}
	}
}

func (vm *VM) unary(op bytecode.Opcode, a Value) (Value, Status, error) {
	switch op {
	case bytecode.OpBool:
		return Bool(Truthy(a)), StatusContinue, nil
	case bytecode.OpLNot:
		return Bool(!Truthy(a)), StatusContinue, nil
	case bytecode.OpNot:
		if a.Kind != KindInt {
			return Value{}, StatusInvalidOperandType, &TypeError{Op: "not", Kind: a.Kind, Want: "int"}
		}
		return Int(^a.I), StatusContinue, nil
	case bytecode.OpNeg:
		switch a.Kind {
		case KindInt:
			return Int(-a.I), StatusContinue, nil
		case KindDouble:
			return Double(-a.F), StatusContinue, nil
		default:
			return Value{}, StatusInvalidOperandType, &TypeError{Op: "neg", Kind: a.Kind, Want: "int or double"}
		}
	default:
		return Value{}, StatusInvalidInstruction, fmt.Errorf("vm: unhandled unary opcode %s", op)
	}
}
