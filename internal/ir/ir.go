// Package ir implements the control-flow-graph intermediate representation
// described in spec §3.4: functions made of basic blocks, each a sequence of
// instructions ending in an (optional) terminator, with phi pseudo-
// instructions marking blocks reached from multiple predecessors.
//
// The IR is lower-level than a classic SSA form: instructions operate on an
// implicit evaluation stack (the same one the bytecode will use) rather
// than named virtual registers. An instruction that "produces a value"
// (Const, Load, Call with a result, ...) is referenced directly by pointer
// from whichever later instruction consumes it (Store's Src, Binary's
// pushed operands having already been produced by prior instructions in
// program order, Phi's Args, ...); the assembler (package assembler)
// resolves those pointers to concrete stack-frame offsets during lowering.
package ir

import (
	"fmt"
	"math"

	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/jsonval"
)

// UnassignedOffset is the −∞ sentinel spec §3.4 assigns to every
// instruction's frame_offset before the assembler runs.
const UnassignedOffset = math.MinInt64

// SourceNode is an opaque link to whatever produced an instruction, used
// only for diagnostics (error messages, disassembly annotations). The
// surface-language parser/checker are out of scope (spec §1), so this repo
// only needs a printable handle, not a full AST node.
type SourceNode interface {
	String() string
}

// Pos is a minimal SourceNode: a filename/line/column, enough for the
// debug-info section (spec §4.6) without depending on a real parser.
type Pos struct {
	Filename string
	Line     int
	Column   int
}

func (p Pos) String() string {
	if p.Filename == "" {
		return "<generated>"
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// InstrMeta holds the fields common to every instruction variant.
type InstrMeta struct {
	Source      SourceNode
	frameOffset int
}

func newMeta(src SourceNode) InstrMeta {
	return InstrMeta{Source: src, frameOffset: UnassignedOffset}
}

func (m *InstrMeta) FrameOffset() int        { return m.frameOffset }
func (m *InstrMeta) SetFrameOffset(off int)  { m.frameOffset = off }
func (m *InstrMeta) SourceNode() SourceNode  { return m.Source }

// Instruction is implemented by every IR instruction variant.
type Instruction interface {
	FrameOffset() int
	SetFrameOffset(int)
	SourceNode() SourceNode
}

// BinaryOp enumerates the binary operators §4.9 lowers to primitive
// opcodes: comparisons, arithmetic, bitwise, and the two short-circuit-free
// logical connectives `land`/`lor` (the surface language, out of scope,
// would handle short-circuiting at a higher level before reaching the IR).
type BinaryOp int

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinPow
	BinMod
	BinAnd
	BinOr
	BinXor
	BinLShift
	BinRShift
	BinLessThan
	BinLessThanEqual
	BinEqual
	BinGreaterThan
	BinGreaterThanEqual
	BinLogicalAnd
	BinLogicalOr
)

// UnaryOp enumerates the unary operators.
type UnaryOp int

const (
	UnaryNeg UnaryOp = iota
	UnaryNot
	UnaryLogicalNot
	UnaryBool
)

// Function is either a user function (Blocks populated, Entry/Exit set) or
// a VM primitive (a stub the assembler emits directly as a fixed opcode or
// vmcall, per spec §4.2's new_for_instruction).
type Function struct {
	Name        string
	NumParams   int
	NumUpvalues int
	HasResult   bool

	Blocks      []*BasicBlock
	Entry, Exit *BasicBlock

	IsPrimitive bool
	Opcode      bytecode.Opcode
	VmCallCode  uint8
	DoesReturn  bool

	// CapturedLocals records, for a user function, which of its Alloc
	// instructions are known (from a prior compilation pass) to be
	// captured by some nested closure. The assembler does not need this
	// to be accurate for correctness (capture is actually discovered via
	// Closure instructions at lowering time); it exists purely as a
	// diagnostic/debug-info aid matching spec §2's "captured-local
	// descriptors".
	CapturedLocals []*AllocInstr

	params []*ParamInstr
}

// NewUserFunction creates a user function with pre-wired, empty entry and
// exit blocks (entry falls through to exit), per spec §4.2.
func NewUserFunction(name string, numParams, numUpvalues int, hasResult bool) *Function {
	entry := &BasicBlock{Label: "entry"}
	exit := &BasicBlock{Label: "exit"}
	entry.Taken = exit
	return &Function{
		Name:        name,
		NumParams:   numParams,
		NumUpvalues: numUpvalues,
		HasResult:   hasResult,
		Entry:       entry,
		Exit:        exit,
		Blocks:      []*BasicBlock{entry, exit},
	}
}

// NewPrimitiveFunction creates a VM-primitive stub: the assembler emits it
// directly as the given opcode (and, for vmcall, the given vmcall code)
// rather than walking a CFG.
func NewPrimitiveFunction(name string, numParams int, hasResult, doesReturn bool, opcode bytecode.Opcode, vmcallCode uint8) *Function {
	return &Function{
		Name:        name,
		NumParams:   numParams,
		HasResult:   hasResult,
		IsPrimitive: true,
		Opcode:      opcode,
		VmCallCode:  vmcallCode,
		DoesReturn:  doesReturn,
	}
}

// AddBlock appends a new, empty basic block, keeping Exit last in iteration
// order as spec §4.2 requires.
func (f *Function) AddBlock(label string) *BasicBlock {
	if f.IsPrimitive {
		panic("ir: cannot add blocks to a primitive function")
	}
	bb := &BasicBlock{Label: label}
	n := len(f.Blocks)
	f.Blocks = append(f.Blocks[:n-1:n-1], bb, f.Exit)
	return bb
}

// Program is an ordered list of functions (spec §3.4).
type Program struct {
	Functions []*Function
}

func (p *Program) AddFunction(fn *Function) { p.Functions = append(p.Functions, fn) }

// BasicBlock is a maximal straight-line instruction sequence (GLOSSARY).
// Taken/NotTaken hold its 0, 1, or 2 successors; NotTaken is non-nil only
// when the block ends in a conditional Branch.
type BasicBlock struct {
	Label        string
	Instructions []Instruction
	Taken        *BasicBlock
	NotTaken     *BasicBlock
	Preds        []*BasicBlock

	// VariablesKilled is computed by the stack-pop-point analysis (§4.3).
	VariablesKilled int
}

// Successors returns the block's 0-2 successors in order 0, 1 (spec §4.5
// step 6: assembler visits successors in this order).
func (bb *BasicBlock) Successors() []*BasicBlock {
	var out []*BasicBlock
	if bb.Taken != nil {
		out = append(out, bb.Taken)
	}
	if bb.NotTaken != nil {
		out = append(out, bb.NotTaken)
	}
	return out
}

// Emit appends ins to the block. It panics if the block already ends in a
// Branch or Return, per spec §4.2: "Adding an instruction to a block after
// the block already ends in Branch or Return is a programming error."
func (bb *BasicBlock) Emit(ins Instruction) {
	if n := len(bb.Instructions); n > 0 {
		switch bb.Instructions[n-1].(type) {
		case *BranchInstr, *ReturnInstr:
			panic("ir: cannot append an instruction after a block terminator")
		}
	}
	bb.Instructions = append(bb.Instructions, ins)
}

// Terminator returns the block's last instruction if it is a Branch or
// Return, else nil.
func (bb *BasicBlock) Terminator() Instruction {
	if len(bb.Instructions) == 0 {
		return nil
	}
	last := bb.Instructions[len(bb.Instructions)-1]
	switch last.(type) {
	case *BranchInstr, *ReturnInstr:
		return last
	default:
		return nil
	}
}

// ---- Concrete instruction variants (spec §3.4) -----------------------------

// AllocInstr reserves a frame slot. If Initializer is non-nil this is
// Alloc(var) with an initializer (it aliases the initializer's slot, see
// §4.5 step 3); otherwise it is Alloc(automatic), a slot whose value some
// prior push already placed on the stack.
type AllocInstr struct {
	InstrMeta
	Automatic   bool
	Initializer Instruction
}

func NewAlloc(src SourceNode, automatic bool, initializer Instruction) *AllocInstr {
	return &AllocInstr{InstrMeta: newMeta(src), Automatic: automatic, Initializer: initializer}
}

// LoadInstr pushes the value bound to Src (whose FrameOffset has already
// been assigned) onto the stack.
type LoadInstr struct {
	InstrMeta
	Src Instruction
}

func NewLoad(src SourceNode, what Instruction) *LoadInstr {
	return &LoadInstr{InstrMeta: newMeta(src), Src: what}
}

// StoreInstr pops one value and stores it into Dst's slot.
type StoreInstr struct {
	InstrMeta
	Src Instruction
	Dst Instruction
}

func NewStore(src SourceNode, value, dst Instruction) *StoreInstr {
	return &StoreInstr{InstrMeta: newMeta(src), Src: value, Dst: dst}
}

// ConstInstr pushes an interned JSON literal.
type ConstInstr struct {
	InstrMeta
	Value *jsonval.Value
}

func NewConst(src SourceNode, v *jsonval.Value) *ConstInstr {
	return &ConstInstr{InstrMeta: newMeta(src), Value: v}
}

// GetElemInstr pops an index then a container, pushes the member/element.
type GetElemInstr struct{ InstrMeta }

func NewGetElem(src SourceNode) *GetElemInstr { return &GetElemInstr{newMeta(src)} }

// SetElemInstr pops a value, an index, then a container; writes the member.
type SetElemInstr struct{ InstrMeta }

func NewSetElem(src SourceNode) *SetElemInstr { return &SetElemInstr{newMeta(src)} }

// AppendInstr pops a value then an array and appends the value.
type AppendInstr struct{ InstrMeta }

func NewAppend(src SourceNode) *AppendInstr { return &AppendInstr{newMeta(src)} }

// MatchInstr pops two values and pushes whether one matches the other
// (structural pattern equality, spec §3.1/§4.1).
type MatchInstr struct{ InstrMeta }

func NewMatch(src SourceNode) *MatchInstr { return &MatchInstr{newMeta(src)} }

// BinaryInstr pops two operands and pushes the result of Op.
type BinaryInstr struct {
	InstrMeta
	Op BinaryOp
}

func NewBinary(src SourceNode, op BinaryOp) *BinaryInstr {
	return &BinaryInstr{InstrMeta: newMeta(src), Op: op}
}

// UnaryInstr pops one operand and pushes the result of Op.
type UnaryInstr struct {
	InstrMeta
	Op UnaryOp
}

func NewUnary(src SourceNode, op UnaryOp) *UnaryInstr {
	return &UnaryInstr{InstrMeta: newMeta(src), Op: op}
}

// CallInstr calls Fn directly with Args (already produced by prior
// instructions, in order).
type CallInstr struct {
	InstrMeta
	Fn   *Function
	Args []Instruction
}

func NewCall(src SourceNode, fn *Function, args []Instruction) *CallInstr {
	return &CallInstr{InstrMeta: newMeta(src), Fn: fn, Args: args}
}

// IndirectCallInstr calls through a value (a CodeAddress or Closure).
type IndirectCallInstr struct {
	InstrMeta
	FnValue   Instruction
	Args      []Instruction
	HasResult bool
}

func NewIndirectCall(src SourceNode, fnValue Instruction, args []Instruction, hasResult bool) *IndirectCallInstr {
	return &IndirectCallInstr{InstrMeta: newMeta(src), FnValue: fnValue, Args: args, HasResult: hasResult}
}

// ScheduleInstr starts a new coroutine running Fn with Args; never
// produces a value.
type ScheduleInstr struct {
	InstrMeta
	Fn   *Function
	Args []Instruction
}

func NewSchedule(src SourceNode, fn *Function, args []Instruction) *ScheduleInstr {
	return &ScheduleInstr{InstrMeta: newMeta(src), Fn: fn, Args: args}
}

// IndirectScheduleInstr starts a new coroutine running a closure/code
// address value with Args.
type IndirectScheduleInstr struct {
	InstrMeta
	FnValue Instruction
	Args    []Instruction
}

func NewIndirectSchedule(src SourceNode, fnValue Instruction, args []Instruction) *IndirectScheduleInstr {
	return &IndirectScheduleInstr{InstrMeta: newMeta(src), FnValue: fnValue, Args: args}
}

// Capture describes one entry of a Closure instruction's capture list.
type Capture struct {
	IsLocal bool
	// Local is the captured instruction when IsLocal is true.
	Local Instruction
	// UpvalueID is the enclosing closure's upvalue index when IsLocal is false.
	UpvalueID int
}

// ClosureInstr builds a closure over Fn capturing Captures, pushing it.
type ClosureInstr struct {
	InstrMeta
	Fn       *Function
	Captures []Capture
}

func NewClosure(src SourceNode, fn *Function, captures []Capture) *ClosureInstr {
	return &ClosureInstr{InstrMeta: newMeta(src), Fn: fn, Captures: captures}
}

// GetUpvalueInstr pushes the ID'th up-value of the executing closure.
type GetUpvalueInstr struct {
	InstrMeta
	ID int
}

func NewGetUpvalue(src SourceNode, id int) *GetUpvalueInstr {
	return &GetUpvalueInstr{InstrMeta: newMeta(src), ID: id}
}

// SetUpvalueInstr pops one value and writes it to the ID'th up-value.
type SetUpvalueInstr struct {
	InstrMeta
	ID  int
	Val Instruction
}

func NewSetUpvalue(src SourceNode, id int, val Instruction) *SetUpvalueInstr {
	return &SetUpvalueInstr{InstrMeta: newMeta(src), ID: id, Val: val}
}

// BranchInstr is a block terminator: conditional (Cond != nil, both targets
// set) or unconditional (Cond == nil, NotTaken is unused). Per §3.4 it may
// only appear as a block's last instruction.
type BranchInstr struct {
	InstrMeta
	Cond            Instruction
	TakenBB         *BasicBlock
	NotTakenBB      *BasicBlock
}

func NewBranch(src SourceNode, cond Instruction, taken, notTaken *BasicBlock) *BranchInstr {
	return &BranchInstr{InstrMeta: newMeta(src), Cond: cond, TakenBB: taken, NotTakenBB: notTaken}
}

// ReturnInstr is a block terminator. Value is nil for a void return.
type ReturnInstr struct {
	InstrMeta
	Value Instruction
}

func NewReturn(src SourceNode, value Instruction) *ReturnInstr {
	return &ReturnInstr{InstrMeta: newMeta(src), Value: value}
}

// PhiInstr marks a stack position reached from multiple predecessors that
// all agree on the same frame offset (spec §3.4 invariant). It may only
// appear at the head of a block.
type PhiInstr struct {
	InstrMeta
	Args []Instruction
}

func NewPhi(src SourceNode, args []Instruction) *PhiInstr {
	return &PhiInstr{InstrMeta: newMeta(src), Args: args}
}

// LoadFunctionInstr pushes a CodeAddress value referring to Fn (used to
// build indirect calls, schedule, or as a closure's captured upvalue).
type LoadFunctionInstr struct {
	InstrMeta
	Fn *Function
}

func NewLoadFunction(src SourceNode, fn *Function) *LoadFunctionInstr {
	return &LoadFunctionInstr{InstrMeta: newMeta(src), Fn: fn}
}
