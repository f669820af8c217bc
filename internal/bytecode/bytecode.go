package bytecode

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// dataInternCacheSize bounds how many distinct strings InternString
// remembers for dedup purposes; beyond this, older entries are evicted
// and a recurring string is simply appended again under a new offset
// rather than reused, trading a little data-section bloat for a bounded
// index (spec §3.5's dedupe is a best-effort cache, not a correctness
// requirement: every offset ever returned stays valid either way).
const dataInternCacheSize = 4096

// Instruction is one bytecode instruction together with whichever operand
// its opcode requires. Unused fields are simply left zero; this mirrors the
// tagged union the binary format serializes (spec §3.5/§4.6) while staying
// a flat, inspectable Go struct.
type Instruction struct {
	Op Opcode

	// OpLoadFrame
	FrameOffset int64

	// OpLoadData, OpLoadExpression
	DataOffset uint64

	// OpLoadCode, OpCall, OpSchedule: the referenced function.
	FuncRef *Function

	// OpParams, OpClosure: declared parameter / upvalue count.
	Count uint8

	// OpCall, OpCallIndirect, OpVMCall: whether the callee leaves a result
	// on the stack.
	HasResult bool

	// OpVMCall
	VMCall VMCallCode

	// OpClosure
	Upvalues []Upvalue

	// OpJump, OpElse: the target instruction. Resolved to a final byte
	// offset only at serialization time (spec §4.6); until then this
	// points directly at the target Instruction, which is why jumps can be
	// emitted before their target is known (back-patched, spec §4.5).
	Target *Instruction

	// OpExit
	ExitCode uint8

	// OpAssert: a 0-based data-section offset for the message,
	// reusing DataOffset; no separate field needed.
}

// Upvalue describes one entry of a closure instruction's capture list:
// either the current frame's local at Index (IsLocal) or the executing
// closure's own Index'th upvalue.
type Upvalue struct {
	IsLocal bool
	Index   uint8
}

// Function is one function's bytecode body plus its identity.
type Function struct {
	Name         string
	NumParams    int
	Instructions []*Instruction
}

// SourceMapEntry associates a byte offset within a function's code (filled
// in at serialization time) with a source position, for the debuginfo
// section (spec §4.6).
type SourceMapEntry struct {
	InstructionIndex int
	Line             int
	Column           int
}

// SymbolEntry names a function for disassembly / stack traces.
type SymbolEntry struct {
	InstructionIndex int
	Name             string
}

// Program is the assembler's output: a function table plus an interned
// data section, ready for the serializer to flatten to bytes (spec §3.5).
type Program struct {
	SourceFilename string // empty if none

	Functions     []*Function
	functionIndex map[string]*Function

	Data      []byte
	dataIndex *lru.Cache // string -> uint64 offset

	SourceMap map[string][]SourceMapEntry
	SymbolMap map[string][]SymbolEntry

	EntryFunction string
}

// NewProgram returns an empty Program ready for functions to be added.
func NewProgram() *Program {
	dataIndex, _ := lru.New(dataInternCacheSize)
	return &Program{
		functionIndex: make(map[string]*Function),
		dataIndex:     dataIndex,
		SourceMap:     make(map[string][]SourceMapEntry),
		SymbolMap:     make(map[string][]SymbolEntry),
	}
}

// AddFunction registers a function, erroring if the name is already taken.
func (p *Program) AddFunction(fn *Function) error {
	if _, exists := p.functionIndex[fn.Name]; exists {
		return fmt.Errorf("bytecode: duplicate function %q", fn.Name)
	}
	p.Functions = append(p.Functions, fn)
	p.functionIndex[fn.Name] = fn
	return nil
}

// Function looks up a function by name.
func (p *Program) Function(name string) (*Function, bool) {
	fn, ok := p.functionIndex[name]
	return fn, ok
}

// InternString stores s, NUL-terminated, in the data section and returns
// its byte offset, reusing an existing copy when one is already present
// (spec §4.4's data-section hash index dedupe).
func (p *Program) InternString(s string) uint64 {
	if cached, ok := p.dataIndex.Get(s); ok {
		return cached.(uint64)
	}
	off := uint64(len(p.Data))
	p.Data = append(p.Data, s...)
	p.Data = append(p.Data, 0)
	p.dataIndex.Add(s, off)
	return off
}
