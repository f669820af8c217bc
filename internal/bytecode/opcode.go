// Package bytecode models the structured, pre-serialization bytecode that
// the assembler (package assembler) lowers IR into and that the binary
// format (package bcformat) flattens to bytes: opcodes, per-function
// instruction streams, the interned data section, and debug tables.
package bytecode

import "fmt"

// Opcode is one VM instruction's operation code. The mnemonics and
// grouping follow the reference opcode catalogue this repository's
// bytecode format was distilled from.
type Opcode uint8

const (
	OpLoadFrame Opcode = iota
	OpLoadData
	OpLoadExpression
	OpLoadCode
	OpStore
	OpPop
	OpGet
	OpSet
	OpAppend
	OpMatch

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpPow
	OpMod

	OpLAnd
	OpLOr
	OpLNot
	OpNot
	OpAnd
	OpOr
	OpXor
	OpLShift
	OpRShift
	OpNeg
	OpIn

	OpLessThan
	OpLessThanEqual
	OpEqual
	OpGreaterThan
	OpGreaterThanEqual

	OpBool

	OpParams
	OpCall
	OpCallIndirect
	OpSchedule
	OpScheduleIndirect
	OpReturn

	OpClosure
	OpUpGet
	OpUpSet

	OpVMCall

	OpElse
	OpJump

	OpPrint
	OpExit
	OpAssert
)

var opcodeNames = map[Opcode]string{
	OpLoadFrame:        "load_frame",
	OpLoadData:         "load_data",
	OpLoadExpression:   "load_expression",
	OpLoadCode:         "load_code",
	OpStore:            "store",
	OpPop:              "pop",
	OpGet:              "get",
	OpSet:              "set",
	OpAppend:           "append",
	OpMatch:            "match",
	OpAdd:              "add",
	OpSub:              "sub",
	OpMul:              "mul",
	OpDiv:              "div",
	OpPow:              "pow",
	OpMod:              "mod",
	OpLAnd:             "land",
	OpLOr:              "lor",
	OpLNot:             "lnot",
	OpNot:              "not",
	OpAnd:              "and",
	OpOr:               "or",
	OpXor:              "xor",
	OpLShift:           "lshift",
	OpRShift:           "rshift",
	OpNeg:              "neg",
	OpIn:               "in",
	OpLessThan:         "lessthan",
	OpLessThanEqual:    "lessthan_equal",
	OpEqual:            "equal",
	OpGreaterThan:      "greaterthan",
	OpGreaterThanEqual: "greaterthan_equal",
	OpBool:             "bool",
	OpParams:           "params",
	OpCall:             "call",
	OpCallIndirect:     "calli",
	OpSchedule:         "schedule",
	OpScheduleIndirect: "schedulei",
	OpReturn:           "return",
	OpClosure:          "closure",
	OpUpGet:            "upget",
	OpUpSet:            "upset",
	OpVMCall:           "vmcall",
	OpElse:             "else",
	OpJump:             "jump",
	OpPrint:            "print",
	OpExit:             "exit",
	OpAssert:           "assert",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// VMCallCode identifies which host-provided routine a vmcall instruction
// invokes (spec §6, "SUPPLEMENTED FEATURES"). The surface language and its
// standard library are out of scope; only the fixed, numbered set of calls
// the VM itself understands is modeled.
type VMCallCode uint8

const (
	VMCallConnect VMCallCode = iota
	VMCallTextDocumentOpen
	VMCallDiagnostics
)

func (c VMCallCode) String() string {
	switch c {
	case VMCallConnect:
		return "connect"
	case VMCallTextDocumentOpen:
		return "td_open"
	case VMCallDiagnostics:
		return "diagnostics"
	default:
		return fmt.Sprintf("vmcall(%d)", uint8(c))
	}
}
