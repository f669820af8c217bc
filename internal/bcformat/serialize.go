package bcformat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lstf-lang/lstf/internal/bytecode"
)

// instrSize returns the fixed, opcode-dependent encoded length (including
// the 1-byte opcode itself) of one instruction. Sizes depend only on the
// opcode (and, for closure, its upvalue count, 2 bytes per upvalue), so
// the whole code section's byte offsets can be computed in one
// pass before any bytes are written, which is what lets forward jumps be
// encoded directly instead of needing a second back-patch pass.
func instrSize(ins *bytecode.Instruction) int {
	switch ins.Op {
	case bytecode.OpLoadFrame, bytecode.OpStore:
		return 1 + 8
	case bytecode.OpLoadData, bytecode.OpLoadExpression, bytecode.OpAssert:
		return 1 + 8
	case bytecode.OpLoadCode:
		return 1 + 8
	case bytecode.OpCall:
		return 1 + 8 + 1
	case bytecode.OpSchedule:
		return 1 + 8 + 1
	case bytecode.OpCallIndirect:
		return 1 + 1
	case bytecode.OpScheduleIndirect:
		return 1 + 1
	case bytecode.OpParams:
		return 1 + 1
	case bytecode.OpClosure:
		return 1 + 8 + 1 + 2*len(ins.Upvalues)
	case bytecode.OpUpGet, bytecode.OpUpSet:
		return 1 + 1
	case bytecode.OpVMCall:
		return 1 + 1 + 1
	case bytecode.OpJump, bytecode.OpElse:
		return 1 + 8
	case bytecode.OpExit:
		return 1 + 1
	default:
		return 1
	}
}

// Serialize flattens an assembled bytecode.Program into the binary
// program format (spec §4.6).
func Serialize(p *bytecode.Program) ([]byte, error) {
	// Pass 1: compute each instruction's byte offset within the
	// concatenated code section, and each function's starting offset.
	offsets := make(map[*bytecode.Instruction]uint64)
	funcOffset := make(map[*bytecode.Function]uint64)
	var cursor uint64
	for _, fn := range p.Functions {
		funcOffset[fn] = cursor
		for _, ins := range fn.Instructions {
			offsets[ins] = cursor
			cursor += uint64(instrSize(ins))
		}
	}
	codeLen := cursor

	entryFn, ok := p.Function(p.EntryFunction)
	if !ok {
		return nil, fmt.Errorf("bcformat: entry function %q not found", p.EntryFunction)
	}

	// Pass 2: encode.
	code := make([]byte, 0, codeLen)
	for _, fn := range p.Functions {
		for _, ins := range fn.Instructions {
			code = appendInstruction(code, ins, offsets, funcOffset)
		}
	}

	debug := encodeDebugInfo(p, funcOffset)

	sections := []struct {
		name sectionName
		body []byte
	}{
		{sectionDebugInfo, debug},
		{sectionComments, nil}, // nothing populates comments; always omitted
		{sectionData, p.Data},
		{sectionCode, code},
	}

	var table bytes.Buffer
	var bodies bytes.Buffer
	for _, s := range sections {
		if len(s.body) == 0 {
			continue
		}
		table.WriteString(string(s.name))
		table.WriteByte(0)
		writeU64(&table, uint64(len(s.body)))
		bodies.Write(s.body)
	}
	table.WriteByte(0) // section table terminator

	var out bytes.Buffer
	out.Write(Magic[:])
	writeU64(&out, funcOffset[entryFn])
	out.Write(table.Bytes())
	out.Write(bodies.Bytes())
	return out.Bytes(), nil
}

func writeU64(out *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	out.Write(b[:])
}

func writeU32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	out.Write(b[:])
}

func appendInstruction(code []byte, ins *bytecode.Instruction, offsets map[*bytecode.Instruction]uint64, funcOffset map[*bytecode.Function]uint64) []byte {
	code = append(code, byte(ins.Op))
	switch ins.Op {
	case bytecode.OpLoadFrame, bytecode.OpStore:
		code = appendI64(code, ins.FrameOffset)
	case bytecode.OpLoadData, bytecode.OpLoadExpression, bytecode.OpAssert:
		code = appendU64(code, ins.DataOffset)
	case bytecode.OpLoadCode:
		code = appendU64(code, funcOffset[ins.FuncRef])
	case bytecode.OpCall:
		code = appendU64(code, funcOffset[ins.FuncRef])
		code = append(code, boolByte(ins.HasResult))
	case bytecode.OpSchedule:
		code = appendU64(code, funcOffset[ins.FuncRef])
		code = append(code, ins.Count)
	case bytecode.OpCallIndirect:
		code = append(code, boolByte(ins.HasResult))
	case bytecode.OpScheduleIndirect:
		code = append(code, ins.Count)
	case bytecode.OpParams:
		code = append(code, ins.Count)
	case bytecode.OpClosure:
		code = appendU64(code, funcOffset[ins.FuncRef])
		code = append(code, ins.Count)
		for _, uv := range ins.Upvalues {
			code = append(code, boolByte(uv.IsLocal), uv.Index)
		}
	case bytecode.OpUpGet, bytecode.OpUpSet:
		code = append(code, ins.Count)
	case bytecode.OpVMCall:
		code = append(code, byte(ins.VMCall), boolByte(ins.HasResult))
	case bytecode.OpJump, bytecode.OpElse:
		code = appendU64(code, offsets[ins.Target])
	case bytecode.OpExit:
		code = append(code, ins.ExitCode)
	}
	return code
}

func appendU64(code []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(code, b[:]...)
}

func appendI64(code []byte, v int64) []byte { return appendU64(code, uint64(v)) }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// padNulName appends s NUL-terminated then zero-pads to align, per the
// debuginfo filename/symbol-name encoding in spec §4.6.
func padNulName(out *bytes.Buffer, s string) {
	out.WriteString(s)
	out.WriteByte(0)
	pad := (align - (len(s)+1)%align) % align
	out.Write(make([]byte, pad))
}

type debugEntry struct {
	codeOffset uint64
	line       uint32
	column     uint32
}

// encodeDebugInfo lays out the debuginfo payload exactly as spec §4.6
// describes it: the source filename, then a flat list of every function's
// source-map entries (line/column per instruction), then a flat symbol
// table of {code_offset, name} used to recover function identity and
// (via the OpParams instruction each entry addresses) parameter counts.
func encodeDebugInfo(p *bytecode.Program, funcOffset map[*bytecode.Function]uint64) []byte {
	var out bytes.Buffer
	padNulName(&out, p.SourceFilename)

	var entries []debugEntry
	for _, fn := range p.Functions {
		for _, e := range p.SourceMap[fn.Name] {
			off, ok := instrOffsetOf(fn, e.InstructionIndex, funcOffset)
			if !ok {
				continue
			}
			entries = append(entries, debugEntry{codeOffset: off, line: uint32(e.Line), column: uint32(e.Column)})
		}
	}
	writeU64(&out, uint64(len(entries)))
	for _, e := range entries {
		writeU64(&out, e.codeOffset)
		writeU32(&out, e.line)
		writeU32(&out, e.column)
	}

	writeU64(&out, uint64(len(p.Functions)))
	for _, fn := range p.Functions {
		writeU64(&out, funcOffset[fn])
		padNulName(&out, fn.Name)
	}
	return out.Bytes()
}

func instrOffsetOf(fn *bytecode.Function, idx int, funcOffset map[*bytecode.Function]uint64) (uint64, bool) {
	if idx < 0 || idx >= len(fn.Instructions) {
		return 0, false
	}
	off := funcOffset[fn]
	for i := 0; i < idx; i++ {
		off += uint64(instrSize(fn.Instructions[i]))
	}
	return off, true
}
