package vm

import (
	"encoding/binary"

	"github.com/lstf-lang/lstf/internal/bytecode"
)

// decoded is one fetched-and-decoded instruction, with its operand already
// converted to the right Go type. The field layout mirrors
// bcformat.appendInstruction exactly; the two must be kept in lockstep.
type decoded struct {
	op          bytecode.Opcode
	frameOffset int64
	dataOffset  uint64
	funcOffset  uint64
	hasResult   bool
	count       uint8
	upvalues    []decodedUpvalue
	vmcall      bytecode.VMCallCode
	jumpTarget  uint64
	exitCode    uint8
	next        uint64 // PC of the instruction immediately following this one
}

type decodedUpvalue struct {
	isLocal bool
	index   uint8
}

// fetch decodes the instruction at pc from code, per the fixed, opcode-
// dependent encoding bcformat.Serialize produced.
func fetch(code []byte, pc uint64) (decoded, error) {
	if pc >= uint64(len(code)) {
		return decoded{}, &Fault{Status: StatusInvalidCodeOffset, PC: pc}
	}
	op := bytecode.Opcode(code[pc])
	pos := pc + 1
	d := decoded{op: op}

	need := func(n uint64) error {
		if pos+n > uint64(len(code)) {
			return &Fault{Status: StatusInvalidCodeOffset, PC: pc, Detail: "truncated operand"}
		}
		return nil
	}
	u64 := func() (uint64, error) {
		if err := need(8); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(code[pos : pos+8])
		pos += 8
		return v, nil
	}
	byte1 := func() (byte, error) {
		if err := need(1); err != nil {
			return 0, err
		}
		b := code[pos]
		pos++
		return b, nil
	}

	var err error
	switch op {
	case bytecode.OpLoadFrame, bytecode.OpStore:
		var v uint64
		if v, err = u64(); err != nil {
			return decoded{}, err
		}
		d.frameOffset = int64(v)
	case bytecode.OpLoadData, bytecode.OpLoadExpression, bytecode.OpAssert:
		if d.dataOffset, err = u64(); err != nil {
			return decoded{}, err
		}
	case bytecode.OpLoadCode:
		if d.funcOffset, err = u64(); err != nil {
			return decoded{}, err
		}
	case bytecode.OpCall:
		if d.funcOffset, err = u64(); err != nil {
			return decoded{}, err
		}
		b, err2 := byte1()
		if err2 != nil {
			return decoded{}, err2
		}
		d.hasResult = b != 0
	case bytecode.OpSchedule:
		if d.funcOffset, err = u64(); err != nil {
			return decoded{}, err
		}
		if d.count, err = byte1(); err != nil {
			return decoded{}, err
		}
	case bytecode.OpCallIndirect:
		b, err2 := byte1()
		if err2 != nil {
			return decoded{}, err2
		}
		d.hasResult = b != 0
	case bytecode.OpScheduleIndirect:
		if d.count, err = byte1(); err != nil {
			return decoded{}, err
		}
	case bytecode.OpParams:
		if d.count, err = byte1(); err != nil {
			return decoded{}, err
		}
	case bytecode.OpClosure:
		if d.funcOffset, err = u64(); err != nil {
			return decoded{}, err
		}
		if d.count, err = byte1(); err != nil {
			return decoded{}, err
		}
		d.upvalues = make([]decodedUpvalue, d.count)
		for i := range d.upvalues {
			isLocal, err2 := byte1()
			if err2 != nil {
				return decoded{}, err2
			}
			idx, err3 := byte1()
			if err3 != nil {
				return decoded{}, err3
			}
			d.upvalues[i] = decodedUpvalue{isLocal: isLocal != 0, index: idx}
		}
	case bytecode.OpUpGet, bytecode.OpUpSet:
		if d.count, err = byte1(); err != nil {
			return decoded{}, err
		}
	case bytecode.OpVMCall:
		b, err2 := byte1()
		if err2 != nil {
			return decoded{}, err2
		}
		d.vmcall = bytecode.VMCallCode(b)
		hr, err3 := byte1()
		if err3 != nil {
			return decoded{}, err3
		}
		d.hasResult = hr != 0
	case bytecode.OpJump, bytecode.OpElse:
		if d.jumpTarget, err = u64(); err != nil {
			return decoded{}, err
		}
	case bytecode.OpExit:
		if d.exitCode, err = byte1(); err != nil {
			return decoded{}, err
		}
	}
	d.next = pos
	return d, nil
}

// Decoded is the exported form of decoded, for tools outside this package
// (such as the disassembler) that need to read instructions
// without executing them.
type Decoded struct {
	Op          bytecode.Opcode
	FrameOffset int64
	DataOffset  uint64
	FuncOffset  uint64
	HasResult   bool
	Count       uint8
	Upvalues    []DecodedUpvalue
	VMCall      bytecode.VMCallCode
	JumpTarget  uint64
	ExitCode    uint8
	Next        uint64
}

// DecodedUpvalue is the exported form of decodedUpvalue.
type DecodedUpvalue struct {
	IsLocal bool
	Index   uint8
}

// Decode fetches and decodes the single instruction at pc, exported for
// disassembly and inspection tools that walk code without running it.
func Decode(code []byte, pc uint64) (Decoded, error) {
	d, err := fetch(code, pc)
	if err != nil {
		return Decoded{}, err
	}
	ups := make([]DecodedUpvalue, len(d.upvalues))
	for i, u := range d.upvalues {
		ups[i] = DecodedUpvalue{IsLocal: u.isLocal, Index: u.index}
	}
	return Decoded{
		Op:          d.op,
		FrameOffset: d.frameOffset,
		DataOffset:  d.dataOffset,
		FuncOffset:  d.funcOffset,
		HasResult:   d.hasResult,
		Count:       d.count,
		Upvalues:    ups,
		VMCall:      d.vmcall,
		JumpTarget:  d.jumpTarget,
		ExitCode:    d.exitCode,
		Next:        d.next,
	}, nil
}
