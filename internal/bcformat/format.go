// Package bcformat implements the binary program format (spec §3.6/§4.6/
// §4.7): a flat serializer turning an assembled bytecode.Program into
// bytes, and a loader turning those bytes back into a Program ready for
// the VM to execute directly off of, byte for byte, with no further
// linking step.
package bcformat

import "fmt"

// Magic is the fixed 8-byte header every program file starts with.
var Magic = [8]byte{0x89, 'L', 'S', 'T', 'F', 0x01, 0x0A, 0x00}

// align is alignof(DebugEntry)/alignof(DebugSym): both start with a u64,
// so the NUL-terminated names inside the debuginfo payload are zero-padded
// to this boundary (spec §4.6).
const align = 8

// sectionName identifies one of the four sections a program file carries.
type sectionName string

const (
	sectionDebugInfo sectionName = "debuginfo"
	sectionComments  sectionName = "comments"
	sectionData      sectionName = "data"
	sectionCode      sectionName = "code"
)

// sectionOrder is the fixed order sections are written in; only non-empty
// ones are actually listed in the section table (spec §4.6).
var sectionOrder = []sectionName{sectionDebugInfo, sectionComments, sectionData, sectionCode}

// LoaderError is the closed enum of ways a byte stream can fail to load,
// per spec §7 and the reference loader's error taxonomy.
type LoaderError int

const (
	ErrInvalidMagic LoaderError = iota
	ErrTooLongSectionName
	ErrInvalidSectionName
	ErrZeroSectionSize
	ErrInvalidDebugInfo
	ErrTruncatedRead
	ErrInvalidSectionSize
)

func (e LoaderError) Error() string {
	switch e {
	case ErrInvalidMagic:
		return "bcformat: invalid magic header"
	case ErrTooLongSectionName:
		return "bcformat: section name too long"
	case ErrInvalidSectionName:
		return "bcformat: unrecognized section name"
	case ErrZeroSectionSize:
		return "bcformat: zero-size section"
	case ErrInvalidDebugInfo:
		return "bcformat: malformed debuginfo section"
	case ErrTruncatedRead:
		return "bcformat: truncated read"
	case ErrInvalidSectionSize:
		return "bcformat: section size overruns file"
	default:
		return fmt.Sprintf("bcformat: unknown loader error %d", int(e))
	}
}

// FunctionMeta locates one function's code within the loaded Code section.
type FunctionMeta struct {
	Name       string
	CodeOffset uint64
	NumParams  int
}

// SourceMapEntry associates a loaded function's code offset with a source
// position, read back from the debuginfo section.
type SourceMapEntry struct {
	CodeOffset uint64
	Line       int
	Column     int
}

// Program is the VM-ready, fully flattened representation a loaded
// program file produces: raw code and data bytes plus enough debug
// metadata to resolve addresses back to function names and source
// positions. This is spec §3.6's VmProgram.
type Program struct {
	SourceFilename string

	Code []byte
	Data []byte

	EntryPoint uint64

	Functions    []FunctionMeta
	functionByOff map[uint64]*FunctionMeta

	SourceMap map[string][]SourceMapEntry
}

// FunctionAt returns the function whose code begins exactly at offset, if
// any (used by the disassembler and stack traces).
func (p *Program) FunctionAt(offset uint64) (*FunctionMeta, bool) {
	if p.functionByOff == nil {
		p.functionByOff = make(map[uint64]*FunctionMeta, len(p.Functions))
		for i := range p.Functions {
			p.functionByOff[p.Functions[i].CodeOffset] = &p.Functions[i]
		}
	}
	fm, ok := p.functionByOff[offset]
	return fm, ok
}
